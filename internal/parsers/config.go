package parsers

import (
	"fmt"
	"strings"

	"marketplace-ledger-reconciler/internal/models"
)

// HeaderMap maps logical field names to the column text a platform uses for
// one record kind. Values are matched through the HeaderResolver, so they
// only need to be equivalent up to case and separators.
type HeaderMap map[models.Field]string

// Header returns the configured column text for field, or ""
func (h HeaderMap) Header(field models.Field) string {
	return strings.TrimSpace(h[field])
}

// Validate checks the header map before an ingestion proceeds: the orderId
// mapping must be present and every key must be a known field.
func (h HeaderMap) Validate() error {
	if h.Header(models.FieldOrderID) == "" {
		return fmt.Errorf("orderId header mapping cannot be empty")
	}
	for field := range h {
		if !models.IsKnownField(field) {
			return fmt.Errorf("unknown logical field %q in header map", field)
		}
	}
	return nil
}

// Clone returns a copy of the header map
func (h HeaderMap) Clone() HeaderMap {
	out := make(HeaderMap, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ParseHeaderMap builds a HeaderMap from string keys as they come out of a
// config file. Unknown logical names are rejected.
func ParseHeaderMap(raw map[string]string) (HeaderMap, error) {
	h := make(HeaderMap, len(raw))
	for name, header := range raw {
		field, ok := lookupFieldName(name)
		if !ok {
			return nil, fmt.Errorf("unknown logical field %q", name)
		}
		h[field] = strings.TrimSpace(header)
	}
	return h, nil
}

// lookupFieldName accepts the exact logical name or any case variant of it;
// config loaders such as viper lower-case map keys.
func lookupFieldName(name string) (models.Field, bool) {
	name = strings.TrimSpace(name)
	if models.IsKnownField(models.Field(name)) {
		return models.Field(name), true
	}
	for _, column := range models.LedgerColumns() {
		if strings.EqualFold(column, name) {
			return models.Field(column), true
		}
	}
	return "", false
}

// PlatformHeaders holds one HeaderMap per record kind for a platform
type PlatformHeaders map[models.RecordKind]HeaderMap

// For returns a validated header map for kind
func (p PlatformHeaders) For(kind models.RecordKind) (HeaderMap, error) {
	h, ok := p[kind]
	if !ok || len(h) == 0 {
		return nil, fmt.Errorf("no header mapping configured for record kind %s", kind)
	}
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%s header mapping: %w", kind, err)
	}
	return h, nil
}

// Merge returns a copy of p with every non-empty entry of override applied
func (p PlatformHeaders) Merge(override PlatformHeaders) PlatformHeaders {
	out := make(PlatformHeaders, len(p))
	for kind, h := range p {
		out[kind] = h.Clone()
	}
	for kind, h := range override {
		if out[kind] == nil {
			out[kind] = make(HeaderMap, len(h))
		}
		for field, header := range h {
			if strings.TrimSpace(header) != "" {
				out[kind][field] = header
			}
		}
	}
	return out
}

// HeaderProfile is a named, built-in set of header mappings used when a
// platform has no mapping of its own.
type HeaderProfile struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Headers     PlatformHeaders `json:"headers"`
}

func identityHeaders(fields ...models.Field) HeaderMap {
	h := HeaderMap{
		models.FieldOrderID:    string(models.FieldOrderID),
		models.FieldSubOrderID: string(models.FieldSubOrderID),
	}
	for _, f := range fields {
		h[f] = string(f)
	}
	return h
}

func kindHeaders(kind models.RecordKind) HeaderMap {
	var fields []models.Field
	for _, fs := range models.FieldsFor(kind) {
		fields = append(fields, fs.Name)
	}
	return identityHeaders(fields...)
}

// Predefined header profiles
var (
	// GenericProfile expects columns named after the logical fields; loose
	// matching makes "Order ID", "order_id" and "orderId" all acceptable.
	GenericProfile = &HeaderProfile{
		Name:        "generic",
		Description: "columns named after ledger fields",
		Headers: PlatformHeaders{
			models.KindSales:   kindHeaders(models.KindSales),
			models.KindPayment: kindHeaders(models.KindPayment),
			models.KindTax:     kindHeaders(models.KindTax),
			models.KindRefund:  kindHeaders(models.KindRefund),
		},
	}

	// SupplierPanelProfile matches the report layout of typical Indian
	// marketplace supplier panels. Only the sub-order number appears in every
	// report, so it is the identity for all kinds.
	SupplierPanelProfile = &HeaderProfile{
		Name:        "supplier-panel",
		Description: "supplier panel order, payment, GST and return reports",
		Headers: PlatformHeaders{
			models.KindSales: {
				models.FieldOrderID:         "Sub Order No",
				models.FieldSubOrderID:      "Sub Order No",
				models.FieldProductName:     "Product Name",
				models.FieldSKU:             "SKU",
				models.FieldQuantity:        "Quantity",
				models.FieldStatus:          "Reason for Credit Entry",
				models.FieldOrderDate:       "Order Date",
				models.FieldCustomerState:   "Customer State",
				models.FieldCustomerCity:    "Customer City",
				models.FieldCustomerPincode: "Customer Pincode",
				models.FieldSellingPrice:    "Supplier Listed Price (Incl. GST + Commission)",
				models.FieldWholesalePrice:  "Supplier Discounted Price (Incl GST and Commision)",
				models.FieldShippingCharge:  "Shipping Charges",
			},
			models.KindPayment: {
				models.FieldOrderID:       "Sub Order No",
				models.FieldSubOrderID:    "Sub Order No",
				models.FieldPaymentMode:   "Payment Mode",
				models.FieldHSN:           "HSN Code",
				models.FieldCommission:    "Commission (Incl. GST)",
				models.FieldTCS:           "TCS",
				models.FieldTDS:           "TDS",
				models.FieldShipperCharge: "Shipping Charge (Incl. GST)",
				models.FieldNetAmount:     "Final Settlement Amount",
				models.FieldStatus:        "Live Order Status",
			},
			models.KindTax: {
				models.FieldOrderID:       "Sub Order No",
				models.FieldSubOrderID:    "Sub Order No",
				models.FieldInvoiceNumber: "Invoice No",
				models.FieldInvoiceDate:   "Invoice Date",
				models.FieldHSN:           "HSN",
				models.FieldGSTRate:       "GST Rate",
				models.FieldTaxableValue:  "Taxable Value",
				models.FieldCGST:          "CGST",
				models.FieldSGST:          "SGST",
				models.FieldIGST:          "IGST",
				models.FieldInvoiceAmount: "Invoice Amount",
			},
			models.KindRefund: {
				models.FieldOrderID:         "Sub Order No",
				models.FieldSubOrderID:      "Sub Order No",
				models.FieldRefundAmount:    "Refund Amount",
				models.FieldDeductionAmount: "Deduction Amount",
				models.FieldRefundReason:    "Return Reason",
				models.FieldRefundDate:      "Return Date",
				models.FieldGSTRefund:       "GST Refund",
				models.FieldStatus:          "Return Type",
			},
		},
	}
)

// GetHeaderProfile returns a predefined header profile by name
func GetHeaderProfile(name string) *HeaderProfile {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "generic":
		return GenericProfile
	case "supplier-panel":
		return SupplierPanelProfile
	default:
		return nil
	}
}

// ListHeaderProfiles returns all predefined header profiles
func ListHeaderProfiles() []*HeaderProfile {
	return []*HeaderProfile{GenericProfile, SupplierPanelProfile}
}
