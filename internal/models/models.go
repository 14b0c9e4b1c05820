// Package models defines the canonical ledger data model shared by the
// parsers, the merge engine and the ledger store.
//
// A ledger holds one CanonicalRecord per order line. Records are enriched by
// four independently uploaded record kinds (sales, payment, tax, refund); each
// known field is owned by one or more kinds and only those kinds may write it
// during ingestion. The field registry in this file is the single source of
// truth for ownership, value types and ledger column order.
package models

import (
	"fmt"
	"strings"
)

// RecordKind identifies the type of export a row was ingested from
type RecordKind string

const (
	// KindSales represents order/sales exports
	KindSales RecordKind = "sales"
	// KindPayment represents settlement/payment exports
	KindPayment RecordKind = "payment"
	// KindTax represents GST/tax invoice exports
	KindTax RecordKind = "tax"
	// KindRefund represents refund/return exports
	KindRefund RecordKind = "refund"
)

// String returns the string representation of RecordKind
func (k RecordKind) String() string {
	return string(k)
}

// IsValid checks if the record kind is one of the four supported kinds
func (k RecordKind) IsValid() bool {
	switch k {
	case KindSales, KindPayment, KindTax, KindRefund:
		return true
	default:
		return false
	}
}

// AllRecordKinds returns the supported record kinds in a stable order
func AllRecordKinds() []RecordKind {
	return []RecordKind{KindSales, KindPayment, KindTax, KindRefund}
}

// ParseRecordKind parses a record kind name, ignoring case and surrounding whitespace
func ParseRecordKind(s string) (RecordKind, error) {
	kind := RecordKind(strings.ToLower(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("unknown record kind %q (expected one of sales, payment, tax, refund)", s)
	}
	return kind, nil
}

// Field is the logical name of a canonical record field. It doubles as the
// column header used when a ledger is serialized.
type Field string

// Identity fields
const (
	FieldOrderID    Field = "orderId"
	FieldSubOrderID Field = "subOrderId"
)

// Sales-origin fields
const (
	FieldProductName     Field = "productName"
	FieldSKU             Field = "sku"
	FieldSKUName         Field = "skuName"
	FieldQuantity        Field = "quantity"
	FieldStatus          Field = "status"
	FieldOrderDate       Field = "orderDate"
	FieldCustomerName    Field = "customerName"
	FieldCustomerState   Field = "customerState"
	FieldCustomerCity    Field = "customerCity"
	FieldCustomerPincode Field = "customerPincode"
	FieldWholesalePrice  Field = "wholesalePrice"
	FieldSellingPrice    Field = "sellingPrice"
	FieldShippingCharge  Field = "shippingCharge"
)

// Payment-origin fields
const (
	FieldPaymentMode   Field = "paymentMode"
	FieldHSN           Field = "hsn"
	FieldCommission    Field = "commission"
	FieldTCS           Field = "tcs"
	FieldTDS           Field = "tds"
	FieldShipperCharge Field = "shipperCharge"
	FieldNetAmount     Field = "netAmount"
)

// Tax-origin fields
const (
	FieldInvoiceNumber Field = "invoiceNumber"
	FieldInvoiceDate   Field = "invoiceDate"
	FieldGSTRate       Field = "gstRate"
	FieldTaxableValue  Field = "taxableValue"
	FieldCGST          Field = "cgst"
	FieldSGST          Field = "sgst"
	FieldIGST          Field = "igst"
	FieldInvoiceAmount Field = "invoiceAmount"
)

// Refund-origin fields
const (
	FieldRefundAmount    Field = "refundAmount"
	FieldDeductionAmount Field = "deductionAmount"
	FieldRefundReason    Field = "refundReason"
	FieldRefundDate      Field = "refundDate"
	FieldGSTRefund       Field = "gstRefund"
)

// FieldType controls how raw cell text is coerced into a Value
type FieldType int

const (
	TypeText FieldType = iota
	TypeNumber
	TypeInteger
	TypeDate
	TypeStatus
)

// String returns a readable name for the field type
func (t FieldType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeNumber:
		return "number"
	case TypeInteger:
		return "integer"
	case TypeDate:
		return "date"
	case TypeStatus:
		return "status"
	default:
		return "unknown"
	}
}

// FieldSpec describes a known, non-identity field of the canonical record
type FieldSpec struct {
	Name   Field
	Type   FieldType
	Owners []RecordKind

	// CrossCutting fields may be written by any record kind whenever the
	// incoming value is present.
	CrossCutting bool

	ref func(*CanonicalRecord) *Value
}

// OwnedBy reports whether the given kind is authoritative for this field
func (fs FieldSpec) OwnedBy(kind RecordKind) bool {
	for _, owner := range fs.Owners {
		if owner == kind {
			return true
		}
	}
	return false
}

// WritableBy reports whether an ingestion pass of the given kind may write the field
func (fs FieldSpec) WritableBy(kind RecordKind) bool {
	return fs.CrossCutting || fs.OwnedBy(kind)
}

// Ref returns a pointer to the field's value inside record
func (fs FieldSpec) Ref(record *CanonicalRecord) *Value {
	return fs.ref(record)
}

func owned(kinds ...RecordKind) []RecordKind { return kinds }

// fieldRegistry lists every known field in ledger column order.
var fieldRegistry = []FieldSpec{
	{Name: FieldProductName, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.ProductName }},
	{Name: FieldSKU, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.SKU }},
	{Name: FieldSKUName, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.SKUName }},
	{Name: FieldQuantity, Type: TypeInteger, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.Quantity }},
	{Name: FieldStatus, Type: TypeStatus, Owners: owned(KindSales), CrossCutting: true, ref: func(r *CanonicalRecord) *Value { return &r.Status }},
	{Name: FieldOrderDate, Type: TypeDate, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.OrderDate }},
	{Name: FieldCustomerName, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.CustomerName }},
	{Name: FieldCustomerState, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.CustomerState }},
	{Name: FieldCustomerCity, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.CustomerCity }},
	{Name: FieldCustomerPincode, Type: TypeText, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.CustomerPincode }},
	{Name: FieldWholesalePrice, Type: TypeNumber, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.WholesalePrice }},
	{Name: FieldSellingPrice, Type: TypeNumber, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.SellingPrice }},
	{Name: FieldShippingCharge, Type: TypeNumber, Owners: owned(KindSales), ref: func(r *CanonicalRecord) *Value { return &r.ShippingCharge }},

	{Name: FieldPaymentMode, Type: TypeText, Owners: owned(KindPayment), ref: func(r *CanonicalRecord) *Value { return &r.PaymentMode }},
	{Name: FieldHSN, Type: TypeText, Owners: owned(KindPayment, KindTax), ref: func(r *CanonicalRecord) *Value { return &r.HSN }},
	{Name: FieldCommission, Type: TypeNumber, Owners: owned(KindPayment), ref: func(r *CanonicalRecord) *Value { return &r.Commission }},
	{Name: FieldTCS, Type: TypeNumber, Owners: owned(KindPayment), ref: func(r *CanonicalRecord) *Value { return &r.TCS }},
	{Name: FieldTDS, Type: TypeNumber, Owners: owned(KindPayment), ref: func(r *CanonicalRecord) *Value { return &r.TDS }},
	{Name: FieldShipperCharge, Type: TypeNumber, Owners: owned(KindPayment), ref: func(r *CanonicalRecord) *Value { return &r.ShipperCharge }},
	{Name: FieldNetAmount, Type: TypeNumber, Owners: owned(KindPayment), ref: func(r *CanonicalRecord) *Value { return &r.NetAmount }},

	{Name: FieldInvoiceNumber, Type: TypeText, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.InvoiceNumber }},
	{Name: FieldInvoiceDate, Type: TypeDate, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.InvoiceDate }},
	{Name: FieldGSTRate, Type: TypeNumber, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.GSTRate }},
	{Name: FieldTaxableValue, Type: TypeNumber, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.TaxableValue }},
	{Name: FieldCGST, Type: TypeNumber, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.CGST }},
	{Name: FieldSGST, Type: TypeNumber, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.SGST }},
	{Name: FieldIGST, Type: TypeNumber, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.IGST }},
	{Name: FieldInvoiceAmount, Type: TypeNumber, Owners: owned(KindTax), ref: func(r *CanonicalRecord) *Value { return &r.InvoiceAmount }},

	{Name: FieldRefundAmount, Type: TypeNumber, Owners: owned(KindRefund), ref: func(r *CanonicalRecord) *Value { return &r.RefundAmount }},
	{Name: FieldDeductionAmount, Type: TypeNumber, Owners: owned(KindRefund), ref: func(r *CanonicalRecord) *Value { return &r.DeductionAmount }},
	{Name: FieldRefundReason, Type: TypeText, Owners: owned(KindRefund), ref: func(r *CanonicalRecord) *Value { return &r.RefundReason }},
	{Name: FieldRefundDate, Type: TypeDate, Owners: owned(KindRefund), ref: func(r *CanonicalRecord) *Value { return &r.RefundDate }},
	{Name: FieldGSTRefund, Type: TypeNumber, Owners: owned(KindRefund), CrossCutting: true, ref: func(r *CanonicalRecord) *Value { return &r.GSTRefund }},
}

var fieldsByName = func() map[Field]FieldSpec {
	m := make(map[Field]FieldSpec, len(fieldRegistry))
	for _, fs := range fieldRegistry {
		m[fs.Name] = fs
	}
	return m
}()

// KnownFields returns the FieldSpec of every non-identity field in ledger column order
func KnownFields() []FieldSpec {
	out := make([]FieldSpec, len(fieldRegistry))
	copy(out, fieldRegistry)
	return out
}

// LookupField returns the FieldSpec for a logical field name
func LookupField(name Field) (FieldSpec, bool) {
	fs, ok := fieldsByName[name]
	return fs, ok
}

// FieldsFor returns the fields an ingestion pass of kind may write: the
// fields it owns plus the cross-cutting fields.
func FieldsFor(kind RecordKind) []FieldSpec {
	var out []FieldSpec
	for _, fs := range fieldRegistry {
		if fs.WritableBy(kind) {
			out = append(out, fs)
		}
	}
	return out
}

// IsIdentityField reports whether name is orderId or subOrderId
func IsIdentityField(name Field) bool {
	return name == FieldOrderID || name == FieldSubOrderID
}

// IsKnownField reports whether name is an identity field or a registered field
func IsKnownField(name Field) bool {
	if IsIdentityField(name) {
		return true
	}
	_, ok := fieldsByName[name]
	return ok
}

// LedgerColumns returns the fixed column order of a serialized ledger,
// identity columns first. Overflow columns follow these in sorted order.
func LedgerColumns() []string {
	columns := make([]string, 0, len(fieldRegistry)+2)
	columns = append(columns, string(FieldOrderID), string(FieldSubOrderID))
	for _, fs := range fieldRegistry {
		columns = append(columns, string(fs.Name))
	}
	return columns
}

// IsReservedColumn reports whether an arbitrary column name collides with a
// canonical ledger column once case and separators are ignored. Reserved names
// cannot be carried as overflow columns.
func IsReservedColumn(column string) bool {
	folded := foldColumn(column)
	if folded == "" {
		return true
	}
	return reservedColumns[folded]
}

var reservedColumns = func() map[string]bool {
	m := make(map[string]bool)
	for _, column := range LedgerColumns() {
		m[foldColumn(column)] = true
	}
	return m
}()

func foldColumn(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '\r', '_', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
