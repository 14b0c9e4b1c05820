package models

import (
	"fmt"
	"sort"
	"strings"
)

// IdentityKey is the case-folded lookup key of a canonical record
type IdentityKey string

// NewIdentityKey builds lowercase(trim(orderID)) + "_" + lowercase(trim(subOrderID)).
// An empty subOrderID defaults to orderID.
func NewIdentityKey(orderID, subOrderID string) IdentityKey {
	order := strings.ToLower(strings.TrimSpace(orderID))
	sub := strings.ToLower(strings.TrimSpace(subOrderID))
	if sub == "" {
		sub = order
	}
	return IdentityKey(order + "_" + sub)
}

// String returns the key as a plain string
func (k IdentityKey) String() string {
	return string(k)
}

// CanonicalRecord is the merged, authoritative representation of one order
// line within a platform ledger. Known fields are typed Values; unmapped
// source columns live in Extra.
type CanonicalRecord struct {
	OrderID    string `json:"orderId"`
	SubOrderID string `json:"subOrderId"`

	ProductName     Value `json:"productName"`
	SKU             Value `json:"sku"`
	SKUName         Value `json:"skuName"`
	Quantity        Value `json:"quantity"`
	Status          Value `json:"status"`
	OrderDate       Value `json:"orderDate"`
	CustomerName    Value `json:"customerName"`
	CustomerState   Value `json:"customerState"`
	CustomerCity    Value `json:"customerCity"`
	CustomerPincode Value `json:"customerPincode"`
	WholesalePrice  Value `json:"wholesalePrice"`
	SellingPrice    Value `json:"sellingPrice"`
	ShippingCharge  Value `json:"shippingCharge"`

	PaymentMode   Value `json:"paymentMode"`
	HSN           Value `json:"hsn"`
	Commission    Value `json:"commission"`
	TCS           Value `json:"tcs"`
	TDS           Value `json:"tds"`
	ShipperCharge Value `json:"shipperCharge"`
	NetAmount     Value `json:"netAmount"`

	InvoiceNumber Value `json:"invoiceNumber"`
	InvoiceDate   Value `json:"invoiceDate"`
	GSTRate       Value `json:"gstRate"`
	TaxableValue  Value `json:"taxableValue"`
	CGST          Value `json:"cgst"`
	SGST          Value `json:"sgst"`
	IGST          Value `json:"igst"`
	InvoiceAmount Value `json:"invoiceAmount"`

	RefundAmount    Value `json:"refundAmount"`
	DeductionAmount Value `json:"deductionAmount"`
	RefundReason    Value `json:"refundReason"`
	RefundDate      Value `json:"refundDate"`
	GSTRefund       Value `json:"gstRefund"`

	Extra map[string]string `json:"extra,omitempty"`
}

// DefaultQuantity is applied to records created without a quantity
const DefaultQuantity = 1

// NewCanonicalRecord creates an empty record for the given identity with
// quantity defaulted. An empty subOrderID defaults to orderID.
func NewCanonicalRecord(orderID, subOrderID string) *CanonicalRecord {
	if strings.TrimSpace(subOrderID) == "" {
		subOrderID = orderID
	}
	return &CanonicalRecord{
		OrderID:    orderID,
		SubOrderID: subOrderID,
		Quantity:   IntegerValue(DefaultQuantity),
		Extra:      make(map[string]string),
	}
}

// Key returns the identity key of the record
func (r *CanonicalRecord) Key() IdentityKey {
	return NewIdentityKey(r.OrderID, r.SubOrderID)
}

// Get returns the value of a known field
func (r *CanonicalRecord) Get(name Field) (Value, bool) {
	switch name {
	case FieldOrderID:
		return TextValue(r.OrderID), true
	case FieldSubOrderID:
		return TextValue(r.SubOrderID), true
	}
	fs, ok := fieldsByName[name]
	if !ok {
		return Value{}, false
	}
	return *fs.Ref(r), true
}

// Set overwrites a known non-identity field unconditionally
func (r *CanonicalRecord) Set(name Field, v Value) bool {
	fs, ok := fieldsByName[name]
	if !ok {
		return false
	}
	*fs.Ref(r) = v
	return true
}

// Clone returns a deep copy of the record
func (r *CanonicalRecord) Clone() *CanonicalRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Extra = make(map[string]string, len(r.Extra))
	for k, v := range r.Extra {
		clone.Extra[k] = v
	}
	return &clone
}

// Equal compares identity, every known field and the overflow columns
func (r *CanonicalRecord) Equal(other *CanonicalRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	if r.OrderID != other.OrderID || r.SubOrderID != other.SubOrderID {
		return false
	}
	for _, fs := range fieldRegistry {
		if !fs.Ref(r).Equal(*fs.Ref(other)) {
			return false
		}
	}
	if len(r.Extra) != len(other.Extra) {
		return false
	}
	for k, v := range r.Extra {
		if ov, ok := other.Extra[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ExtraColumns returns the overflow column names in sorted order
func (r *CanonicalRecord) ExtraColumns() []string {
	columns := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}

// String returns a short description of the record
func (r *CanonicalRecord) String() string {
	return fmt.Sprintf("CanonicalRecord{Key: %s, Status: %s, NetAmount: %s}",
		r.Key(), r.Status.String(), r.NetAmount.String())
}

// NormalizedRow is one source row converted into a partial canonical record
// and tagged with the kind of export it came from.
type NormalizedRow struct {
	Kind   RecordKind       `json:"kind"`
	Key    IdentityKey      `json:"key"`
	Line   int              `json:"line"`
	Record *CanonicalRecord `json:"record"`
}

// NewNormalizedRow creates a row with an empty partial record. Unlike
// NewCanonicalRecord, no field is defaulted: every value starts absent.
func NewNormalizedRow(kind RecordKind, orderID, subOrderID string, line int) *NormalizedRow {
	if strings.TrimSpace(subOrderID) == "" {
		subOrderID = orderID
	}
	return &NormalizedRow{
		Kind: kind,
		Key:  NewIdentityKey(orderID, subOrderID),
		Line: line,
		Record: &CanonicalRecord{
			OrderID:    orderID,
			SubOrderID: subOrderID,
			Extra:      make(map[string]string),
		},
	}
}

// Patch is an unconditional shallow overwrite applied by trusted internal
// callers, bypassing kind ownership.
type Patch struct {
	Fields map[Field]Value   `json:"fields,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// NewPatch creates an empty patch
func NewPatch() *Patch {
	return &Patch{
		Fields: make(map[Field]Value),
		Extra:  make(map[string]string),
	}
}

// ParsePatch builds a patch from raw name/value pairs. Known field names are
// coerced by their type; any other name becomes an overflow column. Identity
// fields cannot be patched.
func ParsePatch(values map[string]string) (*Patch, error) {
	patch := NewPatch()
	for name, raw := range values {
		field := Field(strings.TrimSpace(name))
		if field == "" {
			return nil, fmt.Errorf("patch contains an empty field name")
		}
		if IsIdentityField(field) {
			return nil, fmt.Errorf("identity field %q cannot be patched", field)
		}
		if fs, ok := fieldsByName[field]; ok {
			patch.Fields[field] = CoerceValue(fs.Type, raw)
			continue
		}
		if IsReservedColumn(string(field)) {
			return nil, fmt.Errorf("field %q collides with a ledger column; use its exact name", field)
		}
		patch.Extra[string(field)] = raw
	}
	return patch, nil
}

// IsEmpty reports whether the patch changes nothing
func (p *Patch) IsEmpty() bool {
	return p == nil || (len(p.Fields) == 0 && len(p.Extra) == 0)
}

// Apply overwrites the record with every entry of the patch
func (p *Patch) Apply(r *CanonicalRecord) {
	if p == nil {
		return
	}
	for name, v := range p.Fields {
		r.Set(name, v)
	}
	if len(p.Extra) > 0 && r.Extra == nil {
		r.Extra = make(map[string]string, len(p.Extra))
	}
	for k, v := range p.Extra {
		r.Extra[k] = v
	}
}
