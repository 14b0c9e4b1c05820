package parsers

import (
	"testing"

	"github.com/shopspring/decimal"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/pkg/errors"
)

func paymentHeaders() HeaderMap {
	return HeaderMap{
		models.FieldOrderID:     "Order ID",
		models.FieldProductName: "Item",
		models.FieldNetAmount:   "Net Amt",
		models.FieldCommission:  "Commission",
		models.FieldStatus:      "Status",
	}
}

func TestNewNormalizerValidatesHeaders(t *testing.T) {
	if _, err := NewNormalizer(models.KindSales, HeaderMap{models.FieldSKU: "SKU"}, "x.csv"); err == nil {
		t.Error("expected error when orderId is not mapped")
	}
	if _, err := NewNormalizer("returns", paymentHeaders(), "x.csv"); err == nil {
		t.Error("expected error for an invalid kind")
	}
}

func TestNormalizePaymentRow(t *testing.T) {
	n, err := NewNormalizer(models.KindPayment, paymentHeaders(), "settlement.csv")
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	row := Row{Line: 2, Values: map[string]string{
		"Order ID":     "A1",
		"Item":         "Widget",
		"Net Amt":      "₹950.00",
		"Commission":   "",
		"Status":       " Delivered ",
		"Seller Notes": " keep dry ",
		"Return AWB":   "  ",
		"Order Date":   "2024-03-05",
		"orderId":      "ignored",
	}}

	normalized, rejected := n.Normalize(row)
	if rejected != nil {
		t.Fatalf("unexpected rejection: %v", rejected)
	}

	if normalized.Kind != models.KindPayment {
		t.Errorf("kind = %s, want payment", normalized.Kind)
	}
	if normalized.Key != "a1_a1" {
		t.Errorf("key = %s, want a1_a1", normalized.Key)
	}
	if normalized.Record.SubOrderID != "A1" {
		t.Errorf("subOrderId should default to orderId, got %q", normalized.Record.SubOrderID)
	}
	if !normalized.Record.NetAmount.Number.Equal(decimal.NewFromInt(950)) {
		t.Errorf("netAmount = %s, want 950", normalized.Record.NetAmount.Number)
	}
	if normalized.Record.Commission.Present {
		t.Error("empty commission must be absent")
	}
	if normalized.Record.Status.String() != "delivered" {
		t.Errorf("status = %q, want delivered", normalized.Record.Status.String())
	}
	if normalized.Record.ProductName.Present {
		t.Error("payment rows must not carry sales-owned fields")
	}
	if normalized.Record.Quantity.Present {
		t.Error("normalized rows must not default quantity")
	}

	if got := normalized.Record.Extra["Seller Notes"]; got != " keep dry " {
		t.Errorf("overflow must be kept verbatim, got %q", got)
	}
	if _, ok := normalized.Record.Extra["Return AWB"]; ok {
		t.Error("a blank overflow cell must not claim the column")
	}
	if _, ok := normalized.Record.Extra["Item"]; ok {
		t.Error("a column referenced by the header map is not overflow")
	}
	if _, ok := normalized.Record.Extra["Order Date"]; ok {
		t.Error("columns colliding with ledger columns are not overflow")
	}
	if _, ok := normalized.Record.Extra["orderId"]; ok {
		t.Error("columns colliding with identity columns are not overflow")
	}
}

func TestNormalizeRejectsMissingOrderID(t *testing.T) {
	n, err := NewNormalizer(models.KindRefund, HeaderMap{models.FieldOrderID: "Order ID"}, "refunds.csv")
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	_, rejected := n.Normalize(Row{Line: 7, Values: map[string]string{"Order ID": "   ", "Refund": "10"}})
	if rejected == nil {
		t.Fatal("expected rejection")
	}
	if rejected.Reason != "missing order id" || rejected.Row.Line != 7 {
		t.Errorf("unexpected rejection %+v", rejected.Row)
	}
	if rejected.Code != errors.CodeRowRejected {
		t.Errorf("code = %s, want row_rejected", rejected.Code)
	}
}

func TestNormalizeZeroIsPresent(t *testing.T) {
	n, _ := NewNormalizer(models.KindPayment, paymentHeaders(), "p.csv")
	normalized, _ := n.Normalize(Row{Line: 2, Values: map[string]string{"Order ID": "A1", "Net Amt": "0"}})
	if !normalized.Record.NetAmount.Present {
		t.Error("a literal zero is a real value")
	}
}

func TestNormalizeCrossCuttingFields(t *testing.T) {
	headers := HeaderMap{
		models.FieldOrderID:   "Order ID",
		models.FieldGSTRefund: "GST Refund",
		models.FieldStatus:    "Status",
	}
	n, _ := NewNormalizer(models.KindTax, headers, "gst.csv")
	normalized, _ := n.Normalize(Row{Line: 2, Values: map[string]string{
		"Order ID":   "A1",
		"GST Refund": "12.5",
		"Status":     "RTO",
	}})

	if !normalized.Record.GSTRefund.Number.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("gstRefund = %s", normalized.Record.GSTRefund.Number)
	}
	if normalized.Record.Status.String() != "rto" {
		t.Errorf("status = %q", normalized.Record.Status.String())
	}
}

func TestNormalizeTable(t *testing.T) {
	n, _ := NewNormalizer(models.KindPayment, paymentHeaders(), "p.csv")
	table := &Table{
		Headers: []string{"Order ID", "Net Amt"},
		Rows: []Row{
			{Line: 2, Values: map[string]string{"Order ID": "A1", "Net Amt": "1"}},
			{Line: 3, Values: map[string]string{"Order ID": "", "Net Amt": "2"}},
			{Line: 4, Values: map[string]string{"Order ID": "A2", "Net Amt": "3"}},
		},
	}

	rejections := errors.NewRejectionCollector(0)
	rows := n.NormalizeTable(table, rejections)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Record.OrderID != "A1" || rows[1].Record.OrderID != "A2" {
		t.Error("rows must keep file order")
	}
	if rejections.Count() != 1 || rejections.Rejections()[0].Row.Line != 3 {
		t.Errorf("expected line 3 rejected, got %d rejections", rejections.Count())
	}
}

func TestNormalizeXLSXDates(t *testing.T) {
	table, err := ParseTable(typedWorkbook(t))
	if err != nil {
		t.Fatalf("ParseTable() error = %v", err)
	}

	n, err := NewNormalizer(models.KindSales, HeaderMap{
		models.FieldOrderID:   "Order ID",
		models.FieldOrderDate: "Order Date",
		models.FieldQuantity:  "Qty",
	}, "orders.xlsx")
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}

	normalized, rejected := n.Normalize(table.Rows[0])
	if rejected != nil {
		t.Fatalf("unexpected rejection: %v", rejected)
	}
	if got := normalized.Record.OrderDate.String(); got != "2024-01-05" {
		t.Errorf("orderDate = %q, want 2024-01-05", got)
	}
	if got := normalized.Record.Quantity.String(); got != "3" {
		t.Errorf("quantity = %q, want 3", got)
	}
}
