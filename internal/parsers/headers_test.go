package parsers

import "testing"

func TestHeaderResolverChain(t *testing.T) {
	row := map[string]string{
		"Order ID":      " A1 ",
		"Net  Amt":      "950.00",
		"sub_order_no":  "S1",
		"Empty Column":  "   ",
		"Customer-City": "Pune",
	}

	tests := []struct {
		name     string
		expected string
		want     string
	}{
		{"exact match trims value", "Order ID", "A1"},
		{"normalized collapses whitespace and case", "net amt", "950.00"},
		{"loose ignores separators", "Sub Order No", "S1"},
		{"loose hyphen vs space", "customer city", "Pune"},
		{"empty value is absent", "Empty Column", ""},
		{"unconfigured header", "", ""},
		{"no match", "Invoice No", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(row, tt.expected); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.expected, got, tt.want)
			}
		})
	}
}

func TestLooseEquivalence(t *testing.T) {
	for _, key := range []string{"Order Id", "OrderId", "order_id", "Order-ID"} {
		row := map[string]string{key: "X9"}
		if got := Resolve(row, "orderId"); got != "X9" {
			t.Errorf("Resolve with column %q = %q, want X9", key, got)
		}
	}
}

func TestMatchersIndependently(t *testing.T) {
	row := map[string]string{"ORDER   id": "1"}

	if got := MatchExact(row, "order id"); got != "" {
		t.Errorf("MatchExact should not fold case, got %q", got)
	}
	if got := MatchNormalized(row, "order id"); got != "1" {
		t.Errorf("MatchNormalized = %q, want 1", got)
	}
	if got := MatchNormalized(row, "orderid"); got != "" {
		t.Errorf("MatchNormalized should keep word boundaries, got %q", got)
	}
	if got := MatchLoose(row, "orderid"); got != "1" {
		t.Errorf("MatchLoose = %q, want 1", got)
	}
}

func TestResolveFallsThroughEmptyExact(t *testing.T) {
	// exact column present but empty, loose-equivalent column filled
	row := map[string]string{
		"Order ID": "",
		"order_id": "B2",
	}
	if got := Resolve(row, "Order ID"); got != "B2" {
		t.Errorf("Resolve() = %q, want B2", got)
	}
}

func TestResolveDeterministicAcrossEquivalentColumns(t *testing.T) {
	row := map[string]string{
		"order-id": "second",
		"order_id": "first",
	}
	for i := 0; i < 20; i++ {
		// "order-id" sorts before "order_id"
		if got := Resolve(row, "Order ID"); got != "second" {
			t.Fatalf("Resolve() = %q, want second", got)
		}
	}
}

func TestClaims(t *testing.T) {
	r := DefaultHeaderResolver()
	if !r.Claims("Net Amt", "net_amt") {
		t.Error("expected loose-equivalent column to be claimed")
	}
	if r.Claims("Net Amount", "Net Amt") {
		t.Error("different column must not be claimed")
	}
	if r.Claims("Net Amt", "") {
		t.Error("empty header claims nothing")
	}
}
