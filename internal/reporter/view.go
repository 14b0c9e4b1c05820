package reporter

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"marketplace-ledger-reconciler/internal/ledger"
	"marketplace-ledger-reconciler/internal/models"
)

// unknownBucket groups records with no status or state
const unknownBucket = "(none)"

// returnMarkers identify a status as a return
var returnMarkers = []string{"return", "rto"}

// IsReturnStatus reports whether a lower-cased status describes a return
func IsReturnStatus(status string) bool {
	for _, marker := range returnMarkers {
		if strings.Contains(status, marker) {
			return true
		}
	}
	return false
}

// Amounts holds decimal totals over the records of a ledger
type Amounts struct {
	Selling   decimal.Decimal `json:"selling"`
	Net       decimal.Decimal `json:"net"`
	Invoice   decimal.Decimal `json:"invoice"`
	Refund    decimal.Decimal `json:"refund"`
	Deduction decimal.Decimal `json:"deduction"`
	GSTRefund decimal.Decimal `json:"gst_refund"`
}

func (a *Amounts) add(r *models.CanonicalRecord) {
	a.Selling = a.Selling.Add(number(r.SellingPrice))
	a.Net = a.Net.Add(number(r.NetAmount))
	a.Invoice = a.Invoice.Add(number(r.InvoiceAmount))
	a.Refund = a.Refund.Add(number(r.RefundAmount))
	a.Deduction = a.Deduction.Add(number(r.DeductionAmount))
	a.GSTRefund = a.GSTRefund.Add(number(r.GSTRefund))
}

func (a *Amounts) merge(other Amounts) {
	a.Selling = a.Selling.Add(other.Selling)
	a.Net = a.Net.Add(other.Net)
	a.Invoice = a.Invoice.Add(other.Invoice)
	a.Refund = a.Refund.Add(other.Refund)
	a.Deduction = a.Deduction.Add(other.Deduction)
	a.GSTRefund = a.GSTRefund.Add(other.GSTRefund)
}

func number(v models.Value) decimal.Decimal {
	if !v.Present || !v.Numeric {
		return decimal.Zero
	}
	return v.Number
}

// LedgerSummary describes one ledger
type LedgerSummary struct {
	Address ledger.Address `json:"address"`
	Records int            `json:"records"`

	ByStatus   map[string]int `json:"by_status"`
	ByState    map[string]int `json:"by_state"`
	Returns    int            `json:"returns"`
	ReturnRate float64        `json:"return_rate"`

	// Settled counts records carrying a net settlement amount
	Settled int     `json:"settled"`
	Amounts Amounts `json:"amounts"`

	Sample []*models.CanonicalRecord `json:"sample,omitempty"`
}

// LedgerView aggregates summaries of several ledgers
type LedgerView struct {
	Ledgers    []*LedgerSummary `json:"ledgers"`
	Records    int              `json:"records"`
	Returns    int              `json:"returns"`
	ReturnRate float64          `json:"return_rate"`
	Amounts    Amounts          `json:"amounts"`
}

// BuildLedgerView summarizes snapshots; sampleSize records of each ledger
// are kept for display.
func BuildLedgerView(snapshots []ledger.Snapshot, sampleSize int) *LedgerView {
	view := &LedgerView{Ledgers: make([]*LedgerSummary, 0, len(snapshots))}

	for _, snapshot := range snapshots {
		summary := summarize(snapshot, sampleSize)
		view.Ledgers = append(view.Ledgers, summary)
		view.Records += summary.Records
		view.Returns += summary.Returns
		view.Amounts.merge(summary.Amounts)
	}
	view.ReturnRate = percentage(view.Returns, view.Records)
	return view
}

func summarize(snapshot ledger.Snapshot, sampleSize int) *LedgerSummary {
	summary := &LedgerSummary{
		Address:  snapshot.Address,
		Records:  len(snapshot.Records),
		ByStatus: make(map[string]int),
		ByState:  make(map[string]int),
	}

	for _, r := range snapshot.Records {
		status := r.Status.String()
		if status == "" {
			status = unknownBucket
		} else if IsReturnStatus(status) {
			summary.Returns++
		}
		summary.ByStatus[status]++

		state := strings.TrimSpace(r.CustomerState.String())
		if state == "" {
			state = unknownBucket
		}
		summary.ByState[state]++

		if r.NetAmount.Present {
			summary.Settled++
		}
		summary.Amounts.add(r)
	}
	summary.ReturnRate = percentage(summary.Returns, summary.Records)

	if sampleSize > 0 {
		n := sampleSize
		if n > len(snapshot.Records) {
			n = len(snapshot.Records)
		}
		summary.Sample = snapshot.Records[:n]
	}
	return summary
}

// bucket is one entry of a count breakdown
type bucket struct {
	Name  string
	Count int
}

// sortedBuckets orders a breakdown by count descending, then name
func sortedBuckets(counts map[string]int) []bucket {
	buckets := make([]bucket, 0, len(counts))
	for name, count := range counts {
		buckets = append(buckets, bucket{Name: name, Count: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Name < buckets[j].Name
	})
	return buckets
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
