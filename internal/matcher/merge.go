// Package matcher implements the record merge engine.
//
// Four independently uploaded exports describe different facets of the same
// order line. Merge folds a normalized row into the canonical record for its
// identity key under two rules:
//   - a record kind only writes the fields it owns, plus the cross-cutting
//     status and gstRefund fields
//   - a value that is not present never overwrites anything
//
// Overflow columns are first-writer-wins. Merge is pure and total.
package matcher

import (
	"marketplace-ledger-reconciler/internal/models"
)

// Merge folds incoming into existing and returns the merged record. existing
// is never modified; a nil existing starts a fresh record whose identity comes
// from incoming.
func Merge(existing *models.CanonicalRecord, incoming *models.NormalizedRow) *models.CanonicalRecord {
	if incoming == nil || incoming.Record == nil {
		return existing.Clone()
	}

	if existing == nil {
		return project(incoming)
	}

	result := existing.Clone()
	for _, fs := range models.KnownFields() {
		v := *fs.Ref(incoming.Record)
		if !v.Present || !fs.WritableBy(incoming.Kind) {
			continue
		}
		*fs.Ref(result) = v
	}
	mergeExtra(result, incoming.Record.Extra)
	return result
}

// project creates a new canonical record from a row of any kind
func project(incoming *models.NormalizedRow) *models.CanonicalRecord {
	result := models.NewCanonicalRecord(incoming.Record.OrderID, incoming.Record.SubOrderID)
	for _, fs := range models.KnownFields() {
		if v := *fs.Ref(incoming.Record); v.Present {
			*fs.Ref(result) = v
		}
	}
	mergeExtra(result, incoming.Record.Extra)
	return result
}

func mergeExtra(result *models.CanonicalRecord, extra map[string]string) {
	if len(extra) == 0 {
		return
	}
	if result.Extra == nil {
		result.Extra = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		if _, ok := result.Extra[k]; !ok {
			result.Extra[k] = v
		}
	}
}

// ChangedFields lists the known fields and overflow columns whose values
// differ between before and after. A nil before counts every present value
// of after as changed.
func ChangedFields(before, after *models.CanonicalRecord) []string {
	if after == nil {
		return nil
	}
	if before == nil {
		before = &models.CanonicalRecord{}
	}

	var changed []string
	for _, fs := range models.KnownFields() {
		if !fs.Ref(before).Equal(*fs.Ref(after)) {
			changed = append(changed, string(fs.Name))
		}
	}
	for _, column := range after.ExtraColumns() {
		if old, ok := before.Extra[column]; !ok || old != after.Extra[column] {
			changed = append(changed, column)
		}
	}
	return changed
}
