package ledger

import (
	"sort"
	"strings"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/parsers"
)

// recordsToTable lays records out with the fixed ledger columns first and the
// union of overflow columns after them in sorted order. Absent values are
// empty cells.
func recordsToTable(records []*models.CanonicalRecord) *parsers.Table {
	extraSet := make(map[string]bool)
	for _, r := range records {
		for column := range r.Extra {
			extraSet[column] = true
		}
	}
	extras := make([]string, 0, len(extraSet))
	for column := range extraSet {
		extras = append(extras, column)
	}
	sort.Strings(extras)

	table := &parsers.Table{
		Headers: append(models.LedgerColumns(), extras...),
		Rows:    make([]parsers.Row, 0, len(records)),
	}

	fields := models.KnownFields()
	for i, r := range records {
		values := make(map[string]string, len(fields)+2+len(r.Extra))
		values[string(models.FieldOrderID)] = r.OrderID
		values[string(models.FieldSubOrderID)] = r.SubOrderID
		for _, fs := range fields {
			values[string(fs.Name)] = fs.Ref(r).String()
		}
		for column, v := range r.Extra {
			values[column] = v
		}
		table.Rows = append(table.Rows, parsers.Row{Line: i + 2, Values: values})
	}
	return table
}

// tableToRecords reads records back from a serialized ledger. Empty cells
// are absent values. Rows without an order id cannot be addressed and are
// returned as skipped line numbers.
func tableToRecords(table *parsers.Table) ([]*models.CanonicalRecord, []int) {
	records := make([]*models.CanonicalRecord, 0, table.Len())
	var skipped []int

	fields := models.KnownFields()
	for _, row := range table.Rows {
		orderID := strings.TrimSpace(row.Values[string(models.FieldOrderID)])
		if orderID == "" {
			skipped = append(skipped, row.Line)
			continue
		}
		subOrderID := strings.TrimSpace(row.Values[string(models.FieldSubOrderID)])
		if subOrderID == "" {
			subOrderID = orderID
		}

		r := &models.CanonicalRecord{
			OrderID:    orderID,
			SubOrderID: subOrderID,
			Extra:      make(map[string]string),
		}
		for _, fs := range fields {
			raw := row.Values[string(fs.Name)]
			if strings.TrimSpace(raw) == "" {
				continue
			}
			*fs.Ref(r) = models.CoerceValue(fs.Type, raw)
		}
		for column, v := range row.Values {
			if models.IsKnownField(models.Field(column)) || strings.TrimSpace(v) == "" {
				continue
			}
			r.Extra[column] = v
		}
		records = append(records, r)
	}
	return records, skipped
}
