package parsers

import (
	"fmt"
	"strings"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// Normalizer converts raw table rows of one record kind into NormalizedRows
type Normalizer struct {
	kind     models.RecordKind
	headers  HeaderMap
	source   string
	resolver *HeaderResolver
	fields   []models.FieldSpec
	logger   logger.Logger
}

// NewNormalizer creates a new Normalizer. source names the uploaded file in
// rejection messages.
func NewNormalizer(kind models.RecordKind, headers HeaderMap, source string) (*Normalizer, error) {
	if !kind.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "kind", kind, nil)
	}
	if err := headers.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("headers.%s", kind), "", err).
			WithSuggestion("map orderId to the order id column of the export")
	}

	// only owned and cross-cutting fields that the platform actually maps
	var fields []models.FieldSpec
	for _, fs := range models.FieldsFor(kind) {
		if headers.Header(fs.Name) != "" {
			fields = append(fields, fs)
		}
	}

	log := logger.GetGlobalLogger().WithComponent("normalizer").WithFields(logger.Fields{
		"kind":   kind,
		"source": source,
	})
	log.WithField("mapped_fields", len(fields)).Debug("Created normalizer")

	return &Normalizer{
		kind:     kind,
		headers:  headers,
		source:   source,
		resolver: DefaultHeaderResolver(),
		fields:   fields,
		logger:   log,
	}, nil
}

// Kind returns the record kind this normalizer tags rows with
func (n *Normalizer) Kind() models.RecordKind {
	return n.kind
}

// Normalize converts one row. A row without an order id is rejected; every
// other problem (unparseable numbers, odd dates) degrades to a value.
func (n *Normalizer) Normalize(row Row) (*models.NormalizedRow, *errors.RowRejectedError) {
	orderHeader := n.headers.Header(models.FieldOrderID)
	orderID := strings.TrimSpace(n.resolver.Resolve(row.Values, orderHeader))
	if orderID == "" {
		return nil, errors.MissingOrderIDError(n.source, row.Line, orderHeader)
	}
	subOrderID := strings.TrimSpace(n.resolver.Resolve(row.Values, n.headers.Header(models.FieldSubOrderID)))

	normalized := models.NewNormalizedRow(n.kind, orderID, subOrderID, row.Line)

	for _, fs := range n.fields {
		raw := n.resolver.Resolve(row.Values, n.headers.Header(fs.Name))
		*fs.Ref(normalized.Record) = models.CoerceValue(fs.Type, raw)
	}

	for column, value := range row.Values {
		if strings.TrimSpace(value) == "" || n.claimed(column) || models.IsReservedColumn(column) {
			continue
		}
		normalized.Record.Extra[column] = value
	}

	return normalized, nil
}

// claimed reports whether any configured header of the map refers to column,
// including headers for fields this kind may not write.
func (n *Normalizer) claimed(column string) bool {
	for _, header := range n.headers {
		if n.resolver.Claims(column, strings.TrimSpace(header)) {
			return true
		}
	}
	return false
}

// NormalizeTable normalizes every row of table in order. Rejections are
// collected, never returned as an error.
func (n *Normalizer) NormalizeTable(table *Table, rejections *errors.RejectionCollector) []*models.NormalizedRow {
	rows := make([]*models.NormalizedRow, 0, table.Len())
	for _, row := range table.Rows {
		normalized, rejected := n.Normalize(row)
		if rejected != nil {
			n.logger.WithField("line", row.Line).Debug(rejected.Reason)
			rejections.Add(rejected)
			continue
		}
		rows = append(rows, normalized)
	}
	return rows
}
