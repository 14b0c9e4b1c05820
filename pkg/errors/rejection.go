package errors

import (
	"fmt"
	"strings"
)

// RowContext locates a rejected row inside an uploaded table
type RowContext struct {
	Source string `json:"source"`
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

// RowRejectedError reports a single source row the normalizer refused.
// Rejected rows are skipped; they never abort an ingestion.
type RowRejectedError struct {
	*ReconcilerError
	Row    *RowContext `json:"row"`
	Reason string      `json:"reason"`
}

// Error implements the error interface with the row location appended
func (e *RowRejectedError) Error() string {
	if e.Row == nil {
		return e.ReconcilerError.Error()
	}
	location := fmt.Sprintf("at %s", e.Row.Source)
	if e.Row.Line > 0 {
		location += fmt.Sprintf(":%d", e.Row.Line)
	}
	return e.ReconcilerError.Error() + " " + location
}

// Unwrap exposes the embedded ReconcilerError to errors.As
func (e *RowRejectedError) Unwrap() error {
	return e.ReconcilerError
}

// GetDetailedError returns a multi-line description for console output
func (e *RowRejectedError) GetDetailedError() string {
	lines := []string{fmt.Sprintf("ROW REJECTED: %s", e.Reason)}
	if e.Row != nil {
		lines = append(lines, fmt.Sprintf("  → Source: %s", e.Row.Source))
		if e.Row.Line > 0 {
			lines = append(lines, fmt.Sprintf("  → Line: %d", e.Row.Line))
		}
		if e.Row.Column != "" {
			lines = append(lines, fmt.Sprintf("  → Column: %s", e.Row.Column))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  → Suggestion: %s", e.Suggestion))
	}
	return strings.Join(lines, "\n")
}

// NewRowRejectedError creates a rejection for the row at line of source
func NewRowRejectedError(source string, line int, reason string) *RowRejectedError {
	base := New(CategoryValidation, CodeRowRejected, fmt.Sprintf("row rejected: %s", reason)).
		WithContext("source", source).
		WithContext("line", line)
	return &RowRejectedError{
		ReconcilerError: base,
		Row:             &RowContext{Source: source, Line: line},
		Reason:          reason,
	}
}

// MissingOrderIDError rejects a row whose order id column resolved to nothing
func MissingOrderIDError(source string, line int, column string) *RowRejectedError {
	err := NewRowRejectedError(source, line, "missing order id")
	err.Row.Column = column
	err.WithSuggestion("check the orderId header mapping for this platform and record kind")
	return err
}

// RejectionCollector accumulates row rejections up to a limit
type RejectionCollector struct {
	rejections []*RowRejectedError
	total      int
	maxKept    int
}

// NewRejectionCollector creates a collector that keeps at most maxKept rejections.
// A non-positive maxKept keeps every rejection.
func NewRejectionCollector(maxKept int) *RejectionCollector {
	return &RejectionCollector{maxKept: maxKept}
}

// Add records a rejection
func (c *RejectionCollector) Add(err *RowRejectedError) {
	if err == nil {
		return
	}
	c.total++
	if c.maxKept <= 0 || len(c.rejections) < c.maxKept {
		c.rejections = append(c.rejections, err)
	}
}

// Count returns the number of rejections seen, including ones not kept
func (c *RejectionCollector) Count() int {
	return c.total
}

// Rejections returns the kept rejections in arrival order
func (c *RejectionCollector) Rejections() []*RowRejectedError {
	return c.rejections
}

// Summary converts the kept rejections into an ErrorSummary
func (c *RejectionCollector) Summary() *ErrorSummary {
	base := make([]*ReconcilerError, len(c.rejections))
	for i, r := range c.rejections {
		base[i] = r.ReconcilerError
	}
	summary := NewErrorSummary(base)
	summary.Total = c.total
	return summary
}

// FormatRejectionsForUser renders rejections for console output, detailing the first few
func FormatRejectionsForUser(rejections []*RowRejectedError, total int) string {
	if total == 0 {
		return "No rows rejected"
	}

	maxDetailed := 3
	var lines []string
	lines = append(lines, fmt.Sprintf("%d row(s) rejected:", total))
	for i, r := range rejections {
		if i == maxDetailed {
			break
		}
		lines = append(lines, "", r.GetDetailedError())
	}
	if total > maxDetailed {
		lines = append(lines, "", fmt.Sprintf("... and %d more", total-maxDetailed))
	}
	return strings.Join(lines, "\n")
}
