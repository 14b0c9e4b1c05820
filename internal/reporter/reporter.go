// Package reporter renders ingestion summaries and ledger views.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per ingestion or per ledger for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateIngestReport(summary, os.Stdout)
//	err = generator.GenerateLedgerReport(reporter.BuildLedgerView(snapshots, 0), os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/reconciler"
	"marketplace-ledger-reconciler/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeRejections lists rejected rows under an ingestion summary
	IncludeRejections bool `json:"include_rejections"`
	// MaxItems bounds the rejections and sample records printed to the console
	MaxItems int `json:"max_items"`
	// TopBuckets bounds the status and state breakdowns printed to the console
	TopBuckets int `json:"top_buckets"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeRejections: true,
		MaxItems:          10,
		TopBuckets:        10,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	if c.TopBuckets < 0 {
		return fmt.Errorf("top buckets cannot be negative, got %d", c.TopBuckets)
	}
	if c.Format == FormatCSV && c.CSVDelimiter == 0 {
		return fmt.Errorf("csv delimiter is required for csv output")
	}
	return nil
}

// ReportGenerator renders reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateIngestReport writes the summary of one ingestion
func (rg *ReportGenerator) GenerateIngestReport(summary *reconciler.IngestSummary, writer io.Writer) error {
	if summary == nil {
		return fmt.Errorf("ingest summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.ingestConsole(summary, writer)
	case FormatJSON:
		return rg.writeJSON(rg.ingestJSON(summary), writer)
	case FormatCSV:
		return rg.ingestCSV(summary, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateLedgerReport writes a ledger view
func (rg *ReportGenerator) GenerateLedgerReport(view *LedgerView, writer io.Writer) error {
	if view == nil {
		return fmt.Errorf("ledger view cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.ledgerConsole(view, writer)
	case FormatJSON:
		return rg.writeJSON(view, writer)
	case FormatCSV:
		return rg.ledgerCSV(view, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) ingestConsole(summary *reconciler.IngestSummary, writer io.Writer) error {
	fmt.Fprintf(writer, "INGESTION REPORT\n")
	fmt.Fprintf(writer, "Ledger:   %s\n", summary.Address)
	fmt.Fprintf(writer, "Kind:     %s\n", summary.Kind)
	if summary.FileName != "" {
		fmt.Fprintf(writer, "File:     %s\n", summary.FileName)
	}
	fmt.Fprintf(writer, "Ingested: %s (%v)\n\n", summary.IngestedAt.Format(time.RFC3339), summary.Duration.Round(time.Millisecond))

	fmt.Fprintf(writer, "=== ROWS ===\n")
	fmt.Fprintf(writer, "  Total:      %d\n", summary.Rows)
	fmt.Fprintf(writer, "  Accepted:   %d (%.1f%%)\n", summary.Accepted, percentage(summary.Accepted, summary.Rows))
	fmt.Fprintf(writer, "  Rejected:   %d (%.1f%%)\n", summary.Rejected, percentage(summary.Rejected, summary.Rows))
	fmt.Fprintf(writer, "  Duplicates: %d\n\n", summary.DuplicatesInFile)

	fmt.Fprintf(writer, "=== LEDGER ===\n")
	if summary.Persisted {
		fmt.Fprintf(writer, "  Merged into existing: %d\n", summary.Merged)
		fmt.Fprintf(writer, "  Created:              %d\n", summary.CreatedNew)
		fmt.Fprintf(writer, "  Records now:          %d\n", summary.LedgerRecords)
	} else {
		fmt.Fprintf(writer, "  Not modified (no accepted rows)\n")
	}

	if summary.ID != "" {
		fmt.Fprintf(writer, "  History id:           %s\n", summary.ID)
	}

	if rg.config.IncludeRejections && summary.Rejected > 0 {
		fmt.Fprintf(writer, "\n=== REJECTED ROWS ===\n")
		rejections := summary.Rejections
		if rg.config.MaxItems > 0 && len(rejections) > rg.config.MaxItems {
			rejections = rejections[:rg.config.MaxItems]
		}
		for _, r := range rejections {
			line := 0
			if r.Row != nil {
				line = r.Row.Line
			}
			fmt.Fprintf(writer, "  - line %d: %s\n", line, r.Reason)
		}
		if hidden := summary.Rejected - len(rejections); hidden > 0 {
			fmt.Fprintf(writer, "  ... and %d more\n", hidden)
		}
	}
	return nil
}

type rejectionOutput struct {
	Line   int    `json:"line"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

func (rg *ReportGenerator) ingestJSON(summary *reconciler.IngestSummary) map[string]interface{} {
	output := map[string]interface{}{
		"summary": summary,
	}
	if rg.config.IncludeRejections && len(summary.Rejections) > 0 {
		rejections := make([]rejectionOutput, 0, len(summary.Rejections))
		for _, r := range summary.Rejections {
			out := rejectionOutput{Reason: r.Reason}
			if r.Row != nil {
				out.Line = r.Row.Line
				out.Column = r.Row.Column
			}
			rejections = append(rejections, out)
		}
		output["rejections"] = rejections
	}
	return output
}

func (rg *ReportGenerator) ingestCSV(summary *reconciler.IngestSummary, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Tenant", "Platform", "Kind", "File", "Rows", "Accepted", "Rejected",
			"Duplicates", "Merged", "Created", "Ledger_Records", "Persisted", "Ingested_At",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	record := []string{
		summary.Address.Tenant,
		summary.Address.Platform,
		string(summary.Kind),
		summary.FileName,
		strconv.Itoa(summary.Rows),
		strconv.Itoa(summary.Accepted),
		strconv.Itoa(summary.Rejected),
		strconv.Itoa(summary.DuplicatesInFile),
		strconv.Itoa(summary.Merged),
		strconv.Itoa(summary.CreatedNew),
		strconv.Itoa(summary.LedgerRecords),
		strconv.FormatBool(summary.Persisted),
		summary.IngestedAt.Format(time.RFC3339),
	}
	if err := csvWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write ingestion record: %w", err)
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) ledgerConsole(view *LedgerView, writer io.Writer) error {
	fmt.Fprintf(writer, "LEDGER REPORT\n")
	fmt.Fprintf(writer, "Ledgers: %d, Records: %d, Returns: %d (%.1f%%)\n\n",
		len(view.Ledgers), view.Records, view.Returns, view.ReturnRate)

	if len(view.Ledgers) == 0 {
		fmt.Fprintf(writer, "No ledgers found\n")
		return nil
	}

	for _, summary := range view.Ledgers {
		fmt.Fprintf(writer, "=== %s ===\n", strings.ToUpper(summary.Address.String()))
		fmt.Fprintf(writer, "Records:     %d\n", summary.Records)
		fmt.Fprintf(writer, "Settled:     %d (%.1f%%)\n", summary.Settled, percentage(summary.Settled, summary.Records))
		fmt.Fprintf(writer, "Return Rate: %.1f%% (%d returns)\n\n", summary.ReturnRate, summary.Returns)

		rg.printAmounts(summary.Amounts, writer)

		fmt.Fprintf(writer, "\nBy Status:\n")
		rg.printBuckets(summary.ByStatus, summary.Records, writer)
		fmt.Fprintf(writer, "\nBy State:\n")
		rg.printBuckets(summary.ByState, summary.Records, writer)

		if len(summary.Sample) > 0 {
			fmt.Fprintf(writer, "\nRecords:\n")
			rg.printRecords(summary.Sample, summary.Records, writer)
		}
		fmt.Fprintf(writer, "\n")
	}

	if len(view.Ledgers) > 1 {
		fmt.Fprintf(writer, "=== ALL LEDGERS ===\n")
		rg.printAmounts(view.Amounts, writer)
	}
	return nil
}

func (rg *ReportGenerator) printAmounts(amounts Amounts, writer io.Writer) {
	fmt.Fprintf(writer, "Selling Price Total:  %s\n", amounts.Selling.StringFixed(2))
	fmt.Fprintf(writer, "Net Settlement Total: %s\n", amounts.Net.StringFixed(2))
	fmt.Fprintf(writer, "Invoice Total:        %s\n", amounts.Invoice.StringFixed(2))
	fmt.Fprintf(writer, "Refund Total:         %s\n", amounts.Refund.StringFixed(2))
	fmt.Fprintf(writer, "Deduction Total:      %s\n", amounts.Deduction.StringFixed(2))
	fmt.Fprintf(writer, "GST Refund Total:     %s\n", amounts.GSTRefund.StringFixed(2))
}

func (rg *ReportGenerator) printBuckets(counts map[string]int, total int, writer io.Writer) {
	buckets := sortedBuckets(counts)
	for i, b := range buckets {
		if rg.config.TopBuckets > 0 && i == rg.config.TopBuckets {
			fmt.Fprintf(writer, "  ... and %d more\n", len(buckets)-i)
			break
		}
		fmt.Fprintf(writer, "  %-24s %6d (%.1f%%)\n", b.Name, b.Count, percentage(b.Count, total))
	}
}

func (rg *ReportGenerator) printRecords(records []*models.CanonicalRecord, total int, writer io.Writer) {
	for i, r := range records {
		fmt.Fprintf(writer, "  %d. %s/%s  %s  qty %s  status %s  net %s\n",
			i+1,
			r.OrderID,
			r.SubOrderID,
			orDash(r.ProductName.String()),
			orDash(r.Quantity.String()),
			orDash(r.Status.String()),
			orDash(r.NetAmount.String()))
	}
	if total > len(records) {
		fmt.Fprintf(writer, "  ... and %d more\n", total-len(records))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (rg *ReportGenerator) ledgerCSV(view *LedgerView, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Tenant", "Platform", "Records", "Settled", "Returns", "Return_Rate",
			"Selling_Total", "Net_Total", "Invoice_Total", "Refund_Total", "Deduction_Total", "GST_Refund_Total",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, summary := range view.Ledgers {
		record := []string{
			summary.Address.Tenant,
			summary.Address.Platform,
			strconv.Itoa(summary.Records),
			strconv.Itoa(summary.Settled),
			strconv.Itoa(summary.Returns),
			fmt.Sprintf("%.2f", summary.ReturnRate),
			summary.Amounts.Selling.StringFixed(2),
			summary.Amounts.Net.StringFixed(2),
			summary.Amounts.Invoice.StringFixed(2),
			summary.Amounts.Refund.StringFixed(2),
			summary.Amounts.Deduction.StringFixed(2),
			summary.Amounts.GSTRefund.StringFixed(2),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write ledger record: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to encode json report")
	}
	return nil
}
