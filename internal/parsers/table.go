package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// Format identifies a tabular file format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat parses a format name; an empty name means xlsx
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported table format %q (expected xlsx or csv)", s)
	}
}

// Row is one data row of a table keyed by header text. Line is the 1-based
// line of the row in the source, counting the header as line 1.
type Row struct {
	Line   int
	Values map[string]string
}

// Table is a decoded spreadsheet with a single header row
type Table struct {
	Headers []string
	Rows    []Row
}

// Len returns the number of data rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Codec converts between table bytes and rows
type Codec interface {
	Format() Format
	Extension() string
	ContentType() string
	Decode(data []byte) (*Table, error)
	Encode(table *Table) ([]byte, error)
}

// NewCodec returns the codec for format
func NewCodec(format Format) (Codec, error) {
	switch format {
	case FormatXLSX, "":
		return NewXLSXCodec(), nil
	case FormatCSV:
		return NewCSVCodec(), nil
	default:
		return nil, fmt.Errorf("unsupported table format %q", format)
	}
}

var zipMagic = []byte("PK\x03\x04")

// DetectFormat sniffs data: zip containers are xlsx, anything else is csv
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	return FormatCSV
}

// ParseTable decodes data with the codec matching its sniffed format
func ParseTable(data []byte) (*Table, error) {
	codec, err := NewCodec(DetectFormat(data))
	if err != nil {
		return nil, err
	}
	return codec.Decode(data)
}

// buildTable turns raw records into keyed rows. Header cells are trimmed, a
// leading BOM is dropped, columns with an empty header are ignored and fully
// empty rows are skipped. When two columns share a header, the first
// non-empty value wins.
func buildTable(records [][]string, log logger.Logger) *Table {
	table := &Table{}
	if len(records) == 0 {
		return table
	}

	headers := cleanHeaders(records[0])
	for _, h := range headers {
		if h != "" {
			table.Headers = append(table.Headers, h)
		}
	}

	skipped := 0
	for i, record := range records[1:] {
		if isEmptyRecord(record) {
			skipped++
			continue
		}
		values := make(map[string]string, len(headers))
		for col, header := range headers {
			if header == "" || col >= len(record) {
				continue
			}
			if existing := values[header]; strings.TrimSpace(existing) != "" {
				continue
			}
			values[header] = record[col]
		}
		table.Rows = append(table.Rows, Row{Line: i + 2, Values: values})
	}

	if skipped > 0 {
		log.WithField("empty_rows", skipped).Debug("Skipped empty rows")
	}
	return table
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "\ufeff")
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// records flattens a table back into header + data records in header order
func (t *Table) records() [][]string {
	out := make([][]string, 0, len(t.Rows)+1)
	out = append(out, t.Headers)
	for _, row := range t.Rows {
		record := make([]string, len(t.Headers))
		for i, h := range t.Headers {
			record[i] = row.Values[h]
		}
		out = append(out, record)
	}
	return out
}

// CSVCodec reads and writes comma-separated tables
type CSVCodec struct {
	Delimiter rune
	logger    logger.Logger
}

// NewCSVCodec creates a new CSVCodec
func NewCSVCodec() *CSVCodec {
	return &CSVCodec{
		Delimiter: ',',
		logger:    logger.GetGlobalLogger().WithComponent("csv_codec"),
	}
}

func (c *CSVCodec) Format() Format      { return FormatCSV }
func (c *CSVCodec) Extension() string   { return "csv" }
func (c *CSVCodec) ContentType() string { return "text/csv" }

// Decode parses CSV bytes; invalid UTF-8 or broken quoting is a malformed table
func (c *CSVCodec) Decode(data []byte) (*Table, error) {
	if !utf8.Valid(data) {
		return nil, errors.MalformedTableError(string(FormatCSV), fmt.Errorf("invalid UTF-8 encoding")).
			WithSuggestion("save the file in UTF-8 encoding and try again")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = c.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.MalformedTableError(string(FormatCSV), err)
		}
		records = append(records, record)
	}

	table := buildTable(records, c.logger)
	c.logger.WithFields(logger.Fields{
		"columns": len(table.Headers),
		"rows":    len(table.Rows),
	}).Debug("Decoded csv table")
	return table, nil
}

// Encode writes the table as CSV
func (c *CSVCodec) Encode(table *Table) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Comma = c.Delimiter
	if err := writer.WriteAll(table.records()); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to encode csv table")
	}
	return buf.Bytes(), nil
}

// XLSXCodec reads the first sheet of a workbook and writes single-sheet workbooks
type XLSXCodec struct {
	SheetName string
	logger    logger.Logger
}

// NewXLSXCodec creates a new XLSXCodec
func NewXLSXCodec() *XLSXCodec {
	return &XLSXCodec{
		SheetName: "Sheet1",
		logger:    logger.GetGlobalLogger().WithComponent("xlsx_codec"),
	}
}

func (c *XLSXCodec) Format() Format    { return FormatXLSX }
func (c *XLSXCodec) Extension() string { return "xlsx" }
func (c *XLSXCodec) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Decode reads the first worksheet of the workbook
func (c *XLSXCodec) Decode(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.MalformedTableError(string(FormatXLSX), err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return &Table{}, nil
	}

	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.MalformedTableError(string(FormatXLSX), err).
			WithContext("sheet", sheets[0])
	}
	if err := newDateCells(f, sheets[0]).render(records); err != nil {
		return nil, errors.MalformedTableError(string(FormatXLSX), err).
			WithContext("sheet", sheets[0])
	}

	table := buildTable(records, c.logger)
	c.logger.WithFields(logger.Fields{
		"sheet":   sheets[0],
		"columns": len(table.Headers),
		"rows":    len(table.Rows),
	}).Debug("Decoded xlsx table")
	return table, nil
}

// Built-in number formats showing a date (with or without a time) or only a time
var (
	builtinDateFormats = map[int]bool{
		14: true, 15: true, 16: true, 17: true, 22: true,
		27: true, 28: true, 29: true, 30: true, 31: true,
		34: true, 35: true, 36: true,
		50: true, 51: true, 52: true, 53: true, 54: true, 57: true, 58: true,
	}
	builtinTimeFormats = map[int]bool{
		18: true, 19: true, 20: true, 21: true, 32: true, 33: true,
		45: true, 46: true, 47: true, 55: true, 56: true,
	}
)

type cellKind int

const (
	plainCell cellKind = iota
	dateCell
	timeCell
)

// dateCells turns raw serial numbers in date-formatted cells into ISO text.
// Raw values are read instead of formatted ones because the displayed text
// follows the workbook locale (mm-dd-yy for format 14).
type dateCells struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	kinds    map[int]cellKind
}

func newDateCells(f *excelize.File, sheet string) *dateCells {
	dc := &dateCells{f: f, sheet: sheet, kinds: make(map[int]cellKind)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		dc.date1904 = *props.Date1904
	}
	return dc
}

func (dc *dateCells) render(records [][]string) error {
	for r, record := range records {
		for c, raw := range record {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			kind, err := dc.kind(cell)
			if err != nil {
				return err
			}
			if kind == plainCell {
				continue
			}
			if text, ok := dc.format(raw, kind); ok {
				record[c] = text
			}
		}
	}
	return nil
}

func (dc *dateCells) kind(cell string) (cellKind, error) {
	styleID, err := dc.f.GetCellStyle(dc.sheet, cell)
	if err != nil {
		return plainCell, err
	}
	if styleID == 0 {
		return plainCell, nil
	}
	if kind, ok := dc.kinds[styleID]; ok {
		return kind, nil
	}

	kind := plainCell
	style, err := dc.f.GetStyle(styleID)
	if err == nil {
		switch {
		case style.CustomNumFmt != nil && *style.CustomNumFmt != "":
			kind = customFormatKind(*style.CustomNumFmt)
		case builtinDateFormats[style.NumFmt]:
			kind = dateCell
		case builtinTimeFormats[style.NumFmt]:
			kind = timeCell
		}
	}
	dc.kinds[styleID] = kind
	return kind, nil
}

func (dc *dateCells) format(raw string, kind cellKind) (string, bool) {
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(serial, dc.date1904)
	if err != nil {
		return "", false
	}
	t = t.Round(time.Second)

	switch {
	case kind == timeCell:
		return t.Format(time.TimeOnly), true
	case t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0:
		return t.Format(time.DateOnly), true
	default:
		return t.Format(time.DateTime), true
	}
}

// customFormatKind classifies a custom number format code by its date and
// time tokens, ignoring quoted literals, escapes and bracketed sections.
func customFormatKind(code string) cellKind {
	var b strings.Builder
	quoted, bracket := false, false
	for i := 0; i < len(code); i++ {
		ch := code[i]
		switch {
		case quoted:
			quoted = ch != '"'
		case bracket:
			bracket = ch != ']'
		case ch == '"':
			quoted = true
		case ch == '[':
			bracket = true
		case ch == '\\' || ch == '_' || ch == '*':
			i++
		default:
			b.WriteByte(ch)
		}
	}

	tokens := strings.ToLower(b.String())
	switch {
	case strings.ContainsAny(tokens, "yd"):
		return dateCell
	case strings.ContainsAny(tokens, "hs"):
		return timeCell
	default:
		return plainCell
	}
}

// Encode writes the table to a new workbook with a stream writer. Every cell
// is written as text so a reload yields the same strings.
func (c *XLSXCodec) Encode(table *Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := c.SheetName
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to name worksheet")
		}
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to create stream writer")
	}

	for i, record := range table.records() {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "invalid cell coordinates")
		}
		values := make([]interface{}, len(record))
		for j, v := range record {
			values[j] = v
		}
		if err := sw.SetRow(cell, values); err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to write row").
				WithContext("row", i+1)
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to flush worksheet")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to encode xlsx table")
	}
	return buf.Bytes(), nil
}
