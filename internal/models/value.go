package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value holds a single field value together with its presence flag.
//
// Text always carries the canonical string form of the value. Numeric values
// additionally carry the parsed decimal in Number. A Value that is not Present
// never overwrites existing data during a merge, which is why a zero parsed
// from non-empty input ("0", "N/A") is kept distinct from a missing cell.
type Value struct {
	Text    string          `json:"text"`
	Number  decimal.Decimal `json:"number"`
	Numeric bool            `json:"numeric"`
	Present bool            `json:"present"`
}

// TextValue creates a text value, present when s is non-empty after trimming
func TextValue(s string) Value {
	return Value{
		Text:    s,
		Present: strings.TrimSpace(s) != "",
	}
}

// NumberValue creates a present numeric value
func NumberValue(d decimal.Decimal) Value {
	return Value{
		Text:    d.String(),
		Number:  d,
		Numeric: true,
		Present: true,
	}
}

// IntegerValue creates a present numeric value from an integer
func IntegerValue(n int64) Value {
	return NumberValue(decimal.NewFromInt(n))
}

// String returns the serialized form of the value; absent values serialize as ""
func (v Value) String() string {
	if !v.Present {
		return ""
	}
	return v.Text
}

// Equal compares two values by presence and canonical text
func (v Value) Equal(other Value) bool {
	if v.Present != other.Present {
		return false
	}
	if !v.Present {
		return true
	}
	if v.Numeric && other.Numeric {
		return v.Number.Equal(other.Number)
	}
	return v.Text == other.Text
}

// CanonicalDateLayout is the day-granularity layout dates are normalized to
const CanonicalDateLayout = "2006-01-02"

// dateLayouts are tried in order; day-first layouts come before month-first
// ones because marketplace exports in the supported regions are day-first.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
	"2006/01/02 15:04:05",
	"02-01-2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2/1/2006",
	"02.01.2006",
	"01/02/2006",
	"1/2/2006",
	"02-01-06",
	"2006-1-2",
	"02-Jan-2006",
	"02-Jan-2006 15:04:05",
	"2-Jan-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"Mon, 02 Jan 2006 15:04:05 MST",
	"Mon Jan 2 15:04:05 2006",
}

// ParseDate normalizes a date string to YYYY-MM-DD. Strings that match no
// known layout are passed through unchanged.
func ParseDate(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TextValue("")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return TextValue(t.Format(CanonicalDateLayout))
		}
	}
	return TextValue(raw)
}

// ParseNumber parses a decimal after stripping every character other than
// digits, '.' and '-'. Empty input is absent; non-empty input that cannot be
// parsed is a present zero.
func ParseNumber(raw string) Value {
	if strings.TrimSpace(raw) == "" {
		return Value{Numeric: true}
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return NumberValue(decimal.Zero)
	}
	return NumberValue(d)
}

// ParseInteger parses a non-negative integer using the numeric rules of
// ParseNumber; fractions are truncated and negatives clamp to zero.
func ParseInteger(raw string) Value {
	v := ParseNumber(raw)
	if !v.Present {
		return v
	}
	n := v.Number.IntPart()
	if n < 0 {
		n = 0
	}
	return IntegerValue(n)
}

// ParseStatus lower-cases and trims a status value
func ParseStatus(raw string) Value {
	return TextValue(strings.ToLower(strings.TrimSpace(raw)))
}

// CoerceValue converts raw cell text into a Value according to the field type
func CoerceValue(t FieldType, raw string) Value {
	switch t {
	case TypeNumber:
		return ParseNumber(raw)
	case TypeInteger:
		return ParseInteger(raw)
	case TypeDate:
		return ParseDate(raw)
	case TypeStatus:
		return ParseStatus(raw)
	default:
		return TextValue(raw)
	}
}
