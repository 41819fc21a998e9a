package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	plainNumber   = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)
	groupedNumber = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)
)

// ParseNumber accepts plain and thousands-grouped decimal numbers.
func ParseNumber(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	if groupedNumber.MatchString(text) {
		text = strings.ReplaceAll(text, ",", "")
	} else if !plainNumber.MatchString(text) {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

// CellKind tags the variant held by a CellValue.
type CellKind string

const (
	CellKindNull   CellKind = "null"
	CellKindText   CellKind = "text"
	CellKindNumber CellKind = "number"
	CellKindDate   CellKind = "date"
)

// CellValue is a single spreadsheet cell. Text always carries the trimmed source text so that
// exports can reproduce what the uploader sent.
type CellValue struct {
	Kind   CellKind  `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
	Date   time.Time `json:"date,omitempty"`
}

// NullCell returns the empty cell.
func NullCell() CellValue {
	return CellValue{Kind: CellKindNull}
}

// TextCell wraps a plain string value.
func TextCell(text string) CellValue {
	text = strings.TrimSpace(text)
	if text == "" {
		return NullCell()
	}
	return CellValue{Kind: CellKindText, Text: text}
}

// NumberCell wraps a numeric value alongside its source text.
func NumberCell(text string, value float64) CellValue {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strconv.FormatFloat(value, 'f', -1, 64)
	}
	return CellValue{Kind: CellKindNumber, Text: text, Number: value}
}

// DateCell wraps a date value alongside its source text.
func DateCell(text string, value time.Time) CellValue {
	text = strings.TrimSpace(text)
	if text == "" {
		text = value.Format("2006-01-02")
	}
	return CellValue{Kind: CellKindDate, Text: text, Date: value}
}

// Decimal returns the cell's numeric value parsed from its source text.
func (c CellValue) Decimal() (decimal.Decimal, bool) {
	if c.IsNull() {
		return decimal.Zero, false
	}
	return ParseNumber(c.Text)
}

// IsNull reports whether the cell carries no value.
func (c CellValue) IsNull() bool {
	return c.Kind == CellKindNull || c.Kind == "" || strings.TrimSpace(c.Text) == ""
}

// RawRow is one parsed input row keyed by logical field name. Warnings carry problems
// found while reading the row that no field rule can see.
type RawRow struct {
	RowNumber int                  `json:"row_number"`
	Columns   []string             `json:"columns"`
	Cells     map[string]CellValue `json:"cells"`
	Warnings  []string             `json:"warnings,omitempty"`
}

// Cell returns the value for a logical field, or the null cell when absent.
func (r RawRow) Cell(field string) CellValue {
	if r.Cells == nil {
		return NullCell()
	}
	cell, ok := r.Cells[field]
	if !ok {
		return NullCell()
	}
	return cell
}

// Texts flattens the row into field -> source text, dropping empty cells.
func (r RawRow) Texts() map[string]string {
	values := make(map[string]string, len(r.Cells))
	for _, column := range r.Columns {
		cell := r.Cell(column)
		if cell.IsNull() {
			continue
		}
		values[column] = cell.Text
	}
	return values
}
