package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
	zipMagic      = []byte{'P', 'K', 0x03, 0x04}

	// Layouts whose reading does not depend on the configured date order.
	fixedLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006/01/02",
		"2-Jan-2006",
		"02-Jan-06",
		"Jan 2, 2006",
	}
	dayFirstLayouts = []string{
		"2/1/2006",
		"2-1-2006",
		"2.1.2006",
		"2/1/06",
		"2-1-06",
		"2.1.06",
	}
	monthFirstLayouts = []string{
		"1/2/2006",
		"1-2-2006",
		"1.2.2006",
		"1/2/06",
		"1-2-06",
		"1.2.06",
	}
)

func timeLayouts(order domain.DateOrder) []string {
	numeric := dayFirstLayouts
	if order == domain.DateOrderMDY {
		numeric = monthFirstLayouts
	}
	layouts := make([]string, 0, len(fixedLayouts)+len(numeric))
	layouts = append(layouts, fixedLayouts...)
	return append(layouts, numeric...)
}

// ParseRequest describes one uploaded file.
type ParseRequest struct {
	FileName        string
	Data            []byte
	HeaderRowIndex  *int
	ColumnOverrides map[string]string
}

// ParseResult is the ordered row set plus the detected header mapping.
type ParseResult struct {
	Rows    []domain.RawRow
	Headers []string
	Mapping ColumnMapping
}

// Parser turns uploaded bytes into raw rows keyed by logical field.
type Parser struct {
	matcher *HeaderMatcher
	maxRows int
	layouts []string
}

// NewParser creates a parser. A maxRows of zero disables the row ceiling. The date order
// resolves numeric dates; a date impossible in that order stays text and fails validation.
func NewParser(matcher *HeaderMatcher, maxRows int, order domain.DateOrder) *Parser {
	return &Parser{matcher: matcher, maxRows: maxRows, layouts: timeLayouts(order)}
}

// Parse reads the file and maps its columns. It has no side effects.
func (p *Parser) Parse(req ParseRequest) (ParseResult, error) {
	table, err := parseTable(req.FileName, req.Data, req.HeaderRowIndex)
	if err != nil {
		return ParseResult{}, err
	}
	if len(table.rows) == 0 {
		return ParseResult{}, fmt.Errorf("%s: %w", req.FileName, domain.ErrEmptyFile)
	}
	if p.maxRows > 0 && len(table.rows) > p.maxRows {
		return ParseResult{}, fmt.Errorf("%w: %d rows exceeds limit of %d", domain.ErrRowLimitExceeded, len(table.rows), p.maxRows)
	}

	mapping, err := p.matcher.Match(table.headers, req.ColumnOverrides)
	if err != nil {
		return ParseResult{}, err
	}

	columns := make([]string, 0, len(mapping.Columns))
	for _, field := range domain.LogicalFields {
		if _, ok := mapping.Columns[field]; ok {
			columns = append(columns, field)
		}
	}

	rows := make([]domain.RawRow, len(table.rows))
	for i, values := range table.rows {
		cells := make(map[string]domain.CellValue, len(columns))
		for _, field := range columns {
			cells[field] = p.classifyCell(values[mapping.Columns[field]])
		}
		rows[i] = domain.RawRow{
			RowNumber: table.rowNumbers[i],
			Columns:   columns,
			Cells:     cells,
		}
		if extra := table.extraCells[i]; extra > 0 {
			rows[i].Warnings = []string{fmt.Sprintf("row has %d extra cells", extra)}
		}
	}

	return ParseResult{Rows: rows, Headers: table.headers, Mapping: mapping}, nil
}

type tableData struct {
	headers        []string
	rows           [][]string
	rowNumbers     []int
	extraCells     []int
	headerRowIndex int
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return tableData{}, fmt.Errorf("%s: %w", fileName, domain.ErrEmptyFile)
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		if bytes.HasPrefix(payload, zipMagic) || bytes.IndexByte(payload, 0) >= 0 {
			return tableData{}, fmt.Errorf("%w: %s is not delimited text", domain.ErrUnsupportedFormat, fileName)
		}
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("%w: failed to read csv: %w", domain.ErrUnsupportedFormat, err)
	}

	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("%w: failed to open xlsx: %w", domain.ErrUnsupportedFormat, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, fmt.Errorf("excel file has no sheets: %w", domain.ErrEmptyFile)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	if err := resolveExcelDates(f, sheets[0], rows); err != nil {
		return tableData{}, err
	}

	return normalizeTable(rows, headerRowIndex)
}

// resolveExcelDates rewrites date-formatted serial numbers as ISO dates so they never pass
// through the configured date order.
func resolveExcelDates(f *excelize.File, sheet string, rows [][]string) error {
	dateStyles := map[int]bool{}
	for r, row := range rows {
		for c, value := range row {
			serial, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				continue
			}
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return fmt.Errorf("failed to address xlsx cell: %w", err)
			}
			styleID, err := f.GetCellStyle(sheet, axis)
			if err != nil {
				return fmt.Errorf("failed to read xlsx style of %s: %w", axis, err)
			}
			isDate, seen := dateStyles[styleID]
			if !seen {
				style, err := f.GetStyle(styleID)
				if err != nil {
					return fmt.Errorf("failed to read xlsx style %d: %w", styleID, err)
				}
				isDate = dateStyle(style)
				dateStyles[styleID] = isDate
			}
			if !isDate {
				continue
			}
			ts, err := excelize.ExcelDateToTime(serial, false)
			if err != nil {
				continue
			}
			if ts.Hour() == 0 && ts.Minute() == 0 && ts.Second() == 0 {
				row[c] = ts.Format("2006-01-02")
			} else {
				row[c] = ts.Format("2006-01-02 15:04:05")
			}
		}
	}
	return nil
}

func dateStyle(style *excelize.Style) bool {
	if style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		format := strings.ToLower(*style.CustomNumFmt)
		return strings.ContainsAny(format, "dy")
	}
	switch id := style.NumFmt; {
	case id >= 14 && id <= 22, id >= 27 && id <= 36, id >= 45 && id <= 47, id >= 50 && id <= 58:
		return true
	}
	return false
}

// normalizeTable picks the header row and keeps every non-empty data row with its 1-based
// position in the source file.
func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, fmt.Errorf("no rows found in file: %w", domain.ErrEmptyFile)
	}

	var headerRow []string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("%w: header row index %d out of range", domain.ErrInvalidInput, *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return tableData{}, fmt.Errorf("%w: selected header row %d is empty", domain.ErrInvalidInput, *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) > 0 {
				headerRow = row
				headerIndex = idx
				break
			}
		}
	}

	if headerRow == nil {
		return tableData{}, fmt.Errorf("header row could not be detected: %w", domain.ErrEmptyFile)
	}

	headers := sanitizeHeaders(headerRow)
	table := tableData{headers: headers, headerRowIndex: headerIndex}
	for idx := headerIndex + 1; idx < len(records); idx++ {
		if len(cleanRow(records[idx])) == 0 {
			continue
		}
		row, extra := padRow(records[idx], len(headers))
		table.rows = append(table.rows, row)
		table.rowNumbers = append(table.rowNumbers, idx+1)
		table.extraCells = append(table.extraCells, extra)
	}
	return table, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

// sanitizeHeaders trims headers, names blank ones by position and suffixes repeats.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := strings.ToLower(name)
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", name, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

// padRow fits row to the header width and counts the non-blank cells cut off beyond it.
func padRow(row []string, length int) ([]string, int) {
	if len(row) >= length {
		return row[:length], len(cleanRow(row[length:]))
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded, 0
}

// classifyCell tags a raw cell as null, number, date or text.
func (p *Parser) classifyCell(raw string) domain.CellValue {
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.NullCell()
	}
	if value, ok := domain.ParseNumber(text); ok {
		return domain.NumberCell(text, value.InexactFloat64())
	}
	if ts, err := parseTimestamp(text, p.layouts); err == nil {
		return domain.DateCell(text, ts)
	}
	return domain.TextCell(text)
}

func parseTimestamp(raw string, layouts []string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
