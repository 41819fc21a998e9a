package staging

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// Report formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const reportSheet = "Report"

// ReportColumns is the header of the exported validation report.
var ReportColumns = []string{
	"source_row_number",
	"document_number",
	"item_code",
	"warehouse",
	"quantity",
	"unit_rate",
	"date",
	"validation_status",
	"errors",
	"warnings",
	"is_duplicate",
	"duplicate_reason",
	"processing_status",
	"commit_error",
}

// ParseFormat normalizes a requested report format, defaulting to csv.
func ParseFormat(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: unknown report format %q", domain.ErrInvalidInput, value)
}

// ContentType returns the MIME type of a report format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// ReportFileName derives a download name from the session's upload.
func ReportFileName(session domain.UploadSession, format string) string {
	base := session.FileName
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return fmt.Sprintf("%s-validation-report.%s", sanitizeFileComponent(base), format)
}

// ExportReport writes one row per record of the session, in source row order.
func (s *Store) ExportReport(ctx context.Context, id uuid.UUID, format string, w io.Writer) (domain.UploadSession, error) {
	format, err := ParseFormat(format)
	if err != nil {
		return domain.UploadSession{}, err
	}
	session, records, err := s.Load(ctx, id)
	if err != nil {
		return domain.UploadSession{}, err
	}
	switch format {
	case FormatXLSX:
		err = writeXLSX(w, records)
	default:
		err = writeCSV(w, records)
	}
	if err != nil {
		return domain.UploadSession{}, fmt.Errorf("export report for %s: %w", id, err)
	}
	return session, nil
}

func reportRow(record domain.ValidatedRecord) []string {
	return []string{
		strconv.Itoa(record.SourceRowNumber),
		record.Value(domain.FieldDocumentNumber),
		record.Value(domain.FieldItemCode),
		record.Value(domain.FieldWarehouse),
		record.Value(domain.FieldQuantity),
		record.Value(domain.FieldUnitRate),
		record.Value(domain.FieldDate),
		string(record.ValidationStatus),
		strings.Join(record.ValidationErrors, "; "),
		strings.Join(record.ValidationWarnings, "; "),
		strconv.FormatBool(record.IsDuplicate),
		record.DuplicateReason,
		string(record.ProcessingStatus),
		record.CommitError,
	}
}

func writeCSV(w io.Writer, records []domain.ValidatedRecord) error {
	buffered := bufio.NewWriterSize(w, 64<<10)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.Write(ReportColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, record := range records {
		if err := csvWriter.Write(reportRow(record)); err != nil {
			return fmt.Errorf("write row %d: %w", record.SourceRowNumber, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return buffered.Flush()
}

func writeXLSX(w io.Writer, records []domain.ValidatedRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), reportSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(reportSheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]interface{}, len(ReportColumns))
	for i, column := range ReportColumns {
		header[i] = column
	}
	if err := stream.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, record := range records {
		values := reportRow(record)
		row := make([]interface{}, len(values))
		row[0] = record.SourceRowNumber
		for j := 1; j < len(values); j++ {
			row[j] = values[j]
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := stream.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", record.SourceRowNumber, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush xlsx: %w", err)
	}
	return f.Write(w)
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "import"
	}
	return result
}
