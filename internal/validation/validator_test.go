package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rawRow(number int, values map[string]string) domain.RawRow {
	row := domain.RawRow{RowNumber: number, Cells: map[string]domain.CellValue{}}
	for _, field := range domain.LogicalFields {
		text, ok := values[field]
		if !ok {
			continue
		}
		row.Columns = append(row.Columns, field)
		if value, isNumber := domain.ParseNumber(text); isNumber {
			row.Cells[field] = domain.NumberCell(text, value.InexactFloat64())
			continue
		}
		if ts, err := time.Parse("2006-01-02", text); err == nil {
			row.Cells[field] = domain.DateCell(text, ts)
			continue
		}
		row.Cells[field] = domain.TextCell(text)
	}
	return row
}

func receiptRow(number int, overrides map[string]string) domain.RawRow {
	values := map[string]string{
		domain.FieldDocumentNumber: "GRN-1",
		domain.FieldItemCode:       "RM-1",
		domain.FieldQuantity:       "10",
		domain.FieldUnitRate:       "5",
		domain.FieldDate:           "2024-03-01",
	}
	for k, v := range overrides {
		if v == "" {
			delete(values, k)
			continue
		}
		values[k] = v
	}
	return rawRow(number, values)
}

var knownItems = Lookups{Items: map[string]domain.Item{
	"RM-1": {Code: "RM-1", StandardRate: decimal.NewFromInt(5), AverageReceiptQty: decimal.NewFromInt(10)},
}}

func TestValidateMissingItemCodeIsInvalid(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)
	record := Validate(set, receiptRow(2, map[string]string{domain.FieldItemCode: ""}))

	assert.Equal(t, domain.ValidationStatusInvalid, record.ValidationStatus)
	assert.Equal(t, []string{"itemCode is required"}, record.ValidationErrors)
	assert.False(t, record.Committable())
}

func TestRequiredFailureSuppressesTypeChecks(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)
	record := Validate(set, receiptRow(2, map[string]string{domain.FieldQuantity: "", domain.FieldDate: ""}))

	assert.Equal(t, []string{"quantity is required", "date is required"}, record.ValidationErrors)
}

func TestTypeAndRangeMessages(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)

	cases := []struct {
		name      string
		overrides map[string]string
		want      []string
	}{
		{"not a number", map[string]string{domain.FieldQuantity: "ten"}, []string{"quantity must be a number"}},
		{"zero receipt", map[string]string{domain.FieldQuantity: "0"}, []string{"quantity must be > 0"}},
		{"negative rate", map[string]string{domain.FieldUnitRate: "-1"}, []string{"unitRate must be >= 0"}},
		{"bad date", map[string]string{domain.FieldDate: "someday"}, []string{"date must be a valid date"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := Validate(set, receiptRow(2, tc.overrides))
			assert.Equal(t, tc.want, record.ValidationErrors)
			assert.Equal(t, domain.ValidationStatusInvalid, record.ValidationStatus)
		})
	}
}

func TestOpeningStockAllowsZeroAndRequiresWarehouse(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeOpeningStock, DefaultPolicy(), knownItems)

	record := Validate(set, rawRow(2, map[string]string{
		domain.FieldItemCode:  "RM-1",
		domain.FieldQuantity:  "0",
		domain.FieldWarehouse: "MAIN",
	}))
	assert.Equal(t, domain.ValidationStatusValid, record.ValidationStatus, record.ValidationErrors)

	record = Validate(set, rawRow(3, map[string]string{
		domain.FieldItemCode: "RM-1",
		domain.FieldQuantity: "4",
	}))
	assert.Equal(t, []string{"warehouse is required"}, record.ValidationErrors)
}

func TestReferentialMissIsOnlyAWarning(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)
	record := Validate(set, receiptRow(2, map[string]string{domain.FieldItemCode: "UNKNOWN"}))

	assert.Empty(t, record.ValidationErrors)
	assert.Equal(t, []string{"itemCode UNKNOWN not found in master data"}, record.ValidationWarnings)
	assert.Equal(t, domain.ValidationStatusWarning, record.ValidationStatus)
	assert.True(t, record.Committable())
}

func TestItemCodesMatchRegardlessOfCase(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)

	lower := Validate(set, receiptRow(2, map[string]string{domain.FieldItemCode: " rm-1 "}))
	upper := Validate(set, receiptRow(3, map[string]string{domain.FieldItemCode: "RM-1"}))

	assert.Empty(t, lower.ValidationWarnings)
	assert.Equal(t, domain.ValidationStatusValid, lower.ValidationStatus)
	assert.Equal(t, "RM-1", lower.Fields.ItemCode)
	assert.Equal(t, upper.Fields.ItemCode, lower.Fields.ItemCode)
	assert.Equal(t, "rm-1", lower.Values[domain.FieldItemCode], "source text is kept for exports")
}

func TestRowWarningsCarryIntoRecord(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)
	row := receiptRow(2, nil)
	row.Warnings = []string{"row has 2 extra cells"}

	record := Validate(set, row)
	assert.Empty(t, record.ValidationErrors)
	assert.Equal(t, []string{"row has 2 extra cells"}, record.ValidationWarnings)
	assert.Equal(t, domain.ValidationStatusWarning, record.ValidationStatus)
}

func TestVarianceWarnings(t *testing.T) {
	set := RuleSetFor(domain.ImportTypePurchase, DefaultPolicy(), knownItems)
	record := Validate(set, receiptRow(2, map[string]string{
		domain.FieldUnitRate: "10",
		domain.FieldQuantity: "45",
	}))

	assert.Equal(t, []string{
		"quantity 45 deviates 350% from expected 10",
		"unitRate 10 deviates 100% from expected 5",
	}, record.ValidationWarnings)
	assert.Equal(t, domain.ValidationStatusWarning, record.ValidationStatus)
}

func TestEnumRestrictsUnits(t *testing.T) {
	policy := DefaultPolicy()
	policy.AllowedUnits = []string{"kg", "pcs"}
	set := RuleSetFor(domain.ImportTypeGRN, policy, knownItems)

	record := Validate(set, receiptRow(2, map[string]string{domain.FieldUnit: "PCS"}))
	assert.Empty(t, record.ValidationErrors)

	record = Validate(set, receiptRow(2, map[string]string{domain.FieldUnit: "box"}))
	assert.Equal(t, []string{"unit must be one of kg, pcs"}, record.ValidationErrors)
}

func TestCoercedFieldsDefaultAmount(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)
	record := Validate(set, receiptRow(7, map[string]string{domain.FieldQuantity: "1,200", domain.FieldUnitRate: "2.5"}))

	assert.Equal(t, 7, record.SourceRowNumber)
	assert.True(t, record.Fields.Quantity.Equal(decimal.NewFromInt(1200)))
	assert.True(t, record.Fields.Amount.Equal(decimal.NewFromInt(3000)), record.Fields.Amount.String())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), record.Fields.Date)
	assert.Equal(t, "1,200", record.Value(domain.FieldQuantity))
}

func TestValidateIsDeterministic(t *testing.T) {
	set := RuleSetFor(domain.ImportTypeGRN, DefaultPolicy(), knownItems)
	row := receiptRow(2, map[string]string{domain.FieldItemCode: "X-9", domain.FieldQuantity: "abc"})

	first := Validate(set, row)
	second := Validate(set, row)
	assert.Equal(t, first, second)
}

type stubMasterData struct {
	items map[string]domain.Item
	err   error
	calls int
}

func (s *stubMasterData) Items(_ context.Context, codes []string) (map[string]domain.Item, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	found := map[string]domain.Item{}
	for _, code := range codes {
		if item, ok := s.items[code]; ok {
			found[code] = item
		}
	}
	return found, nil
}

func TestValidateAllParallelPreservesOrder(t *testing.T) {
	session := domain.NewUploadSession(uuid.New(), "big.csv", domain.ImportTypeGRN, time.Now())
	rows := make([]domain.RawRow, 0, 500)
	for i := 0; i < 500; i++ {
		code := "RM-1"
		if i%7 == 0 {
			code = fmt.Sprintf("NEW-%d", i)
		}
		rows = append(rows, receiptRow(i+2, map[string]string{domain.FieldItemCode: code}))
	}
	master := &stubMasterData{items: knownItems.Items}

	sequential, err := NewValidator(DefaultPolicy(), 0, zap.NewNop()).ValidateAll(context.Background(), session, rows, master)
	require.NoError(t, err)
	parallel, err := NewValidator(DefaultPolicy(), 10, zap.NewNop()).ValidateAll(context.Background(), session, rows, master)
	require.NoError(t, err)

	require.Len(t, parallel, len(rows))
	for i := range rows {
		assert.Equal(t, rows[i].RowNumber, parallel[i].SourceRowNumber)
		assert.Equal(t, sequential[i].ValidationStatus, parallel[i].ValidationStatus)
		assert.Equal(t, sequential[i].ValidationWarnings, parallel[i].ValidationWarnings)
		assert.Equal(t, session.ID, parallel[i].SessionID)
	}
	assert.Equal(t, 2, master.calls)
}

func TestValidateAllFlagsDatesOutsidePeriod(t *testing.T) {
	session := domain.NewUploadSession(uuid.New(), "march.csv", domain.ImportTypeGRN, time.Now())
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	session.PeriodStart, session.PeriodEnd = &start, &end

	records, err := NewValidator(DefaultPolicy(), 0, nil).ValidateAll(context.Background(), session, []domain.RawRow{
		receiptRow(2, nil),
		receiptRow(3, map[string]string{domain.FieldDate: "2024-04-02"}),
	}, &stubMasterData{items: knownItems.Items})
	require.NoError(t, err)

	assert.Equal(t, domain.ValidationStatusValid, records[0].ValidationStatus)
	assert.Equal(t, []string{"date 2024-04-02 is outside the session period 2024-03-01..2024-03-31"}, records[1].ValidationWarnings)
}

func TestValidateAllMasterDataFailure(t *testing.T) {
	session := domain.NewUploadSession(uuid.New(), "x.csv", domain.ImportTypeGRN, time.Now())
	_, err := NewValidator(DefaultPolicy(), 0, nil).ValidateAll(context.Background(), session,
		[]domain.RawRow{receiptRow(2, nil)}, &stubMasterData{err: errors.New("connection refused")})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
