package duplicates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHistory struct {
	existing map[string]string
	err      error
	gotKeys  []string
}

func (s *stubHistory) QueryExistingKeys(_ context.Context, _ uuid.UUID, _ domain.ImportType, keys []string) (map[string]string, error) {
	s.gotKeys = keys
	if s.err != nil {
		return nil, s.err
	}
	found := map[string]string{}
	for _, key := range keys {
		if ref, ok := s.existing[key]; ok {
			found[key] = ref
		}
	}
	return found, nil
}

var march = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func receipt(row int, doc, item string) domain.ValidatedRecord {
	return domain.ValidatedRecord{
		SourceRowNumber:  row,
		ValidationStatus: domain.ValidationStatusValid,
		Fields:           domain.RecordFields{DocumentNumber: doc, ItemCode: item, Date: march},
	}
}

func grnSession() domain.UploadSession {
	return domain.NewUploadSession(uuid.New(), "grn.csv", domain.ImportTypeGRN, time.Now())
}

func TestKeyForIsCaseFoldedAndRequiresEveryPart(t *testing.T) {
	key, ok := KeyFor(domain.ImportTypeGRN, domain.RecordFields{DocumentNumber: " GRN-1 ", ItemCode: "Rm-1", Date: march})
	require.True(t, ok)
	assert.Equal(t, "grn-1|rm-1|2024-03-01", key)

	_, ok = KeyFor(domain.ImportTypeGRN, domain.RecordFields{ItemCode: "RM-1", Date: march})
	assert.False(t, ok)

	key, ok = KeyFor(domain.ImportTypeOpeningStock, domain.RecordFields{ItemCode: "RM-1"})
	require.True(t, ok)
	assert.Equal(t, "rm-1|main|", key)
}

func TestDetectFlagsLaterRowWithinFile(t *testing.T) {
	records := []domain.ValidatedRecord{
		receipt(2, "GRN-1", "RM-1"),
		receipt(3, "GRN-1", "RM-2"),
		receipt(4, "grn-1", "rm-1"),
	}

	index, err := NewDetector(nil, nil).Detect(context.Background(), grnSession(), records)
	require.NoError(t, err)

	assert.False(t, records[0].IsDuplicate)
	assert.False(t, records[1].IsDuplicate)
	assert.True(t, records[2].IsDuplicate)
	assert.Equal(t, "matches row 2", records[2].DuplicateReason)

	key, _ := KeyFor(domain.ImportTypeGRN, records[2].Fields)
	assert.ElementsMatch(t, []int{2, 4}, index.Conflicts(key))
	assert.Equal(t, []string{key}, index.Keys())
}

func TestDuplicateSymmetry(t *testing.T) {
	records := []domain.ValidatedRecord{receipt(5, "D", "I"), receipt(9, "D", "I")}
	index, err := NewDetector(nil, nil).Detect(context.Background(), grnSession(), records)
	require.NoError(t, err)

	keyA, _ := KeyFor(domain.ImportTypeGRN, records[0].Fields)
	keyB, _ := KeyFor(domain.ImportTypeGRN, records[1].Fields)
	assert.Equal(t, keyA, keyB)
	assert.Contains(t, index.Conflicts(keyA), records[1].SourceRowNumber)
	assert.Contains(t, index.Conflicts(keyB), records[0].SourceRowNumber)
}

func TestDetectHistoryWinsOverSession(t *testing.T) {
	records := []domain.ValidatedRecord{receipt(2, "GRN-9", "RM-1"), receipt(3, "GRN-9", "RM-1")}
	history := &stubHistory{existing: map[string]string{"grn-9|rm-1|2024-03-01": "GRN-9"}}

	_, err := NewDetector(history, nil).Detect(context.Background(), grnSession(), records)
	require.NoError(t, err)

	assert.Equal(t, []string{"grn-9|rm-1|2024-03-01"}, history.gotKeys)
	for _, record := range records {
		assert.True(t, record.IsDuplicate)
		assert.Equal(t, "matches committed record GRN-9", record.DuplicateReason)
	}
}

func TestInvalidRecordsDoNotClaimKeys(t *testing.T) {
	invalid := receipt(2, "GRN-1", "RM-1")
	invalid.ValidationStatus = domain.ValidationStatusInvalid
	records := []domain.ValidatedRecord{invalid, receipt(3, "GRN-1", "RM-1")}

	_, err := NewDetector(nil, nil).Detect(context.Background(), grnSession(), records)
	require.NoError(t, err)
	assert.False(t, records[0].IsDuplicate)
	assert.False(t, records[1].IsDuplicate)
}

func TestDetectHistoryUnavailable(t *testing.T) {
	records := []domain.ValidatedRecord{receipt(2, "GRN-1", "RM-1")}
	_, err := NewDetector(&stubHistory{err: errors.New("timeout")}, nil).Detect(context.Background(), grnSession(), records)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
