package duplicates

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository"

	"go.uber.org/zap"
)

const keySeparator = "|"

// KeyFor returns the composite duplicate key of a record. ok is false when any key part is
// missing, in which case the record does not take part in duplicate detection.
func KeyFor(importType domain.ImportType, fields domain.RecordFields) (string, bool) {
	var parts []string
	switch importType {
	case domain.ImportTypeOpeningStock:
		warehouse := fields.Warehouse
		if warehouse == "" {
			warehouse = domain.DefaultWarehouse
		}
		parts = []string{fields.ItemCode, warehouse, fields.BatchNumber}
		if strings.TrimSpace(fields.ItemCode) == "" {
			return "", false
		}
	default:
		if fields.Date.IsZero() {
			return "", false
		}
		parts = []string{fields.DocumentNumber, fields.ItemCode, fields.Date.Format("2006-01-02")}
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				return "", false
			}
		}
	}
	for i, part := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(part))
	}
	return strings.Join(parts, keySeparator), true
}

// Index groups a session's records by duplicate key.
type Index struct {
	rows map[string][]int
}

// Conflicts returns the source row numbers of every record sharing key, in input order.
func (i Index) Conflicts(key string) []int {
	return append([]int(nil), i.rows[key]...)
}

// Keys returns the keys shared by more than one record, sorted.
func (i Index) Keys() []string {
	keys := []string{}
	for key, rows := range i.rows {
		if len(rows) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Detector flags records duplicated within a session or against committed history.
type Detector struct {
	history repository.CommittedKeyRepository
	logger  *zap.Logger
}

// NewDetector creates a detector. A nil history repository limits detection to the session.
func NewDetector(history repository.CommittedKeyRepository, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{history: history, logger: logger}
}

// Detect marks duplicates in place and returns the in-session index. Committed history takes
// precedence over an earlier row of the same upload. Records are never dropped.
func (d *Detector) Detect(ctx context.Context, session domain.UploadSession, records []domain.ValidatedRecord) (Index, error) {
	index := Index{rows: map[string][]int{}}
	keys := make([]string, len(records))
	first := map[string]int{}
	ordered := []string{}

	for i := range records {
		if records[i].ValidationStatus == domain.ValidationStatusInvalid {
			continue
		}
		key, ok := KeyFor(session.ImportType, records[i].Fields)
		if !ok {
			continue
		}
		keys[i] = key
		index.rows[key] = append(index.rows[key], records[i].SourceRowNumber)
		if _, seen := first[key]; !seen {
			first[key] = records[i].SourceRowNumber
			ordered = append(ordered, key)
		}
	}

	committed := map[string]string{}
	if d.history != nil && len(ordered) > 0 {
		existing, err := d.history.QueryExistingKeys(ctx, session.OrganizationID, session.ImportType, ordered)
		if err != nil {
			return Index{}, domain.WrapError(domain.ErrStoreUnavailable, "query committed keys", err)
		}
		committed = existing
	}

	flagged := 0
	for i := range records {
		key := keys[i]
		if key == "" {
			continue
		}
		if reference, ok := committed[key]; ok {
			records[i].MarkDuplicate(fmt.Sprintf("matches committed record %s", reference))
			flagged++
			continue
		}
		if row := first[key]; row != records[i].SourceRowNumber {
			records[i].MarkDuplicate(fmt.Sprintf("matches row %d", row))
			flagged++
		}
	}

	if flagged > 0 {
		d.logger.Info("duplicates flagged",
			zap.String("session_id", session.ID.String()),
			zap.Int("count", flagged),
			zap.Int("committed_matches", len(committed)))
	}
	return index, nil
}
