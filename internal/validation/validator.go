package validation

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MasterData resolves item codes in bulk. Missing codes are simply absent from the result.
type MasterData interface {
	Items(ctx context.Context, codes []string) (map[string]domain.Item, error)
}

// Validator applies the import type's rule set to every row of an upload.
type Validator struct {
	policy            Policy
	parallelThreshold int
	logger            *zap.Logger
}

// NewValidator creates a validator. Rows are validated concurrently once an upload reaches
// parallelThreshold rows; zero keeps validation sequential.
func NewValidator(policy Policy, parallelThreshold int, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{policy: policy, parallelThreshold: parallelThreshold, logger: logger}
}

// Policy returns the thresholds in use.
func (v *Validator) Policy() Policy {
	return v.policy
}

// RuleSet returns the rules applied to a session's rows.
func (v *Validator) RuleSet(session domain.UploadSession, lookups Lookups) RuleSet {
	set := RuleSetFor(session.ImportType, v.policy, lookups)
	if session.PeriodStart != nil || session.PeriodEnd != nil {
		set = set.With(domain.FieldDate, Period(session.PeriodStart, session.PeriodEnd))
	}
	return set
}

// ValidateAll validates rows in input order. Master data is fetched once for the whole
// upload; record-level problems are attached to records, never returned as errors.
func (v *Validator) ValidateAll(ctx context.Context, session domain.UploadSession, rows []domain.RawRow, master MasterData) ([]domain.ValidatedRecord, error) {
	lookups := Lookups{Items: map[string]domain.Item{}}
	if master != nil {
		codes := make([]string, 0, len(rows))
		for _, row := range rows {
			if cell := row.Cell(domain.FieldItemCode); !cell.IsNull() {
				codes = append(codes, domain.NormalizeItemCode(cell.Text))
			}
		}
		items, err := master.Items(ctx, codes)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "load master data", err)
		}
		lookups.Items = items
	}

	set := v.RuleSet(session, lookups)
	records := make([]domain.ValidatedRecord, len(rows))
	validateOne := func(i int) {
		record := Validate(set, rows[i])
		record.ID = uuid.New()
		record.SessionID = session.ID
		records[i] = record
	}

	if v.parallelThreshold <= 0 || len(rows) < v.parallelThreshold {
		for i := range rows {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			validateOne(i)
		}
		return records, nil
	}

	workers := runtime.GOMAXPROCS(0)
	chunk := (len(rows) + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(rows); start += chunk {
		start := start
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				validateOne(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("validate rows: %w", err)
	}
	v.logger.Debug("validated rows in parallel",
		zap.Int("rows", len(rows)),
		zap.Int("workers", workers))
	return records, nil
}
