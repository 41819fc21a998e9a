package commit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/events"
	"github.com/rpattn/stockimport/internal/metrics"
	"github.com/rpattn/stockimport/internal/repository/memory"
	"github.com/rpattn/stockimport/internal/resilience"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
		BreakerEnabled:      false,
	}, nil)
}

func approvedSession(t *testing.T, store *memory.Store, importType domain.ImportType, rows int) domain.UploadSession {
	t.Helper()
	now := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	session := domain.NewUploadSession(uuid.New(), "grn.csv", importType, now)
	session.Status = domain.SessionStatusStaged

	records := make([]domain.ValidatedRecord, 0, rows+1)
	for i := 0; i < rows; i++ {
		records = append(records, domain.ValidatedRecord{
			ID:               uuid.New(),
			SessionID:        session.ID,
			SourceRowNumber:  i + 2,
			ValidationStatus: domain.ValidationStatusValid,
			ProcessingStatus: domain.ProcessingStatusApproved,
			Fields: domain.RecordFields{
				DocumentNumber: fmt.Sprintf("GRN-%d", i+1),
				ItemCode:       "RM-1",
				Quantity:       decimal.NewFromInt(10),
				UnitRate:       decimal.NewFromInt(5),
				Date:           now,
			},
		})
	}
	records = append(records, domain.ValidatedRecord{
		ID:               uuid.New(),
		SessionID:        session.ID,
		SourceRowNumber:  rows + 2,
		ValidationStatus: domain.ValidationStatusInvalid,
		ValidationErrors: []string{"quantity is required"},
		ProcessingStatus: domain.ProcessingStatusRejected,
	})
	session.Recount(records)
	require.NoError(t, store.Stage(context.Background(), session, records))

	approvedAt := now
	session.Status = domain.SessionStatusApproved
	session.ApprovedBy = "alice"
	session.ApprovedAt = &approvedAt
	require.NoError(t, store.UpdateSessionStatus(context.Background(), session, domain.SessionStatusStaged))
	return session
}

func breakerExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         1,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)
}

// countCheckingStore verifies after every record write that the stored counters still
// match a recount of the stored records.
type countCheckingStore struct {
	*memory.Store
	t      *testing.T
	writes int
}

func (s *countCheckingStore) SaveRecordOutcome(ctx context.Context, session domain.UploadSession, record domain.ValidatedRecord) error {
	if err := s.Store.SaveRecordOutcome(ctx, session, record); err != nil {
		return err
	}
	s.writes++
	stored, records, err := s.Store.Load(ctx, session.ID)
	require.NoError(s.t, err)
	assert.Equal(s.t, domain.CountRecords(records), stored.Counts(), "after write %d", s.writes)
	return nil
}

func TestProcessCommitsApprovedRecords(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeGRN, 3)
	recorder := &events.Recorder{}
	processor := NewProcessor(store, store, Options{
		Executor:  fastExecutor(),
		Publisher: recorder,
		Metrics:   metrics.NewPipeline(),
	}, nil)

	summary, err := processor.Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.ProcessedCount)
	assert.Equal(t, 0, summary.FailedCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Empty(t, summary.Failures)

	movements := store.Movements()
	require.Len(t, movements, 3)
	assert.Equal(t, "grn-1|rm-1|2024-04-01", movements[0].DedupeKey)

	balance, err := store.Balance(context.Background(), session.OrganizationID, "RM-1", domain.DefaultWarehouse)
	require.NoError(t, err)
	assert.True(t, balance.OnHand.Equal(decimal.NewFromInt(30)), balance.OnHand.String())
	assert.True(t, balance.StockValue.Equal(decimal.NewFromInt(150)), balance.StockValue.String())

	stored, records, err := store.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.ProcessedCount)
	require.NotNil(t, stored.CompletedAt)
	for _, record := range records[:3] {
		assert.Equal(t, domain.ProcessingStatusProcessed, record.ProcessingStatus)
		require.NotNil(t, record.CommittedID)
	}
	assert.Equal(t, domain.ProcessingStatusRejected, records[3].ProcessingStatus)

	require.Len(t, recorder.Events, 1)
	assert.Equal(t, "session.completed", recorder.Events[0].Type)
}

func TestProcessContinuesPastRecordFailures(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeGRN, 5)
	store.FailCommit(4, fmt.Errorf("%w: item RM-1 is blocked", domain.ErrCommitConflict))

	summary, err := NewProcessor(store, store, Options{Executor: fastExecutor()}, nil).Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.ProcessedCount)
	assert.Equal(t, 1, summary.FailedCount)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 4, summary.Failures[0].SourceRowNumber)
	assert.Contains(t, summary.Failures[0].Reason, "blocked")
	assert.Len(t, store.Movements(), 4)

	stored, _, err := store.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.ProcessedCount)
	assert.Equal(t, 1, stored.FailedCount)
}

func TestProcessIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeGRN, 3)
	processor := NewProcessor(store, store, Options{Executor: fastExecutor()}, nil)

	first, err := processor.Process(context.Background(), session.ID)
	require.NoError(t, err)
	second, err := processor.Process(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, store.Movements(), 3)
}

func TestProcessRejectsUnapprovedSession(t *testing.T) {
	store := memory.NewStore()
	session := domain.NewUploadSession(uuid.New(), "grn.csv", domain.ImportTypeGRN, time.Now())
	session.Status = domain.SessionStatusStaged
	require.NoError(t, store.Stage(context.Background(), session, nil))

	_, err := NewProcessor(store, store, Options{Executor: fastExecutor()}, nil).Process(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Empty(t, store.Movements())
}

func TestProcessMarksSessionFailedWhenLedgerUnavailable(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeGRN, 3)
	recorder := &events.Recorder{}
	processor := NewProcessor(store, store, Options{Executor: fastExecutor(), Publisher: recorder}, nil)

	store.SetUnavailable(true)
	_, err := processor.Process(context.Background(), session.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))

	stored, records, err := store.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)
	assert.Empty(t, store.Movements())
	assert.Equal(t, domain.ProcessingStatusApproved, records[0].ProcessingStatus)
	require.Len(t, recorder.Events, 1)
	assert.Equal(t, "session.failed", recorder.Events[0].Type)

	store.SetUnavailable(false)
	summary, err := processor.Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.ProcessedCount)
	assert.Len(t, store.Movements(), 3)
}

func TestProcessSalesCannotDriveStockNegative(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeSales, 2)
	store.SetBalance(domain.ItemBalance{
		OrganizationID: session.OrganizationID,
		ItemCode:       "RM-1",
		Warehouse:      domain.DefaultWarehouse,
		OnHand:         decimal.NewFromInt(15),
		StockValue:     decimal.NewFromInt(75),
		AverageRate:    decimal.NewFromInt(5),
	})

	summary, err := NewProcessor(store, store, Options{Executor: fastExecutor()}, nil).Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Contains(t, summary.Failures[0].Reason, domain.ErrCommitConflict.Error())

	balance, err := store.Balance(context.Background(), session.OrganizationID, "RM-1", domain.DefaultWarehouse)
	require.NoError(t, err)
	assert.True(t, balance.OnHand.Equal(decimal.NewFromInt(5)), balance.OnHand.String())
}

func TestBreakerStaysClosedThroughRecordFailures(t *testing.T) {
	store := memory.NewStore()
	executor := breakerExecutor()
	processor := NewProcessor(store, store, Options{Executor: executor}, nil)

	bad := approvedSession(t, store, domain.ImportTypeGRN, 10)
	for row := 2; row <= 7; row++ {
		store.FailCommit(row, errors.New("item master row locked by another import"))
	}

	summary, err := processor.Process(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 4, summary.ProcessedCount)
	assert.Equal(t, 6, summary.FailedCount)

	stored, _, err := store.Load(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.ProcessedCount)
	assert.Equal(t, 6, stored.FailedCount)

	good := approvedSession(t, store, domain.ImportTypeGRN, 3)
	summary, err = processor.Process(context.Background(), good.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.ProcessedCount)
}

func TestProcessKeepsCountsConsistentWhileCommitting(t *testing.T) {
	store := &countCheckingStore{Store: memory.NewStore(), t: t}
	session := approvedSession(t, store.Store, domain.ImportTypeGRN, 4)
	store.FailCommit(3, fmt.Errorf("%w: item RM-1 is blocked", domain.ErrCommitConflict))

	summary, err := NewProcessor(store, store, Options{Executor: breakerExecutor()}, nil).Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ProcessedCount)
	assert.Equal(t, 1, summary.FailedCount)
	assert.Equal(t, 4, store.writes)
}

func TestProcessResumesAfterCompletedWriteFails(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeGRN, 3)
	processor := NewProcessor(store, store, Options{Executor: breakerExecutor()}, nil)

	store.FailSessionWrite(domain.SessionStatusCompleted, errors.New("connection reset by peer"))
	_, err := processor.Process(context.Background(), session.ID)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	stored, records, err := store.Load(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.ProcessedCount)
	assert.Equal(t, domain.CountRecords(records), stored.Counts())

	store.FailSessionWrite(domain.SessionStatusCompleted, nil)
	summary, err := processor.Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.ProcessedCount)
	assert.Len(t, store.Movements(), 3)

	balance, err := store.Balance(context.Background(), session.OrganizationID, "RM-1", domain.DefaultWarehouse)
	require.NoError(t, err)
	assert.True(t, balance.OnHand.Equal(decimal.NewFromInt(30)), balance.OnHand.String())
}

func TestProcessResumesInterruptedSession(t *testing.T) {
	store := memory.NewStore()
	session := approvedSession(t, store, domain.ImportTypeGRN, 3)

	session.Status = domain.SessionStatusProcessing
	require.NoError(t, store.UpdateSessionStatus(context.Background(), session, domain.SessionStatusApproved))

	summary, err := NewProcessor(store, store, Options{Executor: breakerExecutor()}, nil).Process(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.ProcessedCount)
	assert.Len(t, store.Movements(), 3)
}
