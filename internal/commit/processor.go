package commit

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/duplicates"
	"github.com/rpattn/stockimport/internal/events"
	"github.com/rpattn/stockimport/internal/metrics"
	"github.com/rpattn/stockimport/internal/repository"
	"github.com/rpattn/stockimport/internal/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Processor applies approved records of a session to the system of record.
type Processor struct {
	sessions  repository.SessionRepository
	ledger    repository.Ledger
	executor  *resilience.Executor
	publisher events.Publisher
	metrics   *metrics.Pipeline
	logger    *zap.Logger
	now       func() time.Time
}

type Options struct {
	Executor  *resilience.Executor
	Publisher events.Publisher
	Metrics   *metrics.Pipeline
}

func NewProcessor(sessions repository.SessionRepository, ledger repository.Ledger, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	executor := opts.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig(), logger)
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Processor{
		sessions:  sessions,
		ledger:    ledger,
		executor:  executor,
		publisher: publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process commits every approved record of the session. A completed session is returned as
// is. When the system of record cannot be reached the session is marked FAILED and may be
// processed again later; records already applied are never applied twice. A session left
// PROCESSING by an interrupted run is resumed from its first unprocessed record.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) (domain.CommitSummary, error) {
	session, records, err := p.sessions.Load(ctx, id)
	if err != nil {
		return domain.CommitSummary{}, err
	}
	if session.Status == domain.SessionStatusCompleted {
		return domain.SummarizeCommit(session, records), nil
	}

	from := session.Status
	if err := session.Transition(domain.SessionStatusProcessing, p.now()); err != nil {
		return domain.CommitSummary{}, err
	}
	session.Recount(records)
	if err := p.sessions.UpdateSessionStatus(ctx, session, from); err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return domain.CommitSummary{}, err
		}
		return domain.CommitSummary{}, domain.WrapError(domain.ErrStoreUnavailable, "mark session processing", err)
	}
	p.metrics.ObserveTransition(string(session.Status))

	done := p.metrics.CommitStarted()
	defer done()
	started := time.Now()

	if err := p.executor.Execute(ctx, "ledger.ping", p.ledger.Ping, resilience.StoreClassifier); err != nil {
		return domain.CommitSummary{}, p.fail(ctx, &session, records, err)
	}

	processed, failed := 0, 0
	for i := range records {
		record := &records[i]
		if record.ProcessingStatus != domain.ProcessingStatusApproved {
			continue
		}

		movement := domain.MovementFromRecord(session, *record, p.now())
		if key, ok := duplicates.KeyFor(session.ImportType, record.Fields); ok {
			movement.DedupeKey = key
		}

		var committedID uuid.UUID
		err := p.executor.Execute(ctx, "ledger.commit", func(ctx context.Context) error {
			id, err := p.ledger.CommitRecord(ctx, movement)
			if err != nil {
				return err
			}
			committedID = id
			return nil
		}, resilience.StoreClassifier)

		switch {
		case err == nil:
			record.ProcessingStatus = domain.ProcessingStatusProcessed
			record.CommittedID = &committedID
			record.CommitError = ""
			session.ProcessedCount++
			processed++
		case errors.Is(err, domain.ErrStoreUnavailable), resilience.IsCircuitOpen(err),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return domain.CommitSummary{}, p.fail(ctx, &session, records, err)
		default:
			record.ProcessingStatus = domain.ProcessingStatusFailed
			record.CommitError = err.Error()
			session.FailedCount++
			failed++
			p.logger.Warn("record commit failed",
				zap.String("session_id", session.ID.String()),
				zap.Int("row", record.SourceRowNumber),
				zap.Error(err))
		}

		session.UpdatedAt = p.now()
		if err := p.sessions.SaveRecordOutcome(ctx, session, *record); err != nil {
			if errors.Is(err, domain.ErrInvalidStateTransition) {
				return domain.CommitSummary{}, err
			}
			return domain.CommitSummary{}, p.fail(ctx, &session, records, err)
		}
	}

	completed := session
	completed.Recount(records)
	if err := completed.Transition(domain.SessionStatusCompleted, p.now()); err != nil {
		return domain.CommitSummary{}, err
	}
	if err := p.sessions.UpdateSessionStatus(ctx, completed, domain.SessionStatusProcessing); err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return domain.CommitSummary{}, err
		}
		return domain.CommitSummary{}, p.fail(ctx, &session, records, domain.WrapError(domain.ErrStoreUnavailable, "mark session completed", err))
	}
	session = completed

	p.metrics.ObserveTransition(string(session.Status))
	p.metrics.ObserveCommit(string(session.ImportType), processed, failed)
	p.metrics.ObserveStage("commit", time.Since(started))
	p.publish(ctx, session)

	p.logger.Info("session committed",
		zap.String("session_id", session.ID.String()),
		zap.Int("processed", session.ProcessedCount),
		zap.Int("failed", session.FailedCount))
	return domain.SummarizeCommit(session, records), nil
}

// fail marks the session FAILED and returns the unavailability error for the caller.
func (p *Processor) fail(ctx context.Context, session *domain.UploadSession, records []domain.ValidatedRecord, cause error) error {
	from := session.Status
	session.Recount(records)
	if err := session.Fail(cause, p.now()); err != nil {
		return err
	}
	// The request context may already be done; the failure still has to be recorded.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.sessions.UpdateSessionStatus(saveCtx, *session, from); err != nil {
		p.logger.Error("failed to record session failure",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
	p.metrics.ObserveTransition(string(session.Status))
	p.publish(saveCtx, *session)

	p.logger.Error("session commit failed",
		zap.String("session_id", session.ID.String()),
		zap.Error(cause))
	if domain.IsKind(cause, domain.ErrStoreUnavailable) {
		return cause
	}
	return domain.WrapError(domain.ErrStoreUnavailable, "commit session", cause)
}

func (p *Processor) publish(ctx context.Context, session domain.UploadSession) {
	if err := p.publisher.PublishSessionEvent(ctx, events.NewSessionEvent(session, p.now())); err != nil {
		p.logger.Warn("failed to publish session event",
			zap.String("session_id", session.ID.String()),
			zap.String("status", string(session.Status)),
			zap.Error(err))
	}
}
