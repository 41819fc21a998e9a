package staging

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store holds validated sessions pending review.
type Store struct {
	repo   repository.SessionRepository
	logs   repository.ImportLogRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wraps a session repository. logs may be nil.
func NewStore(repo repository.SessionRepository, logs repository.ImportLogRepository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, logs: logs, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Stage moves a validating session to STAGED and persists it together with its records.
// Either the whole batch lands or nothing does.
func (s *Store) Stage(ctx context.Context, session domain.UploadSession, records []domain.ValidatedRecord) (domain.UploadSession, error) {
	if err := session.Transition(domain.SessionStatusStaged, s.now()); err != nil {
		return domain.UploadSession{}, err
	}
	for i := range records {
		records[i].SessionID = session.ID
	}
	session.Recount(records)

	if err := s.repo.Stage(ctx, session, records); err != nil {
		return domain.UploadSession{}, domain.WrapError(domain.ErrStoreUnavailable, "stage session", err)
	}

	s.logger.Info("session staged",
		zap.String("session_id", session.ID.String()),
		zap.String("import_type", string(session.ImportType)),
		zap.Int("total_rows", session.TotalRows),
		zap.Int("invalid", session.InvalidCount),
		zap.Int("duplicates", session.DuplicateCount))
	s.audit(ctx, session, records)
	return session, nil
}

// Load returns the aggregate, verifying the denormalized counts against a recount.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (domain.UploadSession, []domain.ValidatedRecord, error) {
	session, records, err := s.repo.Load(ctx, id)
	if err != nil {
		return domain.UploadSession{}, nil, err
	}
	if recount := domain.CountRecords(records); recount != session.Counts() {
		return domain.UploadSession{}, nil, domain.WrapError(domain.ErrInvalidInput, "load session",
			fmt.Errorf("session %s counts %+v disagree with records %+v", id, session.Counts(), recount))
	}
	return session, records, nil
}

// List returns an organization's sessions, newest first.
func (s *Store) List(ctx context.Context, organizationID uuid.UUID, statuses []domain.SessionStatus, limit, offset int) ([]domain.UploadSession, error) {
	return s.repo.List(ctx, organizationID, statuses, limit, offset)
}

// Archive deletes a session and all of its records. A session being committed cannot be
// archived until the commit finishes.
func (s *Store) Archive(ctx context.Context, id uuid.UUID) error {
	session, _, err := s.repo.Load(ctx, id)
	if err != nil {
		return err
	}
	if session.Status == domain.SessionStatusProcessing {
		return fmt.Errorf("%w: cannot archive session %s while %s", domain.ErrInvalidStateTransition, id, session.Status)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("session archived", zap.String("session_id", id.String()), zap.String("status", string(session.Status)))
	return nil
}

// Logs returns the audit trail of a session.
func (s *Store) Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.ImportLogEntry, error) {
	if s.logs == nil {
		return []domain.ImportLogEntry{}, nil
	}
	return s.logs.List(ctx, id, limit, offset)
}

// audit records one entry per problem row. Failures are logged, never returned.
func (s *Store) audit(ctx context.Context, session domain.UploadSession, records []domain.ValidatedRecord) {
	if s.logs == nil {
		return
	}
	record := func(stage string, row *int, message string) {
		entry := domain.ImportLogEntry{
			SessionID:      session.ID,
			OrganizationID: session.OrganizationID,
			Stage:          stage,
			RowNumber:      row,
			Message:        message,
			CreatedAt:      s.now(),
		}
		if err := s.logs.Record(ctx, entry); err != nil {
			s.logger.Warn("failed to record import log", zap.String("session_id", session.ID.String()), zap.Error(err))
		}
	}

	record("staged", nil, fmt.Sprintf("staged %d rows: %d valid, %d invalid, %d duplicate",
		session.TotalRows, session.ValidCount, session.InvalidCount, session.DuplicateCount))
	for _, r := range records {
		row := r.SourceRowNumber
		for _, msg := range r.ValidationErrors {
			record("validation", &row, msg)
		}
		if r.IsDuplicate {
			record("duplicates", &row, r.DuplicateReason)
		}
	}
}
