package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision is the outcome of an approval gate call.
type Decision struct {
	Session       domain.UploadSession `json:"session"`
	ApprovedCount int                  `json:"approved_count"`
	RejectedCount int                  `json:"rejected_count"`
}

// Gate moves staged sessions to approved or rejected.
type Gate struct {
	repo   repository.SessionRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewGate creates an approval gate over the session repository.
func NewGate(repo repository.SessionRepository, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Approve approves a staged session. Committable records become approved and the rest are
// rejected so they can never reach the system of record.
func (g *Gate) Approve(ctx context.Context, id uuid.UUID, approver string, notes string) (Decision, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return Decision{}, fmt.Errorf("%w: approver is required", domain.ErrInvalidInput)
	}

	session, records, err := g.repo.Load(ctx, id)
	if err != nil {
		return Decision{}, err
	}

	now := g.now()
	from := session.Status
	if err := session.Transition(domain.SessionStatusApproved, now); err != nil {
		return Decision{}, err
	}
	session.ApprovedBy = approver
	session.ApprovalNotes = strings.TrimSpace(notes)
	session.ApprovedAt = &now

	decision := Decision{}
	for i := range records {
		if records[i].Committable() {
			records[i].ProcessingStatus = domain.ProcessingStatusApproved
			decision.ApprovedCount++
		} else {
			records[i].ProcessingStatus = domain.ProcessingStatusRejected
			decision.RejectedCount++
		}
	}
	session.Recount(records)

	if err := g.repo.SaveApproval(ctx, session, from, records); err != nil {
		return Decision{}, saveError("save approval", err)
	}
	decision.Session = session

	g.logger.Info("session approved",
		zap.String("session_id", id.String()),
		zap.String("approver", approver),
		zap.Int("approved", decision.ApprovedCount),
		zap.Int("rejected", decision.RejectedCount))
	return decision, nil
}

// Reject rejects a staged session. No record of a rejected session is ever committed.
func (g *Gate) Reject(ctx context.Context, id uuid.UUID, approver string, reason string) (Decision, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return Decision{}, fmt.Errorf("%w: approver is required", domain.ErrInvalidInput)
	}

	session, records, err := g.repo.Load(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	from := session.Status
	if err := session.Transition(domain.SessionStatusRejected, g.now()); err != nil {
		return Decision{}, err
	}
	session.ApprovedBy = approver
	session.RejectedReason = strings.TrimSpace(reason)

	for i := range records {
		records[i].ProcessingStatus = domain.ProcessingStatusRejected
	}
	session.Recount(records)

	if err := g.repo.SaveApproval(ctx, session, from, records); err != nil {
		return Decision{}, saveError("save rejection", err)
	}

	g.logger.Info("session rejected",
		zap.String("session_id", id.String()),
		zap.String("approver", approver),
		zap.String("reason", session.RejectedReason))
	return Decision{Session: session, RejectedCount: len(records)}, nil
}

// saveError keeps a lost race visible as a state conflict rather than an outage.
func saveError(operation string, err error) error {
	if errors.Is(err, domain.ErrInvalidStateTransition) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return domain.WrapError(domain.ErrStoreUnavailable, operation, err)
}
