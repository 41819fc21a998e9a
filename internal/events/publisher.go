package events

import (
	"context"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
)

// SessionEvent announces a session lifecycle change to downstream consumers.
type SessionEvent struct {
	Type           string               `json:"type"`
	SessionID      uuid.UUID            `json:"session_id"`
	OrganizationID uuid.UUID            `json:"organization_id"`
	ImportType     domain.ImportType    `json:"import_type"`
	Status         domain.SessionStatus `json:"status"`
	TotalRows      int                  `json:"total_rows"`
	ProcessedCount int                  `json:"processed_count"`
	FailedCount    int                  `json:"failed_count"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// Publisher delivers session events. Delivery is best effort and never blocks a commit.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}

// NewSessionEvent builds an event named after the session's current status.
func NewSessionEvent(session domain.UploadSession, now time.Time) SessionEvent {
	return SessionEvent{
		Type:           "session." + lowerStatus(session.Status),
		SessionID:      session.ID,
		OrganizationID: session.OrganizationID,
		ImportType:     session.ImportType,
		Status:         session.Status,
		TotalRows:      session.TotalRows,
		ProcessedCount: session.ProcessedCount,
		FailedCount:    session.FailedCount,
		OccurredAt:     now,
	}
}

func lowerStatus(status domain.SessionStatus) string {
	out := []byte(status)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + ('a' - 'A')
		}
	}
	return string(out)
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishSessionEvent(context.Context, SessionEvent) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	Events []SessionEvent
	Err    error
}

func (r *Recorder) PublishSessionEvent(_ context.Context, event SessionEvent) error {
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, event)
	return nil
}
