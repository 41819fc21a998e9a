package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionEventNamesStatus(t *testing.T) {
	now := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	session := domain.NewUploadSession(uuid.New(), "grn.csv", domain.ImportTypeGRN, now)
	session.Status = domain.SessionStatusCompleted
	session.ProcessedCount = 4
	session.FailedCount = 1

	event := NewSessionEvent(session, now)
	assert.Equal(t, "session.completed", event.Type)
	assert.Equal(t, 4, event.ProcessedCount)
	assert.Equal(t, 1, event.FailedCount)

	p := &NATSPublisher{prefix: "stockimport"}
	assert.Equal(t, "stockimport.session.completed", p.Subject(event))
}

func TestClassifyNATSError(t *testing.T) {
	assert.True(t, classifyNATSError(fmt.Errorf("publish: %w", nats.ErrConnectionClosed)).Retryable)
	assert.False(t, classifyNATSError(context.Canceled).Retryable)
	assert.False(t, classifyNATSError(errors.New("bad subject")).Retryable)

	err := wrapUnavailableIfNeeded(nats.ErrNoServers)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	require.NoError(t, rec.PublishSessionEvent(context.Background(), SessionEvent{Type: "session.completed"}))
	assert.Len(t, rec.Events, 1)

	rec.Err = errors.New("down")
	assert.Error(t, rec.PublishSessionEvent(context.Background(), SessionEvent{}))
	assert.NoError(t, NopPublisher{}.PublishSessionEvent(context.Background(), SessionEvent{}))
}
