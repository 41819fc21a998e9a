package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/sony/gobreaker/v2"
)

func TestExecuteRetriesUnavailableStore(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, nil)

	attempts := 0
	err := exec.Execute(context.Background(), "ledger.ping", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("dial: %w", domain.ErrStoreUnavailable)
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryCommitConflict(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		BreakerEnabled:      false,
	}, nil)

	attempts := 0
	err := exec.Execute(context.Background(), "ledger.commit", func(context.Context) error {
		attempts++
		return fmt.Errorf("row 4: %w", domain.ErrCommitConflict)
	}, nil)
	if !errors.Is(err, domain.ErrCommitConflict) {
		t.Fatalf("expected commit conflict, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	unavailable := func(context.Context) error {
		return domain.ErrStoreUnavailable
	}
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "ledger.ping", unavailable, nil)
	}

	calls := 0
	err := exec.Execute(context.Background(), "ledger.ping", func(context.Context) error {
		calls++
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected callback to be skipped while open, got %d calls", calls)
	}
}

func TestConflictsDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:   1,
		BreakerEnabled:     true,
		BreakerMinRequests: 1,
		BreakerOpenTimeout: time.Minute,
	}, nil)

	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "ledger.commit", func(context.Context) error {
			return domain.ErrCommitConflict
		}, nil)
	}
	if err := exec.Execute(context.Background(), "ledger.commit", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
}

func breakerConfig() Config {
	return Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func TestRecordErrorsDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(breakerConfig(), nil)

	for i := 0; i < 20; i++ {
		err := exec.Execute(context.Background(), "ledger.commit", func(context.Context) error {
			return fmt.Errorf("row %d: item not found", i+2)
		}, StoreClassifier)
		if err == nil || IsCircuitOpen(err) {
			t.Fatalf("attempt %d: expected record error, got %v", i, err)
		}
	}
	if err := exec.Execute(context.Background(), "ledger.commit", func(context.Context) error { return nil }, StoreClassifier); err != nil {
		t.Fatalf("expected closed circuit, got %v", err)
	}
}

func TestStoreClassifierOnlyRecordsUnavailability(t *testing.T) {
	cases := map[string]struct {
		err    error
		record bool
	}{
		"unavailable": {err: fmt.Errorf("dial: %w", domain.ErrStoreUnavailable), record: true},
		"conflict":    {err: domain.ErrCommitConflict, record: false},
		"invalid":     {err: domain.ErrInvalidInput, record: false},
		"canceled":    {err: context.Canceled, record: false},
		"plain":       {err: errors.New("boom"), record: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := StoreClassifier(tc.err).RecordFailure; got != tc.record {
				t.Fatalf("RecordFailure = %v, want %v", got, tc.record)
			}
		})
	}
}

func TestOperationsShareBreakerByPrefix(t *testing.T) {
	exec := NewExecutor(breakerConfig(), nil)

	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "ledger.ping", func(context.Context) error {
			return domain.ErrStoreUnavailable
		}, StoreClassifier)
	}

	err := exec.Execute(context.Background(), "ledger.commit", func(context.Context) error { return nil }, StoreClassifier)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected ledger.commit to see open ledger breaker, got %v", err)
	}
	if err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error { return nil }, StoreClassifier); err != nil {
		t.Fatalf("expected independent nats breaker, got %v", err)
	}
}
