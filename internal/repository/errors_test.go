package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyStoreError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"connection failure", &pgconn.PgError{Code: "08006", Message: "connection failure"}, domain.ErrStoreUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: "57P01", Message: "terminating connection"}, domain.ErrStoreUnavailable},
		{"too many connections", &pgconn.PgError{Code: "53300", Message: "too many clients"}, domain.ErrStoreUnavailable},
		{"not null", &pgconn.PgError{Code: "23502", Message: "null value in column"}, domain.ErrCommitConflict},
		{"foreign key", &pgconn.PgError{Code: "23503", Message: "violates foreign key"}, domain.ErrCommitConflict},
		{"numeric overflow", &pgconn.PgError{Code: "22003", Message: "numeric field overflow"}, domain.ErrCommitConflict},
		{"serialization", &pgconn.PgError{Code: "40001", Message: "could not serialize"}, domain.ErrCommitConflict},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, domain.ErrStoreUnavailable},
		{"deadline", fmt.Errorf("insert stock movement: %w", context.DeadlineExceeded), domain.ErrStoreUnavailable},
		{"eof", fmt.Errorf("lock item balance: %w", io.ErrUnexpectedEOF), domain.ErrStoreUnavailable},
		{"negative stock", fmt.Errorf("%w: RM-1 would go negative", domain.ErrCommitConflict), domain.ErrCommitConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyStoreError(tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyStoreError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyStoreErrorKeepsOtherErrors(t *testing.T) {
	plain := errors.New("scan import record: unexpected type")
	got := classifyStoreError(plain)
	if errors.Is(got, domain.ErrStoreUnavailable) || errors.Is(got, domain.ErrCommitConflict) {
		t.Fatalf("expected unclassified error, got %v", got)
	}
	if got := classifyStoreError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"}); errors.Is(got, domain.ErrCommitConflict) {
		t.Fatalf("undefined table must not be a record conflict, got %v", got)
	}
	if got := classifyStoreError(context.Canceled); !errors.Is(got, context.Canceled) || errors.Is(got, domain.ErrStoreUnavailable) {
		t.Fatalf("expected cancellation to pass through, got %v", got)
	}
	if classifyStoreError(nil) != nil {
		t.Fatal("expected nil")
	}
}
