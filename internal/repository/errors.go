package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// classifyStoreError maps driver failures onto the domain error kinds the commit path acts
// on: ErrStoreUnavailable for a lost or refused connection, ErrCommitConflict for a
// statement the database rejected because of the row's data. Anything else is returned
// unchanged.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrCommitConflict) ||
		errors.Is(err, domain.ErrStoreUnavailable) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %s", domain.ErrCommitConflict, pgErr.Message)
		case pgErr.Code == "53300":
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		switch pgErr.Code[:min(2, len(pgErr.Code))] {
		case "22", "23":
			return fmt.Errorf("%w: %s", domain.ErrCommitConflict, pgErr.Message)
		case "08", "57":
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.SafeToRetry(err),
		errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
