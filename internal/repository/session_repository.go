package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/stockimport/internal/db"
	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type sessionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewSessionRepository wires a staging store backed by pgxpool.
func NewSessionRepository(pool *pgxpool.Pool, logger *zap.Logger) SessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sessionRepository{pool: pool, logger: logger}
}

const sessionColumns = `id, organization_id, file_name, import_type, period_start, period_end, status,
	total_rows, valid_count, warning_count, invalid_count, duplicate_count, processed_count, failed_count,
	column_mapping, quality, uploaded_by, approved_by, approval_notes, approved_at, rejected_reason,
	error_message, created_at, updated_at, completed_at`

const recordColumns = `id, session_id, source_row_number, raw_values, fields, validation_status,
	validation_errors, validation_warnings, is_duplicate, duplicate_reason, processing_status,
	commit_error, committed_id`

func (r *sessionRepository) Stage(ctx context.Context, session domain.UploadSession, records []domain.ValidatedRecord) error {
	if r.pool == nil {
		return fmt.Errorf("session repository not initialized")
	}

	mappingJSON, err := json.Marshal(session.ColumnMapping)
	if err != nil {
		return fmt.Errorf("marshal column mapping: %w", err)
	}
	qualityJSON, err := json.Marshal(session.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality metrics: %w", err)
	}

	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO import_sessions (`+sessionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
			session.ID,
			session.OrganizationID,
			session.FileName,
			string(session.ImportType),
			toPGDate(session.PeriodStart),
			toPGDate(session.PeriodEnd),
			string(session.Status),
			session.TotalRows,
			session.ValidCount,
			session.WarningCount,
			session.InvalidCount,
			session.DuplicateCount,
			session.ProcessedCount,
			session.FailedCount,
			mappingJSON,
			qualityJSON,
			toPGText(session.UploadedBy),
			toPGText(session.ApprovedBy),
			toPGText(session.ApprovalNotes),
			toPGTimestamptz(session.ApprovedAt),
			toPGText(session.RejectedReason),
			toPGText(session.ErrorMessage),
			session.CreatedAt,
			session.UpdatedAt,
			toPGTimestamptz(session.CompletedAt),
		); err != nil {
			return fmt.Errorf("insert import session: %w", err)
		}

		if len(records) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, record := range records {
			valuesJSON, err := json.Marshal(record.Values)
			if err != nil {
				return fmt.Errorf("marshal row %d values: %w", record.SourceRowNumber, err)
			}
			fieldsJSON, err := json.Marshal(record.Fields)
			if err != nil {
				return fmt.Errorf("marshal row %d fields: %w", record.SourceRowNumber, err)
			}
			batch.Queue(
				`INSERT INTO import_records (`+recordColumns+`)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				record.ID,
				session.ID,
				record.SourceRowNumber,
				valuesJSON,
				fieldsJSON,
				string(record.ValidationStatus),
				nonNilStrings(record.ValidationErrors),
				nonNilStrings(record.ValidationWarnings),
				record.IsDuplicate,
				toPGText(record.DuplicateReason),
				string(record.ProcessingStatus),
				toPGText(record.CommitError),
				toPGUUID(record.CommittedID),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert import record: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("close record batch: %w", err)
		}
		return nil
	})
}

func (r *sessionRepository) Load(ctx context.Context, id uuid.UUID) (domain.UploadSession, []domain.ValidatedRecord, error) {
	if r.pool == nil {
		return domain.UploadSession{}, nil, fmt.Errorf("session repository not initialized")
	}

	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM import_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UploadSession{}, nil, fmt.Errorf("load session %s: %w", id, domain.ErrSessionNotFound)
		}
		return domain.UploadSession{}, nil, fmt.Errorf("load session %s: %w", id, err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM import_records WHERE session_id = $1 ORDER BY source_row_number`,
		id,
	)
	if err != nil {
		return domain.UploadSession{}, nil, fmt.Errorf("load records for session %s: %w", id, err)
	}
	defer rows.Close()

	records := []domain.ValidatedRecord{}
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return domain.UploadSession{}, nil, scanErr
		}
		records = append(records, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return domain.UploadSession{}, nil, fmt.Errorf("iterate import records: %w", rowsErr)
	}

	return session, records, nil
}

func (r *sessionRepository) List(ctx context.Context, organizationID uuid.UUID, statuses []domain.SessionStatus, limit int, offset int) ([]domain.UploadSession, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("session repository not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	statusValues := make([]string, len(statuses))
	for i, status := range statuses {
		statusValues[i] = string(status)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM import_sessions
		 WHERE organization_id = $1
		   AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		organizationID,
		statusValues,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list import sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.UploadSession{}
	for rows.Next() {
		session, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan import session: %w", scanErr)
		}
		sessions = append(sessions, session)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate import sessions: %w", rowsErr)
	}
	return sessions, nil
}

func (r *sessionRepository) SaveApproval(ctx context.Context, session domain.UploadSession, from domain.SessionStatus, records []domain.ValidatedRecord) error {
	if r.pool == nil {
		return fmt.Errorf("session repository not initialized")
	}
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		if err := updateSession(ctx, tx, session, from); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, record := range records {
			batch.Queue(
				`UPDATE import_records SET processing_status = $2 WHERE id = $1`,
				record.ID,
				string(record.ProcessingStatus),
			)
		}
		results := tx.SendBatch(ctx, batch)
		for range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("update record processing status: %w", err)
			}
		}
		return results.Close()
	})
}

func (r *sessionRepository) UpdateSessionStatus(ctx context.Context, session domain.UploadSession, from domain.SessionStatus) error {
	if r.pool == nil {
		return fmt.Errorf("session repository not initialized")
	}
	return updateSession(ctx, r.pool, session, from)
}

func (r *sessionRepository) SaveRecordOutcome(ctx context.Context, session domain.UploadSession, record domain.ValidatedRecord) error {
	if r.pool == nil {
		return fmt.Errorf("session repository not initialized")
	}
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE import_records
			 SET processing_status = $3, commit_error = $4, committed_id = $5
			 WHERE id = $1 AND session_id = $2`,
			record.ID,
			session.ID,
			string(record.ProcessingStatus),
			toPGText(record.CommitError),
			toPGUUID(record.CommittedID),
		)
		if err != nil {
			return fmt.Errorf("update import record %s: %w", record.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update import record %s: %w", record.ID, domain.ErrSessionNotFound)
		}

		tag, err = tx.Exec(ctx,
			`UPDATE import_sessions
			 SET processed_count = $2, failed_count = $3, updated_at = $4
			 WHERE id = $1 AND status = $5`,
			session.ID,
			session.ProcessedCount,
			session.FailedCount,
			session.UpdatedAt,
			string(domain.SessionStatusProcessing),
		)
		if err != nil {
			return fmt.Errorf("update import session %s counters: %w", session.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return sessionConflict(ctx, tx, session.ID, domain.SessionStatusProcessing)
		}
		return nil
	})
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if r.pool == nil {
		return fmt.Errorf("session repository not initialized")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM import_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete import session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete import session %s: %w", id, domain.ErrSessionNotFound)
	}
	return nil
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateSession(ctx context.Context, q pgxQuerier, session domain.UploadSession, from domain.SessionStatus) error {
	qualityJSON, err := json.Marshal(session.Quality)
	if err != nil {
		return fmt.Errorf("marshal quality metrics: %w", err)
	}
	tag, err := q.Exec(ctx,
		`UPDATE import_sessions SET
			status = $2,
			valid_count = $3,
			warning_count = $4,
			invalid_count = $5,
			duplicate_count = $6,
			processed_count = $7,
			failed_count = $8,
			quality = $9,
			approved_by = $10,
			approval_notes = $11,
			approved_at = $12,
			rejected_reason = $13,
			error_message = $14,
			updated_at = $15,
			completed_at = $16
		 WHERE id = $1 AND status = $17`,
		session.ID,
		string(session.Status),
		session.ValidCount,
		session.WarningCount,
		session.InvalidCount,
		session.DuplicateCount,
		session.ProcessedCount,
		session.FailedCount,
		qualityJSON,
		toPGText(session.ApprovedBy),
		toPGText(session.ApprovalNotes),
		toPGTimestamptz(session.ApprovedAt),
		toPGText(session.RejectedReason),
		toPGText(session.ErrorMessage),
		session.UpdatedAt,
		toPGTimestamptz(session.CompletedAt),
		string(from),
	)
	if err != nil {
		return fmt.Errorf("update import session %s: %w", session.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return sessionConflict(ctx, q, session.ID, from)
	}
	return nil
}

// sessionConflict explains a conditional update that matched no row.
func sessionConflict(ctx context.Context, q pgxQuerier, id uuid.UUID, expected domain.SessionStatus) error {
	var current string
	err := q.QueryRow(ctx, `SELECT status FROM import_sessions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update import session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("read import session %s status: %w", id, err)
	}
	return fmt.Errorf("update import session %s: status is %s, expected %s: %w",
		id, current, expected, domain.ErrInvalidStateTransition)
}

func scanSession(row pgx.Row) (domain.UploadSession, error) {
	var (
		session        domain.UploadSession
		importType     string
		status         string
		periodStart    pgtype.Date
		periodEnd      pgtype.Date
		mappingJSON    []byte
		qualityJSON    []byte
		uploadedBy     pgtype.Text
		approvedBy     pgtype.Text
		approvalNotes  pgtype.Text
		approvedAt     pgtype.Timestamptz
		rejectedReason pgtype.Text
		errorMessage   pgtype.Text
		createdAt      time.Time
		updatedAt      time.Time
		completedAt    pgtype.Timestamptz
	)
	if err := row.Scan(
		&session.ID,
		&session.OrganizationID,
		&session.FileName,
		&importType,
		&periodStart,
		&periodEnd,
		&status,
		&session.TotalRows,
		&session.ValidCount,
		&session.WarningCount,
		&session.InvalidCount,
		&session.DuplicateCount,
		&session.ProcessedCount,
		&session.FailedCount,
		&mappingJSON,
		&qualityJSON,
		&uploadedBy,
		&approvedBy,
		&approvalNotes,
		&approvedAt,
		&rejectedReason,
		&errorMessage,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return domain.UploadSession{}, err
	}

	session.ImportType = domain.ImportType(importType)
	session.Status = domain.SessionStatus(status)
	session.PeriodStart = fromPGDate(periodStart)
	session.PeriodEnd = fromPGDate(periodEnd)
	session.UploadedBy = uploadedBy.String
	session.ApprovedBy = approvedBy.String
	session.ApprovalNotes = approvalNotes.String
	session.ApprovedAt = fromPGTimestamptz(approvedAt)
	session.RejectedReason = rejectedReason.String
	session.ErrorMessage = errorMessage.String
	session.CreatedAt = createdAt
	session.UpdatedAt = updatedAt
	session.CompletedAt = fromPGTimestamptz(completedAt)

	session.ColumnMapping = map[string]string{}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &session.ColumnMapping); err != nil {
			return domain.UploadSession{}, fmt.Errorf("decode column mapping: %w", err)
		}
	}
	if len(qualityJSON) > 0 {
		if err := json.Unmarshal(qualityJSON, &session.Quality); err != nil {
			return domain.UploadSession{}, fmt.Errorf("decode quality metrics: %w", err)
		}
	}
	return session, nil
}

func scanRecord(row pgx.Row) (domain.ValidatedRecord, error) {
	var (
		record           domain.ValidatedRecord
		valuesJSON       []byte
		fieldsJSON       []byte
		validationStatus string
		duplicateReason  pgtype.Text
		processingStatus string
		commitError      pgtype.Text
		committedID      pgtype.UUID
	)
	if err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.SourceRowNumber,
		&valuesJSON,
		&fieldsJSON,
		&validationStatus,
		&record.ValidationErrors,
		&record.ValidationWarnings,
		&record.IsDuplicate,
		&duplicateReason,
		&processingStatus,
		&commitError,
		&committedID,
	); err != nil {
		return domain.ValidatedRecord{}, fmt.Errorf("scan import record: %w", err)
	}

	record.ValidationStatus = domain.ValidationStatus(validationStatus)
	record.ProcessingStatus = domain.ProcessingStatus(processingStatus)
	record.DuplicateReason = duplicateReason.String
	record.CommitError = commitError.String
	record.CommittedID = fromPGUUID(committedID)

	record.Values = map[string]string{}
	if len(valuesJSON) > 0 {
		if err := json.Unmarshal(valuesJSON, &record.Values); err != nil {
			return domain.ValidatedRecord{}, fmt.Errorf("decode row %d values: %w", record.SourceRowNumber, err)
		}
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &record.Fields); err != nil {
			return domain.ValidatedRecord{}, fmt.Errorf("decode row %d fields: %w", record.SourceRowNumber, err)
		}
	}
	return record, nil
}
