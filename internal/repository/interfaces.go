package repository

import (
	"context"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionRepository persists upload sessions together with their staged records. Every
// method that touches more than one row does so atomically.
type SessionRepository interface {
	// Stage inserts the session and its full record set, or nothing at all.
	Stage(ctx context.Context, session domain.UploadSession, records []domain.ValidatedRecord) error
	Load(ctx context.Context, id uuid.UUID) (domain.UploadSession, []domain.ValidatedRecord, error)
	List(ctx context.Context, organizationID uuid.UUID, statuses []domain.SessionStatus, limit int, offset int) ([]domain.UploadSession, error)
	// SaveApproval writes the session transition and every record's processing status together.
	// The session is only written while its stored status is still from.
	SaveApproval(ctx context.Context, session domain.UploadSession, from domain.SessionStatus, records []domain.ValidatedRecord) error
	// UpdateSessionStatus writes the session when its stored status is still from, and returns
	// domain.ErrInvalidStateTransition when another writer moved it first.
	UpdateSessionStatus(ctx context.Context, session domain.UploadSession, from domain.SessionStatus) error
	// SaveRecordOutcome writes one record's commit result and the session's running counters
	// in one transaction. The session must be PROCESSING.
	SaveRecordOutcome(ctx context.Context, session domain.UploadSession, record domain.ValidatedRecord) error
	// Delete removes a session and its records together.
	Delete(ctx context.Context, id uuid.UUID) error
}

// CommittedKeyRepository answers duplicate lookups against previously committed records.
type CommittedKeyRepository interface {
	// QueryExistingKeys returns the subset of keys already committed, mapped to the
	// reference of the committed record.
	QueryExistingKeys(ctx context.Context, organizationID uuid.UUID, importType domain.ImportType, keys []string) (map[string]string, error)
}

// Ledger is the system of record for committed stock movements. CommitRecord must be
// transactional per record so concurrent sessions cannot race on a running balance.
type Ledger interface {
	Ping(ctx context.Context) error
	// CommitRecord appends the movement and applies it to the item balance. Replaying a
	// movement for the same session row returns the original id without reapplying it.
	CommitRecord(ctx context.Context, movement domain.StockMovement) (uuid.UUID, error)
	Balance(ctx context.Context, organizationID uuid.UUID, itemCode string, warehouse string) (domain.ItemBalance, error)
	// OnHand sums balances across warehouses for each item code.
	OnHand(ctx context.Context, organizationID uuid.UUID, itemCodes []string) (map[string]decimal.Decimal, error)
}

// ItemRepository reads item master data.
type ItemRepository interface {
	GetByCodes(ctx context.Context, organizationID uuid.UUID, codes []string) ([]domain.Item, error)
	Upsert(ctx context.Context, item domain.Item) error
}

// BOMRepository reads bills of materials.
type BOMRepository interface {
	GetByItem(ctx context.Context, organizationID uuid.UUID, itemCode string) (domain.BOM, error)
}

// ImportLogRepository stores pipeline events for observability.
type ImportLogRepository interface {
	Record(ctx context.Context, entry domain.ImportLogEntry) error
	List(ctx context.Context, sessionID uuid.UUID, limit int, offset int) ([]domain.ImportLogEntry, error)
}
