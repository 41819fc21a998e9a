package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/stockimport/internal/db"
	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ledgerRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewLedgerRepository wires the inventory ledger backed by pgxpool.
func NewLedgerRepository(pool *pgxpool.Pool, logger *zap.Logger) Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ledgerRepository{pool: pool, logger: logger}
}

func (r *ledgerRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return fmt.Errorf("ledger repository not initialized: %w", domain.ErrStoreUnavailable)
	}
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *ledgerRepository) CommitRecord(ctx context.Context, movement domain.StockMovement) (uuid.UUID, error) {
	if r.pool == nil {
		return uuid.Nil, fmt.Errorf("ledger repository not initialized: %w", domain.ErrStoreUnavailable)
	}
	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}

	committedID := movement.ID
	err := db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		var inserted uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO stock_movements (
				id, organization_id, session_id, source_row_number, import_type, reference, dedupe_key,
				document_number, item_code, warehouse, batch_number, qty_delta, unit_rate, value,
				effective_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
				$12::text::numeric, $13::text::numeric, $14::text::numeric, $15, $16)
			 ON CONFLICT (session_id, source_row_number) DO NOTHING
			 RETURNING id`,
			movement.ID,
			movement.OrganizationID,
			movement.SessionID,
			movement.SourceRowNumber,
			string(movement.ImportType),
			movement.Reference,
			movement.DedupeKey,
			toPGText(movement.DocumentNumber),
			movement.ItemCode,
			movement.Warehouse,
			toPGText(movement.BatchNumber),
			decimalParam(movement.QtyDelta),
			decimalParam(movement.UnitRate),
			decimalParam(movement.Value),
			movement.EffectiveDate,
			movement.CreatedAt,
		).Scan(&inserted)
		if errors.Is(err, pgx.ErrNoRows) {
			// Replayed row: the balance was already applied when the original landed.
			if lookupErr := tx.QueryRow(ctx,
				`SELECT id FROM stock_movements WHERE session_id = $1 AND source_row_number = $2`,
				movement.SessionID,
				movement.SourceRowNumber,
			).Scan(&committedID); lookupErr != nil {
				return fmt.Errorf("lookup replayed movement: %w", lookupErr)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert stock movement: %w", err)
		}
		committedID = inserted

		if _, err := tx.Exec(ctx,
			`INSERT INTO item_balances (organization_id, item_code, warehouse)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (organization_id, item_code, warehouse) DO NOTHING`,
			movement.OrganizationID,
			movement.ItemCode,
			movement.Warehouse,
		); err != nil {
			return fmt.Errorf("ensure item balance: %w", err)
		}

		balance, err := scanBalance(tx.QueryRow(ctx,
			`SELECT organization_id, item_code, warehouse, on_hand::text, stock_value::text,
				average_rate::text, version, updated_at
			 FROM item_balances
			 WHERE organization_id = $1 AND item_code = $2 AND warehouse = $3
			 FOR UPDATE`,
			movement.OrganizationID,
			movement.ItemCode,
			movement.Warehouse,
		))
		if err != nil {
			return fmt.Errorf("lock item balance: %w", err)
		}

		next := balance.Apply(movement)
		if next.OnHand.IsNegative() {
			return fmt.Errorf("%w: %s in %s would go negative (%s)",
				domain.ErrCommitConflict, movement.ItemCode, movement.Warehouse, next.OnHand.String())
		}

		if _, err := tx.Exec(ctx,
			`UPDATE item_balances
			 SET on_hand = $4::text::numeric, stock_value = $5::text::numeric,
				average_rate = $6::text::numeric, version = $7, updated_at = $8
			 WHERE organization_id = $1 AND item_code = $2 AND warehouse = $3`,
			movement.OrganizationID,
			movement.ItemCode,
			movement.Warehouse,
			decimalParam(next.OnHand),
			decimalParam(next.StockValue),
			decimalParam(next.AverageRate),
			next.Version,
			time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("update item balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, classifyStoreError(err)
	}
	return committedID, nil
}

func (r *ledgerRepository) Balance(ctx context.Context, organizationID uuid.UUID, itemCode string, warehouse string) (domain.ItemBalance, error) {
	if r.pool == nil {
		return domain.ItemBalance{}, fmt.Errorf("ledger repository not initialized")
	}
	balance, err := scanBalance(r.pool.QueryRow(ctx,
		`SELECT organization_id, item_code, warehouse, on_hand::text, stock_value::text,
			average_rate::text, version, updated_at
		 FROM item_balances
		 WHERE organization_id = $1 AND item_code = $2 AND warehouse = $3`,
		organizationID,
		itemCode,
		warehouse,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ItemBalance{OrganizationID: organizationID, ItemCode: itemCode, Warehouse: warehouse}, nil
	}
	if err != nil {
		return domain.ItemBalance{}, fmt.Errorf("load item balance: %w", err)
	}
	return balance, nil
}

func (r *ledgerRepository) OnHand(ctx context.Context, organizationID uuid.UUID, itemCodes []string) (map[string]decimal.Decimal, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("ledger repository not initialized")
	}
	result := make(map[string]decimal.Decimal, len(itemCodes))
	if len(itemCodes) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT item_code, SUM(on_hand)::text
		 FROM item_balances
		 WHERE organization_id = $1 AND item_code = ANY($2::text[])
		 GROUP BY item_code`,
		organizationID,
		itemCodes,
	)
	if err != nil {
		return nil, fmt.Errorf("query on hand: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			code  string
			total string
		)
		if err := rows.Scan(&code, &total); err != nil {
			return nil, fmt.Errorf("scan on hand: %w", err)
		}
		qty, err := parseDecimal(total)
		if err != nil {
			return nil, fmt.Errorf("parse on hand for %s: %w", code, err)
		}
		result[code] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate on hand: %w", err)
	}
	return result, nil
}

// QueryExistingKeys implements CommittedKeyRepository against stock_movements.
func (r *ledgerRepository) QueryExistingKeys(ctx context.Context, organizationID uuid.UUID, importType domain.ImportType, keys []string) (map[string]string, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("ledger repository not initialized")
	}
	existing := make(map[string]string)
	if len(keys) == 0 {
		return existing, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (dedupe_key) dedupe_key, reference
		 FROM stock_movements
		 WHERE organization_id = $1 AND import_type = $2 AND dedupe_key = ANY($3::text[])
		 ORDER BY dedupe_key, created_at`,
		organizationID,
		string(importType),
		keys,
	)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, reference string
		if err := rows.Scan(&key, &reference); err != nil {
			return nil, fmt.Errorf("scan existing key: %w", err)
		}
		existing[key] = reference
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing keys: %w", err)
	}
	return existing, nil
}

// NewCommittedKeyRepository exposes the ledger's dedupe index for duplicate detection.
func NewCommittedKeyRepository(pool *pgxpool.Pool, logger *zap.Logger) CommittedKeyRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ledgerRepository{pool: pool, logger: logger}
}

func scanBalance(row pgx.Row) (domain.ItemBalance, error) {
	var (
		balance    domain.ItemBalance
		onHand     string
		stockValue string
		average    string
	)
	if err := row.Scan(
		&balance.OrganizationID,
		&balance.ItemCode,
		&balance.Warehouse,
		&onHand,
		&stockValue,
		&average,
		&balance.Version,
		&balance.UpdatedAt,
	); err != nil {
		return domain.ItemBalance{}, err
	}
	var err error
	if balance.OnHand, err = parseDecimal(onHand); err != nil {
		return domain.ItemBalance{}, fmt.Errorf("parse on_hand: %w", err)
	}
	if balance.StockValue, err = parseDecimal(stockValue); err != nil {
		return domain.ItemBalance{}, fmt.Errorf("parse stock_value: %w", err)
	}
	if balance.AverageRate, err = parseDecimal(average); err != nil {
		return domain.ItemBalance{}, fmt.Errorf("parse average_rate: %w", err)
	}
	return balance, nil
}
