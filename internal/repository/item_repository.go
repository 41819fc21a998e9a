package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type itemRepository struct {
	pool *pgxpool.Pool
}

// NewItemRepository wires item master data backed by pgxpool.
func NewItemRepository(pool *pgxpool.Pool) ItemRepository {
	return &itemRepository{pool: pool}
}

func (r *itemRepository) GetByCodes(ctx context.Context, organizationID uuid.UUID, codes []string) ([]domain.Item, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("item repository not initialized")
	}
	if len(codes) == 0 {
		return []domain.Item{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT organization_id, code, name, unit, standard_rate::text, average_receipt_qty::text, active
		 FROM items
		 WHERE organization_id = $1 AND upper(code) = ANY($2::text[])
		 ORDER BY code`,
		organizationID,
		normalizeCodes(codes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []domain.Item{}
	for rows.Next() {
		var (
			item       domain.Item
			rate       string
			averageQty string
		)
		if err := rows.Scan(&item.OrganizationID, &item.Code, &item.Name, &item.Unit, &rate, &averageQty, &item.Active); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		if item.StandardRate, err = parseDecimal(rate); err != nil {
			return nil, fmt.Errorf("parse standard rate for %s: %w", item.Code, err)
		}
		if item.AverageReceiptQty, err = parseDecimal(averageQty); err != nil {
			return nil, fmt.Errorf("parse average receipt qty for %s: %w", item.Code, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func (r *itemRepository) Upsert(ctx context.Context, item domain.Item) error {
	if r.pool == nil {
		return fmt.Errorf("item repository not initialized")
	}
	item.Code = domain.NormalizeItemCode(item.Code)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO items (organization_id, code, name, unit, standard_rate, average_receipt_qty, active)
		 VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7)
		 ON CONFLICT (organization_id, code) DO UPDATE SET
			name = EXCLUDED.name,
			unit = EXCLUDED.unit,
			standard_rate = EXCLUDED.standard_rate,
			average_receipt_qty = EXCLUDED.average_receipt_qty,
			active = EXCLUDED.active`,
		item.OrganizationID,
		item.Code,
		item.Name,
		item.Unit,
		decimalParam(item.StandardRate),
		decimalParam(item.AverageReceiptQty),
		item.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.Code, err)
	}
	return nil
}

type bomRepository struct {
	pool *pgxpool.Pool
}

// NewBOMRepository wires bill of materials lookups backed by pgxpool.
func NewBOMRepository(pool *pgxpool.Pool) BOMRepository {
	return &bomRepository{pool: pool}
}

func (r *bomRepository) GetByItem(ctx context.Context, organizationID uuid.UUID, itemCode string) (domain.BOM, error) {
	if r.pool == nil {
		return domain.BOM{}, fmt.Errorf("bom repository not initialized")
	}

	itemCode = domain.NormalizeItemCode(itemCode)
	bom := domain.BOM{OrganizationID: organizationID, ItemCode: itemCode}
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM boms WHERE organization_id = $1 AND upper(item_code) = $2`,
		organizationID,
		itemCode,
	).Scan(&bom.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BOM{}, fmt.Errorf("%w: no bill of materials for %s", domain.ErrInvalidInput, itemCode)
	}
	if err != nil {
		return domain.BOM{}, fmt.Errorf("failed to load bom: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT component_code, quantity_per::text, waste_percent::text, unit
		 FROM bom_lines
		 WHERE bom_id = $1
		 ORDER BY line_no`,
		bom.ID,
	)
	if err != nil {
		return domain.BOM{}, fmt.Errorf("failed to load bom lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line  domain.BOMLine
			qty   string
			waste string
		)
		if err := rows.Scan(&line.ComponentCode, &qty, &waste, &line.Unit); err != nil {
			return domain.BOM{}, fmt.Errorf("failed to scan bom line: %w", err)
		}
		if line.QuantityPer, err = parseDecimal(qty); err != nil {
			return domain.BOM{}, fmt.Errorf("parse quantity per for %s: %w", line.ComponentCode, err)
		}
		if line.WastePercent, err = parseDecimal(waste); err != nil {
			return domain.BOM{}, fmt.Errorf("parse waste percent for %s: %w", line.ComponentCode, err)
		}
		bom.Lines = append(bom.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.BOM{}, fmt.Errorf("failed to iterate bom lines: %w", err)
	}
	return bom, nil
}

func normalizeCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = domain.NormalizeItemCode(code)
	}
	return out
}
