package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a master-data inventory item.
type Item struct {
	OrganizationID    uuid.UUID       `json:"organization_id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	StandardRate      decimal.Decimal `json:"standard_rate"`
	AverageReceiptQty decimal.Decimal `json:"average_receipt_qty"`
	Active            bool            `json:"active"`
}

// NormalizeItemCode is the canonical form of an item code. Master data, balances and
// duplicate keys all compare codes in this form.
func NormalizeItemCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// StockMovement is an append-only ledger row created when a staged record commits.
type StockMovement struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organization_id"`
	SessionID       uuid.UUID       `json:"session_id"`
	SourceRowNumber int             `json:"source_row_number"`
	ImportType      ImportType      `json:"import_type"`
	Reference       string          `json:"reference"`
	DedupeKey       string          `json:"dedupe_key"`
	DocumentNumber  string          `json:"document_number,omitempty"`
	ItemCode        string          `json:"item_code"`
	Warehouse       string          `json:"warehouse"`
	BatchNumber     string          `json:"batch_number,omitempty"`
	QtyDelta        decimal.Decimal `json:"qty_delta"`
	UnitRate        decimal.Decimal `json:"unit_rate"`
	Value           decimal.Decimal `json:"value"`
	EffectiveDate   time.Time       `json:"effective_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ItemBalance is the running on-hand balance for an item in a warehouse.
type ItemBalance struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	ItemCode       string          `json:"item_code"`
	Warehouse      string          `json:"warehouse"`
	OnHand         decimal.Decimal `json:"on_hand"`
	StockValue     decimal.Decimal `json:"stock_value"`
	AverageRate    decimal.Decimal `json:"average_rate"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Apply returns the balance after a movement using weighted average valuation. Issues are
// valued at the current average rate.
func (b ItemBalance) Apply(movement StockMovement) ItemBalance {
	next := b
	next.Version++
	if movement.QtyDelta.IsNegative() {
		issueValue := movement.QtyDelta.Mul(b.AverageRate)
		next.OnHand = b.OnHand.Add(movement.QtyDelta)
		next.StockValue = b.StockValue.Add(issueValue)
		if next.OnHand.IsZero() {
			next.StockValue = decimal.Zero
		}
		return next
	}

	next.OnHand = b.OnHand.Add(movement.QtyDelta)
	next.StockValue = b.StockValue.Add(movement.Value)
	if next.OnHand.IsPositive() {
		next.AverageRate = next.StockValue.DivRound(next.OnHand, 4)
	}
	return next
}

// MovementFromRecord builds the ledger row for a committed record.
func MovementFromRecord(session UploadSession, record ValidatedRecord, now time.Time) StockMovement {
	fields := record.Fields
	qty := fields.Quantity
	if !session.ImportType.Inbound() {
		qty = qty.Neg()
	}
	value := fields.Amount
	if value.IsZero() {
		value = fields.Quantity.Mul(fields.UnitRate)
	}
	if !session.ImportType.Inbound() {
		value = value.Neg()
	}
	effective := fields.Date
	if effective.IsZero() {
		effective = now.UTC().Truncate(24 * time.Hour)
	}
	warehouse := fields.Warehouse
	if warehouse == "" {
		warehouse = DefaultWarehouse
	}
	return StockMovement{
		ID:              uuid.New(),
		OrganizationID:  session.OrganizationID,
		SessionID:       session.ID,
		SourceRowNumber: record.SourceRowNumber,
		ImportType:      session.ImportType,
		Reference:       MovementReference(session, record),
		DocumentNumber:  fields.DocumentNumber,
		ItemCode:        NormalizeItemCode(fields.ItemCode),
		Warehouse:       warehouse,
		BatchNumber:     fields.BatchNumber,
		QtyDelta:        qty,
		UnitRate:        fields.UnitRate,
		Value:           value,
		EffectiveDate:   effective,
		CreatedAt:       now,
	}
}

// DefaultWarehouse is used when an upload carries no warehouse column.
const DefaultWarehouse = "MAIN"

// MovementReference names a committed record for duplicate reasons and reports.
func MovementReference(session UploadSession, record ValidatedRecord) string {
	if record.Fields.DocumentNumber != "" {
		return record.Fields.DocumentNumber
	}
	return session.ID.String()[:8] + "-" + strconv.Itoa(record.SourceRowNumber)
}
