package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BOM maps a finished item to the component items needed to produce one unit of it.
type BOM struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ItemCode       string    `json:"item_code"`
	Lines          []BOMLine `json:"lines"`
}

// BOMLine is one component of a BOM.
type BOMLine struct {
	ComponentCode string          `json:"component_code"`
	QuantityPer   decimal.Decimal `json:"quantity_per"`
	WastePercent  decimal.Decimal `json:"waste_percent"`
	Unit          string          `json:"unit,omitempty"`
}

// MaterialRequirement is the derived requirement for one component of a production plan.
type MaterialRequirement struct {
	ComponentCode    string          `json:"component_code"`
	GrossQuantity    decimal.Decimal `json:"gross_quantity"`
	RequiredQuantity decimal.Decimal `json:"required_quantity"`
	OnHand           decimal.Decimal `json:"on_hand"`
	Shortage         decimal.Decimal `json:"shortage"`
	Unit             string          `json:"unit,omitempty"`
}
