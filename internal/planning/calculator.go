package planning

import (
	"context"
	"fmt"
	"sort"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const requirementPrecision = 4

var hundred = decimal.NewFromInt(100)

// Requirements computes component requirements for producing planned units of a BOM.
// Required quantities round up so a plan never under-orders.
func Requirements(bom domain.BOM, planned decimal.Decimal, onHand map[string]decimal.Decimal) []domain.MaterialRequirement {
	byComponent := make(map[string]*domain.MaterialRequirement, len(bom.Lines))
	order := make([]string, 0, len(bom.Lines))
	for _, line := range bom.Lines {
		code := domain.NormalizeItemCode(line.ComponentCode)
		gross := line.QuantityPer.Mul(planned)
		required := gross.Mul(decimal.NewFromInt(1).Add(line.WastePercent.Div(hundred)))

		req, ok := byComponent[code]
		if !ok {
			req = &domain.MaterialRequirement{ComponentCode: code, Unit: line.Unit}
			byComponent[code] = req
			order = append(order, code)
		}
		req.GrossQuantity = req.GrossQuantity.Add(gross)
		req.RequiredQuantity = req.RequiredQuantity.Add(required)
	}

	out := make([]domain.MaterialRequirement, 0, len(order))
	for _, code := range order {
		req := *byComponent[code]
		req.GrossQuantity = req.GrossQuantity.RoundCeil(requirementPrecision)
		req.RequiredQuantity = req.RequiredQuantity.RoundCeil(requirementPrecision)
		req.OnHand = onHand[code]
		req.Shortage = decimal.Max(decimal.Zero, req.RequiredQuantity.Sub(req.OnHand))
		out = append(out, req)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].Shortage.Cmp(out[j].Shortage); cmp != 0 {
			return cmp > 0
		}
		return out[i].ComponentCode < out[j].ComponentCode
	})
	return out
}

// Calculator resolves BOMs and balances for requirement requests.
type Calculator struct {
	boms   repository.BOMRepository
	ledger repository.Ledger
	logger *zap.Logger
}

func NewCalculator(boms repository.BOMRepository, ledger repository.Ledger, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{boms: boms, ledger: ledger, logger: logger}
}

// Request asks for the requirements of producing Quantity units of ItemCode.
type Request struct {
	OrganizationID uuid.UUID       `json:"organization_id"`
	ItemCode       string          `json:"item_code"`
	Quantity       decimal.Decimal `json:"quantity"`
}

type Plan struct {
	ItemCode     string                       `json:"item_code"`
	Quantity     decimal.Decimal              `json:"quantity"`
	Requirements []domain.MaterialRequirement `json:"requirements"`
	HasShortage  bool                         `json:"has_shortage"`
}

func (c *Calculator) Plan(ctx context.Context, req Request) (Plan, error) {
	if req.OrganizationID == uuid.Nil {
		return Plan{}, fmt.Errorf("%w: organizationId is required", domain.ErrInvalidInput)
	}
	code := domain.NormalizeItemCode(req.ItemCode)
	if code == "" {
		return Plan{}, fmt.Errorf("%w: itemCode is required", domain.ErrInvalidInput)
	}
	if !req.Quantity.IsPositive() {
		return Plan{}, fmt.Errorf("%w: quantity must be > 0", domain.ErrInvalidInput)
	}

	bom, err := c.boms.GetByItem(ctx, req.OrganizationID, code)
	if err != nil {
		return Plan{}, err
	}
	components := make([]string, 0, len(bom.Lines))
	for _, line := range bom.Lines {
		components = append(components, domain.NormalizeItemCode(line.ComponentCode))
	}
	onHand, err := c.ledger.OnHand(ctx, req.OrganizationID, components)
	if err != nil {
		return Plan{}, domain.WrapError(domain.ErrStoreUnavailable, "load on hand balances", err)
	}

	plan := Plan{ItemCode: code, Quantity: req.Quantity, Requirements: Requirements(bom, req.Quantity, onHand)}
	for _, r := range plan.Requirements {
		if r.Shortage.IsPositive() {
			plan.HasShortage = true
			break
		}
	}
	c.logger.Debug("material plan computed",
		zap.String("item_code", code),
		zap.String("quantity", req.Quantity.String()),
		zap.Int("components", len(plan.Requirements)),
		zap.Bool("shortage", plan.HasShortage))
	return plan, nil
}
