package validation

import (
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/shopspring/decimal"
)

// Policy holds the configurable thresholds behind the soft checks.
type Policy struct {
	// RateVariancePct flags unit rates this far from the item's standard rate.
	RateVariancePct float64 `mapstructure:"rate_variance_pct"`
	// QuantityVariancePct flags quantities this far from the item's average receipt.
	QuantityVariancePct float64 `mapstructure:"quantity_variance_pct"`
	// AllowedUnits restricts the unit column when non-empty.
	AllowedUnits []string `mapstructure:"allowed_units"`
}

// DefaultPolicy mirrors the shipped configuration.
func DefaultPolicy() Policy {
	return Policy{
		RateVariancePct:     50,
		QuantityVariancePct: 200,
	}
}

// Lookups carries the master data a rule set may consult.
type Lookups struct {
	Items map[string]domain.Item
}

func (l Lookups) item(row domain.RawRow) (domain.Item, bool) {
	if l.Items == nil {
		return domain.Item{}, false
	}
	item, ok := l.Items[domain.NormalizeItemCode(row.Cell(domain.FieldItemCode).Text)]
	return item, ok
}

// FieldRules is the ordered rule list for one field.
type FieldRules struct {
	Field string
	Rules []Rule
}

// RuleSet is applied field by field in declaration order.
type RuleSet []FieldRules

// With returns a copy of the set with rule appended to field, adding the field if needed.
func (s RuleSet) With(field string, rule Rule) RuleSet {
	out := make(RuleSet, len(s))
	copy(out, s)
	for i := range out {
		if out[i].Field == field {
			out[i].Rules = append(append([]Rule(nil), out[i].Rules...), rule)
			return out
		}
	}
	return append(out, FieldRules{Field: field, Rules: []Rule{rule}})
}

// RequiredFields lists the fields whose first rule is Required.
func (s RuleSet) RequiredFields() []string {
	fields := []string{}
	for _, fr := range s {
		for _, rule := range fr.Rules {
			if isRequired(rule) {
				fields = append(fields, fr.Field)
				break
			}
		}
	}
	return fields
}

type requiredRule struct{ Rule }

func isRequired(rule Rule) bool {
	_, ok := rule.(requiredRule)
	return ok
}

// RuleSetFor builds the rules for an import type.
func RuleSetFor(importType domain.ImportType, policy Policy, lookups Lookups) RuleSet {
	zero := decimal.Zero
	known := func(code string) bool {
		_, ok := lookups.Items[domain.NormalizeItemCode(code)]
		return ok
	}
	standardRate := func(row domain.RawRow) (decimal.Decimal, bool) {
		item, ok := lookups.item(row)
		return item.StandardRate, ok
	}
	averageQuantity := func(row domain.RawRow) (decimal.Decimal, bool) {
		item, ok := lookups.item(row)
		return item.AverageReceiptQty, ok
	}

	required := requiredRule{Required()}
	quantity := FieldRules{Field: domain.FieldQuantity, Rules: []Rule{required, Type(KindNumber)}}
	if importType == domain.ImportTypeOpeningStock {
		quantity.Rules = append(quantity.Rules, Range(&zero, nil))
	} else {
		quantity.Rules = append(quantity.Rules,
			GreaterThan(zero),
			Variance(averageQuantity, decimal.NewFromFloat(policy.QuantityVariancePct)),
		)
	}

	set := RuleSet{}
	if importType != domain.ImportTypeOpeningStock {
		set = append(set, FieldRules{Field: domain.FieldDocumentNumber, Rules: []Rule{required, Type(KindText)}})
	}
	set = append(set,
		FieldRules{Field: domain.FieldItemCode, Rules: []Rule{required, Type(KindText), Referential(known)}},
		quantity,
		FieldRules{Field: domain.FieldUnitRate, Rules: []Rule{
			Type(KindNumber),
			Range(&zero, nil),
			Variance(standardRate, decimal.NewFromFloat(policy.RateVariancePct)),
		}},
		FieldRules{Field: domain.FieldAmount, Rules: []Rule{Type(KindNumber)}},
	)

	date := FieldRules{Field: domain.FieldDate, Rules: []Rule{Type(KindDate)}}
	if importType != domain.ImportTypeOpeningStock {
		date.Rules = append([]Rule{required}, date.Rules...)
	}
	set = append(set, date)

	if importType == domain.ImportTypeOpeningStock {
		set = append(set, FieldRules{Field: domain.FieldWarehouse, Rules: []Rule{required, Type(KindText)}})
	}
	if len(policy.AllowedUnits) > 0 {
		set = append(set, FieldRules{Field: domain.FieldUnit, Rules: []Rule{Enum(policy.AllowedUnits...)}})
	}
	return set
}

// Validate applies the rule set to one row. It is a pure function of its inputs.
func Validate(set RuleSet, row domain.RawRow) domain.ValidatedRecord {
	record := domain.ValidatedRecord{
		SourceRowNumber:    row.RowNumber,
		Values:             row.Texts(),
		ValidationErrors:   []string{},
		ValidationWarnings: append([]string{}, row.Warnings...),
		ProcessingStatus:   domain.ProcessingStatusPending,
	}

	failed := map[string]bool{}
	for _, fr := range set {
		cell := row.Cell(fr.Field)
		for _, rule := range fr.Rules {
			outcome := rule.Check(fr.Field, cell, row)
			if outcome.Error != "" {
				record.ValidationErrors = append(record.ValidationErrors, outcome.Error)
				failed[fr.Field] = true
			}
			if outcome.Warning != "" {
				record.ValidationWarnings = append(record.ValidationWarnings, outcome.Warning)
			}
			if outcome.Stop {
				break
			}
		}
	}

	record.Fields = coerceFields(row, failed)
	record.ResolveStatus()
	return record
}

// coerceFields converts the row into typed values, skipping fields that failed validation.
func coerceFields(row domain.RawRow, failed map[string]bool) domain.RecordFields {
	text := func(field string) string {
		return strings.TrimSpace(row.Cell(field).Text)
	}
	number := func(field string) decimal.Decimal {
		if failed[field] {
			return decimal.Zero
		}
		value, ok := row.Cell(field).Decimal()
		if !ok {
			return decimal.Zero
		}
		return value
	}

	fields := domain.RecordFields{
		DocumentNumber: text(domain.FieldDocumentNumber),
		ItemCode:       domain.NormalizeItemCode(text(domain.FieldItemCode)),
		ItemName:       text(domain.FieldItemName),
		Quantity:       number(domain.FieldQuantity),
		UnitRate:       number(domain.FieldUnitRate),
		Amount:         number(domain.FieldAmount),
		Warehouse:      text(domain.FieldWarehouse),
		Unit:           text(domain.FieldUnit),
		PartyName:      text(domain.FieldPartyName),
		BatchNumber:    text(domain.FieldBatchNumber),
	}
	if cell := row.Cell(domain.FieldDate); cell.Kind == domain.CellKindDate && !failed[domain.FieldDate] {
		d := cell.Date
		fields.Date = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	if _, present := row.Cell(domain.FieldAmount).Decimal(); !present && !failed[domain.FieldAmount] {
		fields.Amount = fields.Quantity.Mul(fields.UnitRate)
	}
	return fields
}
