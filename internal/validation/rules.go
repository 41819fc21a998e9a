package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/shopspring/decimal"
)

// ValueKind is the type a field's cells must coerce to.
type ValueKind string

const (
	KindText   ValueKind = "text"
	KindNumber ValueKind = "number"
	KindDate   ValueKind = "date"
	KindEnum   ValueKind = "enum"
)

// Outcome is the result of applying one rule to one cell. Stop suppresses the remaining
// rules for the same field.
type Outcome struct {
	Error   string
	Warning string
	Stop    bool
}

func pass() Outcome { return Outcome{} }

// Rule checks a single field of a row.
type Rule interface {
	Check(field string, cell domain.CellValue, row domain.RawRow) Outcome
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(field string, cell domain.CellValue, row domain.RawRow) Outcome

func (f RuleFunc) Check(field string, cell domain.CellValue, row domain.RawRow) Outcome {
	return f(field, cell, row)
}

// Required fails on empty cells and stops further checks of the field.
func Required() Rule {
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		if cell.IsNull() {
			return Outcome{Error: fmt.Sprintf("%s is required", field), Stop: true}
		}
		return pass()
	})
}

// Type fails when a present cell cannot be coerced to kind. Empty cells stop the field so
// later rules only ever see present, well typed values.
func Type(kind ValueKind) Rule {
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		if cell.IsNull() {
			return Outcome{Stop: true}
		}
		switch kind {
		case KindNumber:
			if _, ok := cell.Decimal(); !ok {
				return Outcome{Error: fmt.Sprintf("%s must be a number", field), Stop: true}
			}
		case KindDate:
			if cell.Kind != domain.CellKindDate {
				return Outcome{Error: fmt.Sprintf("%s must be a valid date", field), Stop: true}
			}
		}
		return pass()
	})
}

// Enum restricts a field to a fixed, case-insensitive value set.
func Enum(values ...string) Rule {
	allowed := make(map[string]struct{}, len(values))
	for _, value := range values {
		allowed[strings.ToLower(strings.TrimSpace(value))] = struct{}{}
	}
	message := strings.Join(values, ", ")
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		if cell.IsNull() {
			return Outcome{Stop: true}
		}
		if _, ok := allowed[strings.ToLower(cell.Text)]; !ok {
			return Outcome{Error: fmt.Sprintf("%s must be one of %s", field, message), Stop: true}
		}
		return pass()
	})
}

// Range bounds a numeric field inclusively. Either bound may be nil.
func Range(minimum, maximum *decimal.Decimal) Rule {
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		value, ok := cell.Decimal()
		if !ok {
			return pass()
		}
		if minimum != nil && value.LessThan(*minimum) {
			return Outcome{Error: fmt.Sprintf("%s must be >= %s", field, minimum.String())}
		}
		if maximum != nil && value.GreaterThan(*maximum) {
			return Outcome{Error: fmt.Sprintf("%s must be <= %s", field, maximum.String())}
		}
		return pass()
	})
}

// GreaterThan requires a numeric field strictly above bound.
func GreaterThan(bound decimal.Decimal) Rule {
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		value, ok := cell.Decimal()
		if !ok {
			return pass()
		}
		if !value.GreaterThan(bound) {
			return Outcome{Error: fmt.Sprintf("%s must be > %s", field, bound.String())}
		}
		return pass()
	})
}

// Referential warns when the value is not a known master-data key. It never errors.
func Referential(known func(value string) bool) Rule {
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		if cell.IsNull() || known == nil {
			return pass()
		}
		if !known(cell.Text) {
			return Outcome{Warning: fmt.Sprintf("%s %s not found in master data", field, cell.Text)}
		}
		return pass()
	})
}

// BaselineFunc returns the expected value for a row, if one is known.
type BaselineFunc func(row domain.RawRow) (decimal.Decimal, bool)

// Variance warns when a numeric value deviates from its baseline by more than thresholdPct.
func Variance(baseline BaselineFunc, thresholdPct decimal.Decimal) Rule {
	hundred := decimal.NewFromInt(100)
	return RuleFunc(func(field string, cell domain.CellValue, row domain.RawRow) Outcome {
		value, ok := cell.Decimal()
		if !ok || baseline == nil || !thresholdPct.IsPositive() {
			return pass()
		}
		expected, ok := baseline(row)
		if !ok || !expected.IsPositive() {
			return pass()
		}
		deviation := value.Sub(expected).Abs().Div(expected).Mul(hundred)
		if deviation.GreaterThan(thresholdPct) {
			return Outcome{Warning: fmt.Sprintf("%s %s deviates %s%% from expected %s",
				field, cell.Text, deviation.Round(1).String(), expected.String())}
		}
		return pass()
	})
}

// Period warns when a date falls outside the session period.
func Period(start, end *time.Time) Rule {
	return RuleFunc(func(field string, cell domain.CellValue, _ domain.RawRow) Outcome {
		if cell.Kind != domain.CellKindDate || (start == nil && end == nil) {
			return pass()
		}
		date := cell.Date
		if (start != nil && date.Before(*start)) || (end != nil && date.After(*end)) {
			return Outcome{Warning: fmt.Sprintf("%s %s is outside the session period %s", field, cell.Text, periodLabel(start, end))}
		}
		return pass()
	})
}

func periodLabel(start, end *time.Time) string {
	from, to := "", ""
	if start != nil {
		from = start.Format("2006-01-02")
	}
	if end != nil {
		to = end.Format("2006-01-02")
	}
	return from + ".." + to
}
