package ingestion

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rpattn/stockimport/internal/domain"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliases []byte

// minFuzzyHeaderLength keeps short headers such as "no" from fuzzily matching anything.
const minFuzzyHeaderLength = 4

// ColumnMapping records which source column feeds each logical field.
type ColumnMapping struct {
	// ByHeader maps source header to logical field.
	ByHeader map[string]string `json:"by_header"`
	// Columns maps logical field to the zero based column index.
	Columns  map[string]int `json:"-"`
	Unmapped []string       `json:"unmapped"`
}

// HeaderMatcher maps spreadsheet headers to logical fields using an alias table.
type HeaderMatcher struct {
	aliases     map[string][]string
	maxDistance int
}

// NewHeaderMatcher builds a matcher over the embedded alias table.
func NewHeaderMatcher(maxDistance int) (*HeaderMatcher, error) {
	aliases, err := LoadAliases(defaultAliases)
	if err != nil {
		return nil, err
	}
	return &HeaderMatcher{aliases: aliases, maxDistance: maxDistance}, nil
}

// LoadAliases parses a YAML alias document into normalized aliases per logical field. Every
// field must be known and an alias may belong to one field only.
func LoadAliases(data []byte) (map[string][]string, error) {
	raw := map[string][]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse header aliases: %w", err)
	}

	known := make(map[string]bool, len(domain.LogicalFields))
	for _, field := range domain.LogicalFields {
		known[field] = true
	}

	owner := map[string]string{}
	aliases := make(map[string][]string, len(raw))
	for field, values := range raw {
		if !known[field] {
			return nil, fmt.Errorf("header aliases: unknown field %q", field)
		}
		normalized := []string{normalizeHeader(field)}
		for _, value := range values {
			alias := normalizeHeader(value)
			if alias == "" {
				continue
			}
			if other, taken := owner[alias]; taken && other != field {
				return nil, fmt.Errorf("header aliases: %q listed for both %s and %s", value, other, field)
			}
			owner[alias] = field
			normalized = append(normalized, alias)
		}
		aliases[field] = normalized
	}
	return aliases, nil
}

type headerCandidate struct {
	column   int
	field    string
	distance int
	rank     int
}

// Match assigns each logical field to at most one header. Overrides are applied first, then
// exact alias matches, then fuzzy matches; the closest candidate wins and ties go to the
// leftmost column.
func (m *HeaderMatcher) Match(headers []string, overrides map[string]string) (ColumnMapping, error) {
	mapping := ColumnMapping{
		ByHeader: map[string]string{},
		Columns:  map[string]int{},
		Unmapped: []string{},
	}
	takenColumn := make(map[int]bool, len(headers))

	for source, field := range overrides {
		if _, ok := m.aliases[field]; !ok && !isLogicalField(field) {
			return ColumnMapping{}, fmt.Errorf("%w: unknown field %q in column override", domain.ErrInvalidInput, field)
		}
		column := -1
		for idx, header := range headers {
			if strings.EqualFold(strings.TrimSpace(header), strings.TrimSpace(source)) {
				column = idx
				break
			}
		}
		if column < 0 {
			return ColumnMapping{}, fmt.Errorf("%w: column override %q matches no header", domain.ErrInvalidInput, source)
		}
		if _, dup := mapping.Columns[field]; dup {
			return ColumnMapping{}, fmt.Errorf("%w: field %q overridden twice", domain.ErrInvalidInput, field)
		}
		mapping.Columns[field] = column
		mapping.ByHeader[headers[column]] = field
		takenColumn[column] = true
	}

	candidates := []headerCandidate{}
	for column, header := range headers {
		if takenColumn[column] {
			continue
		}
		normalized := normalizeHeader(header)
		if normalized == "" {
			continue
		}
		for rank, field := range domain.LogicalFields {
			if _, claimed := mapping.Columns[field]; claimed {
				continue
			}
			distance, ok := m.distance(normalized, field)
			if !ok {
				continue
			}
			candidates = append(candidates, headerCandidate{column: column, field: field, distance: distance, rank: rank})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.column != b.column {
			return a.column < b.column
		}
		return a.rank < b.rank
	})

	for _, candidate := range candidates {
		if takenColumn[candidate.column] {
			continue
		}
		if _, claimed := mapping.Columns[candidate.field]; claimed {
			continue
		}
		mapping.Columns[candidate.field] = candidate.column
		mapping.ByHeader[headers[candidate.column]] = candidate.field
		takenColumn[candidate.column] = true
	}

	for column, header := range headers {
		if !takenColumn[column] {
			mapping.Unmapped = append(mapping.Unmapped, header)
		}
	}
	return mapping, nil
}

// distance returns the smallest edit distance between a normalized header and the aliases
// of field, if it is within the matcher's tolerance.
func (m *HeaderMatcher) distance(normalized string, field string) (int, bool) {
	best := -1
	for _, alias := range m.aliases[field] {
		if alias == normalized {
			return 0, true
		}
		if m.maxDistance <= 0 || len(normalized) < minFuzzyHeaderLength || len(alias) < minFuzzyHeaderLength {
			continue
		}
		d := levenshtein.ComputeDistance(normalized, alias)
		if d <= m.maxDistance && (best < 0 || d < best) {
			best = d
		}
	}
	return best, best >= 0
}

func isLogicalField(field string) bool {
	for _, known := range domain.LogicalFields {
		if known == field {
			return true
		}
	}
	return false
}

func normalizeHeader(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
