package quality

import (
	"math"

	"github.com/rpattn/stockimport/internal/domain"
)

// Recommendation templates, emitted in this order.
const (
	RecommendReviewSource = "Review data source quality"
	RecommendCompleteness = "Fill in missing required fields before approval"
	RecommendAccuracy     = "Correct rows with validation errors and re-upload"
	RecommendConsistency  = "Review rows flagged with warnings"
	RecommendValidity     = "Check column mapping against the import template"
	RecommendDuplicates   = "Resolve duplicate records before approval"
	RecommendEmptySession = "No records to evaluate"
)

// Thresholds trigger recommendations when a score falls below them.
type Thresholds struct {
	ReviewSource float64 `mapstructure:"review_source"`
	Completeness float64 `mapstructure:"completeness"`
	Accuracy     float64 `mapstructure:"accuracy"`
	Consistency  float64 `mapstructure:"consistency"`
	Validity     float64 `mapstructure:"validity"`
}

// DefaultThresholds returns the shipped threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ReviewSource: 60,
		Completeness: 90,
		Accuracy:     80,
		Consistency:  80,
		Validity:     70,
	}
}

// Scorer derives dataset level quality metrics from validated records.
type Scorer struct {
	thresholds Thresholds
}

// NewScorer creates a scorer with the given thresholds.
func NewScorer(thresholds Thresholds) *Scorer {
	return &Scorer{thresholds: thresholds}
}

// Score computes the metrics for records. requiredFields are the fields whose presence
// counts toward completeness. Score never mutates its inputs.
func (s *Scorer) Score(records []domain.ValidatedRecord, requiredFields []string) domain.QualityMetrics {
	if len(records) == 0 {
		return domain.QualityMetrics{Recommendations: []string{RecommendEmptySession}}
	}

	total := float64(len(records))
	var filledSlots, noErrors, noWarnings, valid, duplicates int
	for _, record := range records {
		for _, field := range requiredFields {
			if record.Value(field) != "" {
				filledSlots++
			}
		}
		if len(record.ValidationErrors) == 0 {
			noErrors++
		}
		if len(record.ValidationWarnings) == 0 {
			noWarnings++
		}
		if record.ValidationStatus == domain.ValidationStatusValid {
			valid++
		}
		if record.IsDuplicate {
			duplicates++
		}
	}

	completeness := 100.0
	if slots := len(records) * len(requiredFields); slots > 0 {
		completeness = percent(float64(filledSlots), float64(slots))
	}

	metrics := domain.QualityMetrics{
		RecordCount:       len(records),
		CompletenessScore: completeness,
		AccuracyScore:     percent(float64(noErrors), total),
		ConsistencyScore:  percent(float64(noWarnings), total),
		ValidityScore:     percent(float64(valid), total),
	}
	mean := (metrics.CompletenessScore + metrics.AccuracyScore + metrics.ConsistencyScore + metrics.ValidityScore) / 4
	metrics.OverallScore = int(math.Round(mean))
	metrics.Recommendations = s.recommend(metrics, duplicates)
	return metrics
}

func (s *Scorer) recommend(metrics domain.QualityMetrics, duplicates int) []string {
	recommendations := []string{}
	if float64(metrics.OverallScore) < s.thresholds.ReviewSource {
		recommendations = append(recommendations, RecommendReviewSource)
	}
	if metrics.CompletenessScore < s.thresholds.Completeness {
		recommendations = append(recommendations, RecommendCompleteness)
	}
	if metrics.AccuracyScore < s.thresholds.Accuracy {
		recommendations = append(recommendations, RecommendAccuracy)
	}
	if metrics.ConsistencyScore < s.thresholds.Consistency {
		recommendations = append(recommendations, RecommendConsistency)
	}
	if metrics.ValidityScore < s.thresholds.Validity {
		recommendations = append(recommendations, RecommendValidity)
	}
	if duplicates > 0 {
		recommendations = append(recommendations, RecommendDuplicates)
	}
	return recommendations
}

// percent returns 100 * part / whole rounded to two decimals.
func percent(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(part/whole*10000) / 100
}
