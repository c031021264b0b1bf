package enrichment

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mdtran/intelweaver/internal/indicator"
)

// ErrEmptyIndicators is returned when a correlation request names no
// indicators.
var ErrEmptyIndicators = errors.New("indicators list cannot be empty")

// IndicatorSummary is the per-indicator slice of a correlation result.
type IndicatorSummary struct {
	Value       string         `json:"value"`
	Kind        indicator.Kind `json:"kind,omitempty"`
	ThreatScore *float64       `json:"threat_score,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	// Error is set for indicators that could not be classified or
	// enriched; the batch as a whole still succeeds.
	Error string `json:"error,omitempty"`
}

// Relationship links two indicators that share enrichment tags.
type Relationship struct {
	Left       string   `json:"left"`
	Right      string   `json:"right"`
	SharedTags []string `json:"shared_tags"`
}

// CorrelationResult relates a batch of indicators through their
// enrichment data.
type CorrelationResult struct {
	CorrelationID   string             `json:"correlation_id"`
	Indicators      []IndicatorSummary `json:"indicators"`
	Relationships   []Relationship     `json:"relationships"`
	ConfidenceScore float64            `json:"confidence_score"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// CorrelateIndicators enriches each parseable indicator in the batch and
// reports pairwise relationships between indicators that share tags.
// Unparseable values are carried through with an error note rather than
// failing the batch; an empty batch is the only request-level error.
func (o *Orchestrator) CorrelateIndicators(ctx context.Context, values []string) (*CorrelationResult, error) {
	if len(values) == 0 {
		return nil, ErrEmptyIndicators
	}

	start := o.now()
	result := &CorrelationResult{
		CorrelationID: correlationID(values, start),
		Indicators:    make([]IndicatorSummary, 0, len(values)),
		Relationships: []Relationship{},
	}

	tagsByValue := make(map[string]map[string]struct{})
	var scored int
	for _, value := range values {
		summary := IndicatorSummary{Value: value}

		ind, err := indicator.Parse(value)
		if err != nil {
			summary.Error = err.Error()
			result.Indicators = append(result.Indicators, summary)
			continue
		}
		summary.Kind = ind.Kind

		record, err := o.Enrich(ctx, ind, nil)
		if err != nil {
			summary.Error = err.Error()
			result.Indicators = append(result.Indicators, summary)
			continue
		}

		summary.ThreatScore = record.ThreatScore
		summary.Tags = record.Tags
		if record.ThreatScore != nil {
			scored++
		}

		tags := make(map[string]struct{}, len(record.Tags))
		for _, t := range record.Tags {
			tags[t] = struct{}{}
		}
		tagsByValue[value] = tags

		result.Indicators = append(result.Indicators, summary)
	}

	result.Relationships = relateByTags(result.Indicators, tagsByValue)
	if len(values) > 0 {
		result.ConfidenceScore = float64(scored) / float64(len(values))
	}
	result.GeneratedAt = o.now()

	o.logger.Info("indicator correlation complete",
		zap.String("correlation_id", result.CorrelationID),
		zap.Int("indicators", len(values)),
		zap.Int("relationships", len(result.Relationships)))

	return result, nil
}

// relateByTags builds a relationship for every indicator pair sharing at
// least one tag. Pair order follows input order, so output is stable.
func relateByTags(summaries []IndicatorSummary, tagsByValue map[string]map[string]struct{}) []Relationship {
	relationships := []Relationship{}

	for i := 0; i < len(summaries); i++ {
		for j := i + 1; j < len(summaries); j++ {
			left, right := summaries[i].Value, summaries[j].Value
			shared := intersectTags(tagsByValue[left], tagsByValue[right])
			if len(shared) == 0 {
				continue
			}
			relationships = append(relationships, Relationship{
				Left:       left,
				Right:      right,
				SharedTags: shared,
			})
		}
	}

	return relationships
}

func intersectTags(a, b map[string]struct{}) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	var shared []string
	for t := range a {
		if _, ok := b[t]; ok {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared
}
