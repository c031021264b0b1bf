package enrichment

import (
	"sort"
	"strings"

	"github.com/mdtran/intelweaver/internal/intel"
)

// Correlator merges per-source results into a single score and tag set.
// It is deterministic: the same inputs produce the same outputs regardless
// of the order sources completed in.
type Correlator struct {
	priorities map[intel.Source]int
}

// NewCorrelator creates a correlator using the configured per-source
// priorities. Priorities are read-only after construction.
func NewCorrelator(configs map[intel.Source]SourceConfig) *Correlator {
	priorities := make(map[intel.Source]int, len(configs))
	for source, cfg := range configs {
		priorities[source] = cfg.Priority
	}
	return &Correlator{priorities: priorities}
}

// Correlate computes the priority-weighted threat score, an aggregate
// confidence, and the de-duplicated union of tags and categories across
// all successful results. Failed or skipped sources contribute nothing;
// correlation degrades gracefully with fewer inputs.
func (c *Correlator) Correlate(results []SourceResult) (score *float64, confidence float64, tags []string) {
	// Sort by priority, then source name, so floating point accumulation
	// order is fixed and ties resolve to the lower priority number.
	ordered := make([]SourceResult, 0, len(results))
	for _, r := range results {
		if r.Success && r.Report != nil {
			ordered = append(ordered, r)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		pi, pj := c.priority(ordered[i].Source), c.priority(ordered[j].Source)
		if pi != pj {
			return pi < pj
		}
		return ordered[i].Source < ordered[j].Source
	})

	tagSet := make(map[string]struct{})
	var weightedSum, weightTotal float64
	scored := 0

	for _, r := range ordered {
		for _, t := range r.Report.Tags {
			addTag(tagSet, t)
		}
		for _, cat := range r.Report.Categories {
			addTag(tagSet, cat)
		}

		if r.Report.Score == nil {
			continue
		}
		w := c.weight(r.Source)
		weightedSum += *r.Report.Score * w
		weightTotal += w
		scored++
	}

	if scored > 0 && weightTotal > 0 {
		s := clampScore(weightedSum / weightTotal)
		score = &s
		confidence = scoreConfidence(scored)
	}

	tags = make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	if len(tags) == 0 {
		tags = nil
	}

	return score, confidence, tags
}

// priority returns the configured priority, with unconfigured sources
// ranked last.
func (c *Correlator) priority(source intel.Source) int {
	if p, ok := c.priorities[source]; ok && p > 0 {
		return p
	}
	return 1 << 16
}

// weight converts priority rank into a score weight: priority 1 counts
// twice as much as priority 2, and so on.
func (c *Correlator) weight(source intel.Source) float64 {
	return 1 / float64(c.priority(source))
}

// scoreConfidence grows with the number of agreeing sources and caps
// below certainty.
func scoreConfidence(scored int) float64 {
	conf := 0.5 + 0.1*float64(scored)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func addTag(set map[string]struct{}, tag string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag != "" {
		set[tag] = struct{}{}
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
