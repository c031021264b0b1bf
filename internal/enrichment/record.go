// Package enrichment drives multi-source threat intelligence lookups:
// cache consultation, rate-limited concurrent fan-out, partial-failure
// aggregation, and correlation of the gathered results into one record.
package enrichment

import (
	"time"

	"github.com/mdtran/intelweaver/internal/indicator"
	"github.com/mdtran/intelweaver/internal/intel"
)

// SourceConfig is the static, read-only configuration of one source.
type SourceConfig struct {
	Enabled            bool
	Priority           int
	RateLimitPerMinute int
	CacheTTL           time.Duration
}

// SourceResult is the outcome of consulting one source for one request.
// Failures are data here, never propagated errors.
type SourceResult struct {
	Source    intel.Source    `json:"source"`
	Success   bool            `json:"success"`
	FromCache bool            `json:"from_cache"`
	Report    *intel.Report   `json:"report,omitempty"`
	ErrorKind intel.ErrorKind `json:"error_kind,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
}

// Record is the aggregate enrichment result for one indicator. It is
// immutable once returned and never persisted by this package.
type Record struct {
	Indicator indicator.Indicator `json:"indicator"`

	// PerSource is the full audit trail: every considered source appears
	// here, whether it succeeded, failed, or was skipped.
	PerSource map[intel.Source]SourceResult `json:"per_source"`

	// SourcesQueried lists sources whose fresh fetch succeeded.
	SourcesQueried []intel.Source `json:"sources_queried"`
	// SourcesFromCache lists sources served from the cache.
	SourcesFromCache []intel.Source `json:"sources_from_cache"`
	// SourcesSkipped lists sources denied by the rate limiter.
	SourcesSkipped []intel.Source `json:"sources_skipped"`

	// ThreatScore is the correlated 0-100 score; nil when no source
	// produced a usable verdict.
	ThreatScore     *float64 `json:"threat_score,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	Tags            []string `json:"tags,omitempty"`

	// CacheHit is true only when every considered source was served from
	// cache and no fresh fetch was needed.
	CacheHit    bool      `json:"cache_hit"`
	GeneratedAt time.Time `json:"generated_at"`
}
