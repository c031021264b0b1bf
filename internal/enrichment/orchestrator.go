package enrichment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mdtran/intelweaver/internal/cache"
	"github.com/mdtran/intelweaver/internal/indicator"
	"github.com/mdtran/intelweaver/internal/intel"
	"github.com/mdtran/intelweaver/internal/observability"
	"github.com/mdtran/intelweaver/internal/ratelimit"
)

// Orchestrator errors. Per-source failures are never surfaced this way;
// only request-level problems abort a call.
var (
	ErrNoSources       = errors.New("no threat intelligence sources available")
	ErrUnknownSource   = errors.New("unknown source")
	ErrTooManyRequests = errors.New("too many enrichment requests in flight")
)

// Orchestrator coordinates cache lookups, rate-limited concurrent source
// fetches, and correlation for enrichment requests. The cache store and
// rate limiter are shared by every concurrent request; the orchestrator
// owns their lifetime.
type Orchestrator struct {
	clients    map[intel.Source]intel.Client
	configs    map[intel.Source]SourceConfig
	order      []intel.Source
	store      *cache.Store
	limiter    *ratelimit.Limiter
	correlator *Correlator
	logger     *zap.Logger
	metrics    *observability.Metrics

	inflight       chan struct{}
	defaultTimeout time.Duration
	now            func() time.Time
}

// Options bounds orchestrator-wide behavior.
type Options struct {
	// DefaultTimeout applies when the caller's context carries no
	// deadline.
	DefaultTimeout time.Duration
	// MaxInFlight caps concurrent Enrich calls; further calls fail fast
	// with ErrTooManyRequests.
	MaxInFlight int
	// Metrics may be nil (e.g. in tests).
	Metrics *observability.Metrics
}

// NewOrchestrator wires the shared components together. Only sources with
// both a client and an enabled config participate; order of consideration
// is ascending configured priority.
func NewOrchestrator(store *cache.Store, limiter *ratelimit.Limiter, clients map[intel.Source]intel.Client, configs map[intel.Source]SourceConfig, logger *zap.Logger, opts Options) (*Orchestrator, error) {
	var order []intel.Source
	for source, cfg := range configs {
		if cfg.Enabled && clients[source] != nil {
			order = append(order, source)
		}
	}
	if len(order) == 0 {
		return nil, ErrNoSources
	}
	sort.Slice(order, func(i, j int) bool {
		pi, pj := configs[order[i]].Priority, configs[order[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return order[i] < order[j]
	})

	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 64
	}

	return &Orchestrator{
		clients:        clients,
		configs:        configs,
		order:          order,
		store:          store,
		limiter:        limiter,
		correlator:     NewCorrelator(configs),
		logger:         logger,
		metrics:        opts.Metrics,
		inflight:       make(chan struct{}, opts.MaxInFlight),
		defaultTimeout: opts.DefaultTimeout,
		now:            time.Now,
	}, nil
}

// fetchOutcome carries one completed fetch from its goroutine to the
// collecting loop. The channel is buffered to the number of dispatched
// fetches so late completions never block a goroutine.
type fetchOutcome struct {
	source  intel.Source
	report  *intel.Report
	err     error
	latency time.Duration
}

// Enrich produces the aggregate record for one indicator. Per-source
// failures and rate-limit denials become data inside the record; the call
// itself fails only for request-level reasons (unknown source name, too
// many calls in flight).
//
// Sources restricts the considered set; nil means all enabled sources in
// priority order.
func (o *Orchestrator) Enrich(ctx context.Context, ind indicator.Indicator, sources []intel.Source) (*Record, error) {
	select {
	case o.inflight <- struct{}{}:
		defer func() { <-o.inflight }()
	default:
		if o.metrics != nil {
			o.metrics.InFlightRejections.Inc()
		}
		return nil, ErrTooManyRequests
	}

	considered, err := o.consider(ind, sources)
	if err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.defaultTimeout)
		defer cancel()
	}

	start := o.now()
	record := &Record{
		Indicator:        ind,
		PerSource:        make(map[intel.Source]SourceResult, len(considered)),
		SourcesQueried:   []intel.Source{},
		SourcesFromCache: []intel.Source{},
		SourcesSkipped:   []intel.Source{},
	}

	// Phase 1: cache. A hit short-circuits the source entirely; the rate
	// limiter is never consulted for it.
	var toFetch []intel.Source
	for _, source := range considered {
		if result, ok := o.fromCache(ind, source); ok {
			record.PerSource[source] = result
			record.SourcesFromCache = append(record.SourcesFromCache, source)
			continue
		}
		toFetch = append(toFetch, source)
	}

	// Phase 2: admission. A denial is an expected operating condition,
	// recorded as skipped rather than failed.
	var admitted []intel.Source
	for _, source := range toFetch {
		if d := o.limiter.Admit(string(source)); !d.Granted {
			record.PerSource[source] = SourceResult{Source: source, ErrorKind: intel.ErrKindRateLimited}
			record.SourcesSkipped = append(record.SourcesSkipped, source)
			if o.metrics != nil {
				o.metrics.RateLimitSkips.WithLabelValues(string(source)).Inc()
			}
			o.logger.Debug("source skipped by rate limit",
				zap.String("indicator", ind.Key()),
				zap.String("source", string(source)),
				zap.Time("retry_at", d.RetryAt))
			continue
		}
		admitted = append(admitted, source)
	}

	// Phase 3: concurrent fan-out bounded by the request deadline. Each
	// fetch runs in its own goroutine; the buffered channel guarantees a
	// late completion never blocks, and the collecting loop below is the
	// only writer into the record, so nothing lands after we return.
	results := make(chan fetchOutcome, len(admitted))
	for _, source := range admitted {
		go o.dispatch(ctx, ind, source, results)
	}

	pending := make(map[intel.Source]struct{}, len(admitted))
	for _, source := range admitted {
		pending[source] = struct{}{}
	}

	for len(pending) > 0 {
		select {
		case outcome := <-results:
			delete(pending, outcome.source)
			record.PerSource[outcome.source] = o.absorb(ind, outcome)
			if outcome.err == nil {
				record.SourcesQueried = append(record.SourcesQueried, outcome.source)
			}
		case <-ctx.Done():
			// Whatever is still outstanding is recorded as timed out and
			// abandoned; its eventual completion is discarded unread.
			for source := range pending {
				record.PerSource[source] = SourceResult{Source: source, ErrorKind: intel.ErrKindTimeout}
				if o.metrics != nil {
					o.metrics.SourceFetches.WithLabelValues(string(source), "timeout").Inc()
				}
			}
			pending = nil
		}
	}

	record.CacheHit = len(considered) > 0 && len(record.SourcesFromCache) == len(considered)
	record.ThreatScore, record.ConfidenceScore, record.Tags = o.correlator.Correlate(resultList(record.PerSource))
	record.GeneratedAt = o.now()

	if o.metrics != nil {
		o.metrics.EnrichmentRequests.WithLabelValues(string(ind.Kind), outcomeLabel(record)).Inc()
		o.metrics.EnrichmentDuration.Observe(o.now().Sub(start).Seconds())
	}
	o.logger.Info("enrichment complete",
		zap.String("indicator", ind.Key()),
		zap.Int("queried", len(record.SourcesQueried)),
		zap.Int("from_cache", len(record.SourcesFromCache)),
		zap.Int("skipped", len(record.SourcesSkipped)),
		zap.Bool("cache_hit", record.CacheHit),
		zap.Duration("elapsed", o.now().Sub(start)))

	return record, nil
}

// consider resolves the considered source set for an indicator: the
// requested sources (or all enabled ones) that support its kind, in
// priority order.
func (o *Orchestrator) consider(ind indicator.Indicator, requested []intel.Source) ([]intel.Source, error) {
	base := o.order
	if len(requested) > 0 {
		seen := make(map[intel.Source]struct{}, len(requested))
		for _, source := range requested {
			if !source.Valid() {
				return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
			}
			seen[source] = struct{}{}
		}
		filtered := make([]intel.Source, 0, len(requested))
		for _, source := range o.order {
			if _, ok := seen[source]; ok {
				filtered = append(filtered, source)
			}
		}
		base = filtered
	}

	considered := make([]intel.Source, 0, len(base))
	for _, source := range base {
		if o.clients[source].Supports(ind.Kind) {
			considered = append(considered, source)
		}
	}
	return considered, nil
}

// fromCache attempts to serve one source from the persistent cache.
func (o *Orchestrator) fromCache(ind indicator.Indicator, source intel.Source) (SourceResult, bool) {
	entry, ok := o.store.Get(ind, source)
	if o.metrics != nil {
		label := "miss"
		if ok {
			label = "hit"
		}
		o.metrics.CacheLookups.WithLabelValues(label).Inc()
	}
	if !ok {
		return SourceResult{}, false
	}

	var report intel.Report
	if err := json.Unmarshal(entry.Payload, &report); err != nil {
		o.logger.Warn("undecodable cache payload, treating as miss",
			zap.String("indicator", ind.Key()),
			zap.String("source", string(source)),
			zap.Error(err))
		return SourceResult{}, false
	}

	return SourceResult{
		Source:    source,
		Success:   true,
		FromCache: true,
		Report:    &report,
	}, true
}

// dispatch runs a single source fetch and delivers its outcome.
func (o *Orchestrator) dispatch(ctx context.Context, ind indicator.Indicator, source intel.Source, results chan<- fetchOutcome) {
	start := time.Now()
	report, err := o.clients[source].Fetch(ctx, ind)
	results <- fetchOutcome{
		source:  source,
		report:  report,
		err:     err,
		latency: time.Since(start),
	}
}

// absorb converts a completed fetch into a SourceResult and, on success,
// writes it back to the cache with the source's configured TTL. The
// write-back is unconditional but its failure never fails the request.
func (o *Orchestrator) absorb(ind indicator.Indicator, outcome fetchOutcome) SourceResult {
	result := SourceResult{
		Source:    outcome.source,
		LatencyMS: outcome.latency.Milliseconds(),
	}

	if outcome.err != nil {
		result.ErrorKind = intel.KindOf(outcome.err)
		if o.metrics != nil {
			o.metrics.SourceFetches.WithLabelValues(string(outcome.source), string(result.ErrorKind)).Inc()
		}
		o.logger.Warn("source fetch failed",
			zap.String("indicator", ind.Key()),
			zap.String("source", string(outcome.source)),
			zap.String("kind", string(result.ErrorKind)),
			zap.Error(outcome.err))
		return result
	}

	result.Success = true
	result.Report = outcome.report
	if o.metrics != nil {
		o.metrics.SourceFetches.WithLabelValues(string(outcome.source), "success").Inc()
		o.metrics.SourceFetchLatency.WithLabelValues(string(outcome.source)).Observe(outcome.latency.Seconds())
	}

	payload, err := json.Marshal(outcome.report)
	if err == nil {
		now := o.now()
		err = o.store.Put(&cache.Entry{
			Indicator:   ind,
			Source:      outcome.source,
			Payload:     payload,
			RetrievedAt: now,
			ExpiresAt:   now.Add(o.configs[outcome.source].CacheTTL),
		})
	}
	if err != nil {
		o.logger.Warn("cache write-back failed",
			zap.String("indicator", ind.Key()),
			zap.String("source", string(outcome.source)),
			zap.Error(err))
	}

	return result
}

// SourceStatus is a point-in-time view of one configured source.
type SourceStatus struct {
	Source             intel.Source `json:"source"`
	Enabled            bool         `json:"enabled"`
	Priority           int          `json:"priority"`
	RateLimitPerMinute int          `json:"rate_limit_per_minute"`
	WindowUsed         int          `json:"window_used"`
	CacheTTLSeconds    int          `json:"cache_ttl_seconds"`
}

// SourceStatuses reports every enabled source in priority order.
func (o *Orchestrator) SourceStatuses() []SourceStatus {
	statuses := make([]SourceStatus, 0, len(o.order))
	for _, source := range o.order {
		cfg := o.configs[source]
		used, limit := o.limiter.Window(string(source))
		statuses = append(statuses, SourceStatus{
			Source:             source,
			Enabled:            cfg.Enabled,
			Priority:           cfg.Priority,
			RateLimitPerMinute: limit,
			WindowUsed:         used,
			CacheTTLSeconds:    int(cfg.CacheTTL.Seconds()),
		})
	}
	return statuses
}

// HealthCheck fans out provider health checks, reporting per-source
// errors without failing the whole check.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[intel.Source]error {
	type healthOutcome struct {
		source intel.Source
		err    error
	}

	results := make(chan healthOutcome, len(o.order))
	for _, source := range o.order {
		go func(source intel.Source) {
			results <- healthOutcome{source: source, err: o.clients[source].HealthCheck(ctx)}
		}(source)
	}

	health := make(map[intel.Source]error, len(o.order))
	for range o.order {
		outcome := <-results
		health[outcome.source] = outcome.err
	}
	return health
}

// resultList flattens the audit map in deterministic source order.
func resultList(perSource map[intel.Source]SourceResult) []SourceResult {
	sources := make([]intel.Source, 0, len(perSource))
	for source := range perSource {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	results := make([]SourceResult, 0, len(sources))
	for _, source := range sources {
		results = append(results, perSource[source])
	}
	return results
}

func outcomeLabel(record *Record) string {
	switch {
	case record.CacheHit:
		return "cache_hit"
	case len(record.SourcesQueried) > 0 || len(record.SourcesFromCache) > 0:
		return "enriched"
	default:
		return "no_data"
	}
}

// correlationID derives a stable identifier for a batch correlation from
// its inputs and start time.
func correlationID(values []string, at time.Time) string {
	h := sha256.New()
	for _, v := range values {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	h.Write([]byte(at.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
