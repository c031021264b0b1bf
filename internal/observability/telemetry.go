// Package observability provides structured logging and Prometheus
// metrics for IntelWeaver.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// NewLogger builds a zap logger from config. JSON output with ISO8601
// timestamps in production, colored console output for development.
func NewLogger(cfg LogConfig, serviceName, version string) (*zap.Logger, error) {
	var config zap.Config

	if cfg.Format == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch cfg.Level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"version": version,
	}

	return config.Build()
}

// Metrics holds the Prometheus instruments for the enrichment pipeline.
type Metrics struct {
	EnrichmentRequests *prometheus.CounterVec
	EnrichmentDuration prometheus.Histogram
	SourceFetches      *prometheus.CounterVec
	SourceFetchLatency *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	RateLimitSkips     *prometheus.CounterVec
	InFlightRejections prometheus.Counter
}

// NewMetrics registers and returns the pipeline metrics.
func NewMetrics() *Metrics {
	const namespace = "intelweaver"

	return &Metrics{
		EnrichmentRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_requests_total",
				Help:      "Enrichment requests by indicator kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		EnrichmentDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enrichment_duration_seconds",
				Help:      "End to end enrichment latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		SourceFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_fetches_total",
				Help:      "Provider fetch attempts by source and result",
			},
			[]string{"source", "result"},
		),
		SourceFetchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_fetch_duration_seconds",
				Help:      "Provider fetch latency by source",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		CacheLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
		RateLimitSkips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_skips_total",
				Help:      "Sources skipped by local rate limiting",
			},
			[]string{"source"},
		),
		InFlightRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inflight_rejections_total",
				Help:      "Enrichment requests rejected by the in-flight limit",
			},
		),
	}
}
