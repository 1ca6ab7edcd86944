package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency can be used by store implementations to record operation latency.
	StoreLatency *prometheus.HistogramVec

	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter

	sessionsActive       prometheus.Gauge
	sessionEventsTotal   *prometheus.CounterVec
	characterMismatches  prometheus.Counter
	reencryptedDocsTotal *prometheus.CounterVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers. Until it is called
// every Record* helper is a no-op, which keeps unit tests free of registry state.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_store_latency_seconds",
			Help:    "Profile store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	cacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "companion_key_cache_hits_total",
		Help: "Total derived-key cache hits",
	})

	cacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "companion_key_cache_misses_total",
		Help: "Total derived-key cache misses",
	})

	sessionsActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "companion_sessions_active",
		Help: "Number of live chat sessions",
	})

	sessionEventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_session_events_total",
			Help: "Session lifecycle events (created, switched, expired, logged_out, reload_failed)",
		},
		[]string{"event"},
	)

	characterMismatches = f.NewCounter(prometheus.CounterOpts{
		Name: "companion_character_mismatch_total",
		Help: "Character loads that reported a different active character than requested",
	})

	reencryptedDocsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_reencrypted_documents_total",
			Help: "Documents processed by password rotation, by outcome",
		},
		[]string{"outcome"},
	)
}

// RecordCacheHit counts a derived-key cache hit.
func RecordCacheHit() {
	if cacheHitsTotal != nil {
		cacheHitsTotal.Inc()
	}
}

// RecordCacheMiss counts a derived-key cache miss.
func RecordCacheMiss() {
	if cacheMissesTotal != nil {
		cacheMissesTotal.Inc()
	}
}

// SetSessionsActive publishes the current session count.
func SetSessionsActive(n int) {
	if sessionsActive != nil {
		sessionsActive.Set(float64(n))
	}
}

// RecordSessionEvent counts a session lifecycle event.
func RecordSessionEvent(event string) {
	if sessionEventsTotal != nil {
		sessionEventsTotal.WithLabelValues(event).Inc()
	}
}

// RecordCharacterMismatch counts a load that settled on an unexpected character.
func RecordCharacterMismatch() {
	if characterMismatches != nil {
		characterMismatches.Inc()
	}
}

// RecordReencrypted counts documents handled by password rotation.
func RecordReencrypted(outcome string, n int) {
	if reencryptedDocsTotal != nil && n > 0 {
		reencryptedDocsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// ObserveStore records the latency of a store operation.
func ObserveStore(op string, start time.Time) {
	if StoreLatency != nil {
		StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
