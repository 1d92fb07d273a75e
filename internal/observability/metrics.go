package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for task resolution, model calls and
// image composition.
type Metrics struct {
	stageDuration  *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	stageRetries   *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	gatewayCalls   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	imageVariants  *prometheus.CounterVec
	httpRequests   *prometheus.HistogramVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the instance registered with the global registry.
// Collectors are created once so repeated service construction in tests does
// not panic on duplicate registration.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Collectors that are already registered are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smm",
				Subsystem: "orchestrator",
				Name:      "stage_duration_seconds",
				Help:      "Duration spent in each resolution stage.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage", "status"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smm",
				Subsystem: "orchestrator",
				Name:      "stage_failures_total",
				Help:      "Stage executions that fell back or failed.",
			},
			[]string{"stage", "reason"},
		),
		stageRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smm",
				Subsystem: "orchestrator",
				Name:      "stage_retries_total",
				Help:      "Number of times a stage re-ran, e.g. a worker revision after QC.",
			},
			[]string{"stage"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smm",
				Subsystem: "orchestrator",
				Name:      "sessions_active",
				Help:      "Clarification sessions waiting for answers.",
			},
		),
		gatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smm",
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Model gateway calls by kind, model and outcome.",
			},
			[]string{"kind", "model", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smm",
				Subsystem: "images",
				Name:      "background_cache_lookups_total",
				Help:      "Background cache lookups by result.",
			},
			[]string{"result"},
		),
		imageVariants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smm",
				Subsystem: "images",
				Name:      "variants_total",
				Help:      "Composed image variants by mode.",
			},
			[]string{"mode"},
		),
		httpRequests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smm",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP API latency by route and status code.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	register(reg, &m.stageDuration)
	register(reg, &m.stageFailures)
	register(reg, &m.stageRetries)
	register(reg, &m.sessionsActive)
	register(reg, &m.gatewayCalls)
	register(reg, &m.cacheLookups)
	register(reg, &m.imageVariants)
	register(reg, &m.httpRequests)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector *C) {
	if err := reg.Register(*collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				*collector = existing
				return
			}
		}
		panic(err)
	}
}

// ObserveStage records the time spent in a stage with the provided status label.
func (m *Metrics) ObserveStage(stage, status string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// IncStageFailure increments the failure counter for the given stage and reason.
func (m *Metrics) IncStageFailure(stage, reason string) {
	if m == nil || m.stageFailures == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// IncStageRetry increments the retry counter for the given stage.
func (m *Metrics) IncStageRetry(stage string) {
	if m == nil || m.stageRetries == nil {
		return
	}
	m.stageRetries.WithLabelValues(stage).Inc()
}

func (m *Metrics) IncActiveSessions() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) DecActiveSessions() {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Dec()
}

// IncGatewayCall counts one text or image call. Outcome is ok, retry or error.
func (m *Metrics) IncGatewayCall(kind, model, outcome string) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(kind, model, outcome).Inc()
}

// IncCacheLookup counts a background cache hit or miss.
func (m *Metrics) IncCacheLookup(hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) AddImageVariants(mode string, n int) {
	if m == nil || m.imageVariants == nil || n <= 0 {
		return
	}
	m.imageVariants.WithLabelValues(mode).Add(float64(n))
}

// ObserveHTTPRequest records one served API request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
