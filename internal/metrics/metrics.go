// Package metrics provides Prometheus counters for cache and loader observability.
//
// Metrics live on a private registry owned by the composition root, so tests
// and multiple clients in one process never share counters. Every method is
// safe on a nil *Metrics, which records nothing.
//
// Usage:
//
//	m := metrics.New()
//	m.CacheHit("home")
//	m.DecodeFailure("home.user_stats")
//	m.LoaderCycle("friends", metrics.OutcomeReady)
package metrics

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "codestreak"

// Loader cycle outcomes.
const (
	OutcomeCacheHit      = "cache_hit"
	OutcomeReady         = "ready"
	OutcomeError         = "error"
	OutcomeCancelled     = "cancelled"
	OutcomeRefreshed     = "refreshed"
	OutcomeRefreshFailed = "refresh_failed"
)

// Metrics holds every collector of the client.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	writeFailures  prometheus.Counter

	loaderCycles *prometheus.CounterVec

	apiRequests  *prometheus.CounterVec
	apiDuration  *prometheus.HistogramVec
	rateLimited  prometheus.Counter
	breakerState *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache lookups that returned a fresh value",
		}, []string{"group"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache lookups that were absent, expired or unreadable",
		}, []string{"group"}),
		decodeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_decode_failures_total",
			Help:      "Cached values that could not be decoded (schema drift)",
		}, []string{"key"}),
		writeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_write_failures_total",
			Help:      "Cache writes rejected by the store",
		}),
		loaderCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loader_cycles_total",
			Help:      "Load cycles by feature area and outcome",
		}, []string{"loader", "outcome"}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by endpoint and HTTP status (0 for transport errors)",
		}, []string{"endpoint", "status"}),
		apiDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_rate_limited_total",
			Help:      "HTTP 429 responses received",
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CacheHit records a fresh cache read.
func (m *Metrics) CacheHit(group string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(group).Inc()
}

// CacheMiss records an absent or expired cache read.
func (m *Metrics) CacheMiss(group string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(group).Inc()
}

// DecodeFailure records an undecodable cached value.
func (m *Metrics) DecodeFailure(key string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(key).Inc()
}

// WriteFailure records a failed cache write.
func (m *Metrics) WriteFailure() {
	if m == nil {
		return
	}
	m.writeFailures.Inc()
}

// LoaderCycle records the end of a load cycle or background refresh.
func (m *Metrics) LoaderCycle(loader, outcome string) {
	if m == nil {
		return
	}
	m.loaderCycles.WithLabelValues(loader, outcome).Inc()
}

// APIRequest records one API call. Status 0 means the request never got a response.
func (m *Metrics) APIRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, statusLabel(status)).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// RateLimited records an HTTP 429.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// BreakerState records a circuit breaker transition.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func statusLabel(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

// Sample is one counter or gauge value, flattened for display.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// Snapshot gathers every counter and gauge (histograms report their sample count),
// sorted by name then labels.
func (m *Metrics) Snapshot() ([]Sample, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	var out []Sample
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			s := Sample{Name: fam.GetName(), Labels: formatLabels(metric.GetLabel())}
			switch fam.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				s.Value = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Value = float64(metric.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return strings.Join(parts, ",")
}
