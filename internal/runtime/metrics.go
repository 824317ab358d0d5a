package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/decodeflow/internal/runtime/cache"
)

// Outcome labels of decodeflow_stage_envelopes_total.
const (
	OutcomeEmitted   = "emitted"
	OutcomeRecovered = "recovered"
	OutcomeEscalated = "escalated"
)

// Cache names used in metric labels.
const (
	CacheDecoders    = "decoders"
	CacheDataSources = "datasources"
)

// StageMetrics tracks what the stage does with envelopes, how the resolution
// caches behave and how long decoders take.
type StageMetrics struct {
	mu sync.RWMutex

	counts map[string]uint64
	// failures by error class, for the admin endpoint
	failures map[string]uint64

	envelopesTotal  *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	cacheEvents     *prometheus.CounterVec
	decodeSeconds   *prometheus.HistogramVec
	resolveSeconds  *prometheus.HistogramVec
	recoverySeconds *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// StageMetricsSnapshot is a point-in-time copy of the stage counters.
type StageMetricsSnapshot struct {
	Emitted     uint64            `json:"emitted"`
	Recovered   uint64            `json:"recovered"`
	Escalated   uint64            `json:"escalated"`
	Failures    map[string]uint64 `json:"failures"`
	CollectedAt time.Time         `json:"collected_at"`
}

func newStageCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decodeflow",
			Subsystem: "stage",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newStageHistogramVec(name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "decodeflow",
			Subsystem: "stage",
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		},
		labels,
	)
}

// NewStageMetrics creates the collectors. A nil registerer uses the Prometheus default.
func NewStageMetrics(registerer prometheus.Registerer) *StageMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &StageMetrics{
		counts:          make(map[string]uint64),
		failures:        make(map[string]uint64),
		registerer:      registerer,
		envelopesTotal:  newStageCounterVec("envelopes_total", "Envelopes handled by the stage, by outcome", []string{"outcome"}),
		failuresTotal:   newStageCounterVec("failures_total", "Envelopes that failed to decode, by failure class", []string{"class"}),
		cacheEvents:     newStageCounterVec("cache_events_total", "Resolution cache hits, misses and load outcomes", []string{"cache", "event"}),
		decodeSeconds:   newStageHistogramVec("decode_seconds", "Time spent inside decoders", []string{"decoder"}),
		resolveSeconds:  newStageHistogramVec("resolve_seconds", "Time spent loading decoders and data sources on cache misses", []string{"cache"}),
		recoverySeconds: newStageHistogramVec("recovery_save_seconds", "Time spent saving rejected payloads", nil),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *StageMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.envelopesTotal,
		m.failuresTotal,
		m.cacheEvents,
		m.decodeSeconds,
		m.resolveSeconds,
		m.recoverySeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordOutcome counts one envelope. failureClass is empty for emitted envelopes.
func (m *StageMetrics) RecordOutcome(outcome, failureClass string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[outcome]++
	m.envelopesTotal.WithLabelValues(outcome).Inc()
	if failureClass != "" {
		m.failures[failureClass]++
		m.failuresTotal.WithLabelValues(failureClass).Inc()
	}
}

// CacheObserver returns a cache.Observer feeding the cache_events_total counter.
func (m *StageMetrics) CacheObserver(cacheName string) cache.Observer {
	return func(_ string, ev cache.Event) {
		m.cacheEvents.WithLabelValues(cacheName, string(ev)).Inc()
	}
}

func (m *StageMetrics) ObserveDecode(decoder string, d time.Duration) {
	m.decodeSeconds.WithLabelValues(decoder).Observe(d.Seconds())
}

func (m *StageMetrics) ObserveResolve(cacheName string, d time.Duration) {
	m.resolveSeconds.WithLabelValues(cacheName).Observe(d.Seconds())
}

func (m *StageMetrics) ObserveRecovery(d time.Duration) {
	m.recoverySeconds.WithLabelValues().Observe(d.Seconds())
}

// GetSnapshot returns a copy of the counters.
func (m *StageMetrics) GetSnapshot() StageMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failures := make(map[string]uint64, len(m.failures))
	for class, n := range m.failures {
		failures[class] = n
	}
	return StageMetricsSnapshot{
		Emitted:     m.counts[OutcomeEmitted],
		Recovered:   m.counts[OutcomeRecovered],
		Escalated:   m.counts[OutcomeEscalated],
		Failures:    failures,
		CollectedAt: time.Now(),
	}
}

// Reset clears all counters (useful for testing).
func (m *StageMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts = make(map[string]uint64)
	m.failures = make(map[string]uint64)
	m.envelopesTotal.Reset()
	m.failuresTotal.Reset()
	m.cacheEvents.Reset()
	m.decodeSeconds.Reset()
	m.resolveSeconds.Reset()
	m.recoverySeconds.Reset()
}
