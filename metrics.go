package tunelink

import (
	"math/bits"
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID uint16

const (
	// MetricFarcasterAuthSet counts Farcaster identity writes.
	MetricFarcasterAuthSet MetricID = iota
	// MetricSpotifyAuthSet counts Spotify identity writes.
	MetricSpotifyAuthSet
	// MetricSessionCleared counts full session resets.
	MetricSessionCleared
	// MetricRefreshSuccess counts successful token refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed token refreshes.
	MetricRefreshFailure
	// MetricRefreshDeduped counts callers that joined an in-flight
	// refresh instead of issuing their own.
	MetricRefreshDeduped
	// MetricLinkSuccess counts confirmed account links.
	MetricLinkSuccess
	// MetricLinkFailure counts declined or failed link attempts.
	MetricLinkFailure
	// MetricLinkDeduped counts link callers that joined an in-flight
	// request.
	MetricLinkDeduped
	// MetricLinkStatusChecked counts linked-status queries.
	MetricLinkStatusChecked
	// MetricProofGenerated counts generated attestations.
	MetricProofGenerated
	// MetricProofValid counts validations that passed all checks.
	MetricProofValid
	// MetricProofSignatureInvalid counts signature check failures.
	MetricProofSignatureInvalid
	// MetricProofHashMismatch counts payload hash mismatches.
	MetricProofHashMismatch
	// MetricProofExpired counts attestations rejected for age.
	MetricProofExpired
	// MetricProofStored counts persisted attestations.
	MetricProofStored
	// MetricStorageUnavailable counts store operations that failed
	// because the backend was unreachable.
	MetricStorageUnavailable
	// MetricProofValidateLatency is the validation latency histogram.
	MetricProofValidateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics holds atomic counters and an optional latency histogram. All
// operations are no-ops when disabled, so instrumented code paths never
// branch on configuration.
type Metrics struct {
	enabled       bool
	latencyOn     bool
	counters      [metricIDCount]paddedCounter
	validateHist  metricHistogram
	validateCount atomic.Uint64
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics instance. When cfg.Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:   cfg.Enabled,
		latencyOn: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc adds one to the given counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// ObserveValidateLatency records one proof validation duration.
// Buckets are powers of two in microseconds with inclusive upper bounds,
// matching the exported le labels: <=1µs, <=2µs, ... <=64µs, rest.
func (m *Metrics) ObserveValidateLatency(d time.Duration) {
	if m == nil || !m.latencyOn {
		return
	}
	m.validateCount.Add(1)

	micros := uint64(d.Microseconds())
	bucket := 0
	if micros > 1 {
		// ceil(log2(micros)), so exact powers of two land on their own
		// bound instead of the next one up.
		bucket = bits.Len64(micros - 1)
	}
	if bucket >= histBucketCount {
		bucket = histBucketCount - 1
	}
	atomic.AddUint64(&m.validateHist.buckets[bucket], 1)
}

// Snapshot returns a deep copy of all counters and histograms. Zero-valued
// counters are included so exporters render a stable series set.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, metricIDCount),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	if m == nil || !m.enabled {
		return snapshot
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricProofValidateLatency {
			continue
		}
		snapshot.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.latencyOn {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.validateHist.buckets[i])
		}
		snapshot.Histograms[MetricProofValidateLatency] = buckets
	}

	return snapshot
}
