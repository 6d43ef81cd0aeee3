package port

import "time"

// Tier outcomes reported to MediaMetrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeEmpty   = "empty"
)

// MediaMetrics records provider chain, cache, quota and archival signals.
// Implementations: prometheus collectors and the buffered CloudWatch publisher.
type MediaMetrics interface {
	ObserveTier(tier, outcome string, duration time.Duration)
	ObserveCache(layer string, hit bool)
	ObserveQuotaDenied(ceiling string)
	ObserveArchive(outcome string, count int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveTier(string, string, time.Duration) {}
func (NopMetrics) ObserveCache(string, bool)                 {}
func (NopMetrics) ObserveQuotaDenied(string)                 {}
func (NopMetrics) ObserveArchive(string, int)                {}

// MultiMetrics fans out to several sinks.
type MultiMetrics []MediaMetrics

func (m MultiMetrics) ObserveTier(tier, outcome string, d time.Duration) {
	for _, sink := range m {
		sink.ObserveTier(tier, outcome, d)
	}
}

func (m MultiMetrics) ObserveCache(layer string, hit bool) {
	for _, sink := range m {
		sink.ObserveCache(layer, hit)
	}
}

func (m MultiMetrics) ObserveQuotaDenied(ceiling string) {
	for _, sink := range m {
		sink.ObserveQuotaDenied(ceiling)
	}
}

func (m MultiMetrics) ObserveArchive(outcome string, count int) {
	for _, sink := range m {
		sink.ObserveArchive(outcome, count)
	}
}
