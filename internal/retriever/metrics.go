package retriever

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks operational counters across the retrieval core.
var metrics struct {
	Pipelines        atomic.Int64
	Resolves         atomic.Int64
	Probes           atomic.Int64
	Downloads        atomic.Int64
	Rotations        atomic.Int64
	BlockedResponses atomic.Int64
	QueueRejections  atomic.Int64
	PoolExhausted    atomic.Int64
	CacheHits        atomic.Int64
	CacheMisses      atomic.Int64
	EventsDropped    atomic.Int64
}

// GetMetrics returns a snapshot of all counters.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"pipelines":         metrics.Pipelines.Load(),
		"resolves":          metrics.Resolves.Load(),
		"probes":            metrics.Probes.Load(),
		"downloads":         metrics.Downloads.Load(),
		"rotations":         metrics.Rotations.Load(),
		"blocked_responses": metrics.BlockedResponses.Load(),
		"queue_rejections":  metrics.QueueRejections.Load(),
		"pool_exhausted":    metrics.PoolExhausted.Load(),
		"cache_hits":        metrics.CacheHits.Load(),
		"cache_misses":      metrics.CacheMisses.Load(),
		"events_dropped":    metrics.EventsDropped.Load(),
	}
}

// FormatMetrics returns counters as a simple text block for logging.
func FormatMetrics() string {
	m := GetMetrics()
	keys := []string{
		"pipelines", "resolves", "probes", "downloads",
		"rotations", "blocked_responses",
		"queue_rejections", "pool_exhausted",
		"cache_hits", "cache_misses", "events_dropped",
	}
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}
