package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the pipeline.
var metrics struct {
	DiscoveryRuns       atomic.Int64
	ChannelsScanned     atomic.Int64
	ChannelsFailed      atomic.Int64
	StreamsDiscovered   atomic.Int64
	QueueClaimed        atomic.Int64
	QueueCompleted      atomic.Int64
	QueueFailed         atomic.Int64
	QueueSkipped        atomic.Int64
	YouTubeAPIRequests  atomic.Int64
	YouTubeAPIErrors    atomic.Int64
	YouTubeKeyFallbacks atomic.Int64
	TranscriptRequests  atomic.Int64
	TranscriptMisses    atomic.Int64
	LLMCalls            atomic.Int64
	LLMErrors           atomic.Int64
	RateLimitedRequests atomic.Int64
}

// metricKeys fixes the output order of FormatMetrics.
var metricKeys = []string{
	"discovery_runs", "channels_scanned", "channels_failed", "streams_discovered",
	"queue_claimed", "queue_completed", "queue_failed", "queue_skipped",
	"youtube_api_requests", "youtube_api_errors", "youtube_key_fallbacks",
	"transcript_requests", "transcript_misses",
	"llm_calls", "llm_errors",
	"rate_limited_requests",
	"cache_hits", "cache_misses",
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"discovery_runs":        metrics.DiscoveryRuns.Load(),
		"channels_scanned":      metrics.ChannelsScanned.Load(),
		"channels_failed":       metrics.ChannelsFailed.Load(),
		"streams_discovered":    metrics.StreamsDiscovered.Load(),
		"queue_claimed":         metrics.QueueClaimed.Load(),
		"queue_completed":       metrics.QueueCompleted.Load(),
		"queue_failed":          metrics.QueueFailed.Load(),
		"queue_skipped":         metrics.QueueSkipped.Load(),
		"youtube_api_requests":  metrics.YouTubeAPIRequests.Load(),
		"youtube_api_errors":    metrics.YouTubeAPIErrors.Load(),
		"youtube_key_fallbacks": metrics.YouTubeKeyFallbacks.Load(),
		"transcript_requests":   metrics.TranscriptRequests.Load(),
		"transcript_misses":     metrics.TranscriptMisses.Load(),
		"llm_calls":             metrics.LLMCalls.Load(),
		"llm_errors":            metrics.LLMErrors.Load(),
		"rate_limited_requests": metrics.RateLimitedRequests.Load(),
		"cache_hits":            hits,
		"cache_misses":          misses,
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "sage_%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for the streams package.
func IncrDiscoveryRuns()         { metrics.DiscoveryRuns.Add(1) }
func IncrChannelsScanned()       { metrics.ChannelsScanned.Add(1) }
func IncrChannelsFailed()        { metrics.ChannelsFailed.Add(1) }
func AddStreamsDiscovered(n int) { metrics.StreamsDiscovered.Add(int64(n)) }
func AddQueueClaimed(n int)      { metrics.QueueClaimed.Add(int64(n)) }
func IncrQueueCompleted()        { metrics.QueueCompleted.Add(1) }
func IncrQueueFailed()           { metrics.QueueFailed.Add(1) }
func IncrQueueSkipped()          { metrics.QueueSkipped.Add(1) }

// Incrementors for the sources package.
func IncrYouTubeAPI()         { metrics.YouTubeAPIRequests.Add(1) }
func IncrYouTubeAPIError()    { metrics.YouTubeAPIErrors.Add(1) }
func IncrYouTubeKeyFallback() { metrics.YouTubeKeyFallbacks.Add(1) }
func IncrTranscriptRequests() { metrics.TranscriptRequests.Add(1) }
func IncrTranscriptMisses()   { metrics.TranscriptMisses.Add(1) }

func IncrRateLimited() { metrics.RateLimitedRequests.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
