package streams

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anatolykoptev/go_sage/internal/engine/sources"
)

// fakeSource serves canned channels and videos.
type fakeSource struct {
	mu       sync.Mutex
	channels map[string]sources.Channel
	videos   map[string][]sources.Video
	errs     map[string]error
	calls    map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		channels: map[string]sources.Channel{},
		videos:   map[string][]sources.Video{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeSource) ChannelsByID(_ context.Context, ids []string) ([]sources.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["channels"]++
	var out []sources.Channel
	for _, id := range ids {
		if ch, ok := f.channels[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeSource) RecentVideos(_ context.Context, channelID string, limit int) ([]sources.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[channelID]++
	if err := f.errs[channelID]; err != nil {
		return nil, err
	}
	v := f.videos[channelID]
	if len(v) > limit {
		v = v[:limit]
	}
	return v, nil
}

// uploads returns n ten-minute uploads, newest first.
func uploads(prefix string, n int) []sources.Video {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	out := make([]sources.Video, n)
	for i := range out {
		out[i] = sources.Video{
			ID:              fmt.Sprintf("%s%02d", prefix, i),
			Title:           fmt.Sprintf("%s video %d", prefix, i),
			PublishedAt:     base.Add(-time.Duration(i) * time.Hour),
			DurationSeconds: 600,
		}
	}
	return out
}

func liveVideo(id string) sources.Video {
	start := time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)
	return sources.Video{ID: id, Title: "live " + id, PublishedAt: start, DurationSeconds: 7200, ActualStartAt: &start}
}

func shortVideo(id string) sources.Video {
	return sources.Video{ID: id, Title: "short " + id, PublishedAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC), DurationSeconds: 45}
}

// fakeTranscripts returns canned text per video id. Missing ids yield
// ErrNoTranscript; ids in panics make Fetch panic.
type fakeTranscripts struct {
	mu     sync.Mutex
	texts  map[string]string
	panics map[string]bool
	seen   []string
}

func (f *fakeTranscripts) Fetch(_ context.Context, videoID string) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, videoID)
	f.mu.Unlock()
	if f.panics[videoID] {
		panic("caption parser exploded on " + videoID)
	}
	text, ok := f.texts[videoID]
	if !ok {
		return "", fmt.Errorf("%w: no tracks", sources.ErrNoTranscript)
	}
	return text, nil
}

// stubAnalyzer tags results so tests can tell analyzers apart.
type stubAnalyzer struct {
	method string
	err    error
}

func (s stubAnalyzer) Analyze(context.Context, string) (*Analysis, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &Analysis{Signal: Signal{Action: SignalNeutral, Confidence: 0.5}, Method: s.method}, nil
}

var errUpstream = errors.New("upstream unavailable")
