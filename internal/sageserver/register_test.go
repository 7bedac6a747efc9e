package sageserver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/sources"
	"github.com/anatolykoptev/go_sage/internal/engine/streams"
)

type stubSource struct {
	channels map[string]sources.Channel
	videos   map[string][]sources.Video
}

func (s *stubSource) ChannelsByID(_ context.Context, ids []string) ([]sources.Channel, error) {
	var out []sources.Channel
	for _, id := range ids {
		if ch, ok := s.channels[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *stubSource) RecentVideos(_ context.Context, channelID string, limit int) ([]sources.Video, error) {
	v := s.videos[channelID]
	return v[:min(limit, len(v))], nil
}

type stubTranscripts map[string]string

func (s stubTranscripts) Fetch(_ context.Context, id string) (string, error) {
	if t, ok := s[id]; ok {
		return t, nil
	}
	return "", sources.ErrNoTranscript
}

func newTestServices(t *testing.T) *Services {
	t.Helper()
	store, err := streams.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "sage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	published := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	src := &stubSource{
		channels: map[string]sources.Channel{"UCtrade": {ID: "UCtrade", Title: "Trade Desk"}},
		videos: map[string][]sources.Video{"UCtrade": {
			{ID: "vid1", Title: "Morning levels", PublishedAt: published, DurationSeconds: 900},
			{ID: "vid2", Title: "No captions", PublishedAt: published.Add(-time.Hour), DurationSeconds: 900},
		}},
	}
	transcripts := stubTranscripts{"vid1": "Buying calls, I'm bullish and buying more. Buy the dip, I bought AAPL at $182."}
	keyword := streams.NewKeywordAnalyzer()

	return &Services{
		Store:         store,
		Channels:      streams.NewChannels(store, src),
		Discoverer:    streams.NewDiscoverer(store, src),
		Processor:     streams.NewProcessor(store, transcripts, keyword),
		Analyzer:      keyword,
		DiscoverLimit: engine.NewLocalLimiter(1, time.Hour),
	}
}

func TestRegisterTools(t *testing.T) {
	server := mcp.NewServer(&mcp.Implementation{Name: "go_sage", Version: "test"}, nil)
	assert.Equal(t, 14, RegisterTools(server, newTestServices(t)))
}

func TestToolsEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)

	_, f, err := s.followChannel(ctx, nil, FollowChannelInput{UserID: "alice", ChannelID: "UCtrade"})
	require.NoError(t, err)
	assert.Equal(t, "Trade Desk", f.ChannelTitle)

	_, disc, err := s.discoverStreams(ctx, nil, DiscoverStreamsInput{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, disc.ProcessedChannels)
	assert.Equal(t, 2, disc.NewStreams)

	_, proc, err := s.processQueue(ctx, nil, ProcessQueueInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, proc.Processed)
	assert.Equal(t, 1, proc.Failed)

	_, status, err := s.processingStatus(ctx, nil, ProcessingStatusInput{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, status.Streams[streams.StreamCompleted])
	assert.Equal(t, 1, status.Streams[streams.StreamFailed])

	_, list, err := s.listStreams(ctx, nil, ListStreamsInput{UserID: "alice", Status: "completed"})
	require.NoError(t, err)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "vid1", list.Streams[0].VideoID)
	require.NotNil(t, list.Streams[0].Analysis)
	assert.Equal(t, streams.SignalBuy, list.Streams[0].Analysis.Signal.Action)

	_, st, err := s.getStream(ctx, nil, GetStreamInput{ID: list.Streams[0].ID})
	require.NoError(t, err)
	require.NotNil(t, st.Stream.Transcript)
	require.NotNil(t, st.Queue)
	assert.Equal(t, streams.QueueCompleted, st.Queue.Status)
	assert.Equal(t, st.Stream.ID, st.Queue.StreamID)

	_, _, err = s.getStream(ctx, nil, GetStreamInput{ID: list.Streams[0].ID, UserID: "mallory"})
	assert.ErrorIs(t, err, streams.ErrNotFound)

	_, byChannel, err := s.listStreams(ctx, nil, ListStreamsInput{UserID: "alice", ChannelID: "UCunknown"})
	require.NoError(t, err)
	assert.Zero(t, byChannel.Count)

	_, rq, err := s.requeueFailed(ctx, nil, RequeueFailedInput{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, rq.Requeued)
}

func TestDiscoverStreamsIsRateLimited(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)

	_, _, err := s.discoverStreams(ctx, nil, DiscoverStreamsInput{UserID: "bob"})
	require.NoError(t, err)
	_, _, err = s.discoverStreams(ctx, nil, DiscoverStreamsInput{UserID: "bob"})
	assert.True(t, errors.Is(err, engine.ErrRateLimited))

	// Budgets are per user.
	_, _, err = s.discoverStreams(ctx, nil, DiscoverStreamsInput{UserID: "carol"})
	assert.NoError(t, err)
}

func TestToolInputValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestServices(t)

	_, _, err := s.followChannel(ctx, nil, FollowChannelInput{UserID: "alice"})
	assert.Error(t, err)
	_, _, err = s.followChannel(ctx, nil, FollowChannelInput{UserID: "alice", ChannelID: "UCtrade", ContentTypes: []string{"podcast"}})
	assert.ErrorIs(t, err, streams.ErrInvalidPreferences)
	_, _, err = s.listStreams(ctx, nil, ListStreamsInput{UserID: "alice", Status: "done"})
	assert.Error(t, err)
	_, _, err = s.analyzeTranscript(ctx, nil, AnalyzeTranscriptInput{Text: "  "})
	assert.Error(t, err)
	_, _, err = s.unfollowChannel(ctx, nil, ChannelRefInput{UserID: "alice", ChannelID: "UCtrade"})
	assert.ErrorIs(t, err, streams.ErrNotFound)
}

func TestAnalyzeTranscript(t *testing.T) {
	s := newTestServices(t)
	_, a, err := s.analyzeTranscript(context.Background(), nil, AnalyzeTranscriptInput{
		Text:   "I'm selling, taking profits and shorting here. Sell the rip, bearish below $4,200.",
		UseLLM: true, // no LLM configured: keyword result
	})
	require.NoError(t, err)
	assert.Equal(t, streams.SignalSell, a.Signal.Action)
	assert.Equal(t, streams.MethodKeyword, a.Method)
	assert.Contains(t, a.KeyInsights, "$4,200")
}
