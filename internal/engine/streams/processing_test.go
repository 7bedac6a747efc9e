package streams

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bullishTranscript = "I'm buying this dip. Buy the breakout, keep buying, " +
	"I bought more and I'm bullish. One thing I'd sell is the weak name. Target $150."

func newTestProcessor(s Store, tr *fakeTranscripts, opts ...ProcessorOption) *Processor {
	p := NewProcessor(s, tr, NewKeywordAnalyzer(), opts...)
	n := 0
	p.newRunID = func() string { n++; return fmt.Sprintf("run-%d", n) }
	return p
}

func TestProcessBatch_CompletesWithAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	st := seedStream(t, s, "u1", ch.ID, "v1", ContentUpload, time.Now())
	tr := &fakeTranscripts{texts: map[string]string{"v1": bullishTranscript}}

	res, err := newTestProcessor(s, tr).ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)

	got, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, StreamCompleted, got.Status)
	require.NotNil(t, got.Transcript)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, SignalBuy, got.Analysis.Signal.Action)
	assert.Equal(t, SentimentBullish, got.Analysis.Sentiment)
	assert.Equal(t, MethodKeyword, got.Analysis.Method)

	e, err := s.GetEntryByStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueCompleted, e.Status)
	assert.Equal(t, "run-1", e.ClaimedBy)
}

func TestProcessBatch_NoTranscriptFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	st := seedStream(t, s, "u1", ch.ID, "silent", ContentUpload, time.Now())
	tr := &fakeTranscripts{texts: map[string]string{}}

	res, err := newTestProcessor(s, tr).ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Processed)

	got, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, StreamFailed, got.Status)
	assert.Nil(t, got.Analysis, "no analysis is written")
	assert.Equal(t, "no transcript available", got.ErrorMessage)

	e, err := s.GetEntryByStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueFailed, e.Status)
	assert.Zero(t, e.RetryCount)

	// Failed entries are not retried automatically.
	again, err := newTestProcessor(s, tr).ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, again.Claimed)
}

func TestProcessBatch_EmptyTranscriptCountsAsMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	st := seedStream(t, s, "u1", ch.ID, "blank", ContentUpload, time.Now())
	tr := &fakeTranscripts{texts: map[string]string{"blank": "   "}}

	res, err := newTestProcessor(s, tr).ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	got, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "no transcript available", got.ErrorMessage)
}

func TestProcessBatch_NeverClaimsMoreThanBatchSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	texts := map[string]string{}
	for i := range 8 {
		id := fmt.Sprintf("v%d", i)
		seedStream(t, s, "u1", ch.ID, id, ContentUpload, time.Now())
		texts[id] = "hold steady"
	}
	tr := &fakeTranscripts{texts: texts}

	res, err := newTestProcessor(s, tr).ProcessBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Claimed)
	assert.Equal(t, 3, res.Processed)

	counts, err := s.StatusCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, counts.Queue[QueueQueued])
	assert.Equal(t, 3, counts.Queue[QueueCompleted])
	assert.Zero(t, counts.Queue[QueueProcessing])
}

func TestProcessBatch_DefaultBatchSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	for i := range DefaultBatchSize + 2 {
		seedStream(t, s, "u1", ch.ID, fmt.Sprintf("v%d", i), ContentUpload, time.Now())
	}

	res, err := newTestProcessor(s, &fakeTranscripts{}).ProcessBatch(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, res.Claimed)
}

func TestProcessBatch_PanicIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	texts := map[string]string{}
	var ids []int64
	for i := 1; i <= 5; i++ {
		vid := fmt.Sprintf("v%d", i)
		ids = append(ids, seedStream(t, s, "u1", ch.ID, vid, ContentUpload, time.Now()).ID)
		texts[vid] = bullishTranscript
	}
	tr := &fakeTranscripts{texts: texts, panics: map[string]bool{"v3": true}}

	res, err := newTestProcessor(s, tr).ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"v1", "v2", "v3", "v4", "v5"}, tr.seen, "entries after the panic are attempted")

	third, err := s.GetStream(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, StreamFailed, third.Status)
	assert.Contains(t, third.ErrorMessage, "caption parser exploded")
	e, err := s.GetEntryByStream(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, QueueFailed, e.Status)
	assert.True(t, strings.HasPrefix(e.ErrorMessage, "panic:"))

	for _, id := range []int64{ids[3], ids[4]} {
		got, err := s.GetStream(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StreamCompleted, got.Status)
	}
}

func TestProcessBatch_AnalyzerErrorIsRecorded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	st := seedStream(t, s, "u1", ch.ID, "v1", ContentUpload, time.Now())
	tr := &fakeTranscripts{texts: map[string]string{"v1": "text"}}

	p := NewProcessor(s, tr, stubAnalyzer{err: errUpstream})
	res, err := p.ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := s.GetStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, StreamFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, errUpstream.Error())
}

func TestProcessBatch_SkipsNonPendingStream(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	st := seedStream(t, s, "u1", ch.ID, "v1", ContentUpload, time.Now())

	// Complete the stream out of band, then put its entry back in the queue.
	claimed, err := s.ClaimQueued(ctx, "other", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, s.CompleteStream(ctx, claimed[0].ID, st.ID, "t", &Analysis{Method: MethodKeyword}))
	_, err = s.db.ExecContext(ctx, `UPDATE processing_queue SET status = 'queued' WHERE id = ?`, claimed[0].ID)
	require.NoError(t, err)

	tr := &fakeTranscripts{texts: map[string]string{"v1": bullishTranscript}}
	res, err := newTestProcessor(s, tr).ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, tr.seen)

	e, err := s.GetEntryByStream(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, QueueCompleted, e.Status)
}

func TestProcessBatch_LLMOnlyWhenFollowAsks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	plain := followChannel(t, s, "u1", "UCplain", Preferences{})
	smart := followChannel(t, s, "u1", "UCsmart", Preferences{ProcessingModes: []ProcessingMode{ModeKeyword, ModeLLM}})
	a := seedStream(t, s, "u1", plain.ID, "a", ContentUpload, time.Now())
	b := seedStream(t, s, "u1", smart.ID, "b", ContentUpload, time.Now())
	tr := &fakeTranscripts{texts: map[string]string{"a": "x", "b": "y"}}

	p := NewProcessor(s, tr, stubAnalyzer{method: "kw"}, WithLLMAnalyzer(stubAnalyzer{method: "kw+llm"}))
	_, err := p.ProcessBatch(ctx, 5)
	require.NoError(t, err)

	gotA, err := s.GetStream(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "kw", gotA.Analysis.Method)
	gotB, err := s.GetStream(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "kw+llm", gotB.Analysis.Method)
}

func TestProcessor_StatusAndRequeue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	seedStream(t, s, "u1", ch.ID, "ok", ContentUpload, time.Now())
	seedStream(t, s, "u1", ch.ID, "missing", ContentUpload, time.Now())
	tr := &fakeTranscripts{texts: map[string]string{"ok": bullishTranscript}}
	p := newTestProcessor(s, tr)

	_, err := p.ProcessBatch(ctx, 5)
	require.NoError(t, err)

	counts, err := p.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Streams[StreamCompleted])
	assert.Equal(t, 1, counts.Streams[StreamFailed])

	_, err = p.Status(ctx, "")
	assert.ErrorIs(t, err, ErrMissingArgument)

	tr.texts["missing"] = bullishTranscript
	n, err := p.RequeueFailed(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := p.ProcessBatch(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	counts, err = p.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Streams[StreamCompleted])
}

func TestProcessor_ResetStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s, "UCa", "Alpha")
	seedStream(t, s, "u1", ch.ID, "v1", ContentUpload, time.Now())

	s.now = func() time.Time { return time.Now().Add(-time.Hour) }
	_, err := s.ClaimQueued(ctx, "crashed", 5)
	require.NoError(t, err)
	s.now = time.Now

	n, err := newTestProcessor(s, &fakeTranscripts{}).ResetStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
