package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/sources"
)

// DefaultBatchSize is the number of entries claimed per ProcessBatch call.
const DefaultBatchSize = 5

// slowEntry is logged as a slow operation when one entry takes longer.
const slowEntry = 2 * time.Minute

// noTranscriptReason is recorded on streams without captions.
var noTranscriptReason = sources.ErrNoTranscript.Error()

// ProcessResult aggregates one ProcessBatch call.
type ProcessResult struct {
	RunID     string `json:"run_id"`
	Claimed   int    `json:"claimed"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)

// Processor drains the processing queue.
type Processor struct {
	store       Store
	transcripts sources.TranscriptFetcher
	keyword     Analyzer
	llm         Analyzer
	newRunID    func() string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLLMAnalyzer sets the analyzer used for follows that request llm mode.
func WithLLMAnalyzer(a Analyzer) ProcessorOption {
	return func(p *Processor) { p.llm = a }
}

func NewProcessor(store Store, transcripts sources.TranscriptFetcher, analyzer Analyzer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       store,
		transcripts: transcripts,
		keyword:     analyzer,
		newRunID:    uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessBatch claims up to batchSize queued entries and processes them one by
// one. Failures are recorded per entry; only a failed claim or a cancelled
// context is returned as an error.
func (p *Processor) ProcessBatch(ctx context.Context, batchSize int) (ProcessResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	res := ProcessResult{RunID: p.newRunID()}

	entries, err := p.store.ClaimQueued(ctx, res.RunID, batchSize)
	if err != nil {
		return res, fmt.Errorf("process: claim: %w", err)
	}
	res.Claimed = len(entries)
	engine.AddQueueClaimed(len(entries))
	if len(entries) == 0 {
		return res, nil
	}

	start := time.Now()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			// Unprocessed claims stay in processing until ResetStale.
			return res, err
		}
		switch p.runEntry(ctx, e) {
		case outcomeProcessed:
			res.Processed++
			engine.IncrQueueCompleted()
		case outcomeFailed:
			res.Failed++
			engine.IncrQueueFailed()
		case outcomeSkipped:
			res.Skipped++
			engine.IncrQueueSkipped()
		}
	}

	slog.Info("process: batch done",
		slog.String("run", res.RunID),
		slog.Int("claimed", res.Claimed),
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// runEntry processes e and records any error or panic on the entry.
func (p *Processor) runEntry(ctx context.Context, e QueueEntry) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, e, fmt.Sprintf("panic: %v", r))
			out = outcomeFailed
		}
	}()

	err := engine.TrackOperation(ctx, "process_entry", slowEntry, func(ctx context.Context) error {
		var err error
		out, err = p.processEntry(ctx, e)
		return err
	})
	if err != nil {
		p.fail(ctx, e, err.Error())
		return outcomeFailed
	}
	return out
}

func (p *Processor) fail(ctx context.Context, e QueueEntry, reason string) {
	slog.Warn("process: entry failed",
		slog.Int64("entry", e.ID),
		slog.Int64("stream", e.StreamID),
		slog.String("reason", reason))
	if err := p.store.FailStream(ctx, e.ID, e.StreamID, reason); err != nil {
		slog.Error("process: record failure", slog.Int64("entry", e.ID), slog.Any("error", err))
	}
}

func (p *Processor) processEntry(ctx context.Context, e QueueEntry) (outcome, error) {
	st, err := p.store.GetStream(ctx, e.StreamID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("load stream: %w", err)
	}
	if st.Status != StreamPending {
		msg := "stream already " + string(st.Status)
		if err := p.store.FinishEntry(ctx, e.ID, QueueCompleted, msg); err != nil {
			return outcomeFailed, fmt.Errorf("finish skipped entry: %w", err)
		}
		return outcomeSkipped, nil
	}

	text, err := p.transcripts.Fetch(ctx, st.VideoID)
	if err == nil && strings.TrimSpace(text) == "" {
		err = sources.ErrNoTranscript
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomeFailed, ctxErr
		}
		slog.Info("process: no transcript",
			slog.String("video", st.VideoID), slog.Any("error", err))
		if err := p.store.FailStream(ctx, e.ID, st.ID, noTranscriptReason); err != nil {
			return outcomeFailed, fmt.Errorf("record missing transcript: %w", err)
		}
		return outcomeFailed, nil
	}

	a, err := p.analyzerFor(ctx, st).Analyze(ctx, text)
	if err != nil {
		return outcomeFailed, fmt.Errorf("analyze: %w", err)
	}
	if err := p.store.CompleteStream(ctx, e.ID, st.ID, text, a); err != nil {
		return outcomeFailed, fmt.Errorf("store analysis: %w", err)
	}
	slog.Debug("process: stream analyzed",
		slog.String("video", st.VideoID),
		slog.String("signal", a.Signal.Action),
		slog.String("method", a.Method))
	return outcomeProcessed, nil
}

// analyzerFor picks the LLM analyzer when one is configured and the
// stream's follow asks for it.
func (p *Processor) analyzerFor(ctx context.Context, st *Stream) Analyzer {
	if p.llm == nil {
		return p.keyword
	}
	f, err := p.store.GetFollow(ctx, st.UserID, st.ChannelID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Debug("process: follow lookup failed", slog.Int64("stream", st.ID), slog.Any("error", err))
		}
		return p.keyword
	}
	if f.Preferences.Wants(ModeLLM) {
		return p.llm
	}
	return p.keyword
}

// Status returns the user's stream and queue counts.
func (p *Processor) Status(ctx context.Context, userID string) (StatusCounts, error) {
	if userID == "" {
		return StatusCounts{}, fmt.Errorf("status: %w: user_id", ErrMissingArgument)
	}
	return p.store.StatusCounts(ctx, userID)
}

// RequeueFailed moves failed entries back to the queue. An empty userID
// covers all users.
func (p *Processor) RequeueFailed(ctx context.Context, userID string, limit int) (int, error) {
	n, err := p.store.RequeueFailed(ctx, userID, limit)
	if err != nil {
		return 0, fmt.Errorf("requeue failed: %w", err)
	}
	if n > 0 {
		slog.Info("process: requeued failed entries", slog.String("user", userID), slog.Int("count", n))
	}
	return n, nil
}

// ResetStale requeues entries claimed more than olderThan ago.
func (p *Processor) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := p.store.ResetStale(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	if n > 0 {
		slog.Warn("process: reset stale entries", slog.Int("count", n), slog.Duration("older_than", olderThan))
	}
	return n, nil
}
