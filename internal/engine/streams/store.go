package streams

import (
	"cmp"
	"context"
	"slices"
	"time"
)

// Store persists channels, follows, streams and the processing queue.
// PostgresStore and SQLiteStore implement it.
type Store interface {
	UpsertChannel(ctx context.Context, ch Channel) (*Channel, error)
	GetChannelByExternalID(ctx context.Context, externalID string) (*Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)

	// FollowChannel creates the follow or replaces its preferences.
	FollowChannel(ctx context.Context, userID string, channelID int64, prefs Preferences) (*Follow, error)
	UnfollowChannel(ctx context.Context, userID string, channelID int64) error
	SetFavorite(ctx context.Context, userID string, channelID int64, favorite bool) error
	GetFollow(ctx context.Context, userID string, channelID int64) (*Follow, error)
	ListFollows(ctx context.Context, userID string) ([]Follow, error)
	// ListFollowers returns every distinct user with at least one follow.
	ListFollowers(ctx context.Context) ([]string, error)

	KnownVideoIDs(ctx context.Context, userID string, channelID int64) (map[string]bool, error)
	// InsertStream writes a pending stream and its queue entry in one
	// transaction. It reports false, without error, when the (user, video)
	// pair already exists.
	InsertStream(ctx context.Context, s *Stream, priority int) (bool, error)
	GetStream(ctx context.Context, id int64) (*Stream, error)
	ListStreams(ctx context.Context, f StreamFilter) ([]Stream, error)

	// ClaimQueued atomically moves up to n queued entries to processing,
	// tagging them with runID, and returns them by priority then age.
	ClaimQueued(ctx context.Context, runID string, n int) ([]QueueEntry, error)
	// CompleteStream stores transcript and analysis and completes both rows.
	CompleteStream(ctx context.Context, entryID, streamID int64, transcript string, a *Analysis) error
	// FailStream marks both rows failed with reason; no analysis is written.
	FailStream(ctx context.Context, entryID, streamID int64, reason string) error
	// FinishEntry sets a terminal status on the queue entry only.
	FinishEntry(ctx context.Context, entryID int64, status QueueStatus, message string) error

	StatusCounts(ctx context.Context, userID string) (StatusCounts, error)
	// RequeueFailed returns up to limit failed entries (all users when userID
	// is empty) to the queue and resets their streams to pending.
	RequeueFailed(ctx context.Context, userID string, limit int) (int, error)
	// ResetStale requeues entries stuck in processing for longer than olderThan.
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)
	// GetEntryByStream returns the queue entry paired with a stream.
	GetEntryByStream(ctx context.Context, streamID int64) (*QueueEntry, error)

	Close() error
}

// sortClaimed orders entries the way they were selected for claiming.
func sortClaimed(entries []QueueEntry) {
	slices.SortFunc(entries, func(a, b QueueEntry) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		if c := a.QueuedAt.Compare(b.QueuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
