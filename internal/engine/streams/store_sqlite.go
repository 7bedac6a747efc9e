package streams

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed-width so that TEXT comparison orders by time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id       TEXT NOT NULL UNIQUE,
		title             TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		subscriber_count  INTEGER NOT NULL DEFAULT 0,
		video_count       INTEGER NOT NULL DEFAULT 0,
		view_count        INTEGER NOT NULL DEFAULT 0,
		thumbnail_url     TEXT NOT NULL DEFAULT '',
		last_refreshed_at TEXT,
		created_at        TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS channel_follows (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT NOT NULL,
		channel_id  INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		preferences TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL,
		UNIQUE (user_id, channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS streams (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id            TEXT NOT NULL,
		channel_id         INTEGER NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
		video_id           TEXT NOT NULL,
		title              TEXT NOT NULL DEFAULT '',
		description        TEXT NOT NULL DEFAULT '',
		published_at       TEXT NOT NULL,
		duration_seconds   INTEGER NOT NULL DEFAULT 0,
		view_count         INTEGER NOT NULL DEFAULT 0,
		like_count         INTEGER NOT NULL DEFAULT 0,
		thumbnail_url      TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL DEFAULT 'pending',
		content_type       TEXT NOT NULL,
		scheduled_start_at TEXT,
		transcript         TEXT,
		analysis           TEXT,
		error_message      TEXT NOT NULL DEFAULT '',
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL,
		UNIQUE (user_id, video_id)
	)`,
	`CREATE INDEX IF NOT EXISTS streams_user_channel_idx ON streams (user_id, channel_id)`,
	`CREATE TABLE IF NOT EXISTS processing_queue (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_id     INTEGER NOT NULL UNIQUE REFERENCES streams(id) ON DELETE CASCADE,
		priority      INTEGER NOT NULL DEFAULT 1,
		status        TEXT NOT NULL DEFAULT 'queued',
		retry_count   INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		claimed_by    TEXT NOT NULL DEFAULT '',
		queued_at     TEXT NOT NULL,
		started_at    TEXT,
		finished_at   TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS processing_queue_claim_idx ON processing_queue (status, priority DESC, queued_at)`,
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the single-file Store used for local runs and tests.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultSQLitePath returns ~/.go_sage/sage.db.
func DefaultSQLitePath() string {
	return filepath.Join(os.Getenv("HOME"), ".go_sage", "sage.db")
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	slog.Info("sqlite store opened", slog.String("path", path))
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ts() string { return fmtSQLiteTime(s.now()) }

func fmtSQLiteTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func fmtSQLiteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtSQLiteTime(*t)
}

func parseSQLiteTime(s string) time.Time {
	t, _ := time.Parse(sqliteTimeLayout, s)
	return t
}

func parseSQLiteTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseSQLiteTime(ns.String)
	return &t
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- channels ---

const channelCols = `id, external_id, title, description, subscriber_count, video_count, view_count, thumbnail_url, last_refreshed_at, created_at`

func scanSQLiteChannel(r rowScanner) (*Channel, error) {
	var ch Channel
	var refreshed sql.NullString
	var created string
	if err := r.Scan(&ch.ID, &ch.ExternalID, &ch.Title, &ch.Description, &ch.SubscriberCount,
		&ch.VideoCount, &ch.ViewCount, &ch.ThumbnailURL, &refreshed, &created); err != nil {
		return nil, err
	}
	ch.LastRefreshedAt = parseSQLiteTimePtr(refreshed)
	ch.CreatedAt = parseSQLiteTime(created)
	return &ch, nil
}

func (s *SQLiteStore) UpsertChannel(ctx context.Context, ch Channel) (*Channel, error) {
	now := s.ts()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (external_id, title, description, subscriber_count, video_count, view_count, thumbnail_url, last_refreshed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE SET
			title = excluded.title, description = excluded.description,
			subscriber_count = excluded.subscriber_count, video_count = excluded.video_count,
			view_count = excluded.view_count, thumbnail_url = excluded.thumbnail_url,
			last_refreshed_at = excluded.last_refreshed_at`,
		ch.ExternalID, ch.Title, ch.Description, ch.SubscriberCount, ch.VideoCount, ch.ViewCount,
		ch.ThumbnailURL, now, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upsert channel: %w", err)
	}
	return s.GetChannelByExternalID(ctx, ch.ExternalID)
}

func (s *SQLiteStore) GetChannelByExternalID(ctx context.Context, externalID string) (*Channel, error) {
	ch, err := scanSQLiteChannel(s.db.QueryRowContext(ctx,
		`SELECT `+channelCols+` FROM channels WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get channel: %w", err)
	}
	return ch, nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelCols+` FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// --- follows ---

const followSelect = `SELECT f.id, f.user_id, f.channel_id, f.is_favorite, f.preferences, f.created_at, c.external_id, c.title
	FROM channel_follows f JOIN channels c ON c.id = f.channel_id`

func scanSQLiteFollow(r rowScanner) (*Follow, error) {
	var f Follow
	var prefs, created string
	if err := r.Scan(&f.ID, &f.UserID, &f.ChannelID, &f.IsFavorite, &prefs, &created,
		&f.ChannelExternalID, &f.ChannelTitle); err != nil {
		return nil, err
	}
	f.CreatedAt = parseSQLiteTime(created)
	f.Preferences = decodeStoredPreferences(f.ID, []byte(prefs))
	return &f, nil
}

// decodeStoredPreferences falls back to defaults for rows written before
// validation existed.
func decodeStoredPreferences(followID int64, raw []byte) Preferences {
	p, err := ParsePreferences(raw)
	if err != nil {
		slog.Warn("follow has invalid preferences, using defaults",
			slog.Int64("follow_id", followID), slog.Any("error", err))
		return DefaultPreferences()
	}
	return p
}

func (s *SQLiteStore) FollowChannel(ctx context.Context, userID string, channelID int64, prefs Preferences) (*Follow, error) {
	_, raw, err := marshalPreferences(prefs)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO channel_follows (user_id, channel_id, preferences, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, channel_id) DO UPDATE SET preferences = excluded.preferences`,
		userID, channelID, string(raw), s.ts())
	if err != nil {
		return nil, fmt.Errorf("sqlite: follow channel: %w", err)
	}
	return s.GetFollow(ctx, userID, channelID)
}

func (s *SQLiteStore) UnfollowChannel(ctx context.Context, userID string, channelID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_follows WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	if err != nil {
		return fmt.Errorf("sqlite: unfollow: %w", err)
	}
	return requireAffected(res, "follow")
}

func (s *SQLiteStore) SetFavorite(ctx context.Context, userID string, channelID int64, favorite bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channel_follows SET is_favorite = ? WHERE user_id = ? AND channel_id = ?`,
		favorite, userID, channelID)
	if err != nil {
		return fmt.Errorf("sqlite: set favorite: %w", err)
	}
	return requireAffected(res, "follow")
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetFollow(ctx context.Context, userID string, channelID int64) (*Follow, error) {
	f, err := scanSQLiteFollow(s.db.QueryRowContext(ctx,
		followSelect+` WHERE f.user_id = ? AND f.channel_id = ?`, userID, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("follow: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get follow: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) ListFollows(ctx context.Context, userID string) ([]Follow, error) {
	rows, err := s.db.QueryContext(ctx,
		followSelect+` WHERE f.user_id = ? ORDER BY f.is_favorite DESC, c.title, f.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list follows: %w", err)
	}
	defer rows.Close()

	var out []Follow
	for rows.Next() {
		f, err := scanSQLiteFollow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan follow: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFollowers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM channel_follows ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list followers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- streams ---

const streamColsNoTranscript = `id, user_id, channel_id, video_id, title, description, published_at, duration_seconds,
	view_count, like_count, thumbnail_url, status, content_type, scheduled_start_at`

func scanSQLiteStream(r rowScanner) (*Stream, error) {
	var st Stream
	var published, created, updated string
	var scheduled, transcript, analysis sql.NullString
	if err := r.Scan(&st.ID, &st.UserID, &st.ChannelID, &st.VideoID, &st.Title, &st.Description,
		&published, &st.DurationSeconds, &st.ViewCount, &st.LikeCount, &st.ThumbnailURL,
		&st.Status, &st.ContentType, &scheduled, &transcript, &analysis, &st.ErrorMessage,
		&created, &updated); err != nil {
		return nil, err
	}
	st.PublishedAt = parseSQLiteTime(published)
	st.ScheduledStartAt = parseSQLiteTimePtr(scheduled)
	st.CreatedAt = parseSQLiteTime(created)
	st.UpdatedAt = parseSQLiteTime(updated)
	if transcript.Valid {
		st.Transcript = &transcript.String
	}
	if analysis.Valid && analysis.String != "" {
		var a Analysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return nil, fmt.Errorf("decode analysis for stream %d: %w", st.ID, err)
		}
		st.Analysis = &a
	}
	return &st, nil
}

func (s *SQLiteStore) KnownVideoIDs(ctx context.Context, userID string, channelID int64) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id FROM streams WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: known videos: %w", err)
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = true
	}
	return known, rows.Err()
}

func (s *SQLiteStore) InsertStream(ctx context.Context, st *Stream, priority int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.ts()
	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO streams (user_id, channel_id, video_id, title, description, published_at, duration_seconds,
			view_count, like_count, thumbnail_url, status, content_type, scheduled_start_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, video_id) DO NOTHING
		 RETURNING id`,
		st.UserID, st.ChannelID, st.VideoID, st.Title, st.Description, fmtSQLiteTime(st.PublishedAt),
		st.DurationSeconds, st.ViewCount, st.LikeCount, st.ThumbnailURL, string(StreamPending),
		string(st.ContentType), fmtSQLiteTimePtr(st.ScheduledStartAt), now, now,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: insert stream: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processing_queue (stream_id, priority, status, queued_at) VALUES (?, ?, ?, ?)`,
		id, priority, string(QueueQueued), now); err != nil {
		return false, fmt.Errorf("sqlite: enqueue stream: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit: %w", err)
	}

	st.ID = id
	st.Status = StreamPending
	st.CreatedAt = parseSQLiteTime(now)
	st.UpdatedAt = st.CreatedAt
	return true, nil
}

func (s *SQLiteStore) GetStream(ctx context.Context, id int64) (*Stream, error) {
	st, err := scanSQLiteStream(s.db.QueryRowContext(ctx,
		`SELECT `+streamColsNoTranscript+`, transcript, analysis, error_message, created_at, updated_at
		 FROM streams WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stream %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get stream: %w", err)
	}
	return st, nil
}

// ListStreams omits transcripts; use GetStream for the full row.
func (s *SQLiteStore) ListStreams(ctx context.Context, f StreamFilter) ([]Stream, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where, args = append(where, "user_id = ?"), append(args, f.UserID)
	}
	if f.ChannelID != 0 {
		where, args = append(where, "channel_id = ?"), append(args, f.ChannelID)
	}
	if f.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(f.Status))
	}
	if f.ContentType != "" {
		where, args = append(where, "content_type = ?"), append(args, string(f.ContentType))
	}

	q := `SELECT ` + streamColsNoTranscript + `, NULL, analysis, error_message, created_at, updated_at FROM streams`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY published_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.limit(), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		st, err := scanSQLiteStream(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan stream: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- queue ---

const queueCols = `id, stream_id, priority, status, retry_count, error_message, claimed_by, queued_at, started_at, finished_at`

func scanSQLiteEntry(r rowScanner) (*QueueEntry, error) {
	var e QueueEntry
	var queued string
	var started, finished sql.NullString
	if err := r.Scan(&e.ID, &e.StreamID, &e.Priority, &e.Status, &e.RetryCount, &e.ErrorMessage,
		&e.ClaimedBy, &queued, &started, &finished); err != nil {
		return nil, err
	}
	e.QueuedAt = parseSQLiteTime(queued)
	e.StartedAt = parseSQLiteTimePtr(started)
	e.FinishedAt = parseSQLiteTimePtr(finished)
	return &e, nil
}

// ClaimQueued selects candidates, then claims each with a conditional update
// on status. A candidate taken by another process in between is skipped.
func (s *SQLiteStore) ClaimQueued(ctx context.Context, runID string, n int) ([]QueueEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM processing_queue WHERE status = ?
		 ORDER BY priority DESC, queued_at ASC, id ASC LIMIT ?`, string(QueueQueued), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: select queued: %w", err)
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := s.ts()
	var claimed []QueueEntry
	for _, id := range candidates {
		res, err := s.db.ExecContext(ctx,
			`UPDATE processing_queue SET status = ?, claimed_by = ?, started_at = ?
			 WHERE id = ? AND status = ?`,
			string(QueueProcessing), runID, now, id, string(QueueQueued))
		if err != nil {
			return claimed, fmt.Errorf("sqlite: claim entry %d: %w", id, err)
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			continue
		}
		e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx,
			`SELECT `+queueCols+` FROM processing_queue WHERE id = ?`, id))
		if err != nil {
			return claimed, fmt.Errorf("sqlite: read claimed entry %d: %w", id, err)
		}
		claimed = append(claimed, *e)
	}
	sortClaimed(claimed)
	return claimed, nil
}

// GetEntryByStream returns the queue entry for a stream.
func (s *SQLiteStore) GetEntryByStream(ctx context.Context, streamID int64) (*QueueEntry, error) {
	e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE stream_id = ?`, streamID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue entry for stream %d: %w", streamID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get entry: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) CompleteStream(ctx context.Context, entryID, streamID int64, transcript string, a *Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx, now string) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE streams SET status = ?, transcript = ?, analysis = ?, error_message = '', updated_at = ? WHERE id = ?`,
			string(StreamCompleted), transcript, string(raw), now, streamID); err != nil {
			return fmt.Errorf("complete stream: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_queue SET status = ?, error_message = '', finished_at = ? WHERE id = ?`,
			string(QueueCompleted), now, entryID); err != nil {
			return fmt.Errorf("complete entry: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) FailStream(ctx context.Context, entryID, streamID int64, reason string) error {
	return s.inTx(ctx, func(tx *sql.Tx, now string) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE streams SET status = ?, analysis = NULL, error_message = ?, updated_at = ? WHERE id = ?`,
			string(StreamFailed), reason, now, streamID); err != nil {
			return fmt.Errorf("fail stream: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE processing_queue SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
			string(QueueFailed), reason, now, entryID); err != nil {
			return fmt.Errorf("fail entry: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) FinishEntry(ctx context.Context, entryID int64, status QueueStatus, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_queue SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(status), message, s.ts(), entryID)
	if err != nil {
		return fmt.Errorf("sqlite: finish entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx, now string) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit
	if err := fn(tx, s.ts()); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StatusCounts(ctx context.Context, userID string) (StatusCounts, error) {
	out := newStatusCounts(userID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM streams WHERE user_id = ? GROUP BY status`, userID)
	if err != nil {
		return out, fmt.Errorf("sqlite: stream counts: %w", err)
	}
	for rows.Next() {
		var st StreamStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return out, err
		}
		out.Streams[st] = n
		out.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("sqlite: stream counts: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT q.status, COUNT(*) FROM processing_queue q JOIN streams s ON s.id = q.stream_id
		 WHERE s.user_id = ? GROUP BY q.status`, userID)
	if err != nil {
		return out, fmt.Errorf("sqlite: queue counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st QueueStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return out, err
		}
		out.Queue[st] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RequeueFailed(ctx context.Context, userID string, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	count := 0
	err := s.inTx(ctx, func(tx *sql.Tx, now string) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT q.id, q.stream_id FROM processing_queue q JOIN streams s ON s.id = q.stream_id
			 WHERE q.status = ? AND (? = '' OR s.user_id = ?)
			 ORDER BY q.priority DESC, q.finished_at ASC LIMIT ?`,
			string(QueueFailed), userID, userID, limit)
		if err != nil {
			return fmt.Errorf("select failed: %w", err)
		}
		type pair struct{ entry, stream int64 }
		var failed []pair
		for rows.Next() {
			var p pair
			if err := rows.Scan(&p.entry, &p.stream); err != nil {
				rows.Close()
				return err
			}
			failed = append(failed, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("select failed: %w", err)
		}

		for _, p := range failed {
			if _, err := tx.ExecContext(ctx,
				`UPDATE processing_queue SET status = ?, retry_count = retry_count + 1, error_message = '',
					claimed_by = '', queued_at = ?, started_at = NULL, finished_at = NULL WHERE id = ?`,
				string(QueueQueued), now, p.entry); err != nil {
				return fmt.Errorf("requeue entry: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE streams SET status = ?, error_message = '', updated_at = ? WHERE id = ?`,
				string(StreamPending), now, p.stream); err != nil {
				return fmt.Errorf("reset stream: %w", err)
			}
		}
		count = len(failed)
		return nil
	})
	return count, err
}

func (s *SQLiteStore) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := fmtSQLiteTime(s.now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx,
		`UPDATE processing_queue SET status = ?, claimed_by = '', started_at = NULL, retry_count = retry_count + 1
		 WHERE status = ? AND started_at < ?`,
		string(QueueQueued), string(QueueProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reset stale: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
