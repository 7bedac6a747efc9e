package streams

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var _ Store = (*PostgresStore)(nil)

// PostgresStore is the production Store backed by a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres creates a pgx pool and runs schema migrations.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("postgres store connected", slog.String("addr", config.ConnConfig.Host))
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		data, err := schemaFS.ReadFile("schema/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if _, err := conn.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("execute %s: %w", entry.Name(), err)
		}
		slog.Debug("migration applied", slog.String("file", entry.Name()))
	}
	return nil
}

// --- channels ---

func scanPGChannel(r pgx.Row) (*Channel, error) {
	var ch Channel
	if err := r.Scan(&ch.ID, &ch.ExternalID, &ch.Title, &ch.Description, &ch.SubscriberCount,
		&ch.VideoCount, &ch.ViewCount, &ch.ThumbnailURL, &ch.LastRefreshedAt, &ch.CreatedAt); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *PostgresStore) UpsertChannel(ctx context.Context, ch Channel) (*Channel, error) {
	out, err := scanPGChannel(s.pool.QueryRow(ctx,
		`INSERT INTO channels (external_id, title, description, subscriber_count, video_count, view_count, thumbnail_url, last_refreshed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description,
			subscriber_count = EXCLUDED.subscriber_count, video_count = EXCLUDED.video_count,
			view_count = EXCLUDED.view_count, thumbnail_url = EXCLUDED.thumbnail_url,
			last_refreshed_at = EXCLUDED.last_refreshed_at
		 RETURNING `+channelCols,
		ch.ExternalID, ch.Title, ch.Description, ch.SubscriberCount, ch.VideoCount, ch.ViewCount, ch.ThumbnailURL))
	if err != nil {
		return nil, fmt.Errorf("pg: upsert channel: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetChannelByExternalID(ctx context.Context, externalID string) (*Channel, error) {
	ch, err := scanPGChannel(s.pool.QueryRow(ctx,
		`SELECT `+channelCols+` FROM channels WHERE external_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get channel: %w", err)
	}
	return ch, nil
}

func (s *PostgresStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+channelCols+` FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pg: list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		ch, err := scanPGChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// --- follows ---

func scanPGFollow(r pgx.Row) (*Follow, error) {
	var f Follow
	var prefs []byte
	if err := r.Scan(&f.ID, &f.UserID, &f.ChannelID, &f.IsFavorite, &prefs, &f.CreatedAt,
		&f.ChannelExternalID, &f.ChannelTitle); err != nil {
		return nil, err
	}
	f.Preferences = decodeStoredPreferences(f.ID, prefs)
	return &f, nil
}

func (s *PostgresStore) FollowChannel(ctx context.Context, userID string, channelID int64, prefs Preferences) (*Follow, error) {
	_, raw, err := marshalPreferences(prefs)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO channel_follows (user_id, channel_id, preferences) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, channel_id) DO UPDATE SET preferences = EXCLUDED.preferences`,
		userID, channelID, raw)
	if err != nil {
		return nil, fmt.Errorf("pg: follow channel: %w", err)
	}
	return s.GetFollow(ctx, userID, channelID)
}

func (s *PostgresStore) UnfollowChannel(ctx context.Context, userID string, channelID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM channel_follows WHERE user_id = $1 AND channel_id = $2`, userID, channelID)
	if err != nil {
		return fmt.Errorf("pg: unfollow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("follow: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetFavorite(ctx context.Context, userID string, channelID int64, favorite bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE channel_follows SET is_favorite = $1 WHERE user_id = $2 AND channel_id = $3`,
		favorite, userID, channelID)
	if err != nil {
		return fmt.Errorf("pg: set favorite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("follow: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetFollow(ctx context.Context, userID string, channelID int64) (*Follow, error) {
	f, err := scanPGFollow(s.pool.QueryRow(ctx,
		followSelect+` WHERE f.user_id = $1 AND f.channel_id = $2`, userID, channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("follow: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get follow: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListFollows(ctx context.Context, userID string) ([]Follow, error) {
	rows, err := s.pool.Query(ctx,
		followSelect+` WHERE f.user_id = $1 ORDER BY f.is_favorite DESC, c.title, f.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("pg: list follows: %w", err)
	}
	defer rows.Close()

	var out []Follow
	for rows.Next() {
		f, err := scanPGFollow(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan follow: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListFollowers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM channel_follows ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("pg: list followers: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// --- streams ---

func scanPGStream(r pgx.Row) (*Stream, error) {
	var st Stream
	var status, contentType string
	var analysis []byte
	if err := r.Scan(&st.ID, &st.UserID, &st.ChannelID, &st.VideoID, &st.Title, &st.Description,
		&st.PublishedAt, &st.DurationSeconds, &st.ViewCount, &st.LikeCount, &st.ThumbnailURL,
		&status, &contentType, &st.ScheduledStartAt, &st.Transcript, &analysis, &st.ErrorMessage,
		&st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Status = StreamStatus(status)
	st.ContentType = ContentType(contentType)
	if len(analysis) > 0 {
		var a Analysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return nil, fmt.Errorf("decode analysis for stream %d: %w", st.ID, err)
		}
		st.Analysis = &a
	}
	return &st, nil
}

func (s *PostgresStore) KnownVideoIDs(ctx context.Context, userID string, channelID int64) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT video_id FROM streams WHERE user_id = $1 AND channel_id = $2`, userID, channelID)
	if err != nil {
		return nil, fmt.Errorf("pg: known videos: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("pg: known videos: %w", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return known, nil
}

func (s *PostgresStore) InsertStream(ctx context.Context, st *Stream, priority int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("pg: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	err = tx.QueryRow(ctx,
		`INSERT INTO streams (user_id, channel_id, video_id, title, description, published_at, duration_seconds,
			view_count, like_count, thumbnail_url, status, content_type, scheduled_start_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, video_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		st.UserID, st.ChannelID, st.VideoID, st.Title, st.Description, st.PublishedAt,
		st.DurationSeconds, st.ViewCount, st.LikeCount, st.ThumbnailURL, string(StreamPending),
		string(st.ContentType), st.ScheduledStartAt,
	).Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pg: insert stream: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO processing_queue (stream_id, priority, status) VALUES ($1, $2, $3)`,
		st.ID, priority, string(QueueQueued)); err != nil {
		return false, fmt.Errorf("pg: enqueue stream: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("pg: commit: %w", err)
	}
	st.Status = StreamPending
	return true, nil
}

func (s *PostgresStore) GetStream(ctx context.Context, id int64) (*Stream, error) {
	st, err := scanPGStream(s.pool.QueryRow(ctx,
		`SELECT `+streamColsNoTranscript+`, transcript, analysis, error_message, created_at, updated_at
		 FROM streams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("stream %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get stream: %w", err)
	}
	return st, nil
}

// ListStreams omits transcripts; use GetStream for the full row.
func (s *PostgresStore) ListStreams(ctx context.Context, f StreamFilter) ([]Stream, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.ChannelID != 0 {
		add("channel_id = $%d", f.ChannelID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.ContentType != "" {
		add("content_type = $%d", string(f.ContentType))
	}

	q := `SELECT ` + streamColsNoTranscript + `, NULL::text, analysis, error_message, created_at, updated_at FROM streams`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit(), max(f.Offset, 0))
	q += fmt.Sprintf(" ORDER BY published_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pg: list streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		st, err := scanPGStream(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan stream: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// --- queue ---

func scanPGEntry(r pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	var status string
	if err := r.Scan(&e.ID, &e.StreamID, &e.Priority, &status, &e.RetryCount, &e.ErrorMessage,
		&e.ClaimedBy, &e.QueuedAt, &e.StartedAt, &e.FinishedAt); err != nil {
		return nil, err
	}
	e.Status = QueueStatus(status)
	return &e, nil
}

// ClaimQueued uses FOR UPDATE SKIP LOCKED so concurrent runs never claim the
// same entry.
func (s *PostgresStore) ClaimQueued(ctx context.Context, runID string, n int) ([]QueueEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE processing_queue SET status = $1, claimed_by = $2, started_at = now()
		 WHERE id IN (
			SELECT id FROM processing_queue WHERE status = $3
			ORDER BY priority DESC, queued_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueCols,
		string(QueueProcessing), runID, string(QueueQueued), n)
	if err != nil {
		return nil, fmt.Errorf("pg: claim queued: %w", err)
	}
	defer rows.Close()

	var claimed []QueueEntry
	for rows.Next() {
		e, err := scanPGEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan entry: %w", err)
		}
		claimed = append(claimed, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: claim queued: %w", err)
	}
	sortClaimed(claimed)
	return claimed, nil
}

// GetEntryByStream returns the queue entry for a stream.
func (s *PostgresStore) GetEntryByStream(ctx context.Context, streamID int64) (*QueueEntry, error) {
	e, err := scanPGEntry(s.pool.QueryRow(ctx,
		`SELECT `+queueCols+` FROM processing_queue WHERE stream_id = $1`, streamID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("queue entry for stream %d: %w", streamID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) CompleteStream(ctx context.Context, entryID, streamID int64, transcript string, a *Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE streams SET status = $1, transcript = $2, analysis = $3, error_message = '', updated_at = now() WHERE id = $4`,
			string(StreamCompleted), transcript, raw, streamID); err != nil {
			return fmt.Errorf("pg: complete stream: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE processing_queue SET status = $1, error_message = '', finished_at = now() WHERE id = $2`,
			string(QueueCompleted), entryID); err != nil {
			return fmt.Errorf("pg: complete entry: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FailStream(ctx context.Context, entryID, streamID int64, reason string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE streams SET status = $1, analysis = NULL, error_message = $2, updated_at = now() WHERE id = $3`,
			string(StreamFailed), reason, streamID); err != nil {
			return fmt.Errorf("pg: fail stream: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE processing_queue SET status = $1, error_message = $2, finished_at = now() WHERE id = $3`,
			string(QueueFailed), reason, entryID); err != nil {
			return fmt.Errorf("pg: fail entry: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FinishEntry(ctx context.Context, entryID int64, status QueueStatus, message string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE processing_queue SET status = $1, error_message = $2, finished_at = now() WHERE id = $3`,
		string(status), message, entryID); err != nil {
		return fmt.Errorf("pg: finish entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) StatusCounts(ctx context.Context, userID string) (StatusCounts, error) {
	out := newStatusCounts(userID)

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM streams WHERE user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return out, fmt.Errorf("pg: stream counts: %w", err)
	}
	var status string
	var n int
	_, err = pgx.ForEachRow(rows, []any{&status, &n}, func() error {
		out.Streams[StreamStatus(status)] = n
		out.Total += n
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("pg: stream counts: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT q.status, COUNT(*) FROM processing_queue q JOIN streams s ON s.id = q.stream_id
		 WHERE s.user_id = $1 GROUP BY q.status`, userID)
	if err != nil {
		return out, fmt.Errorf("pg: queue counts: %w", err)
	}
	_, err = pgx.ForEachRow(rows, []any{&status, &n}, func() error {
		out.Queue[QueueStatus(status)] = n
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("pg: queue counts: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RequeueFailed(ctx context.Context, userID string, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var count int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE processing_queue SET status = $1, retry_count = retry_count + 1, error_message = '',
				claimed_by = '', queued_at = now(), started_at = NULL, finished_at = NULL
			 WHERE id IN (
				SELECT q.id FROM processing_queue q JOIN streams s ON s.id = q.stream_id
				WHERE q.status = $2 AND ($3::text = '' OR s.user_id = $3)
				ORDER BY q.priority DESC, q.finished_at ASC
				LIMIT $4
				FOR UPDATE OF q SKIP LOCKED
			 )
			 RETURNING stream_id`,
			string(QueueQueued), string(QueueFailed), userID, limit)
		if err != nil {
			return fmt.Errorf("pg: requeue entries: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("pg: requeue entries: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE streams SET status = $1, error_message = '', updated_at = now() WHERE id = ANY($2)`,
			string(StreamPending), ids); err != nil {
			return fmt.Errorf("pg: reset streams: %w", err)
		}
		count = len(ids)
		return nil
	})
	return count, err
}

func (s *PostgresStore) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_queue SET status = $1, claimed_by = '', started_at = NULL, retry_count = retry_count + 1
		 WHERE status = $2 AND started_at < $3`,
		string(QueueQueued), string(QueueProcessing), time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("pg: reset stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
