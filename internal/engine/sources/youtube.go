package sources

// YouTube implementation is split across files by responsibility:
//   youtube.go           : Data API v3 client (channels, recent uploads, video details)
//   youtube_duration.go  : ISO-8601 duration parsing for contentDetails.duration
//   youtube_innertube.go : Innertube API types, constants, and low-level HTTP primitives
//   youtube_transcript.go: transcript fetching (watch page, engagement panel, ANDROID player)

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ytMaxIDsPerCall is the Data API limit for id= lists and maxResults.
const ytMaxIDsPerCall = 50

// Channel is channel metadata from channels.list.
type Channel struct {
	ID              string
	Title           string
	Description     string
	ThumbnailURL    string
	SubscriberCount int64
	VideoCount      int64
	ViewCount       int64
}

// Video is video metadata from videos.list.
type Video struct {
	ID                   string
	ChannelID            string
	Title                string
	Description          string
	ThumbnailURL         string
	PublishedAt          time.Time
	DurationSeconds      int
	ViewCount            int64
	LikeCount            int64
	LiveBroadcastContent string // "live", "upcoming" or "none"
	ScheduledStartAt     *time.Time
	ActualStartAt        *time.Time
}

// HasLiveStart reports whether the source marks v as a live broadcast,
// past, current or scheduled.
func (v Video) HasLiveStart() bool {
	if v.ScheduledStartAt != nil || v.ActualStartAt != nil {
		return true
	}
	return v.LiveBroadcastContent == "live" || v.LiveBroadcastContent == "upcoming"
}

// VideoSource is the subset of the Data API the pipeline consumes.
type VideoSource interface {
	ChannelsByID(ctx context.Context, ids []string) ([]Channel, error)
	RecentVideos(ctx context.Context, channelID string, limit int) ([]Video, error)
}

// ErrNoAPIKey is returned by NewYouTubeClient without any API key.
var ErrNoAPIKey = errors.New("youtube: no API key configured")

// YouTubeClient calls the Data API with client-side pacing and a fallback key
// used when the primary one runs out of quota.
type YouTubeClient struct {
	services []*youtube.Service
	limiter  *rate.Limiter
}

// NewYouTubeClient builds one service per non-empty key. qps <= 0 disables pacing.
// Extra options (endpoint overrides in tests) apply to every service.
func NewYouTubeClient(ctx context.Context, keys []string, qps float64, opts ...option.ClientOption) (*YouTubeClient, error) {
	c := &YouTubeClient{limiter: rate.NewLimiter(rate.Inf, 1)}
	if qps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(qps), 1)
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		svc, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(key)}, opts...)...)
		if err != nil {
			return nil, fmt.Errorf("youtube: new service: %w", err)
		}
		c.services = append(c.services, svc)
	}
	if len(c.services) == 0 {
		return nil, ErrNoAPIKey
	}
	return c, nil
}

// NewYouTubeClientFromConfig uses the keys and pacing from engine.Cfg.
func NewYouTubeClientFromConfig(ctx context.Context) (*YouTubeClient, error) {
	return NewYouTubeClient(ctx,
		[]string{engine.Cfg.YouTubeAPIKey, engine.Cfg.YouTubeAPIKeyFallback},
		engine.Cfg.YouTubeQPS,
	)
}

// callYouTube runs fn against each service in turn, moving to the next key
// only on quota errors. Each attempt is paced and retried on transient errors.
func callYouTube[T any](ctx context.Context, c *YouTubeClient, op string, fn func(*youtube.Service) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i, svc := range c.services {
		if i > 0 {
			engine.IncrYouTubeKeyFallback()
			slog.Warn("youtube: quota exhausted, switching to fallback key", slog.String("op", op))
		}
		res, err := engine.RetryDo(ctx, engine.APIRetryConfig, func() (T, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return zero, err
			}
			engine.IncrYouTubeAPI()
			return fn(svc)
		})
		if err == nil {
			return res, nil
		}
		engine.IncrYouTubeAPIError()
		lastErr = err
		if !engine.IsQuotaError(err) {
			break
		}
	}
	return zero, fmt.Errorf("youtube %s: %w", op, lastErr)
}

// ChannelsByID looks up channels in chunks of 50 ids. Unknown ids are omitted.
func (c *YouTubeClient) ChannelsByID(ctx context.Context, ids []string) ([]Channel, error) {
	var out []Channel
	for _, chunk := range chunkIDs(ids, ytMaxIDsPerCall) {
		resp, err := callYouTube(ctx, c, "channels.list", func(svc *youtube.Service) (*youtube.ChannelListResponse, error) {
			return svc.Channels.List([]string{"snippet", "statistics"}).
				Id(chunk...).
				MaxResults(ytMaxIDsPerCall).
				Context(ctx).
				Do()
		})
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			out = append(out, channelFromAPI(item))
		}
	}
	return out, nil
}

// RecentVideos returns up to limit of the channel's newest videos, newest first,
// with full details. limit is capped at 50.
func (c *YouTubeClient) RecentVideos(ctx context.Context, channelID string, limit int) ([]Video, error) {
	if limit <= 0 || limit > ytMaxIDsPerCall {
		limit = ytMaxIDsPerCall
	}
	search, err := callYouTube(ctx, c, "search.list", func(svc *youtube.Service) (*youtube.SearchListResponse, error) {
		return svc.Search.List([]string{"id"}).
			ChannelId(channelID).
			Order("date").
			Type("video").
			MaxResults(int64(limit)).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return c.VideosByID(ctx, ids)
}

// VideosByID fetches snippet, statistics, content details and live-streaming
// details, preserving the order of ids.
func (c *YouTubeClient) VideosByID(ctx context.Context, ids []string) ([]Video, error) {
	byID := make(map[string]Video, len(ids))
	for _, chunk := range chunkIDs(ids, ytMaxIDsPerCall) {
		resp, err := callYouTube(ctx, c, "videos.list", func(svc *youtube.Service) (*youtube.VideoListResponse, error) {
			return svc.Videos.List([]string{"snippet", "statistics", "contentDetails", "liveStreamingDetails"}).
				Id(chunk...).
				Context(ctx).
				Do()
		})
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			byID[item.Id] = videoFromAPI(item)
		}
	}

	out := make([]Video, 0, len(byID))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func channelFromAPI(item *youtube.Channel) Channel {
	ch := Channel{ID: item.Id}
	if s := item.Snippet; s != nil {
		ch.Title = s.Title
		ch.Description = s.Description
		ch.ThumbnailURL = bestThumbnail(s.Thumbnails)
	}
	if st := item.Statistics; st != nil {
		ch.SubscriberCount = int64(st.SubscriberCount)
		ch.VideoCount = int64(st.VideoCount)
		ch.ViewCount = int64(st.ViewCount)
	}
	return ch
}

func videoFromAPI(item *youtube.Video) Video {
	v := Video{ID: item.Id, LiveBroadcastContent: "none"}
	if s := item.Snippet; s != nil {
		v.ChannelID = s.ChannelId
		v.Title = s.Title
		v.Description = s.Description
		v.ThumbnailURL = bestThumbnail(s.Thumbnails)
		if s.LiveBroadcastContent != "" {
			v.LiveBroadcastContent = s.LiveBroadcastContent
		}
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			v.PublishedAt = t
		}
	}
	if st := item.Statistics; st != nil {
		v.ViewCount = int64(st.ViewCount)
		v.LikeCount = int64(st.LikeCount)
	}
	if cd := item.ContentDetails; cd != nil && cd.Duration != "" {
		secs, err := ParseISODuration(cd.Duration)
		if err != nil {
			slog.Debug("youtube: bad duration", slog.String("id", item.Id), slog.String("duration", cd.Duration))
		}
		v.DurationSeconds = secs
	}
	if ls := item.LiveStreamingDetails; ls != nil {
		v.ScheduledStartAt = parseTimePtr(ls.ScheduledStartTime)
		v.ActualStartAt = parseTimePtr(ls.ActualStartTime)
	}
	return v
}

func bestThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}
