package streams

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/sources"
)

// DefaultMaxVideosPerChannel caps how many recent videos are fetched per channel.
const DefaultMaxVideosPerChannel = 25

// DiscoveryResult aggregates one discovery run.
type DiscoveryResult struct {
	ProcessedChannels int `json:"processed_channels"`
	FailedChannels    int `json:"failed_channels"`
	NewStreams        int `json:"new_streams"`
	Users             int `json:"users,omitempty"`
	FailedUsers       int `json:"failed_users,omitempty"`
}

func (r *DiscoveryResult) add(o DiscoveryResult) {
	r.ProcessedChannels += o.ProcessedChannels
	r.FailedChannels += o.FailedChannels
	r.NewStreams += o.NewStreams
}

// Discoverer finds new videos on followed channels and enqueues them.
type Discoverer struct {
	store Store
	src   sources.VideoSource

	MaxVideosPerChannel int
}

func NewDiscoverer(store Store, src sources.VideoSource) *Discoverer {
	return &Discoverer{store: store, src: src, MaxVideosPerChannel: DefaultMaxVideosPerChannel}
}

// DiscoverForUser scans every channel userID follows. A failing channel is
// logged and counted; only a failure to read the follows is returned.
func (d *Discoverer) DiscoverForUser(ctx context.Context, userID string) (DiscoveryResult, error) {
	var res DiscoveryResult
	if userID == "" {
		return res, fmt.Errorf("discover: %w: user_id", ErrMissingArgument)
	}
	engine.IncrDiscoveryRuns()

	follows, err := d.store.ListFollows(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("discover: list follows: %w", err)
	}
	if len(follows) == 0 {
		return res, nil
	}

	start := time.Now()
	for _, f := range follows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := d.discoverChannel(ctx, f)
		if err != nil {
			res.FailedChannels++
			engine.IncrChannelsFailed()
			slog.Warn("discover: channel failed",
				slog.String("user", userID),
				slog.String("channel", f.ChannelExternalID),
				slog.Any("error", err))
			continue
		}
		res.ProcessedChannels++
		res.NewStreams += n
		engine.IncrChannelsScanned()
	}
	engine.AddStreamsDiscovered(res.NewStreams)

	slog.Info("discover: done",
		slog.String("user", userID),
		slog.Int("channels", res.ProcessedChannels),
		slog.Int("failed", res.FailedChannels),
		slog.Int("new_streams", res.NewStreams),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// DiscoverAll runs DiscoverForUser for every user with at least one follow.
func (d *Discoverer) DiscoverAll(ctx context.Context) (DiscoveryResult, error) {
	var res DiscoveryResult
	users, err := d.store.ListFollowers(ctx)
	if err != nil {
		return res, fmt.Errorf("discover all: list users: %w", err)
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Users++
		r, err := d.DiscoverForUser(ctx, u)
		res.add(r)
		if err != nil {
			res.FailedUsers++
			slog.Warn("discover all: user failed", slog.String("user", u), slog.Any("error", err))
		}
	}
	return res, nil
}

// discoverChannel returns the number of streams inserted for one follow.
// Panics are converted to errors so one channel cannot abort the run.
func (d *Discoverer) discoverChannel(ctx context.Context, f Follow) (inserted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	videos, err := d.src.RecentVideos(ctx, f.ChannelExternalID, d.maxVideos())
	if err != nil {
		return 0, err
	}
	if len(videos) > d.maxVideos() {
		videos = videos[:d.maxVideos()]
	}
	if len(videos) == 0 {
		return 0, nil
	}

	known, err := d.store.KnownVideoIDs(ctx, f.UserID, f.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("known videos: %w", err)
	}

	for _, v := range videos {
		if v.ID == "" || known[v.ID] {
			continue
		}
		st := streamFromVideo(f.UserID, f.ChannelID, v)
		if !f.Preferences.Tracks(st.ContentType) {
			continue
		}
		ok, err := d.store.InsertStream(ctx, &st, PriorityFor(st.ContentType))
		if err != nil {
			slog.Warn("discover: insert failed, skipping video",
				slog.String("video", v.ID), slog.Any("error", err))
			continue
		}
		if !ok {
			slog.Debug("discover: video already stored", slog.String("video", v.ID))
			continue
		}
		known[v.ID] = true
		inserted++
	}
	return inserted, nil
}

func (d *Discoverer) maxVideos() int {
	if d.MaxVideosPerChannel <= 0 {
		return DefaultMaxVideosPerChannel
	}
	return d.MaxVideosPerChannel
}
