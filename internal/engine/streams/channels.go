package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_sage/internal/engine/sources"
)

// ChannelSource looks channels up at the video platform.
type ChannelSource interface {
	ChannelsByID(ctx context.Context, ids []string) ([]sources.Channel, error)
}

// Channels manages follows. Channel rows are created on first follow.
type Channels struct {
	store Store
	src   ChannelSource
}

func NewChannels(store Store, src ChannelSource) *Channels {
	return &Channels{store: store, src: src}
}

// RefreshResult reports a RefreshAll run.
type RefreshResult struct {
	Refreshed int `json:"refreshed"`
	Missing   int `json:"missing"`
}

// Follow subscribes userID to the channel with externalID, fetching its
// metadata when the channel is new. Following again replaces preferences.
func (c *Channels) Follow(ctx context.Context, userID, externalID string, prefs Preferences) (*Follow, error) {
	userID, externalID = strings.TrimSpace(userID), strings.TrimSpace(externalID)
	if userID == "" || externalID == "" {
		return nil, fmt.Errorf("follow: %w: user_id and channel_id are required", ErrMissingArgument)
	}
	if _, err := prefs.Normalize(); err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}

	ch, err := c.resolve(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	f, err := c.store.FollowChannel(ctx, userID, ch.ID, prefs)
	if err != nil {
		return nil, fmt.Errorf("follow: %w", err)
	}
	slog.Info("channel followed", slog.String("user", userID), slog.String("channel", externalID))
	return f, nil
}

// resolve returns the stored channel, creating it from the source if needed.
func (c *Channels) resolve(ctx context.Context, externalID string) (*Channel, error) {
	ch, err := c.store.GetChannelByExternalID(ctx, externalID)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	found, err := c.src.ChannelsByID(ctx, []string{externalID})
	if err != nil {
		return nil, fmt.Errorf("lookup channel %s: %w", externalID, err)
	}
	for _, sc := range found {
		if sc.ID == externalID {
			return c.store.UpsertChannel(ctx, channelFromSource(sc))
		}
	}
	return nil, fmt.Errorf("channel %s: %w", externalID, ErrNotFound)
}

func (c *Channels) Unfollow(ctx context.Context, userID, externalID string) error {
	ch, err := c.store.GetChannelByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	if err := c.store.UnfollowChannel(ctx, userID, ch.ID); err != nil {
		return fmt.Errorf("unfollow: %w", err)
	}
	return nil
}

func (c *Channels) SetFavorite(ctx context.Context, userID, externalID string, favorite bool) error {
	ch, err := c.store.GetChannelByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	if err := c.store.SetFavorite(ctx, userID, ch.ID, favorite); err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	return nil
}

// List returns the user's follows, favorites first.
func (c *Channels) List(ctx context.Context, userID string) ([]Follow, error) {
	if userID == "" {
		return nil, fmt.Errorf("list follows: %w: user_id", ErrMissingArgument)
	}
	return c.store.ListFollows(ctx, userID)
}

// RefreshAll re-reads metadata for every stored channel. Channels the source
// no longer returns are left untouched and counted as missing.
func (c *Channels) RefreshAll(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	stored, err := c.store.ListChannels(ctx)
	if err != nil {
		return res, fmt.Errorf("refresh channels: %w", err)
	}
	if len(stored) == 0 {
		return res, nil
	}

	ids := make([]string, len(stored))
	for i, ch := range stored {
		ids[i] = ch.ExternalID
	}
	fresh, err := c.src.ChannelsByID(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("refresh channels: %w", err)
	}

	for _, sc := range fresh {
		if _, err := c.store.UpsertChannel(ctx, channelFromSource(sc)); err != nil {
			slog.Warn("refresh channels: upsert failed", slog.String("channel", sc.ID), slog.Any("error", err))
			continue
		}
		res.Refreshed++
	}
	res.Missing = max(len(stored)-len(fresh), 0)
	slog.Info("channels refreshed", slog.Int("refreshed", res.Refreshed), slog.Int("missing", res.Missing))
	return res, nil
}
