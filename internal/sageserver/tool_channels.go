package sageserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_sage/internal/engine/streams"
	"github.com/anatolykoptev/go_sage/internal/toolutil"
)

func (s *Services) registerFollowChannel(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "follow_channel",
		Description: "Follow a YouTube channel by id. New channels are looked up on YouTube first. Following again updates content_types and processing_modes.",
	}, s.followChannel)
}

func (s *Services) followChannel(ctx context.Context, _ *mcp.CallToolRequest, input FollowChannelInput) (*mcp.CallToolResult, *streams.Follow, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, nil, err
	}
	channel, err := toolutil.Required("channel_id", input.ChannelID)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.Channels.Follow(ctx, user, channel, toolutil.Preferences(input.ContentTypes, input.ProcessingModes))
	if err != nil {
		return nil, nil, err
	}
	return nil, f, nil
}

func (s *Services) registerUnfollowChannel(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "unfollow_channel",
		Description: "Stop following a channel. Already discovered streams are kept.",
	}, s.unfollowChannel)
}

func (s *Services) unfollowChannel(ctx context.Context, _ *mcp.CallToolRequest, input ChannelRefInput) (*mcp.CallToolResult, OKOutput, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, OKOutput{}, err
	}
	channel, err := toolutil.Required("channel_id", input.ChannelID)
	if err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.Channels.Unfollow(ctx, user, channel); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Services) registerSetFavorite(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_favorite",
		Description: "Mark or unmark a followed channel as favorite. Favorites are listed first.",
	}, s.setFavorite)
}

func (s *Services) setFavorite(ctx context.Context, _ *mcp.CallToolRequest, input SetFavoriteInput) (*mcp.CallToolResult, OKOutput, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, OKOutput{}, err
	}
	channel, err := toolutil.Required("channel_id", input.ChannelID)
	if err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.Channels.SetFavorite(ctx, user, channel, input.Favorite); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Services) registerListFollows(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_follows",
		Description: "List the channels a user follows with their preferences, favorites first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.listFollows)
}

func (s *Services) listFollows(ctx context.Context, _ *mcp.CallToolRequest, input ListFollowsInput) (*mcp.CallToolResult, ListFollowsOutput, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, ListFollowsOutput{}, err
	}
	follows, err := s.Channels.List(ctx, user)
	if err != nil {
		return nil, ListFollowsOutput{}, err
	}
	if follows == nil {
		follows = []streams.Follow{}
	}
	return nil, ListFollowsOutput{Follows: follows, Count: len(follows)}, nil
}

func (s *Services) registerRefreshChannels(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_channels",
		Description: "Re-read title, thumbnail and subscriber/video/view counts for every stored channel from YouTube.",
	}, s.refreshChannels)
}

func (s *Services) refreshChannels(ctx context.Context, _ *mcp.CallToolRequest, _ RefreshChannelsInput) (*mcp.CallToolResult, streams.RefreshResult, error) {
	res, err := s.Channels.RefreshAll(ctx)
	if err != nil {
		return nil, streams.RefreshResult{}, err
	}
	return nil, res, nil
}
