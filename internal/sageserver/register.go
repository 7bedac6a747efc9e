// Package sageserver exposes the stream pipeline as MCP tools.
package sageserver

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/streams"
)

// Services are the pipeline components the tools call into.
type Services struct {
	Store      streams.Store
	Channels   *streams.Channels
	Discoverer *streams.Discoverer
	Processor  *streams.Processor
	Analyzer   streams.Analyzer // analyze_transcript
	LLM        streams.Analyzer // nil when no LLM is configured

	DiscoverLimit engine.RateLimiter // keyed per user
	ProcessLimit  engine.RateLimiter // single global key
}

// RegisterTools registers every go_sage tool on server and returns how many
// were added.
func RegisterTools(server *mcp.Server, s *Services) int {
	tools := []func(*mcp.Server){
		s.registerDiscoverStreams,
		s.registerDiscoverAllStreams,
		s.registerProcessQueue,
		s.registerProcessingStatus,
		s.registerRequeueFailed,
		s.registerResetStale,
		s.registerFollowChannel,
		s.registerUnfollowChannel,
		s.registerSetFavorite,
		s.registerListFollows,
		s.registerRefreshChannels,
		s.registerListStreams,
		s.registerGetStream,
		s.registerAnalyzeTranscript,
	}
	for _, register := range tools {
		register(server)
	}
	return len(tools)
}
