package sageserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/streams"
	"github.com/anatolykoptev/go_sage/internal/toolutil"
)

const (
	maxBatchSize         = 50
	defaultStaleMinutes  = 60
	processLimitKey      = "process"
	discoverAllLimitKey  = "discover_all"
	discoverLimitKeyUser = "user:"
)

func (s *Services) registerDiscoverStreams(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "discover_streams",
		Description: "Scan every channel the user follows for recent videos and queue new ones for transcript analysis. Returns processed_channels, failed_channels and new_streams. Re-running with no new uploads adds nothing.",
	}, s.discoverStreams)
}

func (s *Services) discoverStreams(ctx context.Context, _ *mcp.CallToolRequest, input DiscoverStreamsInput) (*mcp.CallToolResult, streams.DiscoveryResult, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, streams.DiscoveryResult{}, err
	}
	if err := engine.Guard(ctx, s.DiscoverLimit, discoverLimitKeyUser+user); err != nil {
		return nil, streams.DiscoveryResult{}, err
	}
	res, err := s.Discoverer.DiscoverForUser(ctx, user)
	if err != nil {
		return nil, streams.DiscoveryResult{}, err
	}
	return nil, res, nil
}

func (s *Services) registerDiscoverAllStreams(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "discover_all_streams",
		Description: "Run discover_streams for every user with at least one follow. Failures of one user do not stop the others; totals are aggregated.",
	}, s.discoverAllStreams)
}

func (s *Services) discoverAllStreams(ctx context.Context, _ *mcp.CallToolRequest, _ DiscoverAllInput) (*mcp.CallToolResult, streams.DiscoveryResult, error) {
	if err := engine.Guard(ctx, s.DiscoverLimit, discoverAllLimitKey); err != nil {
		return nil, streams.DiscoveryResult{}, err
	}
	res, err := s.Discoverer.DiscoverAll(ctx)
	if err != nil {
		return nil, streams.DiscoveryResult{}, err
	}
	return nil, res, nil
}

func (s *Services) registerProcessQueue(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "process_queue",
		Description: "Claim the next queued streams (live first, then oldest) and analyze their transcripts. Returns processed, failed and skipped counts. Streams without captions are marked failed and not retried automatically.",
	}, s.processQueue)
}

func (s *Services) processQueue(ctx context.Context, _ *mcp.CallToolRequest, input ProcessQueueInput) (*mcp.CallToolResult, streams.ProcessResult, error) {
	if err := engine.Guard(ctx, s.ProcessLimit, processLimitKey); err != nil {
		return nil, streams.ProcessResult{}, err
	}
	n := input.BatchSize
	if n <= 0 {
		n = engine.Cfg.ProcessBatchSize
	}
	n = min(n, maxBatchSize)
	res, err := s.Processor.ProcessBatch(ctx, n)
	if err != nil {
		return nil, streams.ProcessResult{}, err
	}
	return nil, res, nil
}

func (s *Services) registerProcessingStatus(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "processing_status",
		Description: "Count a user's streams by status (pending, completed, failed...) and their queue entries by status (queued, processing, completed, failed).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.processingStatus)
}

func (s *Services) processingStatus(ctx context.Context, _ *mcp.CallToolRequest, input ProcessingStatusInput) (*mcp.CallToolResult, streams.StatusCounts, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, streams.StatusCounts{}, err
	}
	counts, err := s.Processor.Status(ctx, user)
	if err != nil {
		return nil, streams.StatusCounts{}, err
	}
	return nil, counts, nil
}

func (s *Services) registerRequeueFailed(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "requeue_failed",
		Description: "Put failed streams back in the processing queue, e.g. after captions became available. Increments each entry's retry count.",
	}, s.requeueFailed)
}

func (s *Services) requeueFailed(ctx context.Context, _ *mcp.CallToolRequest, input RequeueFailedInput) (*mcp.CallToolResult, RequeueFailedOutput, error) {
	n, err := s.Processor.RequeueFailed(ctx, input.UserID, input.Limit)
	if err != nil {
		return nil, RequeueFailedOutput{}, err
	}
	return nil, RequeueFailedOutput{Requeued: n}, nil
}

func (s *Services) registerResetStale(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_stale",
		Description: "Requeue entries left in processing by a crashed run. Only entries claimed longer ago than older_than_minutes are touched.",
	}, s.resetStale)
}

func (s *Services) resetStale(ctx context.Context, _ *mcp.CallToolRequest, input ResetStaleInput) (*mcp.CallToolResult, ResetStaleOutput, error) {
	minutes := input.OlderThanMinutes
	if minutes <= 0 {
		minutes = defaultStaleMinutes
	}
	n, err := s.Processor.ResetStale(ctx, time.Duration(minutes)*time.Minute)
	if err != nil {
		return nil, ResetStaleOutput{}, err
	}
	return nil, ResetStaleOutput{Reset: n}, nil
}
