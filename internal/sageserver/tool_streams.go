package sageserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/streams"
	"github.com/anatolykoptev/go_sage/internal/toolutil"
)

func (s *Services) registerListStreams(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_streams",
		Description: "List a user's discovered streams, newest first, with their analysis. Filter by channel, status or content type. Transcripts are omitted; use get_stream for the full text.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.listStreams)
}

func (s *Services) listStreams(ctx context.Context, _ *mcp.CallToolRequest, input ListStreamsInput) (*mcp.CallToolResult, ListStreamsOutput, error) {
	user, err := toolutil.Required("user_id", input.UserID)
	if err != nil {
		return nil, ListStreamsOutput{}, err
	}
	status, err := toolutil.StreamStatus(input.Status)
	if err != nil {
		return nil, ListStreamsOutput{}, err
	}
	ct, err := toolutil.ContentType(input.ContentType)
	if err != nil {
		return nil, ListStreamsOutput{}, err
	}

	f := streams.StreamFilter{
		UserID:      user,
		Status:      status,
		ContentType: ct,
		Limit:       input.Limit,
		Offset:      input.Offset,
	}
	if ext := strings.TrimSpace(input.ChannelID); ext != "" {
		ch, err := s.Store.GetChannelByExternalID(ctx, ext)
		if errors.Is(err, streams.ErrNotFound) {
			return nil, ListStreamsOutput{Streams: []streams.Stream{}}, nil
		}
		if err != nil {
			return nil, ListStreamsOutput{}, err
		}
		f.ChannelID = ch.ID
	}

	list, err := s.Store.ListStreams(ctx, f)
	if err != nil {
		return nil, ListStreamsOutput{}, err
	}
	if list == nil {
		list = []streams.Stream{}
	}
	return nil, ListStreamsOutput{Streams: list, Count: len(list)}, nil
}

func (s *Services) registerGetStream(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stream",
		Description: "Get one stream by id including transcript, analysis and error message, plus its queue entry (status, retry count, error).",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.getStream)
}

func (s *Services) getStream(ctx context.Context, _ *mcp.CallToolRequest, input GetStreamInput) (*mcp.CallToolResult, *GetStreamOutput, error) {
	if input.ID <= 0 {
		return nil, nil, errors.New("id is required")
	}
	st, err := s.Store.GetStream(ctx, input.ID)
	if err != nil {
		return nil, nil, err
	}
	if input.UserID != "" && st.UserID != input.UserID {
		return nil, nil, fmt.Errorf("stream %d: %w", input.ID, streams.ErrNotFound)
	}

	out := &GetStreamOutput{Stream: *st}
	e, err := s.Store.GetEntryByStream(ctx, st.ID)
	switch {
	case err == nil:
		out.Queue = e
	case !errors.Is(err, streams.ErrNotFound):
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Services) registerAnalyzeTranscript(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_transcript",
		Description: "Run the trading-signal analyzer on arbitrary text: buy/sell/neutral signal with confidence, sentiment, detected indicators, strategies, timeframes, symbols and chart patterns, and dollar amounts. Nothing is stored.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, s.analyzeTranscript)
}

func (s *Services) analyzeTranscript(ctx context.Context, _ *mcp.CallToolRequest, input AnalyzeTranscriptInput) (*mcp.CallToolResult, *streams.Analysis, error) {
	if strings.TrimSpace(input.Text) == "" {
		return nil, nil, errors.New("text is required")
	}

	analyzer, mode := s.Analyzer, streams.MethodKeyword
	if input.UseLLM && s.LLM != nil {
		analyzer, mode = s.LLM, streams.MethodKeywordLLM
	}

	cacheKey := engine.CacheKey("analyze_transcript", mode, input.Text)
	if out, ok := engine.CacheLoadJSON[streams.Analysis](ctx, cacheKey); ok {
		return nil, &out, nil
	}

	a, err := analyzer.Analyze(ctx, input.Text)
	if err != nil {
		return nil, nil, err
	}
	// A failed LLM call degrades to the keyword result; don't cache that under the llm key.
	if a.Method == mode {
		engine.CacheStoreJSON(ctx, cacheKey, *a)
	}
	return nil, a, nil
}
