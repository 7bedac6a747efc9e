package sageserver

import "github.com/anatolykoptev/go_sage/internal/engine/streams"

// --- pipeline ---

type DiscoverStreamsInput struct {
	UserID string `json:"user_id" jsonschema:"User whose followed channels are scanned"`
}

type DiscoverAllInput struct{}

type ProcessQueueInput struct {
	BatchSize int `json:"batch_size,omitempty" jsonschema:"Max queue entries to process (default 5, max 50)"`
}

type ProcessingStatusInput struct {
	UserID string `json:"user_id" jsonschema:"User to report on"`
}

type RequeueFailedInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"Limit to one user; empty requeues failures of all users"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Max entries to requeue (default 50)"`
}

type RequeueFailedOutput struct {
	Requeued int `json:"requeued"`
}

type ResetStaleInput struct {
	OlderThanMinutes int `json:"older_than_minutes,omitempty" jsonschema:"Requeue entries stuck in processing longer than this (default 60)"`
}

type ResetStaleOutput struct {
	Reset int `json:"reset"`
}

// --- channels ---

type FollowChannelInput struct {
	UserID          string   `json:"user_id" jsonschema:"Following user"`
	ChannelID       string   `json:"channel_id" jsonschema:"YouTube channel id (UC...)"`
	ContentTypes    []string `json:"content_types,omitempty" jsonschema:"Content to track: live, upload, short (default live + upload)"`
	ProcessingModes []string `json:"processing_modes,omitempty" jsonschema:"Analysis modes: keyword, llm (default keyword)"`
}

type ChannelRefInput struct {
	UserID    string `json:"user_id" jsonschema:"Following user"`
	ChannelID string `json:"channel_id" jsonschema:"YouTube channel id (UC...)"`
}

type SetFavoriteInput struct {
	UserID    string `json:"user_id" jsonschema:"Following user"`
	ChannelID string `json:"channel_id" jsonschema:"YouTube channel id (UC...)"`
	Favorite  bool   `json:"favorite" jsonschema:"true to mark as favorite, false to clear"`
}

type OKOutput struct {
	OK bool `json:"ok"`
}

type ListFollowsInput struct {
	UserID string `json:"user_id" jsonschema:"User whose follows are listed"`
}

type ListFollowsOutput struct {
	Follows []streams.Follow `json:"follows"`
	Count   int              `json:"count"`
}

type RefreshChannelsInput struct{}

// --- streams ---

type ListStreamsInput struct {
	UserID      string `json:"user_id" jsonschema:"Owner of the streams"`
	ChannelID   string `json:"channel_id,omitempty" jsonschema:"Only streams of this YouTube channel id"`
	Status      string `json:"status,omitempty" jsonschema:"pending, processing, completed, failed or cancelled"`
	ContentType string `json:"content_type,omitempty" jsonschema:"live, upload or short"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Page size (default 50, max 500)"`
	Offset      int    `json:"offset,omitempty" jsonschema:"Rows to skip"`
}

type ListStreamsOutput struct {
	Streams []streams.Stream `json:"streams"`
	Count   int              `json:"count"`
}

type GetStreamInput struct {
	ID     int64  `json:"id" jsonschema:"Stream id from list_streams"`
	UserID string `json:"user_id,omitempty" jsonschema:"When set, the stream must belong to this user"`
}

type GetStreamOutput struct {
	Stream streams.Stream      `json:"stream"`
	Queue  *streams.QueueEntry `json:"queue,omitempty"`
}

type AnalyzeTranscriptInput struct {
	Text   string `json:"text" jsonschema:"Transcript or any trading commentary to analyze"`
	UseLLM bool   `json:"use_llm,omitempty" jsonschema:"Add an LLM summary and insights when an LLM is configured"`
}
