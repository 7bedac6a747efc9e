// Package streams implements the SAGE pipeline: channel follows, stream
// discovery, the processing queue and transcript analysis.
package streams

import (
	"errors"
	"time"

	"github.com/anatolykoptev/go_sage/internal/engine/sources"
)

// ErrNotFound is returned by Store lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrMissingArgument is returned when a required identifier is empty.
var ErrMissingArgument = errors.New("missing argument")

// StreamStatus is the analysis lifecycle of a stream.
type StreamStatus string

const (
	StreamPending    StreamStatus = "pending"
	StreamProcessing StreamStatus = "processing"
	StreamCompleted  StreamStatus = "completed"
	StreamFailed     StreamStatus = "failed"
	StreamCancelled  StreamStatus = "cancelled"
)

// Valid reports whether s is a known stream status.
func (s StreamStatus) Valid() bool {
	switch s {
	case StreamPending, StreamProcessing, StreamCompleted, StreamFailed, StreamCancelled:
		return true
	}
	return false
}

// ContentType classifies a video.
type ContentType string

const (
	ContentLive   ContentType = "live"
	ContentUpload ContentType = "upload"
	ContentShort  ContentType = "short"
)

// Valid reports whether c is a known content type.
func (c ContentType) Valid() bool {
	switch c {
	case ContentLive, ContentUpload, ContentShort:
		return true
	}
	return false
}

// QueueStatus is the state of a processing queue entry.
type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

const (
	PriorityLive    = 3
	PriorityDefault = 1
)

// shortMaxSeconds is the longest duration still classified as a short.
const shortMaxSeconds = 60

// ContentTypeOf classifies v: a reported live or scheduled start means live,
// otherwise 60 seconds or less means short, otherwise upload.
func ContentTypeOf(v sources.Video) ContentType {
	switch {
	case v.HasLiveStart():
		return ContentLive
	case v.DurationSeconds <= shortMaxSeconds:
		return ContentShort
	default:
		return ContentUpload
	}
}

// PriorityFor returns the queue priority for a content type.
func PriorityFor(ct ContentType) int {
	if ct == ContentLive {
		return PriorityLive
	}
	return PriorityDefault
}

// Channel is a followed YouTube channel.
type Channel struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"external_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	SubscriberCount int64      `json:"subscriber_count"`
	VideoCount      int64      `json:"video_count"`
	ViewCount       int64      `json:"view_count"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func channelFromSource(c sources.Channel) Channel {
	return Channel{
		ExternalID:      c.ID,
		Title:           c.Title,
		Description:     c.Description,
		SubscriberCount: c.SubscriberCount,
		VideoCount:      c.VideoCount,
		ViewCount:       c.ViewCount,
		ThumbnailURL:    c.ThumbnailURL,
	}
}

// Follow links a user to a channel.
type Follow struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	ChannelID   int64       `json:"channel_id"`
	IsFavorite  bool        `json:"is_favorite"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"created_at"`

	ChannelExternalID string `json:"channel_external_id"`
	ChannelTitle      string `json:"channel_title"`
}

// Stream is one discovered video for one user.
type Stream struct {
	ID               int64        `json:"id"`
	UserID           string       `json:"user_id"`
	ChannelID        int64        `json:"channel_id"`
	VideoID          string       `json:"video_id"`
	Title            string       `json:"title"`
	Description      string       `json:"description,omitempty"`
	PublishedAt      time.Time    `json:"published_at"`
	DurationSeconds  int          `json:"duration_seconds"`
	ViewCount        int64        `json:"view_count"`
	LikeCount        int64        `json:"like_count"`
	ThumbnailURL     string       `json:"thumbnail_url,omitempty"`
	Status           StreamStatus `json:"status"`
	ContentType      ContentType  `json:"content_type"`
	ScheduledStartAt *time.Time   `json:"scheduled_start_at,omitempty"`
	Transcript       *string      `json:"transcript,omitempty"`
	Analysis         *Analysis    `json:"analysis,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func streamFromVideo(userID string, channelID int64, v sources.Video) Stream {
	return Stream{
		UserID:           userID,
		ChannelID:        channelID,
		VideoID:          v.ID,
		Title:            v.Title,
		Description:      v.Description,
		PublishedAt:      v.PublishedAt,
		DurationSeconds:  v.DurationSeconds,
		ViewCount:        v.ViewCount,
		LikeCount:        v.LikeCount,
		ThumbnailURL:     v.ThumbnailURL,
		Status:           StreamPending,
		ContentType:      ContentTypeOf(v),
		ScheduledStartAt: v.ScheduledStartAt,
	}
}

// QueueEntry is the unit of work "analyze this stream".
type QueueEntry struct {
	ID           int64       `json:"id"`
	StreamID     int64       `json:"stream_id"`
	Priority     int         `json:"priority"`
	Status       QueueStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
	ClaimedBy    string      `json:"claimed_by,omitempty"`
	QueuedAt     time.Time   `json:"queued_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
}

// StreamFilter narrows ListStreams. Zero values mean "any".
type StreamFilter struct {
	UserID      string
	ChannelID   int64
	Status      StreamStatus
	ContentType ContentType
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f StreamFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return f.Limit
}

// StatusCounts groups a user's streams and queue entries by status.
type StatusCounts struct {
	UserID  string               `json:"user_id"`
	Streams map[StreamStatus]int `json:"streams"`
	Queue   map[QueueStatus]int  `json:"queue"`
	Total   int                  `json:"total"`
}

func newStatusCounts(userID string) StatusCounts {
	return StatusCounts{
		UserID:  userID,
		Streams: map[StreamStatus]int{},
		Queue:   map[QueueStatus]int{},
	}
}
