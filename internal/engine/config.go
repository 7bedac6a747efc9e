package engine

import (
	"net/http"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	DatabaseURL  string // Postgres; empty = SQLite at SQLitePath
	SQLitePath   string
	HTTPClient   *http.Client
	FetchTimeout time.Duration

	YouTubeAPIKey         string
	YouTubeAPIKeyFallback string
	YouTubeQPS            float64  // client-side pacing of Data API calls
	TranscriptLangs       []string // preferred caption languages, best first
	TranscriptMaxChars    int

	LLMAPIKey          string
	LLMAPIKeyFallbacks []string
	LLMAPIBase         string
	LLMModel           string
	LLMTemperature     float64
	LLMMaxTokens       int
	LLMClient          *llm.Client // nil = LLM analysis disabled

	CacheMaxEntries      int
	CacheCleanupInterval time.Duration

	RateLimitDiscover int // per-user discover calls per window
	RateLimitProcess  int // process calls per window
	RateLimitWindow   time.Duration

	DiscoveryInterval time.Duration // 0 = scheduler disabled
	ProcessInterval   time.Duration // 0 = scheduler disabled
	ProcessBatchSize  int
}

var cfg = Config{
	HTTPClient:         &http.Client{Timeout: 15 * time.Second},
	TranscriptLangs:    []string{"en"},
	TranscriptMaxChars: 200000,
	ProcessBatchSize:   5,
}

// Cfg exposes the engine configuration for sub-packages (streams, sources).
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration.
func Init(c Config) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if len(c.TranscriptLangs) == 0 {
		c.TranscriptLangs = []string{"en"}
	}
	if c.ProcessBatchSize <= 0 {
		c.ProcessBatchSize = 5
	}
	cfg = c
	Cfg = &cfg
}
