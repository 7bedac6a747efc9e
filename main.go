// go_sage: trading-channel stream analysis MCP server.
//
// Discovers new videos on followed YouTube channels, queues them, pulls their
// transcripts and extracts trading signals. Runs as an HTTP MCP server
// (`go_sage serve`, the default) or as one-shot CLI commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/anatolykoptev/go_sage/internal/engine"
	"github.com/anatolykoptev/go_sage/internal/engine/sources"
	"github.com/anatolykoptev/go_sage/internal/engine/streams"
	"github.com/anatolykoptev/go_sage/internal/sageserver"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.Str("LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(env.Str("LOG_FORMAT", ""), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func initEngine() {
	c := engine.Config{
		DatabaseURL:           env.Str("DATABASE_URL", ""),
		SQLitePath:            env.Str("SQLITE_PATH", streams.DefaultSQLitePath()),
		FetchTimeout:          env.Duration("FETCH_TIMEOUT", 45*time.Second),
		YouTubeAPIKey:         env.Str("YOUTUBE_API_KEY", ""),
		YouTubeAPIKeyFallback: env.Str("YOUTUBE_API_KEY_FALLBACK", ""),
		YouTubeQPS:            env.Float("YOUTUBE_QPS", 5),
		TranscriptLangs:       env.List("TRANSCRIPT_LANGS", "en"),
		TranscriptMaxChars:    env.Int("TRANSCRIPT_MAX_CHARS", 200000),
		LLMAPIKey:             env.Str("LLM_API_KEY", ""),
		LLMAPIKeyFallbacks:    env.List("LLM_API_KEY_FALLBACKS", ""),
		LLMAPIBase:            env.Str("LLM_API_BASE", "https://generativelanguage.googleapis.com/v1beta/openai"),
		LLMModel:              env.Str("LLM_MODEL", "gemini-2.5-flash"),
		LLMTemperature:        env.Float("LLM_TEMPERATURE", 0.1),
		LLMMaxTokens:          env.Int("LLM_MAX_TOKENS", 2048),
		CacheMaxEntries:       env.Int("CACHE_MAX_ENTRIES", 1000),
		CacheCleanupInterval:  env.Duration("CACHE_CLEANUP_INTERVAL", 300*time.Second),
		RateLimitDiscover:     env.Int("RATE_LIMIT_DISCOVER", 10),
		RateLimitProcess:      env.Int("RATE_LIMIT_PROCESS", 30),
		RateLimitWindow:       env.Duration("RATE_LIMIT_WINDOW", time.Hour),
		DiscoveryInterval:     env.Duration("DISCOVERY_INTERVAL", 0),
		ProcessInterval:       env.Duration("PROCESS_INTERVAL", 0),
		ProcessBatchSize:      env.Int("PROCESS_BATCH_SIZE", streams.DefaultBatchSize),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
	c.LLMClient = engine.NewLLMClient(c)
	if c.LLMClient != nil {
		slog.Info("llm client initialized", slog.String("model", c.LLMModel))
	}

	engine.Init(c)
}

// app holds the wired pipeline for one process.
type app struct {
	rdb      *redis.Client
	store    streams.Store
	services *sageserver.Services
}

func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()
	setupLogging()
	initEngine()

	rdb := engine.ConnectRedis(ctx, env.Str("REDIS_URL", ""))
	engine.InitCache(rdb, env.Duration("CACHE_TTL", 15*time.Minute), engine.Cfg.CacheMaxEntries, engine.Cfg.CacheCleanupInterval)

	store, err := openStore(ctx)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	}

	var src sources.VideoSource
	yt, err := sources.NewYouTubeClientFromConfig(ctx)
	switch {
	case errors.Is(err, sources.ErrNoAPIKey):
		slog.Warn("YOUTUBE_API_KEY not set, discovery and channel lookups will fail")
		src = missingKeySource{}
	case err != nil:
		store.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	default:
		src = yt
	}

	keyword := streams.NewKeywordAnalyzer()
	var opts []streams.ProcessorOption
	var llmAnalyzer streams.Analyzer
	if engine.LLMEnabled() {
		llmAnalyzer = streams.NewLLMAnalyzer(keyword)
		opts = append(opts, streams.WithLLMAnalyzer(llmAnalyzer))
	}

	c := engine.Cfg
	return &app{
		rdb:   rdb,
		store: store,
		services: &sageserver.Services{
			Store:         store,
			Channels:      streams.NewChannels(store, src),
			Discoverer:    streams.NewDiscoverer(store, src),
			Processor:     streams.NewProcessor(store, sources.NewYouTubeTranscripts(), keyword, opts...),
			Analyzer:      keyword,
			LLM:           llmAnalyzer,
			DiscoverLimit: engine.NewRateLimiter(rdb, "discover", c.RateLimitDiscover, c.RateLimitWindow),
			ProcessLimit:  engine.NewRateLimiter(rdb, "process", c.RateLimitProcess, c.RateLimitWindow),
		},
	}, nil
}

func openStore(ctx context.Context) (streams.Store, error) {
	if url := engine.Cfg.DatabaseURL; url != "" {
		s, err := streams.ConnectPostgres(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("store: postgres")
		return s, nil
	}
	s, err := streams.OpenSQLite(ctx, engine.Cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	slog.Info("store: sqlite", slog.String("path", engine.Cfg.SQLitePath))
	return s, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("store close failed", slog.Any("error", err))
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}

// missingKeySource lets the server start without a Data API key; every
// upstream call reports the missing key instead.
type missingKeySource struct{}

func (missingKeySource) ChannelsByID(context.Context, []string) ([]sources.Channel, error) {
	return nil, sources.ErrNoAPIKey
}

func (missingKeySource) RecentVideos(context.Context, string, int) ([]sources.Video, error) {
	return nil, sources.ErrNoAPIKey
}
