package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/llm"
)

// ErrLLMDisabled is returned when no LLM client is configured.
var ErrLLMDisabled = errors.New("llm: not configured")

// NewLLMClient builds the OpenAI-compatible client from c.
// Returns nil when no API key is set.
func NewLLMClient(c Config) *llm.Client {
	if c.LLMAPIKey == "" {
		return nil
	}
	return llm.NewClient(c.LLMAPIBase, c.LLMAPIKey, c.LLMModel,
		llm.WithFallbackKeys(c.LLMAPIKeyFallbacks),
		llm.WithMaxTokens(c.LLMMaxTokens),
		llm.WithTemperature(c.LLMTemperature),
		llm.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
	)
}

// LLMEnabled reports whether CallLLM can be used.
func LLMEnabled() bool {
	return cfg.LLMClient != nil
}

// stripFences removes markdown code fences from LLM output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// CallLLM sends system + prompt using the configured temperature and max_tokens.
func CallLLM(ctx context.Context, system, prompt string) (string, error) {
	if cfg.LLMClient == nil {
		return "", ErrLLMDisabled
	}
	metrics.LLMCalls.Add(1)
	resp, err := cfg.LLMClient.Complete(ctx, system, prompt,
		llm.WithChatTemperature(cfg.LLMTemperature),
	)
	if err != nil {
		metrics.LLMErrors.Add(1)
		return "", fmt.Errorf("llm: %w", err)
	}
	return stripFences(resp), nil
}

// CallLLMJSON calls the LLM and decodes its reply into T.
func CallLLMJSON[T any](ctx context.Context, system, prompt string) (*T, error) {
	raw, err := CallLLM(ctx, system, prompt)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Models sometimes wrap the object in prose.
		if obj := extractObject(raw); obj != "" {
			if err2 := json.Unmarshal([]byte(obj), &out); err2 == nil {
				return &out, nil
			}
		}
		return nil, fmt.Errorf("llm: parse failed on %q: %w", TruncateRunes(raw, 200, "..."), err)
	}
	return &out, nil
}

// extractObject returns the outermost {...} span of s, or "".
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
