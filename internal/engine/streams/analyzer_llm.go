package streams

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anatolykoptev/go_sage/internal/engine"
)

const llmSystemPrompt = `You review transcripts of trading-education videos.
Reply with a single JSON object and nothing else:
{"summary": "<two or three sentences>", "insights": ["<concrete, actionable point>", ...], "signal": "buy|sell|hold|neutral"}
Use at most 5 insights. Do not invent price levels that are not in the transcript.`

const (
	llmTranscriptLimit = 12000 // runes of transcript sent to the model
	llmMaxInsights     = 5
)

type llmInsights struct {
	Summary  string   `json:"summary"`
	Insights []string `json:"insights"`
	Signal   string   `json:"signal"`
}

// LLMAnalyzer runs the keyword analyzer and asks the configured LLM for a
// summary and extra insights. Keyword results are kept when the LLM fails.
type LLMAnalyzer struct {
	base Analyzer
	call func(ctx context.Context, system, prompt string) (*llmInsights, error)
}

// NewLLMAnalyzer wraps base. It uses engine.CallLLMJSON.
func NewLLMAnalyzer(base Analyzer) *LLMAnalyzer {
	return &LLMAnalyzer{base: base, call: engine.CallLLMJSON[llmInsights]}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, transcript string) (*Analysis, error) {
	res, err := a.base.Analyze(ctx, transcript)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Keyword pass: signal %s (%s), sentiment %s.\n\nTranscript:\n%s",
		res.Signal.Action, res.Signal.Reason, res.Sentiment,
		engine.TruncateRunes(transcript, llmTranscriptLimit, "..."))

	out, err := a.call(ctx, llmSystemPrompt, prompt)
	if err != nil {
		slog.Warn("llm analysis failed, keeping keyword result", slog.Any("error", err))
		return res, nil
	}

	res.Summary = strings.TrimSpace(out.Summary)
	insights := out.Insights
	if len(insights) > llmMaxInsights {
		insights = insights[:llmMaxInsights]
	}
	for i := range insights {
		insights[i] = strings.TrimSpace(insights[i])
	}
	res.KeyInsights = dedupe(append(res.KeyInsights, nonEmpty(insights)...))
	if res.Signal.Action == SignalNeutral && out.Signal == SignalHold {
		res.Signal.Action = SignalHold
		res.Signal.Reason += "; model suggests holding"
	}
	res.Method = MethodKeywordLLM
	return res, nil
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
