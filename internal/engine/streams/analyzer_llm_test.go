package streams

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMAnalyzerMergesInsights(t *testing.T) {
	a := NewLLMAnalyzer(NewKeywordAnalyzer())
	var gotPrompt string
	a.call = func(_ context.Context, _, prompt string) (*llmInsights, error) {
		gotPrompt = prompt
		return &llmInsights{
			Summary:  " Host expects a pullback to $420. ",
			Insights: []string{"$420", "Wait for the daily close", ""},
		}, nil
	}

	res, err := a.Analyze(context.Background(), "buy buy buy at $420")
	require.NoError(t, err)

	assert.Equal(t, MethodKeywordLLM, res.Method)
	assert.Equal(t, "Host expects a pullback to $420.", res.Summary)
	assert.Equal(t, []string{"$420", "Wait for the daily close"}, res.KeyInsights)
	assert.Equal(t, SignalBuy, res.Signal.Action, "keyword signal is kept")
	assert.Contains(t, gotPrompt, "signal buy")
}

func TestLLMAnalyzerHoldOnlyOverridesNeutral(t *testing.T) {
	a := NewLLMAnalyzer(NewKeywordAnalyzer())
	a.call = func(context.Context, string, string) (*llmInsights, error) {
		return &llmInsights{Signal: SignalHold}, nil
	}

	res, err := a.Analyze(context.Background(), "nothing actionable")
	require.NoError(t, err)
	assert.Equal(t, SignalHold, res.Signal.Action)

	res, err = a.Analyze(context.Background(), "sell sell sell")
	require.NoError(t, err)
	assert.Equal(t, SignalSell, res.Signal.Action)
}

func TestLLMAnalyzerFallsBackOnError(t *testing.T) {
	a := NewLLMAnalyzer(NewKeywordAnalyzer())
	a.call = func(context.Context, string, string) (*llmInsights, error) {
		return nil, errors.New("upstream 500")
	}

	res, err := a.Analyze(context.Background(), "buy buy buy")
	require.NoError(t, err)
	assert.Equal(t, MethodKeyword, res.Method)
	assert.Empty(t, res.Summary)
}
