package streams

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Signal actions.
const (
	SignalBuy     = "buy"
	SignalSell    = "sell"
	SignalHold    = "hold"
	SignalNeutral = "neutral"
)

// Sentiments.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// Analysis methods recorded on results.
const (
	MethodKeyword    = "keyword"
	MethodKeywordLLM = "keyword+llm"
)

// Signal is the coarse trade call derived from a transcript.
type Signal struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// MarketTerms are the vocabulary entries found in a transcript, per category.
type MarketTerms struct {
	Indicators []string `json:"indicators"`
	Strategies []string `json:"strategies"`
	Timeframes []string `json:"timeframes"`
	Symbols    []string `json:"symbols"`
	Patterns   []string `json:"patterns"`
}

// Analysis is the stored result of analyzing one transcript.
type Analysis struct {
	Signal         Signal      `json:"signal"`
	Terms          MarketTerms `json:"terms"`
	Sentiment      string      `json:"sentiment"`
	KeyInsights    []string    `json:"key_insights"`
	Confidence     float64     `json:"confidence"`
	BuyMentions    int         `json:"buy_mentions"`
	SellMentions   int         `json:"sell_mentions"`
	DollarMentions int         `json:"dollar_mentions"`
	Summary        string      `json:"summary,omitempty"`
	Method         string      `json:"method"`
	AnalyzedAt     time.Time   `json:"analyzed_at"`
}

// Analyzer turns a transcript into an Analysis.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*Analysis, error)
}

// KeywordAnalyzer counts fixed vocabularies. It is deterministic and needs
// no external service.
type KeywordAnalyzer struct {
	buy, sell  termMatcher
	indicators termMatcher
	strategies termMatcher
	timeframes termMatcher
	symbols    termMatcher
	patterns   termMatcher
	now        func() time.Time
}

// NewKeywordAnalyzer compiles the built-in vocabularies.
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{
		buy:        newTermMatcher(buyVocabulary, false),
		sell:       newTermMatcher(sellVocabulary, false),
		indicators: newTermMatcher(indicatorTerms, false),
		strategies: newTermMatcher(strategyTerms, false),
		timeframes: newTermMatcher(timeframeTerms, false),
		symbols:    newTermMatcher(symbolTerms, true),
		patterns:   newTermMatcher(patternTerms, false),
		now:        time.Now,
	}
}

const (
	buySellThreshold   = 2   // counts must exceed this to emit buy or sell
	perMentionWeight   = 0.2 // signal confidence per winning mention
	maxSignalConf      = 0.8
	neutralSignalConf  = 0.5
	minOverallConf     = 0.3
	overallConfDivisor = 20.0
)

// Analyze never fails; the error is part of the Analyzer contract.
func (a *KeywordAnalyzer) Analyze(_ context.Context, transcript string) (*Analysis, error) {
	buy := a.buy.count(transcript)
	sell := a.sell.count(transcript)
	dollars := dollarRE.FindAllString(transcript, -1)

	return &Analysis{
		Signal:         classify(buy, sell),
		Sentiment:      sentiment(buy, sell),
		Terms:          a.terms(transcript),
		KeyInsights:    dedupe(dollars),
		Confidence:     overallConfidence(buy, sell, len(dollars)),
		BuyMentions:    buy,
		SellMentions:   sell,
		DollarMentions: len(dollars),
		Method:         MethodKeyword,
		AnalyzedAt:     a.now().UTC(),
	}, nil
}

func classify(buy, sell int) Signal {
	switch {
	case buy > sell && buy > buySellThreshold:
		return Signal{
			Action:     SignalBuy,
			Confidence: round2(math.Min(float64(buy)*perMentionWeight, maxSignalConf)),
			Reason:     fmt.Sprintf("%d buy mentions vs %d sell mentions", buy, sell),
		}
	case sell > buy && sell > buySellThreshold:
		return Signal{
			Action:     SignalSell,
			Confidence: round2(math.Min(float64(sell)*perMentionWeight, maxSignalConf)),
			Reason:     fmt.Sprintf("%d sell mentions vs %d buy mentions", sell, buy),
		}
	}
	return Signal{
		Action:     SignalNeutral,
		Confidence: neutralSignalConf,
		Reason:     fmt.Sprintf("no clear signal: %d buy vs %d sell mentions", buy, sell),
	}
}

func sentiment(buy, sell int) string {
	switch {
	case buy > sell:
		return SentimentBullish
	case sell > buy:
		return SentimentBearish
	}
	return SentimentNeutral
}

// overallConfidence grows with the number of actionable mentions, floored at
// 0.3. It is unbounded above: 30 mentions give 1.5.
func overallConfidence(buy, sell, dollars int) float64 {
	c := float64(buy+sell+dollars) / overallConfDivisor
	return round2(math.Max(minOverallConf, c))
}

func (a *KeywordAnalyzer) terms(text string) MarketTerms {
	return MarketTerms{
		Indicators: a.indicators.found(text),
		Strategies: a.strategies.found(text),
		Timeframes: a.timeframes.found(text),
		Symbols:    mergeSymbols(a.symbols.found(text), cashtags(text)),
		Patterns:   a.patterns.found(text),
	}
}

func cashtags(text string) []string {
	var out []string
	for _, m := range cashtagRE.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.ToUpper(m[1]))
	}
	return out
}

func mergeSymbols(known, tagged []string) []string {
	return dedupe(append(known, tagged...))
}

// dedupe keeps the first occurrence of each value, preserving order.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
