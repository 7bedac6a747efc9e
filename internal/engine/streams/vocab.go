package streams

import (
	"regexp"
	"strings"
)

// Vocabularies used by KeywordAnalyzer. Entries are matched case-insensitively
// on word boundaries. In the buy and sell lists no entry may contain another
// entry as a whole word, or one mention would be counted twice, and no entry
// may match inside a timeframe phrase ("long term", "short term").

var buyVocabulary = []string{
	"buy", "buying", "bought",
	"going long", "long position",
	"bullish",
	"accumulate", "accumulating",
	"add to my position",
	"load up", "loading up",
	"call options",
	"undervalued",
}

var sellVocabulary = []string{
	"sell", "selling", "sold",
	"going short", "short position", "shorting",
	"bearish",
	"take profit", "taking profits",
	"exit", "exiting",
	"puts",
	"overvalued",
	"dump", "dumping",
}

var indicatorTerms = []string{
	"rsi", "macd", "moving average", "ema", "sma", "vwap",
	"bollinger bands", "stochastic", "fibonacci", "atr", "volume profile", "obv",
}

var strategyTerms = []string{
	"scalping", "day trading", "swing trading", "position trading",
	"breakout", "trend following", "mean reversion", "momentum",
	"dollar cost averaging", "covered call", "iron condor", "hedging",
}

var timeframeTerms = []string{
	"1 minute", "5 minute", "15 minute", "30 minute",
	"1 hour", "4 hour", "hourly",
	"daily", "weekly", "monthly", "intraday", "long term", "short term",
}

// symbolTerms are tickers recognized without a cashtag. Matched as written
// (upper case) so that ordinary words are not mistaken for symbols.
var symbolTerms = []string{
	"SPY", "QQQ", "IWM", "DIA", "VIX",
	"AAPL", "MSFT", "NVDA", "TSLA", "AMZN", "META", "GOOGL", "AMD",
	"BTC", "ETH", "SOL",
	"ES", "NQ",
}

var patternTerms = []string{
	"head and shoulders", "inverse head and shoulders",
	"double top", "double bottom", "triple top", "triple bottom",
	"cup and handle", "bull flag", "bear flag", "pennant",
	"rising wedge", "falling wedge", "ascending triangle", "descending triangle",
	"support", "resistance", "gap fill",
}

var (
	// cashtagRE matches $TSLA style symbols (letters only, so $420 is excluded).
	cashtagRE = regexp.MustCompile(`\$([A-Za-z]{1,5})\b`)
	// dollarRE matches dollar amounts such as $420, $1,250.50 or $2.5 million.
	dollarRE = regexp.MustCompile(`(?i)\$(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?(?:\s?(?:k|m|b|million|billion|thousand)\b)?`)
)

// termMatcher finds which entries of a vocabulary occur in a text.
type termMatcher struct {
	terms []string
	res   []*regexp.Regexp
}

func newTermMatcher(terms []string, caseSensitive bool) termMatcher {
	m := termMatcher{terms: terms, res: make([]*regexp.Regexp, len(terms))}
	flags := "(?i)"
	if caseSensitive {
		flags = ""
	}
	for i, t := range terms {
		m.res[i] = regexp.MustCompile(flags + `\b` + phrasePattern(t) + `\b`)
	}
	return m
}

// phrasePattern lets multi-word terms match across any run of whitespace,
// which transcripts stitched from caption lines often contain.
func phrasePattern(term string) string {
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// count returns the total number of occurrences of all terms.
func (m termMatcher) count(text string) int {
	n := 0
	for _, re := range m.res {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// found returns the terms present in text, in vocabulary order.
func (m termMatcher) found(text string) []string {
	var out []string
	for i, re := range m.res {
		if re.MatchString(text) {
			out = append(out, m.terms[i])
		}
	}
	return out
}
