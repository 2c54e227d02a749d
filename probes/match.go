// probes/match.go
package probes

import "strings"

// Strategy names one way of matching required content against a post.
type Strategy string

const (
	// StrategyRetweetPrefix: post starts with "RT @" and contains the content
	// after whitespace and quote folding.
	StrategyRetweetPrefix Strategy = "rt_prefix"
	// StrategyStripped: containment after links and retweet prefix are removed.
	StrategyStripped Strategy = "stripped"
	// StrategyRetweetedStatus: the structured retweeted-status text contains the content.
	StrategyRetweetedStatus Strategy = "retweeted_status"
	// StrategyFuzzy: at least FuzzyThreshold of the content's significant words appear.
	StrategyFuzzy Strategy = "fuzzy"
	// StrategyContains: plain containment after folding.
	StrategyContains Strategy = "contains"
	// StrategyAllWords: every significant word of the content appears.
	StrategyAllWords Strategy = "all_words"
)

// FuzzyThreshold is the share of significant words a fuzzy match needs.
const FuzzyThreshold = 0.8

var (
	retweetStrategies = []Strategy{StrategyRetweetPrefix, StrategyStripped, StrategyRetweetedStatus, StrategyFuzzy}
	tweetStrategies   = []Strategy{StrategyContains, StrategyStripped, StrategyAllWords, StrategyFuzzy}
)

// Candidate is a post reduced to what the matchers read.
type Candidate struct {
	Text          string
	RetweetedText string
}

// MatchContent tries each strategy in order and returns the first that matches.
func MatchContent(required string, c Candidate, strategies []Strategy) (Strategy, bool) {
	if strings.TrimSpace(required) == "" {
		return "", false
	}
	for _, s := range strategies {
		if matchOne(required, c, s) {
			return s, true
		}
	}
	return "", false
}

func matchOne(required string, c Candidate, s Strategy) bool {
	switch s {
	case StrategyRetweetPrefix:
		text := Fold(c.Text)
		want := Fold(required)
		return want != "" && strings.HasPrefix(text, "rt @") && strings.Contains(text, want)
	case StrategyStripped:
		want := Normalize(required)
		return want != "" && strings.Contains(Normalize(c.Text), want)
	case StrategyRetweetedStatus:
		if c.RetweetedText == "" {
			return false
		}
		want := Normalize(required)
		return want != "" && strings.Contains(Normalize(c.RetweetedText), want)
	case StrategyContains:
		want := Fold(required)
		return want != "" && strings.Contains(Fold(c.Text), want)
	case StrategyFuzzy:
		return wordCoverage(required, c.Text) >= FuzzyThreshold
	case StrategyAllWords:
		return wordCoverage(required, c.Text) == 1
	}
	return false
}

// wordCoverage is the share of required's significant words present in text.
// Zero when required has none.
func wordCoverage(required, text string) float64 {
	want := SignificantWords(required)
	if len(want) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, w := range SignificantWords(text) {
		have[w] = struct{}{}
	}
	hits := 0
	for _, w := range want {
		if _, ok := have[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}
