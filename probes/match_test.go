package probes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchContent_RetweetRoundTrip(t *testing.T) {
	contents := []string{
		"Vault 111 is open for everyone",
		"I just entered the #VaultQuest challenge!",
		"Tom &amp; Jerry    found the prize",
	}
	for _, c := range contents {
		cand := Candidate{Text: "RT @user: " + c + " https://t.co/abc123"}
		s, ok := MatchContent(c, cand, retweetStrategies)
		assert.True(t, ok, "content %q", c)
		assert.Equal(t, StrategyRetweetPrefix, s)
	}
}

func TestMatchContent_ShortenedLinks(t *testing.T) {
	required := "Join the vault https://vault.gg/111 now"
	cand := Candidate{Text: "RT @sponsor: Join the vault https://t.co/zzz now"}

	s, ok := MatchContent(required, cand, retweetStrategies)
	assert.True(t, ok)
	assert.Equal(t, StrategyStripped, s)
}

func TestMatchContent_RetweetedStatus(t *testing.T) {
	required := "The prize pool just doubled"
	cand := Candidate{
		Text:          "RT @sponsor: The prize pool just…",
		RetweetedText: "The prize pool just doubled https://t.co/q",
	}

	s, ok := MatchContent(required, cand, retweetStrategies)
	assert.True(t, ok)
	assert.Equal(t, StrategyRetweetedStatus, s)
}

func TestMatchContent_Fuzzy(t *testing.T) {
	required := "convince the agent to release vault prize today"
	// 6 of 7 significant words present (86%)
	cand := Candidate{Text: "I will convince the agent to release the prize today"}
	s, ok := MatchContent(required, cand, retweetStrategies)
	assert.True(t, ok)
	assert.Equal(t, StrategyFuzzy, s)

	// 3 of 7 present
	_, ok = MatchContent(required, Candidate{Text: "the agent is nice today"}, retweetStrategies)
	assert.False(t, ok)
}

func TestMatchContent_AllWords(t *testing.T) {
	required := "vault prize release"
	cand := Candidate{Text: "release: the PRIZE of the vault!"}
	s, ok := MatchContent(required, cand, []Strategy{StrategyContains, StrategyAllWords})
	assert.True(t, ok)
	assert.Equal(t, StrategyAllWords, s)
}

func TestMatchContent_EmptyRequiredNeverMatches(t *testing.T) {
	_, ok := MatchContent("   ", Candidate{Text: "anything"}, tweetStrategies)
	assert.False(t, ok)
	_, ok = MatchContent("a b", Candidate{Text: "a b"}, []Strategy{StrategyFuzzy, StrategyAllWords})
	assert.False(t, ok, "content without significant words cannot fuzzy match")
}
