// policy/policy.go
package policy

import (
	"sort"
	"strings"
)

// StepKind names one verification step. The string values double as the
// ledger flag names.
type StepKind string

const (
	StepTwitterFollow         StepKind = "twitterFollow"
	StepTwitterFollowSponsor2 StepKind = "twitterFollowSponsor2"
	StepRetweet               StepKind = "retweet"
	StepLike                  StepKind = "like"
	StepSecondRetweet         StepKind = "secondRetweet"
	StepSecondLike            StepKind = "secondLike"
	StepTweetPosted           StepKind = "tweetPosted"
	StepTelegram              StepKind = "telegram"
	StepDiscord               StepKind = "discord"
	StepLinkedIn              StepKind = "linkedin"
	StepExtraLink             StepKind = "extraLink"
)

// AllSteps lists every known step in display order.
var AllSteps = []StepKind{
	StepTwitterFollow,
	StepTwitterFollowSponsor2,
	StepRetweet,
	StepLike,
	StepSecondRetweet,
	StepSecondLike,
	StepTweetPosted,
	StepTelegram,
	StepDiscord,
	StepLinkedIn,
	StepExtraLink,
}

// Valid reports whether k is one of the known steps.
func (k StepKind) Valid() bool {
	for _, s := range AllSteps {
		if s == k {
			return true
		}
	}
	return false
}

// IsTwitter reports whether the step is checked against the Twitter/X scraping proxy.
func (k StepKind) IsTwitter() bool {
	switch k {
	case StepTwitterFollow, StepTwitterFollowSponsor2, StepRetweet, StepLike,
		StepSecondRetweet, StepSecondLike, StepTweetPosted:
		return true
	}
	return false
}

// IsClickThrough reports whether the step is satisfied by the user following a link.
func (k StepKind) IsClickThrough() bool {
	switch k {
	case StepTelegram, StepDiscord, StepLinkedIn, StepExtraLink:
		return true
	}
	return false
}

// Prerequisite returns the step that must be verified before k may be checked.
// Like only makes sense after the matching retweet.
func (k StepKind) Prerequisite() (StepKind, bool) {
	switch k {
	case StepLike:
		return StepRetweet, true
	case StepSecondLike:
		return StepSecondRetweet, true
	}
	return "", false
}

// ParseStep parses a step name case-insensitively.
func ParseStep(s string) (StepKind, bool) {
	s = strings.TrimSpace(s)
	for _, k := range AllSteps {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// StepSet is an unordered set of steps.
type StepSet map[StepKind]struct{}

func NewStepSet(steps ...StepKind) StepSet {
	set := make(StepSet, len(steps))
	for _, s := range steps {
		set[s] = struct{}{}
	}
	return set
}

func (s StepSet) Has(k StepKind) bool {
	_, ok := s[k]
	return ok
}

func (s StepSet) Add(k StepKind)    { s[k] = struct{}{} }
func (s StepSet) Remove(k StepKind) { delete(s, k) }

func (s StepSet) Clone() StepSet {
	out := make(StepSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Ordered returns the members of s in AllSteps order.
func (s StepSet) Ordered() []StepKind {
	out := make([]StepKind, 0, len(s))
	for _, k := range AllSteps {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	// unknown kinds (should not happen) go last, sorted
	var extra []StepKind
	for k := range s {
		if !k.Valid() {
			extra = append(extra, k)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Targets holds the platform ids each Twitter step is checked against.
type Targets struct {
	SponsorTwitterID      string `yaml:"sponsor_twitter_id" json:"sponsorTwitterId"`
	Sponsor2TwitterID     string `yaml:"sponsor2_twitter_id" json:"sponsor2TwitterId"`
	LikeTweetID           string `yaml:"like_tweet_id" json:"likeTweetId"`
	SecondLikeTweetID     string `yaml:"second_like_tweet_id" json:"secondLikeTweetId"`
	SponsorTwitterHandle  string `yaml:"sponsor_twitter_handle" json:"sponsorTwitterHandle"`
	Sponsor2TwitterHandle string `yaml:"sponsor2_twitter_handle" json:"sponsor2TwitterHandle"`
}

// Content holds the text templates that retweets and tweets are matched against.
type Content struct {
	RetweetContent       string `yaml:"retweet_content" json:"retweetContent"`
	SecondRetweetContent string `yaml:"second_retweet_content" json:"secondRetweetContent"`
	TweetContent         string `yaml:"tweet_content" json:"tweetContent"`
}

// Links are the click-through destinations.
type Links struct {
	Telegram string `yaml:"telegram" json:"telegram"`
	Discord  string `yaml:"discord" json:"discord"`
	LinkedIn string `yaml:"linkedin" json:"linkedin"`
	Extra    string `yaml:"extra" json:"extra"`
}

// VaultPolicy is the declarative configuration of what a vault requires.
type VaultPolicy struct {
	VaultID       string
	RequiredSteps StepSet
	Targets       Targets
	Content       Content
	Links         Links
}

// Requires reports whether the vault needs step k.
func (p VaultPolicy) Requires(k StepKind) bool {
	return p.RequiredSteps.Has(k)
}

// Clone returns a deep copy so registry entries are never mutated by callers.
func (p VaultPolicy) Clone() VaultPolicy {
	out := p
	out.RequiredSteps = p.RequiredSteps.Clone()
	return out
}

// DefaultSponsor2TwitterID is the second, always-on sponsor account.
const DefaultSponsor2TwitterID = "1851268443463413760"

// DefaultRequiredSteps are required by any vault without an override.
func DefaultRequiredSteps() StepSet {
	return NewStepSet(
		StepTwitterFollow,
		StepTwitterFollowSponsor2,
		StepRetweet,
		StepLike,
		StepTweetPosted,
		StepTelegram,
		StepDiscord,
		StepLinkedIn,
	)
}

// Default returns the policy used for vaults without an explicit entry.
func Default(vaultID string) VaultPolicy {
	return VaultPolicy{
		VaultID:       vaultID,
		RequiredSteps: DefaultRequiredSteps(),
		Targets: Targets{
			Sponsor2TwitterID: DefaultSponsor2TwitterID,
		},
	}
}

// VaultContent is the per-vault content served by the gate server. Empty
// fields leave the policy untouched.
type VaultContent struct {
	SponsorTwitterID     string
	SponsorTwitterHandle string
	TweetContent         string
	RetweetContent       string
	RetweetTweetID       string
	DiscordLink          string
	LinkedInLink         string
	TelegramLink         string
	ExtraLink            string
}

// ApplyVault overlays server-provided vault content onto p.
func (p VaultPolicy) ApplyVault(v VaultContent) VaultPolicy {
	out := p.Clone()
	setIf := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setIf(&out.Targets.SponsorTwitterID, v.SponsorTwitterID)
	setIf(&out.Targets.SponsorTwitterHandle, v.SponsorTwitterHandle)
	setIf(&out.Content.TweetContent, v.TweetContent)
	setIf(&out.Content.RetweetContent, v.RetweetContent)
	setIf(&out.Targets.LikeTweetID, v.RetweetTweetID)
	setIf(&out.Links.Discord, v.DiscordLink)
	setIf(&out.Links.LinkedIn, v.LinkedInLink)
	setIf(&out.Links.Telegram, v.TelegramLink)
	setIf(&out.Links.Extra, v.ExtraLink)
	if out.Links.Extra != "" {
		out.RequiredSteps.Add(StepExtraLink)
	}
	return out
}
