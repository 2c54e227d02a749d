package models

import (
	"strings"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// Vault is a sponsored prize pool and the content its verification steps
// are checked against.
type Vault struct {
	ID             string  `json:"id" gorm:"primaryKey"`
	Name           string  `json:"name" gorm:"not null"`
	Slug           string  `json:"slug" gorm:"uniqueIndex"`
	Description    string  `json:"description,omitempty" gorm:"type:text"`
	TotalPrize     float64 `json:"total_prize" gorm:"not null;default:0"`
	AvailablePrize float64 `json:"available_prize" gorm:"not null;default:0"`

	// Sponsor
	SponsorName          string `json:"sponsor_name,omitempty"`
	SponsorTwitterHandle string `json:"sponsor_twitter_handle,omitempty"`
	SponsorTwitterID     string `json:"sponsor_twitter_id,omitempty"`
	SponsorLogoURL       string `json:"sponsor_logo_url,omitempty"`
	SponsorWebsite       string `json:"sponsor_website,omitempty"`

	// Step content
	TweetContent   string `json:"tweetContent,omitempty" gorm:"column:tweet_content;type:text"`
	RetweetContent string `json:"retweet_content,omitempty" gorm:"type:text"`
	RetweetTweetID string `json:"retweet_tweet_id,omitempty"`
	TelegramLink   string `json:"telegram_link,omitempty"`
	DiscordLink    string `json:"discord_link,omitempty"`
	LinkedInLink   string `json:"linkedin_link,omitempty" gorm:"column:linkedin_link"`
	ExtraLink      string `json:"extra_link,omitempty"`

	// AgentPrompt overrides the chat agent's system prompt for this vault.
	AgentPrompt string `json:"-" gorm:"type:text"`

	// FreeCreditAwarded is the authoritative record of wallets that already
	// received the free-credit bonus for this vault.
	FreeCreditAwarded  AddressList `json:"freecreditawarded" gorm:"column:freecreditawarded;type:text"`
	FreeCreditFallback int         `json:"free_credit_fallback" gorm:"not null;default:3"`
	// AwardVersion is bumped on every write to FreeCreditAwarded.
	AwardVersion int64 `json:"-" gorm:"not null;default:0"`

	Timestamps
}

// HasPrize reports whether the vault still has something to win.
func (v *Vault) HasPrize() bool {
	return v.AvailablePrize > 0
}

// VaultSlug derives a URL slug unique per vault id, e.g. "genesis-vault-111".
func VaultSlug(name, id string) string {
	idSlug := slug.Make(id)
	base := slug.Make(name)
	switch {
	case base == "":
		return idSlug
	case idSlug == "" || strings.HasSuffix(base, "-"+idSlug) || base == idSlug:
		return base
	default:
		return base + "-" + idSlug
	}
}

func (v *Vault) BeforeSave(tx *gorm.DB) error {
	if v.Slug == "" {
		v.Slug = VaultSlug(v.Name, v.ID)
	}
	return nil
}
