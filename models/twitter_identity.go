package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TwitterIdentity links one Twitter account to at most one wallet.
type TwitterIdentity struct {
	ID              string      `json:"-" gorm:"primaryKey;type:uuid"`
	TwitterID       string      `json:"twitter_id" gorm:"uniqueIndex;not null"`
	Username        string      `json:"username"`
	WalletAddress   string      `json:"wallet_address" gorm:"uniqueIndex;not null"`
	VerifiedFollows AddressList `json:"verified_follows" gorm:"type:text"`

	Timestamps
}

func (t *TwitterIdentity) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
