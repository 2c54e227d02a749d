package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a wallet holder with a chat credit balance.
type User struct {
	ID            string `json:"id" gorm:"primaryKey;type:uuid"`
	WalletAddress string `json:"wallet_address" gorm:"uniqueIndex;not null"`
	Credits       int64  `json:"credits" gorm:"not null;default:0"`

	// Twitter is loaded on read; identities are keyed by wallet address.
	Twitter *TwitterIdentity `json:"twitter,omitempty" gorm:"-"`

	Timestamps
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
