package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of a wallet's conversation with a vault's agent.
type ChatMessage struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid"`
	VaultID       string    `json:"vault_id" gorm:"index:idx_chat_vault_wallet;not null"`
	WalletAddress string    `json:"wallet_address" gorm:"index:idx_chat_vault_wallet;not null"`
	Role          ChatRole  `json:"role" gorm:"type:varchar(16);not null"`
	Content       string    `json:"content" gorm:"type:text"`
	TxHash        string    `json:"tx_hash,omitempty"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
