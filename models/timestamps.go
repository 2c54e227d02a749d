package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// All lists every model owned by the gate server, in migration order.
func All() []any {
	return []any{
		&Vault{},
		&User{},
		&TwitterIdentity{},
		&ChatMessage{},
	}
}
