package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a server-trusted proof that the bearer of its token controls a
// user. Only the SHA-256 hash of the bearer token is stored; the plaintext
// exists nowhere but the client.
type Session struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	TokenHash      string    `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"not null"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for Session
func (Session) TableName() string {
	return "sessions"
}
