package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountLinkingToken is a single-use capability created when a second login
// channel tries to claim an R Number that already belongs to an existing
// user. The bearer may attempt to merge the new email/channel pair into the
// existing record. Used is monotonic: it flips false to true exactly once.
type AccountLinkingToken struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ExistingUserID uuid.UUID `json:"existing_user_id" gorm:"type:uuid;not null;index"`
	NewEmail       string    `json:"new_email" gorm:"not null"`
	NewChannel     string    `json:"new_channel" gorm:"not null"`
	TokenHash      string    `json:"-" gorm:"uniqueIndex;not null"`
	Used           bool      `json:"used" gorm:"not null;default:false"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for AccountLinkingToken
func (AccountLinkingToken) TableName() string {
	return "account_linking_tokens"
}
