package models

import (
	"time"

	"github.com/google/uuid"
)

// Authentication channels a user record can be created through.
const (
	ChannelGoogle    = "google"
	ChannelMicrosoft = "microsoft"
	ChannelMagicLink = "email-magic-link"
)

// User represents a member identity. A person may end up with more than one
// User row when different login channels create records independently; the
// R Number is the real-world key used to detect and merge those duplicates.
type User struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email       string    `json:"email" gorm:"uniqueIndex;not null"`
	AuthChannel string    `json:"auth_channel" gorm:"not null"`
	Password    *string   `json:"-"` // bcrypt hash, nil until the user sets one

	Onboarded       bool    `json:"onboarded" gorm:"not null;default:false"`
	RNumber         *string `json:"r_number,omitempty" gorm:"uniqueIndex"`
	Name            *string `json:"name,omitempty"`
	Major           *string `json:"major,omitempty"`
	AspiredPosition *string `json:"aspired_position,omitempty"`
	SocialURLs      *string `json:"social_urls,omitempty"`  // JSON array
	Technologies    *string `json:"technologies,omitempty"` // JSON array
	ProfilePicture  *string `json:"profile_picture,omitempty"`
	Resume          *string `json:"resume,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// Relationships (optional, for eager loading)
	Sessions      []Session             `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	LinkingTokens []AccountLinkingToken `json:"-" gorm:"foreignKey:ExistingUserID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// HasPassword reports whether the password-proof linking method is available
// for this account.
func (u *User) HasPassword() bool {
	return u.Password != nil && *u.Password != ""
}
