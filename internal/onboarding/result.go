package onboarding

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelez/chapterboard/internal/models"
)

// Status is the outcome vocabulary exposed to the presentation layer. Every
// internal failure mode collapses into one of these three.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDuplicate Status = "duplicate"
	StatusFailure   Status = "failure"
)

// Linking methods accepted by CompleteAccountLinking.
const (
	MethodPassword = "password"
	MethodReset    = "reset"
)

// UserSummary is the caller-safe subset of an existing user revealed when a
// duplicate is detected.
type UserSummary struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	AuthChannel string    `json:"auth_channel"`
	HasPassword bool      `json:"has_password"`
}

func summarize(u *models.User) *UserSummary {
	return &UserSummary{
		ID:          u.ID,
		Email:       u.Email,
		AuthChannel: u.AuthChannel,
		HasPassword: u.HasPassword(),
	}
}

// Result is the outcome of CompleteOnboarding.
type Result struct {
	Status       Status       `json:"status"`
	Profile      *models.User `json:"profile,omitempty"`
	Existing     *UserSummary `json:"existing,omitempty"`
	LinkingToken string       `json:"linking_token,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// LinkResult is the outcome of CompleteAccountLinking. On success a fresh
// session for the merged identity is included.
type LinkResult struct {
	Status      Status       `json:"status"`
	User        *models.User `json:"user,omitempty"`
	BearerToken string       `json:"bearer_token,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	ResetSent   bool         `json:"reset_sent,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

func failure(reason string) Result {
	return Result{Status: StatusFailure, Reason: reason}
}

func linkFailure(reason string) LinkResult {
	return LinkResult{Status: StatusFailure, Reason: reason}
}
