package identity

import "errors"

// Lookup and merge errors
var (
	ErrNotFound       = errors.New("no user owns this R Number")       // 404
	ErrEmailCollision = errors.New("email belongs to another account") // 409
)

// Linking token errors
var (
	ErrLinkInvalid    = errors.New("linking token invalid or expired")
	ErrLinkUsed       = errors.New("linking token already used")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrNoPassword     = errors.New("account has no password; use the reset option")
)
