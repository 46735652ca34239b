package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds of uploads accepted during onboarding.
const (
	KindProfilePicture = "profile-picture"
	KindResume         = "resume"
)

// ErrRejected wraps every validation refusal so callers can branch on it.
var ErrRejected = errors.New("file rejected")

// DefaultMaxBytes caps a single upload at 5 MiB.
const DefaultMaxBytes = 5 << 20

var allowedMimes = map[string][]string{
	KindProfilePicture: {"image/png", "image/jpeg", "image/webp"},
	KindResume:         {"application/pdf"},
}

// Validator screens uploaded files by size and sniffed content type. The
// declared type must agree with what the bytes actually look like; the
// declaration alone is never trusted.
type Validator struct {
	MaxBytes int
}

// NewValidator creates a Validator with the default size cap.
func NewValidator() *Validator {
	return &Validator{MaxBytes: DefaultMaxBytes}
}

// Validate returns nil when the file is acceptable for its kind, or an
// error wrapping ErrRejected with the reason.
func (v *Validator) Validate(data []byte, declaredMime, kind string) error {
	allowed, ok := allowedMimes[kind]
	if !ok {
		return fmt.Errorf("%w: unknown upload kind %q", ErrRejected, kind)
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", ErrRejected)
	}
	max := v.MaxBytes
	if max == 0 {
		max = DefaultMaxBytes
	}
	if len(data) > max {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrRejected, max)
	}

	sniffed := http.DetectContentType(data)
	if !mimeAllowed(sniffed, allowed) {
		return fmt.Errorf("%w: content type %s not allowed for %s", ErrRejected, sniffed, kind)
	}
	if declaredMime != "" && declaredMime != sniffed {
		return fmt.Errorf("%w: declared type %s does not match content %s", ErrRejected, declaredMime, sniffed)
	}

	return nil
}

func mimeAllowed(mime string, allowed []string) bool {
	for _, a := range allowed {
		if mime == a {
			return true
		}
	}
	return false
}
