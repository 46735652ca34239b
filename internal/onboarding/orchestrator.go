package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/models"
)

// DefaultDBTimeout bounds each persistence round trip made by the
// orchestrator. A timed-out pre-check is treated as unknown, never as "no
// collision".
const DefaultDBTimeout = 5 * time.Second

// ProfileData carries the onboarding form fields.
type ProfileData struct {
	RNumber         string   `json:"r_number"`
	Name            string   `json:"name"`
	Major           string   `json:"major"`
	AspiredPosition string   `json:"aspired_position"`
	SocialURLs      []string `json:"social_urls"`
	Technologies    []string `json:"technologies"`
}

// File is an uploaded file awaiting validation and storage.
type File struct {
	Kind         string
	Name         string
	DeclaredMime string
	Data         []byte
}

// FileValidator screens uploads before anything touches the database. The
// orchestrator treats it as a pure accept/reject function.
type FileValidator interface {
	Validate(data []byte, declaredMime, kind string) error
}

// FileStore persists accepted blobs and returns a reference.
type FileStore interface {
	Save(ctx context.Context, kind, filename string, data []byte) (string, error)
}

// IdentityResolver is the slice of the identity service the orchestrator
// drives.
type IdentityResolver interface {
	FindByRNumber(ctx context.Context, rNumber string) (*models.User, error)
	CreateLinkingToken(ctx context.Context, existingUserID uuid.UUID, newEmail, newChannel string) (string, error)
	ProcessLinking(ctx context.Context, linkingToken, secret string) (*models.User, error)
	ResetForLinking(ctx context.Context, linkingToken string) error
}

// SessionIssuer mints a session for a merged identity.
type SessionIssuer interface {
	Create(ctx context.Context, userID uuid.UUID) (string, time.Time, error)
}

// Orchestrator sequences file validation, duplicate detection, and the
// profile write into the one operation the presentation layer sees.
type Orchestrator struct {
	db        *gorm.DB
	resolver  IdentityResolver
	sessions  SessionIssuer
	validator FileValidator
	files     FileStore
	dbTimeout time.Duration
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(db *gorm.DB, resolver IdentityResolver, sessions SessionIssuer, validator FileValidator, files FileStore) *Orchestrator {
	return &Orchestrator{
		db:        db,
		resolver:  resolver,
		sessions:  sessions,
		validator: validator,
		files:     files,
		dbTimeout: DefaultDBTimeout,
	}
}

// CompleteOnboarding runs the onboarding pipeline for userID. The R Number
// pre-check is advisory; losing the unique-constraint race on the write is
// converted into the same Duplicate outcome the pre-check would have
// produced, never surfaced as a raw database error.
func (o *Orchestrator) CompleteOnboarding(ctx context.Context, userID uuid.UUID, data ProfileData, files []File) Result {
	if data.RNumber == "" {
		return failure("R Number is required")
	}

	// Files are screened before anything touches the database.
	for _, f := range files {
		if err := o.validator.Validate(f.Data, f.DeclaredMime, f.Kind); err != nil {
			return failure(err.Error())
		}
	}

	// Advisory pre-check: catches the common collision without a wasted
	// write. An error here means "unknown", so we fail closed.
	checkCtx, cancel := context.WithTimeout(ctx, o.dbTimeout)
	defer cancel()
	existing, err := o.resolver.FindByRNumber(checkCtx, data.RNumber)
	if err != nil {
		log.Println("Onboarding: R Number pre-check failed:", err)
		return failure("could not verify R Number ownership, please try again")
	}
	if existing != nil && existing.ID != userID {
		return o.duplicateOutcome(ctx, existing, userID)
	}

	// Store blobs first; their references commit with the profile write or
	// not at all, so the user row never points at nothing.
	refs := make(map[string]string, len(files))
	for _, f := range files {
		ref, err := o.files.Save(ctx, f.Kind, f.Name, f.Data)
		if err != nil {
			log.Println("Onboarding: failed to store upload:", err)
			return failure("failed to store uploaded file")
		}
		refs[f.Kind] = ref
	}

	updates := buildProfileUpdates(data, refs)
	writeCtx, cancel := context.WithTimeout(ctx, o.dbTimeout)
	defer cancel()
	res := o.db.WithContext(writeCtx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			// Lost the claim race: whoever holds the R Number now is the
			// collision target.
			raceCtx, cancel := context.WithTimeout(ctx, o.dbTimeout)
			defer cancel()
			holder, ferr := o.resolver.FindByRNumber(raceCtx, data.RNumber)
			if ferr != nil || holder == nil || holder.ID == userID {
				log.Println("Onboarding: failed to resolve race winner:", ferr)
				return failure("could not verify R Number ownership, please try again")
			}
			return o.duplicateOutcome(ctx, holder, userID)
		}
		log.Println("Onboarding: profile write failed:", res.Error)
		return failure("failed to save profile")
	}
	if res.RowsAffected == 0 {
		return failure("user not found")
	}

	var profile models.User
	if err := o.db.WithContext(ctx).First(&profile, "id = ?", userID).Error; err != nil {
		log.Println("Onboarding: failed to reload profile:", err)
		return failure("failed to load saved profile")
	}

	log.Printf("Onboarding: completed for user %s", userID)
	return Result{Status: StatusSuccess, Profile: &profile}
}

// duplicateOutcome issues a linking token against the R Number's current
// owner and reports the collision without committing anything.
func (o *Orchestrator) duplicateOutcome(ctx context.Context, existing *models.User, claimantID uuid.UUID) Result {
	var claimant models.User
	if err := o.db.WithContext(ctx).First(&claimant, "id = ?", claimantID).Error; err != nil {
		log.Println("Onboarding: failed to load claimant:", err)
		return failure("could not start account linking")
	}

	tok, err := o.resolver.CreateLinkingToken(ctx, existing.ID, claimant.Email, claimant.AuthChannel)
	if err != nil {
		log.Println("Onboarding: failed to issue linking token:", err)
		return failure("could not start account linking")
	}

	log.Printf("Onboarding: duplicate R Number claim by user %s against user %s", claimantID, existing.ID)
	return Result{
		Status:       StatusDuplicate,
		Existing:     summarize(existing),
		LinkingToken: tok,
	}
}

// CompleteAccountLinking drives the linking state machine for the given
// method and, on a successful merge, issues a fresh session bound to the
// merged identity.
func (o *Orchestrator) CompleteAccountLinking(ctx context.Context, linkingToken, method, secret string) LinkResult {
	switch method {
	case MethodReset:
		if err := o.resolver.ResetForLinking(ctx, linkingToken); err != nil {
			log.Println("Onboarding: reset-for-linking failed:", err)
		}
		// Always generic: never reveal whether the token or email exist.
		return LinkResult{Status: StatusSuccess, ResetSent: true}

	case MethodPassword:
		user, err := o.resolver.ProcessLinking(ctx, linkingToken, secret)
		if err != nil {
			return linkFailure(linkingReason(err))
		}

		bearer, expiresAt, err := o.sessions.Create(ctx, user.ID)
		if err != nil {
			log.Println("Onboarding: failed to create session after linking:", err)
			return linkFailure("account linked, please sign in again")
		}
		return LinkResult{
			Status:      StatusSuccess,
			User:        user,
			BearerToken: bearer,
			ExpiresAt:   &expiresAt,
		}

	default:
		return linkFailure(fmt.Sprintf("unknown linking method %q", method))
	}
}

// linkingReason maps internal linking errors onto user-facing messages.
// Invalid, expired, and replayed tokens all get retry guidance; only the
// conditions requiring user action are surfaced verbatim.
func linkingReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrLinkUsed):
		return "this link has already been used, request a new one"
	case errors.Is(err, identity.ErrLinkInvalid), errors.Is(err, identity.ErrNotFound):
		return "this link is invalid or has expired, please try again"
	case errors.Is(err, identity.ErrBadCredentials):
		return "invalid credentials"
	case errors.Is(err, identity.ErrNoPassword):
		return "this account has no password, use the reset option instead"
	case errors.Is(err, identity.ErrEmailCollision):
		return "this email already belongs to another account"
	default:
		return "account linking failed, please try again"
	}
}

func buildProfileUpdates(data ProfileData, refs map[string]string) map[string]interface{} {
	updates := map[string]interface{}{
		"r_number":  data.RNumber,
		"onboarded": true,
	}
	if data.Name != "" {
		updates["name"] = data.Name
	}
	if data.Major != "" {
		updates["major"] = data.Major
	}
	if data.AspiredPosition != "" {
		updates["aspired_position"] = data.AspiredPosition
	}
	if len(data.SocialURLs) > 0 {
		updates["social_urls"] = marshalList(data.SocialURLs)
	}
	if len(data.Technologies) > 0 {
		updates["technologies"] = marshalList(data.Technologies)
	}
	if ref, ok := refs["profile-picture"]; ok {
		updates["profile_picture"] = ref
	}
	if ref, ok := refs["resume"]; ok {
		updates["resume"] = ref
	}
	return updates
}

func marshalList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}
