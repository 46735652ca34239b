package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/mailer"
	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/token"
)

const (
	// LinkingTokenTTL is deliberately short: a linking token grants the
	// ability to attempt an identity takeover.
	LinkingTokenTTL = time.Hour

	// ResetTokenTTL bounds the password-reset fallback path.
	ResetTokenTTL = 30 * time.Minute
)

// Resolver detects R Number collisions between user records and executes the
// consented merge. The FindByRNumber pre-check is advisory only; the
// database's unique constraint on r_number is the authoritative arbiter of
// concurrent claims.
type Resolver struct {
	db     *gorm.DB
	tokens *token.Issuer
	mail   mailer.Mailer
	appURL string
}

// NewResolver creates a Resolver on the given persistence handle.
func NewResolver(db *gorm.DB, tokens *token.Issuer, mail mailer.Mailer, appURL string) *Resolver {
	return &Resolver{db: db, tokens: tokens, mail: mail, appURL: appURL}
}

// FindByRNumber returns the user owning rNumber, or nil when nobody does.
func (r *Resolver) FindByRNumber(ctx context.Context, rNumber string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("r_number = ?", rNumber).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up R Number: %w", err)
	}
	return &user, nil
}

// CreateLinkingToken records a detected collision and returns the opaque
// capability token handed back to the claimant. The row stores only the
// token's hash, with used=false and a fixed one-hour expiry.
func (r *Resolver) CreateLinkingToken(ctx context.Context, existingUserID uuid.UUID, newEmail, newChannel string) (string, error) {
	opaque, err := token.NewOpaque()
	if err != nil {
		return "", fmt.Errorf("failed to generate linking token: %w", err)
	}

	now := time.Now()
	row := models.AccountLinkingToken{
		ID:             uuid.New(),
		ExistingUserID: existingUserID,
		NewEmail:       newEmail,
		NewChannel:     newChannel,
		TokenHash:      token.Hash(opaque),
		Used:           false,
		ExpiresAt:      now.Add(LinkingTokenTTL),
		CreatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to create linking token: %w", err)
	}

	return opaque, nil
}

// LinkByRNumber merges a new email/channel pair into the user who owns
// rNumber and returns the updated record. This is the bare merge primitive:
// it performs no token bookkeeping, which stays the caller's responsibility
// so the merge can be tested independently of the token lifecycle.
func (r *Resolver) LinkByRNumber(ctx context.Context, rNumber, newEmail, newChannel string) (*models.User, error) {
	var merged *models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		merged, err = linkByRNumber(tx, rNumber, newEmail, newChannel)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func linkByRNumber(tx *gorm.DB, rNumber, newEmail, newChannel string) (*models.User, error) {
	var owner models.User
	err := tx.Where("r_number = ?", rNumber).First(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up R Number owner: %w", err)
	}

	var holder models.User
	err = tx.Where("email = ? AND id <> ?", newEmail, owner.ID).First(&holder).Error
	switch {
	case err == nil:
		// An established identity (one that completed onboarding or holds
		// its own R Number) blocks the merge outright. A bare record with
		// neither is the duplicate created by the colliding login: park its
		// email so the merge can take the address over. The duplicate row
		// itself is kept for manual cleanup.
		if holder.RNumber != nil || holder.Onboarded {
			return nil, ErrEmailCollision
		}
		parked := fmt.Sprintf("merged-%s+%s", holder.ID, holder.Email)
		if err := tx.Model(&models.User{}).Where("id = ?", holder.ID).
			Update("email", parked).Error; err != nil {
			return nil, fmt.Errorf("failed to park duplicate email: %w", err)
		}
		// The parked record must not stay reachable: any session minted for
		// the duplicate would otherwise keep authenticating as it.
		if err := tx.Delete(&models.Session{}, "user_id = ?", holder.ID).Error; err != nil {
			return nil, fmt.Errorf("failed to revoke duplicate sessions: %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Nobody else holds the email; nothing to do.
	default:
		return nil, fmt.Errorf("failed to check email ownership: %w", err)
	}

	if err := tx.Model(&models.User{}).Where("id = ?", owner.ID).
		Updates(map[string]interface{}{
			"email":        newEmail,
			"auth_channel": newChannel,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to merge identity: %w", err)
	}

	owner.Email = newEmail
	owner.AuthChannel = newChannel
	return &owner, nil
}

// ProcessLinking is the full guarded linking path: load the token, verify
// the bearer's password proof, execute the merge, and mark the token used.
// The merge and the mark-used flip run in one transaction; if either fails,
// the token stays unused so the bearer can retry or fall back to reset.
func (r *Resolver) ProcessLinking(ctx context.Context, linkingToken, secret string) (*models.User, error) {
	var merged *models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.AccountLinkingToken
		err := tx.Where("token_hash = ?", token.Hash(linkingToken)).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLinkInvalid
		}
		if err != nil {
			return fmt.Errorf("failed to load linking token: %w", err)
		}
		if row.Used {
			return ErrLinkUsed
		}
		if !time.Now().Before(row.ExpiresAt) {
			return ErrLinkInvalid
		}

		var owner models.User
		err = tx.First(&owner, "id = ?", row.ExistingUserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLinkInvalid
		}
		if err != nil {
			return fmt.Errorf("failed to load existing user: %w", err)
		}
		if owner.RNumber == nil {
			return ErrNotFound
		}

		if !owner.HasPassword() {
			return ErrNoPassword
		}
		if bcrypt.CompareHashAndPassword([]byte(*owner.Password), []byte(secret)) != nil {
			return ErrBadCredentials
		}

		merged, err = linkByRNumber(tx, *owner.RNumber, row.NewEmail, row.NewChannel)
		if err != nil {
			return err
		}

		// Compare-and-set: flip used only if still unused and unexpired.
		res := tx.Model(&models.AccountLinkingToken{}).
			Where("id = ? AND used = ? AND expires_at > ?", row.ID, false, time.Now()).
			Update("used", true)
		if res.Error != nil {
			return fmt.Errorf("failed to mark linking token used: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrLinkUsed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Identity: linked channel %s into user %s", merged.AuthChannel, merged.ID)
	return merged, nil
}

// ResetForLinking handles the reset branch of the linking state machine: it
// emails a password-reset link to the account being claimed, leaving the
// linking token unused so the bearer can re-enter via the password method
// after resetting. Always reports success; an invalid token is a no-op.
func (r *Resolver) ResetForLinking(ctx context.Context, linkingToken string) error {
	var row models.AccountLinkingToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", token.Hash(linkingToken)).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Println("Identity: reset-for-linking token lookup failed:", err)
		}
		return nil
	}
	if row.Used || !time.Now().Before(row.ExpiresAt) {
		return nil
	}

	var owner models.User
	if err := r.db.WithContext(ctx).First(&owner, "id = ?", row.ExistingUserID).Error; err != nil {
		return nil
	}

	return r.SendPasswordResetForLinking(ctx, owner.Email)
}

// SendPasswordResetForLinking emails a password-reset link. It always
// reports success regardless of whether the email exists, so callers cannot
// probe which addresses have accounts.
func (r *Resolver) SendPasswordResetForLinking(ctx context.Context, email string) error {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Println("Identity: reset lookup failed:", err)
		}
		return nil
	}

	resetToken, err := r.tokens.Issue(token.KindPasswordReset, user.Email, ResetTokenTTL)
	if err != nil {
		log.Println("Identity: failed to issue reset token:", err)
		return nil
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", r.appURL, resetToken)
	body := fmt.Sprintf(
		"<p>A sign-in from a new channel tried to claim your account.</p>"+
			"<p><a href=%q>Reset your password</a> to continue linking. "+
			"The link is valid for %.0f minutes.</p>"+
			"<p>If this wasn't you, you can ignore this email.</p>",
		link, ResetTokenTTL.Minutes())
	if err := r.mail.Send(user.Email, "Reset your password", body); err != nil {
		log.Println("Identity: failed to send reset email:", err)
	}
	return nil
}
