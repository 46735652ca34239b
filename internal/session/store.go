package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/token"
)

// TTL is the fixed session horizon from issuance. Validation refreshes
// last-accessed but never extends expiry.
const TTL = 7 * 24 * time.Hour

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

// Store manages server-side sessions backed by the sessions table.
type Store struct {
	db *gorm.DB
}

// NewStore creates a session store on the given database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create issues a new session for the user and returns the plaintext bearer
// token together with its expiry.
func (s *Store) Create(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
	bearer, err := token.NewOpaque()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	sess := models.Session{
		ID:             uuid.New(),
		UserID:         userID,
		TokenHash:      token.Hash(bearer),
		ExpiresAt:      now.Add(TTL),
		LastAccessedAt: now,
		CreatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create session: %w", err)
	}

	return bearer, sess.ExpiresAt, nil
}

// Validate resolves a bearer token to its owning user. Sessions found past
// their expiry are deleted on the spot, so no sweeper is required for
// correctness (one may still run for storage hygiene).
func (s *Store) Validate(ctx context.Context, bearer string) (*models.User, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("token_hash = ?", token.Hash(bearer)).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if !time.Now().Before(sess.ExpiresAt) {
		if err := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", sess.ID).Error; err != nil {
			log.Println("Session: failed to delete expired session:", err)
		}
		return nil, ErrExpired
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", sess.UserID).Error; err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	// Best-effort telemetry, not coupled to the caller's subsequent work.
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", sess.ID).
		Update("last_accessed_at", time.Now()).Error; err != nil {
		log.Println("Session: failed to update last accessed:", err)
	}

	return &user, nil
}

// Destroy deletes the session for a bearer token. Destroying an absent
// session is not an error.
func (s *Store) Destroy(ctx context.Context, bearer string) error {
	return s.db.WithContext(ctx).Delete(&models.Session{}, "token_hash = ?", token.Hash(bearer)).Error
}

// DestroyAllForUser removes every session owned by a user. Used on account
// deletion and after a credential reset.
func (s *Store) DestroyAllForUser(ctx context.Context, userID uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&models.Session{}, "user_id = ?", userID).Error
}

// SweepExpired deletes sessions past their horizon. Hygiene only; Validate
// already evicts expired sessions lazily.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}
