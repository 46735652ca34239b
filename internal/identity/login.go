package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/models"
)

// ResolveLogin finds or creates the user record for a verified login result
// (email plus the channel that authenticated it). The channel is recorded at
// creation time and left untouched by later logins; merging a new channel
// into an existing record is the linking flow's job, not this one's.
func (r *Resolver) ResolveLogin(ctx context.Context, email, channel string) (*models.User, error) {
	now := time.Now()

	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			ID:          uuid.New(),
			Email:       email,
			AuthChannel: channel,
			LastLoginAt: &now,
			CreatedAt:   now,
		}
		err = r.db.WithContext(ctx).Create(&user).Error
		if err == nil {
			log.Printf("Identity: created user for %s via %s", email, channel)
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// Lost a concurrent first-login race for the same address; the
		// winner's row is the account.
		if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to load user after create race: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error; err != nil {
		log.Println("Identity: failed to update last login:", err)
	}
	user.LastLoginAt = &now

	return &user, nil
}
