package api

import (
	"encoding/json"
	"log"
	"net/http"

	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/session"
)

// ProfileUpdateRequest carries the mutable profile fields. The R Number is
// deliberately absent: it only changes through onboarding, where duplicate
// detection runs.
type ProfileUpdateRequest struct {
	Name            *string  `json:"name"`
	Major           *string  `json:"major"`
	AspiredPosition *string  `json:"aspired_position"`
	SocialURLs      []string `json:"social_urls"`
	Technologies    []string `json:"technologies"`
}

// HandleUpdateProfile updates the current user's profile fields.
func HandleUpdateProfile(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)

		var req ProfileUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			updates["name"] = *req.Name
		}
		if req.Major != nil {
			updates["major"] = *req.Major
		}
		if req.AspiredPosition != nil {
			updates["aspired_position"] = *req.AspiredPosition
		}
		if req.SocialURLs != nil {
			b, _ := json.Marshal(req.SocialURLs)
			updates["social_urls"] = string(b)
		}
		if req.Technologies != nil {
			b, _ := json.Marshal(req.Technologies)
			updates["technologies"] = string(b)
		}
		if len(updates) == 0 {
			http.Error(w, "Nothing to update", http.StatusBadRequest)
			return
		}

		if err := db.WithContext(r.Context()).Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(updates).Error; err != nil {
			log.Println("Profile: update failed:", err)
			http.Error(w, "Failed to update profile", http.StatusInternalServerError)
			return
		}

		var fresh models.User
		if err := db.WithContext(r.Context()).First(&fresh, "id = ?", user.ID).Error; err != nil {
			log.Println("Profile: reload failed:", err)
			http.Error(w, "Failed to load profile", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&fresh)
	}
}

// HandleDeleteAccount removes the current user and everything hanging off
// it: sessions, linking tokens, and the row itself. Uploaded blobs are
// reconciled out of band.
func HandleDeleteAccount(db *gorm.DB, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)

		err := db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.Session{}, "user_id = ?", user.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.AccountLinkingToken{}, "existing_user_id = ?", user.ID).Error; err != nil {
				return err
			}
			return tx.Delete(&models.User{}, "id = ?", user.ID).Error
		})
		if err != nil {
			log.Println("Account: deletion failed:", err)
			http.Error(w, "Failed to delete account", http.StatusInternalServerError)
			return
		}

		log.Printf("Account: deleted user %s", user.ID)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": "Account deleted"}`))
	}
}
