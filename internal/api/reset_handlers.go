package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/session"
	"github.com/avelez/chapterboard/internal/token"
)

// PasswordResetRequest completes a reset started by the linking flow.
type PasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// HandleCompletePasswordReset verifies a password-reset token and sets the
// account's password. Existing sessions are destroyed: a credential reset
// means the old ones can no longer be trusted.
func HandleCompletePasswordReset(db *gorm.DB, issuer *token.Issuer, sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PasswordResetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if len(req.NewPassword) < 8 {
			http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
			return
		}

		claims, err := issuer.Verify(req.Token, token.KindPasswordReset)
		if err != nil {
			http.Error(w, "This link is invalid or has expired, please request a new one", http.StatusUnauthorized)
			return
		}

		var user models.User
		err = db.WithContext(r.Context()).Where("email = ?", claims.Email).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The account vanished between issuance and completion. Same
			// generic answer as a bad token.
			http.Error(w, "This link is invalid or has expired, please request a new one", http.StatusUnauthorized)
			return
		}
		if err != nil {
			log.Println("Reset: failed to load user:", err)
			http.Error(w, "Failed to reset password", http.StatusInternalServerError)
			return
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Println("Reset: failed to hash password:", err)
			http.Error(w, "Failed to reset password", http.StatusInternalServerError)
			return
		}

		if err := db.WithContext(r.Context()).Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("password", string(hashed)).Error; err != nil {
			log.Println("Reset: failed to update password:", err)
			http.Error(w, "Failed to reset password", http.StatusInternalServerError)
			return
		}

		if err := sessions.DestroyAllForUser(r.Context(), user.ID); err != nil {
			log.Println("Reset: failed to destroy sessions:", err)
		}

		log.Printf("Reset: password set for user %s", user.ID)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": "Password updated, please sign in again"}`))
	}
}
