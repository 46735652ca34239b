package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/session"
)

// ProviderResult is the verified identity an external provider hands back
// once its redirect completes. The consent/redirect plumbing itself lives
// outside this service.
type ProviderResult struct {
	Email    string
	Provider string
}

// IdentityProvider exchanges a provider callback code for a verified
// identity.
type IdentityProvider interface {
	Complete(ctx context.Context, provider, code string) (*ProviderResult, error)
}

// LoginRequest carries a completed provider callback.
type LoginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

// SessionResponse is returned on every successful login path.
type SessionResponse struct {
	BearerToken string       `json:"bearer_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

var providerChannels = map[string]string{
	"google":    models.ChannelGoogle,
	"microsoft": models.ChannelMicrosoft,
}

// HandleProviderLogin establishes a session from an OAuth provider result.
func HandleProviderLogin(resolver *identity.Resolver, sessions *session.Store, idp IdentityProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if idp == nil {
			http.Error(w, "Provider login is not configured", http.StatusServiceUnavailable)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		channel, ok := providerChannels[req.Provider]
		if !ok {
			http.Error(w, "Unknown provider", http.StatusBadRequest)
			return
		}

		result, err := idp.Complete(r.Context(), req.Provider, req.Code)
		if err != nil {
			log.Println("Auth: provider callback failed:", err)
			http.Error(w, "Authentication failed", http.StatusUnauthorized)
			return
		}

		user, err := resolver.ResolveLogin(r.Context(), result.Email, channel)
		if err != nil {
			log.Println("Auth: failed to resolve login:", err)
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
			return
		}

		writeSession(w, r, sessions, user)
	}
}

// HandleLogout destroys the bearer's session. Logging out an absent or
// expired session succeeds quietly.
func HandleLogout(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearer, ok := bearerToken(r); ok {
			if err := sessions.Destroy(r.Context(), bearer); err != nil {
				log.Println("Auth: failed to destroy session:", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": "Logged out successfully"}`))
	}
}

// HandleGetCurrentUser returns the current authenticated user
func HandleGetCurrentUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	}
}

func writeSession(w http.ResponseWriter, r *http.Request, sessions *session.Store, user *models.User) {
	bearer, expiresAt, err := sessions.Create(r.Context(), user.ID)
	if err != nil {
		log.Println("Auth: failed to create session:", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SessionResponse{
		BearerToken: bearer,
		ExpiresAt:   expiresAt,
		User:        user,
	})
}
