package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/avelez/chapterboard/internal/identity"
	"github.com/avelez/chapterboard/internal/mailer"
	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/session"
	"github.com/avelez/chapterboard/internal/token"
)

// MagicLinkTTL keeps emailed links short-lived; they carry a full login.
const MagicLinkTTL = 15 * time.Minute

// MagicLinkRequest asks for a sign-in link by email.
type MagicLinkRequest struct {
	Email string `json:"email"`
}

// HandleRequestMagicLink emails a sign-in link. The response is always
// {"sent": true}: whether the address has an account is never revealed, and
// a delivery failure is logged rather than surfaced.
func HandleRequestMagicLink(issuer *token.Issuer, mail mailer.Mailer, appURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MagicLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		tok, err := issuer.Issue(token.KindMagicLink, req.Email, MagicLinkTTL)
		if err != nil {
			log.Println("MagicLink: failed to issue token:", err)
		} else {
			link := fmt.Sprintf("%s/api/magic-link/verify?token=%s", appURL, url.QueryEscape(tok))
			body := fmt.Sprintf(
				"<p><a href=%q>Sign in to Chapterboard</a></p>"+
					"<p>The link is valid for %.0f minutes. If you did not request it, ignore this email.</p>",
				link, MagicLinkTTL.Minutes())
			if err := mail.Send(req.Email, "Your sign-in link", body); err != nil {
				log.Println("MagicLink: failed to send email:", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sent": true}`))
	}
}

// HandleVerifyMagicLink trades a valid magic-link token for a session,
// creating the user on first sign-in.
func HandleVerifyMagicLink(resolver *identity.Resolver, sessions *session.Store, issuer *token.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			http.Error(w, "Missing token", http.StatusBadRequest)
			return
		}

		claims, err := issuer.Verify(raw, token.KindMagicLink)
		if err != nil {
			// Expired, malformed, and wrong-kind all collapse into one
			// answer; the fix for each is the same new link.
			http.Error(w, "This link is invalid or has expired, please request a new one", http.StatusUnauthorized)
			return
		}

		user, err := resolver.ResolveLogin(r.Context(), claims.Email, models.ChannelMagicLink)
		if err != nil {
			log.Println("MagicLink: failed to resolve login:", err)
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
			return
		}

		writeSession(w, r, sessions, user)
	}
}
