package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/avelez/chapterboard/internal/models"
	"github.com/avelez/chapterboard/internal/onboarding"
	"github.com/avelez/chapterboard/internal/upload"
)

// maxOnboardingBody bounds the multipart form (two files plus fields).
const maxOnboardingBody = 12 << 20

// HandleCompleteOnboarding accepts the onboarding form and reports one of
// the three orchestrator outcomes.
func HandleCompleteOnboarding(orch *onboarding.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Context().Value(userContextKey).(*models.User)

		if err := r.ParseMultipartForm(maxOnboardingBody); err != nil {
			http.Error(w, "Invalid multipart form", http.StatusBadRequest)
			return
		}

		data := onboarding.ProfileData{
			RNumber:         r.FormValue("r_number"),
			Name:            r.FormValue("name"),
			Major:           r.FormValue("major"),
			AspiredPosition: r.FormValue("aspired_position"),
			SocialURLs:      r.Form["social_urls"],
			Technologies:    r.Form["technologies"],
		}

		var files []onboarding.File
		for field, kind := range map[string]string{
			"profile_picture": upload.KindProfilePicture,
			"resume":          upload.KindResume,
		} {
			f, header, err := r.FormFile(field)
			if err == http.ErrMissingFile {
				continue
			}
			if err != nil {
				http.Error(w, "Invalid file upload", http.StatusBadRequest)
				return
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "Invalid file upload", http.StatusBadRequest)
				return
			}
			files = append(files, onboarding.File{
				Kind:         kind,
				Name:         header.Filename,
				DeclaredMime: header.Header.Get("Content-Type"),
				Data:         content,
			})
		}

		result := orch.CompleteOnboarding(r.Context(), user.ID, data, files)

		w.Header().Set("Content-Type", "application/json")
		switch result.Status {
		case onboarding.StatusSuccess:
			w.WriteHeader(http.StatusOK)
		case onboarding.StatusDuplicate:
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		json.NewEncoder(w).Encode(result)
	}
}

// AccountLinkRequest drives the linking state machine.
type AccountLinkRequest struct {
	LinkingToken string `json:"linking_token"`
	Method       string `json:"method"`
	Secret       string `json:"secret,omitempty"`
}

// HandleAccountLink attempts the merge (method=password) or triggers the
// reset fallback (method=reset).
func HandleAccountLink(orch *onboarding.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AccountLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if req.LinkingToken == "" {
			http.Error(w, "Missing linking token", http.StatusBadRequest)
			return
		}

		result := orch.CompleteAccountLinking(r.Context(), req.LinkingToken, req.Method, req.Secret)
		if result.Status == onboarding.StatusFailure {
			log.Printf("Linking: attempt failed: %s", result.Reason)
		}

		w.Header().Set("Content-Type", "application/json")
		if result.Status != onboarding.StatusSuccess {
			w.WriteHeader(http.StatusBadRequest)
		}
		json.NewEncoder(w).Encode(result)
	}
}
