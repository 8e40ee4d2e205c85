package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

type ctxKey int

const ctxKeyAPIKey ctxKey = iota

// apiKeyAuth authenticates Bearer tokens against the stored key hashes and
// pins the key to the guild in the request path.
func (s *Server) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		key, err := s.store.VerifyAPIKey(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrInvalidKey) {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}

		if guildID := chi.URLParam(r, "guildID"); guildID != key.GuildID {
			writeError(w, http.StatusForbidden, "key is not valid for this guild")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyAPIKey, key)))
	})
}

func apiKeyFrom(ctx context.Context) *store.APIKey {
	key, _ := ctx.Value(ctxKeyAPIKey).(*store.APIKey)
	return key
}

func (s *Server) handleGetPoints(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())
	if key == nil || !key.HasScope("points.read") {
		writeError(w, http.StatusForbidden, "points.read scope required")
		return
	}

	guildID := chi.URLParam(r, "guildID")
	accountID := chi.URLParam(r, "accountID")

	points, err := s.store.Points(r.Context(), guildID, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "guild not found")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"points":     points,
	})
}

func (s *Server) handlePutPoints(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())
	if key == nil || !key.HasScope("points.write") {
		writeError(w, http.StatusForbidden, "points.write scope required")
		return
	}

	var body struct {
		Points int64 `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	guildID := chi.URLParam(r, "guildID")
	accountID := chi.URLParam(r, "accountID")

	// One attempt, first-committer-wins. The API surfaces the conflict and
	// lets the caller re-read and decide, same as a bot handler would.
	err := s.store.SetPoints(r.Context(), guildID, accountID, body.Points, "api:"+key.Name)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "concurrent update, re-read and retry")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"points":     body.Points,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
