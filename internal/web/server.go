// Package web is the companion HTTP service: OAuth account linking for
// Discord users and a small JSON API for external tooling. It shares the
// profile store with the bot and writes through the same versioned-save
// contract, never around it.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/config"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
)

const sessionCookie = "amethyst_session"

type identityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*RobloxUser, error)
}

// Server hosts the linking flow and the guild API.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	provider identityProvider
	router   chi.Router
}

// NewServer builds the router. The store is shared with the bot process.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		provider: NewRobloxProvider(cfg.RobloxClientID, cfg.RobloxClientSecret, cfg.OAuthRedirectURL),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/auth/roblox/start", s.handleAuthStart)
	r.Get("/auth/roblox/callback", s.handleAuthCallback)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.apiKeyAuth)
		api.Get("/guilds/{guildID}/accounts/{accountID}/points", s.handleGetPoints)
		api.Put("/guilds/{guildID}/accounts/{accountID}/points", s.handlePutPoints)
	})

	s.router = r
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.WebAddr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Web service listening", "addr", s.cfg.WebAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleAuthStart validates the signed state minted by /link and forwards
// the browser to the Roblox consent page with the same state.
func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if _, err := ParseLinkToken(s.cfg.JWTSecret, state); err != nil {
		http.Error(w, "invalid or expired link", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, s.provider.AuthURL(state), http.StatusFound)
}

// handleAuthCallback completes the link: the state token names the Discord
// user, the code resolves to a Roblox identity, and the two are joined on
// the user profile through a versioned save.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	discordID, err := ParseLinkToken(s.cfg.JWTSecret, state)
	if err != nil {
		http.Error(w, "invalid or expired link", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	identity, err := s.provider.Exchange(r.Context(), code)
	if err != nil {
		slog.Error("OAuth exchange failed", "error", err)
		http.Error(w, "authorization failed", http.StatusBadGateway)
		return
	}

	if err := s.linkAccount(r.Context(), discordID, identity.Sub); err != nil {
		slog.Error("failed to link account", "discord", discordID, "error", err)
		http.Error(w, "could not save the link, please retry", http.StatusServiceUnavailable)
		return
	}

	if session, err := NewSessionToken(s.cfg.JWTSecret, discordID, 24*time.Hour); err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    session,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	slog.Info("account linked", "discord", discordID, "roblox", identity.Sub)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Linked Roblox account %s. You can close this tab.\n", identity.Username)
}

// linkAccount writes the link with the same conflict protocol as the bot:
// re-fetch and reapply on ErrConflict, bounded attempts, no blind overwrite.
func (s *Server) linkAccount(ctx context.Context, discordID, robloxID string) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var u *store.UserProfile
		u, err = s.store.User(ctx, discordID, true)
		if err != nil {
			return err
		}
		u.LinkedAccountID = robloxID
		err = s.store.SaveUser(ctx, u)
		if err == nil || !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
