package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codepolish/internal/domain"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/ratelimit"

	"github.com/google/uuid"
)

const stateTTL = 10 * time.Minute

func (s *Server) callbackURL() string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/auth/callback"
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Identity == nil {
		s.writeError(w, r, fmt.Errorf("%w: login is not configured", domain.ErrNotFound))
		return
	}
	if err := s.limit(w, r, ratelimit.ClassAuth, 0); err != nil {
		s.writeError(w, r, err)
		return
	}

	state := uuid.NewString()
	st := &repository.OAuthState{RedirectTo: safeRedirect(r.URL.Query().Get("redirect"))}
	if err := s.deps.States.Put(r.Context(), state, st, stateTTL); err != nil {
		s.writeError(w, r, fmt.Errorf("store oauth state: %w", err))
		return
	}
	http.Redirect(w, r, s.deps.Identity.AuthCodeURL(state, s.callbackURL()), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Identity == nil {
		s.writeError(w, r, fmt.Errorf("%w: login is not configured", domain.ErrNotFound))
		return
	}
	if err := s.limit(w, r, ratelimit.ClassAuth, 0); err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.writeError(w, r, fmt.Errorf("%w: provider denied login: %s", domain.ErrUnauthorized, e))
		return
	}
	st, err := s.deps.States.Consume(r.Context(), q.Get("state"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = domain.Invalid("login state is invalid or expired")
		}
		s.writeError(w, r, err)
		return
	}

	ident, err := s.deps.Identity.Exchange(r.Context(), q.Get("code"), s.callbackURL())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := s.deps.Users.LoginWithIdentity(r.Context(), ident)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.deps.Auth.Mint(w, user.ID, user.Name); err != nil {
		s.writeError(w, r, fmt.Errorf("mint session: %w", err))
		return
	}

	s.logger(r).Info().Int64("user_id", user.ID).Str("provider", s.deps.Identity.Name()).Msg("user signed in")
	target := s.cfg.DashboardURL
	if st.RedirectTo != "" {
		target = strings.TrimRight(s.cfg.PublicURL, "/") + st.RedirectTo
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// safeRedirect keeps only same-site absolute paths.
func safeRedirect(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return ""
	}
	return p
}
