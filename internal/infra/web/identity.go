package web

import (
	"context"
	"net/http"
	"strings"

	"codepolish/internal/domain/model"
	"codepolish/internal/infra/logging"
)

type ctxKey struct{}

func withUser(ctx context.Context, userID int64) context.Context {
	return logging.WithUserID(context.WithValue(ctx, ctxKey{}, userID), userID)
}

// userFrom returns the authenticated user id or 0 for anonymous callers.
func userFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

// identify resolves the session cookie, a bearer session token or a bearer
// API key. Unverifiable credentials leave the request anonymous.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := s.deps.Auth.credentials(r)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}

		var (
			userID int64
			err    error
		)
		if strings.HasPrefix(tok, model.APIKeyPrefix) {
			userID, err = s.deps.APIKeys.Authenticate(r.Context(), tok)
		} else {
			userID, err = s.deps.Auth.Parse(tok)
		}
		if err != nil {
			l := logging.With(r.Context(), s.log)
			l.Debug().Err(err).Msg("ignoring invalid credentials")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
	})
}
