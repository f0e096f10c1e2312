package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"codepolish/internal/domain"
	"codepolish/internal/infra/logging"
	"codepolish/internal/infra/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBodyBytes leaves room for the largest accepted source plus JSON escaping.
const maxBodyBytes = 4 << 20

type procKind int

const (
	query procKind = iota
	mutation
)

type procedure struct {
	kind  procKind
	class ratelimit.Class
	auth  bool
	run   func(ctx context.Context, c *call) (any, error)
}

// call is one procedure invocation.
type call struct {
	userID int64
	input  []byte
	w      http.ResponseWriter
	r      *http.Request
}

// bind decodes the procedure input into v. Missing input leaves v untouched.
func (c *call) bind(v any) error {
	in := bytes.TrimSpace(c.input)
	if len(in) == 0 || bytes.Equal(in, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(in, v); err != nil {
		return domain.Invalid("malformed input: %v", err)
	}
	return nil
}

var success = map[string]bool{"success": true}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")
	p, ok := s.procs[name]
	if !ok {
		s.writeError(w, r, fmt.Errorf("%w: no procedure %q", domain.ErrNotFound, name))
		return
	}
	if p.kind == mutation && r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
			"error": rpcError{Code: "METHOD_NOT_SUPPORTED", Message: name + " is a mutation, use POST"},
		})
		return
	}

	c := &call{userID: userFrom(r.Context()), w: w, r: r}
	if p.auth && c.userID == 0 {
		s.writeError(w, r, domain.ErrUnauthorized)
		return
	}
	if err := s.limit(w, r, p.class, c.userID); err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.Method == http.MethodGet {
		c.input = []byte(r.URL.Query().Get("input"))
	} else {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, r, domain.Invalid("request body too large"))
				return
			}
			s.writeError(w, r, domain.Invalid("read body: %v", err))
			return
		}
		c.input = body
	}

	out, err := p.run(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

// limit charges one request against the caller's class budget. Signed-in
// users are counted by id, everyone else by client address.
func (s *Server) limit(w http.ResponseWriter, r *http.Request, class ratelimit.Class, userID int64) error {
	if s.deps.Limiter == nil {
		return nil
	}
	identity := "ip:" + s.clientIP(r)
	if userID > 0 {
		identity = "user:" + strconv.FormatInt(userID, 10)
	}
	res, err := s.deps.Limiter.Allow(r.Context(), class, identity)
	if res.Limit > 0 {
		remaining := res.Remaining
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	return err
}

func (s *Server) logger(r *http.Request) *zerolog.Logger {
	return logging.With(r.Context(), s.log)
}
