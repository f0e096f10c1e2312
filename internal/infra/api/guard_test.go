package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codepolish/internal/infra/logging"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestChain_OrderAndTrace(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	var traceInCtx string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceInCtx = logging.TraceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}), TraceID(), mark("a"), mark("b"), RequestLog(nopLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Len(t, traceInCtx, 26)
	assert.Equal(t, traceInCtx, rec.Header().Get(TraceHeader))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), Recover(nopLogger()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTimeout(t *testing.T) {
	var deadline time.Time
	h := Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}), Timeout(time.Second))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
}
