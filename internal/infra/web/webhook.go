package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"codepolish/internal/domain"
)

const maxWebhookBytes = 64 << 10

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Payments == nil {
		s.writeError(w, r, fmt.Errorf("%w: billing is not configured", domain.ErrNotFound))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		s.writeError(w, r, domain.Invalid("read payload: %v", err))
		return
	}
	ev, err := s.deps.Payments.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	l := s.logger(r).With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()
	if err := s.deps.Subs.HandleBillingEvent(r.Context(), ev); err != nil {
		// redelivery cannot fix these; acknowledge them
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrSubscriptionNotFound) || errors.Is(err, domain.ErrInvalidArgument) {
			l.Warn().Err(err).Msg("dropping unprocessable billing event")
			writeJSON(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
