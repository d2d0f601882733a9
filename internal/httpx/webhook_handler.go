package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/payment"
	"github.com/noor-atelier/backend/internal/webhook"
)

// SignatureHeader carries the provider's payload signature.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	Processor *webhook.Processor
	Log       *zap.Logger
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhook", h.handle)
}

// handle passes the body to the processor byte-exact. The signature is
// computed over the raw payload, so nothing here may parse or re-encode it
// first.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.Processor.Handle(r.Context(), body, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, payment.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, "signature verification failed")
	default:
		// critical-path failure: non-2xx so the provider redelivers
		h.Log.Error("webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}
