package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/checkout"
	"github.com/noor-atelier/backend/internal/orders"
	"github.com/noor-atelier/backend/internal/payment"
	"github.com/noor-atelier/backend/internal/webhook"
)

type CheckoutHandler struct {
	Service   *checkout.Service
	Orders    *orders.Repo
	Provider  *payment.Client
	Processor *webhook.Processor
	Log       *zap.Logger
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout/session", h.createSession)
	r.Get("/checkout/session/{id}", h.getSession)
	r.Get("/checkout/success", h.paymentSuccess)
}

func (h *CheckoutHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.CreateSession(ctx, req)
	var provErr *payment.ProviderError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, checkout.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, "payment provider unavailable")
	case errors.Is(err, checkout.ErrInconsistentState):
		writeError(w, http.StatusInternalServerError, "order persistence failed")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *CheckoutHandler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	order, err := h.Orders.GetBySessionID(ctx, sessionID)
	if err != nil && !errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "order": order})
}

// paymentSuccess is the browser return leg after a completed checkout. The
// provider is the source of truth here: we re-read the session and, when it
// reports paid, funnel through the same confirm path the webhook uses. The
// webhook usually got there first, in which case this is a clean duplicate.
func (h *CheckoutHandler) paymentSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := h.Provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if sess.PaymentStatus != "paid" {
		writeError(w, http.StatusBadRequest, "payment not completed")
		return
	}

	if err := h.Processor.ConfirmSession(ctx, *sess); err != nil {
		h.Log.Error("confirm on success return failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "confirmation failed")
		return
	}

	order, err := h.Orders.GetBySessionID(ctx, sessionID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "payment successful",
		"order_id": order.ID,
		"order":    order,
	})
}
