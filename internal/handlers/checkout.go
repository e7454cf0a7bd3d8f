package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Highrates/vspomni-sub000/internal/services"
)

type beginCheckoutRequest struct {
	Email string `json:"email"`
}

// BeginCheckout runs the checkout flow up to the payment hand-off and
// returns what the payment widget needs to open.
func (h *Handlers) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodyBytes)

	var req beginCheckoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body.")
			return
		}
	}

	store, sess, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = sess.Email
	} else if email != sess.Email {
		sess.Email = email
		if updateErr := h.sessionManager.UpdateSession(r.Context(), r, sess); updateErr != nil {
			h.loggerFromContext(r.Context()).Warn("failed to remember checkout email on session", "error", updateErr)
		}
	}

	handoff, err := h.checkoutService.Begin(r.Context(), store, services.Customer{
		ClientID: sess.ClientID,
		Email:    email,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, handoff)
}

// CheckoutConfirmation backs the page the payment widget returns the
// shopper to. It resumes any finalization the gateway callback did not get
// to finish.
func (h *Handlers) CheckoutConfirmation(w http.ResponseWriter, r *http.Request) {
	store, sess, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resumption, err := h.recoveryService.Resume(r.Context(), store, services.Customer{
		ClientID: sess.ClientID,
		Email:    sess.Email,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resumption)
}
