package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Highrates/vspomni-sub000/internal/cart"
	"github.com/Highrates/vspomni-sub000/internal/services"
	"github.com/Highrates/vspomni-sub000/internal/session"
)

// cartView is the JSON shape the storefront renders from.
type cartView struct {
	Lines      []cart.Line `json:"lines"`
	Promo      *cart.Promo `json:"promo,omitempty"`
	TotalItems int         `json:"total_items"`
	TotalPrice int64       `json:"total_price"`
	Currency   string      `json:"currency"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps a service failure onto an HTTP response, surfacing
// the shopper-facing message when there is one.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var userErr *services.UserError
	if errors.As(err, &userErr) {
		h.writeError(w, http.StatusUnprocessableEntity, userErr.Message)
		return
	}
	h.loggerFromContext(r.Context()).Error("request failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, services.UserMessage(err))
}

// loadCart reconstructs the client's cart from storage. The session
// middleware guarantees a client ID.
func (h *Handlers) loadCart(r *http.Request) (*cart.Store, *session.Data, error) {
	sess := h.sessionFromRequest(r.Context(), r)
	if sess == nil || sess.ClientID == "" {
		return nil, nil, errors.New("no session on request")
	}

	store, err := cart.Load(r.Context(), sess.ClientID, h.storageProvider, h.pricingEngine, h.loggerFromContext(r.Context()))
	if err != nil {
		return nil, nil, err
	}
	return store, sess, nil
}

func (h *Handlers) cartResponse(store *cart.Store) cartView {
	return cartView{
		Lines:      store.Lines(),
		Promo:      store.Promo(),
		TotalItems: store.TotalItems(),
		TotalPrice: store.TotalPrice(),
		Currency:   h.config.Currency,
	}
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	store, _, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartResponse(store))
}

type addLineRequest struct {
	ProductID string `json:"product_id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	OldPrice  int64  `json:"old_price"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	VariantID string `json:"variant_id"`
}

func (h *Handlers) AddCartLine(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodyBytes)

	var req addLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	store, _, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	line := cart.Line{
		LineID:    cart.LineIDFor(req.ProductID, req.Size),
		ProductID: req.ProductID,
		Slug:      req.Slug,
		Name:      req.Name,
		Price:     req.Price,
		OldPrice:  req.OldPrice,
		Quantity:  req.Quantity,
		Size:      req.Size,
		VariantID: req.VariantID,
	}
	if err := store.AddLine(r.Context(), line); err != nil {
		if errors.Is(err, cart.ErrInvalidLine) {
			h.writeError(w, http.StatusBadRequest, "Invalid cart line.")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartResponse(store))
}

func (h *Handlers) mutateLine(w http.ResponseWriter, r *http.Request, mutate func(store *cart.Store, lineID string) error) {
	store, _, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	lineID := mux.Vars(r)["lineID"]
	if err := mutate(store, lineID); err != nil {
		if errors.Is(err, cart.ErrLineNotFound) {
			h.writeError(w, http.StatusNotFound, "That item is not in your cart.")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartResponse(store))
}

func (h *Handlers) IncrementCartLine(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, func(store *cart.Store, lineID string) error {
		return store.Increment(r.Context(), lineID)
	})
}

func (h *Handlers) DecrementCartLine(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, func(store *cart.Store, lineID string) error {
		return store.Decrement(r.Context(), lineID)
	})
}

func (h *Handlers) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	h.mutateLine(w, r, func(store *cart.Store, lineID string) error {
		return store.RemoveLine(r.Context(), lineID)
	})
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	store, _, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := store.Clear(r.Context()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartResponse(store))
}

type applyPromoRequest struct {
	Code string `json:"code"`
}

func (h *Handlers) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodyBytes)

	var req applyPromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	store, _, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if store.Promo() != nil {
		h.writeError(w, http.StatusConflict, "A promo code is already applied. Remove it first.")
		return
	}

	promo, err := h.promoService.Validate(r.Context(), strings.TrimSpace(req.Code), store.Lines())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := store.ApplyPromo(r.Context(), *promo); err != nil {
		if errors.Is(err, cart.ErrPromoActive) {
			h.writeError(w, http.StatusConflict, "A promo code is already applied. Remove it first.")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, h.cartResponse(store))
}

func (h *Handlers) RemovePromo(w http.ResponseWriter, r *http.Request) {
	store, _, err := h.loadCart(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := store.RemovePromo(r.Context()); err != nil {
		if errors.Is(err, cart.ErrPromoNotFound) {
			h.writeError(w, http.StatusNotFound, "No promo code is applied.")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.cartResponse(store))
}
