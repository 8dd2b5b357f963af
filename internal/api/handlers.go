// Package api exposes the cart engine over HTTP. The surface mirrors the
// engine's operations one to one; every response carries the settled snapshot
// so clients can render without a follow-up read.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/discount"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/engine"
)

type Handler struct {
	engine  *engine.Engine
	timeout time.Duration
	log     *slog.Logger
}

func NewHandler(eng *engine.Engine, timeout time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: eng, timeout: timeout, log: log}
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type ApplyDiscountRequestDTO struct {
	Code string `json:"code"`
}

type CheckoutRequestDTO struct {
	PromoCode string `json:"promo_code"`
}

type LoginRequestDTO struct {
	UserID string `json:"user_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req engine.AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	line, err := h.engine.AddToCart(ctx, req)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"line":     line,
		"snapshot": h.engine.Snapshot(),
	})
}

func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	lineID := chi.URLParam(r, "line_id")
	if lineID == "" {
		respondError(w, http.StatusBadRequest, "invalid_line_id", "line_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.engine.UpdateQuantity(ctx, lineID, req.Quantity); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	lineID := chi.URLParam(r, "line_id")
	if lineID == "" {
		respondError(w, http.StatusBadRequest, "invalid_line_id", "line_id is required")
		return
	}

	if err := h.engine.RemoveFromCart(ctx, lineID); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) UndoRemove(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.engine.UndoRemove(ctx); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) CancelUndo(w http.ResponseWriter, r *http.Request) {
	h.engine.CancelUndo()
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wishlist": h.engine.Wishlist(),
	})
}

func (h *Handler) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req engine.WishlistItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	inWishlist, err := h.engine.ToggleWishlist(ctx, req)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"in_wishlist": inWishlist,
		"snapshot":    h.engine.Snapshot(),
	})
}

func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req ApplyDiscountRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	amountOff, err := h.engine.ApplyDiscount(ctx, req.Code)
	if err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"amount_off_cents": amountOff,
		"totals":           h.engine.Totals(),
	})
}

func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req CheckoutRequestDTO
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	if err := h.engine.CreateCheckout(ctx, req.PromoCode); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "checkout_requested"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	var req LoginRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.engine.SignIn(ctx, req.UserID); err != nil {
		// A partial merge is not a failed sign-in: state is live, leftovers
		// can be retried.
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			h.respondEngineError(w, r, err)
			return
		}
		h.log.Warn("sign-in completed with partial merge", "error", err, "request_id", requestID(r.Context()))
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"merge_pending": true,
			"snapshot":      h.engine.Snapshot(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"merge_pending": false,
		"snapshot":      h.engine.Snapshot(),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.engine.SignOut()
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) RetryMerge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.engine.RetryMerge(ctx); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.engine.Refetch(ctx); err != nil {
		h.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *Handler) respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err, "request_id", requestID(r.Context()))
	}
	respondError(w, status, code, err.Error())
}

// classify maps the engine's error taxonomy onto HTTP statuses.
func classify(err error) (int, string) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrLineNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrNotAuthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, engine.ErrNoPendingUndo):
		return http.StatusConflict, "undo_expired"
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, discount.ErrInvalidCode):
		return http.StatusUnprocessableEntity, "invalid_discount_code"
	case errors.Is(err, discount.ErrUnavailable):
		return http.StatusServiceUnavailable, "discount_unavailable"
	default:
		return http.StatusBadGateway, "upstream_error"
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
