package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/discount"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/engine"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/localstore"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/reconcile"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
)

type fakeRemote struct {
	carts     map[string][]domain.CartLine
	wishlists map[string][]domain.WishlistEntry
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		carts:     map[string][]domain.CartLine{},
		wishlists: map[string][]domain.WishlistEntry{},
	}
}

func (f *fakeRemote) ListCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	return domain.CloneLines(f.carts[userID]), nil
}

func (f *fakeRemote) GetCartLine(ctx context.Context, userID, productID, variantID string) (domain.CartLine, error) {
	if idx := domain.FindLine(f.carts[userID], productID, variantID); idx >= 0 {
		return f.carts[userID][idx], nil
	}
	return domain.CartLine{}, remotestore.ErrNotFound
}

func (f *fakeRemote) InsertCartLine(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error) {
	if domain.FindLine(f.carts[userID], line.ProductID, line.VariantID) >= 0 {
		return domain.CartLine{}, remotestore.ErrConflict
	}
	if line.ID == "" {
		line.ID = fmt.Sprintf("srv-%s-%d", line.ProductID, len(f.carts[userID]))
	}
	f.carts[userID] = append(f.carts[userID], line)
	return line, nil
}

func (f *fakeRemote) UpdateCartQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	if idx := domain.FindLineByID(f.carts[userID], lineID); idx >= 0 {
		f.carts[userID][idx].Quantity = quantity
		return nil
	}
	return remotestore.ErrNotFound
}

func (f *fakeRemote) DeleteCartLine(ctx context.Context, userID, lineID string) error {
	lines := f.carts[userID]
	if idx := domain.FindLineByID(lines, lineID); idx >= 0 {
		f.carts[userID] = append(lines[:idx], lines[idx+1:]...)
	}
	return nil
}

func (f *fakeRemote) ClearCart(ctx context.Context, userID string) error {
	delete(f.carts, userID)
	return nil
}

func (f *fakeRemote) ListWishlist(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	return domain.CloneEntries(f.wishlists[userID]), nil
}

func (f *fakeRemote) InsertWishlistEntry(ctx context.Context, userID string, entry domain.WishlistEntry) (domain.WishlistEntry, error) {
	if domain.FindEntry(f.wishlists[userID], entry.ProductID) >= 0 {
		return domain.WishlistEntry{}, remotestore.ErrConflict
	}
	f.wishlists[userID] = append(f.wishlists[userID], entry)
	return entry, nil
}

func (f *fakeRemote) DeleteWishlistEntry(ctx context.Context, userID, productID string) error {
	entries := f.wishlists[userID]
	if idx := domain.FindEntry(entries, productID); idx >= 0 {
		f.wishlists[userID] = append(entries[:idx], entries[idx+1:]...)
	}
	return nil
}

type fakeDiscount struct{}

func (fakeDiscount) Validate(ctx context.Context, code string, subtotalCents int64) (int64, error) {
	switch code {
	case "SAVE10":
		return 10_00, nil
	case "DOWN":
		return 0, discount.ErrUnavailable
	default:
		return 0, discount.ErrInvalidCode
	}
}

type fakeCheckout struct {
	requests []engine.CheckoutRequest
}

func (f *fakeCheckout) Initiate(ctx context.Context, req engine.CheckoutRequest) error {
	f.requests = append(f.requests, req)
	return nil
}

type apiRig struct {
	router   chi.Router
	engine   *engine.Engine
	checkout *fakeCheckout
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	local, err := localstore.NewSQLiteStore(":memory:", localstore.DefaultKeys(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	coord := reconcile.NewCoordinator(local, newFakeRemote(), log)
	co := &fakeCheckout{}
	eng := engine.New(engine.Config{
		Coordinator: coord,
		Discount:    fakeDiscount{},
		Checkout:    co,
		Logger:      log,
		UndoWindow:  200 * time.Millisecond,
		UndoTick:    20 * time.Millisecond,
	})
	t.Cleanup(eng.Close)

	h := NewHandler(eng, 2*time.Second, log)
	return &apiRig{router: NewRouter(h, 2*time.Second), engine: eng, checkout: co}
}

func (rig *apiRig) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

func addItemBody(productID string, qty int) engine.AddToCartRequest {
	return engine.AddToCartRequest{
		ProductID:      productID,
		VariantID:      "v1",
		Quantity:       qty,
		UnitPriceCents: 25_00,
		Product:        domain.ProductSnapshot{Name: "Oversized Hoodie", Image: "/img/hoodie.png"},
		Variant:        domain.VariantSnapshot{SKU: "HOOD-M", Stock: 10},
	}
}

func TestHealthEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAddItemReturnsLineAndSnapshot(t *testing.T) {
	rig := newAPIRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 2))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Line     domain.CartLine `json:"line"`
		Snapshot engine.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.Line.ProductID)
	assert.Equal(t, 2, resp.Line.Quantity)
	require.Len(t, resp.Snapshot.Lines, 1)
	assert.Equal(t, int64(50_00), resp.Snapshot.Totals.SubtotalCents)
}

func TestAddItemRejectsBadJSON(t *testing.T) {
	rig := newAPIRig(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Code)
}

func TestAddItemRejectsQuantityOutOfRange(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 100))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Code)
}

func TestUpdateQuantityUnknownLine(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPut, "/api/v1/cart/items/nope", UpdateQuantityRequestDTO{Quantity: 3})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemoveThenUndoRestoresLine(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 2))

	lines := rig.engine.Items()
	require.Len(t, lines, 1)

	rec := rig.do(t, http.MethodDelete, "/api/v1/cart/items/"+lines[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rig.engine.Items())

	rec = rig.do(t, http.MethodPost, "/api/v1/cart/undo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	restored := rig.engine.Items()
	require.Len(t, restored, 1)
	assert.Equal(t, 2, restored[0].Quantity)
}

func TestUndoWithoutPendingRemoval(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/cart/undo", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "undo_expired", resp.Code)
}

func TestToggleWishlistOnAndOff(t *testing.T) {
	rig := newAPIRig(t)
	item := engine.WishlistItem{
		ProductID:      "p9",
		UnitPriceCents: 45_00,
		Product:        domain.ProductSnapshot{Name: "Cargo Pants"},
	}

	rec := rig.do(t, http.MethodPost, "/api/v1/wishlist/toggle", item)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		InWishlist bool `json:"in_wishlist"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.InWishlist)

	rec = rig.do(t, http.MethodPost, "/api/v1/wishlist/toggle", item)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.InWishlist)
}

func TestApplyDiscountChangesTotals(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 2))

	rec := rig.do(t, http.MethodPost, "/api/v1/cart/discount", ApplyDiscountRequestDTO{Code: "SAVE10"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AmountOffCents int64 `json:"amount_off_cents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(10_00), resp.AmountOffCents)
}

func TestApplyDiscountRejectedCode(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/cart/discount", ApplyDiscountRequestDTO{Code: "BOGUS"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestApplyDiscountServiceDown(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/cart/discount", ApplyDiscountRequestDTO{Code: "DOWN"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutRequiresLogin(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 1))

	rec := rig.do(t, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginMergesAndCheckoutSucceeds(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 2))

	rec := rig.do(t, http.MethodPost, "/api/v1/session/login", LoginRequestDTO{UserID: "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		MergePending bool            `json:"merge_pending"`
		Snapshot     engine.Snapshot `json:"snapshot"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.MergePending)
	require.Len(t, resp.Snapshot.Lines, 1)

	rec = rig.do(t, http.MethodPost, "/api/v1/checkout", CheckoutRequestDTO{})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, rig.checkout.requests, 1)
	assert.Equal(t, "user-1", rig.checkout.requests[0].UserID)
}

func TestLoginRequiresUserID(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, http.MethodPost, "/api/v1/session/login", LoginRequestDTO{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutReturnsEmptySnapshot(t *testing.T) {
	rig := newAPIRig(t)
	rig.do(t, http.MethodPost, "/api/v1/cart/items", addItemBody("p1", 2))

	rec := rig.do(t, http.MethodPost, "/api/v1/session/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap engine.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Empty(t, snap.Lines)
}

func TestRequestIDEchoedBack(t *testing.T) {
	rig := newAPIRig(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-fixed")
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)

	assert.Equal(t, "req-fixed", rec.Header().Get("X-Request-ID"))
}
