// Package engine holds the in-memory cart and wishlist state and applies
// every mutation optimistically: observers see the change immediately, the
// persistence call runs after, and a failed call rolls the state back. The
// engine is the sole writer of the collections; everything else observes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/cache"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/pricing"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/reconcile"
)

// DiscountValidator checks a promo code against the current subtotal and
// returns the amount off in cents.
type DiscountValidator interface {
	Validate(ctx context.Context, code string, subtotalCents int64) (int64, error)
}

// CheckoutInitiator hands a checkout request off to the external checkout
// flow; the engine only requests that checkout begin.
type CheckoutInitiator interface {
	Initiate(ctx context.Context, req CheckoutRequest) error
}

type CheckoutRequest struct {
	UserID    string            `json:"user_id"`
	PromoCode string            `json:"promo_code,omitempty"`
	Lines     []domain.CartLine `json:"items"`
	Totals    pricing.Totals    `json:"totals"`
}

// Snapshot is what observers receive after every settled state change.
type Snapshot struct {
	Lines      []domain.CartLine      `json:"items"`
	Wishlist   []domain.WishlistEntry `json:"wishlist"`
	Totals     pricing.Totals         `json:"totals"`
	Loading    bool                   `json:"loading"`
	LineErrors map[string]string      `json:"line_errors,omitempty"`
	Undo       *UndoState             `json:"undo,omitempty"`
}

// Config wires the engine's collaborators. Cache, Discount and Checkout may be
// nil when the capability is not needed (tests, guest-only tools).
type Config struct {
	Coordinator *reconcile.Coordinator
	Cache       cache.CartCache
	Discount    DiscountValidator
	Checkout    CheckoutInitiator
	Logger      *slog.Logger

	UndoWindow time.Duration
	UndoTick   time.Duration
	// ErrorTTL is how long a per-line failure stays visible before it
	// auto-clears.
	ErrorTTL time.Duration
}

type Engine struct {
	coord    *reconcile.Coordinator
	cache    cache.CartCache
	discount DiscountValidator
	checkout CheckoutInitiator
	log      *slog.Logger
	errTTL   time.Duration

	sfg  singleflight.Group
	undo *undoManager

	// lineLocks serializes mutations targeting the same logical item so
	// out-of-order network responses cannot lose updates. Mutations on
	// different items proceed independently.
	lineLocks keyedLocks

	mu            sync.Mutex
	lines         []domain.CartLine
	wishlist      []domain.WishlistEntry
	discountCents int64
	loading       bool
	lineErrs      map[string]string
	observers     map[int]func(Snapshot)
	nextObserver  int
	closed        bool
}

func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	errTTL := cfg.ErrorTTL
	if errTTL <= 0 {
		errTTL = 4 * time.Second
	}

	e := &Engine{
		coord:    cfg.Coordinator,
		cache:    cfg.Cache,
		discount: cfg.Discount,
		checkout: cfg.Checkout,
		log:      log,
		errTTL:   errTTL,
		lineErrs: map[string]string{},
	}
	e.undo = newUndoManager(cfg.UndoWindow, cfg.UndoTick, e.publish)
	return e
}

// Close tears the engine down. In-flight persistence calls finish but no
// longer apply state updates, and the undo countdown is stopped so it cannot
// fire against stale state.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.observers = nil
	e.mu.Unlock()
	e.undo.close()
}

// Subscribe registers an observer and returns its unsubscribe func. The
// observer is called outside the engine's lock and may call back in.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.observers == nil {
		e.observers = map[int]func(Snapshot){}
	}
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Items() []domain.CartLine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.CloneLines(e.lines)
}

func (e *Engine) ItemCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, l := range e.lines {
		n += l.Quantity
	}
	return n
}

func (e *Engine) Totals() pricing.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pricing.Compute(e.lines, e.discountCents)
}

// AddToCartRequest is the add boundary: callers supply the captured price and
// snapshots, the engine validates them instead of trusting opaque payloads.
type AddToCartRequest struct {
	ProductID      string                 `json:"product_id"`
	VariantID      string                 `json:"variant_id"`
	Quantity       int                    `json:"quantity"`
	UnitPriceCents int64                  `json:"unit_price_cents"`
	Product        domain.ProductSnapshot `json:"product"`
	Variant        domain.VariantSnapshot `json:"variant"`
}

// AddToCart creates a line or increments the existing one for the same
// (product, variant). The returned line reflects the settled state: the
// existing line's id and summed quantity on a duplicate add.
func (e *Engine) AddToCart(ctx context.Context, req AddToCartRequest) (domain.CartLine, error) {
	line := domain.CartLine{
		ID:             uuid.NewString(),
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		Quantity:       req.Quantity,
		UnitPriceCents: req.UnitPriceCents,
		Product:        req.Product,
		Variant:        req.Variant,
		AddedAt:        time.Now().UTC(),
	}
	if err := line.Validate(); err != nil {
		return domain.CartLine{}, validationErr(err.Error())
	}
	return e.addLine(ctx, line)
}

// addLine is the shared optimistic add path, also used by undo restore.
func (e *Engine) addLine(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	unlock := e.lineLocks.lock(itemKey(line.ProductID, line.VariantID))
	defer unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.CartLine{}, ErrClosed
	}
	prev := domain.CloneLines(e.lines)

	applied := line
	if idx := domain.FindLine(e.lines, line.ProductID, line.VariantID); idx >= 0 {
		e.lines[idx].Quantity = domain.ClampQuantity(e.lines[idx].Quantity + line.Quantity)
		applied = e.lines[idx]
	} else {
		e.lines = append(e.lines, line)
	}
	fullCart := domain.CloneLines(e.lines)
	e.mu.Unlock()
	e.publish()

	// line still carries the quantity delta; the remote store sums it into an
	// existing row on conflict.
	persisted, err := e.coord.AddCartLine(ctx, line, fullCart)
	if err != nil {
		e.rollbackCart(prev, applied.ID, fmt.Sprintf("failed to add %s", line.Product.Name))
		return domain.CartLine{}, fmt.Errorf("add to cart: %w", err)
	}
	e.invalidateCache()

	// Reconcile the provisional id (and any server-side quantity) in place.
	e.mu.Lock()
	if !e.closed {
		if idx := domain.FindLine(e.lines, line.ProductID, line.VariantID); idx >= 0 {
			e.lines[idx].ID = persisted.ID
			if persisted.Quantity > 0 {
				e.lines[idx].Quantity = persisted.Quantity
			}
			applied = e.lines[idx]
		}
	}
	e.mu.Unlock()
	e.publish()
	return applied, nil
}

// UpdateQuantity sets a line's quantity. A value of zero or less removes the
// line; values above the cap are clamped.
func (e *Engine) UpdateQuantity(ctx context.Context, lineID string, quantity int) error {
	if quantity <= 0 {
		return e.RemoveFromCart(ctx, lineID)
	}
	quantity = domain.ClampQuantity(quantity)

	e.mu.Lock()
	idx := domain.FindLineByID(e.lines, lineID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrLineNotFound
	}
	key := itemKey(e.lines[idx].ProductID, e.lines[idx].VariantID)
	e.mu.Unlock()

	unlock := e.lineLocks.lock(key)
	defer unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	idx = domain.FindLineByID(e.lines, lineID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrLineNotFound
	}
	prev := domain.CloneLines(e.lines)
	e.lines[idx].Quantity = quantity
	name := e.lines[idx].Product.Name
	fullCart := domain.CloneLines(e.lines)
	e.mu.Unlock()
	e.publish()

	if err := e.coord.UpdateCartQuantity(ctx, lineID, quantity, fullCart); err != nil {
		e.rollbackCart(prev, lineID, fmt.Sprintf("failed to update %s", name))
		return fmt.Errorf("update quantity: %w", err)
	}
	e.invalidateCache()
	return nil
}

// RemoveFromCart removes a line and hands it to the undo slot. The deletion is
// persisted immediately; restore re-issues an add.
func (e *Engine) RemoveFromCart(ctx context.Context, lineID string) error {
	e.mu.Lock()
	idx := domain.FindLineByID(e.lines, lineID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrLineNotFound
	}
	key := itemKey(e.lines[idx].ProductID, e.lines[idx].VariantID)
	e.mu.Unlock()

	unlock := e.lineLocks.lock(key)
	defer unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	idx = domain.FindLineByID(e.lines, lineID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrLineNotFound
	}
	prev := domain.CloneLines(e.lines)
	removed := e.lines[idx]
	e.lines = append(e.lines[:idx], e.lines[idx+1:]...)
	fullCart := domain.CloneLines(e.lines)
	e.mu.Unlock()
	e.publish()

	if err := e.coord.RemoveCartLine(ctx, lineID, fullCart); err != nil {
		e.rollbackCart(prev, lineID, fmt.Sprintf("failed to remove %s", removed.Product.Name))
		return fmt.Errorf("remove from cart: %w", err)
	}
	e.invalidateCache()

	e.undo.hold(UndoItem{Collection: domain.CollectionCart, Line: removed})
	return nil
}

// UndoRemove restores the pending soft-deleted item. After the undo window it
// is a no-op returning ErrNoPendingUndo.
func (e *Engine) UndoRemove(ctx context.Context) error {
	item, ok := e.undo.take()
	if !ok {
		return ErrNoPendingUndo
	}

	switch item.Collection {
	case domain.CollectionWishlist:
		_, err := e.addWishlistEntry(ctx, item.Entry)
		return err
	default:
		_, err := e.addLine(ctx, item.Line)
		return err
	}
}

// CancelUndo finalizes the pending deletion without restoring it.
func (e *Engine) CancelUndo() {
	e.undo.cancel()
}

// WishlistItem is the toggle boundary payload.
type WishlistItem struct {
	ProductID      string                 `json:"product_id"`
	UnitPriceCents int64                  `json:"unit_price_cents"`
	Product        domain.ProductSnapshot `json:"product"`
}

// ToggleWishlist adds the product when absent and removes it when present,
// returning whether the item is now in the wishlist.
func (e *Engine) ToggleWishlist(ctx context.Context, item WishlistItem) (bool, error) {
	entry := domain.WishlistEntry{
		ID:             item.ProductID,
		ProductID:      item.ProductID,
		UnitPriceCents: item.UnitPriceCents,
		Product:        item.Product,
		AddedAt:        time.Now().UTC(),
	}
	if err := entry.Validate(); err != nil {
		return false, validationErr(err.Error())
	}

	unlock := e.lineLocks.lock(itemKey(item.ProductID, ""))
	defer unlock()

	e.mu.Lock()
	present := domain.FindEntry(e.wishlist, item.ProductID) >= 0
	e.mu.Unlock()

	if present {
		return false, e.removeWishlistEntry(ctx, item.ProductID)
	}
	_, err := e.addWishlistEntry(ctx, entry)
	return err == nil, err
}

func (e *Engine) addWishlistEntry(ctx context.Context, entry domain.WishlistEntry) (domain.WishlistEntry, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.WishlistEntry{}, ErrClosed
	}
	prev := domain.CloneEntries(e.wishlist)
	if domain.FindEntry(e.wishlist, entry.ProductID) < 0 {
		e.wishlist = append(e.wishlist, entry)
	}
	fullWishlist := domain.CloneEntries(e.wishlist)
	e.mu.Unlock()
	e.publish()

	persisted, err := e.coord.AddWishlistEntry(ctx, entry, fullWishlist)
	if err != nil {
		e.rollbackWishlist(prev, entry.ProductID, fmt.Sprintf("failed to save %s", entry.Product.Name))
		return domain.WishlistEntry{}, fmt.Errorf("add to wishlist: %w", err)
	}
	return persisted, nil
}

func (e *Engine) removeWishlistEntry(ctx context.Context, productID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	idx := domain.FindEntry(e.wishlist, productID)
	if idx < 0 {
		e.mu.Unlock()
		return nil
	}
	prev := domain.CloneEntries(e.wishlist)
	removed := e.wishlist[idx]
	e.wishlist = append(e.wishlist[:idx], e.wishlist[idx+1:]...)
	fullWishlist := domain.CloneEntries(e.wishlist)
	e.mu.Unlock()
	e.publish()

	if err := e.coord.RemoveWishlistEntry(ctx, productID, fullWishlist); err != nil {
		e.rollbackWishlist(prev, productID, fmt.Sprintf("failed to remove %s", removed.Product.Name))
		return fmt.Errorf("remove from wishlist: %w", err)
	}

	e.undo.hold(UndoItem{Collection: domain.CollectionWishlist, Entry: removed})
	return nil
}

func (e *Engine) IsInWishlist(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.FindEntry(e.wishlist, productID) >= 0
}

func (e *Engine) Wishlist() []domain.WishlistEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.CloneEntries(e.wishlist)
}

// ApplyDiscount validates the code against the current subtotal and stores the
// amount off for totals. Cart state is untouched on rejection. The amount is
// not re-validated when the cart changes afterwards; re-applying is the
// caller's call.
func (e *Engine) ApplyDiscount(ctx context.Context, code string) (int64, error) {
	if e.discount == nil {
		return 0, fmt.Errorf("no discount validator configured")
	}
	if code == "" {
		return 0, validationErr("discount code is required")
	}

	subtotal := e.Totals().SubtotalCents
	amountOff, err := e.discount.Validate(ctx, code, subtotal)
	if err != nil {
		return 0, fmt.Errorf("apply discount: %w", err)
	}
	if amountOff < 0 {
		amountOff = 0
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	e.discountCents = amountOff
	e.mu.Unlock()
	e.publish()
	return amountOff, nil
}

// CreateCheckout re-validates the promo code and hands the cart off to the
// external checkout initiator. Guests must sign in first.
func (e *Engine) CreateCheckout(ctx context.Context, promoCode string) error {
	if e.checkout == nil {
		return fmt.Errorf("no checkout initiator configured")
	}

	identity := e.coord.Identity()
	if identity.IsGuest() {
		return ErrNotAuthenticated
	}

	e.mu.Lock()
	lines := domain.CloneLines(e.lines)
	discount := e.discountCents
	e.mu.Unlock()

	if len(lines) == 0 {
		return validationErr("cart is empty, nothing to checkout")
	}

	if promoCode != "" && e.discount != nil {
		amountOff, err := e.discount.Validate(ctx, promoCode, pricing.Compute(lines, 0).SubtotalCents)
		if err != nil {
			return fmt.Errorf("create checkout: %w", err)
		}
		discount = amountOff
	}

	req := CheckoutRequest{
		UserID:    identity.UserID,
		PromoCode: promoCode,
		Lines:     lines,
		Totals:    pricing.Compute(lines, discount),
	}
	if err := e.checkout.Initiate(ctx, req); err != nil {
		return fmt.Errorf("create checkout: %w", err)
	}
	return nil
}

// Refetch re-reads the active backing store. Authenticated reads go through
// the cache with singleflight so concurrent refetches do not stampede the
// backend.
func (e *Engine) Refetch(ctx context.Context) error {
	e.setLoading(true)
	defer e.setLoading(false)

	identity := e.coord.Identity()

	var lines []domain.CartLine
	var err error
	if !identity.IsGuest() && e.cache != nil {
		lines, err = e.fetchCartCached(ctx, identity.UserID)
	} else {
		lines, err = e.coord.LoadCart(ctx)
	}
	if err != nil {
		return fmt.Errorf("refetch cart: %w", err)
	}

	wishlist, err := e.coord.LoadWishlist(ctx)
	if err != nil {
		return fmt.Errorf("refetch wishlist: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.lines = lines
	e.wishlist = wishlist
	e.mu.Unlock()
	e.publish()
	return nil
}

func (e *Engine) fetchCartCached(ctx context.Context, userID string) ([]domain.CartLine, error) {
	v, err, _ := e.sfg.Do(userID, func() (interface{}, error) {
		cached, cerr := e.cache.Get(ctx, userID)
		if cerr == nil {
			return cached, nil
		}
		if !errors.Is(cerr, cache.ErrCacheMiss) {
			e.log.Warn("cart cache get failed", "error", cerr)
		}

		fresh, lerr := e.coord.LoadCart(ctx)
		if lerr != nil {
			return nil, lerr
		}

		go func() {
			if serr := e.cache.Set(context.Background(), userID, fresh); serr != nil {
				e.log.Warn("cart cache set failed", "error", serr)
			}
		}()

		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.CartLine), nil
}

// SignIn runs the identity transition (merging guest data) and reloads state
// from the remote store. A partial merge error is returned after the reload so
// callers can offer a retry; the state shown is still the merged remote truth.
func (e *Engine) SignIn(ctx context.Context, userID string) error {
	if userID == "" {
		return validationErr("user id is required")
	}

	mergeErr := e.coord.SignIn(ctx, userID)
	e.invalidateCache()

	if err := e.Refetch(ctx); err != nil {
		return err
	}
	return mergeErr
}

// SignOut returns to a clean guest session: remote data stays put, previous
// guest storage is not reloaded, and in-memory state is reset.
func (e *Engine) SignOut() {
	e.coord.SignOut()
	e.undo.cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.lines = nil
	e.wishlist = nil
	e.discountCents = 0
	e.lineErrs = map[string]string{}
	e.mu.Unlock()
	e.publish()
}

// RetryMerge re-runs the merge for leftovers from a partially failed sign-in.
func (e *Engine) RetryMerge(ctx context.Context) error {
	if err := e.coord.RetryMerge(ctx); err != nil {
		return err
	}
	e.invalidateCache()
	return e.Refetch(ctx)
}

// rollbackCart restores the pre-mutation snapshot and records a per-line
// error that auto-clears after the error window.
func (e *Engine) rollbackCart(prev []domain.CartLine, lineID, msg string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.lines = prev
	e.setLineErrLocked(lineID, msg)
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) rollbackWishlist(prev []domain.WishlistEntry, productID, msg string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wishlist = prev
	e.setLineErrLocked(productID, msg)
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) setLineErrLocked(id, msg string) {
	e.lineErrs[id] = msg
	time.AfterFunc(e.errTTL, func() {
		e.mu.Lock()
		if e.closed || e.lineErrs[id] != msg {
			e.mu.Unlock()
			return
		}
		delete(e.lineErrs, id)
		e.mu.Unlock()
		e.publish()
	})
}

func (e *Engine) setLoading(v bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.loading = v
	e.mu.Unlock()
	e.publish()
}

// invalidateCache drops the cached remote cart after a successful mutation.
func (e *Engine) invalidateCache() {
	identity := e.coord.Identity()
	if identity.IsGuest() || e.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.cache.Delete(ctx, identity.UserID); err != nil {
		e.log.Warn("cart cache invalidate failed", "error", err)
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	var lineErrs map[string]string
	if len(e.lineErrs) > 0 {
		lineErrs = make(map[string]string, len(e.lineErrs))
		for k, v := range e.lineErrs {
			lineErrs[k] = v
		}
	}
	return Snapshot{
		Lines:      domain.CloneLines(e.lines),
		Wishlist:   domain.CloneEntries(e.wishlist),
		Totals:     pricing.Compute(e.lines, e.discountCents),
		Loading:    e.loading,
		LineErrors: lineErrs,
		Undo:       e.undo.state(),
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	if e.closed || len(e.observers) == 0 {
		e.mu.Unlock()
		return
	}
	snap := e.snapshotLocked()
	observers := make([]func(Snapshot), 0, len(e.observers))
	for _, fn := range e.observers {
		observers = append(observers, fn)
	}
	e.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func itemKey(productID, variantID string) string {
	return productID + "|" + variantID
}

// keyedLocks hands out one mutex per logical item key. Entries are
// reference-counted and evicted once the last holder releases, so the map only
// holds keys with an active or waiting mutation.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*keyedLock{}
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
