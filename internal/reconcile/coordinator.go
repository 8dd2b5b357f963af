// Package reconcile routes every cart/wishlist persistence call to the store
// that owns the current identity and performs the one-time guest merge when a
// shopper signs in.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/localstore"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
)

// Coordinator is the single entry point for persistence. Guests read and write
// device-local storage; authenticated identities read and write the remote
// store. No operation touches both outside the merge pass.
//
// Identity transitions take the write lock, so a merge excludes in-flight
// mutations and a second transition queues behind a running merge instead of
// double-summing quantities.
type Coordinator struct {
	mu       sync.RWMutex
	identity domain.Identity

	local  localstore.Store
	remote remotestore.Store
	log    *slog.Logger
}

func NewCoordinator(local localstore.Store, remote remotestore.Store, log *slog.Logger) *Coordinator {
	return &Coordinator{
		local:  local,
		remote: remote,
		log:    log,
	}
}

func (c *Coordinator) Identity() domain.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SignIn switches to the authenticated identity and merges any guest data into
// the remote store. A merge error leaves the failed guest lines in local
// storage; the identity transition itself still happens, and RetryMerge (or
// the next sign-in) picks the leftovers up.
func (c *Coordinator) SignIn(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity.UserID == userID {
		return nil
	}

	wasGuest := c.identity.IsGuest()
	c.identity = domain.Authenticated(userID)

	if !wasGuest {
		return nil
	}
	return c.merge(ctx, userID)
}

// SignOut returns to a fresh guest session. Remote data is left alone and
// previous guest storage is not reloaded.
func (c *Coordinator) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = domain.Guest
}

// RetryMerge re-runs the merge pass for the current authenticated identity.
// Safe to call when guest storage is already empty.
func (c *Coordinator) RetryMerge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity.IsGuest() {
		return fmt.Errorf("cannot merge while anonymous")
	}
	return c.merge(ctx, c.identity.UserID)
}

func (c *Coordinator) LoadCart(ctx context.Context) ([]domain.CartLine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		return c.local.LoadCart(ctx)
	}
	return c.remote.ListCart(ctx, c.identity.UserID)
}

func (c *Coordinator) LoadWishlist(ctx context.Context) ([]domain.WishlistEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		return c.local.LoadWishlist(ctx)
	}
	return c.remote.ListWishlist(ctx, c.identity.UserID)
}

// AddCartLine persists an add. line carries the quantity delta; fullCart is
// the caller's post-mutation cart, which is what guest storage writes. The
// returned line is the applied one: summed quantity and the existing id on a
// duplicate add, the server-assigned id on an authenticated insert.
func (c *Coordinator) AddCartLine(ctx context.Context, line domain.CartLine, fullCart []domain.CartLine) (domain.CartLine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		if err := c.local.SaveCart(ctx, fullCart); err != nil {
			return domain.CartLine{}, err
		}
		// On a duplicate add the applied line lives in fullCart, not in the
		// delta; returning the delta would hand back a stale id and quantity.
		if idx := domain.FindLine(fullCart, line.ProductID, line.VariantID); idx >= 0 {
			return fullCart[idx], nil
		}
		return line, nil
	}
	return c.upsertRemoteLine(ctx, c.identity.UserID, line)
}

// upsertRemoteLine inserts, converting a uniqueness conflict into a quantity
// update on the existing row. Conflicts never surface to callers.
func (c *Coordinator) upsertRemoteLine(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error) {
	inserted, err := c.remote.InsertCartLine(ctx, userID, line)
	if err == nil {
		return inserted, nil
	}
	if !isConflict(err) {
		return domain.CartLine{}, err
	}

	existing, err := c.remote.GetCartLine(ctx, userID, line.ProductID, line.VariantID)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("resolve cart conflict: %w", err)
	}

	q := domain.ClampQuantity(existing.Quantity + line.Quantity)
	if err := c.remote.UpdateCartQuantity(ctx, userID, existing.ID, q); err != nil {
		return domain.CartLine{}, fmt.Errorf("resolve cart conflict: %w", err)
	}
	existing.Quantity = q
	return existing, nil
}

func (c *Coordinator) UpdateCartQuantity(ctx context.Context, lineID string, quantity int, fullCart []domain.CartLine) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		return c.local.SaveCart(ctx, fullCart)
	}
	return c.remote.UpdateCartQuantity(ctx, c.identity.UserID, lineID, quantity)
}

func (c *Coordinator) RemoveCartLine(ctx context.Context, lineID string, fullCart []domain.CartLine) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		return c.local.SaveCart(ctx, fullCart)
	}
	return c.remote.DeleteCartLine(ctx, c.identity.UserID, lineID)
}

func (c *Coordinator) AddWishlistEntry(ctx context.Context, entry domain.WishlistEntry, fullWishlist []domain.WishlistEntry) (domain.WishlistEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		return entry, c.local.SaveWishlist(ctx, fullWishlist)
	}

	inserted, err := c.remote.InsertWishlistEntry(ctx, c.identity.UserID, entry)
	if isConflict(err) {
		// Already saved; toggling on is idempotent.
		return entry, nil
	}
	return inserted, err
}

func (c *Coordinator) RemoveWishlistEntry(ctx context.Context, productID string, fullWishlist []domain.WishlistEntry) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.identity.IsGuest() {
		return c.local.SaveWishlist(ctx, fullWishlist)
	}
	return c.remote.DeleteWishlistEntry(ctx, c.identity.UserID, productID)
}
