package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
)

// merge folds guest-local data into the remote store. Both carts represent
// genuine purchase intent, so quantities for the same (product, variant) are
// summed and capped rather than one side winning. Lines whose remote write
// fails stay in guest storage for a later retry; lines that succeeded are
// cleared, and a rerun is a no-op thanks to the conflict-to-update rule.
//
// Callers must hold c.mu.
func (c *Coordinator) merge(ctx context.Context, userID string) error {
	remoteCart, err := c.remote.ListCart(ctx, userID)
	if err != nil {
		return fmt.Errorf("merge: list remote cart: %w", err)
	}
	remoteWishlist, err := c.remote.ListWishlist(ctx, userID)
	if err != nil {
		return fmt.Errorf("merge: list remote wishlist: %w", err)
	}

	guestCart, _ := c.local.LoadCart(ctx)
	guestWishlist, _ := c.local.LoadWishlist(ctx)

	if len(guestCart) == 0 && len(guestWishlist) == 0 {
		return nil
	}

	var errs []error

	var failedLines []domain.CartLine
	for _, g := range guestCart {
		if err := c.mergeCartLine(ctx, userID, remoteCart, g); err != nil {
			c.log.Warn("merge: cart line failed, keeping in guest storage",
				"product_id", g.ProductID, "variant_id", g.VariantID, "error", err)
			failedLines = append(failedLines, g)
			errs = append(errs, err)
		}
	}

	var failedEntries []domain.WishlistEntry
	for _, g := range guestWishlist {
		if domain.FindEntry(remoteWishlist, g.ProductID) >= 0 {
			// Wishlist has no quantity to merge; the remote entry stands.
			continue
		}
		if _, err := c.remote.InsertWishlistEntry(ctx, userID, g); err != nil && !isConflict(err) {
			c.log.Warn("merge: wishlist entry failed, keeping in guest storage",
				"product_id", g.ProductID, "error", err)
			failedEntries = append(failedEntries, g)
			errs = append(errs, err)
		}
	}

	c.settleGuestCart(ctx, failedLines)
	c.settleGuestWishlist(ctx, failedEntries)

	if len(errs) > 0 {
		return fmt.Errorf("merge finished with %d failed items: %w", len(errs), errors.Join(errs...))
	}

	c.log.Info("guest data merged", "user_id", userID,
		"cart_lines", len(guestCart), "wishlist_entries", len(guestWishlist))
	return nil
}

func (c *Coordinator) mergeCartLine(ctx context.Context, userID string, remoteCart []domain.CartLine, g domain.CartLine) error {
	if idx := domain.FindLine(remoteCart, g.ProductID, g.VariantID); idx >= 0 {
		q := domain.ClampQuantity(remoteCart[idx].Quantity + g.Quantity)
		return c.remote.UpdateCartQuantity(ctx, userID, remoteCart[idx].ID, q)
	}

	// New remote line carries over the captured price, snapshots and AddedAt.
	_, err := c.remote.InsertCartLine(ctx, userID, g)
	if isConflict(err) {
		// Row appeared since the list; fold into it.
		existing, e2 := c.remote.GetCartLine(ctx, userID, g.ProductID, g.VariantID)
		if e2 != nil {
			return e2
		}
		return c.remote.UpdateCartQuantity(ctx, userID, existing.ID,
			domain.ClampQuantity(existing.Quantity+g.Quantity))
	}
	return err
}

// settleGuestCart clears migrated lines; only failures are written back.
// Local write errors are logged and swallowed, local storage is a cache here.
func (c *Coordinator) settleGuestCart(ctx context.Context, failed []domain.CartLine) {
	var err error
	if len(failed) == 0 {
		err = c.local.Clear(ctx, domain.CollectionCart)
	} else {
		err = c.local.SaveCart(ctx, failed)
	}
	if err != nil {
		c.log.Warn("merge: failed to settle guest cart storage", "error", err)
	}
}

func (c *Coordinator) settleGuestWishlist(ctx context.Context, failed []domain.WishlistEntry) {
	var err error
	if len(failed) == 0 {
		err = c.local.Clear(ctx, domain.CollectionWishlist)
	} else {
		err = c.local.SaveWishlist(ctx, failed)
	}
	if err != nil {
		c.log.Warn("merge: failed to settle guest wishlist storage", "error", err)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, remotestore.ErrConflict)
}
