// Package remotestore persists the authenticated user's cart and wishlist in
// the backend's cart_items and wishlist_items tables. Every operation is
// scoped by user id; row-level authorization on the backend is the safety net,
// not a substitute for the scoping here.
package remotestore

import (
	"context"
	"errors"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
)

var (
	// ErrConflict means an insert hit the per-user uniqueness constraint.
	// Callers recover by updating the existing row instead.
	ErrConflict = errors.New("row already exists for this user and product")
	ErrNotFound = errors.New("row not found")
)

// Store defines the remote adapter the coordinator routes to for
// authenticated identities.
type Store interface {
	ListCart(ctx context.Context, userID string) ([]domain.CartLine, error)
	// GetCartLine looks up the row for (userID, productID, variantID); used to
	// resolve ErrConflict into a quantity update.
	GetCartLine(ctx context.Context, userID, productID, variantID string) (domain.CartLine, error)
	// InsertCartLine returns the persisted line. The caller's id is kept when
	// set; otherwise the store assigns one.
	InsertCartLine(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error)
	UpdateCartQuantity(ctx context.Context, userID, lineID string, quantity int) error
	DeleteCartLine(ctx context.Context, userID, lineID string) error
	// ClearCart removes every line; fired by checkout completion.
	ClearCart(ctx context.Context, userID string) error

	ListWishlist(ctx context.Context, userID string) ([]domain.WishlistEntry, error)
	InsertWishlistEntry(ctx context.Context, userID string, entry domain.WishlistEntry) (domain.WishlistEntry, error)
	DeleteWishlistEntry(ctx context.Context, userID, productID string) error
}
