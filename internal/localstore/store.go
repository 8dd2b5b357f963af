// Package localstore persists the guest cart and wishlist in device-local
// storage. Each logical collection is written under a primary key plus zero or
// more compatibility mirror keys that legacy readers still consume; every save
// writes all of them identically so the mirrors never drift.
package localstore

import (
	"context"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
)

// Store is the device-local adapter. Reads of missing or corrupt data return
// an empty list; callers treat write failures as non-fatal because local
// storage stops being the source of truth once the user signs in.
type Store interface {
	LoadCart(ctx context.Context) ([]domain.CartLine, error)
	SaveCart(ctx context.Context, lines []domain.CartLine) error
	LoadWishlist(ctx context.Context) ([]domain.WishlistEntry, error)
	SaveWishlist(ctx context.Context, entries []domain.WishlistEntry) error
	Clear(ctx context.Context, collection domain.Collection) error
}

// Keys maps a collection to its storage keys. The first mirror-aware readers
// of the wishlist predate the cart engine, hence the default compatibility key.
type Keys struct {
	CartPrimary     string
	CartMirrors     []string
	WishlistPrimary string
	WishlistMirrors []string
}

// DefaultKeys matches the layout legacy storefront readers expect.
func DefaultKeys() Keys {
	return Keys{
		CartPrimary:     "vlanco_cart",
		WishlistPrimary: "vlanco_wishlist",
		WishlistMirrors: []string{"vlanco_wishlist_items"},
	}
}

func (k Keys) keysFor(collection domain.Collection) []string {
	switch collection {
	case domain.CollectionCart:
		return append([]string{k.CartPrimary}, k.CartMirrors...)
	case domain.CollectionWishlist:
		return append([]string{k.WishlistPrimary}, k.WishlistMirrors...)
	}
	return nil
}
