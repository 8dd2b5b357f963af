package domain

import (
	"errors"
	"time"
)

// WishlistEntry is keyed by product only; variants do not matter for saved
// items, so ID always equals ProductID.
type WishlistEntry struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	Product        ProductSnapshot `json:"product"`
	AddedAt        time.Time       `json:"added_at"`
}

func (e WishlistEntry) Validate() error {
	if e.ProductID == "" {
		return errors.New("product_id is required")
	}
	if e.Product.Name == "" {
		return ErrInvalidSnapshot
	}
	return nil
}

// FindEntry returns the index of the entry for productID, or -1.
func FindEntry(entries []WishlistEntry, productID string) int {
	for i, e := range entries {
		if e.ProductID == productID {
			return i
		}
	}
	return -1
}

func CloneEntries(entries []WishlistEntry) []WishlistEntry {
	if entries == nil {
		return nil
	}
	out := make([]WishlistEntry, len(entries))
	copy(out, entries)
	return out
}
