package domain

// Identity is the owner of the in-memory cart and wishlist. The zero value is
// a guest: no server identity, data lives in device-local storage only.
type Identity struct {
	UserID string
}

// Guest is the anonymous identity.
var Guest = Identity{}

// Authenticated builds the identity for a signed-in user.
func Authenticated(userID string) Identity {
	return Identity{UserID: userID}
}

func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// Collection names a logical cart or wishlist store.
type Collection string

const (
	CollectionCart     Collection = "cart"
	CollectionWishlist Collection = "wishlist"
)
