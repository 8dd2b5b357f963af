package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
)

var errBackendDown = errors.New("backend unavailable")

type mockLocalStore struct {
	m        sync.Mutex
	cart     []domain.CartLine
	wishlist []domain.WishlistEntry
	err      error
}

func (s *mockLocalStore) LoadCart(context.Context) ([]domain.CartLine, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return domain.CloneLines(s.cart), nil
}

func (s *mockLocalStore) SaveCart(_ context.Context, lines []domain.CartLine) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cart = domain.CloneLines(lines)
	return nil
}

func (s *mockLocalStore) LoadWishlist(context.Context) ([]domain.WishlistEntry, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return domain.CloneEntries(s.wishlist), nil
}

func (s *mockLocalStore) SaveWishlist(_ context.Context, entries []domain.WishlistEntry) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	s.wishlist = domain.CloneEntries(entries)
	return nil
}

func (s *mockLocalStore) Clear(_ context.Context, collection domain.Collection) error {
	s.m.Lock()
	defer s.m.Unlock()
	switch collection {
	case domain.CollectionCart:
		s.cart = nil
	case domain.CollectionWishlist:
		s.wishlist = nil
	}
	return nil
}

func (s *mockLocalStore) setErr(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.err = err
}

type mockRemoteStore struct {
	m      sync.Mutex
	carts  map[string][]domain.CartLine
	wishes map[string][]domain.WishlistEntry
	err    error
}

func newMockRemoteStore() *mockRemoteStore {
	return &mockRemoteStore{
		carts:  map[string][]domain.CartLine{},
		wishes: map[string][]domain.WishlistEntry{},
	}
}

func (s *mockRemoteStore) setErr(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.err = err
}

func (s *mockRemoteStore) ListCart(_ context.Context, userID string) ([]domain.CartLine, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return domain.CloneLines(s.carts[userID]), nil
}

func (s *mockRemoteStore) GetCartLine(_ context.Context, userID, productID, variantID string) (domain.CartLine, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if idx := domain.FindLine(s.carts[userID], productID, variantID); idx >= 0 {
		return s.carts[userID][idx], nil
	}
	return domain.CartLine{}, remotestore.ErrNotFound
}

func (s *mockRemoteStore) InsertCartLine(_ context.Context, userID string, line domain.CartLine) (domain.CartLine, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return domain.CartLine{}, s.err
	}
	if domain.FindLine(s.carts[userID], line.ProductID, line.VariantID) >= 0 {
		return domain.CartLine{}, remotestore.ErrConflict
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	s.carts[userID] = append(s.carts[userID], line)
	return line, nil
}

func (s *mockRemoteStore) UpdateCartQuantity(_ context.Context, userID, lineID string, quantity int) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	idx := domain.FindLineByID(s.carts[userID], lineID)
	if idx < 0 {
		return remotestore.ErrNotFound
	}
	s.carts[userID][idx].Quantity = quantity
	return nil
}

func (s *mockRemoteStore) DeleteCartLine(_ context.Context, userID, lineID string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	lines := s.carts[userID]
	idx := domain.FindLineByID(lines, lineID)
	if idx < 0 {
		return remotestore.ErrNotFound
	}
	s.carts[userID] = append(lines[:idx], lines[idx+1:]...)
	return nil
}

func (s *mockRemoteStore) ClearCart(_ context.Context, userID string) error {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.carts, userID)
	return nil
}

func (s *mockRemoteStore) ListWishlist(_ context.Context, userID string) ([]domain.WishlistEntry, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return domain.CloneEntries(s.wishes[userID]), nil
}

func (s *mockRemoteStore) InsertWishlistEntry(_ context.Context, userID string, entry domain.WishlistEntry) (domain.WishlistEntry, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return domain.WishlistEntry{}, s.err
	}
	if domain.FindEntry(s.wishes[userID], entry.ProductID) >= 0 {
		return domain.WishlistEntry{}, remotestore.ErrConflict
	}
	entry.ID = entry.ProductID
	s.wishes[userID] = append(s.wishes[userID], entry)
	return entry, nil
}

func (s *mockRemoteStore) DeleteWishlistEntry(_ context.Context, userID, productID string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.err != nil {
		return s.err
	}
	entries := s.wishes[userID]
	idx := domain.FindEntry(entries, productID)
	if idx < 0 {
		return remotestore.ErrNotFound
	}
	s.wishes[userID] = append(entries[:idx], entries[idx+1:]...)
	return nil
}

type mockDiscount struct {
	amountOff int64
	err       error
	lastCode  string
}

func (d *mockDiscount) Validate(_ context.Context, code string, _ int64) (int64, error) {
	d.lastCode = code
	if d.err != nil {
		return 0, d.err
	}
	return d.amountOff, nil
}

type mockCheckout struct {
	m    sync.Mutex
	reqs []CheckoutRequest
	err  error
}

func (c *mockCheckout) Initiate(_ context.Context, req CheckoutRequest) error {
	c.m.Lock()
	defer c.m.Unlock()
	if c.err != nil {
		return c.err
	}
	c.reqs = append(c.reqs, req)
	return nil
}
