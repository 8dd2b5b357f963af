package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
)

type mockLocalStore struct {
	m        sync.Mutex
	cart     []domain.CartLine
	wishlist []domain.WishlistEntry
	saveErr  error
}

func (s *mockLocalStore) LoadCart(context.Context) ([]domain.CartLine, error) {
	s.m.Lock()
	defer s.m.Unlock()
	return domain.CloneLines(s.cart), nil
}

func (s *mockLocalStore) SaveCart(_ context.Context, lines []domain.CartLine) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.saveErr != nil {
		return s.saveErr
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
	if s.saveErr != nil {
		return s.saveErr
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

type mockRemoteStore struct {
	m        sync.Mutex
	carts    map[string][]domain.CartLine
	wishes   map[string][]domain.WishlistEntry
	failFor  map[string]error // productID -> error injected on writes
	insertsN int
	updatesN int
}

func newMockRemoteStore() *mockRemoteStore {
	return &mockRemoteStore{
		carts:   map[string][]domain.CartLine{},
		wishes:  map[string][]domain.WishlistEntry{},
		failFor: map[string]error{},
	}
}

func (s *mockRemoteStore) ListCart(_ context.Context, userID string) ([]domain.CartLine, error) {
	s.m.Lock()
	defer s.m.Unlock()
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
	if err := s.failFor[line.ProductID]; err != nil {
		return domain.CartLine{}, err
	}
	if domain.FindLine(s.carts[userID], line.ProductID, line.VariantID) >= 0 {
		return domain.CartLine{}, remotestore.ErrConflict
	}
	if line.ID == "" {
		line.ID = uuid.NewString()
	}
	s.carts[userID] = append(s.carts[userID], line)
	s.insertsN++
	return line, nil
}

func (s *mockRemoteStore) UpdateCartQuantity(_ context.Context, userID, lineID string, quantity int) error {
	s.m.Lock()
	defer s.m.Unlock()
	idx := domain.FindLineByID(s.carts[userID], lineID)
	if idx < 0 {
		return remotestore.ErrNotFound
	}
	if err := s.failFor[s.carts[userID][idx].ProductID]; err != nil {
		return err
	}
	s.carts[userID][idx].Quantity = quantity
	s.updatesN++
	return nil
}

func (s *mockRemoteStore) DeleteCartLine(_ context.Context, userID, lineID string) error {
	s.m.Lock()
	defer s.m.Unlock()
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
	return domain.CloneEntries(s.wishes[userID]), nil
}

func (s *mockRemoteStore) InsertWishlistEntry(_ context.Context, userID string, entry domain.WishlistEntry) (domain.WishlistEntry, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err := s.failFor[entry.ProductID]; err != nil {
		return domain.WishlistEntry{}, err
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
	entries := s.wishes[userID]
	idx := domain.FindEntry(entries, productID)
	if idx < 0 {
		return remotestore.ErrNotFound
	}
	s.wishes[userID] = append(entries[:idx], entries[idx+1:]...)
	return nil
}

var errBackendDown = fmt.Errorf("backend unavailable")
