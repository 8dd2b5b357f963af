package cache

import (
	"context"
	"errors"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
)

// CartCache holds the authenticated user's cart lines between refetches.
// Consumers define this interface, not the Redis implementation.
type CartCache interface {
	Get(ctx context.Context, userID string) ([]domain.CartLine, error)
	Set(ctx context.Context, userID string, lines []domain.CartLine) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
