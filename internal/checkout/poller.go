package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/cache"
	"github.com/Mhmdachkar/vlanco-cart-engine/internal/remotestore"
)

// messageReader is the slice of kafka.Reader the poller needs; tests inject a
// fake.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Poller consumes checkout-completed events and empties the purchased user's
// remote cart and cache. Checkout completion is the one cart destruction the
// engine does not initiate itself.
type Poller struct {
	remote remotestore.Store
	cache  cache.CartCache
	reader messageReader
	log    *slog.Logger
}

func NewPoller(remote remotestore.Store, c cache.CartCache, log *slog.Logger, topic string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultCompletedTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "cart-engine-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{remote: remote, cache: c, reader: reader, log: log}
}

func newPollerWithReader(remote remotestore.Store, c cache.CartCache, log *slog.Logger, reader messageReader) *Poller {
	return &Poller{remote: remote, cache: c, reader: reader, log: log}
}

// readBackoff paces the loop after a reader error so a closed reader or a
// broker outage does not spin.
const readBackoff = time.Second

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !p.consumeAndClearCart(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(readBackoff):
			}
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing checkout reader", "error", err)
	}
}

// consumeAndClearCart handles one message. It reports false only when the read
// itself failed; a consumed message counts as progress even if its payload is
// unusable.
func (p *Poller) consumeAndClearCart(ctx context.Context) bool {
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("error reading checkout event", "error", err)
		}
		return false
	}

	var payload map[string]interface{}
	if errUnmarshal := json.Unmarshal(m.Value, &payload); errUnmarshal != nil {
		p.log.Warn("error parsing checkout event", "error", errUnmarshal)
		return true
	}
	userID, ok := payload["user_id"].(string)
	if !ok || userID == "" {
		p.log.Warn("checkout event missing user_id")
		return true
	}

	if errClear := p.remote.ClearCart(ctx, userID); errClear != nil {
		p.log.Warn("failed to clear cart after checkout", "user_id", userID, "error", errClear)
		return true
	}

	if p.cache != nil {
		if errCache := p.cache.Delete(ctx, userID); errCache != nil {
			p.log.Warn("failed to invalidate cart cache after checkout", "user_id", userID, "error", errCache)
		}
	}
	p.log.Info("cart cleared after checkout", "user_id", userID)
	return true
}
