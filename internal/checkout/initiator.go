// Package checkout connects the engine to the external checkout flow over
// kafka: an initiator publishes checkout requests, and a poller consumes
// completion events to empty the purchased cart.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/engine"
)

const (
	DefaultRequestTopic   = "checkout-requested"
	DefaultCompletedTopic = "checkout-completed"
)

// Initiator publishes checkout requests; the checkout service takes it from
// there. The engine never learns the outcome directly, it hears about
// completion through the poller.
type Initiator struct {
	writer *kafka.Writer
}

func NewInitiator(topic string, brokers ...string) *Initiator {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Initiator{writer: w}
}

func (i *Initiator) Initiate(ctx context.Context, req engine.CheckoutRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal checkout request: %w", err)
	}

	err = i.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.UserID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish checkout request: %w", err)
	}
	return nil
}

func (i *Initiator) Close() error {
	return i.writer.Close()
}
