// Package publisher announces uploaded archive batches on a message topic.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/mediaharvest/internal/compactor"
)

// Publisher pushes a JSON-encodable payload to a topic and returns the
// message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier adapts a Publisher to compactor.Notifier.
type Notifier struct {
	pub   Publisher
	topic string
}

// NewNotifier publishes BatchUploaded messages to topic.
func NewNotifier(pub Publisher, topic string) (*Notifier, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &Notifier{pub: pub, topic: topic}, nil
}

// BatchUploaded implements compactor.Notifier.
func (n *Notifier) BatchUploaded(ctx context.Context, msg compactor.BatchUploaded) error {
	if _, err := n.pub.Publish(ctx, n.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Archive, err)
	}
	return nil
}
