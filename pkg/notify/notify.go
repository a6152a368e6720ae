// Package notify delivers matching-engine notifications to downstream sinks.
// The hub fans a notification out to every configured sink; sink failures are
// independent, one broken sink does not starve the others.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/xcm"
)

// Sink is a single notification destination.
type Sink interface {
	Notify(ctx context.Context, n *xcm.Notification) error
}

// Hub fans notifications out to its sinks in order.
type Hub struct {
	logger *zap.Logger
	sinks  []Sink
}

// NewHub builds a hub over the given sinks.
func NewHub(logger *zap.Logger, sinks ...Sink) *Hub {
	return &Hub{logger: logger, sinks: sinks}
}

// AddSink registers an additional sink. Not safe for concurrent use with
// Notify; wire all sinks during startup.
func (h *Hub) AddSink(s Sink) {
	h.sinks = append(h.sinks, s)
}

// Notify delivers n to every sink and returns the joined failures, if any.
func (h *Hub) Notify(ctx context.Context, n *xcm.Notification) error {
	var errs []error
	for _, s := range h.sinks {
		if err := s.Notify(ctx, n); err != nil {
			h.logger.Error("Notification sink failed",
				zap.String("type", string(n.Kind)),
				zap.String("subscriptionId", n.SubscriptionID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
