package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sodazone/xcmon/pkg/xcm"
)

// NotifyStreamPrefix prefixes the per-subscription notification streams.
const NotifyStreamPrefix = "S:NOTIFY:"

// NotifyChannel is the Pub/Sub broadcast channel carrying every notification.
const NotifyChannel = "xcmon:notify"

// Streamer is the subset of the Redis client the stream sink uses.
type Streamer interface {
	XAdd(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	Publish(ctx context.Context, channel string, message interface{})
}

// StreamNotifier appends each notification to its subscription's Redis stream
// and broadcasts it on the shared Pub/Sub channel.
type StreamNotifier struct {
	streamer Streamer
}

func NewStreamNotifier(streamer Streamer) *StreamNotifier {
	return &StreamNotifier{streamer: streamer}
}

// StreamName returns the stream key of a subscription.
func StreamName(subscriptionID string) string {
	return NotifyStreamPrefix + subscriptionID
}

func (s *StreamNotifier) Notify(ctx context.Context, n *xcm.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", n.ID, err)
	}
	values := map[string]interface{}{
		"id":   n.ID,
		"type": string(n.Kind),
		"data": payload,
	}
	if _, err := s.streamer.XAdd(ctx, StreamName(n.SubscriptionID), values); err != nil {
		return fmt.Errorf("append notification %s: %w", n.ID, err)
	}
	s.streamer.Publish(ctx, NotifyChannel, payload)
	return nil
}
