package notify

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sodazone/xcmon/pkg/xcm"
)

type recordingSink struct {
	seen []*xcm.Notification
	err  error
}

func (r *recordingSink) Notify(_ context.Context, n *xcm.Notification) error {
	r.seen = append(r.seen, n)
	return r.err
}

type fakeStreamer struct {
	streams  map[string][]map[string]interface{}
	channels map[string]int
	xaddErr  error
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{
		streams:  make(map[string][]map[string]interface{}),
		channels: make(map[string]int),
	}
}

func (f *fakeStreamer) XAdd(_ context.Context, stream string, values map[string]interface{}) (string, error) {
	if f.xaddErr != nil {
		return "", f.xaddErr
	}
	f.streams[stream] = append(f.streams[stream], values)
	return fmt.Sprintf("%d-0", len(f.streams[stream])), nil
}

func (f *fakeStreamer) Publish(_ context.Context, channel string, _ interface{}) {
	f.channels[channel]++
}

func sampleNotification() *xcm.Notification {
	return &xcm.Notification{
		ID:             "n-1",
		Kind:           xcm.NotifySent,
		SubscriptionID: "macatron",
		Waypoint:       xcm.Waypoint{ChainID: "urn:ocn:local:1000", BlockNumber: 7},
		MessageHash:    "0xcafe",
	}
}

func TestHubFansOutToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	hub := NewHub(zaptest.NewLogger(t), a, b)

	require.NoError(t, hub.Notify(context.Background(), sampleNotification()))
	assert.Len(t, a.seen, 1)
	assert.Len(t, b.seen, 1)
}

func TestHubContinuesPastFailingSink(t *testing.T) {
	failing := &recordingSink{err: fmt.Errorf("boom")}
	healthy := &recordingSink{}
	hub := NewHub(zaptest.NewLogger(t), failing, healthy)

	err := hub.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Len(t, healthy.seen, 1, "healthy sink must still receive the notification")
}

func TestStreamNotifierAppendsAndBroadcasts(t *testing.T) {
	streamer := newFakeStreamer()
	sink := NewStreamNotifier(streamer)

	require.NoError(t, sink.Notify(context.Background(), sampleNotification()))

	entries := streamer.streams[StreamName("macatron")]
	require.Len(t, entries, 1)
	assert.Equal(t, "n-1", entries[0]["id"])
	assert.Equal(t, string(xcm.NotifySent), entries[0]["type"])
	assert.NotEmpty(t, entries[0]["data"])
	assert.Equal(t, 1, streamer.channels[NotifyChannel])
}

func TestStreamNotifierPropagatesXAddError(t *testing.T) {
	streamer := newFakeStreamer()
	streamer.xaddErr = fmt.Errorf("stream full")
	sink := NewStreamNotifier(streamer)

	require.Error(t, sink.Notify(context.Background(), sampleNotification()))
}

func TestLogNotifierNeverFails(t *testing.T) {
	sink := NewLogNotifier(zaptest.NewLogger(t))
	n := sampleNotification()
	n.Counterpart = &xcm.Waypoint{ChainID: "urn:ocn:local:2000"}
	n.Outcome = xcm.OutcomeSuccess
	require.NoError(t, sink.Notify(context.Background(), n))
}
