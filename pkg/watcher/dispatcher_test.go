package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sodazone/xcmon/pkg/retry"
	"github.com/sodazone/xcmon/pkg/xcm"
)

const (
	originChain = xcm.NetworkURN("urn:ocn:local:1000")
	destChain   = xcm.NetworkURN("urn:ocn:local:2000")
)

type recordingIngester struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]int // message hash -> remaining failures
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{failures: make(map[string]int)}
}

func (r *recordingIngester) record(kind, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.failures[hash]; n > 0 {
		r.failures[hash] = n - 1
		return fmt.Errorf("transient failure for %s", hash)
	}
	r.calls = append(r.calls, kind+":"+hash)
	return nil
}

func (r *recordingIngester) OnOutboundMessage(_ context.Context, msg *xcm.Sent) error {
	return r.record("out", msg.MessageHash)
}

func (r *recordingIngester) OnInboundMessage(_ context.Context, msg *xcm.Inbound) error {
	return r.record("in", msg.MessageHash)
}

func (r *recordingIngester) OnRelayedMessage(_ context.Context, _ string, msg *xcm.Relayed) error {
	return r.record("relay", msg.MessageHash)
}

func (r *recordingIngester) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func sentEvent(chain xcm.NetworkURN, hash string) *Event {
	return &Event{Sent: &xcm.Sent{
		SubscriptionID: "sub",
		Origin:         chain,
		Recipient:      destChain,
		MessageHash:    hash,
		Waypoint:       xcm.Waypoint{ChainID: chain},
	}}
}

func inboundEvent(chain xcm.NetworkURN, hash string) *Event {
	return &Event{Inbound: &xcm.Inbound{
		SubscriptionID: "sub",
		ChainID:        chain,
		MessageHash:    hash,
		Outcome:        xcm.OutcomeSuccess,
		Waypoint:       xcm.Waypoint{ChainID: chain},
	}}
}

func TestDispatchPreservesPerChainOrder(t *testing.T) {
	ingester := newRecordingIngester()
	d := NewDispatcher(zaptest.NewLogger(t), ingester, fastRetry())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, d.Dispatch(ctx, sentEvent(originChain, fmt.Sprintf("0x%02d", i))))
	}
	d.Close()

	calls := ingester.snapshot()
	require.Len(t, calls, 20)
	for i, c := range calls {
		assert.Equal(t, fmt.Sprintf("out:0x%02d", i), c)
	}
}

func TestDispatchRoutesAllSightingKinds(t *testing.T) {
	ingester := newRecordingIngester()
	d := NewDispatcher(zaptest.NewLogger(t), ingester, fastRetry())
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, sentEvent(originChain, "0xaa")))
	require.NoError(t, d.Dispatch(ctx, inboundEvent(destChain, "0xbb")))
	require.NoError(t, d.Dispatch(ctx, &Event{
		SubscriptionID: "sub",
		Relayed: &xcm.Relayed{
			MessageHash: "0xcc",
			Origin:      originChain,
			Recipient:   destChain,
			Waypoint:    xcm.Waypoint{ChainID: "urn:ocn:local:0"},
		},
	}))
	d.Close()

	calls := ingester.snapshot()
	assert.ElementsMatch(t, []string{"out:0xaa", "in:0xbb", "relay:0xcc"}, calls)
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	ingester := newRecordingIngester()
	ingester.failures["0xee"] = 2
	d := NewDispatcher(zaptest.NewLogger(t), ingester, fastRetry())

	require.NoError(t, d.Dispatch(context.Background(), sentEvent(originChain, "0xee")))
	d.Close()

	assert.Equal(t, []string{"out:0xee"}, ingester.snapshot())
}

func TestDispatchDropsAfterExhaustedRetries(t *testing.T) {
	ingester := newRecordingIngester()
	ingester.failures["0xff"] = 100
	d := NewDispatcher(zaptest.NewLogger(t), ingester, fastRetry())

	require.NoError(t, d.Dispatch(context.Background(), sentEvent(originChain, "0xff")))
	d.Close()

	assert.Empty(t, ingester.snapshot())
}

func TestDispatchRejectsMalformedEvents(t *testing.T) {
	d := NewDispatcher(zaptest.NewLogger(t), newRecordingIngester(), fastRetry())
	defer d.Close()
	ctx := context.Background()

	require.Error(t, d.Dispatch(ctx, &Event{}))
	require.Error(t, d.Dispatch(ctx, &Event{
		Sent:    sentEvent(originChain, "0x01").Sent,
		Inbound: inboundEvent(destChain, "0x02").Inbound,
	}))
	// relay sightings carry no subscription of their own
	require.Error(t, d.Dispatch(ctx, &Event{
		Relayed: &xcm.Relayed{MessageHash: "0x03", Waypoint: xcm.Waypoint{ChainID: "urn:ocn:local:0"}},
	}))
}
