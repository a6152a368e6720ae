// Package watcher dispatches chain-watcher sightings into the matching
// engine. Events for the same chain are applied serially in arrival order;
// different chains proceed in parallel. Transient ingestion failures are
// retried with backoff before the event is dropped.
package watcher

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/retry"
	"github.com/sodazone/xcmon/pkg/utils"
	"github.com/sodazone/xcmon/pkg/xcm"
)

// Ingester is the matching-engine surface the dispatcher drives.
type Ingester interface {
	OnOutboundMessage(ctx context.Context, msg *xcm.Sent) error
	OnInboundMessage(ctx context.Context, msg *xcm.Inbound) error
	OnRelayedMessage(ctx context.Context, subscriptionID string, msg *xcm.Relayed) error
}

// Event is one sighting produced by a chain watcher. Exactly one of Sent,
// Inbound or Relayed is set. SubscriptionID is required for relay sightings,
// which do not carry their own.
type Event struct {
	SubscriptionID string
	Sent           *xcm.Sent
	Inbound        *xcm.Inbound
	Relayed        *xcm.Relayed
}

// chainID returns the chain the event was observed on, which is the
// serialization domain.
func (e *Event) chainID() (xcm.NetworkURN, error) {
	switch {
	case e.Sent != nil && e.Inbound == nil && e.Relayed == nil:
		return e.Sent.Waypoint.ChainID, nil
	case e.Inbound != nil && e.Sent == nil && e.Relayed == nil:
		return e.Inbound.Waypoint.ChainID, nil
	case e.Relayed != nil && e.Sent == nil && e.Inbound == nil:
		if e.SubscriptionID == "" {
			return "", fmt.Errorf("relay event missing subscription id")
		}
		return e.Relayed.Waypoint.ChainID, nil
	}
	return "", fmt.Errorf("event must carry exactly one sighting")
}

// Dispatcher routes events onto per-chain serial lanes over a shared worker
// pool.
type Dispatcher struct {
	logger   *zap.Logger
	ingester Ingester
	retryCfg retry.Config

	pool  pond.Pool
	lanes *xsync.Map[string, pond.Pool]
}

// NewDispatcher builds a dispatcher over the given ingester. Pool sizing
// comes from the environment:
//   - XCMON_DISPATCH_WORKERS: shared pool size (default: 8)
//   - XCMON_DISPATCH_QUEUE: shared queue size (default: 4096)
func NewDispatcher(logger *zap.Logger, ingester Ingester, retryCfg retry.Config) *Dispatcher {
	workers := utils.EnvInt("XCMON_DISPATCH_WORKERS", 8)
	queueSize := utils.EnvInt("XCMON_DISPATCH_QUEUE", 4096)

	return &Dispatcher{
		logger:   logger,
		ingester: ingester,
		retryCfg: retryCfg,
		pool:     pond.NewPool(workers, pond.WithQueueSize(queueSize)),
		lanes:    xsync.NewMap[string, pond.Pool](),
	}
}

// lane returns the serial subpool of a chain, creating it on first sight.
// Lanes are never removed; the set of watched chains is small and stable.
func (d *Dispatcher) lane(chain xcm.NetworkURN) pond.Pool {
	p, _ := d.lanes.LoadOrCompute(string(chain), func() (pond.Pool, bool) {
		return d.pool.NewSubpool(1), false
	})
	return p
}

// Dispatch enqueues an event on its chain's lane and returns immediately.
// The event is rejected only when malformed; ingestion failures after
// retries are logged and the event is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	chain, err := ev.chainID()
	if err != nil {
		return err
	}

	d.lane(chain).Submit(func() {
		if err := retry.WithBackoff(ctx, d.retryCfg, d.logger, "ingest "+string(chain), func() error {
			return d.ingest(ctx, ev)
		}); err != nil {
			d.logger.Error("Dropping event after retries",
				zap.String("chainId", string(chain)),
				zap.String("subscriptionId", ev.SubscriptionID),
				zap.Error(err))
		}
	})
	return nil
}

func (d *Dispatcher) ingest(ctx context.Context, ev *Event) error {
	switch {
	case ev.Sent != nil:
		return d.ingester.OnOutboundMessage(ctx, ev.Sent)
	case ev.Inbound != nil:
		return d.ingester.OnInboundMessage(ctx, ev.Inbound)
	default:
		return d.ingester.OnRelayedMessage(ctx, ev.SubscriptionID, ev.Relayed)
	}
}

// Close drains every lane and stops the shared pool. Blocks until all queued
// events have been ingested or dropped.
func (d *Dispatcher) Close() {
	d.lanes.Range(func(_ string, lane pond.Pool) bool {
		lane.StopAndWait()
		return true
	})
	d.pool.StopAndWait()
}
