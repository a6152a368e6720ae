// Package matching implements the message correlation engine. Sent, received
// and relayed sightings arrive independently and in any order from per-chain
// watchers; the engine joins them into matched legs over a persistent
// pending-state store and emits exactly one notification per ingestion call.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/db"
	"github.com/sodazone/xcmon/pkg/xcm"
)

// Notifier receives the single notification each ingestion call produces.
// Notifier failures are logged by the engine and never propagated: a broken
// downstream sink must not block correlation.
type Notifier interface {
	Notify(ctx context.Context, n *xcm.Notification) error
}

// Scheduler is told about every pending write so it can eventually reclaim
// the key if no counterpart consumes it. Fire-and-forget.
type Scheduler interface {
	Schedule(ns db.Namespace, key string)
}

// Engine is the matching engine. It is the sole writer of the pending-state
// store; ingestion calls for the same correlation key are serialized through
// a per-(subscription, chain) lock registry, so concurrent sightings of the
// same leg cannot both miss each other and both insert.
type Engine struct {
	logger   *zap.Logger
	store    *db.Store
	janitor  Scheduler
	notifier Notifier
	resolve  xcm.LocationResolver

	// lock registry: created lazily, never removed. Bounded by the number of
	// distinct subscription/chain pairs.
	locks *xsync.Map[string, *sync.Mutex]
}

// NewEngine builds a matching engine over the given store and collaborators.
// A nil resolver falls back to xcm.ResolveLocation.
func NewEngine(logger *zap.Logger, store *db.Store, janitor Scheduler, notifier Notifier, resolve xcm.LocationResolver) *Engine {
	if resolve == nil {
		resolve = xcm.ResolveLocation
	}
	return &Engine{
		logger:   logger,
		store:    store,
		janitor:  janitor,
		notifier: notifier,
		resolve:  resolve,
		locks:    xsync.NewMap[string, *sync.Mutex](),
	}
}

// correlationKey is subscription + identifier + chain, with the subscription
// id leading so bulk clears are prefix scans.
func correlationKey(subscriptionID, ident string, chain xcm.NetworkURN) string {
	return subscriptionID + ":" + ident + ":" + string(chain)
}

// idents returns the identifiers present on a sighting, message id first so
// it takes precedence: it survives re-serialization across hops while the
// hash does not. Never yields an empty key; collapses id == hash.
func idents(messageID, messageHash string) []string {
	if messageID != "" && messageID != messageHash {
		return []string{messageID, messageHash}
	}
	return []string{messageHash}
}

func lockKey(subscriptionID string, chain xcm.NetworkURN) string {
	return subscriptionID + ":" + string(chain)
}

// lock acquires the mutexes for the given keys in sorted order (deadlock
// free) and returns the paired release.
func (e *Engine) lock(keys ...string) func() {
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		dup := false
		for _, s := range sorted {
			if s == k {
				dup = true
				break
			}
		}
		if !dup {
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, k := range sorted {
		m, _ := e.locks.LoadOrStore(k, &sync.Mutex{})
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// find looks up a pending record under every given identifier, first hit
// wins. Absence is not an error.
func (e *Engine) find(ns db.Namespace, subscriptionID string, ids []string, chain xcm.NetworkURN) (*db.PendingRecord, error) {
	for _, ident := range ids {
		rec, found, err := e.store.GetRecord(ns, correlationKey(subscriptionID, ident, chain))
		if err != nil {
			return nil, err
		}
		if found {
			return rec, nil
		}
	}
	return nil, nil
}

// persist writes one logical record under every key in rec.Keys and hands
// each written key to the expiry scheduler.
func (e *Engine) persist(ns db.Namespace, rec *db.PendingRecord) error {
	for _, k := range rec.Keys {
		r := *rec
		r.Key = k
		if err := e.store.PutRecord(ns, k, &r); err != nil {
			return err
		}
		e.janitor.Schedule(ns, k)
	}
	return nil
}

// consume deletes every index key of a matched record. Keys already expired
// by the janitor are no-op deletes.
func (e *Engine) consume(ns db.Namespace, rec *db.PendingRecord) error {
	return e.store.DeleteAll(ns, rec.Keys)
}

func keysFor(subscriptionID string, ids []string, chain xcm.NetworkURN) []string {
	keys := make([]string, 0, len(ids))
	for _, ident := range ids {
		keys = append(keys, correlationKey(subscriptionID, ident, chain))
	}
	return keys
}

// counterpart decodes the waypoint (and route, when the record holds an
// outbound payload) of a stored pending record.
func counterpart(rec *db.PendingRecord) (*xcm.Waypoint, []xcm.NetworkURN, error) {
	switch rec.Side {
	case db.SideOutbound:
		var s xcm.Sent
		if err := json.Unmarshal(rec.Payload, &s); err != nil {
			return nil, nil, fmt.Errorf("decode outbound payload %s: %w", rec.Key, err)
		}
		return &s.Waypoint, s.Legs, nil
	case db.SideInbound:
		var i xcm.Inbound
		if err := json.Unmarshal(rec.Payload, &i); err != nil {
			return nil, nil, fmt.Errorf("decode inbound payload %s: %w", rec.Key, err)
		}
		return &i.Waypoint, nil, nil
	case db.SideRelay:
		var r xcm.Relayed
		if err := json.Unmarshal(rec.Payload, &r); err != nil {
			return nil, nil, fmt.Errorf("decode relay payload %s: %w", rec.Key, err)
		}
		return &r.Waypoint, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown record side %q at %s", rec.Side, rec.Key)
}

// OnOutboundMessage ingests a sent sighting. The first unresolved stop of the
// route is the current leg target: a pending inbound there completes the leg,
// a pending relay sighting at the origin's relay chain confirms the hop.
// Unmatched state is persisted dual-indexed and scheduled for expiry.
func (e *Engine) OnOutboundMessage(ctx context.Context, msg *xcm.Sent) error {
	if len(msg.Legs) == 0 {
		msg.Legs = xcm.DeriveRoute(e.resolve, msg.Origin, msg.Recipient, msg.Instructions)
	}
	target := msg.Legs[0]
	if target == "" {
		return fmt.Errorf("outbound message %s has no destination", msg.MessageHash)
	}

	relayChain := msg.Origin.RelayOf()
	watchRelay := relayChain != "" && !msg.Origin.IsRelay()

	lockKeys := []string{lockKey(msg.SubscriptionID, target)}
	if watchRelay {
		lockKeys = append(lockKeys, lockKey(msg.SubscriptionID, relayChain))
	}
	unlock := e.lock(lockKeys...)
	defer unlock()

	ids := idents(msg.MessageID, msg.MessageHash)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound %s: %w", msg.MessageHash, err)
	}

	// An earlier relay sighting confirms the hop without completing the leg.
	var relayWaypoint *xcm.Waypoint
	if watchRelay {
		relayRec, err := e.find(db.NSRelay, msg.SubscriptionID, ids, relayChain)
		if err != nil {
			return err
		}
		if relayRec != nil {
			if err := e.consume(db.NSRelay, relayRec); err != nil {
				return err
			}
			relayWaypoint, _, err = counterpart(relayRec)
			if err != nil {
				return err
			}
			e.logger.Debug("Relay confirmed",
				zap.String("subscriptionId", msg.SubscriptionID),
				zap.String("chainId", string(relayChain)),
				zap.String("messageHash", msg.MessageHash))
			watchRelay = false
		}
	}

	n := &xcm.Notification{
		ID:             uuid.NewString(),
		Kind:           xcm.NotifySent,
		SubscriptionID: msg.SubscriptionID,
		Legs:           msg.Legs,
		Waypoint:       msg.Waypoint,
		MessageID:      msg.MessageID,
		MessageHash:    msg.MessageHash,
		Counterpart:    relayWaypoint,
	}

	inRec, err := e.find(db.NSInbound, msg.SubscriptionID, ids, target)
	if err != nil {
		return err
	}
	if inRec != nil {
		if err := e.consume(db.NSInbound, inRec); err != nil {
			return err
		}
		wp, _, err := counterpart(inRec)
		if err != nil {
			return err
		}
		n.Counterpart = wp
		e.logger.Info("Leg matched",
			zap.String("subscriptionId", msg.SubscriptionID),
			zap.String("chainId", string(target)),
			zap.String("messageHash", msg.MessageHash))

		// continue the chain for the stops beyond the matched one
		if len(msg.Legs) > 1 {
			if err := e.persist(db.NSOutbound, &db.PendingRecord{
				SubscriptionID: msg.SubscriptionID,
				ChainID:        msg.Legs[1],
				Side:           db.SideOutbound,
				Keys:           keysFor(msg.SubscriptionID, ids, msg.Legs[1]),
				LegIndex:       1,
				Payload:        payload,
				CreatedAt:      time.Now().UnixMilli(),
			}); err != nil {
				return err
			}
		}
	} else {
		if err := e.persist(db.NSOutbound, &db.PendingRecord{
			SubscriptionID: msg.SubscriptionID,
			ChainID:        target,
			Side:           db.SideOutbound,
			Keys:           keysFor(msg.SubscriptionID, ids, target),
			Payload:        payload,
			CreatedAt:      time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
	}
	if watchRelay {
		// relay-watch record: lets a later relay sighting, keyed by the relay
		// chain, confirm this hop
		if err := e.persist(db.NSOutbound, &db.PendingRecord{
			SubscriptionID: msg.SubscriptionID,
			ChainID:        relayChain,
			Side:           db.SideOutbound,
			Keys:           keysFor(msg.SubscriptionID, ids, relayChain),
			Payload:        payload,
			CreatedAt:      time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
	}

	e.notify(ctx, n)
	return nil
}

// OnInboundMessage ingests a destination sighting: a pending outbound at the
// receiving chain completes the leg, otherwise the sighting waits for the
// later-arriving outbound.
func (e *Engine) OnInboundMessage(ctx context.Context, msg *xcm.Inbound) error {
	unlock := e.lock(lockKey(msg.SubscriptionID, msg.ChainID))
	defer unlock()

	ids := idents(msg.MessageID, msg.MessageHash)

	n := &xcm.Notification{
		ID:             uuid.NewString(),
		Kind:           xcm.NotifyReceived,
		SubscriptionID: msg.SubscriptionID,
		Waypoint:       msg.Waypoint,
		MessageID:      msg.MessageID,
		MessageHash:    msg.MessageHash,
		Outcome:        msg.Outcome,
		Error:          msg.Error,
	}

	outRec, err := e.find(db.NSOutbound, msg.SubscriptionID, ids, msg.ChainID)
	if err != nil {
		return err
	}
	if outRec != nil {
		if err := e.consume(db.NSOutbound, outRec); err != nil {
			return err
		}
		wp, legs, err := counterpart(outRec)
		if err != nil {
			return err
		}
		n.Counterpart = wp
		n.Legs = legs
		e.logger.Info("Leg matched",
			zap.String("subscriptionId", msg.SubscriptionID),
			zap.String("chainId", string(msg.ChainID)),
			zap.String("messageHash", msg.MessageHash))
	} else {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode inbound %s: %w", msg.MessageHash, err)
		}
		if err := e.persist(db.NSInbound, &db.PendingRecord{
			SubscriptionID: msg.SubscriptionID,
			ChainID:        msg.ChainID,
			Side:           db.SideInbound,
			Keys:           keysFor(msg.SubscriptionID, ids, msg.ChainID),
			Payload:        payload,
			CreatedAt:      time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
	}

	e.notify(ctx, n)
	return nil
}

// OnRelayedMessage ingests an intermediate-chain forwarding sighting, keyed
// by the relay chain it was observed on. A pending outbound relay-watch there
// confirms the hop; otherwise the sighting is persisted under its preferred
// identifier and waits for the outbound. Subsequent-leg bookkeeping stays
// with the next OnOutboundMessage call from the hop chain.
func (e *Engine) OnRelayedMessage(ctx context.Context, subscriptionID string, msg *xcm.Relayed) error {
	relayChain := msg.Waypoint.ChainID

	unlock := e.lock(lockKey(subscriptionID, relayChain))
	defer unlock()

	ids := idents(msg.MessageID, msg.MessageHash)

	n := &xcm.Notification{
		ID:             uuid.NewString(),
		Kind:           xcm.NotifyRelayed,
		SubscriptionID: subscriptionID,
		Waypoint:       msg.Waypoint,
		MessageID:      msg.MessageID,
		MessageHash:    msg.MessageHash,
		Outcome:        msg.Outcome,
	}

	outRec, err := e.find(db.NSOutbound, subscriptionID, ids, relayChain)
	if err != nil {
		return err
	}
	if outRec != nil {
		if err := e.consume(db.NSOutbound, outRec); err != nil {
			return err
		}
		wp, legs, err := counterpart(outRec)
		if err != nil {
			return err
		}
		n.Counterpart = wp
		n.Legs = legs
		e.logger.Info("Relay matched",
			zap.String("subscriptionId", subscriptionID),
			zap.String("chainId", string(relayChain)),
			zap.String("messageHash", msg.MessageHash))
	} else {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode relay %s: %w", msg.MessageHash, err)
		}
		if err := e.persist(db.NSRelay, &db.PendingRecord{
			SubscriptionID: subscriptionID,
			ChainID:        relayChain,
			Side:           db.SideRelay,
			Keys:           []string{correlationKey(subscriptionID, ids[0], relayChain)},
			Payload:        payload,
			CreatedAt:      time.Now().UnixMilli(),
		}); err != nil {
			return err
		}
	}

	e.notify(ctx, n)
	return nil
}

// ClearPendingStates bulk-deletes every pending record of a subscription
// across all matching namespaces, regardless of match status. Idempotent.
func (e *Engine) ClearPendingStates(ctx context.Context, subscriptionID string) error {
	prefix := subscriptionID + ":"
	total := 0
	for _, ns := range db.MatchingNamespaces {
		n, err := e.store.ClearPrefix(ns, prefix)
		if err != nil {
			return err
		}
		total += n
	}
	e.logger.Info("Cleared pending states",
		zap.String("subscriptionId", subscriptionID),
		zap.Int("removed", total))
	return nil
}

func (e *Engine) notify(ctx context.Context, n *xcm.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Error("Notifier failed",
			zap.String("type", string(n.Kind)),
			zap.String("subscriptionId", n.SubscriptionID),
			zap.Error(err))
	}
}
