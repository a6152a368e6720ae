// Package janitor reclaims pending-state keys that never found their
// counterpart. Writers hand it keys at write time; a cron sweep deletes the
// targets once their TTL elapses. Consumers of the store must tolerate a
// key's absence, so the janitor is fire-and-forget on both ends.
package janitor

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/db"
)

// task points at a key to delete when its TTL elapses. Tasks are persisted in
// the janitor namespace, keyed by zero-padded expiry time so a sweep is an
// ordered scan with an early cutoff.
type task struct {
	Namespace db.Namespace `json:"namespace"`
	Key       string       `json:"key"`
}

type Janitor struct {
	logger *zap.Logger
	store  *db.Store
	ttl    time.Duration
	spec   string
	cron   *cron.Cron
	seq    atomic.Uint64
}

// New builds a janitor sweeping on the given cron spec (seconds field
// enabled), expiring scheduled keys after ttl.
func New(logger *zap.Logger, store *db.Store, ttl time.Duration, cronSpec string) *Janitor {
	return &Janitor{
		logger: logger,
		store:  store,
		ttl:    ttl,
		spec:   cronSpec,
	}
}

func taskKey(expiry time.Time, seq uint64) string {
	return fmt.Sprintf("%020d:%08d", expiry.UnixNano(), seq)
}

// Schedule marks (ns, key) for deletion after the TTL if still present.
// Fire-and-forget: persistence failures are logged, never returned.
func (j *Janitor) Schedule(ns db.Namespace, key string) {
	raw, err := json.Marshal(task{Namespace: ns, Key: key})
	if err != nil {
		j.logger.Warn("Failed to encode janitor task",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	tk := taskKey(time.Now().Add(j.ttl), j.seq.Add(1))
	if err := j.store.Put(db.NSJanitor, tk, raw); err != nil {
		j.logger.Warn("Failed to schedule expiry",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
	}
}

// Sweep deletes every target whose task expired at or before now, and the
// task entries themselves. Returns the number of targets deleted. Targets
// already removed by a match or a bulk clear count as swept tasks but are
// no-op deletes.
func (j *Janitor) Sweep(now time.Time) (int, error) {
	cutoff := fmt.Sprintf("%020d", now.UnixNano())
	keys, err := j.store.Keys(db.NSJanitor, "")
	if err != nil {
		return 0, err
	}

	swept := 0
	var done []string
	for _, k := range keys {
		if k > cutoff {
			break
		}
		raw, found, err := j.store.Get(db.NSJanitor, k)
		if err != nil {
			return swept, err
		}
		if found {
			var t task
			if err := json.Unmarshal(raw, &t); err != nil {
				j.logger.Warn("Dropping malformed janitor task", zap.String("task", k), zap.Error(err))
			} else {
				if err := j.store.Delete(t.Namespace, t.Key); err != nil {
					return swept, err
				}
				swept++
			}
		}
		done = append(done, k)
	}
	if err := j.store.DeleteAll(db.NSJanitor, done); err != nil {
		return swept, err
	}
	return swept, nil
}

// Start begins the periodic sweep.
func (j *Janitor) Start() error {
	j.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := j.cron.AddFunc(j.spec, func() {
		n, err := j.Sweep(time.Now())
		if err != nil {
			j.logger.Error("Janitor sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			j.logger.Debug("Janitor sweep", zap.Int("expired", n))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule janitor sweep %q: %w", j.spec, err)
	}
	j.cron.Start()
	j.logger.Info("Janitor started",
		zap.Duration("ttl", j.ttl),
		zap.String("cronSpec", j.spec))
	return nil
}

// Stop halts the sweep, waiting for an in-flight run to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}
