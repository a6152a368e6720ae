// Package db implements the pending-state store on Pebble: the three matching
// namespaces plus the janitor task namespace, over a single ordered key-value
// keyspace. Keys lead with the subscription id inside each namespace, so
// subscription-scoped clears are plain range deletes.
package db

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/utils"
)

// Namespace isolates a logical sub-collection of the store.
type Namespace string

const (
	NSOutbound Namespace = "match:out"
	NSInbound  Namespace = "match:in"
	NSRelay    Namespace = "match:relay"
	NSJanitor  Namespace = "janitor"
)

// MatchingNamespaces are the namespaces holding pending correlation state.
var MatchingNamespaces = []Namespace{NSOutbound, NSInbound, NSRelay}

// Store is a namespaced key-value store. All operations are atomic at
// single-key granularity; cross-key invariants are the caller's concern.
type Store struct {
	logger *zap.Logger
	pdb    *pebble.DB
}

// Open opens (or creates) the store at XCMON_DB_PATH.
func Open(logger *zap.Logger) (*Store, error) {
	return OpenPath(logger, utils.Env("XCMON_DB_PATH", "./xcmon.db"))
}

// OpenPath opens (or creates) the store at the given directory.
func OpenPath(logger *zap.Logger, path string) (*Store, error) {
	pdb, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pending-state store at %s: %w", path, err)
	}
	logger.Info("Opened pending-state store", zap.String("path", path))
	return &Store{logger: logger, pdb: pdb}, nil
}

// OpenMemory opens an in-memory store, for tests.
func OpenMemory(logger *zap.Logger) (*Store, error) {
	pdb, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &Store{logger: logger, pdb: pdb}, nil
}

func (s *Store) Close() error {
	return s.pdb.Close()
}

func fullKey(ns Namespace, key string) []byte {
	return []byte(string(ns) + ":" + key)
}

// Get returns the value stored under (ns, key). Absence is not an error.
func (s *Store) Get(ns Namespace, key string) ([]byte, bool, error) {
	v, closer, err := s.pdb.Get(fullKey(ns, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s:%s: %w", ns, key, err)
	}
	out := make([]byte, len(v))
	copy(out, v)
	if err := closer.Close(); err != nil {
		return nil, false, fmt.Errorf("get %s:%s: %w", ns, key, err)
	}
	return out, true, nil
}

// Put stores value under (ns, key), overwriting any previous value.
func (s *Store) Put(ns Namespace, key string, value []byte) error {
	if err := s.pdb.Set(fullKey(ns, key), value, pebble.Sync); err != nil {
		return fmt.Errorf("put %s:%s: %w", ns, key, err)
	}
	return nil
}

// Delete removes (ns, key). Deleting an absent key is a no-op.
func (s *Store) Delete(ns Namespace, key string) error {
	if err := s.pdb.Delete(fullKey(ns, key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s:%s: %w", ns, key, err)
	}
	return nil
}

// DeleteAll removes every (ns, key) pair in one batch.
func (s *Store) DeleteAll(ns Namespace, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	b := s.pdb.NewBatch()
	defer func() { _ = b.Close() }()
	for _, k := range keys {
		if err := b.Delete(fullKey(ns, k), nil); err != nil {
			return fmt.Errorf("batch delete %s:%s: %w", ns, k, err)
		}
	}
	if err := s.pdb.Apply(b, pebble.Sync); err != nil {
		return fmt.Errorf("batch delete in %s: %w", ns, err)
	}
	return nil
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when no such bound exists.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) prefixIter(ns Namespace, prefix string) (*pebble.Iterator, int, error) {
	lb := fullKey(ns, prefix)
	it, err := s.pdb.NewIter(&pebble.IterOptions{
		LowerBound: lb,
		UpperBound: prefixUpperBound(lb),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("iterate %s:%s*: %w", ns, prefix, err)
	}
	return it, len(ns) + 1, nil
}

// Keys returns every key in ns starting with prefix, in lexicographic order.
// An empty prefix lists the whole namespace.
func (s *Store) Keys(ns Namespace, prefix string) ([]string, error) {
	it, skip, err := s.prefixIter(ns, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()[skip:]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate %s:%s*: %w", ns, prefix, err)
	}
	return keys, nil
}

// ClearPrefix deletes every key in ns starting with prefix and returns the
// number of keys removed. Clearing an empty range is a no-op.
func (s *Store) ClearPrefix(ns Namespace, prefix string) (int, error) {
	keys, err := s.Keys(ns, prefix)
	if err != nil {
		return 0, err
	}
	if err := s.DeleteAll(ns, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Count returns the number of keys in ns.
func (s *Store) Count(ns Namespace) (int, error) {
	keys, err := s.Keys(ns, "")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
