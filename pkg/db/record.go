package db

import (
	"encoding/json"
	"fmt"

	"github.com/sodazone/xcmon/pkg/xcm"
)

// Side tags which kind of sighting produced a pending record.
type Side string

const (
	SideOutbound Side = "outbound"
	SideInbound  Side = "inbound"
	SideRelay    Side = "relay"
)

// PendingRecord is persisted partial-match state awaiting its counterpart.
// A logical record may be indexed under several correlation keys (message id
// and message hash); Keys lists all of them so a match can delete every
// index entry at once. Records are never mutated in place: matching is
// create-then-delete.
type PendingRecord struct {
	SubscriptionID string          `json:"subscriptionId"`
	Key            string          `json:"key"`
	ChainID        xcm.NetworkURN  `json:"chainId"`
	Side           Side            `json:"side"`
	Keys           []string        `json:"keys"`
	LegIndex       int             `json:"legIndex,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      int64           `json:"createdAt"`
}

// GetRecord reads and decodes a pending record. Absence is not an error.
func (s *Store) GetRecord(ns Namespace, key string) (*PendingRecord, bool, error) {
	raw, found, err := s.Get(ns, key)
	if err != nil || !found {
		return nil, false, err
	}
	var rec PendingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode record %s:%s: %w", ns, key, err)
	}
	return &rec, true, nil
}

// PutRecord encodes and stores a pending record under key.
func (s *Store) PutRecord(ns Namespace, key string, rec *PendingRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s:%s: %w", ns, key, err)
	}
	return s.Put(ns, key, raw)
}
