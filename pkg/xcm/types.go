// Package xcm holds the cross-chain message data model: sightings produced by
// chain watchers, the decoded instruction tree, route derivation and the
// notification variant emitted by the matching engine.
package xcm

// Outcome is the execution outcome of a message at a sighting.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFail    Outcome = "Fail"
)

// Waypoint is a (chain, block, time) coordinate of an observed sighting.
type Waypoint struct {
	ChainID     NetworkURN `json:"chainId"`
	BlockNumber uint64     `json:"blockNumber"`
	BlockHash   string     `json:"blockHash"`
	Timestamp   int64      `json:"timestamp"`
}

// Sent is an outbound sighting: a message emitted on an origin chain.
//
// MessageID is the hop-stable correlation id, present only when the program
// carries an explicit topic marker. MessageHash is a content digest recomputed
// per hop, so it is not stable across hops. Legs is the full planned route,
// derived from the instruction tree; the engine computes it when absent.
type Sent struct {
	SubscriptionID string        `json:"subscriptionId"`
	Origin         NetworkURN    `json:"origin"`
	Recipient      NetworkURN    `json:"recipient"`
	MessageID      string        `json:"messageId,omitempty"`
	MessageHash    string        `json:"messageHash"`
	Instructions   []Instruction `json:"instructions,omitempty"`
	Waypoint       Waypoint      `json:"waypoint"`
	Legs           []NetworkURN  `json:"legs,omitempty"`
}

// Inbound is a destination sighting: a message processed on a receiving chain.
type Inbound struct {
	SubscriptionID string     `json:"subscriptionId"`
	ChainID        NetworkURN `json:"chainId"`
	MessageID      string     `json:"messageId,omitempty"`
	MessageHash    string     `json:"messageHash"`
	Outcome        Outcome    `json:"outcome"`
	Error          string     `json:"error,omitempty"`
	Waypoint       Waypoint   `json:"waypoint"`
}

// Relayed is an intermediate-chain forwarding sighting, observed on the relay
// chain of the leg it confirms. Waypoint.ChainID is the relay chain.
type Relayed struct {
	MessageID   string     `json:"messageId,omitempty"`
	MessageHash string     `json:"messageHash"`
	Origin      NetworkURN `json:"origin"`
	Recipient   NetworkURN `json:"recipient"`
	Outcome     Outcome    `json:"outcome"`
	Waypoint    Waypoint   `json:"waypoint"`
}

// NotifyKind tags the closed set of notification variants.
type NotifyKind string

const (
	NotifySent     NotifyKind = "xcm.sent"
	NotifyReceived NotifyKind = "xcm.received"
	NotifyRelayed  NotifyKind = "xcm.relayed"
)

// Notification describes a single ingested sighting, annotated with its
// matched counterpart when the engine has resolved one. Exactly one is
// emitted per ingestion call.
type Notification struct {
	ID             string       `json:"id"`
	Kind           NotifyKind   `json:"type"`
	SubscriptionID string       `json:"subscriptionId"`
	Legs           []NetworkURN `json:"legs,omitempty"`
	Waypoint       Waypoint     `json:"waypoint"`
	MessageID      string       `json:"messageId,omitempty"`
	MessageHash    string       `json:"messageHash"`
	Outcome        Outcome      `json:"outcome,omitempty"`
	Error          string       `json:"error,omitempty"`
	// Counterpart is the waypoint of the opposite side of the matched leg,
	// nil while the leg is still pending.
	Counterpart *Waypoint `json:"counterpart,omitempty"`
}
