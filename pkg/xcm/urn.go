package xcm

import "strings"

// NetworkURN identifies a chain within a consensus system, in the form
// urn:ocn:<consensus>:<chainId>. The relay chain of a consensus system is
// chain id "0". Equality is exact string match.
type NetworkURN string

// MakeURN builds a network URN from its consensus and chain id segments.
func MakeURN(consensus, chainID string) NetworkURN {
	return NetworkURN("urn:ocn:" + consensus + ":" + chainID)
}

func (u NetworkURN) segments() []string {
	s := strings.Split(string(u), ":")
	if len(s) != 4 || s[0] != "urn" || s[1] != "ocn" {
		return nil
	}
	return s
}

// Consensus returns the consensus system segment, or "" for a malformed URN.
func (u NetworkURN) Consensus() string {
	if s := u.segments(); s != nil {
		return s[2]
	}
	return ""
}

// ChainID returns the chain id segment, or "" for a malformed URN.
func (u NetworkURN) ChainID() string {
	if s := u.segments(); s != nil {
		return s[3]
	}
	return ""
}

// IsRelay reports whether the URN addresses the relay chain of its consensus.
func (u NetworkURN) IsRelay() bool {
	return u.ChainID() == "0"
}

// RelayOf returns the relay chain URN of the same consensus system.
// Returns "" for a malformed URN.
func (u NetworkURN) RelayOf() NetworkURN {
	c := u.Consensus()
	if c == "" {
		return ""
	}
	return MakeURN(c, "0")
}
