package xcm

import "strconv"

// Instruction is one node of a decoded message program. Decoding from the
// chain wire format is an external concern; only the shape matters here.
// Forwarding instructions carry a destination and a nested program.
type Instruction struct {
	Kind string        `json:"kind"`
	Dest *Location     `json:"dest,omitempty"`
	XCM  []Instruction `json:"xcm,omitempty"`
}

// Forwarding instruction kinds. ExportMessage (bridging) is recognized but
// unsupported: it never contributes a stop.
const (
	DepositReserveAsset     = "DepositReserveAsset"
	InitiateReserveWithdraw = "InitiateReserveWithdraw"
	InitiateTeleport        = "InitiateTeleport"
	TransferReserveAsset    = "TransferReserveAsset"
	ExportMessage           = "ExportMessage"
)

// Location is a minimal multi-location: parents hops up plus interior
// junctions.
type Location struct {
	Parents  int        `json:"parents"`
	Interior []Junction `json:"interior,omitempty"`
}

// Junction is one interior step. Only the junction kinds relevant to chain
// attribution are typed; everything else is opaque to routing.
type Junction struct {
	Parachain       *uint64 `json:"parachain,omitempty"`
	GlobalConsensus *string `json:"globalConsensus,omitempty"`
	AccountID       string  `json:"accountId,omitempty"`
}

// LocationResolver resolves a destination location to a concrete chain URN,
// relative to the chain currently executing the program. ok is false when the
// location cannot be attributed to a known chain.
type LocationResolver func(loc *Location, current NetworkURN) (urn NetworkURN, ok bool)

// ResolveLocation is the default resolver for intra-consensus locations:
// one parent with an empty interior is the relay chain, a leading Parachain
// junction is that parachain. Bridged (GlobalConsensus) locations do not
// resolve.
func ResolveLocation(loc *Location, current NetworkURN) (NetworkURN, bool) {
	if loc == nil {
		return "", false
	}
	consensus := current.Consensus()
	if consensus == "" {
		return "", false
	}
	for _, j := range loc.Interior {
		if j.GlobalConsensus != nil {
			return "", false
		}
	}
	if len(loc.Interior) == 0 {
		if loc.Parents >= 1 {
			return MakeURN(consensus, "0"), true
		}
		return "", false
	}
	if p := loc.Interior[0].Parachain; p != nil {
		return MakeURN(consensus, strconv.FormatUint(*p, 10)), true
	}
	return "", false
}

func isForwarding(kind string) bool {
	switch kind {
	case DepositReserveAsset, InitiateReserveWithdraw, InitiateTeleport, TransferReserveAsset:
		return true
	}
	return false
}

// maxRouteDepth bounds the instruction-tree walk so pathological or malicious
// programs cannot cause unbounded work.
const maxRouteDepth = 32

type routeFrame struct {
	origin NetworkURN
	list   []Instruction
	idx    int
}

// ExtractStops walks the instruction tree depth-first and returns the chain
// stops the message will traverse, in discovery order. Forwarding that cannot
// be attributed to a known chain drops the whole branch. Repeated chains are
// legitimate and are not deduplicated. The walk never fails: exceeding the
// depth bound returns the stops accumulated so far.
func ExtractStops(resolve LocationResolver, origin NetworkURN, instructions []Instruction) []NetworkURN {
	var stops []NetworkURN
	stack := []routeFrame{{origin: origin, list: instructions}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.idx >= len(f.list) {
			stack = stack[:len(stack)-1]
			continue
		}
		in := f.list[f.idx]
		f.idx++

		if !isForwarding(in.Kind) || in.Dest == nil {
			continue
		}
		next, ok := resolve(in.Dest, f.origin)
		if !ok {
			continue
		}
		stops = append(stops, next)
		if len(in.XCM) > 0 {
			if len(stack) >= maxRouteDepth {
				return stops
			}
			stack = append(stack, routeFrame{origin: next, list: in.XCM})
		}
	}
	return stops
}

// DeriveRoute returns the full planned route of an outbound message: the
// declared recipient followed by every forwarding stop found in the program.
func DeriveRoute(resolve LocationResolver, origin, recipient NetworkURN, instructions []Instruction) []NetworkURN {
	stops := ExtractStops(resolve, origin, instructions)
	legs := make([]NetworkURN, 0, len(stops)+1)
	legs = append(legs, recipient)
	return append(legs, stops...)
}
