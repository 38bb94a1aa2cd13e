package childsa

import (
	"bytes"
	"net"

	"github.com/vpnsetup/strongswan/protocol"
)

// toWire/fromWire convert between the task's net.IP-shaped Selector and
// the wire protocol.Selector.
func toWire(s Selector) *protocol.Selector {
	return &protocol.Selector{
		Type: s.Type,
		IpProtocolId: s.IPProtocolID,
		StartPort: s.StartPort,
		EndPort: s.EndPort,
		StartAddress: append(net.IP{}, s.StartAddress...),
		EndAddress: append(net.IP{}, s.EndAddress...),
		Label: append([]byte{}, s.Label...),
	}
}

func fromWire(w *protocol.Selector) Selector {
	return Selector{
		Type: w.Type,
		IPProtocolID: w.IpProtocolId,
		StartPort: w.StartPort,
		EndPort: w.EndPort,
		StartAddress: append(net.IP{}, w.StartAddress...),
		EndAddress: append(net.IP{}, w.EndAddress...),
		Label: append([]byte{}, w.Label...),
	}
}

// isHost reports whether s's kept range is a single address, the shape
// substituteNATAddress substitutes an endpoint address into.
func isHost(s Selector) bool {
	return bytes.Equal(s.StartAddress, s.EndAddress)
}

// substituteNATAddress implements the transport-mode-with-NAT special
// case: host-shaped selectors get the IKE_SA's own endpoint address
// substituted in place of whatever stale address they carried, because a
// NATed peer's real address is learned from the IKE_SA, not the selector
// it proposed.
func substituteNATAddress(selectors []Selector, endpoint net.IP) []Selector {
	out := make([]Selector, len(selectors))
	for i, s := range selectors {
		if isHost(s) {
			s.StartAddress = append(net.IP{}, endpoint...)
			s.EndAddress = append(net.IP{}, endpoint...)
		}
		out[i] = s
	}
	return out
}

// intersect computes the narrowed selector set: every local selector
// clipped to the overlap with every peer selector of the same protocol.
// Single-pair-required mode instead clips only the first pair and returns
// that overlap, failing only if the first pair has no overlap at all.
func intersect(peer, local []Selector, singlePairRequired bool) []Selector {
	if singlePairRequired {
		if len(peer) == 0 || len(local) == 0 {
			return nil
		}
		if n, ok := clip(peer[0], local[0]); ok {
			return []Selector{n}
		}
		return nil
	}
	var out []Selector
	for _, p := range peer {
		for _, l := range local {
			if n, ok := clip(p, l); ok {
				out = append(out, n)
			}
		}
	}
	return out
}

func clip(a, b Selector) (Selector, bool) {
	if a.IPProtocolID != 0 && b.IPProtocolID != 0 && a.IPProtocolID != b.IPProtocolID {
		return Selector{}, false
	}
	start := maxIP(a.StartAddress, b.StartAddress)
	end := minIP(a.EndAddress, b.EndAddress)
	if start == nil || end == nil || bytes.Compare(start, end) > 0 {
		return Selector{}, false
	}
	sp := maxU16(a.StartPort, b.StartPort)
	ep := minU16(a.EndPort, b.EndPort)
	if sp > ep {
		return Selector{}, false
	}
	proto := a.IPProtocolID
	if proto == 0 {
		proto = b.IPProtocolID
	}
	return Selector{
		Type: a.Type,
		IPProtocolID: proto,
		StartPort: sp,
		EndPort: ep,
		StartAddress: start,
		EndAddress: end,
	}, true
}

func maxIP(a, b net.IP) net.IP {
	if len(a) != len(b) {
		return nil
	}
	if bytes.Compare(a, b) >= 0 {
		return a
	}
	return b
}

func minIP(a, b net.IP) net.IP {
	if len(a) != len(b) {
		return nil
	}
	if bytes.Compare(a, b) <= 0 {
		return a
	}
	return b
}

func maxU16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

// narrowTS runs traffic selector narrowing: optional NAT substitution and
// config-driven intersection, failing on an empty result. The Bus narrow
// hook is not called here; callers apply it to the result.
func narrowTS(peerTSi, peerTSr []Selector, cfg ChildConfig, endpoint net.IP, natHere, natThere bool, mode Mode) (tsi, tsr []Selector, ok bool) {
	localTSi, localTSr := cfg.TrafficSelectors()

	if mode == ModeTransport && (natHere || natThere) && endpoint != nil {
		substituted := substituteNATAddress(peerTSi, endpoint)
		if n := intersect(substituted, localTSi, cfg.HasOption(OptSinglePairRequired)); len(n) > 0 {
			tsi = n
		}
	}
	if tsi == nil {
		tsi = intersect(peerTSi, localTSi, cfg.HasOption(OptSinglePairRequired))
	}
	tsr = intersect(peerTSr, localTSr, cfg.HasOption(OptSinglePairRequired))

	if len(tsi) == 0 || len(tsr) == 0 {
		return nil, nil, false
	}
	return tsi, tsr, true
}
