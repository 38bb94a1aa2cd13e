package childsa

import (
	"crypto/rand"
	"encoding/binary"
	"net"

	"github.com/vpnsetup/strongswan/protocol"
)

func spiBytes(spi uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, spi)
	return b
}

func selectorsToWire(sel []Selector) []*protocol.Selector {
	out := make([]*protocol.Selector, len(sel))
	for i, s := range sel {
		out[i] = toWire(s)
	}
	return out
}

func extractTS(peer *protocol.Payloads) (tsi, tsr []Selector) {
	if p, ok := peer.Get(protocol.PayloadTypeTSi).(*protocol.TrafficSelectorPayload); ok {
		for _, s := range p.Selectors {
			tsi = append(tsi, fromWire(s))
		}
	}
	if p, ok := peer.Get(protocol.PayloadTypeTSr).(*protocol.TrafficSelectorPayload); ok {
		for _, s := range p.Selectors {
			tsr = append(tsr, fromWire(s))
		}
	}
	return
}

// notifyOfType scans every payload rather than Payloads.Get, since a
// message can carry more than one Notify payload (e.g. IPCOMP_SUPPORTED
// alongside ADDITIONAL_KEY_EXCHANGE) and Payloads.byType only keeps the
// last one added per PayloadType.
func notifyOfType(peer *protocol.Payloads, t protocol.NotificationType) *protocol.NotifyPayload {
	for _, pl := range peer.All() {
		if n, ok := pl.(*protocol.NotifyPayload); ok && n.NotificationType == t {
			return n
		}
	}
	return nil
}

func endpointIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	default:
		return nil
	}
}

// randUint32 backs the TEMPORARY_FAILURE retry jitter; it
// uses crypto/rand rather than math/rand since the task otherwise never
// touches a non-cryptographic PRNG, matching tkm.go/cipher.go's habit
// of drawing everything from crypto/rand.
func randUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
