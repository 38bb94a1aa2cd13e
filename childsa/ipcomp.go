package childsa

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ipcompDeflate is the only compression transform this module offers;
// LZS/LZJH exist on the wire (expanded data model) but have no
// Go implementation in the pack, so they're accepted on decode and
// rejected on negotiate rather than silently mis-implemented.
const ipcompDeflate = 2 // IPCOMP_DEFLATE, RFC 7296 §3.3.5

// ipcompOffer is what the initiator emits via IPCOMP_SUPPORTED.
type ipcompOffer struct {
	cpi uint16
	transform uint8
}

// negotiateIPCompResponder implements the responder's negotiation rules:
// no offer means no IPComp; an offer while IPComp is disabled locally is
// declined silently; an offered transform other than DEFLATE fails with
// ErrIPCompMismatch; otherwise a local CPI is allocated for the offer.
func negotiateIPCompResponder(offer *ipcompOffer, localEnabled bool, allocCPI func() (uint16, error)) (*ipcompOffer, error) {
	if offer == nil {
		return nil, nil
	}
	if !localEnabled {
		return nil, nil // proposed-without-accepted: disable silently
	}
	if offer.transform != ipcompDeflate {
		return nil, ErrIPCompMismatch
	}
	cpi, err := allocCPI()
	if err != nil {
		return nil, err
	}
	return &ipcompOffer{cpi: cpi, transform: ipcompDeflate}, nil
}

// encodeIPCompNotify/decodeIPCompNotify render IPCOMP_SUPPORTED's body:
// a 2-byte CPI followed by a 1-byte transform id (RFC 7296 §3.10.1).
func encodeIPCompNotify(cpi uint16, transform uint8) []byte {
	b := make([]byte, 3)
	binary.BigEndian.PutUint16(b, cpi)
	b[2] = transform
	return b
}

func decodeIPCompNotify(b []byte) (*ipcompOffer, error) {
	if len(b) < 3 {
		return nil, errors.New("ipcomp notify too short")
	}
	return &ipcompOffer{cpi: binary.BigEndian.Uint16(b), transform: b[2]}, nil
}
