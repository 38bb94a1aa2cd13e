package crypto

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"

	"github.com/vpnsetup/strongswan/protocol"
)

// Prf is the pseudo-random function negotiated for an IKE_SA, used for
// SKEYSEED/KEYMAT derivation (tkm.go's IsaCreate/IpsecSaCreate) and for the
// id-hash step of AUTH. cipher_suites.go referenced this type and
// prfTranform without ever defining them in the given snapshot.
type Prf struct {
	Length int
	Hash func(key, data []byte) []byte
	protocol.PrfTransformId
}

// PrfPlus implements RFC 7296 §2.13's prf+, grounded on tkm.go's prfplus:
// prf+(K, S) = T1 | T2 | T3 |... where T1 = prf(K, S | 0x01),
// Tn = prf(K, Tn-1 | S | n).
func (p *Prf) PrfPlus(key, data []byte, length int) []byte {
	var out, prev []byte
	for round := byte(1); len(out) < length; round++ {
		prev = p.Hash(key, append(append(append([]byte{}, prev...), data...), round))
		out = append(out, prev...)
	}
	return out[:length]
}

func prfTranform(prfId uint16) (*Prf, error) {
	switch protocol.PrfTransformId(prfId) {
	case protocol.PRF_HMAC_SHA1:
		return &Prf{Length: sha1.Size, Hash: macPrf(sha1.New), PrfTransformId: protocol.PrfTransformId(prfId)}, nil
	case protocol.PRF_HMAC_SHA2_256:
		return &Prf{Length: sha256.Size, Hash: macPrf(sha256.New), PrfTransformId: protocol.PrfTransformId(prfId)}, nil
	default:
		return nil, fmt.Errorf("unsupported prf transform %d", prfId)
	}
}
