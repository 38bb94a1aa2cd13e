package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/vpnsetup/strongswan/protocol"
)

// macFunc and the two constructors below mirror the root-level
// cipher_suites.go's hashMac/macPrf, kept here as the crypto/ subpackage's
// equivalent since that snapshot referenced macFunc/verifyMac without ever
// defining them.
type macFunc func(key, data []byte) []byte

func hashMac(h func() hash.Hash, truncLen int) macFunc {
	return func(key, data []byte) []byte {
		mac := hmac.New(h, key)
		mac.Write(data)
		return mac.Sum(nil)[:truncLen]
	}
}

func macPrf(h func() hash.Hash) func(key, data []byte) []byte {
	return func(key, data []byte) []byte {
		mac := hmac.New(h, key)
		mac.Write(data)
		return mac.Sum(nil)
	}
}

// integrityTransform fills in simpleCipher's mac fields, grounded on the
// root package's integrityTransform(trfId) (macLen, macKeyLength, macFunc).
func integrityTransform(authId uint16, c *simpleCipher) (*simpleCipher, bool) {
	if c == nil {
		c = &simpleCipher{}
	}
	switch protocol.AuthTransformId(authId) {
	case protocol.AUTH_HMAC_SHA1_96:
		c.macLen, c.macKeyLen, c.macFunc = 12, sha1.Size, hashMac(sha1.New, 12)
	case protocol.AUTH_HMAC_SHA2_256_128:
		c.macLen, c.macKeyLen, c.macFunc = 16, sha256.Size, hashMac(sha256.New, 16)
	case protocol.AUTH_NONE:
		c.macLen, c.macKeyLen, c.macFunc = 0, 0, func(_, _ []byte) []byte { return nil }
	default:
		return nil, false
	}
	c.AuthTransformId = protocol.AuthTransformId(authId)
	return c, true
}

func verifyMac(key, msg []byte, macLen int, fn macFunc) error {
	if macLen == 0 {
		return nil
	}
	l := len(msg)
	if l < macLen {
		return fmt.Errorf("message too short for mac: %d < %d", l, macLen)
	}
	body, tag := msg[:l-macLen], msg[l-macLen:]
	expected := fn(key, body)
	if !hmac.Equal(tag, expected) {
		return fmt.Errorf("HMAC verification failed")
	}
	return nil
}
