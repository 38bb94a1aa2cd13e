package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/vpnsetup/strongswan/protocol"
)

// aeadCipher satisfies the Cipher interface for combined mode transforms,
// the other half of NewCipherSuite's cipher/aead split that cipher_suites.go
// left undefined. Framing follows RFC 7296 §5.1: an explicit 8-byte IV
// precedes the ciphertext, salt+IV form the 12-byte GCM nonce, and there is
// no separate integrity key — skA is always empty for AEAD suites.
type aeadCipher struct {
	overhead int
	saltLen int
	protocol.EncrTransformId
}

func (c *aeadCipher) String() string { return c.EncrTransformId.String() }

func (c *aeadCipher) Overhead(clear []byte) int { return 8 + c.overhead }

func (c *aeadCipher) aead(skE []byte) (cipher.AEAD, []byte, error) {
	if len(skE) <= c.saltLen {
		return nil, nil, fmt.Errorf("aead key too short")
	}
	key, salt := skE[:len(skE)-c.saltLen], skE[len(skE)-c.saltLen:]
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	a, err := cipher.NewGCMWithTagSize(block, c.overhead)
	return a, salt, err
}

func (c *aeadCipher) VerifyDecrypt(ike, _, skE []byte, lg log.Logger) (dec []byte, err error) {
	a, salt, err := c.aead(skE)
	if err != nil {
		return nil, err
	}
	headers := ike[:protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH]
	body := ike[protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH:]
	if len(body) < 8+c.overhead {
		return nil, fmt.Errorf("aead body too short")
	}
	iv, ct := body[:8], body[8:]
	nonce := append(append([]byte{}, salt...), iv...)
	dec, err = a.Open(nil, nonce, ct, headers)
	level.Debug(lg).Log("msg", "aead verify&decrypt", "IV", hex.EncodeToString(iv))
	return
}

func (c *aeadCipher) EncryptMac(headers, payload, _, skE []byte, lg log.Logger) (b []byte, err error) {
	a, salt, err := c.aead(skE)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, 8)
	if _, err = rand.Read(iv); err != nil {
		return nil, err
	}
	nonce := append(append([]byte{}, salt...), iv...)
	ct := a.Seal(nil, nonce, payload, headers)
	b = append(headers, append(iv, ct...)...)
	level.Debug(lg).Log("msg", "aead encrypt&mac", "IV", hex.EncodeToString(iv))
	return
}

// aeadTransform builds an aeadCipher for the given transform, mirroring
// cipherTransform's (id, keyLen, existing) -> (cipher, ok) shape, with the
// key length added to the results, so
// NewCipherSuite tries the non-aead path first and falls back here.
func aeadTransform(cipherId uint16, keyLen int, existing *aeadCipher) (*aeadCipher, int, bool) {
	var overhead int
	switch protocol.EncrTransformId(cipherId) {
	case protocol.AEAD_AES_GCM_8:
		overhead = 8
	case protocol.AEAD_AES_GCM_12:
		overhead = 12
	case protocol.AEAD_AES_GCM_16:
		overhead = 16
	default:
		return nil, 0, false
	}
	if existing == nil {
		existing = &aeadCipher{}
	}
	existing.overhead = overhead
	existing.saltLen = 4
	existing.EncrTransformId = protocol.EncrTransformId(cipherId)
	return existing, keyLen + existing.saltLen, true
}
