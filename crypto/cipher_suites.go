package crypto

import (
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/vpnsetup/strongswan/protocol"
)

// Cipher provides encryption and integrity protection for SK payloads.
// AEAD suites fold both into one transform; simpleCipher composes a block
// cipher with a separate HMAC. Both take the logger as a parameter rather
// than holding one, so a Cipher can be built once per IkeSA and reused
// across every message the childsa/ task logs through its own logger.
type Cipher interface {
	Overhead(clear []byte) int
	VerifyDecrypt(ike, skA, skE []byte, log log.Logger) (dec []byte, err error)
	EncryptMac(headers, payload, skA, skE []byte, log log.Logger) (b []byte, err error)
}

type CipherSuite struct {
	Cipher // aead or non-aead
	Prf *Prf
	DhGroup dhGroup

	// Lengths, in bytes, of the key material needed for each component.
	KeyLen, MacKeyLen int
}

// NewCipherSuite builds a CipherSuite from a chosen proposal's transforms,
// grounded on the root package's NewCipherSuite but adapted to the
// protocol.SaTransform shape protocol/protocol.go now exposes.
func NewCipherSuite(trs []*protocol.SaTransform) (*CipherSuite, error) {
	cs := &CipherSuite{}
	var aead *aeadCipher
	var cipher *simpleCipher

	for _, tr := range trs {
		switch tr.Transform.Type {
		case protocol.TRANSFORM_TYPE_DH:
			dh, ok := kexAlgoMap[protocol.DhTransformId(tr.Transform.TransformId)]
			if !ok {
				return nil, fmt.Errorf("unsupported dh transform %d", tr.Transform.TransformId)
			}
			cs.DhGroup = dh
		case protocol.TRANSFORM_TYPE_PRF:
			prf, err := prfTranform(tr.Transform.TransformId)
			if err != nil {
				return nil, err
			}
			cs.Prf = prf
		case protocol.TRANSFORM_TYPE_ENCR:
			keyLen := int(tr.KeyLength) / 8 // attribute is in bits
			var ok bool
			if cipher, ok = cipherTransform(tr.Transform.TransformId, keyLen, cipher); !ok {
				if aead, keyLen, ok = aeadTransform(tr.Transform.TransformId, keyLen, aead); !ok {
					return nil, fmt.Errorf("unsupported cipher transform %d", tr.Transform.TransformId)
				}
			}
			cs.KeyLen = keyLen
		case protocol.TRANSFORM_TYPE_INTEG:
			var ok bool
			if cipher, ok = integrityTransform(tr.Transform.TransformId, cipher); !ok {
				return nil, fmt.Errorf("unsupported mac transform %d", tr.Transform.TransformId)
			}
			cs.MacKeyLen = cipher.macKeyLen
		case protocol.TRANSFORM_TYPE_ESN:
			// nothing to build: ESN is a kernel-side replay window flag.
		default:
			return nil, fmt.Errorf("unsupported transform type %d", tr.Transform.Type)
		}
	}
	if cipher == nil && aead == nil {
		return nil, fmt.Errorf("no encryption transform selected")
	}
	if cipher != nil && aead != nil {
		return nil, fmt.Errorf("cannot combine an aead transform with a separate integrity transform")
	}
	if cipher != nil {
		cs.Cipher = cipher
	}
	if aead != nil {
		cs.Cipher = aead
		cs.MacKeyLen = 0
	}
	return cs, nil
}

func (cs *CipherSuite) CheckIkeTransforms(lg log.Logger) error {
	if cs.DhGroup == nil || cs.Prf == nil {
		return fmt.Errorf("ike cipher suite missing dh group or prf")
	}
	level.Debug(lg).Log("msg", "ike cipher suite", "keyLen", cs.KeyLen, "macKeyLen", cs.MacKeyLen)
	return nil
}

func (cs *CipherSuite) CheckEspTransforms(lg log.Logger) error {
	level.Debug(lg).Log("msg", "esp cipher suite", "keyLen", cs.KeyLen, "macKeyLen", cs.MacKeyLen)
	return nil
}
