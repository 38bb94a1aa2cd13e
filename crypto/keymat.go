package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/protocol"
)

// ErrUnsupportedKEMethod is returned by CreateKE for any DhTransformId this
// module has no group for, including the post-quantum methods RFC 9370's
// ADDITIONAL_KEY_EXCHANGE slots can carry: no PQ KEM is implemented here,
// so the multi-KE orchestrator in childsa/ must be able to reject an
// unreachable method cleanly rather than crash on a nil group.
var ErrUnsupportedKEMethod = errors.New("unsupported key exchange method")

// KeyExchange is one leg of a (possibly multi-stage) key exchange, scoped
// to the lifetime of a single CREATE_CHILD_SA or IKE_FOLLOWUP_KE round.
// Grounded on tkm.go's DhCreate/DhGenerateKey pair, generalized so the
// childsa task can hold several of these concurrently across RFC 9370's
// additional key exchange slots.
type KeyExchange interface {
	Method() protocol.DhTransformId
	PublicKey() []byte
	SetPeerPublicKey(peer []byte) error
	SharedSecret() ([]byte, error)
}

type dhKeyExchange struct {
	method protocol.DhTransformId
	group dhGroup
	private *big.Int
	public *big.Int
	shared *big.Int
}

func newDhKeyExchange(method protocol.DhTransformId) (*dhKeyExchange, error) {
	group, ok := kexAlgoMap[method]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedKEMethod, "method %d", method)
	}
	priv, err := group.private(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &dhKeyExchange{
		method: method,
		group: group,
		private: priv,
		public: group.public(priv),
	}, nil
}

func (k *dhKeyExchange) Method() protocol.DhTransformId { return k.method }

func (k *dhKeyExchange) PublicKey() []byte { return k.public.Bytes() }

func (k *dhKeyExchange) SetPeerPublicKey(peer []byte) error {
	shared, err := k.group.diffieHellman(new(big.Int).SetBytes(peer), k.private)
	if err != nil {
		return err
	}
	k.shared = shared
	return nil
}

func (k *dhKeyExchange) SharedSecret() ([]byte, error) {
	if k.shared == nil {
		return nil, fmt.Errorf("diffie-hellman exchange not completed")
	}
	return k.shared.Bytes(), nil
}

// NonceGen hands out the per-exchange nonce RFC 7296 §2.10 requires (at
// least half the negotiated PRF's key size).
type NonceGen interface {
	Nonce(minBits int) ([]byte, error)
}

type randNonceGen struct{}

func (randNonceGen) Nonce(minBits int) ([]byte, error) {
	n := (minBits + 7) / 8
	if n < protocol.NONCE_MIN_LEN {
		n = protocol.NONCE_MIN_LEN
	}
	if n > protocol.NONCE_MAX_LEN {
		n = protocol.NONCE_MAX_LEN
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Keymat derives CHILD_SA key material for a single negotiated proposal,
// grounded on tkm.go's IpsecSaCreate: KEYMAT = prf+(SK_d, Ni | Nr),
// sliced encr-initiator, integ-initiator, encr-responder, integ-responder
// in that fixed order regardless of which side is calling.
type Keymat struct {
	SkD []byte
	Suite *CipherSuite
}

func (km *Keymat) CreateNonceGen() NonceGen { return randNonceGen{} }

func (km *Keymat) CreateKE(method protocol.DhTransformId) (KeyExchange, error) {
	return newDhKeyExchange(method)
}

// DeriveChildKeys implements the childsa.Keymat collaborator contract.
// kes carries the key exchanges performed for this negotiation in order
// (classical DH first, then any additional post-quantum stages per
// RFC 9370); their shared secrets are concatenated in that order ahead of
// Ni|Nr in the prf+ seed (RFC 7296 §2.17: g^ir | Ni | Nr).
func (km *Keymat) DeriveChildKeys(proposal *protocol.SaProposal, kes []KeyExchange, ni, nr []byte) (encI, integI, encR, integR []byte, err error) {
	if km.Suite == nil || km.Suite.Prf == nil {
		return nil, nil, nil, nil, fmt.Errorf("keymat: cipher suite not established")
	}
	var seed []byte
	for _, ke := range kes {
		secret, serr := ke.SharedSecret()
		if serr != nil {
			return nil, nil, nil, nil, serr
		}
		seed = append(seed, secret...)
	}
	seed = append(append(seed, ni...), nr...)
	kmLen := 2*km.Suite.KeyLen + 2*km.Suite.MacKeyLen
	keymat := km.Suite.Prf.PrfPlus(km.SkD, seed, kmLen)

	off := 0
	encI, off = slice(keymat, off, km.Suite.KeyLen)
	integI, off = slice(keymat, off, km.Suite.MacKeyLen)
	encR, off = slice(keymat, off, km.Suite.KeyLen)
	integR, _ = slice(keymat, off, km.Suite.MacKeyLen)
	return encI, integI, encR, integR, nil
}

func slice(b []byte, off, n int) ([]byte, int) {
	if n == 0 {
		return nil, off
	}
	return b[off : off+n], off + n
}
