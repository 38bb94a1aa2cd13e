package crypto

import (
	"bytes"
	"testing"

	"github.com/vpnsetup/strongswan/protocol"
)

// noopLogger discards every log call, avoiding a go-kit/log dependency in
// the test fixtures that exercise Cipher implementations.
type noopLogger struct{}

func (noopLogger) Log(...interface{}) error { return nil }

func TestDiffieHellmanSharedSecretAgrees(t *testing.T) {
	initiator, err := newDhKeyExchange(protocol.MODP_1024)
	if err != nil {
		t.Fatalf("initiator: %v", err)
	}
	responder, err := newDhKeyExchange(protocol.MODP_1024)
	if err != nil {
		t.Fatalf("responder: %v", err)
	}

	if err := initiator.SetPeerPublicKey(responder.PublicKey()); err != nil {
		t.Fatalf("initiator SetPeerPublicKey: %v", err)
	}
	if err := responder.SetPeerPublicKey(initiator.PublicKey()); err != nil {
		t.Fatalf("responder SetPeerPublicKey: %v", err)
	}

	is, err := initiator.SharedSecret()
	if err != nil {
		t.Fatalf("initiator SharedSecret: %v", err)
	}
	rs, err := responder.SharedSecret()
	if err != nil {
		t.Fatalf("responder SharedSecret: %v", err)
	}
	if !bytes.Equal(is, rs) {
		t.Errorf("shared secrets disagree:\n initiator=%x\n responder=%x", is, rs)
	}
}

func TestDiffieHellmanRejectsOutOfRangePublicValue(t *testing.T) {
	ke, err := newDhKeyExchange(protocol.MODP_1024)
	if err != nil {
		t.Fatalf("newDhKeyExchange: %v", err)
	}
	if err := ke.SetPeerPublicKey([]byte{0}); err == nil {
		t.Errorf("expected error for a zero peer public value")
	}
}

func TestSharedSecretBeforeExchangeErrors(t *testing.T) {
	ke, err := newDhKeyExchange(protocol.MODP_1024)
	if err != nil {
		t.Fatalf("newDhKeyExchange: %v", err)
	}
	if _, err := ke.SharedSecret(); err == nil {
		t.Errorf("expected error reading shared secret before the exchange completes")
	}
}

func TestCreateKERejectsUnsupportedMethod(t *testing.T) {
	km := &Keymat{}
	if _, err := km.CreateKE(protocol.DhTransformId(9999)); err == nil {
		t.Errorf("expected ErrUnsupportedKEMethod for an unrecognized DH group")
	}
}

func TestPrfPlusIsDeterministicAndRespectsLength(t *testing.T) {
	prf, err := prfTranform(uint16(protocol.PRF_HMAC_SHA1))
	if err != nil {
		t.Fatalf("prfTranform: %v", err)
	}
	key := []byte("SK_d")
	seed := []byte("Ni|Nr")

	a := prf.PrfPlus(key, seed, 77)
	b := prf.PrfPlus(key, seed, 77)
	if !bytes.Equal(a, b) {
		t.Errorf("PrfPlus is not deterministic for identical inputs")
	}
	if len(a) != 77 {
		t.Errorf("len(PrfPlus(...)) = %d, want 77", len(a))
	}

	shorter := prf.PrfPlus(key, seed, 20)
	if !bytes.Equal(a[:20], shorter) {
		t.Errorf("PrfPlus should be a prefix-stable stream: a[:20]=%x, shorter=%x", a[:20], shorter)
	}
}

func TestDeriveChildKeysSlicesInFixedOrder(t *testing.T) {
	suite, err := NewCipherSuite([]*protocol.SaTransform{
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ENCR, TransformId: uint16(protocol.ENCR_AES_CBC)}, KeyLength: 128},
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_INTEG, TransformId: uint16(protocol.AUTH_HMAC_SHA1_96)}},
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_PRF, TransformId: uint16(protocol.PRF_HMAC_SHA1)}},
		{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ESN, TransformId: uint16(protocol.ESN_NONE)}, IsLast: true},
	})
	if err != nil {
		t.Fatalf("NewCipherSuite: %v", err)
	}

	km := &Keymat{SkD: []byte("skd-material-32-bytes-long-ok!!"), Suite: suite}

	a, err := newDhKeyExchange(protocol.MODP_1024)
	if err != nil {
		t.Fatalf("newDhKeyExchange: %v", err)
	}
	b, err := newDhKeyExchange(protocol.MODP_1024)
	if err != nil {
		t.Fatalf("newDhKeyExchange: %v", err)
	}
	if err := a.SetPeerPublicKey(b.PublicKey()); err != nil {
		t.Fatalf("SetPeerPublicKey: %v", err)
	}

	proposal := &protocol.SaProposal{ProtocolId: protocol.ESP}
	encI, integI, encR, integR, err := km.DeriveChildKeys(proposal, []KeyExchange{a}, []byte("Ni"), []byte("Nr"))
	if err != nil {
		t.Fatalf("DeriveChildKeys: %v", err)
	}
	if len(encI) != suite.KeyLen || len(encR) != suite.KeyLen {
		t.Errorf("encryption key lengths = %d/%d, want %d", len(encI), len(encR), suite.KeyLen)
	}
	if len(integI) != suite.MacKeyLen || len(integR) != suite.MacKeyLen {
		t.Errorf("integrity key lengths = %d/%d, want %d", len(integI), len(integR), suite.MacKeyLen)
	}
	if bytes.Equal(encI, encR) {
		t.Errorf("initiator and responder encryption keys should differ")
	}

	secret, err := a.SharedSecret()
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	seed := append(append(append([]byte{}, secret...), "Ni"...), "Nr"...)
	want := suite.Prf.PrfPlus(km.SkD, seed, 2*suite.KeyLen+2*suite.MacKeyLen)
	got := append(append(append(append([]byte{}, encI...), integI...), encR...), integR...)
	if !bytes.Equal(got, want) {
		t.Errorf("keys are not prf+(SK_d, g^ir | Ni | Nr) sliced as encI | integI | encR | integR")
	}
}

func TestDeriveChildKeysRequiresEstablishedSuite(t *testing.T) {
	km := &Keymat{}
	_, _, _, _, err := km.DeriveChildKeys(&protocol.SaProposal{}, nil, []byte("Ni"), []byte("Nr"))
	if err == nil {
		t.Errorf("expected error deriving keys without a cipher suite")
	}
}

func TestAeadCipherEncryptThenVerifyDecryptRoundTrips(t *testing.T) {
	c := &aeadCipher{overhead: 16, saltLen: 4, EncrTransformId: protocol.AEAD_AES_GCM_16}
	skE := make([]byte, 16+c.saltLen) // AES-128 key + 4-byte salt
	for i := range skE {
		skE[i] = byte(i + 1)
	}
	headers := make([]byte, protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH)
	payload := []byte("SK payload cleartext, padded per RFC 7296 section 3.14")

	enc, err := c.EncryptMac(append([]byte{}, headers...), payload, nil, skE, noopLogger{})
	if err != nil {
		t.Fatalf("EncryptMac: %v", err)
	}

	dec, err := c.VerifyDecrypt(enc, nil, skE, noopLogger{})
	if err != nil {
		t.Fatalf("VerifyDecrypt: %v", err)
	}
	if !bytes.Equal(dec, payload) {
		t.Errorf("round-tripped payload = %q, want %q", dec, payload)
	}
}

func TestAeadCipherVerifyDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := &aeadCipher{overhead: 16, saltLen: 4, EncrTransformId: protocol.AEAD_AES_GCM_16}
	skE := make([]byte, 16+c.saltLen)
	headers := make([]byte, protocol.IKE_HEADER_LEN+protocol.PAYLOAD_HEADER_LENGTH)

	enc, err := c.EncryptMac(append([]byte{}, headers...), []byte("hello"), nil, skE, noopLogger{})
	if err != nil {
		t.Fatalf("EncryptMac: %v", err)
	}
	enc[len(enc)-1] ^= 0xff

	if _, err := c.VerifyDecrypt(enc, nil, skE, noopLogger{}); err == nil {
		t.Errorf("expected authentication failure on tampered ciphertext")
	}
}
