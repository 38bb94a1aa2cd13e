package ike

import (
	"github.com/vpnsetup/strongswan/childsa"
	"github.com/vpnsetup/strongswan/crypto"
	"github.com/vpnsetup/strongswan/protocol"
)

// keymatAdapter satisfies childsa.Keymat on top of a *crypto.Keymat. The two
// packages declare structurally identical KeyExchange/Keymat interfaces on
// purpose (childsa never imports crypto, per its package doc), so this is
// the only place the two method sets need to be bridged.
type keymatAdapter struct {
	km *crypto.Keymat
}

func newKeymatAdapter(km *crypto.Keymat) childsa.Keymat {
	return keymatAdapter{km: km}
}

func (a keymatAdapter) CreateNonceGen() childsa.NonceGen {
	return a.km.CreateNonceGen()
}

func (a keymatAdapter) CreateKE(method protocol.DhTransformId) (childsa.KeyExchange, error) {
	ke, err := a.km.CreateKE(method)
	if err != nil {
		return nil, err
	}
	return ke, nil
}

func (a keymatAdapter) DeriveChildKeys(proposal *protocol.SaProposal, kes []childsa.KeyExchange, ni, nr []byte) (encI, integI, encR, integR []byte, err error) {
	cryptoKes := make([]crypto.KeyExchange, len(kes))
	for i, ke := range kes {
		cryptoKes[i] = ke
	}
	return a.km.DeriveChildKeys(proposal, cryptoKes, ni, nr)
}
