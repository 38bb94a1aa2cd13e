package ike

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/childsa"
	"github.com/vpnsetup/strongswan/protocol"
)

// ChildConfig is the concrete childsa.ChildConfig this package hands to a
// Task, grounded on the legacy Config's ProposalEsp/TsI/TsR fields but
// widened with the extra knobs childsa.ChildConfig's interface needs.
type ChildConfig struct {
	EspProposals []*protocol.SaProposal
	Tsi, Tsr []childsa.Selector

	ChildMode childsa.Mode
	InactivityDur time.Duration
	ChildLabel []byte
	ChildLabelMode childsa.LabelMode

	Options map[childsa.Option]bool
	KeMethod protocol.DhTransformId
	HasKeMethod bool

	StaticReqid uint32
	MarkIn, MarkOut uint32
	IfIDIn, IfIDOut uint64
}

// DefaultChildConfig mirrors DefaultConfig's AES-CBC-SHA256 ESP default.
func DefaultChildConfig() *ChildConfig {
	return &ChildConfig{
		EspProposals: []*protocol.SaProposal{defaultEspProposal()},
		ChildMode: childsa.ModeTunnel,
		Options: map[childsa.Option]bool{},
	}
}

func defaultEspProposal() *protocol.SaProposal {
	return &protocol.SaProposal{
		IsLast: true,
		Number: 1,
		ProtocolId: protocol.ESP,
		Transforms: []*protocol.SaTransform{
			{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ENCR, TransformId: uint16(protocol.ENCR_AES_CBC)}, KeyLength: 256},
			{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_INTEG, TransformId: uint16(protocol.AUTH_HMAC_SHA2_256_128)}},
			{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_ESN, TransformId: 0}},
		},
	}
}

func (c *ChildConfig) SelectProposal(proposals []*protocol.SaProposal, flags protocol.SelectFlags) (*protocol.SaProposal, error) {
	chosen := protocol.SelectProposal(proposals, c.EspProposals, flags)
	if chosen == nil {
		return nil, errors.New("no acceptable esp proposal")
	}
	return chosen, nil
}

func (c *ChildConfig) Proposals() []*protocol.SaProposal { return c.EspProposals }

func (c *ChildConfig) TrafficSelectors() (tsi, tsr []childsa.Selector) { return c.Tsi, c.Tsr }

func (c *ChildConfig) Mode() childsa.Mode { return c.ChildMode }

func (c *ChildConfig) Inactivity() time.Duration { return c.InactivityDur }

func (c *ChildConfig) Label() []byte { return c.ChildLabel }

// SelectLabel implements the fixed/negotiate split LabelMode describes: a
// fixed label must match the peer's exactly, a negotiated one accepts
// whatever the peer offers (policy enforcement happens above this layer).
func (c *ChildConfig) SelectLabel(peer []byte) ([]byte, error) {
	switch c.ChildLabelMode {
	case childsa.LabelModeNone:
		return nil, nil
	case childsa.LabelModeFixed:
		if string(peer) != string(c.ChildLabel) {
			return nil, errors.New("security label mismatch")
		}
		return c.ChildLabel, nil
	default: // LabelModeNegotiate
		return peer, nil
	}
}

func (c *ChildConfig) HasOption(o childsa.Option) bool { return c.Options[o] }

func (c *ChildConfig) KEMethod() (protocol.DhTransformId, bool) { return c.KeMethod, c.HasKeMethod }

func (c *ChildConfig) LabelMode() childsa.LabelMode { return c.ChildLabelMode }

// Equals implements the duplicate-suppression comparison: same
// concrete type, same reqid/marks/if_ids/label and selector sets.
func (c *ChildConfig) Equals(other childsa.ChildConfig) bool {
	o, ok := other.(*ChildConfig)
	if !ok {
		return false
	}
	if c.StaticReqid != o.StaticReqid || c.MarkIn != o.MarkIn || c.MarkOut != o.MarkOut ||
		c.IfIDIn != o.IfIDIn || c.IfIDOut != o.IfIDOut || string(c.ChildLabel) != string(o.ChildLabel) {
		return false
	}
	return selectorsEqual(c.Tsi, o.Tsi) && selectorsEqual(c.Tsr, o.Tsr)
}

func selectorsEqual(a, b []childsa.Selector) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || a[i].IPProtocolID != b[i].IPProtocolID ||
			a[i].StartPort != b[i].StartPort || a[i].EndPort != b[i].EndPort ||
			!a[i].StartAddress.Equal(b[i].StartAddress) || !a[i].EndAddress.Equal(b[i].EndAddress) {
			return false
		}
	}
	return true
}

func (c *ChildConfig) Reqid() uint32 { return c.StaticReqid }

func (c *ChildConfig) Marks() (in, out uint32) { return c.MarkIn, c.MarkOut }

func (c *ChildConfig) IfIDs() (in, out uint64) { return c.IfIDIn, c.IfIDOut }

// AddSelector builds a pair of host/subnet selectors the same way the
// legacy Config.AddSelector did, adapted to childsa.Selector's net.IP
// fields instead of raw protocol.Selector byte slices.
func (c *ChildConfig) AddSelector(initiator, responder *net.IPNet) error {
	iFirst, iLast, err := IPNetToFirstLastAddress(initiator)
	if err != nil {
		return err
	}
	rFirst, rLast, err := IPNetToFirstLastAddress(responder)
	if err != nil {
		return err
	}
	c.Tsi = []childsa.Selector{{
		Type: protocol.TS_IPV4_ADDR_RANGE,
		StartPort: 0,
		EndPort: 65535,
		StartAddress: net.IP(iFirst),
		EndAddress: net.IP(iLast),
	}}
	c.Tsr = []childsa.Selector{{
		Type: protocol.TS_IPV4_ADDR_RANGE,
		StartPort: 0,
		EndPort: 65535,
		StartAddress: net.IP(rFirst),
		EndAddress: net.IP(rLast),
	}}
	return nil
}
