package childsa_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/vpnsetup/strongswan/childsa"
	"github.com/vpnsetup/strongswan/crypto"
	"github.com/vpnsetup/strongswan/protocol"
)

// keymatAdapter bridges *crypto.Keymat onto childsa.Keymat, mirroring the
// production adapter the root package wires between these two structurally
// identical-but-nominally-distinct interfaces.
type keymatAdapter struct{ km *crypto.Keymat }

func (a keymatAdapter) CreateNonceGen() childsa.NonceGen { return a.km.CreateNonceGen() }

func (a keymatAdapter) CreateKE(method protocol.DhTransformId) (childsa.KeyExchange, error) {
	return a.km.CreateKE(method)
}

func (a keymatAdapter) DeriveChildKeys(proposal *protocol.SaProposal, kes []childsa.KeyExchange, ni, nr []byte) (encI, integI, encR, integR []byte, err error) {
	cryptoKes := make([]crypto.KeyExchange, len(kes))
	for i, ke := range kes {
		cryptoKes[i] = ke
	}
	return a.km.DeriveChildKeys(proposal, cryptoKes, ni, nr)
}

// newTestKeymat builds the CipherSuite DeriveChildKeys needs. ESP proposals
// never carry a PRF transform on the wire (only IKE proposals do), but
// CipherSuite.Prf must be set for prf+ to run, so the IKE_SA's already-
// negotiated PRF is added here the way the real Keymat would receive it
// from the owning IkeSA rather than from the CHILD_SA's own proposal.
func newTestKeymat(skD []byte, espTransforms protocol.Transforms) childsa.Keymat {
	trs := append(espTransforms.AsList(), &protocol.SaTransform{
		Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_PRF, TransformId: uint16(protocol.PRF_HMAC_SHA1)},
	})
	suite, err := crypto.NewCipherSuite(trs)
	if err != nil {
		panic(err)
	}
	return keymatAdapter{km: &crypto.Keymat{SkD: skD, Suite: suite}}
}

// fakeChildConfig is a minimal childsa.ChildConfig for a single tunnel-mode
// ESP child between two /32 hosts.
type fakeChildConfig struct {
	proposals []*protocol.SaProposal
	tsi, tsr []childsa.Selector
	mode childsa.Mode
	keMethod protocol.DhTransformId
	hasKeMethod bool
	ipcomp bool
}

func (c *fakeChildConfig) SelectProposal(offered []*protocol.SaProposal, flags protocol.SelectFlags) (*protocol.SaProposal, error) {
	chosen := protocol.SelectProposal(offered, c.proposals, flags)
	if chosen == nil {
		return nil, childsa.ErrNoProposalChosen
	}
	return chosen, nil
}
func (c *fakeChildConfig) Proposals() []*protocol.SaProposal { return c.proposals }
func (c *fakeChildConfig) TrafficSelectors() (tsi, tsr []childsa.Selector) { return c.tsi, c.tsr }
func (c *fakeChildConfig) Mode() childsa.Mode { return c.mode }
func (c *fakeChildConfig) Inactivity() time.Duration { return 0 }
func (c *fakeChildConfig) Label() []byte { return nil }
func (c *fakeChildConfig) SelectLabel(peer []byte) ([]byte, error) { return peer, nil }
func (c *fakeChildConfig) HasOption(o childsa.Option) bool { return o == childsa.OptIPCompEnabled && c.ipcomp }
func (c *fakeChildConfig) KEMethod() (protocol.DhTransformId, bool) { return c.keMethod, c.hasKeMethod }
func (c *fakeChildConfig) LabelMode() childsa.LabelMode { return childsa.LabelModeNone }
func (c *fakeChildConfig) Equals(other childsa.ChildConfig) bool { return c == other }
func (c *fakeChildConfig) Reqid() uint32 { return 0 }
func (c *fakeChildConfig) Marks() (in, out uint32) { return 0, 0 }
func (c *fakeChildConfig) IfIDs() (in, out uint64) { return 0, 0 }

func espProposal(trs protocol.Transforms) []*protocol.SaProposal {
	return []*protocol.SaProposal{{
		IsLast: true,
		Number: 1,
		ProtocolId: protocol.ESP,
		Transforms: trs.AsList(),
	}}
}

func hostSelector(ip string) childsa.Selector {
	return childsa.Selector{
		Type: protocol.TS_IPV4_ADDR_RANGE,
		StartPort: 0,
		EndPort: 65535,
		StartAddress: net.ParseIP(ip).To4(),
		EndAddress: net.ParseIP(ip).To4(),
	}
}

// fakeChildSA records every installer call the task makes against it.
type fakeChildSA struct {
	cfg childsa.ChildConfig
	state childsa.ChildSAState

	mode childsa.Mode
	proto protocol.ProtocolId
	cpiIn, cpiOut uint16
	ipcompTransform uint8
	myTS, otherTS []childsa.Selector

	inboundInstalled, outboundInstalled bool
	inEnc, inInteg, outEnc, outInteg []byte
}

func (c *fakeChildSA) Reqid() uint32 { return 0 }
func (c *fakeChildSA) SpiIn() uint32 { return 0 }
func (c *fakeChildSA) SpiOut() uint32 { return 0 }
func (c *fakeChildSA) Protocol() protocol.ProtocolId { return c.proto }
func (c *fakeChildSA) Config() childsa.ChildConfig { return c.cfg }
func (c *fakeChildSA) SetMode(m childsa.Mode) { c.mode = m }
func (c *fakeChildSA) SetProtocol(p protocol.ProtocolId) { c.proto = p }
func (c *fakeChildSA) SetIPComp(cpiIn, cpiOut uint16, transform uint8) {
	c.cpiIn, c.cpiOut, c.ipcompTransform = cpiIn, cpiOut, transform
}
func (c *fakeChildSA) SetPolicies(myTS, otherTS []childsa.Selector) error {
	c.myTS, c.otherTS = myTS, otherTS
	return nil
}
func (c *fakeChildSA) Install(inbound bool, encr, integ []byte) error {
	if inbound {
		c.inboundInstalled = true
		c.inEnc, c.inInteg = append([]byte{}, encr...), append([]byte{}, integ...)
	} else {
		c.outboundInstalled = true
		c.outEnc, c.outInteg = append([]byte{}, encr...), append([]byte{}, integ...)
	}
	return nil
}
func (c *fakeChildSA) RegisterOutbound(encr, integ []byte) error {
	c.outboundInstalled = true
	c.outEnc, c.outInteg = append([]byte{}, encr...), append([]byte{}, integ...)
	return nil
}
func (c *fakeChildSA) State() childsa.ChildSAState { return c.state }
func (c *fakeChildSA) SetState(s childsa.ChildSAState) { c.state = s }

// fakeKernel hands out predictable SPIs/CPIs and records released reqids.
type fakeKernel struct {
	mu sync.Mutex
	nextSPI uint32
	nextCPI uint16
	released []uint32
}

func (k *fakeKernel) AllocSPI(protocol.ProtocolId) (uint32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextSPI++
	return k.nextSPI, nil
}
func (k *fakeKernel) AllocCPI() (uint16, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextCPI++
	return k.nextCPI, nil
}
func (k *fakeKernel) RefReqid(reqid uint32) uint32 {
	if reqid != 0 {
		return reqid
	}
	return 42
}
func (k *fakeKernel) ReleaseReqid(reqid uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.released = append(k.released, reqid)
}
func (k *fakeKernel) Features() childsa.KernelFeatures { return 0 }

// fakeScheduler runs nothing; the tests never exercise retry/inactivity timing.
type fakeScheduler struct{ jobs int }

func (s *fakeScheduler) ScheduleJob(job func(), delay time.Duration) { s.jobs++ }

// fakeBus accepts every narrow proposal unchanged and records alerts.
type fakeBus struct {
	alerts []error
}

func (b *fakeBus) Narrow(sa childsa.ChildSA, hook childsa.NarrowHook, tsi, tsr []childsa.Selector) ([]childsa.Selector, []childsa.Selector) {
	return tsi, tsr
}
func (b *fakeBus) ChildDerivedKeys(sa childsa.ChildSA, initiator bool, encr, integ []byte) {}
func (b *fakeBus) ChildUpdown(sa childsa.ChildSA, up bool) {}
func (b *fakeBus) Alert(kind childsa.AlertKind, err error) { b.alerts = append(b.alerts, err) }

// fakeIkeSA is the parent IKE_SA both tasks run under.
type fakeIkeSA struct {
	mine, other net.Addr
	natHere, natThere bool
	keymat childsa.Keymat
	children []childsa.ChildSA
	queued []*childsa.Task
}

func (s *fakeIkeSA) MyHost() net.Addr { return s.mine }
func (s *fakeIkeSA) OtherHost() net.Addr { return s.other }
func (s *fakeIkeSA) HasCondition(c childsa.Condition) bool {
	switch c {
	case childsa.CondNatHere:
		return s.natHere
	case childsa.CondNatThere:
		return s.natThere
	default:
		return false
	}
}
func (s *fakeIkeSA) SupportsExtension(childsa.Extension) bool { return false }
func (s *fakeIkeSA) IfID() uint64 { return 0 }
func (s *fakeIkeSA) State() childsa.IkeSAState { return childsa.IkeSAStateEstablished }
func (s *fakeIkeSA) AddChildSA(sa childsa.ChildSA) { s.children = append(s.children, sa) }
func (s *fakeIkeSA) ChildSAs() []childsa.ChildSA { return s.children }
func (s *fakeIkeSA) QueueTaskDelayed(t *childsa.Task, d time.Duration) { s.queued = append(s.queued, t) }
func (s *fakeIkeSA) Keymat() childsa.Keymat { return s.keymat }

func addr(ip string) net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: 500}
}

// harness wires one initiator Task and one responder Task that believe
// they're negotiating the same CHILD_SA, run end to end through
// Build/Process with whatever ESP transforms the test supplies (PFS only
// when those carry a DH transform).
type harness struct {
	t *testing.T

	initCfg, respCfg *fakeChildConfig
	initIkeSA, respIkeSA *fakeIkeSA
	initChild, respChild *fakeChildSA
	initTask, respTask *childsa.Task
	initBus, respBus *fakeBus
	initKernel, respKernel *fakeKernel
}

func newHarness(t *testing.T, proposals protocol.Transforms, ipcomp bool) *harness {
	t.Helper()
	tsi, tsr := []childsa.Selector{hostSelector("10.0.0.1")}, []childsa.Selector{hostSelector("10.0.0.2")}

	h := &harness{t: t}
	h.initCfg = &fakeChildConfig{proposals: espProposal(proposals), tsi: tsi, tsr: tsr, mode: childsa.ModeTunnel, ipcomp: ipcomp}
	h.respCfg = &fakeChildConfig{proposals: espProposal(proposals), tsi: tsi, tsr: tsr, mode: childsa.ModeTunnel, ipcomp: ipcomp}

	h.initIkeSA = &fakeIkeSA{mine: addr("192.0.2.1"), other: addr("192.0.2.2"), keymat: newTestKeymat([]byte("initiator-sk-d-material-32-byte!"), proposals)}
	h.respIkeSA = &fakeIkeSA{mine: addr("192.0.2.2"), other: addr("192.0.2.1"), keymat: newTestKeymat([]byte("initiator-sk-d-material-32-byte!"), proposals)}

	h.initBus = &fakeBus{}
	h.respBus = &fakeBus{}
	h.initKernel, h.respKernel = &fakeKernel{}, &fakeKernel{}

	h.initTask = childsa.NewInitiatorTask(h.initIkeSA, h.initKernel, h.initCfg, &fakeScheduler{}, h.initBus, h.initIkeSA.keymat,
		func(p protocol.ProtocolId) childsa.ChildSA { h.initChild = &fakeChildSA{cfg: h.initCfg, proto: p}; return h.initChild },
		log.NewNopLogger())
	h.respTask = childsa.NewResponderTask(h.respIkeSA, h.respKernel, h.respCfg, &fakeScheduler{}, h.respBus, h.respIkeSA.keymat,
		func(p protocol.ProtocolId) childsa.ChildSA { h.respChild = &fakeChildSA{cfg: h.respCfg, proto: p}; return h.respChild },
		log.NewNopLogger())
	return h
}

// run drives one CREATE_CHILD_SA round trip: initiator builds its request,
// responder processes it and builds its response, initiator processes the
// response. Returns the final statuses from each side's last call.
func (h *harness) run(exchange protocol.IkeExchangeType) (initStatus, respStatus childsa.Status) {
	req, _, err := h.initTask.Build(exchange)
	if err != nil {
		h.t.Fatalf("initiator Build: %v", err)
	}

	if _, err := h.respTask.Process(exchange, req); err != nil {
		h.t.Fatalf("responder Process: %v", err)
	}

	resp, respStatus, err := h.respTask.Build(exchange)
	if err != nil {
		h.t.Fatalf("responder Build: %v", err)
	}

	initStatus, err = h.initTask.Process(exchange, resp)
	if err != nil {
		h.t.Fatalf("initiator Process: %v", err)
	}
	return initStatus, respStatus
}

func TestCreateChildSANoPFSInstallsMatchingKeys(t *testing.T) {
	h := newHarness(t, protocol.ESP_AES_CBC_SHA1_96, false)

	initStatus, respStatus := h.run(protocol.CREATE_CHILD_SA)

	if initStatus != childsa.StatusSuccess {
		t.Errorf("initiator status = %v, want SUCCESS", initStatus)
	}
	if respStatus != childsa.StatusSuccess {
		t.Errorf("responder status = %v, want SUCCESS", respStatus)
	}
	if !h.initTask.Established() || !h.respTask.Established() {
		t.Errorf("both tasks should report Established()")
	}
	if !h.initChild.inboundInstalled || !h.initChild.outboundInstalled {
		t.Errorf("initiator child should have both directions installed")
	}
	if !h.respChild.inboundInstalled || !h.respChild.outboundInstalled {
		t.Errorf("responder child should have both directions installed")
	}

	// the initiator's outbound key must equal the responder's inbound key,
	// and vice versa, since they're deriving from the same Ni/Nr/SK_d.
	if string(h.initChild.outEnc) != string(h.respChild.inEnc) {
		t.Errorf("initiator outbound encr key != responder inbound encr key")
	}
	if string(h.initChild.inEnc) != string(h.respChild.outEnc) {
		t.Errorf("initiator inbound encr key != responder outbound encr key")
	}
	if len(h.initBus.alerts) != 0 || len(h.respBus.alerts) != 0 {
		t.Errorf("unexpected alerts: init=%v resp=%v", h.initBus.alerts, h.respBus.alerts)
	}
}

func TestCreateChildSAWithPFSCompletesKeyExchange(t *testing.T) {
	trs := protocol.Transforms{
		protocol.TRANSFORM_TYPE_ENCR: protocol.ESP_AES_CBC_SHA1_96[protocol.TRANSFORM_TYPE_ENCR],
		protocol.TRANSFORM_TYPE_INTEG: protocol.ESP_AES_CBC_SHA1_96[protocol.TRANSFORM_TYPE_INTEG],
		protocol.TRANSFORM_TYPE_ESN: protocol.ESP_AES_CBC_SHA1_96[protocol.TRANSFORM_TYPE_ESN],
		protocol.TRANSFORM_TYPE_DH: &protocol.SaTransform{Transform: protocol.Transform{Type: protocol.TRANSFORM_TYPE_DH, TransformId: uint16(protocol.MODP_1024)}, IsLast: true},
	}
	h := newHarness(t, trs, false)
	h.initCfg.keMethod, h.initCfg.hasKeMethod = protocol.MODP_1024, true

	initStatus, respStatus := h.run(protocol.CREATE_CHILD_SA)

	if initStatus != childsa.StatusSuccess || respStatus != childsa.StatusSuccess {
		t.Fatalf("expected success on both sides, got init=%v resp=%v", initStatus, respStatus)
	}
	if string(h.initChild.outEnc) != string(h.respChild.inEnc) {
		t.Errorf("PFS-derived keys disagree between initiator and responder")
	}
}

func TestCreateChildSAWithIPCompNegotiatesCPIs(t *testing.T) {
	h := newHarness(t, protocol.ESP_AES_CBC_SHA1_96, true)

	initStatus, respStatus := h.run(protocol.CREATE_CHILD_SA)

	if initStatus != childsa.StatusSuccess || respStatus != childsa.StatusSuccess {
		t.Fatalf("expected success, got init=%v resp=%v", initStatus, respStatus)
	}
	if h.initChild.cpiOut == 0 || h.respChild.cpiIn == 0 {
		t.Errorf("expected ipcomp cpis to be installed on both sides")
	}
}

func TestCreateChildSARejectsMismatchedProposals(t *testing.T) {
	h := newHarness(t, protocol.ESP_AES_CBC_SHA1_96, false)
	h.respCfg.proposals = espProposal(protocol.ESP_NULL_SHA1_96)

	req, _, err := h.initTask.Build(protocol.CREATE_CHILD_SA)
	if err != nil {
		t.Fatalf("initiator Build: %v", err)
	}
	status, err := h.respTask.Process(protocol.CREATE_CHILD_SA, req)
	if err == nil {
		t.Fatalf("expected an error selecting a mismatched proposal")
	}
	if status != childsa.StatusFailed {
		t.Errorf("status = %v, want StatusFailed", status)
	}
	if len(h.respBus.alerts) != 1 {
		t.Errorf("expected exactly one alert, got %d", len(h.respBus.alerts))
	}
}

func TestDuplicateChildRequestIsNotReinitiated(t *testing.T) {
	h := newHarness(t, protocol.ESP_AES_CBC_SHA1_96, false)
	existing := &fakeChildSA{cfg: h.initCfg}
	h.initIkeSA.children = append(h.initIkeSA.children, existing)

	_, status, err := h.initTask.Build(protocol.CREATE_CHILD_SA)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if status != childsa.StatusSuccess {
		t.Errorf("status = %v, want SUCCESS (duplicate suppressed)", status)
	}
}

func TestTaskCloseReleasesReqidAndUninstalledChild(t *testing.T) {
	h := newHarness(t, protocol.ESP_AES_CBC_SHA1_96, false)
	if _, _, err := h.initTask.Build(protocol.CREATE_CHILD_SA); err != nil {
		t.Fatalf("Build: %v", err)
	}

	h.initTask.Close()

	if h.initChild.State() != childsa.ChildSAStateDeleting {
		t.Errorf("an uninstalled child should be marked deleting on Close")
	}
	if got := h.initKernel.released; len(got) != 1 || got[0] != 42 {
		t.Errorf("released reqids = %v, want [42]", got)
	}
}
