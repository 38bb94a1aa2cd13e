package childsa

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/protocol"
)

// phase replaces the C task interface's per-exchange method-table vtable
// with a tag dispatched in Build/Process (Design Note "Method-table/vtable
// objects").
type phase int

const (
	phaseInit phase = iota
	phaseMultiKE
	phaseDelete
	phaseDone
)

const (
	retryInterval = 30 * time.Second
	retryJitter = 10 * time.Second
)

// Task is the CHILD_SA creation task: proposal/KE negotiation, traffic
// selector narrowing, and SA installation for one CHILD_SA, run by either
// an initiator or a responder. It has no internal mutex; its contract
// requires the owning Session's single goroutine event loop to serialize
// all Build/Process calls (§5).
type Task struct {
	ikeSA IkeSA
	kernel Kernel
	cfg ChildConfig
	sched Scheduler
	bus Bus
	keymat Keymat
	log log.Logger

	// newChildSA mints the ChildSA handle the task installs into, grounded
	// on child_create.c's child_sa_create() factory call — kept as an
	// injected func rather than a Kernel method since allocating the
	// handle and allocating kernel resources are separate concerns.
	newChildSA func(protocol.ProtocolId) ChildSA

	initiatorRole bool
	phase phase

	myNonce, otherNonce []byte
	nonceGen NonceGen

	proposals []*protocol.SaProposal
	chosen *protocol.SaProposal

	tsi, tsr []Selector

	kex *kexRound
	pendingKE KeyExchange
	pendingErrorNotify *protocol.NotifyPayload

	mySpi, otherSpi uint32
	myCpi, otherCpi uint16
	protocolID protocol.ProtocolId
	mode Mode
	ipcompTransform uint8

	reqid uint32
	markIn, markOut uint32
	ifIDIn, ifIDOut uint64
	label []byte

	child ChildSA
	installed bool
	established bool

	rekey, retry, aborted, keFailed bool
	tfcv3 bool

	pinnedKEMethod protocol.DhTransformId
	pinnedKEMethodSet bool

	closeOnFirstChildFailure bool
}

// NewInitiatorTask constructs a Task that will drive a CREATE_CHILD_SA (or
// IKE_AUTH-piggybacked) exchange as the initiating side. Mirrors the
// teacher's constructor-injection style (tkm.go's NewTkmInitiator,
// initiator.go's NewInitiator) rather than a global registry.
func NewInitiatorTask(ikeSA IkeSA, kernel Kernel, cfg ChildConfig, sched Scheduler, bus Bus, keymat Keymat, newChildSA func(protocol.ProtocolId) ChildSA, lg log.Logger) *Task {
	t := newTask(ikeSA, kernel, cfg, sched, bus, keymat, newChildSA, lg)
	t.initiatorRole = true
	return t
}

// NewResponderTask constructs a Task that will answer a peer-initiated
// CHILD_SA creation exchange.
func NewResponderTask(ikeSA IkeSA, kernel Kernel, cfg ChildConfig, sched Scheduler, bus Bus, keymat Keymat, newChildSA func(protocol.ProtocolId) ChildSA, lg log.Logger) *Task {
	t := newTask(ikeSA, kernel, cfg, sched, bus, keymat, newChildSA, lg)
	t.initiatorRole = false
	return t
}

func newTask(ikeSA IkeSA, kernel Kernel, cfg ChildConfig, sched Scheduler, bus Bus, keymat Keymat, newChildSA func(protocol.ProtocolId) ChildSA, lg log.Logger) *Task {
	return &Task{
		ikeSA: ikeSA,
		kernel: kernel,
		cfg: cfg,
		sched: sched,
		bus: bus,
		keymat: keymat,
		newChildSA: newChildSA,
		log: lg,
		nonceGen: keymat.CreateNonceGen(),
		protocolID: protocol.ESP,
		mode: ModeTunnel,
		tfcv3: kernel.Features().Has(KernelFeatureTFCPadding),
	}
}

// Reqid, Marks, IfIDs, Label, Child, OtherSPI: supplemented accessors
// exposing state a rekey task or test harness inherits.
func (t *Task) Reqid() uint32 { return t.reqid }
func (t *Task) Marks() (in, out uint32) { return t.markIn, t.markOut }
func (t *Task) IfIDs() (in, out uint64) { return t.ifIDIn, t.ifIDOut }
func (t *Task) Label() []byte { return t.label }
func (t *Task) Child() ChildSA { return t.child }
func (t *Task) OtherSPI() uint32 { return t.otherSpi }
func (t *Task) Established() bool { return t.established }

// Close releases what the task holds regardless of outcome: the reqid
// reference goes back to the kernel, and KE state (including pending KE
// private material), proposals, selectors and nonces are dropped. Unless
// established, the child_sa handle is marked deleting and dropped, and the
// SPI/CPI values are zeroed; they are not handed back to the Kernel,
// which has no release call for them. Grounded on child_create.c's
// destroy().
func (t *Task) Close() {
	if t.reqid != 0 {
		t.kernel.ReleaseReqid(t.reqid)
	}
	if !t.established {
		// SPIs/CPIs we allocated but never finished using are simply
		// dropped; the kernel layer owns their lifetime once installed.
		t.mySpi = 0
		t.myCpi = 0
		if t.child != nil {
			t.child.SetState(ChildSAStateDeleting)
			t.child = nil
		}
	}
	t.kex = nil
	t.pendingKE = nil
	t.proposals = nil
	t.tsi, t.tsr = nil, nil
	t.myNonce, t.otherNonce = nil, nil
}

// migrate resets task state for an INVALID_KE_PAYLOAD retry, preserving
// exactly {ke_method, retry, rekey} and re-seeding my_nonce fresh rather
// than reusing it.
func (t *Task) migrate(suggested protocol.DhTransformId) error {
	nonce, err := t.nonceGen.Nonce(128)
	if err != nil {
		return errors.Wrap(err, "re-seeding nonce on retry")
	}
	t.myNonce = nonce
	t.otherNonce = nil
	t.tsi, t.tsr = nil, nil
	t.proposals = nil
	t.chosen = nil
	t.kex = nil
	t.pendingKE = nil
	t.keFailed = false
	t.retry = true
	t.pinnedKEMethod = suggested
	t.pinnedKEMethodSet = true
	return nil
}
