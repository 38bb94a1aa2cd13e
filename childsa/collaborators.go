// Package childsa implements the CHILD_SA creation task: proposal and key
// exchange negotiation, traffic selector narrowing, IPComp and SA
// installation, for both the first CHILD_SA piggybacked on IKE_AUTH and
// later CREATE_CHILD_SA exchanges, run by either the initiator or the
// responder. The task never touches a socket or a message's encryption:
// it is handed already-decrypted protocol.Payloads by the owning IkeSA and
// returns payloads to be encrypted and sent, leaving transport and
// IKE_SA-level exchange handling entirely to that collaborator.
package childsa

import (
	"net"
	"time"

	"github.com/vpnsetup/strongswan/protocol"
)

// IkeSA is the parent security association a Task runs under, narrowed to
// the surface the task actually calls so a host process's real IKE_SA type
// can implement it without the task depending on that type directly, and
// so it can be faked in tests without building a whole IKE_SA.
type IkeSA interface {
	MyHost() net.Addr
	OtherHost() net.Addr
	HasCondition(Condition) bool
	SupportsExtension(Extension) bool
	IfID() uint64
	State() IkeSAState
	AddChildSA(ChildSA)
	ChildSAs() []ChildSA
	QueueTaskDelayed(*Task, time.Duration)
	Keymat() Keymat
}

// Condition mirrors child_create.c's ike_condition_t flags this task reads.
type Condition int

const (
	CondNatHere Condition = iota
	CondNatThere
	CondOriginalInitiator
)

// Extension mirrors child_create.c's ike_extension_t flags this task reads.
type Extension int

const (
	ExtMultipleAuth Extension = iota
	ExtMobike
	ExtIkeFollowupKE
)

// IkeSAState is the subset of IKE_SA lifecycle state the task cares about:
// whether it may still send (ESTABLISHED) or must fail fast (DELETING).
type IkeSAState int

const (
	IkeSAStateConnecting IkeSAState = iota
	IkeSAStateEstablished
	IkeSAStateRekeying
	IkeSAStateDeleting
)

// ChildSA is the installed-SA handle the task creates, configures, and
// installs through, grounded on child_create.c's child_sa_t calls
// (set_mode, set_protocol, set_ipcomp, set_policies, install,
// register_outbound) the installer sequence below calls directly.
// IkeSA.AddChildSA/ChildSAs reference it by this same interface.
type ChildSA interface {
	Reqid() uint32
	SpiIn() uint32
	SpiOut() uint32
	Protocol() protocol.ProtocolId
	Config() ChildConfig

	SetMode(Mode)
	SetProtocol(protocol.ProtocolId)
	SetIPComp(cpiIn, cpiOut uint16, transform uint8)
	SetPolicies(myTS, otherTS []Selector) error
	Install(inbound bool, encr, integ []byte) error
	RegisterOutbound(encr, integ []byte) error
	State() ChildSAState
	SetState(ChildSAState)
}

// ChildSAState mirrors child_create.c's child_sa_state_t values the
// installer transitions through.
type ChildSAState int

const (
	ChildSAStateCreated ChildSAState = iota
	ChildSAStateInstalling
	ChildSAStateInstalled
	ChildSAStateRekeyed
	ChildSAStateDeleting
)

// Keymat derives per-exchange key material. CreateKE and DeriveChildKeys
// are implemented by crypto.Keymat; this interface exists so childsa never
// imports crypto directly, and is bridged onto the concrete type by
// keymatAdapter at the root package.
type Keymat interface {
	CreateNonceGen() NonceGen
	CreateKE(method protocol.DhTransformId) (KeyExchange, error)
	DeriveChildKeys(proposal *protocol.SaProposal, kes []KeyExchange, ni, nr []byte) (encI, integI, encR, integR []byte, err error)
}

// NonceGen and KeyExchange mirror crypto.NonceGen/KeyExchange's method
// sets so childsa depends only on its own interfaces.
type NonceGen interface {
	Nonce(minBits int) ([]byte, error)
}

type KeyExchange interface {
	Method() protocol.DhTransformId
	PublicKey() []byte
	SetPeerPublicKey(peer []byte) error
	SharedSecret() ([]byte, error)
}

// Kernel is the SPI/CPI/reqid allocator and feature probe (SA and policy
// installation go through ChildSA, not this interface),
// grounded on child_create.c's hydra kernel_ipsec interface calls
// (get_spi, get_cpi, alloc_reqid, release_reqid) generalized behind an
// injectable interface so tests never touch netlink or PF_KEY.
type Kernel interface {
	AllocSPI(proto protocol.ProtocolId) (uint32, error)
	AllocCPI() (uint16, error)
	RefReqid(reqid uint32) uint32
	ReleaseReqid(reqid uint32)
	Features() KernelFeatures
}

// KernelFeatures is a capability bitset, probed once at task construction;
// the Task caches the TFC padding bit as tfcv3.
type KernelFeatures uint32

const (
	KernelFeatureESN KernelFeatures = 1 << iota
	KernelFeatureTFCPadding
	KernelFeatureLabels
)

func (f KernelFeatures) Has(bit KernelFeatures) bool { return f&bit != 0 }

// ChildConfig is the configured policy a Task negotiates against,
// grounded on the root package's Config but widened with the fields a
// complete implementation needs (label, mode, marks/if_ids/reqid).
type ChildConfig interface {
	SelectProposal(proposals []*protocol.SaProposal, flags protocol.SelectFlags) (*protocol.SaProposal, error)
	Proposals() []*protocol.SaProposal
	TrafficSelectors() (tsi, tsr []Selector)
	Mode() Mode
	Inactivity() time.Duration
	Label() []byte
	SelectLabel(peer []byte) ([]byte, error)
	HasOption(Option) bool
	KEMethod() (protocol.DhTransformId, bool)
	LabelMode() LabelMode
	Equals(ChildConfig) bool

	// Reqid is a config extension: a static reqid pins
	// duplicate-suppression and lets a rekey inherit the same kernel
	// policy group; zero means "allocate dynamically".
	Reqid() uint32
	Marks() (in, out uint32)
	IfIDs() (in, out uint64)
}

// Mode mirrors child_create.c's ipsec_mode_t.
type Mode int

const (
	ModeTunnel Mode = iota
	ModeTransport
	ModeBeet
)

// Option names a per-config boolean option (ProxyMode, single-pair-
// required TS negotiation, and similar knobs supplements), queried one
// at a time through ChildConfig.HasOption.
type Option int

const (
	OptProxyMode Option = iota
	OptSinglePairRequired
	OptIPCompEnabled
)

// LabelMode mirrors child_create.c's sec_label_mode_t: whether a SELinux
// label is fixed by policy or negotiated from the peer's offer.
type LabelMode int

const (
	LabelModeNone LabelMode = iota
	LabelModeFixed
	LabelModeNegotiate
)

// Selector is the task's traffic-selector value type, convertible to and
// from protocol.Selector at the wire boundary (toWire/fromWire).
type Selector struct {
	Type protocol.SelectorType
	IPProtocolID uint8
	StartPort uint16
	EndPort uint16
	StartAddress net.IP
	EndAddress net.IP
	Label []byte
}

// Scheduler defers work without blocking the task, grounded on the
// teacher's use of time.AfterFunc for retransmission timers.
type Scheduler interface {
	ScheduleJob(job func(), delay time.Duration)
}

// NarrowHook lets the bus veto or shrink a proposed TS pair (e.g. a
// virtual-IP pool assigning a /32 out of a wider configured range).
type NarrowHook int

const (
	NarrowHookInitiator NarrowHook = iota
	NarrowHookResponder
)

// AlertKind classifies a Bus.Alert call, grounded on child_create.c's
// charon->bus->alert() call sites this task replaces.
type AlertKind int

const (
	AlertProposalMismatch AlertKind = iota
	AlertTSMismatch
	AlertKEInvalid
	AlertInstallFailed
	AlertChildInactive
)

// Bus is the event sink the task reports to, grounded on child_create.c's
// bus_t calls (narrow, child_derived_keys, child_updown, alert).
type Bus interface {
	Narrow(sa ChildSA, hook NarrowHook, tsi, tsr []Selector) (ntsi, ntsr []Selector)
	ChildDerivedKeys(sa ChildSA, initiator bool, encr, integ []byte)
	ChildUpdown(sa ChildSA, up bool)
	Alert(kind AlertKind, err error)
}
