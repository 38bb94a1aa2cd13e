package childsa

import (
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/protocol"
)

// Build produces the outgoing payloads for the given exchange type,
// dispatched by phase the way the C task interface's per-exchange
// function table did (Design Note "Method-table/vtable objects").
func (t *Task) Build(exchange protocol.IkeExchangeType) (*protocol.Payloads, Status, error) {
	switch t.phase {
	case phaseDelete:
		return t.buildDelete()
	case phaseMultiKE:
		return t.buildMultiKE(exchange)
	default:
		if t.initiatorRole {
			return t.buildInitiator(exchange)
		}
		return t.buildResponder(exchange)
	}
}

// Process consumes the peer's payloads for the given exchange type.
func (t *Task) Process(exchange protocol.IkeExchangeType, peer *protocol.Payloads) (Status, error) {
	switch t.phase {
	case phaseDelete:
		return StatusDestroyMe, nil
	case phaseMultiKE:
		return t.processMultiKE(exchange, peer)
	default:
		if t.initiatorRole {
			return t.processInitiator(exchange, peer)
		}
		return t.processResponder(exchange, peer)
	}
}

// --- duplicate suppression (§4.9) ---

// checkDuplicate: before offering a standalone
// CREATE_CHILD_SA, look for an already-installed CHILD_SA with the same
// config/reqid/marks/if_ids/label. If found, the caller should not send a
// request at all and complete with SUCCESS.
func (t *Task) checkDuplicate() ChildSA {
	for _, sa := range t.ikeSA.ChildSAs() {
		if sa.Config().Equals(t.cfg) {
			return sa
		}
	}
	return nil
}

// --- initiator side ---

func (t *Task) buildInitiator(exchange protocol.IkeExchangeType) (*protocol.Payloads, Status, error) {
	out := protocol.MakePayloads()

	switch exchange {
	case protocol.IKE_SA_INIT:
		nonce, err := t.nonceGen.Nonce(128)
		if err != nil {
			return nil, StatusFailed, errors.Wrap(err, "generating nonce")
		}
		t.myNonce = nonce
		out.Add(&protocol.NoncePayload{Nonce: nonce})
		return out, StatusNeedMore, nil

	case protocol.IKE_AUTH, protocol.CREATE_CHILD_SA:
		if exchange == protocol.CREATE_CHILD_SA {
			if dup := t.checkDuplicate(); dup != nil {
				level.Info(t.log).Log("msg", "duplicate child sa, not initiating", "reqid", dup.Reqid())
				return nil, StatusSuccess, nil
			}
		}

		spi, err := t.kernel.AllocSPI(t.protocolID)
		if err != nil {
			return nil, StatusFailed, errors.Wrap(err, "allocating spi")
		}
		t.mySpi = spi
		t.child = t.newChildSA(t.protocolID)
		t.reqid = t.kernel.RefReqid(t.cfg.Reqid())
		t.markIn, t.markOut = t.cfg.Marks()
		t.ifIDIn, t.ifIDOut = t.cfg.IfIDs()
		t.label = t.cfg.Label()

		keMethod, hasKE := t.cfg.KEMethod()
		if t.pinnedKEMethodSet {
			keMethod, hasKE = t.pinnedKEMethod, true
		}
		proposals, err := pinKEMethod(
			stampSPI(t.cfg.Proposals(), spiBytes(spi)),
			keMethod, hasKE,
		)
		if err != nil {
			t.bus.Alert(AlertProposalMismatch, err)
			return nil, StatusFailed, err
		}
		t.proposals = proposals
		out.Add(&protocol.SaPayload{Proposals: proposals})

		nonce, err := t.nonceGen.Nonce(128)
		if err != nil {
			return nil, StatusFailed, errors.Wrap(err, "generating nonce")
		}
		t.myNonce = nonce
		out.Add(&protocol.NoncePayload{Nonce: nonce})

		if hasKE {
			ke, err := t.keymat.CreateKE(keMethod)
			if err != nil {
				return nil, StatusFailed, errors.Wrap(err, "creating key exchange")
			}
			t.kex = &kexRound{slots: []kexSlot{{method: keMethod}}}
			out.Add(&protocol.KePayload{DhTransformId: keMethod, KeyData: ke.PublicKey()})
			t.pendingKE = ke
		}

		tsi, tsr := t.cfg.TrafficSelectors()
		t.tsi, t.tsr = tsi, tsr
		out.Add(protocol.NewTrafficSelectorPayload(true, selectorsToWire(tsi)))
		out.Add(protocol.NewTrafficSelectorPayload(false, selectorsToWire(tsr)))

		if t.cfg.Mode() == ModeTransport {
			t.mode = ModeTransport
			out.Add(&protocol.NotifyPayload{ProtocolId: t.protocolID, NotificationType: protocol.USE_TRANSPORT_MODE})
		}

		if t.cfg.HasOption(OptIPCompEnabled) {
			cpi, err := t.kernel.AllocCPI()
			if err != nil {
				return nil, StatusFailed, errors.Wrap(err, "allocating cpi")
			}
			t.myCpi = cpi
			out.Add(&protocol.NotifyPayload{
				ProtocolId: t.protocolID,
				NotificationType: protocol.IPCOMP_SUPPORTED,
				NotificationMessage: encodeIPCompNotify(cpi, ipcompDeflate),
			})
		}

		return out, StatusNeedMore, nil
	}
	return out, StatusNeedMore, nil
}

func (t *Task) processInitiator(exchange protocol.IkeExchangeType, peer *protocol.Payloads) (Status, error) {
	if n, ok := peer.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload); ok {
		t.otherNonce = n.Nonce
	}

	for _, pl := range peer.All() {
		if n, ok := pl.(*protocol.NotifyPayload); ok && n.NotificationType.IsError() {
			if status, handled, err := t.handleErrorNotify(n); handled {
				return status, err
			}
		}
	}

	sa, _ := peer.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if sa == nil || len(sa.Proposals) == 0 {
		// no SA in response: either IKE_SA_INIT round (nothing to do yet)
		// or a childless deferral already handled via §4.2 upstream.
		return StatusNeedMore, nil
	}
	t.chosen = sa.Proposals[0]

	if t.mode == ModeTransport && notifyOfType(peer, protocol.USE_TRANSPORT_MODE) == nil {
		// responder did not confirm the configured transport mode
		return StatusFailed, errors.New("responder did not accept transport mode")
	}

	if n := notifyOfType(peer, protocol.IPCOMP_SUPPORTED); n != nil {
		if t.myCpi == 0 {
			return StatusFailed, errors.Wrap(ErrIPCompMismatch, "ipcomp received without being proposed")
		}
		offer, err := decodeIPCompNotify(n.NotificationMessage)
		if err != nil {
			return StatusFailed, err
		}
		if offer.transform != ipcompDeflate {
			return StatusFailed, ErrIPCompMismatch
		}
		t.otherCpi = offer.cpi
		t.ipcompTransform = offer.transform
	} else {
		t.myCpi = 0 // proposed without received: IPComp is silently disabled
	}

	if ke, ok := peer.Get(protocol.PayloadTypeKE).(*protocol.KePayload); ok && t.pendingKE != nil {
		if err := t.pendingKE.SetPeerPublicKey(ke.KeyData); err != nil {
			t.bus.Alert(AlertKEInvalid, err)
			return StatusFailed, err
		}
		if t.kex == nil {
			t.kex = newKexRound(t.chosen)
		}
		if err := t.kex.completeRound(t.pendingKE, false); err != nil {
			return StatusFailed, err
		}
		t.pendingKE = nil
	} else if t.kex == nil {
		t.kex = newKexRound(t.chosen)
	}

	tsiP, tsrP := extractTS(peer)
	ntsi, ntsr, ok := narrowTS(tsiP, tsrP, t.cfg, endpointIP(t.ikeSA.MyHost()), t.ikeSA.HasCondition(CondNatHere), t.ikeSA.HasCondition(CondNatThere), t.mode)
	if !ok {
		t.bus.Alert(AlertTSMismatch, ErrTSUnacceptable)
		return StatusFailed, ErrTSUnacceptable
	}
	t.tsi, t.tsr = t.bus.Narrow(t.child, NarrowHookInitiator, ntsi, ntsr)
	if len(t.tsi) == 0 || len(t.tsr) == 0 {
		return StatusFailed, ErrTSUnacceptable
	}

	if t.kex.remaining() {
		t.phase = phaseMultiKE
		return StatusNeedMore, nil
	}

	status, err := t.install(t.chosen, t.kex.kes, t.myNonce, t.otherNonce, t.mode, t.myCpi, t.otherCpi, t.ipcompTransform, t.rekey)
	if status == StatusSuccess {
		t.established = true
	} else {
		t.phase = phaseDelete
	}
	return status, err
}

// handleErrorNotify implements the error classification for
// notifies received during CREATE_CHILD_SA/IKE_AUTH.
func (t *Task) handleErrorNotify(n *protocol.NotifyPayload) (Status, bool, error) {
	if !n.NotificationType.IsError() {
		return StatusSuccess, false, nil
	}
	switch n.NotificationType {
	case protocol.INVALID_KE_PAYLOAD:
		if t.retry {
			return StatusFailed, true, errors.Wrap(ErrInvalidKEPayload, "already retried once")
		}
		method, err := decodeKENotify(n.NotificationMessage)
		if err != nil {
			return StatusFailed, true, err
		}
		if err := t.migrate(method); err != nil {
			return StatusFailed, true, err
		}
		return StatusNeedMore, true, nil

	case protocol.TEMPORARY_FAILURE:
		jitter := time.Duration(randUint32()%uint32(retryJitter/time.Millisecond)) * time.Millisecond
		delay := retryInterval - jitter
		t.ikeSA.QueueTaskDelayed(t, delay)
		return StatusSuccess, true, nil

	case protocol.NO_PROPOSAL_CHOSEN, protocol.TS_UNACCEPTABLE, protocol.INVALID_SYNTAX,
		protocol.SINGLE_PAIR_REQUIRED, protocol.NO_ADDITIONAL_SAS, protocol.INTERNAL_ADDRESS_FAILURE,
		protocol.FAILED_CP_REQUIRED, protocol.INVALID_SELECTORS:
		if t.closeOnFirstChildFailure {
			// delay so our own response/notify goes out first, per §7.
			t.sched.ScheduleJob(func() { t.bus.Alert(AlertProposalMismatch, ErrNoProposalChosen) }, 100*time.Millisecond)
		}
		return StatusSuccess, true, nil

	default:
		return StatusSuccess, false, nil
	}
}

// --- responder side ---

func (t *Task) buildResponder(exchange protocol.IkeExchangeType) (*protocol.Payloads, Status, error) {
	out := protocol.MakePayloads()
	if t.pendingErrorNotify != nil {
		out.Add(t.pendingErrorNotify)
		t.pendingErrorNotify = nil
		return out, StatusFailed, nil
	}
	if exchange == protocol.IKE_SA_INIT {
		nonce, err := t.nonceGen.Nonce(128)
		if err != nil {
			return nil, StatusFailed, err
		}
		t.myNonce = nonce
		out.Add(&protocol.NoncePayload{Nonce: nonce})
		return out, StatusNeedMore, nil
	}

	if t.chosen == nil {
		return nil, StatusNeedMore, nil
	}

	spi, err := t.kernel.AllocSPI(t.protocolID)
	if err != nil {
		return nil, StatusFailed, errors.Wrap(err, "allocating spi")
	}
	t.mySpi = spi
	t.chosen.Spi = spiBytes(spi)
	out.Add(&protocol.SaPayload{Proposals: []*protocol.SaProposal{t.chosen}})

	nonce, err := t.nonceGen.Nonce(128)
	if err != nil {
		return nil, StatusFailed, err
	}
	t.myNonce = nonce
	out.Add(&protocol.NoncePayload{Nonce: nonce})

	if t.pendingKE != nil {
		out.Add(&protocol.KePayload{DhTransformId: t.pendingKE.Method(), KeyData: t.pendingKE.PublicKey()})
	}

	out.Add(protocol.NewTrafficSelectorPayload(true, selectorsToWire(t.tsi)))
	out.Add(protocol.NewTrafficSelectorPayload(false, selectorsToWire(t.tsr)))

	if t.mode == ModeTransport {
		out.Add(&protocol.NotifyPayload{ProtocolId: t.protocolID, NotificationType: protocol.USE_TRANSPORT_MODE})
	}

	if t.myCpi != 0 {
		out.Add(&protocol.NotifyPayload{
			ProtocolId: t.protocolID,
			NotificationType: protocol.IPCOMP_SUPPORTED,
			NotificationMessage: encodeIPCompNotify(t.myCpi, t.ipcompTransform),
		})
	}

	if t.kex != nil && t.kex.remaining() {
		t.phase = phaseMultiKE
		return out, StatusNeedMore, nil
	}

	status, err := t.install(t.chosen, t.kex.kes, t.otherNonce, t.myNonce, t.mode, t.myCpi, t.otherCpi, t.ipcompTransform, t.rekey)
	if status == StatusSuccess {
		t.established = true
	}
	return out, status, err
}

func (t *Task) processResponder(exchange protocol.IkeExchangeType, peer *protocol.Payloads) (Status, error) {
	if n, ok := peer.Get(protocol.PayloadTypeNonce).(*protocol.NoncePayload); ok {
		t.otherNonce = n.Nonce
	}
	if exchange == protocol.IKE_SA_INIT {
		return StatusNeedMore, nil
	}

	sa, _ := peer.Get(protocol.PayloadTypeSA).(*protocol.SaPayload)
	if sa == nil {
		// childless IKE_AUTH: acceptance is an IKE_SA-level policy decision
		// (NEVER/PREFER/FORCE) made by the owning session before this task
		// is even dispatched, so by the time Process sees a nil SA payload
		// here it has already been accepted.
		return StatusNeedMore, nil
	}

	chosen, err := t.cfg.SelectProposal(sa.Proposals, selectFlags(false, true, false))
	if err != nil || chosen == nil {
		t.bus.Alert(AlertProposalMismatch, ErrNoProposalChosen)
		return StatusFailed, ErrNoProposalChosen
	}
	t.chosen = chosen
	t.kex = newKexRound(chosen)
	t.child = t.newChildSA(t.protocolID)
	t.reqid = t.kernel.RefReqid(t.cfg.Reqid())
	t.markIn, t.markOut = t.cfg.Marks()
	t.ifIDIn, t.ifIDOut = t.cfg.IfIDs()
	t.label = t.cfg.Label()

	if ke, ok := peer.Get(protocol.PayloadTypeKE).(*protocol.KePayload); ok {
		preferred, mismatch, keFailed := checkKEMethod(chosen, ke.DhTransformId, t.keFailed)
		t.keFailed = keFailed
		if mismatch {
			t.bus.Alert(AlertKEInvalid, ErrInvalidKEPayload)
			t.pendingErrorNotify = &protocol.NotifyPayload{
				ProtocolId: t.protocolID,
				NotificationType: protocol.INVALID_KE_PAYLOAD,
				NotificationMessage: encodeKENotify(preferred),
			}
			return StatusFailed, ErrInvalidKEPayload
		}
		newKE, err := t.keymat.CreateKE(ke.DhTransformId)
		if err != nil {
			return StatusFailed, err
		}
		if err := newKE.SetPeerPublicKey(ke.KeyData); err != nil {
			t.bus.Alert(AlertKEInvalid, err)
			return StatusFailed, err
		}
		if err := t.kex.completeRound(newKE, true); err != nil {
			return StatusFailed, err
		}
		t.pendingKE = newKE
	} else {
		t.keFailed = false
	}

	if notifyOfType(peer, protocol.USE_TRANSPORT_MODE) != nil && t.cfg.Mode() == ModeTransport {
		t.mode = ModeTransport
	}

	if n := notifyOfType(peer, protocol.IPCOMP_SUPPORTED); n != nil {
		offer, err := decodeIPCompNotify(n.NotificationMessage)
		if err != nil {
			return StatusFailed, err
		}
		t.otherCpi = offer.cpi
		accepted, err := negotiateIPCompResponder(offer, t.cfg.HasOption(OptIPCompEnabled), t.kernel.AllocCPI)
		if err != nil {
			t.bus.Alert(AlertInstallFailed, err)
			return StatusFailed, err
		}
		if accepted != nil {
			t.myCpi = accepted.cpi
			t.ipcompTransform = accepted.transform
		}
	}

	tsiP, tsrP := extractTS(peer)
	ntsi, ntsr, ok := narrowTS(tsiP, tsrP, t.cfg, endpointIP(t.ikeSA.OtherHost()), t.ikeSA.HasCondition(CondNatHere), t.ikeSA.HasCondition(CondNatThere), t.mode)
	if !ok {
		t.bus.Alert(AlertTSMismatch, ErrTSUnacceptable)
		return StatusFailed, ErrTSUnacceptable
	}
	t.tsi, t.tsr = t.bus.Narrow(t.child, NarrowHookResponder, ntsi, ntsr)
	if len(t.tsi) == 0 || len(t.tsr) == 0 {
		return StatusFailed, ErrTSUnacceptable
	}
	return StatusSuccess, nil
}

// --- multi-KE continuation (§4.4) ---

func (t *Task) buildMultiKE(exchange protocol.IkeExchangeType) (*protocol.Payloads, Status, error) {
	out := protocol.MakePayloads()
	method, hasMore := t.kex.current()
	if !hasMore {
		t.phase = phaseInit
		status, err := t.install(t.chosen, t.kex.kes, t.ni(), t.nr(), t.mode, t.myCpi, t.otherCpi, t.ipcompTransform, t.rekey)
		if status == StatusSuccess {
			t.established = true
		}
		return nil, status, err
	}

	if t.initiatorRole {
		ke, err := t.keymat.CreateKE(method)
		if err != nil {
			return nil, StatusFailed, err
		}
		t.pendingKE = ke
		out.Add(&protocol.KePayload{DhTransformId: method, KeyData: ke.PublicKey()})
		if len(t.kex.link) > 0 {
			out.Add(&protocol.NotifyPayload{NotificationType: protocol.ADDITIONAL_KEY_EXCHANGE, NotificationMessage: t.kex.link})
		}
	}
	return out, StatusNeedMore, nil
}

func (t *Task) processMultiKE(exchange protocol.IkeExchangeType, peer *protocol.Payloads) (Status, error) {
	ke, ok := peer.Get(protocol.PayloadTypeKE).(*protocol.KePayload)
	if !ok {
		return StatusFailed, errors.New("missing ke payload in follow-up round")
	}

	if notify := notifyOfType(peer, protocol.ADDITIONAL_KEY_EXCHANGE); notify != nil {
		if t.initiatorRole {
			// responder's link echoed back to it on the next round; here
			// we (initiator) just captured what we must echo ourselves.
			t.kex.link = LinkToken(notify.NotificationMessage)
		} else if err := t.kex.checkLink(LinkToken(notify.NotificationMessage)); err != nil {
			return StatusFailed, err
		}
	}

	var myKE KeyExchange
	if t.initiatorRole {
		myKE = t.pendingKE
	} else {
		newKE, err := t.keymat.CreateKE(ke.DhTransformId)
		if err != nil {
			return StatusFailed, err
		}
		myKE = newKE
		t.pendingKE = newKE
	}
	if err := myKE.SetPeerPublicKey(ke.KeyData); err != nil {
		t.bus.Alert(AlertKEInvalid, err)
		return StatusFailed, err
	}
	if err := t.kex.completeRound(myKE, !t.initiatorRole); err != nil {
		return StatusFailed, err
	}
	t.pendingKE = nil

	if !t.kex.remaining() {
		t.phase = phaseInit
		status, err := t.install(t.chosen, t.kex.kes, t.ni(), t.nr(), t.mode, t.myCpi, t.otherCpi, t.ipcompTransform, t.rekey)
		if status == StatusSuccess {
			t.established = true
		}
		return status, err
	}
	return StatusNeedMore, nil
}

// --- abort / delete (S6) ---

// abort marks the task for teardown; the next Build call emits an
// INFORMATIONAL DELETE for our allocated SPI instead of installing.
func (t *Task) abort() {
	t.aborted = true
	t.phase = phaseDelete
}

func (t *Task) buildDelete() (*protocol.Payloads, Status, error) {
	out := protocol.MakePayloads()
	if t.mySpi != 0 {
		out.Add(&protocol.DeletePayload{ProtocolId: t.protocolID, Spis: [][]byte{spiBytes(t.mySpi)}})
	}
	return out, StatusDestroyMe, nil
}

func (t *Task) ni() []byte {
	if t.initiatorRole {
		return t.myNonce
	}
	return t.otherNonce
}

func (t *Task) nr() []byte {
	if t.initiatorRole {
		return t.otherNonce
	}
	return t.myNonce
}
