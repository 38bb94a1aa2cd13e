package childsa

import (
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/protocol"
)

func zero(bufs...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
	}
}

// install runs the ten-step SA installer. SPIs are already
// allocated at build time; CPIs are resolved by the IPComp handshake
// before install runs. isRekey controls whether the outbound SA activates
// immediately (step 7) or only registers for later promotion.
func (t *Task) install(chosen *protocol.SaProposal, kes []KeyExchange, ni, nr []byte, mode Mode, cpiIn, cpiOut uint16, ipcompTransform uint8, isRekey bool) (Status, error) {
	child := t.child

	// steps 2-3: mode/protocol/ipcomp, endpoint refresh is the Session's
	// job (it owns the live net.Addr values); NAT condition propagation
	// already happened during narrowing.
	child.SetMode(mode)
	child.SetProtocol(t.protocolID)
	if cpiIn != 0 || cpiOut != 0 {
		child.SetIPComp(cpiIn, cpiOut, ipcompTransform)
	}
	child.SetState(ChildSAStateInstalling)

	// step 4
	if err := child.SetPolicies(t.tsi, t.tsr); err != nil {
		t.bus.Alert(AlertInstallFailed, err)
		return StatusNotFound, errors.Wrap(err, "installing policies")
	}

	// step 5: RFC 7296 §2.17 ordering — Ni||Nr always feed the prf in
	// that order regardless of which role we play in this IKE_SA.
	encI, integI, encR, integR, err := t.keymat.DeriveChildKeys(chosen, kes, ni, nr)
	if err != nil {
		t.bus.Alert(AlertInstallFailed, err)
		return StatusFailed, errors.Wrap(err, "deriving child keys")
	}

	t.bus.ChildDerivedKeys(child, t.initiatorRole, encI, integI)

	inEnc, inInteg, outEnc, outInteg := encR, integR, encI, integI
	if !t.initiatorRole {
		inEnc, inInteg, outEnc, outInteg = encI, integI, encR, integR
	}

	// step 6
	if err := child.Install(true, inEnc, inInteg); err != nil {
		t.bus.Alert(AlertInstallFailed, err)
		return StatusFailed, errors.Wrap(err, "installing inbound sa")
	}

	// step 7
	if isRekey {
		if err := child.RegisterOutbound(outEnc, outInteg); err != nil {
			t.bus.Alert(AlertInstallFailed, err)
			return StatusFailed, errors.Wrap(err, "registering outbound sa")
		}
	} else if err := child.Install(false, outEnc, outInteg); err != nil {
		t.bus.Alert(AlertInstallFailed, err)
		return StatusFailed, errors.Wrap(err, "installing outbound sa")
	}

	// step 9
	zero(encI, integI, encR, integR)

	// step 10
	child.SetState(ChildSAStateInstalled)
	t.installed = true
	level.Info(t.log).Log("msg", "child sa installed", "reqid", t.reqid)
	if d := t.cfg.Inactivity(); d > 0 {
		t.sched.ScheduleJob(func() {
			t.bus.Alert(AlertChildInactive, errors.Errorf("no traffic for %s", d))
		}, d)
	}
	t.ikeSA.AddChildSA(t.child)
	if !isRekey {
		t.bus.ChildUpdown(t.child, true)
	}
	return StatusSuccess, nil
}
