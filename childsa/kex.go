package childsa

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/protocol"
)

// kexSlot is one entry of determine_key_exchanges' schedule (the task
// §4.4): one slot per DH-type transform on the chosen proposal, in
// proposal order, up to maxKexSlots. There are no separate
// ADDITIONAL_KEY_EXCHANGE_1..7 transform types, so a proposal carrying a
// single DH transform yields a single slot.
type kexSlot struct {
	method protocol.DhTransformId
	done bool
}

const maxKexSlots = 8

// determineKeyExchanges builds the exchange schedule from a chosen
// proposal's DH transforms: every TRANSFORM_TYPE_DH transform becomes a
// slot, in the order it appears on the proposal, up to maxKexSlots. The
// transform IDs are not inspected, so a classical group and any other
// method are scheduled alike.
func determineKeyExchanges(chosen *protocol.SaProposal) []kexSlot {
	var slots []kexSlot
	for _, tr := range chosen.Transforms {
		if tr.Type != protocol.TRANSFORM_TYPE_DH {
			continue
		}
		slots = append(slots, kexSlot{method: protocol.DhTransformId(tr.TransformId)})
		if len(slots) == maxKexSlots {
			break
		}
	}
	return slots
}

// kexRound tracks in-progress multi-stage KE state on a Task, one entry
// per completed exchange appended to kes, in slot order (Testable
// Property 3: kes.length == number of nonzero-type slots, insertion
// order == slot order).
type kexRound struct {
	slots []kexSlot
	index int
	kes []KeyExchange
	link LinkToken
	keFailed bool
}

func newKexRound(chosen *protocol.SaProposal) *kexRound {
	return &kexRound{slots: determineKeyExchanges(chosen)}
}

func (r *kexRound) current() (protocol.DhTransformId, bool) {
	if r.index >= len(r.slots) {
		return 0, false
	}
	return r.slots[r.index].method, true
}

func (r *kexRound) remaining() bool { return r.index < len(r.slots) }

// completeRound appends ke to kes, advances the slot index, and — if more
// slots remain — has the responder mint a fresh link token the initiator
// must echo on the next IKE_FOLLOWUP_KE round.
func (r *kexRound) completeRound(ke KeyExchange, isResponder bool) error {
	r.kes = append(r.kes, ke)
	r.index++
	if !r.remaining() {
		r.link = nil
		return nil
	}
	if isResponder {
		tok := make([]byte, 8)
		if _, err := rand.Read(tok); err != nil {
			return errors.Wrap(err, "generating link token")
		}
		r.link = tok
	}
	return nil
}

// checkLink verifies an initiator's echoed link token against the one the
// responder issued, constant-time since it's secret-derived (Design Note
// "Opaque byte strings").
func (r *kexRound) checkLink(echoed LinkToken) error {
	if len(r.link) == 0 {
		return errors.Wrap(ErrStateNotFound, "no link token outstanding")
	}
	if len(echoed) != len(r.link) || subtle.ConstantTimeCompare(echoed, r.link) != 1 {
		return errors.Wrap(ErrLinkTokenMismatch, "echoed link does not match issued token")
	}
	return nil
}
