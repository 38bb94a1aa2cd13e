package childsa

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vpnsetup/strongswan/protocol"
)

// stampSPI assigns my_spi to every proposal before offering them, the
// initiator side of ("stamp all with my_spi").
func stampSPI(proposals []*protocol.SaProposal, spi []byte) []*protocol.SaProposal {
	out := make([]*protocol.SaProposal, len(proposals))
	for i, p := range proposals {
		cp := *p
		cp.Spi = append([]byte{}, spi...)
		out[i] = &cp
	}
	return out
}

// pinKEMethod promotes proposals carrying the pinned method ahead of the
// rest (config default, rekey inheritance, or a retry suggestion),
// failing if none of the offered proposals contain it at all.
func pinKEMethod(proposals []*protocol.SaProposal, method protocol.DhTransformId, pinned bool) ([]*protocol.SaProposal, error) {
	if !pinned {
		return proposals, nil
	}
	promoted := protocol.PromoteTransform(proposals, protocol.TRANSFORM_TYPE_DH, uint16(method))
	for _, p := range promoted {
		if protocol.HasTransform(p, protocol.TRANSFORM_TYPE_DH, uint16(method)) {
			return promoted, nil
		}
	}
	return nil, errors.Wrapf(ErrNoProposalChosen, "no proposal offers pinned ke method %d", method)
}

// selectFlags derives protocol.SelectFlags from the responder's settings.
func selectFlags(noKE, peerSupportsPrivate, preferOwnOrder bool) protocol.SelectFlags {
	var f protocol.SelectFlags
	if noKE {
		f |= protocol.SkipKE
	}
	if !peerSupportsPrivate {
		f |= protocol.SkipPrivate
	}
	if !preferOwnOrder {
		f |= protocol.PreferSupplied
	}
	return f
}

// checkKEMethod implements the responder's post-selection KE method check:
// if the chosen proposal requires KE, the received
// method must be among its DH transforms; mismatch yields the preferred
// algorithm id to report via INVALID_KE_PAYLOAD.
func checkKEMethod(chosen *protocol.SaProposal, receivedMethod protocol.DhTransformId, keFailed bool) (preferred protocol.DhTransformId, mismatch bool, keFailedOut bool) {
	want := chosen.Transform(protocol.TRANSFORM_TYPE_DH)
	if want == nil {
		// selected proposal has no KE: ignore any received KE payload,
		// clear ke_failed per the resolved Open Question.
		return 0, false, false
	}
	if protocol.DhTransformId(want.TransformId) == receivedMethod && !keFailed {
		return 0, false, keFailed
	}
	return protocol.DhTransformId(want.TransformId), true, keFailed
}

// encodeKENotify renders the 16-bit algorithm id INVALID_KE_PAYLOAD
// carries (RFC 7296 §3.10.1).
func encodeKENotify(method protocol.DhTransformId) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(method))
	return b
}

func decodeKENotify(b []byte) (protocol.DhTransformId, error) {
	if len(b) < 2 {
		return 0, errors.Wrap(protocol.ERR_INVALID_SYNTAX, "ke notify too short")
	}
	return protocol.DhTransformId(binary.BigEndian.Uint16(b)), nil
}
