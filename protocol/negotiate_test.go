package protocol

import "testing"

func espProposal(num uint8, last bool, trs Transforms) *SaProposal {
	return &SaProposal{
		IsLast: last,
		Number: num,
		ProtocolId: ESP,
		Transforms: trs.AsList(),
	}
}

func TestSelectProposalPicksMatchingOffer(t *testing.T) {
	offered := []*SaProposal{
		espProposal(1, false, ESP_NULL_SHA1_96),
		espProposal(2, true, ESP_AES_CBC_SHA1_96),
	}
	configured := []*SaProposal{espProposal(1, true, ESP_AES_CBC_SHA1_96)}

	chosen := SelectProposal(offered, configured, 0)
	if chosen == nil {
		t.Fatal("expected a proposal to be chosen")
	}
	if chosen.Number != 2 {
		t.Errorf("chosen.Number = %d, want 2 (the matching offer's number)", chosen.Number)
	}
	if !HasTransform(chosen, TRANSFORM_TYPE_ENCR, uint16(ENCR_AES_CBC)) {
		t.Errorf("chosen proposal should carry the configured AES-CBC transform")
	}
}

func TestSelectProposalReturnsNilWhenNoMatch(t *testing.T) {
	offered := []*SaProposal{espProposal(1, true, ESP_NULL_SHA1_96)}
	configured := []*SaProposal{espProposal(1, true, ESP_AES_CBC_SHA1_96)}

	if chosen := SelectProposal(offered, configured, 0); chosen != nil {
		t.Errorf("expected no match, got %+v", chosen)
	}
}

func TestSelectProposalSkipKEIgnoresMissingDH(t *testing.T) {
	offered := []*SaProposal{espProposal(1, true, IKE_AES_CBC_SHA1_96_DH_1024)}
	configured := []*SaProposal{espProposal(1, true, IKE_AES_CBC_SHA1_96_DH_1024)}

	// drop the DH transform from the offer: without SkipKE this must fail,
	// with SkipKE it must still match on the remaining transforms.
	var noDH []*SaTransform
	for _, tr := range offered[0].Transforms {
		if tr.Type != TRANSFORM_TYPE_DH {
			noDH = append(noDH, tr)
		}
	}
	offered[0].Transforms = noDH

	if chosen := SelectProposal(offered, configured, 0); chosen != nil {
		t.Errorf("expected mismatch without SkipKE, got %+v", chosen)
	}
	if chosen := SelectProposal(offered, configured, SkipKE); chosen == nil {
		t.Errorf("expected a match with SkipKE set")
	}
}

func TestPromoteTransformPreservesOrderWithinGroups(t *testing.T) {
	p1024 := espProposal(1, false, IKE_AES_CBC_SHA1_96_DH_1024)
	p2048 := espProposal(2, true, IKE_CAMELLIA_CBC_SHA2_256_128_DH_2048)
	proposals := []*SaProposal{p1024, p2048}

	promoted := PromoteTransform(proposals, TRANSFORM_TYPE_DH, uint16(MODP_2048))
	if len(promoted) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(promoted))
	}
	if promoted[0] != p2048 {
		t.Errorf("proposal carrying MODP_2048 should be promoted first")
	}
	if promoted[1] != p1024 {
		t.Errorf("proposal without MODP_2048 should still be present, demoted")
	}
}

func TestHasTransform(t *testing.T) {
	p := espProposal(1, true, ESP_AES_CBC_SHA1_96)
	if !HasTransform(p, TRANSFORM_TYPE_ENCR, uint16(ENCR_AES_CBC)) {
		t.Errorf("expected proposal to carry ENCR_AES_CBC")
	}
	if HasTransform(p, TRANSFORM_TYPE_ENCR, uint16(ENCR_NULL)) {
		t.Errorf("proposal should not carry ENCR_NULL")
	}
}
