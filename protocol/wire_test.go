package protocol

import "testing"

func TestSaPayloadRoundTrip(t *testing.T) {
	orig := &SaPayload{
		Proposals: []*SaProposal{
			{
				IsLast: false,
				Number: 1,
				ProtocolId: ESP,
				Spi: []byte{1, 2, 3, 4},
				Transforms: ESP_AES_CBC_SHA1_96.AsList(),
			},
			{
				IsLast: true,
				Number: 2,
				ProtocolId: ESP,
				Spi: []byte{5, 6, 7, 8},
				Transforms: ESP_NULL_SHA1_96.AsList(),
			},
		},
	}
	enc := orig.Encode()

	dec := &SaPayload{}
	if err := dec.Decode(enc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(dec.Proposals))
	}
	if dec.Proposals[0].ProtocolId != ESP || dec.Proposals[1].Number != 2 {
		t.Errorf("proposal fields did not survive round trip: %+v", dec.Proposals)
	}
	if !dec.Proposals[1].IsLast {
		t.Errorf("last proposal should decode with IsLast set")
	}
}

func TestKePayloadRoundTrip(t *testing.T) {
	orig := &KePayload{DhTransformId: MODP_2048, KeyData: []byte{0xde, 0xad, 0xbe, 0xef}}
	enc := orig.Encode()

	dec := &KePayload{}
	if err := dec.Decode(enc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.DhTransformId != MODP_2048 {
		t.Errorf("DhTransformId = %d, want %d", dec.DhTransformId, MODP_2048)
	}
	if string(dec.KeyData) != string(orig.KeyData) {
		t.Errorf("KeyData = %x, want %x", dec.KeyData, orig.KeyData)
	}
}

func TestNoncePayloadDecodeRejectsOutOfRangeLength(t *testing.T) {
	tooShort := &NoncePayload{}
	if err := tooShort.Decode(make([]byte, NONCE_MIN_LEN-1)); err == nil {
		t.Errorf("expected error decoding undersized nonce")
	}
	tooLong := &NoncePayload{}
	if err := tooLong.Decode(make([]byte, NONCE_MAX_LEN+1)); err == nil {
		t.Errorf("expected error decoding oversized nonce")
	}
	ok := &NoncePayload{}
	if err := ok.Decode(make([]byte, 32)); err != nil {
		t.Errorf("unexpected error decoding valid nonce: %v", err)
	}
}

func TestNotifyPayloadRoundTrip(t *testing.T) {
	orig := &NotifyPayload{
		ProtocolId: ESP,
		Spi: []byte{1, 2, 3, 4},
		NotificationType: INVALID_KE_PAYLOAD,
		NotificationMessage: []byte{0x00, 0x0e},
	}
	enc := orig.Encode()

	dec := &NotifyPayload{}
	if err := dec.Decode(enc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.NotificationType != INVALID_KE_PAYLOAD {
		t.Errorf("NotificationType = %v, want %v", dec.NotificationType, INVALID_KE_PAYLOAD)
	}
	if string(dec.NotificationMessage) != string(orig.NotificationMessage) {
		t.Errorf("NotificationMessage = %x, want %x", dec.NotificationMessage, orig.NotificationMessage)
	}
}

func TestNotificationTypeIsError(t *testing.T) {
	if !NO_PROPOSAL_CHOSEN.IsError() {
		t.Errorf("NO_PROPOSAL_CHOSEN should be an error notification")
	}
	if IPCOMP_SUPPORTED.IsError() {
		t.Errorf("IPCOMP_SUPPORTED should not be an error notification")
	}
}

func TestDeletePayloadRoundTrip(t *testing.T) {
	orig := &DeletePayload{
		ProtocolId: ESP,
		Spis: [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
	}
	enc := orig.Encode()

	dec := &DeletePayload{}
	if err := dec.Decode(enc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Spis) != 2 {
		t.Fatalf("expected 2 spis, got %d", len(dec.Spis))
	}
	if string(dec.Spis[1]) != string(orig.Spis[1]) {
		t.Errorf("Spis[1] = %x, want %x", dec.Spis[1], orig.Spis[1])
	}
}

func TestTrafficSelectorPayloadRoundTrip(t *testing.T) {
	sels := []*Selector{
		{
			Type: TS_IPV4_ADDR_RANGE,
			IpProtocolId: 0,
			StartPort: 0,
			EndPort: 65535,
			StartAddress: []byte{10, 0, 0, 1},
			EndAddress: []byte{10, 0, 0, 254},
		},
	}
	orig := NewTrafficSelectorPayload(true, sels)
	if orig.Type() != PayloadTypeTSi {
		t.Errorf("initiator traffic selector payload should report PayloadTypeTSi")
	}
	enc := orig.Encode()

	dec := &TrafficSelectorPayload{}
	if err := dec.Decode(enc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Selectors) != 1 {
		t.Fatalf("expected 1 selector, got %d", len(dec.Selectors))
	}
	got := dec.Selectors[0]
	if got.StartPort != 0 || got.EndPort != 65535 {
		t.Errorf("port range = [%d, %d], want [0, 65535]", got.StartPort, got.EndPort)
	}
	if string(got.StartAddress) != string(sels[0].StartAddress) {
		t.Errorf("StartAddress = %v, want %v", got.StartAddress, sels[0].StartAddress)
	}
}

func TestMessagePayloadsGetReturnsLastOfType(t *testing.T) {
	p := MakePayloads()
	first := &NotifyPayload{NotificationType: IPCOMP_SUPPORTED}
	second := &NotifyPayload{NotificationType: ADDITIONAL_KEY_EXCHANGE}
	p.Add(first)
	p.Add(second)

	if got := p.Get(PayloadTypeN); got != second {
		t.Errorf("Get should return the last payload of a given type")
	}
	all := p.All()
	if len(all) != 2 || all[0] != first || all[1] != second {
		t.Errorf("All should preserve insertion order, got %+v", all)
	}
}
