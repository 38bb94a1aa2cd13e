package protocol

// Payloads is an ordered payload list with type-keyed lookup, mirroring
// session.go's Message.Payloads container (handleEncryptedMessage calls
// msg.Payloads.Get(PayloadTypeNonce) the same way).
type Payloads struct {
	order []Payload
	byType map[PayloadType]Payload
}

func MakePayloads() *Payloads {
	return &Payloads{byType: make(map[PayloadType]Payload)}
}

func (p *Payloads) Add(pl Payload) {
	p.order = append(p.order, pl)
	p.byType[pl.Type()] = pl
}

func (p *Payloads) Get(t PayloadType) Payload { return p.byType[t] }

func (p *Payloads) All() []Payload { return p.order }

// Message is the envelope the childsa task builds and parses; encryption
// and framing onto SK payloads is the IKE_SA layer's job, so Message here
// carries already-decrypted payloads.
type Message struct {
	IkeHeader *IkeHeader
	Payloads *Payloads
}

func NewMessage(h *IkeHeader) *Message {
	return &Message{IkeHeader: h, Payloads: MakePayloads()}
}
