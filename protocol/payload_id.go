package protocol

import "github.com/pkg/errors"

func (s *IdPayload) Encode() (b []byte) {
	b = []byte{uint8(s.IdType), 0, 0, 0}
	return append(b, s.Data...)
}

func (s *IdPayload) Decode(b []byte) (err error) {
	if len(b) < 4 {
		return errors.Wrapf(ERR_INVALID_SYNTAX, "id too small %d < %d", len(b), 4)
	}
	idt, _ := readB8(b, 0)
	s.IdType = IdType(idt)
	s.Data = append([]byte{}, b[4:]...)
	return nil
}
