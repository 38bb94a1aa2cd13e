package childsa

import "github.com/pkg/errors"

// Sentinel errors the task's negotiation logic returns; Build/Process map
// these onto the Status enum and the outgoing Notify payload.
var (
	ErrNoProposalChosen = errors.New("no acceptable proposal")
	ErrTSUnacceptable = errors.New("traffic selectors unacceptable")
	ErrInvalidKEPayload = errors.New("invalid ke payload")
	ErrLinkTokenMismatch = errors.New("link token mismatch")
	ErrStateNotFound = errors.New("state not found")
	ErrIPCompMismatch = errors.New("ipcomp transform mismatch")
)
