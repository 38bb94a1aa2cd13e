package childsa

// Status replaces the C task interface's SUCCESS/FAILED/NOT_FOUND/
// NEED_MORE/DESTROY_ME/INVALID_STATE/NOT_SUPPORTED sentinels with a typed
// enum (Design Note "Error returns as sentinels"). Status alone drives
// control flow in the owning Session's event loop; any accompanying error
// is for logging/caller context only.
type Status int

const (
	StatusSuccess Status = iota
	StatusNeedMore
	StatusFailed
	StatusNotFound
	StatusDestroyMe
	StatusInvalidState
	StatusNotSupported
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNeedMore:
		return "NEED_MORE"
	case StatusFailed:
		return "FAILED"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDestroyMe:
		return "DESTROY_ME"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// LinkToken is the opaque RFC 9370 ADDITIONAL_KEY_EXCHANGE correlator
// exchanged across a multi-KE round, kept as a named type rather than a
// bare []byte so it can't be silently passed where a key or nonce is
// expected.
type LinkToken []byte
