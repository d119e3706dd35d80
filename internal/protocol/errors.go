package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrMatchNotFound   = "E_MATCH_NOT_FOUND"
	ErrRateLimit       = "E_RATE_LIMIT"

	// Sandbox outcomes.
	ErrTimeout = "E_TIMEOUT"
	ErrFault   = "E_FAULT"

	// Rule layer.
	ErrBadLayout     = "E_BAD_LAYOUT"
	ErrOutOfBounds   = "E_OUT_OF_BOUNDS"
	ErrRepeatShot    = "E_REPEAT_SHOT"
	ErrSelfTarget    = "E_SELF_TARGET"
	ErrFriendlyFire  = "E_FRIENDLY_FIRE"
	ErrUnknownTarget = "E_UNKNOWN_TARGET"
	ErrDeadTarget    = "E_DEAD_TARGET"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrMatchNotFound:   {},
	ErrRateLimit:       {},
	ErrTimeout:         {},
	ErrFault:           {},
	ErrBadLayout:       {},
	ErrOutOfBounds:     {},
	ErrRepeatShot:      {},
	ErrSelfTarget:      {},
	ErrFriendlyFire:    {},
	ErrUnknownTarget:   {},
	ErrDeadTarget:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
