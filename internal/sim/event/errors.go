package event

import (
	"errors"
	"fmt"

	"broadside.gg/internal/protocol"
)

var (
	// ErrRuleViolation matches every *RuleError.
	ErrRuleViolation = errors.New("rule violation")
	ErrIrreversible  = errors.New("event cannot be reversed")
	ErrUnknownEvent  = errors.New("unknown event")

	// ErrInvariant matches every *InvariantError: the event contradicts the
	// record itself, so the engine or a replayed log is at fault, not a player.
	ErrInvariant = errors.New("engine invariant violated")
)

// RuleError is returned when an event does not fit the state it is applied to.
// Code is one of the protocol E_* codes; shot and layout checks use the specific
// ones so the scheduler can record them on disqualifications.
type RuleError struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *RuleError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func (e *RuleError) Is(target error) bool { return target == ErrRuleViolation }

func ruleErr(k Kind, code, format string, args ...any) error {
	return &RuleError{Kind: k, Code: code, Msg: fmt.Sprintf(format, args...)}
}

type InvariantError struct {
	Kind Kind
	Msg  string
}

func (e *InvariantError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

func invariant(k Kind, format string, args ...any) error {
	return &InvariantError{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol code of a rule violation. Anything else, invariant
// failures included, is E_INTERNAL.
func CodeOf(err error) string {
	var re *RuleError
	if errors.As(err, &re) && re.Code != "" {
		return re.Code
	}
	return protocol.ErrInternal
}
