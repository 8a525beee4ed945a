// ABOUTME: Closed error kinds for registration validation and lifecycle failures
// ABOUTME: Callers switch on Kind or use errors.Is with the package sentinels

package registration

import "fmt"

// Kind classifies a registration error.
type Kind int

const (
	// KindValidation means the registration data itself is malformed.
	KindValidation Kind = iota + 1
	// KindInvalidState means a lifecycle command is not allowed from the current status.
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidState:
		return "invalid state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by registration operations.
type Error struct {
	Kind    Kind
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return "registration: " + e.Message
	}
	return "registration " + e.Op + ": " + e.Message
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrInvalidState) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrValidation matches every KindValidation error.
	ErrValidation = &Error{Kind: KindValidation, Message: "invalid registration"}
	// ErrInvalidState matches every KindInvalidState error.
	ErrInvalidState = &Error{Kind: KindInvalidState, Message: "invalid state"}
)

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}
