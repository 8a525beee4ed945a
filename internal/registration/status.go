// ABOUTME: Trust status values and the lifecycle transition table for registrations
// ABOUTME: pending -> trusted|rejected via approve/reject, trusted -> rejected via revoke

package registration

// Status is the trust state of an extension registration.
type Status string

const (
	StatusPending  Status = "pending"
	StatusTrusted  Status = "trusted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTrusted, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseStatus converts a persisted status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", newError(KindValidation, "parse status", "unknown status %q", s)
	}
	return st, nil
}

// Action is a lifecycle command applied to a registration.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevoke  Action = "revoke"
)

type transition struct {
	from Status
	to   Status
}

// transitions is the complete set of legal lifecycle moves.
var transitions = map[Action]transition{
	ActionApprove: {from: StatusPending, to: StatusTrusted},
	ActionReject:  {from: StatusPending, to: StatusRejected},
	ActionRevoke:  {from: StatusTrusted, to: StatusRejected},
}

// Next returns the status reached by applying action from current, or an
// invalid-state error when the move is not in the table.
func Next(current Status, action Action) (Status, error) {
	t, ok := transitions[action]
	if !ok {
		return "", newError(KindValidation, string(action), "unknown action %q", action)
	}
	if current != t.from {
		return "", newError(KindInvalidState, string(action),
			"cannot %s a registration that is %s (must be %s)", action, current, t.from)
	}
	return t.to, nil
}
