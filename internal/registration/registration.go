// ABOUTME: ExtensionRegistration entity: identity, public key, optional host details, trust status
// ABOUTME: Fields are private; status only changes through Approve, Reject, and Revoke

package registration

import (
	"strings"
	"time"
)

// Params are the caller-supplied fields of a new registration.
// Optional fields are nil when absent and must not be empty strings.
type Params struct {
	ExtensionID      string
	PublicKey        string
	Hostname         *string
	OS               *string
	ExtensionVersion *string
}

// Registration is one extension installation's trust record.
//
// The id is unset until the registration is persisted and fixed afterwards.
// The entity does not consult the store; callers load it fresh, apply one
// command, and write it back.
type Registration struct {
	id    int64
	hasID bool

	extensionID      string
	publicKey        string
	hostname         *string
	os               *string
	extensionVersion *string

	status        Status
	createdAt     time.Time
	lastUpdatedAt time.Time
}

// New creates a pending registration timestamped now.
func New(p Params, now time.Time) (*Registration, error) {
	now = now.UTC()
	r := &Registration{
		extensionID:      p.ExtensionID,
		publicKey:        p.PublicKey,
		hostname:         copyOptional(p.Hostname),
		os:               copyOptional(p.OS),
		extensionVersion: copyOptional(p.ExtensionVersion),
		status:           StatusPending,
		createdAt:        now,
		lastUpdatedAt:    now,
	}
	if err := r.validate("new"); err != nil {
		return nil, err
	}
	return r, nil
}

// snapshot is the full field set used when rehydrating a persisted registration.
type snapshot struct {
	id            int64
	params        Params
	status        Status
	createdAt     time.Time
	lastUpdatedAt time.Time
}

func restore(s snapshot) (*Registration, error) {
	r := &Registration{
		id:               s.id,
		hasID:            true,
		extensionID:      s.params.ExtensionID,
		publicKey:        s.params.PublicKey,
		hostname:         copyOptional(s.params.Hostname),
		os:               copyOptional(s.params.OS),
		extensionVersion: copyOptional(s.params.ExtensionVersion),
		status:           s.status,
		createdAt:        s.createdAt.UTC(),
		lastUpdatedAt:    s.lastUpdatedAt.UTC(),
	}
	if err := r.validate("restore"); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns the persisted id, or false if the registration was never saved.
func (r *Registration) ID() (int64, bool) {
	return r.id, r.hasID
}

// MustID returns the persisted id and panics if it is unset.
func (r *Registration) MustID() int64 {
	if !r.hasID {
		panic("registration: id read before the registration was persisted")
	}
	return r.id
}

// AssignID records the id given by the store. It panics if an id is already
// set or id is not positive.
func (r *Registration) AssignID(id int64) {
	if r.hasID {
		panic("registration: id is immutable once assigned")
	}
	if id <= 0 {
		panic("registration: assigned id must be positive")
	}
	r.id = id
	r.hasID = true
}

func (r *Registration) ExtensionID() string { return r.extensionID }
func (r *Registration) PublicKey() string   { return r.publicKey }

func (r *Registration) Hostname() *string         { return copyOptional(r.hostname) }
func (r *Registration) OS() *string               { return copyOptional(r.os) }
func (r *Registration) ExtensionVersion() *string { return copyOptional(r.extensionVersion) }

func (r *Registration) Status() Status           { return r.status }
func (r *Registration) CreatedAt() time.Time     { return r.createdAt }
func (r *Registration) LastUpdatedAt() time.Time { return r.lastUpdatedAt }

// IsTrusted reports whether signatures from this registration are honored.
func (r *Registration) IsTrusted() bool {
	return r.status == StatusTrusted
}

// Approve moves a pending registration to trusted.
func (r *Registration) Approve(now time.Time) error {
	return r.apply(ActionApprove, now)
}

// Reject moves a pending registration to rejected.
func (r *Registration) Reject(now time.Time) error {
	return r.apply(ActionReject, now)
}

// Revoke withdraws trust, moving a trusted registration to rejected.
func (r *Registration) Revoke(now time.Time) error {
	return r.apply(ActionRevoke, now)
}

// Apply runs a lifecycle action by name.
func (r *Registration) Apply(action Action, now time.Time) error {
	return r.apply(action, now)
}

func (r *Registration) apply(action Action, now time.Time) error {
	next, err := Next(r.status, action)
	if err != nil {
		return err
	}

	prevStatus, prevUpdated := r.status, r.lastUpdatedAt
	r.status = next
	r.lastUpdatedAt = now.UTC()

	if err := r.validate(string(action)); err != nil {
		r.status, r.lastUpdatedAt = prevStatus, prevUpdated
		return err
	}
	return nil
}

// validate checks every field invariant. It runs after construction and
// after each mutation.
func (r *Registration) validate(op string) error {
	if strings.TrimSpace(r.extensionID) == "" {
		return newError(KindValidation, op, "extension id is required")
	}
	if strings.TrimSpace(r.publicKey) == "" {
		return newError(KindValidation, op, "public key is required")
	}
	optional := []struct {
		name  string
		value *string
	}{
		{"hostname", r.hostname},
		{"os", r.os},
		{"extension version", r.extensionVersion},
	}
	for _, f := range optional {
		if !optionalNonEmpty(f.value) {
			return newError(KindValidation, op, "%s must be absent or non-empty", f.name)
		}
	}
	if !r.status.Valid() {
		return newError(KindValidation, op, "unknown status %q", r.status)
	}
	if r.hasID && r.id <= 0 {
		return newError(KindValidation, op, "id must be positive")
	}
	return nil
}

// optionalNonEmpty is the rule for nullable string fields: nil or non-empty.
func optionalNonEmpty(v *string) bool {
	return v == nil || *v != ""
}

func copyOptional(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
