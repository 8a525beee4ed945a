// ABOUTME: Conversion between Registration entities and store.RegistrationRecord rows
// ABOUTME: Null-vs-absent handling lives in the entity validation, not here

package registration

import (
	"github.com/2389/gamevault/internal/store"
)

// FromRecord rehydrates a persisted registration.
func FromRecord(rec *store.RegistrationRecord) (*Registration, error) {
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return nil, err
	}
	if rec.Id <= 0 {
		return nil, newError(KindValidation, "restore", "record has no id")
	}
	return restore(snapshot{
		id: rec.Id,
		params: Params{
			ExtensionID:      rec.ExtensionId,
			PublicKey:        rec.PublicKey,
			Hostname:         rec.Hostname,
			OS:               rec.Os,
			ExtensionVersion: rec.ExtensionVersion,
		},
		status:        status,
		createdAt:     rec.CreatedAt,
		lastUpdatedAt: rec.LastUpdatedAt,
	})
}

// Record returns the persisted shape. Id is zero for an unsaved registration.
func (r *Registration) Record() *store.RegistrationRecord {
	return &store.RegistrationRecord{
		Id:               r.id,
		ExtensionId:      r.extensionID,
		PublicKey:        r.publicKey,
		Hostname:         copyOptional(r.hostname),
		Os:               copyOptional(r.os),
		ExtensionVersion: copyOptional(r.extensionVersion),
		Status:           string(r.status),
		CreatedAt:        r.createdAt,
		LastUpdatedAt:    r.lastUpdatedAt,
	}
}
