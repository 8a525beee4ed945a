// Package admin runs the extension registration lifecycle and serves its API.
//
// # Commands
//
// RegistrationService exposes one method per command:
//
//   - Request: an extension submits its id and public key; the registration
//     starts pending. Re-requesting returns the existing record untouched.
//   - Approve: pending to trusted.
//   - Reject: pending to rejected.
//   - Revoke: trusted to rejected.
//   - Remove: deletes the registration in any status.
//
// Commands never return a Go error for caller mistakes. A Result carries
// success or one of the reason codes not_found, invalid_operation,
// invalid_argument, or internal. Every successful command writes an audit
// entry naming the actor from the request's auth.AuthContext.
//
// # Endpoints
//
// Unauthenticated:
//
//   - POST /api/extension/registrations - Request a registration (response signed in X-Signature)
//   - GET /api/extension/server-key - Server public key
//
// Extension signature:
//
//   - GET /api/extension/status - Registration the caller is verified as
//
// Instance session:
//
//   - GET /api/extension/registrations[?status=] - List registrations
//   - GET /api/extension/registrations/{id} - Get a registration
//   - POST /api/extension/registrations/{id}/approve
//   - POST /api/extension/registrations/{id}/reject
//   - POST /api/extension/registrations/{id}/revoke
//   - DELETE /api/extension/registrations/{id} - Remove
//   - GET /api/audit - Audit log (action, target_type, target_id, since, limit)
//
// Reason codes map to 404, 409, 400, and 500.
package admin
