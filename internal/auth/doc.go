// Package auth decides whether inbound requests to gamevault are authorized.
//
// # Actors
//
// Two kinds of caller reach the API:
//
//   - Extensions: the desktop exporter. Each installation holds its own key
//     pair and a registration that the operator has to approve before its
//     requests are honored.
//   - The instance operator: a human in a browser holding a session token
//     obtained by logging in with the instance password.
//
// # Extension requests
//
// Extensions send four headers:
//
//	X-ExtensionId     stable installation id
//	X-RegistrationId  decimal id of the approved registration
//	X-ContentHash     lowercase hex SHA-256 of the body (POST and PUT)
//	X-Signature       base64 signature over the canonical string
//
// The canonical string is
//
//	METHOD|PATH|EXTENSIONID[|CONTENTHASH]
//
// ExtensionAuthService.Verify checks the content hash before it looks at the
// registration, re-reads the registration on every request, and returns a
// verdict rather than an error. A JSON body is read at most once; the bytes
// travel back in the verdict.
//
// # Operator requests
//
// InstanceAuthService.Verify accepts "Authorization: Bearer <session>" or,
// failing that, a sessionId query parameter. Session ids are 32 random bytes
// in hex and are compared in constant time.
//
// # Key material
//
// SignatureService generates the server's RSA key pair once and never
// replaces it. Cryptography hashes the instance password with scrypt.
//
// # Lockout
//
// Both verifiers accept WithLockout. Failed attempts are charged to the
// client address; a locked client gets "too many failed attempts" (HTTP 429)
// before any signature or session check runs.
package auth
