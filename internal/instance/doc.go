// Package instance owns the operator credential for a gamevault instance.
//
// There is exactly one operator. Setup stores the first password; after that
// Login trades the password for a session id that InstanceAuthService accepts
// as a bearer token. ChangePassword and the CLI's SetPassword revoke every
// open session. Sessions idle longer than the configured timeout are removed
// by RunSweeper.
//
// Routes:
//
//   - GET /api/instance/status
//   - POST /api/instance/setup
//   - POST /api/instance/login
//   - POST /api/instance/logout (session)
//   - POST /api/instance/password (session)
package instance
