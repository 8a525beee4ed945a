// Package keystore persists the server's signing key pair on disk.
//
// The pair is stored as two PEM files in the configured keys directory:
//
//	server_public.pem   SPKI "PUBLIC KEY", mode 0644
//	server_private.pem  PKCS8 "PRIVATE KEY", mode 0600
//
// Files are created with O_EXCL and are never rewritten. Key generation lives
// in the auth package; this package only moves bytes.
package keystore
