// Package server assembles a gamevault instance.
//
// New opens the SQLite store, generates the server key pair on first start,
// and mounts the extension, operator, and audit routes behind their
// verifiers. Run listens on server.http_addr, or on the tailnet through
// tsnet when tailscale is enabled, and sweeps idle operator sessions until
// its context ends.
package server
