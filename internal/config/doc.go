// Package config handles configuration loading for gamevault.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from GAMEVAULT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/gamevault/config.yaml
//  3. ~/.config/gamevault/config.yaml
//
// Configuration values can reference environment variables as ${VAR_NAME}.
// Durations use time.ParseDuration syntax.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "localhost:8420"
//
//	tailscale:
//	  enabled: false
//	  hostname: "gamevault"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: "/var/lib/gamevault/tsnet"
//	  ephemeral: false
//	  https: true
//
//	database:
//	  path: "/var/lib/gamevault/gamevault.db"
//
//	keys:
//	  dir: "/var/lib/gamevault/keys"   # defaults to <database dir>/keys
//	  bits: 4096                       # at least 2048
//
//	auth:
//	  max_body_bytes: 10485760
//	  session_idle_timeout: "720h"
//	  lockout:
//	    max_failures: 10               # 0 disables lockout
//	    window: "15m"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
