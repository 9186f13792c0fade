// Package config handles configuration loading for coven-groups.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. The file extension picks the decoder: ".toml" is TOML, anything
// else is YAML.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_GROUPS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/groups.yaml
//  3. ~/.config/coven/groups.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	service:
//	  api_key: "${COVEN_GROUPS_API_KEY}"
//
// # Configuration Sections
//
// Service endpoints:
//
//	service:
//	  websocket_url: "wss://chat.example.com/prod"   # required
//	  messages_url: "https://api.example.com/messages" # required
//	  groups_url: "https://api.example.com/groups"
//	  create_group_url: "https://api.example.com/groups/create"
//	  invite_url: "https://api.example.com/groups/invite"
//	  login_url: "https://api.example.com/login"
//	  verify_url: "https://api.example.com/verify"
//	  api_key: "${COVEN_GROUPS_API_KEY}"
//
// Connection timing:
//
//	connection:
//	  ping_interval: "30s"
//	  write_timeout: "10s"
//	  handshake_timeout: "15s"
//	  send_queue_size: 64
//	  read_limit: 1048576
//
// REST collaborators:
//
//	http:
//	  timeout: "30s"
//
// Local state:
//
//	storage:
//	  path: "~/.local/share/coven/groups.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates that the WebSocket endpoint uses ws/wss, HTTP endpoints
// use http/https, and the history endpoint is present. Optional endpoints
// that are left empty make the matching operation fail with
// ErrNotConfigured when it is used.
package config
