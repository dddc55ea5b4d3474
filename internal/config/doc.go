// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/toolgate/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  token: "${TOOLGATE_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	execution:
//	  timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  addr: "127.0.0.1:8700"       # Agent-facing MCP endpoint
//	  token: "${TOOLGATE_TOKEN}"   # Optional bearer token
//
// Database:
//
//	database:
//	  path: "~/.local/share/toolgate/toolgate.db"
//
// Execution:
//
//	execution:
//	  timeout: "30s"   # Per-invocation deadline
//
// Bundled collections:
//
//	defaults:
//	  disabled: false  # Skip registering the bundled collections
//
// External tool providers connected at startup:
//
//	mcp_servers:
//	  - name: "weather"
//	    url: "https://weather.example.com/mcp"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Server address presence
//   - Database path presence
//   - Duration format validity
//   - MCP server entries (name and url required)
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/toolgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
