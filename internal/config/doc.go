// Package config loads and validates travel-brain configuration from YAML.
//
// # Configuration File
//
// The config file is YAML with four sections:
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  path: "~/.local/share/travel-brain/brain.db"
//
//	turns:
//	  timeout: "2m"
//	  grace_period: "5s"
//	  cancel_on_disconnect: false
//	  max_concurrent: 64
//	  subscriber_buffer: 64
//
//	planner:
//	  knowledge_path: ""
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Environment Variables
//
// Values may reference environment variables using ${VAR_NAME} syntax.
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration fields (turns.timeout, turns.grace_period) are written as Go
// duration strings ("30s", "2m") and parsed during Load.
//
// # Validation
//
// Load applies defaults for unset optional fields and then validates:
// server.http_addr and database.path are required, and the turn limits
// must be positive. The first failure is returned as an error.
package config
