// Package config handles configuration loading for authflow-gateway.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from AUTHFLOW_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/authflow.yaml
//  3. ~/.config/coven/authflow.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${AUTHFLOW_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  grpc_addr: "127.0.0.1:50061"   # handshake service
//	  http_addr: "127.0.0.1:8081"    # /health and /health/ready, optional
//
//	database:
//	  path: "/var/lib/coven/authflow.db"
//
//	auth:
//	  jwt_secret: "${AUTHFLOW_JWT_SECRET}"  # token scheme is off without it
//	  schemes: ["ssh", "token"]            # empty enables all
//	  max_steps: 32
//	  ssh_max_age: "5m"
//	  agent_auto_registration: "disabled"  # pending, approved, disabled
//
//	replay:
//	  backend: "memory"                    # memory or redis
//	  ttl: "10m"
//	  max_size: 10000
//	  redis_addr: "localhost:6379"
//	  redis_prefix: "authflow:replay:"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
