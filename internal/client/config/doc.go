// Package config loads runtime configuration for the clinicvault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. An optional .env file, then CLINICVAULT_CLIENT_* environment variables.
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the REST API
//	-r string   address:port of the gRPC health endpoint
//	-t string   bearer access token
//	-k string   key store backend: sqlite or memory
//	-f string   path of the local key store database
//	-i int      online status check interval (seconds)
//	-w duration per-request deadline, e.g. 15s
//	-n uint     key restoration attempts on network errors
//	-b duration first restoration backoff, doubled per attempt
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "grpc_addr": "127.0.0.1:50051",
//	  "keystore_backend": "sqlite",
//	  "keystore_path": "clinicvault.db",
//	  "request_timeout": "15s",
//	  "retry_attempts": 3,
//	  "retry_base_delay": "200ms",
//	  "online_check_interval": "3s"
//	}
package config
