// Package client talks to the clinicvault backend.
//
// # Overview
//
// The package provides:
//  1. The Client interface: pairing, connections, key material, key
//     lifecycle and the two-phase file upload calls.
//  2. HTTPClient, the REST implementation. It injects the bearer token,
//     applies a per-request timeout and maps error envelopes back to the
//     sentinel errors in internal/common.
//  3. A gRPC health probe (Ping) against the server's grpc.health.v1 service,
//     falling back to GET /healthz when no gRPC connection is configured.
//
// # Error Handling
//
// Server errors carry a stable kind that is mapped with common.FromKind.
// Transport failures and 5xx responses are reported as common.ErrNetwork,
// the only class callers retry. Context cancellation is returned as is.
package client
