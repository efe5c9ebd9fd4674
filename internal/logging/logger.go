// Package logging is the structured logger shared by the server and the
// CLI. Key material, PINs and plaintext must never be passed as arguments;
// log identifiers (key_id, file_id, user_id) instead.
package logging

import "context"

// Logger takes a message and alternating key/value pairs:
//
//	l.Warn(ctx, "decryption failed", "security_event", "decryption_failed", "key_id", id)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that prepends args to every record.
	With(args ...any) Logger
}
