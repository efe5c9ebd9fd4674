// Package cli provides the interactive clinicvault command-line client.
//
// It wires configuration, the local key store, API services and an
// interactive REPL. Typical flow: open the key store (prompting for the
// device passphrase when it is persistent), restore any missing keys from
// the server, start a background connectivity watcher, and execute user
// commands.
//
// Key features:
//   - Issue and scan pairing codes
//   - List connections, rotate, revoke and delete keys
//   - Upload, download and list encrypted files
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher, and runREPL for details.
package cli
