package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Issue(ctx context.Context, args []string) error
	Pair(ctx context.Context, args []string) error
	Connections(ctx context.Context) error
	Recover(ctx context.Context) error
	Rotate(ctx context.Context, args []string) error
	Revoke(ctx context.Context, args []string) error
	DeleteKey(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Files(ctx context.Context, args []string) error
	DeleteFile(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  issue <doctor_id> [patient_id]   create a pairing code and PIN
  pair [file]                      scan a pairing code (file or pasted text)
  (c)onnections                    list connections
  recover                          restore keys missing on this device
  rotate <key_id>                  replace a key, old files stay readable
  revoke <key_id>                  end a relationship
  delete-key <key_id>              remove a key permanently
  upload <counterpart_id> <path>   encrypt and store a file
  download <file_id> [dir]         fetch and decrypt a file
  (f)iles [key_id]                 list stored files
  delete-file <file_id>            remove a stored file
  exit | quit                      leave the program`

// runREPL starts a simple read-eval-print loop for the clinicvault CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches the remaining tokens to methods on 'a'. Unknown commands are
// reported back to the user. The loop exits on EOF, when ctx is done, or
// when the user types "exit" or "quit".
//
// The prompt shows the current status (from statusFn).
//
// Any errors returned by command handlers are ignored here; handlers print
// their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("cv %s> ", statusFn()))

		line, err := reader.ReadString('\n')
		parts := strings.Fields(line)
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)
		case "issue":
			_ = a.Issue(ctx, args)
		case "pair", "scan":
			_ = a.Pair(ctx, args)
		case "c", "connections":
			_ = a.Connections(ctx)
		case "recover":
			_ = a.Recover(ctx)
		case "rotate":
			_ = a.Rotate(ctx, args)
		case "revoke":
			_ = a.Revoke(ctx, args)
		case "delete-key":
			_ = a.DeleteKey(ctx, args)
		case "upload":
			_ = a.Upload(ctx, args)
		case "download":
			_ = a.Download(ctx, args)
		case "f", "files":
			_ = a.Files(ctx, args)
		case "delete-file":
			_ = a.DeleteFile(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			return
		}
	}
}
