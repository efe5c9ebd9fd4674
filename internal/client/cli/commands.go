package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/client/pairing"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/filex"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
)

var errUsage = errors.New("usage")

func (a *App) usage(text string) error {
	fmt.Fprintln(a.out, "Usage:", text)
	return errUsage
}

// fail prints err with its stable kind. Raw crypto errors never get here:
// services map them to the taxonomy first.
func (a *App) fail(err error) error {
	fmt.Fprintf(a.out, "Error (%s): %v\n", common.Kind(err), err)
	return err
}

// Issue creates a pairing for a doctor and the given patient (the local
// user by default) and prints the code and its PIN separately.
func (a *App) Issue(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("issue <doctor_id> [patient_id]")
	}
	patientID := a.userID
	if len(args) > 1 {
		patientID = args[1]
	}

	resp, err := a.keys.CreatePairing(ctx, args[0], patientID)
	if err != nil {
		return a.fail(err)
	}

	fmt.Fprintf(a.out, "Pairing code for %s (key %s):\n%s\n\n", args[0], resp.KeyID, resp.BootstrapPayload)
	fmt.Fprintf(a.out, "PIN: %s\nShare the PIN over a different channel than the code.\n", resp.Pin)
	if resp.ExpiresAt != nil {
		fmt.Fprintf(a.out, "Key expires %s\n", resp.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Pair scans a pairing code from a file, or from pasted text when no path
// is given, and completes the handshake.
func (a *App) Pair(ctx context.Context, args []string) error {
	var d pairing.Decoder
	if len(args) > 0 {
		path := args[0]
		d = pairing.DecoderFunc(func(context.Context) (string, error) {
			b, err := os.ReadFile(path)
			return string(b), err
		})
	} else {
		d = pairing.DecoderFunc(func(context.Context) (string, error) {
			text, err := GetMultiline(a.reader, "Paste the pairing code", a.out)
			if err == nil && text == "" {
				err = errors.New("nothing was entered")
			}
			return text, err
		})
	}

	at, err := a.acceptor(d).Accept(ctx)
	if err != nil {
		if errors.Is(err, common.ErrScanFailed) {
			fmt.Fprintln(a.out, "Could not read the code, try again.")
		}
		return a.fail(err)
	}

	fmt.Fprintf(a.out, "Paired with patient %s (key %s)\n", at.Connection.PatientID, at.Connection.KeyID)
	return nil
}

// Connections lists relationships with their derived expiry view.
func (a *App) Connections(ctx context.Context) error {
	list := a.keys.Connections()
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No connections.")
		return nil
	}

	now := time.Now()
	for _, c := range list {
		expiry := keys.ComputeExpiryStatus(keys.Status(c.Status), c.ExpiresAt, now)
		line := fmt.Sprintf("%-36s  doctor=%s  patient=%s  status=%s  expiry=%s", c.KeyID, c.DoctorID, c.PatientID, c.Status, expiry)
		if _, err := a.store.Lookup(ctx, a.userID, c.KeyID); errors.Is(err, common.ErrKeyAbsent) {
			line += "  (no key on this device)"
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

// Recover reloads connections from the server and restores missing keys.
func (a *App) Recover(ctx context.Context) error {
	return a.refresh(ctx)
}

func (a *App) refresh(ctx context.Context) error {
	report, err := a.keys.Refresh(ctx)
	if report != nil && report.Ghosts > 0 {
		fmt.Fprintf(a.out, "Restored %d of %d missing key(s)\n", report.Restored, report.Ghosts)
		for _, o := range report.Outcomes {
			if !o.Restored {
				fmt.Fprintf(a.out, "  %s (patient %s): %s\n", o.KeyID, o.PatientID, common.Kind(o.Err))
			}
		}
	}
	if errors.Is(err, common.ErrSessionKeyRequired) {
		fmt.Fprintln(a.out, "This device has no key for some connections. Rescan their pairing codes with 'pair'.")
	}
	if err != nil {
		return a.fail(err)
	}
	return nil
}

func (a *App) Rotate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("rotate <key_id>")
	}
	resp, err := a.keys.Rotate(ctx, args[0])
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "New key %s. Pairing code:\n%s\n\nPIN: %s\n", resp.KeyID, resp.BootstrapPayload, resp.Pin)
	return nil
}

func (a *App) Revoke(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("revoke <key_id>")
	}
	if err := a.keys.Revoke(ctx, args[0]); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Key %s revoked\n", args[0])
	return nil
}

func (a *App) DeleteKey(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("delete-key <key_id>")
	}
	if err := a.keys.Delete(ctx, args[0]); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Key %s deleted\n", args[0])
	return nil
}

// Upload encrypts a local file for a counterpart and stores it.
func (a *App) Upload(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return a.usage("upload <counterpart_id> <path>")
	}
	plain, err := os.ReadFile(args[1])
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(plain)

	info, err := a.files.Upload(ctx, args[0], filepath.Base(args[1]), plain)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Uploaded %s as %s\n", info.Name, info.FileID)
	return nil
}

// Download opens a stored file and writes the plaintext into dir, the
// current directory by default. Existing files are left untouched.
func (a *App) Download(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("download <file_id> [dir]")
	}
	dir := "."
	if len(args) > 1 {
		dir = args[1]
	}

	doc, err := a.files.Download(ctx, args[0])
	if err != nil {
		return a.fail(err)
	}
	defer common.WipeByteArray(doc.Plaintext)

	name := doc.Name
	if name == "" {
		name = doc.FileID
	}
	path, err := filex.WritePrivate(dir, name, doc.Plaintext)
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "Saved %s\n", path)
	return nil
}

func (a *App) Files(ctx context.Context, args []string) error {
	keyID := ""
	if len(args) > 0 {
		keyID = args[0]
	}
	list, err := a.files.List(ctx, keyID)
	if err != nil {
		return a.fail(err)
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No files.")
		return nil
	}
	for _, f := range list {
		fmt.Fprintf(a.out, "%s  %s  from=%s  to=%s  key=%s  %d bytes\n", f.FileID, f.Name, f.OwnerID, f.RecipientID, f.KeyID, f.Size)
	}
	return nil
}

func (a *App) DeleteFile(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return a.usage("delete-file <file_id>")
	}
	if err := a.files.Delete(ctx, args[0]); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.out, "File %s deleted\n", args[0])
	return nil
}
