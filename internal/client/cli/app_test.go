package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/clinicvault/internal/client/client"
	"github.com/dmitrijs2005/clinicvault/internal/client/config"
	"github.com/dmitrijs2005/clinicvault/internal/client/connections"
	"github.com/dmitrijs2005/clinicvault/internal/client/keystore"
	"github.com/dmitrijs2005/clinicvault/internal/client/recovery"
	"github.com/dmitrijs2005/clinicvault/internal/client/services"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	client.Client
	pingErr     error
	verifyCalls int
	conn        *wire.Connection
}

func (f *fakeAPI) Ping(context.Context) error { return f.pingErr }

func (f *fakeAPI) VerifyPairing(context.Context, *wire.BootstrapPayload, string) (*wire.Connection, error) {
	f.verifyCalls++
	c := *f.conn
	return &c, nil
}

type fakeKeys struct {
	services.KeyService
	conns      []wire.Connection
	refreshes  int
	refreshErr error
	report     *recovery.Report
	issued     *wire.CreatePairingResponse
}

func (f *fakeKeys) CreatePairing(context.Context, string, string) (*wire.CreatePairingResponse, error) {
	return f.issued, nil
}
func (f *fakeKeys) Refresh(context.Context) (*recovery.Report, error) {
	f.refreshes++
	return f.report, f.refreshErr
}
func (f *fakeKeys) Connections() []wire.Connection { return f.conns }
func (f *fakeKeys) SessionKeyRequired() bool       { return errors.Is(f.refreshErr, common.ErrSessionKeyRequired) }

type fakeFiles struct {
	services.FileService
	uploaded []byte
	name     string
	doc      *services.Document
	err      error
}

func (f *fakeFiles) Upload(_ context.Context, _ string, name string, plain []byte) (*wire.FileInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploaded = append([]byte(nil), plain...)
	f.name = name
	return &wire.FileInfo{FileID: "f1", Name: name}, nil
}

func (f *fakeFiles) Download(context.Context, string) (*services.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type testApp struct {
	*App
	out   *bytes.Buffer
	api   *fakeAPI
	keys  *fakeKeys
	files *fakeFiles
	store *keystore.MemoryStore
}

func newTestApp(userID, input string) *testApp {
	out := &bytes.Buffer{}
	api := &fakeAPI{conn: &wire.Connection{KeyID: "k1", DoctorID: userID, PatientID: "P1", Status: "active"}}
	keys := &fakeKeys{}
	files := &fakeFiles{}
	store := keystore.NewMemoryStore()

	return &testApp{
		App: &App{
			config:   &config.Config{},
			userID:   userID,
			api:      api,
			store:    store,
			registry: connections.NewRegistry(),
			keys:     keys,
			files:    files,
			logger:   logging.Nop(),
			reader:   bufio.NewReader(strings.NewReader(input)),
			out:      out,
		},
		out: out, api: api, keys: keys, files: files, store: store,
	}
}

func payloadFor(doctorID string) string {
	p := &wire.BootstrapPayload{
		DoctorID: doctorID,
		Key:      base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, cryptox.KeySize)),
		KeyID:    "k1",
	}
	text, _ := p.Encode()
	return text
}

func TestSetMode_ReportsOnlyChanges(t *testing.T) {
	a := newTestApp("D1", "")

	assert.True(t, a.setMode(ModeOnline))
	assert.Equal(t, ModeOnline, a.Mode())
	assert.Contains(t, a.out.String(), "Switched to online mode")

	a.out.Reset()
	assert.False(t, a.setMode(ModeOnline))
	assert.Empty(t, a.out.String())
}

func TestCheckOnline_RestoresKeysWhenComingOnline(t *testing.T) {
	a := newTestApp("D1", "")
	ctx := context.Background()

	a.api.pingErr = common.ErrNetwork
	a.checkOnline(ctx)
	assert.Equal(t, ModeOffline, a.Mode())
	assert.Zero(t, a.keys.refreshes)

	a.api.pingErr = nil
	a.checkOnline(ctx)
	assert.Equal(t, ModeOnline, a.Mode())
	assert.Equal(t, 1, a.keys.refreshes)

	a.checkOnline(ctx)
	assert.Equal(t, 1, a.keys.refreshes, "no refresh while staying online")
}

func TestGetStatus(t *testing.T) {
	a := newTestApp("D1", "")
	assert.Equal(t, "(D1)", a.getStatus())

	a.setMode(ModeOnline)
	a.keys.refreshErr = common.ErrSessionKeyRequired
	assert.Equal(t, "(D1 online key-required)", a.getStatus())

	assert.Equal(t, "", (&App{}).getStatus())
}

func TestIssue_PrintsCodeAndPinSeparately(t *testing.T) {
	a := newTestApp("P1", "")
	a.keys.issued = &wire.CreatePairingResponse{KeyID: "k1", BootstrapPayload: payloadFor("D1"), Pin: "654321"}

	require.NoError(t, a.Issue(context.Background(), []string{"D1"}))
	out := a.out.String()
	assert.Contains(t, out, payloadFor("D1"))
	assert.Contains(t, out, "PIN: 654321")

	a.out.Reset()
	assert.ErrorIs(t, a.Issue(context.Background(), nil), errUsage)
	assert.Contains(t, a.out.String(), "Usage:")
}

func TestPair_FromFile(t *testing.T) {
	stubSecret(t, "123456", nil)
	a := newTestApp("D1", "")
	path := filepath.Join(t.TempDir(), "code.json")
	require.NoError(t, os.WriteFile(path, []byte(payloadFor("D1")), 0o600))

	require.NoError(t, a.Pair(context.Background(), []string{path}))
	assert.Contains(t, a.out.String(), "Paired with patient P1")
	assert.Equal(t, 1, a.api.verifyCalls)

	_, err := a.store.Lookup(context.Background(), "D1", "k1")
	require.NoError(t, err)
	_, ok := a.registry.Get("k1")
	assert.True(t, ok)
}

func TestPair_FromPastedText(t *testing.T) {
	stubSecret(t, "123456", nil)
	a := newTestApp("D1", payloadFor("D1")+"\n\n")

	require.NoError(t, a.Pair(context.Background(), nil))
	assert.Equal(t, 1, a.api.verifyCalls)
}

func TestPair_OtherClinicianIsRejectedLocally(t *testing.T) {
	stubSecret(t, "123456", nil)
	a := newTestApp("D1", payloadFor("D2")+"\n\n")

	err := a.Pair(context.Background(), nil)
	require.ErrorIs(t, err, common.ErrOwnershipMismatch)
	assert.Contains(t, a.out.String(), "Error (OwnershipMismatch)")
	assert.Zero(t, a.api.verifyCalls)
	assert.False(t, a.store.Has(context.Background(), "D1"))
}

func TestPair_UnreadableFileIsRetryable(t *testing.T) {
	a := newTestApp("D1", "")

	err := a.Pair(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, common.ErrScanFailed)
	assert.Contains(t, a.out.String(), "try again")
}

func TestConnections_FlagsMissingKeys(t *testing.T) {
	a := newTestApp("D1", "")
	a.keys.conns = []wire.Connection{{KeyID: "k1", DoctorID: "D1", PatientID: "P1", Status: "active"}}

	require.NoError(t, a.Connections(context.Background()))
	out := a.out.String()
	assert.Contains(t, out, "patient=P1")
	assert.Contains(t, out, "expiry=active")
	assert.Contains(t, out, "no key on this device")
}

func TestRecover_ReportsRescanNeeded(t *testing.T) {
	a := newTestApp("D1", "")
	a.keys.report = &recovery.Report{Ghosts: 1, Outcomes: []recovery.Outcome{{KeyID: "k1", PatientID: "P1", Err: common.ErrNetwork}}}
	a.keys.refreshErr = common.ErrSessionKeyRequired

	err := a.Recover(context.Background())
	require.ErrorIs(t, err, common.ErrSessionKeyRequired)
	out := a.out.String()
	assert.Contains(t, out, "Restored 0 of 1")
	assert.Contains(t, out, "NetworkError")
	assert.Contains(t, out, "Rescan")
}

func TestUploadAndDownload(t *testing.T) {
	a := newTestApp("P1", "")
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("image"), 0o600))

	require.NoError(t, a.Upload(context.Background(), []string{"D1", src}))
	assert.Equal(t, "scan.pdf", a.files.name)
	assert.Equal(t, []byte("image"), a.files.uploaded)

	outDir := t.TempDir()
	a.files.doc = &services.Document{FileID: "f1", Name: "../../etc/report.txt", Plaintext: []byte("result")}
	require.NoError(t, a.Download(context.Background(), []string{"f1", outDir}))

	got, err := os.ReadFile(filepath.Join(outDir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), got)
}

func TestDownload_TamperedFileShowsKind(t *testing.T) {
	a := newTestApp("P1", "")
	a.files.err = common.ErrDecryptionFailed

	err := a.Download(context.Background(), []string{"f1", t.TempDir()})
	require.ErrorIs(t, err, common.ErrDecryptionFailed)
	assert.Contains(t, a.out.String(), "Error (DecryptionFailed)")
}

func TestOpenKeyStore(t *testing.T) {
	ctx := context.Background()

	st, closeFn, err := openKeyStore(ctx, &config.Config{KeyStoreBackend: "memory"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.IsType(t, &keystore.MemoryStore{}, st)
	require.NoError(t, closeFn())

	orig := getPassphrase
	getPassphrase = func(io.Writer) ([]byte, error) { return []byte("device secret"), nil }
	t.Cleanup(func() { getPassphrase = orig })

	path := filepath.Join(t.TempDir(), "keys.db")
	st, closeFn, err = openKeyStore(ctx, &config.Config{KeyStoreBackend: "sqlite", KeyStorePath: path}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.IsType(t, &keystore.SQLiteStore{}, st)
	require.NoError(t, closeFn())

	_, _, err = openKeyStore(ctx, &config.Config{KeyStoreBackend: "floppy"}, &bytes.Buffer{})
	require.Error(t, err)
}
