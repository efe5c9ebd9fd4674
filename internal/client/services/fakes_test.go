package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/client/client"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// fakeServer is a shared in-memory backend; each device gets its own
// fakeClient view of it.
type fakeServer struct {
	mu       sync.Mutex
	seq      int
	conns    []wire.Connection
	material map[string][]byte
	files    map[string]*storedFile

	materialErr error
}

type storedFile struct {
	upload    client.FileUpload
	confirmed bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{material: map[string][]byte{}, files: map[string]*storedFile{}}
}

func (s *fakeServer) issue(doctorID, patientID string) *wire.CreatePairingResponse {
	s.seq++
	id := fmt.Sprintf("k%d", s.seq)
	raw := common.GenerateRandByteArray(cryptox.KeySize)
	s.material[id] = raw
	s.conns = append(s.conns, wire.Connection{KeyID: id, DoctorID: doctorID, PatientID: patientID, Status: string(keys.StatusActive)})

	p := &wire.BootstrapPayload{DoctorID: doctorID, Key: base64.StdEncoding.EncodeToString(raw), KeyID: id}
	text, _ := p.Encode()
	return &wire.CreatePairingResponse{KeyID: id, BootstrapPayload: text, Pin: "123456"}
}

func (s *fakeServer) setStatus(keyID string, st keys.Status) {
	for i := range s.conns {
		if s.conns[i].KeyID == keyID {
			s.conns[i].Status = string(st)
		}
	}
}

func (s *fakeServer) tamper(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileID].upload.Sealed.Ciphertext[0] ^= 0xff
}

type fakeClient struct {
	client.Client
	srv *fakeServer
}

func (c *fakeClient) CreatePairing(_ context.Context, doctorID, patientID string) (*wire.CreatePairingResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.srv.issue(doctorID, patientID), nil
}

func (c *fakeClient) ListConnections(context.Context) ([]wire.Connection, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return append([]wire.Connection(nil), c.srv.conns...), nil
}

func (c *fakeClient) FetchKeyMaterial(_ context.Context, keyID string) ([]byte, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.materialErr != nil {
		return nil, c.srv.materialErr
	}
	raw, ok := c.srv.material[keyID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (c *fakeClient) RotateKey(_ context.Context, keyID string) (*wire.CreatePairingResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	for _, conn := range c.srv.conns {
		if conn.KeyID == keyID {
			c.srv.setStatus(keyID, keys.StatusInactive)
			return c.srv.issue(conn.DoctorID, conn.PatientID), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (c *fakeClient) RevokeKey(_ context.Context, keyID string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.setStatus(keyID, keys.StatusRevoked)
	return nil
}

func (c *fakeClient) DeleteKey(_ context.Context, keyID string) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	kept := c.srv.conns[:0]
	for _, conn := range c.srv.conns {
		if conn.KeyID != keyID {
			kept = append(kept, conn)
		}
	}
	c.srv.conns = kept
	delete(c.srv.material, keyID)
	return nil
}

func (c *fakeClient) UploadFile(_ context.Context, f *client.FileUpload) (*wire.UploadResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.seq++
	id := fmt.Sprintf("f%d", c.srv.seq)
	c.srv.files[id] = &storedFile{upload: *f}
	return &wire.UploadResponse{FileID: id, UploadState: "pending"}, nil
}

func (c *fakeClient) ConfirmFile(_ context.Context, fileID string) (*wire.FileInfo, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	f, ok := c.srv.files[fileID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	f.confirmed = true
	return c.srv.info(fileID, f), nil
}

func (s *fakeServer) info(id string, f *storedFile) *wire.FileInfo {
	return &wire.FileInfo{
		FileID:      id,
		RecipientID: f.upload.RecipientID,
		KeyID:       f.upload.KeyID,
		Name:        f.upload.Name,
		Algorithm:   f.upload.Sealed.Algorithm,
		Size:        int64(len(f.upload.Sealed.Ciphertext)),
		UploadState: "confirmed",
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *fakeClient) DeleteFile(_ context.Context, fileID string, pendingOnly bool) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	f, ok := c.srv.files[fileID]
	if !ok {
		return common.ErrorNotFound
	}
	if pendingOnly && f.confirmed {
		return common.ErrAlreadyConfirmed
	}
	delete(c.srv.files, fileID)
	return nil
}

func (c *fakeClient) DownloadFile(_ context.Context, fileID string) (*client.Download, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	f, ok := c.srv.files[fileID]
	if !ok || !f.confirmed {
		return nil, common.ErrorNotFound
	}
	sealed := *f.upload.Sealed
	sealed.Ciphertext = append([]byte(nil), sealed.Ciphertext...)
	return &client.Download{
		FileID:      fileID,
		KeyID:       f.upload.KeyID,
		RecipientID: f.upload.RecipientID,
		Name:        f.upload.Name,
		Sealed:      &sealed,
	}, nil
}

func (c *fakeClient) ListFiles(_ context.Context, keyID string) ([]wire.FileInfo, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	var out []wire.FileInfo
	for id, f := range c.srv.files {
		if f.confirmed && (keyID == "" || f.upload.KeyID == keyID) {
			out = append(out, *c.srv.info(id, f))
		}
	}
	return out, nil
}
