package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clinicvault/internal/client/client"
	"github.com/dmitrijs2005/clinicvault/internal/client/connections"
	"github.com/dmitrijs2005/clinicvault/internal/client/keystore"
	"github.com/dmitrijs2005/clinicvault/internal/client/upload"
	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// Document is a downloaded and opened file.
type Document struct {
	FileID    string
	KeyID     string
	Name      string
	Plaintext []byte
}

// FileService seals files on this device before they leave it and opens
// them after download. The server only ever sees ciphertext.
type FileService interface {
	Upload(ctx context.Context, counterpart, name string, plaintext []byte) (*wire.FileInfo, error)
	Download(ctx context.Context, fileID string) (*Document, error)
	List(ctx context.Context, keyID string) ([]wire.FileInfo, error)
	Delete(ctx context.Context, fileID string) error
}

type fileService struct {
	userID   string
	client   client.Client
	store    keystore.KeyStore
	registry *connections.Registry
	uploads  *upload.Coordinator
	clock    clock.Clock
	logger   logging.Logger
}

func NewFileService(userID string, c client.Client, ks keystore.KeyStore, reg *connections.Registry, u *upload.Coordinator, clk clock.Clock, l logging.Logger) FileService {
	return &fileService{
		userID:   userID,
		client:   c,
		store:    ks,
		registry: reg,
		uploads:  u,
		clock:    clk,
		logger:   l.With("module", "files"),
	}
}

// Upload seals plaintext under the Active key shared with counterpart and
// stores it in two phases. After a rotation this is always the new key.
func (s *fileService) Upload(ctx context.Context, counterpart, name string, plaintext []byte) (*wire.FileInfo, error) {
	conn, ok := s.registry.ActiveFor(counterpart)
	if !ok {
		return nil, fmt.Errorf("%w: no active connection with %s", common.ErrorNotFound, counterpart)
	}
	if !keys.CanEncrypt(keys.Status(conn.Status), conn.ExpiresAt, s.clock.Now()) {
		return nil, fmt.Errorf("%w: key %s", common.ErrPairingExpired, conn.KeyID)
	}

	h, err := s.store.Lookup(ctx, s.userID, conn.KeyID)
	if err != nil {
		return nil, err
	}

	sealed, err := cryptox.Encrypt(plaintext, h.Key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	return s.uploads.Upload(ctx, &client.FileUpload{
		KeyID:       conn.KeyID,
		RecipientID: recipientOf(s.userID, conn),
		Name:        name,
		Sealed:      sealed,
	})
}

// recipientOf returns the other party of conn as seen by userID.
func recipientOf(userID string, conn wire.Connection) string {
	if wire.SameIdentity(userID, conn.PatientID) {
		return conn.DoctorID
	}
	return conn.PatientID
}

// Download fetches a file and opens it with the cached key it was sealed
// under. An authentication failure is a security event, not a bug, and is
// logged as such; the tampered bytes are never returned.
func (s *fileService) Download(ctx context.Context, fileID string) (*Document, error) {
	d, err := s.client.DownloadFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	if c, ok := s.registry.Get(d.KeyID); ok && !keys.IsDecryptable(keys.Status(c.Status), nil, s.clock.Now()) {
		return nil, fmt.Errorf("%w: key %s", common.ErrKeyRevoked, d.KeyID)
	}

	h, err := s.store.Lookup(ctx, s.userID, d.KeyID)
	if err != nil {
		return nil, err
	}

	plain, err := cryptox.Decrypt(d.Sealed, h.Key)
	if errors.Is(err, common.ErrDecryptionFailed) {
		s.logger.Warn(ctx, "file failed authentication",
			"security_event", "decryption_failed",
			"file_id", d.FileID,
			"key_id", d.KeyID,
		)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	return &Document{FileID: d.FileID, KeyID: d.KeyID, Name: d.Name, Plaintext: plain}, nil
}

func (s *fileService) List(ctx context.Context, keyID string) ([]wire.FileInfo, error) {
	files, err := s.client.ListFiles(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (s *fileService) Delete(ctx context.Context, fileID string) error {
	if err := s.client.DeleteFile(ctx, fileID, false); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
