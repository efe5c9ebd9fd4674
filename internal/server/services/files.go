package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/clock"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/server/audit"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	"github.com/dmitrijs2005/clinicvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clinicvault/internal/server/storage"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/google/uuid"
)

// UploadMeta is the cipher metadata sent alongside an uploaded ciphertext.
// Recipient is optional; when set it must name the other party of the key.
type UploadMeta struct {
	KeyID     string
	Recipient string
	Name      string
	IV        []byte
	AuthTag   []byte
	Algorithm string
}

// FileService is the server half of the two-phase upload: it stores
// ciphertext as Pending, confirms it, serves it back, and garbage-collects
// Pending files that were never confirmed.
type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       storage.ObjectStore
	audit       audit.Recorder
	clock       clock.Clock
	logger      logging.Logger
	pendingTTL  time.Duration
}

func NewFileService(db *sql.DB, m repomanager.RepositoryManager, store storage.ObjectStore, rec audit.Recorder,
	clk clock.Clock, logger logging.Logger, pendingTTL time.Duration) *FileService {
	return &FileService{
		db:          db,
		repomanager: m,
		store:       store,
		audit:       rec,
		clock:       clk,
		logger:      logger.With("module", "files"),
		pendingTTL:  pendingTTL,
	}
}

func (m *UploadMeta) validate() error {
	switch {
	case m.KeyID == "":
		return fmt.Errorf("%w: key id is required", common.ErrorValidation)
	case m.Algorithm != common.Algorithm:
		return fmt.Errorf("%w: unsupported algorithm", common.ErrorValidation)
	case len(m.IV) != cryptox.NonceSize:
		return fmt.Errorf("%w: iv must be %d bytes", common.ErrorValidation, cryptox.NonceSize)
	case len(m.AuthTag) != cryptox.TagSize:
		return fmt.Errorf("%w: auth tag must be %d bytes", common.ErrorValidation, cryptox.TagSize)
	}
	return nil
}

// Upload is phase one: the ciphertext is stored and recorded as Pending.
// The key must be a verified, Active key the caller is party to; the other
// party becomes the recipient.
func (s *FileService) Upload(ctx context.Context, callerID string, meta UploadMeta, ciphertext []byte) (*models.EncryptedFile, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}

	k, err := s.repomanager.Keys(s.db).GetByID(ctx, meta.KeyID)
	if err != nil {
		return nil, err
	}
	if !k.IsParty(callerID) {
		return nil, common.ErrorForbidden
	}
	now := s.clock.Now()
	if k.VerifiedAt == nil {
		return nil, fmt.Errorf("%w: pairing not confirmed", common.ErrorForbidden)
	}
	if !keys.CanEncrypt(k.Status, k.ExpiresAt, now) {
		return nil, common.ErrKeyRevoked
	}

	recipient := k.PatientID
	if wire.SameIdentity(callerID, k.PatientID) {
		recipient = k.DoctorID
	}
	if meta.Recipient != "" && !wire.SameIdentity(meta.Recipient, recipient) {
		return nil, fmt.Errorf("%w: recipient is not the other party of the key", common.ErrorValidation)
	}

	f := &models.EncryptedFile{
		ID:          uuid.NewString(),
		OwnerID:     callerID,
		RecipientID: recipient,
		KeyID:       k.ID,
		Name:        meta.Name,
		StorageKey:  storage.NewStorageKey(now),
		IV:          meta.IV,
		AuthTag:     meta.AuthTag,
		Algorithm:   meta.Algorithm,
		Size:        int64(len(ciphertext)),
		UploadState: models.UploadPending,
		CreatedAt:   now,
	}

	if err := s.store.Put(ctx, f.StorageKey, ciphertext); err != nil {
		s.audit.Record(ctx, models.ActionFileUpload, callerID, f.ID, models.ResultFailed, "storage")
		return nil, err
	}
	if err := s.repomanager.Files(s.db).Create(ctx, f); err != nil {
		s.discardBlob(ctx, f.StorageKey)
		s.audit.Record(ctx, models.ActionFileUpload, callerID, f.ID, models.ResultFailed, "metadata")
		return nil, err
	}

	s.audit.Record(ctx, models.ActionFileUpload, callerID, f.ID, models.ResultOK, "")
	s.logger.Info(ctx, "file uploaded", "file_id", f.ID, "key_id", f.KeyID, "size", f.Size)
	return f, nil
}

// Confirm is phase two: Pending becomes Confirmed and the file is listable.
func (s *FileService) Confirm(ctx context.Context, callerID, fileID string) (*models.EncryptedFile, error) {
	repo := s.repomanager.Files(s.db)

	f, err := repo.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !wire.SameIdentity(f.OwnerID, callerID) {
		return nil, common.ErrorForbidden
	}
	if f.UploadState == models.UploadConfirmed {
		return nil, common.ErrAlreadyConfirmed
	}

	now := s.clock.Now()
	if err := repo.Confirm(ctx, fileID, now); err != nil {
		return nil, err
	}
	f.UploadState = models.UploadConfirmed
	f.ConfirmedAt = &now

	s.logger.Info(ctx, "file confirmed", "file_id", fileID)
	return f, nil
}

// Delete removes a file and its blob. With pendingOnly set (the client's
// compensating delete) a confirmed file is left alone and
// common.ErrAlreadyConfirmed is returned.
func (s *FileService) Delete(ctx context.Context, callerID, fileID string, pendingOnly bool) error {
	repo := s.repomanager.Files(s.db)

	f, err := repo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if !wire.SameIdentity(f.OwnerID, callerID) {
		return common.ErrorForbidden
	}
	if pendingOnly && f.UploadState == models.UploadConfirmed {
		return common.ErrAlreadyConfirmed
	}

	if err := repo.Delete(ctx, fileID); err != nil {
		s.audit.Record(ctx, models.ActionFileDelete, callerID, fileID, models.ResultFailed, common.Kind(err))
		return err
	}
	s.discardBlob(ctx, f.StorageKey)

	s.audit.Record(ctx, models.ActionFileDelete, callerID, fileID, models.ResultOK, f.UploadState)
	s.logger.Info(ctx, "file deleted", "file_id", fileID, "upload_state", f.UploadState)
	return nil
}

// Download returns a confirmed file's metadata and ciphertext to its owner
// or recipient. Pending files read as not found.
func (s *FileService) Download(ctx context.Context, callerID, fileID string) (*models.EncryptedFile, []byte, error) {
	f, err := s.repomanager.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if f.UploadState != models.UploadConfirmed {
		return nil, nil, common.ErrorNotFound
	}
	if !wire.SameIdentity(f.OwnerID, callerID) && !wire.SameIdentity(f.RecipientID, callerID) {
		return nil, nil, common.ErrorForbidden
	}

	data, err := s.store.Get(ctx, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return f, data, nil
}

// List returns confirmed files visible to the caller, optionally for one key.
func (s *FileService) List(ctx context.Context, callerID, keyID string) ([]*models.EncryptedFile, error) {
	return s.repomanager.Files(s.db).ListConfirmed(ctx, callerID, keyID)
}

// CollectPending deletes Pending files older than the pending TTL along with
// their blobs, and returns how many were removed.
func (s *FileService) CollectPending(ctx context.Context) (int, error) {
	repo := s.repomanager.Files(s.db)

	stale, err := repo.ListPendingBefore(ctx, s.clock.Now().Add(-s.pendingTTL))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, f := range stale {
		if err := repo.Delete(ctx, f.ID); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			return removed, err
		}
		s.discardBlob(ctx, f.StorageKey)
		s.audit.Record(ctx, models.ActionFileDelete, systemActor, f.ID, models.ResultOK, "orphaned pending upload")
		removed++
	}

	if removed > 0 {
		s.logger.Info(ctx, "pending uploads collected", "count", removed)
	}
	return removed, nil
}

func (s *FileService) discardBlob(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn(ctx, "blob delete failed", "storage_key", key, "error", err)
	}
}
