// Package upload stores sealed files with the server in two phases.
//
// Phase one transfers the ciphertext and leaves the file pending; phase two
// confirms it, and only confirmed files are ever listed. If the caller
// cancels or phase two fails after phase one succeeded, exactly one
// compensating delete is sent so no orphaned ciphertext is left behind.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/client/client"
	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// DefaultCompensateTimeout bounds the compensating delete.
const DefaultCompensateTimeout = 10 * time.Second

// FileAPI is the file-storage side of the server.
type FileAPI interface {
	UploadFile(ctx context.Context, f *client.FileUpload) (*wire.UploadResponse, error)
	ConfirmFile(ctx context.Context, fileID string) (*wire.FileInfo, error)
	DeleteFile(ctx context.Context, fileID string, pendingOnly bool) error
}

type Coordinator struct {
	api               FileAPI
	logger            logging.Logger
	compensateTimeout time.Duration
	locks             *keyedMutex
}

func NewCoordinator(api FileAPI, compensateTimeout time.Duration, l logging.Logger) *Coordinator {
	if compensateTimeout <= 0 {
		compensateTimeout = DefaultCompensateTimeout
	}
	return &Coordinator{
		api:               api,
		logger:            l.With("module", "upload"),
		compensateTimeout: compensateTimeout,
		locks:             newKeyedMutex(),
	}
}

// Upload runs both phases for f. Uploads of the same logical file (key and
// name) are serialized.
//
// If phase one fails there is no file id to compensate; a pending file the
// server may still have created is collected by its pending-file sweep.
func (c *Coordinator) Upload(ctx context.Context, f *client.FileUpload) (*wire.FileInfo, error) {
	unlock := c.locks.Lock(f.KeyID + "/" + f.Name)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.api.UploadFile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	fileID := resp.FileID

	// The abort signal is checked immediately before confirm.
	if err := ctx.Err(); err != nil {
		return c.abort(ctx, fileID, err)
	}

	info, err := c.api.ConfirmFile(ctx, fileID)
	if err != nil {
		return c.abort(ctx, fileID, err)
	}

	c.logger.Info(ctx, "file uploaded", "file_id", fileID, "key_id", f.KeyID)
	return info, nil
}

// abort compensates a pending upload. When the delete finds the file
// already confirmed, the confirm won the race and the upload stands.
func (c *Coordinator) abort(ctx context.Context, fileID string, cause error) (*wire.FileInfo, error) {
	confirmed, err := c.compensate(ctx, fileID)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("upload %s: %w", fileID, cause), err)
	}
	if confirmed {
		c.logger.Info(ctx, "upload confirmed before abort took effect", "file_id", fileID)
		return &wire.FileInfo{FileID: fileID, UploadState: "confirmed"}, nil
	}
	return nil, fmt.Errorf("upload %s: %w", fileID, cause)
}

// compensate issues exactly one pending-only delete on a fresh context that
// the caller's cancellation cannot reach. NotFound means the file is
// already gone; AlreadyConfirmed means it is kept. Neither is a failure.
func (c *Coordinator) compensate(ctx context.Context, fileID string) (confirmed bool, err error) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.compensateTimeout)
	defer cancel()

	err = c.api.DeleteFile(dctx, fileID, true)
	switch {
	case err == nil, errors.Is(err, common.ErrorNotFound):
		c.logger.Info(ctx, "pending upload discarded", "file_id", fileID)
		return false, nil
	case errors.Is(err, common.ErrAlreadyConfirmed):
		return true, nil
	default:
		c.logger.Error(ctx, "compensating delete failed", "file_id", fileID, "error", err)
		return false, fmt.Errorf("compensating delete of %s: %w", fileID, err)
	}
}
