package client

import (
	"context"

	"github.com/dmitrijs2005/clinicvault/internal/cryptox"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
)

// FileUpload is phase one of an upload: the sealed body and the metadata
// that travels with it.
type FileUpload struct {
	KeyID       string
	RecipientID string
	Name        string
	Sealed      *cryptox.Sealed
}

// Download is a stored file as returned by the server, still sealed.
type Download struct {
	FileID      string
	KeyID       string
	RecipientID string
	Name        string
	Sealed      *cryptox.Sealed
}

type Client interface {
	Close() error
	Ping(ctx context.Context) error

	CreatePairing(ctx context.Context, doctorID, patientID string) (*wire.CreatePairingResponse, error)
	VerifyPairing(ctx context.Context, payload *wire.BootstrapPayload, pin string) (*wire.Connection, error)
	ListConnections(ctx context.Context) ([]wire.Connection, error)

	FetchKeyMaterial(ctx context.Context, keyID string) ([]byte, error)
	RotateKey(ctx context.Context, keyID string) (*wire.CreatePairingResponse, error)
	RevokeKey(ctx context.Context, keyID string) error
	DeleteKey(ctx context.Context, keyID string) error

	UploadFile(ctx context.Context, f *FileUpload) (*wire.UploadResponse, error)
	ConfirmFile(ctx context.Context, fileID string) (*wire.FileInfo, error)
	DeleteFile(ctx context.Context, fileID string, pendingOnly bool) error
	DownloadFile(ctx context.Context, fileID string) (*Download, error)
	ListFiles(ctx context.Context, keyID string) ([]wire.FileInfo, error)
}
