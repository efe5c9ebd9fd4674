package models

import "time"

// Upload states of an EncryptedFile.
const (
	UploadPending   = "pending"
	UploadConfirmed = "confirmed"
)

// EncryptedFile describes server-side metadata for a ciphertext blob. The
// blob itself is stored in object storage under StorageKey.
type EncryptedFile struct {
	ID          string
	OwnerID     string
	RecipientID string
	KeyID       string
	Name        string
	StorageKey  string
	IV          []byte
	AuthTag     []byte
	Algorithm   string
	Size        int64
	UploadState string
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}
