package wire

import "time"

// CreatePairingRequest asks the issuer for a new relationship key.
type CreatePairingRequest struct {
	DoctorID  string `json:"doctor_id" validate:"required,max=128"`
	PatientID string `json:"patient_id" validate:"required,max=128"`
}

// CreatePairingResponse carries the bootstrap payload and its PIN. The PIN
// must reach the scanning party over a different channel than the code.
type CreatePairingResponse struct {
	KeyID            string     `json:"key_id"`
	BootstrapPayload string     `json:"bootstrap_payload"`
	Pin              string     `json:"pin"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
}

// VerifyPairingRequest submits a scanned payload plus the out-of-band PIN.
type VerifyPairingRequest struct {
	Payload BootstrapPayload `json:"payload" validate:"-"`
	Pin     string           `json:"pin" validate:"required,numeric,min=4,max=12"`
}

// VerifyPairingResponse returns the registered connection.
type VerifyPairingResponse struct {
	Connection Connection `json:"connection"`
}

// Connection is the client-observed projection of a relationship key.
type Connection struct {
	KeyID     string     `json:"key_id"`
	DoctorID  string     `json:"doctor_id"`
	PatientID string     `json:"patient_id"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ConnectionsResponse lists connections visible to the caller.
type ConnectionsResponse struct {
	Connections []Connection `json:"connections"`
}

// KeyMaterialResponse is returned by server-assisted key restoration.
type KeyMaterialResponse struct {
	KeyID          string `json:"key_id"`
	KeyMaterialB64 string `json:"key_material_b64"`
	Status         string `json:"status"`
}

// UploadResponse is returned by phase one of a two-phase upload.
type UploadResponse struct {
	FileID      string `json:"file_id"`
	UploadState string `json:"upload_state"`
}

// FileInfo describes a stored, confirmed file.
type FileInfo struct {
	FileID      string    `json:"file_id"`
	OwnerID     string    `json:"owner_id"`
	RecipientID string    `json:"recipient_id"`
	KeyID       string    `json:"key_id"`
	Name        string    `json:"name"`
	Algorithm   string    `json:"algorithm"`
	Size        int64     `json:"size"`
	UploadState string    `json:"upload_state"`
	CreatedAt   time.Time `json:"created_at"`
}

// FilesResponse lists confirmed files.
type FilesResponse struct {
	Files []FileInfo `json:"files"`
}

// ErrorBody is the error envelope: {"error": {...}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable kind next to a human readable message.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
