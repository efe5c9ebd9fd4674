// Package api is the REST/JSON surface of the server: pairing, connections,
// key lifecycle and encrypted file endpoints under /v1, authenticated with
// Bearer JWTs.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	"github.com/dmitrijs2005/clinicvault/internal/server/services"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/go-playground/validator/v10"
)

// maxJSONBody caps request bodies on JSON endpoints.
const maxJSONBody = 1 << 20

// KeyService is the pairing and key lifecycle logic the handlers call.
type KeyService interface {
	CreatePairing(ctx context.Context, callerID, doctorID, patientID string) (*services.PairingResult, error)
	VerifyPairing(ctx context.Context, callerID string, payload *wire.BootstrapPayload, pin string) (*models.RelationshipKey, error)
	ListConnections(ctx context.Context, callerID string) ([]*models.RelationshipKey, error)
	FetchMaterial(ctx context.Context, callerID, keyID string) ([]byte, *models.RelationshipKey, error)
	Rotate(ctx context.Context, callerID, keyID string) (*services.PairingResult, error)
	Revoke(ctx context.Context, callerID, keyID string) error
	Delete(ctx context.Context, callerID, keyID string) error
}

// FileService is the encrypted file logic the handlers call.
type FileService interface {
	Upload(ctx context.Context, callerID string, meta services.UploadMeta, ciphertext []byte) (*models.EncryptedFile, error)
	Confirm(ctx context.Context, callerID, fileID string) (*models.EncryptedFile, error)
	Delete(ctx context.Context, callerID, fileID string, pendingOnly bool) error
	Download(ctx context.Context, callerID, fileID string) (*models.EncryptedFile, []byte, error)
	List(ctx context.Context, callerID, keyID string) ([]*models.EncryptedFile, error)
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	keys           KeyService
	files          FileService
	jwtSecret      []byte
	maxUploadBytes int64
	logger         logging.Logger
	validate       *validator.Validate
}

func NewHandler(ks KeyService, fs FileService, secretKey string, maxUploadBytes int64, l logging.Logger) *Handler {
	return &Handler{
		keys:           ks,
		files:          fs,
		jwtSecret:      []byte(secretKey),
		maxUploadBytes: maxUploadBytes,
		logger:         l.With("module", "api"),
		validate:       validator.New(),
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error(context.Background(), "response encode failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError writes the error envelope. Unknown errors are logged and
// reported as Internal without their text.
func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	kind := common.Kind(err)
	code := StatusFor(kind)
	message := err.Error()

	if code == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		message = common.ErrorInternal.Error()
	}

	h.respondWithJSON(w, code, wire.ErrorBody{Error: wire.ErrorDetail{Code: code, Kind: kind, Message: message}})
}

// decodeJSON reads and validates a JSON request body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return validationError("invalid JSON body")
	}
	if err := h.validate.Struct(v); err != nil {
		return validationError(err.Error())
	}
	return nil
}

func toConnection(k *models.RelationshipKey) wire.Connection {
	return wire.Connection{
		KeyID:     k.ID,
		DoctorID:  k.DoctorID,
		PatientID: k.PatientID,
		Status:    string(k.Status),
		ExpiresAt: k.ExpiresAt,
	}
}

func toFileInfo(f *models.EncryptedFile) wire.FileInfo {
	return wire.FileInfo{
		FileID:      f.ID,
		OwnerID:     f.OwnerID,
		RecipientID: f.RecipientID,
		KeyID:       f.KeyID,
		Name:        f.Name,
		Algorithm:   f.Algorithm,
		Size:        f.Size,
		UploadState: f.UploadState,
		CreatedAt:   f.CreatedAt,
	}
}

func toPairingResponse(res *services.PairingResult) wire.CreatePairingResponse {
	return wire.CreatePairingResponse{
		KeyID:            res.Key.ID,
		BootstrapPayload: res.Payload,
		Pin:              res.Pin,
		ExpiresAt:        res.Key.ExpiresAt,
	}
}
