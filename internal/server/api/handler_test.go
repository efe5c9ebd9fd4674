package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/keys"
	"github.com/dmitrijs2005/clinicvault/internal/logging"
	"github.com/dmitrijs2005/clinicvault/internal/server/auth"
	"github.com/dmitrijs2005/clinicvault/internal/server/models"
	"github.com/dmitrijs2005/clinicvault/internal/server/services"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// -------- fakes --------

type fakeKeys struct {
	KeyService

	caller string
	err    error

	createFn func(doctorID, patientID string) (*services.PairingResult, error)
	verifyFn func(p *wire.BootstrapPayload, pin string) (*models.RelationshipKey, error)
	material []byte
}

func (f *fakeKeys) CreatePairing(ctx context.Context, callerID, doctorID, patientID string) (*services.PairingResult, error) {
	f.caller = callerID
	return f.createFn(doctorID, patientID)
}

func (f *fakeKeys) VerifyPairing(ctx context.Context, callerID string, p *wire.BootstrapPayload, pin string) (*models.RelationshipKey, error) {
	f.caller = callerID
	return f.verifyFn(p, pin)
}

func (f *fakeKeys) ListConnections(ctx context.Context, callerID string) ([]*models.RelationshipKey, error) {
	f.caller = callerID
	return []*models.RelationshipKey{{ID: "k-1", DoctorID: "U-001", PatientID: "U-034", Status: keys.StatusActive}}, f.err
}

func (f *fakeKeys) FetchMaterial(ctx context.Context, callerID, keyID string) ([]byte, *models.RelationshipKey, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	out := make([]byte, len(f.material))
	copy(out, f.material)
	return out, &models.RelationshipKey{ID: keyID, Status: keys.StatusInactive}, nil
}

func (f *fakeKeys) Revoke(ctx context.Context, callerID, keyID string) error { return f.err }
func (f *fakeKeys) Delete(ctx context.Context, callerID, keyID string) error { return f.err }

type fakeFiles struct {
	FileService

	meta        services.UploadMeta
	body        []byte
	pendingOnly bool
	err         error
	stored      *models.EncryptedFile
}

func (f *fakeFiles) Upload(ctx context.Context, callerID string, meta services.UploadMeta, ciphertext []byte) (*models.EncryptedFile, error) {
	f.meta, f.body = meta, ciphertext
	if f.err != nil {
		return nil, f.err
	}
	return &models.EncryptedFile{ID: "f-1", UploadState: models.UploadPending}, nil
}

func (f *fakeFiles) Delete(ctx context.Context, callerID, fileID string, pendingOnly bool) error {
	f.pendingOnly = pendingOnly
	return f.err
}

func (f *fakeFiles) Download(ctx context.Context, callerID, fileID string) (*models.EncryptedFile, []byte, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.stored, []byte("ciphertext"), nil
}

func (f *fakeFiles) List(ctx context.Context, callerID, keyID string) ([]*models.EncryptedFile, error) {
	return []*models.EncryptedFile{f.stored}, f.err
}

// -------- helpers --------

func newTestHandler(ks *fakeKeys, fs *fakeFiles) http.Handler {
	return NewHandler(ks, fs, testSecret, 64, logging.Nop()).Routes()
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, user string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if user != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+token(t, user))
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) wire.ErrorDetail {
	t.Helper()
	var body wire.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

// -------- tests --------

func TestHealthz(t *testing.T) {
	rec := do(t, newTestHandler(&fakeKeys{}, &fakeFiles{}), http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestHandler(&fakeKeys{}, &fakeFiles{})

	rec := do(t, h, http.MethodGet, "/v1/connections", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", errorKind(t, rec).Kind)

	rec = do(t, h, http.MethodGet, "/v1/connections", "", nil, map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := auth.GenerateToken("U-001", []byte(testSecret), -time.Minute)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/v1/connections", "", nil, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := auth.GenerateToken("U-001", []byte("other"), time.Hour)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/v1/connections", "", nil, map[string]string{"Authorization": "bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePairing(t *testing.T) {
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := &fakeKeys{createFn: func(d, p string) (*services.PairingResult, error) {
		return &services.PairingResult{
			Key:     &models.RelationshipKey{ID: "k-1", DoctorID: d, PatientID: p, ExpiresAt: &exp},
			Payload: `{"doctor_id":"U-001"}`,
			Pin:     "123456",
		}, nil
	}}
	h := newTestHandler(ks, &fakeFiles{})

	rec := do(t, h, http.MethodPost, "/v1/pairings", "U-001", []byte(`{"doctor_id":"U-001","patient_id":"U-034"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "U-001", ks.caller)

	var resp wire.CreatePairingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "k-1", resp.KeyID)
	assert.Equal(t, "123456", resp.Pin)
	assert.Equal(t, `{"doctor_id":"U-001"}`, resp.BootstrapPayload)
	require.NotNil(t, resp.ExpiresAt)
	assert.True(t, exp.Equal(*resp.ExpiresAt))

	rec = do(t, h, http.MethodPost, "/v1/pairings", "U-001", []byte(`{"doctor_id":"U-001"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Validation", errorKind(t, rec).Kind)

	rec = do(t, h, http.MethodPost, "/v1/pairings", "U-001", []byte(`not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePairing_Duplicate(t *testing.T) {
	ks := &fakeKeys{createFn: func(d, p string) (*services.PairingResult, error) {
		return nil, common.ErrDuplicatePairing
	}}
	rec := do(t, newTestHandler(ks, &fakeFiles{}), http.MethodPost, "/v1/pairings", "U-001",
		[]byte(`{"doctor_id":"U-001","patient_id":"U-034"}`), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	detail := errorKind(t, rec)
	assert.Equal(t, "DuplicatePairing", detail.Kind)
	assert.Equal(t, http.StatusConflict, detail.Code)
}

func TestVerifyPairing(t *testing.T) {
	var gotPin string
	ks := &fakeKeys{verifyFn: func(p *wire.BootstrapPayload, pin string) (*models.RelationshipKey, error) {
		gotPin = pin
		if p.DoctorID != "U-001" {
			return nil, common.ErrOwnershipMismatch
		}
		return &models.RelationshipKey{ID: "k-1", DoctorID: "U-001", PatientID: "U-034", Status: keys.StatusActive}, nil
	}}
	h := newTestHandler(ks, &fakeFiles{})

	body := []byte(`{"payload":{"doctor_id":"U-001","key":"` + base64.StdEncoding.EncodeToString(make([]byte, 32)) + `"},"pin":"123456"}`)
	rec := do(t, h, http.MethodPost, "/v1/pairings/verify", "U-001", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", gotPin)

	var resp wire.VerifyPairingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wire.Connection{KeyID: "k-1", DoctorID: "U-001", PatientID: "U-034", Status: "active"}, resp.Connection)

	other := []byte(`{"payload":{"doctor_id":"U-002","key":"x"},"pin":"123456"}`)
	rec = do(t, h, http.MethodPost, "/v1/pairings/verify", "U-001", other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "OwnershipMismatch", errorKind(t, rec).Kind)

	rec = do(t, h, http.MethodPost, "/v1/pairings/verify", "U-001", []byte(`{"payload":{},"pin":"12ab"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConnections(t *testing.T) {
	ks := &fakeKeys{}
	rec := do(t, newTestHandler(ks, &fakeFiles{}), http.MethodGet, "/v1/connections", " U-034 ", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "U-034", ks.caller)

	var resp wire.ConnectionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Connections, 1)
	assert.Equal(t, "k-1", resp.Connections[0].KeyID)
}

func TestKeyMaterial(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 32)
	h := newTestHandler(&fakeKeys{material: raw}, &fakeFiles{})

	rec := do(t, h, http.MethodGet, "/v1/keys/k-9/material", "U-001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp wire.KeyMaterialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "k-9", resp.KeyID)
	assert.Equal(t, "inactive", resp.Status)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), resp.KeyMaterialB64)

	rec = do(t, newTestHandler(&fakeKeys{err: common.ErrKeyRevoked}, &fakeFiles{}), http.MethodGet, "/v1/keys/k-9/material", "U-001", nil, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "KeyRevoked", errorKind(t, rec).Kind)
}

func TestRevokeAndDeleteKey(t *testing.T) {
	h := newTestHandler(&fakeKeys{}, &fakeFiles{})
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/v1/keys/k-1/revoke", "U-001", nil, nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/keys/k-1", "U-001", nil, nil).Code)

	h = newTestHandler(&fakeKeys{err: common.ErrorNotFound}, &fakeFiles{})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/keys/k-1/revoke", "U-001", nil, nil).Code)
}

func uploadHeaders() map[string]string {
	return map[string]string{
		common.HeaderIV:          base64.StdEncoding.EncodeToString(make([]byte, 12)),
		common.HeaderAuthTag:     base64.StdEncoding.EncodeToString(make([]byte, 16)),
		common.HeaderAlgorithm:   common.Algorithm,
		common.HeaderKeyID:       "k-1",
		common.HeaderRecipientID: "U-034",
		common.HeaderFileName:    "lab+results%202026.pdf",
		"Content-Type":           "application/octet-stream",
	}
}

func TestUploadFile(t *testing.T) {
	fs := &fakeFiles{}
	h := newTestHandler(&fakeKeys{}, fs)

	rec := do(t, h, http.MethodPost, "/v1/files", "U-001", []byte("sealed"), uploadHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp wire.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wire.UploadResponse{FileID: "f-1", UploadState: "pending"}, resp)

	assert.Equal(t, []byte("sealed"), fs.body)
	assert.Equal(t, "k-1", fs.meta.KeyID)
	assert.Equal(t, "U-034", fs.meta.Recipient)
	assert.Equal(t, "lab results 2026.pdf", fs.meta.Name)
	assert.Len(t, fs.meta.IV, 12)
	assert.Len(t, fs.meta.AuthTag, 16)
}

func TestUploadFile_BadRequests(t *testing.T) {
	h := newTestHandler(&fakeKeys{}, &fakeFiles{})

	hdr := uploadHeaders()
	delete(hdr, common.HeaderIV)
	rec := do(t, h, http.MethodPost, "/v1/files", "U-001", []byte("sealed"), hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hdr = uploadHeaders()
	hdr[common.HeaderAuthTag] = "***"
	rec = do(t, h, http.MethodPost, "/v1/files", "U-001", []byte("sealed"), hdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/files", "U-001", bytes.Repeat([]byte("x"), 65), uploadHeaders())
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDeleteFile_PendingOnly(t *testing.T) {
	fs := &fakeFiles{}
	h := newTestHandler(&fakeKeys{}, fs)

	rec := do(t, h, http.MethodDelete, "/v1/files/f-1?pending_only=true", "U-001", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, fs.pendingOnly)

	rec = do(t, h, http.MethodDelete, "/v1/files/f-1", "U-001", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, fs.pendingOnly)

	rec = do(t, h, http.MethodDelete, "/v1/files/f-1?pending_only=maybe", "U-001", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fs.err = common.ErrAlreadyConfirmed
	rec = do(t, h, http.MethodDelete, "/v1/files/f-1?pending_only=1", "U-001", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "AlreadyConfirmed", errorKind(t, rec).Kind)
}

func TestDownloadAndListFiles(t *testing.T) {
	fs := &fakeFiles{stored: &models.EncryptedFile{
		ID: "f-1", OwnerID: "U-001", RecipientID: "U-034", KeyID: "k-1", Name: "scan 1.pdf",
		IV: make([]byte, 12), AuthTag: bytes.Repeat([]byte{1}, 16), Algorithm: common.Algorithm,
		Size: 10, UploadState: models.UploadConfirmed,
	}}
	h := newTestHandler(&fakeKeys{}, fs)

	rec := do(t, h, http.MethodGet, "/v1/files/f-1", "U-034", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ciphertext", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(fs.stored.AuthTag), rec.Header().Get(common.HeaderAuthTag))
	assert.Equal(t, "k-1", rec.Header().Get(common.HeaderKeyID))
	assert.Equal(t, "scan+1.pdf", rec.Header().Get(common.HeaderFileName))

	rec = do(t, h, http.MethodGet, "/v1/files?key_id=k-1", "U-034", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp wire.FilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "confirmed", resp.Files[0].UploadState)
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	fs := &fakeFiles{err: errors.New("pq: connection refused to 10.0.0.5")}
	rec := do(t, newTestHandler(&fakeKeys{}, fs), http.MethodGet, "/v1/files", "U-001", nil, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := errorKind(t, rec)
	assert.Equal(t, "Internal", detail.Kind)
	assert.False(t, strings.Contains(detail.Message, "10.0.0.5"))
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		"MalformedPayload":  http.StatusBadRequest,
		"OwnershipMismatch": http.StatusForbidden,
		"DuplicatePairing":  http.StatusConflict,
		"NotFound":          http.StatusNotFound,
		"PinRejected":       http.StatusUnprocessableEntity,
		"PairingExpired":    http.StatusGone,
		"Unauthorized":      http.StatusUnauthorized,
		"Internal":          http.StatusInternalServerError,
		"Whatever":          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
}
