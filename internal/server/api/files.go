package api

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/server/services"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/go-chi/chi/v5"
)

func decodeHeaderBytes(r *http.Request, name string) ([]byte, error) {
	v := r.Header.Get(name)
	if v == "" {
		return nil, validationError(name + " header is required")
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, validationError(name + " header is not base64")
	}
	return b, nil
}

// headerName decodes the query-escaped file name header.
func headerName(v string) string {
	if name, err := url.QueryUnescape(v); err == nil {
		return name
	}
	return v
}

// handleUploadFile (POST /v1/files) is phase one of an upload: the body is the
// ciphertext and the cipher metadata travels in headers.
func (h *Handler) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	iv, err := decodeHeaderBytes(r, common.HeaderIV)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	tag, err := decodeHeaderBytes(r, common.HeaderAuthTag)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithJSON(w, http.StatusRequestEntityTooLarge, wire.ErrorBody{Error: wire.ErrorDetail{
				Code: http.StatusRequestEntityTooLarge, Kind: "Validation", Message: "file too large",
			}})
			return
		}
		h.respondWithError(w, r, validationError("could not read body"))
		return
	}

	meta := services.UploadMeta{
		KeyID:     r.Header.Get(common.HeaderKeyID),
		Recipient: r.Header.Get(common.HeaderRecipientID),
		Name:      headerName(r.Header.Get(common.HeaderFileName)),
		IV:        iv,
		AuthTag:   tag,
		Algorithm: r.Header.Get(common.HeaderAlgorithm),
	}

	f, err := h.files.Upload(r.Context(), callerID(r.Context()), meta, body)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, wire.UploadResponse{FileID: f.ID, UploadState: f.UploadState})
}

// handleConfirmFile (POST /v1/files/{id}/confirm)
func (h *Handler) handleConfirmFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.files.Confirm(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, toFileInfo(f))
}

// handleDeleteFile (DELETE /v1/files/{id}[?pending_only=true])
func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	pendingOnly := false
	if v := r.URL.Query().Get("pending_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.respondWithError(w, r, validationError("pending_only must be a boolean"))
			return
		}
		pendingOnly = b
	}

	if err := h.files.Delete(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"), pendingOnly); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadFile (GET /v1/files/{id}) returns the ciphertext with its
// cipher metadata in headers.
func (h *Handler) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	f, data, err := h.files.Download(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "application/octet-stream")
	hdr.Set("Content-Length", strconv.Itoa(len(data)))
	hdr.Set(common.HeaderIV, base64.StdEncoding.EncodeToString(f.IV))
	hdr.Set(common.HeaderAuthTag, base64.StdEncoding.EncodeToString(f.AuthTag))
	hdr.Set(common.HeaderAlgorithm, f.Algorithm)
	hdr.Set(common.HeaderKeyID, f.KeyID)
	hdr.Set(common.HeaderRecipientID, f.RecipientID)
	hdr.Set(common.HeaderFileName, url.QueryEscape(f.Name))

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleListFiles (GET /v1/files[?key_id=])
func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.files.List(r.Context(), callerID(r.Context()), r.URL.Query().Get("key_id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	resp := wire.FilesResponse{Files: make([]wire.FileInfo, 0, len(list))}
	for _, f := range list {
		resp.Files = append(resp.Files, toFileInfo(f))
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}
