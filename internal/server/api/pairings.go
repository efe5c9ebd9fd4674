package api

import (
	"encoding/base64"
	"net/http"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/dmitrijs2005/clinicvault/internal/wire"
	"github.com/go-chi/chi/v5"
)

// handleCreatePairing (POST /v1/pairings)
func (h *Handler) handleCreatePairing(w http.ResponseWriter, r *http.Request) {
	var req wire.CreatePairingRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	res, err := h.keys.CreatePairing(r.Context(), callerID(r.Context()), req.DoctorID, req.PatientID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, toPairingResponse(res))
}

// handleVerifyPairing (POST /v1/pairings/verify)
func (h *Handler) handleVerifyPairing(w http.ResponseWriter, r *http.Request) {
	var req wire.VerifyPairingRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	k, err := h.keys.VerifyPairing(r.Context(), callerID(r.Context()), &req.Payload, req.Pin)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, wire.VerifyPairingResponse{Connection: toConnection(k)})
}

// handleListConnections (GET /v1/connections)
func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	list, err := h.keys.ListConnections(r.Context(), callerID(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	resp := wire.ConnectionsResponse{Connections: make([]wire.Connection, 0, len(list))}
	for _, k := range list {
		resp.Connections = append(resp.Connections, toConnection(k))
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// handleKeyMaterial (GET /v1/keys/{id}/material)
func (h *Handler) handleKeyMaterial(w http.ResponseWriter, r *http.Request) {
	raw, k, err := h.keys.FetchMaterial(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	defer common.WipeByteArray(raw)

	w.Header().Set("Cache-Control", "no-store")
	h.respondWithJSON(w, http.StatusOK, wire.KeyMaterialResponse{
		KeyID:          k.ID,
		KeyMaterialB64: base64.StdEncoding.EncodeToString(raw),
		Status:         string(k.Status),
	})
}

// handleRotateKey (POST /v1/keys/{id}/rotate)
func (h *Handler) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	res, err := h.keys.Rotate(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, toPairingResponse(res))
}

// handleRevokeKey (POST /v1/keys/{id}/revoke)
func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Revoke(r.Context(), callerID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteKey (DELETE /v1/keys/{id})
func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.Delete(r.Context(), callerID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
