package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/pairings", h.handleCreatePairing)
		r.Post("/pairings/verify", h.handleVerifyPairing)

		r.Get("/connections", h.handleListConnections)

		r.Get("/keys/{id}/material", h.handleKeyMaterial)
		r.Post("/keys/{id}/rotate", h.handleRotateKey)
		r.Post("/keys/{id}/revoke", h.handleRevokeKey)
		r.Delete("/keys/{id}", h.handleDeleteKey)

		r.Post("/files", h.handleUploadFile)
		r.Get("/files", h.handleListFiles)
		r.Get("/files/{id}", h.handleDownloadFile)
		r.Post("/files/{id}/confirm", h.handleConfirmFile)
		r.Delete("/files/{id}", h.handleDeleteFile)
	})

	return r
}
