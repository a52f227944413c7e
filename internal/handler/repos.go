package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/repochat/internal/service"
)

// RepositoryHandler serves the processed-repository catalog.
type RepositoryHandler struct {
	catalog *service.Catalog
}

// NewRepositoryHandler creates a new repository handler.
func NewRepositoryHandler(catalog *service.Catalog) *RepositoryHandler {
	return &RepositoryHandler{catalog: catalog}
}

// List handles GET /api/processed-repos
func (h *RepositoryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.List())
}

// Get handles GET /api/processed-repos/{id}
func (h *RepositoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	repo, err := h.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), "repository not found")
		return
	}
	writeJSON(w, http.StatusOK, repo)
}
