// Package assistants exposes the mentionable assistant catalogue so
// clients can render mention completion.
package assistants

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftlab/driftchat/internal/model/assistant"
	"github.com/driftlab/driftchat/pkg/utils"
)

// Handler serves the assistant catalogue.
type Handler struct {
	assistants assistant.Store
}

// New creates the handler.
func New(assistants assistant.Store) *Handler {
	return &Handler{assistants: assistants}
}

// RegisterRoutes mounts the assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistants", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.assistants.List())
}
