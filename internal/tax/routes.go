package tax

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/tables", h.ListBrackets)
	r.Post("/tables", h.CreateBracket)
	r.Post("/tables/{id}/deactivate", h.DeactivateBracket)
	r.Get("/fgts", h.GetFgts)
	r.Post("/fgts", h.UpsertFgts)
}
