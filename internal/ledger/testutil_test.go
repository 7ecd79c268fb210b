package ledger

import "github.com/go-chi/chi/v5"

func newTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}
