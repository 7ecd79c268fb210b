package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lattice-pm/lattice/internal/platform/httpx"
)

// Reader is the read surface the handler needs.
type Reader interface {
	ListByUnit(ctx context.Context, unitID int64) ([]Entry, error)
	Balance(ctx context.Context, unitID int64) (float64, error)
}

// Handler serves ledger read endpoints.
type Handler struct {
	logger *slog.Logger
	reader Reader
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, reader Reader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reader: reader}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/units/{unitID}", h.listUnitEntries)
}

type entryResponse struct {
	Seq          int64     `json:"seq"`
	Type         EntryType `json:"type"`
	Description  string    `json:"description"`
	Debit        float64   `json:"debit"`
	Credit       float64   `json:"credit"`
	BalanceAfter float64   `json:"balanceAfter"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *Handler) listUnitEntries(w http.ResponseWriter, r *http.Request) {
	unitID, err := strconv.ParseInt(chi.URLParam(r, "unitID"), 10, 64)
	if err != nil || unitID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit id must be a positive integer")
		return
	}
	entries, err := h.reader.ListByUnit(r.Context(), unitID)
	if err != nil {
		h.logger.Error("list ledger entries", slog.Int64("unit_id", unitID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.reader.Balance(r.Context(), unitID)
	if err != nil {
		h.logger.Error("unit balance", slog.Int64("unit_id", unitID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			Seq:          e.Seq,
			Type:         e.Type,
			Description:  e.Description,
			Debit:        e.Debit,
			Credit:       e.Credit,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"unitId":  unitID,
		"balance": balance,
		"entries": out,
	})
}
