package billing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lattice-pm/lattice/internal/platform/httpx"
)

// Handler serves billing endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	generator *Generator
	invoices  *InvoiceIssuer
	validate  *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, generator *Generator, invoices *InvoiceIssuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		generator: generator,
		invoices:  invoices,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/buildings/{buildingID}/generate/{period}", h.generateCharges)
	r.Get("/units/{unitID}/charges", h.listUnitCharges)
	r.Post("/charges", h.createManualCharge)
	r.Post("/charges/{chargeID}/adjust", h.adjustCharge)
	r.Post("/charges/{chargeID}/cancel", h.cancelCharge)
	r.Post("/charges/{chargeID}/invoice", h.issueInvoice)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) generateCharges(w http.ResponseWriter, r *http.Request) {
	buildingID, ok := pathID(r, "buildingID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "building id must be a positive integer")
		return
	}
	period := chi.URLParam(r, "period")
	result, err := h.generator.GenerateCharges(r.Context(), buildingID, period)
	if err != nil {
		h.logger.Error("generate charges",
			slog.Int64("building_id", buildingID),
			slog.String("period", period),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listUnitCharges(w http.ResponseWriter, r *http.Request) {
	unitID, ok := pathID(r, "unitID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit id must be a positive integer")
		return
	}
	charges, err := h.service.ListUnitCharges(r.Context(), unitID)
	if err != nil {
		h.logger.Error("list unit charges", slog.Int64("unit_id", unitID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"charges": charges})
}

func (h *Handler) issueInvoice(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(r, "chargeID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge id must be a positive integer")
		return
	}
	invoice, err := h.invoices.IssueInvoice(r.Context(), chargeID)
	if err != nil {
		h.logger.Error("issue invoice", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

type manualChargeRequest struct {
	BuildingID  int64   `json:"buildingId" validate:"required,gt=0"`
	UnitID      int64   `json:"unitId" validate:"required,gt=0"`
	PlanID      int64   `json:"planId" validate:"required,gt=0"`
	Period      string  `json:"period" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Description string  `json:"description"`
	ActorID     int64   `json:"actorId"`
}

func (h *Handler) createManualCharge(w http.ResponseWriter, r *http.Request) {
	var req manualChargeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	charge, err := h.service.CreateManualCharge(r.Context(), ManualChargeInput{
		BuildingID:  req.BuildingID,
		UnitID:      req.UnitID,
		PlanID:      req.PlanID,
		Period:      req.Period,
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     req.ActorID,
	})
	if err != nil {
		h.logger.Error("create manual charge", slog.Int64("unit_id", req.UnitID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, charge)
}

type adjustRequest struct {
	NewAmount float64 `json:"newAmount" validate:"gte=0"`
	Reason    string  `json:"reason" validate:"required"`
	ActorID   int64   `json:"actorId"`
}

func (h *Handler) adjustCharge(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(r, "chargeID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge id must be a positive integer")
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	charge, err := h.service.AdjustCharge(r.Context(), AdjustInput{
		ChargeID:  chargeID,
		NewAmount: req.NewAmount,
		Reason:    req.Reason,
		ActorID:   req.ActorID,
	})
	if err != nil {
		h.logger.Error("adjust charge", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}

type cancelRequest struct {
	Reason  string `json:"reason" validate:"required"`
	ActorID int64  `json:"actorId"`
}

func (h *Handler) cancelCharge(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(r, "chargeID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge id must be a positive integer")
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	charge, err := h.service.CancelCharge(r.Context(), chargeID, req.ActorID, req.Reason)
	if err != nil {
		h.logger.Error("cancel charge", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, charge)
}
