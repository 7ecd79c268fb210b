package payments

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lattice-pm/lattice/internal/platform/httpx"
)

const maxWebhookBody = 1 << 20

// Handler serves payment endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	webhooks *WebhookProcessor
	standing *StandingOrderManager
	receipts *ReceiptIssuer
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, webhooks *WebhookProcessor, standing *StandingOrderManager, receipts *ReceiptIssuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		webhooks: webhooks,
		standing: standing,
		receipts: receipts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/webhook/{providerType}", h.webhook)
	r.Post("/session/{chargeID}", h.createSession)
	r.Post("/tokenize", h.tokenize)
	r.Post("/pay/{chargeID}", h.payWithToken)
	r.Get("/{paymentID}", h.getPayment)
	r.Post("/{paymentID}/refund", h.refund)
	r.Post("/{paymentID}/receipt", h.issueReceipt)
	r.Post("/manual", h.createManualPayment)
	r.Post("/manual/{paymentID}/cancel", h.cancelManualPayment)
	r.Get("/methods", h.listMethods)
	r.Post("/methods/{methodID}/default", h.setDefaultMethod)
	r.Post("/standing-orders", h.createStandingOrder)
	r.Get("/standing-orders", h.listStandingOrders)
	r.Post("/standing-orders/{orderID}/pause", h.pauseStandingOrder)
	r.Post("/standing-orders/{orderID}/resume", h.resumeStandingOrder)
	r.Post("/standing-orders/{orderID}/cancel", h.cancelStandingOrder)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "providerType")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unreadable body")
		return
	}
	outcome, err := h.webhooks.Process(r.Context(), provider, body, r.Header)
	if err != nil {
		h.logger.Warn("webhook rejected", slog.String("provider", provider), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcome)
}

type sessionRequest struct {
	PayerID int64 `json:"payerId" validate:"required,gt=0"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(r, "chargeID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge id must be a positive integer")
		return
	}
	var req sessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.CreateSession(r.Context(), chargeID, req.PayerID)
	if err != nil {
		h.logger.Error("create session", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type tokenizeRequest struct {
	UserID      int64 `json:"userId" validate:"required,gt=0"`
	BuildingID  int64 `json:"buildingId" validate:"required,gt=0"`
	UnitID      int64 `json:"unitId" validate:"required,gt=0"`
	MakeDefault bool  `json:"makeDefault"`
}

func (h *Handler) tokenize(w http.ResponseWriter, r *http.Request) {
	var req tokenizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Tokenize(r.Context(), req.UserID, req.BuildingID, req.UnitID, req.MakeDefault)
	if err != nil {
		h.logger.Error("tokenize", slog.Int64("user_id", req.UserID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type payRequest struct {
	PayerID  int64   `json:"payerId" validate:"required,gt=0"`
	MethodID *int64  `json:"methodId"`
	Amount   float64 `json:"amount" validate:"gte=0"`
}

func (h *Handler) payWithToken(w http.ResponseWriter, r *http.Request) {
	chargeID, ok := pathID(r, "chargeID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "charge id must be a positive integer")
		return
	}
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.PayWithToken(r.Context(), chargeID, req.PayerID, req.MethodID, req.Amount)
	if err != nil {
		h.logger.Error("token charge", slog.Int64("charge_id", chargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(r, "paymentID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment id must be a positive integer")
		return
	}
	payment, err := h.service.GetPayment(r.Context(), paymentID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

type actorRequest struct {
	ActorID int64 `json:"actorId"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(r, "paymentID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment id must be a positive integer")
		return
	}
	var req actorRequest
	_ = httpx.DecodeJSON(r, &req)
	result, err := h.service.Refund(r.Context(), paymentID, req.ActorID)
	if err != nil {
		h.logger.Error("refund", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) issueReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(r, "paymentID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment id must be a positive integer")
		return
	}
	receipt, err := h.receipts.IssueReceipt(r.Context(), paymentID)
	if err != nil {
		h.logger.Error("issue receipt", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

type manualPaymentRequest struct {
	ChargeID int64   `json:"chargeId" validate:"required,gt=0"`
	PayerID  int64   `json:"payerId" validate:"required,gt=0"`
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	ActorID  int64   `json:"actorId"`
}

func (h *Handler) createManualPayment(w http.ResponseWriter, r *http.Request) {
	var req manualPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payment, err := h.service.CreateManualPayment(r.Context(), ManualPaymentInput{
		ChargeID: req.ChargeID,
		PayerID:  req.PayerID,
		Amount:   req.Amount,
		ActorID:  req.ActorID,
	})
	if err != nil {
		h.logger.Error("manual payment", slog.Int64("charge_id", req.ChargeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

type cancelManualRequest struct {
	ActorID int64  `json:"actorId"`
	Reason  string `json:"reason" validate:"required"`
}

func (h *Handler) cancelManualPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := pathID(r, "paymentID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment id must be a positive integer")
		return
	}
	var req cancelManualRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payment, err := h.service.CancelManualPayment(r.Context(), paymentID, req.ActorID, req.Reason)
	if err != nil {
		h.logger.Error("cancel manual payment", slog.Int64("payment_id", paymentID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func queryUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId query parameter required")
		return
	}
	methods, err := h.service.ListMethods(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"methods": methods})
}

type defaultMethodRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}

func (h *Handler) setDefaultMethod(w http.ResponseWriter, r *http.Request) {
	methodID, ok := pathID(r, "methodID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "method id must be a positive integer")
		return
	}
	var req defaultMethodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetDefaultMethod(r.Context(), req.UserID, methodID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type standingOrderRequest struct {
	UserID int64   `json:"userId" validate:"required,gt=0"`
	UnitID int64   `json:"unitId" validate:"required,gt=0"`
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

func (h *Handler) createStandingOrder(w http.ResponseWriter, r *http.Request) {
	var req standingOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	order, err := h.standing.Create(r.Context(), StandingOrderInput{
		UserID: req.UserID,
		UnitID: req.UnitID,
		Amount: req.Amount,
	})
	if err != nil {
		h.logger.Error("create standing order", slog.Int64("unit_id", req.UnitID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) listStandingOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUserID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userId query parameter required")
		return
	}
	orders, err := h.standing.List(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"standingOrders": orders})
}

func (h *Handler) standingTransition(w http.ResponseWriter, r *http.Request,
	do func(r *http.Request, id, userID int64) (*StandingOrder, error)) {
	orderID, ok := pathID(r, "orderID")
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "order id must be a positive integer")
		return
	}
	var req defaultMethodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	order, err := do(r, orderID, req.UserID)
	if err != nil {
		h.logger.Error("standing order transition", slog.Int64("order_id", orderID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) pauseStandingOrder(w http.ResponseWriter, r *http.Request) {
	h.standingTransition(w, r, func(r *http.Request, id, userID int64) (*StandingOrder, error) {
		return h.standing.Pause(r.Context(), id, userID)
	})
}

func (h *Handler) resumeStandingOrder(w http.ResponseWriter, r *http.Request) {
	h.standingTransition(w, r, func(r *http.Request, id, userID int64) (*StandingOrder, error) {
		return h.standing.Resume(r.Context(), id, userID)
	})
}

func (h *Handler) cancelStandingOrder(w http.ResponseWriter, r *http.Request) {
	h.standingTransition(w, r, func(r *http.Request, id, userID int64) (*StandingOrder, error) {
		return h.standing.Cancel(r.Context(), id, userID)
	})
}
