package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lattice-pm/lattice/internal/jobs"
	"github.com/lattice-pm/lattice/internal/payments"
	"github.com/lattice-pm/lattice/internal/shared"
)

// ReceiptSource issues a payment's receipt, exactly once.
type ReceiptSource interface {
	IssueReceipt(ctx context.Context, paymentID int64) (*payments.Receipt, error)
}

// ReceiptIssueJob issues receipts in the background after an allocation
// commits. Issuance is idempotent, so delivery retries are harmless.
type ReceiptIssueJob struct {
	Issuer  ReceiptSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReceiptIssueJob initialises the receipt handler.
func NewReceiptIssueJob(issuer ReceiptSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptIssueJob {
	return &ReceiptIssueJob{Issuer: issuer, Logger: logger, Metrics: metrics}
}

// Handle executes the receipt issuance.
func (j *ReceiptIssueJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Issuer == nil {
		return errors.New("receipt issue: handler not configured")
	}
	var payload IssueReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskTypeIssueReceipt)
	receipt, err := j.Issuer.IssueReceipt(ctx, payload.PaymentID)
	if err = tracker.End(err); err != nil {
		// a payment that will never qualify should not sit in the retry queue
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) {
			if j.Logger != nil {
				j.Logger.Warn("receipt issuance dropped",
					slog.Int64("payment_id", payload.PaymentID),
					slog.Any("error", err))
			}
			return asynq.SkipRetry
		}
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("receipt issued",
			slog.Int64("payment_id", payload.PaymentID),
			slog.String("doc_number", receipt.DocNumber))
	}
	return nil
}
