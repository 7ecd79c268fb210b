package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeIssueReceipt is the task type for background receipt issuance.
	TaskTypeIssueReceipt = "receipt:issue"
	// TaskTypeGenerateCharges is the monthly charge generation task.
	TaskTypeGenerateCharges = "billing:generate"
	// TaskTypeWebhookCleanup prunes aged webhook log rows.
	TaskTypeWebhookCleanup = "webhook:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: integrate with the SMTP relay in phase 2.
	slog.Default().Info("send email",
		slog.String("to", payload.To),
		slog.String("subject", payload.Subject))
	return nil
}

// IssueReceiptPayload identifies the payment needing a receipt.
type IssueReceiptPayload struct {
	PaymentID int64 `json:"paymentId"`
}

// NewIssueReceiptTask constructs a receipt issuance task.
func NewIssueReceiptTask(paymentID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IssueReceiptPayload{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeIssueReceipt, data), nil
}

// GenerateChargesPayload selects the billing period to generate. An empty
// period means the current month.
type GenerateChargesPayload struct {
	Period string `json:"period,omitempty"`
}

// NewGenerateChargesTask constructs a charge generation task.
func NewGenerateChargesTask(period string) (*asynq.Task, error) {
	data, err := json.Marshal(GenerateChargesPayload{Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerateCharges, data), nil
}

// NewWebhookCleanupTask constructs a webhook log cleanup task.
func NewWebhookCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeWebhookCleanup, nil)
}
