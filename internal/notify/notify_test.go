package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/payments"
)

type recordedMail struct {
	to, subject, body string
}

type fakeQueue struct {
	sent []recordedMail
	err  error
}

func (q *fakeQueue) EnqueueSendEmail(_ context.Context, to, subject, body string) error {
	if q.err != nil {
		return q.err
	}
	q.sent = append(q.sent, recordedMail{to: to, subject: subject, body: body})
	return nil
}

type fakeUnits map[int64]*directory.Unit

func (f fakeUnits) GetUnit(_ context.Context, id int64) (*directory.Unit, error) {
	u, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("unit %d not found", id)
	}
	return u, nil
}

func TestPaymentReceivedSendsToTenant(t *testing.T) {
	queue := &fakeQueue{}
	svc := NewService(queue, fakeUnits{
		100: {ID: 100, Label: "1A", TenantEmail: "dana@example.com"},
	}, nil)

	err := svc.PaymentReceived(context.Background(),
		payments.Payment{ID: 5, UnitID: 100, Amount: 1250, Currency: "ILS"},
		billing.Charge{Period: "2026-02", AmountDue: 1500, AmountPaid: 1250})
	require.NoError(t, err)

	require.Len(t, queue.sent, 1)
	mail := queue.sent[0]
	assert.Equal(t, "dana@example.com", mail.to)
	assert.Contains(t, mail.subject, "2026-02")
	assert.Contains(t, mail.body, "1A")
	assert.Contains(t, mail.body, "1,250")
}

func TestPaymentReceivedSkipsUnitsWithoutEmail(t *testing.T) {
	queue := &fakeQueue{}
	svc := NewService(queue, fakeUnits{
		100: {ID: 100, Label: "1A"},
	}, nil)

	err := svc.PaymentReceived(context.Background(),
		payments.Payment{UnitID: 100, Amount: 500, Currency: "ILS"},
		billing.Charge{Period: "2026-02"})
	require.NoError(t, err)
	assert.Empty(t, queue.sent)
}

func TestPaymentFailedMentionsReason(t *testing.T) {
	queue := &fakeQueue{}
	svc := NewService(queue, fakeUnits{
		100: {ID: 100, Label: "1A", TenantEmail: "dana@example.com"},
	}, nil)

	err := svc.PaymentFailed(context.Background(),
		payments.Payment{UnitID: 100, Amount: 500, Currency: "ILS"}, "card declined")
	require.NoError(t, err)

	require.Len(t, queue.sent, 1)
	assert.Contains(t, queue.sent[0].body, "card declined")
}

func TestFormatAmountFallsBackOnUnknownCurrency(t *testing.T) {
	svc := NewService(&fakeQueue{}, fakeUnits{}, nil)
	got := svc.formatAmount(99.5, "XXXX")
	assert.True(t, strings.Contains(got, "99.50"), got)
	assert.Contains(t, got, "XXXX")
}
