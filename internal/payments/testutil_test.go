package payments

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/docs"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/shared"
)

// mockRepo is an in-memory Repository and TxRepository. WithTx holds a
// single mutex for the whole callback, mirroring the row-lock serialization
// the real implementation gets from FOR UPDATE.
type mockRepo struct {
	mu sync.Mutex
	tx sync.Mutex

	nextID      int64
	payments    map[int64]*Payment
	charges     map[int64]*billing.Charge
	allocations map[int64]*Allocation
	webhooks    map[string]WebhookRecord
	methods     map[int64]*PaymentMethod
	standing    map[int64]*StandingOrder
	entries     []ledger.EntryInput
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		nextID:      1,
		payments:    make(map[int64]*Payment),
		charges:     make(map[int64]*billing.Charge),
		allocations: make(map[int64]*Allocation),
		webhooks:    make(map[string]WebhookRecord),
		methods:     make(map[int64]*PaymentMethod),
		standing:    make(map[int64]*StandingOrder),
	}
}

func (m *mockRepo) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *mockRepo) addCharge(c billing.Charge) *billing.Charge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.charges[c.ID] = &c
	return &c
}

func (m *mockRepo) GetPayment(_ context.Context, id int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %d: %w", id, shared.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetPaymentByProviderRef(_ context.Context, provider gateway.ProviderType, ref string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Payment
	for _, p := range m.payments {
		if p.Provider == provider && p.ProviderReference == ref {
			if found == nil || p.ID > found.ID {
				found = p
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("ref %s: %w", ref, shared.ErrNotFound)
	}
	cp := *found
	return &cp, nil
}

func (m *mockRepo) CreatePayment(_ context.Context, p Payment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	p.CreatedAt = time.Now()
	m.payments[p.ID] = &p
	return p.ID, nil
}

func (m *mockRepo) SetPaymentStatus(_ context.Context, id int64, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *mockRepo) SetPaymentOutcome(_ context.Context, id int64, status PaymentStatus, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.Status = status
	if providerRef != "" {
		p.ProviderReference = providerRef
	}
	return nil
}

func (m *mockRepo) ListUnitPayments(_ context.Context, unitID int64) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.UnitID == unitID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func webhookKey(provider gateway.ProviderType, eventID string) string {
	return string(provider) + "|" + eventID
}

func (m *mockRepo) HasWebhookEvent(_ context.Context, provider gateway.ProviderType, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.webhooks[webhookKey(provider, eventID)]
	return ok, nil
}

func (m *mockRepo) InsertWebhookEvent(_ context.Context, rec WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := webhookKey(rec.Provider, rec.EventID)
	if _, ok := m.webhooks[key]; ok {
		return fmt.Errorf("event %s: %w", rec.EventID, shared.ErrDuplicate)
	}
	rec.ProcessedAt = time.Now()
	m.webhooks[key] = rec
	return nil
}

func (m *mockRepo) AllocationExists(_ context.Context, paymentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.allocations {
		if a.PaymentID == paymentID && !a.Cancelled {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) SaveMethod(_ context.Context, method PaymentMethod) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if method.IsDefault {
		for _, existing := range m.methods {
			if existing.UserID == method.UserID {
				existing.IsDefault = false
			}
		}
	}
	method.ID = m.id()
	m.methods[method.ID] = &method
	return method.ID, nil
}

func (m *mockRepo) GetMethod(_ context.Context, id int64) (*PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	method, ok := m.methods[id]
	if !ok {
		return nil, fmt.Errorf("method %d: %w", id, shared.ErrNotFound)
	}
	cp := *method
	return &cp, nil
}

func (m *mockRepo) ListMethods(_ context.Context, userID int64) ([]PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PaymentMethod
	for _, method := range m.methods {
		if method.UserID == userID {
			out = append(out, *method)
		}
	}
	return out, nil
}

func (m *mockRepo) DefaultMethod(_ context.Context, userID int64) (*PaymentMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, method := range m.methods {
		if method.UserID == userID && method.IsDefault {
			cp := *method
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no default method: %w", shared.ErrNotFound)
}

func (m *mockRepo) SetDefaultMethod(_ context.Context, userID, methodID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.methods[methodID]
	if !ok || target.UserID != userID {
		return shared.ErrNotFound
	}
	for _, method := range m.methods {
		if method.UserID == userID {
			method.IsDefault = method.ID == methodID
		}
	}
	return nil
}

func (m *mockRepo) CreateStandingOrder(_ context.Context, o StandingOrder) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.id()
	m.standing[o.ID] = &o
	return o.ID, nil
}

func (m *mockRepo) GetStandingOrder(_ context.Context, id int64) (*StandingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.standing[id]
	if !ok {
		return nil, fmt.Errorf("standing order %d: %w", id, shared.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepo) ListStandingOrders(_ context.Context, userID int64) ([]StandingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StandingOrder
	for _, o := range m.standing {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *mockRepo) SetStandingOrderStatus(_ context.Context, id int64, status StandingOrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.standing[id]
	if !ok {
		return shared.ErrNotFound
	}
	o.Status = status
	return nil
}

func (m *mockRepo) HasActiveStandingOrder(_ context.Context, userID, unitID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.standing {
		if o.UserID == userID && o.UnitID == unitID && o.Status == StandingOrderActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) RecordStandingCycle(_ context.Context, subscriptionRef string, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.standing {
		if o.SubscriptionRef == subscriptionRef {
			if ok {
				o.OKCycles++
			} else {
				o.FailedCycles++
			}
		}
	}
	return nil
}

func (m *mockRepo) ClaimReceipt(_ context.Context, paymentID int64, docID, docNumber, url string, issuedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return false, shared.ErrNotFound
	}
	if p.ReceiptDocID != nil {
		return false, nil
	}
	p.ReceiptDocID = &docID
	p.ReceiptDocNumber = &docNumber
	p.ReceiptURL = &url
	p.ReceiptIssuedAt = &issuedAt
	return true, nil
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()
	return fn(ctx, m)
}

func (m *mockRepo) GetChargeForUpdate(_ context.Context, chargeID int64) (*billing.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[chargeID]
	if !ok {
		return nil, fmt.Errorf("charge %d: %w", chargeID, shared.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) InsertAllocation(_ context.Context, a Allocation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	m.allocations[a.ID] = &a
	return a.ID, nil
}

func (m *mockRepo) ListActiveAllocations(_ context.Context, paymentID int64) ([]Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Allocation
	for _, a := range m.allocations {
		if a.PaymentID == paymentID && !a.Cancelled {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockRepo) CancelAllocation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.allocations[id]
	if !ok || a.Cancelled {
		return shared.ErrNotFound
	}
	a.Cancelled = true
	return nil
}

func (m *mockRepo) UpdateChargeProgress(_ context.Context, chargeID int64, amountPaid float64, status billing.ChargeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[chargeID]
	if !ok {
		return shared.ErrNotFound
	}
	c.AmountPaid = amountPaid
	c.Status = status
	return nil
}

func (m *mockRepo) AppendLedgerEntry(_ context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, in)
	return ledger.Entry{UnitID: in.UnitID, Type: in.Type, Debit: in.Debit, Credit: in.Credit}, nil
}

func (m *mockRepo) activeAllocationSum(chargeID int64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, a := range m.allocations {
		if a.ChargeID == chargeID && !a.Cancelled {
			sum += a.Amount
		}
	}
	return sum
}

// stubDirectory serves fixed buildings and units.
type stubDirectory struct {
	buildings map[int64]*directory.Building
	units     map[int64]*directory.Unit
}

func (s *stubDirectory) GetBuilding(_ context.Context, id int64) (*directory.Building, error) {
	b, ok := s.buildings[id]
	if !ok {
		return nil, fmt.Errorf("building %d: %w", id, shared.ErrNotFound)
	}
	return b, nil
}

func (s *stubDirectory) GetUnit(_ context.Context, id int64) (*directory.Unit, error) {
	u, ok := s.units[id]
	if !ok {
		return nil, fmt.Errorf("unit %d: %w", id, shared.ErrNotFound)
	}
	return u, nil
}

// chargeReaderFunc adapts the mock repo's charge map to ChargeReader.
type chargeReaderFunc func(ctx context.Context, id int64) (*billing.Charge, error)

func (f chargeReaderFunc) GetCharge(ctx context.Context, id int64) (*billing.Charge, error) {
	return f(ctx, id)
}

func chargesOf(repo *mockRepo) ChargeReader {
	return chargeReaderFunc(func(ctx context.Context, id int64) (*billing.Charge, error) {
		return repo.GetChargeForUpdate(ctx, id)
	})
}

// stubGateway is a scriptable Gateway + RecurringBiller.
type stubGateway struct {
	providerType gateway.ProviderType
	session      *gateway.Session
	sessionErr   error
	tokenize     *gateway.TokenizeResult
	charge       *gateway.ChargeResult
	chargeErr    error
	refund       *gateway.RefundResult
	parsed       *gateway.Event
	parseErr     error
	verified     bool

	planRef     string
	subRef      string
	approvalURL string
	cancelErr   error
	cancelled   []string
}

func (s *stubGateway) Type() gateway.ProviderType { return s.providerType }

func (s *stubGateway) CreatePaymentSession(context.Context, gateway.SessionInput) (*gateway.Session, error) {
	return s.session, s.sessionErr
}

func (s *stubGateway) TokenizePaymentMethod(context.Context, gateway.TokenizeInput) (*gateway.TokenizeResult, error) {
	return s.tokenize, nil
}

func (s *stubGateway) ChargeToken(context.Context, gateway.ChargeInput) (*gateway.ChargeResult, error) {
	return s.charge, s.chargeErr
}

func (s *stubGateway) Refund(context.Context, string, float64) (*gateway.RefundResult, error) {
	return s.refund, nil
}

func (s *stubGateway) ParseWebhookPayload([]byte, http.Header) (*gateway.Event, error) {
	return s.parsed, s.parseErr
}

func (s *stubGateway) VerifyWebhookSignature(*gateway.Event, []byte, http.Header) bool {
	return s.verified
}

func (s *stubGateway) CreateRecurringPlan(context.Context, string, float64, string) (string, error) {
	return s.planRef, nil
}

func (s *stubGateway) CreateSubscription(context.Context, string, gateway.Payer) (string, string, error) {
	return s.subRef, s.approvalURL, nil
}

func (s *stubGateway) CancelSubscription(_ context.Context, ref string) error {
	s.cancelled = append(s.cancelled, ref)
	return s.cancelErr
}

// stubDocs counts document creations.
type stubDocs struct {
	mu      sync.Mutex
	created int
	err     error
}

func (s *stubDocs) CreateReceipt(_ context.Context, in docs.ReceiptInput) (*docs.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.created++
	return &docs.Document{
		DocID:     fmt.Sprintf("doc-%d-%d", in.PaymentID, s.created),
		DocNumber: fmt.Sprintf("R-%04d", s.created),
		PDFURL:    fmt.Sprintf("https://docs.test/doc-%d-%d.pdf", in.PaymentID, s.created),
	}, nil
}

func (s *stubDocs) CreateInvoice(context.Context, docs.InvoiceInput) (*docs.Document, error) {
	return &docs.Document{DocID: "inv-1", DocNumber: "I-0001", PDFURL: "https://docs.test/inv-1.pdf"}, nil
}
