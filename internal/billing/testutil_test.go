package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/shared"
)

// mockRepo is an in-memory Repository and TxRepository; transactions are
// applied directly since tests exercise service logic, not SQL.
type mockRepo struct {
	mu      sync.Mutex
	nextID  int64
	charges map[int64]*Charge
	jobRuns map[string]bool
	entries []ledger.EntryInput
	txErr   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		nextID:  1,
		charges: make(map[int64]*Charge),
		jobRuns: make(map[string]bool),
	}
}

func (m *mockRepo) GetCharge(_ context.Context, id int64) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) ListByUnit(_ context.Context, unitID int64) ([]Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Charge
	for _, c := range m.charges {
		if c.UnitID == unitID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockRepo) ChargeExists(_ context.Context, unitID, planID int64, period string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.charges {
		if c.UnitID == unitID && c.PlanID == planID && c.Period == period {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) HasJobRun(_ context.Context, jobName, period string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobRuns[jobName+"|"+period], nil
}

func (m *mockRepo) RecordJobRun(_ context.Context, jobName, period string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobName + "|" + period
	if m.jobRuns[key] {
		return shared.ErrAlreadyRan
	}
	m.jobRuns[key] = true
	return nil
}

func (m *mockRepo) ClaimInvoice(_ context.Context, chargeID int64, docID, docNumber, url string, issuedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[chargeID]
	if !ok {
		return false, shared.ErrNotFound
	}
	if c.InvoiceDocID != nil {
		return false, nil
	}
	c.InvoiceDocID = &docID
	c.InvoiceDocNumber = &docNumber
	c.InvoiceURL = &url
	c.InvoiceIssuedAt = &issuedAt
	return true, nil
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(ctx, m)
}

func (m *mockRepo) InsertCharge(_ context.Context, c Charge) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	m.charges[c.ID] = &c
	return c.ID, nil
}

func (m *mockRepo) GetChargeForUpdate(ctx context.Context, id int64) (*Charge, error) {
	return m.GetCharge(ctx, id)
}

func (m *mockRepo) UpdateChargeAmount(_ context.Context, id int64, amountDue float64, status ChargeStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[id]
	if !ok {
		return shared.ErrNotFound
	}
	c.AmountDue = amountDue
	c.Status = status
	return nil
}

func (m *mockRepo) AppendLedgerEntry(_ context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, in)
	return ledger.Entry{
		UnitID: in.UnitID,
		Type:   in.Type,
		Debit:  in.Debit,
		Credit: in.Credit,
	}, nil
}

type mockPlans struct {
	building *directory.Building
	plan     *directory.FeePlan
	units    []directory.Unit
}

func (m *mockPlans) GetBuilding(context.Context, int64) (*directory.Building, error) {
	if m.building == nil {
		return nil, shared.ErrNotFound
	}
	return m.building, nil
}

func (m *mockPlans) ListUnits(context.Context, int64) ([]directory.Unit, error) {
	return m.units, nil
}

func (m *mockPlans) ActiveFeePlan(context.Context, int64) (*directory.FeePlan, error) {
	if m.plan == nil {
		return nil, fmt.Errorf("plan: %w", shared.ErrNotFound)
	}
	return m.plan, nil
}

type mockLocker struct {
	held    bool
	busy    bool
	unlocks int
}

func (m *mockLocker) TryLock(context.Context) error {
	if m.busy {
		return errors.New("lock held elsewhere")
	}
	m.held = true
	return nil
}

func (m *mockLocker) Unlock(context.Context) error {
	m.held = false
	m.unlocks++
	return nil
}

type mockAudit struct {
	records []shared.AuditLog
}

func (m *mockAudit) Record(_ context.Context, log shared.AuditLog) error {
	m.records = append(m.records, log)
	return nil
}
