package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/platform/db"
	"github.com/lattice-pm/lattice/internal/shared"
)

// Repository encapsulates DB operations for payments, allocations, webhook
// dedup, payment methods and standing orders.
type Repository interface {
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	GetPaymentByProviderRef(ctx context.Context, provider gateway.ProviderType, ref string) (*Payment, error)
	CreatePayment(ctx context.Context, p Payment) (int64, error)
	SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error
	SetPaymentOutcome(ctx context.Context, id int64, status PaymentStatus, providerRef string) error
	ListUnitPayments(ctx context.Context, unitID int64) ([]Payment, error)

	HasWebhookEvent(ctx context.Context, provider gateway.ProviderType, eventID string) (bool, error)
	InsertWebhookEvent(ctx context.Context, rec WebhookRecord) error

	AllocationExists(ctx context.Context, paymentID int64) (bool, error)

	SaveMethod(ctx context.Context, m PaymentMethod) (int64, error)
	GetMethod(ctx context.Context, id int64) (*PaymentMethod, error)
	ListMethods(ctx context.Context, userID int64) ([]PaymentMethod, error)
	DefaultMethod(ctx context.Context, userID int64) (*PaymentMethod, error)
	SetDefaultMethod(ctx context.Context, userID, methodID int64) error

	CreateStandingOrder(ctx context.Context, o StandingOrder) (int64, error)
	GetStandingOrder(ctx context.Context, id int64) (*StandingOrder, error)
	ListStandingOrders(ctx context.Context, userID int64) ([]StandingOrder, error)
	SetStandingOrderStatus(ctx context.Context, id int64, status StandingOrderStatus) error
	HasActiveStandingOrder(ctx context.Context, userID, unitID int64) (bool, error)
	RecordStandingCycle(ctx context.Context, subscriptionRef string, ok bool) error

	ClaimReceipt(ctx context.Context, paymentID int64, docID, docNumber, url string, issuedAt time.Time) (bool, error)

	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within an allocation transaction.
type TxRepository interface {
	GetChargeForUpdate(ctx context.Context, chargeID int64) (*billing.Charge, error)
	InsertAllocation(ctx context.Context, a Allocation) (int64, error)
	ListActiveAllocations(ctx context.Context, paymentID int64) ([]Allocation, error)
	CancelAllocation(ctx context.Context, id int64) error
	UpdateChargeProgress(ctx context.Context, chargeID int64, amountPaid float64, status billing.ChargeStatus) error
	SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error
	AppendLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error)
}

type repository struct {
	pool   *pgxpool.Pool
	ledger ledger.TxAppender
}

// NewRepository constructs the payments repository.
func NewRepository(pool *pgxpool.Pool, appender ledger.TxAppender) Repository {
	return &repository{pool: pool, ledger: appender}
}

const paymentColumns = `id, building_id, unit_id, payer_id, charge_id, amount, currency, status, provider,
	provider_reference, method_id, is_manual, receipt_doc_id, receipt_doc_number, receipt_url,
	receipt_issued_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.BuildingID, &p.UnitID, &p.PayerID, &p.ChargeID, &p.Amount, &p.Currency,
		&p.Status, &p.Provider, &p.ProviderReference, &p.MethodID, &p.IsManual,
		&p.ReceiptDocID, &p.ReceiptDocNumber, &p.ReceiptURL, &p.ReceiptIssuedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payments: payment %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("payments: get payment: %w", err)
	}
	return p, nil
}

func (r *repository) GetPaymentByProviderRef(ctx context.Context, provider gateway.ProviderType, ref string) (*Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider=$1 AND provider_reference=$2 ORDER BY id DESC LIMIT 1`,
		provider, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payments: provider ref %s/%s: %w", provider, ref, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("payments: get payment by ref: %w", err)
	}
	return p, nil
}

func (r *repository) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO payments
		(building_id, unit_id, payer_id, charge_id, amount, currency, status, provider, provider_reference, method_id, is_manual, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW()) RETURNING id`,
		p.BuildingID, p.UnitID, p.PayerID, p.ChargeID, toNumeric(p.Amount), p.Currency, p.Status,
		p.Provider, p.ProviderReference, p.MethodID, p.IsManual).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("payments: create payment: %w", err)
	}
	return id, nil
}

func (r *repository) SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payments SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("payments: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: payment %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) SetPaymentOutcome(ctx context.Context, id int64, status PaymentStatus, providerRef string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status=$2, provider_reference=COALESCE(NULLIF($3,''), provider_reference), updated_at=NOW() WHERE id=$1`,
		id, status, providerRef)
	if err != nil {
		return fmt.Errorf("payments: set payment outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: payment %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) ListUnitPayments(ctx context.Context, unitID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE unit_id=$1 ORDER BY id DESC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("payments: list unit payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *repository) HasWebhookEvent(ctx context.Context, provider gateway.ProviderType, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM webhook_event_log WHERE provider=$1 AND event_id=$2)`,
		provider, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("payments: webhook dedup lookup: %w", err)
	}
	return exists, nil
}

// InsertWebhookEvent is the dedup commit point: the unique (provider,
// event_id) index turns a concurrent double delivery into ErrDuplicate.
func (r *repository) InsertWebhookEvent(ctx context.Context, rec WebhookRecord) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO webhook_event_log (provider, event_id, payload_hash, result, processed_at)
		VALUES ($1,$2,$3,$4,NOW())`,
		rec.Provider, rec.EventID, rec.PayloadHash, rec.Result)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("payments: webhook event %s/%s: %w", rec.Provider, rec.EventID, shared.ErrDuplicate)
		}
		return fmt.Errorf("payments: insert webhook event: %w", err)
	}
	return nil
}

func (r *repository) AllocationExists(ctx context.Context, paymentID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM payment_allocations WHERE payment_id=$1 AND NOT cancelled)`,
		paymentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("payments: allocation lookup: %w", err)
	}
	return exists, nil
}

const methodColumns = `id, user_id, provider, token, last4, brand, expiry_month, expiry_year, is_default, created_at`

func scanMethod(row pgx.Row) (*PaymentMethod, error) {
	var m PaymentMethod
	err := row.Scan(&m.ID, &m.UserID, &m.Provider, &m.Token, &m.Last4, &m.Brand,
		&m.ExpiryMonth, &m.ExpiryYear, &m.IsDefault, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveMethod inserts a tokenized instrument; when it is flagged default the
// user's previous default is cleared in the same transaction.
func (r *repository) SaveMethod(ctx context.Context, m PaymentMethod) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("payments: save method: %w", err)
	}
	defer tx.Rollback(ctx)

	if m.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default=FALSE WHERE user_id=$1 AND is_default`, m.UserID); err != nil {
			return 0, fmt.Errorf("payments: clear default method: %w", err)
		}
	}
	var id int64
	err = tx.QueryRow(ctx, `INSERT INTO payment_methods
		(user_id, provider, token, last4, brand, expiry_month, expiry_year, is_default, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		m.UserID, m.Provider, m.Token, m.Last4, m.Brand, m.ExpiryMonth, m.ExpiryYear, m.IsDefault).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("payments: insert method: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("payments: save method commit: %w", err)
	}
	return id, nil
}

func (r *repository) GetMethod(ctx context.Context, id int64) (*PaymentMethod, error) {
	m, err := scanMethod(r.pool.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payments: method %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("payments: get method: %w", err)
	}
	return m, nil
}

func (r *repository) ListMethods(ctx context.Context, userID int64) ([]PaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE user_id=$1 ORDER BY is_default DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("payments: list methods: %w", err)
	}
	defer rows.Close()
	var out []PaymentMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *repository) DefaultMethod(ctx context.Context, userID int64) (*PaymentMethod, error) {
	m, err := scanMethod(r.pool.QueryRow(ctx,
		`SELECT `+methodColumns+` FROM payment_methods WHERE user_id=$1 AND is_default LIMIT 1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payments: no default method for user %d: %w", userID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("payments: default method: %w", err)
	}
	return m, nil
}

func (r *repository) SetDefaultMethod(ctx context.Context, userID, methodID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: set default method: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default=FALSE WHERE user_id=$1 AND is_default`, userID); err != nil {
		return fmt.Errorf("payments: clear default method: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE payment_methods SET is_default=TRUE WHERE id=$1 AND user_id=$2`, methodID, userID)
	if err != nil {
		return fmt.Errorf("payments: mark default method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: method %d for user %d: %w", methodID, userID, shared.ErrNotFound)
	}
	return tx.Commit(ctx)
}

const standingColumns = `id, user_id, unit_id, building_id, provider, amount, currency, plan_ref,
	subscription_ref, approval_url, status, ok_cycles, failed_cycles, created_at, updated_at`

func scanStanding(row pgx.Row) (*StandingOrder, error) {
	var o StandingOrder
	err := row.Scan(&o.ID, &o.UserID, &o.UnitID, &o.BuildingID, &o.Provider, &o.Amount, &o.Currency,
		&o.PlanRef, &o.SubscriptionRef, &o.ApprovalURL, &o.Status, &o.OKCycles, &o.FailedCycles,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) CreateStandingOrder(ctx context.Context, o StandingOrder) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO standing_orders
		(user_id, unit_id, building_id, provider, amount, currency, plan_ref, subscription_ref, approval_url, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		o.UserID, o.UnitID, o.BuildingID, o.Provider, toNumeric(o.Amount), o.Currency,
		o.PlanRef, o.SubscriptionRef, o.ApprovalURL, o.Status).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("payments: active standing order exists for user %d unit %d: %w", o.UserID, o.UnitID, shared.ErrDuplicate)
		}
		return 0, fmt.Errorf("payments: create standing order: %w", err)
	}
	return id, nil
}

func (r *repository) GetStandingOrder(ctx context.Context, id int64) (*StandingOrder, error) {
	o, err := scanStanding(r.pool.QueryRow(ctx, `SELECT `+standingColumns+` FROM standing_orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payments: standing order %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("payments: get standing order: %w", err)
	}
	return o, nil
}

func (r *repository) ListStandingOrders(ctx context.Context, userID int64) ([]StandingOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+standingColumns+` FROM standing_orders WHERE user_id=$1 ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("payments: list standing orders: %w", err)
	}
	defer rows.Close()
	var out []StandingOrder
	for rows.Next() {
		o, err := scanStanding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *repository) SetStandingOrderStatus(ctx context.Context, id int64, status StandingOrderStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE standing_orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("payments: set standing order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: standing order %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) HasActiveStandingOrder(ctx context.Context, userID, unitID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM standing_orders WHERE user_id=$1 AND unit_id=$2 AND status=$3)`,
		userID, unitID, StandingOrderActive).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("payments: active standing order lookup: %w", err)
	}
	return exists, nil
}

func (r *repository) RecordStandingCycle(ctx context.Context, subscriptionRef string, ok bool) error {
	column := "failed_cycles"
	if ok {
		column = "ok_cycles"
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE standing_orders SET `+column+`=`+column+`+1, updated_at=NOW() WHERE subscription_ref=$1`,
		subscriptionRef)
	if err != nil {
		return fmt.Errorf("payments: record standing cycle: %w", err)
	}
	return nil
}

// ClaimReceipt fills the payment's receipt fields only while they are still
// null. A false return means a concurrent issuer won and the caller should
// re-read the persisted document.
func (r *repository) ClaimReceipt(ctx context.Context, paymentID int64, docID, docNumber, url string, issuedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE payments
		SET receipt_doc_id=$2, receipt_doc_number=$3, receipt_url=$4, receipt_issued_at=$5, updated_at=NOW()
		WHERE id=$1 AND receipt_doc_id IS NULL`,
		paymentID, docID, docNumber, url, issuedAt)
	if err != nil {
		return false, fmt.Errorf("payments: claim receipt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: r.ledger})
	})
}

type txRepository struct {
	tx     pgx.Tx
	ledger ledger.TxAppender
}

func (t *txRepository) GetChargeForUpdate(ctx context.Context, chargeID int64) (*billing.Charge, error) {
	var c billing.Charge
	err := t.tx.QueryRow(ctx, `SELECT id, building_id, unit_id, plan_id, period, amount_due, amount_paid,
		due_date, status, created_at, updated_at FROM charges WHERE id=$1 FOR UPDATE`, chargeID).
		Scan(&c.ID, &c.BuildingID, &c.UnitID, &c.PlanID, &c.Period, &c.AmountDue, &c.AmountPaid,
			&c.DueDate, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payments: charge %d: %w", chargeID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("payments: lock charge: %w", err)
	}
	return &c, nil
}

func (t *txRepository) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO payment_allocations (payment_id, charge_id, amount, cancelled, created_at)
		VALUES ($1,$2,$3,FALSE,NOW()) RETURNING id`,
		a.PaymentID, a.ChargeID, toNumeric(a.Amount)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("payments: insert allocation: %w", err)
	}
	return id, nil
}

func (t *txRepository) ListActiveAllocations(ctx context.Context, paymentID int64) ([]Allocation, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, payment_id, charge_id, amount, cancelled, created_at
		FROM payment_allocations WHERE payment_id=$1 AND NOT cancelled ORDER BY id FOR UPDATE`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("payments: list allocations: %w", err)
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.ChargeID, &a.Amount, &a.Cancelled, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *txRepository) CancelAllocation(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payment_allocations SET cancelled=TRUE WHERE id=$1 AND NOT cancelled`, id)
	if err != nil {
		return fmt.Errorf("payments: cancel allocation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: allocation %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) UpdateChargeProgress(ctx context.Context, chargeID int64, amountPaid float64, status billing.ChargeStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE charges SET amount_paid=$2, status=$3, updated_at=NOW() WHERE id=$1`,
		chargeID, toNumeric(amountPaid), status)
	if err != nil {
		return fmt.Errorf("payments: update charge progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: charge %d: %w", chargeID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) SetPaymentStatus(ctx context.Context, id int64, status PaymentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE payments SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("payments: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payments: payment %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) AppendLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	return t.ledger.AppendTx(ctx, t.tx, in)
}

func toNumeric(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
