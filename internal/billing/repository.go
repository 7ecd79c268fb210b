package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/platform/db"
	"github.com/lattice-pm/lattice/internal/shared"
)

// Repository encapsulates DB operations for charges and the job run log.
type Repository interface {
	GetCharge(ctx context.Context, id int64) (*Charge, error)
	ListByUnit(ctx context.Context, unitID int64) ([]Charge, error)
	ChargeExists(ctx context.Context, unitID, planID int64, period string) (bool, error)
	HasJobRun(ctx context.Context, jobName, period string) (bool, error)
	RecordJobRun(ctx context.Context, jobName, period string) error
	ClaimInvoice(ctx context.Context, chargeID int64, docID, docNumber, url string, issuedAt time.Time) (bool, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	InsertCharge(ctx context.Context, c Charge) (int64, error)
	GetChargeForUpdate(ctx context.Context, id int64) (*Charge, error)
	UpdateChargeAmount(ctx context.Context, id int64, amountDue float64, status ChargeStatus) error
	AppendLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error)
}

type repository struct {
	pool   *pgxpool.Pool
	ledger ledger.TxAppender
}

// NewRepository constructs the billing repository.
func NewRepository(pool *pgxpool.Pool, appender ledger.TxAppender) Repository {
	return &repository{pool: pool, ledger: appender}
}

const chargeColumns = `id, building_id, unit_id, plan_id, period, amount_due, amount_paid, due_date, status, created_at, updated_at,
invoice_doc_id, invoice_doc_number, invoice_url, invoice_issued_at`

func scanCharge(row pgx.Row) (*Charge, error) {
	var c Charge
	err := row.Scan(&c.ID, &c.BuildingID, &c.UnitID, &c.PlanID, &c.Period,
		&c.AmountDue, &c.AmountPaid, &c.DueDate, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		&c.InvoiceDocID, &c.InvoiceDocNumber, &c.InvoiceURL, &c.InvoiceIssuedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) GetCharge(ctx context.Context, id int64) (*Charge, error) {
	c, err := scanCharge(r.pool.QueryRow(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("billing: charge %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("billing: get charge: %w", err)
	}
	return c, nil
}

func (r *repository) ListByUnit(ctx context.Context, unitID int64) ([]Charge, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+chargeColumns+` FROM charges WHERE unit_id=$1 ORDER BY period DESC, id DESC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("billing: list charges: %w", err)
	}
	defer rows.Close()
	var out []Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *repository) ChargeExists(ctx context.Context, unitID, planID int64, period string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM charges WHERE unit_id=$1 AND plan_id=$2 AND period=$3)`,
		unitID, planID, period).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("billing: charge exists: %w", err)
	}
	return exists, nil
}

func (r *repository) HasJobRun(ctx context.Context, jobName, period string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM job_run_log WHERE job_name=$1 AND period_key=$2)`,
		jobName, period).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("billing: job run lookup: %w", err)
	}
	return exists, nil
}

func (r *repository) RecordJobRun(ctx context.Context, jobName, period string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO job_run_log (job_name, period_key, ran_at) VALUES ($1, $2, $3)`,
		jobName, period, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrAlreadyRan
		}
		return fmt.Errorf("billing: record job run: %w", err)
	}
	return nil
}

// ClaimInvoice records the issued document only if the charge has none yet.
// A false return with nil error means a concurrent issuer won.
func (r *repository) ClaimInvoice(ctx context.Context, chargeID int64, docID, docNumber, url string, issuedAt time.Time) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `UPDATE charges
SET invoice_doc_id=$2, invoice_doc_number=$3, invoice_url=$4, invoice_issued_at=$5, updated_at=NOW()
WHERE id=$1 AND invoice_doc_id IS NULL`,
		chargeID, docID, docNumber, url, issuedAt)
	if err != nil {
		return false, fmt.Errorf("billing: claim invoice: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
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

func (r *txRepository) InsertCharge(ctx context.Context, c Charge) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO charges (building_id, unit_id, plan_id, period, amount_due, amount_paid, due_date, status)
VALUES ($1,$2,$3,$4,$5,0,$6,$7) RETURNING id`,
		c.BuildingID, c.UnitID, c.PlanID, c.Period, toNumeric(c.AmountDue), c.DueDate, c.Status).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("billing: charge for unit %d period %s: %w", c.UnitID, c.Period, shared.ErrAlreadyRan)
		}
		return 0, fmt.Errorf("billing: insert charge: %w", err)
	}
	return id, nil
}

func (r *txRepository) GetChargeForUpdate(ctx context.Context, id int64) (*Charge, error) {
	c, err := scanCharge(r.tx.QueryRow(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("billing: charge %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("billing: lock charge: %w", err)
	}
	return c, nil
}

func (r *txRepository) UpdateChargeAmount(ctx context.Context, id int64, amountDue float64, status ChargeStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE charges SET amount_due=$2, status=$3, updated_at=NOW() WHERE id=$1`,
		id, toNumeric(amountDue), status)
	if err != nil {
		return fmt.Errorf("billing: update charge amount: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) AppendLedgerEntry(ctx context.Context, in ledger.EntryInput) (ledger.Entry, error) {
	return r.ledger.AppendTx(ctx, r.tx, in)
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
