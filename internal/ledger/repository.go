package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-pm/lattice/internal/platform/db"
	"github.com/lattice-pm/lattice/internal/shared"
)

// TxAppender appends entries inside a caller-managed transaction. The
// allocation engine and the charge generator both write ledger rows in the
// same transaction as their own state changes.
type TxAppender interface {
	AppendTx(ctx context.Context, tx pgx.Tx, in EntryInput) (Entry, error)
}

// Repository reads and appends ledger entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AppendTx serializes on the unit via an advisory lock, reads the last
// (seq, balance) pair and inserts the next entry. Read-last-then-append is
// only safe under this per-unit serialization point.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, in EntryInput) (Entry, error) {
	if in.UnitID == 0 {
		return Entry{}, errors.New("ledger: unit id required")
	}
	if in.Debit < 0 || in.Credit < 0 {
		return Entry{}, errors.New("ledger: negative debit or credit")
	}
	if err := db.AdvisoryLock(ctx, tx, shared.LedgerLockClass, in.UnitID); err != nil {
		return Entry{}, err
	}

	var lastSeq int64
	var lastBalance float64
	err := tx.QueryRow(ctx, `SELECT seq, balance_after FROM ledger_entries
WHERE unit_id=$1 ORDER BY seq DESC LIMIT 1`, in.UnitID).Scan(&lastSeq, &lastBalance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("ledger: read last entry: %w", err)
	}

	entry := Entry{
		BuildingID:   in.BuildingID,
		UnitID:       in.UnitID,
		Seq:          lastSeq + 1,
		Type:         in.Type,
		Description:  in.Description,
		Debit:        in.Debit,
		Credit:       in.Credit,
		BalanceAfter: NextBalance(lastBalance, in.Debit, in.Credit),
		RefType:      in.RefType,
		RefID:        in.RefID,
	}
	row := tx.QueryRow(ctx, `INSERT INTO ledger_entries
(building_id, unit_id, seq, entry_type, description, debit, credit, balance_after, ref_type, ref_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id, created_at`,
		entry.BuildingID, entry.UnitID, entry.Seq, entry.Type, entry.Description,
		toNumeric(entry.Debit), toNumeric(entry.Credit), toNumeric(entry.BalanceAfter),
		nullStr(entry.RefType), nullInt(entry.RefID))
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return entry, nil
}

// ListByUnit returns a unit's entries in logical order.
func (r *Repository) ListByUnit(ctx context.Context, unitID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, building_id, unit_id, seq, entry_type, description, debit, credit, balance_after, ref_type, ref_id, created_at
FROM ledger_entries WHERE unit_id=$1 ORDER BY seq ASC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by unit: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var refType *string
		var refID *int64
		if err := rows.Scan(&e.ID, &e.BuildingID, &e.UnitID, &e.Seq, &e.Type, &e.Description,
			&e.Debit, &e.Credit, &e.BalanceAfter, &refType, &refID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if refType != nil {
			e.RefType = *refType
		}
		if refID != nil {
			e.RefID = *refID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Balance returns the unit's current amount owed.
func (r *Repository) Balance(ctx context.Context, unitID int64) (float64, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `SELECT balance_after FROM ledger_entries
WHERE unit_id=$1 ORDER BY seq DESC LIMIT 1`, unitID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}

// Helpers
func nullStr(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func toNumeric(v float64) any {
	return fmt.Sprintf("%.2f", v)
}
