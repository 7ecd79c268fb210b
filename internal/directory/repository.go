package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lattice-pm/lattice/internal/shared"
)

// Repository reads buildings, units and fee plans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the read model repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetBuilding fetches one building.
func (r *Repository) GetBuilding(ctx context.Context, id int64) (*Building, error) {
	var b Building
	err := r.pool.QueryRow(ctx, `SELECT id, name, currency, payment_provider, is_active, created_at
FROM buildings WHERE id=$1`, id).
		Scan(&b.ID, &b.Name, &b.Currency, &b.PaymentProvider, &b.IsActive, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("directory: building %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("directory: get building: %w", err)
	}
	return &b, nil
}

// ListActiveBuildings returns buildings eligible for charge generation.
func (r *Repository) ListActiveBuildings(ctx context.Context) ([]Building, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, currency, payment_provider, is_active, created_at
FROM buildings WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("directory: list buildings: %w", err)
	}
	defer rows.Close()
	var out []Building
	for rows.Next() {
		var b Building
		if err := rows.Scan(&b.ID, &b.Name, &b.Currency, &b.PaymentProvider, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetUnit fetches one unit.
func (r *Repository) GetUnit(ctx context.Context, id int64) (*Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx, `SELECT id, building_id, label, area_sqm, tenant_user_id, tenant_email, tenant_phone
FROM units WHERE id=$1`, id).
		Scan(&u.ID, &u.BuildingID, &u.Label, &u.AreaSqm, &u.TenantUserID, &u.TenantEmail, &u.TenantPhone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("directory: unit %d: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("directory: get unit: %w", err)
	}
	return &u, nil
}

// ListUnits returns every unit of a building.
func (r *Repository) ListUnits(ctx context.Context, buildingID int64) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, building_id, label, area_sqm, tenant_user_id, tenant_email, tenant_phone
FROM units WHERE building_id=$1 ORDER BY id`, buildingID)
	if err != nil {
		return nil, fmt.Errorf("directory: list units: %w", err)
	}
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.BuildingID, &u.Label, &u.AreaSqm, &u.TenantUserID, &u.TenantEmail, &u.TenantPhone); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ActiveFeePlan returns the building's governing fee plan: the most recent
// active plan by effective date.
func (r *Repository) ActiveFeePlan(ctx context.Context, buildingID int64) (*FeePlan, error) {
	var p FeePlan
	err := r.pool.QueryRow(ctx, `SELECT id, building_id, name, method, rate_per_sqm, fixed_amount, effective_from, is_active
FROM fee_plans WHERE building_id=$1 AND is_active ORDER BY effective_from DESC LIMIT 1`, buildingID).
		Scan(&p.ID, &p.BuildingID, &p.Name, &p.Method, &p.RatePerSqm, &p.FixedAmount, &p.EffectiveFrom, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("directory: no active fee plan for building %d: %w", buildingID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("directory: active fee plan: %w", err)
	}
	return &p, nil
}
