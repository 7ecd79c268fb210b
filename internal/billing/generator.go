package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/shared"
)

// PlanSource is the directory read surface the generator needs.
type PlanSource interface {
	GetBuilding(ctx context.Context, id int64) (*directory.Building, error)
	ListUnits(ctx context.Context, buildingID int64) ([]directory.Unit, error)
	ActiveFeePlan(ctx context.Context, buildingID int64) (*directory.FeePlan, error)
}

// Locker serializes a generation run across processes. The job run log is
// the idempotency gate; the lock only prevents two concurrent first runs
// from interleaving before the log row lands.
type Locker interface {
	TryLock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// LockFactory builds a Locker for one (building, period) run.
type LockFactory func(buildingID int64, period string) Locker

// GenerateResult reports what a generation run did.
type GenerateResult struct {
	Created    int  `json:"created"`
	Skipped    int  `json:"skipped"`
	AlreadyRan bool `json:"alreadyRan"`
}

// ErrNoActivePlan indicates the building has no governing fee plan.
var ErrNoActivePlan = errors.New("billing: building has no active fee plan")

// Generator creates the monthly charges for a building.
type Generator struct {
	repo   Repository
	plans  PlanSource
	locks  LockFactory
	logger *slog.Logger
	now    func() time.Time
}

// NewGenerator constructs a Generator.
func NewGenerator(repo Repository, plans PlanSource, locks LockFactory, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{repo: repo, plans: plans, locks: locks, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (g *Generator) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

func generationJobName(buildingID int64) string {
	return fmt.Sprintf("charge_generation:building:%d", buildingID)
}

// GenerateCharges creates one charge per unit of the building for the period.
// Safe to re-run: the job run log short-circuits completed runs, and a
// crashed run resumes by skipping units whose charge already exists. The run
// log row is written last so a crash mid-generation stays retryable.
func (g *Generator) GenerateCharges(ctx context.Context, buildingID int64, period string) (GenerateResult, error) {
	if err := shared.ValidatePeriod(period); err != nil {
		return GenerateResult{}, err
	}

	if g.locks != nil {
		lock := g.locks(buildingID, period)
		if err := lock.TryLock(ctx); err != nil {
			return GenerateResult{}, fmt.Errorf("billing: generation for building %d period %s busy (%v): %w", buildingID, period, err, shared.ErrDuplicate)
		}
		defer func() {
			if err := lock.Unlock(ctx); err != nil {
				g.logger.Warn("release generation lock", slog.Any("error", err))
			}
		}()
	}

	jobName := generationJobName(buildingID)
	ran, err := g.repo.HasJobRun(ctx, jobName, period)
	if err != nil {
		return GenerateResult{}, err
	}
	if ran {
		return GenerateResult{AlreadyRan: true}, nil
	}

	building, err := g.plans.GetBuilding(ctx, buildingID)
	if err != nil {
		return GenerateResult{}, err
	}
	plan, err := g.plans.ActiveFeePlan(ctx, buildingID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return GenerateResult{}, fmt.Errorf("%w (building %d)", ErrNoActivePlan, buildingID)
		}
		return GenerateResult{}, err
	}
	units, err := g.plans.ListUnits(ctx, buildingID)
	if err != nil {
		return GenerateResult{}, err
	}

	dueDate, err := shared.PeriodDueDate(period)
	if err != nil {
		return GenerateResult{}, err
	}

	var result GenerateResult
	for _, unit := range units {
		amount := plan.AmountFor(unit)
		if amount <= 0 {
			result.Skipped++
			continue
		}
		exists, err := g.repo.ChargeExists(ctx, unit.ID, plan.ID, period)
		if err != nil {
			return result, err
		}
		if exists {
			result.Skipped++
			continue
		}

		charge := Charge{
			BuildingID: building.ID,
			UnitID:     unit.ID,
			PlanID:     plan.ID,
			Period:     period,
			AmountDue:  amount,
			DueDate:    dueDate,
			Status:     DeriveStatus(amount, 0, dueDate, g.now(), false),
		}
		err = g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			id, err := tx.InsertCharge(ctx, charge)
			if err != nil {
				return err
			}
			_, err = tx.AppendLedgerEntry(ctx, ledger.EntryInput{
				BuildingID:  building.ID,
				UnitID:      unit.ID,
				Type:        ledger.EntryTypeCharge,
				Description: fmt.Sprintf("%s fee %s", plan.Name, period),
				Debit:       amount,
				RefType:     "charge",
				RefID:       id,
			})
			return err
		})
		if err != nil {
			return result, fmt.Errorf("billing: generate charge for unit %d: %w", unit.ID, err)
		}
		result.Created++
	}

	if err := g.repo.RecordJobRun(ctx, jobName, period); err != nil {
		if errors.Is(err, shared.ErrAlreadyRan) {
			// Lost a race with another runner; the charges themselves are
			// deduplicated per unit, so the outcome is still exactly-once.
			result.AlreadyRan = true
			return result, nil
		}
		return result, err
	}

	g.logger.Info("charges generated",
		slog.Int64("building_id", buildingID),
		slog.String("period", period),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped))
	return result, nil
}
