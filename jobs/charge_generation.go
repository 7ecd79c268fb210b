package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	jobmetrics "github.com/lattice-pm/lattice/internal/jobs"
	"github.com/lattice-pm/lattice/internal/shared"
)

// BuildingLister enumerates the buildings eligible for charge generation.
type BuildingLister interface {
	ListActiveBuildings(ctx context.Context) ([]directory.Building, error)
}

// ChargeGenerationJob runs the monthly charge generation across every active
// building. Generation is idempotent per (building, period), so a crashed or
// repeated run only creates what is missing.
type ChargeGenerationJob struct {
	Dir       BuildingLister
	Generator *billing.Generator
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewChargeGenerationJob initialises the generation handler.
func NewChargeGenerationJob(dir BuildingLister, generator *billing.Generator, logger *slog.Logger, metrics *jobmetrics.Metrics) *ChargeGenerationJob {
	return &ChargeGenerationJob{
		Dir:       dir,
		Generator: generator,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (j *ChargeGenerationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Handle executes the generation run.
func (j *ChargeGenerationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Generator == nil || j.Dir == nil {
		return errors.New("charge generation: handler not configured")
	}
	var payload GenerateChargesPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	period := payload.Period
	if period == "" {
		period = shared.CurrentPeriod(j.clock())
	}

	tracker := j.Metrics.Track(TaskTypeGenerateCharges)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("period", period))
	logger.Info("starting charge generation")

	buildings, err := j.Dir.ListActiveBuildings(ctx)
	if err != nil {
		resultErr = err
		logger.Error("list buildings", slog.Any("error", err))
		return resultErr
	}

	var created, skipped, failed int
	for _, b := range buildings {
		res, err := j.Generator.GenerateCharges(ctx, b.ID, period)
		switch {
		case errors.Is(err, billing.ErrNoActivePlan):
			skipped++
			logger.Warn("building has no active fee plan", slog.Int64("building_id", b.ID))
		case err != nil:
			failed++
			logger.Error("generation failed", slog.Int64("building_id", b.ID), slog.Any("error", err))
		case res.AlreadyRan:
			skipped++
		default:
			created += res.Created
			j.Metrics.AddGeneratedCharges(b.ID, res.Created)
		}
	}
	if failed > 0 {
		// retrying is safe: completed buildings short-circuit on the job run record
		resultErr = errors.New("charge generation: some buildings failed")
	}

	logger.Info("completed charge generation",
		slog.Int("buildings", len(buildings)),
		slog.Int("created", created),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
	)
	return resultErr
}
