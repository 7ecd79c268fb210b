package jobs

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// webhookRetention is how long processed webhook rows are kept. The log is a
// dedup guard and an audit trail; provider replay windows are far shorter
// than this.
const webhookRetention = "90 days"

// CleanupWebhookLog prunes aged rows from the webhook event log.
func CleanupWebhookLog(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return nil
	}
	tag, err := pool.Exec(ctx,
		`DELETE FROM webhook_event_log WHERE processed_at < now() - $1::interval`, webhookRetention)
	if err != nil {
		if logger != nil {
			logger.Error("webhook log cleanup", slog.Any("error", err))
		}
		return err
	}
	if logger != nil {
		logger.Info("webhook log cleaned", slog.Int64("deleted", tag.RowsAffected()), slog.String("job", "webhook_cleanup"))
	}
	return nil
}
