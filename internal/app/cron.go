package app

import (
	"context"
	"time"

	"github.com/reelspace/core/internal/config"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/modules/realtime/views"
	pkgcron "github.com/reelspace/core/internal/pkg/cron"
	"go.uber.org/zap"
)

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, notifySvc *notify.Service, batcher *views.Batcher, cfg *config.AppConfig, logger *zap.Logger) {
	cronLogger := logger.Named("CronService")
	retention := cfg.NotificationRetention()

	sched.Register(pkgcron.Job{
		Name:        "purge_read_notifications",
		Description: "delete read notifications past the retention window",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			if err := notifySvc.PurgeRead(ctx, retention); err != nil {
				cronLogger.Warn("notification purge failed", zap.Error(err))
				return err
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "sweep_stale_watch_sessions",
		Description: "deactivate watch sessions without a recent heartbeat",
		Interval:    cfg.WatchSessionStaleAfter(),
		Fn: func(ctx context.Context) error {
			if err := batcher.SweepStale(ctx); err != nil {
				cronLogger.Warn("watch session sweep failed", zap.Error(err))
				return err
			}
			return nil
		},
	})
}
