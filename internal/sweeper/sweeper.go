// Package sweeper runs the background pruning of ephemeral state: stale
// presence records and aged version-trail entries. The message log itself
// is never pruned.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"campuschat/pkg/config"
	"campuschat/pkg/logger"
	"campuschat/pkg/realtime"
	"campuschat/pkg/store"
)

// Start launches the cron-driven sweeper if enabled. The returned cancel
// func stops the scheduler.
func Start(ctx context.Context, cfg config.SweeperConfig, hub *realtime.Hub) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("sweeper_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweeper_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid sweeper cron expression: %s", cfg.Cron)
	}

	logger.Info("sweeper_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, hub, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, so full cron syntax is supported.
func runScheduler(ctx context.Context, cfg config.SweeperConfig, hub *realtime.Hub, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweeper_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			RunOnce(cfg, hub)
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		}
	}
}

// RunOnce performs a single sweep. Exposed so tests and admin triggers
// can run it on demand.
func RunOnce(cfg config.SweeperConfig, hub *realtime.Hub) {
	start := time.Now()

	if age := cfg.VersionAge.Duration(); age > 0 {
		cutoff := time.Now().Add(-age).UTC().UnixNano()
		n, err := store.PruneVersionsBefore(cutoff)
		if err != nil {
			logger.Error("sweep_versions_failed", "error", err)
		} else if n > 0 {
			logger.Info("sweep_versions_pruned", "count", n)
		}
	}

	if hub != nil {
		idle := cfg.PresenceIdle.Duration()
		if idle <= 0 {
			idle = 24 * time.Hour
		}
		cutoff := time.Now().Add(-idle).UTC().UnixNano()
		if n := hub.SweepPresence(cutoff); n > 0 {
			logger.Info("sweep_presence_pruned", "count", n)
		}
	}

	logger.Debug("sweep_done", "elapsed_ms", time.Since(start).Milliseconds())
}
