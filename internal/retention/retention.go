// Package retention runs scheduled cleanup over configured collections:
// trimming old version snapshots beyond a per-collection keep count and
// bounding audit stream length.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"stratadb/pkg/config"
	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/repo"
)

// Target names one collection to sweep. Zero limits disable the respective
// sweep for that collection.
type Target struct {
	Scope           keys.Components
	KeepVersions    int
	AuditMaxEntries int
}

// TargetsFromSpecs derives sweep targets from the configured collections.
func TargetsFromSpecs(specs []config.CollectionSpec) []Target {
	out := make([]Target, 0, len(specs))
	for _, s := range specs {
		out = append(out, Target{
			Scope:           keys.Components{Domain: s.Domain, App: s.App, Collection: s.Name},
			KeepVersions:    s.KeepVersions,
			AuditMaxEntries: s.AuditMaxEntries,
		})
	}
	return out
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, r *repo.Repo, cfg config.RetentionConfig, targets []Target) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "targets", len(targets))
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, r, cfg, targets, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, r *repo.Repo, cfg config.RetentionConfig, targets []Target, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if cfg.Paused {
				logger.Info("retention_run_skipped", "reason", "paused")
				continue
			}
			if err := RunOnce(r, cfg, targets); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce sweeps every target immediately. Exported so an admin trigger can
// run retention outside the schedule.
func RunOnce(r *repo.Repo, cfg config.RetentionConfig, targets []Target) error {
	started := time.Now()
	var versionsDeleted, auditTrimmed int
	for _, t := range targets {
		ids, err := r.Index().Items(t.Scope)
		if err != nil {
			return fmt.Errorf("retention scan of %s failed: %w", t.Scope.Collection, err)
		}
		for _, id := range ids {
			comp := t.Scope
			comp.ID = id
			if t.KeepVersions > 0 {
				if cfg.DryRun {
					infos, err := r.Versions().ListVersions(comp)
					if err != nil {
						return err
					}
					if excess := len(infos) - t.KeepVersions; excess > 0 {
						logger.Info("retention_dry_run", "item", id, "would_delete_versions", excess)
					}
				} else {
					n, err := r.Versions().CleanupOldVersions(comp, t.KeepVersions)
					if err != nil {
						return err
					}
					versionsDeleted += n
				}
			}
			if t.AuditMaxEntries > 0 && !cfg.DryRun {
				n, err := r.Audit().Trim(comp, t.AuditMaxEntries)
				if err != nil {
					return err
				}
				auditTrimmed += n
			}
		}
	}
	logger.Info("retention_run_complete",
		"versions_deleted", versionsDeleted,
		"audit_trimmed", auditTrimmed,
		"elapsed", time.Since(started).String())
	return nil
}
