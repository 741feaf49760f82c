// Package app wires the server together: store, repository, collections,
// worker pools, retention scheduler, and the HTTP listener.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"stratadb/internal/retention"
	"stratadb/pkg/api"
	"stratadb/pkg/config"
	"stratadb/pkg/jobs"
	"stratadb/pkg/logger"
	"stratadb/pkg/mutations"
	"stratadb/pkg/repo"
	"stratadb/pkg/store"
)

// Registry carries the code half of a collection's capability table: the
// mutation functions and transformation processors that config files cannot
// express.
type Registry struct {
	Mutations  map[string]mutations.Func
	Processors map[string]jobs.Processor
}

// App encapsulates the server components and lifecycle.
type App struct {
	cfg         *config.Config
	addr        string
	kv          *store.Store
	repo        *repo.Repo
	collections map[string]*repo.Collection

	srv           *http.Server
	retentionStop context.CancelFunc
}

// New opens the store and builds every configured collection, merging the
// YAML spec (object type, TTL, validation) with the registered functions.
// It does not start workers or the HTTP server; call Run for that.
func New(cfg *config.Config, addr, dbPath string, registries map[string]Registry) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	kv, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dbPath, err)
	}

	r := repo.New(kv, repo.Options{EnableAudit: cfg.Audit.Enabled})
	collections := map[string]*repo.Collection{}
	for _, spec := range cfg.Collections {
		reg := registries[spec.Name]
		ccfg := repo.CollectionConfig{
			ObjectType: repo.ObjectType(spec.ObjectType),
			TTL:        spec.TTL.Duration(),
			Mutations:  reg.Mutations,
		}
		if !spec.Validation.Empty() {
			ccfg.Validator = validatorFor(spec)
		}
		if len(reg.Processors) > 0 {
			ccfg.Transformations = map[string]repo.TransformationConfig{}
			for name, proc := range reg.Processors {
				ccfg.Transformations[name] = repo.TransformationConfig{
					Processor:   proc,
					Workers:     cfg.Workers.Workers,
					MaxRetries:  cfg.Workers.MaxRetries,
					RetryDelay:  cfg.Workers.RetryDelay.Duration(),
					PollTimeout: cfg.Workers.PollTimeout.Duration(),
				}
			}
		}
		col, err := r.Collection(spec.Domain, spec.App, spec.Name, ccfg)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("collection %s: %w", spec.Name, err)
		}
		collections[spec.Name] = col
		logger.Info("collection_registered",
			"collection", spec.Name,
			"object_type", spec.ObjectType,
			"mutations", len(reg.Mutations),
			"transformations", len(reg.Processors))
	}

	return &App{cfg: cfg, addr: addr, kv: kv, repo: r, collections: collections}, nil
}

// Run starts workers, retention, and the HTTP server, then blocks until ctx
// is cancelled or the server fails. Shutdown is graceful: the listener
// drains, pools finish in-flight jobs, then the store closes.
func (a *App) Run(ctx context.Context) error {
	started := make([]*repo.Collection, 0, len(a.collections))
	for name, col := range a.collections {
		if err := col.StartWorkers(ctx); err != nil {
			for _, c := range started {
				c.StopWorkers()
			}
			_ = a.kv.Close()
			return fmt.Errorf("workers for %s: %w", name, err)
		}
		started = append(started, col)
	}

	stop, err := retention.Start(ctx, a.repo, a.cfg.Retention,
		retention.TargetsFromSpecs(a.cfg.Collections))
	if err != nil {
		for _, c := range started {
			c.StopWorkers()
		}
		_ = a.kv.Close()
		return err
	}
	a.retentionStop = stop

	handler := api.NewServer(a.repo, a.collections, a.cfg.Server.MaxBodySize.Int64()).Handler()
	a.srv = &http.Server{Addr: a.addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.addr)
		errCh <- a.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	logger.Info("shutting_down")
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}
	if a.retentionStop != nil {
		a.retentionStop()
	}
	for _, col := range a.collections {
		col.StopWorkers()
	}
	if err := a.kv.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}
