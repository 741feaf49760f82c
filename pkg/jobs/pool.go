package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/store"
	"stratadb/pkg/versions"
)

// PoolConfig sizes and tunes one worker pool.
type PoolConfig struct {
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	PollTimeout time.Duration
	// ResultTTL bounds how long a persisted transformation result lives;
	// zero keeps it forever.
	ResultTTL time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 250 * time.Millisecond
	}
	return c
}

// Pool drains one transformation queue with a fixed set of worker
// goroutines. Workers share nothing in-process; every piece of state they
// touch lives in the backing store, so delivery is at least once and a
// worker killed mid-job leaves the job stuck in running.
type Pool struct {
	mgr            *Manager
	scope          keys.Components
	transformation string
	proc           Processor
	cfg            PoolConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool returns a pool for one (collection, transformation) queue. The
// scope's ID is ignored; jobs carry their own item id.
func NewPool(mgr *Manager, scope keys.Components, transformation string, proc Processor, cfg PoolConfig) *Pool {
	return &Pool{
		mgr:            mgr,
		scope:          scope,
		transformation: transformation,
		proc:           proc,
		cfg:            cfg.withDefaults(),
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (p *Pool) Start(ctx context.Context) error {
	queueKey, err := keys.Queue(p.scope, p.transformation)
	if err != nil {
		return err
	}
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, queueKey)
	}
	logger.Info("worker_pool_started",
		"collection", p.scope.Collection,
		"transformation", p.transformation,
		"workers", p.cfg.Workers)
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logger.Info("worker_pool_stopped",
		"collection", p.scope.Collection,
		"transformation", p.transformation)
}

func (p *Pool) worker(ctx context.Context, queueKey string) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		v, err := p.mgr.kv.BRPop(ctx, queueKey, p.cfg.PollTimeout)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Error("queue_pop_failed", "queue", queueKey, "error", err)
			continue
		}
		p.process(ctx, queueKey, string(v))
	}
}

func (p *Pool) process(ctx context.Context, queueKey, jobID string) {
	job, err := p.mgr.GetJob(jobID)
	if err != nil {
		logger.Error("job_record_missing", "job", jobID, "error", err)
		return
	}
	now := time.Now().UTC()
	job.Status = models.JobRunning
	job.StartedAt = &now
	if err := p.mgr.SaveJob(job); err != nil {
		logger.Error("job_update_failed", "job", jobID, "error", err)
		return
	}

	c := keys.Components{Domain: job.Domain, App: job.App, Collection: job.Collection, ID: job.ItemID}
	result, err := p.run(c, job)
	jobDuration.WithLabelValues(job.Collection, job.Transformation).
		Observe(time.Since(now).Seconds())
	if err != nil {
		p.fail(ctx, queueKey, job, err)
		return
	}

	done := time.Now().UTC()
	res := models.TransformationResult{
		ID:             job.ItemID,
		Transformation: job.Transformation,
		JobID:          job.ID,
		Result:         result,
		CompletedAt:    done,
	}
	if err := p.mgr.saveResult(c, res, p.cfg.ResultTTL); err != nil {
		p.fail(ctx, queueKey, job, err)
		return
	}
	job.Status = models.JobDone
	job.CompletedAt = &done
	job.Error = ""
	if err := p.mgr.SaveJob(job); err != nil {
		logger.Error("job_update_failed", "job", job.ID, "error", err)
		return
	}
	jobsProcessed.WithLabelValues(job.Collection, job.Transformation).Inc()
	logger.Info("job_done", "job", job.ID, "item", job.ItemID, "transformation", job.Transformation)
}

// run loads the latest snapshot and invokes the processor, converting panics
// into errors so one bad job cannot take a worker down.
func (p *Pool) run(c keys.Components, job models.Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	item, err := p.mgr.versions.GetLatest(c)
	if errors.Is(err, versions.ErrItemNotFound) {
		return nil, fmt.Errorf("item %s deleted before job ran", job.ItemID)
	}
	if err != nil {
		return nil, err
	}
	return p.proc(item, job)
}

// fail records the failed attempt and either requeues the job after the
// fixed delay or marks it failed once retries are exhausted.
func (p *Pool) fail(ctx context.Context, queueKey string, job models.Job, cause error) {
	job.Retries++
	job.Error = cause.Error()
	if job.Retries > p.cfg.MaxRetries {
		done := time.Now().UTC()
		job.Status = models.JobFailed
		job.CompletedAt = &done
		if err := p.mgr.SaveJob(job); err != nil {
			logger.Error("job_update_failed", "job", job.ID, "error", err)
			return
		}
		jobsFailed.WithLabelValues(job.Collection, job.Transformation).Inc()
		logger.Warn("job_failed", "job", job.ID, "retries", job.Retries, "error", cause)
		return
	}
	job.Status = models.JobQueued
	if err := p.mgr.SaveJob(job); err != nil {
		logger.Error("job_update_failed", "job", job.ID, "error", err)
		return
	}
	jobsRetried.WithLabelValues(job.Collection, job.Transformation).Inc()
	logger.Warn("job_retry_scheduled", "job", job.ID, "retries", job.Retries, "delay", p.cfg.RetryDelay)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-ctx.Done():
			// a job scheduled for retry at shutdown stays queued in its
			// record but is not requeued; see the at-least-once note above
			return
		case <-time.After(p.cfg.RetryDelay):
		}
		if err := p.mgr.kv.LPush(queueKey, []byte(job.ID)); err != nil {
			logger.Error("job_requeue_failed", "job", job.ID, "error", err)
		}
	}()
}
