// Package jobs implements asynchronous transformations: enqueueing job
// records onto per-transformation queues, the worker pool that drains them,
// and the persisted transformation results.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/store"
	"stratadb/pkg/utils"
	"stratadb/pkg/versions"
)

// ErrJobNotFound is returned when a job id resolves to no lifecycle record.
var ErrJobNotFound = errors.New("jobs: job not found")

// Processor computes a transformation result from the latest snapshot of the
// job's item. It runs on a worker goroutine and must not share mutable state
// across invocations.
type Processor func(item models.Item, job models.Job) (interface{}, error)

var transformationNameRe = regexp.MustCompile(`:transformation:([A-Za-z0-9_-]+)$`)

// QueueStats is a point-in-time view of one transformation queue.
type QueueStats struct {
	Transformation string `json:"transformation"`
	Pending        int    `json:"pending"`
}

// Manager owns job lifecycle records and queue bookkeeping. Workers run in a
// separate Pool; the Manager itself never processes jobs.
type Manager struct {
	kv       *store.Store
	versions *versions.Store
}

// NewManager returns a job manager over kv.
func NewManager(kv *store.Store, vs *versions.Store) *Manager {
	return &Manager{kv: kv, versions: vs}
}

// Enqueue creates a queued job for the item and pushes its id onto the
// transformation's queue. The item must exist; a queue for a missing item
// would only produce jobs that fail on pickup.
func (m *Manager) Enqueue(c keys.Components, transformation string) (string, error) {
	latest, err := m.versions.GetLatestVersion(c)
	if err != nil {
		return "", err
	}
	if latest == 0 {
		return "", versions.ErrItemNotFound
	}
	queueKey, err := keys.Queue(c, transformation)
	if err != nil {
		return "", err
	}
	job := models.Job{
		ID:             utils.GenID(),
		Domain:         c.Domain,
		App:            c.App,
		Collection:     c.Collection,
		ItemID:         c.ID,
		Transformation: transformation,
		Status:         models.JobQueued,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.SaveJob(job); err != nil {
		return "", err
	}
	if err := m.kv.LPush(queueKey, []byte(job.ID)); err != nil {
		return "", err
	}
	jobsEnqueued.WithLabelValues(c.Collection, transformation).Inc()
	logger.Info("job_enqueued", "job", job.ID, "item", c.ID, "transformation", transformation)
	return job.ID, nil
}

// SaveJob writes (or rewrites) a job lifecycle record.
func (m *Manager) SaveJob(job models.Job) error {
	key, err := keys.Job(job.ID)
	if err != nil {
		return err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return m.kv.Set(key, b, 0)
}

// GetJob returns the lifecycle record for a job id.
func (m *Manager) GetJob(jobID string) (models.Job, error) {
	key, err := keys.Job(jobID)
	if err != nil {
		return models.Job{}, err
	}
	v, err := m.kv.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(v, &job); err != nil {
		return models.Job{}, fmt.Errorf("corrupt job record at %s: %w", key, err)
	}
	return job, nil
}

// Stats reports how many jobs are waiting on the transformation's queue.
// Running jobs have already been popped and are not counted.
func (m *Manager) Stats(c keys.Components, transformation string) (QueueStats, error) {
	queueKey, err := keys.Queue(c, transformation)
	if err != nil {
		return QueueStats{}, err
	}
	n, err := m.kv.LLen(queueKey)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Transformation: transformation, Pending: n}, nil
}

// GetTransformation returns the persisted result of the named transformation
// for an item, or versions.ErrItemNotFound when no completed run exists.
func (m *Manager) GetTransformation(c keys.Components, name string) (models.TransformationResult, error) {
	key, err := keys.Transformation(c, name)
	if err != nil {
		return models.TransformationResult{}, err
	}
	v, err := m.kv.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return models.TransformationResult{}, versions.ErrItemNotFound
	}
	if err != nil {
		return models.TransformationResult{}, err
	}
	var res models.TransformationResult
	if err := json.Unmarshal(v, &res); err != nil {
		return models.TransformationResult{}, fmt.Errorf("corrupt transformation result at %s: %w", key, err)
	}
	return res, nil
}

// ListTransformations returns the names of the transformations with a
// persisted result for the item.
func (m *Manager) ListTransformations(c keys.Components) ([]string, error) {
	base, err := keys.Base(c)
	if err != nil {
		return nil, err
	}
	found, err := m.kv.ScanKeys(base + ":transformation:")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(found))
	for _, k := range found {
		if match := transformationNameRe.FindStringSubmatch(k); match != nil {
			names = append(names, match[1])
		}
	}
	return names, nil
}

// DeleteAllTransformations removes every persisted transformation result for
// the item and returns the count removed.
func (m *Manager) DeleteAllTransformations(c keys.Components) (int, error) {
	base, err := keys.Base(c)
	if err != nil {
		return 0, err
	}
	found, err := m.kv.ScanKeys(base + ":transformation:")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, k := range found {
		ok, err := m.kv.Delete(k)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// saveResult persists the transformation result at the item's
// transformation key.
func (m *Manager) saveResult(c keys.Components, res models.TransformationResult, ttl time.Duration) error {
	key, err := keys.Transformation(c, res.Transformation)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal transformation result: %w", err)
	}
	return m.kv.Set(key, b, ttl)
}
