package repo

import (
	"context"
	"errors"
	"time"

	"stratadb/pkg/audit"
	"stratadb/pkg/jobs"
	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/mutations"
	"stratadb/pkg/utils"
	"stratadb/pkg/versions"
)

// Collection is the per-collection handle callers operate on. All methods
// are safe for concurrent use; the documented version-number race between
// concurrent updates to one item still applies.
type Collection struct {
	repo  *Repo
	scope keys.Components
	cfg   CollectionConfig
	pools []*jobs.Pool
}

// Collection derives a handle for (domain, app, name) with the given
// capability table.
func (r *Repo) Collection(domain, app, name string, cfg CollectionConfig) (*Collection, error) {
	scope := keys.Components{Domain: domain, App: app, Collection: name}
	if _, err := keys.Index(scope); err != nil {
		return nil, err
	}
	for tname, tc := range cfg.Transformations {
		if tc.Processor == nil {
			return nil, &UnknownTransformationError{Collection: name, Name: tname}
		}
	}
	return &Collection{repo: r, scope: scope, cfg: cfg}, nil
}

func (c *Collection) components(id string) keys.Components {
	s := c.scope
	s.ID = id
	return s
}

// ttl is the effective snapshot TTL: the collection override when set,
// otherwise the object-type class default.
func (c *Collection) ttl() time.Duration {
	if c.cfg.TTL > 0 {
		return c.cfg.TTL
	}
	return c.cfg.ObjectType.DefaultTTL()
}

func (c *Collection) logAudit(id string, op models.Operation, d audit.Details) error {
	if !c.repo.opts.EnableAudit {
		return nil
	}
	return c.repo.audit.Log(c.components(id), op, d)
}

// Create validates data, stores it as version 1 of a fresh id, indexes the
// item, and records the create on the audit trail.
func (c *Collection) Create(data map[string]interface{}) (models.Item, error) {
	if c.cfg.Validator != nil {
		if _, err := c.cfg.Validator.Validate(data); err != nil {
			return models.Item{}, err
		}
	}
	id := utils.GenID()
	comp := c.components(id)
	n, err := c.repo.versions.GetNextVersion(comp)
	if err != nil {
		return models.Item{}, err
	}
	now := time.Now().UTC()
	ttl := c.ttl()
	item := models.Item{
		ID:        id,
		Version:   n,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
		TTL:       int64(ttl / time.Second),
	}
	if err := c.repo.versions.StoreVersion(comp, n, item, ttl); err != nil {
		return models.Item{}, err
	}
	if err := c.repo.versions.SetLatestVersion(comp, n); err != nil {
		return models.Item{}, err
	}
	if err := c.repo.index.Add(comp, id); err != nil {
		return models.Item{}, err
	}
	if err := c.logAudit(id, models.OpCreate, audit.Details{Version: n, Data: data}); err != nil {
		return models.Item{}, err
	}
	logger.Info("item_created", "collection", c.scope.Collection, "item", id)
	return item, nil
}

// Get returns the latest snapshot, or a specific version when one is given.
// A missing item or version reads as nil, not an error.
func (c *Collection) Get(id string, version ...int) (*models.Item, error) {
	comp := c.components(id)
	var item models.Item
	var err error
	if len(version) > 0 {
		item, err = c.repo.versions.GetVersion(comp, version[0])
	} else {
		item, err = c.repo.versions.GetLatest(comp)
	}
	if errors.Is(err, versions.ErrItemNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Update validates the patch, shallow-merges it over the latest snapshot,
// and stores the result as the next version. CreatedAt is carried forward
// from the existing item.
func (c *Collection) Update(id string, patch map[string]interface{}) (models.Item, error) {
	comp := c.components(id)
	current, err := c.repo.versions.GetLatest(comp)
	if err != nil {
		return models.Item{}, err
	}
	if c.cfg.Validator != nil {
		if _, err := c.cfg.Validator.ValidatePartial(patch); err != nil {
			return models.Item{}, err
		}
	}
	merged := make(map[string]interface{}, len(current.Data)+len(patch))
	for k, v := range current.Data {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	n, err := c.repo.versions.GetNextVersion(comp)
	if err != nil {
		return models.Item{}, err
	}
	ttl := c.ttl()
	item := models.Item{
		ID:        id,
		Version:   n,
		Data:      merged,
		CreatedAt: current.CreatedAt,
		UpdatedAt: time.Now().UTC(),
		TTL:       int64(ttl / time.Second),
	}
	if err := c.repo.versions.StoreVersion(comp, n, item, ttl); err != nil {
		return models.Item{}, err
	}
	if err := c.repo.versions.SetLatestVersion(comp, n); err != nil {
		return models.Item{}, err
	}
	if err := c.logAudit(id, models.OpUpdate, audit.Details{Version: n, Data: patch}); err != nil {
		return models.Item{}, err
	}
	return item, nil
}

// Delete removes the item: every version snapshot, every materialized
// mutation and transformation result, and its index membership. The audit
// trail survives as the item's tombstone record. Returns false when the
// item did not exist.
func (c *Collection) Delete(id string) (bool, error) {
	comp := c.components(id)
	latest, err := c.repo.versions.GetLatestVersion(comp)
	if err != nil {
		return false, err
	}
	if latest == 0 {
		return false, nil
	}
	if _, err := c.repo.versions.DeleteAllVersions(comp); err != nil {
		return false, err
	}
	if _, err := c.repo.mutations.DeleteAll(comp); err != nil {
		return false, err
	}
	if _, err := c.repo.jobs.DeleteAllTransformations(comp); err != nil {
		return false, err
	}
	if err := c.repo.index.Remove(comp, id); err != nil {
		return false, err
	}
	if err := c.logAudit(id, models.OpDelete, audit.Details{Version: latest}); err != nil {
		return false, err
	}
	logger.Info("item_deleted", "collection", c.scope.Collection, "item", id)
	return true, nil
}

// List returns one page of latest snapshots, ordered by sanitized item id.
// Items whose snapshots have fully expired are skipped.
func (c *Collection) List(limit, offset int) ([]models.Item, error) {
	ids, err := c.repo.index.ItemsPaginated(c.scope, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		item, err := c.repo.versions.GetLatest(c.components(id))
		if errors.Is(err, versions.ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Count returns the number of indexed items.
func (c *Collection) Count() (int, error) {
	return c.repo.index.Size(c.scope)
}

// ListVersions enumerates every live snapshot of the item, ascending.
func (c *Collection) ListVersions(id string) ([]versions.VersionInfo, error) {
	return c.repo.versions.ListVersions(c.components(id))
}

func (c *Collection) mutation(name string) (mutations.Func, error) {
	fn, ok := c.cfg.Mutations[name]
	if !ok {
		return nil, &UnknownMutationError{Collection: c.scope.Collection, Name: name}
	}
	return fn, nil
}

// RunMutation applies a registered mutation to the latest snapshot and
// returns the result without persisting anything.
func (c *Collection) RunMutation(id, name string) (interface{}, error) {
	fn, err := c.mutation(name)
	if err != nil {
		return nil, err
	}
	result, err := c.repo.mutations.Run(c.components(id), name, fn)
	if err != nil {
		return nil, err
	}
	if err := c.logAudit(id, models.OpMutation, audit.Details{Mutation: name}); err != nil {
		return nil, err
	}
	return result, nil
}

// RunAllMutations applies every registered mutation against one snapshot
// load, collecting per-mutation results and errors.
func (c *Collection) RunAllMutations(id string) ([]models.MutationResult, error) {
	return c.repo.mutations.RunBatch(c.components(id), c.cfg.Mutations)
}

// MaterializeMutation runs a registered mutation and persists the result at
// the mutation key under the collection's TTL policy.
func (c *Collection) MaterializeMutation(id, name string) (models.MaterializedMutation, error) {
	fn, err := c.mutation(name)
	if err != nil {
		return models.MaterializedMutation{}, err
	}
	mat, err := c.repo.mutations.Materialize(c.components(id), name, fn, c.ttl())
	if err != nil {
		return models.MaterializedMutation{}, err
	}
	if err := c.logAudit(id, models.OpMutation, audit.Details{Mutation: name}); err != nil {
		return models.MaterializedMutation{}, err
	}
	return mat, nil
}

// GetMutation reads a materialized mutation result back.
func (c *Collection) GetMutation(id, name string) (models.MaterializedMutation, error) {
	return c.repo.mutations.Get(c.components(id), name)
}

// ListMutations returns the names of the mutations materialized for the
// item.
func (c *Collection) ListMutations(id string) ([]string, error) {
	return c.repo.mutations.List(c.components(id))
}

// RunTransformation enqueues a job for a registered transformation and
// returns its id immediately; execution happens on the worker pool.
func (c *Collection) RunTransformation(id, name string) (string, error) {
	if _, ok := c.cfg.Transformations[name]; !ok {
		return "", &UnknownTransformationError{Collection: c.scope.Collection, Name: name}
	}
	jobID, err := c.repo.jobs.Enqueue(c.components(id), name)
	if err != nil {
		return "", err
	}
	if err := c.logAudit(id, models.OpTransformation, audit.Details{Transformation: name}); err != nil {
		return "", err
	}
	return jobID, nil
}

// GetTransformationByName returns the persisted result of the named
// transformation for the item.
func (c *Collection) GetTransformationByName(id, name string) (models.TransformationResult, error) {
	return c.repo.jobs.GetTransformation(c.components(id), name)
}

// GetTransformation resolves a job id to its persisted result. The result
// must belong to the given job; a result overwritten by a later run of the
// same transformation reads as not-found for the older job.
func (c *Collection) GetTransformation(id, jobID string) (models.TransformationResult, error) {
	job, err := c.repo.jobs.GetJob(jobID)
	if err != nil {
		return models.TransformationResult{}, err
	}
	res, err := c.repo.jobs.GetTransformation(c.components(id), job.Transformation)
	if err != nil {
		return models.TransformationResult{}, err
	}
	if res.JobID != jobID {
		return models.TransformationResult{}, versions.ErrItemNotFound
	}
	return res, nil
}

// ListTransformations returns the names of the transformations with a
// persisted result for the item.
func (c *Collection) ListTransformations(id string) ([]string, error) {
	return c.repo.jobs.ListTransformations(c.components(id))
}

// QueueStats reports the pending depth of a transformation's queue.
func (c *Collection) QueueStats(name string) (jobs.QueueStats, error) {
	if _, ok := c.cfg.Transformations[name]; !ok {
		return jobs.QueueStats{}, &UnknownTransformationError{Collection: c.scope.Collection, Name: name}
	}
	return c.repo.jobs.Stats(c.scope, name)
}

// AuditTrail reads the item's audit entries.
func (c *Collection) AuditTrail(id string, opts audit.Options) ([]models.AuditEntry, error) {
	return c.repo.audit.Entries(c.components(id), opts)
}

// AuditStats summarizes the item's audit trail.
func (c *Collection) AuditStats(id string) (audit.Stats, error) {
	return c.repo.audit.GetStats(c.components(id))
}

// StartWorkers launches one pool per registered transformation. Idempotent
// start is not supported; call once per Collection.
func (c *Collection) StartWorkers(ctx context.Context) error {
	for name, tc := range c.cfg.Transformations {
		pool := jobs.NewPool(c.repo.jobs, c.scope, name, tc.Processor, jobs.PoolConfig{
			Workers:     tc.Workers,
			MaxRetries:  tc.MaxRetries,
			RetryDelay:  tc.RetryDelay,
			PollTimeout: tc.PollTimeout,
			ResultTTL:   tc.ResultTTL,
		})
		if err := pool.Start(ctx); err != nil {
			c.StopWorkers()
			return err
		}
		c.pools = append(c.pools, pool)
	}
	return nil
}

// StopWorkers stops every pool and waits for in-flight jobs.
func (c *Collection) StopWorkers() {
	for _, p := range c.pools {
		p.Stop()
	}
	c.pools = nil
}
