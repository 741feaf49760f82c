// Package repo is the repository facade: it composes the version store,
// mutation engine, worker subsystem, audit log, and collection index into a
// per-collection API, enforcing validation and TTL policy before delegating.
package repo

import (
	"fmt"
	"time"

	"stratadb/pkg/audit"
	"stratadb/pkg/index"
	"stratadb/pkg/jobs"
	"stratadb/pkg/models"
	"stratadb/pkg/mutations"
	"stratadb/pkg/store"
	"stratadb/pkg/validation"
	"stratadb/pkg/versions"
)

// ObjectType classifies a collection's documents for the TTL policy.
type ObjectType string

const (
	ObjectConfig   ObjectType = "config"
	ObjectSettings ObjectType = "settings"
	ObjectState    ObjectType = "state"
	ObjectContent  ObjectType = "content"
)

// DefaultTTL is the policy default per class: long-lived config and
// immutable content never expire, settings live 30 days, ephemeral state
// lives one hour. A collection-level TTL overrides this.
func (t ObjectType) DefaultTTL() time.Duration {
	switch t {
	case ObjectSettings:
		return 30 * 24 * time.Hour
	case ObjectState:
		return time.Hour
	default:
		return 0
	}
}

// TransformationConfig registers one named async computation for a
// collection and sizes its worker pool.
type TransformationConfig struct {
	Processor   jobs.Processor
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	PollTimeout time.Duration
	ResultTTL   time.Duration
}

// CollectionConfig is the per-collection capability table: document class,
// optional TTL override, validator, and the mutation/transformation
// registries. Names absent from a registry are configuration errors surfaced
// at call time.
type CollectionConfig struct {
	ObjectType      ObjectType
	TTL             time.Duration
	Validator       *validation.Validator
	Mutations       map[string]mutations.Func
	Transformations map[string]TransformationConfig
}

// Options configures a Repo.
type Options struct {
	EnableAudit bool
}

// Repo owns the shared subsystems. Construct once per process around an
// opened store and derive Collections from it.
type Repo struct {
	kv        *store.Store
	versions  *versions.Store
	mutations *mutations.Engine
	jobs      *jobs.Manager
	audit     *audit.Logger
	index     *index.Index
	opts      Options
}

// New builds a repository over an opened store.
func New(kv *store.Store, opts Options) *Repo {
	vs := versions.New(kv)
	return &Repo{
		kv:        kv,
		versions:  vs,
		mutations: mutations.New(kv, vs),
		jobs:      jobs.NewManager(kv, vs),
		audit:     audit.NewLogger(kv),
		index:     index.New(kv),
		opts:      opts,
	}
}

// GetJob returns the lifecycle record for any job id, regardless of
// collection.
func (r *Repo) GetJob(jobID string) (models.Job, error) {
	return r.jobs.GetJob(jobID)
}

// Index exposes the collection index for cross-collection set algebra.
func (r *Repo) Index() *index.Index { return r.index }

// Versions exposes the version store for retention maintenance.
func (r *Repo) Versions() *versions.Store { return r.versions }

// Audit exposes the audit logger for retention maintenance and export.
func (r *Repo) Audit() *audit.Logger { return r.audit }

// UnknownMutationError reports a mutation name missing from the collection's
// registry.
type UnknownMutationError struct {
	Collection string
	Name       string
}

func (e *UnknownMutationError) Error() string {
	return fmt.Sprintf("collection %q has no mutation %q", e.Collection, e.Name)
}

// UnknownTransformationError reports a transformation name missing from the
// collection's registry.
type UnknownTransformationError struct {
	Collection string
	Name       string
}

func (e *UnknownTransformationError) Error() string {
	return fmt.Sprintf("collection %q has no transformation %q", e.Collection, e.Name)
}
