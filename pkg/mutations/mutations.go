// Package mutations implements the synchronous mutation engine: registered
// pure functions applied to the latest snapshot of a document, optionally
// materialized at a dedicated key.
package mutations

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/store"
	"stratadb/pkg/versions"
)

// Func is a registered mutation: a pure function over a document's data.
// It must not retain or modify the input map.
type Func func(data map[string]interface{}) (interface{}, error)

// ExecutionError wraps a failure inside a user-supplied mutation function.
type ExecutionError struct {
	Mutation string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("mutation %q failed: %v", e.Mutation, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// mutationNameRe extracts the trailing name segment from a mutation key.
var mutationNameRe = regexp.MustCompile(`:mutation:([A-Za-z0-9_-]+)$`)

// Engine runs mutations against the version store.
type Engine struct {
	kv       *store.Store
	versions *versions.Store
}

// New returns a mutation engine over kv.
func New(kv *store.Store, vs *versions.Store) *Engine {
	return &Engine{kv: kv, versions: vs}
}

// Run loads the latest snapshot and applies fn. It never writes; returns
// versions.ErrItemNotFound when the item is absent, or an ExecutionError
// when fn fails or panics.
func (e *Engine) Run(c keys.Components, name string, fn Func) (interface{}, error) {
	item, err := e.versions.GetLatest(c)
	if err != nil {
		return nil, err
	}
	return apply(name, fn, item.Data)
}

// apply invokes a mutation function, converting errors and panics into a
// typed ExecutionError. Mutation functions are user code.
func apply(name string, fn Func, data map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{Mutation: name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	result, ferr := fn(data)
	if ferr != nil {
		return nil, &ExecutionError{Mutation: name, Err: ferr}
	}
	return result, nil
}

// RunBatch loads the document once and applies every function, collecting a
// result or error per mutation. One failing mutation never aborts the rest.
// Results are ordered by mutation name for determinism.
func (e *Engine) RunBatch(c keys.Components, fns map[string]Func) ([]models.MutationResult, error) {
	item, err := e.versions.GetLatest(c)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fns))
	for n := range fns {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]models.MutationResult, 0, len(names))
	for _, n := range names {
		res, err := apply(n, fns[n], item.Data)
		if err != nil {
			out = append(out, models.MutationResult{Name: n, Error: err.Error()})
			continue
		}
		out = append(out, models.MutationResult{Name: n, Result: res})
	}
	return out, nil
}

// Materialize runs the mutation and persists the result at the mutation
// key, optionally with a TTL.
func (e *Engine) Materialize(c keys.Components, name string, fn Func, ttl time.Duration) (models.MaterializedMutation, error) {
	result, err := e.Run(c, name, fn)
	if err != nil {
		return models.MaterializedMutation{}, err
	}
	mat := models.MaterializedMutation{
		ID:         c.ID,
		Mutation:   name,
		Result:     result,
		ExecutedAt: time.Now().UTC(),
	}
	key, err := keys.Mutation(c, name)
	if err != nil {
		return models.MaterializedMutation{}, err
	}
	b, err := json.Marshal(mat)
	if err != nil {
		return models.MaterializedMutation{}, fmt.Errorf("failed to marshal mutation result: %w", err)
	}
	if err := e.kv.Set(key, b, ttl); err != nil {
		return models.MaterializedMutation{}, err
	}
	logger.Debug("mutation_materialized", "key", key)
	return mat, nil
}

// Get reads a materialized mutation back, or versions.ErrItemNotFound when
// none is stored (or it has expired).
func (e *Engine) Get(c keys.Components, name string) (models.MaterializedMutation, error) {
	key, err := keys.Mutation(c, name)
	if err != nil {
		return models.MaterializedMutation{}, err
	}
	v, err := e.kv.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return models.MaterializedMutation{}, versions.ErrItemNotFound
	}
	if err != nil {
		return models.MaterializedMutation{}, err
	}
	var mat models.MaterializedMutation
	if err := json.Unmarshal(v, &mat); err != nil {
		return models.MaterializedMutation{}, fmt.Errorf("corrupt mutation result at %s: %w", key, err)
	}
	return mat, nil
}

// List returns the names of the mutations materialized for an item, by
// scanning the item's mutation keys and extracting the trailing segment.
func (e *Engine) List(c keys.Components) ([]string, error) {
	base, err := keys.Base(c)
	if err != nil {
		return nil, err
	}
	found, err := e.kv.ScanKeys(base + ":mutation:")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(found))
	for _, k := range found {
		if m := mutationNameRe.FindStringSubmatch(k); m != nil {
			names = append(names, m[1])
		}
	}
	return names, nil
}

// DeleteAll bulk-removes every materialized mutation for the item and
// returns the count removed.
func (e *Engine) DeleteAll(c keys.Components) (int, error) {
	base, err := keys.Base(c)
	if err != nil {
		return 0, err
	}
	found, err := e.kv.ScanKeys(base + ":mutation:")
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, k := range found {
		ok, err := e.kv.Delete(k)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
