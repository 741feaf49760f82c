// Package index maintains the per-collection membership set used for
// listing, pagination, and cross-collection set algebra.
package index

import (
	"sort"

	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/store"
)

// Index tracks which item ids belong to a collection. Membership follows the
// item lifecycle: added on create, removed on delete. Members are sanitized
// ids, so ordering is plain lexical order.
type Index struct {
	kv *store.Store
}

// New returns an index over kv.
func New(kv *store.Store) *Index {
	return &Index{kv: kv}
}

// Add records id as a member of the collection. Idempotent.
func (ix *Index) Add(c keys.Components, id string) error {
	key, err := keys.Index(c)
	if err != nil {
		return err
	}
	return ix.kv.SAdd(key, keys.Sanitize(id))
}

// Remove drops id from the collection. Removing an absent member is a no-op.
func (ix *Index) Remove(c keys.Components, id string) error {
	key, err := keys.Index(c)
	if err != nil {
		return err
	}
	return ix.kv.SRem(key, keys.Sanitize(id))
}

// Exists reports whether id is indexed in the collection.
func (ix *Index) Exists(c keys.Components, id string) (bool, error) {
	key, err := keys.Index(c)
	if err != nil {
		return false, err
	}
	return ix.kv.SIsMember(key, keys.Sanitize(id))
}

// Size returns the number of indexed items.
func (ix *Index) Size(c keys.Components) (int, error) {
	key, err := keys.Index(c)
	if err != nil {
		return 0, err
	}
	return ix.kv.SCard(key)
}

// Items returns every indexed id in lexical order.
func (ix *Index) Items(c keys.Components) ([]string, error) {
	key, err := keys.Index(c)
	if err != nil {
		return nil, err
	}
	return ix.kv.SMembers(key)
}

// ItemsPaginated returns one lexical page of indexed ids. The full set is
// fetched and sliced; collections are expected to stay small enough for that.
func (ix *Index) ItemsPaginated(c keys.Components, limit, offset int) ([]string, error) {
	all, err := ix.Items(c)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func indexKeys(cs []keys.Components) ([]string, error) {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		k, err := keys.Index(c)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// Intersection returns the ids indexed in every given collection, sorted.
func (ix *Index) Intersection(cs ...keys.Components) ([]string, error) {
	ks, err := indexKeys(cs)
	if err != nil {
		return nil, err
	}
	return ix.kv.SInter(ks...)
}

// Union returns the ids indexed in any of the given collections, sorted.
func (ix *Index) Union(cs ...keys.Components) ([]string, error) {
	ks, err := indexKeys(cs)
	if err != nil {
		return nil, err
	}
	return ix.kv.SUnion(ks...)
}

// Difference returns the ids indexed in the first collection and none of the
// rest, sorted.
func (ix *Index) Difference(cs ...keys.Components) ([]string, error) {
	ks, err := indexKeys(cs)
	if err != nil {
		return nil, err
	}
	return ix.kv.SDiff(ks...)
}

// Rebuild reconstructs the index from the version snapshots actually on
// disk: the set is cleared and repopulated with every id that has at least
// one live version. Recovers an index that drifted from the data, for
// example after a partial delete.
func (ix *Index) Rebuild(c keys.Components) (int, error) {
	key, err := keys.Index(c)
	if err != nil {
		return 0, err
	}
	members, err := ix.kv.SMembers(key)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if err := ix.kv.SRem(key, m); err != nil {
			return 0, err
		}
	}

	prefix := keys.Sanitize(c.Domain) + ":" + keys.Sanitize(c.App) + ":" + keys.Sanitize(c.Collection) + ":"
	found, err := ix.kv.ScanKeys(prefix)
	if err != nil {
		return 0, err
	}
	ids := map[string]struct{}{}
	for _, k := range found {
		p, err := keys.Parse(k)
		if err != nil || p.Kind != keys.KindVersion {
			continue
		}
		ids[p.Components.ID] = struct{}{}
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	for _, id := range sorted {
		if err := ix.kv.SAdd(key, id); err != nil {
			return 0, err
		}
	}
	logger.Info("index_rebuilt", "collection", c.Collection, "items", len(sorted))
	return len(sorted), nil
}
