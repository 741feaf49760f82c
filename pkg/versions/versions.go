// Package versions implements the version store: every write of a document
// is an immutable, numbered snapshot, with a latest-version pointer per item.
package versions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"stratadb/pkg/keys"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/store"
)

// ErrItemNotFound is returned when an operation targets an id or version
// that does not exist (or whose snapshot has expired).
var ErrItemNotFound = errors.New("versions: item not found")

// ErrVersionExists is returned by StoreVersion when the version key is
// already occupied. Version numbers are append-only; a slot is never
// rewritten.
var ErrVersionExists = errors.New("versions: version already stored")

// VersionInfo annotates a snapshot with its remaining TTL in seconds
// (-1 when the snapshot has no expiry).
type VersionInfo struct {
	Version    int         `json:"version"`
	Item       models.Item `json:"item"`
	TTLSeconds int64       `json:"ttl_seconds"`
}

// Store reads and writes version snapshots through the backing store.
type Store struct {
	kv *store.Store
}

// New returns a version store backed by kv.
func New(kv *store.Store) *Store {
	return &Store{kv: kv}
}

// GetLatestVersion returns the current version number for the item, or 0
// when the item has no versions.
func (s *Store) GetLatestVersion(c keys.Components) (int, error) {
	key, err := keys.Latest(c)
	if err != nil {
		return 0, err
	}
	v, err := s.kv.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(v))
	if err != nil {
		return 0, fmt.Errorf("corrupt latest pointer at %s: %w", key, err)
	}
	return n, nil
}

// SetLatestVersion sets the latest-version pointer for the item.
func (s *Store) SetLatestVersion(c keys.Components, n int) error {
	key, err := keys.Latest(c)
	if err != nil {
		return err
	}
	return s.kv.Set(key, []byte(strconv.Itoa(n)), 0)
}

// GetNextVersion returns latest+1, or 1 when the item has no versions.
// There is no cross-operation atomicity between GetNextVersion and
// StoreVersion: two concurrent writers can obtain the same number. Callers
// needing strict single-writer semantics must serialize externally.
func (s *Store) GetNextVersion(c keys.Components) (int, error) {
	latest, err := s.GetLatestVersion(c)
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}

// StoreVersion persists item as version n. It refuses to overwrite an
// occupied version slot, which narrows (but does not close) the concurrent
// writer race: the existence check and the write are separate store
// commands.
func (s *Store) StoreVersion(c keys.Components, n int, item models.Item, ttl time.Duration) error {
	key, err := keys.Version(c, n)
	if err != nil {
		return err
	}
	exists, err := s.kv.Exists(key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrVersionExists, key)
	}
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	if err := s.kv.Set(key, b, ttl); err != nil {
		return err
	}
	logger.Debug("version_stored", "key", key, "version", n)
	return nil
}

// GetVersion returns version n of the item, or ErrItemNotFound when the
// slot is empty or expired.
func (s *Store) GetVersion(c keys.Components, n int) (models.Item, error) {
	key, err := keys.Version(c, n)
	if err != nil {
		return models.Item{}, err
	}
	v, err := s.kv.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return models.Item{}, ErrItemNotFound
	}
	if err != nil {
		return models.Item{}, err
	}
	var item models.Item
	if err := json.Unmarshal(v, &item); err != nil {
		return models.Item{}, fmt.Errorf("corrupt snapshot at %s: %w", key, err)
	}
	return item, nil
}

// GetLatest returns the snapshot the latest pointer refers to.
func (s *Store) GetLatest(c keys.Components) (models.Item, error) {
	latest, err := s.GetLatestVersion(c)
	if err != nil {
		return models.Item{}, err
	}
	if latest == 0 {
		return models.Item{}, ErrItemNotFound
	}
	return s.GetVersion(c, latest)
}

// versionNumbers returns the live version numbers for an item, ascending.
func (s *Store) versionNumbers(c keys.Components) ([]int, error) {
	base, err := keys.Base(c)
	if err != nil {
		return nil, err
	}
	found, err := s.kv.ScanKeys(base + ":version:")
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(found))
	for _, k := range found {
		p, err := keys.Parse(k)
		if err != nil || p.Kind != keys.KindVersion {
			continue
		}
		nums = append(nums, p.Version)
	}
	sort.Ints(nums)
	return nums, nil
}

// ListVersions enumerates every live snapshot of the item, ascending by
// version, each annotated with its remaining TTL.
func (s *Store) ListVersions(c keys.Components) ([]VersionInfo, error) {
	nums, err := s.versionNumbers(c)
	if err != nil {
		return nil, err
	}
	out := make([]VersionInfo, 0, len(nums))
	for _, n := range nums {
		item, err := s.GetVersion(c, n)
		if errors.Is(err, ErrItemNotFound) {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}
		key, _ := keys.Version(c, n)
		ttl, err := s.kv.TTL(key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, VersionInfo{Version: n, Item: item, TTLSeconds: ttl})
	}
	return out, nil
}

// DeleteVersion removes a single snapshot. The slot is not reused.
func (s *Store) DeleteVersion(c keys.Components, n int) error {
	key, err := keys.Version(c, n)
	if err != nil {
		return err
	}
	_, err = s.kv.Delete(key)
	return err
}

// DeleteAllVersions removes every snapshot and clears the latest pointer.
// It returns the number of snapshots deleted.
func (s *Store) DeleteAllVersions(c keys.Components) (int, error) {
	nums, err := s.versionNumbers(c)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, n := range nums {
		key, _ := keys.Version(c, n)
		ok, err := s.kv.Delete(key)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	latestKey, err := keys.Latest(c)
	if err != nil {
		return deleted, err
	}
	if _, err := s.kv.Delete(latestKey); err != nil {
		return deleted, err
	}
	logger.Debug("versions_deleted", "item", c.ID, "count", deleted)
	return deleted, nil
}

// CleanupOldVersions deletes the oldest snapshots beyond the retention
// count and returns how many were removed. The latest pointer is untouched.
func (s *Store) CleanupOldVersions(c keys.Components, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}
	nums, err := s.versionNumbers(c)
	if err != nil {
		return 0, err
	}
	if len(nums) <= keep {
		return 0, nil
	}
	deleted := 0
	for _, n := range nums[:len(nums)-keep] {
		if err := s.DeleteVersion(c, n); err != nil {
			return deleted, err
		}
		deleted++
	}
	logger.Info("old_versions_cleaned", "item", c.ID, "deleted", deleted, "keep", keep)
	return deleted, nil
}
