// Package store implements the backing store consumed by the versioned
// document subsystems: string get/set with optional expiry, membership sets,
// FIFO lists with a bounded blocking pop, append-only streams, and prefix
// scans, all on a single Pebble database.
//
// Every operation is serialized internally (single-threaded per command,
// many concurrent callers). Individual operations are atomic; composing
// several operations is not.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"stratadb/pkg/logger"
)

// ErrNotFound is returned when a key does not exist or its value has
// expired.
var ErrNotFound = errors.New("store: key not found")

// Physical namespaces. Logical keys never contain '!', so the namespaces
// cannot collide.
const (
	nsString = "k!"
	nsSet    = "s!"
	nsList   = "l!"
	nsStream = "x!"
)

// Store is an opened backing store. Construct with Open and pass by
// reference into every component; close at process shutdown.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	logger.Info("opening_store", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("store_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("store_opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the store. The handle must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	logger.Info("store_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

func (s *Store) ready() error {
	if s.db == nil {
		return fmt.Errorf("store not opened; call store.Open first")
	}
	return nil
}

// Set stores value under key. A positive ttl expires the value that many
// seconds after the write; zero means no expiry.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Set([]byte(nsString+key), envelope(value, ttl), pebble.Sync)
}

// Get returns the value stored under key. Expired values read as not-found
// and are deleted lazily.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) ([]byte, error) {
	pk := []byte(nsString + key)
	v, closer, err := s.db.Get(pk)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	payload, expiresAt := openEnvelope(v)
	if expired(expiresAt) {
		// lazy delete; the slot is gone for readers either way
		_ = s.db.Delete(pk, pebble.Sync)
		return nil, ErrNotFound
	}
	out := append([]byte(nil), payload...)
	return out, nil
}

// Exists reports whether key holds a live (non-expired) value.
func (s *Store) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key. Deleting an absent key is not an error; the bool
// reports whether a live value was removed.
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return false, err
	}
	_, err := s.getLocked(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, s.db.Delete([]byte(nsString+key), pebble.Sync)
}

// TTL returns the remaining time-to-live in seconds for key: -1 when the
// value has no expiry, ErrNotFound when the key is absent or expired.
func (s *Store) TTL(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return 0, err
	}
	pk := []byte(nsString + key)
	v, closer, err := s.db.Get(pk)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	defer closer.Close()
	_, expiresAt := openEnvelope(v)
	if expiresAt == 0 {
		return -1, nil
	}
	remaining := time.Until(time.Unix(0, expiresAt))
	if remaining <= 0 {
		_ = s.db.Delete(pk, pebble.Sync)
		return 0, ErrNotFound
	}
	secs := int64(remaining / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs, nil
}

// ScanKeys returns the logical string keys starting with prefix, in lexical
// order, skipping expired values.
func (s *Store) ScanKeys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	pfx := []byte(nsString + prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		_, expiresAt := openEnvelope(iter.Value())
		if expired(expiresAt) {
			continue
		}
		out = append(out, string(iter.Key()[len(nsString):]))
	}
	return out, iter.Error()
}

// envelope prefixes the payload with an 8-byte big-endian expiry timestamp
// (unix nanos, zero = no expiry).
func envelope(payload []byte, ttl time.Duration) []byte {
	out := make([]byte, 8+len(payload))
	if ttl > 0 {
		binary.BigEndian.PutUint64(out, uint64(time.Now().Add(ttl).UnixNano()))
	}
	copy(out[8:], payload)
	return out
}

func openEnvelope(v []byte) (payload []byte, expiresAt int64) {
	if len(v) < 8 {
		return v, 0
	}
	return v[8:], int64(binary.BigEndian.Uint64(v))
}

func expired(expiresAt int64) bool {
	return expiresAt != 0 && time.Now().UnixNano() >= expiresAt
}
