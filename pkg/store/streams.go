package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// Streams are append-only ordered logs: a metadata key "x!<key>" holds the
// last sequence number and entries live at "x!<key>!<020d seq>". Entries are
// never rewritten; XTrim deletes from the oldest end only.

// StreamEntry is one element of a stream. ID is "<unix-ms>-<seq>" and is
// strictly increasing within a stream.
type StreamEntry struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func streamMetaKey(key string) []byte {
	return []byte(nsStream + key)
}

func streamEntryKey(key string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s!%020d", nsStream, key, seq))
}

func streamPrefix(key string) []byte {
	return []byte(nsStream + key + "!")
}

// XAdd appends data to the stream at key and returns the new entry id.
func (s *Store) XAdd(key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}
	var lastSeq uint64
	if v, closer, err := s.db.Get(streamMetaKey(key)); err == nil {
		lastSeq = binary.BigEndian.Uint64(v)
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return "", err
	}
	seq := lastSeq + 1
	id := fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq)
	entry, err := json.Marshal(StreamEntry{ID: id, Data: data})
	if err != nil {
		return "", err
	}
	if err := s.db.Set(streamEntryKey(key, seq), entry, pebble.Sync); err != nil {
		return "", err
	}
	meta := make([]byte, 8)
	binary.BigEndian.PutUint64(meta, seq)
	if err := s.db.Set(streamMetaKey(key), meta, pebble.Sync); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) streamEntriesLocked(key string) ([]StreamEntry, error) {
	pfx := streamPrefix(key)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []StreamEntry
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		var e StreamEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("corrupt stream entry at %q: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// XRange returns up to count entries from the stream at key in append
// order; count <= 0 returns everything. An absent stream reads as empty.
func (s *Store) XRange(key string, count int) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries, err := s.streamEntriesLocked(key)
	if err != nil {
		return nil, err
	}
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

// XRevRange returns up to count entries in reverse append order.
func (s *Store) XRevRange(key string, count int) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries, err := s.streamEntriesLocked(key)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if count > 0 && len(entries) > count {
		entries = entries[:count]
	}
	return entries, nil
}

// XLen returns the number of entries currently in the stream at key.
func (s *Store) XLen(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return 0, err
	}
	entries, err := s.streamEntriesLocked(key)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// XTrim drops the oldest entries so that at most maxLen remain. Retention is
// approximate from the caller's perspective: entries appended concurrently
// with the trim may push the length back above maxLen.
func (s *Store) XTrim(key string, maxLen int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return 0, err
	}
	if maxLen < 0 {
		maxLen = 0
	}
	pfx := streamPrefix(key)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	var entryKeys [][]byte
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		entryKeys = append(entryKeys, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	excess := len(entryKeys) - maxLen
	if excess <= 0 {
		return 0, nil
	}
	for _, k := range entryKeys[:excess] {
		if err := s.db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	return excess, nil
}
