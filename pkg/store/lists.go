package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// Lists are FIFO queues: a metadata key "l!<key>" holds head/tail counters
// and entries live at "l!<key>!<020d seq>". LPush appends at the tail; RPop
// removes from the head.

// brpopPollInterval bounds how often a blocked BRPop rechecks the list. The
// worker loop's responsiveness to its stop signal depends on this staying
// small.
const brpopPollInterval = 25 * time.Millisecond

func listMetaKey(key string) []byte {
	return []byte(nsList + key)
}

func listEntryKey(key string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s!%020d", nsList, key, seq))
}

func (s *Store) listBounds(key string) (head, tail uint64, err error) {
	v, closer, err := s.db.Get(listMetaKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	defer closer.Close()
	if len(v) != 16 {
		return 0, 0, fmt.Errorf("corrupt list metadata for %q", key)
	}
	return binary.BigEndian.Uint64(v), binary.BigEndian.Uint64(v[8:]), nil
}

func (s *Store) setListBounds(key string, head, tail uint64) error {
	if head == tail {
		return s.db.Delete(listMetaKey(key), pebble.Sync)
	}
	v := make([]byte, 16)
	binary.BigEndian.PutUint64(v, head)
	binary.BigEndian.PutUint64(v[8:], tail)
	return s.db.Set(listMetaKey(key), v, pebble.Sync)
}

// LPush appends value to the tail of the list at key.
func (s *Store) LPush(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	head, tail, err := s.listBounds(key)
	if err != nil {
		return err
	}
	if err := s.db.Set(listEntryKey(key, tail), value, pebble.Sync); err != nil {
		return err
	}
	return s.setListBounds(key, head, tail+1)
}

// RPop removes and returns the head of the list at key, or ErrNotFound when
// the list is empty.
func (s *Store) RPop(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	head, tail, err := s.listBounds(key)
	if err != nil {
		return nil, err
	}
	if head == tail {
		return nil, ErrNotFound
	}
	ek := listEntryKey(key, head)
	v, closer, err := s.db.Get(ek)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	if err := s.db.Delete(ek, pebble.Sync); err != nil {
		return nil, err
	}
	return out, s.setListBounds(key, head+1, tail)
}

// BRPop blocks until an element can be popped from the list at key, the
// timeout elapses, or ctx is cancelled. Pebble has no blocking primitive, so
// the wait is a bounded poll; an empty list after the timeout returns
// ErrNotFound.
func (s *Store) BRPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		v, err := s.RPop(key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrNotFound
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(brpopPollInterval):
		}
	}
}

// LLen returns the number of elements in the list at key.
func (s *Store) LLen(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return 0, err
	}
	head, tail, err := s.listBounds(key)
	if err != nil {
		return 0, err
	}
	return int(tail - head), nil
}

// LRange returns the elements at positions [start, stop] counted from the
// head (stop inclusive, -1 meaning the last element).
func (s *Store) LRange(key string, start, stop int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	head, tail, err := s.listBounds(key)
	if err != nil {
		return nil, err
	}
	n := int(tail - head)
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}
	var out [][]byte
	for i := start; i <= stop; i++ {
		v, closer, err := s.db.Get(listEntryKey(key, head+uint64(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, append([]byte(nil), v...))
		closer.Close()
	}
	return out, nil
}
