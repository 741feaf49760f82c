package store

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/pebble"
)

// Sets are stored one member per physical key under "s!<key>!<member>".
// Members must be sanitized key components, so the '!' separator cannot
// appear inside a member. All set operations are idempotent.

func setMemberKey(key, member string) []byte {
	return []byte(nsSet + key + "!" + member)
}

func setPrefix(key string) []byte {
	return []byte(nsSet + key + "!")
}

// SAdd adds member to the set at key.
func (s *Store) SAdd(key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Set(setMemberKey(key, member), []byte{1}, pebble.Sync)
}

// SRem removes member from the set at key.
func (s *Store) SRem(key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.Delete(setMemberKey(key, member), pebble.Sync)
}

// SIsMember reports whether member is in the set at key.
func (s *Store) SIsMember(key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return false, err
	}
	_, closer, err := s.db.Get(setMemberKey(key, member))
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// SMembers returns every member of the set at key, in lexical order. An
// absent set reads as empty.
func (s *Store) SMembers(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.smembersLocked(key)
}

func (s *Store) smembersLocked(key string) ([]string, error) {
	pfx := setPrefix(key)
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
		out = append(out, string(iter.Key()[len(pfx):]))
	}
	return out, iter.Error()
}

// SCard returns the cardinality of the set at key.
func (s *Store) SCard(key string) (int, error) {
	members, err := s.SMembers(key)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// SInter returns the members present in every given set, sorted.
func (s *Store) SInter(keys ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	counts := map[string]int{}
	for _, k := range keys {
		members, err := s.smembersLocked(k)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			counts[m]++
		}
	}
	var out []string
	for m, n := range counts {
		if n == len(keys) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SUnion returns the members present in any given set, sorted.
func (s *Store) SUnion(keys ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	for _, k := range keys {
		members, err := s.smembersLocked(k)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// SDiff returns the members of the first set not present in any of the
// remaining sets, sorted.
func (s *Store) SDiff(keys ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	first, err := s.smembersLocked(keys[0])
	if err != nil {
		return nil, err
	}
	exclude := map[string]struct{}{}
	for _, k := range keys[1:] {
		members, err := s.smembersLocked(k)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			exclude[m] = struct{}{}
		}
	}
	var out []string
	for _, m := range first {
		if _, skip := exclude[m]; !skip {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}
