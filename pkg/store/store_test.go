package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.Set("a:b:c:d", []byte(`{"x":1}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get("a:b:c:d")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != `{"x":1}` {
		t.Fatalf("Get = %q", v)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s := openTestStore(t)
	if err := s.Set("ephemeral", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, _ := s.Exists("ephemeral"); !ok {
		t.Fatalf("value should be live before expiry")
	}
	ttl, err := s.TTL("ephemeral")
	if err != nil || ttl < 1 {
		t.Fatalf("TTL = %d, %v", ttl, err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := s.Get("ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := s.TTL("ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("TTL after expiry: %v", err)
	}

	if err := s.Set("forever", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl, err := s.TTL("forever"); err != nil || ttl != -1 {
		t.Fatalf("TTL(forever) = %d, %v; want -1", ttl, err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	_ = s.Set("k", []byte("v"), 0)
	ok, err := s.Delete("k")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = s.Delete("k")
	if err != nil || ok {
		t.Fatalf("second Delete = %v, %v; want false", ok, err)
	}
}

func TestScanKeys(t *testing.T) {
	s := openTestStore(t)
	for _, k := range []string{"d:a:c:1:version:1", "d:a:c:1:version:2", "d:a:c:2:version:1", "other"} {
		_ = s.Set(k, []byte("v"), 0)
	}
	got, err := s.ScanKeys("d:a:c:1:version:")
	if err != nil {
		t.Fatalf("ScanKeys: %v", err)
	}
	if len(got) != 2 || got[0] != "d:a:c:1:version:1" || got[1] != "d:a:c:1:version:2" {
		t.Fatalf("ScanKeys = %v", got)
	}
}

func TestSetOperations(t *testing.T) {
	s := openTestStore(t)
	key := "idx:d:a:c"
	for _, m := range []string{"x", "y", "x"} { // duplicate add is idempotent
		if err := s.SAdd(key, m); err != nil {
			t.Fatalf("SAdd: %v", err)
		}
	}
	if n, _ := s.SCard(key); n != 2 {
		t.Fatalf("SCard = %d; want 2", n)
	}
	if ok, _ := s.SIsMember(key, "x"); !ok {
		t.Fatalf("x should be a member")
	}
	if err := s.SRem(key, "x"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	if ok, _ := s.SIsMember(key, "x"); ok {
		t.Fatalf("x should have been removed")
	}
	members, _ := s.SMembers(key)
	if len(members) != 1 || members[0] != "y" {
		t.Fatalf("SMembers = %v", members)
	}
}

func TestSetAlgebra(t *testing.T) {
	s := openTestStore(t)
	for _, m := range []string{"a", "b", "c"} {
		_ = s.SAdd("s1", m)
	}
	for _, m := range []string{"b", "c", "d"} {
		_ = s.SAdd("s2", m)
	}
	inter, _ := s.SInter("s1", "s2")
	if len(inter) != 2 || inter[0] != "b" || inter[1] != "c" {
		t.Fatalf("SInter = %v", inter)
	}
	union, _ := s.SUnion("s1", "s2")
	if len(union) != 4 {
		t.Fatalf("SUnion = %v", union)
	}
	diff, _ := s.SDiff("s1", "s2")
	if len(diff) != 1 || diff[0] != "a" {
		t.Fatalf("SDiff = %v", diff)
	}
}

func TestListFIFO(t *testing.T) {
	s := openTestStore(t)
	key := "queue:jobs:d:a:c:t"
	for _, v := range []string{"j1", "j2", "j3"} {
		if err := s.LPush(key, []byte(v)); err != nil {
			t.Fatalf("LPush: %v", err)
		}
	}
	if n, _ := s.LLen(key); n != 3 {
		t.Fatalf("LLen = %d", n)
	}
	rng, _ := s.LRange(key, 0, -1)
	if len(rng) != 3 || string(rng[0]) != "j1" {
		t.Fatalf("LRange = %v", rng)
	}
	for _, want := range []string{"j1", "j2", "j3"} {
		v, err := s.RPop(key)
		if err != nil {
			t.Fatalf("RPop: %v", err)
		}
		if string(v) != want {
			t.Fatalf("RPop = %q; want %q", v, want)
		}
	}
	if _, err := s.RPop(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RPop on empty: %v", err)
	}
	if n, _ := s.LLen(key); n != 0 {
		t.Fatalf("LLen after drain = %d", n)
	}
}

func TestBRPop(t *testing.T) {
	s := openTestStore(t)
	key := "q"

	// empty list times out with ErrNotFound
	start := time.Now()
	if _, err := s.BRPop(context.Background(), key, 60*time.Millisecond); !errors.Is(err, ErrNotFound) {
		t.Fatalf("BRPop on empty: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("BRPop returned before the timeout")
	}

	// a push made while blocked is observed
	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = s.LPush(key, []byte("late"))
	}()
	v, err := s.BRPop(context.Background(), key, time.Second)
	if err != nil {
		t.Fatalf("BRPop: %v", err)
	}
	if string(v) != "late" {
		t.Fatalf("BRPop = %q", v)
	}

	// cancellation unblocks
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	if _, err := s.BRPop(ctx, key, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("BRPop after cancel: %v", err)
	}
}

func TestStreamAppendOrder(t *testing.T) {
	s := openTestStore(t)
	key := "stream:audit:d:a:c:i"
	var ids []string
	for _, v := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		id, err := s.XAdd(key, []byte(v))
		if err != nil {
			t.Fatalf("XAdd: %v", err)
		}
		ids = append(ids, id)
	}
	entries, err := s.XRange(key, 0)
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("XRange len = %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != ids[i] {
			t.Fatalf("entry %d id %q; want %q", i, e.ID, ids[i])
		}
	}
	rev, _ := s.XRevRange(key, 1)
	if len(rev) != 1 || rev[0].ID != ids[2] {
		t.Fatalf("XRevRange = %+v", rev)
	}
	if n, _ := s.XLen(key); n != 3 {
		t.Fatalf("XLen = %d", n)
	}
}

func TestStreamTrim(t *testing.T) {
	s := openTestStore(t)
	key := "st"
	for i := 0; i < 5; i++ {
		if _, err := s.XAdd(key, []byte(`{}`)); err != nil {
			t.Fatalf("XAdd: %v", err)
		}
	}
	removed, err := s.XTrim(key, 2)
	if err != nil {
		t.Fatalf("XTrim: %v", err)
	}
	if removed != 3 {
		t.Fatalf("XTrim removed %d; want 3", removed)
	}
	if n, _ := s.XLen(key); n != 2 {
		t.Fatalf("XLen after trim = %d", n)
	}
	// trimming below the current length again is a no-op
	if removed, _ := s.XTrim(key, 10); removed != 0 {
		t.Fatalf("second XTrim removed %d", removed)
	}
}

func TestEmptyStreamReadsAsEmpty(t *testing.T) {
	s := openTestStore(t)
	entries, err := s.XRange("never-written", 0)
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty stream, got %d entries", len(entries))
	}
}
