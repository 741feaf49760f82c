package index

import (
	"reflect"
	"testing"
	"time"

	"stratadb/pkg/keys"
	"stratadb/pkg/models"
	"stratadb/pkg/store"
	"stratadb/pkg/versions"
)

func testIndex(t *testing.T) (*Index, *store.Store) {
	t.Helper()
	kv, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv), kv
}

func coll(name string) keys.Components {
	return keys.Components{Domain: "acme", App: "docs", Collection: name}
}

func TestMembershipLifecycle(t *testing.T) {
	ix, _ := testIndex(t)
	c := coll("articles")

	if err := ix.Add(c, "a1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Add(c, "a1"); err != nil {
		t.Fatalf("Add twice: %v", err)
	}
	ok, err := ix.Exists(c, "a1")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if n, _ := ix.Size(c); n != 1 {
		t.Fatalf("Size = %d; want 1", n)
	}
	if err := ix.Remove(c, "a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := ix.Exists(c, "a1"); ok {
		t.Fatalf("member survived removal")
	}
	// removing again is a no-op
	if err := ix.Remove(c, "a1"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
}

func TestItemsPaginated(t *testing.T) {
	ix, _ := testIndex(t)
	c := coll("articles")
	for _, id := range []string{"c3", "a1", "b2", "d4", "e5"} {
		if err := ix.Add(c, id); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	page, err := ix.ItemsPaginated(c, 2, 0)
	if err != nil {
		t.Fatalf("ItemsPaginated: %v", err)
	}
	if !reflect.DeepEqual(page, []string{"a1", "b2"}) {
		t.Fatalf("page 1 = %v", page)
	}
	page, _ = ix.ItemsPaginated(c, 2, 2)
	if !reflect.DeepEqual(page, []string{"c3", "d4"}) {
		t.Fatalf("page 2 = %v", page)
	}
	page, _ = ix.ItemsPaginated(c, 2, 4)
	if !reflect.DeepEqual(page, []string{"e5"}) {
		t.Fatalf("page 3 = %v", page)
	}
	if page, _ := ix.ItemsPaginated(c, 2, 10); page != nil {
		t.Fatalf("out-of-range page = %v", page)
	}
}

func TestSetAlgebra(t *testing.T) {
	ix, _ := testIndex(t)
	a, b := coll("published"), coll("draft")
	for _, id := range []string{"x", "y", "z"} {
		if err := ix.Add(a, id); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	for _, id := range []string{"y", "z", "w"} {
		if err := ix.Add(b, id); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	inter, err := ix.Intersection(a, b)
	if err != nil {
		t.Fatalf("Intersection: %v", err)
	}
	if !reflect.DeepEqual(inter, []string{"y", "z"}) {
		t.Fatalf("Intersection = %v", inter)
	}
	union, _ := ix.Union(a, b)
	if !reflect.DeepEqual(union, []string{"w", "x", "y", "z"}) {
		t.Fatalf("Union = %v", union)
	}
	diff, _ := ix.Difference(a, b)
	if !reflect.DeepEqual(diff, []string{"x"}) {
		t.Fatalf("Difference = %v", diff)
	}
}

func TestRebuildFromSnapshots(t *testing.T) {
	ix, kv := testIndex(t)
	vs := versions.New(kv)
	c := coll("articles")

	for _, id := range []string{"a1", "b2"} {
		ic := c
		ic.ID = id
		it := models.Item{ID: id, Version: 1, Data: map[string]interface{}{}, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
		if err := vs.StoreVersion(ic, 1, it, 0); err != nil {
			t.Fatalf("StoreVersion: %v", err)
		}
		if err := vs.SetLatestVersion(ic, 1); err != nil {
			t.Fatalf("SetLatestVersion: %v", err)
		}
	}
	// drifted index: a stale member, a missing one
	if err := ix.Add(c, "ghost"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := ix.Rebuild(c)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n != 2 {
		t.Fatalf("Rebuild = %d; want 2", n)
	}
	items, _ := ix.Items(c)
	if !reflect.DeepEqual(items, []string{"a1", "b2"}) {
		t.Fatalf("Items after rebuild = %v", items)
	}
}
