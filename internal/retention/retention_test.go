package retention

import (
	"testing"

	"stratadb/pkg/audit"
	"stratadb/pkg/config"
	"stratadb/pkg/keys"
	"stratadb/pkg/repo"
	"stratadb/pkg/store"
)

func testSetup(t *testing.T) (*repo.Repo, *repo.Collection, string) {
	t.Helper()
	kv, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	r := repo.New(kv, repo.Options{EnableAudit: true})
	col, err := r.Collection("acme", "docs", "articles", repo.CollectionConfig{})
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	created, err := col.Create(map[string]interface{}{"content": "v1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := col.Update(created.ID, map[string]interface{}{"content": "rev"}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	return r, col, created.ID
}

func targets(keep, auditMax int) []Target {
	return []Target{{
		Scope:           keys.Components{Domain: "acme", App: "docs", Collection: "articles"},
		KeepVersions:    keep,
		AuditMaxEntries: auditMax,
	}}
}

func TestRunOnce(t *testing.T) {
	r, col, id := testSetup(t)

	if err := RunOnce(r, config.RetentionConfig{}, targets(2, 3)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	infos, err := col.ListVersions(id)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(infos) != 2 || infos[0].Version != 4 || infos[1].Version != 5 {
		t.Fatalf("surviving versions = %+v", infos)
	}
	// latest still resolves
	item, err := col.Get(id)
	if err != nil || item == nil || item.Version != 5 {
		t.Fatalf("Get after retention: %+v, %v", item, err)
	}
	entries, err := col.AuditTrail(id, audit.Options{})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d; want 3", len(entries))
	}
}

func TestRunOnceDryRun(t *testing.T) {
	r, col, id := testSetup(t)

	if err := RunOnce(r, config.RetentionConfig{DryRun: true}, targets(2, 3)); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	infos, _ := col.ListVersions(id)
	if len(infos) != 5 {
		t.Fatalf("dry run deleted versions: %+v", infos)
	}
	entries, _ := col.AuditTrail(id, audit.Options{})
	if len(entries) != 5 {
		t.Fatalf("dry run trimmed audit: %d", len(entries))
	}
}

func TestTargetsFromSpecs(t *testing.T) {
	specs := []config.CollectionSpec{
		{Domain: "acme", App: "docs", Name: "articles", KeepVersions: 7, AuditMaxEntries: 100},
	}
	got := TargetsFromSpecs(specs)
	if len(got) != 1 {
		t.Fatalf("targets = %+v", got)
	}
	if got[0].Scope.Collection != "articles" || got[0].KeepVersions != 7 || got[0].AuditMaxEntries != 100 {
		t.Fatalf("target = %+v", got[0])
	}
}
