package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stratadb/pkg/audit"
	"stratadb/pkg/models"
	"stratadb/pkg/mutations"
	"stratadb/pkg/store"
	"stratadb/pkg/validation"
)

func testRepo(t *testing.T, opts Options) *Repo {
	t.Helper()
	kv, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv, opts)
}

func articles(t *testing.T, r *Repo, cfg CollectionConfig) *Collection {
	t.Helper()
	c, err := r.Collection("acme", "docs", "articles", cfg)
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	return c
}

func TestCreateUpdateVersionHistory(t *testing.T) {
	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{ObjectType: ObjectContent})

	created, err := c.Create(map[string]interface{}{"name": "Sample Document", "content": "Hello #tag"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("created version = %d; want 1", created.Version)
	}

	updated, err := c.Update(created.ID, map[string]interface{}{"content": "Updated #tag2"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("updated version = %d; want 2", updated.Version)
	}
	if updated.Data["name"] != "Sample Document" {
		t.Fatalf("merge dropped untouched field: %v", updated.Data)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("CreatedAt changed on update")
	}

	infos, err := c.ListVersions(created.ID)
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(infos) != 2 || infos[0].Version != 1 || infos[1].Version != 2 {
		t.Fatalf("ListVersions = %+v", infos)
	}

	v1, err := c.Get(created.ID, 1)
	if err != nil {
		t.Fatalf("Get v1: %v", err)
	}
	if v1.Data["content"] != "Hello #tag" {
		t.Fatalf("v1 content = %v", v1.Data["content"])
	}
	latest, err := c.Get(created.ID)
	if err != nil {
		t.Fatalf("Get latest: %v", err)
	}
	if latest.Version != 2 || latest.Data["content"] != "Updated #tag2" {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestGetMissingIsNil(t *testing.T) {
	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{})
	item, err := c.Get("no-such-id")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item != nil {
		t.Fatalf("item = %+v; want nil", item)
	}
}

func TestValidationSurfacesUnchanged(t *testing.T) {
	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{
		Validator: validation.New(validation.Rules{Required: []string{"name"}}),
	})
	_, err := c.Create(map[string]interface{}{"content": "nameless"})
	var ve *validation.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// a patch may omit required fields
	created, err := c.Create(map[string]interface{}{"name": "ok"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Update(created.ID, map[string]interface{}{"content": "patched"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestDelete(t *testing.T) {
	r := testRepo(t, Options{EnableAudit: true})
	c := articles(t, r, CollectionConfig{
		Mutations: map[string]mutations.Func{
			"len": func(d map[string]interface{}) (interface{}, error) {
				s, _ := d["content"].(string)
				return len(s), nil
			},
		},
	})
	created, err := c.Create(map[string]interface{}{"content": "bye"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.MaterializeMutation(created.ID, "len"); err != nil {
		t.Fatalf("MaterializeMutation: %v", err)
	}

	ok, err := c.Delete(created.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !ok {
		t.Fatalf("Delete returned false for existing item")
	}
	if item, _ := c.Get(created.ID); item != nil {
		t.Fatalf("item survived delete: %+v", item)
	}
	if names, _ := c.ListMutations(created.ID); len(names) != 0 {
		t.Fatalf("mutations survived delete: %v", names)
	}
	if n, _ := c.Count(); n != 0 {
		t.Fatalf("index size after delete = %d", n)
	}
	// the trail remains as the tombstone
	entries, err := c.AuditTrail(created.ID, audit.Options{})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Operation != models.OpDelete {
		t.Fatalf("last audit op = %s", last.Operation)
	}

	if ok, _ := c.Delete(created.ID); ok {
		t.Fatalf("second delete returned true")
	}
}

func TestListPagination(t *testing.T) {
	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{})
	for i := 0; i < 5; i++ {
		if _, err := c.Create(map[string]interface{}{"n": float64(i)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	page, err := c.List(2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page = %d items; want 2", len(page))
	}
	rest, _ := c.List(0, 2)
	if len(rest) != 3 {
		t.Fatalf("rest = %d items; want 3", len(rest))
	}
	if n, _ := c.Count(); n != 5 {
		t.Fatalf("Count = %d; want 5", n)
	}
}

func TestRunMutation(t *testing.T) {
	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{
		Mutations: map[string]mutations.Func{
			"wordcount": func(d map[string]interface{}) (interface{}, error) {
				s, _ := d["content"].(string)
				return len(strings.Fields(s)), nil
			},
		},
	})
	created, err := c.Create(map[string]interface{}{"content": "a b c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := c.RunMutation(created.ID, "wordcount")
	if err != nil {
		t.Fatalf("RunMutation: %v", err)
	}
	if got != 3 {
		t.Fatalf("wordcount = %v; want 3", got)
	}
	var ume *UnknownMutationError
	if _, err := c.RunMutation(created.ID, "nope"); !errors.As(err, &ume) {
		t.Fatalf("expected UnknownMutationError, got %v", err)
	}
}

func TestTransformationEndToEnd(t *testing.T) {
	r := testRepo(t, Options{EnableAudit: true})
	c := articles(t, r, CollectionConfig{
		Transformations: map[string]TransformationConfig{
			"summarize": {
				Processor: func(item models.Item, job models.Job) (interface{}, error) {
					s, _ := item.Data["content"].(string)
					return strings.ToUpper(s), nil
				},
				Workers: 1,
			},
		},
	})
	if err := c.StartWorkers(context.Background()); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	defer c.StopWorkers()

	created, err := c.Create(map[string]interface{}{"content": "shout this"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	jobID, err := c.RunTransformation(created.ID, "summarize")
	if err != nil {
		t.Fatalf("RunTransformation: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, err := r.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == models.JobDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %+v", job)
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, err := c.GetTransformation(created.ID, jobID)
	if err != nil {
		t.Fatalf("GetTransformation: %v", err)
	}
	if res.Result != "SHOUT THIS" {
		t.Fatalf("result = %v", res.Result)
	}
	byName, err := c.GetTransformationByName(created.ID, "summarize")
	if err != nil {
		t.Fatalf("GetTransformationByName: %v", err)
	}
	if byName.JobID != jobID {
		t.Fatalf("byName.JobID = %s; want %s", byName.JobID, jobID)
	}

	var ute *UnknownTransformationError
	if _, err := c.RunTransformation(created.ID, "nope"); !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTransformationError, got %v", err)
	}
}

func TestAuditTrailPerLifecycle(t *testing.T) {
	r := testRepo(t, Options{EnableAudit: true})
	c := articles(t, r, CollectionConfig{})
	created, err := c.Create(map[string]interface{}{"content": "v1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Update(created.ID, map[string]interface{}{"content": "v2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	entries, err := c.AuditTrail(created.ID, audit.Options{})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(entries) != 2 || entries[0].Operation != models.OpCreate || entries[1].Operation != models.OpUpdate {
		t.Fatalf("trail = %+v", entries)
	}
	if entries[1].Version != 2 {
		t.Fatalf("update entry version = %d", entries[1].Version)
	}
	stats, err := c.AuditStats(created.ID)
	if err != nil {
		t.Fatalf("AuditStats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestAuditDisabledWritesNothing(t *testing.T) {
	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{})
	created, err := c.Create(map[string]interface{}{"content": "quiet"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	entries, err := c.AuditTrail(created.ID, audit.Options{})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("trail = %+v; want empty", entries)
	}
}

func TestTTLPolicyByObjectType(t *testing.T) {
	if ObjectConfig.DefaultTTL() != 0 || ObjectContent.DefaultTTL() != 0 {
		t.Fatalf("config/content must not expire")
	}
	if ObjectSettings.DefaultTTL() != 30*24*time.Hour {
		t.Fatalf("settings TTL = %v", ObjectSettings.DefaultTTL())
	}
	if ObjectState.DefaultTTL() != time.Hour {
		t.Fatalf("state TTL = %v", ObjectState.DefaultTTL())
	}

	r := testRepo(t, Options{})
	c := articles(t, r, CollectionConfig{ObjectType: ObjectState, TTL: 45 * time.Minute})
	created, err := c.Create(map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// collection TTL overrides the class default
	if created.TTL != int64((45 * time.Minute).Seconds()) {
		t.Fatalf("item TTL = %d", created.TTL)
	}
	infos, _ := c.ListVersions(created.ID)
	if len(infos) != 1 || infos[0].TTLSeconds <= 0 {
		t.Fatalf("stored TTL = %+v", infos)
	}
}
