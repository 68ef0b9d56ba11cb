package hooks_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/hooks"
	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/registry"
	"github.com/reqtrail/reqtrail/internal/scope"
	"github.com/reqtrail/reqtrail/internal/service"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// capturingStore keeps created records in memory so tests can inspect
// the full create/merge sequence.
type capturingStore struct {
	nextID  int64
	records map[int64]*models.ChangeRecord
	creates int
}

func newCapturingStore() *capturingStore {
	return &capturingStore{nextID: 1, records: make(map[int64]*models.ChangeRecord)}
}

func (s *capturingStore) CreateChange(_ context.Context, ct models.ChangeType, instance string, fields map[string]models.FieldChange) (int64, error) {
	id := s.nextID
	s.nextID++
	s.creates++
	s.records[id] = &models.ChangeRecord{ID: id, ChangeType: ct, Instance: instance, Fields: fields}
	return id, nil
}

func (s *capturingStore) GetChange(_ context.Context, id int64) (*models.ChangeRecord, error) {
	return s.records[id], nil
}

func (s *capturingStore) UpdateChangeFields(_ context.Context, id int64, fields map[string]models.FieldChange) error {
	s.records[id].Fields = fields
	return nil
}

type article struct {
	pk    string
	title string
	body  string
	tags  []string
}

func (a *article) ModelKey() string           { return "cms.Article" }
func (a *article) PrimaryKey() (string, bool) { return a.pk, a.pk != "" }

func (a *article) FieldValue(name string) (any, bool) {
	switch name {
	case "title":
		return a.title, true
	case "body":
		return a.body, true
	default:
		return nil, false
	}
}

func (a *article) RelatedKeys(relation string) []string {
	if relation == "tags" {
		return a.tags
	}
	return nil
}

func articleRegistry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister(&registry.Descriptor{
		App:  "cms",
		Name: "Article",
		Fields: []registry.Field{
			{Name: "title", Label: "Title"},
			{Name: "body"},
		},
		Relations: []registry.Relation{{Name: "tags"}},
	})
	return reg
}

func newTestDispatcher(store *capturingStore, cfg hooks.Config) *hooks.Dispatcher {
	reg := articleRegistry()
	rec := service.NewRecorder(store, reg, testLogger())
	return hooks.NewDispatcher(rec, reg, cfg, testLogger())
}

func loggedCtx() context.Context {
	sc := scope.New()
	sc.ShouldLog = true
	return scope.Attach(context.Background(), sc)
}

func bothEnabled() hooks.Config {
	return hooks.Config{LogObjectsInRequest: true, LogObjectsOutRequest: true}
}

func TestDispatcher_UpdateComparesAgainstLoadBaseline(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	obj := &article{pk: "3", title: "Draft", body: "text"}
	d.PostLoad(ctx, obj)

	obj.title = "Published"
	d.PostSave(ctx, obj, false)

	if store.creates != 1 {
		t.Fatalf("creates = %d, want 1", store.creates)
	}

	rec := store.records[1]
	if rec.ChangeType != models.ChangeUpdate {
		t.Errorf("change type = %q", rec.ChangeType)
	}
	if rec.Instance != "cms.Article.3" {
		t.Errorf("instance = %q", rec.Instance)
	}
	fc, ok := rec.Fields["title"]
	if !ok {
		t.Fatal("title change missing")
	}
	if fc.Label != "Title" || fc.Old != "Draft" || fc.New != "Published" {
		t.Errorf("title change = %+v", fc)
	}
	if _, ok := rec.Fields["body"]; ok {
		t.Error("unchanged field reported")
	}
}

func TestDispatcher_CreateForcesEmptyBaseline(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	obj := &article{title: "New", body: "text"}
	d.PostLoad(ctx, obj)

	obj.pk = "9"
	d.PostSave(ctx, obj, true)

	rec := store.records[1]
	if rec.ChangeType != models.ChangeCreate {
		t.Fatalf("change type = %q", rec.ChangeType)
	}
	if len(rec.Fields) != 2 {
		t.Errorf("fields = %v, want full state reported as new", rec.Fields)
	}
	if fc := rec.Fields["title"]; fc.Old != nil || fc.New != "New" {
		t.Errorf("title = %+v, want nil old value", fc)
	}
}

func TestDispatcher_SaveWithoutIdentityIgnored(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	obj := &article{title: "New"}
	d.PostSave(ctx, obj, false)

	if store.creates != 0 {
		t.Error("save of an identity-less object must not record")
	}
}

func TestDispatcher_SaveWithoutBaselineReportsNoFields(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	// Never loaded through the hooks, so there is no state to diff
	// against. The event is still recorded, with no field deltas.
	obj := &article{pk: "3", title: "Edited", body: "text"}
	d.PostSave(ctx, obj, false)

	if store.creates != 1 {
		t.Fatalf("creates = %d, want 1", store.creates)
	}
	if rec := store.records[1]; len(rec.Fields) != 0 {
		t.Errorf("fields = %v, want none without a baseline", rec.Fields)
	}
}

func TestDispatcher_DeleteReportsBaselineFields(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	obj := &article{pk: "3", title: "Old", body: "text"}
	d.PostLoad(ctx, obj)
	d.PostDelete(ctx, obj)

	rec := store.records[1]
	if rec.ChangeType != models.ChangeDelete {
		t.Fatalf("change type = %q", rec.ChangeType)
	}
	if fc := rec.Fields["title"]; fc.Old != "Old" || fc.New != nil {
		t.Errorf("title = %+v, want nil current value", fc)
	}
}

func TestDispatcher_RepeatedSavesMergeIntoOneRecord(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	obj := &article{pk: "3", title: "v1", body: "b1"}
	d.PostLoad(ctx, obj)

	obj.title = "v2"
	d.PostSave(ctx, obj, false)

	obj.body = "b2"
	d.PostSave(ctx, obj, false)

	if store.creates != 1 {
		t.Fatalf("creates = %d, want single merged record", store.creates)
	}

	rec := store.records[1]
	if len(rec.Fields) != 2 {
		t.Fatalf("fields = %v, want union of both saves", rec.Fields)
	}
	if rec.Fields["title"].New != "v2" || rec.Fields["body"].New != "b2" {
		t.Errorf("merged fields = %v", rec.Fields)
	}
}

func TestDispatcher_RelationChanges(t *testing.T) {
	store := newCapturingStore()
	d := newTestDispatcher(store, bothEnabled())
	ctx := loggedCtx()

	obj := &article{pk: "3", tags: []string{"go", "infra"}}
	d.RelationsChanging(ctx, obj)

	obj.tags = []string{"go", "audit"}
	d.RelationsChanged(ctx, obj)

	rec := store.records[1]
	if rec.ChangeType != models.ChangeUpdate {
		t.Fatalf("change type = %q", rec.ChangeType)
	}
	fc, ok := rec.Fields["tags"]
	if !ok {
		t.Fatal("tags change missing")
	}
	old, cur := fc.Old.([]string), fc.New.([]string)
	if len(old) != 2 || old[0] != "go" || old[1] != "infra" {
		t.Errorf("old membership = %v", old)
	}
	if len(cur) != 2 || cur[0] != "audit" || cur[1] != "go" {
		t.Errorf("new membership = %v, want sorted", cur)
	}
}

func TestDispatcher_Gating(t *testing.T) {
	tests := []struct {
		name string
		cfg  hooks.Config
		ctx  func() context.Context
		want int
	}{
		{
			name: "in request, enabled",
			cfg:  hooks.Config{LogObjectsInRequest: true},
			ctx:  loggedCtx,
			want: 1,
		},
		{
			name: "in request, disabled",
			cfg:  hooks.Config{LogObjectsInRequest: false, LogObjectsOutRequest: true},
			ctx:  loggedCtx,
			want: 0,
		},
		{
			name: "in request, scope declined",
			cfg:  bothEnabled(),
			ctx: func() context.Context {
				return scope.Attach(context.Background(), scope.New())
			},
			want: 0,
		},
		{
			name: "no request, enabled",
			cfg:  hooks.Config{LogObjectsOutRequest: true},
			ctx:  context.Background,
			want: 1,
		},
		{
			name: "no request, disabled",
			cfg:  hooks.Config{LogObjectsInRequest: true},
			ctx:  context.Background,
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newCapturingStore()
			d := newTestDispatcher(store, tc.cfg)
			ctx := tc.ctx()

			obj := &article{pk: "3", title: "v1"}
			d.PostLoad(ctx, obj)
			obj.title = "v2"
			d.PostSave(ctx, obj, false)

			if store.creates != tc.want {
				t.Errorf("creates = %d, want %d", store.creates, tc.want)
			}
		})
	}
}

func TestDispatcher_UnregisteredTypeIgnored(t *testing.T) {
	store := newCapturingStore()

	reg := registry.New() // nothing registered
	rec := service.NewRecorder(store, reg, testLogger())
	d := hooks.NewDispatcher(rec, reg, bothEnabled(), testLogger())
	ctx := loggedCtx()

	obj := &article{pk: "3", title: "v1"}
	d.PostLoad(ctx, obj)
	d.PostSave(ctx, obj, false)

	if store.creates != 0 {
		t.Error("excluded type must not record")
	}
}
