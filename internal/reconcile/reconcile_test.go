package reconcile

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/inventory"
	"github.com/xtxerr/invsync/internal/parser"
)

var scope = group.ObjectRef{Class: "Router", ID: 7}

// =============================================================================
// Helpers
// =============================================================================

func bd(name string, attrs ...string) *entity.Entity {
	e := entity.New("BridgeDomain", name, entity.DataTypeObject)
	for i := 0; i+1 < len(attrs); i += 2 {
		e.SetAttr(attrs[i], attrs[i+1])
	}
	return e
}

func stored(objs ...inventory.StoredObject) *inventory.MemoryStore {
	s := inventory.NewMemoryStore()
	s.Put(scope, objs...)
	return s
}

func types(results []SyncResult) string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = string(r.Type) + ":" + r.Name
	}
	return strings.Join(out, " ")
}

// apply writes proposed mutations back, the way an external apply step would.
func apply(t *testing.T, s *inventory.MemoryStore, results []SyncResult) {
	t.Helper()
	for _, r := range results {
		var err error
		switch r.Type {
		case TypeCreate:
			s.Create(scope, r.Class, r.Name, r.Proposed)
		case TypeUpdate:
			err = s.Update(scope, r.ObjectID, r.Proposed)
		case TypeDelete:
			err = s.Delete(scope, r.ObjectID)
		}
		if err != nil {
			t.Fatalf("apply %s %s: %v", r.Type, r.Name, err)
		}
	}
}

type failingStore struct{}

func (failingStore) GetChildren(context.Context, group.ObjectRef) ([]inventory.StoredObject, error) {
	return nil, errors.Wrap(errors.ErrInventory, "connection reset")
}

// =============================================================================
// Scenarios
// =============================================================================

func TestReconcile_EmptyPoll(t *testing.T) {
	polled := parser.New(parser.BridgeDomain()).Parse("")
	if len(polled) != 0 {
		t.Fatalf("Parse(\"\") = %d entities, want 0", len(polled))
	}

	s := stored(
		inventory.StoredObject{ID: 1, Class: "BridgeDomain", Name: "bd-20"},
		inventory.StoredObject{ID: 2, Class: "BridgeDomain", Name: "bd-10"},
		inventory.StoredObject{ID: 3, Class: "BridgeDomain", Name: "bd-30", Protected: true},
	)

	results, err := New(s, Options{}).Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	want := "DELETE:bd-10 DELETE:bd-20 NO_CHANGE:bd-30"
	if got := types(results); got != want {
		t.Errorf("results = %s, want %s", got, want)
	}
	if results[0].ObjectID != 2 || results[1].ObjectID != 1 {
		t.Errorf("DELETE ids = %d, %d", results[0].ObjectID, results[1].ObjectID)
	}
}

func TestReconcile_PureAddition(t *testing.T) {
	results, err := New(stored(), Options{}).Reconcile(context.Background(), []*entity.Entity{bd("bd-10")}, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Type != TypeCreate || r.Name != "bd-10" || r.ObjectID != 0 {
		t.Errorf("result = %+v", r)
	}
}

func TestReconcile_AttributeDrift(t *testing.T) {
	s := stored(inventory.StoredObject{
		ID: 5, Class: "BridgeDomain", Name: "bd-10",
		Attributes: map[string]string{"attr": "Y", "state": "UP"},
	})
	polled := []*entity.Entity{bd("bd-10", "attr", "X", "state", "UP")}

	results, err := New(s, Options{}).Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(results) != 1 || results[0].Type != TypeUpdate {
		t.Fatalf("results = %s", types(results))
	}
	if want := map[string]string{"attr": "X"}; !reflect.DeepEqual(results[0].Proposed, want) {
		t.Errorf("Proposed = %v, want %v", results[0].Proposed, want)
	}
	if results[0].ObjectID != 5 {
		t.Errorf("ObjectID = %d, want 5", results[0].ObjectID)
	}
}

func TestReconcile_ProtectedNeverDeleted(t *testing.T) {
	s := stored(
		inventory.StoredObject{ID: 1, Class: "BridgeDomain", Name: "bd-10", Protected: true},
		inventory.StoredObject{ID: 2, Class: "BridgeDomain", Name: "bd-11"},
	)

	results, err := New(s, Options{}).Reconcile(context.Background(), []*entity.Entity{bd("bd-11")}, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if n := len(FilterByType(results, TypeDelete)); n != 0 {
		t.Errorf("got %d DELETE results, want 0", n)
	}
	want := "NO_CHANGE:bd-11 NO_CHANGE:bd-10"
	if got := types(results); got != want {
		t.Errorf("results = %s, want %s", got, want)
	}
	if !strings.HasPrefix(results[1].Message, "protected") {
		t.Errorf("protected Message = %q", results[1].Message)
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestReconcile_Order(t *testing.T) {
	s := stored(
		inventory.StoredObject{ID: 1, Class: "BridgeDomain", Name: "same"},
		inventory.StoredObject{ID: 2, Class: "BridgeDomain", Name: "drift", Attributes: map[string]string{"state": "DOWN"}},
		inventory.StoredObject{ID: 3, Class: "BridgeDomain", Name: "zz-gone"},
		inventory.StoredObject{ID: 4, Class: "BridgeDomain", Name: "aa-gone"},
	)
	polled := []*entity.Entity{
		bd("same"),
		entity.NewUnknown("%  Invalid input"),
		bd("new-b"),
		bd("drift", "state", "UP"),
		bd("new-a"),
	}

	results, err := New(s, Options{}).Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	want := "CREATE:new-b CREATE:new-a UPDATE:drift DELETE:aa-gone DELETE:zz-gone NO_CHANGE:same ERROR:% invalid input"
	if got := types(results); got != want {
		t.Errorf("results =\n  %s\nwant\n  %s", got, want)
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	newStore := func() *inventory.MemoryStore {
		return stored(
			inventory.StoredObject{ID: 1, Class: "BridgeDomain", Name: "b", Attributes: map[string]string{"x": "1", "y": "2"}},
			inventory.StoredObject{ID: 2, Class: "BridgeDomain", Name: "c"},
			inventory.StoredObject{ID: 3, Class: "BridgeDomain", Name: "a"},
		)
	}
	polled := []*entity.Entity{
		bd("b", "x", "9", "y", "8", "z", "7"),
		bd("d", "k", "v"),
	}

	first, err := New(newStore(), Options{}).Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := New(newStore(), Options{}).Reconcile(context.Background(), polled, scope)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, first, again)
		}
	}
	if got := first[1].Message; got != "changed: x, y, z" {
		t.Errorf("UPDATE Message = %q", got)
	}
}

func TestReconcile_IdempotentAfterApply(t *testing.T) {
	s := stored(
		inventory.StoredObject{Class: "BridgeDomain", Name: "bd-10", Attributes: map[string]string{"state": "DOWN"}},
		inventory.StoredObject{Class: "BridgeDomain", Name: "bd-99"},
		inventory.StoredObject{Class: "BridgeDomain", Name: "bd-77", Protected: true},
	)

	withPorts := bd("bd-20", "state", "UP")
	for _, p := range []string{"Gi0/2", "Gi0/1"} {
		if err := withPorts.AddChild(entity.New("ServiceInstance", p, entity.DataTypeObject)); err != nil {
			t.Fatal(err)
		}
	}
	polled := []*entity.Entity{bd("bd-10", "state", "UP"), withPorts}

	e := New(s, Options{})
	first, err := e.Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !Summarize(first).HasChanges() {
		t.Fatal("first run proposed no changes")
	}
	if got := first[0].Proposed[AttrMembers]; got != "serviceinstance/gi0/1,serviceinstance/gi0/2" {
		t.Errorf("members = %q", got)
	}

	apply(t, s, first)

	second, err := e.Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	for _, r := range second {
		if r.Type != TypeNoChange {
			t.Errorf("second run: %s %s (%s)", r.Type, r.Name, r.Message)
		}
	}
	if len(second) != 3 {
		t.Errorf("second run = %s", types(second))
	}
}

// =============================================================================
// Failures
// =============================================================================

func TestReconcile_PerEntityErrors(t *testing.T) {
	s := stored(inventory.StoredObject{ID: 1, Class: "BridgeDomain", Name: "bd-1"})

	badType := bd("bd-3")
	badType.DataType = entity.DataType(42)

	polled := []*entity.Entity{
		nil,
		bd("   "),
		bd("bd-1", "descr", "caf\xe9"),
		bd("bd-2"),
		bd("BD-2"),
		badType,
		entity.NewUnknown("garbage line"),
	}

	results, err := New(s, Options{}).Reconcile(context.Background(), polled, scope)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if results[0].Type != TypeCreate || results[0].Name != "bd-2" {
		t.Errorf("first result = %+v, want CREATE bd-2", results[0])
	}

	errs := FilterByType(results, TypeError)
	wantMsgs := []string{"nil entity", "empty name", "invalid UTF-8", "duplicate identity key", "unknown data type", "unclassified"}
	if len(errs) != len(wantMsgs) {
		t.Fatalf("got %d ERROR results, want %d: %s", len(errs), len(wantMsgs), types(results))
	}
	for i, r := range errs {
		if !strings.Contains(r.Message, wantMsgs[i]) {
			t.Errorf("error %d Message = %q, want %q", i, r.Message, wantMsgs[i])
		}
		if r.Proposed != nil {
			t.Errorf("error %d carries Proposed %v", i, r.Proposed)
		}
	}

	// bd-1 failed to compare; it must not be proposed for deletion.
	if n := len(FilterByType(results, TypeDelete)); n != 0 {
		t.Errorf("got %d DELETE results, want 0", n)
	}
	if last := results[len(results)-1]; last.Type != TypeError {
		t.Errorf("last result = %s, want ERROR", last.Type)
	}
}

func TestReconcile_StoreFailure(t *testing.T) {
	_, err := New(failingStore{}, Options{}).Reconcile(context.Background(), []*entity.Entity{bd("bd-1")}, scope)
	if !errors.Is(err, errors.ErrInventory) {
		t.Errorf("error = %v, want ErrInventory", err)
	}
}

func TestReconcile_TrackedAttributes(t *testing.T) {
	s := stored(inventory.StoredObject{
		ID: 1, Class: "BridgeDomain", Name: "bd-1",
		Attributes: map[string]string{"state": "UP", "agingTimer": "300", "note": "operator"},
	})
	polled := []*entity.Entity{bd("bd-1", "state", "UP", "agingTimer", "1800")}

	results, _ := New(s, Options{
		Tracked: map[string][]string{"bridgedomain": {"state"}},
	}).Reconcile(context.Background(), polled, scope)
	if results[0].Type != TypeNoChange {
		t.Errorf("untracked drift: %+v", results[0])
	}

	results, _ = New(s, Options{}).Reconcile(context.Background(), polled, scope)
	if results[0].Type != TypeUpdate || !reflect.DeepEqual(results[0].Proposed, map[string]string{"agingTimer": "1800"}) {
		t.Errorf("tracked drift: %+v", results[0])
	}
}

func TestReconcile_ProposedIsCopy(t *testing.T) {
	e := bd("bd-1", "state", "UP")
	results, _ := New(stored(), Options{}).Reconcile(context.Background(), []*entity.Entity{e}, scope)

	e.SetAttr("state", "DOWN")
	if results[0].Proposed["state"] != "UP" {
		t.Error("Proposed aliases the entity attributes")
	}
}

// =============================================================================
// Stats and hashing
// =============================================================================

func TestSummarize(t *testing.T) {
	results := []SyncResult{
		{Type: TypeCreate}, {Type: TypeCreate}, {Type: TypeUpdate},
		{Type: TypeNoChange}, {Type: TypeError, Message: "x"},
	}
	got := Summarize(results)
	want := Stats{Creates: 2, Updates: 1, Unchanged: 1, Errors: 1, Total: 5}
	if got != want {
		t.Errorf("Summarize() = %+v, want %+v", got, want)
	}
	if !got.HasChanges() {
		t.Error("HasChanges() = false")
	}
	if (Stats{Unchanged: 3, Total: 3}).HasChanges() {
		t.Error("HasChanges() = true for unchanged only")
	}
}

func TestReconcile_ChangeDetection(t *testing.T) {
	tests := []struct {
		name   string
		attrs  map[string]string
		polled []string
		want   Type
		diff   string
	}{
		{"equal", map[string]string{"vlanId": "10", "state": "up"}, []string{"vlanId", "10", "state", "up"}, TypeNoChange, ""},
		{"untracked stored attribute", map[string]string{"vlanId": "10", "owner": "noc"}, []string{"vlanId", "10"}, TypeNoChange, ""},
		{"value differs", map[string]string{"vlanId": "10", "state": "up"}, []string{"vlanId", "10", "state", "down"}, TypeUpdate, "state"},
		{"missing stored attribute", map[string]string{"vlanId": "10"}, []string{"vlanId", "10", "state", ""}, TypeUpdate, "state"},
		{"key and value swapped", map[string]string{"ab": ""}, []string{"a", "b", "ab", ""}, TypeUpdate, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := stored(inventory.StoredObject{ID: 5, Class: "BridgeDomain", Name: "bd-10", Attributes: tt.attrs})
			results, err := New(s, Options{}).Reconcile(context.Background(), []*entity.Entity{bd("bd-10", tt.polled...)}, scope)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			r := results[0]
			if r.Type != tt.want {
				t.Fatalf("Type = %s, want %s (%s)", r.Type, tt.want, r.Message)
			}
			if got := strings.Join(r.ProposedKeys(), ","); got != tt.diff {
				t.Errorf("changed = %q, want %q", got, tt.diff)
			}
		})
	}
}

func TestTypeIsValid(t *testing.T) {
	tests := []struct {
		typ    Type
		valid  bool
		change bool
	}{
		{TypeCreate, true, true},
		{TypeDelete, true, true},
		{TypeNoChange, true, false},
		{TypeError, true, false},
		{Type("SKIP"), false, false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsValid(); got != tt.valid {
			t.Errorf("%s.IsValid() = %v, want %v", tt.typ, got, tt.valid)
		}
		if got := tt.typ.IsChange(); got != tt.change {
			t.Errorf("%s.IsChange() = %v, want %v", tt.typ, got, tt.change)
		}
	}
}
