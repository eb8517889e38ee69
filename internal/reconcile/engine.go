package reconcile

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/inventory"
	"github.com/xtxerr/invsync/internal/logging"
)

var log = logging.Component("reconcile")

// AttrMembers is the synthesized attribute holding the comma separated,
// sorted identity keys of an entity's children.
const AttrMembers = "members"

// Options configures attribute tracking.
type Options struct {
	// Tracked restricts the tracked attributes per class (matched case
	// insensitively). Classes without an entry track every polled
	// attribute. AttrMembers is always tracked.
	Tracked map[string][]string
}

// Engine reconciles polled entities against an inventory store.
//
// Engine is safe for concurrent use; each call reads its own snapshot.
type Engine struct {
	store   inventory.Store
	tracked map[string]map[string]bool
}

// New creates an engine reading from store.
func New(store inventory.Store, opts Options) *Engine {
	e := &Engine{
		store:   store,
		tracked: make(map[string]map[string]bool, len(opts.Tracked)),
	}
	for class, attrs := range opts.Tracked {
		set := make(map[string]bool, len(attrs))
		for _, a := range attrs {
			set[a] = true
		}
		e.tracked[strings.ToLower(class)] = set
	}
	return e
}

// Reconcile compares polled against the stored children of scope.
//
// It fails only when the inventory cannot be read. Entities that cannot be
// compared become ERROR results and the rest are still reconciled.
func (e *Engine) Reconcile(ctx context.Context, polled []*entity.Entity, scope group.ObjectRef) ([]SyncResult, error) {
	stored, err := e.store.GetChildren(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", scope, err)
	}

	// Build index of stored children by identity key; the first wins
	storedByKey := make(map[string]*inventory.StoredObject, len(stored))
	for i := range stored {
		key := stored[i].Key()
		if _, dup := storedByKey[key]; !dup {
			storedByKey[key] = &stored[i]
		}
	}

	var (
		creates, updates, deletes, unchanged, failed []SyncResult
		seen = make(map[string]bool, len(polled))
	)

	for i, p := range polled {
		r := e.compare(i, p, storedByKey, seen)
		switch r.Type {
		case TypeCreate:
			creates = append(creates, r)
		case TypeUpdate:
			updates = append(updates, r)
		case TypeNoChange:
			unchanged = append(unchanged, r)
		default:
			failed = append(failed, r)
		}
	}

	// Process orphaned stored children, ordered by key then stored order
	var orphans []*inventory.StoredObject
	for i := range stored {
		o := &stored[i]
		// A duplicate stored key is never matched by the poll.
		if storedByKey[o.Key()] == o && seen[o.Key()] {
			continue
		}
		orphans = append(orphans, o)
	}
	sort.SliceStable(orphans, func(a, b int) bool {
		return orphans[a].Key() < orphans[b].Key()
	})

	var protected []SyncResult
	for _, o := range orphans {
		r := SyncResult{
			Class:    o.Class,
			ObjectID: o.ID,
			Name:     o.Name,
		}
		if o.Protected {
			r.Type = TypeNoChange
			r.Message = "protected: absent from poll"
			protected = append(protected, r)
			continue
		}
		r.Type = TypeDelete
		r.Message = "absent from poll"
		deletes = append(deletes, r)
	}

	results := make([]SyncResult, 0, len(polled)+len(orphans))
	results = append(results, creates...)
	results = append(results, updates...)
	results = append(results, deletes...)
	results = append(results, unchanged...)
	results = append(results, protected...)
	results = append(results, failed...)

	log.Debug("reconciled scope",
		"scope", scope.String(),
		"polled", len(polled),
		"stored", len(stored),
		"creates", len(creates),
		"updates", len(updates),
		"deletes", len(deletes),
		"errors", len(failed))

	return results, nil
}

// compare reconciles one polled entity. It never panics.
func (e *Engine) compare(pos int, p *entity.Entity, stored map[string]*inventory.StoredObject, seen map[string]bool) (r SyncResult) {
	if p == nil {
		return errorResult(nil, fmt.Sprintf("entity %d: nil entity", pos))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r = errorResult(p, fmt.Sprintf("compare panicked: %v", rec))
		}
	}()

	if entity.NormalizeName(p.Name) == "" {
		return errorResult(p, fmt.Sprintf("entity %d: empty name", pos))
	}

	key := p.Key()
	if seen[key] {
		return errorResult(p, fmt.Sprintf("duplicate identity key %q in poll", key))
	}
	seen[key] = true

	switch {
	case !p.DataType.Valid():
		return errorResult(p, fmt.Sprintf("unknown data type %s", p.DataType))
	case p.Class == entity.ClassUnknown:
		return errorResult(p, "unclassified device output")
	}

	desired, err := e.desired(p, stored[key])
	if err != nil {
		return errorResult(p, err.Error())
	}

	s, ok := stored[key]
	if !ok {
		return SyncResult{
			Type:     TypeCreate,
			Class:    p.Class,
			Name:     p.Name,
			Proposed: desired,
			Message:  "new object",
			Source:   p.Source,
		}
	}

	r = SyncResult{
		Class:    s.Class,
		ObjectID: s.ID,
		Name:     s.Name,
		Source:   p.Source,
	}

	// Same tracked content?
	if maps.Equal(desired, current(s, desired)) {
		r.Type = TypeNoChange
		r.Message = "unchanged"
		return r
	}

	changed := make(map[string]string)
	for k, v := range desired {
		if old, ok := s.Attributes[k]; !ok || old != v {
			changed[k] = v
		}
	}
	r.Type = TypeUpdate
	r.Proposed = changed
	r.Message = "changed: " + strings.Join(r.ProposedKeys(), ", ")
	return r
}

// desired returns the tracked attributes of p as a fresh map.
func (e *Engine) desired(p *entity.Entity, s *inventory.StoredObject) (map[string]string, error) {
	filter := e.tracked[strings.ToLower(p.Class)]

	out := make(map[string]string, len(p.Attributes)+1)
	for k, v := range p.Attributes {
		if filter != nil && !filter[k] {
			continue
		}
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("attribute %s: invalid UTF-8 value %q", k, v)
		}
		out[k] = v
	}

	// Track membership when there is any to compare against.
	_, storedMembers := storedAttr(s, AttrMembers)
	if p.NumChildren() > 0 || storedMembers {
		out[AttrMembers] = strings.Join(p.MemberKeys(), ",")
	}
	return out, nil
}

// current returns the stored values of the attributes in desired. Missing
// stored attributes are absent from the result.
func current(s *inventory.StoredObject, desired map[string]string) map[string]string {
	out := make(map[string]string, len(desired))
	for k := range desired {
		if v, ok := s.Attributes[k]; ok {
			out[k] = v
		}
	}
	return out
}

func storedAttr(s *inventory.StoredObject, name string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Attributes[name]
	return v, ok
}

func errorResult(p *entity.Entity, msg string) SyncResult {
	r := SyncResult{Type: TypeError, Message: msg}
	if p != nil {
		r.Class = p.Class
		r.Name = p.Name
		r.Source = p.Source
	}
	return r
}
