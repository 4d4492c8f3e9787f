package board

import (
	"sort"
	"sync"
)

// Store is the in-memory authoritative client-side cache of one board's
// objects, keyed by id. Local mutation paths stamp UpdatedAt; remote paths
// trust the incoming payload's timestamps as-is. All methods are safe for
// concurrent use and every read returns copies.
type Store struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{objects: make(map[string]Object)}
}

// Add inserts a locally created object. The caller has already stamped it.
func (s *Store) Add(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID] = obj.Clone()
}

// Update merges changes into the entry for id and forces UpdatedAt to stamp.
// It returns the merged object and whether the id existed.
func (s *Store) Update(id string, changes map[string]any, stamp string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	merged := ApplyChanges(cur, changes)
	merged.UpdatedAt = stamp
	s.objects[id] = merged
	return merged.Clone(), true
}

// Delete removes id, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return false
	}
	delete(s.objects, id)
	return true
}

// ApplyRemoteCreate inserts an object received from a peer, keeping its
// timestamps. A duplicate id is overwritten; the store holds exactly one
// entry per id.
func (s *Store) ApplyRemoteCreate(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID] = obj.Clone()
}

// ApplyRemoteUpdate merges a peer's change set without stamping. The
// payload's updatedAt, when present in changes, is applied verbatim.
func (s *Store) ApplyRemoteUpdate(id string, changes map[string]any) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	merged := ApplyChanges(cur, changes)
	s.objects[id] = merged
	return merged.Clone(), true
}

// ApplyRemoteDelete removes id if present.
func (s *Store) ApplyRemoteDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
}

// ApplyRemoteBatchUpdate merges several peers' change sets in one pass.
// Unknown ids are skipped.
func (s *Store) ApplyRemoteBatchUpdate(changes map[string]map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range changes {
		cur, ok := s.objects[id]
		if !ok {
			continue
		}
		s.objects[id] = ApplyChanges(cur, ch)
	}
}

// Load atomically replaces the whole store with objects, as after the
// initial fetch.
func (s *Store) Load(objects []Object) {
	next := make(map[string]Object, len(objects))
	for _, obj := range objects {
		next[obj.ID] = obj.Clone()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = next
}

// Reconcile merges the authoritative remote snapshot with local state in one
// atomic replace. For ids in both, the local value wins iff its UpdatedAt is
// strictly greater (lexical compare); remote-only ids are adopted as-is.
// Local-only ids are preserved unchanged and returned, ordered by CreatedAt
// then id: these are objects the authoritative store has never seen, and the
// caller replays them as creates.
func (s *Store) Reconcile(remote []Object) []Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]Object, len(remote))
	for _, r := range remote {
		if l, ok := s.objects[r.ID]; ok && l.UpdatedAt > r.UpdatedAt {
			merged[r.ID] = l
			continue
		}
		merged[r.ID] = r.Clone()
	}

	var localOnly []Object
	for id, l := range s.objects {
		if _, ok := merged[id]; ok {
			continue
		}
		merged[id] = l
		localOnly = append(localOnly, l.Clone())
	}
	sort.Slice(localOnly, func(i, j int) bool {
		if localOnly[i].CreatedAt != localOnly[j].CreatedAt {
			return localOnly[i].CreatedAt < localOnly[j].CreatedAt
		}
		return localOnly[i].ID < localOnly[j].ID
	})

	s.objects = merged
	return localOnly
}

// Get returns a copy of the object for id.
func (s *Store) Get(id string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return obj.Clone(), true
}

// Len reports how many objects the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// All returns every object, ordered by id.
func (s *Store) All() []Object {
	return s.Where(func(Object) bool { return true })
}

// Where returns every object matching pred, ordered by id.
func (s *Store) Where(pred func(Object) bool) []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Object
	for _, obj := range s.objects {
		if pred(obj) {
			out = append(out, obj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxZIndex returns the highest paint order in the store, or 0 when empty.
func (s *Store) MaxZIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max := 0
	for _, obj := range s.objects {
		if obj.ZIndex > max {
			max = obj.ZIndex
		}
	}
	return max
}

// ConnectorsReferencing returns every connector whose start or end endpoint
// references objectID.
func (s *Store) ConnectorsReferencing(objectID string) []Object {
	return s.Where(func(o Object) bool {
		if o.Type != TypeConnector {
			return false
		}
		return propString(o, "startObjectId") == objectID || propString(o, "endObjectId") == objectID
	})
}

// FrameChildren returns every object assigned to the given frame.
func (s *Store) FrameChildren(frameID string) []Object {
	return s.Where(func(o Object) bool {
		return o.ID != frameID && propString(o, "frameId") == frameID
	})
}

func propString(o Object, key string) string {
	if o.Properties == nil {
		return ""
	}
	v, ok := o.Properties[key].(string)
	if !ok {
		return ""
	}
	return v
}
