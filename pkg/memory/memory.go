package memory

import "github.com/hazelqsil/qsil/pkg/vmerr"

// ObjectMemory is the flat store of every live Object in an image,
// addressed by ObjectID.
type ObjectMemory struct {
	objects   map[ObjectID]*Object
	highestID ObjectID
	hasAny    bool
}

// New returns an empty ObjectMemory.
func New() *ObjectMemory {
	return &ObjectMemory{objects: make(map[ObjectID]*Object)}
}

// Insert adds obj to the memory, tracking the highest id seen so that
// NextID can hand out ids that never collide with an existing object.
func (m *ObjectMemory) Insert(obj *Object) {
	m.objects[obj.ID] = obj
	if !m.hasAny || obj.ID > m.highestID {
		m.highestID = obj.ID
		m.hasAny = true
	}
}

// Get looks up id, returning a DanglingReference error if it does not
// name a live object.
func (m *ObjectMemory) Get(id ObjectID) (*Object, error) {
	obj, ok := m.objects[id]
	if !ok {
		return nil, vmerr.New(vmerr.DanglingReference, vmerr.Position{}, "object id %d not found", id)
	}
	return obj, nil
}

// Deref resolves a Ptr to its Object, rejecting super-sentinels (callers
// that must handle super-sentinels specially should check p.IsSuper()
// themselves before calling Deref).
func (m *ObjectMemory) Deref(p Ptr) (*Object, error) {
	if p.IsSuper() {
		return nil, vmerr.New(vmerr.DanglingReference, vmerr.Position{}, "cannot dereference super-sentinel %d", ObjectID(p))
	}
	return m.Get(p.ID())
}

// NextID returns an id guaranteed not to collide with any object
// currently in the memory. It does not reserve the id; callers must
// Insert an object at it (or a higher one) before calling NextID again.
func (m *ObjectMemory) NextID() ObjectID {
	if !m.hasAny {
		return NumWellKnown
	}
	return m.highestID + 1
}

// Delete removes id from the memory. Used only by the garbage collector
// during sweep.
func (m *ObjectMemory) Delete(id ObjectID) {
	delete(m.objects, id)
}

// Len returns the number of live objects.
func (m *ObjectMemory) Len() int { return len(m.objects) }

// Each calls fn for every live object. Iteration order is unspecified.
func (m *ObjectMemory) Each(fn func(*Object)) {
	for _, obj := range m.objects {
		fn(obj)
	}
}

// IDs returns every live object id. Order is unspecified.
func (m *ObjectMemory) IDs() []ObjectID {
	ids := make([]ObjectID, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	return ids
}
