package vm

// ---------------------------------------------------------------------------
// ObjectTable: owner of every object, list and resource
// ---------------------------------------------------------------------------

// Ref is a generational handle into an ObjectTable. A handle becomes stale
// when its slot is removed; stale handles never resolve.
type Ref struct {
	index uint32
	gen   uint32
}

// IsZero reports whether r is the zero handle, which never resolves.
func (r Ref) IsZero() bool {
	return r.gen == 0
}

type tableSlot struct {
	gen   uint32
	entry any
}

// ObjectTable owns runtime containers and hands out Refs to them. Slots are
// reused after removal with a bumped generation, so old handles go stale
// rather than aliasing a new occupant.
//
// ObjectTable is not safe for concurrent use. The runtime drives it from a
// single goroutine at a time.
type ObjectTable struct {
	slots []tableSlot
	free  []uint32
	live  int
}

// NewObjectTable creates an empty table.
func NewObjectTable() *ObjectTable {
	return &ObjectTable{}
}

func (t *ObjectTable) add(entry any) Ref {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, tableSlot{})
	}
	s := &t.slots[idx]
	s.gen++
	s.entry = entry
	t.live++
	return Ref{index: idx, gen: s.gen}
}

func (t *ObjectTable) get(r Ref) any {
	if r.gen == 0 || int(r.index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[r.index]
	if s.gen != r.gen {
		return nil
	}
	return s.entry
}

// Remove invalidates r. It returns false if r was already stale.
func (t *ObjectTable) Remove(r Ref) bool {
	if t.get(r) == nil {
		return false
	}
	s := &t.slots[r.index]
	s.entry = nil
	s.gen++
	t.free = append(t.free, r.index)
	t.live--
	return true
}

// Clear invalidates every live entry.
func (t *ObjectTable) Clear() {
	for i := range t.slots {
		s := &t.slots[i]
		if s.entry == nil {
			continue
		}
		s.entry = nil
		s.gen++
		t.free = append(t.free, uint32(i))
	}
	t.live = 0
}

// Len returns the number of live entries.
func (t *ObjectTable) Len() int {
	return t.live
}

// Alive reports whether a reference value still resolves. Non-reference
// values are always alive.
func (t *ObjectTable) Alive(v Value) bool {
	r, ok := v.Ref()
	if !ok {
		return true
	}
	return t.get(r) != nil
}

// Normalize maps a stale Object, List or Resource value to Null.
func (t *ObjectTable) Normalize(v Value) Value {
	if !t.Alive(v) {
		return Null
	}
	return v
}

// Object resolves an object value.
func (t *ObjectTable) Object(v Value) *DreamObject {
	if v.tag != TagObject {
		return nil
	}
	o, _ := t.get(v.ref).(*DreamObject)
	return o
}

// List resolves a list value.
func (t *ObjectTable) List(v Value) *List {
	if v.tag != TagList {
		return nil
	}
	l, _ := t.get(v.ref).(*List)
	return l
}

// Resource resolves a resource value.
func (t *ObjectTable) Resource(v Value) *Resource {
	if v.tag != TagResource {
		return nil
	}
	r, _ := t.get(v.ref).(*Resource)
	return r
}
