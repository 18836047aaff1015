package vm

import (
	"iter"
	"slices"
	"unicode/utf8"

	"github.com/chazu/dream/program"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// ObjectTree: the loaded type hierarchy
// ---------------------------------------------------------------------------

// TreeEntry is one type in the tree. Entries live in a flat arena and refer
// to each other by index.
type TreeEntry struct {
	Path        TypePath
	Index       int
	ParentIndex int   // -1 for the root
	Children    []int // in image order
	Definition  *ObjectDefinition
}

// ObjectTree is the type hierarchy built from a program image.
type ObjectTree struct {
	entries []*TreeEntry
	byPath  map[TypePath]int
	root    int
}

// Len returns the number of types.
func (t *ObjectTree) Len() int { return len(t.entries) }

// Root returns the root entry.
func (t *ObjectTree) Root() *TreeEntry { return t.entries[t.root] }

// EntryAt returns the entry at index i, or nil.
func (t *ObjectTree) EntryAt(i int) *TreeEntry {
	if i < 0 || i >= len(t.entries) {
		return nil
	}
	return t.entries[i]
}

// Has reports whether path names a type.
func (t *ObjectTree) Has(path TypePath) bool {
	_, ok := t.byPath[path]
	return ok
}

// Entry returns the entry for path.
func (t *ObjectTree) Entry(path TypePath) (*TreeEntry, error) {
	i, ok := t.byPath[path]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%s", path)
	}
	return t.entries[i], nil
}

// Definition returns the object definition of path.
func (t *ObjectTree) Definition(path TypePath) (*ObjectDefinition, error) {
	e, err := t.Entry(path)
	if err != nil {
		return nil, err
	}
	return e.Definition, nil
}

// Descendants yields path and every type below it, depth-first, parents
// before children and siblings in image order. The sequence is lazy and can
// be ranged over any number of times.
func (t *ObjectTree) Descendants(path TypePath) (iter.Seq[*TreeEntry], error) {
	e, err := t.Entry(path)
	if err != nil {
		return nil, err
	}
	return t.descendants(e.Index), nil
}

func (t *ObjectTree) descendants(start int) iter.Seq[*TreeEntry] {
	return func(yield func(*TreeEntry) bool) {
		stack := []int{start}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			e := t.entries[i]
			if !yield(e) {
				return
			}
			for j := len(e.Children) - 1; j >= 0; j-- {
				stack = append(stack, e.Children[j])
			}
		}
	}
}

// SetHook installs hook on path and all of its descendants.
func (t *ObjectTree) SetHook(path TypePath, hook ObjectHook) error {
	seq, err := t.Descendants(path)
	if err != nil {
		return err
	}
	for e := range seq {
		e.Definition.Hook = hook
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadObjectTree builds the type tree for img in four passes: allocate
// entries, link parents, build definitions root first, then derive defaults
// for atoms. Any malformed record fails the whole load with a *LoadError.
func LoadObjectTree(rt *Runtime, img *program.Image) (*ObjectTree, error) {
	t := &ObjectTree{
		entries: make([]*TreeEntry, len(img.Types)),
		byPath:  make(map[TypePath]int, len(img.Types)),
		root:    -1,
	}

	// Allocate.
	for i, rec := range img.Types {
		path := TypePath(rec.Path)
		if path == "" {
			return nil, &LoadError{Index: i, Err: errors.New("empty type path")}
		}
		if prev, dup := t.byPath[path]; dup {
			return nil, &LoadError{Type: path, Index: i, Err: errors.Wrapf(ErrDuplicateType, "also declared at %d", prev)}
		}
		t.byPath[path] = i
		t.entries[i] = &TreeEntry{Path: path, Index: i, ParentIndex: -1}
		if path == PathRoot {
			t.root = i
		}
	}

	// Link.
	for i, rec := range img.Types {
		if rec.Parent == nil {
			continue
		}
		p := *rec.Parent
		if p < 0 || p >= len(t.entries) || p == i {
			return nil, &LoadError{Type: t.entries[i].Path, Index: i, Err: errors.Wrapf(ErrBadParent, "%d", p)}
		}
		t.entries[i].ParentIndex = p
		t.entries[p].Children = append(t.entries[p].Children, i)
	}

	if t.root < 0 {
		return nil, &LoadError{Type: PathRoot, Index: -1, Err: ErrMissingRoot}
	}
	if t.entries[t.root].ParentIndex >= 0 {
		return nil, &LoadError{Type: PathRoot, Index: t.root, Err: errors.Wrap(ErrBadParent, "root has a parent")}
	}

	// Build definitions root first.
	visited := make([]bool, len(t.entries))
	for e := range t.descendants(t.root) {
		visited[e.Index] = true

		var parent *ObjectDefinition
		if e.ParentIndex >= 0 {
			parent = t.entries[e.ParentIndex].Definition
		}
		def, err := rt.buildDefinition(t, e.Path, parent, img.Types[e.Index])
		if err != nil {
			return nil, &LoadError{Type: e.Path, Index: e.Index, Err: err}
		}
		e.Definition = def
	}
	if i := slices.Index(visited, false); i >= 0 {
		return nil, &LoadError{Type: t.entries[i].Path, Index: i, Err: ErrUnreachable}
	}

	// Derive defaults for atoms.
	if t.Has(PathAtom) {
		seq, _ := t.Descendants(PathAtom)
		for e := range seq {
			deriveAtomText(e.Definition)
		}
	}

	return t, nil
}

func (rt *Runtime) buildDefinition(t *ObjectTree, path TypePath, parent *ObjectDefinition, rec program.Type) (*ObjectDefinition, error) {
	def := NewObjectDefinition(path, parent)

	for _, name := range sortedKeys(rec.Variables) {
		v, err := rt.valueFromLiteral(t, rec.Variables[name])
		if err != nil {
			return nil, errors.Wrapf(err, "variable %s", name)
		}
		def.SetVariableDefinition(name, v)
	}

	for _, name := range sortedKeys(rec.GlobalVariables) {
		slot := rec.GlobalVariables[name]
		if slot < 0 || slot >= len(rt.globals) {
			return nil, errors.Wrapf(ErrBadGlobalSlot, "global variable %s: slot %d", name, slot)
		}
		def.GlobalVariables[name] = slot
	}

	for _, name := range sortedKeys(rec.Procs) {
		for _, pd := range rec.Procs[name] {
			def.SetProcDefinition(name, NewDMProc(rt, path, name, pd))
		}
	}

	if rec.InitProc != nil {
		ip := NewInitProc(rt, path, *rec.InitProc)
		if parent != nil && parent.InitProc != nil {
			ip.SetSuperProc(parent.InitProc)
		}
		def.InitProc = ip
	}

	return def, nil
}

// deriveAtomText defaults an atom's text to the first character of its name.
func deriveAtomText(def *ObjectDefinition) {
	name, ok := def.Variables["name"].AsString()
	if !ok || !def.Variables["text"].IsNull() {
		return
	}
	text := ""
	if name != "" {
		r, _ := utf8.DecodeRuneInString(name)
		text = string(r)
	}
	def.Variables["text"] = String(text)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
