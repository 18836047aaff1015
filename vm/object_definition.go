package vm

import "maps"

// ---------------------------------------------------------------------------
// ObjectDefinition: the resolved shape of a type
// ---------------------------------------------------------------------------

// ObjectDefinition holds the variable defaults and procs of one type after
// inheritance. A definition is built by copying its parent's maps and
// applying the type's own overrides, so lookups never walk the chain.
//
// A definition is shared by reference between all instances of its type and
// must not be changed once the program has loaded, except for Hook.
type ObjectDefinition struct {
	Type   TypePath
	Parent *ObjectDefinition

	Variables       map[string]Value
	GlobalVariables map[string]int
	Procs           map[string]Proc

	// InitProc runs on creation before New. Nil when no type in the chain
	// declares variable initialization code.
	InitProc Proc

	Hook ObjectHook
}

// NewObjectDefinition creates the definition for typ, inheriting from parent
// (nil for the root).
func NewObjectDefinition(typ TypePath, parent *ObjectDefinition) *ObjectDefinition {
	d := &ObjectDefinition{
		Type:            typ,
		Parent:          parent,
		Variables:       make(map[string]Value),
		GlobalVariables: make(map[string]int),
		Procs:           make(map[string]Proc),
	}
	if parent != nil {
		maps.Copy(d.Variables, parent.Variables)
		maps.Copy(d.GlobalVariables, parent.GlobalVariables)
		maps.Copy(d.Procs, parent.Procs)
		d.InitProc = parent.InitProc
		d.Hook = parent.Hook
	}
	return d
}

// IsSubtypeOf reports whether the definition's type is path or descends from it.
func (d *ObjectDefinition) IsSubtypeOf(path TypePath) bool {
	for def := d; def != nil; def = def.Parent {
		if def.Type == path {
			return true
		}
	}
	return false
}

// HasVariable reports whether name is an instance or global variable.
func (d *ObjectDefinition) HasVariable(name string) bool {
	if _, ok := d.Variables[name]; ok {
		return true
	}
	_, ok := d.GlobalVariables[name]
	return ok
}

// SetVariableDefinition sets the default of an instance variable.
func (d *ObjectDefinition) SetVariableDefinition(name string, v Value) {
	d.Variables[name] = v
}

// SetProcDefinition installs proc under name. A proc already present under
// that name, inherited or declared earlier on this type, becomes the new
// proc's super proc.
func (d *ObjectDefinition) SetProcDefinition(name string, proc Proc) {
	if existing, ok := d.Procs[name]; ok {
		proc.SetSuperProc(existing)
	}
	d.Procs[name] = proc
}

// GetProc returns the proc called name.
func (d *ObjectDefinition) GetProc(name string) (Proc, bool) {
	p, ok := d.Procs[name]
	return p, ok
}

// HasProc reports whether a proc called name exists.
func (d *ObjectDefinition) HasProc(name string) bool {
	_, ok := d.Procs[name]
	return ok
}

func (d *ObjectDefinition) String() string {
	return "definition " + string(d.Type)
}
