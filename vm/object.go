package vm

import (
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// DreamObject: an instance of a type
// ---------------------------------------------------------------------------

// DreamObject is a live instance. Instance variables are copy-on-write over
// the definition's defaults: an object stores only the variables it has
// assigned.
type DreamObject struct {
	ref        Ref
	rt         *Runtime
	Definition *ObjectDefinition
	vars       map[string]Value
	deleted    bool
}

// Value returns the object's reference value.
func (o *DreamObject) Value() Value {
	return objectValue(o.ref)
}

// Type returns the object's type path.
func (o *DreamObject) Type() TypePath {
	return o.Definition.Type
}

// IsSubtypeOf reports whether the object's type is path or descends from it.
func (o *DreamObject) IsSubtypeOf(path TypePath) bool {
	return o.Definition.IsSubtypeOf(path)
}

// Deleted reports whether DeleteObject has run on the object.
func (o *DreamObject) Deleted() bool {
	return o.deleted
}

// HasVariable reports whether the object's type declares name.
func (o *DreamObject) HasVariable(name string) bool {
	return o.Definition.HasVariable(name)
}

// GetVariable reads a variable: the instance value if assigned, else the
// type default, else the global slot the type binds name to. References to
// deleted objects read as Null.
func (o *DreamObject) GetVariable(name string) (Value, error) {
	if v, ok := o.vars[name]; ok {
		return o.rt.objects.Normalize(v), nil
	}
	if v, ok := o.Definition.Variables[name]; ok {
		return o.rt.objects.Normalize(v), nil
	}
	if slot, ok := o.Definition.GlobalVariables[name]; ok {
		return o.rt.Global(slot)
	}
	return Null, errors.Errorf("%s has no variable %q", o.Type(), name)
}

// SetVariable assigns a variable. Global variables write through to their
// slot; instance variables are stored on the object.
func (o *DreamObject) SetVariable(name string, v Value) error {
	if _, ok := o.Definition.Variables[name]; !ok {
		if slot, ok := o.Definition.GlobalVariables[name]; ok {
			return o.rt.SetGlobal(slot, v)
		}
		return errors.Errorf("%s has no variable %q", o.Type(), name)
	}

	old, _ := o.GetVariable(name)
	if o.vars == nil {
		o.vars = make(map[string]Value)
	}
	o.vars[name] = v
	if h := o.Definition.Hook; h != nil {
		h.OnVariableChanged(o, name, old, v)
	}
	return nil
}

// GetProc returns the proc called name on the object's type.
func (o *DreamObject) GetProc(name string) (Proc, error) {
	p, ok := o.Definition.GetProc(name)
	if !ok {
		return nil, errors.Errorf("%s has no proc %q", o.Type(), name)
	}
	return p, nil
}

func (o *DreamObject) String() string {
	return string(o.Type()) + " " + o.Value().String()
}

// ---------------------------------------------------------------------------
// Resource
// ---------------------------------------------------------------------------

// Resource is loaded file content addressed by its resource path.
type Resource struct {
	ref  Ref
	Path string
	Data []byte
}

// Value returns the resource's reference value.
func (r *Resource) Value() Value {
	return resourceValue(r.ref)
}
