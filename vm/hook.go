package vm

// ObjectHook observes the lifecycle of objects of a type and its
// descendants. Install one with ObjectTree.SetHook.
type ObjectHook interface {
	OnObjectCreated(o *DreamObject)
	OnObjectDeleted(o *DreamObject)
	OnVariableChanged(o *DreamObject, name string, old, new Value)
}

// HookFuncs adapts optional functions to ObjectHook. Nil fields are no-ops.
type HookFuncs struct {
	Created         func(o *DreamObject)
	Deleted         func(o *DreamObject)
	VariableChanged func(o *DreamObject, name string, old, new Value)
}

func (h HookFuncs) OnObjectCreated(o *DreamObject) {
	if h.Created != nil {
		h.Created(o)
	}
}

func (h HookFuncs) OnObjectDeleted(o *DreamObject) {
	if h.Deleted != nil {
		h.Deleted(o)
	}
}

func (h HookFuncs) OnVariableChanged(o *DreamObject, name string, old, new Value) {
	if h.VariableChanged != nil {
		h.VariableChanged(o, name, old, new)
	}
}
