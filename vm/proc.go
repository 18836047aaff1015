package vm

import (
	"github.com/chazu/dream/program"
)

// ---------------------------------------------------------------------------
// Proc: a callable procedure
// ---------------------------------------------------------------------------

// Proc is a procedure that can be invoked on a thread. Invoking a proc never
// runs it: CreateState returns a ProcState positioned at entry, and the
// thread drives it.
type Proc interface {
	Name() string

	// Owner is the type that declared the proc, or "" for global procs.
	Owner() TypePath

	// SuperProc is the implementation this proc overrides, or nil.
	SuperProc() Proc
	SetSuperProc(p Proc)

	// WaitFor reports whether callers wait for the proc across a sleep.
	// When false, a sleep inside the proc splits it off onto a new thread
	// and the caller continues immediately.
	WaitFor() bool

	ArgumentNames() []string
	ArgumentTypes() []program.ValueType

	CreateState(t *Thread, src, usr *DreamObject, args Arguments) (ProcState, error)
}

// procBase implements the descriptive half of Proc.
type procBase struct {
	name     string
	owner    TypePath
	super    Proc
	waitFor  bool
	argNames []string
	argTypes []program.ValueType
}

func (p *procBase) Name() string                       { return p.name }
func (p *procBase) Owner() TypePath                    { return p.owner }
func (p *procBase) SuperProc() Proc                    { return p.super }
func (p *procBase) SetSuperProc(s Proc)                { p.super = s }
func (p *procBase) WaitFor() bool                      { return p.waitFor }
func (p *procBase) ArgumentNames() []string            { return p.argNames }
func (p *procBase) ArgumentTypes() []program.ValueType { return p.argTypes }

// qualifiedName renders owner/name for traces.
func (p *procBase) qualifiedName() string {
	if p.owner == "" || p.owner == PathRoot {
		return "/proc/" + p.name
	}
	return string(p.owner) + "/proc/" + p.name
}

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// Arguments are the values passed to a proc, positionally and by name.
type Arguments struct {
	Ordered []Value
	Named   map[string]Value
}

// Args builds positional arguments.
func Args(values ...Value) Arguments {
	return Arguments{Ordered: values}
}

// Count returns the number of arguments of both kinds.
func (a Arguments) Count() int {
	return len(a.Ordered) + len(a.Named)
}

// Get returns the i'th positional argument, or Null.
func (a Arguments) Get(i int) Value {
	if i < 0 || i >= len(a.Ordered) {
		return Null
	}
	return a.Ordered[i]
}

// Bind lays the arguments out in parameter order. Positional arguments fill
// the leading slots, named arguments fill the slot of their name, and
// surplus positional arguments are kept after the declared parameters.
func (a Arguments) Bind(names []string) []Value {
	n := max(len(names), len(a.Ordered))
	out := make([]Value, n)
	copy(out, a.Ordered)
	for i, name := range names {
		if v, ok := a.Named[name]; ok {
			out[i] = v
		}
	}
	return out
}
