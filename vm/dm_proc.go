package vm

import (
	"github.com/chazu/dream/program"
)

// initProcName names the variable-initialization proc in traces.
const initProcName = "(init)"

// DMProc is a proc implemented in bytecode.
type DMProc struct {
	procBase
	rt           *Runtime
	Bytecode     []byte
	MaxStackSize int

	// initializer procs run their super proc first and discard its result,
	// so creating an object initializes variables from the root type down.
	initializer bool
}

// NewDMProc creates a bytecode proc declared on owner.
func NewDMProc(rt *Runtime, owner TypePath, name string, def program.ProcDef) *DMProc {
	return &DMProc{
		procBase: procBase{
			name:     name,
			owner:    owner,
			waitFor:  def.ShouldWaitFor(),
			argNames: def.ArgumentNames(),
			argTypes: def.ArgumentTypes(),
		},
		rt:           rt,
		Bytecode:     def.Bytecode,
		MaxStackSize: def.MaxStackSize,
	}
}

// NewInitProc creates the variable-initialization proc of owner.
func NewInitProc(rt *Runtime, owner TypePath, def program.ProcDef) *DMProc {
	p := NewDMProc(rt, owner, initProcName, def)
	p.initializer = true
	return p
}

// IsInitializer reports whether p is a variable-initialization proc.
func (p *DMProc) IsInitializer() bool { return p.initializer }

func (p *DMProc) CreateState(t *Thread, src, usr *DreamObject, args Arguments) (ProcState, error) {
	s := &dmState{
		proc:  p,
		rt:    p.rt,
		src:   src,
		usr:   usr,
		args:  args,
		bound: args.Bind(p.argNames),
		stack: make([]Value, 0, max(p.MaxStackSize, 1)),
		r:     NewBytecodeReader(p.Bytecode),
	}
	s.thread = t
	return s, nil
}
