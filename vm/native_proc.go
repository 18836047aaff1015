package vm

import (
	"strings"

	"github.com/chazu/dream/program"
)

// NativeCall is the invocation context handed to a native handler.
type NativeCall struct {
	Runtime *Runtime
	Thread  *Thread
	Proc    Proc
	Src     *DreamObject
	Usr     *DreamObject
	Args    Arguments

	// Bound holds the arguments in parameter order.
	Bound []Value
}

// Arg returns the i'th bound argument, or Null.
func (c *NativeCall) Arg(i int) Value {
	if i < 0 || i >= len(c.Bound) {
		return Null
	}
	return c.Runtime.objects.Normalize(c.Bound[i])
}

// NativeHandler implements a synchronous native proc.
type NativeHandler func(c *NativeCall) (Value, error)

// NativeProc is a proc implemented in Go that completes in a single step.
type NativeProc struct {
	procBase
	rt      *Runtime
	handler NativeHandler
}

// NewNativeProc creates a native proc. Native procs run to completion in one
// step and never defer.
func NewNativeProc(rt *Runtime, owner TypePath, name string, argNames []string, handler NativeHandler) *NativeProc {
	return &NativeProc{
		procBase: procBase{
			name:     name,
			owner:    owner,
			waitFor:  true,
			argNames: argNames,
			argTypes: make([]program.ValueType, len(argNames)),
		},
		rt:      rt,
		handler: handler,
	}
}

func (p *NativeProc) CreateState(t *Thread, src, usr *DreamObject, args Arguments) (ProcState, error) {
	s := &nativeState{
		proc: p,
		call: &NativeCall{
			Runtime: p.rt,
			Thread:  t,
			Proc:    p,
			Src:     src,
			Usr:     usr,
			Args:    args,
			Bound:   args.Bind(p.argNames),
		},
	}
	s.thread = t
	return s, nil
}

type nativeState struct {
	stateBase
	proc *NativeProc
	call *NativeCall
}

func (s *nativeState) Proc() Proc { return s.proc }

func (s *nativeState) Step() (ProcStatus, error) {
	s.call.Thread = s.thread
	v, err := s.proc.handler(s.call)
	s.result = v
	return Returned, err
}

func (s *nativeState) AppendStackFrame(b *strings.Builder) {
	b.WriteString(s.proc.qualifiedName())
	b.WriteString(" (native)")
}
