package vm

import (
	"fmt"
	"strings"
)

// ProcStatus is the outcome of one step of a ProcState.
type ProcStatus int

const (
	// Cancelled: the whole thread is stopping.
	Cancelled ProcStatus = iota
	// Returned: the top frame finished and its Result is the return value.
	Returned
	// Deferred: the thread is paused and will be resumed later.
	Deferred
	// Called: the state pushed a new frame that should run next.
	Called
)

func (s ProcStatus) String() string {
	switch s {
	case Cancelled:
		return "Cancelled"
	case Returned:
		return "Returned"
	case Deferred:
		return "Deferred"
	case Called:
		return "Called"
	}
	return fmt.Sprintf("ProcStatus(%d)", int(s))
}

// ProcState is one resumable invocation of a proc: a stack frame.
type ProcState interface {
	// Thread is the thread currently holding the frame. A stack split moves
	// frames to a new thread and reassigns this.
	Thread() *Thread
	SetThread(t *Thread)

	// Proc is the invoked proc, or nil for anonymous states.
	Proc() Proc

	// Result is the frame's return value so far.
	Result() Value
	SetResult(v Value)

	// Step runs the frame until it returns, calls, defers or is cancelled.
	Step() (ProcStatus, error)

	// ReturnedInto delivers the return value of a callee this frame pushed.
	ReturnedInto(v Value)

	AppendStackFrame(b *strings.Builder)
}

// stateBase implements the bookkeeping half of ProcState.
type stateBase struct {
	thread *Thread
	result Value
}

func (s *stateBase) Thread() *Thread     { return s.thread }
func (s *stateBase) SetThread(t *Thread) { s.thread = t }
func (s *stateBase) Result() Value       { return s.result }
func (s *stateBase) SetResult(v Value)   { s.result = v }
func (s *stateBase) ReturnedInto(Value)  {}

// stateWaitFor reports a frame's wait-for flag. Anonymous states wait.
func stateWaitFor(s ProcState) bool {
	if p := s.Proc(); p != nil {
		return p.WaitFor()
	}
	return true
}

// abandoner is implemented by states holding resources that must be
// released when the frame is discarded without returning.
type abandoner interface {
	abandon()
}
