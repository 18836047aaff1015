package vm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultMaxStackDepth is the frame limit used when Options leaves it unset.
const DefaultMaxStackDepth = 256

// ---------------------------------------------------------------------------
// Thread: a resumable call stack
// ---------------------------------------------------------------------------

// Thread is an execution context: a stack of ProcStates driven by Resume.
//
// A sleep inside a frame whose stack holds a WaitFor=false proc splits the
// stack: the sleeping frames up to and including the nearest WaitFor=false
// frame move to a new Thread, and the original thread continues as if that
// frame had returned.
//
// Threads are not safe for concurrent use.
type Thread struct {
	id      uuid.UUID
	rt      *Runtime
	current ProcState
	stack   []ProcState // callers of current, bottom first

	// syncCount is the number of frames whose proc has WaitFor=false.
	syncCount int

	// cancelErr is set when a push overflowed; the next Resume cancels.
	cancelErr error
}

// NewThread creates an empty thread on rt.
func NewThread(rt *Runtime) *Thread {
	return &Thread{id: uuid.New(), rt: rt}
}

// ID returns the thread's unique identifier.
func (t *Thread) ID() uuid.UUID { return t.id }

// Runtime returns the runtime the thread runs on.
func (t *Thread) Runtime() *Runtime { return t.rt }

// Current returns the top frame, or nil.
func (t *Thread) Current() ProcState { return t.current }

// Depth returns the number of frames on the thread.
func (t *Thread) Depth() int {
	if t.current == nil {
		return 0
	}
	return len(t.stack) + 1
}

// SyncCount returns the number of WaitFor=false frames on the thread.
func (t *Thread) SyncCount() int { return t.syncCount }

// Frames returns the frames from the top of the stack down.
func (t *Thread) Frames() []ProcState {
	if t.current == nil {
		return nil
	}
	out := make([]ProcState, 0, len(t.stack)+1)
	out = append(out, t.current)
	for i := len(t.stack) - 1; i >= 0; i-- {
		out = append(out, t.stack[i])
	}
	return out
}

// Resume drives the thread until it finishes, pauses or is cancelled, and
// returns the value at that point along with the terminal status: Returned
// when the stack emptied, Deferred when paused, Cancelled when stopped.
func (t *Thread) Resume() (Value, ProcStatus) {
	if t.cancelErr != nil {
		return t.cancel(), Cancelled
	}
	if t.current == nil {
		t.rt.log.Warningf("resume of empty thread %s", t.id)
		return Null, Cancelled
	}

	for t.current != nil {
		// Stepping may rearrange this thread's stack.
		switch t.step(t.current) {
		case Cancelled:
			return t.cancel(), Cancelled

		case Returned:
			returned := t.current.Result()
			t.PopState()
			if t.current == nil {
				return returned, Returned
			}
			t.current.ReturnedInto(returned)

		case Deferred:
			return t.current.Result(), Deferred

		case Called:
		}
	}

	panic(&invariantError{msg: "thread loop exited without a terminal status"})
}

// step runs one step of s and converts escaping faults into statuses.
func (t *Thread) step(s ProcState) (status ProcStatus) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if ie, ok := r.(*invariantError); ok {
			panic(ie)
		}
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		t.HandleFault(errors.Wrap(err, "panic"))
		status = Returned
	}()

	status, err := s.Step()
	if err == nil {
		return status
	}

	t.HandleFault(err)

	var ce *CancellingError
	if errors.As(err, &ce) {
		return Cancelled
	}
	var pe *PropagatingError
	if errors.As(err, &pe) {
		s.SetResult(FaultValue(pe.Error()))
		return Returned
	}
	return Returned
}

// cancel discards every frame and returns the top frame's result.
func (t *Thread) cancel() Value {
	var result Value
	if t.current != nil {
		result = t.current.Result()
	}
	for _, f := range t.Frames() {
		if a, ok := f.(abandoner); ok {
			a.abandon()
		}
	}
	t.current = nil
	t.stack = nil
	t.syncCount = 0
	t.cancelErr = nil
	return result
}

// Cancel stops the thread, discarding all frames.
func (t *Thread) Cancel() {
	t.cancel()
}

// PushState makes s the top frame. Pushing onto a full stack fails with a
// cancelling ErrStackOverflow, and the thread cancels on its next Resume.
func (t *Thread) PushState(s ProcState) error {
	if t.Depth() >= t.rt.maxStackDepth {
		err := Cancelling(ErrStackOverflow)
		t.cancelErr = err
		return err
	}

	if !stateWaitFor(s) {
		t.syncCount++
	}
	if t.current != nil {
		t.stack = append(t.stack, t.current)
	}
	t.current = s
	return nil
}

// PopState removes the top frame.
func (t *Thread) PopState() {
	if t.current == nil {
		return
	}
	if !stateWaitFor(t.current) {
		t.syncCount--
	}
	if n := len(t.stack); n > 0 {
		t.current = t.stack[n-1]
		t.stack[n-1] = nil
		t.stack = t.stack[:n-1]
	} else {
		t.current = nil
	}
}

// HandleDefer is called by a frame that wants to pause. Without WaitFor=false
// frames on the stack the whole thread pauses (Deferred). Otherwise the
// stack is split: the top frames up to and including the nearest
// WaitFor=false frame move to a new thread, the original thread gets that
// frame back on top and Returned is reported so the caller continues.
//
// The moved frame is briefly on both threads; the original pops it right
// away and delivers its current Result to the caller.
func (t *Thread) HandleDefer() (ProcStatus, error) {
	if t.syncCount <= 0 {
		return Deferred, nil
	}

	// moved holds frames top first.
	var moved []ProcState
	for stateWaitFor(t.current) {
		moved = append(moved, t.current)
		t.PopState()
		if t.current == nil {
			panic(&invariantError{msg: "sync count positive but no WaitFor=false frame"})
		}
	}
	split := t.current
	moved = append(moved, split)
	t.PopState()

	nt := NewThread(t.rt)
	for i := len(moved) - 1; i >= 0; i-- {
		moved[i].SetThread(nt)
		if err := nt.PushState(moved[i]); err != nil {
			return Cancelled, err
		}
	}

	if err := t.PushState(split); err != nil {
		return Cancelled, err
	}
	if t.current == nil {
		panic(&invariantError{msg: "stack split emptied the original thread"})
	}

	t.rt.log.Debugf("thread %s split into %s (%d frames)", t.id, nt.id, len(moved))
	return Returned, nil
}

// AppendStackTrace writes one line per frame, top first.
func (t *Thread) AppendStackTrace(b *strings.Builder) {
	for _, f := range t.Frames() {
		b.WriteString("   ")
		f.AppendStackFrame(b)
		b.WriteByte('\n')
	}
}

// HandleFault counts err and sends a report to the runtime's fault sink.
func (t *Thread) HandleFault(err error) {
	t.rt.faultCount.Add(1)
	t.rt.faults.ReportFault(formatFault(t, err))
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %s (depth %d)", t.id, t.Depth())
}
