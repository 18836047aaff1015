package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/dream/program"
	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// AsyncNativeProc: Go handlers that can await and call
// ---------------------------------------------------------------------------

// AsyncHandler implements an async native proc. It runs as a coroutine: each
// Await or Call hands control back to the thread and returns once the
// awaited value is available.
type AsyncHandler func(c *AsyncCall) (Value, error)

// AsyncNativeProc is a proc implemented in Go that may suspend.
type AsyncNativeProc struct {
	procBase
	rt      *Runtime
	handler AsyncHandler
}

// NewAsyncNativeProc creates an async native proc.
func NewAsyncNativeProc(rt *Runtime, owner TypePath, name string, argNames []string, waitFor bool, handler AsyncHandler) *AsyncNativeProc {
	return &AsyncNativeProc{
		procBase: procBase{
			name:     name,
			owner:    owner,
			waitFor:  waitFor,
			argNames: argNames,
			argTypes: make([]program.ValueType, len(argNames)),
		},
		rt:      rt,
		handler: handler,
	}
}

func (p *AsyncNativeProc) CreateState(t *Thread, src, usr *DreamObject, args Arguments) (ProcState, error) {
	s := newAsyncState(p.rt, t, p, p.handler, src, usr, args)
	s.call.Bound = args.Bind(p.argNames)
	return s, nil
}

// AsyncCall is the invocation context handed to an async handler. Its
// methods may only be called from the handler's goroutine.
type AsyncCall struct {
	Runtime *Runtime
	Src     *DreamObject
	Usr     *DreamObject
	Args    Arguments
	Bound   []Value

	s *asyncState
}

// Arg returns the i'th bound argument, or Null.
func (c *AsyncCall) Arg(i int) Value {
	if i < 0 || i >= len(c.Bound) {
		return Null
	}
	return c.Runtime.objects.Normalize(c.Bound[i])
}

// Thread returns the thread currently holding the handler's frame.
func (c *AsyncCall) Thread() *Thread {
	return c.s.Thread()
}

// Await suspends the handler until f resolves.
func (c *AsyncCall) Await(f *Future) (Value, error) {
	return c.s.yield(asyncEvent{kind: eventAwait, future: f})
}

// Sleep suspends the handler for ticks scheduler ticks.
func (c *AsyncCall) Sleep(ticks int) error {
	_, err := c.Await(c.Runtime.scheduler.After(ticks))
	return err
}

// Call invokes proc on the handler's thread and returns its result.
func (c *AsyncCall) Call(proc Proc, src, usr *DreamObject, args Arguments) (Value, error) {
	return c.s.yield(asyncEvent{kind: eventCall, proc: proc, src: src, usr: usr, args: args})
}

// ---------------------------------------------------------------------------
// Coroutine plumbing
// ---------------------------------------------------------------------------

type asyncEventKind int

const (
	eventDone asyncEventKind = iota
	eventAwait
	eventCall
)

type asyncEvent struct {
	kind  asyncEventKind
	value Value
	err   error

	future *Future

	proc     Proc
	src, usr *DreamObject
	args     Arguments
}

type asyncReply struct {
	value Value
	err   error
}

// asyncState runs its handler on a goroutine. Control passes over
// unbuffered channels, so the handler and the thread never run at once.
type asyncState struct {
	stateBase
	rt      *Runtime
	proc    *AsyncNativeProc // nil for anonymous states
	handler AsyncHandler
	call    *AsyncCall

	started  bool
	finished bool
	pending  *asyncReply

	toHandler   chan asyncReply
	fromHandler chan asyncEvent
	quit        chan struct{}
}

func newAsyncState(rt *Runtime, t *Thread, p *AsyncNativeProc, h AsyncHandler, src, usr *DreamObject, args Arguments) *asyncState {
	s := &asyncState{
		rt:          rt,
		proc:        p,
		handler:     h,
		toHandler:   make(chan asyncReply),
		fromHandler: make(chan asyncEvent),
		quit:        make(chan struct{}),
	}
	s.thread = t
	s.call = &AsyncCall{Runtime: rt, Src: src, Usr: usr, Args: args, Bound: args.Ordered, s: s}
	return s
}

func (s *asyncState) Proc() Proc {
	if s.proc == nil {
		return nil
	}
	return s.proc
}

func (s *asyncState) ReturnedInto(v Value) {
	s.pending = &asyncReply{value: v}
}

func (s *asyncState) AppendStackFrame(b *strings.Builder) {
	if s.proc == nil {
		b.WriteString("<anonymous async proc>")
		return
	}
	b.WriteString(s.proc.qualifiedName())
	b.WriteString(" (async native)")
}

func (s *asyncState) Step() (ProcStatus, error) {
	if s.finished {
		return Returned, nil
	}

	if !s.started {
		s.started = true
		go s.run()
	} else {
		reply := asyncReply{}
		if s.pending != nil {
			reply = *s.pending
			s.pending = nil
		}
		s.toHandler <- reply
	}

	for {
		ev := <-s.fromHandler
		switch ev.kind {
		case eventDone:
			s.finished = true
			s.result = ev.value
			return Returned, ev.err

		case eventCall:
			child, err := ev.proc.CreateState(s.thread, ev.src, ev.usr, ev.args)
			if err != nil {
				s.toHandler <- asyncReply{err: err}
				continue
			}
			if err := s.thread.PushState(child); err != nil {
				s.abandon()
				return Cancelled, err
			}
			return Called, nil

		case eventAwait:
			if ev.future.Done() {
				v, err := ev.future.Result()
				s.toHandler <- asyncReply{value: v, err: err}
				continue
			}
			sched := s.rt.scheduler
			ev.future.OnComplete(func(v Value, err error) {
				s.pending = &asyncReply{value: v, err: err}
				sched.Wake(s)
			})
			return s.thread.HandleDefer()

		default:
			return Returned, errors.Errorf("unknown async event %d", ev.kind)
		}
	}
}

// run is the handler goroutine.
func (s *asyncState) run() {
	var ev asyncEvent
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			ev = asyncEvent{kind: eventDone, err: errors.Wrap(err, "async proc panicked")}
		}
		select {
		case s.fromHandler <- ev:
		case <-s.quit:
		}
	}()

	v, err := s.handler(s.call)
	ev = asyncEvent{kind: eventDone, value: v, err: err}
}

// yield hands ev to the thread and blocks until the thread replies.
func (s *asyncState) yield(ev asyncEvent) (Value, error) {
	select {
	case s.fromHandler <- ev:
	case <-s.quit:
		return Null, ErrAbandoned
	}
	select {
	case r := <-s.toHandler:
		return r.value, r.err
	case <-s.quit:
		return Null, ErrAbandoned
	}
}

// abandon releases a handler goroutine whose frame was discarded.
func (s *asyncState) abandon() {
	if s.finished {
		return
	}
	s.finished = true
	if s.started {
		close(s.quit)
	}
}
