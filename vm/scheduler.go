package vm

import (
	"container/heap"
	"math"
)

// ---------------------------------------------------------------------------
// Future
// ---------------------------------------------------------------------------

// Future is a value that becomes available later, typically on a scheduler
// tick. Callbacks run on whichever goroutine completes it, which for the
// scheduler is the one calling Tick.
type Future struct {
	done      bool
	value     Value
	err       error
	callbacks []func(Value, error)
}

// NewFuture creates an incomplete future.
func NewFuture() *Future {
	return &Future{}
}

// Complete resolves the future with v. Later completions are ignored.
func (f *Future) Complete(v Value) {
	f.settle(v, nil)
}

// Fail resolves the future with err. Later completions are ignored.
func (f *Future) Fail(err error) {
	f.settle(Null, err)
}

func (f *Future) settle(v Value, err error) {
	if f.done {
		return
	}
	f.done, f.value, f.err = true, v, err
	cbs := f.callbacks
	f.callbacks = nil
	for _, cb := range cbs {
		cb(v, err)
	}
}

// Done reports whether the future has resolved.
func (f *Future) Done() bool { return f.done }

// Result returns the resolved value and error.
func (f *Future) Result() (Value, error) { return f.value, f.err }

// OnComplete registers fn to run on resolution, or runs it now if resolved.
func (f *Future) OnComplete(fn func(Value, error)) {
	if f.done {
		fn(f.value, f.err)
		return
	}
	f.callbacks = append(f.callbacks, fn)
}

// ---------------------------------------------------------------------------
// Scheduler: the tick driver for deferred threads
// ---------------------------------------------------------------------------

type timer struct {
	deadline int64
	seq      uint64
	future   *Future
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(*timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler resumes deferred frames. Time advances only through Tick.
// Timers fire in deadline order, FIFO among equal deadlines, and wakes are
// drained FIFO.
type Scheduler struct {
	rt     *Runtime
	now    int64
	seq    uint64
	timers timerHeap
	wakes  []ProcState
}

func newScheduler(rt *Runtime) *Scheduler {
	return &Scheduler{rt: rt}
}

// Now returns the current tick.
func (s *Scheduler) Now() int64 { return s.now }

// MaxSleepTicks caps a sleep delay.
const MaxSleepTicks = math.MaxInt32

// sleepTicks converts a sleep delay to a tick count. Non-numbers and NaN
// sleep zero ticks; huge delays clamp to MaxSleepTicks.
func sleepTicks(delay Value) int {
	n, ok := delay.AsNumber()
	if !ok || math.IsNaN(n) || n <= 0 {
		return 0
	}
	if n >= MaxSleepTicks {
		return MaxSleepTicks
	}
	return int(n)
}

// After returns a future completed ticks ticks from now. Non-positive
// delays complete on the next tick.
func (s *Scheduler) After(ticks int) *Future {
	f := NewFuture()
	s.seq++
	heap.Push(&s.timers, &timer{
		deadline: s.now + int64(max(ticks, 1)),
		seq:      s.seq,
		future:   f,
	})
	return f
}

// Wake queues a resume of the thread holding state. The thread is looked up
// when the wake runs, so a frame moved by a stack split resumes on its new
// thread. The wake is dropped if state is no longer that thread's top frame.
func (s *Scheduler) Wake(state ProcState) {
	s.wakes = append(s.wakes, state)
}

// Pending returns the number of queued timers and wakes.
func (s *Scheduler) Pending() int {
	return len(s.timers) + len(s.wakes)
}

// Tick advances time by one tick, fires due timers and runs the resulting
// wakes. It returns the number of threads resumed.
func (s *Scheduler) Tick() int {
	s.now++
	for len(s.timers) > 0 && s.timers[0].deadline <= s.now {
		t := heap.Pop(&s.timers).(*timer)
		t.future.Complete(Null)
	}
	return s.RunPending()
}

// RunPending runs queued wakes without advancing time, including wakes
// queued while draining.
func (s *Scheduler) RunPending() int {
	resumed := 0
	for len(s.wakes) > 0 {
		state := s.wakes[0]
		s.wakes[0] = nil
		s.wakes = s.wakes[1:]

		t := state.Thread()
		if t == nil || t.Current() != state {
			s.rt.log.Debugf("dropping wake for frame no longer on top")
			continue
		}
		v, status := t.Resume()
		resumed++
		if status != Deferred {
			s.rt.log.Debugf("thread %s finished: %s %s", t.ID(), status, v)
		}
	}
	return resumed
}
