package vm

import (
	"strings"
	"testing"

	"github.com/chazu/dream/program"
)

// recordingSink collects fault reports.
type recordingSink struct {
	reports []string
}

func (s *recordingSink) ReportFault(report string) {
	s.reports = append(s.reports, report)
}

func (s *recordingSink) contains(substr string) bool {
	for _, r := range s.reports {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func newTestRuntime(t *testing.T, opts Options) (*Runtime, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts.Faults = sink
	return NewRuntime(opts), sink
}

func mustLoad(t *testing.T, rt *Runtime, img *program.Image) {
	t.Helper()
	if err := rt.LoadProgram(img); err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
}

// strtab builds a string table and hands out indices.
type strtab struct {
	strs []string
	idx  map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{idx: make(map[string]uint32)}
}

func (s *strtab) id(str string) uint32 {
	if i, ok := s.idx[str]; ok {
		return i
	}
	i := uint32(len(s.strs))
	s.strs = append(s.strs, str)
	s.idx[str] = i
	return i
}

func procDef(bc *BytecodeBuilder, waitFor bool, args ...string) program.ProcDef {
	pd := program.ProcDef{Bytecode: bc.Bytes(), MaxStackSize: 8}
	for _, a := range args {
		pd.Arguments = append(pd.Arguments, program.Argument{Name: a})
	}
	if !waitFor {
		pd.WaitFor = program.Bool(false)
	}
	return pd
}

// ---------------------------------------------------------------------------
// Scripted frames for driving threads directly
// ---------------------------------------------------------------------------

// testProc is a Proc that only carries metadata; scripted states never call
// CreateState.
type testProc struct {
	procBase
}

func newTestProc(name string, waitFor bool) *testProc {
	return &testProc{procBase{name: name, waitFor: waitFor}}
}

func (p *testProc) CreateState(t *Thread, src, usr *DreamObject, args Arguments) (ProcState, error) {
	return newScript(t, p), nil
}

type scriptStep func(s *scriptState) (ProcStatus, error)

// scriptState runs one scripted function per Step. With no steps left it
// returns.
type scriptState struct {
	stateBase
	proc     *testProc
	steps    []scriptStep
	received []Value
}

func newScript(t *Thread, p *testProc, steps ...scriptStep) *scriptState {
	s := &scriptState{proc: p, steps: steps}
	s.thread = t
	return s
}

func (s *scriptState) Proc() Proc {
	if s.proc == nil {
		return nil
	}
	return s.proc
}

func (s *scriptState) ReturnedInto(v Value) {
	s.received = append(s.received, v)
}

func (s *scriptState) Step() (ProcStatus, error) {
	if len(s.steps) == 0 {
		return Returned, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step(s)
}

func (s *scriptState) AppendStackFrame(b *strings.Builder) {
	b.WriteString("script ")
	if s.proc != nil {
		b.WriteString(s.proc.name)
	}
}

// callStep pushes callee and reports Called.
func callStep(callee *scriptState) scriptStep {
	return func(s *scriptState) (ProcStatus, error) {
		callee.SetThread(s.Thread())
		if err := s.Thread().PushState(callee); err != nil {
			return Cancelled, err
		}
		return Called, nil
	}
}

// returnStep sets the result and returns.
func returnStep(v Value) scriptStep {
	return func(s *scriptState) (ProcStatus, error) {
		s.SetResult(v)
		return Returned, nil
	}
}

func deferStep(s *scriptState) (ProcStatus, error) {
	return s.Thread().HandleDefer()
}
