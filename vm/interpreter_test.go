package vm

import (
	"errors"
	"testing"

	"github.com/chazu/dream/program"
)

// runGlobal runs the global proc name on a fresh thread.
func runGlobal(t *testing.T, rt *Runtime, name string, args ...Value) Value {
	t.Helper()
	p, err := rt.GlobalProc(name)
	if err != nil {
		t.Fatal(err)
	}
	v, err := rt.Run(p, nil, nil, Args(args...))
	if err != nil {
		t.Fatalf("Run(%s): %v", name, err)
	}
	return v
}

func globalImage(st *strtab, procs map[string]program.ProcDef, globals ...program.Global) *program.Image {
	return &program.Image{
		Strings:     st.strs,
		Types:       []program.Type{{Path: "/"}},
		Globals:     globals,
		GlobalProcs: procs,
	}
}

func TestArithmeticAndComparison(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		op   Opcode
		want Value
	}{
		{"add", Number(2), Number(3), OpAdd, Number(5)},
		{"sub", Number(2), Number(3), OpSub, Number(-1)},
		{"mul", Number(4), Number(2.5), OpMul, Number(10)},
		{"div", Number(9), Number(2), OpDiv, Number(4.5)},
		{"mod", Number(9), Number(4), OpMod, Number(1)},
		{"null is zero", Null, Number(3), OpAdd, Number(3)},
		{"concat", String("ab"), String("cd"), OpAdd, String("abcd")},
		{"concat null", String("ab"), Null, OpAdd, String("ab")},
		{"less", Number(1), Number(2), OpLess, Number(1)},
		{"greater eq", Number(1), Number(2), OpGreaterEq, Number(0)},
		{"string less", String("a"), String("b"), OpLess, Number(1)},
		{"equal", String("x"), String("x"), OpEqual, Number(1)},
		{"not equal types", String("1"), Number(1), OpNotEqual, Number(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := binaryOp(tt.op, tt.a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("%s %s %s = %s, want %s", tt.a, tt.op, tt.b, got, tt.want)
			}
		})
	}

	for _, op := range []Opcode{OpDiv, OpMod} {
		if _, err := binaryOp(op, Number(1), Number(0)); err == nil {
			t.Errorf("%s by zero should fail", op)
		}
	}
	if _, err := binaryOp(OpSub, String("a"), Number(1)); err == nil {
		t.Error("subtracting from a string should fail")
	}
}

func TestLoopWithLocalsAndJumps(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	// sum = 0; for (i = 1; i <= n; i++) sum += i; return sum
	bc := NewBytecodeBuilder()
	bc.EmitFloat(0).EmitByte(OpSetLocal, 0)
	bc.EmitFloat(1).EmitByte(OpSetLocal, 1)
	top, end := bc.NewLabel(), bc.NewLabel()
	bc.Mark(top)
	bc.EmitByte(OpPushLocal, 1).EmitByte(OpPushArgument, 0).Emit(OpLessEq).EmitJump(OpJumpIfFalse, end)
	bc.EmitByte(OpPushLocal, 0).EmitByte(OpPushLocal, 1).Emit(OpAdd).EmitByte(OpSetLocal, 0)
	bc.EmitByte(OpPushLocal, 1).EmitFloat(1).Emit(OpAdd).EmitByte(OpSetLocal, 1)
	bc.EmitJump(OpJump, top)
	bc.Mark(end)
	bc.EmitByte(OpPushLocal, 0).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"sum": procDef(bc, true, "n")}))

	if got := runGlobal(t, rt, "sum", Number(5)); got != Number(15) {
		t.Errorf("sum(5) = %s, want 15", got)
	}
	if got := runGlobal(t, rt, "sum", Number(0)); got != Number(0) {
		t.Errorf("sum(0) = %s, want 0", got)
	}
}

func TestDotResultAndFallOffEnd(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	dot := NewBytecodeBuilder()
	dot.EmitFloat(3).Emit(OpSetDot).Emit(OpPushDot).EmitFloat(4).Emit(OpMul).Emit(OpSetDot)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{
		"dot":   procDef(dot, true),
		"empty": procDef(NewBytecodeBuilder(), true),
	}))

	if got := runGlobal(t, rt, "dot"); got != Number(12) {
		t.Errorf("dot = %s, want 12", got)
	}
	if got := runGlobal(t, rt, "empty"); !got.IsNull() {
		t.Errorf("empty = %s, want null", got)
	}
}

func TestDivisionByZeroFaultsAndReturnsDot(t *testing.T) {
	rt, sink := newTestRuntime(t, Options{})
	st := newStrtab()

	bc := NewBytecodeBuilder()
	bc.EmitFloat(8).Emit(OpSetDot).EmitFloat(1).EmitFloat(0).Emit(OpDiv).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"divide": procDef(bc, true)}))

	if got := runGlobal(t, rt, "divide"); got != Number(8) {
		t.Errorf("divide = %s, want the partial result 8", got)
	}
	if rt.FaultCount() != 1 || !sink.contains("division by zero") {
		t.Errorf("faults = %d, reports %v", rt.FaultCount(), sink.reports)
	}
	if !sink.contains("/proc/divide") {
		t.Errorf("report should name the faulting proc: %v", sink.reports)
	}
}

func TestThrowDeliversFaultToCaller(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	thrower := NewBytecodeBuilder()
	thrower.EmitUint32(OpPushString, st.id("out of cheese")).Emit(OpThrow)

	caller := NewBytecodeBuilder()
	caller.EmitCall(OpCallGlobal, st.id("thrower"), 0).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{
		"thrower": procDef(thrower, true),
		"caller":  procDef(caller, true),
	}))

	got := runGlobal(t, rt, "caller")
	if msg, ok := got.FaultMessage(); !ok || msg != "out of cheese" {
		t.Errorf("caller = %s, want fault(out of cheese)", got)
	}
}

// main calls worker, which is WaitFor=false and sleeps. main continues at
// once with worker's result so far; worker finishes on the next tick.
func TestSleepInNoWaitProcSplitsThread(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	worker := NewBytecodeBuilder()
	worker.EmitFloat(1).Emit(OpSleep).EmitFloat(42).EmitUint32(OpSetGlobal, 0).Emit(OpPushNull).Emit(OpReturn)

	main := NewBytecodeBuilder()
	main.EmitCall(OpCallGlobal, st.id("worker"), 0).Emit(OpPop).EmitFloat(7).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{
		"worker": procDef(worker, false),
		"main":   procDef(main, true),
	}, program.Global{Name: "out"}))

	if got := runGlobal(t, rt, "main"); got != Number(7) {
		t.Fatalf("main = %s, want 7", got)
	}
	if v, _ := rt.Global(0); !v.IsNull() {
		t.Fatalf("worker finished early: out = %s", v)
	}

	if n := rt.Scheduler().Tick(); n != 1 {
		t.Errorf("Tick resumed %d threads, want 1", n)
	}
	if v, _ := rt.Global(0); v != Number(42) {
		t.Errorf("out = %s after tick, want 42", v)
	}
	if rt.Scheduler().Pending() != 0 {
		t.Errorf("Pending = %d, want 0", rt.Scheduler().Pending())
	}
}

func TestSleepBuiltinDefersWholeThread(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	bc := NewBytecodeBuilder()
	bc.EmitFloat(2).EmitCall(OpCallGlobal, st.id("sleep"), 1).Emit(OpPop)
	bc.EmitFloat(5).EmitUint32(OpSetGlobal, 0).EmitFloat(9).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"main": procDef(bc, true)}, program.Global{Name: "out"}))

	if got := runGlobal(t, rt, "main"); !got.IsNull() {
		t.Errorf("deferred main = %s, want null", got)
	}

	sched := rt.Scheduler()
	sched.Tick()
	if v, _ := rt.Global(0); !v.IsNull() {
		t.Fatalf("out = %s after one tick, want null", v)
	}
	if n := sched.Tick(); n != 1 {
		t.Errorf("second Tick resumed %d, want 1", n)
	}
	if v, _ := rt.Global(0); v != Number(5) {
		t.Errorf("out = %s after two ticks, want 5", v)
	}
}

func TestRunAsyncCallsProcs(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	double := NewBytecodeBuilder()
	double.EmitByte(OpPushArgument, 0).EmitFloat(2).Emit(OpMul).Emit(OpReturn)
	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"double": procDef(double, true, "x")}))

	p, err := rt.GlobalProc("double")
	if err != nil {
		t.Fatal(err)
	}
	v, err := rt.RunAsync(func(c *AsyncCall) (Value, error) {
		a, err := c.Call(p, nil, nil, Args(Number(4)))
		if err != nil {
			return Null, err
		}
		b, err := c.Call(p, nil, nil, Args(a))
		if err != nil {
			return Null, err
		}
		n, _ := b.AsNumber()
		return Number(n + 1), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != Number(17) {
		t.Errorf("RunAsync = %s, want 17", v)
	}
}

func TestAsyncProcErrorIsAFault(t *testing.T) {
	rt, sink := newTestRuntime(t, Options{})
	rt.SetGlobalAsyncProc("fails", nil, func(c *AsyncCall) (Value, error) {
		return Number(1), errors.New("async failure")
	})
	mustLoad(t, rt, &program.Image{Types: []program.Type{{Path: "/"}}})

	if got := runGlobal(t, rt, "fails"); got != Number(1) {
		t.Errorf("fails = %s, want the partial result 1", got)
	}
	if !sink.contains("async failure") {
		t.Errorf("reports = %v", sink.reports)
	}
}

func TestReloadDropsPreviousProgram(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	rt.SetGlobalNativeProc("host", nil, func(c *NativeCall) (Value, error) {
		return Number(1), nil
	})
	st := newStrtab()
	four := NewBytecodeBuilder()
	four.EmitFloat(4).Emit(OpReturn)
	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"main": procDef(four, true)}))

	l := rt.CreateList()
	l.AddValue(Number(1))

	bad := &program.Image{Types: []program.Type{{Path: "/"}, {Path: "/x", Parent: program.Index(7)}}}
	if err := rt.LoadProgram(bad); err == nil {
		t.Fatal("expected a load error")
	}
	if _, err := rt.GlobalProc("main"); err == nil {
		t.Error("main should be gone after a failed reload")
	}
	for _, name := range []string{"host", "length", "sleep"} {
		if _, err := rt.GlobalProc(name); err != nil {
			t.Errorf("GlobalProc(%s): %v", name, err)
		}
	}
	if rt.Objects().List(l.Value()) != nil || rt.Objects().Len() != 0 {
		t.Errorf("old list still live, table len %d", rt.Objects().Len())
	}

	st2 := newStrtab()
	five := NewBytecodeBuilder()
	five.EmitFloat(5).Emit(OpReturn)
	mustLoad(t, rt, globalImage(st2, map[string]program.ProcDef{"other": procDef(five, true)}))
	if _, err := rt.GlobalProc("main"); err == nil {
		t.Error("main from the first image leaked into the second")
	}
	if got := runGlobal(t, rt, "other"); got != Number(5) {
		t.Errorf("other = %s, want 5", got)
	}
}

func TestNativeBuiltins(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()

	length := NewBytecodeBuilder()
	length.EmitFloat(1).EmitFloat(2).EmitFloat(3).EmitByte(OpCreateList, 3)
	length.EmitCall(OpCallGlobal, st.id("length"), 1)
	length.EmitUint32(OpPushString, st.id("héllo")).EmitCall(OpCallGlobal, st.id("length"), 1)
	length.Emit(OpAdd).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"length2": procDef(length, true)}))

	if got := runGlobal(t, rt, "length2"); got != Number(8) {
		t.Errorf("length(list(1,2,3)) + length(\"héllo\") = %s, want 8", got)
	}
}

func TestListIndexing(t *testing.T) {
	rt, sink := newTestRuntime(t, Options{})
	st := newStrtab()

	// l = list(10, 20); l[2] = 25; l["k"] = 5; return l[2] + l["k"]
	bc := NewBytecodeBuilder()
	bc.EmitFloat(10).EmitFloat(20).EmitByte(OpCreateList, 2).EmitByte(OpSetLocal, 0)
	bc.EmitByte(OpPushLocal, 0).EmitFloat(2).EmitFloat(25).Emit(OpSetIndex)
	bc.EmitByte(OpPushLocal, 0).EmitUint32(OpPushString, st.id("k")).EmitFloat(5).Emit(OpSetIndex)
	bc.EmitByte(OpPushLocal, 0).EmitFloat(2).Emit(OpIndex)
	bc.EmitByte(OpPushLocal, 0).EmitUint32(OpPushString, st.id("k")).Emit(OpIndex)
	bc.Emit(OpAdd).Emit(OpReturn)

	oob := NewBytecodeBuilder()
	oob.EmitByte(OpCreateList, 0).EmitFloat(1).Emit(OpIndex).Emit(OpReturn)

	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{
		"lists": procDef(bc, true),
		"oob":   procDef(oob, true),
	}))

	if got := runGlobal(t, rt, "lists"); got != Number(30) {
		t.Errorf("lists = %s, want 30", got)
	}
	runGlobal(t, rt, "oob")
	if rt.FaultCount() != 1 {
		t.Errorf("out of range index: faults = %d, reports %v", rt.FaultCount(), sink.reports)
	}
}

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// appendTrace appends s to global slot 0.
func appendTrace(st *strtab, s string) *BytecodeBuilder {
	bc := NewBytecodeBuilder()
	bc.EmitUint32(OpGetGlobal, 0).EmitUint32(OpPushString, st.id(s)).Emit(OpAdd).EmitUint32(OpSetGlobal, 0)
	return bc
}

func objectImage(st *strtab) *program.Image {
	initRoot := procDef(appendTrace(st, "r"), true)
	initDatum := procDef(appendTrace(st, "d"), true)
	initThing := procDef(appendTrace(st, "t"), true)

	value := NewBytecodeBuilder()
	value.EmitFloat(10).Emit(OpReturn)

	valueOverride := NewBytecodeBuilder()
	valueOverride.EmitByte(OpCallSuper, 0).EmitFloat(1).Emit(OpAdd).Emit(OpReturn)

	hurt := NewBytecodeBuilder()
	hurt.EmitUint32(OpGetVar, st.id("hp")).EmitByte(OpPushArgument, 0).Emit(OpSub).EmitUint32(OpSetVar, st.id("hp"))
	hurt.EmitUint32(OpGetVar, st.id("hp")).Emit(OpReturn)

	newProc := appendTrace(st, "N")
	newProc.EmitByte(OpPushArgument, 0).EmitUint32(OpSetVar, st.id("hp"))

	del := appendTrace(st, "X")

	return &program.Image{
		Strings: st.strs,
		Globals: []program.Global{{Name: "trace", Value: ""}},
		Types: []program.Type{
			{Path: "/", InitProc: &initRoot},
			{
				Path:      "/datum",
				Parent:    program.Index(0),
				Variables: map[string]program.Literal{"hp": 10.0},
				Procs: map[string][]program.ProcDef{
					"value": {procDef(value, true)},
					"hurt":  {procDef(hurt, true, "amount")},
					"Del":   {procDef(del, true)},
				},
				InitProc: &initDatum,
			},
			{
				Path:   "/datum/thing",
				Parent: program.Index(1),
				Procs: map[string][]program.ProcDef{
					"value": {procDef(valueOverride, true)},
					"New":   {procDef(newProc, true, "hp")},
				},
				InitProc: &initThing,
			},
			{Path: "/datum/plain", Parent: program.Index(1)},
		},
	}
}

func trace(t *testing.T, rt *Runtime) string {
	t.Helper()
	v, err := rt.GlobalByName("trace")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := v.AsString()
	return s
}

func TestDefinitionProcsAndInitializers(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, objectImage(newStrtab()))

	thing, err := rt.LookupType("/datum/thing")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"value", "hurt", "New", "Del"} {
		if !thing.HasProc(name) {
			t.Errorf("/datum/thing should have %s", name)
		}
	}
	if thing.HasProc("missing") {
		t.Error("HasProc(missing) = true")
	}

	init, ok := thing.InitProc.(*DMProc)
	if !ok || !init.IsInitializer() {
		t.Fatalf("InitProc = %v, want an initializer DMProc", thing.InitProc)
	}
	value, _ := thing.GetProc("value")
	if dm, ok := value.(*DMProc); !ok || dm.IsInitializer() {
		t.Errorf("value proc = %v, want a plain DMProc", value)
	}
}

func TestNewObjectRunsInitializersRootFirstThenNew(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, objectImage(newStrtab()))

	o, err := rt.NewObject("/datum/thing", nil, Args(Number(50)))
	if err != nil {
		t.Fatal(err)
	}
	if got := trace(t, rt); got != "rdtN" {
		t.Errorf("trace = %q, want %q", got, "rdtN")
	}
	if hp, _ := o.GetVariable("hp"); hp != Number(50) {
		t.Errorf("hp = %s, want 50 from New", hp)
	}

	if err := rt.SetGlobal(0, String("")); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.NewObject("/datum/plain", nil, Arguments{}); err != nil {
		t.Fatal(err)
	}
	if got := trace(t, rt); got != "rd" {
		t.Errorf("inherited initializer trace = %q, want %q", got, "rd")
	}
}

func TestNewOpcodeAndProcCalls(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	st := newStrtab()
	img := objectImage(st)

	// o = new /datum/thing(40); return o.hurt(15) + o.value()
	bc := NewBytecodeBuilder()
	bc.EmitUint32(OpPushPath, st.id("/datum/thing")).EmitFloat(40).EmitByte(OpNew, 1).EmitByte(OpSetLocal, 0)
	bc.EmitByte(OpPushLocal, 0).EmitFloat(15).EmitCall(OpCall, st.id("hurt"), 1)
	bc.EmitByte(OpPushLocal, 0).EmitCall(OpCall, st.id("value"), 0)
	bc.Emit(OpAdd).Emit(OpReturn)

	img.Strings = st.strs
	img.GlobalProcs = map[string]program.ProcDef{"main": procDef(bc, true)}
	mustLoad(t, rt, img)

	// hurt: 40 - 15 = 25; value: super 10 + 1 = 11
	if got := runGlobal(t, rt, "main"); got != Number(36) {
		t.Errorf("main = %s, want 36", got)
	}
	if got := trace(t, rt); got != "rdtN" {
		t.Errorf("trace = %q", got)
	}
}

func TestCallOnNonObjectFaults(t *testing.T) {
	rt, sink := newTestRuntime(t, Options{})
	st := newStrtab()

	bc := NewBytecodeBuilder()
	bc.Emit(OpPushNull).EmitCall(OpCall, st.id("value"), 0).Emit(OpReturn)
	mustLoad(t, rt, globalImage(st, map[string]program.ProcDef{"main": procDef(bc, true)}))

	runGlobal(t, rt, "main")
	if !sink.contains("cannot call value()") {
		t.Errorf("reports = %v", sink.reports)
	}
}

func TestObjectHooksAndDeletion(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, objectImage(newStrtab()))

	type change struct {
		name     string
		old, new Value
	}
	var created, deleted int
	var changes []change
	err := rt.Tree().SetHook("/datum", HookFuncs{
		Created: func(*DreamObject) { created++ },
		Deleted: func(*DreamObject) { deleted++ },
		VariableChanged: func(_ *DreamObject, name string, old, new Value) {
			changes = append(changes, change{name, old, new})
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	o, err := rt.NewObject("/datum/thing", nil, Args(Number(30)))
	if err != nil {
		t.Fatal(err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if len(changes) != 1 || changes[0] != (change{"hp", Number(10), Number(30)}) {
		t.Errorf("changes = %v", changes)
	}

	holder := rt.CreateList()
	holder.AddValue(o.Value())

	if err := rt.SetGlobal(0, String("")); err != nil {
		t.Fatal(err)
	}
	if err := rt.DeleteObject(o); err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if got := trace(t, rt); got != "X" {
		t.Errorf("Del proc trace = %q, want %q", got, "X")
	}
	if !o.Deleted() || rt.Objects().Object(o.Value()) != nil {
		t.Error("object should be gone from the table")
	}
	if v, _ := holder.Index(Number(1)); !rt.Objects().Normalize(v).IsNull() {
		t.Errorf("stale reference reads as %s, want null", v)
	}

	// Deleting twice is a no-op.
	if err := rt.DeleteObject(o); err != nil || deleted != 1 {
		t.Errorf("second delete: err=%v deleted=%d", err, deleted)
	}
}

func TestCreateListTypeAsObjectFails(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	mustLoad(t, rt, treeImage())

	if _, err := rt.CreateObject(PathList); err == nil {
		t.Error("creating /list as an object should fail")
	}
	if _, err := rt.CreateObject("/nope"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type: err = %v", err)
	}
}
