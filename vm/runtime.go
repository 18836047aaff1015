package vm

import (
	"iter"
	"maps"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/chazu/dream/program"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: the context every thread runs in
// ---------------------------------------------------------------------------

// ResourceLoader supplies resource file contents by resource path.
type ResourceLoader interface {
	LoadResource(path string) ([]byte, error)
}

// Options configures a Runtime. Zero fields take defaults.
type Options struct {
	Resources     ResourceLoader   // nil: resources load with no data
	Faults        FaultSink        // nil: a LogFaultSink
	Logger        commonlog.Logger // nil: the "dream.vm" logger
	MaxStackDepth int              // <= 0: DefaultMaxStackDepth
}

// Runtime holds the loaded program and all runtime state. It is passed
// explicitly to everything that needs it; there is no global instance.
//
// A Runtime is driven from one goroutine at a time.
type Runtime struct {
	log           commonlog.Logger
	loader        ResourceLoader
	faults        FaultSink
	maxStackDepth int

	objects   *ObjectTable
	scheduler *Scheduler

	tree        *ObjectTree
	strings     []string
	globals     []Value
	globalNames map[string]int
	globalProcs map[string]Proc
	hostProcs   map[string]Proc // registered from Go; survive reloads
	resources   map[string]Value

	faultCount atomic.Int64
}

// NewRuntime creates a runtime with the builtin global procs registered.
func NewRuntime(opts Options) *Runtime {
	rt := &Runtime{
		log:           opts.Logger,
		loader:        opts.Resources,
		faults:        opts.Faults,
		maxStackDepth: opts.MaxStackDepth,
		objects:       NewObjectTable(),
		globalNames:   make(map[string]int),
		globalProcs:   make(map[string]Proc),
		hostProcs:     make(map[string]Proc),
		resources:     make(map[string]Value),
	}
	if rt.log == nil {
		rt.log = commonlog.GetLogger("dream.vm")
	}
	if rt.faults == nil {
		rt.faults = NewLogFaultSink()
	}
	if rt.maxStackDepth <= 0 {
		rt.maxStackDepth = DefaultMaxStackDepth
	}
	rt.scheduler = newScheduler(rt)
	rt.registerBuiltins()
	return rt
}

// Scheduler returns the tick scheduler.
func (rt *Runtime) Scheduler() *Scheduler { return rt.scheduler }

// Objects returns the object table.
func (rt *Runtime) Objects() *ObjectTable { return rt.objects }

// Tree returns the loaded type tree, or nil.
func (rt *Runtime) Tree() *ObjectTree { return rt.tree }

// FaultCount returns the number of faults raised so far.
func (rt *Runtime) FaultCount() int64 { return rt.faultCount.Load() }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() commonlog.Logger { return rt.log }

// ---------------------------------------------------------------------------
// Program loading
// ---------------------------------------------------------------------------

// LoadProgram installs img: string table, globals, global procs and the type
// tree. Every object, list and resource of a previous program is released.
// On error the runtime keeps no program; only Go-registered global procs
// remain.
func (rt *Runtime) LoadProgram(img *program.Image) error {
	rt.unloadProgram()
	rt.strings = slices.Clone(img.Strings)
	rt.globals = make([]Value, len(img.Globals))
	for i, g := range img.Globals {
		rt.globalNames[g.Name] = i
	}

	tree, err := LoadObjectTree(rt, img)
	if err != nil {
		rt.unloadProgram()
		return err
	}

	for i, g := range img.Globals {
		v, err := rt.valueFromLiteral(tree, g.Value)
		if err != nil {
			rt.unloadProgram()
			return &LoadError{Index: -1, Err: errors.Wrapf(err, "global %s", g.Name)}
		}
		rt.globals[i] = v
	}

	for _, name := range sortedKeys(img.GlobalProcs) {
		rt.globalProcs[name] = NewDMProc(rt, "", name, img.GlobalProcs[name])
	}

	rt.tree = tree
	rt.log.Infof("loaded program: %d types, %d globals, %d strings", tree.Len(), len(rt.globals), len(rt.strings))
	return nil
}

// unloadProgram drops the program and everything it allocated.
func (rt *Runtime) unloadProgram() {
	rt.tree = nil
	rt.objects.Clear()
	clear(rt.resources)
	rt.strings, rt.globals = nil, nil
	rt.globalNames = make(map[string]int)
	rt.globalProcs = maps.Clone(rt.hostProcs)
}

// LookupType returns the definition of path.
func (rt *Runtime) LookupType(path TypePath) (*ObjectDefinition, error) {
	if rt.tree == nil {
		return nil, ErrNoProgram
	}
	return rt.tree.Definition(path)
}

// DescendantsOf yields path and its subtypes, parents first.
func (rt *Runtime) DescendantsOf(path TypePath) (iter.Seq[*TreeEntry], error) {
	if rt.tree == nil {
		return nil, ErrNoProgram
	}
	return rt.tree.Descendants(path)
}

// String returns string table entry i.
func (rt *Runtime) String(i uint32) (string, error) {
	if int(i) >= len(rt.strings) {
		return "", errors.Wrapf(ErrBadStringIndex, "%d (table has %d)", i, len(rt.strings))
	}
	return rt.strings[i], nil
}

// Strings returns the string table.
func (rt *Runtime) Strings() []string { return rt.strings }

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// Global reads global slot i.
func (rt *Runtime) Global(i int) (Value, error) {
	if i < 0 || i >= len(rt.globals) {
		return Null, errors.Wrapf(ErrBadGlobalSlot, "%d", i)
	}
	return rt.objects.Normalize(rt.globals[i]), nil
}

// SetGlobal writes global slot i.
func (rt *Runtime) SetGlobal(i int, v Value) error {
	if i < 0 || i >= len(rt.globals) {
		return errors.Wrapf(ErrBadGlobalSlot, "%d", i)
	}
	rt.globals[i] = v
	return nil
}

// GlobalByName reads a global by its declared name.
func (rt *Runtime) GlobalByName(name string) (Value, error) {
	i, ok := rt.globalNames[name]
	if !ok {
		return Null, errors.Errorf("no global %q", name)
	}
	return rt.Global(i)
}

// GlobalProc returns the global proc called name.
func (rt *Runtime) GlobalProc(name string) (Proc, error) {
	p, ok := rt.globalProcs[name]
	if !ok {
		return nil, errors.Errorf("no global proc %q", name)
	}
	return p, nil
}

// SetGlobalNativeProc registers a synchronous Go global proc.
func (rt *Runtime) SetGlobalNativeProc(name string, argNames []string, h NativeHandler) *NativeProc {
	p := NewNativeProc(rt, "", name, argNames, h)
	rt.hostProcs[name] = p
	rt.globalProcs[name] = p
	return p
}

// SetGlobalAsyncProc registers an async Go global proc.
func (rt *Runtime) SetGlobalAsyncProc(name string, argNames []string, h AsyncHandler) *AsyncNativeProc {
	p := NewAsyncNativeProc(rt, "", name, argNames, true, h)
	rt.hostProcs[name] = p
	rt.globalProcs[name] = p
	return p
}

// ---------------------------------------------------------------------------
// Running procs
// ---------------------------------------------------------------------------

// Run invokes proc on a new thread and drives it until it returns or
// defers. A deferred run returns the proc's result so far; the thread is
// resumed later by the scheduler. A cancelled run returns ErrCancelled.
func (rt *Runtime) Run(proc Proc, src, usr *DreamObject, args Arguments) (Value, error) {
	t := NewThread(rt)
	state, err := proc.CreateState(t, src, usr, args)
	if err != nil {
		return Null, err
	}
	return rt.drive(t, state)
}

// RunAsync runs h as an anonymous async frame on a new thread.
func (rt *Runtime) RunAsync(h AsyncHandler) (Value, error) {
	t := NewThread(rt)
	return rt.drive(t, newAsyncState(rt, t, nil, h, nil, nil, Arguments{}))
}

func (rt *Runtime) drive(t *Thread, state ProcState) (Value, error) {
	if err := t.PushState(state); err != nil {
		return Null, err
	}
	v, status := t.Resume()
	if status == Cancelled {
		return v, errors.Wrapf(ErrCancelled, "thread %s", t.ID())
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Objects, lists and resources
// ---------------------------------------------------------------------------

// CreateObject allocates an instance of path without running any procs.
func (rt *Runtime) CreateObject(path TypePath) (*DreamObject, error) {
	def, err := rt.LookupType(path)
	if err != nil {
		return nil, err
	}
	if def.IsSubtypeOf(PathList) {
		return nil, errors.Errorf("cannot create %s as an object; use a list", path)
	}
	o := &DreamObject{rt: rt, Definition: def}
	o.ref = rt.objects.add(o)
	if def.Hook != nil {
		def.Hook.OnObjectCreated(o)
	}
	return o, nil
}

// NewObject creates an instance of path, runs its initializer and then its
// New proc with args. A New proc that sleeps keeps running on its thread
// after NewObject returns.
func (rt *Runtime) NewObject(path TypePath, usr *DreamObject, args Arguments) (*DreamObject, error) {
	o, err := rt.CreateObject(path)
	if err != nil {
		return nil, err
	}
	t := NewThread(rt)
	if _, err := rt.drive(t, newObjectState(t, o, usr, args)); err != nil {
		return o, err
	}
	return o, nil
}

// DeleteObject runs the object's Del proc, if any, then invalidates every
// reference to it.
func (rt *Runtime) DeleteObject(o *DreamObject) error {
	if o.deleted {
		return nil
	}
	var runErr error
	if del, ok := o.Definition.GetProc("Del"); ok {
		_, runErr = rt.Run(del, o, nil, Arguments{})
	}
	o.deleted = true
	if h := o.Definition.Hook; h != nil {
		h.OnObjectDeleted(o)
	}
	rt.objects.Remove(o.ref)
	return runErr
}

// CreateList allocates an empty list.
func (rt *Runtime) CreateList() *List {
	l := &List{}
	l.ref = rt.objects.add(l)
	return l
}

// LoadResource returns the resource value for path, loading it on first use.
func (rt *Runtime) LoadResource(path string) (Value, error) {
	if v, ok := rt.resources[path]; ok && rt.objects.Alive(v) {
		return v, nil
	}
	var data []byte
	if rt.loader != nil {
		var err error
		data, err = rt.loader.LoadResource(path)
		if err != nil {
			return Null, errors.Wrapf(err, "resource %q", path)
		}
	}
	r := &Resource{Path: path, Data: data}
	r.ref = rt.objects.add(r)
	v := r.Value()
	rt.resources[path] = v
	return v, nil
}

// ---------------------------------------------------------------------------
// objectInitState: initializer then New, result is the object
// ---------------------------------------------------------------------------

type objectInitState struct {
	stateBase
	obj   *DreamObject
	usr   *DreamObject
	args  Arguments
	phase int
}

func newObjectState(t *Thread, o *DreamObject, usr *DreamObject, args Arguments) *objectInitState {
	s := &objectInitState{obj: o, usr: usr, args: args}
	s.thread = t
	return s
}

func (s *objectInitState) Proc() Proc { return nil }

// ReturnedInto discards the results of the initializer and New.
func (s *objectInitState) ReturnedInto(Value) {}

func (s *objectInitState) Step() (ProcStatus, error) {
	if s.phase == 0 {
		s.phase = 1
		if ip := s.obj.Definition.InitProc; ip != nil {
			return s.callProc(ip, Arguments{})
		}
	}
	if s.phase == 1 {
		s.phase = 2
		if p, ok := s.obj.Definition.GetProc("New"); ok {
			return s.callProc(p, s.args)
		}
	}
	s.result = s.obj.Value()
	return Returned, nil
}

func (s *objectInitState) callProc(p Proc, args Arguments) (ProcStatus, error) {
	child, err := p.CreateState(s.thread, s.obj, s.usr, args)
	if err != nil {
		return Returned, err
	}
	if err := s.thread.PushState(child); err != nil {
		return Cancelled, err
	}
	return Called, nil
}

func (s *objectInitState) AppendStackFrame(b *strings.Builder) {
	b.WriteString("new ")
	b.WriteString(string(s.obj.Type()))
}
