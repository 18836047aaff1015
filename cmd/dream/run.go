package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/dream/manifest"
	"github.com/chazu/dream/program"
	"github.com/chazu/dream/resource"
	"github.com/chazu/dream/vm"
)

var log = commonlog.GetLogger("dream.cli")

// loadConfig finds dream.toml from dir upwards. Without one, defaults apply
// relative to dir.
func loadConfig(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	m, err = manifest.Parse(nil)
	if err != nil {
		return nil, err
	}
	if m.Dir, err = absDir(dir); err != nil {
		return nil, err
	}
	return m, nil
}

// openResources builds the resource loader from the manifest: the database
// first when configured, then the resource directory. The returned closer
// releases the database.
func openResources(m *manifest.Manifest) (vm.ResourceLoader, func(), error) {
	files, err := resource.NewFileStore(m.ResourceRoot())
	if err != nil {
		return nil, nil, err
	}
	dbPath := m.DatabasePath()
	if dbPath == "" {
		return files, func() {}, nil
	}
	db, err := resource.OpenSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return resource.Chain{db, files}, func() { db.Close() }, nil
}

// run loads the image, runs the entry proc with args and drives the
// scheduler until the tick budget is spent or no work is left. It prints the
// entry proc's result to out and returns the process exit code.
func run(m *manifest.Manifest, args []string, faults vm.FaultSink, out io.Writer) (int, error) {
	img, err := program.Load(m.ImagePath())
	if err != nil {
		return 1, err
	}

	loader, closeResources, err := openResources(m)
	if err != nil {
		return 1, err
	}
	defer closeResources()

	rt := vm.NewRuntime(vm.Options{
		Resources:     loader,
		Faults:        faults,
		MaxStackDepth: m.Runtime.MaxStackDepth,
	})
	if err := rt.LoadProgram(img); err != nil {
		return 1, err
	}

	argv := make([]vm.Value, len(args))
	for i, a := range args {
		argv[i] = vm.String(a)
	}

	result, err := runEntry(rt, m.Program, vm.Args(argv...))
	cancelled := errors.Is(err, vm.ErrCancelled)
	if err != nil && !cancelled {
		return 1, err
	}

	ticks := driveScheduler(rt.Scheduler(), m.Runtime.MaxTicks, m.TickInterval())
	log.Infof("ran %d ticks, %d faults", ticks, rt.FaultCount())

	if cancelled {
		fmt.Fprintf(out, "cancelled: %s\n", result)
		return 2, nil
	}
	fmt.Fprintln(out, result)
	if rt.FaultCount() > 0 {
		return 3, nil
	}
	return 0, nil
}

// runEntry runs the configured entry: a global proc, or a proc on a fresh
// instance of the entry type.
func runEntry(rt *vm.Runtime, p manifest.Program, args vm.Arguments) (vm.Value, error) {
	if p.EntryType == "" {
		proc, err := rt.GlobalProc(p.EntryProc)
		if err != nil {
			return vm.Null, err
		}
		return rt.Run(proc, nil, nil, args)
	}

	obj, err := rt.NewObject(vm.TypePath(p.EntryType), nil, vm.Arguments{})
	if err != nil {
		return vm.Null, err
	}
	proc, err := obj.GetProc(p.EntryProc)
	if err != nil {
		return vm.Null, err
	}
	return rt.Run(proc, obj, nil, args)
}

// driveScheduler ticks until maxTicks is reached, or while work is pending
// when maxTicks is zero. It returns the number of ticks run.
func driveScheduler(s *vm.Scheduler, maxTicks int, interval time.Duration) int {
	ticks := 0
	for {
		if maxTicks > 0 {
			if ticks >= maxTicks {
				break
			}
		} else if s.Pending() == 0 {
			break
		}
		if interval > 0 && ticks > 0 {
			time.Sleep(interval)
		}
		resumed := s.Tick()
		ticks++
		log.Debugf("tick %d: resumed %d threads", s.Now(), resumed)
	}
	return ticks
}

// convertImage re-encodes the image at src into dst.
func convertImage(src, dst string) error {
	img, err := program.Load(src)
	if err != nil {
		return err
	}
	if err := program.Save(dst, img); err != nil {
		return err
	}
	log.Noticef("converted %s -> %s", src, dst)
	return nil
}

// disassembleImage prints every proc of the image at path.
func disassembleImage(w io.Writer, path string) error {
	img, err := program.Load(path)
	if err != nil {
		return err
	}

	dump := func(title string, def program.ProcDef) error {
		fmt.Fprintf(w, "%s:\n", title)
		text, err := vm.Disassemble(def.Bytecode, img.Strings)
		if text != "" {
			fmt.Fprintln(w, text)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", title, err)
		}
		fmt.Fprintln(w)
		return nil
	}

	names := make([]string, 0, len(img.GlobalProcs))
	for name := range img.GlobalProcs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := dump("/proc/"+name, img.GlobalProcs[name]); err != nil {
			return err
		}
	}

	for _, t := range img.Types {
		if t.InitProc != nil {
			if err := dump(t.Path+"/(init)", *t.InitProc); err != nil {
				return err
			}
		}
		procNames := make([]string, 0, len(t.Procs))
		for name := range t.Procs {
			procNames = append(procNames, name)
		}
		slices.Sort(procNames)
		for _, name := range procNames {
			for i, def := range t.Procs[name] {
				title := fmt.Sprintf("%s/proc/%s", t.Path, name)
				if len(t.Procs[name]) > 1 {
					title = fmt.Sprintf("%s#%d", title, i)
				}
				if err := dump(title, def); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func absDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return filepath.Abs(dir)
}
