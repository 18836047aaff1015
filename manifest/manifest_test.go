package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-game"
version = "0.1.0"

[program]
image = "build/game.dmb"
entry_type = "/world"
entry_proc = "New"

[runtime]
max_stack_depth = 64
tick_lag = 50
max_ticks = 100

[resources]
root = "rsc"
database = "rsc.db"

[log]
verbosity = 1
file = "dream.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-game" {
		t.Errorf("project name = %q, want test-game", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if m.Program.EntryType != "/world" || m.Program.EntryProc != "New" {
		t.Errorf("entry = %s %s, want /world New", m.Program.EntryType, m.Program.EntryProc)
	}
	if m.Runtime.MaxStackDepth != 64 {
		t.Errorf("max_stack_depth = %d, want 64", m.Runtime.MaxStackDepth)
	}
	if m.TickInterval() != 50*time.Millisecond {
		t.Errorf("tick interval = %v, want 50ms", m.TickInterval())
	}
	if m.Runtime.MaxTicks != 100 {
		t.Errorf("max_ticks = %d, want 100", m.Runtime.MaxTicks)
	}
	if m.Log.Verbosity != 1 {
		t.Errorf("verbosity = %d, want 1", m.Log.Verbosity)
	}

	if got, want := m.ImagePath(), filepath.Join(m.Dir, "build", "game.dmb"); got != want {
		t.Errorf("ImagePath = %q, want %q", got, want)
	}
	if got, want := m.ResourceRoot(), filepath.Join(m.Dir, "rsc"); got != want {
		t.Errorf("ResourceRoot = %q, want %q", got, want)
	}
	if got, want := m.DatabasePath(), filepath.Join(m.Dir, "rsc.db"); got != want {
		t.Errorf("DatabasePath = %q, want %q", got, want)
	}
	if got, want := m.LogFilePath(), filepath.Join(m.Dir, "dream.log"); got != want {
		t.Errorf("LogFilePath = %q, want %q", got, want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Program.Image != DefaultImage {
		t.Errorf("image = %q, want %q", m.Program.Image, DefaultImage)
	}
	if m.Program.EntryProc != DefaultEntryProc || m.Program.EntryType != "" {
		t.Errorf("entry = %q %q, want global %q", m.Program.EntryType, m.Program.EntryProc, DefaultEntryProc)
	}
	if m.Runtime.MaxStackDepth != DefaultMaxStackDepth {
		t.Errorf("max_stack_depth = %d, want %d", m.Runtime.MaxStackDepth, DefaultMaxStackDepth)
	}
	if m.Resources.Root != DefaultResourceRoot {
		t.Errorf("resource root = %q", m.Resources.Root)
	}
	if m.DatabasePath() != "" || m.LogFilePath() != "" {
		t.Errorf("unset paths should stay empty: %q %q", m.DatabasePath(), m.LogFilePath())
	}
	if m.TickInterval() != 0 {
		t.Errorf("tick interval = %v, want 0", m.TickInterval())
	}
}

func TestManifestSchemaRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown section", "[dependencies]\nfoo = 1\n", "dependencies"},
		{"unknown key", "[runtime]\nmax_depth = 3\n", "max_depth"},
		{"negative depth", "[runtime]\nmax_stack_depth = -1\n", "max_stack_depth"},
		{"wrong type", "[runtime]\ntick_lag = \"fast\"\n", "tick_lag"},
		{"relative entry type", "[program]\nentry_type = \"world\"\n", "entry_type"},
		{"verbosity out of range", "[log]\nverbosity = 9\n", "verbosity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	if _, err := Parse([]byte("[project\nname=")); err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("err = %v, want a parse error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[project]
name = "found"
`)
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found" {
		t.Errorf("name = %q, want found", m.Project.Name)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no dream.toml exists")
	}
}
