// Package manifest handles dream.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "dream.toml"

// Manifest represents a dream.toml project configuration.
type Manifest struct {
	Project   Project   `toml:"project"`
	Program   Program   `toml:"program"`
	Runtime   Runtime   `toml:"runtime"`
	Resources Resources `toml:"resources"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the dream.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Program names the compiled image and the proc to run.
type Program struct {
	Image string `toml:"image"`

	// EntryType is the type whose EntryProc is run. Empty means a global
	// proc.
	EntryType string `toml:"entry_type"`
	EntryProc string `toml:"entry_proc"`
}

// Runtime configures the runtime and the tick loop.
type Runtime struct {
	MaxStackDepth int `toml:"max_stack_depth"`

	// TickLag is the wall-clock delay between ticks in milliseconds. Zero
	// runs ticks back to back.
	TickLag int `toml:"tick_lag"`

	// MaxTicks stops the tick loop after this many ticks. Zero runs until no
	// work is pending.
	MaxTicks int `toml:"max_ticks"`
}

// Resources configures where resource files come from. When both are set the
// database is consulted first.
type Resources struct {
	Root     string `toml:"root"`
	Database string `toml:"database"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default values applied after decoding.
const (
	DefaultImage         = "program.json"
	DefaultEntryProc     = "main"
	DefaultMaxStackDepth = 256
	DefaultResourceRoot  = "resources"
)

// Load parses and validates the dream.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text and applies defaults. The
// returned manifest has no Dir.
func Parse(data []byte) (*Manifest, error) {
	raw := map[string]any{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Program.Image == "" {
		m.Program.Image = DefaultImage
	}
	if m.Program.EntryProc == "" {
		m.Program.EntryProc = DefaultEntryProc
	}
	if m.Runtime.MaxStackDepth == 0 {
		m.Runtime.MaxStackDepth = DefaultMaxStackDepth
	}
	if m.Resources.Root == "" {
		m.Resources.Root = DefaultResourceRoot
	}
}

// FindAndLoad walks up from startDir to find a dream.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ImagePath returns the absolute path of the program image.
func (m *Manifest) ImagePath() string {
	return m.resolve(m.Program.Image)
}

// ResourceRoot returns the absolute resource directory.
func (m *Manifest) ResourceRoot() string {
	return m.resolve(m.Resources.Root)
}

// DatabasePath returns the absolute resource database path, or "".
func (m *Manifest) DatabasePath() string {
	return m.resolve(m.Resources.Database)
}

// LogFilePath returns the absolute log file path, or "" to log to stderr.
func (m *Manifest) LogFilePath() string {
	return m.resolve(m.Log.File)
}

// TickInterval returns the delay between ticks.
func (m *Manifest) TickInterval() time.Duration {
	return time.Duration(m.Runtime.TickLag) * time.Millisecond
}
