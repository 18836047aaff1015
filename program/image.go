// Package program defines the compiled program image consumed by the dream
// runtime, and the codecs that read and write it.
//
// An image is a flat, ordered array of type records plus a shared string table.
// Type records refer to their parent by index; the runtime builds the type tree
// from these records (see vm.LoadObjectTree).
package program

import (
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Image: the serialized compiled program
// ---------------------------------------------------------------------------

// Image is the deserialized compiled-program description.
type Image struct {
	Strings     []string           `json:"strings" yaml:"strings" cbor:"strings"`
	Types       []Type             `json:"types" yaml:"types" cbor:"types"`
	Globals     []Global           `json:"globals,omitempty" yaml:"globals,omitempty" cbor:"globals,omitempty"`
	GlobalProcs map[string]ProcDef `json:"globalProcs,omitempty" yaml:"globalProcs,omitempty" cbor:"globalProcs,omitempty"`
}

// Type is a single type record.
type Type struct {
	Path            string               `json:"path" yaml:"path" cbor:"path"`
	Parent          *int                 `json:"parent,omitempty" yaml:"parent,omitempty" cbor:"parent,omitempty"`
	Variables       map[string]Literal   `json:"variables,omitempty" yaml:"variables,omitempty" cbor:"variables,omitempty"`
	GlobalVariables map[string]int       `json:"globalVariables,omitempty" yaml:"globalVariables,omitempty" cbor:"globalVariables,omitempty"`
	Procs           map[string][]ProcDef `json:"procs,omitempty" yaml:"procs,omitempty" cbor:"procs,omitempty"`
	InitProc        *ProcDef             `json:"initProc,omitempty" yaml:"initProc,omitempty" cbor:"initProc,omitempty"`
}

// Global is a named global variable slot and its initial value.
// The slot index is the position in Image.Globals.
type Global struct {
	Name  string  `json:"name" yaml:"name" cbor:"name"`
	Value Literal `json:"value" yaml:"value" cbor:"value"`
}

// ProcDef is one overload of a procedure.
type ProcDef struct {
	Arguments    []Argument `json:"arguments,omitempty" yaml:"arguments,omitempty" cbor:"arguments,omitempty"`
	Bytecode     Bytecode   `json:"bytecode,omitempty" yaml:"bytecode,omitempty" cbor:"bytecode,omitempty"`
	MaxStackSize int        `json:"maxStackSize" yaml:"maxStackSize" cbor:"maxStackSize"`
	WaitFor      *bool      `json:"waitFor,omitempty" yaml:"waitFor,omitempty" cbor:"waitFor,omitempty"`
}

// ShouldWaitFor reports the effective wait-for flag. Absent means true.
func (p ProcDef) ShouldWaitFor() bool {
	return p.WaitFor == nil || *p.WaitFor
}

// ArgumentNames returns the argument names in declaration order.
func (p ProcDef) ArgumentNames() []string {
	names := make([]string, len(p.Arguments))
	for i, a := range p.Arguments {
		names[i] = a.Name
	}
	return names
}

// ArgumentTypes returns the argument types in declaration order.
func (p ProcDef) ArgumentTypes() []ValueType {
	types := make([]ValueType, len(p.Arguments))
	for i, a := range p.Arguments {
		types[i] = a.Type
	}
	return types
}

// Argument is a named, typed procedure parameter.
type Argument struct {
	Name string    `json:"name" yaml:"name" cbor:"name"`
	Type ValueType `json:"type,omitempty" yaml:"type,omitempty" cbor:"type,omitempty"`
}

// ValueType is a bit set describing the accepted types of an argument.
type ValueType uint32

const (
	TypeAnything ValueType = 0
	TypeNull     ValueType = 1 << (iota - 1)
	TypeText
	TypeObj
	TypeMob
	TypeTurf
	TypeNum
	TypeMessage
	TypeArea
	TypeColor
	TypeFile
)

// Bool returns a pointer to b, for ProcDef.WaitFor.
func Bool(b bool) *bool {
	return &b
}

// Index returns a pointer to i, for Type.Parent.
func Index(i int) *int {
	return &i
}

// ---------------------------------------------------------------------------
// Bytecode
// ---------------------------------------------------------------------------

// Bytecode is a procedure's instruction buffer. JSON and CBOR carry it natively
// (base64 string and byte string); YAML carries it as base64 text.
type Bytecode []byte

// MarshalYAML implements yaml.Marshaler.
func (b Bytecode) MarshalYAML() (interface{}, error) {
	return base64.StdEncoding.EncodeToString(b), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *Bytecode) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("bytecode: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("bytecode: %w", err)
	}
	*b = data
	return nil
}
