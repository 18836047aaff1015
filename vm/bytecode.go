package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Push Constants
const (
	OpPushNull     Opcode = 0x10 // push null
	OpPushFloat    Opcode = 0x11 // push inline float64 (8 bytes)
	OpPushString   Opcode = 0x12 // push string table entry (32-bit index)
	OpPushPath     Opcode = 0x13 // push type path from string table (32-bit index)
	OpPushResource Opcode = 0x14 // push resource named by string table entry (32-bit index)
	OpPushSrc      Opcode = 0x15 // push src
	OpPushUsr      Opcode = 0x16 // push usr
	OpPushDot      Opcode = 0x17 // push the frame's current result (.)
)

// Variable Operations
const (
	OpPushArgument Opcode = 0x20 // push argument (8-bit index)
	OpSetArgument  Opcode = 0x21 // pop into argument (8-bit index)
	OpPushLocal    Opcode = 0x22 // push local (8-bit index)
	OpSetLocal     Opcode = 0x23 // pop into local (8-bit index)
	OpGetVar       Opcode = 0x24 // push src variable (32-bit name index)
	OpSetVar       Opcode = 0x25 // pop into src variable (32-bit name index)
	OpGetGlobal    Opcode = 0x26 // push global slot (32-bit slot)
	OpSetGlobal    Opcode = 0x27 // pop into global slot (32-bit slot)
	OpSetDot       Opcode = 0x28 // pop into the frame's result (.)
)

// Calls
const (
	OpCall       Opcode = 0x30 // call proc on receiver (32-bit name index, 8-bit argc)
	OpCallSelf   Opcode = 0x31 // call the running proc again on src (8-bit argc)
	OpCallSuper  Opcode = 0x32 // call the overridden proc on src (8-bit argc)
	OpCallGlobal Opcode = 0x33 // call global proc (32-bit name index, 8-bit argc)
)

// Arithmetic and comparison (pop operands, push result)
const (
	OpAdd       Opcode = 0x40
	OpSub       Opcode = 0x41
	OpMul       Opcode = 0x42
	OpDiv       Opcode = 0x43
	OpMod       Opcode = 0x44
	OpEqual     Opcode = 0x45
	OpNotEqual  Opcode = 0x46
	OpLess      Opcode = 0x47
	OpGreater   Opcode = 0x48
	OpLessEq    Opcode = 0x49
	OpGreaterEq Opcode = 0x4A
	OpNot       Opcode = 0x4B
	OpNegate    Opcode = 0x4C
)

// Lists and objects
const (
	OpCreateList Opcode = 0x50 // create list from stack (8-bit count)
	OpIndex      Opcode = 0x51 // pop key, pop list, push list[key]
	OpSetIndex   Opcode = 0x52 // pop value, key, list; list[key] = value
	OpNew        Opcode = 0x53 // pop args then type path, push new object (8-bit argc)
)

// Control Flow
const (
	OpJump        Opcode = 0x60 // unconditional jump (16-bit offset)
	OpJumpIfFalse Opcode = 0x61 // pop, jump if false (16-bit offset)
	OpJumpIfTrue  Opcode = 0x62 // pop, jump if true (16-bit offset)
)

// Returns, suspension and faults
const (
	OpReturn    Opcode = 0x70 // return top of stack
	OpReturnDot Opcode = 0x71 // return the frame's current result
	OpSleep     Opcode = 0x72 // pop delay in ticks, defer
	OpThrow     Opcode = 0x73 // pop value, raise a propagating fault
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack (-1 = variable)
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"NOP", 0, 0},
	OpPop: {"POP", 0, -1},
	OpDup: {"DUP", 0, 1},

	OpPushNull:     {"PUSH_NULL", 0, 1},
	OpPushFloat:    {"PUSH_FLOAT", 8, 1},
	OpPushString:   {"PUSH_STRING", 4, 1},
	OpPushPath:     {"PUSH_PATH", 4, 1},
	OpPushResource: {"PUSH_RESOURCE", 4, 1},
	OpPushSrc:      {"PUSH_SRC", 0, 1},
	OpPushUsr:      {"PUSH_USR", 0, 1},
	OpPushDot:      {"PUSH_DOT", 0, 1},

	OpPushArgument: {"PUSH_ARG", 1, 1},
	OpSetArgument:  {"SET_ARG", 1, -1},
	OpPushLocal:    {"PUSH_LOCAL", 1, 1},
	OpSetLocal:     {"SET_LOCAL", 1, -1},
	OpGetVar:       {"GET_VAR", 4, 1},
	OpSetVar:       {"SET_VAR", 4, -1},
	OpGetGlobal:    {"GET_GLOBAL", 4, 1},
	OpSetGlobal:    {"SET_GLOBAL", 4, -1},
	OpSetDot:       {"SET_DOT", 0, -1},

	OpCall:       {"CALL", 5, -1}, // variable: pops receiver + args, pushes result
	OpCallSelf:   {"CALL_SELF", 1, -1},
	OpCallSuper:  {"CALL_SUPER", 1, -1},
	OpCallGlobal: {"CALL_GLOBAL", 5, -1},

	OpAdd:       {"ADD", 0, -1},
	OpSub:       {"SUB", 0, -1},
	OpMul:       {"MUL", 0, -1},
	OpDiv:       {"DIV", 0, -1},
	OpMod:       {"MOD", 0, -1},
	OpEqual:     {"EQUAL", 0, -1},
	OpNotEqual:  {"NOT_EQUAL", 0, -1},
	OpLess:      {"LESS", 0, -1},
	OpGreater:   {"GREATER", 0, -1},
	OpLessEq:    {"LESS_EQ", 0, -1},
	OpGreaterEq: {"GREATER_EQ", 0, -1},
	OpNot:       {"NOT", 0, 0},
	OpNegate:    {"NEGATE", 0, 0},

	OpCreateList: {"CREATE_LIST", 1, -1}, // variable: pops N items
	OpIndex:      {"INDEX", 0, -1},
	OpSetIndex:   {"SET_INDEX", 0, -3},
	OpNew:        {"NEW", 1, -1},

	OpJump:        {"JUMP", 2, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2, -1},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 2, -1},

	OpReturn:    {"RETURN", 0, -1},
	OpReturnDot: {"RETURN_DOT", 0, 0},
	OpSleep:     {"SLEEP", 0, -1},
	OpThrow:     {"THROW", 0, -1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Known reports whether op is a defined opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	return b
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op), operand)
	return b
}

// EmitUint32 appends an opcode with a 32-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint32(op Opcode, operand uint32) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, operand)
	return b
}

// EmitFloat appends PUSH_FLOAT.
func (b *BytecodeBuilder) EmitFloat(v float64) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(OpPushFloat))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, math.Float64bits(v))
	return b
}

// EmitCall appends CALL or CALL_GLOBAL.
func (b *BytecodeBuilder) EmitCall(op Opcode, name uint32, argc uint8) *BytecodeBuilder {
	b.EmitUint32(op, name)
	b.bytes = append(b.bytes, argc)
	return b
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a jump target, possibly not yet placed.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand positions waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - (ref + 2) // offset from after the operand
		binary.LittleEndian.PutUint16(b.bytes[ref:], uint16(int16(offset)))
	}
	label.refs = nil
}

// EmitJump emits a jump instruction with a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) *BytecodeBuilder {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = binary.LittleEndian.AppendUint16(b.bytes, uint16(int16(offset)))
	} else {
		label.refs = append(label.refs, len(b.bytes))
		b.bytes = append(b.bytes, 0, 0)
	}
	return b
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// ErrBytecodeUnderflow is returned when an instruction runs past the end.
var ErrBytecodeUnderflow = errors.New("bytecode underflow")

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

func (r *BytecodeReader) need(n int) error {
	if r.pos+n > len(r.bytes) {
		return errors.Wrapf(ErrBytecodeUnderflow, "at %d reading %d bytes", r.pos, n)
	}
	return nil
}

// ReadOpcode reads the next opcode.
func (r *BytecodeReader) ReadOpcode() (Opcode, error) {
	b, err := r.ReadByte()
	return Opcode(b), err
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.bytes[r.pos]
	r.pos++
	return b, nil
}

// ReadInt16 reads a signed 16-bit operand (little-endian).
func (r *BytecodeReader) ReadInt16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return int16(v), nil
}

// ReadUint32 reads a 32-bit operand (little-endian).
func (r *BytecodeReader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadFloat64 reads a 64-bit float operand.
func (r *BytecodeReader) ReadFloat64() (float64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	bits := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits), nil
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) error {
	if pos < 0 || pos > len(r.bytes) {
		return errors.Errorf("jump target %d outside bytecode (len %d)", pos, len(r.bytes))
	}
	r.pos = pos
	return nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position and advances past it. strs resolves string-table operands and
// may be nil.
func DisassembleInstruction(r *BytecodeReader, strs []string) (string, error) {
	pos := r.Position()
	op, err := r.ReadOpcode()
	if err != nil {
		return "", err
	}
	info := op.Info()

	str := func(i uint32) string {
		if int(i) < len(strs) {
			return fmt.Sprintf("%d (%q)", i, strs[i])
		}
		return fmt.Sprint(i)
	}

	switch op {
	case OpPushFloat:
		v, err := r.ReadFloat64()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d  %s %g", pos, info.Name, v), nil

	case OpPushString, OpPushPath, OpPushResource, OpGetVar, OpSetVar:
		i, err := r.ReadUint32()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, str(i)), nil

	case OpGetGlobal, OpSetGlobal:
		slot, err := r.ReadUint32()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, slot), nil

	case OpPushArgument, OpSetArgument, OpPushLocal, OpSetLocal,
		OpCallSelf, OpCallSuper, OpCreateList, OpNew:
		n, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, n), nil

	case OpCall, OpCallGlobal:
		name, err := r.ReadUint32()
		if err != nil {
			return "", err
		}
		argc, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d  %s %s argc=%d", pos, info.Name, str(name), argc), nil

	case OpJump, OpJumpIfFalse, OpJumpIfTrue:
		offset, err := r.ReadInt16()
		if err != nil {
			return "", err
		}
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target), nil
	}

	if !op.Known() {
		return "", errors.Errorf("unknown opcode 0x%02X at %d", byte(op), pos)
	}
	return fmt.Sprintf("%04d  %s", pos, info.Name), nil
}

// Disassemble returns a full disassembly of bytecode, one instruction per
// line.
func Disassemble(bc []byte, strs []string) (string, error) {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		line, err := DisassembleInstruction(r, strs)
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}
