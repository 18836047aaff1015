package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ---------------------------------------------------------------------------
// dmState: the execution frame of a DMProc
// ---------------------------------------------------------------------------

type dmState struct {
	stateBase
	proc *DMProc
	rt   *Runtime

	src, usr *DreamObject
	args     Arguments // as passed, for forwarding to the super proc
	bound    []Value   // arguments in parameter order
	locals   []Value
	stack    []Value
	r        *BytecodeReader

	// pc of the instruction being executed, for traces.
	pc int

	superInitDone bool
	discardNext   bool
}

func (s *dmState) Proc() Proc { return s.proc }

func (s *dmState) ReturnedInto(v Value) {
	if s.discardNext {
		s.discardNext = false
		return
	}
	s.push(v)
}

func (s *dmState) AppendStackFrame(b *strings.Builder) {
	b.WriteString(s.proc.qualifiedName())
	if s.src != nil {
		fmt.Fprintf(b, " [src %s]", s.src.Value())
	}
	fmt.Fprintf(b, " (pc %d)", s.pc)
}

// ---------------------------------------------------------------------------
// Operand stack
// ---------------------------------------------------------------------------

// interpreterFault carries an error out of an instruction helper.
type interpreterFault struct {
	err error
}

func (s *dmState) fail(err error) {
	panic(interpreterFault{err: err})
}

func (s *dmState) push(v Value) {
	s.stack = append(s.stack, v)
}

func (s *dmState) pop() Value {
	n := len(s.stack)
	if n == 0 {
		s.fail(errors.New("operand stack underflow"))
	}
	v := s.stack[n-1]
	s.stack = s.stack[:n-1]
	return v
}

func (s *dmState) top() Value {
	if len(s.stack) == 0 {
		s.fail(errors.New("operand stack underflow"))
	}
	return s.stack[len(s.stack)-1]
}

func (s *dmState) popN(n int) []Value {
	if n > len(s.stack) {
		s.fail(errors.Errorf("operand stack underflow: need %d, have %d", n, len(s.stack)))
	}
	out := make([]Value, n)
	copy(out, s.stack[len(s.stack)-n:])
	s.stack = s.stack[:len(s.stack)-n]
	return out
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

func (s *dmState) operandByte() int {
	b, err := s.r.ReadByte()
	if err != nil {
		s.fail(err)
	}
	return int(b)
}

func (s *dmState) operandU32() uint32 {
	v, err := s.r.ReadUint32()
	if err != nil {
		s.fail(err)
	}
	return v
}

func (s *dmState) operandString() string {
	str, err := s.rt.String(s.operandU32())
	if err != nil {
		s.fail(err)
	}
	return str
}

func (s *dmState) operandJump() int {
	off, err := s.r.ReadInt16()
	if err != nil {
		s.fail(err)
	}
	return s.r.Position() + int(off)
}

func (s *dmState) jump(target int) {
	if err := s.r.Seek(target); err != nil {
		s.fail(err)
	}
}

func (s *dmState) needSrc(op Opcode) *DreamObject {
	if s.src == nil {
		s.fail(errors.Errorf("%s without src", op))
	}
	return s.src
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

func (s *dmState) Step() (status ProcStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(interpreterFault)
			if !ok {
				panic(r)
			}
			status, err = Returned, f.err
		}
	}()

	if s.proc.initializer && !s.superInitDone {
		s.superInitDone = true
		if super := s.proc.SuperProc(); super != nil {
			s.discardNext = true
			return s.call(super, s.src, s.args)
		}
	}

	for s.r.HasMore() {
		s.pc = s.r.Position()
		op, err := s.r.ReadOpcode()
		if err != nil {
			return Returned, err
		}

		switch op {
		case OpNop:

		case OpPop:
			s.pop()

		case OpDup:
			s.push(s.top())

		// Push constants

		case OpPushNull:
			s.push(Null)

		case OpPushFloat:
			f, err := s.r.ReadFloat64()
			if err != nil {
				return Returned, err
			}
			s.push(Number(f))

		case OpPushString:
			s.push(String(s.operandString()))

		case OpPushPath:
			s.push(PathValue(TypePath(s.operandString())))

		case OpPushResource:
			res, err := s.rt.LoadResource(s.operandString())
			if err != nil {
				return Returned, err
			}
			s.push(res)

		case OpPushSrc:
			s.push(s.objectOrNull(s.src))

		case OpPushUsr:
			s.push(s.objectOrNull(s.usr))

		case OpPushDot:
			s.push(s.rt.objects.Normalize(s.result))

		// Variables

		case OpPushArgument:
			i := s.operandByte()
			if i < len(s.bound) {
				s.push(s.rt.objects.Normalize(s.bound[i]))
			} else {
				s.push(Null)
			}

		case OpSetArgument:
			i := s.operandByte()
			v := s.pop()
			if i >= len(s.bound) {
				s.bound = append(s.bound, make([]Value, i+1-len(s.bound))...)
			}
			s.bound[i] = v

		case OpPushLocal:
			i := s.operandByte()
			if i < len(s.locals) {
				s.push(s.rt.objects.Normalize(s.locals[i]))
			} else {
				s.push(Null)
			}

		case OpSetLocal:
			i := s.operandByte()
			v := s.pop()
			if i >= len(s.locals) {
				s.locals = append(s.locals, make([]Value, i+1-len(s.locals))...)
			}
			s.locals[i] = v

		case OpGetVar:
			name := s.operandString()
			v, err := s.needSrc(op).GetVariable(name)
			if err != nil {
				return Returned, err
			}
			s.push(v)

		case OpSetVar:
			name := s.operandString()
			v := s.pop()
			if err := s.needSrc(op).SetVariable(name, v); err != nil {
				return Returned, err
			}

		case OpGetGlobal:
			v, err := s.rt.Global(int(s.operandU32()))
			if err != nil {
				return Returned, err
			}
			s.push(v)

		case OpSetGlobal:
			slot := int(s.operandU32())
			if err := s.rt.SetGlobal(slot, s.pop()); err != nil {
				return Returned, err
			}

		case OpSetDot:
			s.result = s.pop()

		// Calls

		case OpCall:
			name := s.operandString()
			args := s.popN(s.operandByte())
			recv := s.pop()
			obj := s.rt.objects.Object(recv)
			if obj == nil {
				return Returned, errors.Errorf("cannot call %s() on %s", name, recv)
			}
			proc, err := obj.GetProc(name)
			if err != nil {
				return Returned, err
			}
			return s.call(proc, obj, Args(args...))

		case OpCallSelf:
			args := s.popN(s.operandByte())
			return s.call(s.proc, s.src, Args(args...))

		case OpCallSuper:
			argc := s.operandByte()
			args := Args(s.popN(argc)...)
			if argc == 0 {
				args = s.args
			}
			super := s.proc.SuperProc()
			if super == nil {
				s.push(Null)
				continue
			}
			return s.call(super, s.src, args)

		case OpCallGlobal:
			name := s.operandString()
			args := s.popN(s.operandByte())
			proc, err := s.rt.GlobalProc(name)
			if err != nil {
				return Returned, err
			}
			return s.call(proc, nil, Args(args...))

		// Arithmetic and comparison

		case OpAdd, OpSub, OpMul, OpDiv, OpMod,
			OpEqual, OpNotEqual, OpLess, OpGreater, OpLessEq, OpGreaterEq:
			b := s.rt.objects.Normalize(s.pop())
			a := s.rt.objects.Normalize(s.pop())
			v, err := binaryOp(op, a, b)
			if err != nil {
				return Returned, err
			}
			s.push(v)

		case OpNot:
			s.push(Bool(!s.pop().IsTruthy()))

		case OpNegate:
			n, err := numberOperand(op, s.pop())
			if err != nil {
				return Returned, err
			}
			s.push(Number(-n))

		// Lists and objects

		case OpCreateList:
			values := s.popN(s.operandByte())
			l := s.rt.CreateList()
			for _, v := range values {
				l.AddValue(v)
			}
			s.push(l.Value())

		case OpIndex:
			key := s.pop()
			l, err := s.listOperand(s.pop())
			if err != nil {
				return Returned, err
			}
			v, err := l.Index(key)
			if err != nil {
				return Returned, err
			}
			s.push(s.rt.objects.Normalize(v))

		case OpSetIndex:
			v := s.pop()
			key := s.pop()
			l, err := s.listOperand(s.pop())
			if err != nil {
				return Returned, err
			}
			if err := l.SetIndex(key, v); err != nil {
				return Returned, err
			}

		case OpNew:
			args := s.popN(s.operandByte())
			pv := s.pop()
			path, ok := pv.AsPath()
			if !ok {
				return Returned, errors.Errorf("new requires a type path, got %s", pv)
			}
			obj, err := s.rt.CreateObject(path)
			if err != nil {
				return Returned, err
			}
			return s.pushState(newObjectState(s.thread, obj, s.usr, Args(args...)))

		// Control flow

		case OpJump:
			s.jump(s.operandJump())

		case OpJumpIfFalse:
			target := s.operandJump()
			if !s.pop().IsTruthy() {
				s.jump(target)
			}

		case OpJumpIfTrue:
			target := s.operandJump()
			if s.pop().IsTruthy() {
				s.jump(target)
			}

		// Returns, suspension and faults

		case OpReturn:
			s.result = s.pop()
			return Returned, nil

		case OpReturnDot:
			return Returned, nil

		case OpSleep:
			ticks := sleepTicks(s.pop())
			sched := s.rt.scheduler
			sched.After(ticks).OnComplete(func(Value, error) {
				sched.Wake(s)
			})
			return s.thread.HandleDefer()

		case OpThrow:
			v := s.pop()
			msg, ok := v.AsString()
			if !ok {
				msg = v.String()
			}
			return Returned, Propagating(errors.New(msg))

		default:
			return Returned, errors.Errorf("unknown opcode 0x%02X at %d", byte(op), s.pc)
		}
	}

	// Falling off the end returns ".".
	return Returned, nil
}

// call pushes a new frame for proc and reports Called.
func (s *dmState) call(proc Proc, src *DreamObject, args Arguments) (ProcStatus, error) {
	child, err := proc.CreateState(s.thread, src, s.usr, args)
	if err != nil {
		return Returned, err
	}
	return s.pushState(child)
}

func (s *dmState) pushState(child ProcState) (ProcStatus, error) {
	if err := s.thread.PushState(child); err != nil {
		return Cancelled, err
	}
	return Called, nil
}

func (s *dmState) objectOrNull(o *DreamObject) Value {
	if o == nil {
		return Null
	}
	return s.rt.objects.Normalize(o.Value())
}

func (s *dmState) listOperand(v Value) (*List, error) {
	l := s.rt.objects.List(v)
	if l == nil {
		return nil, errors.Errorf("cannot index %s", v)
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// numberOperand accepts numbers and treats null as zero.
func numberOperand(op Opcode, v Value) (float64, error) {
	switch v.tag {
	case TagNumber:
		return v.num, nil
	case TagNull:
		return 0, nil
	}
	return 0, errors.Errorf("%s: expected number, got %s", op, v)
}

func binaryOp(op Opcode, a, b Value) (Value, error) {
	switch op {
	case OpEqual:
		return Bool(a == b), nil
	case OpNotEqual:
		return Bool(a != b), nil
	}

	if op == OpAdd && (a.tag == TagString || b.tag == TagString) {
		as, aok := stringOperand(a)
		bs, bok := stringOperand(b)
		if !aok || !bok {
			return Null, errors.Errorf("%s: cannot add %s and %s", op, a, b)
		}
		return String(as + bs), nil
	}

	if a.tag == TagString && b.tag == TagString {
		switch op {
		case OpLess:
			return Bool(a.str < b.str), nil
		case OpGreater:
			return Bool(a.str > b.str), nil
		case OpLessEq:
			return Bool(a.str <= b.str), nil
		case OpGreaterEq:
			return Bool(a.str >= b.str), nil
		}
	}

	x, err := numberOperand(op, a)
	if err != nil {
		return Null, err
	}
	y, err := numberOperand(op, b)
	if err != nil {
		return Null, err
	}

	switch op {
	case OpAdd:
		return Number(x + y), nil
	case OpSub:
		return Number(x - y), nil
	case OpMul:
		return Number(x * y), nil
	case OpDiv:
		if y == 0 {
			return Null, errors.New("division by zero")
		}
		return Number(x / y), nil
	case OpMod:
		if y == 0 {
			return Null, errors.New("modulo by zero")
		}
		return Number(math.Mod(x, y)), nil
	case OpLess:
		return Bool(x < y), nil
	case OpGreater:
		return Bool(x > y), nil
	case OpLessEq:
		return Bool(x <= y), nil
	case OpGreaterEq:
		return Bool(x >= y), nil
	}
	return Null, errors.Errorf("%s is not a binary operator", op)
}

func stringOperand(v Value) (string, bool) {
	switch v.tag {
	case TagString:
		return v.str, true
	case TagNull:
		return "", true
	}
	return "", false
}
