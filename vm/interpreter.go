package vm

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Execution state
// ---------------------------------------------------------------------------

// execState tracks whether the interpreter is dispatching instructions or
// searching block stacks for an exception handler.
type execState uint8

const (
	stateNormal execState = iota
	stateUnwinding
)

// Interpreter executes code units over a call stack of frames. One
// interpreter instance serves one VM and is not safe for concurrent use.
type Interpreter struct {
	vm       *VM
	frames   []*Frame
	state    execState
	current  *ExceptionObject // active exception while unwinding
	maxDepth int
}

func newInterpreter(vm *VM, maxDepth int) *Interpreter {
	return &Interpreter{vm: vm, maxDepth: maxDepth}
}

// Depth returns the current call depth.
func (i *Interpreter) Depth() int { return len(i.frames) }

func (i *Interpreter) top() *Frame { return i.frames[len(i.frames)-1] }

// popFrame releases and discards the topmost frame.
func (i *Interpreter) popFrame() {
	f := i.frames[len(i.frames)-1]
	f.releaseAll()
	i.frames = i.frames[:len(i.frames)-1]
}

// Run executes a code unit with the given arguments until the call stack
// empties. The returned error is nil on normal completion, *UnhandledError
// when an exception propagates off the root frame, and *StackOverflowError
// when the call depth limit is hit.
func (i *Interpreter) Run(code *Code, args ...Value) (Value, error) {
	if len(args) != code.NumParams {
		return Absent, fmt.Errorf("%s() takes %d arguments, got %d",
			code.Name, code.NumParams, len(args))
	}
	f := newFrame(code, 0)
	for k, a := range args {
		f.setLocal(uint16(k), a)
	}
	i.frames = append(i.frames, f)
	v, err := i.loop()
	// Defensive cleanup when a fatal error aborts mid-stack.
	for len(i.frames) > 0 {
		i.popFrame()
	}
	i.state = stateNormal
	i.current = nil
	return v, err
}

// ---------------------------------------------------------------------------
// The dispatch loop
// ---------------------------------------------------------------------------

func (i *Interpreter) loop() (Value, error) {
	for {
		f := i.top()
		if f.PC >= len(f.Code.Instrs) {
			// Falling off the end returns absent.
			if res, done := i.doReturn(Absent); done {
				return res, nil
			}
			continue
		}
		in := f.Code.Instrs[f.PC]
		pc := f.PC
		f.PC++

		switch in.Op {
		case OpNop:

		case OpMove:
			f.setReg(in.A, f.Regs[in.B])
		case OpLoadConst:
			f.setReg(in.A, f.Code.Consts[in.B])
		case OpLoadLocal:
			f.setReg(in.A, f.Locals[in.B])
		case OpStoreLocal:
			f.setLocal(in.A, f.Regs[in.B])
		case OpLoadGlobal:
			name := f.Code.Consts[in.B].Str()
			v, ok := i.vm.Globals[name]
			if !ok {
				if i.raiseAt(f, in, newExceptionf("NameError", "name '%s' is not defined", name)) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.setReg(in.A, v)
		case OpStoreGlobal:
			name := f.Code.Consts[in.A].Str()
			v := f.Regs[in.B]
			v.Retain()
			if old, ok := i.vm.Globals[name]; ok {
				old.Release()
			}
			i.vm.Globals[name] = v

		case OpAdd, OpSub, OpMul, OpDiv, OpFloorDiv, OpMod:
			l, r := f.Regs[in.B], f.Regs[in.C]
			if res, ok := taggedBinary(in.Op, l, r); ok {
				f.storeOwned(in.A, res)
				break
			}
			res, exc := generalBinary(in.Op, l, r)
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.storeOwned(in.A, res)

		case OpNeg:
			v := f.Regs[in.B]
			switch v.Kind() {
			case KindInt, KindBool:
				f.storeOwned(in.A, IntValue(-v.Int()))
			case KindFloat:
				f.storeOwned(in.A, FloatValue(-v.Float()))
			default:
				if i.raiseAt(f, in, newExceptionf("TypeError",
					"bad operand type for unary -: '%s'", v.Kind())) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
		case OpNot:
			f.storeOwned(in.A, BoolValue(!f.Regs[in.B].IsTruthy()))

		case OpEq:
			f.storeOwned(in.A, BoolValue(f.Regs[in.B].Equals(f.Regs[in.C])))
		case OpNe:
			f.storeOwned(in.A, BoolValue(!f.Regs[in.B].Equals(f.Regs[in.C])))
		case OpLt, OpLe, OpGt, OpGe:
			l, r := f.Regs[in.B], f.Regs[in.C]
			cmp, exc := compareOrder(in.Op, l, r)
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			var res bool
			switch in.Op {
			case OpLt:
				res = cmp < 0
			case OpLe:
				res = cmp <= 0
			case OpGt:
				res = cmp > 0
			default:
				res = cmp >= 0
			}
			f.storeOwned(in.A, BoolValue(res))
		case OpContains:
			found, exc := containsValue(f.Regs[in.B], f.Regs[in.C])
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.storeOwned(in.A, BoolValue(found))

		case OpJump:
			target := int(in.A)
			if target <= pc && i.onBackEdge(f, target, pc) {
				continue
			}
			f.PC = target
		case OpJumpIfFalse:
			if !f.Regs[in.A].IsTruthy() {
				target := int(in.B)
				if target <= pc && i.onBackEdge(f, target, pc) {
					continue
				}
				f.PC = target
			}
		case OpJumpIfTrue:
			if f.Regs[in.A].IsTruthy() {
				target := int(in.B)
				if target <= pc && i.onBackEdge(f, target, pc) {
					continue
				}
				f.PC = target
			}

		case OpCall:
			if exc, fatal := i.doCall(f, in); fatal != nil {
				return Absent, fatal
			} else if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
		case OpReturn:
			v := f.Regs[in.A]
			v.Retain()
			if res, done := i.doReturn(v); done {
				return res, nil
			}
		case OpReturnAbsent:
			if res, done := i.doReturn(Absent); done {
				return res, nil
			}

		case OpIndex:
			res, exc := indexValue(f.Regs[in.B], f.Regs[in.C])
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.storeOwned(in.A, res)
		case OpSetIndex:
			exc := setIndexValue(f.Regs[in.A], f.Regs[in.B], f.Regs[in.C])
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
		case OpGetAttr:
			obj := f.Regs[in.B]
			name := f.Code.Consts[in.C].Str()
			if obj.Kind() != KindObject {
				if i.raiseAt(f, in, newExceptionf("AttributeError",
					"'%s' object has no attribute '%s'", obj.Kind(), name)) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			v, ok := obj.Object().GetAttr(name)
			if !ok {
				if i.raiseAt(f, in, newExceptionf("AttributeError",
					"'%s' object has no attribute '%s'", obj.Object().Class, name)) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.setReg(in.A, v)
		case OpSetAttr:
			obj := f.Regs[in.A]
			name := f.Code.Consts[in.B].Str()
			if obj.Kind() != KindObject {
				if i.raiseAt(f, in, newExceptionf("AttributeError",
					"'%s' object has no attribute '%s'", obj.Kind(), name)) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			obj.Object().SetAttr(name, f.Regs[in.C])

		case OpMakeList, OpMakeTuple, OpMakeSet, OpMakeMap:
			res, exc := i.makeContainer(f, in)
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.storeOwned(in.A, res)
		case OpLen:
			n, exc := lengthOf(f.Regs[in.B])
			if exc != nil {
				if i.raiseAt(f, in, exc) {
					return Absent, &UnhandledError{Exc: i.current}
				}
				continue
			}
			f.storeOwned(in.A, IntValue(n))

		case OpSetupLoop:
			f.pushBlock(BlockEntry{Kind: BlockLoop, BreakPC: int(in.A), ContinuePC: int(in.B)})
		case OpSetupExcept:
			filter := ""
			if in.C != OperandNone {
				filter = f.Code.Consts[in.C].Str()
			}
			f.pushBlock(BlockEntry{Kind: BlockExcept, Handler: int(in.A), ExcReg: in.B, Filter: filter})
		case OpSetupFinally:
			f.pushBlock(BlockEntry{Kind: BlockFinally, Handler: int(in.A)})
		case OpPopBlock:
			f.popBlock()
		case OpEndFinally:
			if res, done, fatal := i.endFinally(f); fatal != nil {
				return Absent, fatal
			} else if done {
				return res, nil
			}
		case OpRaise:
			exc, perr := i.buildRaise(f, in)
			if perr != nil {
				exc = perr
			}
			if i.raiseAt(f, in, exc) {
				return Absent, &UnhandledError{Exc: i.current}
			}
		case OpBreak:
			if i.doBreak(f) {
				if i.state == stateUnwinding && i.unwind() {
					return Absent, &UnhandledError{Exc: i.current}
				}
			}
		case OpContinue:
			if i.doContinue(f) {
				if i.state == stateUnwinding && i.unwind() {
					return Absent, &UnhandledError{Exc: i.current}
				}
			}

		default:
			panic(fmt.Sprintf("interpreter: unknown opcode 0x%02X at %04d in %s",
				uint8(in.Op), pc, f.Code.Name))
		}
	}
}

// ---------------------------------------------------------------------------
// Calls and returns
// ---------------------------------------------------------------------------

// doCall dispatches OpCall. The callee sits in register A with arguments in
// A+1..A+B; the result lands back in A. Guest failures come back as an
// exception, host failures (depth limit) as a fatal error.
func (i *Interpreter) doCall(f *Frame, in Instr) (*ExceptionObject, error) {
	callee := f.Regs[in.A]
	if callee.Kind() != KindCallable {
		return newExceptionf("TypeError", "'%s' object is not callable", callee.Kind()), nil
	}
	c := callee.Callable()
	args := f.Regs[in.A+1 : in.A+1+in.B]

	if c.Builtin != nil {
		res, exc := c.Builtin(i.vm, args)
		if exc != nil {
			return exc, nil
		}
		f.storeOwned(in.A, res)
		return nil, nil
	}

	code := c.Code
	if len(args) != code.NumParams {
		return newExceptionf("TypeError", "%s() takes %d arguments, got %d",
			code.Name, code.NumParams, len(args)), nil
	}
	if len(i.frames) >= i.maxDepth {
		return nil, &StackOverflowError{Depth: i.maxDepth}
	}
	nf := newFrame(code, in.A)
	for k, a := range args {
		nf.setLocal(uint16(k), a)
	}
	i.frames = append(i.frames, nf)
	return nil, nil
}

// doReturn unwinds the current frame's block stack for a return, running
// finally bodies on the way out, then pops the frame and delivers the value
// to the caller. The value is passed owned; ownership transfers here. The
// second result is true when the root frame returned.
func (i *Interpreter) doReturn(val Value) (Value, bool) {
	f := i.top()
	for len(f.Blocks) > 0 {
		b := f.popBlock()
		if b.Kind == BlockFinally {
			f.clearPending()
			f.pending = pendingAction{kind: pendingReturn, val: val}
			f.PC = b.Handler
			return Absent, false
		}
	}
	if len(i.frames) == 1 {
		i.popFrame()
		return val, true
	}
	retReg := f.RetReg
	i.popFrame()
	i.top().storeOwned(retReg, val)
	return Absent, false
}

// ---------------------------------------------------------------------------
// Raising and unwinding
// ---------------------------------------------------------------------------

// raiseAt attaches the source line, enters the unwinding state, and runs
// the handler search. True means the exception is terminal.
func (i *Interpreter) raiseAt(f *Frame, in Instr, exc *ExceptionObject) bool {
	if exc.Line == 0 {
		exc.Line = in.Line
	}
	i.state = stateUnwinding
	i.current = exc
	return i.unwind()
}

// unwind searches block stacks from the innermost frame outward. Finally
// entries intercept (the exception is parked in the pending slot and
// re-raised by OpEndFinally); matching except entries consume the exception
// and resume normal dispatch at the handler; exhausted frames pop. True
// means no handler exists anywhere.
func (i *Interpreter) unwind() bool {
	exc := i.current
	for len(i.frames) > 0 {
		f := i.top()
		for len(f.Blocks) > 0 {
			b := f.popBlock()
			switch b.Kind {
			case BlockFinally:
				f.clearPending()
				f.pending = pendingAction{kind: pendingRaise, exc: exc}
				f.PC = b.Handler
				i.state = stateNormal
				i.current = nil
				return false
			case BlockExcept:
				if b.Filter != "" && !exc.IsKindOf(b.Filter) {
					continue
				}
				f.storeOwned(b.ExcReg, exc.AsValue())
				f.PC = b.Handler
				i.state = stateNormal
				i.current = nil
				return false
			case BlockLoop:
				// Discarded; the exception escapes the loop.
			}
		}
		i.popFrame()
	}
	return true
}

// buildRaise constructs the exception for OpRaise. With A set, A names the
// class constant and B optionally holds a message register; with A absent,
// B holds an exception value to re-raise.
func (i *Interpreter) buildRaise(f *Frame, in Instr) (*ExceptionObject, *ExceptionObject) {
	var exc *ExceptionObject
	if in.A == OperandNone {
		v := f.Regs[in.B]
		if v.Kind() != KindObject || !KnownExceptionClass(v.Object().Class) {
			return nil, newExceptionf("TypeError", "exceptions must derive from Exception")
		}
		obj := v.Object()
		exc = NewException(obj.Class, "")
		if msg, ok := obj.GetAttr("message"); ok && msg.Kind() == KindStr {
			exc.Message = msg.Str()
		}
		if line, ok := obj.GetAttr("line"); ok && line.Kind() == KindInt {
			exc.Line = int32(line.Int())
		}
	} else {
		class := f.Code.Consts[in.A].Str()
		if !KnownExceptionClass(class) {
			return nil, newExceptionf("TypeError", "exceptions must derive from Exception")
		}
		exc = NewException(class, "")
		if in.B != OperandNone {
			msg := f.Regs[in.B]
			if msg.Kind() == KindStr {
				exc.Message = msg.Str()
			} else {
				exc.Message = msg.String()
			}
		}
	}
	// Raising inside a finally that was entered with a parked exception
	// chains the old one as the cause.
	if f.pending.kind == pendingRaise {
		exc.Cause = f.pending.exc
	}
	return exc, nil
}

// endFinally resumes whatever control flow the finally body interrupted.
func (i *Interpreter) endFinally(f *Frame) (Value, bool, error) {
	p := f.pending
	f.pending = pendingAction{}
	switch p.kind {
	case pendingRaise:
		i.state = stateUnwinding
		i.current = p.exc
		if i.unwind() {
			return Absent, false, &UnhandledError{Exc: p.exc}
		}
	case pendingReturn:
		if res, done := i.doReturn(p.val); done {
			return res, true, nil
		}
	case pendingBreak:
		if i.doBreak(f) && i.state == stateUnwinding && i.unwind() {
			return Absent, false, &UnhandledError{Exc: i.current}
		}
	case pendingContinue:
		if i.doContinue(f) && i.state == stateUnwinding && i.unwind() {
			return Absent, false, &UnhandledError{Exc: i.current}
		}
	}
	return Absent, false, nil
}

// doBreak unwinds the block stack to the nearest loop. Finally entries
// intercept the traversal. The result is true when an error was raised
// (no enclosing loop); the caller then runs the unwinder.
func (i *Interpreter) doBreak(f *Frame) bool {
	for len(f.Blocks) > 0 {
		b := f.popBlock()
		switch b.Kind {
		case BlockFinally:
			f.clearPending()
			f.pending = pendingAction{kind: pendingBreak}
			f.PC = b.Handler
			return false
		case BlockLoop:
			// A break out of a finally body discards whatever the finally
			// had parked.
			f.clearPending()
			f.PC = b.BreakPC
			return false
		}
	}
	i.state = stateUnwinding
	i.current = NewException("RuntimeError", "'break' outside loop")
	i.current.Line = f.Code.LineAt(f.PC - 1)
	return true
}

// doContinue is doBreak's sibling; the loop entry stays on the stack.
func (i *Interpreter) doContinue(f *Frame) bool {
	for len(f.Blocks) > 0 {
		b := f.Blocks[len(f.Blocks)-1]
		switch b.Kind {
		case BlockFinally:
			f.popBlock()
			f.clearPending()
			f.pending = pendingAction{kind: pendingContinue}
			f.PC = b.Handler
			return false
		case BlockLoop:
			f.clearPending()
			f.PC = b.ContinuePC
			return false
		default:
			f.popBlock()
		}
	}
	i.state = stateUnwinding
	i.current = NewException("RuntimeError", "'continue' outside loop")
	i.current.Line = f.Code.LineAt(f.PC - 1)
	return true
}

// ---------------------------------------------------------------------------
// Hot loops
// ---------------------------------------------------------------------------

// onBackEdge records a taken backward jump with the profiler and, once the
// loop is hot and compiled, hands the iteration to the native body. True
// means the PC has been placed (past the loop on completion, at the head on
// bailout); false means the interpreter should jump normally.
func (i *Interpreter) onBackEdge(f *Frame, start, end int) bool {
	if i.vm == nil || i.vm.profiler == nil {
		return false
	}
	i.vm.profiler.RecordBackEdge(f.Code, start, end)
	compiled := i.vm.compiledLoop(f.Code, start)
	if compiled == nil {
		return false
	}
	switch compiled(f.Regs, f.Locals, f.Code.Consts) {
	case LoopCompleted:
		f.PC = end + 1
	default:
		f.PC = start
	}
	return true
}

// ---------------------------------------------------------------------------
// Container construction
// ---------------------------------------------------------------------------

func (i *Interpreter) makeContainer(f *Frame, in Instr) (Value, *ExceptionObject) {
	switch in.Op {
	case OpMakeList:
		return NewList(f.Regs[in.B : in.B+in.C]...), nil
	case OpMakeTuple:
		return NewTuple(f.Regs[in.B : in.B+in.C]...), nil
	case OpMakeSet:
		s := NewSet()
		for k := in.B; k < in.B+in.C; k++ {
			if exc := s.Set().Add(f.Regs[k]); exc != nil {
				s.Release()
				return Absent, exc
			}
		}
		return s, nil
	default: // OpMakeMap
		d := NewDict()
		for k := uint16(0); k < in.C; k++ {
			key := f.Regs[in.B+2*k]
			val := f.Regs[in.B+2*k+1]
			if exc := d.Dict().Set(key, val); exc != nil {
				d.Release()
				return Absent, exc
			}
		}
		return d, nil
	}
}

// ---------------------------------------------------------------------------
// Operator semantics (general path)
// ---------------------------------------------------------------------------

// taggedBinary attempts the NaN-boxed integer fast path. Not-representable
// operands or results (including division by zero) fall through to the
// general path, which re-detects the condition and raises properly.
func taggedBinary(op Opcode, l, r Value) (Value, bool) {
	tl, ok := TaggedFromValue(l)
	if !ok {
		return Absent, false
	}
	tr, ok := TaggedFromValue(r)
	if !ok {
		return Absent, false
	}
	var res TaggedValue
	switch op {
	case OpAdd:
		res, ok = tl.Add(tr)
	case OpSub:
		res, ok = tl.Sub(tr)
	case OpMul:
		res, ok = tl.Mul(tr)
	case OpDiv:
		res, ok = tl.Div(tr)
	case OpFloorDiv:
		res, ok = tl.FloorDiv(tr)
	case OpMod:
		res, ok = tl.Mod(tr)
	default:
		return Absent, false
	}
	if !ok {
		return Absent, false
	}
	return res.ToValue(), true
}

func opSymbol(op Opcode) string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpFloorDiv:
		return "//"
	case OpMod:
		return "%"
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	default:
		return ">="
	}
}

// integral widens int and bool operands for integer arithmetic.
func integral(v Value) (int64, bool) {
	switch v.Kind() {
	case KindInt, KindBool:
		return v.i, true
	}
	return 0, false
}

// generalBinary implements the full arithmetic semantics: integer and float
// promotion, string/bytes/sequence concatenation and repetition.
func generalBinary(op Opcode, l, r Value) (Value, *ExceptionObject) {
	if li, lok := integral(l); lok {
		if ri, rok := integral(r); rok {
			return intBinary(op, li, ri)
		}
	}
	if lf, lok := asFloat(l); lok {
		if rf, rok := asFloat(r); rok {
			return floatBinary(op, lf, rf)
		}
	}
	switch op {
	case OpAdd:
		switch {
		case l.Kind() == KindStr && r.Kind() == KindStr:
			return StrValue(l.Str() + r.Str()), nil
		case l.Kind() == KindBytes && r.Kind() == KindBytes:
			b := make([]byte, 0, len(l.Bytes())+len(r.Bytes()))
			b = append(b, l.Bytes()...)
			b = append(b, r.Bytes()...)
			return BytesValue(b), nil
		case l.Kind() == KindList && r.Kind() == KindList:
			return NewList(append(append([]Value{}, l.List().Elems...), r.List().Elems...)...), nil
		case l.Kind() == KindTuple && r.Kind() == KindTuple:
			return NewTuple(append(append([]Value{}, l.List().Elems...), r.List().Elems...)...), nil
		}
	case OpMul:
		if v, ok := repeatSequence(l, r); ok {
			return v, nil
		}
		if v, ok := repeatSequence(r, l); ok {
			return v, nil
		}
	}
	return Absent, newExceptionf("TypeError",
		"unsupported operand type(s) for %s: '%s' and '%s'", opSymbol(op), l.Kind(), r.Kind())
}

// repeatSequence implements str/bytes/list * int.
func repeatSequence(seq, count Value) (Value, bool) {
	n, ok := integral(count)
	if !ok {
		return Absent, false
	}
	if n < 0 {
		n = 0
	}
	switch seq.Kind() {
	case KindStr:
		return StrValue(strings.Repeat(seq.Str(), int(n))), true
	case KindBytes:
		src := seq.Bytes()
		b := make([]byte, 0, len(src)*int(n))
		for k := int64(0); k < n; k++ {
			b = append(b, src...)
		}
		return BytesValue(b), true
	case KindList:
		elems := make([]Value, 0, seq.List().Len()*int(n))
		for k := int64(0); k < n; k++ {
			elems = append(elems, seq.List().Elems...)
		}
		return NewList(elems...), true
	}
	return Absent, false
}

func intBinary(op Opcode, a, b int64) (Value, *ExceptionObject) {
	switch op {
	case OpAdd:
		return IntValue(a + b), nil
	case OpSub:
		return IntValue(a - b), nil
	case OpMul:
		return IntValue(a * b), nil
	case OpDiv:
		if b == 0 {
			return Absent, NewException("ZeroDivisionError", "division by zero")
		}
		return FloatValue(float64(a) / float64(b)), nil
	case OpFloorDiv:
		if b == 0 {
			return Absent, NewException("ZeroDivisionError", "integer division or modulo by zero")
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return IntValue(q), nil
	default: // OpMod
		if b == 0 {
			return Absent, NewException("ZeroDivisionError", "integer division or modulo by zero")
		}
		r := a % b
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return IntValue(r), nil
	}
}

func floatBinary(op Opcode, a, b float64) (Value, *ExceptionObject) {
	switch op {
	case OpAdd:
		return FloatValue(a + b), nil
	case OpSub:
		return FloatValue(a - b), nil
	case OpMul:
		return FloatValue(a * b), nil
	case OpDiv:
		if b == 0 {
			return Absent, NewException("ZeroDivisionError", "float division by zero")
		}
		return FloatValue(a / b), nil
	case OpFloorDiv:
		if b == 0 {
			return Absent, NewException("ZeroDivisionError", "float floor division by zero")
		}
		return FloatValue(math.Floor(a / b)), nil
	default: // OpMod
		if b == 0 {
			return Absent, NewException("ZeroDivisionError", "float modulo")
		}
		r := math.Mod(a, b)
		if r != 0 && (r < 0) != (b < 0) {
			r += b
		}
		return FloatValue(r), nil
	}
}

// compareOrder returns -1/0/+1 ordering for numerics, strings, bytes and
// sequences; unordered kind pairs raise TypeError.
func compareOrder(op Opcode, l, r Value) (int, *ExceptionObject) {
	if lf, lok := asFloat(l); lok {
		if rf, rok := asFloat(r); rok {
			switch {
			case lf < rf:
				return -1, nil
			case lf > rf:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if l.Kind() == r.Kind() {
		switch l.Kind() {
		case KindStr:
			return strings.Compare(l.Str(), r.Str()), nil
		case KindBytes:
			return strings.Compare(string(l.Bytes()), string(r.Bytes())), nil
		case KindList, KindTuple:
			a, b := l.List(), r.List()
			n := a.Len()
			if b.Len() < n {
				n = b.Len()
			}
			for k := 0; k < n; k++ {
				c, exc := compareOrder(op, a.Get(k), b.Get(k))
				if exc != nil {
					return 0, exc
				}
				if c != 0 {
					return c, nil
				}
			}
			switch {
			case a.Len() < b.Len():
				return -1, nil
			case a.Len() > b.Len():
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	return 0, newExceptionf("TypeError",
		"'%s' not supported between instances of '%s' and '%s'", opSymbol(op), l.Kind(), r.Kind())
}

// containsValue implements membership tests over every container kind plus
// substring search.
func containsValue(needle, container Value) (bool, *ExceptionObject) {
	switch container.Kind() {
	case KindList, KindTuple:
		for _, e := range container.List().Elems {
			if needle.Equals(e) {
				return true, nil
			}
		}
		return false, nil
	case KindMap:
		return container.Dict().Has(needle)
	case KindSet, KindFrozenSet:
		return container.Set().Has(needle)
	case KindStr:
		if needle.Kind() != KindStr {
			return false, newExceptionf("TypeError",
				"'in <str>' requires string as left operand, not '%s'", needle.Kind())
		}
		return strings.Contains(container.Str(), needle.Str()), nil
	case KindBytes:
		hay := container.Bytes()
		if needle.Kind() == KindBytes {
			return strings.Contains(string(hay), string(needle.Bytes())), nil
		}
		n, ok := integral(needle)
		if !ok {
			return false, newExceptionf("TypeError",
				"a bytes-like object is required, not '%s'", needle.Kind())
		}
		if n < 0 || n > 255 {
			return false, NewException("ValueError", "byte must be in range(0, 256)")
		}
		for _, c := range hay {
			if int64(c) == n {
				return true, nil
			}
		}
		return false, nil
	case KindRange:
		n, ok := integral(needle)
		if !ok {
			return false, nil
		}
		rg := container.Range()
		if rg.Step > 0 {
			return n >= rg.Start && n < rg.Stop && (n-rg.Start)%rg.Step == 0, nil
		}
		return n <= rg.Start && n > rg.Stop && (rg.Start-n)%(-rg.Step) == 0, nil
	default:
		return false, newExceptionf("TypeError",
			"argument of type '%s' is not iterable", container.Kind())
	}
}

// indexValue implements subscript reads. The result is owned by the caller.
func indexValue(container, index Value) (Value, *ExceptionObject) {
	switch container.Kind() {
	case KindList, KindTuple:
		n, ok := integral(index)
		if !ok {
			return Absent, newExceptionf("TypeError",
				"%s indices must be integers, not '%s'", container.Kind(), index.Kind())
		}
		lst := container.List()
		n = normalizeIndex(n, int64(lst.Len()))
		if n < 0 {
			return Absent, newExceptionf("IndexError", "%s index out of range", container.Kind())
		}
		v := lst.Get(int(n))
		v.Retain()
		return v, nil
	case KindMap:
		v, ok, exc := container.Dict().Get(index)
		if exc != nil {
			return Absent, exc
		}
		if !ok {
			return Absent, NewException("KeyError", index.Repr())
		}
		v.Retain()
		return v, nil
	case KindStr:
		n, ok := integral(index)
		if !ok {
			return Absent, newExceptionf("TypeError",
				"string indices must be integers, not '%s'", index.Kind())
		}
		// Strings index by code point, not by byte.
		runes := []rune(container.Str())
		n = normalizeIndex(n, int64(len(runes)))
		if n < 0 {
			return Absent, NewException("IndexError", "string index out of range")
		}
		return StrValue(string(runes[n])), nil
	case KindBytes:
		n, ok := integral(index)
		if !ok {
			return Absent, newExceptionf("TypeError",
				"byte indices must be integers, not '%s'", index.Kind())
		}
		b := container.Bytes()
		n = normalizeIndex(n, int64(len(b)))
		if n < 0 {
			return Absent, NewException("IndexError", "index out of range")
		}
		return IntValue(int64(b[n])), nil
	case KindRange:
		n, ok := integral(index)
		if !ok {
			return Absent, newExceptionf("TypeError",
				"range indices must be integers, not '%s'", index.Kind())
		}
		rg := container.Range()
		n = normalizeIndex(n, rg.Len())
		if n < 0 {
			return Absent, NewException("IndexError", "range object index out of range")
		}
		return IntValue(rg.Index(n)), nil
	default:
		return Absent, newExceptionf("TypeError",
			"'%s' object is not subscriptable", container.Kind())
	}
}

// setIndexValue implements subscript writes.
func setIndexValue(container, index, val Value) *ExceptionObject {
	switch container.Kind() {
	case KindList:
		n, ok := integral(index)
		if !ok {
			return newExceptionf("TypeError", "list indices must be integers, not '%s'", index.Kind())
		}
		lst := container.List()
		n = normalizeIndex(n, int64(lst.Len()))
		if n < 0 {
			return NewException("IndexError", "list assignment index out of range")
		}
		lst.Put(int(n), val)
		return nil
	case KindMap:
		return container.Dict().Set(index, val)
	default:
		return newExceptionf("TypeError",
			"'%s' object does not support item assignment", container.Kind())
	}
}

// normalizeIndex resolves negative indexing; -1 result means out of range.
func normalizeIndex(n, length int64) int64 {
	if n < 0 {
		n += length
	}
	if n < 0 || n >= length {
		return -1
	}
	return n
}

// lengthOf returns the guest-level length of a value.
func lengthOf(v Value) (int64, *ExceptionObject) {
	switch v.Kind() {
	case KindStr:
		return int64(utf8.RuneCountInString(v.Str())), nil
	case KindBytes:
		return int64(len(v.Bytes())), nil
	case KindList, KindTuple:
		return int64(v.List().Len()), nil
	case KindMap:
		return int64(v.Dict().Len()), nil
	case KindSet, KindFrozenSet:
		return int64(v.Set().Len()), nil
	case KindRange:
		return v.Range().Len(), nil
	default:
		return 0, newExceptionf("TypeError", "object of type '%s' has no len()", v.Kind())
	}
}
