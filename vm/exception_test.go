package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Exception State Machine Tests
// ---------------------------------------------------------------------------
//
// These tests verify the explicit block-stack unwinder:
// - try/except transfers control exactly once and restores block depth
// - class filters match by ancestry in the fixed taxonomy
// - finally bodies run exactly once on normal, exception, return and
//   break exits
// - exceptions propagate caller-ward, running callee finallies first
// - an exception that escapes the root frame is a terminal UnhandledError
// ---------------------------------------------------------------------------

// TestTryExceptCatches verifies a matching handler receives control once,
// with the exception bound into the handler register.
func TestTryExceptCatches(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	kVE := b.AddConst(StrValue("ValueError"))
	kmsg := b.AddConst(StrValue("boom"))
	kmsgName := b.AddConst(StrValue("message"))

	handler := b.NewLabel()
	b.EmitSetupExcept(handler, 5, kVE)
	b.Emit(OpLoadConst, 0, kmsg, 0)
	b.Emit(OpRaise, kVE, 0, 0)
	b.Emit(OpReturnAbsent, 0, 0, 0) // unreachable

	b.Mark(handler)
	b.Emit(OpGetAttr, 1, 5, kmsgName)
	b.Emit(OpReturn, 1, 0, 0)

	v, err := m.Run(b.Build())
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind() != KindStr || v.Str() != "boom" {
		t.Errorf("handler saw message %s, want \"boom\"", v.Repr())
	}
}

// buildCatchDivZero assembles `try: 1/0 except <filter>: return 42` with a
// fallthrough return of -1.
func buildCatchDivZero(filter string) *Code {
	b := NewCodeBuilder("main", 0)
	kf := b.AddConst(StrValue(filter))
	k1 := b.AddConst(IntValue(1))
	k0 := b.AddConst(IntValue(0))
	kneg := b.AddConst(IntValue(-1))
	k42 := b.AddConst(IntValue(42))

	handler := b.NewLabel()
	b.EmitSetupExcept(handler, 3, kf)
	b.Emit(OpLoadConst, 0, k1, 0)
	b.Emit(OpLoadConst, 1, k0, 0)
	b.Emit(OpDiv, 2, 0, 1)
	b.Emit(OpPopBlock, 0, 0, 0)
	b.Emit(OpLoadConst, 0, kneg, 0)
	b.Emit(OpReturn, 0, 0, 0)

	b.Mark(handler)
	b.Emit(OpLoadConst, 0, k42, 0)
	b.Emit(OpReturn, 0, 0, 0)
	return b.Build()
}

// TestFilterAncestorMatching verifies ZeroDivisionError is caught by its
// own class, by ArithmeticError, and by Exception, but not by LookupError.
func TestFilterAncestorMatching(t *testing.T) {
	m := newTestVM(t)
	for _, filter := range []string{"ZeroDivisionError", "ArithmeticError", "Exception"} {
		v, err := m.Run(buildCatchDivZero(filter))
		if err != nil {
			t.Errorf("filter %s: %v", filter, err)
			continue
		}
		if v.Int() != 42 {
			t.Errorf("filter %s: result = %s, want 42", filter, v.Repr())
		}
	}

	_, err := m.Run(buildCatchDivZero("LookupError"))
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) || unhandled.Exc.Class != "ZeroDivisionError" {
		t.Errorf("filter LookupError: err = %v, want unhandled ZeroDivisionError", err)
	}
}

// TestBlockDepthRestoredAcrossIterations verifies a handler entered inside
// a loop leaves the block stack consistent, so the next iteration can push
// and consume a fresh except entry.
func TestBlockDepthRestoredAcrossIterations(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	b.SetLocals(1, "i")
	k0 := b.AddConst(IntValue(0))
	k1 := b.AddConst(IntValue(1))
	k3 := b.AddConst(IntValue(3))
	kVE := b.AddConst(StrValue("ValueError"))

	end := b.NewLabel()
	head := b.NewLabel()
	brk := b.NewLabel()
	handler := b.NewLabel()

	b.Emit(OpLoadConst, 0, k0, 0)
	b.Emit(OpStoreLocal, 0, 0, 0)
	b.EmitSetupLoop(end, head)

	b.Mark(head)
	b.Emit(OpLoadLocal, 0, 0, 0)
	b.Emit(OpLoadConst, 1, k1, 0)
	b.Emit(OpAdd, 0, 0, 1)
	b.Emit(OpStoreLocal, 0, 0, 0)
	b.Emit(OpLoadConst, 1, k3, 0)
	b.Emit(OpGt, 2, 0, 1)
	b.EmitJumpIfTrue(2, brk)

	b.EmitSetupExcept(handler, 4, OperandNone)
	b.Emit(OpRaise, kVE, OperandNone, 0)
	b.Mark(handler)
	b.EmitJump(head)

	b.Mark(brk)
	b.Emit(OpBreak, 0, 0, 0)
	b.Mark(end)
	b.Emit(OpLoadLocal, 0, 0, 0)
	b.Emit(OpReturn, 0, 0, 0)

	v, err := m.Run(b.Build())
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 4 {
		t.Errorf("i after loop = %s, want 4", v.Repr())
	}
}

// buildFinallyProgram assembles a try-finally whose finally body increments
// the global "fin", followed by `return 7`. The body is supplied by the
// caller.
func buildFinallyProgram(body func(b *CodeBuilder, consts map[string]uint16)) *Code {
	b := NewCodeBuilder("main", 0)
	consts := map[string]uint16{
		"fin": b.AddConst(StrValue("fin")),
		"1":   b.AddConst(IntValue(1)),
		"5":   b.AddConst(IntValue(5)),
		"7":   b.AddConst(IntValue(7)),
		"VE":  b.AddConst(StrValue("ValueError")),
	}
	fin := b.NewLabel()
	b.EmitSetupFinally(fin)
	body(b, consts)
	b.Emit(OpPopBlock, 0, 0, 0)

	b.Mark(fin)
	b.Emit(OpLoadGlobal, 0, consts["fin"], 0)
	b.Emit(OpLoadConst, 1, consts["1"], 0)
	b.Emit(OpAdd, 0, 0, 1)
	b.Emit(OpStoreGlobal, consts["fin"], 0, 0)
	b.Emit(OpEndFinally, 0, 0, 0)

	b.Emit(OpLoadConst, 0, consts["7"], 0)
	b.Emit(OpReturn, 0, 0, 0)
	return b.Build()
}

func finCount(t *testing.T, m *VM) int64 {
	t.Helper()
	v, ok := m.Globals["fin"]
	if !ok {
		t.Fatal("global 'fin' missing")
	}
	return v.Int()
}

// TestFinallyRunsOnNormalExit verifies exactly one finally execution and
// continuation after the finally body.
func TestFinallyRunsOnNormalExit(t *testing.T) {
	m := newTestVM(t)
	m.SetGlobal("fin", IntValue(0))
	code := buildFinallyProgram(func(b *CodeBuilder, _ map[string]uint16) {
		b.Emit(OpNop, 0, 0, 0)
	})
	v, err := m.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 7 {
		t.Errorf("result = %s, want 7", v.Repr())
	}
	if n := finCount(t, m); n != 1 {
		t.Errorf("finally ran %d times, want 1", n)
	}
}

// TestFinallyRunsOnException verifies the finally body runs once and the
// exception resumes unwinding afterwards.
func TestFinallyRunsOnException(t *testing.T) {
	m := newTestVM(t)
	m.SetGlobal("fin", IntValue(0))
	code := buildFinallyProgram(func(b *CodeBuilder, consts map[string]uint16) {
		b.Emit(OpRaise, consts["VE"], OperandNone, 0)
	})
	_, err := m.Run(code)
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) || unhandled.Exc.Class != "ValueError" {
		t.Fatalf("err = %v, want unhandled ValueError", err)
	}
	if n := finCount(t, m); n != 1 {
		t.Errorf("finally ran %d times, want 1", n)
	}
}

// TestFinallyRunsOnEarlyReturn verifies the finally body runs once and the
// original return value survives it.
func TestFinallyRunsOnEarlyReturn(t *testing.T) {
	m := newTestVM(t)
	m.SetGlobal("fin", IntValue(0))
	code := buildFinallyProgram(func(b *CodeBuilder, consts map[string]uint16) {
		b.Emit(OpLoadConst, 2, consts["5"], 0)
		b.Emit(OpReturn, 2, 0, 0)
	})
	v, err := m.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 5 {
		t.Errorf("result = %s, want 5 (the early return value)", v.Repr())
	}
	if n := finCount(t, m); n != 1 {
		t.Errorf("finally ran %d times, want 1", n)
	}
}

// TestFinallyRunsOnBreak verifies break traverses an enclosing finally
// before reaching the loop's break target.
func TestFinallyRunsOnBreak(t *testing.T) {
	m := newTestVM(t)
	m.SetGlobal("fin", IntValue(0))

	b := NewCodeBuilder("main", 0)
	kfin := b.AddConst(StrValue("fin"))
	k1 := b.AddConst(IntValue(1))
	k9 := b.AddConst(IntValue(9))

	end := b.NewLabel()
	head := b.NewLabel()
	fin := b.NewLabel()

	b.EmitSetupLoop(end, head)
	b.Mark(head)
	b.EmitSetupFinally(fin)
	b.Emit(OpBreak, 0, 0, 0)

	b.Mark(fin)
	b.Emit(OpLoadGlobal, 0, kfin, 0)
	b.Emit(OpLoadConst, 1, k1, 0)
	b.Emit(OpAdd, 0, 0, 1)
	b.Emit(OpStoreGlobal, kfin, 0, 0)
	b.Emit(OpEndFinally, 0, 0, 0)

	b.Mark(end)
	b.Emit(OpLoadConst, 0, k9, 0)
	b.Emit(OpReturn, 0, 0, 0)

	v, err := m.Run(b.Build())
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 9 {
		t.Errorf("result = %s, want 9", v.Repr())
	}
	if n := finCount(t, m); n != 1 {
		t.Errorf("finally ran %d times, want 1", n)
	}
}

// TestBreakInFinallySwallowsException verifies a break executed inside a
// finally body that was entered while unwinding discards the parked
// exception entirely: the run completes, and a later finally in the same
// frame has nothing to re-raise.
func TestBreakInFinallySwallowsException(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	kVE := b.AddConst(StrValue("ValueError"))
	k7 := b.AddConst(IntValue(7))

	end := b.NewLabel()
	head := b.NewLabel()
	fin := b.NewLabel()
	fin2 := b.NewLabel()

	b.EmitSetupLoop(end, head)
	b.Mark(head)
	b.EmitSetupFinally(fin)
	b.Emit(OpRaise, kVE, OperandNone, 0)
	b.Mark(fin)
	b.Emit(OpBreak, 0, 0, 0)

	b.Mark(end)
	b.EmitSetupFinally(fin2)
	b.Emit(OpNop, 0, 0, 0)
	b.Emit(OpPopBlock, 0, 0, 0)
	b.Mark(fin2)
	b.Emit(OpEndFinally, 0, 0, 0)
	b.Emit(OpLoadConst, 0, k7, 0)
	b.Emit(OpReturn, 0, 0, 0)

	v, err := m.Run(b.Build())
	if err != nil {
		t.Fatalf("break in finally should swallow the exception: %v", err)
	}
	if v.Int() != 7 {
		t.Errorf("result = %s, want 7", v.Repr())
	}
}

// TestContinueInFinallySwallowsException is the continue sibling: the loop
// resumes at its head and the parked exception is gone.
func TestContinueInFinallySwallowsException(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	b.SetLocals(1, "i")
	k0 := b.AddConst(IntValue(0))
	k1 := b.AddConst(IntValue(1))
	k2 := b.AddConst(IntValue(2))
	kVE := b.AddConst(StrValue("ValueError"))

	end := b.NewLabel()
	head := b.NewLabel()
	brk := b.NewLabel()
	fin := b.NewLabel()
	fin2 := b.NewLabel()

	b.Emit(OpLoadConst, 0, k0, 0)
	b.Emit(OpStoreLocal, 0, 0, 0)
	b.EmitSetupLoop(end, head)

	b.Mark(head)
	b.Emit(OpLoadLocal, 0, 0, 0)
	b.Emit(OpLoadConst, 1, k1, 0)
	b.Emit(OpAdd, 0, 0, 1)
	b.Emit(OpStoreLocal, 0, 0, 0)
	b.Emit(OpLoadConst, 1, k2, 0)
	b.Emit(OpGe, 2, 0, 1)
	b.EmitJumpIfTrue(2, brk)

	b.EmitSetupFinally(fin)
	b.Emit(OpRaise, kVE, OperandNone, 0)
	b.Mark(fin)
	b.Emit(OpContinue, 0, 0, 0)

	b.Mark(brk)
	b.Emit(OpBreak, 0, 0, 0)

	b.Mark(end)
	b.EmitSetupFinally(fin2)
	b.Emit(OpNop, 0, 0, 0)
	b.Emit(OpPopBlock, 0, 0, 0)
	b.Mark(fin2)
	b.Emit(OpEndFinally, 0, 0, 0)
	b.Emit(OpLoadLocal, 0, 0, 0)
	b.Emit(OpReturn, 0, 0, 0)

	v, err := m.Run(b.Build())
	if err != nil {
		t.Fatalf("continue in finally should swallow the exception: %v", err)
	}
	if v.Int() != 2 {
		t.Errorf("i = %s, want 2", v.Repr())
	}
}

// TestCrossFramePropagation verifies an exception raised in a callee runs
// the callee's finally, pops the frame, and lands in the caller's handler,
// in that order.
func TestCrossFramePropagation(t *testing.T) {
	m := newTestVM(t)
	trace := NewList()
	m.SetGlobal("trace", trace)
	trace.Release()

	// inner(): try: raise ValueError finally: append(trace, "inner-finally")
	inner := NewCodeBuilder("inner", 0)
	kVE := inner.AddConst(StrValue("ValueError"))
	kap := inner.AddConst(StrValue("append"))
	ktr := inner.AddConst(StrValue("trace"))
	kmark := inner.AddConst(StrValue("inner-finally"))
	fin := inner.NewLabel()
	inner.EmitSetupFinally(fin)
	inner.Emit(OpRaise, kVE, OperandNone, 0)
	inner.Mark(fin)
	inner.Emit(OpLoadGlobal, 0, kap, 0)
	inner.Emit(OpLoadGlobal, 1, ktr, 0)
	inner.Emit(OpLoadConst, 2, kmark, 0)
	inner.Emit(OpCall, 0, 2, 0)
	inner.Emit(OpEndFinally, 0, 0, 0)
	innerCode := inner.Build()

	// main(): try: inner() except: append(trace, "caller-handler"); return 1
	b := NewCodeBuilder("main", 0)
	kf := b.AddConst(FuncValue(innerCode))
	kap2 := b.AddConst(StrValue("append"))
	ktr2 := b.AddConst(StrValue("trace"))
	kmark2 := b.AddConst(StrValue("caller-handler"))
	k1 := b.AddConst(IntValue(1))
	handler := b.NewLabel()
	b.EmitSetupExcept(handler, 6, OperandNone)
	b.Emit(OpLoadConst, 0, kf, 0)
	b.Emit(OpCall, 0, 0, 0)
	b.Emit(OpReturnAbsent, 0, 0, 0) // unreachable
	b.Mark(handler)
	b.Emit(OpLoadGlobal, 0, kap2, 0)
	b.Emit(OpLoadGlobal, 1, ktr2, 0)
	b.Emit(OpLoadConst, 2, kmark2, 0)
	b.Emit(OpCall, 0, 2, 0)
	b.Emit(OpLoadConst, 0, k1, 0)
	b.Emit(OpReturn, 0, 0, 0)

	v, err := m.Run(b.Build())
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 1 {
		t.Errorf("result = %s, want 1", v.Repr())
	}

	lst := m.Globals["trace"].List()
	if lst.Len() != 2 {
		t.Fatalf("trace has %d entries, want 2", lst.Len())
	}
	if lst.Get(0).Str() != "inner-finally" || lst.Get(1).Str() != "caller-handler" {
		t.Errorf("trace = %s, want callee finally before caller handler",
			m.Globals["trace"].Repr())
	}
}

// TestReRaise verifies a handler can rethrow the bound exception and the
// original class and message survive.
func TestReRaise(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	kKE := b.AddConst(StrValue("KeyError"))
	kmsg := b.AddConst(StrValue("lost key"))
	handler := b.NewLabel()
	b.EmitSetupExcept(handler, 3, OperandNone)
	b.Emit(OpLoadConst, 0, kmsg, 0)
	b.Emit(OpRaise, kKE, 0, 0)
	b.Mark(handler)
	b.Emit(OpRaise, OperandNone, 3, 0)

	_, err := m.Run(b.Build())
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) {
		t.Fatalf("err = %v, want UnhandledError", err)
	}
	if unhandled.Exc.Class != "KeyError" || unhandled.Exc.Message != "lost key" {
		t.Errorf("re-raised exception = %s, want KeyError: lost key", unhandled.Exc)
	}
}

// TestRaiseUnknownClassIsTypeError verifies a raise naming a class outside
// the taxonomy becomes a TypeError.
func TestRaiseUnknownClassIsTypeError(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	kbad := b.AddConst(StrValue("BogusError"))
	b.Emit(OpRaise, kbad, OperandNone, 0)
	_, err := m.Run(b.Build())
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) || unhandled.Exc.Class != "TypeError" {
		t.Errorf("raise BogusError: err = %v, want TypeError", err)
	}
}

// TestRaiseInFinallyChainsCause verifies an exception raised inside a
// finally that was entered with a parked exception records the old one as
// its cause.
func TestRaiseInFinallyChainsCause(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	kVE := b.AddConst(StrValue("ValueError"))
	kTE := b.AddConst(StrValue("TypeError"))
	fin := b.NewLabel()
	b.EmitSetupFinally(fin)
	b.Emit(OpRaise, kVE, OperandNone, 0)
	b.Mark(fin)
	b.Emit(OpRaise, kTE, OperandNone, 0)

	_, err := m.Run(b.Build())
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) || unhandled.Exc.Class != "TypeError" {
		t.Fatalf("err = %v, want unhandled TypeError", err)
	}
	if unhandled.Exc.Cause == nil || unhandled.Exc.Cause.Class != "ValueError" {
		t.Errorf("cause = %v, want ValueError", unhandled.Exc.Cause)
	}
}

// TestUnhandledErrorCarriesLine verifies the raise site's source line shows
// up in the terminal error.
func TestUnhandledErrorCarriesLine(t *testing.T) {
	m := newTestVM(t)
	b := NewCodeBuilder("main", 0)
	kVE := b.AddConst(StrValue("ValueError"))
	b.Line(17)
	b.Emit(OpRaise, kVE, OperandNone, 0)
	_, err := m.Run(b.Build())
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) {
		t.Fatalf("err = %v, want UnhandledError", err)
	}
	if unhandled.Exc.Line != 17 {
		t.Errorf("line = %d, want 17", unhandled.Exc.Line)
	}
}

// TestExceptionAncestry verifies IsKindOf over the taxonomy directly.
func TestExceptionAncestry(t *testing.T) {
	e := NewException("IndexError", "")
	for _, class := range []string{"IndexError", "LookupError", "Exception"} {
		if !e.IsKindOf(class) {
			t.Errorf("IndexError should be a kind of %s", class)
		}
	}
	for _, class := range []string{"KeyError", "ArithmeticError", "TypeError"} {
		if e.IsKindOf(class) {
			t.Errorf("IndexError should not be a kind of %s", class)
		}
	}
}
