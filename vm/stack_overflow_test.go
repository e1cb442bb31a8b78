package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Call Depth Limit Tests
// ---------------------------------------------------------------------------
//
// Exceeding the configured call depth is a fatal host error, not a guest
// exception: no handler can observe it, and the interpreter resets to a
// clean state afterwards.
// ---------------------------------------------------------------------------

// newDepthVM builds a VM with a small call depth limit and no native loops.
func newDepthVM(t *testing.T, depth int) *VM {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxCallDepth = depth
	cfg.NativeLoops = false
	m, err := NewVM(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// installRecurse registers a zero-argument function that calls itself
// through the global namespace forever:
//
//	def recurse():
//	    return recurse()
func installRecurse(m *VM) {
	b := NewCodeBuilder("recurse", 0)
	kname := b.AddConst(StrValue("recurse"))
	b.Emit(OpLoadGlobal, 0, kname, 0)
	b.Emit(OpCall, 0, 0, 0)
	b.Emit(OpReturn, 0, 0, 0)
	fv := FuncValue(b.Build())
	m.SetGlobal("recurse", fv)
	fv.Release()
}

// buildCallRecurse assembles `return recurse()`.
func buildCallRecurse() *Code {
	b := NewCodeBuilder("main", 0)
	kname := b.AddConst(StrValue("recurse"))
	b.Emit(OpLoadGlobal, 0, kname, 0)
	b.Emit(OpCall, 0, 0, 0)
	b.Emit(OpReturn, 0, 0, 0)
	return b.Build()
}

// TestStackOverflowAtDepthLimit verifies unbounded recursion stops with a
// StackOverflowError carrying the configured limit.
func TestStackOverflowAtDepthLimit(t *testing.T) {
	m := newDepthVM(t, 50)
	installRecurse(m)

	_, err := m.Run(buildCallRecurse())
	var overflow *StackOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("err = %v, want StackOverflowError", err)
	}
	if overflow.Depth != 50 {
		t.Errorf("overflow depth = %d, want 50", overflow.Depth)
	}
}

// TestStackOverflowNotCatchable verifies a catch-all handler cannot
// intercept the depth limit; the error is terminal for the run.
func TestStackOverflowNotCatchable(t *testing.T) {
	m := newDepthVM(t, 50)
	installRecurse(m)
	m.SetGlobal("caught", False)

	b := NewCodeBuilder("main", 0)
	krec := b.AddConst(StrValue("recurse"))
	kcaught := b.AddConst(StrValue("caught"))
	handler := b.NewLabel()
	b.EmitSetupExcept(handler, 3, OperandNone)
	b.Emit(OpLoadGlobal, 0, krec, 0)
	b.Emit(OpCall, 0, 0, 0)
	b.Emit(OpReturn, 0, 0, 0)
	b.Mark(handler)
	b.Emit(OpLoadConst, 0, b.AddConst(True), 0)
	b.Emit(OpStoreGlobal, kcaught, 0, 0)
	b.Emit(OpReturnAbsent, 0, 0, 0)

	_, err := m.Run(b.Build())
	var overflow *StackOverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("err = %v, want StackOverflowError despite catch-all handler", err)
	}
	if m.Globals["caught"].Bool() {
		t.Error("handler ran; stack overflow must not be catchable")
	}
}

// TestVMUsableAfterOverflow verifies the interpreter discards all frames
// after an overflow and a subsequent run behaves normally.
func TestVMUsableAfterOverflow(t *testing.T) {
	m := newDepthVM(t, 50)
	installRecurse(m)
	if _, err := m.Run(buildCallRecurse()); err == nil {
		t.Fatal("expected overflow")
	}

	v, err := m.Run(buildBinary(OpAdd, IntValue(2), IntValue(2)))
	if err != nil {
		t.Fatalf("run after overflow: %v", err)
	}
	if v.Int() != 4 {
		t.Errorf("2 + 2 = %s after overflow, want 4", v.Repr())
	}
}

// TestBoundedRecursionComputes verifies recursion under the limit works:
//
//	def fact(n):
//	    if n == 0:
//	        return 1
//	    return n * fact(n - 1)
func TestBoundedRecursionComputes(t *testing.T) {
	m := newTestVM(t)

	b := NewCodeBuilder("fact", 1)
	b.SetLocals(1, "n")
	kfact := b.AddConst(StrValue("fact"))
	k0 := b.AddConst(IntValue(0))
	k1 := b.AddConst(IntValue(1))
	recurse := b.NewLabel()
	b.Emit(OpLoadLocal, 0, 0, 0)
	b.Emit(OpLoadConst, 1, k0, 0)
	b.Emit(OpEq, 2, 0, 1)
	b.EmitJumpIfFalse(2, recurse)
	b.Emit(OpLoadConst, 3, k1, 0)
	b.Emit(OpReturn, 3, 0, 0)
	b.Mark(recurse)
	b.Emit(OpLoadGlobal, 4, kfact, 0)
	b.Emit(OpLoadLocal, 5, 0, 0)
	b.Emit(OpLoadConst, 6, k1, 0)
	b.Emit(OpSub, 5, 5, 6)
	b.Emit(OpCall, 4, 1, 0)
	b.Emit(OpLoadLocal, 0, 0, 0)
	b.Emit(OpMul, 0, 0, 4)
	b.Emit(OpReturn, 0, 0, 0)
	fv := FuncValue(b.Build())
	m.SetGlobal("fact", fv)
	fv.Release()

	main := NewCodeBuilder("main", 0)
	kfact2 := main.AddConst(StrValue("fact"))
	k5 := main.AddConst(IntValue(5))
	main.Emit(OpLoadGlobal, 0, kfact2, 0)
	main.Emit(OpLoadConst, 1, k5, 0)
	main.Emit(OpCall, 0, 1, 0)
	main.Emit(OpReturn, 0, 0, 0)

	v, err := m.Run(main.Build())
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 120 {
		t.Errorf("fact(5) = %s, want 120", v.Repr())
	}
}
