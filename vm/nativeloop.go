package vm

// ---------------------------------------------------------------------------
// Native-loop compilation boundary
// ---------------------------------------------------------------------------
//
// The actual loop compiler is an external collaborator. The VM's side of
// the contract is small: when a loop turns hot it asks the compiler for a
// native body, caches the outcome (success or failure, each attempted only
// once), and from then on runs the native body at the loop head. A native
// body operates directly on the frame's registers and locals and must leave
// them exactly as the interpreter would have.

// LoopStatus is a native body's verdict on the iteration it ran.
type LoopStatus uint8

const (
	// LoopCompleted: the loop ran to its normal exit; resume after it.
	LoopCompleted LoopStatus = iota
	// LoopBailout: the body hit a case it cannot handle (type change,
	// exception, call). State is as of the loop head; the interpreter
	// takes over unmodified.
	LoopBailout
)

// CompiledLoop executes a hot loop natively against the frame's register
// file, local slots, and constant pool.
type CompiledLoop func(regs, locals, consts []Value) LoopStatus

// LoopCompiler produces native bodies for bytecode loops. start and end are
// the loop head and back-edge instruction indices within code.
type LoopCompiler interface {
	CompileLoop(code *Code, start, end int) (CompiledLoop, error)
}

// loopTable caches compilation outcomes per loop.
type loopTable struct {
	compiled map[LoopKey]CompiledLoop
	failed   map[LoopKey]error
}

func newLoopTable() *loopTable {
	return &loopTable{
		compiled: make(map[LoopKey]CompiledLoop),
		failed:   make(map[LoopKey]error),
	}
}

func (t *loopTable) get(key LoopKey) CompiledLoop {
	return t.compiled[key]
}

func (t *loopTable) put(key LoopKey, fn CompiledLoop) {
	t.compiled[key] = fn
}

func (t *loopTable) fail(key LoopKey, err error) {
	t.failed[key] = err
}

func (t *loopTable) attempted(key LoopKey) bool {
	if _, ok := t.compiled[key]; ok {
		return true
	}
	_, ok := t.failed[key]
	return ok
}
