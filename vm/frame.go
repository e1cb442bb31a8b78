package vm

// ---------------------------------------------------------------------------
// Call frames and block stacks
// ---------------------------------------------------------------------------

// BlockKind discriminates block-stack entries.
type BlockKind uint8

const (
	BlockLoop BlockKind = iota
	BlockExcept
	BlockFinally
)

// BlockEntry is one entry on a frame's block stack. Loop entries carry
// break/continue targets; except entries carry the handler target, the
// register that receives the bound exception, and an optional class filter;
// finally entries carry the finally body's target.
type BlockEntry struct {
	Kind       BlockKind
	Handler    int    // except handler or finally body target
	BreakPC    int    // loop break target
	ContinuePC int    // loop continue target
	ExcReg     uint16 // except: destination register for the bound exception
	Filter     string // except: class filter ("" matches everything)
}

// pendingKind discriminates the frame's pending-action slot, which carries
// control flow through finally bodies.
type pendingKind uint8

const (
	pendingNone pendingKind = iota
	pendingRaise
	pendingReturn
	pendingBreak
	pendingContinue
)

type pendingAction struct {
	kind pendingKind
	exc  *ExceptionObject // pendingRaise
	val  Value            // pendingReturn: the return value (owned)
}

// Frame is one activation record: a register file, local variable slots,
// the program counter, the block stack, and the caller's destination
// register for the return value.
type Frame struct {
	Code    *Code
	Regs    []Value
	Locals  []Value
	PC      int
	Blocks  []BlockEntry
	RetReg  uint16 // register in the caller receiving the result
	pending pendingAction
}

func newFrame(code *Code, retReg uint16) *Frame {
	return &Frame{
		Code:   code,
		Regs:   make([]Value, code.NumRegs),
		Locals: make([]Value, code.NumLocals),
		RetReg: retReg,
	}
}

// setReg stores a value into a register, adjusting reference counts. The
// new value is retained before the old one is released so self-assignment
// is safe.
func (f *Frame) setReg(i uint16, v Value) {
	v.Retain()
	f.Regs[i].Release()
	f.Regs[i] = v
}

// storeOwned stores an already-owned value into a register. The caller's
// reference transfers to the frame; used for freshly constructed results.
func (f *Frame) storeOwned(i uint16, v Value) {
	f.Regs[i].Release()
	f.Regs[i] = v
}

// setLocal stores a value into a local slot with the same ownership rules.
func (f *Frame) setLocal(i uint16, v Value) {
	v.Retain()
	f.Locals[i].Release()
	f.Locals[i] = v
}

// releaseAll drops every reference the frame holds. Called exactly once
// when the frame is popped.
func (f *Frame) releaseAll() {
	for i := range f.Regs {
		f.Regs[i].Release()
		f.Regs[i] = Absent
	}
	for i := range f.Locals {
		f.Locals[i].Release()
		f.Locals[i] = Absent
	}
	f.clearPending()
}

// clearPending drops whatever the pending slot owns.
func (f *Frame) clearPending() {
	if f.pending.kind == pendingReturn {
		f.pending.val.Release()
	}
	f.pending = pendingAction{}
}

// pushBlock appends a block-stack entry.
func (f *Frame) pushBlock(b BlockEntry) {
	f.Blocks = append(f.Blocks, b)
}

// popBlock removes and returns the top block-stack entry.
func (f *Frame) popBlock() BlockEntry {
	n := len(f.Blocks) - 1
	b := f.Blocks[n]
	f.Blocks = f.Blocks[:n]
	return b
}
