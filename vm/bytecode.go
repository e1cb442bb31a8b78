package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single fixed-width instruction.
type Opcode uint8

// Register and constant moves
const (
	OpNop         Opcode = 0x00 // no operation
	OpMove        Opcode = 0x01 // A=dst B=src
	OpLoadConst   Opcode = 0x02 // A=dst B=constant index
	OpLoadLocal   Opcode = 0x03 // A=dst B=local slot
	OpStoreLocal  Opcode = 0x04 // A=local slot B=src
	OpLoadGlobal  Opcode = 0x05 // A=dst B=name constant
	OpStoreGlobal Opcode = 0x06 // A=name constant B=src
)

// Arithmetic
const (
	OpAdd      Opcode = 0x10 // A=dst B=lhs C=rhs
	OpSub      Opcode = 0x11
	OpMul      Opcode = 0x12
	OpDiv      Opcode = 0x13 // true division
	OpFloorDiv Opcode = 0x14
	OpMod      Opcode = 0x15
	OpNeg      Opcode = 0x16 // A=dst B=src
	OpNot      Opcode = 0x17 // A=dst B=src
)

// Comparison
const (
	OpEq       Opcode = 0x18 // A=dst B=lhs C=rhs
	OpNe       Opcode = 0x19
	OpLt       Opcode = 0x1A
	OpLe       Opcode = 0x1B
	OpGt       Opcode = 0x1C
	OpGe       Opcode = 0x1D
	OpContains Opcode = 0x1E // A=dst B=needle C=container
)

// Control transfer (absolute instruction-index targets)
const (
	OpJump        Opcode = 0x20 // A=target
	OpJumpIfFalse Opcode = 0x21 // A=cond B=target
	OpJumpIfTrue  Opcode = 0x22 // A=cond B=target
)

// Call and return. Calls use a register window: the callee sits in register
// A with its arguments in A+1..A+B; the result lands back in A.
const (
	OpCall         Opcode = 0x30 // A=base B=argc
	OpReturn       Opcode = 0x31 // A=src
	OpReturnAbsent Opcode = 0x32
)

// Container access and construction
const (
	OpIndex     Opcode = 0x40 // A=dst B=container C=index
	OpSetIndex  Opcode = 0x41 // A=container B=index C=src
	OpGetAttr   Opcode = 0x42 // A=dst B=object C=name constant
	OpSetAttr   Opcode = 0x43 // A=object B=name constant C=src
	OpMakeList  Opcode = 0x44 // A=dst B=base C=count
	OpMakeTuple Opcode = 0x45 // A=dst B=base C=count
	OpMakeMap   Opcode = 0x46 // A=dst B=base C=pair count (key/value alternating)
	OpMakeSet   Opcode = 0x47 // A=dst B=base C=count
	OpLen       Opcode = 0x48 // A=dst B=src
)

// Block management
const (
	OpSetupLoop    Opcode = 0x50 // A=break target B=continue target
	OpSetupExcept  Opcode = 0x51 // A=handler B=exception register C=filter constant
	OpSetupFinally Opcode = 0x52 // A=finally target
	OpPopBlock     Opcode = 0x53
	OpEndFinally   Opcode = 0x54
	OpRaise        Opcode = 0x55 // A=class constant (none: B=exception register) B=message register
	OpBreak        Opcode = 0x56
	OpContinue     Opcode = 0x57
)

// OperandNone marks an unused operand field (e.g. a catch-all filter).
const OperandNone uint16 = 0xFFFF

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands int    // number of meaningful operand fields
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:         {"NOP", 0},
	OpMove:        {"MOVE", 2},
	OpLoadConst:   {"LOAD_CONST", 2},
	OpLoadLocal:   {"LOAD_LOCAL", 2},
	OpStoreLocal:  {"STORE_LOCAL", 2},
	OpLoadGlobal:  {"LOAD_GLOBAL", 2},
	OpStoreGlobal: {"STORE_GLOBAL", 2},

	OpAdd:      {"ADD", 3},
	OpSub:      {"SUB", 3},
	OpMul:      {"MUL", 3},
	OpDiv:      {"DIV", 3},
	OpFloorDiv: {"FLOOR_DIV", 3},
	OpMod:      {"MOD", 3},
	OpNeg:      {"NEG", 2},
	OpNot:      {"NOT", 2},

	OpEq:       {"EQ", 3},
	OpNe:       {"NE", 3},
	OpLt:       {"LT", 3},
	OpLe:       {"LE", 3},
	OpGt:       {"GT", 3},
	OpGe:       {"GE", 3},
	OpContains: {"CONTAINS", 3},

	OpJump:        {"JUMP", 1},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 2},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 2},

	OpCall:         {"CALL", 2},
	OpReturn:       {"RETURN", 1},
	OpReturnAbsent: {"RETURN_ABSENT", 0},

	OpIndex:     {"INDEX", 3},
	OpSetIndex:  {"SET_INDEX", 3},
	OpGetAttr:   {"GET_ATTR", 3},
	OpSetAttr:   {"SET_ATTR", 3},
	OpMakeList:  {"MAKE_LIST", 3},
	OpMakeTuple: {"MAKE_TUPLE", 3},
	OpMakeMap:   {"MAKE_MAP", 3},
	OpMakeSet:   {"MAKE_SET", 3},
	OpLen:       {"LEN", 2},

	OpSetupLoop:    {"SETUP_LOOP", 2},
	OpSetupExcept:  {"SETUP_EXCEPT", 3},
	OpSetupFinally: {"SETUP_FINALLY", 1},
	OpPopBlock:     {"POP_BLOCK", 0},
	OpEndFinally:   {"END_FINALLY", 0},
	OpRaise:        {"RAISE", 2},
	OpBreak:        {"BREAK", 0},
	OpContinue:     {"CONTINUE", 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string { return op.Info().Name }

// String implements the Stringer interface.
func (op Opcode) String() string { return op.Name() }

// ---------------------------------------------------------------------------
// Instructions and code units
// ---------------------------------------------------------------------------

// Instr is a single fixed-format instruction: an opcode, up to three
// operand fields, and the originating source line.
type Instr struct {
	Op      Opcode
	A, B, C uint16
	Line    int32
}

// Code is one compiled unit: an instruction stream, a constants table, and
// declared register/local counts. It is produced by the front-end compiler
// and read-only to the VM.
type Code struct {
	Name       string
	Instrs     []Instr
	Consts     []Value
	NumRegs    int
	NumLocals  int
	NumParams  int
	LocalNames []string
}

// LineAt returns the source line for an instruction index, or 0 when out
// of range.
func (c *Code) LineAt(pc int) int32 {
	if pc < 0 || pc >= len(c.Instrs) {
		return 0
	}
	return c.Instrs[pc].Line
}

// ---------------------------------------------------------------------------
// CodeBuilder: helper for constructing code units
// ---------------------------------------------------------------------------

// CodeBuilder constructs Code units. The production front-end emits these
// directly; the builder mirrors its output format and is what the tests
// use to assemble programs by hand.
type CodeBuilder struct {
	code Code
	line int32
}

// NewCodeBuilder creates a builder for a unit with the given name and
// parameter count. Parameters occupy the first local slots.
func NewCodeBuilder(name string, params int) *CodeBuilder {
	return &CodeBuilder{
		code: Code{
			Name:      name,
			NumParams: params,
			NumLocals: params,
		},
	}
}

// SetRegs declares the register count.
func (b *CodeBuilder) SetRegs(n int) { b.code.NumRegs = n }

// SetLocals declares the local slot count (must include parameters).
func (b *CodeBuilder) SetLocals(n int, names ...string) {
	b.code.NumLocals = n
	b.code.LocalNames = names
}

// Line sets the source line attached to subsequently emitted instructions.
func (b *CodeBuilder) Line(n int32) { b.line = n }

// AddConst appends a constant and returns its index. Scalar and string
// constants are deduplicated.
func (b *CodeBuilder) AddConst(v Value) uint16 {
	for i, c := range b.code.Consts {
		if c.Kind() == v.Kind() && c.Is(v) {
			return uint16(i)
		}
		if (v.Kind() == KindStr && c.Kind() == KindStr && c.Str() == v.Str()) ||
			(v.Kind() == KindInt && c.Kind() == KindInt && c.Int() == v.Int()) {
			return uint16(i)
		}
	}
	v.Retain()
	b.code.Consts = append(b.code.Consts, v)
	return uint16(len(b.code.Consts) - 1)
}

// Emit appends an instruction and returns its index.
func (b *CodeBuilder) Emit(op Opcode, a, bb, c uint16) int {
	b.code.Instrs = append(b.code.Instrs, Instr{Op: op, A: a, B: bb, C: c, Line: b.line})
	return len(b.code.Instrs) - 1
}

// Pos returns the index the next emitted instruction will occupy.
func (b *CodeBuilder) Pos() int { return len(b.code.Instrs) }

// Build finalizes the unit. The builder must not be reused afterwards.
func (b *CodeBuilder) Build() *Code {
	if b.code.NumRegs == 0 {
		// Infer a safe register count from operand fields.
		max := 0
		for _, in := range b.code.Instrs {
			for _, r := range regOperands(in) {
				if int(r)+1 > max {
					max = int(r) + 1
				}
			}
		}
		b.code.NumRegs = max
	}
	return &b.code
}

// regOperands returns the operand fields of an instruction that name
// registers (used only for register-count inference).
func regOperands(in Instr) []uint16 {
	switch in.Op {
	case OpMove, OpNeg, OpNot, OpLen:
		return []uint16{in.A, in.B}
	case OpLoadConst, OpLoadLocal, OpLoadGlobal:
		return []uint16{in.A}
	case OpStoreLocal, OpStoreGlobal, OpJumpIfFalse, OpJumpIfTrue:
		return []uint16{in.B}
	case OpAdd, OpSub, OpMul, OpDiv, OpFloorDiv, OpMod,
		OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpContains, OpIndex:
		return []uint16{in.A, in.B, in.C}
	case OpSetIndex:
		return []uint16{in.A, in.B, in.C}
	case OpGetAttr:
		return []uint16{in.A, in.B}
	case OpSetAttr:
		return []uint16{in.A, in.C}
	case OpCall:
		return []uint16{in.A + in.B}
	case OpReturn:
		return []uint16{in.A}
	case OpMakeList, OpMakeTuple, OpMakeSet:
		if in.C == 0 {
			return []uint16{in.A, in.B}
		}
		return []uint16{in.A, in.B + in.C - 1}
	case OpMakeMap:
		if in.C == 0 {
			return []uint16{in.A, in.B}
		}
		return []uint16{in.A, in.B + 2*in.C - 1}
	case OpSetupExcept:
		return []uint16{in.B}
	case OpRaise:
		if in.B != OperandNone {
			return []uint16{in.B}
		}
		return nil
	default:
		return nil
	}
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference to an instruction index.
type Label struct {
	resolved bool
	target   int
	refs     []labelRef
}

type labelRef struct {
	instr int
	slot  int // 0=A, 1=B, 2=C
}

// NewLabel creates an unresolved label.
func (b *CodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]labelRef, 0, 2)}
}

// Mark resolves a label to the current position and patches all forward
// references.
func (b *CodeBuilder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.target = len(b.code.Instrs)
	for _, ref := range l.refs {
		b.patch(ref, uint16(l.target))
	}
	l.refs = nil
}

func (b *CodeBuilder) patch(ref labelRef, target uint16) {
	in := &b.code.Instrs[ref.instr]
	switch ref.slot {
	case 0:
		in.A = target
	case 1:
		in.B = target
	default:
		in.C = target
	}
}

func (b *CodeBuilder) emitTarget(op Opcode, a, bb, c uint16, l *Label, slot int) int {
	idx := b.Emit(op, a, bb, c)
	if l.resolved {
		b.patch(labelRef{instr: idx, slot: slot}, uint16(l.target))
	} else {
		l.refs = append(l.refs, labelRef{instr: idx, slot: slot})
	}
	return idx
}

// EmitJump emits an unconditional jump to a label.
func (b *CodeBuilder) EmitJump(l *Label) int {
	return b.emitTarget(OpJump, 0, 0, 0, l, 0)
}

// EmitJumpIfFalse emits a conditional jump taken when the register is falsy.
func (b *CodeBuilder) EmitJumpIfFalse(cond uint16, l *Label) int {
	return b.emitTarget(OpJumpIfFalse, cond, 0, 0, l, 1)
}

// EmitJumpIfTrue emits a conditional jump taken when the register is truthy.
func (b *CodeBuilder) EmitJumpIfTrue(cond uint16, l *Label) int {
	return b.emitTarget(OpJumpIfTrue, cond, 0, 0, l, 1)
}

// EmitSetupLoop enters a loop block with break and continue targets.
func (b *CodeBuilder) EmitSetupLoop(breakL, continueL *Label) int {
	idx := b.emitTarget(OpSetupLoop, 0, 0, 0, breakL, 0)
	if continueL.resolved {
		b.patch(labelRef{instr: idx, slot: 1}, uint16(continueL.target))
	} else {
		continueL.refs = append(continueL.refs, labelRef{instr: idx, slot: 1})
	}
	return idx
}

// EmitSetupExcept enters a try block with a handler target, the register
// that receives the bound exception, and an optional class-filter constant
// (OperandNone for catch-all).
func (b *CodeBuilder) EmitSetupExcept(handler *Label, excReg uint16, filterConst uint16) int {
	return b.emitTarget(OpSetupExcept, 0, excReg, filterConst, handler, 0)
}

// EmitSetupFinally enters a try block with a finally target.
func (b *CodeBuilder) EmitSetupFinally(target *Label) int {
	return b.emitTarget(OpSetupFinally, 0, 0, 0, target, 0)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstr renders a single instruction.
func DisassembleInstr(c *Code, pc int) string {
	in := c.Instrs[pc]
	info := in.Op.Info()
	switch in.Op {
	case OpNop, OpReturnAbsent, OpPopBlock, OpEndFinally, OpBreak, OpContinue:
		return fmt.Sprintf("%04d  %s", pc, info.Name)
	case OpLoadConst:
		return fmt.Sprintf("%04d  %s r%d, %s", pc, info.Name, in.A, constRepr(c, in.B))
	case OpLoadGlobal:
		return fmt.Sprintf("%04d  %s r%d, %s", pc, info.Name, in.A, constRepr(c, in.B))
	case OpStoreGlobal:
		return fmt.Sprintf("%04d  %s %s, r%d", pc, info.Name, constRepr(c, in.A), in.B)
	case OpJump:
		return fmt.Sprintf("%04d  %s -> %04d", pc, info.Name, in.A)
	case OpJumpIfFalse, OpJumpIfTrue:
		return fmt.Sprintf("%04d  %s r%d -> %04d", pc, info.Name, in.A, in.B)
	case OpCall:
		return fmt.Sprintf("%04d  %s base=r%d argc=%d", pc, info.Name, in.A, in.B)
	case OpSetupLoop:
		return fmt.Sprintf("%04d  %s break=%04d continue=%04d", pc, info.Name, in.A, in.B)
	case OpSetupExcept:
		filter := "<all>"
		if in.C != OperandNone {
			filter = constRepr(c, in.C)
		}
		return fmt.Sprintf("%04d  %s handler=%04d exc=r%d filter=%s", pc, info.Name, in.A, in.B, filter)
	case OpSetupFinally:
		return fmt.Sprintf("%04d  %s target=%04d", pc, info.Name, in.A)
	case OpRaise:
		if in.A == OperandNone {
			return fmt.Sprintf("%04d  %s r%d", pc, info.Name, in.B)
		}
		msg := "<none>"
		if in.B != OperandNone {
			msg = fmt.Sprintf("r%d", in.B)
		}
		return fmt.Sprintf("%04d  %s %s msg=%s", pc, info.Name, constRepr(c, in.A), msg)
	case OpGetAttr:
		return fmt.Sprintf("%04d  %s r%d, r%d.%s", pc, info.Name, in.A, in.B, constRepr(c, in.C))
	case OpSetAttr:
		return fmt.Sprintf("%04d  %s r%d.%s = r%d", pc, info.Name, in.A, constRepr(c, in.B), in.C)
	default:
		switch info.Operands {
		case 1:
			return fmt.Sprintf("%04d  %s r%d", pc, info.Name, in.A)
		case 2:
			return fmt.Sprintf("%04d  %s r%d, r%d", pc, info.Name, in.A, in.B)
		case 3:
			return fmt.Sprintf("%04d  %s r%d, r%d, r%d", pc, info.Name, in.A, in.B, in.C)
		default:
			return fmt.Sprintf("%04d  %s", pc, info.Name)
		}
	}
}

func constRepr(c *Code, idx uint16) string {
	if int(idx) >= len(c.Consts) {
		return fmt.Sprintf("const#%d", idx)
	}
	return c.Consts[idx].Repr()
}

// Disassemble returns a full listing of a code unit.
func Disassemble(c *Code) string {
	var sb strings.Builder
	for pc := range c.Instrs {
		if pc > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstr(c, pc))
	}
	return sb.String()
}
