package vm

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images
// ---------------------------------------------------------------------------
//
// A program image is the serialized form of a compiled program: every code
// unit plus an entry point, CBOR-encoded canonically so the same program
// always produces the same bytes. The front-end compiler writes images; the
// driver loads and runs them.

const imageMagic = "PYRI"
const imageVersion = 1

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Program is a set of code units with a designated entry point.
type Program struct {
	Codes []*Code
	Entry int
}

// imageFile is the top-level wire structure.
type imageFile struct {
	Magic   string      `cbor:"magic"`
	Version int         `cbor:"version"`
	Codes   []imageCode `cbor:"codes"`
	Entry   int         `cbor:"entry"`
}

type imageCode struct {
	Name       string       `cbor:"name"`
	Instrs     []imageInstr `cbor:"instrs"`
	Consts     []imageValue `cbor:"consts"`
	NumRegs    int          `cbor:"regs"`
	NumLocals  int          `cbor:"locals"`
	NumParams  int          `cbor:"params"`
	LocalNames []string     `cbor:"names,omitempty"`
}

type imageInstr struct {
	Op   uint8  `cbor:"op"`
	A    uint16 `cbor:"a"`
	B    uint16 `cbor:"b"`
	C    uint16 `cbor:"c"`
	Line int32  `cbor:"ln"`
}

// imageValue is the wire form of a constant. Constants are limited to
// scalars, strings, bytes, nested tuples, and callables referencing another
// code unit by index.
type imageValue struct {
	Kind  uint8        `cbor:"k"`
	Int   int64        `cbor:"i,omitempty"`
	Float float64      `cbor:"f,omitempty"`
	Str   string       `cbor:"s,omitempty"`
	Bytes []byte       `cbor:"b,omitempty"`
	Elems []imageValue `cbor:"e,omitempty"`
	Code  int          `cbor:"c,omitempty"`
}

// WriteImage serializes a program to CBOR bytes.
func WriteImage(p *Program) ([]byte, error) {
	img := imageFile{
		Magic:   imageMagic,
		Version: imageVersion,
		Codes:   make([]imageCode, len(p.Codes)),
		Entry:   p.Entry,
	}
	if p.Entry < 0 || p.Entry >= len(p.Codes) {
		return nil, fmt.Errorf("image: entry index %d out of range", p.Entry)
	}
	codeIndex := make(map[*Code]int, len(p.Codes))
	for i, c := range p.Codes {
		codeIndex[c] = i
	}
	for i, c := range p.Codes {
		ic := imageCode{
			Name:       c.Name,
			Instrs:     make([]imageInstr, len(c.Instrs)),
			Consts:     make([]imageValue, len(c.Consts)),
			NumRegs:    c.NumRegs,
			NumLocals:  c.NumLocals,
			NumParams:  c.NumParams,
			LocalNames: c.LocalNames,
		}
		for j, in := range c.Instrs {
			ic.Instrs[j] = imageInstr{Op: uint8(in.Op), A: in.A, B: in.B, C: in.C, Line: in.Line}
		}
		for j, v := range c.Consts {
			iv, err := encodeImageValue(v, codeIndex)
			if err != nil {
				return nil, fmt.Errorf("image: %s const %d: %w", c.Name, j, err)
			}
			ic.Consts[j] = iv
		}
		img.Codes[i] = ic
	}
	return cborEncMode.Marshal(&img)
}

// ReadImage deserializes a program from CBOR bytes.
func ReadImage(data []byte) (*Program, error) {
	var img imageFile
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != imageMagic {
		return nil, fmt.Errorf("image: bad magic %q", img.Magic)
	}
	if img.Version != imageVersion {
		return nil, fmt.Errorf("image: unsupported version %d", img.Version)
	}
	if img.Entry < 0 || img.Entry >= len(img.Codes) {
		return nil, fmt.Errorf("image: entry index %d out of range", img.Entry)
	}
	p := &Program{Codes: make([]*Code, len(img.Codes)), Entry: img.Entry}
	for i, ic := range img.Codes {
		p.Codes[i] = &Code{
			Name:       ic.Name,
			Instrs:     make([]Instr, len(ic.Instrs)),
			Consts:     make([]Value, len(ic.Consts)),
			NumRegs:    ic.NumRegs,
			NumLocals:  ic.NumLocals,
			NumParams:  ic.NumParams,
			LocalNames: ic.LocalNames,
		}
		for j, in := range ic.Instrs {
			p.Codes[i].Instrs[j] = Instr{Op: Opcode(in.Op), A: in.A, B: in.B, C: in.C, Line: in.Line}
		}
	}
	// Second pass so callable constants can reference any code unit.
	for i, ic := range img.Codes {
		for j, iv := range ic.Consts {
			v, err := decodeImageValue(iv, p.Codes)
			if err != nil {
				return nil, fmt.Errorf("image: %s const %d: %w", ic.Name, j, err)
			}
			p.Codes[i].Consts[j] = v
		}
	}
	return p, nil
}

// SaveImage writes a program image to a file.
func SaveImage(path string, p *Program) error {
	data, err := WriteImage(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: writing %s: %w", path, err)
	}
	return nil
}

// LoadImage reads a program image from a file.
func LoadImage(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: reading %s: %w", path, err)
	}
	return ReadImage(data)
}

func encodeImageValue(v Value, codeIndex map[*Code]int) (imageValue, error) {
	switch v.Kind() {
	case KindAbsent:
		return imageValue{Kind: uint8(KindAbsent)}, nil
	case KindInt:
		return imageValue{Kind: uint8(KindInt), Int: v.Int()}, nil
	case KindFloat:
		return imageValue{Kind: uint8(KindFloat), Float: v.Float()}, nil
	case KindBool:
		n := int64(0)
		if v.Bool() {
			n = 1
		}
		return imageValue{Kind: uint8(KindBool), Int: n}, nil
	case KindStr:
		return imageValue{Kind: uint8(KindStr), Str: v.Str()}, nil
	case KindBytes:
		return imageValue{Kind: uint8(KindBytes), Bytes: v.Bytes()}, nil
	case KindTuple:
		iv := imageValue{Kind: uint8(KindTuple), Elems: make([]imageValue, v.List().Len())}
		for i := 0; i < v.List().Len(); i++ {
			e, err := encodeImageValue(v.List().Get(i), codeIndex)
			if err != nil {
				return imageValue{}, err
			}
			iv.Elems[i] = e
		}
		return iv, nil
	case KindCallable:
		c := v.Callable()
		if c.Code == nil {
			return imageValue{}, fmt.Errorf("builtin %q not serializable", c.Name)
		}
		idx, ok := codeIndex[c.Code]
		if !ok {
			return imageValue{}, fmt.Errorf("callable %q references a code unit outside the program", c.Name)
		}
		return imageValue{Kind: uint8(KindCallable), Code: idx, Str: c.Name}, nil
	default:
		return imageValue{}, fmt.Errorf("constant kind '%s' not serializable", v.Kind())
	}
}

func decodeImageValue(iv imageValue, codes []*Code) (Value, error) {
	switch Kind(iv.Kind) {
	case KindAbsent:
		return Absent, nil
	case KindInt:
		return IntValue(iv.Int), nil
	case KindFloat:
		return FloatValue(iv.Float), nil
	case KindBool:
		return BoolValue(iv.Int != 0), nil
	case KindStr:
		return StrValue(iv.Str), nil
	case KindBytes:
		return BytesValue(iv.Bytes), nil
	case KindTuple:
		elems := make([]Value, len(iv.Elems))
		for i, e := range iv.Elems {
			v, err := decodeImageValue(e, codes)
			if err != nil {
				return Absent, err
			}
			elems[i] = v
		}
		t := NewTuple(elems...)
		for _, e := range elems {
			e.Release()
		}
		return t, nil
	case KindCallable:
		if iv.Code < 0 || iv.Code >= len(codes) {
			return Absent, fmt.Errorf("callable code index %d out of range", iv.Code)
		}
		return FuncValue(codes[iv.Code]), nil
	default:
		return Absent, fmt.Errorf("constant kind %d not decodable", iv.Kind)
	}
}
