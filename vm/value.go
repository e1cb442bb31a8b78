package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is the canonical representation of any Pyrite datum.
//
// It is a closed tagged union: scalars (integers, floats, booleans, the
// absent singleton) are stored inline and copy by value; everything else
// lives behind a shared, reference-counted heap object, so aliasing two
// Values to the same container makes mutation through one alias visible
// through every other alias.
type Value struct {
	kind Kind
	i    int64
	f    float64
	obj  heapObject
}

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindInt
	KindFloat
	KindBool
	KindStr
	KindBytes
	KindList
	KindTuple
	KindMap
	KindSet
	KindFrozenSet
	KindRange
	KindComplex
	KindCallable
	KindObject
)

var kindNames = [...]string{
	KindAbsent:    "absent",
	KindInt:       "int",
	KindFloat:     "float",
	KindBool:      "bool",
	KindStr:       "str",
	KindBytes:     "bytes",
	KindList:      "list",
	KindTuple:     "tuple",
	KindMap:       "map",
	KindSet:       "set",
	KindFrozenSet: "frozenset",
	KindRange:     "range",
	KindComplex:   "complex",
	KindCallable:  "callable",
	KindObject:    "object",
}

// String returns the guest-visible type name for a kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Pre-defined scalar singletons.
var (
	Absent = Value{kind: KindAbsent}
	True   = Value{kind: KindBool, i: 1}
	False  = Value{kind: KindBool}
)

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// heapObject is the common surface of every heap-allocated variant.
// Reference counts are plain int32: a VM instance is single-threaded by
// contract, so no atomics are needed.
type heapObject interface {
	retain()
	release() int32
	refCount() int32
	// drop releases the object's references to its children. Called once,
	// when the count reaches zero.
	drop()
}

// refs is the embedded refcount header. New objects start at one.
type refs struct {
	n int32
}

func (r *refs) retain()          { r.n++ }
func (r *refs) release() int32   { r.n--; return r.n }
func (r *refs) refCount() int32  { return r.n }

// Retain increments the refcount of a heap Value. No-op for scalars.
func (v Value) Retain() {
	if v.obj != nil {
		v.obj.retain()
	}
}

// Release decrements the refcount of a heap Value, cascading to children
// when the count reaches zero. No-op for scalars.
func (v Value) Release() {
	if v.obj != nil && v.obj.release() == 0 {
		v.obj.drop()
	}
}

// RefCount returns the current reference count, or 0 for scalars.
func (v Value) RefCount() int32 {
	if v.obj == nil {
		return 0
	}
	return v.obj.refCount()
}

// ---------------------------------------------------------------------------
// Heap variants
// ---------------------------------------------------------------------------

// StrObject holds an immutable string.
type StrObject struct {
	refs
	S string
}

func (*StrObject) drop() {}

// BytesObject holds an immutable byte-string.
type BytesObject struct {
	refs
	B []byte
}

func (*BytesObject) drop() {}

// ListObject backs both lists and tuples; the Value kind distinguishes
// mutability.
type ListObject struct {
	refs
	Elems []Value
}

func (l *ListObject) drop() {
	for i := range l.Elems {
		l.Elems[i].Release()
	}
	l.Elems = nil
}

// Len returns the element count.
func (l *ListObject) Len() int { return len(l.Elems) }

// Get returns the element at index i. Bounds are the caller's concern.
func (l *ListObject) Get(i int) Value { return l.Elems[i] }

// Put replaces the element at index i, adjusting refcounts.
func (l *ListObject) Put(i int, v Value) {
	v.Retain()
	l.Elems[i].Release()
	l.Elems[i] = v
}

// Append adds an element, taking a new reference.
func (l *ListObject) Append(v Value) {
	v.Retain()
	l.Elems = append(l.Elems, v)
}

// DictObject is an insertion-ordered mapping. Deleted entries become
// tombstones; the index map always points at live entries.
type DictObject struct {
	refs
	index   map[mapKey]int
	entries []dictEntry
	size    int
}

type dictEntry struct {
	key  Value
	val  Value
	live bool
}

func (d *DictObject) drop() {
	for i := range d.entries {
		if d.entries[i].live {
			d.entries[i].key.Release()
			d.entries[i].val.Release()
		}
	}
	d.entries = nil
	d.index = nil
	d.size = 0
}

// Len returns the number of live entries.
func (d *DictObject) Len() int { return d.size }

// Get looks up a key. The second result is false when the key is missing;
// an exception is returned only for unhashable keys.
func (d *DictObject) Get(k Value) (Value, bool, *ExceptionObject) {
	mk, exc := hashKey(k)
	if exc != nil {
		return Absent, false, exc
	}
	idx, ok := d.index[mk]
	if !ok {
		return Absent, false, nil
	}
	return d.entries[idx].val, true, nil
}

// Set inserts or replaces a key's value, adjusting refcounts.
func (d *DictObject) Set(k, v Value) *ExceptionObject {
	mk, exc := hashKey(k)
	if exc != nil {
		return exc
	}
	if idx, ok := d.index[mk]; ok {
		v.Retain()
		d.entries[idx].val.Release()
		d.entries[idx].val = v
		return nil
	}
	k.Retain()
	v.Retain()
	d.index[mk] = len(d.entries)
	d.entries = append(d.entries, dictEntry{key: k, val: v, live: true})
	d.size++
	return nil
}

// Delete removes a key, reporting whether it was present.
func (d *DictObject) Delete(k Value) (bool, *ExceptionObject) {
	mk, exc := hashKey(k)
	if exc != nil {
		return false, exc
	}
	idx, ok := d.index[mk]
	if !ok {
		return false, nil
	}
	delete(d.index, mk)
	d.entries[idx].key.Release()
	d.entries[idx].val.Release()
	d.entries[idx] = dictEntry{}
	d.size--
	return true, nil
}

// Has reports whether a key is present.
func (d *DictObject) Has(k Value) (bool, *ExceptionObject) {
	_, ok, exc := d.Get(k)
	return ok, exc
}

// Keys returns the live keys in insertion order.
func (d *DictObject) Keys() []Value {
	out := make([]Value, 0, d.size)
	for i := range d.entries {
		if d.entries[i].live {
			out = append(out, d.entries[i].key)
		}
	}
	return out
}

// Values returns the live values in insertion order.
func (d *DictObject) Values() []Value {
	out := make([]Value, 0, d.size)
	for i := range d.entries {
		if d.entries[i].live {
			out = append(out, d.entries[i].val)
		}
	}
	return out
}

// SetObject backs both sets and frozen sets.
type SetObject struct {
	refs
	elems map[mapKey]Value
}

func (s *SetObject) drop() {
	for _, v := range s.elems {
		v.Release()
	}
	s.elems = nil
}

// Len returns the element count.
func (s *SetObject) Len() int { return len(s.elems) }

// Add inserts an element.
func (s *SetObject) Add(v Value) *ExceptionObject {
	mk, exc := hashKey(v)
	if exc != nil {
		return exc
	}
	if _, ok := s.elems[mk]; ok {
		return nil
	}
	v.Retain()
	s.elems[mk] = v
	return nil
}

// Has reports membership.
func (s *SetObject) Has(v Value) (bool, *ExceptionObject) {
	mk, exc := hashKey(v)
	if exc != nil {
		return false, exc
	}
	_, ok := s.elems[mk]
	return ok, nil
}

// Elems returns the elements in unspecified order.
func (s *SetObject) Elems() []Value {
	out := make([]Value, 0, len(s.elems))
	for _, v := range s.elems {
		out = append(out, v)
	}
	return out
}

// RangeObject is an immutable arithmetic progression.
type RangeObject struct {
	refs
	Start, Stop, Step int64
}

func (*RangeObject) drop() {}

// Len returns the number of elements the range produces.
func (r *RangeObject) Len() int64 {
	if r.Step > 0 {
		if r.Stop <= r.Start {
			return 0
		}
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Stop >= r.Start {
		return 0
	}
	return (r.Start - r.Stop - r.Step - 1) / (-r.Step)
}

// Index returns the i-th element. Bounds are the caller's concern.
func (r *RangeObject) Index(i int64) int64 { return r.Start + i*r.Step }

// ComplexObject holds an immutable complex number. Keeping it on the heap
// keeps Value compact; aliasing an immutable is observationally copying.
type ComplexObject struct {
	refs
	C complex128
}

func (*ComplexObject) drop() {}

// CallableObject is either a bytecode function (Code != nil) or a builtin.
type CallableObject struct {
	refs
	Name    string
	Code    *Code
	Builtin BuiltinFunc
}

func (*CallableObject) drop() {}

// UserObject is an instance of a guest-level class: a named bag of
// attributes.
type UserObject struct {
	refs
	Class string
	attrs map[string]Value
	order []string
}

func (o *UserObject) drop() {
	for _, v := range o.attrs {
		v.Release()
	}
	o.attrs = nil
	o.order = nil
}

// GetAttr returns the named attribute.
func (o *UserObject) GetAttr(name string) (Value, bool) {
	v, ok := o.attrs[name]
	return v, ok
}

// SetAttr binds an attribute, adjusting refcounts.
func (o *UserObject) SetAttr(name string, v Value) {
	v.Retain()
	if old, ok := o.attrs[name]; ok {
		old.Release()
	} else {
		o.order = append(o.order, name)
	}
	o.attrs[name] = v
}

// AttrNames returns attribute names in assignment order.
func (o *UserObject) AttrNames() []string { return o.order }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// IntValue creates an integer Value.
func IntValue(n int64) Value { return Value{kind: KindInt, i: n} }

// FloatValue creates a float Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue creates a boolean Value.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// StrValue creates a string Value.
func StrValue(s string) Value {
	return Value{kind: KindStr, obj: &StrObject{refs: refs{n: 1}, S: s}}
}

// BytesValue creates a byte-string Value.
func BytesValue(b []byte) Value {
	return Value{kind: KindBytes, obj: &BytesObject{refs: refs{n: 1}, B: b}}
}

// NewList creates a list holding the given elements, taking a reference to
// each.
func NewList(elems ...Value) Value {
	l := &ListObject{refs: refs{n: 1}, Elems: make([]Value, 0, len(elems))}
	for _, e := range elems {
		e.Retain()
		l.Elems = append(l.Elems, e)
	}
	return Value{kind: KindList, obj: l}
}

// NewTuple creates a tuple holding the given elements.
func NewTuple(elems ...Value) Value {
	v := NewList(elems...)
	v.kind = KindTuple
	return v
}

// NewDict creates an empty mapping.
func NewDict() Value {
	return Value{kind: KindMap, obj: &DictObject{refs: refs{n: 1}, index: make(map[mapKey]int)}}
}

// NewSet creates a set holding the given elements. Unhashable elements are
// the caller's concern; use SetObject.Add for checked insertion.
func NewSet(elems ...Value) Value {
	s := &SetObject{refs: refs{n: 1}, elems: make(map[mapKey]Value)}
	v := Value{kind: KindSet, obj: s}
	for _, e := range elems {
		s.Add(e)
	}
	return v
}

// NewFrozenSet creates an immutable set holding the given elements.
func NewFrozenSet(elems ...Value) Value {
	v := NewSet(elems...)
	v.kind = KindFrozenSet
	return v
}

// RangeValue creates a range Value. Step must be nonzero.
func RangeValue(start, stop, step int64) Value {
	return Value{kind: KindRange, obj: &RangeObject{refs: refs{n: 1}, Start: start, Stop: stop, Step: step}}
}

// ComplexValue creates a complex Value.
func ComplexValue(c complex128) Value {
	return Value{kind: KindComplex, obj: &ComplexObject{refs: refs{n: 1}, C: c}}
}

// FuncValue creates a callable Value wrapping a Code unit.
func FuncValue(code *Code) Value {
	return Value{kind: KindCallable, obj: &CallableObject{refs: refs{n: 1}, Name: code.Name, Code: code}}
}

// BuiltinValue creates a callable Value wrapping a builtin function.
func BuiltinValue(name string, fn BuiltinFunc) Value {
	return Value{kind: KindCallable, obj: &CallableObject{refs: refs{n: 1}, Name: name, Builtin: fn}}
}

// NewObject creates an empty user object of the named class.
func NewObject(class string) Value {
	return Value{kind: KindObject, obj: &UserObject{refs: refs{n: 1}, Class: class, attrs: make(map[string]Value)}}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the absent singleton.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Int returns the integer payload. Panics on other kinds.
func (v Value) Int() int64 {
	if v.kind != KindInt {
		panic("Value.Int: not an int")
	}
	return v.i
}

// Float returns the float payload. Panics on other kinds.
func (v Value) Float() float64 {
	if v.kind != KindFloat {
		panic("Value.Float: not a float")
	}
	return v.f
}

// Bool returns the boolean payload. Panics on other kinds.
func (v Value) Bool() bool {
	if v.kind != KindBool {
		panic("Value.Bool: not a bool")
	}
	return v.i != 0
}

// Str returns the string payload. Panics on other kinds.
func (v Value) Str() string {
	if v.kind != KindStr {
		panic("Value.Str: not a str")
	}
	return v.obj.(*StrObject).S
}

// Bytes returns the byte-string payload. Panics on other kinds.
func (v Value) Bytes() []byte {
	if v.kind != KindBytes {
		panic("Value.Bytes: not bytes")
	}
	return v.obj.(*BytesObject).B
}

// List returns the backing list object for lists and tuples.
func (v Value) List() *ListObject {
	if v.kind != KindList && v.kind != KindTuple {
		panic("Value.List: not a list or tuple")
	}
	return v.obj.(*ListObject)
}

// Dict returns the backing dict object. Panics on other kinds.
func (v Value) Dict() *DictObject {
	if v.kind != KindMap {
		panic("Value.Dict: not a map")
	}
	return v.obj.(*DictObject)
}

// Set returns the backing set object for sets and frozen sets.
func (v Value) Set() *SetObject {
	if v.kind != KindSet && v.kind != KindFrozenSet {
		panic("Value.Set: not a set")
	}
	return v.obj.(*SetObject)
}

// Range returns the backing range object. Panics on other kinds.
func (v Value) Range() *RangeObject {
	if v.kind != KindRange {
		panic("Value.Range: not a range")
	}
	return v.obj.(*RangeObject)
}

// Complex returns the complex payload. Panics on other kinds.
func (v Value) Complex() complex128 {
	if v.kind != KindComplex {
		panic("Value.Complex: not a complex")
	}
	return v.obj.(*ComplexObject).C
}

// Callable returns the backing callable object. Panics on other kinds.
func (v Value) Callable() *CallableObject {
	if v.kind != KindCallable {
		panic("Value.Callable: not a callable")
	}
	return v.obj.(*CallableObject)
}

// Object returns the backing user object. Panics on other kinds.
func (v Value) Object() *UserObject {
	if v.kind != KindObject {
		panic("Value.Object: not an object")
	}
	return v.obj.(*UserObject)
}

// ---------------------------------------------------------------------------
// Truthiness, identity, equality
// ---------------------------------------------------------------------------

// IsTruthy reports the guest-level truth of a value: zero numbers, empty
// containers, the empty string, false and absent are falsy.
func (v Value) IsTruthy() bool {
	switch v.kind {
	case KindAbsent:
		return false
	case KindInt, KindBool:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindStr:
		return len(v.Str()) > 0
	case KindBytes:
		return len(v.Bytes()) > 0
	case KindList, KindTuple:
		return v.List().Len() > 0
	case KindMap:
		return v.Dict().Len() > 0
	case KindSet, KindFrozenSet:
		return v.Set().Len() > 0
	case KindRange:
		return v.Range().Len() > 0
	case KindComplex:
		return v.Complex() != 0
	default:
		return true
	}
}

// Is reports identity: equal scalars, or the same heap object.
func (v Value) Is(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	if v.obj != nil || w.obj != nil {
		return v.obj == w.obj
	}
	return v.i == w.i && v.f == w.f
}

// Equals reports structural equality with numeric cross-kind comparison.
func (v Value) Equals(w Value) bool {
	if vn, ok := asFloat(v); ok {
		if wn, ok := asFloat(w); ok {
			return vn == wn
		}
		return false
	}
	if v.kind != w.kind {
		// Sets and frozen sets compare across the two kinds.
		isSet := func(k Kind) bool { return k == KindSet || k == KindFrozenSet }
		if !(isSet(v.kind) && isSet(w.kind)) {
			return false
		}
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindStr:
		return v.Str() == w.Str()
	case KindBytes:
		return string(v.Bytes()) == string(w.Bytes())
	case KindList, KindTuple:
		a, b := v.List(), w.List()
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !a.Get(i).Equals(b.Get(i)) {
				return false
			}
		}
		return true
	case KindMap:
		a, b := v.Dict(), w.Dict()
		if a.Len() != b.Len() {
			return false
		}
		for _, k := range a.Keys() {
			av, _, _ := a.Get(k)
			bv, ok, exc := b.Get(k)
			if exc != nil || !ok || !av.Equals(bv) {
				return false
			}
		}
		return true
	case KindSet, KindFrozenSet:
		a, b := v.Set(), w.Set()
		if a.Len() != b.Len() {
			return false
		}
		for mk := range a.elems {
			if _, ok := b.elems[mk]; !ok {
				return false
			}
		}
		return true
	case KindRange:
		a, b := v.Range(), w.Range()
		return a.Start == b.Start && a.Stop == b.Stop && a.Step == b.Step
	case KindComplex:
		return v.Complex() == w.Complex()
	default:
		return v.obj == w.obj
	}
}

// asFloat widens numerics (int, float, bool) to float64 for comparison.
func asFloat(v Value) (float64, bool) {
	switch v.kind {
	case KindInt, KindBool:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Hashing for map keys and set elements
// ---------------------------------------------------------------------------

// mapKey is the comparable normal form of a hashable Value. Integral floats
// and booleans normalize to ints so 1, 1.0 and true are the same key.
type mapKey struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// hashKey converts a Value to its key form, raising TypeError for
// unhashable kinds.
func hashKey(v Value) (mapKey, *ExceptionObject) {
	switch v.kind {
	case KindAbsent:
		return mapKey{kind: KindAbsent}, nil
	case KindBool, KindInt:
		return mapKey{kind: KindInt, i: v.i}, nil
	case KindFloat:
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
			return mapKey{kind: KindInt, i: int64(v.f)}, nil
		}
		return mapKey{kind: KindFloat, f: v.f}, nil
	case KindStr:
		return mapKey{kind: KindStr, s: v.Str()}, nil
	case KindBytes:
		return mapKey{kind: KindBytes, s: string(v.Bytes())}, nil
	case KindRange:
		r := v.Range()
		return mapKey{kind: KindRange, s: fmt.Sprintf("%d:%d:%d", r.Start, r.Stop, r.Step)}, nil
	case KindComplex:
		c := v.Complex()
		return mapKey{kind: KindComplex, s: fmt.Sprintf("%x:%x",
			math.Float64bits(real(c)), math.Float64bits(imag(c)))}, nil
	case KindTuple:
		var b strings.Builder
		for _, e := range v.List().Elems {
			if exc := encodeKey(&b, e); exc != nil {
				return mapKey{}, exc
			}
		}
		return mapKey{kind: KindTuple, s: b.String()}, nil
	case KindFrozenSet:
		// Order-independent: sort the element encodings.
		parts := make([]string, 0, v.Set().Len())
		for _, e := range v.Set().Elems() {
			var b strings.Builder
			if exc := encodeKey(&b, e); exc != nil {
				return mapKey{}, exc
			}
			parts = append(parts, b.String())
		}
		sort.Strings(parts)
		return mapKey{kind: KindFrozenSet, s: strings.Join(parts, "\x00")}, nil
	default:
		return mapKey{}, NewException("TypeError",
			fmt.Sprintf("unhashable type: '%s'", v.kind))
	}
}

// encodeKey appends a canonical byte encoding of a hashable value.
func encodeKey(b *strings.Builder, v Value) *ExceptionObject {
	mk, exc := hashKey(v)
	if exc != nil {
		return exc
	}
	b.WriteByte(byte(mk.kind))
	switch {
	case mk.s != "":
		b.WriteString(strconv.Itoa(len(mk.s)))
		b.WriteByte(':')
		b.WriteString(mk.s)
	case mk.kind == KindFloat:
		fmt.Fprintf(b, "%x", math.Float64bits(mk.f))
	default:
		b.WriteString(strconv.FormatInt(mk.i, 10))
	}
	b.WriteByte(';')
	return nil
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// String renders a value the way the guest-level str() would.
func (v Value) String() string {
	if v.kind == KindStr {
		return v.Str()
	}
	return v.Repr()
}

// Repr renders a value for diagnostics and traces.
func (v Value) Repr() string {
	switch v.kind {
	case KindAbsent:
		return "absent"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindBool:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case KindStr:
		return strconv.Quote(v.Str())
	case KindBytes:
		return "b" + strconv.Quote(string(v.Bytes()))
	case KindList, KindTuple:
		open, close := "[", "]"
		if v.kind == KindTuple {
			open, close = "(", ")"
		}
		parts := make([]string, 0, v.List().Len())
		for _, e := range v.List().Elems {
			parts = append(parts, e.Repr())
		}
		if v.kind == KindTuple && len(parts) == 1 {
			return open + parts[0] + "," + close
		}
		return open + strings.Join(parts, ", ") + close
	case KindMap:
		d := v.Dict()
		parts := make([]string, 0, d.Len())
		for _, k := range d.Keys() {
			val, _, _ := d.Get(k)
			parts = append(parts, k.Repr()+": "+val.Repr())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindSet, KindFrozenSet:
		s := v.Set()
		if s.Len() == 0 {
			if v.kind == KindFrozenSet {
				return "frozenset()"
			}
			return "set()"
		}
		parts := make([]string, 0, s.Len())
		for _, e := range s.Elems() {
			parts = append(parts, e.Repr())
		}
		sort.Strings(parts)
		body := "{" + strings.Join(parts, ", ") + "}"
		if v.kind == KindFrozenSet {
			return "frozenset(" + body + ")"
		}
		return body
	case KindRange:
		r := v.Range()
		if r.Step == 1 {
			return fmt.Sprintf("range(%d, %d)", r.Start, r.Stop)
		}
		return fmt.Sprintf("range(%d, %d, %d)", r.Start, r.Stop, r.Step)
	case KindComplex:
		c := v.Complex()
		im := formatFloat(imag(c))
		if !strings.HasPrefix(im, "-") {
			im = "+" + im
		}
		return "(" + formatFloat(real(c)) + im + "j)"
	case KindCallable:
		return fmt.Sprintf("<callable %s>", v.Callable().Name)
	case KindObject:
		return fmt.Sprintf("<%s object>", v.Object().Class)
	default:
		return fmt.Sprintf("<unknown kind %d>", v.kind)
	}
}

// formatFloat renders a float with a trailing ".0" for integral values,
// matching guest-level float display.
func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
