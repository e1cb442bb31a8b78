package vm

import "math"

// TaggedValue is the compact fast-path encoding of common scalars.
//
// All tagged values are 64-bit words interpreted as IEEE 754 doubles.
// Non-float scalars are folded into the NaN space using the quiet NaN
// prefix plus tag bits:
//   - Float: native IEEE 754 double (anything that is not a tagged NaN)
//   - Int: quiet NaN + tagInt + 47-bit signed payload
//   - Special: quiet NaN + tagSpecial + payload (absent/true/false)
//   - Ptr: reserved for future heap pointers; never produced today
//
// TaggedValue is a pure optimization layer over Value: conversion is total
// and lossless for the supported subset, it owns nothing, and it never
// touches reference counts. Anything it cannot represent falls back to the
// general Value path.
type TaggedValue uint64

const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0.
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space.
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits of payload space below the tag.
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	// Tag values (shifted into position).
	tagPtr     uint64 = 0x0001000000000000 // reserved: heap pointer
	tagInt     uint64 = 0x0002000000000000 // 47-bit signed integer
	tagSpecial uint64 = 0x0003000000000000 // absent, true, false

	// 47-bit signed integer encoding.
	intPayloadMask uint64 = 0x00007FFFFFFFFFFF
	intSignBit     uint64 = 0x0000400000000000
	intSignExtend  uint64 = ^intPayloadMask
)

// Special payloads.
const (
	specialAbsent uint64 = 0
	specialTrue   uint64 = 1
	specialFalse  uint64 = 2
)

// Pre-defined tagged scalars.
const (
	TaggedAbsent TaggedValue = TaggedValue(nanBits | tagSpecial | specialAbsent)
	TaggedTrue   TaggedValue = TaggedValue(nanBits | tagSpecial | specialTrue)
	TaggedFalse  TaggedValue = TaggedValue(nanBits | tagSpecial | specialFalse)
)

// Tagged integer range (47-bit signed).
const (
	MaxTaggedInt int64 = (1 << 46) - 1
	MinTaggedInt int64 = -(1 << 46)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsFloat reports whether t decodes as a float64. Regular numbers,
// infinities, signaling NaNs and untagged quiet NaNs are all floats.
func (t TaggedValue) IsFloat() bool {
	bits := uint64(t)
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}
	mantissa := bits & 0x000FFFFFFFFFFFFF
	if mantissa == 0 {
		// +Inf or -Inf
		return true
	}
	if (bits & nanBits) != nanBits {
		// Signaling NaN
		return true
	}
	// Quiet NaN: ours only if a tag is set.
	return bits&tagMask == 0
}

// IsInt reports whether t encodes a tagged integer.
func (t TaggedValue) IsInt() bool {
	return (uint64(t) & (nanBits | tagMask)) == (nanBits | tagInt)
}

// IsSpecial reports whether t is absent, true, or false.
func (t TaggedValue) IsSpecial() bool {
	return (uint64(t) & (nanBits | tagMask)) == (nanBits | tagSpecial)
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// TaggedFromValue encodes a Value into the tagged subset. The second result
// is false when the input is not representable (heap kinds, out-of-range
// ints, float bit patterns that collide with the tag space); callers then
// stay on the general path.
func TaggedFromValue(v Value) (TaggedValue, bool) {
	switch v.Kind() {
	case KindAbsent:
		return TaggedAbsent, true
	case KindBool:
		if v.i != 0 {
			return TaggedTrue, true
		}
		return TaggedFalse, true
	case KindInt:
		return taggedFromInt(v.i)
	case KindFloat:
		t := TaggedValue(math.Float64bits(v.f))
		if !t.IsFloat() {
			// A NaN payload that collides with our tags; leave it boxed.
			return 0, false
		}
		return t, true
	default:
		return 0, false
	}
}

// taggedFromInt encodes an int64, reporting false outside the 47-bit range.
func taggedFromInt(n int64) (TaggedValue, bool) {
	if n > MaxTaggedInt || n < MinTaggedInt {
		return 0, false
	}
	return TaggedValue(nanBits | tagInt | (uint64(n) & intPayloadMask)), true
}

// taggedFromFloat encodes a float64 result.
func taggedFromFloat(f float64) TaggedValue {
	return TaggedValue(math.Float64bits(f))
}

// ToValue decodes a tagged value back into the canonical representation.
// Total over every value TaggedFromValue can produce.
func (t TaggedValue) ToValue() Value {
	switch {
	case t.IsInt():
		return IntValue(t.Int())
	case t.IsSpecial():
		switch uint64(t) & payloadMask {
		case specialTrue:
			return True
		case specialFalse:
			return False
		default:
			return Absent
		}
	default:
		return FloatValue(math.Float64frombits(uint64(t)))
	}
}

// Int returns the integer payload with 47-bit sign extension.
// Panics if t is not a tagged integer.
func (t TaggedValue) Int() int64 {
	if !t.IsInt() {
		panic("TaggedValue.Int: not an int")
	}
	payload := uint64(t) & intPayloadMask
	if payload&intSignBit != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// Float returns t as a float64. Panics if t is not a float.
func (t TaggedValue) Float() float64 {
	if !t.IsFloat() {
		panic("TaggedValue.Float: not a float")
	}
	return math.Float64frombits(uint64(t))
}

// ---------------------------------------------------------------------------
// Integer fast-path arithmetic
// ---------------------------------------------------------------------------
//
// All operations require both operands tagged as Int and report false
// ("not representable") otherwise: mixed tags, out-of-range results, and
// division or modulo by zero all fall through to the general path, which
// re-detects the condition and raises the proper exception. No allocation,
// no side effects.

// Add returns a+b on the integer fast path.
func (t TaggedValue) Add(u TaggedValue) (TaggedValue, bool) {
	if !t.IsInt() || !u.IsInt() {
		return 0, false
	}
	return taggedFromInt(t.Int() + u.Int())
}

// Sub returns a-b on the integer fast path.
func (t TaggedValue) Sub(u TaggedValue) (TaggedValue, bool) {
	if !t.IsInt() || !u.IsInt() {
		return 0, false
	}
	return taggedFromInt(t.Int() - u.Int())
}

// Mul returns a*b on the integer fast path.
func (t TaggedValue) Mul(u TaggedValue) (TaggedValue, bool) {
	if !t.IsInt() || !u.IsInt() {
		return 0, false
	}
	a, b := t.Int(), u.Int()
	r := a * b
	// 47-bit inputs can overflow int64 through multiplication.
	if a != 0 && r/a != b {
		return 0, false
	}
	return taggedFromInt(r)
}

// Div returns a/b as a float (true division) on the integer fast path.
// Division by zero is not representable.
func (t TaggedValue) Div(u TaggedValue) (TaggedValue, bool) {
	if !t.IsInt() || !u.IsInt() {
		return 0, false
	}
	b := u.Int()
	if b == 0 {
		return 0, false
	}
	return taggedFromFloat(float64(t.Int()) / float64(b)), true
}

// FloorDiv returns a//b with floor semantics on the integer fast path.
// Division by zero is not representable.
func (t TaggedValue) FloorDiv(u TaggedValue) (TaggedValue, bool) {
	if !t.IsInt() || !u.IsInt() {
		return 0, false
	}
	a, b := t.Int(), u.Int()
	if b == 0 {
		return 0, false
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return taggedFromInt(q)
}

// Mod returns a%b with the sign of the divisor on the integer fast path.
// Modulo by zero is not representable.
func (t TaggedValue) Mod(u TaggedValue) (TaggedValue, bool) {
	if !t.IsInt() || !u.IsInt() {
		return 0, false
	}
	a, b := t.Int(), u.Int()
	if b == 0 {
		return 0, false
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return taggedFromInt(r)
}
