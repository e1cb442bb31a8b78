package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtin/FFI boundary
// ---------------------------------------------------------------------------

// BuiltinFunc is the host-function signature. Arguments are borrowed from
// the caller's registers; the result is owned by the caller. A non-nil
// exception routes through the normal unwinder, indistinguishable from a
// guest raise.
type BuiltinFunc func(vm *VM, args []Value) (Value, *ExceptionObject)

// registerBuiltins installs the standard builtins into the global
// namespace. Real library modules live outside the VM; this set is the
// minimum a guest program needs to be useful.
func registerBuiltins(vm *VM) {
	vm.RegisterBuiltin("print", builtinPrint)
	vm.RegisterBuiltin("len", builtinLen)
	vm.RegisterBuiltin("repr", builtinRepr)
	vm.RegisterBuiltin("str", builtinStr)
	vm.RegisterBuiltin("int", builtinInt)
	vm.RegisterBuiltin("float", builtinFloat)
	vm.RegisterBuiltin("bool", builtinBool)
	vm.RegisterBuiltin("abs", builtinAbs)
	vm.RegisterBuiltin("min", builtinMin)
	vm.RegisterBuiltin("max", builtinMax)
	vm.RegisterBuiltin("range", builtinRange)
	vm.RegisterBuiltin("append", builtinAppend)
	vm.RegisterBuiltin("extend", builtinExtend)
	vm.RegisterBuiltin("keys", builtinKeys)
	vm.RegisterBuiltin("values", builtinValues)
}

func arityError(name string, want, got int) *ExceptionObject {
	return newExceptionf("TypeError", "%s() takes exactly %d argument(s) (%d given)",
		name, want, got)
}

func builtinPrint(vm *VM, args []Value) (Value, *ExceptionObject) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	fmt.Fprintln(vm.Stdout, strings.Join(parts, " "))
	return Absent, nil
}

func builtinLen(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("len", 1, len(args))
	}
	n, exc := lengthOf(args[0])
	if exc != nil {
		return Absent, exc
	}
	return IntValue(n), nil
}

func builtinRepr(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("repr", 1, len(args))
	}
	return StrValue(args[0].Repr()), nil
}

func builtinStr(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("str", 1, len(args))
	}
	return StrValue(args[0].String()), nil
}

func builtinInt(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("int", 1, len(args))
	}
	v := args[0]
	switch v.Kind() {
	case KindInt:
		return v, nil
	case KindBool:
		n, _ := integral(v)
		return IntValue(n), nil
	case KindFloat:
		return IntValue(int64(math.Trunc(v.Float()))), nil
	case KindStr:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str()), 10, 64)
		if err != nil {
			return Absent, newExceptionf("ValueError",
				"invalid literal for int() with base 10: %s", v.Repr())
		}
		return IntValue(n), nil
	default:
		return Absent, newExceptionf("TypeError",
			"int() argument must be a string or a number, not '%s'", v.Kind())
	}
}

func builtinFloat(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("float", 1, len(args))
	}
	v := args[0]
	switch v.Kind() {
	case KindFloat:
		return v, nil
	case KindInt, KindBool:
		n, _ := integral(v)
		return FloatValue(float64(n)), nil
	case KindStr:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
		if err != nil {
			return Absent, newExceptionf("ValueError",
				"could not convert string to float: %s", v.Repr())
		}
		return FloatValue(f), nil
	default:
		return Absent, newExceptionf("TypeError",
			"float() argument must be a string or a number, not '%s'", v.Kind())
	}
}

func builtinBool(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("bool", 1, len(args))
	}
	return BoolValue(args[0].IsTruthy()), nil
}

func builtinAbs(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("abs", 1, len(args))
	}
	v := args[0]
	switch v.Kind() {
	case KindInt, KindBool:
		n, _ := integral(v)
		if n < 0 {
			n = -n
		}
		return IntValue(n), nil
	case KindFloat:
		return FloatValue(math.Abs(v.Float())), nil
	default:
		return Absent, newExceptionf("TypeError", "bad operand type for abs(): '%s'", v.Kind())
	}
}

// minmax handles min and max over either multiple arguments or a single
// list/tuple argument.
func minmax(name string, wantLess bool, args []Value) (Value, *ExceptionObject) {
	items := args
	if len(args) == 1 {
		v := args[0]
		if v.Kind() != KindList && v.Kind() != KindTuple {
			return Absent, newExceptionf("TypeError", "'%s' object is not iterable", v.Kind())
		}
		items = v.List().Elems
	}
	if len(items) == 0 {
		return Absent, newExceptionf("ValueError", "%s() arg is an empty sequence", name)
	}
	op := OpGt
	if wantLess {
		op = OpLt
	}
	best := items[0]
	for _, it := range items[1:] {
		cmp, exc := compareOrder(op, it, best)
		if exc != nil {
			return Absent, exc
		}
		if (wantLess && cmp < 0) || (!wantLess && cmp > 0) {
			best = it
		}
	}
	best.Retain()
	return best, nil
}

func builtinMin(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) == 0 {
		return Absent, newExceptionf("TypeError", "min expected at least 1 argument, got 0")
	}
	return minmax("min", true, args)
}

func builtinMax(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) == 0 {
		return Absent, newExceptionf("TypeError", "max expected at least 1 argument, got 0")
	}
	return minmax("max", false, args)
}

func builtinRange(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) < 1 || len(args) > 3 {
		return Absent, newExceptionf("TypeError",
			"range expected 1 to 3 arguments, got %d", len(args))
	}
	nums := make([]int64, len(args))
	for i, a := range args {
		n, ok := integral(a)
		if !ok {
			return Absent, newExceptionf("TypeError",
				"'%s' object cannot be interpreted as an integer", a.Kind())
		}
		nums[i] = n
	}
	start, stop, step := int64(0), int64(0), int64(1)
	switch len(nums) {
	case 1:
		stop = nums[0]
	case 2:
		start, stop = nums[0], nums[1]
	default:
		start, stop, step = nums[0], nums[1], nums[2]
	}
	if step == 0 {
		return Absent, NewException("ValueError", "range() arg 3 must not be zero")
	}
	return RangeValue(start, stop, step), nil
}

func builtinAppend(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 2 {
		return Absent, arityError("append", 2, len(args))
	}
	if args[0].Kind() != KindList {
		return Absent, newExceptionf("TypeError",
			"append() argument must be a list, not '%s'", args[0].Kind())
	}
	args[0].List().Append(args[1])
	return Absent, nil
}

func builtinExtend(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 2 {
		return Absent, arityError("extend", 2, len(args))
	}
	if args[0].Kind() != KindList {
		return Absent, newExceptionf("TypeError",
			"extend() argument must be a list, not '%s'", args[0].Kind())
	}
	src := args[1]
	if src.Kind() != KindList && src.Kind() != KindTuple {
		return Absent, newExceptionf("TypeError", "'%s' object is not iterable", src.Kind())
	}
	dst := args[0].List()
	for _, e := range src.List().Elems {
		dst.Append(e)
	}
	return Absent, nil
}

func builtinKeys(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("keys", 1, len(args))
	}
	if args[0].Kind() != KindMap {
		return Absent, newExceptionf("TypeError",
			"keys() argument must be a map, not '%s'", args[0].Kind())
	}
	return NewList(args[0].Dict().Keys()...), nil
}

func builtinValues(_ *VM, args []Value) (Value, *ExceptionObject) {
	if len(args) != 1 {
		return Absent, arityError("values", 1, len(args))
	}
	if args[0].Kind() != KindMap {
		return Absent, newExceptionf("TypeError",
			"values() argument must be a map, not '%s'", args[0].Kind())
	}
	return NewList(args[0].Dict().Values()...), nil
}
