// Package script implements the core execution model of the embedded
// scripting runtime: operation values, objects, contexts and runners.
package script

import (
	"fmt"
	"strconv"
)

// Kind discriminates the variants an Operation may hold.
type Kind int

const (
	// KindUndefined is the zero Kind: an absent value.
	KindUndefined Kind = iota
	KindNull
	KindString
	KindInt
	KindBool
	KindNaN
	KindObject
	KindFunc
	KindOpcode
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindNaN:
		return "NaN"
	case KindObject:
		return "object"
	case KindFunc:
		return "function"
	case KindOpcode:
		return "opcode"
	default:
		return "unknown"
	}
}

// Operation is a single script-level value, as described in.
// It always carries a Kind, an optional Name (used by field-assignment
// paths) and an optional source Line.
type Operation struct {
	Kind Kind
	Name string
	Line int

	str  string
	i64  int64
	b    bool
	obj  *Object
	fn   *Func
	op   int
}

// Func is a function-reference operation payload: either a reference to
// a user-defined script function or a native Go callback.
type Func struct {
	Name   string
	Params []string
	// Body is opaque to the script package; the Compiler fills it in.
	Body interface{}
	// Native, if set, is invoked directly instead of running Body.
	Native func(args []Operation) (Operation, error)
	// NativeCtx, if set, takes priority over Native: it is invoked with
	// the calling Runner attached, so a native method can enqueue an
	// AsyncOp and Pause before returning ("Cooperative
	// suspension points"). Bridge methods that may suspend (Message.dispatch
	// with async=true, Semaphore.wait, …) use this instead of Native.
	NativeCtx func(r *Runner, args []Operation) (Operation, error)
}

// Undefined returns the sentinel "absent payload" operation.
func Undefined() Operation { return Operation{Kind: KindUndefined} }

// Null returns the sentinel "null pointer payload" operation.
func Null() Operation { return Operation{Kind: KindNull} }

// NaN returns a non-number operation.
func NaN() Operation { return Operation{Kind: KindNaN} }

// String wraps a string value.
func String(s string) Operation { return Operation{Kind: KindString, str: s} }

// Int wraps a 64-bit signed integer.
func Int(v int64) Operation { return Operation{Kind: KindInt, i64: v} }

// Bool wraps a boolean.
func Bool(v bool) Operation { return Operation{Kind: KindBool, b: v} }

// Obj wraps an object reference.
func Obj(o *Object) Operation {
	if o == nil {
		return Null()
	}
	return Operation{Kind: KindObject, obj: o}
}

// FuncRef wraps a function reference.
func FuncRef(f *Func) Operation { return Operation{Kind: KindFunc, fn: f} }

// Opcode wraps an opcode+arg operation used by the bytecode layer.
func Opcode(code, arg int) Operation { return Operation{Kind: KindOpcode, op: code, i64: int64(arg)} }

// Named returns a copy of op carrying name as its field name.
func (op Operation) Named(name string) Operation {
	op.Name = name
	return op
}

// AtLine returns a copy of op tagged with a source line.
func (op Operation) AtLine(line int) Operation {
	op.Line = line
	return op
}

// IsNull reports whether op is the null sentinel.
func (op Operation) IsNull() bool { return op.Kind == KindNull }

// IsUndefined reports whether op is the undefined sentinel.
func (op Operation) IsUndefined() bool { return op.Kind == KindUndefined }

// IsMissing implements "missing" predicate: null or undefined.
// Invariant I1: IsNull(op) => !IsUndefined(op), and IsMissing == IsNull || IsUndefined.
func (op Operation) IsMissing() bool { return op.IsNull() || op.IsUndefined() }

// IsEmpty implements "empty": missing, or an empty string.
func (op Operation) IsEmpty() bool {
	if op.IsMissing() {
		return true
	}
	return op.Kind == KindString && op.str == ""
}

// IsPresent implements "present": not missing.
func (op Operation) IsPresent() bool { return !op.IsMissing() }

// IsFilled implements "filled": not empty.
func (op Operation) IsFilled() bool { return !op.IsEmpty() }

// Str returns the operation coerced to a string, following the script
// language's loose-typing rules (numbers and bools stringify; missing
// values stringify to "").
func (op Operation) Str() string {
	switch op.Kind {
	case KindString:
		return op.str
	case KindInt:
		return strconv.FormatInt(op.i64, 10)
	case KindBool:
		if op.b {
			return "true"
		}
		return "false"
	case KindNaN:
		return "nan"
	case KindObject:
		if op.obj != nil {
			return fmt.Sprintf("[object %p]", op.obj)
		}
		return ""
	default:
		return ""
	}
}

// Int64 returns the operation coerced to an integer, with ok=false if no
// sensible coercion exists.
func (op Operation) Int64() (int64, bool) {
	switch op.Kind {
	case KindInt:
		return op.i64, true
	case KindBool:
		if op.b {
			return 1, true
		}
		return 0, true
	case KindString:
		v, err := strconv.ParseInt(op.str, 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// Boolean coerces the operation to a boolean using script-language truthiness:
// missing is false, zero/empty-string is false, everything else is true.
func (op Operation) Boolean() bool {
	switch op.Kind {
	case KindBool:
		return op.b
	case KindInt:
		return op.i64 != 0
	case KindString:
		return op.str != ""
	case KindObject:
		return op.obj != nil
	case KindNull, KindUndefined, KindNaN:
		return false
	default:
		return true
	}
}

// Object returns the wrapped object, or nil if op is not an object.
func (op Operation) Object() *Object {
	if op.Kind != KindObject {
		return nil
	}
	return op.obj
}

// Function returns the wrapped function reference, or nil.
func (op Operation) Function() *Func {
	if op.Kind != KindFunc {
		return nil
	}
	return op.fn
}

// OpcodeValue returns the wrapped opcode and argument.
func (op Operation) OpcodeValue() (code, arg int) { return op.op, int(op.i64) }
