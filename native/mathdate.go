package native

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/two-barrels/scriptrt/script"
)

// buildMath builds the frozen "Math" global: a fixed set of numeric
// helpers scripts call as Math.<name>(...), matching the integer-only
// Operation model rather than introducing a float Kind.
func buildMath() *script.Object {
	m := script.NewObject(nil)

	m.Assign("floor", nativeFunc("floor", 1, 1, func(args []script.Operation) (script.Operation, error) {
		n, _ := args[0].Int64()
		return script.Int(n), nil
	}))
	m.Assign("abs", nativeFunc("abs", 1, 1, func(args []script.Operation) (script.Operation, error) {
		n, _ := args[0].Int64()
		if n < 0 {
			n = -n
		}
		return script.Int(n), nil
	}))
	m.Assign("max", nativeFunc("max", 1, -1, func(args []script.Operation) (script.Operation, error) {
		best, _ := args[0].Int64()
		for _, a := range args[1:] {
			n, _ := a.Int64()
			if n > best {
				best = n
			}
		}
		return script.Int(best), nil
	}))
	m.Assign("min", nativeFunc("min", 1, -1, func(args []script.Operation) (script.Operation, error) {
		best, _ := args[0].Int64()
		for _, a := range args[1:] {
			n, _ := a.Int64()
			if n < best {
				best = n
			}
		}
		return script.Int(best), nil
	}))
	m.Assign("pow", nativeFunc("pow", 2, 2, func(args []script.Operation) (script.Operation, error) {
		base, _ := args[0].Int64()
		exp, _ := args[1].Int64()
		return script.Int(int64(math.Pow(float64(base), float64(exp)))), nil
	}))
	m.Assign("random", nativeFunc("random", 0, 0, func(args []script.Operation) (script.Operation, error) {
		return script.Int(rand.Int63()), nil
	}))

	m.Freeze()
	return m
}

// buildDate builds the frozen "Date" global, exposing millisecond-since-
// epoch timestamps the way msgTime/msgAge already does for
// messages, so the two stay consistent.
func buildDate() *script.Object {
	d := script.NewObject(nil)

	d.Assign("now", nativeFunc("now", 0, 0, func(args []script.Operation) (script.Operation, error) {
		return script.Int(time.Now().UnixMilli()), nil
	}))
	d.Assign("format", nativeFunc("format", 1, 2, func(args []script.Operation) (script.Operation, error) {
		ms, _ := args[0].Int64()
		layout := "2006-01-02T15:04:05Z07:00"
		if len(args) > 1 && args[1].IsFilled() {
			layout = args[1].Str()
		}
		return script.String(time.UnixMilli(ms).UTC().Format(layout)), nil
	}))

	d.Freeze()
	return d
}

// installGlobalFunctions assigns the unscoped global function natives:
// parseInt, parseFloat (still returned as an Int, per the integer-only
// Operation model), isNaN.
func installGlobalFunctions(root *script.Object) {
	root.Assign("parseInt", nativeFunc("parseInt", 1, 2, func(args []script.Operation) (script.Operation, error) {
		base := 10
		if len(args) > 1 {
			if b, ok := args[1].Int64(); ok && b > 0 {
				base = int(b)
			}
		}
		n, err := strconv.ParseInt(strings.TrimSpace(args[0].Str()), base, 64)
		if err != nil {
			return script.NaN(), nil
		}
		return script.Int(n), nil
	}))
	root.Assign("parseFloat", nativeFunc("parseFloat", 1, 1, func(args []script.Operation) (script.Operation, error) {
		f, err := strconv.ParseFloat(strings.TrimSpace(args[0].Str()), 64)
		if err != nil {
			return script.NaN(), nil
		}
		return script.Int(int64(f)), nil
	}))
	root.Assign("isNaN", nativeFunc("isNaN", 1, 1, func(args []script.Operation) (script.Operation, error) {
		if args[0].Kind == script.KindNaN {
			return script.Bool(true), nil
		}
		_, ok := args[0].Int64()
		return script.Bool(!ok), nil
	}))
}
