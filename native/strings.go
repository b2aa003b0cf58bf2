package native

import (
	"regexp"
	"strings"

	"github.com/two-barrels/scriptrt/script"
)

// buildString exposes the "String" root global: string helpers
// (split/substr/indexOf/toUpperCase/toLowerCase/trim/replace/match) as
// static functions taking the subject string as
// their first argument, rather than instance methods dispatched off a
// string-kind Operation. The Operation/Object model only
// attaches fields to KindObject values; a bare KindString has nowhere to
// hang a method table without growing that model a new case. Grouping
// them under "String" keeps the same functions reachable with the same
// arity-one-more-than-usual calling convention, at the cost of
// `String.toUpperCase(s)` instead of `s.toUpperCase()`.
func buildString() *script.Object {
	s := script.NewObject(nil)

	s.Assign("split", nativeFunc("split", 1, 2, func(args []script.Operation) (script.Operation, error) {
		sep := ""
		if len(args) > 1 {
			sep = args[1].Str()
		}
		var parts []string
		if sep == "" {
			parts = strings.Split(args[0].Str(), "")
		} else {
			parts = strings.Split(args[0].Str(), sep)
		}
		out := script.NewArray(nil)
		for _, p := range parts {
			out.Push(script.String(p))
		}
		return script.Obj(out), nil
	}))
	s.Assign("substr", nativeFunc("substr", 2, 3, func(args []script.Operation) (script.Operation, error) {
		str := args[0].Str()
		start, _ := args[1].Int64()
		length := int64(len(str)) - start
		if len(args) > 2 {
			length, _ = args[2].Int64()
		}
		return script.String(substr(str, start, length)), nil
	}))
	s.Assign("indexOf", nativeFunc("indexOf", 2, 2, func(args []script.Operation) (script.Operation, error) {
		return script.Int(int64(strings.Index(args[0].Str(), args[1].Str()))), nil
	}))
	s.Assign("toUpperCase", nativeFunc("toUpperCase", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.String(strings.ToUpper(args[0].Str())), nil
	}))
	s.Assign("toLowerCase", nativeFunc("toLowerCase", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.String(strings.ToLower(args[0].Str())), nil
	}))
	s.Assign("trim", nativeFunc("trim", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.String(strings.TrimSpace(args[0].Str())), nil
	}))
	s.Assign("replace", nativeFunc("replace", 3, 3, func(args []script.Operation) (script.Operation, error) {
		return script.String(strings.Replace(args[0].Str(), args[1].Str(), args[2].Str(), 1)), nil
	}))
	s.Assign("replaceAll", nativeFunc("replaceAll", 3, 3, func(args []script.Operation) (script.Operation, error) {
		return script.String(strings.ReplaceAll(args[0].Str(), args[1].Str(), args[2].Str())), nil
	}))
	s.Assign("match", nativeFunc("match", 2, 2, func(args []script.Operation) (script.Operation, error) {
		re, err := regexp.Compile(args[1].Str())
		if err != nil {
			return script.Null(), nil
		}
		m := re.FindStringSubmatch(args[0].Str())
		if m == nil {
			return script.Null(), nil
		}
		out := script.NewArray(nil)
		for _, g := range m {
			out.Push(script.String(g))
		}
		return script.Obj(out), nil
	}))
	s.Assign("concat", nativeFunc("concat", 1, -1, func(args []script.Operation) (script.Operation, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(a.Str())
		}
		return script.String(sb.String()), nil
	}))
	s.Assign("length", nativeFunc("length", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Int(int64(len(args[0].Str()))), nil
	}))
	s.Assign("fromCharCode", nativeFunc("fromCharCode", 1, 1, func(args []script.Operation) (script.Operation, error) {
		n, _ := args[0].Int64()
		return script.String(string(rune(n))), nil
	}))

	s.Freeze()
	return s
}

func substr(str string, start, length int64) string {
	n := int64(len(str))
	if start < 0 {
		start += n
	}
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := start + length
	if length < 0 || end > n {
		end = n
	}
	if end < start {
		end = start
	}
	return str[start:end]
}
