package native

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/two-barrels/scriptrt/script"
)

// buildJSON exposes the "JSON" root global: parse/stringify between
// script.Operation values and JSON text, grounded on the `tidwall/gjson`
// and `tidwall/sjson` libraries already present in the dependency graph
// (generic native-binding contract; the concrete
// serializer is left external by, "built-in object library …
// beyond the generic native binding contract").
func (b *Bridge) buildJSON() *script.Object {
	o := script.NewObject(nil)

	o.Assign("parse", nativeFunc("parse", 1, 1, func(args []script.Operation) (script.Operation, error) {
		text := args[0].Str()
		if !gjson.Valid(text) {
			return script.Null(), nil
		}
		return gjsonToOperation(gjson.Parse(text)), nil
	}))
	o.Assign("stringify", nativeFunc("stringify", 1, 1, func(args []script.Operation) (script.Operation, error) {
		text, err := operationToJSON(args[0])
		if err != nil {
			return script.Null(), nil
		}
		return script.String(text), nil
	}))

	return o
}

func gjsonToOperation(r gjson.Result) script.Operation {
	switch r.Type {
	case gjson.Null:
		return script.Null()
	case gjson.False:
		return script.Bool(false)
	case gjson.True:
		return script.Bool(true)
	case gjson.String:
		return script.String(r.String())
	case gjson.Number:
		if r.Num == float64(int64(r.Num)) {
			return script.Int(int64(r.Num))
		}
		return script.String(r.String())
	case gjson.JSON:
		if r.IsArray() {
			arr := script.NewArray(nil)
			r.ForEach(func(_, v gjson.Result) bool {
				arr.Push(gjsonToOperation(v))
				return true
			})
			return script.Obj(arr)
		}
		obj := script.NewObject(nil)
		r.ForEach(func(k, v gjson.Result) bool {
			obj.Assign(k.String(), gjsonToOperation(v))
			return true
		})
		return script.Obj(obj)
	default:
		return script.Null()
	}
}

// operationToJSON serializes op into JSON text by incrementally setting
// each field's already-encoded raw value with sjson.SetRaw, so nested
// objects/arrays are built the same piece-at-a-time way a script would
// construct a JSON document via repeated field assignment.
func operationToJSON(op script.Operation) (string, error) {
	switch op.Kind {
	case script.KindString:
		return strconv.Quote(op.Str()), nil
	case script.KindInt:
		return strconv.FormatInt(func() int64 { n, _ := op.Int64(); return n }(), 10), nil
	case script.KindBool:
		return strconv.FormatBool(op.Boolean()), nil
	case script.KindNull, script.KindUndefined, script.KindNaN:
		return "null", nil
	case script.KindObject:
		obj := op.Object()
		if obj == nil {
			return "null", nil
		}
		if obj.IsArray() {
			doc := "[]"
			n := obj.Len()
			for i := int64(0); i < n; i++ {
				v, _ := obj.GetField(strconv.FormatInt(i, 10))
				raw, err := operationToJSON(v)
				if err != nil {
					return "", err
				}
				doc, err = sjson.SetRaw(doc, strconv.FormatInt(i, 10), raw)
				if err != nil {
					return "", err
				}
			}
			return doc, nil
		}
		doc := "{}"
		for _, name := range obj.OwnNames() {
			v, _ := obj.GetField(name)
			if v.Kind == script.KindFunc {
				continue
			}
			raw, err := operationToJSON(v)
			if err != nil {
				return "", err
			}
			doc, err = sjson.SetRaw(doc, sjsonEscape(name), raw)
			if err != nil {
				return "", err
			}
		}
		return doc, nil
	default:
		return "null", nil
	}
}

// sjsonEscape backslash-escapes the path metacharacters sjson reserves
// (".", "*", "?", "\\") so arbitrary script property names round-trip
// as a single path segment.
func sjsonEscape(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '.' || c == '*' || c == '?' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
