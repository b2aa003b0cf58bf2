package native

import (
	"github.com/two-barrels/scriptrt/script"
	"github.com/two-barrels/scriptrt/vars"
)

// buildSharedVars exposes one named bag of the process-wide vars.Store as
// the "SharedVars" object returned by Engine.shared/Engine.sharedBag(name)
//. Every method is a thin, argument-checked
// wrapper around vars.Bag's own atomic operations.
func (b *Bridge) buildSharedVars(bagName string) *script.Object {
	bag := b.Vars.Bag(bagName)
	o := script.NewObject(nil)

	o.Assign("get", nativeFunc("get", 1, 2, func(args []script.Operation) (script.Operation, error) {
		v, ok := bag.Get(args[0].Str())
		if !ok {
			return argOr(args, 1, script.Null()), nil
		}
		return script.String(v), nil
	}))
	o.Assign("set", nativeFunc("set", 2, 2, func(args []script.Operation) (script.Operation, error) {
		bag.Set(args[0].Str(), args[1].Str())
		return script.Undefined(), nil
	}))
	o.Assign("create", nativeFunc("create", 1, 2, func(args []script.Operation) (script.Operation, error) {
		bag.Create(args[0].Str(), argOr(args, 1, script.String("")).Str())
		return script.Undefined(), nil
	}))
	o.Assign("exists", nativeFunc("exists", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(bag.Exists(args[0].Str())), nil
	}))
	o.Assign("clear", nativeFunc("clear", 1, 1, func(args []script.Operation) (script.Operation, error) {
		bag.Clear(args[0].Str())
		return script.Undefined(), nil
	}))
	o.Assign("clearAll", nativeFunc("clearAll", 0, 0, func(args []script.Operation) (script.Operation, error) {
		bag.ClearAll()
		return script.Undefined(), nil
	}))
	o.Assign("inc", nativeFunc("inc", 1, 2, func(args []script.Operation) (script.Operation, error) {
		mod, _ := argOr(args, 1, script.Int(0)).Int64()
		return script.Int(bag.Inc(args[0].Str(), mod)), nil
	}))
	o.Assign("dec", nativeFunc("dec", 1, 2, func(args []script.Operation) (script.Operation, error) {
		mod, _ := argOr(args, 1, script.Int(0)).Int64()
		return script.Int(bag.Dec(args[0].Str(), mod)), nil
	}))
	o.Assign("add", nativeFunc("add", 2, 3, func(args []script.Operation) (script.Operation, error) {
		n, _ := args[1].Int64()
		mod, _ := argOr(args, 2, script.Int(0)).Int64()
		return script.Int(bag.Add(args[0].Str(), n, mod)), nil
	}))
	o.Assign("sub", nativeFunc("sub", 2, 3, func(args []script.Operation) (script.Operation, error) {
		n, _ := args[1].Int64()
		mod, _ := argOr(args, 2, script.Int(0)).Int64()
		return script.Int(bag.Sub(args[0].Str(), n, mod)), nil
	}))
	o.Assign("getVars", nativeFunc("getVars", 0, 3, func(args []script.Operation) (script.Operation, error) {
		prefix := argOr(args, 0, script.String("")).Str()
		strip := argOr(args, 1, script.Bool(false)).Boolean()
		autoType := argOr(args, 2, script.Bool(false)).Boolean()
		return typedVarsToObject(bag.GetVars(prefix, strip, autoType)), nil
	}))

	return o
}

func typedVarsToObject(vs map[string]vars.TypedValue) script.Operation {
	out := script.NewObject(nil)
	for k, v := range vs {
		switch v.Kind {
		case vars.KindInt:
			out.Assign(k, script.Int(v.Int))
		case vars.KindBool:
			out.Assign(k, script.Bool(v.Bool))
		default:
			out.Assign(k, script.String(v.Str))
		}
	}
	return script.Obj(out)
}
