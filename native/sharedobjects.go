package native

import (
	"github.com/two-barrels/scriptrt/objects"
	"github.com/two-barrels/scriptrt/script"
)

// buildSharedObjects exposes the process-wide objects.Store as the
// "SharedObjects" root global. Every entry
// set from this bridge is owner-tagged with the bridge's own id, so
// Bridge.TeardownContext's ClearOwner call removes exactly the entries
// this engine instance created.
func (b *Bridge) buildSharedObjects() *script.Object {
	o := script.NewObject(nil)

	o.Assign("set", nativeFunc("set", 2, 4, func(args []script.Operation) (script.Operation, error) {
		obj := args[1].Object()
		if obj == nil {
			return script.Int(-1), nil
		}
		persistent := argOr(args, 2, script.Bool(false)).Boolean()
		if err := b.Objects.Set(args[0].Str(), obj, b.ID, persistent); err != nil {
			return script.Int(-1), nil
		}
		return script.Int(0), nil
	}))
	o.Assign("create", nativeFunc("create", 2, 4, func(args []script.Operation) (script.Operation, error) {
		obj := args[1].Object()
		if obj == nil {
			return script.Int(-1), nil
		}
		persistent := argOr(args, 2, script.Bool(false)).Boolean()
		err := b.Objects.Create(args[0].Str(), obj, b.ID, persistent)
		if err == objects.ErrAlreadyExists {
			return script.Int(-2), nil
		}
		if err != nil {
			return script.Int(-1), nil
		}
		return script.Int(0), nil
	}))
	o.Assign("get", nativeFunc("get", 1, 1, func(args []script.Operation) (script.Operation, error) {
		cp := b.Objects.Get(args[0].Str())
		return script.Obj(cp), nil
	}))
	o.Assign("exists", nativeFunc("exists", 1, 1, func(args []script.Operation) (script.Operation, error) {
		return script.Bool(b.Objects.Exists(args[0].Str())), nil
	}))
	o.Assign("description", nativeFunc("description", 1, 1, func(args []script.Operation) (script.Operation, error) {
		d, ok := b.Objects.Description(args[0].Str())
		if !ok {
			return script.Null(), nil
		}
		out := script.NewObject(nil)
		out.Assign("name", script.String(d.Name))
		out.Assign("owned", script.Bool(d.Owned))
		out.Assign("persistent", script.Bool(d.Persistent))
		return script.Obj(out), nil
	}))
	o.Assign("clear", nativeFunc("clear", 1, 1, func(args []script.Operation) (script.Operation, error) {
		b.Objects.Clear(args[0].Str())
		return script.Undefined(), nil
	}))
	o.Assign("clearAll", nativeFunc("clearAll", 0, 1, func(args []script.Operation) (script.Operation, error) {
		onlyMine := ""
		if len(args) > 0 && args[0].Boolean() {
			onlyMine = b.ID
		}
		b.Objects.ClearAll(onlyMine)
		return script.Undefined(), nil
	}))

	return o
}
