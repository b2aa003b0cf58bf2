package native

import (
	"net"

	"github.com/two-barrels/scriptrt/script"
)

// buildDNS exposes the "DNS" root global: a single `query(name[, async])`
// native implementing the cooperative suspension point names
// explicitly ("DNS.query(..., async=true)"), standing in for the concrete
// DNS resolver library scopes out of the core.
func (b *Bridge) buildDNS() *script.Object {
	d := script.NewObject(nil)

	d.Assign("query", nativeFuncCtx("query", 1, 2, func(r *script.Runner, args []script.Operation) (script.Operation, error) {
		name := args[0].Str()
		async := false
		if len(args) > 1 {
			async = args[1].Boolean()
		}
		if !async {
			return resolveHost(name), nil
		}
		r.Enqueue(script.AsyncFunc(func(rr *script.Runner) error {
			rr.Push(resolveHost(name))
			return nil
		}))
		r.Pause()
		return script.Undefined(), nil
	}))

	return d
}

func resolveHost(name string) script.Operation {
	addrs, err := net.LookupHost(name)
	if err != nil || len(addrs) == 0 {
		return script.Null()
	}
	out := script.NewArray(nil)
	for _, a := range addrs {
		out.Push(script.String(a))
	}
	return script.Obj(out)
}
