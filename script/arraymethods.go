package script

import "sort"

// arrayMethod looks up one of the array native methods beyond the
// length contract (push/pop/concat/join/slice/splice/sort/indexOf/
// every/some/filter/map/forEach). These are dispatched from
// Runner.CallMethod as a fallback after a plain field lookup misses,
// rather than installed as literal own-properties on every array: an own-
// property closure captures the array it was built against, so a later
// Object.DeepCopy would leave the copy's
// "push" silently writing into the original array instead of the copy.
// Dispatching by name here sidesteps that aliasing bug entirely.
func arrayMethod(r *Runner, obj *Object, name string, args []Operation) (Operation, bool, error) {
	if !obj.IsArray() {
		return Operation{}, false, nil
	}
	switch name {
	case "push":
		for _, a := range args {
			obj.Push(a)
		}
		return Int(obj.Len()), true, nil
	case "pop":
		n := obj.Len()
		if n == 0 {
			return Undefined(), true, nil
		}
		v, _ := obj.GetField(itoa(n - 1))
		obj.Assign("length", Int(n-1))
		return v, true, nil
	case "concat":
		out := NewArray(obj.mu)
		copyArrayInto(out, obj)
		for _, a := range args {
			if ao := a.Object(); ao != nil && ao.IsArray() {
				copyArrayInto(out, ao)
			} else {
				out.Push(a)
			}
		}
		return Obj(out), true, nil
	case "join":
		sep := ","
		if len(args) > 0 {
			sep = args[0].Str()
		}
		n := obj.Len()
		s := ""
		for i := int64(0); i < n; i++ {
			if i > 0 {
				s += sep
			}
			v, ok := obj.GetField(itoa(i))
			if ok && !v.IsMissing() {
				s += v.Str()
			}
		}
		return String(s), true, nil
	case "slice":
		n := obj.Len()
		start, end := sliceBounds(args, n)
		out := NewArray(obj.mu)
		for i := start; i < end; i++ {
			v, _ := obj.GetField(itoa(i))
			out.Push(v)
		}
		return Obj(out), true, nil
	case "splice":
		return arraySplice(obj, args), true, nil
	case "sort":
		return arraySort(r, obj, args), true, nil
	case "indexOf":
		if len(args) == 0 {
			return Int(-1), true, nil
		}
		n := obj.Len()
		for i := int64(0); i < n; i++ {
			v, _ := obj.GetField(itoa(i))
			if looseEqual(v, args[0]) {
				return Int(i), true, nil
			}
		}
		return Int(-1), true, nil
	case "every", "some", "filter", "map", "forEach":
		return arrayHigherOrder(r, obj, name, args)
	default:
		return Operation{}, false, nil
	}
}

func copyArrayInto(dst, src *Object) {
	n := src.Len()
	for i := int64(0); i < n; i++ {
		v, _ := src.GetField(itoa(i))
		dst.Push(v)
	}
}

func sliceBounds(args []Operation, n int64) (int64, int64) {
	start, end := int64(0), n
	if len(args) > 0 {
		start = normalizeIndex(args[0], n)
	}
	if len(args) > 1 {
		end = normalizeIndex(args[1], n)
	}
	if start > end {
		start = end
	}
	return start, end
}

func normalizeIndex(op Operation, n int64) int64 {
	v, _ := op.Int64()
	if v < 0 {
		v += n
	}
	if v < 0 {
		v = 0
	}
	if v > n {
		v = n
	}
	return v
}

func arraySplice(obj *Object, args []Operation) Operation {
	n := obj.Len()
	start := int64(0)
	if len(args) > 0 {
		start = normalizeIndex(args[0], n)
	}
	deleteCount := n - start
	if len(args) > 1 {
		if dc, ok := args[1].Int64(); ok && dc >= 0 && dc < deleteCount {
			deleteCount = dc
		}
	}
	removed := NewArray(obj.mu)
	var rest []Operation
	for i := start + deleteCount; i < n; i++ {
		v, _ := obj.GetField(itoa(i))
		rest = append(rest, v)
	}
	for i := start; i < start+deleteCount; i++ {
		v, _ := obj.GetField(itoa(i))
		removed.Push(v)
	}
	obj.Assign("length", Int(start))
	if len(args) > 2 {
		for _, v := range args[2:] {
			obj.Push(v)
		}
	}
	for _, v := range rest {
		obj.Push(v)
	}
	return Obj(removed)
}

func arraySort(r *Runner, obj *Object, args []Operation) Operation {
	n := int(obj.Len())
	vals := make([]Operation, n)
	for i := 0; i < n; i++ {
		vals[i], _ = obj.GetField(itoa(int64(i)))
	}
	var cmpFn *Func
	if len(args) > 0 {
		cmpFn = args[0].Function()
	}
	sort.SliceStable(vals, func(i, j int) bool {
		if cmpFn != nil {
			res, err := r.CallFunc(cmpFn, []Operation{vals[i], vals[j]})
			if err == nil {
				if n, ok := res.Int64(); ok {
					return n < 0
				}
			}
			return false
		}
		return vals[i].Str() < vals[j].Str()
	})
	for i, v := range vals {
		obj.Assign(itoa(int64(i)), v)
	}
	return Obj(obj)
}

func arrayHigherOrder(r *Runner, obj *Object, name string, args []Operation) (Operation, bool, error) {
	if len(args) == 0 {
		return Operation{}, false, nil
	}
	fn := args[0].Function()
	if fn == nil {
		return Operation{}, false, nil
	}
	n := obj.Len()
	var out *Object
	if name == "filter" || name == "map" {
		out = NewArray(obj.mu)
	}
	for i := int64(0); i < n; i++ {
		v, _ := obj.GetField(itoa(i))
		res, err := r.CallFunc(fn, []Operation{v, Int(i), Obj(obj)})
		if err != nil {
			return Operation{}, true, err
		}
		switch name {
		case "forEach":
			// result discarded
		case "every":
			if !res.Boolean() {
				return Bool(false), true, nil
			}
		case "some":
			if res.Boolean() {
				return Bool(true), true, nil
			}
		case "filter":
			if res.Boolean() {
				out.Push(v)
			}
		case "map":
			out.Push(res)
		}
	}
	switch name {
	case "forEach":
		return Undefined(), true, nil
	case "every":
		return Bool(true), true, nil
	case "some":
		return Bool(false), true, nil
	default:
		return Obj(out), true, nil
	}
}
