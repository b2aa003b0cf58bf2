package script

import "sync/atomic"

// InfoType is the script-info discriminant of: "so that
// native code can discover why it runs".
type InfoType int

const (
	InfoUnknown InfoType = iota
	InfoStatic
	InfoDynamic
	InfoMsgHandler
	InfoEval
	InfoRoute
)

func (t InfoType) String() string {
	switch t {
	case InfoStatic:
		return "static"
	case InfoDynamic:
		return "dynamic"
	case InfoMsgHandler:
		return "handler"
	case InfoEval:
		return "eval"
	case InfoRoute:
		return "route"
	default:
		return "unknown"
	}
}

// Info is the refcounted {type, type_name} record attached to a Runner.
type Info struct {
	Type     InfoType
	TypeName string

	refs int32
}

// NewInfo allocates a new script-info record with a refcount of 1.
func NewInfo(t InfoType, name string) *Info {
	return &Info{Type: t, TypeName: name, refs: 1}
}

func (i *Info) Retain() *Info {
	if i != nil {
		atomic.AddInt32(&i.refs, 1)
	}
	return i
}

func (i *Info) Release() {
	if i != nil {
		atomic.AddInt32(&i.refs, -1)
	}
}
