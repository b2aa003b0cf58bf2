package script

// Builder assembles a Code value programmatically. The concrete
// script-language parser/bytecode compiler is an external collaborator
//; Builder is the minimal reference compiler this repo
// ships to drive its own tests and to let native Go callers register
// top-level functions (e.g. onRoute, onStartup) without a full lexer.
type Builder struct {
	file  string
	funcs map[string]*Func
	top   []Instr
}

// NewBuilder starts building a Code for the named source file.
func NewBuilder(file string) *Builder {
	return &Builder{file: file, funcs: make(map[string]*Func)}
}

// DefineFunc registers a top-level function name bound to a native body.
// This is how test scripts and statically-linked global scripts install
// onRoute/onStartup/etc. without going through a textual parser.
func (b *Builder) DefineFunc(name string, params []string, native func(args []Operation) (Operation, error)) *Builder {
	b.funcs[name] = &Func{Name: name, Params: params, Native: native}
	return b
}

// Toplevel appends an instruction to the program's top-level execution
// (run once by Runner.Execute on a runner from Code.NewRunner).
func (b *Builder) Toplevel(line int, exec func(r *Runner) (bool, error)) *Builder {
	b.top = append(b.top, Instr{File: b.file, Line: line, Exec: exec})
	return b
}

// Build produces the immutable Code. Init seeds the fresh context with
// every defined function as a global.
func (b *Builder) Build() *Code {
	funcs := b.funcs
	init := func(ctx *Context) {
		for name, fn := range funcs {
			_ = ctx.Set(name, FuncRef(fn))
		}
	}
	return NewCode(b.file, b.top, init)
}
