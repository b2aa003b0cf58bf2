package script

import (
	"sync"
	"sync/atomic"
)

// Instr is a single emitted instruction. The concrete instruction set
// belongs to the external parser/compiler collaborator (,
// "excluded from the core"); script only needs to know source file/line
// for any instruction index and to be able to run one.
type Instr struct {
	File string
	Line int
	// Exec is the minimal-reference-compiler's step function: given a
	// runner, perform one instruction and report whether the program
	// counter should simply advance (true) or has already been
	// redirected/suspended (false).
	Exec func(r *Runner) (advance bool, err error)
}

// Code is the immutable, ref-counted "parsed program" container: a
// compiled script capable of producing Runners, and capable of mapping
// any instruction index back to source file/line.
type Code struct {
	refs int32

	File  string
	Instr []Instr

	// Init, if set, seeds a freshly allocated context's globals before
	// main runs ("initialisation hook that may seed a
	// context's globals").
	Init func(ctx *Context)
}

// NewCode wraps a freshly parsed instruction stream with a refcount of 1.
func NewCode(file string, instr []Instr, init func(ctx *Context)) *Code {
	return &Code{refs: 1, File: file, Instr: instr, Init: init}
}

// Retain increments the refcount and returns c, for convenient chaining.
func (c *Code) Retain() *Code {
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Release decrements the refcount; the caller must not use c afterwards
// if this was the last reference.
func (c *Code) Release() {
	atomic.AddInt32(&c.refs, -1)
}

// RefCount returns the current reference count, for diagnostics
// (module/CLI "allocations" command).
func (c *Code) RefCount() int32 { return atomic.LoadInt32(&c.refs) }

// SourceLine recovers the source file/line for a given instruction index.
func (c *Code) SourceLine(idx int) (file string, line int, ok bool) {
	if idx < 0 || idx >= len(c.Instr) {
		return "", 0, false
	}
	in := c.Instr[idx]
	return in.File, in.Line, true
}

// NewRunner is the factory described in: "a factory that
// creates a runner bound to a given context".
func (c *Code) NewRunner(ctx *Context, info *Info) *Runner {
	if c.Init != nil {
		c.Init(ctx)
	}
	return newRunner(c, ctx, info)
}

// Compiler is the external collaborator that turns
// script-language source text into a Code. The concrete parser/bytecode
// compiler is out of core scope; this interface is what the rest of the
// core depends on.
type Compiler interface {
	Compile(file string, source []byte) (*Code, error)
}

// codeCache provides the identity-preservation behaviour required by
// invariant I6: re-parsing an unchanged script file keeps the old
// compiled-code object identity.
type codeCache struct {
	mu      sync.Mutex
	byFile  map[string]*cachedCode
	compile Compiler
}

type cachedCode struct {
	checksum [2]uint64
	code     *Code
}

// NewCachingCompiler wraps an underlying Compiler with an identity cache
// keyed by file path + content checksum.
func NewCachingCompiler(underlying Compiler) Compiler {
	return &codeCache{byFile: make(map[string]*cachedCode), compile: underlying}
}

func (c *codeCache) Compile(file string, source []byte) (*Code, error) {
	sum := fnv128(source)

	c.mu.Lock()
	if entry, ok := c.byFile[file]; ok && entry.checksum == sum {
		code := entry.code.Retain()
		c.mu.Unlock()
		return code, nil
	}
	c.mu.Unlock()

	code, err := c.compile.Compile(file, source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byFile[file] = &cachedCode{checksum: sum, code: code}
	c.mu.Unlock()
	return code, nil
}

// fnv128 is a cheap, dependency-free content fingerprint used only for
// the unchanged-file fast path above; it is not exposed to scripts.
func fnv128(data []byte) [2]uint64 {
	var h1, h2 uint64 = 14695981039346656037, 1099511628211
	for _, b := range data {
		h1 ^= uint64(b)
		h1 *= 1099511628211
		h2 = h2*31 + uint64(b)
	}
	return [2]uint64{h1, h2}
}
