package script

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// SimpleCompiler is a small recursive-descent parser for a C-like
// subset of the script language, enough to drive real scenarios from
// an actual on-disk `.js` file instead of a script.Builder-authored
// Code.
//
// Scope, by design: one shared per-instance namespace (Context) rather
// than lexical call-frame scoping — a function's parameters bind into
// that same namespace, so recursive calls alias their own parameter
// names, matching the per-instance root mutable namespace model the
// native bridge assumes rather than inventing call-frame scoping.
// `new X(...)` constructor sugar is not parsed; native constructors
// are invoked as plain methods (`Message.new(...)`), matching how
// native/message.go actually exposes them. A suspending native called
// from inside a compiled function body returns its placeholder
// synchronously within that body's call frame; true cooperative
// suspension is only guaranteed at top-level statement granularity,
// since each top-level statement is its own Instr and Runner.Execute
// only checks for Incomplete between Instrs.
type SimpleCompiler struct{}

// NewSimpleCompiler returns the reference compiler.
func NewSimpleCompiler() *SimpleCompiler { return &SimpleCompiler{} }

// Compile implements Compiler.
func (c *SimpleCompiler) Compile(file string, source []byte) (*Code, error) {
	toks, err := lexSimple(string(source))
	if err != nil {
		return nil, eris.Wrapf(err, "lex %s", file)
	}
	p := &simpleParser{file: file, toks: toks}
	funcs, top, err := p.parseProgram()
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", file)
	}

	init := func(ctx *Context) {
		for name, fn := range funcs {
			_ = ctx.Set(name, FuncRef(fn))
		}
	}

	instrs := make([]Instr, 0, len(top))
	for _, st := range top {
		st := st
		instrs = append(instrs, Instr{File: file, Line: st.line, Exec: func(r *Runner) (bool, error) {
			_, _, err := st.run(r)
			return true, err
		}})
	}
	return NewCode(file, instrs, init), nil
}

// ---- lexer ----

type simpleTokKind int

const (
	tokEOF simpleTokKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type simpleTok struct {
	kind simpleTokKind
	lit  string
	line int
}

func lexSimple(src string) ([]simpleTok, error) {
	var toks []simpleTok
	line := 1
	runes := []rune(src)
	n := len(runes)
	i := 0
	for i < n {
		ch := runes[i]
		switch {
		case ch == '\n':
			line++
			i++
		case ch == ' ' || ch == '\t' || ch == '\r':
			i++
		case ch == '/' && i+1 < n && runes[i+1] == '/':
			for i < n && runes[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				if runes[i] == '\n' {
					line++
				}
				i++
			}
			i += 2
		case ch == '\'' || ch == '"':
			quote := ch
			startLine := line
			i++
			var sb strings.Builder
			for i < n && runes[i] != quote {
				if runes[i] == '\\' && i+1 < n {
					i++
					switch runes[i] {
					case 'n':
						sb.WriteRune('\n')
					case 't':
						sb.WriteRune('\t')
					case 'r':
						sb.WriteRune('\r')
					default:
						sb.WriteRune(runes[i])
					}
					i++
					continue
				}
				if runes[i] == '\n' {
					line++
				}
				sb.WriteRune(runes[i])
				i++
			}
			if i >= n {
				return nil, eris.Errorf("unterminated string literal at line %d", startLine)
			}
			i++ // closing quote
			toks = append(toks, simpleTok{kind: tokString, lit: sb.String(), line: startLine})
		case isDigit(ch):
			start := i
			for i < n && isDigit(runes[i]) {
				i++
			}
			toks = append(toks, simpleTok{kind: tokNumber, lit: string(runes[start:i]), line: line})
		case isIdentStart(ch):
			start := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			toks = append(toks, simpleTok{kind: tokIdent, lit: string(runes[start:i]), line: line})
		default:
			two := ""
			if i+1 < n {
				two = string(runes[i : i+2])
			}
			switch two {
			case "==", "!=", "<=", ">=", "&&", "||":
				toks = append(toks, simpleTok{kind: tokPunct, lit: two, line: line})
				i += 2
				continue
			}
			toks = append(toks, simpleTok{kind: tokPunct, lit: string(ch), line: line})
			i++
		}
	}
	toks = append(toks, simpleTok{kind: tokEOF, line: line})
	return toks, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isIdentPart(r rune) bool { return isIdentStart(r) || isDigit(r) }

// ---- AST as compiled closures ----

// ref is an expression compiled directly to a set of closures: eval is
// always set; assign/call are set only when the parsed expression shape
// supports assignment or invocation (identifier, member/index access).
type ref struct {
	eval   func(r *Runner) (Operation, error)
	assign func(r *Runner, val Operation) error
	call   func(r *Runner, args []Operation) (Operation, error)
}

// stmt is a statement compiled to a closure. isReturn propagates a
// `return` out of nested blocks/if/while up to the enclosing function
// or top-level Instr.
type stmt struct {
	line int
	run  func(r *Runner) (ret Operation, isReturn bool, err error)
}

// ---- parser ----

type simpleParser struct {
	file string
	toks []simpleTok
	pos  int
}

func (p *simpleParser) cur() simpleTok  { return p.toks[p.pos] }
func (p *simpleParser) next() simpleTok { t := p.toks[p.pos]; p.pos++; return t }

func (p *simpleParser) errorf(format string, args ...interface{}) error {
	return eris.Errorf("%s:%d: %s", p.file, p.cur().line, eris.Errorf(format, args...).Error())
}

func (p *simpleParser) isPunct(s string) bool {
	return p.cur().kind == tokPunct && p.cur().lit == s
}

func (p *simpleParser) isKeyword(s string) bool {
	return p.cur().kind == tokIdent && p.cur().lit == s
}

func (p *simpleParser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return p.errorf("expected %q, found %q", s, p.cur().lit)
	}
	p.next()
	return nil
}

func (p *simpleParser) parseProgram() (map[string]*Func, []*stmt, error) {
	funcs := make(map[string]*Func)
	var top []*stmt
	for p.cur().kind != tokEOF {
		if p.isKeyword("function") {
			name, fn, err := p.parseFunctionDecl()
			if err != nil {
				return nil, nil, err
			}
			funcs[name] = fn
			continue
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, nil, err
		}
		top = append(top, st)
	}
	return funcs, top, nil
}

func (p *simpleParser) parseFunctionDecl() (string, *Func, error) {
	p.next() // 'function'
	if p.cur().kind != tokIdent {
		return "", nil, p.errorf("expected function name")
	}
	name := p.next().lit
	if err := p.expectPunct("("); err != nil {
		return "", nil, err
	}
	var params []string
	for !p.isPunct(")") {
		if p.cur().kind != tokIdent {
			return "", nil, p.errorf("expected parameter name")
		}
		params = append(params, p.next().lit)
		if p.isPunct(",") {
			p.next()
		}
	}
	p.next() // ')'
	body, err := p.parseBlock()
	if err != nil {
		return "", nil, err
	}
	fn := &Func{Name: name, Params: params}
	fn.NativeCtx = func(r *Runner, args []Operation) (Operation, error) {
		for i, pname := range params {
			var v Operation
			if i < len(args) {
				v = args[i]
			} else {
				v = Undefined()
			}
			if err := r.Context().Set(pname, v); err != nil {
				return Operation{}, err
			}
		}
		ret, isReturn, err := body.run(r)
		if err != nil {
			return Operation{}, err
		}
		if isReturn {
			return ret, nil
		}
		return Undefined(), nil
	}
	return name, fn, nil
}

func (p *simpleParser) parseBlock() (*stmt, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	line := p.cur().line
	var body []*stmt
	for !p.isPunct("}") {
		if p.cur().kind == tokEOF {
			return nil, p.errorf("unterminated block")
		}
		st, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, st)
	}
	p.next() // '}'
	return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) {
		for _, st := range body {
			ret, isReturn, err := st.run(r)
			if err != nil || isReturn {
				return ret, isReturn, err
			}
		}
		return Undefined(), false, nil
	}}, nil
}

func (p *simpleParser) parseStatement() (*stmt, error) {
	line := p.cur().line
	switch {
	case p.isPunct("{"):
		return p.parseBlock()
	case p.isPunct(";"):
		p.next()
		return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) { return Undefined(), false, nil }}, nil
	case p.isKeyword("var"):
		p.next()
		if p.cur().kind != tokIdent {
			return nil, p.errorf("expected variable name")
		}
		name := p.next().lit
		var valExpr *ref
		if p.isPunct("=") {
			p.next()
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			valExpr = v
		}
		p.consumeSemi()
		return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) {
			val := Undefined()
			if valExpr != nil {
				v, err := valExpr.eval(r)
				if err != nil {
					return Operation{}, false, err
				}
				val = v
			}
			if err := r.Context().Set(name, val); err != nil {
				return Operation{}, false, err
			}
			return Undefined(), false, nil
		}}, nil
	case p.isKeyword("return"):
		p.next()
		var valExpr *ref
		if !p.isPunct(";") && !p.isPunct("}") {
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			valExpr = v
		}
		p.consumeSemi()
		return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) {
			if valExpr == nil {
				return Undefined(), true, nil
			}
			v, err := valExpr.eval(r)
			return v, true, err
		}}, nil
	case p.isKeyword("if"):
		p.next()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		thenSt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		var elseSt *stmt
		if p.isKeyword("else") {
			p.next()
			elseSt, err = p.parseStatement()
			if err != nil {
				return nil, err
			}
		}
		return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) {
			cv, err := cond.eval(r)
			if err != nil {
				return Operation{}, false, err
			}
			if cv.Boolean() {
				return thenSt.run(r)
			}
			if elseSt != nil {
				return elseSt.run(r)
			}
			return Undefined(), false, nil
		}}, nil
	case p.isKeyword("while"):
		p.next()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		body, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) {
			for {
				cv, err := cond.eval(r)
				if err != nil {
					return Operation{}, false, err
				}
				if !cv.Boolean() {
					return Undefined(), false, nil
				}
				ret, isReturn, err := body.run(r)
				if err != nil || isReturn {
					return ret, isReturn, err
				}
			}
		}}, nil
	default:
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		p.consumeSemi()
		return &stmt{line: line, run: func(r *Runner) (Operation, bool, error) {
			_, err := e.eval(r)
			return Undefined(), false, err
		}}, nil
	}
}

func (p *simpleParser) consumeSemi() {
	if p.isPunct(";") {
		p.next()
	}
}

// parseExpr handles assignment, the lowest-precedence, right-associative
// operator.
func (p *simpleParser) parseExpr() (*ref, error) {
	left, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.isPunct("=") {
		p.next()
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if left.assign == nil {
			return nil, p.errorf("left-hand side is not assignable")
		}
		l := left
		n := &ref{eval: func(r *Runner) (Operation, error) {
			v, err := right.eval(r)
			if err != nil {
				return Operation{}, err
			}
			if err := l.assign(r, v); err != nil {
				return Operation{}, err
			}
			return v, nil
		}}
		return n, nil
	}
	return left, nil
}

func (p *simpleParser) parseLogicalOr() (*ref, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
		p.next()
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		l, rr := left, right
		left = &ref{eval: func(r *Runner) (Operation, error) {
			lv, err := l.eval(r)
			if err != nil {
				return Operation{}, err
			}
			if lv.Boolean() {
				return lv, nil
			}
			return rr.eval(r)
		}}
	}
	return left, nil
}

func (p *simpleParser) parseLogicalAnd() (*ref, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isPunct("&&") {
		p.next()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		l, rr := left, right
		left = &ref{eval: func(r *Runner) (Operation, error) {
			lv, err := l.eval(r)
			if err != nil {
				return Operation{}, err
			}
			if !lv.Boolean() {
				return lv, nil
			}
			return rr.eval(r)
		}}
	}
	return left, nil
}

func (p *simpleParser) binaryLevel(next func() (*ref, error), ops ...string) (*ref, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range ops {
			if p.isPunct(op) {
				matched = op
				break
			}
		}
		if matched == "" {
			return left, nil
		}
		p.next()
		right, err := next()
		if err != nil {
			return nil, err
		}
		l, rr, op := left, right, matched
		left = &ref{eval: func(r *Runner) (Operation, error) {
			lv, err := l.eval(r)
			if err != nil {
				return Operation{}, err
			}
			rv, err := rr.eval(r)
			if err != nil {
				return Operation{}, err
			}
			return evalBinOp(op, lv, rv), nil
		}}
	}
}

func (p *simpleParser) parseEquality() (*ref, error) {
	return p.binaryLevel(p.parseRelational, "==", "!=")
}

func (p *simpleParser) parseRelational() (*ref, error) {
	return p.binaryLevel(p.parseAdditive, "<", "<=", ">", ">=")
}

func (p *simpleParser) parseAdditive() (*ref, error) {
	return p.binaryLevel(p.parseMultiplicative, "+", "-")
}

func (p *simpleParser) parseMultiplicative() (*ref, error) {
	return p.binaryLevel(p.parseUnary, "*", "/", "%")
}

func (p *simpleParser) parseUnary() (*ref, error) {
	if p.isPunct("!") {
		p.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ref{eval: func(r *Runner) (Operation, error) {
			v, err := e.eval(r)
			if err != nil {
				return Operation{}, err
			}
			return Bool(!v.Boolean()), nil
		}}, nil
	}
	if p.isPunct("-") {
		p.next()
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ref{eval: func(r *Runner) (Operation, error) {
			v, err := e.eval(r)
			if err != nil {
				return Operation{}, err
			}
			n, _ := v.Int64()
			return Int(-n), nil
		}}, nil
	}
	return p.parsePostfix()
}

func (p *simpleParser) parsePostfix() (*ref, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("."):
			p.next()
			if p.cur().kind != tokIdent {
				return nil, p.errorf("expected property name after '.'")
			}
			name := p.next().lit
			base = memberRef(base, name)
		case p.isPunct("["):
			p.next()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			base = indexRef(base, idx)
		case p.isPunct("("):
			p.next()
			var args []*ref
			for !p.isPunct(")") {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.isPunct(",") {
					p.next()
				}
			}
			p.next() // ')'
			if base.call == nil {
				return nil, p.errorf("expression is not callable")
			}
			callee := base
			argExprs := args
			base = &ref{eval: func(r *Runner) (Operation, error) {
				vals := make([]Operation, len(argExprs))
				for i, a := range argExprs {
					v, err := a.eval(r)
					if err != nil {
						return Operation{}, err
					}
					vals[i] = v
				}
				return callee.call(r, vals)
			}}
		default:
			return base, nil
		}
	}
}

// memberRef builds the ref for `base.name`.
func memberRef(base *ref, name string) *ref {
	return &ref{
		eval: func(r *Runner) (Operation, error) {
			bv, err := base.eval(r)
			if err != nil {
				return Operation{}, err
			}
			obj := bv.Object()
			if obj == nil {
				return Undefined(), nil
			}
			v, ok := obj.GetField(name)
			if !ok {
				return Undefined(), nil
			}
			return v, nil
		},
		assign: func(r *Runner, val Operation) error {
			bv, err := base.eval(r)
			if err != nil {
				return err
			}
			obj := bv.Object()
			if obj == nil {
				return eris.Errorf("cannot assign property %q on a non-object", name)
			}
			if !obj.Assign(name, val) {
				return eris.Errorf("assignment to %q refused (frozen?)", name)
			}
			return nil
		},
		call: func(r *Runner, args []Operation) (Operation, error) {
			bv, err := base.eval(r)
			if err != nil {
				return Operation{}, err
			}
			obj := bv.Object()
			if obj == nil {
				return Undefined(), eris.Errorf("cannot call method %q on a non-object", name)
			}
			res, found, err := r.CallMethod(obj, name, args)
			if err != nil {
				return Operation{}, err
			}
			if !found {
				return Undefined(), eris.Errorf("no such method %q", name)
			}
			return res, nil
		},
	}
}

// indexRef builds the ref for `base[idx]`.
func indexRef(base, idx *ref) *ref {
	fieldName := func(r *Runner) (string, error) {
		iv, err := idx.eval(r)
		if err != nil {
			return "", err
		}
		return iv.Str(), nil
	}
	return &ref{
		eval: func(r *Runner) (Operation, error) {
			bv, err := base.eval(r)
			if err != nil {
				return Operation{}, err
			}
			obj := bv.Object()
			if obj == nil {
				return Undefined(), nil
			}
			name, err := fieldName(r)
			if err != nil {
				return Operation{}, err
			}
			v, ok := obj.GetField(name)
			if !ok {
				return Undefined(), nil
			}
			return v, nil
		},
		assign: func(r *Runner, val Operation) error {
			bv, err := base.eval(r)
			if err != nil {
				return err
			}
			obj := bv.Object()
			if obj == nil {
				return eris.New("cannot assign indexed property on a non-object")
			}
			name, err := fieldName(r)
			if err != nil {
				return err
			}
			if !obj.Assign(name, val) {
				return eris.Errorf("assignment to %q refused (frozen?)", name)
			}
			return nil
		},
	}
}

func (p *simpleParser) parsePrimary() (*ref, error) {
	tok := p.cur()
	switch {
	case tok.kind == tokNumber:
		p.next()
		n, err := strconv.ParseInt(tok.lit, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer literal %q", tok.lit)
		}
		return constRef(Int(n)), nil
	case tok.kind == tokString:
		p.next()
		return constRef(String(tok.lit)), nil
	case tok.kind == tokIdent && tok.lit == "true":
		p.next()
		return constRef(Bool(true)), nil
	case tok.kind == tokIdent && tok.lit == "false":
		p.next()
		return constRef(Bool(false)), nil
	case tok.kind == tokIdent && tok.lit == "null":
		p.next()
		return constRef(Null()), nil
	case tok.kind == tokIdent && tok.lit == "undefined":
		p.next()
		return constRef(Undefined()), nil
	case tok.kind == tokIdent:
		p.next()
		name := tok.lit
		return identRef(name), nil
	case p.isPunct("("):
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isPunct("["):
		p.next()
		var elems []*ref
		for !p.isPunct("]") {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
			if p.isPunct(",") {
				p.next()
			}
		}
		p.next() // ']'
		return &ref{eval: func(r *Runner) (Operation, error) {
			arr := NewArray(&r.Context().Mu)
			for i, e := range elems {
				v, err := e.eval(r)
				if err != nil {
					return Operation{}, err
				}
				arr.Assign(itoa(int64(i)), v)
			}
			return Obj(arr), nil
		}}, nil
	case p.isPunct("{"):
		p.next()
		type kv struct {
			key string
			val *ref
		}
		var pairs []kv
		for !p.isPunct("}") {
			var key string
			switch p.cur().kind {
			case tokIdent, tokString:
				key = p.next().lit
			default:
				return nil, p.errorf("expected object key")
			}
			if err := p.expectPunct(":"); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, kv{key: key, val: v})
			if p.isPunct(",") {
				p.next()
			}
		}
		p.next() // '}'
		return &ref{eval: func(r *Runner) (Operation, error) {
			obj := NewObject(&r.Context().Mu)
			for _, e := range pairs {
				v, err := e.val.eval(r)
				if err != nil {
					return Operation{}, err
				}
				obj.Assign(e.key, v)
			}
			return Obj(obj), nil
		}}, nil
	default:
		return nil, p.errorf("unexpected token %q", tok.lit)
	}
}

func constRef(v Operation) *ref {
	return &ref{eval: func(r *Runner) (Operation, error) { return v, nil }}
}

func identRef(name string) *ref {
	return &ref{
		eval: func(r *Runner) (Operation, error) {
			v, ok, err := r.Context().Get(name)
			if err != nil {
				return Operation{}, err
			}
			if !ok {
				return Undefined(), nil
			}
			return v, nil
		},
		assign: func(r *Runner, val Operation) error {
			return r.Context().Set(name, val)
		},
		call: func(r *Runner, args []Operation) (Operation, error) {
			v, ok, err := r.Context().Get(name)
			if err != nil {
				return Operation{}, err
			}
			if !ok {
				return Undefined(), eris.Errorf("call to undefined function %q", name)
			}
			fn := v.Function()
			if fn == nil {
				return Undefined(), eris.Errorf("%q is not a function", name)
			}
			return r.CallFunc(fn, args)
		},
	}
}

// evalBinOp implements the script language's loosely-typed binary
// operators: string concatenation when either side is a string,
// otherwise 64-bit integer arithmetic, matching operation
// Kind set (no floating-point variant).
func evalBinOp(op string, lv, rv Operation) Operation {
	switch op {
	case "+":
		if lv.Kind == KindString || rv.Kind == KindString {
			return String(lv.Str() + rv.Str())
		}
		if li, lok := lv.Int64(); lok {
			if ri, rok := rv.Int64(); rok {
				return Int(li + ri)
			}
		}
		return String(lv.Str() + rv.Str())
	case "-", "*", "/", "%":
		li, _ := lv.Int64()
		ri, _ := rv.Int64()
		switch op {
		case "-":
			return Int(li - ri)
		case "*":
			return Int(li * ri)
		case "/":
			if ri == 0 {
				return NaN()
			}
			return Int(li / ri)
		default:
			if ri == 0 {
				return NaN()
			}
			return Int(li % ri)
		}
	case "==":
		return Bool(looseEqual(lv, rv))
	case "!=":
		return Bool(!looseEqual(lv, rv))
	default:
		return Bool(compareOp(op, lv, rv))
	}
}

func looseEqual(a, b Operation) bool {
	if a.IsMissing() && b.IsMissing() {
		return true
	}
	if a.Kind == KindInt || b.Kind == KindInt {
		if ai, aok := a.Int64(); aok {
			if bi, bok := b.Int64(); bok {
				return ai == bi
			}
		}
	}
	return a.Str() == b.Str()
}

func compareOp(op string, a, b Operation) bool {
	if ai, aok := a.Int64(); aok {
		if bi, bok := b.Int64(); bok {
			switch op {
			case "<":
				return ai < bi
			case "<=":
				return ai <= bi
			case ">":
				return ai > bi
			default:
				return ai >= bi
			}
		}
	}
	as, bs := a.Str(), b.Str()
	switch op {
	case "<":
		return as < bs
	case "<=":
		return as <= bs
	case ">":
		return as > bs
	default:
		return as >= bs
	}
}
