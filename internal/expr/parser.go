package expr

import (
	"fmt"
	"strconv"
)

type node interface{ pos() int }

type (
	litNode struct {
		p   int
		val any
	}
	nameNode struct {
		p    int
		name string
	}
	listNode struct {
		p     int
		elems []node
	}
	unaryNode struct {
		p  int
		op string // "not", "-", "+"
		x  node
	}
	boolNode struct {
		p    int
		op   string // "and", "or"
		l, r node
	}
	binNode struct {
		p    int
		op   string
		l, r node
	}
	// compareNode is a comparison chain a op1 b op2 c.
	compareNode struct {
		p     int
		first node
		ops   []string
		rest  []node
	}
	condNode struct {
		p                 int
		cond, then, else_ node
	}
	indexNode struct {
		p      int
		x, idx node
	}
	callNode struct {
		p    int
		name string
		args []node
	}
	methodNode struct {
		p    int
		recv node
		name string
		args []node
	}
)

func (n *litNode) pos() int     { return n.p }
func (n *nameNode) pos() int    { return n.p }
func (n *listNode) pos() int    { return n.p }
func (n *unaryNode) pos() int   { return n.p }
func (n *boolNode) pos() int    { return n.p }
func (n *binNode) pos() int     { return n.p }
func (n *compareNode) pos() int { return n.p }
func (n *condNode) pos() int    { return n.p }
func (n *indexNode) pos() int   { return n.p }
func (n *callNode) pos() int    { return n.p }
func (n *methodNode) pos() int  { return n.p }

type parser struct {
	toks []token
	i    int
}

func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	n, err := p.expression()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == text
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokName && t.text == kw
}

func (p *parser) expect(text string) error {
	if !p.isOp(text) {
		t := p.peek()
		return &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("expected %q", text)}
	}
	p.next()
	return nil
}

func (p *parser) expression() (node, error) {
	n, err := p.orTest()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return n, nil
	}
	t := p.next()
	cond, err := p.orTest()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		return nil, &SyntaxError{Pos: p.peek().pos, Msg: "expected 'else'"}
	}
	p.next()
	alt, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &condNode{p: t.pos, cond: cond, then: n, else_: alt}, nil
}

func (p *parser) orTest() (node, error) {
	l, err := p.andTest()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		t := p.next()
		r, err := p.andTest()
		if err != nil {
			return nil, err
		}
		l = &boolNode{p: t.pos, op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *parser) andTest() (node, error) {
	l, err := p.notTest()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		t := p.next()
		r, err := p.notTest()
		if err != nil {
			return nil, err
		}
		l = &boolNode{p: t.pos, op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *parser) notTest() (node, error) {
	if p.isKeyword("not") {
		t := p.next()
		x, err := p.notTest()
		if err != nil {
			return nil, err
		}
		return &unaryNode{p: t.pos, op: "not", x: x}, nil
	}
	return p.comparison()
}

func (p *parser) compOp() (string, bool) {
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			return t.text, true
		}
		return "", false
	}
	if t.kind != tokName {
		return "", false
	}
	switch t.text {
	case "in":
		p.next()
		return "in", true
	case "is":
		p.next()
		if p.isKeyword("not") {
			p.next()
			return "is not", true
		}
		return "is", true
	case "not":
		if n := p.toks[p.i+1]; n.kind == tokName && n.text == "in" {
			p.i += 2
			return "not in", true
		}
	}
	return "", false
}

func (p *parser) comparison() (node, error) {
	first, err := p.arith()
	if err != nil {
		return nil, err
	}
	c := &compareNode{p: first.pos(), first: first}
	for {
		op, ok := p.compOp()
		if !ok {
			break
		}
		r, err := p.arith()
		if err != nil {
			return nil, err
		}
		c.ops = append(c.ops, op)
		c.rest = append(c.rest, r)
	}
	if len(c.ops) == 0 {
		return first, nil
	}
	return c, nil
}

func (p *parser) arith() (node, error) {
	l, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		t := p.next()
		r, err := p.term()
		if err != nil {
			return nil, err
		}
		l = &binNode{p: t.pos, op: t.text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) term() (node, error) {
	l, err := p.factor()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("%") || p.isOp("//") {
		t := p.next()
		r, err := p.factor()
		if err != nil {
			return nil, err
		}
		l = &binNode{p: t.pos, op: t.text, l: l, r: r}
	}
	return l, nil
}

func (p *parser) factor() (node, error) {
	if p.isOp("-") || p.isOp("+") {
		t := p.next()
		x, err := p.factor()
		if err != nil {
			return nil, err
		}
		return &unaryNode{p: t.pos, op: t.text, x: x}, nil
	}
	return p.postfix()
}

func (p *parser) postfix() (node, error) {
	x, err := p.atom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isOp("["):
			t := p.next()
			idx, err := p.expression()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			x = &indexNode{p: t.pos, x: x, idx: idx}
		case p.isOp("("):
			name, ok := x.(*nameNode)
			if !ok {
				return nil, &SyntaxError{Pos: p.peek().pos, Msg: "only named functions can be called"}
			}
			p.next()
			args, err := p.exprList(")")
			if err != nil {
				return nil, err
			}
			x = &callNode{p: name.p, name: name.name, args: args}
		case p.isOp("."):
			t := p.next()
			m := p.next()
			if m.kind != tokName {
				return nil, &SyntaxError{Pos: m.pos, Msg: "expected method name"}
			}
			if !p.isOp("(") {
				return nil, &SyntaxError{Pos: t.pos, Msg: "attribute access is not supported"}
			}
			p.next()
			args, err := p.exprList(")")
			if err != nil {
				return nil, err
			}
			x = &methodNode{p: t.pos, recv: x, name: m.text, args: args}
		default:
			return x, nil
		}
	}
}

// exprList parses comma separated expressions up to and including closer.
// A trailing comma is accepted.
func (p *parser) exprList(closer string) ([]node, error) {
	var out []node
	for !p.isOp(closer) {
		n, err := p.expression()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	if err := p.expect(closer); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *parser) atom() (node, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "malformed integer"}
		}
		return &litNode{p: t.pos, val: v}, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "malformed float"}
		}
		return &litNode{p: t.pos, val: v}, nil
	case tokString:
		s := t.text
		// adjacent literals concatenate
		for p.peek().kind == tokString {
			s += p.next().text
		}
		return &litNode{p: t.pos, val: s}, nil
	case tokName:
		switch t.text {
		case "True":
			return &litNode{p: t.pos, val: true}, nil
		case "False":
			return &litNode{p: t.pos, val: false}, nil
		case "None":
			return &litNode{p: t.pos, val: nil}, nil
		case "and", "or", "not", "in", "is", "if", "else":
			return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected keyword %q", t.text)}
		}
		return &nameNode{p: t.pos, name: t.text}, nil
	case tokOp:
		switch t.text {
		case "(":
			if p.isOp(")") {
				p.next()
				return &listNode{p: t.pos}, nil
			}
			first, err := p.expression()
			if err != nil {
				return nil, err
			}
			if p.isOp(")") {
				p.next()
				return first, nil
			}
			if err := p.expect(","); err != nil {
				return nil, err
			}
			rest, err := p.exprList(")")
			if err != nil {
				return nil, err
			}
			return &listNode{p: t.pos, elems: append([]node{first}, rest...)}, nil
		case "[":
			elems, err := p.exprList("]")
			if err != nil {
				return nil, err
			}
			return &listNode{p: t.pos, elems: elems}, nil
		}
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of expression"}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
}
