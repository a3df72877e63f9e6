package expr

import (
	"fmt"
	"strconv"
)

// CallSpec is a parsed function invocation with literal arguments.
type CallSpec struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

// ParseCall parses "name(arg, key=value, ...)". Arguments are literals:
// strings, numbers, True/False/None and lists or tuples of those. A bare
// name argument stands for its own spelling.
func ParseCall(src string) (*CallSpec, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	name := p.next()
	if name.kind != tokName {
		return nil, &SyntaxError{Pos: name.pos, Msg: "expected function name"}
	}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	c := &CallSpec{Name: name.text, Kwargs: map[string]any{}}
	for !p.isOp(")") {
		if t := p.peek(); t.kind == tokName && p.toks[p.i+1].kind == tokOp && p.toks[p.i+1].text == "=" {
			p.i += 2
			v, err := p.literal()
			if err != nil {
				return nil, err
			}
			c.Kwargs[t.text] = v
		} else {
			if len(c.Kwargs) > 0 {
				return nil, &SyntaxError{Pos: t.pos, Msg: "positional argument follows keyword argument"}
			}
			v, err := p.literal()
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, v)
		}
		if !p.isOp(",") {
			break
		}
		p.next()
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q after call", t.text)}
	}
	return c, nil
}

func (p *parser) literal() (any, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		s := t.text
		for p.peek().kind == tokString {
			s += p.next().text
		}
		return s, nil
	case tokInt:
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "malformed integer"}
		}
		return v, nil
	case tokFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "malformed float"}
		}
		return v, nil
	case tokName:
		switch t.text {
		case "True":
			return true, nil
		case "False":
			return false, nil
		case "None":
			return nil, nil
		}
		return t.text, nil
	case tokOp:
		switch t.text {
		case "-":
			v, err := p.literal()
			if err != nil {
				return nil, err
			}
			switch n := v.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
			return nil, &SyntaxError{Pos: t.pos, Msg: "unary minus needs a number"}
		case "[", "(":
			closer := "]"
			if t.text == "(" {
				closer = ")"
			}
			var out []any
			for !p.isOp(closer) {
				v, err := p.literal()
				if err != nil {
					return nil, err
				}
				out = append(out, v)
				if !p.isOp(",") {
					break
				}
				p.next()
			}
			if err := p.expect(closer); err != nil {
				return nil, err
			}
			if out == nil {
				out = []any{}
			}
			return out, nil
		}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("argument must be a literal, got %q", t.text)}
}
