package expr

import (
	"math"
	"strings"
)

func eval(n node, env Env) (any, error) {
	switch n := n.(type) {
	case *litNode:
		return n.val, nil
	case *nameNode:
		v, ok := env.Lookup(n.name)
		if !ok {
			return nil, evalErr(n, "name '%s' is not defined", n.name)
		}
		return Normalize(v), nil
	case *listNode:
		out := make([]any, 0, len(n.elems))
		for _, e := range n.elems {
			v, err := eval(e, env)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *unaryNode:
		x, err := eval(n.x, env)
		if err != nil {
			return nil, err
		}
		return unary(n, x)
	case *boolNode:
		l, err := eval(n.l, env)
		if err != nil {
			return nil, err
		}
		if n.op == "and" && !Truthy(l) || n.op == "or" && Truthy(l) {
			return l, nil
		}
		return eval(n.r, env)
	case *binNode:
		l, err := eval(n.l, env)
		if err != nil {
			return nil, err
		}
		r, err := eval(n.r, env)
		if err != nil {
			return nil, err
		}
		return binary(n, l, r)
	case *compareNode:
		l, err := eval(n.first, env)
		if err != nil {
			return nil, err
		}
		for i, op := range n.ops {
			r, err := eval(n.rest[i], env)
			if err != nil {
				return nil, err
			}
			ok, err := compare(n.rest[i], op, l, r)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			l = r
		}
		return true, nil
	case *condNode:
		c, err := eval(n.cond, env)
		if err != nil {
			return nil, err
		}
		if Truthy(c) {
			return eval(n.then, env)
		}
		return eval(n.else_, env)
	case *indexNode:
		x, err := eval(n.x, env)
		if err != nil {
			return nil, err
		}
		idx, err := eval(n.idx, env)
		if err != nil {
			return nil, err
		}
		return index(n, x, idx)
	case *callNode:
		args, err := evalArgs(n.args, env)
		if err != nil {
			return nil, err
		}
		return callBuiltin(n, args)
	case *methodNode:
		recv, err := eval(n.recv, env)
		if err != nil {
			return nil, err
		}
		args, err := evalArgs(n.args, env)
		if err != nil {
			return nil, err
		}
		return callMethod(n, recv, args)
	}
	return nil, &EvalError{Msg: "unknown node"}
}

func evalArgs(nodes []node, env Env) ([]any, error) {
	out := make([]any, len(nodes))
	for i, a := range nodes {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func unary(n *unaryNode, x any) (any, error) {
	switch n.op {
	case "not":
		return !Truthy(x), nil
	case "-":
		switch t := x.(type) {
		case int64:
			return -t, nil
		case float64:
			return -t, nil
		case bool:
			if t {
				return int64(-1), nil
			}
			return int64(0), nil
		}
	case "+":
		if _, _, ok := number(x); ok {
			return x, nil
		}
	}
	return nil, evalErr(n, "bad operand type for unary %s: '%s'", n.op, typeName(x))
}

func binary(n *binNode, l, r any) (any, error) {
	switch n.op {
	case "+":
		switch x := l.(type) {
		case string:
			if y, ok := r.(string); ok {
				return x + y, nil
			}
		case []any:
			if y, ok := r.([]any); ok {
				out := make([]any, 0, len(x)+len(y))
				return append(append(out, x...), y...), nil
			}
		}
	case "*":
		if s, ok := l.(string); ok {
			if k, ok := r.(int64); ok {
				if k < 0 {
					k = 0
				}
				return strings.Repeat(s, int(k)), nil
			}
		}
	}
	fl, li, lok := number(l)
	fr, ri, rok := number(r)
	if !lok || !rok {
		return nil, evalErr(n, "unsupported operand type(s) for %s: '%s' and '%s'", n.op, typeName(l), typeName(r))
	}
	ints := li && ri
	switch n.op {
	case "+":
		if ints {
			return int64(fl) + int64(fr), nil
		}
		return fl + fr, nil
	case "-":
		if ints {
			return int64(fl) - int64(fr), nil
		}
		return fl - fr, nil
	case "*":
		if ints {
			return int64(fl) * int64(fr), nil
		}
		return fl * fr, nil
	case "/":
		if fr == 0 {
			return nil, evalErr(n, "division by zero")
		}
		return fl / fr, nil
	case "//":
		if fr == 0 {
			return nil, evalErr(n, "division by zero")
		}
		if ints {
			return floorDiv(int64(fl), int64(fr)), nil
		}
		return math.Floor(fl / fr), nil
	case "%":
		if fr == 0 {
			return nil, evalErr(n, "modulo by zero")
		}
		if ints {
			a, b := int64(fl), int64(fr)
			return a - floorDiv(a, b)*b, nil
		}
		return fl - math.Floor(fl/fr)*fr, nil
	}
	return nil, evalErr(n, "unsupported operator %s", n.op)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func compare(n node, op string, l, r any) (bool, error) {
	switch op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "is":
		return identical(l, r), nil
	case "is not":
		return !identical(l, r), nil
	case "in", "not in":
		ok, err := member(n, l, r)
		if err != nil {
			return false, err
		}
		if op == "not in" {
			return !ok, nil
		}
		return ok, nil
	}
	c, ok := order(l, r)
	if !ok {
		return false, evalErr(n, "'%s' not supported between instances of '%s' and '%s'", op, typeName(l), typeName(r))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, evalErr(n, "unsupported comparison %s", op)
}

// identical approximates Python identity for the immutable value set.
func identical(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	switch x := l.(type) {
	case bool:
		y, ok := r.(bool)
		return ok && x == y
	case []any, map[string]any:
		return false
	}
	return typeName(l) == typeName(r) && equal(l, r)
}

func member(n node, item, container any) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, evalErr(n, "'in <string>' requires string as left operand, not %s", typeName(item))
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, e := range c {
			if equal(item, e) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		k, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, found := c[k]
		return found, nil
	}
	return false, evalErr(n, "argument of type '%s' is not iterable", typeName(container))
}

func index(n node, x, idx any) (any, error) {
	switch c := x.(type) {
	case []any:
		i, err := position(n, idx, len(c))
		if err != nil {
			return nil, err
		}
		return c[i], nil
	case string:
		r := []rune(c)
		i, err := position(n, idx, len(r))
		if err != nil {
			return nil, err
		}
		return string(r[i]), nil
	case map[string]any:
		k, ok := idx.(string)
		if !ok {
			return nil, evalErr(n, "dict keys are strings, got %s", typeName(idx))
		}
		v, ok := c[k]
		if !ok {
			return nil, evalErr(n, "key %s not found", Repr(k))
		}
		return Normalize(v), nil
	}
	return nil, evalErr(n, "'%s' object is not subscriptable", typeName(x))
}

func position(n node, idx any, length int) (int, error) {
	i, ok := idx.(int64)
	if !ok {
		return 0, evalErr(n, "indices must be integers, not %s", typeName(idx))
	}
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return 0, evalErr(n, "index out of range")
	}
	return int(i), nil
}
