package expr

import "fmt"

// builtinNames are the callable functions. Other calls are rejected at
// compile time.
var builtinNames = map[string]bool{
	"search": true, "len": true, "str": true, "int": true,
	"float": true, "bool": true, "lower": true, "upper": true,
}

// methodNames are the string and list methods.
var methodNames = map[string]bool{
	"startswith": true, "endswith": true, "lower": true, "upper": true,
	"strip": true, "split": true, "replace": true, "count": true, "index": true,
}

// checkCalls walks n and reports the first call of a name outside the
// allow-lists.
func checkCalls(n node) error {
	switch t := n.(type) {
	case *listNode:
		return checkAll(t.elems...)
	case *unaryNode:
		return checkCalls(t.x)
	case *boolNode:
		return checkAll(t.l, t.r)
	case *binNode:
		return checkAll(t.l, t.r)
	case *compareNode:
		if err := checkCalls(t.first); err != nil {
			return err
		}
		return checkAll(t.rest...)
	case *condNode:
		return checkAll(t.cond, t.then, t.else_)
	case *indexNode:
		return checkAll(t.x, t.idx)
	case *callNode:
		if !builtinNames[t.name] {
			return &SyntaxError{Pos: t.p, Msg: fmt.Sprintf("function %q is not allowed", t.name)}
		}
		return checkAll(t.args...)
	case *methodNode:
		if !methodNames[t.name] {
			return &SyntaxError{Pos: t.p, Msg: fmt.Sprintf("method %q is not allowed", t.name)}
		}
		if err := checkCalls(t.recv); err != nil {
			return err
		}
		return checkAll(t.args...)
	}
	return nil
}

func checkAll(nodes ...node) error {
	for _, n := range nodes {
		if err := checkCalls(n); err != nil {
			return err
		}
	}
	return nil
}
