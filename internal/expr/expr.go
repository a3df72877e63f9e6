// Package expr compiles and evaluates filter expressions. The language is a
// small Python-flavoured subset: literals, names, boolean logic, chained
// comparisons, membership, arithmetic, indexing, a few whitelisted
// functions and string/list methods. Values are nil, bool, int64, float64,
// string, []any and map[string]any.
package expr

import (
	"fmt"
	"sync"
)

// Env resolves names during evaluation.
type Env interface {
	Lookup(name string) (any, bool)
}

// MapEnv is an Env backed by a map.
type MapEnv map[string]any

// Lookup implements Env.
func (m MapEnv) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// EvalError is a runtime failure: unknown name, type mismatch or division by
// zero.
type EvalError struct {
	Pos int
	Msg string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluation error at %d: %s", e.Pos, e.Msg)
}

func evalErr(n node, format string, args ...any) *EvalError {
	return &EvalError{Pos: n.pos(), Msg: fmt.Sprintf(format, args...)}
}

// Program is a compiled expression. It is safe for concurrent use.
type Program struct {
	src  string
	root node
}

// Source returns the expression text.
func (p *Program) Source() string { return p.src }

var cache sync.Map // string → *Program

// Compile parses src, reusing a previously compiled program for the same
// text. Calls of functions or methods outside the built-in set are syntax
// errors. Syntax errors are not cached.
func Compile(src string) (*Program, error) {
	if p, ok := cache.Load(src); ok {
		return p.(*Program), nil
	}
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	if err := checkCalls(root); err != nil {
		return nil, err
	}
	p := &Program{src: src, root: root}
	cache.Store(src, p)
	return p, nil
}

// Eval evaluates the program against env.
func (p *Program) Eval(env Env) (any, error) {
	return eval(p.root, env)
}

// EvalBool evaluates the program and applies truthiness.
func (p *Program) EvalBool(env Env) (bool, error) {
	v, err := p.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Eval compiles and evaluates src in one step.
func Eval(src string, env Env) (any, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Eval(env)
}
