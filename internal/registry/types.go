package registry

import (
	"fmt"

	"github.com/starford/tiwaz/internal/apperr"
)

// Type is a resolved need type.
type Type struct {
	Directive string
	Title     string
	Prefix    string
	Color     string
	Style     string
}

// TypeTable maps directive names to types. It is resolved once from the
// configuration; new types are appended through Register.
type TypeTable struct {
	order []string
	types map[string]Type
}

// NewTypeTable resolves the configured type declarations.
func NewTypeTable(decls []TypeConfig) (*TypeTable, error) {
	t := &TypeTable{types: make(map[string]Type, len(decls))}
	for _, d := range decls {
		if err := t.Register(Type(d)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register appends a type. A directive may only be registered once.
func (t *TypeTable) Register(tp Type) error {
	if tp.Directive == "" {
		return fmt.Errorf("%w: type directive is empty", apperr.ErrConfig)
	}
	if _, dup := t.types[tp.Directive]; dup {
		return fmt.Errorf("%w: type %q already registered", apperr.ErrConfig, tp.Directive)
	}
	if tp.Title == "" {
		tp.Title = tp.Directive
	}
	t.types[tp.Directive] = tp
	t.order = append(t.order, tp.Directive)
	return nil
}

// Lookup returns the type for directive.
func (t *TypeTable) Lookup(directive string) (Type, bool) {
	tp, ok := t.types[directive]
	return tp, ok
}

// All returns the types in registration order.
func (t *TypeTable) All() []Type {
	out := make([]Type, len(t.order))
	for i, d := range t.order {
		out[i] = t.types[d]
	}
	return out
}
