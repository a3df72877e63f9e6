// Package variant resolves conditional field values of the form
// "name:value, [expr]:value, fallback".
package variant

import (
	"fmt"
	"strings"

	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

// Rule pairs a condition with a value. Bracketed conditions are always
// expressions; bare ones may name a configured variant.
type Rule struct {
	Cond      string
	Bracketed bool
	Value     string
}

// List is a parsed variant value.
type List struct {
	Rules       []Rule
	Fallback    string
	HasFallback bool
}

// ParseError reports a malformed variant value.
type ParseError struct {
	Value string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("variant: %s in %q", e.Msg, e.Value)
}

// Parse splits value on top-level "," and ";" and reads each entry as a
// rule or, for the last entry only, a bare fallback. A value without any
// rule yields a List with no rules.
func Parse(value string) (*List, error) {
	entries, err := splitTopLevel(value)
	if err != nil {
		return nil, err
	}
	l := &List{}
	for i, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "[") {
			end := strings.LastIndex(e, "]")
			if end < 0 || end+1 >= len(e) || e[end+1] != ':' {
				return nil, &ParseError{Value: value, Msg: fmt.Sprintf("expected ']:' in %q", e)}
			}
			l.Rules = append(l.Rules, Rule{
				Cond:      strings.TrimSpace(e[1:end]),
				Bracketed: true,
				Value:     strings.TrimSpace(e[end+2:]),
			})
			continue
		}
		if c := strings.Index(e, ":"); c > 0 {
			l.Rules = append(l.Rules, Rule{Cond: strings.TrimSpace(e[:c]), Value: strings.TrimSpace(e[c+1:])})
			continue
		}
		if i != len(entries)-1 {
			return nil, &ParseError{Value: value, Msg: fmt.Sprintf("fallback %q must be the last entry", e)}
		}
		l.Fallback, l.HasFallback = e, true
	}
	return l, nil
}

func splitTopLevel(value string) ([]string, error) {
	var out []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return nil, &ParseError{Value: value, Msg: "unbalanced ']'"}
			}
		case (c == ',' || c == ';') && depth == 0:
			out = append(out, value[start:i])
			start = i + 1
		}
	}
	if depth != 0 {
		return nil, &ParseError{Value: value, Msg: "unbalanced '['"}
	}
	return append(out, value[start:]), nil
}

// Resolver substitutes variant values on the configured fields.
type Resolver struct {
	Variants map[string]string
	Options  []string
	// Context binds extra names for conditions, e.g. build tags.
	Context  map[string]any
	Filter   *filter.Filter
	Reporter *diag.Reporter
}

// ResolveAll resolves every configured field of every need.
func (r *Resolver) ResolveAll(s *store.Store) {
	for _, n := range s.Values() {
		for _, field := range r.Options {
			r.resolveField(n, field)
		}
	}
}

func (r *Resolver) resolveField(n *need.Need, field string) {
	if n.FieldKind(field) == need.KindUnknown {
		return
	}
	raw := n.StringField(field)
	if raw == "" {
		return
	}
	l, err := Parse(raw)
	if err != nil {
		r.warn(n, fmt.Sprintf("%s: %v", field, err))
		return
	}
	if len(l.Rules) == 0 {
		return
	}
	v, ok := r.Select(n, l)
	if !ok {
		r.warn(n, fmt.Sprintf("no variant of %s %q matched and no fallback is set", field, raw))
		return
	}
	if err := n.SetField(field, v); err != nil {
		r.warn(n, fmt.Sprintf("%s: %v", field, err))
	}
}

// Select picks the value of the first rule whose condition holds for n,
// or the fallback. Conditions that fail to evaluate count as false.
func (r *Resolver) Select(n *need.Need, l *List) (string, bool) {
	for _, rule := range l.Rules {
		cond := rule.Cond
		if !rule.Bracketed {
			if mapped, ok := r.Variants[cond]; ok {
				cond = mapped
			}
		}
		ok, err := r.Filter.SingleWith(n, cond, r.Context)
		if err == nil && ok {
			return rule.Value, true
		}
	}
	if l.HasFallback {
		return l.Fallback, true
	}
	return "", false
}

func (r *Resolver) warn(n *need.Need, msg string) {
	r.Reporter.Warn(diag.Warning{Kind: diag.KindVariant, NeedID: n.ID, DocName: n.DocName, Line: n.LineNo, Message: msg})
}
