package dynfunc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/expr"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

// skipped fields are never scanned for fragments.
var skipped = map[string]bool{
	"id": true, "docname": true, "lineno": true, "type": true, "content": true,
}

// Resolver replaces fragments in every need of a store.
type Resolver struct {
	Registry *Registry
	Filter   *filter.Filter
	Reporter *diag.Reporter
}

// ResolveAll resolves every dynamic-capable field of every need. A field
// whose resolution fails is reported and left as it was.
func (r *Resolver) ResolveAll(s *store.Store) {
	for _, n := range s.Values() {
		r.ResolveNeed(s, n)
	}
}

// ResolveNeed resolves the fields of one need.
func (r *Resolver) ResolveNeed(s store.View, n *need.Need) {
	c := Call{Store: s, Need: n, Filter: r.Filter}
	for _, name := range fieldNames(n) {
		if err := r.resolveField(c, n, name); err != nil {
			r.Reporter.Warn(diag.Warning{
				Kind:    diag.KindDynFunc,
				NeedID:  n.ID,
				DocName: n.DocName,
				Line:    n.LineNo,
				Message: fmt.Sprintf("%s: %v", name, err),
			})
		}
	}
}

func fieldNames(n *need.Need) []string {
	names := make([]string, 0, len(n.Extra)+len(n.Links)+8)
	for _, f := range need.CoreFields() {
		if skipped[f] {
			continue
		}
		names = append(names, f)
	}
	names = append(names, need.SortedKeys(n.Extra)...)
	names = append(names, need.SortedKeys(n.Links)...)
	return names
}

func (r *Resolver) resolveField(c Call, n *need.Need, name string) error {
	switch n.FieldKind(name) {
	case need.KindString, need.KindNullableString:
		v := n.StringField(name)
		if !HasCall(v) {
			return nil
		}
		out, err := r.resolveString(c, v)
		if err != nil {
			return err
		}
		return n.SetField(name, out)
	case need.KindList, need.KindLink:
		list, _ := n.ListField(name)
		if !anyCall(list) {
			return nil
		}
		out, err := r.resolveList(c, list)
		if err != nil {
			return err
		}
		return n.SetField(name, out)
	}
	return nil
}

func anyCall(list []string) bool {
	for _, e := range list {
		if HasCall(e) {
			return true
		}
	}
	return false
}

func (r *Resolver) invoke(c Call, seg Segment) (any, error) {
	fn, ok := r.Registry.Lookup(seg.Call.Name)
	if !ok {
		return nil, fmt.Errorf("unknown dynamic function %s", seg.Call.Name)
	}
	return fn(c, seg.Call.Args, seg.Call.Kwargs)
}

func (r *Resolver) resolveString(c Call, v string) (string, error) {
	segs, err := Parse(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, seg := range segs {
		if !seg.IsCall() {
			b.WriteString(seg.Text)
			continue
		}
		res, err := r.invoke(c, seg)
		if err != nil {
			return "", err
		}
		b.WriteString(render(res))
	}
	return b.String(), nil
}

// resolveList resolves each element. An element made of a single fragment
// splices a list result into the list; nil results drop the element.
func (r *Resolver) resolveList(c Call, list []string) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, e := range list {
		if !HasCall(e) {
			out = append(out, e)
			continue
		}
		segs, err := Parse(e)
		if err != nil {
			return nil, err
		}
		if len(segs) == 1 && segs[0].IsCall() {
			res, err := r.invoke(c, segs[0])
			if err != nil {
				return nil, err
			}
			out = appendResult(out, res)
			continue
		}
		s, err := r.resolveString(c, e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func appendResult(out []string, res any) []string {
	switch t := res.(type) {
	case nil:
		return out
	case []string:
		for _, s := range t {
			out, _ = need.AppendUnique(out, s)
		}
		return out
	case []any:
		for _, e := range t {
			out, _ = need.AppendUnique(out, render(e))
		}
		return out
	}
	s := render(res)
	if s == "" {
		return out
	}
	out, _ = need.AppendUnique(out, s)
	return out
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case float64:
		return expr.Repr(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, ", ")
	}
	n := expr.Normalize(v)
	if l, ok := n.([]any); ok {
		parts := make([]string, len(l))
		for i, e := range l {
			parts[i] = render(e)
		}
		return strings.Join(parts, ", ")
	}
	return expr.Str(n)
}
