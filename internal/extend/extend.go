// Package extend applies needextend modifications to existing needs after
// the link graph has been built, keeping back links consistent.
package extend

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/dynfunc"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/ident"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

// Op is a modification operator.
type Op int

const (
	Set Op = iota
	Append
	Clear
)

// Modification changes one field.
type Modification struct {
	Field string
	Op    Op
	Value string
}

// ParseKey splits "+field" / "-field" / "field".
func ParseKey(key string) (string, Op) {
	switch {
	case strings.HasPrefix(key, "+"):
		return key[1:], Append
	case strings.HasPrefix(key, "-"):
		return key[1:], Clear
	}
	return key, Set
}

// Extend is one needextend directive.
type Extend struct {
	Target        string
	Modifications []Modification
	// Strict overrides the configured extend_strict when set.
	Strict  *bool
	DocName string
	LineNo  int
}

// Add appends a modification given in "+field: value" form.
func (x *Extend) Add(key, value string) {
	field, op := ParseKey(key)
	x.Modifications = append(x.Modifications, Modification{Field: field, Op: op, Value: value})
}

// Engine applies extends to a store.
type Engine struct {
	Store    *store.Store
	Filter   *filter.Filter
	Reporter *diag.Reporter
	// IDRegex classifies targets that look like ids.
	IDRegex *regexp.Regexp
	Strict  bool
}

func fullMatch(re *regexp.Regexp, s string) bool {
	if re == nil {
		return false
	}
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// ApplyAll applies extends in order and stops at the first fatal error.
func (e *Engine) ApplyAll(list []Extend) error {
	for _, x := range list {
		if err := e.Apply(x); err != nil {
			return err
		}
	}
	return nil
}

// Apply resolves the target of x and modifies every matched need.
func (e *Engine) Apply(x Extend) error {
	targets, err := e.targets(x)
	if err != nil {
		return err
	}
	for _, n := range targets {
		for _, m := range x.Modifications {
			e.modify(n, m, x)
		}
		n.Modifications++
		n.IsModified = true
	}
	return nil
}

func (e *Engine) targets(x Extend) ([]*need.Need, error) {
	target := strings.TrimSpace(x.Target)
	if n, ok := e.Store.Get(target); ok {
		return []*need.Need{n}, nil
	}
	if fullMatch(e.IDRegex, target) {
		strict := e.Strict
		if x.Strict != nil {
			strict = *x.Strict
		}
		msg := fmt.Sprintf("provided id %s for needextend does not exist", target)
		if strict {
			return nil, apperr.New(apperr.ErrExtendTarget, target, msg).At(x.DocName, x.LineNo)
		}
		e.warn(x, target, msg)
		return nil, nil
	}
	found, err := e.Filter.Needs(e.Store.Values(), target, filter.Options{Location: x.DocName})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (e *Engine) warn(x Extend, needID, msg string) {
	e.Reporter.Warn(diag.Warning{Kind: diag.KindExtend, NeedID: needID, DocName: x.DocName, Line: x.LineNo, Message: msg})
}

func (e *Engine) modify(n *need.Need, m Modification, x Extend) {
	kind := n.FieldKind(m.Field)
	switch kind {
	case need.KindUnknown, need.KindReadOnly, need.KindBack:
		e.warn(x, n.ID, fmt.Sprintf("needextend cannot modify option %s of need %s", m.Field, n.ID))
		return
	case need.KindLink:
		e.modifyLinks(n, m, x)
		return
	case need.KindList:
		cur, _ := n.ListField(m.Field)
		var next []string
		switch m.Op {
		case Append:
			next = append([]string{}, cur...)
			for _, v := range e.split(n, m.Value, x) {
				next, _ = need.AppendUnique(next, v)
			}
		case Clear:
			next = []string{}
		default:
			next = e.split(n, m.Value, x)
		}
		_ = n.SetField(m.Field, next)
		return
	}
	value := m.Value
	switch m.Op {
	case Append:
		if cur := n.StringField(m.Field); cur != "" {
			value = cur + " " + m.Value
		}
	case Clear:
		value = ""
	}
	if err := n.SetField(m.Field, value); err != nil {
		e.warn(x, n.ID, fmt.Sprintf("needextend: %v", err))
	}
}

func (e *Engine) split(n *need.Need, v string, x Extend) []string {
	items, warns := ident.SplitList(v)
	for _, w := range warns {
		e.Reporter.Warn(diag.Warning{Kind: diag.KindScruffy, NeedID: n.ID, DocName: x.DocName, Line: x.LineNo, Message: w})
	}
	return items
}

// modifyLinks changes a link category and mirrors the change in the target
// back lists. Unresolvable targets are skipped with a warning; dynamic
// function fragments are kept verbatim.
func (e *Engine) modifyLinks(n *need.Need, m Modification, x Extend) {
	cat := m.Field
	old := n.Links[cat]
	var next []string
	if m.Op == Append {
		next = append([]string{}, old...)
	}
	if m.Op != Clear {
		for _, ref := range e.split(n, m.Value, x) {
			if need.Contains(next, ref) {
				continue
			}
			if !dynfunc.HasCall(ref) && !links.Resolves(e.Store, ref) {
				e.warn(x, n.ID, fmt.Sprintf("needextend: link %s of need %s not found, skipped", ref, n.ID))
				continue
			}
			next = append(next, ref)
		}
	}
	if next == nil {
		next = []string{}
	}
	for _, ref := range old {
		if !need.Contains(next, ref) {
			links.RemoveBack(e.Store, cat, n.ID, ref)
		}
	}
	for _, ref := range next {
		links.AddBack(e.Store, cat, n.ID, ref)
	}
	n.Links[cat] = next
}
