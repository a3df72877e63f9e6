// Package links maintains the link graph between needs: incoming (back)
// lists, dead reference flags, tree traversal and a flat graph view.
package links

import (
	"fmt"

	"github.com/starford/tiwaz/internal/ident"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/store"
)

// ReadLinks normalizes a link option value given as a delimited string or a
// list. Warnings describe dropped or malformed entries.
func ReadLinks(v any) ([]string, []string) {
	switch t := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		return ident.SplitList(t)
	case []string:
		return ident.NormalizeList(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, fmt.Sprint(e))
		}
		return ident.NormalizeList(parts)
	default:
		return []string{}, []string{fmt.Sprintf("unsupported link value of type %T", v)}
	}
}

// BuildBackLinks fills the incoming list of category on every referenced
// record, and on the referenced part for "NEED.part" references. A source id
// is appended only when not already present, so running it twice changes
// nothing.
func BuildBackLinks(s *store.Store, category string) {
	for _, n := range s.Values() {
		for _, ref := range n.Links[category] {
			AddBack(s, category, n.ID, ref)
		}
	}
}

// AddBack records source as an incoming link of ref.
func AddBack(s store.View, category, source, ref string) {
	id, partID := need.SplitID(ref)
	target, ok := s.Get(id)
	if !ok {
		return
	}
	target.Back[category], _ = need.AppendUnique(target.Back[category], source)
	if partID == "" {
		return
	}
	if p, ok := target.Parts[partID]; ok {
		p.Back[category], _ = need.AppendUnique(p.Back[category], source)
	}
}

// RemoveBack drops source from the incoming list of ref.
func RemoveBack(s store.View, category, source, ref string) {
	id, partID := need.SplitID(ref)
	target, ok := s.Get(id)
	if !ok {
		return
	}
	target.Back[category] = need.Remove(target.Back[category], source)
	if p, ok := target.Parts[partID]; ok && partID != "" {
		p.Back[category] = need.Remove(p.Back[category], source)
	}
}

// DeadLink is an outgoing reference that does not resolve.
type DeadLink struct {
	Source    string
	Target    string
	Category  string
	Forbidden bool
	DocName   string
	LineNo    int
}

func (d DeadLink) String() string {
	return fmt.Sprintf("need '%s' has unknown outgoing link '%s' in field '%s'", d.Source, d.Target, d.Category)
}

// Resolves reports whether ref names an existing record (and part).
func Resolves(s store.View, ref string) bool {
	id, partID := need.SplitID(ref)
	target, ok := s.Get(id)
	if !ok {
		return false
	}
	if partID == "" {
		return true
	}
	_, ok = target.Parts[partID]
	return ok
}

// CheckDeadLinks flags records with unresolved outgoing references. Scanning
// a category stops at its first dead reference.
func CheckDeadLinks(s store.View, types []registry.LinkTypeConfig) []DeadLink {
	var out []DeadLink
	for _, n := range s.Values() {
		for _, lt := range types {
			for _, ref := range n.Links[lt.Option] {
				if Resolves(s, ref) {
					continue
				}
				n.HasDeadLinks = true
				if !lt.AllowDeadLinks {
					n.HasForbiddenDeadLinks = true
				}
				out = append(out, DeadLink{
					Source:    n.ID,
					Target:    ref,
					Category:  lt.Option,
					Forbidden: !lt.AllowDeadLinks,
					DocName:   n.DocName,
					LineNo:    n.LineNo,
				})
				break
			}
		}
	}
	return out
}
