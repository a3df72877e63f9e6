// Package need defines the need record, its sub-parts, and generic field
// access by name used by filters, dynamic functions, variants and export.
package need

import (
	"sort"
	"strings"
)

// Part is a named fragment inside a need's content. Its id is scoped to the
// parent and referenced as "parent.part".
type Part struct {
	ID      string              `json:"id"`
	Content string              `json:"content"`
	Links   map[string][]string `json:"-"`
	Back    map[string][]string `json:"-"`
}

// NewPart creates a part with empty link maps.
func NewPart(id, content string) *Part {
	return &Part{ID: id, Content: content, Links: map[string][]string{}, Back: map[string][]string{}}
}

// Need is a single structured record.
type Need struct {
	ID      string
	DocName string
	LineNo  int

	Type       string
	TypeName   string
	TypePrefix string
	TypeColor  string
	TypeStyle  string

	Title     string
	FullTitle string
	Status    *string
	Tags      []string
	Content   string

	Constraints        []string
	ConstraintsPassed  *bool
	ConstraintsResults map[string]map[string]bool

	Style       string
	Layout      string
	Hide        bool
	Collapse    bool
	ParentNeed  string
	SectionName string

	IsExternal  bool
	ExternalURL string
	IsImport    bool

	IsModified    bool
	Modifications int

	HasDeadLinks          bool
	HasForbiddenDeadLinks bool

	// Extra holds declared extra fields; undeclared names never appear.
	Extra map[string]string
	// Links and Back hold outgoing and incoming ids per link category.
	Links map[string][]string
	Back  map[string][]string

	Parts     map[string]*Part
	PartOrder []string
}

// New creates a need with every map initialized.
func New(id string) *Need {
	return &Need{
		ID:                 id,
		Extra:              map[string]string{},
		Links:              map[string][]string{},
		Back:               map[string][]string{},
		Parts:              map[string]*Part{},
		ConstraintsResults: map[string]map[string]bool{},
	}
}

// AddPart registers a sub-part; a repeated id replaces the content.
func (n *Need) AddPart(p *Part) {
	if _, ok := n.Parts[p.ID]; !ok {
		n.PartOrder = append(n.PartOrder, p.ID)
	}
	n.Parts[p.ID] = p
}

// OrderedParts returns the parts in declaration order.
func (n *Need) OrderedParts() []*Part {
	out := make([]*Part, 0, len(n.PartOrder))
	for _, id := range n.PartOrder {
		out = append(out, n.Parts[id])
	}
	return out
}

// StatusValue returns the status or "" when unset.
func (n *Need) StatusValue() string {
	if n.Status == nil {
		return ""
	}
	return *n.Status
}

// SplitID splits a reference "NEED.part" into its need and part ids.
func SplitID(ref string) (string, string) {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// Contains reports whether list holds v.
func Contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// AppendUnique appends v unless already present and reports whether it did.
func AppendUnique(list []string, v string) ([]string, bool) {
	if Contains(list, v) {
		return list, false
	}
	return append(list, v), true
}

// Remove deletes every occurrence of v.
func Remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy.
func (n *Need) Clone() *Need {
	c := *n
	if n.Status != nil {
		s := *n.Status
		c.Status = &s
	}
	if n.ConstraintsPassed != nil {
		b := *n.ConstraintsPassed
		c.ConstraintsPassed = &b
	}
	c.Tags = cloneList(n.Tags)
	c.Constraints = cloneList(n.Constraints)
	c.Extra = make(map[string]string, len(n.Extra))
	for k, v := range n.Extra {
		c.Extra[k] = v
	}
	c.Links = cloneLinks(n.Links)
	c.Back = cloneLinks(n.Back)
	c.ConstraintsResults = make(map[string]map[string]bool, len(n.ConstraintsResults))
	for k, res := range n.ConstraintsResults {
		m := make(map[string]bool, len(res))
		for rk, rv := range res {
			m[rk] = rv
		}
		c.ConstraintsResults[k] = m
	}
	c.Parts = make(map[string]*Part, len(n.Parts))
	for k, p := range n.Parts {
		c.Parts[k] = &Part{ID: p.ID, Content: p.Content, Links: cloneLinks(p.Links), Back: cloneLinks(p.Back)}
	}
	c.PartOrder = cloneList(n.PartOrder)
	return &c
}

func cloneList(l []string) []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l))
	copy(out, l)
	return out
}

func cloneLinks(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = cloneList(v)
	}
	return out
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
