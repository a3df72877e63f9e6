package filter

import (
	"github.com/starford/tiwaz/internal/need"
)

// Spec is a full filter request: list shortcuts ANDed with an expression.
// An empty list places no restriction.
type Spec struct {
	Status []string `yaml:"status" json:"status,omitempty"`
	Tags   []string `yaml:"tags" json:"tags,omitempty"`
	Types  []string `yaml:"types" json:"types,omitempty"`
	Filter string   `yaml:"filter" json:"filter,omitempty"`
	SortBy string   `yaml:"sort_by" json:"sort_by,omitempty"`
}

// Empty reports whether s selects everything.
func (s Spec) Empty() bool {
	return len(s.Status) == 0 && len(s.Tags) == 0 && len(s.Types) == 0 && s.Filter == ""
}

func (s Spec) admits(n *need.Need) bool {
	if len(s.Status) > 0 && !need.Contains(s.Status, n.StatusValue()) {
		return false
	}
	if len(s.Types) > 0 && !need.Contains(s.Types, n.Type) && !need.Contains(s.Types, n.TypeName) {
		return false
	}
	if len(s.Tags) > 0 {
		hit := false
		for _, t := range s.Tags {
			if need.Contains(n.Tags, t) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// Apply narrows values by the list shortcuts, then by the expression.
func (f *Filter) Apply(values []*need.Need, s Spec, opts Options) ([]*need.Need, error) {
	pre := make([]*need.Need, 0, len(values))
	for _, n := range values {
		if s.admits(n) {
			pre = append(pre, n)
		}
	}
	if opts.SortBy == "" {
		opts.SortBy = s.SortBy
	}
	return f.Needs(pre, s.Filter, opts)
}
