// Package filter selects needs with filter expressions. Each record is
// evaluated against a context built from its fields, the configured
// filter_data and the need that hosts the filter.
package filter

import (
	"github.com/starford/tiwaz/internal/expr"
	"github.com/starford/tiwaz/internal/need"
)

// Context is the name scope a filter expression sees for one record.
type Context struct {
	Need    *need.Need
	Data    map[string]any
	Current *need.Need
	// Extra names take precedence over everything else.
	Extra map[string]any
}

var _ expr.Env = Context{}

// Lookup implements expr.Env. filter_data overrides record fields of the
// same name.
func (c Context) Lookup(name string) (any, bool) {
	if v, ok := c.Extra[name]; ok {
		return v, true
	}
	if name == "current_need" {
		if c.Current == nil {
			return nil, true
		}
		return c.Current.Map(), true
	}
	if v, ok := c.Data[name]; ok {
		return v, true
	}
	if c.Need != nil {
		if v, ok := c.Need.Field(name); ok {
			return v, true
		}
	}
	return nil, false
}
