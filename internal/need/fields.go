package need

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a field for generic access.
type Kind int

const (
	KindUnknown Kind = iota
	KindString
	KindNullableString
	KindList
	KindBool
	KindInt
	KindLink
	KindBack
	KindReadOnly
)

// BackSuffix marks the incoming list of a link category.
const BackSuffix = "_back"

// Core field names.
var coreKinds = map[string]Kind{
	"id":                       KindReadOnly,
	"docname":                  KindString,
	"lineno":                   KindInt,
	"type":                     KindReadOnly,
	"type_name":                KindString,
	"type_prefix":              KindString,
	"type_color":               KindString,
	"type_style":               KindString,
	"title":                    KindString,
	"full_title":               KindString,
	"status":                   KindNullableString,
	"tags":                     KindList,
	"content":                  KindString,
	"constraints":              KindList,
	"constraints_passed":       KindReadOnly,
	"constraints_results":      KindReadOnly,
	"style":                    KindString,
	"layout":                   KindString,
	"hide":                     KindBool,
	"collapse":                 KindBool,
	"parent_need":              KindString,
	"section_name":             KindString,
	"is_external":              KindBool,
	"external_url":             KindString,
	"is_import":                KindBool,
	"is_modified":              KindBool,
	"modifications":            KindInt,
	"has_dead_links":           KindBool,
	"has_forbidden_dead_links": KindBool,
	"parts":                    KindReadOnly,
	"is_need":                  KindReadOnly,
	"is_part":                  KindReadOnly,
}

// CoreFields returns the core field names in export order.
func CoreFields() []string {
	return []string{
		"id", "docname", "lineno", "type", "type_name", "type_prefix", "type_color", "type_style",
		"title", "full_title", "status", "tags", "content", "constraints", "constraints_passed",
		"constraints_results", "style", "layout", "hide", "collapse", "parent_need", "section_name",
		"is_external", "external_url", "is_import", "is_modified", "modifications",
		"has_dead_links", "has_forbidden_dead_links", "parts", "is_need", "is_part",
	}
}

// FieldKind classifies name for this need. Link categories are the keys of
// Links, so FieldKind only knows categories the need was created with.
func (n *Need) FieldKind(name string) Kind {
	if k, ok := coreKinds[name]; ok {
		return k
	}
	if _, ok := n.Links[name]; ok {
		return KindLink
	}
	if strings.HasSuffix(name, BackSuffix) {
		if _, ok := n.Links[strings.TrimSuffix(name, BackSuffix)]; ok {
			return KindBack
		}
	}
	if _, ok := n.Extra[name]; ok {
		return KindString
	}
	return KindUnknown
}

// Field returns the value of name. Lists are returned as []string, the
// nullable status as nil when unset.
func (n *Need) Field(name string) (any, bool) {
	switch name {
	case "id":
		return n.ID, true
	case "docname":
		return n.DocName, true
	case "lineno":
		return n.LineNo, true
	case "type":
		return n.Type, true
	case "type_name":
		return n.TypeName, true
	case "type_prefix":
		return n.TypePrefix, true
	case "type_color":
		return n.TypeColor, true
	case "type_style":
		return n.TypeStyle, true
	case "title":
		return n.Title, true
	case "full_title":
		return n.FullTitle, true
	case "status":
		if n.Status == nil {
			return nil, true
		}
		return *n.Status, true
	case "tags":
		return nonNil(n.Tags), true
	case "content":
		return n.Content, true
	case "constraints":
		return nonNil(n.Constraints), true
	case "constraints_passed":
		if n.ConstraintsPassed == nil {
			return nil, true
		}
		return *n.ConstraintsPassed, true
	case "constraints_results":
		return n.ConstraintsResults, true
	case "style":
		return n.Style, true
	case "layout":
		return n.Layout, true
	case "hide":
		return n.Hide, true
	case "collapse":
		return n.Collapse, true
	case "parent_need":
		return n.ParentNeed, true
	case "section_name":
		return n.SectionName, true
	case "is_external":
		return n.IsExternal, true
	case "external_url":
		return n.ExternalURL, true
	case "is_import":
		return n.IsImport, true
	case "is_modified":
		return n.IsModified, true
	case "modifications":
		return n.Modifications, true
	case "has_dead_links":
		return n.HasDeadLinks, true
	case "has_forbidden_dead_links":
		return n.HasForbiddenDeadLinks, true
	case "parts":
		return n.PartOrder, true
	case "is_need":
		return true, true
	case "is_part":
		return false, true
	}
	switch n.FieldKind(name) {
	case KindLink:
		return nonNil(n.Links[name]), true
	case KindBack:
		return nonNil(n.Back[strings.TrimSuffix(name, BackSuffix)]), true
	case KindString:
		return n.Extra[name], true
	}
	return nil, false
}

// StringField returns the field rendered as a string ("" for nil and lists
// joined by ", ").
func (n *Need) StringField(name string) string {
	v, ok := n.Field(name)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// ListField returns a list-typed field (tags, constraints, links, back links).
func (n *Need) ListField(name string) ([]string, bool) {
	v, ok := n.Field(name)
	if !ok {
		return nil, false
	}
	l, ok := v.([]string)
	return l, ok
}

// SetField assigns a value by name. Strings are accepted for every settable
// kind and converted; lists accept []string.
func (n *Need) SetField(name string, value any) error {
	kind := n.FieldKind(name)
	switch kind {
	case KindUnknown:
		return fmt.Errorf("unknown field %q", name)
	case KindReadOnly:
		return fmt.Errorf("field %q is read-only", name)
	case KindBack:
		n.Back[strings.TrimSuffix(name, BackSuffix)] = toList(value)
		return nil
	case KindLink:
		n.Links[name] = toList(value)
		return nil
	case KindList:
		l := toList(value)
		if name == "tags" {
			n.Tags = l
		} else {
			n.Constraints = l
		}
		return nil
	case KindBool:
		b, err := toBool(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		n.setBool(name, b)
		return nil
	case KindInt:
		i, err := toInt(value)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		if name == "lineno" {
			n.LineNo = i
		} else {
			n.Modifications = i
		}
		return nil
	case KindNullableString:
		if value == nil {
			n.Status = nil
			return nil
		}
		s := fmt.Sprint(value)
		n.Status = &s
		return nil
	}
	s := ""
	if value != nil {
		if l, ok := value.([]string); ok {
			s = strings.Join(l, ", ")
		} else {
			s = fmt.Sprint(value)
		}
	}
	n.setString(name, s)
	return nil
}

func (n *Need) setBool(name string, b bool) {
	switch name {
	case "hide":
		n.Hide = b
	case "collapse":
		n.Collapse = b
	case "is_external":
		n.IsExternal = b
	case "is_import":
		n.IsImport = b
	case "is_modified":
		n.IsModified = b
	case "has_dead_links":
		n.HasDeadLinks = b
	case "has_forbidden_dead_links":
		n.HasForbiddenDeadLinks = b
	}
}

func (n *Need) setString(name, s string) {
	switch name {
	case "docname":
		n.DocName = s
	case "type_name":
		n.TypeName = s
	case "type_prefix":
		n.TypePrefix = s
	case "type_color":
		n.TypeColor = s
	case "type_style":
		n.TypeStyle = s
	case "title":
		n.Title = s
	case "full_title":
		n.FullTitle = s
	case "content":
		n.Content = s
	case "style":
		n.Style = s
	case "layout":
		n.Layout = s
	case "parent_need":
		n.ParentNeed = s
	case "section_name":
		n.SectionName = s
	case "external_url":
		n.ExternalURL = s
	default:
		n.Extra[name] = s
	}
}

// Map returns every field keyed by name (core, extra, links, back links).
func (n *Need) Map() map[string]any {
	out := make(map[string]any, len(coreKinds)+len(n.Extra)+2*len(n.Links))
	for name := range coreKinds {
		v, _ := n.Field(name)
		out[name] = v
	}
	for k, v := range n.Extra {
		out[k] = v
	}
	for cat, l := range n.Links {
		out[cat] = nonNil(l)
		out[cat+BackSuffix] = nonNil(n.Back[cat])
	}
	return out
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

func toList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "no", "0":
			return false, nil
		case "true", "yes", "1":
			return true, nil
		}
		return false, fmt.Errorf("cannot use %q as bool", t)
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("cannot use %T as bool", v)
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("cannot use %T as int", v)
}
