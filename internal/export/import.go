package export

import (
	"fmt"
	"sort"

	"github.com/starford/tiwaz/internal/need"
)

// ImportOptions control how document records become needs.
type ImportOptions struct {
	// Version selects the version to read; "" means current_version.
	Version      string
	IDPrefix     string
	Tags         []string
	Hide         bool
	LinkOptions  []string
	ExtraOptions []string
	// Keep, when set, drops records for which it returns false.
	Keep func(*need.Need) bool
}

// derived fields are recomputed by the build and ignored on import.
var derived = map[string]bool{
	"constraints_passed": true, "constraints_results": true, "is_modified": true,
	"modifications": true, "has_dead_links": true, "has_forbidden_dead_links": true,
	"is_need": true, "is_part": true, "parts": true, "id": true, "description": true,
	"content": true, "is_import": true, "id_complete": true, "id_parent": true,
}

// ToNeeds converts the records of one version into needs marked as
// imported. Unknown keys and mistyped values are reported as warnings.
func ToNeeds(d *Document, opts ImportOptions) ([]*need.Need, []string, error) {
	version := opts.Version
	if version == "" {
		version = d.CurrentVersion
	}
	v, ok := d.Versions[version]
	if !ok {
		return nil, nil, fmt.Errorf("export: version %q not found", version)
	}

	ids := need.SortedKeys(v.Needs)
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	unknown := map[string]int{}
	var warns []string
	out := make([]*need.Need, 0, len(ids))

	for _, key := range ids {
		rec := v.Needs[key]
		id, _ := rec["id"].(string)
		if id == "" {
			id = key
		}
		n := need.New(opts.IDPrefix + id)
		for _, cat := range opts.LinkOptions {
			n.Links[cat] = []string{}
		}
		for _, ex := range opts.ExtraOptions {
			n.Extra[ex] = ""
		}
		if desc, ok := rec["description"].(string); ok {
			n.Content = desc
		} else if c, ok := rec["content"].(string); ok {
			n.Content = c
		}
		for _, field := range need.SortedKeys(rec) {
			if derived[field] {
				continue
			}
			if field == "type" {
				n.Type = str(rec[field])
				continue
			}
			if w := assign(n, field, rec[field]); w != "" {
				if w == errUnknown {
					unknown[field]++
					continue
				}
				warns = append(warns, fmt.Sprintf("import: need %s: %s", id, w))
			}
		}
		if opts.IDPrefix != "" {
			for cat, list := range n.Links {
				for i, ref := range list {
					main, part := need.SplitID(ref)
					if !known[main] {
						continue
					}
					list[i] = opts.IDPrefix + main
					if part != "" {
						list[i] += "." + part
					}
				}
				n.Links[cat] = list
			}
		}
		for _, t := range opts.Tags {
			n.Tags, _ = need.AppendUnique(n.Tags, t)
		}
		if opts.Hide {
			n.Hide = true
		}
		n.IsImport = true
		if parts, ok := rec["parts"].(map[string]any); ok {
			for _, pid := range need.SortedKeys(parts) {
				pm, _ := parts[pid].(map[string]any)
				content, _ := pm["content"].(string)
				n.AddPart(need.NewPart(pid, content))
			}
		}
		if opts.Keep != nil && !opts.Keep(n) {
			continue
		}
		out = append(out, n)
	}

	names := make([]string, 0, len(unknown))
	for k := range unknown {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		warns = append(warns, fmt.Sprintf("import: unknown option %q on %d need(s) ignored", k, unknown[k]))
	}
	return out, warns, nil
}

const errUnknown = "unknown"

func assign(n *need.Need, field string, value any) string {
	kind := n.FieldKind(field)
	switch kind {
	case need.KindUnknown:
		return errUnknown
	case need.KindReadOnly, need.KindBack:
		return ""
	case need.KindList, need.KindLink:
		l, ok := asList(value)
		if !ok {
			return fmt.Sprintf("option %s must be a list of strings, got %T", field, value)
		}
		_ = n.SetField(field, l)
		return ""
	case need.KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("option %s must be a boolean, got %T", field, value)
		}
	case need.KindInt:
		switch value.(type) {
		case int, int64, float64, nil:
		default:
			return fmt.Sprintf("option %s must be a number, got %T", field, value)
		}
		if value == nil {
			return ""
		}
		if f, ok := value.(float64); ok {
			value = int(f)
		}
	case need.KindNullableString:
		if value == nil {
			_ = n.SetField(field, nil)
			return ""
		}
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("option %s must be a string, got %T", field, value)
		}
	default:
		if value == nil {
			return ""
		}
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("option %s must be a string, got %T", field, value)
		}
	}
	if err := n.SetField(field, value); err != nil {
		return err.Error()
	}
	return ""
}

func asList(v any) ([]string, bool) {
	switch t := v.(type) {
	case nil:
		return []string{}, true
	case []string:
		return append([]string{}, t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
