package dynfunc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/tiwaz/internal/expr"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/need"
)

func builtins() map[string]Func {
	return map[string]Func{
		"test":                test,
		"echo":                echo,
		"copy":                copyField,
		"check_linked_values": checkLinkedValues,
		"calc_sum":            calcSum,
		"links_from_content":  linksFromContent,
	}
}

// arg returns positional argument i, or the keyword name, or nil.
func arg(args []any, kwargs map[string]any, i int, name string) any {
	if i < len(args) {
		return args[i]
	}
	return kwargs[name]
}

func strArg(args []any, kwargs map[string]any, i int, name string) string {
	v := arg(args, kwargs, i, name)
	if v == nil {
		return ""
	}
	return expr.Str(v)
}

func boolArg(args []any, kwargs map[string]any, i int, name string) bool {
	return expr.Truthy(arg(args, kwargs, i, name))
}

func test(c Call, args []any, kwargs map[string]any) (any, error) {
	return fmt.Sprintf("Test output of need %s. args: %s. kwargs: %s",
		c.Need.ID, expr.Repr(expr.Normalize(args)), expr.Repr(kwargs)), nil
}

func echo(_ Call, args []any, kwargs map[string]any) (any, error) {
	return strArg(args, kwargs, 0, "text"), nil
}

// copyField copies option from the current need, from need_id, or from the
// first need matching filter.
func copyField(c Call, args []any, kwargs map[string]any) (any, error) {
	option := strArg(args, kwargs, 0, "option")
	if option == "" {
		return nil, fmt.Errorf("copy: option is required")
	}
	src := c.Need
	if id := strArg(args, kwargs, 1, "need_id"); id != "" {
		n, ok := c.Store.Get(id)
		if !ok {
			return nil, fmt.Errorf("copy: need %s not found", id)
		}
		src = n
	}
	if f := strArg(args, kwargs, 4, "filter"); f != "" {
		found, err := c.Filter.Needs(c.Store.Values(), f, filter.Options{Current: c.Need})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			src = found[0]
		}
	}
	v, ok := src.Field(option)
	if !ok {
		return nil, fmt.Errorf("copy: need %s has no option %s", src.ID, option)
	}
	lower := boolArg(args, kwargs, 2, "lower")
	upper := boolArg(args, kwargs, 3, "upper")
	conv := func(s string) string {
		switch {
		case lower:
			return strings.ToLower(s)
		case upper:
			return strings.ToUpper(s)
		}
		return s
	}
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = conv(s)
		}
		return out, nil
	case string:
		return conv(t), nil
	case nil:
		return nil, nil
	}
	return conv(expr.Str(expr.Normalize(v))), nil
}

// checkLinkedValues returns result when every linked need (or, with
// one_hit, at least one) has search_option in search_value. Linked needs
// not passing filter are ignored.
func checkLinkedValues(c Call, args []any, kwargs map[string]any) (any, error) {
	result := arg(args, kwargs, 0, "result")
	option := strArg(args, kwargs, 1, "search_option")
	var wanted []string
	switch v := arg(args, kwargs, 2, "search_value").(type) {
	case []any:
		for _, e := range v {
			wanted = append(wanted, expr.Str(e))
		}
	case nil:
	default:
		wanted = []string{expr.Str(v)}
	}
	filterString := strArg(args, kwargs, 3, "filter_string")
	if filterString == "" {
		filterString = strArg(nil, kwargs, 0, "filter")
	}
	oneHit := boolArg(args, kwargs, 4, "one_hit")

	for _, ref := range c.Need.Links["links"] {
		id, _ := need.SplitID(ref)
		linked, ok := c.Store.Get(id)
		if !ok {
			continue
		}
		if filterString != "" {
			ok, err := c.Filter.Single(linked, filterString)
			if err != nil || !ok {
				continue
			}
		}
		hit := need.Contains(wanted, linked.StringField(option))
		if !hit && !oneHit {
			return nil, nil
		}
		if hit && oneHit {
			return result, nil
		}
	}
	if oneHit {
		return nil, nil
	}
	return result, nil
}

// calcSum adds up the numeric values of option over all needs (or over the
// linked needs only) that pass filter. Values that are not numbers are
// skipped.
func calcSum(c Call, args []any, kwargs map[string]any) (any, error) {
	option := strArg(args, kwargs, 0, "option")
	filterString := strArg(args, kwargs, 1, "filter")
	linksOnly := boolArg(args, kwargs, 2, "links_only")

	candidates := c.Store.Values()
	if linksOnly {
		candidates = nil
		for _, ref := range c.Need.Links["links"] {
			id, _ := need.SplitID(ref)
			if n, ok := c.Store.Get(id); ok {
				candidates = append(candidates, n)
			}
		}
	}
	var sum float64
	for _, n := range candidates {
		if filterString != "" {
			ok, err := c.Filter.Single(n, filterString)
			if err != nil || !ok {
				continue
			}
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n.StringField(option)), 64)
		if err != nil {
			continue
		}
		sum += f
	}
	return sum, nil
}

var needRole = regexp.MustCompile(":need:`(?:[^`<]*<)?([^`>]+)>?`")

// linksFromContent extracts the ids referenced with :need:`ID` or
// :need:`title <ID>` roles in the content of need_id (default: current).
func linksFromContent(c Call, args []any, kwargs map[string]any) (any, error) {
	src := c.Need
	if id := strArg(args, kwargs, 0, "need_id"); id != "" {
		n, ok := c.Store.Get(id)
		if !ok {
			return nil, fmt.Errorf("links_from_content: need %s not found", id)
		}
		src = n
	}
	filterString := strArg(args, kwargs, 1, "filter")
	out := []string{}
	for _, m := range needRole.FindAllStringSubmatch(src.Content, -1) {
		ref := strings.TrimSpace(m[1])
		if filterString != "" {
			id, _ := need.SplitID(ref)
			target, ok := c.Store.Get(id)
			if !ok {
				continue
			}
			if ok, err := c.Filter.Single(target, filterString); err != nil || !ok {
				continue
			}
		}
		out, _ = need.AppendUnique(out, ref)
	}
	return out, nil
}
