package expr

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var patterns sync.Map // string → *regexp.Regexp

func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patterns.Store(p, re)
	return re, nil
}

func arity(n *callNode, args []any, want int) error {
	if len(args) != want {
		return evalErr(n, "%s() takes %d argument(s), got %d", n.name, want, len(args))
	}
	return nil
}

func callBuiltin(n *callNode, args []any) (any, error) {
	switch n.name {
	case "search":
		if err := arity(n, args, 2); err != nil {
			return nil, err
		}
		pat, ok1 := args[0].(string)
		val, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return nil, evalErr(n, "search() expects (str, str), got (%s, %s)", typeName(args[0]), typeName(args[1]))
		}
		re, err := compilePattern(pat)
		if err != nil {
			return nil, evalErr(n, "search(): bad pattern: %v", err)
		}
		return re.MatchString(val), nil
	case "len":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		switch t := args[0].(type) {
		case string:
			return int64(len([]rune(t))), nil
		case []any:
			return int64(len(t)), nil
		case map[string]any:
			return int64(len(t)), nil
		}
		return nil, evalErr(n, "object of type '%s' has no len()", typeName(args[0]))
	case "str":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		return Str(args[0]), nil
	case "bool":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		return Truthy(args[0]), nil
	case "int":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		switch t := args[0].(type) {
		case string:
			v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				return nil, evalErr(n, "invalid literal for int(): %s", Repr(t))
			}
			return v, nil
		case float64:
			return int64(math.Trunc(t)), nil
		}
		if f, isInt, ok := number(args[0]); ok && isInt {
			return int64(f), nil
		}
		return nil, evalErr(n, "int() argument must be a string or a number, not '%s'", typeName(args[0]))
	case "float":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		if s, ok := args[0].(string); ok {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, evalErr(n, "could not convert string to float: %s", Repr(s))
			}
			return v, nil
		}
		if f, _, ok := number(args[0]); ok {
			return f, nil
		}
		return nil, evalErr(n, "float() argument must be a string or a number, not '%s'", typeName(args[0]))
	case "lower", "upper":
		if err := arity(n, args, 1); err != nil {
			return nil, err
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, evalErr(n, "%s() expects str, got %s", n.name, typeName(args[0]))
		}
		if n.name == "lower" {
			return strings.ToLower(s), nil
		}
		return strings.ToUpper(s), nil
	}
	return nil, evalErr(n, "name '%s' is not defined", n.name)
}

func callMethod(n *methodNode, recv any, args []any) (any, error) {
	switch r := recv.(type) {
	case string:
		return stringMethod(n, r, args)
	case []any:
		return listMethod(n, r, args)
	}
	return nil, evalErr(n, "'%s' object has no attribute '%s'", typeName(recv), n.name)
}

func strArgs(n *methodNode, args []any, lo, hi int) ([]string, error) {
	if len(args) < lo || len(args) > hi {
		return nil, evalErr(n, "%s() takes %d to %d arguments, got %d", n.name, lo, hi, len(args))
	}
	out := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, evalErr(n, "%s() argument must be str, not %s", n.name, typeName(a))
		}
		out[i] = s
	}
	return out, nil
}

func stringMethod(n *methodNode, s string, args []any) (any, error) {
	switch n.name {
	case "startswith", "endswith":
		a, err := strArgs(n, args, 1, 1)
		if err != nil {
			return nil, err
		}
		if n.name == "startswith" {
			return strings.HasPrefix(s, a[0]), nil
		}
		return strings.HasSuffix(s, a[0]), nil
	case "lower":
		if _, err := strArgs(n, args, 0, 0); err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	case "upper":
		if _, err := strArgs(n, args, 0, 0); err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	case "strip":
		a, err := strArgs(n, args, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(a) == 1 {
			return strings.Trim(s, a[0]), nil
		}
		return strings.TrimSpace(s), nil
	case "split":
		a, err := strArgs(n, args, 0, 1)
		if err != nil {
			return nil, err
		}
		var parts []string
		if len(a) == 1 {
			parts = strings.Split(s, a[0])
		} else {
			parts = strings.Fields(s)
		}
		return Normalize(parts), nil
	case "replace":
		a, err := strArgs(n, args, 2, 2)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, a[0], a[1]), nil
	case "count":
		a, err := strArgs(n, args, 1, 1)
		if err != nil {
			return nil, err
		}
		return int64(strings.Count(s, a[0])), nil
	}
	return nil, evalErr(n, "'str' object has no attribute '%s'", n.name)
}

func listMethod(n *methodNode, l []any, args []any) (any, error) {
	if len(args) != 1 {
		return nil, evalErr(n, "%s() takes exactly one argument", n.name)
	}
	switch n.name {
	case "count":
		var c int64
		for _, e := range l {
			if equal(e, args[0]) {
				c++
			}
		}
		return c, nil
	case "index":
		for i, e := range l {
			if equal(e, args[0]) {
				return int64(i), nil
			}
		}
		return nil, evalErr(n, "%s is not in list", Repr(args[0]))
	}
	return nil, evalErr(n, "'list' object has no attribute '%s'", n.name)
}
