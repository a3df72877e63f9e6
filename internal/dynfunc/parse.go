// Package dynfunc resolves "[[name(args)]]" fragments in need fields by
// calling registered functions.
package dynfunc

import (
	"fmt"
	"strings"

	"github.com/starford/tiwaz/internal/expr"
)

// Segment is either literal text or a parsed call.
type Segment struct {
	Text string
	Call *expr.CallSpec
	// Raw is the fragment source including the brackets.
	Raw string
}

// IsCall reports whether the segment is a function fragment.
func (s Segment) IsCall() bool { return s.Call != nil }

// ParseError reports a malformed fragment.
type ParseError struct {
	Value string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dynamic function: %s in %q", e.Msg, e.Value)
}

// HasCall reports whether v contains a fragment opener.
func HasCall(v string) bool { return strings.Contains(v, "[[") }

// Parse splits value into literal and call segments. Quotes and single
// brackets inside a fragment are respected when looking for its "]]".
func Parse(value string) ([]Segment, error) {
	var segs []Segment
	rest := value
	for {
		open := strings.Index(rest, "[[")
		if open < 0 {
			if strings.Contains(rest, "]]") {
				return nil, &ParseError{Value: value, Msg: "unexpected ']]'"}
			}
			if rest != "" {
				segs = append(segs, Segment{Text: rest})
			}
			return segs, nil
		}
		if strings.Contains(rest[:open], "]]") {
			return nil, &ParseError{Value: value, Msg: "unexpected ']]'"}
		}
		if open > 0 {
			segs = append(segs, Segment{Text: rest[:open]})
		}
		end := closing(rest, open+2)
		if end < 0 {
			return nil, &ParseError{Value: value, Msg: "missing ']]'"}
		}
		body := strings.TrimSpace(rest[open+2 : end])
		call, err := expr.ParseCall(body)
		if err != nil {
			return nil, &ParseError{Value: value, Msg: err.Error()}
		}
		segs = append(segs, Segment{Call: call, Raw: rest[open : end+2]})
		rest = rest[end+2:]
	}
}

// closing returns the index of the "]]" ending a fragment whose body starts
// at from, or -1.
func closing(s string, from int) int {
	depth := 0
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			if depth == 0 {
				if i+1 < len(s) && s[i+1] == ']' {
					return i
				}
				return -1
			}
			depth--
		}
	}
	return -1
}
