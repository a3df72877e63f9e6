package ident

import (
	"fmt"
	"strings"
)

const (
	fragOpen  = "[["
	fragClose = "]]"
)

// SplitList splits a tag/link/constraint definition on "," and ";". Dynamic
// function fragments ("[[...]]") torn apart by the split are put back
// together, entries are trimmed, and empty entries are dropped. Each dropped
// entry and each unclosed fragment produces a warning message.
func SplitList(raw string) ([]string, []string) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return NormalizeList(splitKeepEmpty(raw))
}

// NormalizeList reassembles fragments, trims and drops empty entries from an
// already split list. Re-running it on its own output is a no-op.
func NormalizeList(parts []string) ([]string, []string) {
	joined, warns := Reassemble(parts)
	out := make([]string, 0, len(joined))
	for _, p := range joined {
		p = strings.TrimSpace(p)
		if p == "" {
			warns = append(warns, fmt.Sprintf("scruffy definition %q: empty entry dropped", strings.Join(parts, ",")))
			continue
		}
		out = append(out, p)
	}
	return out, warns
}

// Reassemble scans parts left to right. An element with an unmatched "[["
// starts a buffer that runs to the element closing it; the buffered elements
// are rejoined with ",".
func Reassemble(parts []string) ([]string, []string) {
	var (
		out   = make([]string, 0, len(parts))
		buf   []string
		depth int
		warns []string
	)
	for _, p := range parts {
		d := strings.Count(p, fragOpen) - strings.Count(p, fragClose)
		if buf != nil {
			buf = append(buf, p)
			depth += d
			if depth <= 0 {
				out = append(out, strings.Join(buf, ","))
				buf, depth = nil, 0
			}
			continue
		}
		if d > 0 {
			buf, depth = []string{p}, d
			continue
		}
		out = append(out, p)
	}
	if buf != nil {
		joined := strings.Join(buf, ",")
		warns = append(warns, fmt.Sprintf("dynamic function not closed correctly: %s", strings.TrimSpace(joined)))
		out = append(out, joined)
	}
	return out, warns
}

func isDelim(r rune) bool { return r == ',' || r == ';' }

func splitKeepEmpty(raw string) []string {
	var out []string
	start := 0
	for i, r := range raw {
		if isDelim(r) {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}
	return append(out, raw[start:])
}
