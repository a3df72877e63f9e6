package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokName
	tokInt
	tokFloat
	tokString
	tokOp
)

type token struct {
	kind tokKind
	text string // operator text, name, literal source or decoded string
	pos  int
}

// SyntaxError is returned by Compile for malformed expressions.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

var twoCharOps = []string{"==", "!=", "<=", ">=", "//", "**"}

const oneCharOps = "()[],.<>+-*/%:="

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w
		case r == '\'' || r == '"':
			s, n, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i += n
		case r >= '0' && r <= '9' || (r == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			float := false
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == '_') {
				if src[i] == '.' {
					if float {
						return nil, &SyntaxError{Pos: i, Msg: "malformed number"}
					}
					float = true
				}
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				float = true
				i++
				if i < len(src) && (src[i] == '+' || src[i] == '-') {
					i++
				}
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			k := tokInt
			if float {
				k = tokFloat
			}
			toks = append(toks, token{kind: k, text: strings.ReplaceAll(src[start:i], "_", ""), pos: start})
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r, w = utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += w
			}
			toks = append(toks, token{kind: tokName, text: src[start:i], pos: start})
		default:
			if i+1 < len(src) {
				two := src[i : i+2]
				if contains(twoCharOps, two) {
					toks = append(toks, token{kind: tokOp, text: two, pos: i})
					i += 2
					continue
				}
			}
			if strings.ContainsRune(oneCharOps, r) {
				toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
				i += w
				continue
			}
			return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1 - start, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(src[i])
			default:
				// unknown escapes are kept, which keeps regex patterns intact
				b.WriteByte('\\')
				b.WriteByte(src[i])
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
