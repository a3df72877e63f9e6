// Package parser extracts frontmatter and need, needextend and needfilter
// blocks from Markdown documents.
package parser

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Block kinds, taken from the fence info string.
const (
	KindNeed       = "need"
	KindNeedExtend = "needextend"
	KindNeedFilter = "needfilter"
)

const fence = "```"

var partRe = regexp.MustCompile(":np:`\\(([^)\\s]+)\\)\\s*([^`]*)`")

// Block is one fenced directive. Fields come from the YAML head; Content is
// everything after the first "---" line of the block.
type Block struct {
	Kind    string
	Line    int
	Section string
	Fields  map[string]any
	Content string
}

// Part is an inline sub-part declared as :np:`(id) text`.
type Part struct {
	ID      string
	Content string
}

// Result holds the output of parsing a Markdown document.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Title       string
	Needs       []Block
	Extends     []Block
	Filters     []Block
	// Warnings describe blocks that could not be read.
	Warnings []string
}

// Parse extracts frontmatter and directive blocks from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	offset := strings.Count(string(data[:len(data)-len(body)]), "\n")

	r := &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}
	if err := r.scanBlocks(body, offset); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Result) scanBlocks(body string, offset int) error {
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		section string
		cur     *Block
		buf     []string
		inOther bool
		lineNo  = offset
	)
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case cur != nil:
			if trimmed == fence {
				r.finish(cur, buf)
				cur, buf = nil, nil
				continue
			}
			buf = append(buf, line)
		case inOther:
			if trimmed == fence {
				inOther = false
			}
		case strings.HasPrefix(trimmed, fence):
			info := strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
			switch info {
			case KindNeed, KindNeedExtend, KindNeedFilter:
				cur = &Block{Kind: info, Line: lineNo, Section: section}
			default:
				inOther = true
			}
		case strings.HasPrefix(trimmed, "#"):
			if h := heading(trimmed); h != "" {
				section = h
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if cur != nil {
		r.Warnings = append(r.Warnings, blockWarning(cur, "unterminated block"))
	}
	return nil
}

func (r *Result) finish(b *Block, lines []string) {
	head, content := lines, []string(nil)
	for i, l := range lines {
		if strings.TrimSpace(l) == "---" {
			head, content = lines[:i], lines[i+1:]
			break
		}
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal([]byte(strings.Join(head, "\n")), &fields); err != nil {
		r.Warnings = append(r.Warnings, blockWarning(b, "invalid YAML: "+err.Error()))
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	b.Fields = fields
	b.Content = strings.Trim(strings.Join(content, "\n"), "\n")

	switch b.Kind {
	case KindNeed:
		r.Needs = append(r.Needs, *b)
	case KindNeedExtend:
		r.Extends = append(r.Extends, *b)
	case KindNeedFilter:
		r.Filters = append(r.Filters, *b)
	}
}

func blockWarning(b *Block, msg string) string {
	return b.Kind + " block at line " + strconv.Itoa(b.Line) + ": " + msg
}

// Parts returns the sub-parts declared in content, in order.
func Parts(content string) []Part {
	matches := partRe.FindAllStringSubmatch(content, -1)
	out := make([]Part, 0, len(matches))
	for _, m := range matches {
		out = append(out, Part{ID: m[1], Content: strings.TrimSpace(m[2])})
	}
	return out
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the whole document is body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

func heading(line string) string {
	t := strings.TrimLeft(line, "#")
	if len(t) == len(line) || !strings.HasPrefix(t, " ") {
		return ""
	}
	return strings.TrimSpace(t)
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
