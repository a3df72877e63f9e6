package build

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/extend"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/parser"
	"github.com/starford/tiwaz/internal/storage"
	"github.com/starford/tiwaz/internal/store"
)

// Source selects the documents of a build.
type Source struct {
	Dir     string
	Include []string
	Exclude []string
	// Workers bounds parallel parsing; <= 0 uses GOMAXPROCS.
	Workers int
}

// docResult is what one worker collected from one document.
type docResult struct {
	store   *store.Store
	extends []extend.Extend
	filters []FilterDirective
}

// needKeys are block fields mapped onto Params directly.
var needKeys = map[string]bool{
	"type": true, "id": true, "title": true, "status": true, "tags": true,
	"constraints": true, "delete": true, "hide": true, "collapse": true,
	"style": true, "layout": true, "parent": true,
}

// Scan parses every listed document. Documents are split across workers,
// each parsing into its own store; the stores are merged in document order
// so the result does not depend on scheduling. A duplicate id across
// documents aborts the scan.
func (s *Session) Scan(ctx context.Context, p storage.Provider, src Source) error {
	docs, err := p.List(src.Dir, src.Include, src.Exclude)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	workers := src.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]*docResult, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, d := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := p.Read(d.Path)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r, err := s.scanDocument(DocName(d.Path), data)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if err := s.merge(r); err != nil {
			return err
		}
	}
	s.Workflow.Collected = true
	s.logger.Info("scan: documents collected",
		slog.Int("documents", len(docs)),
		slog.Int("needs", s.Store.Len()),
		slog.Int("workers", workers),
	)
	return nil
}

// ScanDocument parses one document into the session store directly.
func (s *Session) ScanDocument(docName string, data []byte) error {
	r, err := s.scanDocument(docName, data)
	if err != nil {
		return err
	}
	return s.merge(r)
}

func (s *Session) merge(r *docResult) error {
	if dups := s.Store.Merge(r.store); len(dups) > 0 {
		a, _ := s.Store.Get(dups[0])
		b, _ := r.store.Get(dups[0])
		return store.DuplicateError(dups[0], a, b)
	}
	s.extends = append(s.extends, r.extends...)
	s.filters = append(s.filters, r.filters...)
	return nil
}

// DocName strips the Markdown extension from a document path.
func DocName(path string) string {
	return strings.TrimSuffix(path, ".md")
}

func (s *Session) scanDocument(docName string, data []byte) (*docResult, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scan: parse %s: %w", docName, err)
	}
	for _, w := range res.Warnings {
		s.Reporter.Warn(diag.Warning{Kind: diag.KindParse, DocName: docName, Message: w})
	}

	r := &docResult{store: store.New()}
	for _, b := range res.Needs {
		if _, err := s.addTo(r.store, NeedParams(docName, b)); err != nil {
			return nil, err
		}
	}
	for _, b := range res.Extends {
		r.extends = append(r.extends, ExtendFromBlock(docName, b))
	}
	for _, b := range res.Filters {
		r.filters = append(r.filters, FilterFromBlock(docName, b))
	}
	return r, nil
}

// NeedParams maps a need block onto creation parameters.
func NeedParams(docName string, b parser.Block) Params {
	f := b.Fields
	p := Params{
		Type:        str(f["type"]),
		ID:          str(f["id"]),
		Title:       str(f["title"]),
		Content:     b.Content,
		DocName:     docName,
		LineNo:      b.Line,
		Tags:        f["tags"],
		Constraints: f["constraints"],
		Delete:      truthy(f["delete"]),
		Hide:        truthy(f["hide"]),
		Collapse:    truthy(f["collapse"]),
		Style:       str(f["style"]),
		Layout:      str(f["layout"]),
		SectionName: b.Section,
		ParentNeed:  str(f["parent"]),
		Options:     map[string]any{},
		Parts:       parser.Parts(b.Content),
	}
	if v, ok := f["status"]; ok && v != nil {
		st := str(v)
		p.Status = &st
	}
	for k, v := range f {
		if !needKeys[k] {
			p.Options[k] = v
		}
	}
	return p
}

// ExtendFromBlock maps a needextend block onto an extend directive. Keys
// other than target and strict are modifications, applied in key order.
func ExtendFromBlock(docName string, b parser.Block) extend.Extend {
	x := extend.Extend{Target: str(b.Fields["target"]), DocName: docName, LineNo: b.Line}
	if v, ok := b.Fields["strict"]; ok {
		strict := truthy(v)
		x.Strict = &strict
	}
	for _, k := range need.SortedKeys(b.Fields) {
		if k == "target" || k == "strict" {
			continue
		}
		x.Add(k, optionString(b.Fields[k]))
	}
	return x
}

// FilterFromBlock maps a needfilter block onto a filter directive. Without
// export_id the directive is named after its location.
func FilterFromBlock(docName string, b parser.Block) FilterDirective {
	f := b.Fields
	id := str(f["export_id"])
	if id == "" {
		id = docName + ":" + strconv.Itoa(b.Line)
	}
	list := func(k string) []string {
		l, _ := links.ReadLinks(f[k])
		if len(l) == 0 {
			return nil
		}
		return l
	}
	return FilterDirective{
		ExportID: id,
		Spec: filter.Spec{
			Status: list("status"),
			Tags:   list("tags"),
			Types:  list("types"),
			Filter: str(f["filter"]),
			SortBy: str(f["sort_by"]),
		},
		DocName: docName,
		LineNo:  b.Line,
	}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}
