package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/export"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/parser"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/storage"
)

// targetRe matches {{need.field}} and {{need['field']}} placeholders.
var targetRe = regexp.MustCompile(`\{\{\s*need(?:\.(\w+)|\[\s*['"](\w+)['"]\s*\])\s*\}\}`)

// Loader fetches needs.json documents for imports and external sources.
type Loader struct {
	Provider storage.Provider
	Client   *http.Client
}

func (l Loader) fetch(ctx context.Context, path, url string) ([]byte, error) {
	if path != "" {
		if l.Provider == nil {
			return nil, fmt.Errorf("external: no storage provider for %s", path)
		}
		return l.Provider.Read(path)
	}
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("external: request %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("external: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Session) loadDocument(ctx context.Context, l Loader, kind, path, url string) (*export.Document, error) {
	raw, err := l.fetch(ctx, path, url)
	if err != nil {
		return nil, err
	}
	doc, warns, err := export.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	where := path
	if where == "" {
		where = url
	}
	for _, w := range warns {
		s.Reporter.Warn(diag.Warning{Kind: kind, DocName: where, Message: w})
	}
	return doc, nil
}

func (s *Session) importOptions(version, prefix string) export.ImportOptions {
	return export.ImportOptions{
		Version:      version,
		IDPrefix:     prefix,
		LinkOptions:  s.Config.LinkOptions(),
		ExtraOptions: s.Config.ExtraOptions,
	}
}

// LoadImports adds the needs of every configured import. Imported needs go
// through the same validation as document needs.
func (s *Session) LoadImports(ctx context.Context, l Loader) error {
	for _, src := range s.Config.Imports {
		doc, err := s.loadDocument(ctx, l, diag.KindImport, src.Path, "")
		if err != nil {
			return err
		}
		opts := s.importOptions(src.Version, src.IDPrefix)
		opts.Tags = src.Tags
		opts.Hide = src.Hide
		if src.Filter != "" {
			opts.Keep = func(n *need.Need) bool {
				ok, err := s.Filter.Single(n, src.Filter)
				if err != nil {
					s.Reporter.Warnf(diag.KindImport, n.ID, "import %s: filter %q: %v", src.Path, src.Filter, err)
					return false
				}
				return ok
			}
		}
		needs, warns, err := export.ToNeeds(doc, opts)
		if err != nil {
			return err
		}
		for _, w := range warns {
			s.Reporter.Warn(diag.Warning{Kind: diag.KindImport, DocName: src.Path, Message: w})
		}
		for _, in := range needs {
			n, err := s.AddNeed(paramsFromNeed(in))
			if err != nil {
				return err
			}
			n.IsImport = true
		}
		s.logger.Info("import: loaded", slog.String("path", src.Path), slog.Int("needs", len(needs)))
	}
	return nil
}

// LoadExternal mounts every configured external source. Loading a source
// again replaces the external needs it contributed before.
func (s *Session) LoadExternal(ctx context.Context, l Loader) error {
	for _, src := range s.Config.ExternalNeeds {
		if err := s.loadExternal(ctx, l, src); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) loadExternal(ctx context.Context, l Loader, src registry.ExternalSource) error {
	doc, err := s.loadDocument(ctx, l, diag.KindExternal, src.JSONPath, src.JSONURL)
	if err != nil {
		return err
	}
	needs, warns, err := export.ToNeeds(doc, s.importOptions(src.Version, src.IDPrefix))
	if err != nil {
		return err
	}
	for _, w := range warns {
		s.Reporter.Warnf(diag.KindExternal, "", "%s", w)
	}
	version := src.Version
	if version == "" {
		version = doc.CurrentVersion
	}
	raw := doc.Versions[version].Needs

	for _, in := range needs {
		if old, ok := s.Store.Get(in.ID); ok && old.IsExternal {
			s.Store.Delete(in.ID)
		}
		n, err := s.AddNeed(paramsFromNeed(in))
		if err != nil {
			return err
		}
		rec := raw[strings.TrimPrefix(in.ID, src.IDPrefix)]
		n.IsExternal = true
		n.ExternalURL = ExternalURL(src, rec)
	}
	s.logger.Info("external: loaded",
		slog.String("source", src.JSONPath+src.JSONURL),
		slog.Int("needs", len(needs)),
	)
	return nil
}

// ExternalURL computes the link to an external need. A target_url template
// substitutes {{need.field}} placeholders from the source record; without
// one the link points at base_url/docname.html#id.
func ExternalURL(src registry.ExternalSource, rec map[string]any) string {
	base := strings.TrimSuffix(src.BaseURL, "/")
	if src.TargetURL == "" {
		doc := str(rec["docname"])
		if doc == "" {
			doc = "__error__"
		}
		return fmt.Sprintf("%s/%s.html#%s", base, doc, str(rec["id"]))
	}
	rendered := targetRe.ReplaceAllStringFunc(src.TargetURL, func(m string) string {
		sub := targetRe.FindStringSubmatch(m)
		field := sub[1]
		if field == "" {
			field = sub[2]
		}
		return optionString(rec[field])
	})
	return base + "/" + rendered
}

// paramsFromNeed turns an imported record back into creation parameters.
func paramsFromNeed(n *need.Need) Params {
	title := n.FullTitle
	if title == "" {
		title = n.Title
	}
	p := Params{
		Type:        n.Type,
		ID:          n.ID,
		Title:       title,
		Content:     n.Content,
		DocName:     n.DocName,
		LineNo:      n.LineNo,
		Status:      n.Status,
		Tags:        n.Tags,
		Constraints: n.Constraints,
		Hide:        n.Hide,
		Collapse:    n.Collapse,
		Style:       n.Style,
		Layout:      n.Layout,
		SectionName: n.SectionName,
		ParentNeed:  n.ParentNeed,
		Options:     make(map[string]any, len(n.Links)+len(n.Extra)),
	}
	for cat, l := range n.Links {
		p.Options[cat] = l
	}
	for k, v := range n.Extra {
		p.Options[k] = v
	}
	for _, part := range n.OrderedParts() {
		p.Parts = append(p.Parts, parser.Part{ID: part.ID, Content: part.Content})
	}
	return p
}
