// Package needservice keeps the latest resolved needs graph and answers
// queries against it. Rebuilds run one at a time; readers always see a
// complete build.
package needservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/checksum"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/export"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/index"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/metrics"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/sse"
	"github.com/starford/tiwaz/internal/storage"
)

// ErrNoBuild is returned by queries before the first successful build.
var ErrNoBuild = errors.New("needservice: no build available")

// Publisher receives build notifications.
type Publisher interface {
	PublishBuild(sse.BuildSummary)
}

// BuildInfo summarizes the published build.
type BuildInfo struct {
	ID       string         `json:"build_id"`
	Needs    int            `json:"needs"`
	Warnings []diag.Warning `json:"warnings"`
	BuiltAt  time.Time      `json:"built_at"`
	// Sources digests the source documents the build read.
	Sources string `json:"sources,omitempty"`
	// LastError is the error of the latest rebuild attempt, if it failed.
	LastError string `json:"last_error,omitempty"`
}

// TreeEntry is one need reached by a tree query.
type TreeEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Depth int    `json:"depth"`
}

// TreeQuery parameterizes Tree.
type TreeQuery struct {
	Direction  links.Direction
	Categories []string
	// MaxDepth nil means unbounded.
	MaxDepth *int
}

type snapshot struct {
	session *build.Session
	records map[string]map[string]any
	json    []byte
	etag    string
	sources string
	builtAt time.Time
}

// Service coordinates builds, the index and the event broker.
type Service struct {
	cfg     *registry.Config
	in      build.Inputs
	db      index.NeedIndex
	metrics *metrics.Metrics
	events  Publisher
	logger  *slog.Logger

	mu      sync.Mutex // serializes rebuilds
	current atomic.Pointer[snapshot]
	lastErr atomic.Pointer[string]
}

// Option configures a Service.
type Option func(*Service)

// WithIndex persists every published build into db.
func WithIndex(db index.NeedIndex) Option { return func(s *Service) { s.db = db } }

// WithMetrics records build metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithPublisher notifies p after every rebuild.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a service. No build runs until Rebuild is called.
func New(cfg *registry.Config, in build.Inputs, opts ...Option) *Service {
	s := &Service{cfg: cfg, in: in, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Rebuild runs a full build and publishes it. A failed build leaves the
// previous one in place. With fail_on_warnings the build is still
// published but the warning error is returned.
func (s *Service) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuild(ctx)
}

// RebuildIfChanged rebuilds only when the source documents differ from the
// last indexed build. Without an index it always rebuilds.
func (s *Service) RebuildIfChanged(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil && s.in.Loader.Provider != nil && s.current.Load() != nil {
		docs, err := s.documents()
		if err != nil {
			return false, err
		}
		paths, err := index.ChangedPaths(s.db, docs)
		if err != nil {
			return false, err
		}
		if len(paths) == 0 {
			s.logger.Debug("needservice: sources unchanged")
			return false, nil
		}
		s.logger.Info("needservice: sources changed", slog.Any("paths", paths))
	}
	return true, s.rebuild(ctx)
}

func (s *Service) rebuild(ctx context.Context) error {
	start := time.Now()
	opts := []build.Option{build.WithLogger(s.logger)}
	if s.metrics != nil {
		opts = append(opts, build.WithWarnHook(s.metrics.Warn))
	}
	sess, err := build.Run(ctx, s.cfg, s.in, opts...)
	publishable := sess != nil && (err == nil || errors.Is(err, build.ErrWarnings))

	needs := 0
	if sess != nil {
		needs = sess.Store.Len()
	}
	if s.metrics != nil {
		s.metrics.ObserveBuild(time.Since(start), needs, err)
	}
	if !publishable {
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.logger.Error("needservice: rebuild failed", slog.String("error", msg))
		s.notify(sse.BuildSummary{Failed: true, Error: msg})
		return err
	}

	var docs []storage.Document
	if s.in.Loader.Provider != nil {
		var derr error
		if docs, derr = s.documents(); derr != nil {
			s.logger.Warn("needservice: list documents failed", slog.String("error", derr.Error()))
		}
	}
	next, snapErr := s.snapshot(sess, docs)
	if snapErr != nil {
		msg := snapErr.Error()
		s.lastErr.Store(&msg)
		return snapErr
	}
	if s.db != nil {
		if derr := index.Sync(s.db, sess, docs, s.logger); derr != nil {
			s.logger.Warn("needservice: index sync failed", slog.String("error", derr.Error()))
		}
	}
	prev := s.current.Swap(next)
	s.lastErr.Store(nil)

	sum := sse.BuildSummary{ID: sess.ID, Needs: needs, Warnings: sess.Reporter.Count(), Changed: changedIDs(prev, next)}
	if err != nil {
		sum.Failed, sum.Error = true, err.Error()
		msg := err.Error()
		s.lastErr.Store(&msg)
	}
	s.notify(sum)
	s.logger.Info("needservice: build published",
		slog.String("build_id", sess.ID),
		slog.Int("needs", needs),
		slog.Int("changed", len(sum.Changed)),
	)
	return err
}

func (s *Service) notify(sum sse.BuildSummary) {
	if s.events != nil {
		s.events.PublishBuild(sum)
	}
}

func (s *Service) documents() ([]storage.Document, error) {
	src := s.in.Source
	return s.in.Loader.Provider.List(src.Dir, src.Include, src.Exclude)
}

func (s *Service) snapshot(sess *build.Session, docs []storage.Document) (*snapshot, error) {
	doc := sess.Document()
	raw, err := export.Marshal(doc)
	if err != nil {
		return nil, err
	}
	recs := make(map[string]map[string]any, sess.Store.Len())
	for _, n := range sess.Store.Values() {
		recs[n.ID] = export.Record(n)
	}
	return &snapshot{
		session: sess,
		records: recs,
		json:    raw,
		etag:    checksum.Sum(raw),
		sources: checksum.Tree(index.Checksums(docs)),
		builtAt: time.Now().UTC(),
	}, nil
}

// changedIDs lists the ids added, removed or modified between two builds,
// in next's order followed by removed ids.
func changedIDs(prev, next *snapshot) []string {
	var out []string
	for _, id := range next.session.Store.IDs() {
		if prev == nil {
			out = append(out, id)
			continue
		}
		if old, ok := prev.records[id]; !ok || !reflect.DeepEqual(old, next.records[id]) {
			out = append(out, id)
		}
	}
	if prev == nil {
		return out
	}
	for _, id := range prev.session.Store.IDs() {
		if _, ok := next.records[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) snap() (*snapshot, error) {
	cur := s.current.Load()
	if cur == nil {
		if msg := s.lastErr.Load(); msg != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoBuild, *msg)
		}
		return nil, ErrNoBuild
	}
	return cur, nil
}

// Info describes the published build.
func (s *Service) Info() (*BuildInfo, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	info := &BuildInfo{
		ID:       cur.session.ID,
		Needs:    cur.session.Store.Len(),
		Warnings: cur.session.Reporter.Warnings(),
		BuiltAt:  cur.builtAt,
		Sources:  cur.sources,
	}
	if msg := s.lastErr.Load(); msg != nil {
		info.LastError = *msg
	}
	return info, nil
}

// Config returns the needs configuration the service builds with.
func (s *Service) Config() *registry.Config { return s.cfg }

// queryFilter evaluates ad-hoc filters without touching the build's
// warning list.
func (s *Service) queryFilter() *filter.Filter {
	return filter.New(s.cfg.FilterData, s.cfg.AllowUnsafeFilters, diag.NewReporter(s.logger))
}

// Filter returns the exported records matching expr, sorted by sortBy.
func (s *Service) Filter(_ context.Context, expr, sortBy string) ([]map[string]any, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	hits, err := s.queryFilter().Needs(cur.session.Store.Values(), expr, filter.Options{SortBy: sortBy, Location: "query"})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(hits))
	for i, n := range hits {
		out[i] = cur.records[n.ID]
	}
	return out, nil
}

// Get returns the exported record of one need.
func (s *Service) Get(_ context.Context, id string) (map[string]any, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	rec, ok := cur.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: need %s", apperr.ErrNotFound, id)
	}
	return rec, nil
}

// Tree returns the needs reachable from root, ordered by depth then id
// order of the store.
func (s *Service) Tree(_ context.Context, root string, q TreeQuery) ([]TreeEntry, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	st := cur.session.Store
	if _, ok := st.Get(root); !ok {
		return nil, fmt.Errorf("%w: need %s", apperr.ErrNotFound, root)
	}
	cats := q.Categories
	if len(cats) == 0 {
		cats = s.cfg.LinkOptions()
	}
	if q.Direction == "" {
		q.Direction = links.Outgoing
	}
	depths := links.FilterByTree(st, root, cats, q.Direction, q.MaxDepth)

	out := make([]TreeEntry, 0, len(depths))
	maxD := 0
	for _, d := range depths {
		maxD = max(maxD, d)
	}
	ids := st.IDs()
	for d := 0; d <= maxD; d++ {
		for _, id := range ids {
			if depth, ok := depths[id]; ok && depth == d {
				n, _ := st.Get(id)
				out = append(out, TreeEntry{ID: id, Title: n.Title, Type: n.Type, Depth: d})
			}
		}
	}
	return out, nil
}

// Backlinks returns the ids linking to id in category, or in any category
// when category is empty.
func (s *Service) Backlinks(_ context.Context, id, category string) ([]string, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	n, ok := cur.session.Store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: need %s", apperr.ErrNotFound, id)
	}
	if s.db != nil {
		out, err := s.db.Backlinks(id, category)
		if err == nil {
			return nonNil(out), nil
		}
		s.logger.Warn("needservice: index backlinks failed", slog.String("error", err.Error()))
	}
	if category != "" {
		return nonNil(n.Back[category]), nil
	}
	var out []string
	for _, cat := range s.cfg.LinkOptions() {
		for _, src := range n.Back[cat] {
			out, _ = need.AppendUnique(out, src)
		}
	}
	return nonNil(out), nil
}

// Graph returns every need and resolved link.
func (s *Service) Graph(_ context.Context) ([]links.Node, []links.Edge, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, nil, err
	}
	nodes, edges := links.Graph(cur.session.Store, s.cfg.LinkOptions())
	if edges == nil {
		edges = []links.Edge{}
	}
	return nodes, edges, nil
}

// Search runs a full-text search. It uses the index when one is attached
// and a case-insensitive substring match otherwise.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if s.db != nil {
		return s.db.Search(query, limit)
	}
	q := strings.ToLower(query)
	out := []index.SearchResult{}
	for _, n := range cur.session.Store.Values() {
		if len(out) == limit {
			break
		}
		hay := strings.ToLower(n.ID + " " + n.Title + " " + n.Content + " " + strings.Join(n.Tags, " "))
		if strings.Contains(hay, q) {
			out = append(out, index.SearchResult{ID: n.ID, Title: n.Title, Snippet: snippet(n.Content)})
		}
	}
	return out, nil
}

// Document returns the needs.json bytes of the published build and their
// checksum.
func (s *Service) Document(_ context.Context) ([]byte, string, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, "", err
	}
	return cur.json, cur.etag, nil
}

// Select evaluates a JSONPath selector over the needs.json document.
func (s *Service) Select(_ context.Context, selector string) ([]any, error) {
	cur, err := s.snap()
	if err != nil {
		return nil, err
	}
	return export.Select(cur.session.Document(), selector)
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) > 200 {
		return string(r[:200])
	}
	return s
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
