package needservice

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/build"
	"github.com/starford/tiwaz/internal/links"
	"github.com/starford/tiwaz/internal/metrics"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/sse"
	tu "github.com/starford/tiwaz/internal/testutil"
)

const reqsDoc = "# Requirements\n\n```need\ntype: req\nid: REQ_1\ntitle: Login\nstatus: open\ntags: auth\n---\nUsers log in with a password.\n```\n\n```need\ntype: req\nid: REQ_2\ntitle: Logout\nstatus: done\n```\n"

const specsDoc = "# Specs\n\n```need\ntype: spec\nid: SPEC_1\ntitle: Login form\nlinks: REQ_1\n```\n\n```need\ntype: test\nid: TEST_1\ntitle: Login test\nlinks: SPEC_1\n---\nuniqueword\n```\n"

type recorder struct {
	mu   sync.Mutex
	sums []sse.BuildSummary
}

func (r *recorder) PublishBuild(s sse.BuildSummary) {
	r.mu.Lock()
	r.sums = append(r.sums, s)
	r.mu.Unlock()
}

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func newService(t *testing.T, files map[string]string, opts ...Option) (*Service, string) {
	t.Helper()
	dir, fs := tu.TestSource(t, files)
	in := build.Inputs{Loader: build.Loader{Provider: fs}}
	opts = append([]Option{WithLogger(quiet())}, opts...)
	return New(registry.NewDefault(), in, opts...), dir
}

func TestQueriesBeforeBuild(t *testing.T) {
	s, _ := newService(t, nil)
	_, err := s.Get(context.Background(), "REQ_1")
	assert.ErrorIs(t, err, ErrNoBuild)
}

func TestRebuildAndQuery(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := metrics.New()
	s, _ := newService(t, map[string]string{"reqs.md": reqsDoc, "specs.md": specsDoc},
		WithPublisher(rec), WithMetrics(m))
	require.NoError(t, s.Rebuild(ctx))

	info, err := s.Info()
	require.NoError(t, err)
	assert.Equal(t, 4, info.Needs)
	assert.NotEmpty(t, info.Sources)

	got, err := s.Get(ctx, "REQ_1")
	require.NoError(t, err)
	assert.Equal(t, "Login", got["title"])
	assert.Equal(t, []string{"SPEC_1"}, got["links_back"])

	_, err = s.Get(ctx, "NOPE")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	hits, err := s.Filter(ctx, "type == 'req' and status == 'open'", "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "REQ_1", hits[0]["id"])

	require.Len(t, rec.sums, 1)
	assert.Equal(t, 4, rec.sums[0].Needs)
	assert.Len(t, rec.sums[0].Changed, 4)
	n, err := testutil.GatherAndCount(m.Registry, "tiwaz_builds_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTreeAndBacklinks(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, map[string]string{"reqs.md": reqsDoc, "specs.md": specsDoc})
	require.NoError(t, s.Rebuild(ctx))

	tree, err := s.Tree(ctx, "REQ_1", TreeQuery{Direction: links.Incoming})
	require.NoError(t, err)
	require.Len(t, tree, 3)
	assert.Equal(t, "REQ_1", tree[0].ID)
	assert.Equal(t, "SPEC_1", tree[1].ID)
	assert.Equal(t, 2, tree[2].Depth)

	one := 1
	tree, err = s.Tree(ctx, "REQ_1", TreeQuery{Direction: links.Incoming, MaxDepth: &one})
	require.NoError(t, err)
	assert.Len(t, tree, 2)

	_, err = s.Tree(ctx, "NOPE", TreeQuery{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	bl, err := s.Backlinks(ctx, "SPEC_1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"TEST_1"}, bl)
}

func TestIndexBackedQueries(t *testing.T) {
	ctx := context.Background()
	db := tu.TestDB(t)
	s, _ := newService(t, map[string]string{"reqs.md": reqsDoc, "specs.md": specsDoc}, WithIndex(db))
	require.NoError(t, s.Rebuild(ctx))

	bl, err := s.Backlinks(ctx, "REQ_1", "links")
	require.NoError(t, err)
	assert.Equal(t, []string{"SPEC_1"}, bl)

	res, err := s.Search(ctx, "uniqueword", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "TEST_1", res[0].ID)

	changed, err := s.RebuildIfChanged(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "unchanged sources should skip the rebuild")
}

func TestRebuildIfChanged_ReportsChangedNeeds(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	db := tu.TestDB(t)
	s, dir := newService(t, map[string]string{"reqs.md": reqsDoc}, WithIndex(db), WithPublisher(rec))
	require.NoError(t, s.Rebuild(ctx))

	tu.WriteFile(t, dir, "specs.md", specsDoc)
	changed, err := s.RebuildIfChanged(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	require.Len(t, rec.sums, 2)
	// REQ_1 gains a back link, SPEC_1 and TEST_1 are new.
	assert.Equal(t, []string{"REQ_1", "SPEC_1", "TEST_1"}, rec.sums[1].Changed)
}

func TestFailedRebuildKeepsPreviousBuild(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s, dir := newService(t, map[string]string{"reqs.md": reqsDoc}, WithPublisher(rec))
	require.NoError(t, s.Rebuild(ctx))

	tu.WriteFile(t, dir, "dup.md", "```need\ntype: req\nid: REQ_1\ntitle: Again\n```\n")
	err := s.Rebuild(ctx)
	require.ErrorIs(t, err, apperr.ErrDuplicateID)

	got, err := s.Get(ctx, "REQ_1")
	require.NoError(t, err)
	assert.Equal(t, "Login", got["title"])

	info, err := s.Info()
	require.NoError(t, err)
	assert.NotEmpty(t, info.LastError)
	assert.True(t, rec.sums[1].Failed)
}

func TestDocumentAndSelect(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, map[string]string{"reqs.md": reqsDoc})
	require.NoError(t, s.Rebuild(ctx))

	raw, etag, err := s.Document(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"REQ_1"`)
	assert.NotEmpty(t, etag)

	ids, err := s.Select(ctx, "$.versions.*.needs[?(@.status == 'open')].id")
	require.NoError(t, err)
	assert.Equal(t, []any{"REQ_1"}, ids)
}

func TestSearch_InMemory(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, map[string]string{"reqs.md": reqsDoc})
	require.NoError(t, s.Rebuild(ctx))

	res, err := s.Search(ctx, "PASSWORD", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "REQ_1", res[0].ID)
}
