package build

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/export"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/parser"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/storage"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func session(t *testing.T, mutate ...func(*registry.Config)) *Session {
	t.Helper()
	cfg := registry.NewDefault()
	for _, m := range mutate {
		m(cfg)
	}
	s, err := NewSession(cfg, quiet())
	require.NoError(t, err)
	return s
}

func strp(s string) *string { return &s }

func kinds(ws []diag.Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Kind
	}
	return out
}

func TestMinimalLifecycle(t *testing.T) {
	s := session(t)
	first, err := s.AddNeed(Params{Type: "req", Title: "Build rocket"})
	require.NoError(t, err)

	sum := sha1.Sum([]byte("Build rocket")) //nolint:gosec
	want := "R_" + strings.ToUpper(hex.EncodeToString(sum[:]))[:5]
	assert.Equal(t, want, first.ID)

	again, err := session(t).AddNeed(Params{Type: "req", Title: "Build rocket"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = s.AddNeed(Params{Type: "req", ID: "REQ_1", Title: "One"})
	require.NoError(t, err)
	_, err = s.AddNeed(Params{Type: "req", ID: "REQ_2", Title: "Two", Options: map[string]any{"links": []any{"REQ_1"}}})
	require.NoError(t, err)

	require.NoError(t, s.PostProcess())
	req1, _ := s.Store.Get("REQ_1")
	assert.Equal(t, []string{"REQ_2"}, req1.Back["links"])
	assert.Equal(t, "Requirement", req1.TypeName)
}

func TestAddNeed_Errors(t *testing.T) {
	s := session(t, func(c *registry.Config) {
		c.Statuses = []registry.AllowedValue{{Name: "open"}}
		c.Tags = []registry.AllowedValue{{Name: "space"}}
	})
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_1"})
	require.NoError(t, err)

	cases := []struct {
		name string
		p    Params
		want error
	}{
		{"unknown type", Params{Type: "story", ID: "REQ_9"}, apperr.ErrUnknownType},
		{"invalid id", Params{Type: "req", ID: "r1"}, apperr.ErrInvalidID},
		{"duplicate", Params{Type: "req", ID: "REQ_1"}, apperr.ErrDuplicateID},
		{"status", Params{Type: "req", ID: "REQ_2", Status: strp("closed")}, apperr.ErrStatusNotAllowed},
		{"tag", Params{Type: "req", ID: "REQ_3", Tags: "space, moon"}, apperr.ErrTagNotAllowed},
		{"constraint", Params{Type: "req", ID: "REQ_4", Constraints: "nope"}, apperr.ErrConstraintNotAllowed},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := s.AddNeed(c.p)
			require.ErrorIs(t, err, c.want)
			assert.True(t, apperr.IsFatal(err))
		})
	}
	assert.Equal(t, 1, s.Store.Len())

	t.Run("truncated id collision", func(t *testing.T) {
		short := session(t, func(c *registry.Config) { c.IDLength = 1 })
		first, err := short.AddNeed(Params{Type: "req", Title: "t1"})
		require.NoError(t, err)
		assert.Equal(t, "R_E", first.ID)

		_, err = short.AddNeed(Params{Type: "req", Title: "t6"})
		require.ErrorIs(t, err, apperr.ErrDuplicateID)
		assert.True(t, apperr.IsFatal(err))
		assert.Equal(t, 1, short.Store.Len())
	})
}

func TestAddNeed_IDRequired(t *testing.T) {
	s := session(t, func(c *registry.Config) { c.IDRequired = true })
	_, err := s.AddNeed(Params{Type: "req", Title: "No id", DocName: "index", LineNo: 4})
	require.ErrorIs(t, err, apperr.ErrMissingID)
	assert.Contains(t, err.Error(), "index:4")
}

func TestAddNeed_DeleteFlag(t *testing.T) {
	s := session(t)
	n, err := s.AddNeed(Params{Type: "req", ID: "REQ_1", Delete: true})
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Zero(t, s.Store.Len())
}

func TestAddNeed_FieldsAndDefaults(t *testing.T) {
	s := session(t, func(c *registry.Config) {
		c.ExtraOptions = []string{"author", "priority"}
		c.ExtraLinks = []registry.LinkTypeConfig{{Option: "tests", Copy: true}, {Option: "blocks"}}
		c.MaxTitleLength = 8
	})
	n, err := s.AddNeed(Params{
		Type:    "spec",
		ID:      "SPEC_1",
		Title:   "A rather long title",
		Tags:    "a,,b",
		Content: "Text :np:`(p1) part one`",
		Options: map[string]any{"author": "ada", "tests": "TEST_1; TEST_2", "blocks": "X_1", "bogus": 1},
		Parts:   nil,
	})
	require.NoError(t, err)
	assert.Equal(t, "A rat...", n.Title)
	assert.Equal(t, "A rather long title", n.FullTitle)
	assert.Equal(t, []string{"a", "b"}, n.Tags)
	assert.Equal(t, "ada", n.Extra["author"])
	assert.Equal(t, "", n.Extra["priority"])
	assert.Equal(t, []string{"TEST_1", "TEST_2"}, n.Links["tests"])
	assert.Equal(t, []string{"TEST_1", "TEST_2"}, n.Links["links"])
	assert.Equal(t, []string{"X_1"}, n.Links["blocks"])
	assert.Equal(t, []string{}, n.Back["blocks"])
	assert.Contains(t, kinds(s.Reporter.Warnings()), diag.KindScruffy)
	assert.Contains(t, kinds(s.Reporter.Warnings()), diag.KindParse)
}

func TestPostProcess_DeadLinks(t *testing.T) {
	s := session(t, func(c *registry.Config) {
		c.ExtraLinks = []registry.LinkTypeConfig{{Option: "soft", AllowDeadLinks: true}}
	})
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_A", Options: map[string]any{"links": "REQ_999"}})
	require.NoError(t, err)
	_, err = s.AddNeed(Params{Type: "req", ID: "REQ_B", Options: map[string]any{"soft": "REQ_998"}})
	require.NoError(t, err)
	require.NoError(t, s.PostProcess())

	a, _ := s.Store.Get("REQ_A")
	assert.True(t, a.HasDeadLinks)
	assert.True(t, a.HasForbiddenDeadLinks)
	b, _ := s.Store.Get("REQ_B")
	assert.True(t, b.HasDeadLinks)
	assert.False(t, b.HasForbiddenDeadLinks)

	ws := s.Reporter.Warnings()
	require.Len(t, ws, 1)
	assert.Equal(t, diag.KindDeadLink, ws[0].Kind)
	assert.Contains(t, ws[0].Message, "REQ_A")
	assert.Contains(t, ws[0].Message, "REQ_999")
}

func TestPostProcess_RunsOnce(t *testing.T) {
	s := session(t)
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_1"})
	require.NoError(t, err)
	_, err = s.AddNeed(Params{Type: "req", ID: "REQ_2", Options: map[string]any{"links": "REQ_1"}})
	require.NoError(t, err)
	x := ExtendFromBlock("index", blockOf(map[string]any{"target": "REQ_1", "+tags": "x"}))
	s.AddExtend(x)

	require.NoError(t, s.PostProcess())
	require.NoError(t, s.PostProcess())
	s.BuildBackLinks()

	r1, _ := s.Store.Get("REQ_1")
	assert.Equal(t, []string{"REQ_2"}, r1.Back["links"])
	assert.Equal(t, []string{"x"}, r1.Tags)
	assert.Equal(t, 1, r1.Modifications)
	assert.True(t, s.Workflow.BackLinksBuilt["links"])
	assert.True(t, s.Workflow.ConstraintsChecked)
}

func TestPostProcess_DynamicFunctionsBeforeFilters(t *testing.T) {
	s := session(t)
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_1", Status: strp("open"), Title: "Status is [[copy('status')]]"})
	require.NoError(t, err)
	s.AddFilter(FilterDirective{ExportID: "titled", Spec: filterSpec(`title == "Status is open"`)})
	require.NoError(t, s.PostProcess())

	n, _ := s.Store.Get("REQ_1")
	assert.Equal(t, "Status is open", n.Title)
	require.Len(t, s.Filters(), 1)
	assert.Equal(t, []string{"REQ_1"}, s.Filters()[0].Result)
}

func TestPostProcess_WarningsRegistry(t *testing.T) {
	s := session(t, func(c *registry.Config) {
		c.Warnings = map[string]string{"no_status": "status is None", "never": "False"}
	})
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_1"})
	require.NoError(t, err)
	_, err = s.AddNeed(Params{Type: "req", ID: "REQ_2", Status: strp("open")})
	require.NoError(t, err)
	require.NoError(t, s.PostProcess())

	ws := s.Reporter.Warnings()
	require.Len(t, ws, 1)
	assert.Equal(t, diag.KindRegistry, ws[0].Kind)
	assert.Equal(t, "no_status: failed, failed needs: 1 (REQ_1)", ws[0].Message)
}

func TestPostProcess_WarningsListMatchesInStoreOrder(t *testing.T) {
	s := session(t, func(c *registry.Config) {
		c.Warnings = map[string]string{"untitled": `title == ""`, "broken": "nosuch(id)"}
	})
	for _, id := range []string{"REQ_B", "REQ_A", "REQ_C"} {
		p := Params{Type: "req", ID: id}
		if id == "REQ_A" {
			p.Title = "named"
		}
		_, err := s.AddNeed(p)
		require.NoError(t, err)
	}
	require.NoError(t, s.PostProcess())

	ws := s.Reporter.Warnings()
	require.Len(t, ws, 2)
	assert.Contains(t, ws[0].Message, "broken: filter")
	assert.Equal(t, "untitled: failed, failed needs: 2 (REQ_B, REQ_C)", ws[1].Message)
}

func TestPostProcess_ConstraintBreakAborts(t *testing.T) {
	s := session(t, func(c *registry.Config) {
		c.Constraints = map[string]registry.ConstraintConfig{
			"owned": {Checks: map[string]string{"open": `status == "open"`}, Severity: "critical"},
		}
		c.ConstraintFailedOptions = map[string]registry.FailurePolicy{
			"critical": {OnFail: []string{registry.OnFailBreak}},
		}
	})
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_1", Constraints: "owned"})
	require.NoError(t, err)
	err = s.PostProcess()
	require.ErrorIs(t, err, apperr.ErrConstraintFailed)
	assert.False(t, s.Workflow.ConstraintsChecked)
	assert.False(t, s.Workflow.WarningsChecked)
}

const docA = "# Alpha\n\n```need\ntype: req\nid: REQ_1\ntitle: First\nstatus: open\n---\nBody :np:`(p1) part`\n```\n\n```needextend\ntarget: REQ_2\n+tags: extended\n```\n"

const docB = "# Beta\n\n```need\ntype: spec\nid: SPEC_1\ntitle: Second\nlinks: REQ_1.p1, REQ_2\n```\n\n```need\ntype: req\nid: REQ_2\ntitle: Third\n```\n\n```needfilter\nexport_id: reqs\ntypes: req\nsort_by: id\n```\n"

func sourceTree(t *testing.T, files map[string]string) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	for name, body := range files {
		require.NoError(t, fs.Write(name, []byte(body)))
	}
	return fs
}

func TestScan_MergesInDocumentOrder(t *testing.T) {
	fs := sourceTree(t, map[string]string{"a.md": docA, "b/b.md": docB, "notes.txt": "ignored"})
	for _, workers := range []int{1, 4} {
		s := session(t)
		require.NoError(t, s.Scan(context.Background(), fs, Source{Workers: workers}))
		assert.Equal(t, []string{"REQ_1", "SPEC_1", "REQ_2"}, s.Store.IDs())
		assert.True(t, s.Workflow.Collected)

		require.NoError(t, s.PostProcess())
		r1, _ := s.Store.Get("REQ_1")
		assert.Equal(t, "a", r1.DocName)
		assert.Equal(t, "Alpha", r1.SectionName)
		assert.Equal(t, []string{"SPEC_1"}, r1.Back["links"])
		assert.Equal(t, []string{"SPEC_1"}, r1.Parts["p1"].Back["links"])
		r2, _ := s.Store.Get("REQ_2")
		assert.Equal(t, []string{"extended"}, r2.Tags)

		require.Len(t, s.Filters(), 1)
		assert.Equal(t, []string{"REQ_1", "REQ_2"}, s.Filters()[0].Result)
	}
}

func TestScan_DuplicateAcrossDocuments(t *testing.T) {
	fs := sourceTree(t, map[string]string{"a.md": docA, "c.md": "```need\ntype: req\nid: REQ_1\n```\n"})
	err := session(t).Scan(context.Background(), fs, Source{Workers: 2})
	require.ErrorIs(t, err, apperr.ErrDuplicateID)
	assert.Contains(t, err.Error(), "REQ_1")
}

func TestScan_Exclude(t *testing.T) {
	fs := sourceTree(t, map[string]string{"a.md": docA, "drafts/b.md": docB})
	s := session(t)
	require.NoError(t, s.Scan(context.Background(), fs, Source{Exclude: []string{"drafts/**"}}))
	assert.Equal(t, []string{"REQ_1"}, s.Store.IDs())
}

func exported(t *testing.T) []byte {
	t.Helper()
	src := session(t)
	for _, p := range []Params{
		{Type: "req", ID: "REQ_1", Title: "One", DocName: "reqs", Status: strp("open"), Tags: "space"},
		{Type: "spec", ID: "SPEC_1", Title: "Two", DocName: "specs", Options: map[string]any{"links": "REQ_1"}},
		{Type: "test", ID: "TEST_1", Title: "Three", DocName: "tests", Content: "checks", Options: map[string]any{"links": "SPEC_1"}},
	} {
		_, err := src.AddNeed(p)
		require.NoError(t, err)
	}
	require.NoError(t, src.PostProcess())
	raw, err := export.Marshal(src.Document())
	require.NoError(t, err)
	return raw
}

func TestExportImportRoundTrip(t *testing.T) {
	raw := exported(t)
	fs := sourceTree(t, map[string]string{"ext/needs.json": string(raw)})

	s := session(t, func(c *registry.Config) {
		c.Imports = []registry.ImportSource{{Path: "ext/needs.json", Tags: []string{"imported"}}}
	})
	require.NoError(t, s.LoadImports(context.Background(), Loader{Provider: fs}))
	require.NoError(t, s.PostProcess())
	require.Equal(t, 3, s.Store.Len())

	r1, _ := s.Store.Get("REQ_1")
	assert.True(t, r1.IsImport)
	assert.Equal(t, "open", r1.StatusValue())
	assert.Equal(t, []string{"space", "imported"}, r1.Tags)
	assert.Equal(t, []string{"SPEC_1"}, r1.Back["links"])
	t1, _ := s.Store.Get("TEST_1")
	assert.Equal(t, "checks", t1.Content)
	assert.Equal(t, "tests", t1.DocName)
	assert.Equal(t, "Three", t1.Title)
}

func TestImport_PrefixAndFilter(t *testing.T) {
	fs := sourceTree(t, map[string]string{"needs.json": string(exported(t))})
	s := session(t, func(c *registry.Config) {
		c.Imports = []registry.ImportSource{{Path: "needs.json", IDPrefix: "EXT_", Filter: `type != "test"`}}
	})
	require.NoError(t, s.LoadImports(context.Background(), Loader{Provider: fs}))
	assert.Equal(t, []string{"EXT_REQ_1", "EXT_SPEC_1"}, s.Store.IDs())
	spec, _ := s.Store.Get("EXT_SPEC_1")
	assert.Equal(t, []string{"EXT_REQ_1"}, spec.Links["links"])
}

func TestExternal_URLAndReload(t *testing.T) {
	raw := exported(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	s := session(t, func(c *registry.Config) {
		c.ExternalNeeds = []registry.ExternalSource{
			{BaseURL: "https://other.example/docs/", JSONURL: srv.URL, IDPrefix: "EXT_"},
		}
	})
	l := Loader{Client: srv.Client()}
	require.NoError(t, s.LoadExternal(context.Background(), l))
	require.NoError(t, s.LoadExternal(context.Background(), l))
	require.Equal(t, 3, s.Store.Len())

	n, _ := s.Store.Get("EXT_REQ_1")
	assert.True(t, n.IsExternal)
	assert.Equal(t, "https://other.example/docs/reqs.html#REQ_1", n.ExternalURL)

	assert.Empty(t, s.Document().Versions[s.Config.Version].Needs)
}

func TestExternal_LocalIDConflict(t *testing.T) {
	fs := sourceTree(t, map[string]string{"needs.json": string(exported(t))})
	s := session(t, func(c *registry.Config) {
		c.ExternalNeeds = []registry.ExternalSource{{BaseURL: "https://x", JSONPath: "needs.json"}}
	})
	_, err := s.AddNeed(Params{Type: "req", ID: "REQ_1"})
	require.NoError(t, err)
	err = s.LoadExternal(context.Background(), Loader{Provider: fs})
	require.ErrorIs(t, err, apperr.ErrDuplicateID)
}

func TestExternalURL_Template(t *testing.T) {
	src := registry.ExternalSource{BaseURL: "https://x.example", TargetURL: "issue/{{need.id}}?d={{ need['docname'] }}"}
	got := ExternalURL(src, map[string]any{"id": "REQ_1", "docname": "reqs"})
	assert.Equal(t, "https://x.example/issue/REQ_1?d=reqs", got)
}

func TestRun_FailOnWarnings(t *testing.T) {
	fs := sourceTree(t, map[string]string{"a.md": "```need\ntype: req\nid: REQ_1\nlinks: NOPE_1\n```\n"})
	cfg := registry.NewDefault()
	cfg.FailOnWarnings = true
	s, err := Run(context.Background(), cfg, Inputs{Loader: Loader{Provider: fs}}, quiet())
	require.ErrorIs(t, err, ErrWarnings)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Reporter.Count())
}

func blockOf(fields map[string]any) parser.Block {
	return parser.Block{Kind: parser.KindNeedExtend, Line: 1, Fields: fields}
}

func filterSpec(src string) filter.Spec {
	return filter.Spec{Filter: src}
}
