package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/need"
)

func needs() []*need.Need {
	a := need.New("R_1")
	a.Type = "req"
	a.Title = "Build rocket"
	a.Content = "It must fly."
	open := "open"
	a.Status = &open
	a.Tags = []string{"space"}
	a.Links["links"] = []string{"S_1"}
	a.Extra["author"] = "ada"
	a.AddPart(need.NewPart("p1", "fuel"))

	b := need.New("S_1")
	b.Type = "spec"
	b.Links["links"] = []string{}
	b.Back["links"] = []string{"R_1"}
	return []*need.Need{a, b}
}

func fixed() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestBuild_Shape(t *testing.T) {
	doc := Builder{Project: "demo", Version: "1.0", Now: fixed}.Build(needs(), []FilterRecord{
		{ExportID: "open_reqs", Filter: `status == "open"`, Result: []string{"R_1"}},
	})
	assert.Equal(t, "2024-01-02T03:04:05Z", doc.Created)
	v := doc.Versions["1.0"]
	require.NotNil(t, v)
	assert.Equal(t, 2, v.NeedsAmount)
	assert.Equal(t, 1, v.FiltersAmount)
	assert.Equal(t, 1, v.Filters["open_reqs"].Amount)

	r := v.Needs["R_1"]
	assert.Equal(t, "It must fly.", r["description"])
	_, hasContent := r["content"]
	assert.False(t, hasContent)
	assert.Equal(t, []string{"S_1"}, r["links"])
	assert.Contains(t, r["parts"], "p1")
	assert.Equal(t, []string{"R_1"}, v.Needs["S_1"]["links_back"])
}

func TestWrite_ReproducibleAndDeterministic(t *testing.T) {
	b := Builder{Project: "demo", Version: "1.0", Reproducible: true}
	var first, second bytes.Buffer
	require.NoError(t, Write(&first, b.Build(needs(), nil)))
	rev := needs()
	rev[0], rev[1] = rev[1], rev[0]
	require.NoError(t, Write(&second, b.Build(rev, nil)))
	assert.Equal(t, first.String(), second.String())
	assert.NotContains(t, first.String(), `"created"`)
}

func TestLoad_RoundTrip(t *testing.T) {
	raw, err := Marshal(Builder{Project: "demo", Version: "1.0", Now: fixed}.Build(needs(), nil))
	require.NoError(t, err)

	doc, warns, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Empty(t, warns)
	assert.Equal(t, "demo", doc.Project)
	assert.Equal(t, "1.0", doc.CurrentVersion)
	v := doc.Versions["1.0"]
	assert.Equal(t, 2, v.NeedsAmount)
	assert.Equal(t, int64(0), v.Needs["R_1"]["lineno"])
}

func TestLoad_MalformedIsFatal(t *testing.T) {
	_, _, err := Load(strings.NewReader(`{"versions": `))
	require.ErrorIs(t, err, apperr.ErrMalformedExport)
	assert.True(t, apperr.IsFatal(err))
}

func TestLoad_SchemaViolationsWarn(t *testing.T) {
	src := `{"project": "x", "current_version": "1", "versions": {"1": {"needs": {"A": {"id": "A", "tags": "oops", "hide": "no"}}}}}`
	doc, warns, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	assert.NotEmpty(t, warns)
	assert.Contains(t, doc.Versions["1"].Needs, "A")
}

func TestKeepVersions(t *testing.T) {
	prev := Builder{Project: "demo", Version: "0.9", Reproducible: true}.Build(needs(), nil)
	cur := Builder{Project: "demo", Version: "1.0", Reproducible: true}.Build(needs()[:1], nil)
	cur.KeepVersions(prev)
	assert.Len(t, cur.Versions, 2)
	assert.Equal(t, 1, cur.Versions["1.0"].NeedsAmount)
}

func TestSelect(t *testing.T) {
	doc := Builder{Project: "demo", Version: "1.0", Reproducible: true}.Build(needs(), nil)
	got, err := Select(doc, "$.versions.*.needs[?(@.type == 'spec')].id")
	require.NoError(t, err)
	assert.Equal(t, []any{"S_1"}, got)

	_, err = Select(doc, "$[[[")
	assert.Error(t, err)
}

func TestToNeeds(t *testing.T) {
	raw, err := Marshal(Builder{Project: "demo", Version: "1.0", Reproducible: true}.Build(needs(), nil))
	require.NoError(t, err)
	doc, _, err := Load(bytes.NewReader(raw))
	require.NoError(t, err)

	got, warns, err := ToNeeds(doc, ImportOptions{
		IDPrefix:    "EXT_",
		Tags:        []string{"imported"},
		Hide:        true,
		LinkOptions: []string{"links"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	r := got[0]
	assert.Equal(t, "EXT_R_1", r.ID)
	assert.Equal(t, "req", r.Type)
	assert.Equal(t, "It must fly.", r.Content)
	assert.Equal(t, "open", r.StatusValue())
	assert.Equal(t, []string{"EXT_S_1"}, r.Links["links"])
	assert.Equal(t, []string{"space", "imported"}, r.Tags)
	assert.True(t, r.IsImport)
	assert.True(t, r.Hide)
	assert.Contains(t, r.Parts, "p1")
	// author is not declared here
	require.NotEmpty(t, warns)
	assert.Contains(t, strings.Join(warns, "\n"), `"author"`)

	kept, _, err := ToNeeds(doc, ImportOptions{LinkOptions: []string{"links"}, Keep: func(n *need.Need) bool { return n.Type == "spec" }})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "S_1", kept[0].ID)

	_, _, err = ToNeeds(doc, ImportOptions{Version: "9.9"})
	assert.Error(t, err)
}
