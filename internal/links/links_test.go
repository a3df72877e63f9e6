package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/registry"
	"github.com/starford/tiwaz/internal/store"
)

func build(t *testing.T, defs map[string][]string, order ...string) *store.Store {
	t.Helper()
	s := store.New()
	for _, id := range order {
		n := need.New(id)
		n.Links["links"] = defs[id]
		require.NoError(t, s.Add(n))
	}
	return s
}

func TestReadLinks(t *testing.T) {
	got, _ := ReadLinks("A, B;C")
	assert.Equal(t, []string{"A", "B", "C"}, got)
	got, _ = ReadLinks([]any{"A", " B "})
	assert.Equal(t, []string{"A", "B"}, got)
	got, _ = ReadLinks(nil)
	assert.Empty(t, got)
}

func TestBuildBackLinks_Idempotent(t *testing.T) {
	s := build(t, map[string][]string{"A": {"B"}, "C": {"B", "A"}}, "A", "B", "C")
	BuildBackLinks(s, "links")
	BuildBackLinks(s, "links")

	b, _ := s.Get("B")
	assert.Equal(t, []string{"A", "C"}, b.Back["links"])
	a, _ := s.Get("A")
	assert.Equal(t, []string{"C"}, a.Back["links"])
}

func TestBuildBackLinks_Part(t *testing.T) {
	s := store.New()
	tgt := need.New("T")
	tgt.AddPart(need.NewPart("p1", "x"))
	require.NoError(t, s.Add(tgt))
	src := need.New("S")
	src.Links["links"] = []string{"T.p1"}
	require.NoError(t, s.Add(src))

	BuildBackLinks(s, "links")
	assert.Equal(t, []string{"S"}, tgt.Back["links"])
	assert.Equal(t, []string{"S"}, tgt.Parts["p1"].Back["links"])
}

func TestCheckDeadLinks(t *testing.T) {
	s := build(t, map[string][]string{"A": {"B", "GONE", "ALSO_GONE"}}, "A", "B")
	types := []registry.LinkTypeConfig{{Option: "links"}}

	dead := CheckDeadLinks(s, types)
	require.Len(t, dead, 1)
	assert.Equal(t, "GONE", dead[0].Target)
	assert.True(t, dead[0].Forbidden)

	a, _ := s.Get("A")
	assert.True(t, a.HasDeadLinks)
	assert.True(t, a.HasForbiddenDeadLinks)
}

func TestCheckDeadLinks_Allowed(t *testing.T) {
	s := build(t, map[string][]string{"A": {"X.p9"}}, "A")
	dead := CheckDeadLinks(s, []registry.LinkTypeConfig{{Option: "links", AllowDeadLinks: true}})
	require.Len(t, dead, 1)
	assert.False(t, dead[0].Forbidden)
	a, _ := s.Get("A")
	assert.True(t, a.HasDeadLinks)
	assert.False(t, a.HasForbiddenDeadLinks)
}

func TestFilterByTree_Cycle(t *testing.T) {
	s := build(t, map[string][]string{"A": {"B"}, "B": {"A", "C"}}, "A", "B", "C")
	got := FilterByTree(s, "A", []string{"links"}, Outgoing, nil)
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "C": 2}, got)

	one := 1
	got = FilterByTree(s, "A", []string{"links"}, Outgoing, &one)
	assert.Equal(t, map[string]int{"A": 0, "B": 1}, got)

	assert.Empty(t, FilterByTree(s, "NOPE", []string{"links"}, Outgoing, nil))
}

func TestFilterByTree_Incoming(t *testing.T) {
	s := build(t, map[string][]string{"A": {"B"}, "B": {"C"}}, "A", "B", "C")
	BuildBackLinks(s, "links")
	got := FilterByTree(s, "C", []string{"links"}, Incoming, nil)
	assert.Equal(t, map[string]int{"C": 0, "B": 1, "A": 2}, got)

	both := FilterByTree(s, "B", []string{"links"}, Both, nil)
	assert.Equal(t, map[string]int{"B": 0, "A": 1, "C": 1}, both)
}

func TestGraph_SkipsDeadTargets(t *testing.T) {
	s := build(t, map[string][]string{"A": {"B", "GONE"}}, "A", "B")
	nodes, edges := Graph(s, []string{"links"})
	assert.Len(t, nodes, 2)
	assert.Equal(t, []Edge{{Source: "A", Target: "B", Category: "links"}}, edges)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Outgoing, d)
	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
