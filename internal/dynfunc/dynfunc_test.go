package dynfunc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/diag"
	"github.com/starford/tiwaz/internal/filter"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/store"
)

func newNeed(id, status string) *need.Need {
	n := need.New(id)
	n.Type = "req"
	s := status
	n.Status = &s
	n.Links["links"] = nil
	n.Extra["effort"] = ""
	return n
}

func setup(t *testing.T) (*store.Store, *Resolver, *diag.Reporter) {
	t.Helper()
	s := store.New()
	a := newNeed("A", "open")
	a.Extra["effort"] = "2"
	b := newNeed("B", "open")
	b.Extra["effort"] = "3.5"
	c := newNeed("C", "closed")
	c.Extra["effort"] = "x"
	for _, n := range []*need.Need{a, b, c} {
		require.NoError(t, s.Add(n))
	}
	rep := diag.NewReporter(nil)
	return s, &Resolver{Registry: Default(), Filter: filter.New(nil, false, rep), Reporter: rep}, rep
}

func TestParse_Segments(t *testing.T) {
	segs, err := Parse("pre [[echo('x')]] mid [[copy('title', filter='a in [1]')]]")
	require.NoError(t, err)
	require.Len(t, segs, 4)
	assert.Equal(t, "pre ", segs[0].Text)
	assert.Equal(t, "echo", segs[1].Call.Name)
	assert.Equal(t, " mid ", segs[2].Text)
	assert.Equal(t, "a in [1]", segs[3].Call.Kwargs["filter"])
}

func TestParse_Unbalanced(t *testing.T) {
	for _, v := range []string{"[[echo('x')", "echo('x')]]", "[[echo('x')]] ]]", "[[ 1 + ]]"} {
		_, err := Parse(v)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), v)
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := Default()
	err := r.Register("echo", echo)
	require.ErrorIs(t, err, apperr.ErrDuplicateFunction)
	assert.Contains(t, r.Names(), "calc_sum")
}

func TestResolve_StringConcatenation(t *testing.T) {
	s, r, rep := setup(t)
	a, _ := s.Get("A")
	a.Title = "status is [[copy('status')]] and [[echo('done')]]"
	r.ResolveAll(s)
	assert.Equal(t, "status is open and done", a.Title)
	assert.Zero(t, rep.Count())
}

func TestResolve_CalcSum(t *testing.T) {
	s, r, _ := setup(t)
	a, _ := s.Get("A")
	a.Extra["effort"] = "[[calc_sum('effort', 'status == \"open\" and id != \"A\"')]]"
	r.ResolveAll(s)
	assert.Equal(t, "3.5", a.Extra["effort"])
}

func TestResolve_ListSplicesResults(t *testing.T) {
	s, r, _ := setup(t)
	b, _ := s.Get("B")
	b.Links["links"] = []string{"A"}
	c, _ := s.Get("C")
	c.Links["links"] = []string{"C2", "[[copy('links', 'B')]]"}
	r.ResolveAll(s)
	assert.Equal(t, []string{"C2", "A"}, c.Links["links"])
}

func TestResolve_ErrorLeavesFieldAndWarns(t *testing.T) {
	s, r, rep := setup(t)
	a, _ := s.Get("A")
	a.Title = "x [[nosuch()]]"
	a.Style = "[[echo('red')"
	r.ResolveAll(s)
	assert.Equal(t, "x [[nosuch()]]", a.Title)
	assert.Equal(t, "[[echo('red')", a.Style)
	assert.Equal(t, 2, rep.Count())
	assert.Equal(t, diag.KindDynFunc, rep.Warnings()[0].Kind)
}

func TestCheckLinkedValues(t *testing.T) {
	s, r, _ := setup(t)
	a, _ := s.Get("A")
	a.Links["links"] = []string{"B", "C"}
	c := Call{Store: s, Need: a, Filter: r.Filter}

	v, err := checkLinkedValues(c, []any{"ok", "status", "open"}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = checkLinkedValues(c, []any{"ok", "status", "open", nil, true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = checkLinkedValues(c, []any{"ok", "status", []any{"open", "closed"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestLinksFromContent(t *testing.T) {
	s, r, _ := setup(t)
	a, _ := s.Get("A")
	a.Content = "see :need:`B` and :need:`the C one <C>` and :need:`B`"
	v, err := linksFromContent(Call{Store: s, Need: a, Filter: r.Filter}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, v)

	v, err = linksFromContent(Call{Store: s, Need: a, Filter: r.Filter}, nil, map[string]any{"filter": `status == "closed"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, v)
}

func TestCopy_UpperAndMissing(t *testing.T) {
	s, r, _ := setup(t)
	a, _ := s.Get("A")
	c := Call{Store: s, Need: a, Filter: r.Filter}
	v, err := copyField(c, []any{"status", "C"}, map[string]any{"upper": true})
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", v)

	_, err = copyField(c, []any{"status", "NOPE"}, nil)
	assert.Error(t, err)
}
