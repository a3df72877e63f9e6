package need

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Need {
	n := New("REQ_1")
	n.Type = "req"
	n.Title = "Build rocket"
	n.Tags = []string{"a", "b"}
	n.Links["links"] = []string{"REQ_2"}
	n.Links["tests"] = nil
	n.Back["links"] = []string{"REQ_3"}
	n.Extra["author"] = "ada"
	n.AddPart(NewPart("p1", "fragment"))
	return n
}

func TestSplitID(t *testing.T) {
	id, part := SplitID("REQ_1.p1")
	assert.Equal(t, "REQ_1", id)
	assert.Equal(t, "p1", part)

	id, part = SplitID("REQ_1")
	assert.Equal(t, "REQ_1", id)
	assert.Empty(t, part)
}

func TestField_Kinds(t *testing.T) {
	n := sample()
	assert.Equal(t, KindLink, n.FieldKind("links"))
	assert.Equal(t, KindBack, n.FieldKind("links_back"))
	assert.Equal(t, KindLink, n.FieldKind("tests"))
	assert.Equal(t, KindString, n.FieldKind("author"))
	assert.Equal(t, KindUnknown, n.FieldKind("nope"))

	v, ok := n.Field("status")
	require.True(t, ok)
	assert.Nil(t, v)

	v, ok = n.Field("tests_back")
	require.True(t, ok)
	assert.Equal(t, []string{}, v)

	assert.Equal(t, "a, b", n.StringField("tags"))
}

func TestSetField(t *testing.T) {
	n := sample()
	require.NoError(t, n.SetField("status", "open"))
	assert.Equal(t, "open", n.StatusValue())

	require.NoError(t, n.SetField("author", "grace"))
	assert.Equal(t, "grace", n.Extra["author"])

	require.NoError(t, n.SetField("tags", []string{"x"}))
	assert.Equal(t, []string{"x"}, n.Tags)

	require.NoError(t, n.SetField("hide", "true"))
	assert.True(t, n.Hide)

	assert.Error(t, n.SetField("id", "OTHER"))
	assert.Error(t, n.SetField("undeclared", "x"))
}

func TestClone_IsDeep(t *testing.T) {
	n := sample()
	c := n.Clone()
	c.Tags[0] = "changed"
	c.Links["links"][0] = "changed"
	c.Parts["p1"].Content = "changed"
	c.Extra["author"] = "changed"

	assert.Equal(t, "a", n.Tags[0])
	assert.Equal(t, "REQ_2", n.Links["links"][0])
	assert.Equal(t, "fragment", n.Parts["p1"].Content)
	assert.Equal(t, "ada", n.Extra["author"])
}

func TestMap_HasLinkAndBackFields(t *testing.T) {
	m := sample().Map()
	assert.Equal(t, []string{"REQ_2"}, m["links"])
	assert.Equal(t, []string{"REQ_3"}, m["links_back"])
	assert.Equal(t, "ada", m["author"])
	assert.Equal(t, true, m["is_need"])
}

func TestAppendUnique(t *testing.T) {
	l, added := AppendUnique([]string{"a"}, "a")
	assert.False(t, added)
	l, added = AppendUnique(l, "b")
	assert.True(t, added)
	assert.Equal(t, []string{"a", "b"}, l)
	assert.Equal(t, []string{"b"}, Remove(l, "a"))
}
