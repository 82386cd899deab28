package dirent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/schema"
)

func names(attrs []*Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Type
	}
	return out
}

func TestAttrList_OrderAndRemoval(t *testing.T) {
	var l AttrList
	for _, n := range []string{"cn", "member", "objectGUID", "sn", "description"} {
		l.Put(&Attribute{Type: n})
	}

	got, ok := l.Remove("OBJECTGUID")
	require.True(t, ok)
	assert.Equal(t, "objectGUID", got.Type)

	_, ok = l.Remove("objectGUID")
	assert.False(t, ok)

	assert.Equal(t, 4, l.Len())
	assert.Equal(t, []string{"cn", "member", "sn", "description"}, names(l.All()))

	l.Remove("cn")
	l.Remove("sn")
	l.Put(&Attribute{Type: "cn"})
	assert.Equal(t, []string{"member", "description", "cn"}, names(l.All()))
}

func TestAttrList_PutAfterRemoveBeforeCompaction(t *testing.T) {
	var l AttrList
	for _, n := range []string{"cn", "member", "sn", "description"} {
		l.Put(&Attribute{Type: n})
	}

	// One hole out of four slots stays below the compaction threshold.
	_, ok := l.Remove("member")
	require.True(t, ok)
	l.Put(&Attribute{Type: "Member"})

	assert.Equal(t, 4, l.Len())
	assert.Equal(t, []string{"cn", "sn", "description", "Member"}, names(l.All()))

	// The vacated slot is reclaimed by the next compaction.
	l.Remove("cn")
	l.Remove("sn")
	assert.Equal(t, []string{"description", "Member"}, names(l.All()))
	l.Put(&Attribute{Type: "cn"})
	assert.Equal(t, []string{"description", "Member", "cn"}, names(l.All()))
	assert.Equal(t, 3, l.Len())

	c := (&Entry{Attrs: l}).Clone()
	assert.Equal(t, names(l.All()), names(c.Attrs.All()))
}

func TestAttrList_PutReplacesInPlace(t *testing.T) {
	var l AttrList
	l.Put(&Attribute{Type: "cn", Values: [][]byte{[]byte("a")}})
	l.Put(&Attribute{Type: "sn"})
	l.Put(&Attribute{Type: "CN", Values: [][]byte{[]byte("b")}})

	assert.Equal(t, 2, l.Len())
	cn, ok := l.Get("cn")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, cn.StringValues())
	assert.Equal(t, []string{"CN", "sn"}, names(l.All()))
}

func TestEntry_CloneIsDeep(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)

	e := &Entry{DN: "cn=a,dc=x", Schema: reg.Acquire()}
	e.Attrs.Put(&Attribute{
		Type:   "member",
		Values: [][]byte{[]byte("alice")},
		Meta:   &AttrMetadata{Version: 1, OrigServerID: "s1"},
	})

	c := e.Clone()
	ca, _ := c.Attrs.Get("member")
	ca.Values[0][0] = 'X'
	ca.Meta.LocalUSN = 99
	ca.Skip = true

	orig, _ := e.Attrs.Get("member")
	assert.Equal(t, "alice", string(orig.Values[0]))
	assert.Equal(t, uint64(0), orig.Meta.LocalUSN)
	assert.False(t, orig.Skip)
	assert.Same(t, e.Schema, c.Schema)
}

func TestModifyRequest_Find(t *testing.T) {
	r := ModifyRequest{Mods: []Modification{
		{Op: ModAdd, Attr: Attribute{Type: "member"}},
		{Op: ModDelete, Attr: Attribute{Type: "member"}},
	}}
	assert.Equal(t, 1, r.Find("Member", ModDelete))
	assert.Equal(t, -1, r.Find("member", ModReplace))
}

func TestDecodeEntry(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)
	sctx := reg.Acquire()

	payload := []byte(`{"dn":"cn=g,dc=x","attrs":[` +
		`{"type":"cn","vals":["g"],"meta":"0:1:s1:20240101000000.000:3"},` +
		`{"type":"description","meta":"0:2:s1:20240101000000.000:4"}]}`)

	e, err := DecodeEntry(payload, sctx)
	require.NoError(t, err)
	assert.Equal(t, "cn=g,dc=x", e.DN)

	desc, ok := e.Attrs.Get("description")
	require.True(t, ok)
	assert.True(t, desc.IsDeleted())
	assert.Equal(t, uint64(2), desc.Meta.Version)

	again, err := EncodeEntry(e)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(again))
}

func TestDecodeEntry_Errors(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)
	sctx := reg.Acquire()

	cases := map[string]string{
		"empty":             ``,
		"not json":          `cn=g`,
		"missing dn":        `{"attrs":[]}`,
		"unknown attribute": `{"dn":"cn=g","attrs":[{"type":"bogus","vals":["x"]}]}`,
		"duplicate":         `{"dn":"cn=g","attrs":[{"type":"cn","vals":["x"]},{"type":"CN","vals":["y"]}]}`,
		"bad metadata":      `{"dn":"cn=g","attrs":[{"type":"cn","vals":["x"],"meta":"1:2"}]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEntry([]byte(in), sctx)
			var de *DecodeError
			assert.ErrorAs(t, err, &de)
		})
	}
}

func TestParseChangeKind(t *testing.T) {
	for _, k := range []ChangeKind{ChangeAdd, ChangeDelete, ChangeModify} {
		got, err := ParseChangeKind(strings.ToUpper(k.String()))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseChangeKind("rename")
	assert.Error(t, err)
	assert.Equal(t, "ChangeKind(9)", ChangeKind(9).String())
}
