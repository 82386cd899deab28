package changeset

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
)

func TestLoad(t *testing.T) {
	f, err := Load("testdata/page.yaml")
	require.NoError(t, err)
	assert.Equal(t, "srv-b", f.Partner)
	require.Len(t, f.Changes, 3)

	recs, err := f.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, dirent.ChangeAdd, recs[0].Kind)
	assert.Equal(t, dirent.ChangeModify, recs[1].Kind)
	assert.Equal(t, dirent.ChangeDelete, recs[2].Kind)
	assert.Equal(t, []uint64{1, 7, 3}, []uint64{recs[0].PartnerUSN, recs[1].PartnerUSN, recs[2].PartnerUSN})
	for _, r := range recs {
		assert.Equal(t, "srv-b", r.Partner)
	}
}

func TestRecords_DecodeUnderSchema(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)

	f, err := Load("testdata/page.yaml")
	require.NoError(t, err)
	recs, err := f.Records()
	require.NoError(t, err)

	e, err := dirent.DecodeEntry(recs[0].Payload, reg.Acquire())
	require.NoError(t, err)
	assert.Equal(t, "cn=g,dc=example", e.DN)

	vm, ok := e.Attrs.Get(dirent.AttrValueMetaData)
	require.True(t, ok)
	require.Len(t, vm.Values, 1)
	item, err := dirent.ParseValueMetadata(vm.Values[0])
	require.NoError(t, err)
	assert.Equal(t, "cn=alice,dc=example", string(item.Value))

	member, _ := e.Attrs.Get("member")
	assert.Equal(t, uint64(1), member.Meta.Version)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "partner: a\nchanges: [{op: add, dn: x}]\nextra: 1\n", "field extra not found"},
		{"no partner", "changes: [{op: add, dn: x}]\n", "partner is required"},
		{"no changes", "partner: a\n", "changes list is required"},
		{"bad op", "partner: a\nchanges: [{op: rename, dn: x}]\n", "changes[0]: unknown change kind"},
		{"no dn", "partner: a\nchanges: [{op: add}]\n", "changes[0]: dn is required"},
		{"attr without type", "partner: a\nchanges: [{op: add, dn: x, attrs: [{vals: [v]}]}]\n", "changes[0].attrs[0]: type is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromEntryAndWrite(t *testing.T) {
	reg, err := schema.Default()
	require.NoError(t, err)
	sctx := reg.Acquire()

	desc, err := sctx.Descriptor("member")
	require.NoError(t, err)
	e := &dirent.Entry{DN: "cn=g,dc=example", Schema: sctx}
	e.Attrs.Put(&dirent.Attribute{
		Type:   "member",
		Desc:   desc,
		Values: [][]byte{[]byte("cn=alice")},
		Meta:   &dirent.AttrMetadata{LocalUSN: 12, Version: 1, OrigServerID: "srv-a", OrigUSN: 3},
	})
	descr, err := sctx.Descriptor("description")
	require.NoError(t, err)
	e.Attrs.Put(&dirent.Attribute{
		Type: "description",
		Desc: descr,
		Meta: &dirent.AttrMetadata{LocalUSN: 12, Version: 2, OrigServerID: "srv-a", OrigUSN: 4},
	})

	c := FromEntry(e, []dirent.ValueMetadata{{
		AttrType: "member", LocalUSN: 12, Version: 1, OrigServerID: "srv-a",
		ValueOrigServerID: "srv-a", ValueOrigUSN: 3, Op: dirent.ModAdd, Value: []byte("cn=alice"),
	}})
	assert.Equal(t, "add", c.Op)
	require.Len(t, c.Attrs, 2)
	assert.Equal(t, "0:1:srv-a:00010101000000.000:3", c.Attrs[0].Meta)
	assert.Nil(t, c.Attrs[1].Vals)
	assert.Equal(t, []string{"member:0:1:srv-a:srv-a:00010101000000.000:3:0:8:cn=alice"}, c.ValueMeta)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &File{Partner: "srv-a", Changes: []Change{c}}))

	back, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, c, back.Changes[0])
}
