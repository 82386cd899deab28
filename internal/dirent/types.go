// Package dirent provides the directory entry model shared by replication,
// storage and tooling.
//
// An Entry owns an ordered attribute list keyed by attribute type. Every
// stored attribute carries AttrMetadata; an attribute with metadata and no
// values is a deleted attribute, not an absent one. Multi-valued attributes
// may additionally carry per-value ValueMetadata.
//
// This package imports only internal/schema.
package dirent

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Mlorras/lightwave/internal/schema"
)

// Well-known attribute types.
const (
	AttrObjectGUID         = "objectGUID"
	AttrObjectClass        = "objectClass"
	AttrIsDeleted          = "isDeleted"
	AttrLastKnownDN        = "lastKnownDN"
	AttrValueMetaData      = "attrValueMetaData"
	AttrUSNChanged         = "uSNChanged"
	AttrLDAPDisplayName    = "lDAPDisplayName"
	AttrIsSingleValued     = "isSingleValued"
	AttrSecurityDescriptor = "nTSecurityDescriptor"

	// IsDeletedTrue is the isDeleted value that marks a tombstone.
	IsDeletedTrue = "TRUE"

	// OCAttributeSchema is the objectClass of schema attribute definitions.
	OCAttributeSchema = "attributeSchema"
)

// ModOp is a modification operation. Values match the LDAP protocol codes
// so they survive the value metadata wire format unchanged.
type ModOp int

const (
	ModAdd     ModOp = 0
	ModDelete  ModOp = 1
	ModReplace ModOp = 2
)

func (op ModOp) String() string {
	switch op {
	case ModAdd:
		return "ADD"
	case ModDelete:
		return "DELETE"
	case ModReplace:
		return "REPLACE"
	default:
		return fmt.Sprintf("ModOp(%d)", int(op))
	}
}

// Attribute is one attribute of an entry.
type Attribute struct {
	Type   string
	Desc   schema.Descriptor
	Values [][]byte
	Meta   *AttrMetadata

	// Skip marks an attribute that lost conflict resolution.
	Skip bool

	// ValueMeta is value metadata to be written together with the attribute.
	ValueMeta []ValueMetadata
}

// IsDeleted reports whether the attribute is a metadata-only deletion.
func (a *Attribute) IsDeleted() bool {
	return len(a.Values) == 0
}

// HasValue reports whether v is one of the attribute's values.
func (a *Attribute) HasValue(v []byte) bool {
	for _, have := range a.Values {
		if bytes.Equal(have, v) {
			return true
		}
	}
	return false
}

// StringValues returns the values as strings.
func (a *Attribute) StringValues() []string {
	out := make([]string, len(a.Values))
	for i, v := range a.Values {
		out[i] = string(v)
	}
	return out
}

// Clone returns a deep copy.
func (a *Attribute) Clone() *Attribute {
	c := &Attribute{
		Type: a.Type,
		Desc: a.Desc,
		Skip: a.Skip,
	}
	if a.Values != nil {
		c.Values = make([][]byte, len(a.Values))
		for i, v := range a.Values {
			c.Values[i] = bytes.Clone(v)
		}
	}
	if a.Meta != nil {
		m := *a.Meta
		c.Meta = &m
	}
	if a.ValueMeta != nil {
		c.ValueMeta = make([]ValueMetadata, len(a.ValueMeta))
		for i, vm := range a.ValueMeta {
			c.ValueMeta[i] = vm.Clone()
		}
	}
	return c
}

// AttrList is an ordered set of attributes keyed by lower-cased type name.
// Removal is O(1); iteration order is insertion order, and an attribute
// put again after removal moves to the end.
type AttrList struct {
	order []string // keys in insertion order; "" marks a vacated slot
	pos   map[string]int
	index map[string]*Attribute
	holes int
}

func attrKey(name string) string {
	return strings.ToLower(name)
}

// Put inserts a, or replaces the attribute of the same type in place.
func (l *AttrList) Put(a *Attribute) {
	if l.index == nil {
		l.index = make(map[string]*Attribute)
		l.pos = make(map[string]int)
	}
	key := attrKey(a.Type)
	if _, ok := l.index[key]; !ok {
		if p, removed := l.pos[key]; removed {
			// Remove already counted this slot as a hole.
			l.order[p] = ""
		}
		l.pos[key] = len(l.order)
		l.order = append(l.order, key)
	}
	l.index[key] = a
}

// Get returns the attribute of the given type.
func (l *AttrList) Get(name string) (*Attribute, bool) {
	a, ok := l.index[attrKey(name)]
	return a, ok
}

// Remove detaches and returns the attribute of the given type.
func (l *AttrList) Remove(name string) (*Attribute, bool) {
	key := attrKey(name)
	a, ok := l.index[key]
	if !ok {
		return nil, false
	}
	delete(l.index, key)
	l.holes++
	if l.holes > len(l.order)/2 {
		l.compact()
	}
	return a, true
}

func (l *AttrList) compact() {
	kept := l.order[:0]
	for _, key := range l.order {
		if _, ok := l.index[key]; ok {
			kept = append(kept, key)
		}
	}
	clear(l.pos)
	for i, key := range kept {
		l.pos[key] = i
	}
	l.order = kept
	l.holes = 0
}

// Len returns the number of attributes.
func (l *AttrList) Len() int {
	return len(l.index)
}

// All returns the attributes in insertion order.
func (l *AttrList) All() []*Attribute {
	out := make([]*Attribute, 0, len(l.index))
	for _, key := range l.order {
		if a, ok := l.index[key]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Entry is a directory object.
type Entry struct {
	// DN is the entry's mutable name.
	DN string

	// ID is the local entry identifier, zero until resolved against the store.
	ID int64

	// USN is the local sequence number assigned when the entry was last written.
	USN uint64

	Attrs AttrList

	// Schema is the schema context the entry was decoded under.
	Schema *schema.Context

	// LocalNameResolved is set when the identity resolver rewrote DN to the
	// name the object has on this replica.
	LocalNameResolved bool
}

// Clone returns a deep copy sharing only the schema context.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		DN:                e.DN,
		ID:                e.ID,
		USN:               e.USN,
		Schema:            e.Schema,
		LocalNameResolved: e.LocalNameResolved,
	}
	for _, a := range e.Attrs.All() {
		c.Attrs.Put(a.Clone())
	}
	return c
}

// FirstValue returns the first value of the named attribute as a string.
func (e *Entry) FirstValue(name string) (string, bool) {
	a, ok := e.Attrs.Get(name)
	if !ok || len(a.Values) == 0 {
		return "", false
	}
	return string(a.Values[0]), true
}

// Modification is one change to one attribute. Attr.Meta is nil for
// value-level modifications, which leave attribute metadata untouched.
type Modification struct {
	Op   ModOp
	Attr Attribute
}

// ModifyRequest is a list of modifications against one entry.
type ModifyRequest struct {
	DN string

	// NewDN, when set on a delete, is the tombstone name the entry moves to.
	NewDN string

	Mods []Modification
}

// Find returns the index of the first modification of the given attribute
// type and operation, or -1.
func (r *ModifyRequest) Find(attrType string, op ModOp) int {
	key := attrKey(attrType)
	for i := range r.Mods {
		if r.Mods[i].Op == op && attrKey(r.Mods[i].Attr.Type) == key {
			return i
		}
	}
	return -1
}

// ChangeKind is the operation a change record carries.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeDelete
	ChangeModify
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "add"
	case ChangeDelete:
		return "delete"
	case ChangeModify:
		return "modify"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ParseChangeKind parses "add", "delete" or "modify", ignoring case.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return ChangeAdd, nil
	case "delete":
		return ChangeDelete, nil
	case "modify":
		return ChangeModify, nil
	}
	return 0, fmt.Errorf("unknown change kind %q", s)
}

// ChangeRecord is one change received from a replication partner.
type ChangeRecord struct {
	Kind ChangeKind

	// DN is the target name as sent by the partner.
	DN string

	// Payload is the raw wire encoding of the changed entry.
	Payload []byte

	// Partner identifies the supplying replica.
	Partner string

	// PartnerUSN is the supplier-side sequence number of the change.
	PartnerUSN uint64

	decoded *Entry
	encoded []byte
}

// Cached returns the decoded entry and its encoding stored by a previous attempt.
func (r *ChangeRecord) Cached() (*Entry, []byte) {
	return r.decoded, r.encoded
}

// Cache stores the decoded entry and the bytes it was decoded from.
func (r *ChangeRecord) Cache(e *Entry, encoded []byte) {
	r.decoded = e
	r.encoded = encoded
}
