// Package changeset reads and writes replication change files.
//
// A change file is one page of changes from one partner, in YAML:
//
//	partner: srv-b
//	changes:
//	  - op: modify
//	    dn: cn=g,dc=example
//	    partner_usn: 42
//	    attrs:
//	      - type: description
//	        meta: "0:2:srv-b:20240101000010.000:42"
//	        vals: [team]
//	    value_meta:
//	      - "member:0:1:srv-a:srv-b:20240101000110.000:43:0:8:cn=alice"
//
// Attributes use the same shape as the wire encoding. value_meta items are
// carried to the engine as the values of attrValueMetaData.
package changeset

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mlorras/lightwave/internal/dirent"
)

// File is one page of changes.
type File struct {
	// Partner identifies the supplying replica.
	Partner string `yaml:"partner"`

	// Changes are applied in order.
	Changes []Change `yaml:"changes"`
}

// Change is one replicated add, delete or modify.
type Change struct {
	// Op is "add", "delete" or "modify".
	Op string `yaml:"op"`

	// DN is the target name as the partner knows it.
	DN string `yaml:"dn"`

	// PartnerUSN defaults to the change's 1-based position in the file.
	PartnerUSN uint64 `yaml:"partner_usn,omitempty"`

	Attrs []dirent.WireAttr `yaml:"attrs,omitempty"`

	// ValueMeta holds value metadata items in wire format.
	ValueMeta []string `yaml:"value_meta,omitempty"`
}

// Load reads and validates a change file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read change file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates change file contents. Unknown fields are
// rejected.
func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("invalid change file: %w", err)
	}
	return &f, nil
}

func validate(f *File) error {
	if f.Partner == "" {
		return fmt.Errorf("partner is required")
	}
	if len(f.Changes) == 0 {
		return fmt.Errorf("changes list is required and must be non-empty")
	}

	for i, c := range f.Changes {
		if _, err := dirent.ParseChangeKind(c.Op); err != nil {
			return fmt.Errorf("changes[%d]: %w", i, err)
		}
		if c.DN == "" {
			return fmt.Errorf("changes[%d]: dn is required", i)
		}
		for j, a := range c.Attrs {
			if a.Type == "" {
				return fmt.Errorf("changes[%d].attrs[%d]: type is required", i, j)
			}
		}
	}
	return nil
}

// Records converts the file to change records ready for the engine. Payloads
// are encoded here; attribute types and metadata are checked when the engine
// decodes them.
func (f *File) Records() ([]*dirent.ChangeRecord, error) {
	recs := make([]*dirent.ChangeRecord, 0, len(f.Changes))
	for i, c := range f.Changes {
		kind, err := dirent.ParseChangeKind(c.Op)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}

		w := dirent.WireEntry{DN: c.DN, Attrs: c.Attrs}
		if len(c.ValueMeta) > 0 {
			w.Attrs = append(append([]dirent.WireAttr(nil), c.Attrs...), dirent.WireAttr{
				Type: dirent.AttrValueMetaData,
				Vals: c.ValueMeta,
			})
		}
		payload, err := dirent.MarshalWire(w)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}

		usn := c.PartnerUSN
		if usn == 0 {
			usn = uint64(i + 1)
		}
		recs = append(recs, &dirent.ChangeRecord{
			Kind:       kind,
			DN:         c.DN,
			Payload:    payload,
			Partner:    f.Partner,
			PartnerUSN: usn,
		})
	}
	return recs, nil
}

// FromEntry describes e as an add, carrying its attribute metadata and the
// given value metadata. Local sequence numbers are cleared: they mean
// nothing to the receiver.
func FromEntry(e *dirent.Entry, valueMeta []dirent.ValueMetadata) Change {
	c := Change{Op: dirent.ChangeAdd.String(), DN: e.DN}
	for _, a := range e.Attrs.All() {
		wa := dirent.WireAttr{Type: a.Type, Vals: a.StringValues()}
		if len(wa.Vals) == 0 {
			wa.Vals = nil
		}
		if a.Meta != nil {
			m := *a.Meta
			m.LocalUSN = 0
			wa.Meta = m.String()
		}
		c.Attrs = append(c.Attrs, wa)
	}
	for _, vm := range valueMeta {
		vm.LocalUSN = 0
		c.ValueMeta = append(c.ValueMeta, vm.String())
	}
	return c
}

// Write encodes f as YAML.
func Write(w io.Writer, f *File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode change file: %w", err)
	}
	return enc.Close()
}
