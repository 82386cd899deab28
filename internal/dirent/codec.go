package dirent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mlorras/lightwave/internal/schema"
)

// DecodeError reports a change payload that could not be decoded.
type DecodeError struct {
	DN  string
	Err error
}

func (e *DecodeError) Error() string {
	if e.DN != "" {
		return fmt.Sprintf("decode entry %s: %v", e.DN, e.Err)
	}
	return fmt.Sprintf("decode entry: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// WireEntry is the JSON shape of an entry on the replication wire.
// Values are carried as strings; attribute metadata uses its colon-delimited
// wire format.
type WireEntry struct {
	DN    string     `json:"dn" yaml:"dn"`
	Attrs []WireAttr `json:"attrs" yaml:"attrs"`
}

// WireAttr is one attribute of a WireEntry.
type WireAttr struct {
	Type string   `json:"type" yaml:"type"`
	Vals []string `json:"vals,omitempty" yaml:"vals,omitempty"`
	Meta string   `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// ToWire converts an entry to its wire shape.
func ToWire(e *Entry) WireEntry {
	w := WireEntry{DN: e.DN}
	for _, a := range e.Attrs.All() {
		wa := WireAttr{Type: a.Type, Vals: a.StringValues()}
		if a.Meta != nil {
			wa.Meta = a.Meta.String()
		}
		w.Attrs = append(w.Attrs, wa)
	}
	return w
}

// EncodeEntry produces the wire payload for e.
func EncodeEntry(e *Entry) ([]byte, error) {
	return MarshalWire(ToWire(e))
}

// MarshalWire encodes a wire entry. HTML escaping is disabled so payloads
// carry values byte-for-byte.
func MarshalWire(w WireEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", w.DN, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeEntry parses a wire payload under the given schema context. Every
// attribute type must be known to the schema; attribute metadata, when
// present, must be well formed.
func DecodeEntry(data []byte, sctx *schema.Context) (*Entry, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty payload")}
	}

	var w WireEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if w.DN == "" {
		return nil, &DecodeError{Err: fmt.Errorf("missing dn")}
	}

	e := &Entry{DN: w.DN, Schema: sctx}
	for _, wa := range w.Attrs {
		if _, dup := e.Attrs.Get(wa.Type); dup {
			return nil, &DecodeError{DN: w.DN, Err: fmt.Errorf("duplicate attribute %s", wa.Type)}
		}

		desc, err := sctx.Descriptor(wa.Type)
		if err != nil {
			return nil, &DecodeError{DN: w.DN, Err: err}
		}

		a := &Attribute{Type: desc.Name, Desc: desc}
		for _, v := range wa.Vals {
			a.Values = append(a.Values, []byte(v))
		}
		if wa.Meta != "" {
			meta, err := ParseAttrMetadata(wa.Meta)
			if err != nil {
				return nil, &DecodeError{DN: w.DN, Err: fmt.Errorf("attribute %s: %w", wa.Type, err)}
			}
			a.Meta = meta
		}
		e.Attrs.Put(a)
	}

	return e, nil
}
