package dirent

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the fixed-width originating time format used on the wire.
const TimeLayout = "20060102150405.000"

// ErrMalformedMetadata is wrapped by every metadata decode failure.
var ErrMalformedMetadata = errors.New("malformed metadata")

// FormatTime renders t in TimeLayout (UTC, millisecond precision).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout string.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: originating time %q: %v", ErrMalformedMetadata, s, err)
	}
	return t, nil
}

// Epoch identifies an attribute's accepted state.
type Epoch struct {
	Version  uint64
	ServerID string
}

func (e Epoch) String() string {
	return fmt.Sprintf("%d:%s", e.Version, e.ServerID)
}

// AttrMetadata is the version metadata of one attribute.
//
// Wire format: <localUsn>:<version>:<origServerId>:<origTime>:<origUsn>
type AttrMetadata struct {
	LocalUSN     uint64
	Version      uint64
	OrigServerID string
	OrigTime     time.Time
	OrigUSN      uint64
}

// Epoch returns the (version, originating server) pair.
func (m *AttrMetadata) Epoch() Epoch {
	return Epoch{Version: m.Version, ServerID: m.OrigServerID}
}

// String serializes the metadata in wire format.
func (m *AttrMetadata) String() string {
	return fmt.Sprintf("%d:%d:%s:%s:%d",
		m.LocalUSN, m.Version, m.OrigServerID, FormatTime(m.OrigTime), m.OrigUSN)
}

// ParseAttrMetadata decodes the wire format.
func ParseAttrMetadata(s string) (*AttrMetadata, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w: attribute metadata %q: want 5 fields, got %d", ErrMalformedMetadata, s, len(fields))
	}

	var m AttrMetadata
	var err error
	if m.LocalUSN, err = parseUint("local usn", fields[0]); err != nil {
		return nil, err
	}
	if m.Version, err = parseUint("version", fields[1]); err != nil {
		return nil, err
	}
	if fields[2] == "" {
		return nil, fmt.Errorf("%w: attribute metadata %q: empty originating server id", ErrMalformedMetadata, s)
	}
	m.OrigServerID = fields[2]
	if m.OrigTime, err = ParseTime(fields[3]); err != nil {
		return nil, err
	}
	if m.OrigUSN, err = parseUint("originating usn", fields[4]); err != nil {
		return nil, err
	}
	return &m, nil
}

func parseUint(field, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedMetadata, field, s)
	}
	return n, nil
}

// ValueMetadata records the life of one value of a multi-valued attribute.
//
// Wire format:
//
//	<attr>:<localUsn>:<version>:<origServerId>:<valueOrigServerId>:<valueOrigTime>:<valueOrigUsn>:<opcode>:<valueLen>:<value>
//
// The value is length-prefixed and may itself contain colons.
type ValueMetadata struct {
	AttrType          string
	LocalUSN          uint64
	Version           uint64
	OrigServerID      string
	ValueOrigServerID string
	ValueOrigTime     time.Time
	ValueOrigUSN      uint64
	Op                ModOp
	Value             []byte
}

// Epoch returns the attribute epoch the value change was made under.
func (v ValueMetadata) Epoch() Epoch {
	return Epoch{Version: v.Version, ServerID: v.OrigServerID}
}

// SameValue reports whether both items describe byte-identical values.
func (v ValueMetadata) SameValue(o ValueMetadata) bool {
	return len(v.Value) == len(o.Value) && bytes.Equal(v.Value, o.Value)
}

// Clone returns a deep copy.
func (v ValueMetadata) Clone() ValueMetadata {
	v.Value = bytes.Clone(v.Value)
	return v
}

// Marshal serializes the item in wire format.
func (v ValueMetadata) Marshal() []byte {
	prefix := fmt.Sprintf("%s:%d:%d:%s:%s:%s:%d:%d:%d:",
		v.AttrType, v.LocalUSN, v.Version, v.OrigServerID,
		v.ValueOrigServerID, FormatTime(v.ValueOrigTime), v.ValueOrigUSN,
		int(v.Op), len(v.Value))
	out := make([]byte, 0, len(prefix)+len(v.Value))
	out = append(out, prefix...)
	return append(out, v.Value...)
}

// String is Marshal as a string.
func (v ValueMetadata) String() string {
	return string(v.Marshal())
}

// ParseValueMetadata decodes the wire format.
func ParseValueMetadata(b []byte) (ValueMetadata, error) {
	var v ValueMetadata

	fields := bytes.SplitN(b, []byte(":"), 10)
	if len(fields) != 10 {
		return v, fmt.Errorf("%w: value metadata %q: want 10 fields, got %d", ErrMalformedMetadata, b, len(fields))
	}

	var err error
	if len(fields[0]) == 0 {
		return v, fmt.Errorf("%w: value metadata %q: empty attribute type", ErrMalformedMetadata, b)
	}
	v.AttrType = string(fields[0])
	if v.LocalUSN, err = parseUint("local usn", string(fields[1])); err != nil {
		return v, err
	}
	if v.Version, err = parseUint("version", string(fields[2])); err != nil {
		return v, err
	}
	v.OrigServerID = string(fields[3])
	v.ValueOrigServerID = string(fields[4])
	if v.OrigServerID == "" || v.ValueOrigServerID == "" {
		return v, fmt.Errorf("%w: value metadata %q: empty server id", ErrMalformedMetadata, b)
	}
	if v.ValueOrigTime, err = ParseTime(string(fields[5])); err != nil {
		return v, err
	}
	if v.ValueOrigUSN, err = parseUint("value originating usn", string(fields[6])); err != nil {
		return v, err
	}

	op, err := parseUint("opcode", string(fields[7]))
	if err != nil {
		return v, err
	}
	v.Op = ModOp(op)
	if v.Op != ModAdd && v.Op != ModDelete {
		return v, fmt.Errorf("%w: value metadata %q: opcode %d is not ADD or DELETE", ErrMalformedMetadata, b, op)
	}

	n, err := parseUint("value length", string(fields[8]))
	if err != nil {
		return v, err
	}
	if uint64(len(fields[9])) != n {
		return v, fmt.Errorf("%w: value metadata %q: value length %d, have %d bytes", ErrMalformedMetadata, b, n, len(fields[9]))
	}
	v.Value = bytes.Clone(fields[9])

	return v, nil
}
