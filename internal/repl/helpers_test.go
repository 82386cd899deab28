package repl

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/store"
	"github.com/Mlorras/lightwave/internal/writequeue"
)

// replica is one local store with its engine.
type replica struct {
	store   *store.Store
	reg     *schema.Registry
	queue   *writequeue.Queue
	metrics *Metrics
	engine  *Engine
}

func newReplica(t *testing.T, opts ...Option) *replica {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newReplicaWithBackend(t, s, NewSQLiteBackend(s), opts...)
}

func newReplicaWithBackend(t *testing.T, s *store.Store, b Backend, opts ...Option) *replica {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)

	usn, err := s.MaxUSN(context.Background())
	require.NoError(t, err)

	r := &replica{
		store:   s,
		reg:     reg,
		queue:   writequeue.New(usn),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	opts = append([]Option{WithMetrics(r.metrics)}, opts...)
	r.engine = New(b, r.queue, reg, opts...)
	return r
}

func (r *replica) sctx() *schema.Context {
	return r.reg.Acquire()
}

// apply applies rec and fails the test on a non-warning error.
func (r *replica) apply(t *testing.T, rec *dirent.ChangeRecord) Result {
	t.Helper()
	res, err := r.engine.Apply(context.Background(), r.sctx(), rec)
	require.NoError(t, err, "apply %s %s", rec.Kind, rec.DN)
	return res
}

func (r *replica) read(t *testing.T, dn string) *dirent.Entry {
	t.Helper()
	e, err := r.store.ReadEntry(context.Background(), dn, r.sctx())
	require.NoError(t, err)
	return e
}

func (r *replica) values(t *testing.T, dn, attr string) []string {
	t.Helper()
	a, ok := r.read(t, dn).Attrs.Get(attr)
	if !ok {
		return nil
	}
	return a.StringValues()
}

func (r *replica) valueMeta(t *testing.T, dn, attr string) []dirent.ValueMetadata {
	t.Helper()
	d, err := r.sctx().Descriptor(attr)
	require.NoError(t, err)
	items, err := r.store.ReadValueMetadata(context.Background(), dn, d.ID)
	require.NoError(t, err)
	return items
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns baseTime plus sec seconds.
func at(sec int) time.Time {
	return baseTime.Add(time.Duration(sec) * time.Second)
}

// meta renders attribute metadata as the supplier sends it.
func meta(version uint64, server string, sec int) string {
	m := &dirent.AttrMetadata{Version: version, OrigServerID: server, OrigTime: at(sec), OrigUSN: version}
	return m.String()
}

// vmeta renders one value metadata item made under attribute epoch
// (version, server).
func vmeta(attr string, version uint64, server string, sec int, op dirent.ModOp, value string) string {
	return dirent.ValueMetadata{
		AttrType:          attr,
		Version:           version,
		OrigServerID:      server,
		ValueOrigServerID: server,
		ValueOrigTime:     at(sec),
		ValueOrigUSN:      uint64(sec),
		Op:                op,
		Value:             []byte(value),
	}.String()
}

func attr(typ, m string, vals ...string) dirent.WireAttr {
	return dirent.WireAttr{Type: typ, Meta: m, Vals: vals}
}

func valueItems(items ...string) dirent.WireAttr {
	return dirent.WireAttr{Type: dirent.AttrValueMetaData, Vals: items}
}

var partnerUSN uint64

func record(t *testing.T, kind dirent.ChangeKind, dn string, attrs ...dirent.WireAttr) *dirent.ChangeRecord {
	t.Helper()
	payload, err := dirent.MarshalWire(dirent.WireEntry{DN: dn, Attrs: attrs})
	require.NoError(t, err)
	partnerUSN++
	return &dirent.ChangeRecord{
		Kind:       kind,
		DN:         dn,
		Payload:    payload,
		Partner:    "srv-b",
		PartnerUSN: partnerUSN,
	}
}

// user returns an add of a leaf entry under dc=x with the given guid.
func user(t *testing.T, cn, guid string) *dirent.ChangeRecord {
	t.Helper()
	return record(t, dirent.ChangeAdd, fmt.Sprintf("cn=%s,dc=x", cn),
		attr("objectGUID", meta(1, "srv-a", 0), guid),
		attr("objectClass", meta(1, "srv-a", 0), "person"),
		attr("cn", meta(1, "srv-a", 0), cn),
		attr("description", meta(1, "srv-a", 0), "initial"),
	)
}

// group returns an add of cn=g,dc=x whose members all carry value metadata
// added at time sec under epoch (1, srv-a).
func group(t *testing.T, sec int, members ...string) *dirent.ChangeRecord {
	t.Helper()
	var items []string
	for _, m := range members {
		items = append(items, vmeta("member", 1, "srv-a", sec, dirent.ModAdd, m))
	}
	return record(t, dirent.ChangeAdd, "cn=g,dc=x",
		attr("objectGUID", meta(1, "srv-a", 0), "guid-g"),
		attr("objectClass", meta(1, "srv-a", 0), "group"),
		attr("cn", meta(1, "srv-a", 0), "g"),
		attr("member", meta(1, "srv-a", 0), members...),
		valueItems(items...),
	)
}

// tombstone returns the delete of cn=<cn>,dc=x as the supplier sends it.
func tombstone(t *testing.T, cn, guid string, version uint64, extra ...dirent.WireAttr) *dirent.ChangeRecord {
	t.Helper()
	attrs := []dirent.WireAttr{
		attr("objectGUID", meta(1, "srv-a", 0), guid),
		attr("isDeleted", meta(version, "srv-b", 50), "TRUE"),
		attr("lastKnownDN", meta(version, "srv-b", 50), fmt.Sprintf("cn=%s,dc=x", cn)),
	}
	attrs = append(attrs, extra...)
	return record(t, dirent.ChangeDelete, tombstoneDN(cn, guid), attrs...)
}

func tombstoneDN(cn, guid string) string {
	return fmt.Sprintf("cn=%s#%s,cn=Deleted Objects,dc=x", cn, guid)
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, hasCode(err, code), "want %s, got %v", code, err)
}
