package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
)

// ValueMetaOp selects how UpdateValueMetadata treats its items.
type ValueMetaOp int

const (
	// ValueMetaUpdate inserts each item, replacing any stored item for the
	// same value.
	ValueMetaUpdate ValueMetaOp = iota + 1
	// ValueMetaDelete removes the stored item for each value.
	ValueMetaDelete
)

// Txn is a write transaction. Every method may return an error wrapping
// ErrDeadlock; the caller must then Abort and start over.
type Txn struct {
	tx *sql.Tx
}

// BeginWrite starts a write transaction.
func (s *Store) BeginWrite(ctx context.Context) (*Txn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin write: %w", mapErr(err))
	}
	return &Txn{tx: tx}, nil
}

// Commit makes the transaction's writes durable.
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapErr(err))
	}
	return nil
}

// Abort rolls the transaction back. Safe to call after Commit.
func (t *Txn) Abort() {
	_ = t.tx.Rollback()
}

// ResolveDN returns the entry ID for dn, or ErrNotFound.
func (t *Txn) ResolveDN(ctx context.Context, dn string) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT id FROM entries WHERE dn_norm = ?`, dirent.NormalizeDN(dn)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("resolve %s: %w", dn, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", dn, mapErr(err))
	}
	return id, nil
}

// AttrMetadata returns the stored metadata of one attribute, or ErrNotFound
// when the entry has never had the attribute.
func (t *Txn) AttrMetadata(ctx context.Context, entryID int64, attrID uint16) (*dirent.AttrMetadata, error) {
	var meta string
	err := t.tx.QueryRowContext(ctx, `
		SELECT meta FROM attributes WHERE entry_id = ? AND attr_id = ?
	`, entryID, attrID).Scan(&meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attribute %d of entry %d: %w", attrID, entryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("attribute metadata: %w", mapErr(err))
	}
	return dirent.ParseAttrMetadata(meta)
}

// ValueMetadata returns every stored value metadata item of one attribute.
func (t *Txn) ValueMetadata(ctx context.Context, entryID int64, attrID uint16) ([]dirent.ValueMetadata, error) {
	return readValueMetadata(ctx, t.tx, entryID, attrID)
}

// UpdateValueMetadata writes or removes value metadata items of one attribute.
func (t *Txn) UpdateValueMetadata(ctx context.Context, entryID int64, attrID uint16, op ValueMetaOp, items []dirent.ValueMetadata) error {
	for _, vm := range items {
		var err error
		switch op {
		case ValueMetaUpdate:
			_, err = t.tx.ExecContext(ctx, `
				INSERT INTO value_metadata (entry_id, attr_id, value, meta)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(entry_id, attr_id, value) DO UPDATE SET meta = excluded.meta
			`, entryID, attrID, vm.Value, vm.Marshal())
		case ValueMetaDelete:
			_, err = t.tx.ExecContext(ctx, `
				DELETE FROM value_metadata WHERE entry_id = ? AND attr_id = ? AND value = ?
			`, entryID, attrID, vm.Value)
		default:
			return fmt.Errorf("update value metadata: unknown op %d", op)
		}
		if err != nil {
			return fmt.Errorf("update value metadata: %w", mapErr(err))
		}
	}
	return nil
}

// Add inserts a new entry stamped with usn. The parent must exist unless it
// is a domain root. Attribute-attached value metadata is written with the
// entry.
func (t *Txn) Add(ctx context.Context, e *dirent.Entry, usn uint64) error {
	norm := dirent.NormalizeDN(e.DN)
	parent := dirent.NormalizeDN(dirent.ParentDN(e.DN))

	var exists int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE dn_norm = ?`, norm).Scan(&exists)
	if err != nil {
		return fmt.Errorf("add %s: %w", e.DN, mapErr(err))
	}
	if exists > 0 {
		return fmt.Errorf("add %s: %w", e.DN, ErrAlreadyExists)
	}

	if parent != "" && !dirent.IsDomainRoot(parent) {
		var n int
		err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE dn_norm = ?`, parent).Scan(&n)
		if err != nil {
			return fmt.Errorf("add %s: %w", e.DN, mapErr(err))
		}
		if n == 0 {
			return fmt.Errorf("add %s: parent %s: %w", e.DN, parent, ErrNoSuchObject)
		}
	}

	var guid sql.NullString
	if g, ok := e.FirstValue(dirent.AttrObjectGUID); ok {
		guid = sql.NullString{String: g, Valid: true}
	}
	deleted, _ := e.FirstValue(dirent.AttrIsDeleted)

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO entries (dn, dn_norm, parent_norm, object_guid, usn_created, usn_changed, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.DN, norm, parent, guid, usn, usn, boolInt(deleted == dirent.IsDeletedTrue))
	if err != nil {
		return fmt.Errorf("add %s: %w", e.DN, mapErr(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("add %s: %w", e.DN, err)
	}

	for _, a := range e.Attrs.All() {
		if err := t.putAttribute(ctx, id, a); err != nil {
			return fmt.Errorf("add %s: %w", e.DN, err)
		}
		if len(a.ValueMeta) > 0 {
			if err := t.UpdateValueMetadata(ctx, id, a.Desc.ID, ValueMetaUpdate, a.ValueMeta); err != nil {
				return fmt.Errorf("add %s: %w", e.DN, err)
			}
		}
	}

	e.ID = id
	e.USN = usn
	return nil
}

// Modify applies req to an existing entry and stamps it with usn.
func (t *Txn) Modify(ctx context.Context, req *dirent.ModifyRequest, usn uint64) error {
	id, err := t.ResolveDN(ctx, req.DN)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("modify %s: %w", req.DN, ErrNoSuchObject)
	}
	if err != nil {
		return fmt.Errorf("modify %s: %w", req.DN, err)
	}
	if err := t.applyMods(ctx, id, req.Mods, usn); err != nil {
		return fmt.Errorf("modify %s: %w", req.DN, err)
	}
	return nil
}

// Delete applies the tombstone modifications in req to a leaf entry and, when
// req.NewDN is set, moves the entry to that name.
func (t *Txn) Delete(ctx context.Context, req *dirent.ModifyRequest, usn uint64) error {
	id, err := t.ResolveDN(ctx, req.DN)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s: %w", req.DN, ErrNoSuchObject)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", req.DN, err)
	}

	var children int
	err = t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entries WHERE parent_norm = ? AND is_deleted = 0
	`, dirent.NormalizeDN(req.DN)).Scan(&children)
	if err != nil {
		return fmt.Errorf("delete %s: %w", req.DN, mapErr(err))
	}
	if children > 0 {
		return fmt.Errorf("delete %s: %d children: %w", req.DN, children, ErrNotAllowedOnNonLeaf)
	}

	if err := t.applyMods(ctx, id, req.Mods, usn); err != nil {
		return fmt.Errorf("delete %s: %w", req.DN, err)
	}

	if req.NewDN != "" && dirent.NormalizeDN(req.NewDN) != dirent.NormalizeDN(req.DN) {
		if err := t.rename(ctx, id, req.NewDN); err != nil {
			return fmt.Errorf("delete %s: %w", req.DN, err)
		}
	}

	_, err = t.tx.ExecContext(ctx, `UPDATE entries SET is_deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", req.DN, mapErr(err))
	}
	return nil
}

func (t *Txn) rename(ctx context.Context, id int64, newDN string) error {
	norm := dirent.NormalizeDN(newDN)

	var taken int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE dn_norm = ? AND id != ?`, norm, id).Scan(&taken)
	if err != nil {
		return mapErr(err)
	}
	if taken > 0 {
		return fmt.Errorf("rename to %s: %w", newDN, ErrAlreadyExists)
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE entries SET dn = ?, dn_norm = ?, parent_norm = ? WHERE id = ?
	`, newDN, norm, dirent.NormalizeDN(dirent.ParentDN(newDN)), id)
	return mapErr(err)
}

// applyMods applies modifications in order. Attribute-level modifications
// (Meta set) replace the stored row. Value-level modifications (Meta nil)
// edit the value list and keep the stored metadata.
func (t *Txn) applyMods(ctx context.Context, entryID int64, mods []dirent.Modification, usn uint64) error {
	for i := range mods {
		m := &mods[i]
		a := &m.Attr

		if a.Meta != nil {
			switch m.Op {
			case dirent.ModReplace, dirent.ModDelete:
				stored := *a
				if m.Op == dirent.ModDelete {
					stored.Values = nil
				}
				if err := t.putAttribute(ctx, entryID, &stored); err != nil {
					return err
				}
			case dirent.ModAdd:
				if err := t.addValues(ctx, entryID, a, a.Meta); err != nil {
					return err
				}
			}
			continue
		}

		switch m.Op {
		case dirent.ModAdd:
			if err := t.addValues(ctx, entryID, a, nil); err != nil {
				return err
			}
		case dirent.ModDelete:
			if err := t.deleteValues(ctx, entryID, a); err != nil {
				return err
			}
		default:
			return fmt.Errorf("attribute %s: %s without metadata", a.Type, m.Op)
		}
	}

	deleted, err := t.isDeleted(ctx, entryID)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE entries SET usn_changed = ?, is_deleted = ? WHERE id = ?
	`, usn, boolInt(deleted), entryID)
	return mapErr(err)
}

func (t *Txn) putAttribute(ctx context.Context, entryID int64, a *dirent.Attribute) error {
	vals, err := marshalValues(a.Values)
	if err != nil {
		return err
	}
	meta, err := marshalMeta(a.Type, a.Meta)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO attributes (entry_id, attr_id, attr_type, vals, meta)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entry_id, attr_id) DO UPDATE SET
			attr_type = excluded.attr_type, vals = excluded.vals, meta = excluded.meta
	`, entryID, a.Desc.ID, a.Type, vals, meta)
	if err != nil {
		return fmt.Errorf("put attribute %s: %w", a.Type, mapErr(err))
	}
	return nil
}

// storedAttribute loads one attribute row. ok is false when absent.
func (t *Txn) storedAttribute(ctx context.Context, entryID int64, attrID uint16) (vals [][]byte, meta string, ok bool, err error) {
	var raw string
	err = t.tx.QueryRowContext(ctx, `
		SELECT vals, meta FROM attributes WHERE entry_id = ? AND attr_id = ?
	`, entryID, attrID).Scan(&raw, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, mapErr(err)
	}
	vals, err = unmarshalValues(raw)
	return vals, meta, err == nil, err
}

// addValues merges a's values into the stored attribute. With meta nil the
// attribute must already exist and keeps its metadata.
func (t *Txn) addValues(ctx context.Context, entryID int64, a *dirent.Attribute, meta *dirent.AttrMetadata) error {
	have, storedMeta, ok, err := t.storedAttribute(ctx, entryID, a.Desc.ID)
	if err != nil {
		return err
	}
	if !ok && meta == nil {
		return fmt.Errorf("add values to %s: %w", a.Type, ErrNoSuchAttribute)
	}

	merged := &dirent.Attribute{Type: a.Type, Desc: a.Desc, Values: have, Meta: meta}
	for _, v := range a.Values {
		if !merged.HasValue(v) {
			merged.Values = append(merged.Values, v)
		}
	}
	if merged.Meta == nil {
		if merged.Meta, err = dirent.ParseAttrMetadata(storedMeta); err != nil {
			return err
		}
	}
	return t.putAttribute(ctx, entryID, merged)
}

// deleteValues removes a's values from the stored attribute. Values that are
// not present are ignored.
func (t *Txn) deleteValues(ctx context.Context, entryID int64, a *dirent.Attribute) error {
	have, storedMeta, ok, err := t.storedAttribute(ctx, entryID, a.Desc.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete values from %s: %w", a.Type, ErrNoSuchAttribute)
	}

	meta, err := dirent.ParseAttrMetadata(storedMeta)
	if err != nil {
		return err
	}
	kept := &dirent.Attribute{Type: a.Type, Desc: a.Desc, Meta: meta}
	for _, v := range have {
		if !a.HasValue(v) {
			kept.Values = append(kept.Values, v)
		}
	}
	return t.putAttribute(ctx, entryID, kept)
}

func (t *Txn) isDeleted(ctx context.Context, entryID int64) (bool, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `
		SELECT vals FROM attributes WHERE entry_id = ? AND attr_type = ? COLLATE NOCASE
	`, entryID, dirent.AttrIsDeleted).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	vals, err := unmarshalValues(raw)
	if err != nil {
		return false, err
	}
	return len(vals) > 0 && string(vals[0]) == dirent.IsDeletedTrue, nil
}

// PutAttributeType records an attribute type and the ID its rows are stored
// under. Recording the same name and ID again is a no-op; reusing either
// for something else fails with ErrAlreadyExists.
func (t *Txn) PutAttributeType(ctx context.Context, d schema.Descriptor) error {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT attr_id, name FROM attribute_types WHERE name = ? OR attr_id = ?
	`, d.Name, d.ID)
	if err != nil {
		return fmt.Errorf("put attribute type %s: %w", d.Name, mapErr(err))
	}
	recorded := false
	for rows.Next() {
		var (
			id   uint16
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("put attribute type %s: %w", d.Name, err)
		}
		if id != d.ID || !strings.EqualFold(name, d.Name) {
			rows.Close()
			return fmt.Errorf("put attribute type %s (id %d): conflicts with %s (id %d): %w",
				d.Name, d.ID, name, id, ErrAlreadyExists)
		}
		recorded = true
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return fmt.Errorf("put attribute type %s: %w", d.Name, mapErr(err))
	}
	if recorded {
		return nil
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO attribute_types (attr_id, name, multi_valued) VALUES (?, ?, ?)
	`, d.ID, d.Name, boolInt(d.MultiValued))
	if err != nil {
		return fmt.Errorf("put attribute type %s: %w", d.Name, mapErr(err))
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
