package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SearchByGUID returns the DNs of all entries carrying objectGUID guid.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) SearchByGUID(ctx context.Context, guid string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dn FROM entries WHERE object_guid = ? ORDER BY id ASC
	`, guid)
	if err != nil {
		return nil, fmt.Errorf("search guid %s: %w", guid, mapErr(err))
	}
	defer rows.Close()

	dns := []string{}
	for rows.Next() {
		var dn string
		if err := rows.Scan(&dn); err != nil {
			return nil, fmt.Errorf("scan dn: %w", err)
		}
		dns = append(dns, dn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guid matches: %w", mapErr(err))
	}
	return dns, nil
}

// ReadEntry loads one entry with all of its attributes, deleted ones
// included. Returns ErrNotFound if dn does not exist.
func (s *Store) ReadEntry(ctx context.Context, dn string, sctx *schema.Context) (*dirent.Entry, error) {
	return readEntry(ctx, s.db, dn, sctx)
}

// ReadEntry is Store.ReadEntry inside the transaction, seeing its writes.
func (t *Txn) ReadEntry(ctx context.Context, dn string, sctx *schema.Context) (*dirent.Entry, error) {
	return readEntry(ctx, t.tx, dn, sctx)
}

func readEntry(ctx context.Context, q queryer, dn string, sctx *schema.Context) (*dirent.Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, dn, usn_changed FROM entries WHERE dn_norm = ?
	`, dirent.NormalizeDN(dn))

	e := &dirent.Entry{Schema: sctx}
	if err := row.Scan(&e.ID, &e.DN, &e.USN); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("read %s: %w", dn, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", dn, mapErr(err))
	}

	if err := loadAttributes(ctx, q, e); err != nil {
		return nil, fmt.Errorf("read %s: %w", dn, err)
	}
	return e, nil
}

// AttributeTypes returns the attribute types recorded with PutAttributeType,
// ordered by ID.
func (s *Store) AttributeTypes(ctx context.Context) ([]schema.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attr_id, name, multi_valued FROM attribute_types ORDER BY attr_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list attribute types: %w", mapErr(err))
	}
	defer rows.Close()

	var defs []schema.Descriptor
	for rows.Next() {
		var d schema.Descriptor
		if err := rows.Scan(&d.ID, &d.Name, &d.MultiValued); err != nil {
			return nil, fmt.Errorf("scan attribute type: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribute types: %w", mapErr(err))
	}
	return defs, nil
}

// ListEntries returns every entry ordered by normalized DN.
// Returns an empty slice (not nil) for an empty store.
func (s *Store) ListEntries(ctx context.Context, sctx *schema.Context) ([]*dirent.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dn, usn_changed FROM entries ORDER BY dn_norm COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", mapErr(err))
	}

	entries := []*dirent.Entry{}
	for rows.Next() {
		e := &dirent.Entry{Schema: sctx}
		if err := rows.Scan(&e.ID, &e.DN, &e.USN); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate entries: %w", mapErr(err))
	}

	// Attributes are loaded after the entry cursor is closed; the pool has a
	// single connection.
	for _, e := range entries {
		if err := loadAttributes(ctx, s.db, e); err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
	}
	return entries, nil
}

// ReadValueMetadata returns the value metadata of one attribute of dn.
func (s *Store) ReadValueMetadata(ctx context.Context, dn string, attrID uint16) ([]dirent.ValueMetadata, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM entries WHERE dn_norm = ?`, dirent.NormalizeDN(dn)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read value metadata %s: %w", dn, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read value metadata %s: %w", dn, mapErr(err))
	}
	return readValueMetadata(ctx, s.db, id, attrID)
}

func loadAttributes(ctx context.Context, q queryer, e *dirent.Entry) error {
	rows, err := q.QueryContext(ctx, `
		SELECT attr_id, attr_type, vals, meta FROM attributes
		WHERE entry_id = ?
		ORDER BY attr_id ASC
	`, e.ID)
	if err != nil {
		return fmt.Errorf("query attributes: %w", mapErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			attrID       uint16
			typ, raw, mv string
		)
		if err := rows.Scan(&attrID, &typ, &raw, &mv); err != nil {
			return fmt.Errorf("scan attribute: %w", err)
		}

		a := &dirent.Attribute{Type: typ, Desc: schema.Descriptor{Name: typ, ID: attrID}}
		if e.Schema != nil {
			if d, ok := e.Schema.DescriptorByID(attrID); ok {
				a.Desc = d
			}
		}
		if a.Values, err = unmarshalValues(raw); err != nil {
			return fmt.Errorf("attribute %s: %w", typ, err)
		}
		if a.Meta, err = dirent.ParseAttrMetadata(mv); err != nil {
			return fmt.Errorf("attribute %s: %w", typ, err)
		}
		e.Attrs.Put(a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attributes: %w", mapErr(err))
	}
	return nil
}

func readValueMetadata(ctx context.Context, q queryer, entryID int64, attrID uint16) ([]dirent.ValueMetadata, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT meta FROM value_metadata
		WHERE entry_id = ? AND attr_id = ?
		ORDER BY value ASC
	`, entryID, attrID)
	if err != nil {
		return nil, fmt.Errorf("query value metadata: %w", mapErr(err))
	}
	defer rows.Close()

	items := []dirent.ValueMetadata{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan value metadata: %w", err)
		}
		vm, err := dirent.ParseValueMetadata(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate value metadata: %w", mapErr(err))
	}
	return items, nil
}
