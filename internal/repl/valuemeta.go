package repl

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
	"github.com/Mlorras/lightwave/internal/store"
)

// detachValueMetadata removes the attrValueMetaData attribute from e and
// returns its raw items.
func detachValueMetadata(e *dirent.Entry) [][]byte {
	a, ok := e.Attrs.Remove(dirent.AttrValueMetaData)
	if !ok {
		return nil
	}
	return a.Values
}

// parseValueItem decodes one raw value metadata item and checks that it
// names a known multi-valued attribute.
func parseValueItem(sctx *schema.Context, raw []byte) (dirent.ValueMetadata, schema.Descriptor, error) {
	vm, err := dirent.ParseValueMetadata(raw)
	if err != nil {
		return vm, schema.Descriptor{}, malformedMetadata(dirent.AttrValueMetaData, err)
	}
	desc, err := sctx.Descriptor(vm.AttrType)
	if err != nil {
		return vm, desc, malformedMetadata(vm.AttrType, err)
	}
	if !desc.MultiValued {
		return vm, desc, malformedMetadata(vm.AttrType,
			fmt.Errorf("%w: value metadata for single-valued attribute", dirent.ErrMalformedMetadata))
	}
	return vm, desc, nil
}

// valueInScope reports whether a supplier value change wins against local
// state. It loses when the local attribute's (version, server) epoch differs
// from the one the value change was made under, or when a local record for
// the same value has a strictly later value change time. Losing is not an
// error.
func valueInScope(ctx context.Context, txn Txn, id int64, desc schema.Descriptor, vm dirent.ValueMetadata) (bool, error) {
	local, err := txn.AttrMetadata(ctx, id, desc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if local.Epoch() != vm.Epoch() {
		return false, nil
	}

	items, err := txn.ValueMetadata(ctx, id, desc.ID)
	if err != nil {
		return false, err
	}
	for _, have := range items {
		if have.SameValue(vm) && have.ValueOrigTime.After(vm.ValueOrigTime) {
			return false, nil
		}
	}
	return true, nil
}

// resolveValueMetadata runs value resolution for each raw item against
// entry id. Winning items are written to the store with their local USN set
// to usn, and turned into value-level ADD or DELETE modifications. Winners
// with the same attribute and operation share one modification.
func (en *Engine) resolveValueMetadata(ctx context.Context, txn Txn, id int64, e *dirent.Entry, raw [][]byte, usn uint64) ([]dirent.Modification, error) {
	var mods []dirent.Modification

	for _, r := range raw {
		vm, desc, err := parseValueItem(e.Schema, r)
		if err != nil {
			return nil, err
		}

		ok, err := valueInScope(ctx, txn, id, desc, vm)
		if err != nil {
			return nil, err
		}
		if !ok {
			en.metrics.Conflicts.WithLabelValues("value", "local").Inc()
			en.logger.Debug("supplier value metadata out of scope", "dn", e.DN, "item", vm.String())
			continue
		}
		en.metrics.Conflicts.WithLabelValues("value", "supplier").Inc()

		vm.AttrType = desc.Name
		vm.LocalUSN = usn
		if err := txn.UpdateValueMetadata(ctx, id, desc.ID, store.ValueMetaUpdate, []dirent.ValueMetadata{vm}); err != nil {
			return nil, err
		}

		mods = mergeValueMod(mods, desc, vm.Op, vm.Value)
	}
	return mods, nil
}

// mergeValueMod appends value to the modification for (desc, op), creating
// it if needed. Value-level modifications carry no attribute metadata.
func mergeValueMod(mods []dirent.Modification, desc schema.Descriptor, op dirent.ModOp, value []byte) []dirent.Modification {
	for i := range mods {
		if mods[i].Op == op && mods[i].Attr.Desc.ID == desc.ID {
			mods[i].Attr.Values = append(mods[i].Attr.Values, value)
			return mods
		}
	}
	return append(mods, dirent.Modification{
		Op:   op,
		Attr: dirent.Attribute{Type: desc.Name, Desc: desc, Values: [][]byte{value}},
	})
}

// purgeReplacedValueMetadata drops stored value metadata of every
// multi-valued attribute that mods replace wholesale.
func purgeReplacedValueMetadata(ctx context.Context, txn Txn, id int64, mods []dirent.Modification) error {
	for _, m := range mods {
		if m.Op != dirent.ModReplace || !m.Attr.Desc.MultiValued {
			continue
		}
		items, err := txn.ValueMetadata(ctx, id, m.Attr.Desc.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			continue
		}
		if err := txn.UpdateValueMetadata(ctx, id, m.Attr.Desc.ID, store.ValueMetaDelete, items); err != nil {
			return err
		}
	}
	return nil
}

// attachValueMetadata hangs value metadata items off the matching attributes
// of an entry being added, with the local USN set to usn. Items for
// attributes the entry does not carry are dropped.
func attachValueMetadata(e *dirent.Entry, raw [][]byte, usn uint64) error {
	for _, r := range raw {
		vm, desc, err := parseValueItem(e.Schema, r)
		if err != nil {
			return err
		}
		a, ok := e.Attrs.Get(desc.Name)
		if !ok {
			continue
		}
		vm.AttrType = desc.Name
		vm.LocalUSN = usn
		a.ValueMeta = append(a.ValueMeta, vm)
	}
	return nil
}
