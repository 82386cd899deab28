package repl

import (
	"cmp"
	"context"
	"errors"
	"strings"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/store"
)

// CompareMetadata orders two versions of the same attribute. It returns a
// positive number when a supersedes b, negative when b supersedes a and zero
// when they describe the same change.
//
// The order is total and identical on every replica: higher version first,
// then later originating time, then the greater originating server ID.
func CompareMetadata(a, b *dirent.AttrMetadata) int {
	if c := cmp.Compare(a.Version, b.Version); c != 0 {
		return c
	}
	if c := a.OrigTime.Compare(b.OrigTime); c != 0 {
		return c
	}
	return strings.Compare(a.OrigServerID, b.OrigServerID)
}

// resolveAttributes decides, for every attribute of e, whether the
// supplier's version wins over the local one on entry id. Losers are marked
// Skip. Winners get their local USN rewritten to usn; all other metadata
// fields are kept exactly as supplied.
func (en *Engine) resolveAttributes(ctx context.Context, txn Txn, id int64, e *dirent.Entry, usn uint64) error {
	for _, a := range e.Attrs.All() {
		if a.Meta == nil {
			return &ApplyError{
				Code:      ErrCodeMalformedMetadata,
				Message:   "attribute carries no metadata",
				Attribute: a.Type,
			}
		}

		local, err := txn.AttrMetadata(ctx, id, a.Desc.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			local = nil
		case errors.Is(err, dirent.ErrMalformedMetadata):
			return malformedMetadata(a.Type, err)
		case err != nil:
			return err
		}

		if local != nil && CompareMetadata(a.Meta, local) <= 0 {
			a.Skip = true
			en.metrics.Conflicts.WithLabelValues("attribute", "local").Inc()
			en.logger.Debug("supplier attribute lost",
				"dn", e.DN,
				"attr", a.Type,
				"supplier", a.Meta.String(),
				"local", local.String(),
			)
			continue
		}

		if local != nil {
			en.metrics.Conflicts.WithLabelValues("attribute", "supplier").Inc()
		}
		a.Meta.LocalUSN = usn
	}
	return nil
}
