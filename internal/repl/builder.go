package repl

import (
	"strings"

	"github.com/Mlorras/lightwave/internal/dirent"
)

// buildModifyRequest turns a resolved entry into modifications: REPLACE with
// the full value list for each winning attribute that has values, and a
// metadata-only DELETE for each winning attribute that has none. Skipped
// attributes produce nothing.
//
// When the winning isDeleted value is TRUE the request deletes the object;
// its DN is then the object's last known live name (see deleteTarget).
func buildModifyRequest(e *dirent.Entry) (req *dirent.ModifyRequest, deleteObject bool) {
	req = &dirent.ModifyRequest{DN: e.DN}

	for _, a := range e.Attrs.All() {
		if a.Skip || strings.EqualFold(a.Type, dirent.AttrObjectGUID) {
			continue
		}

		m := dirent.Modification{Op: dirent.ModReplace, Attr: *a}
		m.Attr.Skip = false
		m.Attr.ValueMeta = nil
		if a.IsDeleted() {
			m.Op = dirent.ModDelete
		}
		req.Mods = append(req.Mods, m)

		if strings.EqualFold(a.Type, dirent.AttrIsDeleted) && !a.IsDeleted() &&
			strings.EqualFold(string(a.Values[0]), dirent.IsDeletedTrue) {
			deleteObject = true
		}
	}

	if deleteObject {
		req.DN = deleteTarget(e)
	}
	return req, deleteObject
}

// deleteTarget returns the live name a delete applies to. A name already
// resolved through objectGUID is authoritative; otherwise the supplier's
// lastKnownDN is used, since the supplied DN is usually the tombstone name.
func deleteTarget(e *dirent.Entry) string {
	if e.LocalNameResolved {
		return e.DN
	}
	if last, ok := e.FirstValue(dirent.AttrLastKnownDN); ok && last != "" {
		return last
	}
	return e.DN
}
