package repl

import (
	"context"

	"github.com/Mlorras/lightwave/internal/dirent"
)

// resolveLocalName maps the supplier's name for an object to the name the
// object has on this replica.
//
// objectGUID is removed from e; it never takes part in resolution. When
// exactly one local entry carries that GUID, e.LocalNameResolved is set and
// e.DN becomes the local name. Zero or several matches leave e.DN as sent;
// the change may then fail with a missing-object warning.
func (en *Engine) resolveLocalName(ctx context.Context, e *dirent.Entry) error {
	a, ok := e.Attrs.Remove(dirent.AttrObjectGUID)
	if !ok || len(a.Values) == 0 {
		// Older partners do not send objectGUID.
		return nil
	}
	guid := string(a.Values[0])

	dns, err := en.backend.SearchByGUID(ctx, guid)
	if err != nil {
		return err
	}
	if len(dns) != 1 {
		en.logger.Warn("objectGUID lookup did not find exactly one entry, keeping supplied name",
			"dn", e.DN,
			"guid", guid,
			"matches", len(dns),
		)
		return nil
	}

	e.LocalNameResolved = true
	if dirent.NormalizeDN(dns[0]) == dirent.NormalizeDN(e.DN) {
		return nil
	}

	en.logger.Info("supplied name differs from local name",
		"dn", e.DN,
		"local_dn", dns[0],
		"guid", guid,
	)
	e.DN = dns[0]
	return nil
}
