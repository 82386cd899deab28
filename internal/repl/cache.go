package repl

import (
	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/schema"
)

// decodeOrReuse returns a private copy of the entry carried by rec.
//
// The first call decodes the payload and caches the decoded entry together
// with the bytes it came from. Later calls under the same schema generation,
// including retries of the same change after a failed attempt, start from
// that cached entry so resolution always sees identical input. A cached
// entry decoded under another generation is decoded again from the payload
// when there is one. The cached entry itself is never handed out.
func decodeOrReuse(rec *dirent.ChangeRecord, sctx *schema.Context) (*dirent.Entry, error) {
	if cached, _ := rec.Cached(); cached != nil {
		if len(rec.Payload) == 0 || sameGeneration(cached.Schema, sctx) {
			return cached.Clone(), nil
		}
	}

	if len(rec.Payload) == 0 {
		return nil, &ApplyError{
			Code:       ErrCodeMalformedChange,
			Message:    "change has neither a cached entry nor a payload",
			DN:         rec.DN,
			PartnerUSN: rec.PartnerUSN,
		}
	}

	e, err := dirent.DecodeEntry(rec.Payload, sctx)
	if err != nil {
		return nil, &ApplyError{
			Code:       ErrCodeMalformedChange,
			Message:    "cannot decode change",
			DN:         rec.DN,
			PartnerUSN: rec.PartnerUSN,
			Err:        err,
		}
	}
	rec.Cache(e, rec.Payload)
	return e.Clone(), nil
}

func sameGeneration(a, b *schema.Context) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Generation() == b.Generation()
}
