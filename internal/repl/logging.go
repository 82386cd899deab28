package repl

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Mlorras/lightwave/internal/dirent"
)

const (
	// maxLoggedValues is the number of values logged per attribute before
	// only the total count is reported.
	maxLoggedValues = 10

	// maxLoggedValueLen truncates long values.
	maxLoggedValueLen = 256

	maskedValue = "XXX"
)

// loggedValues returns attribute values safe to log: sensitive attributes are
// masked, values are truncated, and at most maxLoggedValues are included.
func loggedValues(a *dirent.Attribute) []string {
	n := min(len(a.Values), maxLoggedValues)
	out := make([]string, 0, n)
	for _, v := range a.Values[:n] {
		switch {
		case a.Desc.Sensitive || strings.EqualFold(a.Type, "userPassword"):
			out = append(out, maskedValue)
		case len(v) > maxLoggedValueLen:
			out = append(out, string(v[:maxLoggedValueLen]))
		default:
			out = append(out, string(v))
		}
	}
	return out
}

// logEntryContent logs every attribute of a replicated entry at debug level.
func (en *Engine) logEntryContent(ctx context.Context, o op, e *dirent.Entry) {
	if !en.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	for _, a := range e.Attrs.All() {
		en.logger.Debug("replicated attribute",
			"op", o,
			"dn", e.DN,
			"attr", a.Type,
			"values", loggedValues(a),
			"count", len(a.Values),
		)
	}
}

// logMods logs the modifications about to be written.
func (en *Engine) logMods(ctx context.Context, req *dirent.ModifyRequest) {
	if !en.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	for _, m := range req.Mods {
		en.logger.Debug("replicated modification",
			"dn", req.DN,
			"mod", m.Op,
			"attr", m.Attr.Type,
			"values", loggedValues(&m.Attr),
			"count", len(m.Attr.Values),
		)
	}
}
