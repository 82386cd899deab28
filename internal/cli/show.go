package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/store"
)

// maskedValue replaces sensitive values in output.
const maskedValue = "XXX"

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database   string
	Schema     string
	Tombstones bool
}

// ShowAttr is one attribute as stored locally.
type ShowAttr struct {
	Type      string   `json:"type"`
	Vals      []string `json:"vals,omitempty"`
	Meta      string   `json:"meta,omitempty"`
	ValueMeta []string `json:"value_meta,omitempty"`
}

// ShowEntry is one entry as stored locally.
type ShowEntry struct {
	DN      string     `json:"dn"`
	USN     uint64     `json:"usn"`
	Deleted bool       `json:"deleted,omitempty"`
	Attrs   []ShowAttr `json:"attrs"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [dn...]",
		Short: "Show entries with their replication metadata",
		Long: `Show entries of the local replica with attribute and value metadata.

Without arguments every live entry is shown, ordered by DN. Sensitive
attribute values are masked.

Exit codes:
  0 - Entries shown
  2 - Command error (database not found, entry not found, etc.)

Examples:
  lwrepl show --db ./r1.db
  lwrepl show --db ./r1.db cn=alice,dc=example,dc=com
  lwrepl show --db ./r1.db --tombstones --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file extending the core attribute types")
	cmd.Flags().BoolVar(&opts.Tombstones, "tombstones", false, "include deleted entries")

	return cmd
}

func runShow(ctx context.Context, opts *ShowOptions, dns []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := openReplica(ctx, opts.Database, opts.Schema, false)
	if err != nil {
		return err
	}
	defer r.Close()

	sctx := r.registry.Acquire()
	var entries []*dirent.Entry
	if len(dns) == 0 {
		entries, err = r.store.ListEntries(ctx, sctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list entries", err)
		}
	} else {
		for _, dn := range dns {
			e, err := r.store.ReadEntry(ctx, dn, sctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read entry", err)
			}
			entries = append(entries, e)
		}
	}

	result := []ShowEntry{}
	for _, e := range entries {
		se, err := showEntry(ctx, r.store, e)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read value metadata", err)
		}
		if se.Deleted && !opts.Tombstones && len(dns) == 0 {
			continue
		}
		result = append(result, se)
	}

	return opts.reporter(cmd).Report(result, func(w io.Writer) {
		outputShowText(w, result)
	})
}

func showEntry(ctx context.Context, st *store.Store, e *dirent.Entry) (ShowEntry, error) {
	se := ShowEntry{DN: e.DN, USN: e.USN}
	if v, ok := e.FirstValue(dirent.AttrIsDeleted); ok && strings.EqualFold(v, "TRUE") {
		se.Deleted = true
	}

	for _, a := range e.Attrs.All() {
		sa := ShowAttr{Type: a.Type}
		if len(a.Values) > 0 {
			sa.Vals = a.StringValues()
		}
		if a.Desc.Sensitive {
			for i := range sa.Vals {
				sa.Vals[i] = maskedValue
			}
		}
		if a.Meta != nil {
			sa.Meta = a.Meta.String()
		}
		if a.Desc.MultiValued {
			vms, err := st.ReadValueMetadata(ctx, e.DN, a.Desc.ID)
			if err != nil {
				return ShowEntry{}, err
			}
			for _, vm := range vms {
				if a.Desc.Sensitive {
					vm.Value = []byte(maskedValue)
				}
				sa.ValueMeta = append(sa.ValueMeta, vm.String())
			}
		}
		se.Attrs = append(se.Attrs, sa)
	}
	return se, nil
}

func outputShowText(w io.Writer, entries []ShowEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries")
		return
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "dn: %s (usn %d)", e.DN, e.USN)
		if e.Deleted {
			fmt.Fprint(w, " [deleted]")
		}
		fmt.Fprintln(w)
		for _, a := range e.Attrs {
			if len(a.Vals) == 0 {
				fmt.Fprintf(w, "  %s: <deleted> [%s]\n", a.Type, a.Meta)
			}
			for _, v := range a.Vals {
				fmt.Fprintf(w, "  %s: %s [%s]\n", a.Type, v, a.Meta)
			}
			for _, vm := range a.ValueMeta {
				fmt.Fprintf(w, "    value: %s\n", vm)
			}
		}
	}
}
