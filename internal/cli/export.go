package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mlorras/lightwave/internal/changeset"
	"github.com/Mlorras/lightwave/internal/dirent"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
	Schema   string
	Partner  string
	Output   string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export live entries as a change file",
		Long: `Write every live entry of the local replica as an add in a change file.

Parents come before their children and attribute and value metadata are
carried unchanged, so applying the file to an empty replica seeds it with
the same objects and versions. The file's partner is --partner.

Exit codes:
  0 - File written
  2 - Command error (database not found, unwritable output, etc.)

Examples:
  lwrepl export --db ./r1.db --partner srv-a -o seed.yaml
  lwrepl init --db ./r2.db --domain dc=example,dc=com && lwrepl apply --db ./r2.db seed.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file extending the core attribute types")
	cmd.Flags().StringVar(&opts.Partner, "partner", "", "partner name recorded in the change file (required)")
	_ = cmd.MarkFlagRequired("partner")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r, err := openReplica(ctx, opts.Database, opts.Schema, false)
	if err != nil {
		return err
	}
	defer r.Close()

	entries, err := r.store.ListEntries(ctx, r.registry.Acquire())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list entries", err)
	}

	// Parents first: fewer RDNs sort earlier, DN order within a depth.
	slices.SortStableFunc(entries, func(a, b *dirent.Entry) int {
		return len(dirent.SplitDN(a.DN)) - len(dirent.SplitDN(b.DN))
	})

	f := &changeset.File{Partner: opts.Partner}
	for _, e := range entries {
		if v, ok := e.FirstValue(dirent.AttrIsDeleted); ok && strings.EqualFold(v, "TRUE") {
			continue
		}
		var valueMeta []dirent.ValueMetadata
		for _, a := range e.Attrs.All() {
			if !a.Desc.MultiValued {
				continue
			}
			vms, err := r.store.ReadValueMetadata(ctx, e.DN, a.Desc.ID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read value metadata", err)
			}
			valueMeta = append(valueMeta, vms...)
		}
		f.Changes = append(f.Changes, changeset.FromEntry(e, valueMeta))
	}
	if len(f.Changes) == 0 {
		return NewExitError(ExitCommandError, "no live entries to export")
	}

	w := cmd.OutOrStdout()
	if opts.Output != "" {
		out, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer out.Close()
		w = out
	}
	if err := changeset.Write(w, f); err != nil {
		return WrapExitError(ExitCommandError, "failed to write change file", err)
	}

	if opts.Output != "" {
		return opts.reporter(cmd).Report(map[string]any{
			"output":  opts.Output,
			"entries": len(f.Changes),
		}, func(w io.Writer) {
			fmt.Fprintf(w, "Exported %d entries to %s\n", len(f.Changes), opts.Output)
		})
	}
	return nil
}
