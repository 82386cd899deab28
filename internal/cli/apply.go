package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Mlorras/lightwave/internal/changeset"
	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/repl"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database    string
	Schema      string
	MaxRetries  int
	Workers     int
	MetricsFile string
}

// ChangeReport is the outcome of one change.
type ChangeReport struct {
	Op         string `json:"op"`
	DN         string `json:"dn"`
	PartnerUSN uint64 `json:"partner_usn"`
	Outcome    string `json:"outcome"` // applied | noop | warning | error
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	USN        uint64 `json:"usn,omitempty"`
	Mods       int    `json:"mods"`
}

// FileReport is the outcome of one change file.
type FileReport struct {
	File    string         `json:"file"`
	Partner string         `json:"partner"`
	Changes []ChangeReport `json:"changes"`
}

// ApplyResult holds the overall apply result.
type ApplyResult struct {
	InvocationID string       `json:"invocation_id"`
	Files        []FileReport `json:"files"`
	Applied      int          `json:"applied"`
	Noop         int          `json:"noop"`
	Warnings     int          `json:"warnings"`
	Failed       int          `json:"failed"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <change-file>...",
		Short: "Apply change files from replication partners",
		Long: `Apply one or more change files to the local replica.

Each change is resolved against local metadata: attributes and values that
lose conflict resolution are skipped, the rest are written in one
transaction per change. Changes that would risk divergence (name already
taken, missing object, non-leaf delete) are reported as warnings and
skipped. A fatal error stops processing.

With --workers, each file is applied as one batch: unrelated changes run
concurrently, changes to the same object or subtree keep file order, and
the first fatal error stops the rest of the batch.

Exit codes:
  0 - Every change applied, skipped, or warned
  1 - A change failed (malformed change or metadata, retries exhausted)
  2 - Command error (database not found, unreadable change file, etc.)

Examples:
  lwrepl apply --db ./r1.db page-001.yaml
  lwrepl apply --db ./r1.db --schema ./schema.cue --workers 4 page-*.yaml
  lwrepl apply --db ./r1.db --metrics-file ./repl.prom --format json page.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file extending the core attribute types")
	cmd.Flags().IntVar(&opts.MaxRetries, "max-retries", repl.DefaultMaxDeadlockRetries, "transaction attempts per change")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "apply each file as a batch with this many workers")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write apply metrics to this file in Prometheus text format")

	return cmd
}

func runApply(ctx context.Context, opts *ApplyOptions, files []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.MaxRetries < 1 {
		return NewExitError(ExitCommandError, "--max-retries must be at least 1")
	}

	// Load every file before touching the store.
	pages := make([]*changeset.File, 0, len(files))
	for _, path := range files {
		f, err := changeset.Load(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load change file", err)
		}
		pages = append(pages, f)
	}

	result := ApplyResult{InvocationID: uuid.NewString()}
	logger := opts.logger().With("invocation", result.InvocationID)

	reg := prometheus.NewRegistry()
	metrics := repl.NewMetrics(reg)

	r, err := openReplica(ctx, opts.Database, opts.Schema, false,
		repl.WithLogger(logger),
		repl.WithMetrics(metrics),
		repl.WithMaxDeadlockRetries(opts.MaxRetries),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	var fatal error
	for i, page := range pages {
		report := FileReport{File: files[i], Partner: page.Partner}
		fatal = applyPage(ctx, r, page, opts.Workers, &report)
		result.Files = append(result.Files, report)
		if fatal != nil {
			break
		}
	}
	result.tally()

	if opts.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics file", err)
		}
	}

	if err := opts.reporter(cmd).Report(result, func(w io.Writer) {
		outputApplyText(w, result)
	}); err != nil {
		return err
	}

	if fatal != nil {
		return WrapExitError(ExitFailure, "change failed", fatal)
	}
	return nil
}

// applyPage applies one file and appends a report per attempted change.
// Returns the first fatal error.
func applyPage(ctx context.Context, r *replica, page *changeset.File, workers int, report *FileReport) error {
	recs, err := page.Records()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode changes", err)
	}

	if workers > 0 {
		var fatal error
		for _, it := range r.engine.ApplyBatch(ctx, recs, workers) {
			report.Changes = append(report.Changes, changeReport(it.Record, it.Result, it.Err))
			if it.Err != nil && fatal == nil {
				fatal = it.Err
			}
		}
		return fatal
	}

	// Schema changes take effect for the rest of the page.
	sctx := r.registry.Acquire()
	for _, rec := range recs {
		res, err := r.engine.Apply(ctx, sctx, rec)
		report.Changes = append(report.Changes, changeReport(rec, res, err))
		if err != nil {
			return err
		}
		if res.Schema != nil {
			sctx = res.Schema
		}
	}
	return nil
}

func changeReport(rec *dirent.ChangeRecord, res repl.Result, err error) ChangeReport {
	cr := ChangeReport{
		Op:         rec.Kind.String(),
		DN:         rec.DN,
		PartnerUSN: rec.PartnerUSN,
		USN:        res.USN,
		Mods:       res.Mods,
	}
	if res.DN != "" {
		cr.DN = res.DN
	}

	var ae *repl.ApplyError
	switch {
	case err != nil:
		cr.Outcome = "error"
		cr.Message = err.Error()
		if errors.As(err, &ae) {
			cr.Code = string(ae.Code)
		}
	case res.Warning != nil:
		cr.Outcome = res.Outcome.String()
		cr.Code = string(res.Warning.Code)
		cr.Message = res.Warning.Message
	default:
		cr.Outcome = res.Outcome.String()
	}
	return cr
}

func (r *ApplyResult) tally() {
	for _, f := range r.Files {
		for _, c := range f.Changes {
			switch c.Outcome {
			case "applied":
				r.Applied++
			case "noop":
				r.Noop++
			case "warning":
				r.Warnings++
			default:
				r.Failed++
			}
		}
	}
}

func outputApplyText(w io.Writer, result ApplyResult) {
	for _, f := range result.Files {
		fmt.Fprintf(w, "%s (partner %s)\n", f.File, f.Partner)
		for _, c := range f.Changes {
			switch c.Outcome {
			case "applied":
				fmt.Fprintf(w, "  ✓ %s %s (usn %d, %d mods)\n", c.Op, c.DN, c.USN, c.Mods)
			case "noop":
				fmt.Fprintf(w, "  - %s %s (superseded locally)\n", c.Op, c.DN)
			case "warning":
				fmt.Fprintf(w, "  ! %s %s: %s %s\n", c.Op, c.DN, c.Code, c.Message)
			default:
				fmt.Fprintf(w, "  ✗ %s %s: %s\n", c.Op, c.DN, c.Message)
			}
		}
	}
	fmt.Fprintf(w, "\nApplied: %d, superseded: %d, warnings: %d, failed: %d\n",
		result.Applied, result.Noop, result.Warnings, result.Failed)
}
