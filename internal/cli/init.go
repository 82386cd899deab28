package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Mlorras/lightwave/internal/dirent"
	"github.com/Mlorras/lightwave/internal/repl"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Database string
	Domain   string
	ServerID string

	// Sources for the root entry's objectGUID and originating time.
	newGUID func() string
	now     func() time.Time
}

// InitResult describes the created replica.
type InitResult struct {
	Database string `json:"database"`
	Domain   string `json:"domain"`
	GUID     string `json:"guid"`
	ServerID string `json:"server_id"`
	USN      uint64 `json:"usn"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{
		RootOptions: rootOpts,
		newGUID:     uuid.NewString,
		now:         time.Now,
	}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a replica database",
		Long: `Create a new replica database holding the domain root entry.

The root entry gets a fresh objectGUID and attribute metadata originating
from --server-id. Other replicas are usually seeded from an export of this
one, so that every replica shares the root's objectGUID.

Exit codes:
  0 - Database created
  2 - Command error (database exists, invalid domain, etc.)

Examples:
  lwrepl init --db ./r1.db --domain dc=example,dc=com --server-id srv-a`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database to create (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "domain root DN, dc= components only (required)")
	_ = cmd.MarkFlagRequired("domain")
	cmd.Flags().StringVar(&opts.ServerID, "server-id", "local", "originating server ID stamped on the root entry")

	return cmd
}

func runInit(ctx context.Context, opts *InitOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !dirent.IsDomainRoot(opts.Domain) {
		return NewExitError(ExitCommandError, fmt.Sprintf("not a domain root: %q", opts.Domain))
	}
	if opts.ServerID == "" || strings.Contains(opts.ServerID, ":") {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid server id: %q", opts.ServerID))
	}

	r, err := openReplica(ctx, opts.Database, "", true, repl.WithLogger(opts.logger()))
	if err != nil {
		return err
	}
	defer r.Close()

	guid := opts.newGUID()
	rec, err := rootRecord(opts.Domain, guid, opts.ServerID, opts.now())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build root entry", err)
	}

	res, err := r.engine.Apply(ctx, nil, rec)
	if err == nil && res.Warning != nil {
		err = res.Warning
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create root entry", err)
	}

	result := InitResult{
		Database: opts.Database,
		Domain:   opts.Domain,
		GUID:     guid,
		ServerID: opts.ServerID,
		USN:      res.USN,
	}
	return opts.reporter(cmd).Report(result, func(w io.Writer) {
		fmt.Fprintf(w, "Created %s\n", result.Database)
		fmt.Fprintf(w, "  root: %s\n", result.Domain)
		fmt.Fprintf(w, "  objectGUID: %s\n", result.GUID)
	})
}

// rootRecord builds the add of a domain root as if replicated from
// serverID, so it goes through the same apply path as partner changes.
func rootRecord(domain, guid, serverID string, now time.Time) (*dirent.ChangeRecord, error) {
	meta := (&dirent.AttrMetadata{Version: 1, OrigServerID: serverID, OrigTime: now, OrigUSN: 1}).String()

	_, dc, _ := strings.Cut(dirent.SplitDN(domain)[0], "=")
	w := dirent.WireEntry{DN: domain, Attrs: []dirent.WireAttr{
		{Type: dirent.AttrObjectGUID, Meta: meta, Vals: []string{guid}},
		{Type: dirent.AttrObjectClass, Meta: meta, Vals: []string{"top", "domain"}},
		{Type: "dc", Meta: meta, Vals: []string{strings.TrimSpace(dc)}},
	}}
	payload, err := dirent.MarshalWire(w)
	if err != nil {
		return nil, err
	}
	return &dirent.ChangeRecord{
		Kind:       dirent.ChangeAdd,
		DN:         domain,
		Payload:    payload,
		Partner:    serverID,
		PartnerUSN: 1,
	}, nil
}
