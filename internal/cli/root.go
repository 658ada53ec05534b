package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Timezone   string
	TimeLayout string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the attendctl root command. Flag defaults come from
// the same environment as the API server.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	defaults, err := config.Load()
	if err != nil {
		defaults = config.App{
			UpstreamBaseURL: "http://localhost:9000/api",
			UpstreamTimeout: 15 * time.Second,
			TimeLayout:      attendance.DefaultTimeLayout,
		}
	}

	cmd := &cobra.Command{
		Use:   "attendctl",
		Short: "Operate on the attendance records of the current session",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", defaults.UpstreamBaseURL, "attendance API base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", defaults.UpstreamToken, "bearer token for the attendance API")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", defaults.UpstreamTimeout, "per-request timeout")
	cmd.PersistentFlags().StringVar(&opts.Timezone, "timezone", "Local", "time zone used for check-in times")
	cmd.PersistentFlags().StringVar(&opts.TimeLayout, "time-layout", defaults.TimeLayout, "Go time layout for check-in times")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewMarkCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewNotifyCommand(opts))
	cmd.AddCommand(NewUsersCommand(opts))

	return cmd
}

// session is one loaded store bound to the API.
type session struct {
	client *apiclient.Client
	store  *attendance.Store
	loc    *time.Location
	out    *OutputFormatter
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// open builds the client and store and, when load is set, fetches the records.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command, load bool) (*session, error) {
	tz := o.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --timezone", err)
	}
	client := apiclient.New(o.BaseURL, o.Token, o.Timeout)
	s := &session{
		client: client,
		store:  attendance.NewStore(client, attendance.WithLocation(loc), attendance.WithTimeLayout(o.TimeLayout)),
		loc:    loc,
		out:    o.formatter(cmd),
	}
	if load {
		s.out.VerboseLog("loading records from %s", o.BaseURL)
		records, err := s.store.Load(ctx)
		if err != nil {
			return nil, remoteError("load records", err)
		}
		s.out.VerboseLog("loaded %d records", len(records))
	}
	return s, nil
}

func remoteError(action string, err error) error {
	return WrapExitError(ExitFailure, fmt.Sprintf("%s: %s", action, apiclient.MessageOf(err)), err)
}
