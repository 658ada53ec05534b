package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"attendflow/internal/apiclient"
	"attendflow/internal/attendance"
	"attendflow/internal/report"
)

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var query, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, optionally filtered by name/roll and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := attendance.ParseFilter(status)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --status", err)
			}
			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			return s.out.Records(slices.Collect(s.store.Query(query, filter)))
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive name or roll substring")
	cmd.Flags().StringVarP(&status, "status", "s", "All", "All, Present, Absent, Late or Unknown")
	return cmd
}

// NewSearchCommand creates the search command, which uses the server's search.
func NewSearchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search records on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			records, err := s.client.SearchStudents(cmd.Context(), args[0])
			if err != nil {
				return remoteError("search", err)
			}
			return s.out.Records(records)
		},
	}
}

// NewMarkCommand creates the mark command.
func NewMarkCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <id> <Present|Absent|Late>",
		Short: "Set the attendance status of one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := attendance.ParseStatus(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, err.Error(), err)
			}
			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			rec, err := s.store.SetStatus(cmd.Context(), args[0], status)
			if err != nil {
				return mutationError("mark", err)
			}
			return s.out.Success(rec, fmt.Sprintf("%s (%s) marked %s at %s", rec.Name, rec.Roll, rec.Status, rec.Time))
		},
	}
}

// NewEditCommand creates the edit command.
func NewEditCommand(opts *RootOptions) *cobra.Command {
	var name, roll, class, status, phone string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit the fields of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch attendance.Patch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("roll") {
				patch.Roll = &roll
			}
			if flags.Changed("class") {
				patch.StudentClass = &class
			}
			if flags.Changed("phone") {
				patch.ParentPhoneNumber = &phone
			}
			if flags.Changed("status") {
				st, err := attendance.ParseFilter(status)
				if err != nil || st == attendance.StatusAll {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid --status %q", status))
				}
				patch.Status = &st
			}
			if patch.Empty() {
				return NewExitError(ExitCommandError, "nothing to edit: pass at least one field flag")
			}

			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			rec, err := s.store.UpdateFields(cmd.Context(), args[0], patch)
			if err != nil {
				return mutationError("edit", err)
			}
			return s.out.Success(rec, fmt.Sprintf("updated %s (%s)", rec.Name, rec.ID))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "student name")
	cmd.Flags().StringVar(&roll, "roll", "", "roll number")
	cmd.Flags().StringVar(&class, "class", "", "class")
	cmd.Flags().StringVar(&status, "status", "", "Present, Absent, Late or Unknown")
	cmd.Flags().StringVar(&phone, "phone", "", "parent phone number")
	return cmd
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(opts *RootOptions) *cobra.Command {
	var byClass bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show status counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			if byClass {
				classes := s.store.AggregateByClass()
				var b strings.Builder
				for _, c := range classes {
					fmt.Fprintf(&b, "%-15s total=%d present=%d absent=%d late=%d rate=%.1f%%\n",
						c.Class, c.Total, c.Present, c.Absent, c.Late, c.Rate)
				}
				return s.out.Success(classes, strings.TrimRight(b.String(), "\n"))
			}
			sum := s.store.Aggregate()
			return s.out.Success(sum, fmt.Sprintf("Total: %d  Present: %d  Absent: %d  Late: %d  Rate: %.1f%%",
				sum.Total, sum.Present, sum.Absent, sum.Late, sum.PresentRate()))
		},
	}
	cmd.Flags().BoolVar(&byClass, "by-class", false, "break counts down per class")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var as, kind, output, title, status string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a CSV, text or PDF report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(as)
			if err != nil {
				return WrapExitError(ExitCommandError, err.Error(), err)
			}
			k, err := report.ParseKind(kind)
			if err != nil {
				return WrapExitError(ExitCommandError, err.Error(), err)
			}
			filter, err := attendance.ParseFilter(status)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --status", err)
			}
			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			exp := report.New(title, s.loc)
			body, err := exp.Render(format, slices.Collect(s.store.FilterByStatus(filter)), k)
			if err != nil {
				return WrapExitError(ExitFailure, "render report", err)
			}

			if output == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if output == "" {
				output = exp.Filename(format, k)
			}
			if err := writeFile(output, body); err != nil {
				return WrapExitError(ExitFailure, "write report", err)
			}
			return s.out.Success(map[string]any{"path": output, "bytes": len(body)}, "wrote "+output)
		},
	}
	cmd.Flags().StringVar(&as, "as", "csv", "report format (csv|text|pdf)")
	cmd.Flags().StringVar(&kind, "type", "General", "report type (General|Daily|Weekly|Monthly|Annual)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path, - for stdout")
	cmd.Flags().StringVar(&title, "title", "", "report title")
	cmd.Flags().StringVar(&status, "status", "All", "only export records with this status")
	return cmd
}

func writeFile(path string, body []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var draft attendance.Draft
	var status string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a student to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, err := attendance.ParseStatus(status)
				if err != nil {
					return WrapExitError(ExitCommandError, err.Error(), err)
				}
				draft.Status = st
			}
			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			rec, err := s.store.Add(cmd.Context(), draft)
			if err != nil {
				return mutationError("add", err)
			}
			return s.out.Success(rec, fmt.Sprintf("added %s (%s) as %s", rec.Name, rec.Roll, rec.ID))
		},
	}
	cmd.Flags().StringVar(&draft.Name, "name", "", "student name")
	cmd.Flags().StringVar(&draft.Roll, "roll", "", "roll number")
	cmd.Flags().StringVar(&draft.StudentClass, "class", "", "class or section")
	cmd.Flags().StringVar(&draft.ParentPhoneNumber, "phone", "", "parent phone number")
	cmd.Flags().StringVar(&status, "status", "", "initial status (Present|Absent|Late)")
	return cmd
}

// NewNotifyCommand creates the notify command.
func NewNotifyCommand(opts *RootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Message the parents of absent students, or of one student with --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, true)
			if err != nil {
				return err
			}
			n := attendance.NewNotifier(s.store, s.client, nil)
			var ack attendance.Ack
			if id != "" {
				ack, err = n.NotifyRecord(cmd.Context(), id)
			} else {
				ack, err = n.NotifyAbsent(cmd.Context())
			}
			if err != nil {
				return mutationError("notify", err)
			}
			text := ack.Message
			if id == "" {
				text = fmt.Sprintf("%s (sent %d, failed %d)", ack.Message, ack.TotalSent, ack.TotalFailed)
			}
			return s.out.Success(ack, text)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "notify a single record")
	return cmd
}

// NewUsersCommand creates the users command group.
func NewUsersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage backend accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			users, err := s.client.Users(cmd.Context())
			if err != nil {
				return remoteError("list users", err)
			}
			var b strings.Builder
			for _, u := range users {
				fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, u.Role)
			}
			return s.out.Success(users, strings.TrimRight(b.String(), "\n"))
		},
	})
	var reg apiclient.Registration
	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reg.Username == "" || reg.Email == "" || reg.Password == "" {
				return NewExitError(ExitCommandError, "--username, --email and --password are required")
			}
			reg.Role = strings.ToUpper(reg.Role)
			s, err := opts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			u, err := s.client.Register(cmd.Context(), reg)
			if err != nil {
				return remoteError("register", err)
			}
			return s.out.Success(u, fmt.Sprintf("registered %s (%s) as %s", u.Username, u.Role, u.ID))
		},
	}
	register.Flags().StringVar(&reg.Username, "username", "", "account name")
	register.Flags().StringVar(&reg.Email, "email", "", "login email")
	register.Flags().StringVar(&reg.Password, "password", "", "access key")
	register.Flags().StringVar(&reg.Role, "role", "STUDENT", "ADMIN, HOD, TEACHER or STUDENT")
	register.Flags().StringVar(&reg.RollNumber, "roll", "", "roll number for student accounts")
	register.Flags().StringVar(&reg.PhoneNumber, "phone", "", "parent phone number for student accounts")
	cmd.AddCommand(register)
	cmd.AddCommand(&cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Start access key recovery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			msg, err := s.client.ForgotPassword(cmd.Context(), args[0])
			if err != nil {
				return remoteError("forgot password", err)
			}
			return s.out.Success(map[string]string{"message": msg}, msg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			if err := s.client.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return remoteError("delete user", err)
			}
			return s.out.Success(map[string]string{"deleted": args[0]}, "deleted user "+args[0])
		},
	})
	return cmd
}

func mutationError(action string, err error) error {
	switch {
	case errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, attendance.ErrInvalidPatch),
		errors.Is(err, attendance.ErrInvalidRecord),
		errors.Is(err, attendance.ErrNoNotificationTarget),
		errors.Is(err, attendance.ErrNoRecipients):
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %v", action, err), err)
	}
	return remoteError(action, err)
}

// Execute runs the root command and reports errors through the formatter.
func Execute(stdout, stderr io.Writer, args []string) int {
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}
	format, _ := cmd.PersistentFlags().GetString("format")
	out := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
	_ = out.Error(errorCode(err), err.Error())
	return GetExitCode(err)
}

func errorCode(err error) string {
	switch GetExitCode(err) {
	case ExitCommandError:
		return "usage"
	default:
		return "failed"
	}
}
