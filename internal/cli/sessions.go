package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/gateway"
	"github.com/roach88/casewise/internal/ident"
)

// SessionsOptions holds flags for the sessions list command.
type SessionsOptions struct {
	*RootOptions
	Email string
}

// SessionRow is one session in command output.
type SessionRow struct {
	SessionID string    `json:"sessionId"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Forms     []string  `json:"forms,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionList is the sessions list result.
type SessionList struct {
	Outcome  string       `json:"outcome"`
	Reason   string       `json:"reason,omitempty"`
	Sessions []SessionRow `json:"sessions"`
}

// NewSessionsCommand creates the sessions command group.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect saved wizard sessions",
	}
	cmd.AddCommand(newSessionsListCommand(rootOpts))
	return cmd
}

func newSessionsListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions from the remote and the local cache",
		Long: `List the pooled sessions: the remote's sessions merged with the local
cache, deduplicated by session id. When the remote is unreachable the
local cache alone is listed and the outcome is "degraded".

Examples:
  casewise sessions list
  casewise sessions list --email ada@example.com --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "only sessions for this client email")

	return cmd
}

func runSessionsList(opts *SessionsOptions, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, opts.logger())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res := a.gateway.PooledSessions(ctx, opts.Email)
	if !res.Usable() {
		return WrapExitError(ExitCommandError, "cannot list sessions: "+res.Reason, res.Err)
	}

	list := SessionList{
		Outcome:  res.Outcome.String(),
		Reason:   res.Reason,
		Sessions: make([]SessionRow, 0, len(res.Value)),
	}
	email := strings.TrimSpace(opts.Email)
	for _, s := range res.Value {
		// The local cache is read whole, so narrow it here too.
		if email != "" && !ident.SameEmail(s.ClientEmail(), email) {
			continue
		}
		list.Sessions = append(list.Sessions, sessionRow(s))
	}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(list)
	}
	if res.Outcome == gateway.Degraded {
		fmt.Fprintf(f.GetErrWriter(), "warning: %s, showing the local cache only\n", res.Reason)
	}
	if len(list.Sessions) == 0 {
		fmt.Fprintln(f.Writer, "No sessions found.")
		return nil
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTAGE\tSTATUS\tEMAIL\tUPDATED")
	for _, r := range list.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.SessionID, r.Stage, r.Status, r.Email, formatUpdated(r.UpdatedAt))
	}
	return tw.Flush()
}

func sessionRow(s domain.Session) SessionRow {
	return SessionRow{
		SessionID: s.Key(),
		Stage:     s.Stage.String(),
		Status:    string(s.Status),
		Email:     s.ClientEmail(),
		Name:      s.Client.FullName(),
		Forms:     s.SelectedForms,
		UpdatedAt: s.UpdatedAt,
	}
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
