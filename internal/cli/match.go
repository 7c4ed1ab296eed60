package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/matcher"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	Key  matcher.Key
	Hint matcher.Hint
}

// MatchResult is the match command result.
type MatchResult struct {
	Tier    string     `json:"tier"`
	Session SessionRow `json:"session"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Find the saved session that best fits a partial key",
		Long: `Find the saved session that best fits a partial key.

Tiers are tried in order: form-case id, assignment id, client (email,
then name), then the most recent session. Exits 1 when nothing matches.

Examples:
  casewise match --form-case-id CR-2025-0001
  casewise match --email ada@example.com --hint-assignment asg-1
  casewise match --name "Ada Lovelace" --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Key.FormCaseID, "form-case-id", "", "form-case id, e.g. CR-2025-0001")
	f.StringVar(&opts.Key.AssignmentID, "assignment-id", "", "questionnaire assignment id")
	f.StringVar(&opts.Key.ClientEmail, "email", "", "client email")
	f.StringVar(&opts.Key.ClientName, "name", "", "client name")
	f.StringVar(&opts.Hint.AssignmentID, "hint-assignment", "", "prefer sessions on this assignment when tied")
	f.StringVar(&opts.Hint.SkipSessionID, "skip-session", "", "never return this session id")

	return cmd
}

func runMatch(opts *MatchOptions, cmd *cobra.Command) error {
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

	f := opts.formatter(cmd)
	match, err := a.matcher.Find(ctx, opts.Key, opts.Hint)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot match sessions", err)
	}
	if match == nil {
		if err := f.Error("NO_MATCH", "no saved session matches", opts.Key); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "no saved session matches")
	}

	result := MatchResult{Tier: match.Tier.String(), Session: sessionRow(match.Session)}
	if f.JSON() {
		return f.Success(result)
	}
	f.Textf("%s (matched by %s)", result.Session.SessionID, result.Tier)
	f.Textf("  stage:  %s", result.Session.Stage)
	f.Textf("  status: %s", result.Session.Status)
	if result.Session.Email != "" {
		f.Textf("  email:  %s", result.Session.Email)
	}
	return nil
}
