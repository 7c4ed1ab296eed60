package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/wizard"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	JumpTo  string
	Handoff string
}

// ResumeResult is the resume command result.
type ResumeResult struct {
	Session SessionRow      `json:"session"`
	Filled  bool            `json:"handoffFilled,omitempty"`
	Notices []wizard.Notice `json:"notices,omitempty"`
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Restore a saved session into the wizard",
		Long: `Restore a saved session by id and report where the wizard would pick
it up. The session is read from the remote first and from the local
cache when the remote cannot answer.

With --handoff the transfer stored under that key (see "casewise handoff
put") is consumed and merged into the session; fields the session
already has are kept. Handoff transfers need handoff.redis_addr.

Examples:
  casewise resume 0192f7a4-5c1e-7b3a-9d2e-4f6a8b0c1d2e
  casewise resume s-77 --jump-to case
  casewise resume s-77 --handoff intake-42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.JumpTo, "jump-to", "", "land on this stage (name or index) instead of the saved one")
	cmd.Flags().StringVar(&opts.Handoff, "handoff", "", "consume the handoff transfer stored under this key")

	return cmd
}

func runResume(opts *ResumeOptions, sessionID string, cmd *cobra.Command) error {
	bopts := wizard.BootstrapOptions{SessionID: sessionID}
	if opts.JumpTo != "" {
		stage, err := domain.ParseStage(opts.JumpTo)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --jump-to", err)
		}
		bopts.JumpTo = &stage
	}

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

	hs, err := a.handoffStore(ctx)
	if err != nil {
		return err
	}
	if opts.Handoff != "" && hs == nil {
		return NewExitError(ExitCommandError, "--handoff needs handoff.redis_addr (or CASEWISE_REDIS_ADDR)")
	}

	m, err := a.machine(hs)
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	if err := m.Bootstrap(ctx, bopts); err != nil {
		m.Wait()
		return stageFailure(f, err)
	}

	var result ResumeResult
	if opts.Handoff != "" {
		filled, err := m.ConsumeHandoff(ctx, opts.Handoff)
		if err != nil {
			m.Wait()
			return stageFailure(f, err)
		}
		result.Filled = filled
		if filled {
			if err := m.Save(ctx); err != nil {
				m.Wait()
				return stageFailure(f, err)
			}
		}
	}
	m.Wait()

	result.Session = sessionRow(m.Session())
	result.Notices = m.Notices()
	if f.JSON() {
		return f.Success(result)
	}
	f.Textf("%s at stage %s (%s)", result.Session.SessionID, result.Session.Stage, result.Session.Status)
	if opts.Handoff != "" && !result.Filled {
		f.Textf("no handoff transfer under %q", opts.Handoff)
	}
	for _, n := range result.Notices {
		f.Textf("  [%s] %s", n.Level, n.Message)
	}
	return nil
}

// stageFailure reports a wizard error. Stage errors are failures of the
// session; anything else is a command error.
func stageFailure(f *OutputFormatter, err error) error {
	var se *wizard.StageError
	if !errors.As(err, &se) {
		return WrapExitError(ExitCommandError, "wizard error", err)
	}
	if ferr := f.Error(string(se.Code), se.Error(), se.Fields); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("wizard refused (%s)", se.Code), err)
}
