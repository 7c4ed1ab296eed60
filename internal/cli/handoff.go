package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/catalog"
	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/handoff"
	"github.com/roach88/casewise/internal/matcher"
)

// NewHandoffCommand creates the handoff command group.
func NewHandoffCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Pass review-screen data to a wizard session",
	}
	cmd.AddCommand(newHandoffPutCommand(rootOpts))
	return cmd
}

// HandoffPutOptions holds flags for the handoff put command.
type HandoffPutOptions struct {
	*RootOptions
	Assignment string // build the transfer from this saved assignment
}

// HandoffPutResult is the handoff put command result.
type HandoffPutResult struct {
	Key        string `json:"key"`
	TTL        string `json:"ttl"`
	Assignment string `json:"assignment,omitempty"`
	Responses  int    `json:"responses"`
}

func newHandoffPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HandoffPutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <key> [transfer.json|-]",
		Short: "Store a transfer for a later \"resume --handoff\"",
		Long: `Store a handoff transfer under key. The transfer is JSON with optional
client, case, assignment, and extra objects:

  {"assignment": {"id": "asg-9", "clientEmail": "ana@example.com",
                  "formType": "I-130", "formCaseId": "CR-2025-0042",
                  "responses": {"q1": "yes"}}}

With --assignment the transfer is built from a saved assignment instead,
the way the response-review screen hands off: the id may be in any of its
forms (canonical, external, original, composite), and with a catalog
configured the responses are re-keyed by field id, accepting label keys.

Internal keys (leading "_" or "$") are dropped. The transfer is read once
and expires after handoff.ttl. Needs handoff.redis_addr.

Examples:
  casewise handoff put intake-42 transfer.json
  cat transfer.json | casewise handoff put intake-42 -
  casewise handoff put review-7 --assignment ext_9f8e7d6c5b4a39281706`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandoffPut(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Assignment, "assignment", "", "build the transfer from this saved assignment")

	return cmd
}

func runHandoffPut(opts *HandoffPutOptions, args []string, cmd *cobra.Command) error {
	key := args[0]
	switch {
	case len(args) == 2 && opts.Assignment != "":
		return NewExitError(ExitCommandError, "give a transfer file or --assignment, not both")
	case len(args) == 1 && opts.Assignment == "":
		return NewExitError(ExitCommandError, "handoff put needs a transfer file or --assignment")
	}

	var t handoff.Transfer
	if len(args) == 2 {
		var err error
		t, err = readTransfer(args[1], cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid transfer", err)
		}
	}

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Handoff.RedisAddr == "" {
		return NewExitError(ExitCommandError, "handoff put needs handoff.redis_addr (or CASEWISE_REDIS_ADDR)")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Assignment != "" {
		a, err := openApp(cfg, opts.logger())
		if err != nil {
			return err
		}
		defer a.Close()
		t, err = a.reviewTransfer(ctx, opts.Assignment)
		if err != nil {
			return err
		}
	}

	client, err := handoff.DialRedis(ctx, cfg.Handoff.RedisAddr, cfg.Handoff.RedisPassword, cfg.Handoff.RedisDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "handoff store unavailable", err)
	}
	defer client.Close()

	hs := handoff.NewRedisStore(client, "", cfg.Handoff.TTL)
	if err := hs.Put(ctx, key, t); err != nil {
		return WrapExitError(ExitFailure, "failed to store transfer", err)
	}

	f := opts.formatter(cmd)
	result := HandoffPutResult{
		Key:        key,
		TTL:        cfg.Handoff.TTL.String(),
		Assignment: t.Assignment.ID,
		Responses:  len(t.Assignment.Responses),
	}
	if f.JSON() {
		return f.Success(result)
	}
	f.Textf("stored transfer %q (expires in %s)", key, cfg.Handoff.TTL)
	if opts.Assignment != "" {
		f.Textf("  assignment %s, %d response(s)", result.Assignment, result.Responses)
	}
	return nil
}

// reviewTransfer builds the transfer the response-review screen hands to
// the wizard: the saved assignment target refers to, its responses keyed
// by the catalog questionnaire's field ids when a catalog is configured.
func (a *app) reviewTransfer(ctx context.Context, target string) (handoff.Transfer, error) {
	asg, ok := a.matcher.FindAssignment(ctx, target)
	if !ok {
		return handoff.Transfer{}, NewExitError(ExitFailure, fmt.Sprintf("no saved assignment matches %q", target))
	}

	if a.cfg.CatalogDir != "" {
		cat, errs := catalog.LoadDir(a.cfg.CatalogDir)
		if len(errs) > 0 {
			return handoff.Transfer{}, WrapExitError(ExitCommandError, "failed to load catalog", errors.Join(errs...))
		}
		if def, ok := cat.Questionnaire(asg.QuestionnaireID); ok {
			asg.Responses = matcher.ResponsesFor(asg, def)
		} else {
			a.logger.Warn("questionnaire not in catalog, responses passed as saved", "questionnaire_id", asg.QuestionnaireID)
		}
	}

	return handoff.Transfer{
		Client:     domain.ClientProfile{Email: asg.ClientEmail},
		Assignment: asg,
	}, nil
}

// readTransfer decodes a transfer from a file, or from stdin for "-".
// Unknown top-level keys are rejected.
func readTransfer(source string, stdin io.Reader) (handoff.Transfer, error) {
	var (
		data []byte
		err  error
	)
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return handoff.Transfer{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var t handoff.Transfer
	if err := dec.Decode(&t); err != nil {
		return handoff.Transfer{}, fmt.Errorf("decode %s: %w", source, err)
	}
	return t, nil
}
