package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/auth"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	Roles []string
	TTL   time.Duration
}

// TokenResult is the token command result.
type TokenResult struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the session service",
		Long: `Issue an HS256 bearer token signed with server.auth_secret. The wizard
sends it as remote.token; "casewise serve" verifies it on every /v1 route.

Examples:
  casewise token intake-desk
  casewise token intake-desk --role staff --ttl 8h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default server.token_ttl)")

	return cmd
}

func runToken(opts *TokenOptions, subject string, cmd *cobra.Command) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = cfg.Server.TokenTTL
	}

	signer, err := auth.NewSigner(cfg.Server.AuthSecret, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot issue token", err)
	}
	token, err := signer.Issue(subject, opts.Roles, ttl)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot issue token", err)
	}
	claims, err := signer.Verify(token)
	if err != nil {
		return WrapExitError(ExitFailure, "issued token does not verify", err)
	}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(TokenResult{Token: token, Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time})
	}
	f.VerboseLog("subject %s, expires %s", claims.Subject, claims.ExpiresAt.Time.Format(time.RFC3339))
	f.Textf("%s", token)
	return nil
}
