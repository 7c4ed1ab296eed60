package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/casewise/internal/catalog"
	"github.com/roach88/casewise/internal/config"
	"github.com/roach88/casewise/internal/gateway"
	"github.com/roach88/casewise/internal/handoff"
	"github.com/roach88/casewise/internal/matcher"
	"github.com/roach88/casewise/internal/ratelimit"
	"github.com/roach88/casewise/internal/remote"
	"github.com/roach88/casewise/internal/store"
	"github.com/roach88/casewise/internal/wizard"
)

// app is the client-side stack one command works with: the local cache,
// the optional remote, the gateway over both, and the matcher.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	gateway *gateway.Gateway
	matcher *matcher.Matcher
	closers []func() error
}

// openApp opens the cache at cfg.DBPath and, when cfg.Remote.URL is set,
// a remote client. Without a URL the gateway runs local-only.
func openApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open local cache", err)
	}
	a := &app{cfg: cfg, logger: logger, store: st}
	a.closers = append(a.closers, st.Close)

	var rem gateway.Remote
	if cfg.Remote.URL != "" {
		client, err := remote.New(cfg.Remote.URL,
			remote.WithTimeout(cfg.Remote.Timeout),
			remote.WithProbeTimeout(cfg.Remote.ProbeTimeout),
			remote.WithToken(cfg.Remote.Token),
		)
		if err != nil {
			a.Close()
			return nil, WrapExitError(ExitCommandError, "invalid remote", err)
		}
		rem = client
		logger.Debug("remote configured", "url", client.BaseURL())
	} else {
		logger.Debug("no remote configured, running local-only")
	}

	a.gateway = gateway.New(st, rem, gateway.WithLogger(logger))
	a.matcher = matcher.New(a.gateway, matcher.WithLogger(logger))
	return a, nil
}

// machine builds a wizard over the app's gateway. hs may be nil.
func (a *app) machine(hs handoff.Store) (*wizard.Machine, error) {
	opts := []wizard.Option{
		wizard.WithMatcher(a.matcher),
		wizard.WithLogger(a.logger),
		wizard.WithAutoFill(a.cfg.Wizard.AutoFill),
		wizard.WithAutoFillTimeout(a.cfg.Wizard.AutoFillTimeout),
		wizard.WithDefaultFormPrefix(a.cfg.Wizard.DefaultFormPrefix),
		wizard.WithLimiter(ratelimit.New(a.cfg.Accounts.Every, a.cfg.Accounts.Burst)),
	}
	if hs != nil {
		opts = append(opts, wizard.WithHandoff(hs))
	}
	if a.cfg.CatalogDir != "" {
		cat, errs := catalog.LoadDir(a.cfg.CatalogDir)
		if len(errs) > 0 {
			return nil, WrapExitError(ExitCommandError, "failed to load catalog", errors.Join(errs...))
		}
		opts = append(opts, wizard.WithFormPrefixes(cat.Prefixes()))
	}
	return wizard.New(a.gateway, opts...), nil
}

// handoffStore dials the configured Redis store. It returns nil when no
// Redis address is configured.
func (a *app) handoffStore(ctx context.Context) (handoff.Store, error) {
	h := a.cfg.Handoff
	if h.RedisAddr == "" {
		return nil, nil
	}
	client, err := handoff.DialRedis(ctx, h.RedisAddr, h.RedisPassword, h.RedisDB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "handoff store unavailable", err)
	}
	a.closers = append(a.closers, client.Close)
	return handoff.NewRedisStore(client, "", h.TTL), nil
}

// Close releases everything the app opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("error closing", "error", err)
		}
	}
}
