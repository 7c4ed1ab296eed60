// Package gateway reads and writes wizard state through two stores: the
// remote session service, which is authoritative, and the local SQLite
// cache, which mirrors every write and serves reads when the remote
// cannot.
//
// Callers never see a remote failure as an error. Every call returns a
// Result tagged OK, Degraded, or Failed; only an unusable local cache (or
// rejected credentials on a read) yields Failed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/obs"
	"github.com/roach88/casewise/internal/remote"
	"github.com/roach88/casewise/internal/store"
)

// Remote is the authoritative store. *remote.Client implements it.
type Remote interface {
	Probe(ctx context.Context) error
	ListSessions(ctx context.Context, email string) ([]domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	PutSession(ctx context.Context, s domain.Session) (domain.Session, error)
	ListAssignments(ctx context.Context, email string) ([]domain.QuestionnaireAssignment, error)
	PutAssignment(ctx context.Context, a domain.QuestionnaireAssignment) error
	CreateAccount(ctx context.Context, req remote.AccountRequest) error
}

// Local is the durable cache. *store.Store implements it.
type Local interface {
	UpsertSession(ctx context.Context, s domain.Session) (domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	UpsertAssignment(ctx context.Context, a domain.QuestionnaireAssignment) (int64, error)
	ListAssignments(ctx context.Context) ([]domain.QuestionnaireAssignment, error)
	PutSummary(ctx context.Context, sum domain.CredentialSummary) error
	GetSummary(ctx context.Context) (domain.CredentialSummary, error)
	NextCounter(ctx context.Context, name string) (int64, error)
}

// Gateway fans reads and writes out to both stores. It is safe for
// concurrent use if both stores are.
type Gateway struct {
	remote  Remote
	local   Local
	logger  *slog.Logger
	metrics *obs.Metrics
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger for degraded and failed paths.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *obs.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides the time source used for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a gateway over local and rem. rem may be nil, in which case
// the gateway runs local-only and every successful call is OK.
func New(local Local, rem Remote, opts ...Option) *Gateway {
	g := &Gateway{
		remote: rem,
		local:  local,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WriteSession saves s remotely (after a reachability probe) and, whatever
// the remote outcome, mirrors it into the local cache. The returned value
// is the session as the local cache stored it.
func (g *Gateway) WriteSession(ctx context.Context, s domain.Session) Result[domain.Session] {
	const op = "write_session"
	s = s.Sanitized()

	remoteErr := g.remoteWrite(ctx, func(ctx context.Context) error {
		_, err := g.remote.PutSession(ctx, s)
		return err
	})

	saved, localErr := g.local.UpsertSession(ctx, s)
	if localErr != nil {
		saved = s
	}
	return record(g, op, writeOutcome(g, op, saved, remoteErr, localErr, slog.String("session_id", s.Key())))
}

// ReadSession fetches one session. A nil Value means neither store has it.
func (g *Gateway) ReadSession(ctx context.Context, id string) Result[*domain.Session] {
	const op = "read_session"

	var remoteErr error
	if g.remote != nil {
		s, err := g.remote.GetSession(ctx, id)
		if err == nil {
			return record(g, op, okResult(&s))
		}
		if !remote.Degradable(err) {
			g.logger.Error("remote read rejected", "op", op, "session_id", id, "error", err)
			return record(g, op, failedResult[*domain.Session](reasonFor(err), err))
		}
		remoteErr = err
	}

	s, err := g.local.GetSession(ctx, id)
	var value *domain.Session
	switch {
	case err == nil:
		value = &s
	case errors.Is(err, store.ErrNotFound):
	default:
		g.logger.Error("local cache read failed", "op", op, "session_id", id, "error", err)
		return record(g, op, failedResult[*domain.Session](ReasonLocalUnavailable, fmt.Errorf("%s: %w", op, err)))
	}

	if remoteErr == nil {
		return record(g, op, okResult(value))
	}
	g.logger.Warn("remote read failed, served from local cache", "op", op, "session_id", id, "error", remoteErr)
	return record(g, op, degradedResult(value, reasonFor(remoteErr), remoteErr))
}

// PooledSessions returns the union of remote and local sessions, remote
// first, deduplicated by session id. email narrows the remote query only;
// the local cache is always read whole.
func (g *Gateway) PooledSessions(ctx context.Context, email string) Result[[]domain.Session] {
	const op = "pool_sessions"

	var (
		remoteSessions []domain.Session
		remoteErr      error
	)
	if g.remote != nil {
		remoteSessions, remoteErr = g.remote.ListSessions(ctx, email)
		if remoteErr != nil && !remote.Degradable(remoteErr) {
			g.logger.Error("remote read rejected", "op", op, "error", remoteErr)
			return record(g, op, failedResult[[]domain.Session](reasonFor(remoteErr), remoteErr))
		}
	}

	localSessions, err := g.local.ListSessions(ctx)
	if err != nil {
		g.logger.Error("local cache read failed", "op", op, "error", err)
		if remoteErr == nil && g.remote != nil {
			return record(g, op, degradedResult(dedupeSessions(remoteSessions), ReasonLocalUnavailable, err))
		}
		return record(g, op, failedResult[[]domain.Session](ReasonLocalUnavailable, fmt.Errorf("%s: %w", op, err)))
	}

	pool := dedupeSessions(append(remoteSessions, localSessions...))
	if remoteErr != nil {
		g.logger.Warn("remote read failed, served from local cache", "op", op, "error", remoteErr)
		return record(g, op, degradedResult(pool, reasonFor(remoteErr), remoteErr))
	}
	return record(g, op, okResult(pool))
}

// WriteAssignment saves a questionnaire assignment to both stores.
func (g *Gateway) WriteAssignment(ctx context.Context, a domain.QuestionnaireAssignment) Result[domain.QuestionnaireAssignment] {
	const op = "write_assignment"

	remoteErr := g.remoteWrite(ctx, func(ctx context.Context) error {
		return g.remote.PutAssignment(ctx, a)
	})

	_, localErr := g.local.UpsertAssignment(ctx, a)
	return record(g, op, writeOutcome(g, op, a, remoteErr, localErr, slog.String("assignment_id", a.ID)))
}

// Assignments returns the union of remote and local assignments, remote
// first, deduplicated by id.
func (g *Gateway) Assignments(ctx context.Context) Result[[]domain.QuestionnaireAssignment] {
	const op = "list_assignments"

	var (
		remoteItems []domain.QuestionnaireAssignment
		remoteErr   error
	)
	if g.remote != nil {
		remoteItems, remoteErr = g.remote.ListAssignments(ctx, "")
		if remoteErr != nil && !remote.Degradable(remoteErr) {
			g.logger.Error("remote read rejected", "op", op, "error", remoteErr)
			return record(g, op, failedResult[[]domain.QuestionnaireAssignment](reasonFor(remoteErr), remoteErr))
		}
	}

	localItems, err := g.local.ListAssignments(ctx)
	if err != nil {
		g.logger.Error("local cache read failed", "op", op, "error", err)
		return record(g, op, failedResult[[]domain.QuestionnaireAssignment](ReasonLocalUnavailable, fmt.Errorf("%s: %w", op, err)))
	}

	all := dedupeAssignments(append(remoteItems, localItems...))
	if remoteErr != nil {
		g.logger.Warn("remote read failed, served from local cache", "op", op, "error", remoteErr)
		return record(g, op, degradedResult(all, reasonFor(remoteErr), remoteErr))
	}
	return record(g, op, okResult(all))
}

// RequestAccount forwards the secret to the remote account endpoint and
// writes the credential summary locally. The secret goes nowhere else.
// An account that already exists counts as requested.
func (g *Gateway) RequestAccount(ctx context.Context, email, secret string) Result[domain.CredentialSummary] {
	const op = "request_account"

	remoteErr := g.remoteWrite(ctx, func(ctx context.Context) error {
		err := g.remote.CreateAccount(ctx, remote.AccountRequest{Email: email, Password: secret})
		if errors.Is(err, remote.ErrConflict) {
			g.logger.Info("account already exists", "op", op, "email", email)
			return nil
		}
		return err
	})

	sum := domain.CredentialSummary{Email: email, AccountRequested: true, RequestedAt: g.now().UTC()}
	localErr := g.local.PutSummary(ctx, sum)
	return record(g, op, writeOutcome(g, op, sum, remoteErr, localErr, slog.String("email", email)))
}

// Summary returns the local credential summary; nil if none was written.
func (g *Gateway) Summary(ctx context.Context) Result[*domain.CredentialSummary] {
	const op = "read_summary"
	sum, err := g.local.GetSummary(ctx)
	switch {
	case err == nil:
		return record(g, op, okResult(&sum))
	case errors.Is(err, store.ErrNotFound):
		return record(g, op, okResult[*domain.CredentialSummary](nil))
	default:
		g.logger.Error("local cache read failed", "op", op, "error", err)
		return record(g, op, failedResult[*domain.CredentialSummary](ReasonLocalUnavailable, fmt.Errorf("%s: %w", op, err)))
	}
}

// NextFormCaseNumber draws the next running number for generated case ids
// in year. Numbers come from the local cache so they stay unique offline.
func (g *Gateway) NextFormCaseNumber(ctx context.Context, year int) (int, error) {
	n, err := g.local.NextCounter(ctx, fmt.Sprintf("formcase-%04d", year))
	if err != nil {
		return 0, fmt.Errorf("next form case number: %w", err)
	}
	return int(n), nil
}

// remoteWrite probes the remote and runs write if it answered. It returns
// nil when no remote is configured.
func (g *Gateway) remoteWrite(ctx context.Context, write func(context.Context) error) error {
	if g.remote == nil {
		return nil
	}
	if err := g.remote.Probe(ctx); err != nil {
		return err
	}
	return write(ctx)
}

// writeOutcome folds the two store results of a write into one Result.
// A failed local write is only tolerated when the remote took the write.
func writeOutcome[T any](g *Gateway, op string, value T, remoteErr, localErr error, attr slog.Attr) Result[T] {
	switch {
	case localErr != nil && (remoteErr != nil || g.remote == nil):
		g.logger.Error("write failed in both stores", "op", op, attr, "remote_error", remoteErr, "error", localErr)
		return failedResult[T](ReasonLocalUnavailable, fmt.Errorf("%s: %w", op, localErr))
	case localErr != nil:
		g.logger.Error("local mirror failed, remote holds the write", "op", op, attr, "error", localErr)
		return degradedResult(value, ReasonLocalUnavailable, localErr)
	case remoteErr != nil:
		g.logger.Warn("remote write failed, saved to local cache", "op", op, attr, "error", remoteErr)
		return degradedResult(value, reasonFor(remoteErr), remoteErr)
	default:
		return okResult(value)
	}
}

func record[T any](g *Gateway, op string, r Result[T]) Result[T] {
	g.metrics.GatewayOp(op, r.Outcome.String())
	return r
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, remote.ErrUnauthorized):
		return ReasonUnauthorized
	case errors.Is(err, remote.ErrNotFound):
		return ReasonRemoteAbsent
	default:
		return ReasonRemoteUnavailable
	}
}

func dedupeSessions(in []domain.Session) []domain.Session {
	out := make([]domain.Session, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		key := strings.TrimSpace(s.Key())
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, s)
	}
	return out
}

func dedupeAssignments(in []domain.QuestionnaireAssignment) []domain.QuestionnaireAssignment {
	out := make([]domain.QuestionnaireAssignment, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		key := a.ID
		if key == "" {
			key = a.LegacyID
		}
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, a)
	}
	return out
}
