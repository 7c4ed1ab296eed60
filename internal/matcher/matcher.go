// Package matcher picks the saved session that best fits a partial key.
//
// Candidates are compared in tiers and the first tier with any hit wins:
//
//  1. generated form-case id
//  2. assignment id in any of its id forms, composite suffix stripped
//  3. client email (case-insensitive), else normalized full name
//  4. most recently updated in-progress session, else most recent overall
//
// Within a tier the candidate whose assignment matches the caller's UI
// context wins; after that the most recent updatedAt, then the higher
// store seq, then the earlier pool position (remote before local).
package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/gateway"
	"github.com/roach88/casewise/internal/ident"
	"github.com/roach88/casewise/internal/obs"
)

// Key is the partial description of the wanted session. Any subset of
// fields may be set; the zero Key falls straight through to recency.
type Key struct {
	FormCaseID   string `json:"formCaseId,omitempty" yaml:"form_case_id,omitempty"`
	AssignmentID string `json:"assignmentId,omitempty" yaml:"assignment_id,omitempty"`
	ClientEmail  string `json:"clientEmail,omitempty" yaml:"client_email,omitempty"`
	ClientName   string `json:"clientName,omitempty" yaml:"client_name,omitempty"`

	// AssignmentAliases are the other id forms of the assignment
	// AssignmentID names (external, original, canonical). Matcher fills
	// it from the saved assignment records; Best accepts any of them.
	AssignmentAliases []string `json:"-" yaml:"-"`
}

// IsZero reports whether no key field is set.
func (k Key) IsZero() bool {
	return strings.TrimSpace(k.FormCaseID) == "" &&
		strings.TrimSpace(k.AssignmentID) == "" &&
		strings.TrimSpace(k.ClientEmail) == "" &&
		strings.TrimSpace(k.ClientName) == ""
}

// Hint is UI context. AssignmentID only breaks ties; SkipSessionID drops
// the caller's own live session from every tier.
type Hint struct {
	AssignmentID  string
	SkipSessionID string
}

// Tier identifies which rule produced a match.
type Tier int

const (
	TierNone Tier = iota
	TierFormCaseID
	TierAssignmentID
	TierClient
	TierRecent
)

func (t Tier) String() string {
	switch t {
	case TierFormCaseID:
		return "form_case_id"
	case TierAssignmentID:
		return "assignment_id"
	case TierClient:
		return "client"
	case TierRecent:
		return "recent"
	default:
		return "none"
	}
}

// PoolError reports a candidate pool that could not be built at all:
// rejected credentials or an unreadable local cache. It is not a "no
// match"; callers must surface it.
type PoolError struct {
	Reason string
	Err    error
}

func (e *PoolError) Error() string {
	if e.Err != nil {
		return "session pool: " + e.Reason + ": " + e.Err.Error()
	}
	return "session pool: " + e.Reason
}

func (e *PoolError) Unwrap() error { return e.Err }

// Unauthorized reports whether the remote rejected the credentials.
func (e *PoolError) Unauthorized() bool { return e.Reason == gateway.ReasonUnauthorized }

// IsUnauthorized reports whether err is a PoolError for rejected
// credentials.
func IsUnauthorized(err error) bool {
	var pe *PoolError
	return errors.As(err, &pe) && pe.Unauthorized()
}

// Match is a chosen session and the tier that chose it.
type Match struct {
	Session domain.Session
	Tier    Tier
}

// Source supplies the candidate pool. *gateway.Gateway implements it.
type Source interface {
	PooledSessions(ctx context.Context, email string) gateway.Result[[]domain.Session]
	Assignments(ctx context.Context) gateway.Result[[]domain.QuestionnaireAssignment]
}

// Matcher resolves keys against the pooled sessions of a Source.
type Matcher struct {
	source  Source
	logger  *slog.Logger
	metrics *obs.Metrics
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger for excluded candidates and pool failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics counts matches per tier.
func WithMetrics(metrics *obs.Metrics) Option {
	return func(m *Matcher) { m.metrics = metrics }
}

// New returns a Matcher over source.
func New(source Source, opts ...Option) *Matcher {
	m := &Matcher{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindBestMatch returns the best session for key, or nil. It never fails:
// an unusable pool is logged and reported as no match. Callers that must
// tell rejected credentials from an empty pool use Find.
func (m *Matcher) FindBestMatch(ctx context.Context, key Key, hint Hint) *Match {
	match, _ := m.Find(ctx, key, hint)
	return match
}

// Find is FindBestMatch that returns a *PoolError instead of nil when the
// pool could not be built. A degraded pool (remote down, local served) is
// still matched.
func (m *Matcher) Find(ctx context.Context, key Key, hint Hint) (*Match, error) {
	res := m.source.PooledSessions(ctx, "")
	if !res.Usable() {
		m.logger.Warn("session pool unavailable", "reason", res.Reason, "error", res.Err)
		return nil, &PoolError{Reason: res.Reason, Err: res.Err}
	}
	key = m.resolveAssignment(ctx, key)

	pool, excluded := Prepare(res.Value)
	for _, e := range excluded {
		m.logger.Warn("session excluded from pool", "session_id", e.SessionID, "error", e.Err)
	}

	match := Best(pool, key, hint)
	if match == nil {
		m.metrics.MatchTier(TierNone.String())
		return nil, nil
	}
	m.metrics.MatchTier(match.Tier.String())
	m.logger.Debug("session matched", "session_id", match.Session.SessionID, "tier", match.Tier.String())
	return match, nil
}

// resolveAssignment fills key.AssignmentAliases from the saved assignment
// record key.AssignmentID refers to. Without an assignment list the key is
// returned as is and Best compares base forms only.
func (m *Matcher) resolveAssignment(ctx context.Context, key Key) Key {
	if strings.TrimSpace(key.AssignmentID) == "" {
		return key
	}
	a, ok := m.FindAssignment(ctx, key.AssignmentID)
	if !ok {
		return key
	}
	for _, c := range a.Identity().Candidates {
		if c.Kind != ident.KindName {
			key.AssignmentAliases = append(key.AssignmentAliases, c.Value)
		}
	}
	return key
}

// candidate is a pool entry with its comparison keys computed once.
type candidate struct {
	session    domain.Session
	index      int
	caseIDs    map[string]struct{}
	assignment string
	email      string
	name       string
}

// Pool is a prepared candidate pool.
type Pool []candidate

// Exclusion records a session dropped from the pool and why.
type Exclusion struct {
	SessionID string
	Err       error
}

// Prepare validates sessions and computes their comparison keys.
// Sessions with no key or with unusable identifiers are excluded.
func Prepare(sessions []domain.Session) (Pool, []Exclusion) {
	pool := make(Pool, 0, len(sessions))
	var excluded []Exclusion
	for i, s := range sessions {
		if strings.TrimSpace(s.Key()) == "" {
			excluded = append(excluded, Exclusion{Err: ident.ErrInvalid})
			continue
		}
		if err := ident.Validate(ident.Raw{ID: s.Client.ID, LegacyID: s.Client.LegacyID, OriginalID: s.Client.OriginalID}); err != nil {
			excluded = append(excluded, Exclusion{SessionID: s.Key(), Err: err})
			continue
		}
		c := candidate{
			session:    s,
			index:      i,
			caseIDs:    make(map[string]struct{}),
			assignment: ident.Base(s.Assignment.ID),
			email:      ident.NormalizeEmail(s.ClientEmail()),
			name:       ident.NormalizeName(s.Client.FullName()),
		}
		for _, id := range s.AllFormCaseIDs() {
			c.caseIDs[id] = struct{}{}
		}
		pool = append(pool, c)
	}
	return pool, excluded
}

// Best applies the tiers to a prepared pool. Returns nil for an empty pool.
func Best(pool Pool, key Key, hint Hint) *Match {
	if len(pool) == 0 {
		return nil
	}

	if id := strings.TrimSpace(key.FormCaseID); id != "" {
		if c := pick(pool, hint, func(c candidate) bool {
			_, ok := c.caseIDs[id]
			return ok
		}); c != nil {
			return &Match{Session: c.session, Tier: TierFormCaseID}
		}
	}

	if ids := assignmentForms(key); len(ids) > 0 {
		if c := pick(pool, hint, func(c candidate) bool {
			_, ok := ids[c.assignment]
			return c.assignment != "" && ok
		}); c != nil {
			return &Match{Session: c.session, Tier: TierAssignmentID}
		}
	}

	if email := ident.NormalizeEmail(key.ClientEmail); email != "" {
		if c := pick(pool, hint, func(c candidate) bool { return c.email == email }); c != nil {
			return &Match{Session: c.session, Tier: TierClient}
		}
	}
	if name := ident.NormalizeName(key.ClientName); name != "" {
		if c := pick(pool, hint, func(c candidate) bool { return c.name == name }); c != nil {
			return &Match{Session: c.session, Tier: TierClient}
		}
	}

	if c := pick(pool, hint, func(c candidate) bool {
		return c.session.Status == domain.StatusInProgress
	}); c != nil {
		return &Match{Session: c.session, Tier: TierRecent}
	}
	if c := pick(pool, hint, func(candidate) bool { return true }); c != nil {
		return &Match{Session: c.session, Tier: TierRecent}
	}
	return nil
}

// assignmentForms is the set of base ids that name the key's assignment.
func assignmentForms(key Key) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, v := range append([]string{key.AssignmentID}, key.AssignmentAliases...) {
		base := ident.Base(v)
		if base == "" {
			continue
		}
		ids[base] = struct{}{}
	}
	return ids
}

// FindBestMatch is Best over raw sessions.
func FindBestMatch(sessions []domain.Session, key Key, hint Hint) *Match {
	pool, _ := Prepare(sessions)
	return Best(pool, key, hint)
}

// pick returns the highest-ranked candidate satisfying keep, or nil.
func pick(pool Pool, hint Hint, keep func(candidate) bool) *candidate {
	hinted := ident.Base(hint.AssignmentID)
	var best *candidate
	for i := range pool {
		c := &pool[i]
		if hint.SkipSessionID != "" && c.session.Key() == hint.SkipSessionID {
			continue
		}
		if !keep(*c) {
			continue
		}
		if best == nil || outranks(c, best, hinted) {
			best = c
		}
	}
	return best
}

// outranks reports whether a beats b inside one tier.
func outranks(a, b *candidate, hinted string) bool {
	if hinted != "" {
		ah, bh := a.assignment == hinted, b.assignment == hinted
		if ah != bh {
			return ah
		}
	}
	if !a.session.UpdatedAt.Equal(b.session.UpdatedAt) {
		return a.session.UpdatedAt.After(b.session.UpdatedAt)
	}
	if a.session.Seq != b.session.Seq {
		return a.session.Seq > b.session.Seq
	}
	return a.index < b.index
}
