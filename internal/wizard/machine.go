// Package wizard drives one pass through the eight-stage case wizard.
//
// A Machine owns the live session. Next validates the current stage and
// advances; Previous always steps back. Leaving client, case, forms, or
// questionnaire writes the cumulative session through the gateway, and a
// failed write never blocks the move. Entering answers with auto-fill on
// starts a background match keyed by the client's email whose result is
// folded in with the fill-if-absent merge whenever it arrives.
//
// Thread-safety: all methods are safe for concurrent use. Gateway calls
// are made without holding the machine's lock.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/gateway"
	"github.com/roach88/casewise/internal/handoff"
	"github.com/roach88/casewise/internal/ident"
	"github.com/roach88/casewise/internal/matcher"
	"github.com/roach88/casewise/internal/merge"
	"github.com/roach88/casewise/internal/ratelimit"
)

// DefaultAutoFillTimeout bounds one background auto-fill match.
const DefaultAutoFillTimeout = 10 * time.Second

var (
	// ErrNotStarted is the cause when an operation precedes Bootstrap.
	ErrNotStarted = errors.New("wizard: session not started")

	// ErrAlreadyStarted is the cause when Bootstrap runs twice.
	ErrAlreadyStarted = errors.New("wizard: session already started")

	// ErrSessionNotFound is the cause when a resumed session id is unknown.
	ErrSessionNotFound = errors.New("wizard: saved session not found")
)

// Persister is the storage the machine writes through.
// *gateway.Gateway implements it.
type Persister interface {
	WriteSession(ctx context.Context, s domain.Session) gateway.Result[domain.Session]
	ReadSession(ctx context.Context, id string) gateway.Result[*domain.Session]
	WriteAssignment(ctx context.Context, a domain.QuestionnaireAssignment) gateway.Result[domain.QuestionnaireAssignment]
	RequestAccount(ctx context.Context, email, secret string) gateway.Result[domain.CredentialSummary]
	NextFormCaseNumber(ctx context.Context, year int) (int, error)
}

// Finder resolves a partial key to a saved session. A nil match with a
// nil error is "no match"; a *matcher.PoolError means the pool could not
// be read at all. *matcher.Matcher implements it.
type Finder interface {
	Find(ctx context.Context, key matcher.Key, hint matcher.Hint) (*matcher.Match, error)
}

// Machine is the wizard state machine for one live session.
type Machine struct {
	store   Persister
	finder  Finder
	limiter *ratelimit.Limiter
	handoff handoff.Store
	ids     domain.IDGenerator
	now     func() time.Time
	logger  *slog.Logger

	autoFill        bool
	autoFillTimeout time.Duration
	prefixes        map[string]string
	defaultPrefix   string
	validate        *validator.Validate

	mu         sync.Mutex
	started    bool
	live       domain.Session
	assignment *domain.QuestionnaireAssignment
	definition *domain.QuestionnaireDefinition
	notices    []Notice

	pending sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithMatcher enables resume-by-key and auto-fill.
func WithMatcher(f Finder) Option {
	return func(m *Machine) { m.finder = f }
}

// WithLimiter guards RequestAccount. Without one, requests are unlimited.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(m *Machine) { m.limiter = l }
}

// WithHandoff sets the store ConsumeHandoff reads from.
func WithHandoff(h handoff.Store) Option {
	return func(m *Machine) { m.handoff = h }
}

// WithIDGenerator overrides session id generation (UUIDv7 by default).
func WithIDGenerator(g domain.IDGenerator) Option {
	return func(m *Machine) {
		if g != nil {
			m.ids = g
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAutoFill turns auto-fill on entry to answers on or off (default on).
func WithAutoFill(enabled bool) Option {
	return func(m *Machine) { m.autoFill = enabled }
}

// WithAutoFillTimeout bounds each background match.
func WithAutoFillTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.autoFillTimeout = d
		}
	}
}

// WithFormPrefixes maps form types to generated case id prefixes. Forms
// without an entry use domain.DefaultFormCasePrefix.
func WithFormPrefixes(p map[string]string) Option {
	return func(m *Machine) {
		for form, prefix := range p {
			m.prefixes[form] = prefix
		}
	}
}

// WithDefaultFormPrefix sets the prefix for forms WithFormPrefixes does
// not name.
func WithDefaultFormPrefix(prefix string) Option {
	return func(m *Machine) { m.defaultPrefix = prefix }
}

// New returns a machine that persists through store. Call Bootstrap
// before anything else.
func New(store Persister, opts ...Option) *Machine {
	m := &Machine{
		store:           store,
		ids:             domain.UUIDv7Generator{},
		now:             time.Now,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		autoFill:        true,
		autoFillTimeout: DefaultAutoFillTimeout,
		prefixes:        make(map[string]string),
		validate:        newValidator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BootstrapOptions selects what Bootstrap restores.
type BootstrapOptions struct {
	// SessionID resumes a saved session by id.
	SessionID string

	// Key resumes the best saved match when SessionID is empty.
	Key matcher.Key

	// Hint breaks ties for Key.
	Hint matcher.Hint

	// JumpTo places the restored session on this stage. Only allowed
	// here; once started the machine moves one stage at a time.
	JumpTo *domain.Stage
}

// Bootstrap starts the live session: fresh, resumed by id, or resumed from
// the best match for a key. A restored session lands on its saved stage,
// stepped back until that stage's entry precondition holds.
func (m *Machine) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	if m.isStarted() {
		return stageErr(CodePrecondition, m.Stage(), "session already started", ErrAlreadyStarted)
	}

	var restored *domain.Session
	switch {
	case strings.TrimSpace(opts.SessionID) != "":
		res := m.store.ReadSession(ctx, opts.SessionID)
		if res.Outcome == gateway.Failed {
			return failure(domain.StageStart, "resume", res)
		}
		noteResultFor(m, domain.StageStart, "resume", res)
		if res.Value == nil {
			return stageErr(CodePrecondition, domain.StageStart, "no saved session "+opts.SessionID, ErrSessionNotFound)
		}
		restored = res.Value
	case !opts.Key.IsZero() && m.finder != nil:
		match, err := m.finder.Find(ctx, opts.Key, opts.Hint)
		if err != nil {
			return poolFailure(domain.StageStart, "resume", err)
		}
		if match != nil && !conflicts(match, opts.Key.ClientEmail) {
			restored = &match.Session
		}
	}

	live := domain.Session{Status: domain.StatusInProgress}
	if restored != nil {
		live = restored.Clone()
		live.Credentials.Secret = ""
	}
	if live.Key() == "" {
		live.SessionID = m.ids.NewID()
	}
	if live.Status == "" {
		live.Status = domain.StatusInProgress
	}
	if !live.Stage.Valid() {
		live.Stage = domain.StageStart
	}

	if opts.JumpTo != nil {
		if err := entryCheck(*opts.JumpTo, live); err != nil {
			return err
		}
		live.Stage = *opts.JumpTo
	} else {
		for live.Stage > domain.StageStart && entryCheck(live.Stage, live) != nil {
			live.Stage--
		}
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return stageErr(CodePrecondition, live.Stage, "session already started", ErrAlreadyStarted)
	}
	m.started = true
	m.live = live
	m.mu.Unlock()

	if restored != nil {
		m.logger.Info("session resumed", "session_id", live.Key(), "stage", live.Stage.String())
		m.notify(LevelInfo, live.Stage, "resume", "resumed session "+live.Key())
	} else {
		m.logger.Info("session started", "session_id", live.Key())
	}
	if live.Stage == autoFillStage {
		m.startAutoFill(ctx)
	}
	return nil
}

// Next validates the current stage and advances one stage.
func (m *Machine) Next(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return stageErr(CodePrecondition, domain.StageStart, "session not started", ErrNotStarted)
	}
	from := m.live.Stage
	if from >= domain.LastStage {
		m.mu.Unlock()
		return stageErr(CodePrecondition, from, "already at the last stage", nil)
	}
	if err := m.exitCheck(from); err != nil {
		m.mu.Unlock()
		return err
	}
	to := from + 1
	if err := entryCheck(to, m.live); err != nil {
		m.mu.Unlock()
		return err
	}
	m.live.Stage = to
	m.live.UpdatedAt = m.now().UTC()
	snapshot := m.live.Clone()
	m.mu.Unlock()

	m.logger.Debug("stage advanced", "session_id", snapshot.Key(), "from", from.String(), "to", to.String())

	if writesThrough(from) {
		m.persist(ctx, from, snapshot)
	}
	if to == autoFillStage {
		m.startAutoFill(ctx)
	}
	return nil
}

// Previous steps back one stage. It is always permitted; on the first
// stage it does nothing.
func (m *Machine) Previous() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return stageErr(CodePrecondition, domain.StageStart, "session not started", ErrNotStarted)
	}
	if m.live.Stage > domain.FirstStage {
		m.live.Stage--
	}
	return nil
}

// SetClient replaces the client profile. Ids already assigned to the live
// client are kept when c carries none.
func (m *Machine) SetClient(c domain.ClientProfile) error {
	if err := ident.Validate(ident.Raw{ID: c.ID, LegacyID: c.LegacyID, OriginalID: c.OriginalID}); err != nil {
		return stageErr(CodeDataIntegrity, domain.StageClient, "client id cannot be used", err)
	}
	c.Email = strings.TrimSpace(c.Email)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return stageErr(CodePrecondition, domain.StageClient, "session not started", ErrNotStarted)
	}
	if c.ID == "" && c.LegacyID == "" {
		c.ID, c.LegacyID = m.live.Client.ID, m.live.Client.LegacyID
		if c.OriginalID == "" {
			c.OriginalID = m.live.Client.OriginalID
		}
	}
	c.SyncIDs()
	m.live.Client = c
	if m.live.Case.ClientID == "" {
		m.live.Case.ClientID = c.ID
	}
	return nil
}

// SetCase replaces the case metadata. Generated form-case ids and ids
// already assigned are kept.
func (m *Machine) SetCase(c domain.CaseRecord) error {
	if err := ident.Validate(ident.Raw{ID: c.ID, LegacyID: c.LegacyID, OriginalID: c.OriginalID}); err != nil {
		return stageErr(CodeDataIntegrity, domain.StageCase, "case id cannot be used", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return stageErr(CodePrecondition, domain.StageCase, "session not started", ErrNotStarted)
	}
	prev := m.live.Case
	if c.ID == "" && c.LegacyID == "" {
		c.ID, c.LegacyID = prev.ID, prev.LegacyID
		if c.OriginalID == "" {
			c.OriginalID = prev.OriginalID
		}
	}
	if c.ClientID == "" {
		c.ClientID = m.live.Client.ID
	}
	for form, id := range prev.FormCaseIDs {
		if c.FormCaseIDs == nil {
			c.FormCaseIDs = make(map[string]string, len(prev.FormCaseIDs))
		}
		if _, ok := c.FormCaseIDs[form]; !ok {
			c.FormCaseIDs[form] = id
		}
	}
	c.SyncIDs()
	m.live.Case = c
	return nil
}

// SelectForms sets the selected forms and allocates a generated case id
// for each one that has none. Ids already allocated are never replaced.
func (m *Machine) SelectForms(ctx context.Context, forms []string) error {
	selected := make([]string, 0, len(forms))
	for _, f := range forms {
		f = strings.TrimSpace(f)
		if f != "" && !slices.Contains(selected, f) {
			selected = append(selected, f)
		}
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return stageErr(CodePrecondition, domain.StageForms, "session not started", ErrNotStarted)
	}
	existing := m.live.FormCaseIDs
	m.mu.Unlock()

	year := m.now().Year()
	ids, err := domain.AllocateFormCaseIDs(existing, selected, m.prefixFor, year, func() (int, error) {
		return m.store.NextFormCaseNumber(ctx, year)
	})
	if err != nil {
		return stageErr(CodeStorageUnavailable, domain.StageForms, "could not allocate case ids", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for form, id := range m.live.FormCaseIDs {
		if _, ok := ids[form]; !ok {
			ids[form] = id
		}
	}
	m.live.SelectedForms = selected
	m.live.FormCaseIDs = ids
	for _, form := range selected {
		if m.live.Case.FormCaseIDs == nil {
			m.live.Case.FormCaseIDs = make(map[string]string, len(selected))
		}
		if m.live.Case.FormCaseIDs[form] == "" {
			m.live.Case.FormCaseIDs[form] = ids[form]
		}
	}
	return nil
}

// AssignQuestionnaire resolves the session's questionnaire assignment.
// def may be nil when the definition is not at hand; with it, response
// keys are checked and required answers enforced when leaving answers.
// Re-assigning the same assignment keeps responses already entered.
func (m *Machine) AssignQuestionnaire(a domain.QuestionnaireAssignment, def *domain.QuestionnaireDefinition) error {
	const stage = domain.StageQuestionnaire
	if err := ident.Validate(ident.Raw{ID: a.ID, LegacyID: a.LegacyID, OriginalID: a.OriginalID}); err != nil {
		return stageErr(CodeDataIntegrity, stage, "assignment id cannot be used", err)
	}
	if a.ID == "" {
		a.ID = a.LegacyID
	}
	if strings.TrimSpace(a.ID) == "" {
		return stageErr(CodeDataIntegrity, stage, "assignment has no id", ident.ErrInvalid)
	}
	if def != nil {
		if len(def.Fields) == 0 {
			return stageErr(CodeDataIntegrity, stage, "questionnaire has no fields", domain.ErrEmptyQuestionnaire)
		}
		if err := a.ValidateResponses(*def); err != nil {
			return stageErr(CodeDataIntegrity, stage, "responses do not fit the questionnaire", err)
		}
		if a.QuestionnaireTitle == "" {
			a.QuestionnaireTitle = def.Title
		}
		if a.QuestionnaireID == "" {
			a.QuestionnaireID = def.Identity().Canonical
		}
		d := *def
		def = &d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return stageErr(CodePrecondition, stage, "session not started", ErrNotStarted)
	}
	if a.ClientEmail == "" {
		a.ClientEmail = m.live.ClientEmail()
	}
	if a.ClientID == "" {
		a.ClientID = m.live.Client.ID
	}
	if a.CaseID == "" {
		a.CaseID = m.live.Case.ID
	}
	if a.FormCaseID == "" && a.FormType != "" {
		a.FormCaseID = m.live.FormCaseIDs[a.FormType]
	}
	if a.Status == "" {
		a.Status = domain.AssignmentInProgress
	}

	snap := a.Snapshot()
	if ident.Base(m.live.Assignment.ID) == ident.Base(snap.ID) {
		for k, v := range m.live.Assignment.Responses {
			if snap.Responses == nil {
				snap.Responses = make(map[string]any, len(m.live.Assignment.Responses))
			}
			snap.Responses[k] = v
		}
	}
	m.live.Assignment = snap
	m.assignment = &a
	m.definition = def
	return nil
}

// SetResponse records one answer. With a definition, key may be a field
// id or label and is stored under the field id; a nil or empty value
// clears the answer.
func (m *Machine) SetResponse(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stage := m.live.Stage
	if !m.started {
		return stageErr(CodePrecondition, stage, "session not started", ErrNotStarted)
	}
	if !m.live.Assignment.Resolved() {
		return stageErr(CodePrecondition, stage, "no questionnaire assigned", nil)
	}
	key = strings.TrimSpace(key)
	if m.definition != nil {
		f, ok := m.definition.Field(key)
		if !ok {
			return &StageError{Code: CodeValidation, Stage: stage, Message: "no such question", Fields: []string{key}, Err: domain.ErrUnknownResponseKey}
		}
		if f.Label != f.ID {
			delete(m.live.Assignment.Responses, f.Label)
		}
		key = f.ID
	}
	if key == "" {
		return &StageError{Code: CodeValidation, Stage: stage, Message: "no such question", Fields: []string{key}, Err: domain.ErrUnknownResponseKey}
	}
	if s, ok := value.(string); value == nil || (ok && strings.TrimSpace(s) == "") {
		delete(m.live.Assignment.Responses, key)
		return nil
	}
	if m.live.Assignment.Responses == nil {
		m.live.Assignment.Responses = make(map[string]any)
	}
	m.live.Assignment.Responses[key] = value
	return nil
}

// RequestAccount asks the remote to create the client's portal account.
// The secret is forwarded once and kept nowhere. Attempts are limited per
// email by the machine's limiter.
func (m *Machine) RequestAccount(ctx context.Context, secret string) error {
	m.mu.Lock()
	stage := m.live.Stage
	email := m.live.ClientEmail()
	started := m.started
	m.mu.Unlock()

	if !started {
		return stageErr(CodePrecondition, stage, "session not started", ErrNotStarted)
	}
	if strings.TrimSpace(email) == "" {
		return &StageError{Code: CodeValidation, Stage: stage, Message: "client email is required for an account", Fields: []string{"client.email"}}
	}
	if strings.TrimSpace(secret) == "" {
		return &StageError{Code: CodeValidation, Stage: stage, Message: "a password is required", Fields: []string{"clientCredentials.secret"}}
	}
	if m.limiter != nil && !m.limiter.Allow(email) {
		wait := m.limiter.RetryAfter(email).Round(time.Second)
		m.logger.Warn("account request rate limited", "email", email, "retry_after", wait)
		return stageErr(CodeRateLimited, stage, fmt.Sprintf("too many account requests, retry in %s", wait), nil)
	}

	res := m.store.RequestAccount(ctx, email, secret)
	if res.Outcome == gateway.Failed {
		return failure(stage, "request account", res)
	}
	if res.Reason == gateway.ReasonUnauthorized {
		return stageErr(CodeAuthentication, stage, "request account: "+res.Reason, res.Err)
	}
	noteResultFor(m, stage, "request account", res)

	m.mu.Lock()
	m.live.Credentials = domain.Credentials{Email: email, AccountRequested: true}
	m.live.UpdatedAt = m.now().UTC()
	snapshot := m.live.Clone()
	m.mu.Unlock()

	m.persist(ctx, stage, snapshot)
	return nil
}

// Complete finishes the session on the last stage: marks it and its
// assignment completed and writes both through.
func (m *Machine) Complete(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return stageErr(CodePrecondition, domain.StageStart, "session not started", ErrNotStarted)
	}
	if m.live.Stage != domain.LastStage {
		stage := m.live.Stage
		m.mu.Unlock()
		return stageErr(CodePrecondition, stage, "complete is only allowed on "+domain.LastStage.String(), nil)
	}
	m.live.Status = domain.StatusCompleted
	m.live.Assignment.Completed = true
	m.live.UpdatedAt = m.now().UTC()
	snapshot := m.live.Clone()
	var assignment *domain.QuestionnaireAssignment
	if m.assignment != nil {
		a := *m.assignment
		a.Status = domain.AssignmentCompleted
		a.Responses = snapshot.Assignment.Responses
		a.UpdatedAt = snapshot.UpdatedAt
		assignment = &a
	}
	m.mu.Unlock()

	m.persist(ctx, domain.LastStage, snapshot)
	if assignment != nil {
		noteResultFor(m, domain.LastStage, "save assignment", m.store.WriteAssignment(ctx, *assignment))
	}
	m.logger.Info("session completed", "session_id", snapshot.Key())
	return nil
}

// ConsumeHandoff takes the transfer stored under key, if any, and merges
// it into the live session. It reports whether a transfer was found.
func (m *Machine) ConsumeHandoff(ctx context.Context, key string) (bool, error) {
	stage := m.Stage()
	if !m.isStarted() {
		return false, stageErr(CodePrecondition, stage, "session not started", ErrNotStarted)
	}
	if m.handoff == nil {
		return false, nil
	}
	t, ok, err := m.handoff.Take(ctx, key)
	if err != nil {
		return false, stageErr(CodeStorageUnavailable, stage, "handoff unavailable", err)
	}
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	merged, adopted := merge.IntoLive(t.Session(), m.live)
	m.live = merged
	if m.assignment == nil && merged.Assignment.Resolved() &&
		ident.Base(merged.Assignment.ID) == ident.Base(t.Assignment.Snapshot().ID) {
		a := t.Assignment
		m.assignment = &a
	}
	m.mu.Unlock()

	m.logger.Info("handoff consumed", "key", key, "adopted", len(adopted))
	if len(adopted) > 0 {
		m.notify(LevelInfo, stage, "handoff", "filled "+strings.Join(adopted, ", "))
	}
	return true, nil
}

// Save writes the live session through without moving it. Like the
// write-through in Next, an unserved write only raises a notice.
func (m *Machine) Save(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return stageErr(CodePrecondition, domain.StageStart, "session not started", ErrNotStarted)
	}
	m.live.UpdatedAt = m.now().UTC()
	snapshot := m.live.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot.Stage, snapshot)
	return nil
}

// Stage returns the current stage.
func (m *Machine) Stage() domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live.Stage
}

// Session returns a copy of the live session.
func (m *Machine) Session() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live.Clone()
}

// Notices returns the notices raised so far, oldest first.
func (m *Machine) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notices)
}

// Wait blocks until every background auto-fill has been applied.
func (m *Machine) Wait() {
	m.pending.Wait()
}

func (m *Machine) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Machine) prefixFor(form string) string {
	if p, ok := m.prefixes[form]; ok {
		return p
	}
	return m.defaultPrefix
}

// persist writes s through the gateway. Failures become notices; they
// never block.
func (m *Machine) persist(ctx context.Context, stage domain.Stage, s domain.Session) {
	res := m.store.WriteSession(ctx, s)
	noteResultFor(m, stage, "save", res)
	if !res.Usable() {
		return
	}
	m.mu.Lock()
	if m.live.Key() == res.Value.Key() && res.Value.Seq > m.live.Seq {
		m.live.Seq = res.Value.Seq
	}
	m.mu.Unlock()
}

func (m *Machine) notify(level Level, stage domain.Stage, op, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, Notice{Level: level, Stage: stage, Op: op, Message: msg, At: m.now().UTC()})
}

// noteResultFor raises a notice for any result that is not OK.
func noteResultFor[T any](m *Machine, stage domain.Stage, op string, r gateway.Result[T]) {
	if r.OK() {
		return
	}
	level := levelFor(r)
	m.logger.Warn("gateway call not fully served", "op", op, "outcome", r.Outcome.String(), "reason", r.Reason, "error", r.Err)
	m.notify(level, stage, op, op+": "+r.Reason)
}

func writesThrough(from domain.Stage) bool {
	switch from {
	case domain.StageClient, domain.StageCase, domain.StageForms, domain.StageQuestionnaire:
		return true
	}
	return false
}

// failure turns a Failed result into the blocking error for stage.
func failure[T any](stage domain.Stage, op string, r gateway.Result[T]) *StageError {
	code := CodeStorageUnavailable
	if r.Reason == gateway.ReasonUnauthorized {
		code = CodeAuthentication
	}
	return stageErr(code, stage, op+": "+r.Reason, r.Err)
}

// poolFailure turns a matcher pool error into the blocking error for stage.
func poolFailure(stage domain.Stage, op string, err error) *StageError {
	code := CodeStorageUnavailable
	if matcher.IsUnauthorized(err) {
		code = CodeAuthentication
	}
	reason := "session pool unavailable"
	var pe *matcher.PoolError
	if errors.As(err, &pe) && pe.Reason != "" {
		reason = pe.Reason
	}
	return stageErr(code, stage, op+": "+reason, err)
}

// conflicts reports whether a recency match belongs to a different client
// than the one the caller named.
func conflicts(match *matcher.Match, email string) bool {
	if match.Tier != matcher.TierRecent {
		return false
	}
	want := ident.NormalizeEmail(email)
	got := ident.NormalizeEmail(match.Session.ClientEmail())
	return want != "" && got != "" && want != got
}
