package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/ident"
	"github.com/roach88/casewise/internal/remote"
)

// Remote operation names accepted by ScriptedRemote.Fail.
const (
	OpProbe           = "probe"
	OpListSessions    = "list_sessions"
	OpGetSession      = "get_session"
	OpPutSession      = "put_session"
	OpListAssignments = "list_assignments"
	OpPutAssignment   = "put_assignment"
	OpCreateAccount   = "create_account"
)

// RemoteOps lists every operation name, in interface order.
var RemoteOps = []string{OpProbe, OpListSessions, OpGetSession, OpPutSession, OpListAssignments, OpPutAssignment, OpCreateAccount}

// ScriptedRemote is an in-memory remote session service. Failures are
// scripted per operation; every call is recorded in order.
type ScriptedRemote struct {
	mu          sync.Mutex
	sessions    []domain.Session
	assignments []domain.QuestionnaireAssignment
	accounts    map[string]string
	failures    map[string]error
	calls       []string
}

// NewScriptedRemote returns a remote seeded with sessions.
func NewScriptedRemote(sessions ...domain.Session) *ScriptedRemote {
	r := &ScriptedRemote{
		accounts: make(map[string]string),
		failures: make(map[string]error),
	}
	for _, s := range sessions {
		r.sessions = append(r.sessions, s.Clone())
	}
	return r
}

// Fail makes op return err until cleared with a nil err.
func (r *ScriptedRemote) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// FailAll makes every operation return err; nil clears all failures.
func (r *ScriptedRemote) FailAll(err error) {
	for _, op := range RemoteOps {
		r.Fail(op, err)
	}
}

// Calls returns the operations invoked so far.
func (r *ScriptedRemote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// ResetCalls forgets the calls recorded so far.
func (r *ScriptedRemote) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Sessions returns a copy of the stored sessions.
func (r *ScriptedRemote) Sessions() []domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s.Clone()
	}
	return out
}

// AddAssignment seeds an assignment.
func (r *ScriptedRemote) AddAssignment(a domain.QuestionnaireAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = append(r.assignments, a)
}

// Account returns the secret recorded for email, if any.
func (r *ScriptedRemote) Account(email string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.accounts[ident.NormalizeEmail(email)]
	return v, ok
}

func (r *ScriptedRemote) begin(op string) error {
	r.mu.Lock()
	r.calls = append(r.calls, op)
	return r.failures[op]
}

func (r *ScriptedRemote) Probe(ctx context.Context) error {
	err := r.begin(OpProbe)
	r.mu.Unlock()
	return err
}

func (r *ScriptedRemote) ListSessions(ctx context.Context, email string) ([]domain.Session, error) {
	err := r.begin(OpListSessions)
	defer r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := []domain.Session{}
	for _, s := range r.sessions {
		if email != "" && !ident.SameEmail(email, s.ClientEmail()) {
			continue
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

func (r *ScriptedRemote) GetSession(ctx context.Context, id string) (domain.Session, error) {
	err := r.begin(OpGetSession)
	defer r.mu.Unlock()
	if err != nil {
		return domain.Session{}, err
	}
	for _, s := range r.sessions {
		if s.Key() == id {
			return s.Clone(), nil
		}
	}
	return domain.Session{}, &remote.StatusError{Method: "GET", Path: "/v1/sessions/" + id, Status: 404}
}

func (r *ScriptedRemote) PutSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	err := r.begin(OpPutSession)
	defer r.mu.Unlock()
	if err != nil {
		return domain.Session{}, err
	}
	s = s.Sanitized()
	for i := range r.sessions {
		if r.sessions[i].Key() == s.Key() {
			r.sessions[i] = s.Clone()
			return s, nil
		}
	}
	r.sessions = append(r.sessions, s.Clone())
	return s, nil
}

func (r *ScriptedRemote) ListAssignments(ctx context.Context, email string) ([]domain.QuestionnaireAssignment, error) {
	err := r.begin(OpListAssignments)
	defer r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := []domain.QuestionnaireAssignment{}
	for _, a := range r.assignments {
		if email != "" && !ident.SameEmail(email, a.ClientEmail) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *ScriptedRemote) PutAssignment(ctx context.Context, a domain.QuestionnaireAssignment) error {
	err := r.begin(OpPutAssignment)
	defer r.mu.Unlock()
	if err != nil {
		return err
	}
	for i := range r.assignments {
		if r.assignments[i].ID != "" && r.assignments[i].ID == a.ID {
			r.assignments[i] = a
			return nil
		}
	}
	r.assignments = append(r.assignments, a)
	return nil
}

func (r *ScriptedRemote) CreateAccount(ctx context.Context, req remote.AccountRequest) error {
	err := r.begin(OpCreateAccount)
	defer r.mu.Unlock()
	if err != nil {
		return err
	}
	key := ident.NormalizeEmail(req.Email)
	if _, exists := r.accounts[key]; exists {
		return &remote.StatusError{Method: "POST", Path: "/v1/accounts", Status: 409}
	}
	r.accounts[key] = strings.TrimSpace(req.Password)
	return nil
}
