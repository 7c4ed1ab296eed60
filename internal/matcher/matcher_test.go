package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/gateway"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func session(id string, opts ...func(*domain.Session)) domain.Session {
	s := domain.Session{SessionID: id, Status: domain.StatusInProgress, UpdatedAt: t0}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func withEmail(e string) func(*domain.Session) {
	return func(s *domain.Session) { s.Client.Email = e }
}

func withName(first, last string) func(*domain.Session) {
	return func(s *domain.Session) { s.Client.FirstName, s.Client.LastName = first, last }
}

func withFormCase(form, id string) func(*domain.Session) {
	return func(s *domain.Session) {
		if s.FormCaseIDs == nil {
			s.FormCaseIDs = map[string]string{}
		}
		s.FormCaseIDs[form] = id
	}
}

func withAssignment(id string) func(*domain.Session) {
	return func(s *domain.Session) { s.Assignment.ID = id }
}

func updated(d time.Duration) func(*domain.Session) {
	return func(s *domain.Session) { s.UpdatedAt = t0.Add(d) }
}

func completed(s *domain.Session) { s.Status = domain.StatusCompleted }

func TestBest_FormCaseIDScenario(t *testing.T) {
	pool := []domain.Session{
		session("s-other", withEmail("ben@example.com"), updated(time.Hour)),
		session("s-target", withFormCase("I-130", "CR-2025-0007")),
	}
	m := FindBestMatch(pool, Key{FormCaseID: "CR-2025-0007"}, Hint{})
	require.NotNil(t, m)
	assert.Equal(t, "s-target", m.Session.SessionID)
	assert.Equal(t, TierFormCaseID, m.Tier)
}

func TestBest_FormCaseIDSearchesCaseAndAssignment(t *testing.T) {
	viaCase := session("s-case")
	viaCase.Case.FormCaseIDs = map[string]string{"I-485": "CR-2025-0011"}
	viaAssignment := session("s-asg")
	viaAssignment.Assignment.FormCaseID = "CR-2025-0012"

	pool := []domain.Session{viaCase, viaAssignment}
	assert.Equal(t, "s-case", FindBestMatch(pool, Key{FormCaseID: "CR-2025-0011"}, Hint{}).Session.SessionID)
	assert.Equal(t, "s-asg", FindBestMatch(pool, Key{FormCaseID: "CR-2025-0012"}, Hint{}).Session.SessionID)
}

func TestBest_Priority(t *testing.T) {
	pool := []domain.Session{
		session("by-email", withEmail("ana@example.com"), updated(2*time.Hour)),
		session("by-assignment", withAssignment("asg-1"), updated(time.Hour)),
		session("by-form-case", withFormCase("I-130", "CR-2025-0007")),
	}

	tests := []struct {
		name string
		key  Key
		want string
		tier Tier
	}{
		{"form case beats everything", Key{FormCaseID: "CR-2025-0007", AssignmentID: "asg-1", ClientEmail: "ana@example.com"}, "by-form-case", TierFormCaseID},
		{"assignment beats email", Key{AssignmentID: "asg-1", ClientEmail: "ana@example.com"}, "by-assignment", TierAssignmentID},
		{"composite assignment id", Key{AssignmentID: "asg-1__I-130"}, "by-assignment", TierAssignmentID},
		{"email case-insensitive", Key{ClientEmail: "ANA@Example.com"}, "by-email", TierClient},
		{"unknown form case falls through", Key{FormCaseID: "CR-2025-9999", ClientEmail: "ana@example.com"}, "by-email", TierClient},
		{"empty key uses recency", Key{}, "by-email", TierRecent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := FindBestMatch(pool, tt.key, Hint{})
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Session.SessionID)
			assert.Equal(t, tt.tier, m.Tier)
		})
	}
}

func TestBest_NameFallbackWhenEmailMisses(t *testing.T) {
	pool := []domain.Session{
		session("s-1", withEmail("old@example.com"), withName("José", "López")),
		session("s-2", withName("Ben", "Ng"), updated(time.Hour)),
	}
	m := FindBestMatch(pool, Key{ClientEmail: "new@example.com", ClientName: "  JOSÉ   lópez "}, Hint{})
	require.NotNil(t, m)
	assert.Equal(t, "s-1", m.Session.SessionID)
	assert.Equal(t, TierClient, m.Tier)
}

func TestBest_CompletedOnlyFallback(t *testing.T) {
	pool := []domain.Session{session("done", completed)}
	m := FindBestMatch(pool, Key{}, Hint{})
	require.NotNil(t, m)
	assert.Equal(t, "done", m.Session.SessionID)
	assert.Equal(t, TierRecent, m.Tier)
}

func TestBest_InProgressPreferredForRecency(t *testing.T) {
	pool := []domain.Session{
		session("done-newer", completed, updated(time.Hour)),
		session("open-older"),
	}
	assert.Equal(t, "open-older", FindBestMatch(pool, Key{}, Hint{}).Session.SessionID)
}

func TestBest_TieBreaks(t *testing.T) {
	t.Run("hint wins inside a tier", func(t *testing.T) {
		pool := []domain.Session{
			session("newer", withEmail("ana@example.com"), withAssignment("asg-2"), updated(time.Hour)),
			session("hinted", withEmail("ana@example.com"), withAssignment("asg-1")),
		}
		m := FindBestMatch(pool, Key{ClientEmail: "ana@example.com"}, Hint{AssignmentID: "asg-1__x"})
		assert.Equal(t, "hinted", m.Session.SessionID)
	})
	t.Run("updatedAt then seq then pool order", func(t *testing.T) {
		a := session("a", withEmail("ana@example.com"))
		a.Seq = 1
		b := session("b", withEmail("ana@example.com"))
		b.Seq = 5
		c := session("c", withEmail("ana@example.com"))
		c.Seq = 5
		m := FindBestMatch([]domain.Session{a, b, c}, Key{ClientEmail: "ana@example.com"}, Hint{})
		assert.Equal(t, "b", m.Session.SessionID)

		newest := session("newest", withEmail("ana@example.com"), updated(time.Minute))
		m = FindBestMatch([]domain.Session{a, b, newest}, Key{ClientEmail: "ana@example.com"}, Hint{})
		assert.Equal(t, "newest", m.Session.SessionID)
	})
}

func TestBest_EmptyPool(t *testing.T) {
	assert.Nil(t, FindBestMatch(nil, Key{ClientEmail: "ana@example.com"}, Hint{}))
}

func TestBest_SkipSessionID(t *testing.T) {
	live := session("live", withEmail("ana@example.com"), updated(time.Hour))
	saved := session("saved", withEmail("ana@example.com"))

	m := FindBestMatch([]domain.Session{live, saved}, Key{ClientEmail: "ana@example.com"}, Hint{SkipSessionID: "live"})
	require.NotNil(t, m)
	assert.Equal(t, "saved", m.Session.SessionID)

	assert.Nil(t, FindBestMatch([]domain.Session{live}, Key{}, Hint{SkipSessionID: "live"}))
}

func TestPrepare_ExcludesUnusableIdentifiers(t *testing.T) {
	bad := session("bad")
	bad.Client.ID = "has space"
	pool, excluded := Prepare([]domain.Session{bad, {}, session("good")})
	require.Len(t, pool, 1)
	assert.Equal(t, "good", pool[0].session.SessionID)
	assert.Len(t, excluded, 2)
}

type fakeSource struct {
	sessions    gateway.Result[[]domain.Session]
	assignments gateway.Result[[]domain.QuestionnaireAssignment]
}

func (f fakeSource) PooledSessions(context.Context, string) gateway.Result[[]domain.Session] {
	return f.sessions
}

func (f fakeSource) Assignments(context.Context) gateway.Result[[]domain.QuestionnaireAssignment] {
	return f.assignments
}

func TestMatcher_FindBestMatch(t *testing.T) {
	src := fakeSource{sessions: gateway.Result[[]domain.Session]{
		Outcome: gateway.Degraded,
		Value:   []domain.Session{session("s-1", withEmail("ana@example.com"))},
	}}
	m := New(src).FindBestMatch(context.Background(), Key{ClientEmail: "ana@example.com"}, Hint{})
	require.NotNil(t, m)
	assert.Equal(t, "s-1", m.Session.SessionID)
}

func TestMatcher_FailedPoolIsNoMatch(t *testing.T) {
	src := fakeSource{sessions: gateway.Result[[]domain.Session]{Outcome: gateway.Failed, Err: errors.New("closed")}}
	assert.Nil(t, New(src).FindBestMatch(context.Background(), Key{}, Hint{}))
}

func TestMatcher_AssignmentIDResolvesEveryIDForm(t *testing.T) {
	const canonical = "65f0c1a2b3c4d5e6f7a8b9c0"
	const external = "ext_9f8e7d6c5b4a39281706"
	sessions := []domain.Session{
		session("s-target", withAssignment(canonical)),
		session("s-other", withEmail("ben@example.com"), updated(time.Hour)),
	}
	records := []domain.QuestionnaireAssignment{
		{ID: "asg-unrelated"},
		{ID: canonical, OriginalID: external},
	}

	tests := []struct {
		name string
		key  string
	}{
		{"canonical", canonical},
		{"external", external},
		{"composite external", external + "__2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fakeSource{
				sessions:    gateway.Result[[]domain.Session]{Value: sessions},
				assignments: gateway.Result[[]domain.QuestionnaireAssignment]{Value: records},
			}
			m, err := New(src).Find(context.Background(), Key{AssignmentID: tt.key}, Hint{})
			require.NoError(t, err)
			require.NotNil(t, m)
			assert.Equal(t, "s-target", m.Session.SessionID)
			assert.Equal(t, TierAssignmentID, m.Tier)
		})
	}
}

func TestMatcher_AssignmentListUnavailableComparesBaseForm(t *testing.T) {
	src := fakeSource{
		sessions: gateway.Result[[]domain.Session]{Value: []domain.Session{
			session("s-target", withAssignment("asg-1")),
			session("s-other", updated(time.Hour)),
		}},
		assignments: gateway.Result[[]domain.QuestionnaireAssignment]{Outcome: gateway.Failed, Err: errors.New("closed")},
	}
	m, err := New(src).Find(context.Background(), Key{AssignmentID: "asg-1__3"}, Hint{})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "s-target", m.Session.SessionID)

	m, err = New(src).Find(context.Background(), Key{AssignmentID: "ext_asg-1"}, Hint{})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, TierRecent, m.Tier, "an unresolved external id is not assumed to be the canonical one")
}

func TestBest_AssignmentAliases(t *testing.T) {
	pool := []domain.Session{
		session("s-ext", withAssignment("ext_abc")),
		session("s-other", updated(time.Hour)),
	}
	m := FindBestMatch(pool, Key{AssignmentID: "abc", AssignmentAliases: []string{"ext_abc", "abc"}}, Hint{})
	require.NotNil(t, m)
	assert.Equal(t, "s-ext", m.Session.SessionID)
	assert.Equal(t, TierAssignmentID, m.Tier)
}

func TestMatcher_FindReportsPoolErrors(t *testing.T) {
	tests := []struct {
		name         string
		reason       string
		unauthorized bool
	}{
		{"rejected credentials", gateway.ReasonUnauthorized, true},
		{"local cache gone", gateway.ReasonLocalUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fakeSource{sessions: gateway.Result[[]domain.Session]{Outcome: gateway.Failed, Reason: tt.reason}}
			m, err := New(src).Find(context.Background(), Key{ClientEmail: "ana@example.com"}, Hint{})
			assert.Nil(t, m)
			var pe *PoolError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.reason, pe.Reason)
			assert.Equal(t, tt.unauthorized, IsUnauthorized(err))
		})
	}
}

func TestMatcher_FindEmptyPoolIsNoError(t *testing.T) {
	m, err := New(fakeSource{}).Find(context.Background(), Key{ClientEmail: "ana@example.com"}, Hint{})
	require.NoError(t, err)
	assert.Nil(t, m)
}
