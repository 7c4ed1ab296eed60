package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/obs"
	"github.com/roach88/casewise/internal/remote"
	"github.com/roach88/casewise/internal/store"
	"github.com/roach88/casewise/internal/testutil"
)

var (
	t0           = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	networkError = fmt.Errorf("%w: dial tcp: connection refused", remote.ErrUnavailable)
	unauthorized = &remote.StatusError{Method: "GET", Path: "/v1/sessions", Status: 401}
)

func newTestLocal(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGateway(t *testing.T, rem Remote) (*Gateway, *store.Store) {
	t.Helper()
	local := newTestLocal(t)
	g := New(local, rem,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(obs.NewMetrics(prometheus.NewRegistry())),
		WithClock(func() time.Time { return t0 }),
	)
	return g, local
}

func sampleSession(id, email string) domain.Session {
	return domain.Session{
		SessionID:     id,
		Stage:         domain.StageForms,
		Status:        domain.StatusInProgress,
		UpdatedAt:     t0,
		Client:        domain.ClientProfile{ID: "c-" + id, FirstName: "Ana", LastName: "Lopez", Email: email, Phone: "555-0000"},
		Case:          domain.CaseRecord{ID: "case-1", Title: "Family petition", Category: "family"},
		SelectedForms: []string{"I-130"},
		FormCaseIDs:   map[string]string{"I-130": "CR-2025-0007"},
	}
}

func TestWriteSession_OKMirrorsToBothStores(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	g, local := newTestGateway(t, rem)
	ctx := context.Background()

	res := g.WriteSession(ctx, sampleSession("s-1", "ana@example.com"))
	require.Equal(t, OK, res.Outcome)
	assert.Equal(t, int64(1), res.Value.Seq)

	assert.Len(t, rem.Sessions(), 1)
	cached, err := local.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, res.Value, cached)
	assert.Equal(t, []string{testutil.OpProbe, testutil.OpPutSession}, rem.Calls())
}

func TestWriteSession_RemoteDownStillSavesLocally(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	rem.Fail(testutil.OpProbe, networkError)
	g, local := newTestGateway(t, rem)
	ctx := context.Background()

	res := g.WriteSession(ctx, sampleSession("s-1", "ana@example.com"))
	assert.Equal(t, Degraded, res.Outcome)
	assert.Equal(t, ReasonRemoteUnavailable, res.Reason)
	assert.True(t, res.Usable())
	assert.Empty(t, rem.Sessions())
	assert.Equal(t, []string{testutil.OpProbe}, rem.Calls(), "no write attempted after a failed probe")

	_, err := local.GetSession(ctx, "s-1")
	assert.NoError(t, err)
}

func TestWriteSession_UnauthorizedIsFlaggedButMirrored(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	rem.Fail(testutil.OpPutSession, unauthorized)
	g, local := newTestGateway(t, rem)

	res := g.WriteSession(context.Background(), sampleSession("s-1", "ana@example.com"))
	assert.Equal(t, Degraded, res.Outcome)
	assert.Equal(t, ReasonUnauthorized, res.Reason)
	assert.ErrorIs(t, res.Err, remote.ErrUnauthorized)

	_, err := local.GetSession(context.Background(), "s-1")
	assert.NoError(t, err)
}

func TestWriteSession_LocalUnavailableIsFailed(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	rem.FailAll(networkError)
	g, local := newTestGateway(t, rem)
	require.NoError(t, local.Close())

	res := g.WriteSession(context.Background(), sampleSession("s-1", "ana@example.com"))
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, ReasonLocalUnavailable, res.Reason)
	assert.Error(t, res.Err)
}

func TestWriteSession_LocalUnavailableButRemoteTookIt(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	g, local := newTestGateway(t, rem)
	require.NoError(t, local.Close())

	res := g.WriteSession(context.Background(), sampleSession("s-1", "ana@example.com"))
	assert.Equal(t, Degraded, res.Outcome)
	assert.Equal(t, ReasonLocalUnavailable, res.Reason)
	assert.Equal(t, "s-1", res.Value.SessionID)
}

func TestWriteSession_SecretNeverLeaves(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	g, local := newTestGateway(t, rem)
	ctx := context.Background()

	s := sampleSession("s-1", "ana@example.com")
	s.Credentials = domain.Credentials{Email: "ana@example.com", AccountRequested: true, Secret: "hunter2"}
	res := g.WriteSession(ctx, s)
	require.True(t, res.OK())

	assert.Empty(t, rem.Sessions()[0].Credentials.Secret)
	cached, err := local.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, cached.Credentials.Secret)
	assert.Equal(t, "hunter2", s.Credentials.Secret)
}

func TestReadSession_RoundTrip(t *testing.T) {
	g, _ := newTestGateway(t, nil)
	ctx := context.Background()

	written := g.WriteSession(ctx, sampleSession("s-1", "ana@example.com"))
	require.True(t, written.OK())

	read := g.ReadSession(ctx, "s-1")
	require.True(t, read.OK())
	require.NotNil(t, read.Value)
	assert.Equal(t, written.Value, *read.Value)
}

func TestReadSession_NetworkErrorFallsBackToLocal(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	g, _ := newTestGateway(t, rem)
	ctx := context.Background()

	written := g.WriteSession(ctx, sampleSession("s-1", "ana@example.com"))
	require.True(t, written.OK())

	rem.FailAll(networkError)
	read := g.ReadSession(ctx, "s-1")
	assert.Equal(t, Degraded, read.Outcome)
	require.NotNil(t, read.Value)
	assert.Equal(t, written.Value, *read.Value)
}

func TestReadSession_RemoteNotFoundIsAbsentCapability(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	g, local := newTestGateway(t, rem)
	ctx := context.Background()

	_, err := local.UpsertSession(ctx, sampleSession("s-1", "ana@example.com"))
	require.NoError(t, err)

	read := g.ReadSession(ctx, "s-1")
	assert.Equal(t, Degraded, read.Outcome)
	assert.Equal(t, ReasonRemoteAbsent, read.Reason)
	require.NotNil(t, read.Value)
}

func TestReadSession_RemoteStatusErrorsFallBackToLocal(t *testing.T) {
	for _, status := range []int{409, 400, 503} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			rem := testutil.NewScriptedRemote()
			g, local := newTestGateway(t, rem)
			ctx := context.Background()

			_, err := local.UpsertSession(ctx, sampleSession("s-1", "ana@example.com"))
			require.NoError(t, err)
			rem.Fail(testutil.OpGetSession, &remote.StatusError{Method: "GET", Path: "/v1/sessions/s-1", Status: status})

			read := g.ReadSession(ctx, "s-1")
			assert.Equal(t, Degraded, read.Outcome)
			assert.Equal(t, ReasonRemoteUnavailable, read.Reason)
			require.NotNil(t, read.Value)
			assert.Equal(t, "s-1", read.Value.SessionID)
		})
	}
}

func TestReadSession_MissingEverywhereIsNil(t *testing.T) {
	g, _ := newTestGateway(t, nil)
	read := g.ReadSession(context.Background(), "nope")
	assert.True(t, read.OK())
	assert.Nil(t, read.Value)
}

func TestReadSession_UnauthorizedIsNotDegraded(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	rem.Fail(testutil.OpGetSession, unauthorized)
	g, _ := newTestGateway(t, rem)

	read := g.ReadSession(context.Background(), "s-1")
	assert.Equal(t, Failed, read.Outcome)
	assert.Equal(t, ReasonUnauthorized, read.Reason)
	assert.ErrorIs(t, read.Err, remote.ErrUnauthorized)
}

func TestPooledSessions_UnionRemoteFirst(t *testing.T) {
	remoteCopy := sampleSession("s-1", "ana@example.com")
	remoteCopy.Client.Phone = "555-9999"
	rem := testutil.NewScriptedRemote(remoteCopy, sampleSession("s-2", "ben@example.com"))
	g, local := newTestGateway(t, rem)
	ctx := context.Background()

	_, err := local.UpsertSession(ctx, sampleSession("s-1", "ana@example.com"))
	require.NoError(t, err)
	_, err = local.UpsertSession(ctx, sampleSession("s-3", "cy@example.com"))
	require.NoError(t, err)

	res := g.PooledSessions(ctx, "")
	require.True(t, res.OK())
	require.Len(t, res.Value, 3)
	assert.Equal(t, "s-1", res.Value[0].SessionID)
	assert.Equal(t, "555-9999", res.Value[0].Client.Phone, "remote copy wins the dedupe")
	assert.Equal(t, "s-2", res.Value[1].SessionID)
	assert.Equal(t, "s-3", res.Value[2].SessionID)
}

func TestPooledSessions_RemoteDownServesLocal(t *testing.T) {
	rem := testutil.NewScriptedRemote(sampleSession("s-2", "ben@example.com"))
	rem.FailAll(networkError)
	g, local := newTestGateway(t, rem)
	ctx := context.Background()

	_, err := local.UpsertSession(ctx, sampleSession("s-1", "ana@example.com"))
	require.NoError(t, err)

	res := g.PooledSessions(ctx, "")
	assert.Equal(t, Degraded, res.Outcome)
	require.Len(t, res.Value, 1)
	assert.Equal(t, "s-1", res.Value[0].SessionID)
}

func TestAssignments_WriteAndList(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	rem.AddAssignment(domain.QuestionnaireAssignment{ID: "a-1", Status: domain.AssignmentPending})
	g, _ := newTestGateway(t, rem)
	ctx := context.Background()

	w := g.WriteAssignment(ctx, domain.QuestionnaireAssignment{ID: "a-2", Status: domain.AssignmentInProgress, UpdatedAt: t0})
	require.True(t, w.OK())

	// a-1 exists in both stores after this write; the remote copy is kept.
	w = g.WriteAssignment(ctx, domain.QuestionnaireAssignment{ID: "a-1", Status: domain.AssignmentCompleted, UpdatedAt: t0})
	require.True(t, w.OK())

	res := g.Assignments(ctx)
	require.True(t, res.OK())
	ids := make([]string, 0, len(res.Value))
	for _, a := range res.Value {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a-1", "a-2"}, ids)
}

func TestRequestAccount(t *testing.T) {
	rem := testutil.NewScriptedRemote()
	g, _ := newTestGateway(t, rem)
	ctx := context.Background()

	res := g.RequestAccount(ctx, "ana@example.com", "pw-1")
	require.True(t, res.OK())
	assert.Equal(t, domain.CredentialSummary{Email: "ana@example.com", AccountRequested: true, RequestedAt: t0}, res.Value)

	secret, ok := rem.Account("ana@example.com")
	require.True(t, ok)
	assert.Equal(t, "pw-1", secret)

	// Existing account still counts as requested.
	again := g.RequestAccount(ctx, "ana@example.com", "pw-1")
	assert.True(t, again.OK())

	sum := g.Summary(ctx)
	require.True(t, sum.OK())
	require.NotNil(t, sum.Value)
	assert.True(t, sum.Value.AccountRequested)
}

func TestSummary_Absent(t *testing.T) {
	g, _ := newTestGateway(t, nil)
	sum := g.Summary(context.Background())
	assert.True(t, sum.OK())
	assert.Nil(t, sum.Value)
}

func TestNextFormCaseNumber(t *testing.T) {
	g, _ := newTestGateway(t, nil)
	ctx := context.Background()

	a, err := g.NextFormCaseNumber(ctx, 2025)
	require.NoError(t, err)
	b, err := g.NextFormCaseNumber(ctx, 2025)
	require.NoError(t, err)
	c, err := g.NextFormCaseNumber(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1}, []int{a, b, c})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OK.String())
	assert.Equal(t, "degraded", Degraded.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "outcome(7)", Outcome(7).String())
}
