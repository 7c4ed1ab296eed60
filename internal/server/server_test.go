package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casewise/internal/auth"
	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/obs"
	"github.com/roach88/casewise/internal/ratelimit"
	"github.com/roach88/casewise/internal/remote"
	"github.com/roach88/casewise/internal/store"
	"github.com/roach88/casewise/internal/testutil"
)

type fixture struct {
	srv   *httptest.Server
	store *store.Store
	token string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	clock := testutil.NewClock(testutil.DefaultStart, 0)
	signer, err := auth.NewSigner("test-secret", clock.Now)
	require.NoError(t, err)
	token, err := signer.Issue("intake-desk", nil, time.Hour)
	require.NoError(t, err)

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	srv := httptest.NewServer(New(st, signer, opts...).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st, token: token}
}

func (f *fixture) client(t *testing.T) *remote.Client {
	t.Helper()
	c, err := remote.New(f.srv.URL, remote.WithToken(f.token))
	require.NoError(t, err)
	return c
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	require.NoError(t, err)
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Error
}

func sampleSession(id, email string) domain.Session {
	return domain.Session{
		SessionID: id,
		Stage:     domain.StageCase,
		Status:    domain.StatusInProgress,
		UpdatedAt: testutil.DefaultStart,
		Client:    domain.ClientProfile{ID: "c-1", FirstName: "Ada", LastName: "Lovelace", Email: email},
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerRequired(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"bad token", "Bearer not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/sessions", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.NotEmpty(t, errorBody(t, resp))
		})
	}
}

func TestRemoteClient_RoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := context.Background()

	require.NoError(t, c.Probe(ctx))

	stored, err := c.PutSession(ctx, sampleSession("s-1", "ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "s-1", stored.SessionID)
	assert.NotZero(t, stored.Seq)

	got, err := c.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Client.FirstName)

	_, err = c.PutSession(ctx, sampleSession("s-2", "grace@example.com"))
	require.NoError(t, err)

	all, err := c.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := c.ListSessions(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "s-1", mine[0].SessionID)

	_, err = c.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestRemoteClient_SecretNeverStored(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := context.Background()

	s := sampleSession("s-1", "ada@example.com")
	s.Credentials = domain.Credentials{Email: "ada@example.com", AccountRequested: true, Secret: "hunter2"}
	_, err := c.PutSession(ctx, s)
	require.NoError(t, err)

	got, err := f.store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, got.Credentials.Secret)
	assert.True(t, got.Credentials.AccountRequested)
}

func TestRemoteClient_Assignments(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := context.Background()

	a := domain.QuestionnaireAssignment{
		ID:              "a-1",
		ClientEmail:     "ada@example.com",
		QuestionnaireID: "family-intake",
		Status:          domain.AssignmentPending,
		Responses:       map[string]any{"q1": "yes"},
		UpdatedAt:       testutil.DefaultStart,
	}
	require.NoError(t, c.PutAssignment(ctx, a))
	require.NoError(t, c.PutAssignment(ctx, domain.QuestionnaireAssignment{
		ID: "a-2", ClientEmail: "grace@example.com", UpdatedAt: testutil.DefaultStart,
	}))

	got, err := c.ListAssignments(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a-1", got[0].ID)
	assert.Equal(t, "yes", got[0].Responses["q1"])
}

func TestPutSession_PathMismatch(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPut, "/v1/sessions/s-9", `{"sessionId":"s-1"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "session id does not match path", errorBody(t, resp))
}

func TestPutSession_IDFromPath(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPut, "/v1/sessions/s-7", `{"stage":0,"status":"in-progress"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := f.store.GetSession(context.Background(), "s-7")
	require.NoError(t, err)
	assert.Equal(t, "s-7", got.SessionID)
}

func TestPutAssignment_PathMismatch(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPut, "/v1/assignments/a-9", `{"id":"a-1"}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	c := f.client(t)
	ctx := context.Background()

	require.NoError(t, c.CreateAccount(ctx, remote.AccountRequest{Email: "Ada@Example.com", Password: "hunter2"}))

	err := c.CreateAccount(ctx, remote.AccountRequest{Email: "ada@example.com", Password: "other"})
	assert.ErrorIs(t, err, remote.ErrConflict)

	err = c.CreateAccount(ctx, remote.AccountRequest{Email: "nobody", Password: "x"})
	assert.ErrorIs(t, err, remote.ErrRejected)

	err = c.CreateAccount(ctx, remote.AccountRequest{Email: "b@example.com", Password: " "})
	assert.ErrorIs(t, err, remote.ErrRejected)
}

func TestCreateAccount_RateLimited(t *testing.T) {
	clock := testutil.NewClock(testutil.DefaultStart, 0)
	f := newFixture(t, WithLimiter(ratelimit.New(time.Minute, 1, ratelimit.WithClock(clock.Now))))

	body := `{"email":"ada@example.com","password":"hunter2"}`
	resp := f.do(t, http.MethodPost, "/v1/accounts", body, true)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/accounts", body, true)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	resp = f.do(t, http.MethodPost, "/v1/accounts", `{"email":"grace@example.com","password":"pw"}`, true)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestDecodeJSON_Rejects(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "request body is required"},
		{"two objects", `{"email":"a@b.c"}{"email":"d@e.f"}`, "request body must contain a single JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/v1/accounts", tt.body, true)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, errorBody(t, resp))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithMetrics(obs.NewMetrics(reg), reg))

	f.do(t, http.MethodGet, "/v1/sessions/s-1", "", true)

	resp := f.do(t, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `route="/v1/sessions/{id}"`)
	assert.Contains(t, string(body), `status="404"`)
}

func TestRecovery(t *testing.T) {
	s := New(panicRepo{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicRepo struct{ Repository }

func (panicRepo) Ping(context.Context) error { panic("boom") }
