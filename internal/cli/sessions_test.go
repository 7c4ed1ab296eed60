package cli

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/casewise/internal/auth"
	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/server"
	"github.com/roach88/casewise/internal/store"
)

var seedTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func anaSession() domain.Session {
	return domain.Session{
		SessionID:     "s-ana",
		Stage:         domain.StageForms,
		Status:        domain.StatusInProgress,
		UpdatedAt:     seedTime,
		Client:        domain.ClientProfile{FirstName: "Ana", LastName: "Lopez", Email: "ana@example.com"},
		Case:          domain.CaseRecord{Title: "Family petition", Category: "family"},
		SelectedForms: []string{"I-130"},
		FormCaseIDs:   map[string]string{"I-130": "CR-2025-0001"},
	}
}

func idaSession() domain.Session {
	return domain.Session{
		SessionID: "s-ida",
		Stage:     domain.StageQuestionnaire,
		Status:    domain.StatusInProgress,
		UpdatedAt: seedTime.Add(24 * time.Hour),
		Client:    domain.ClientProfile{FirstName: "Ida", LastName: "Wells", Email: "ida@example.com"},
	}
}

// seedCache writes sessions into a fresh SQLite file and returns its path.
func seedCache(t *testing.T, sessions ...domain.Session) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	for _, s := range sessions {
		_, err := st.UpsertSession(context.Background(), s)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())
	return path
}

func decodeData(t *testing.T, stdout string, dst any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func TestSessionsList_Text(t *testing.T) {
	db := seedCache(t, anaSession(), idaSession())

	out, _, err := execute(t, "--db", db, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "s-ana")
	assert.Contains(t, out, "s-ida")
	assert.Contains(t, out, "ana@example.com")
	assert.Contains(t, out, "2025-03-01T10:00:00Z")
}

func TestSessionsList_EmailFilter(t *testing.T) {
	db := seedCache(t, anaSession(), idaSession())

	out, _, err := execute(t, "--db", db, "--format", "json", "sessions", "list", "--email", "IDA@example.com")
	require.NoError(t, err)

	var list SessionList
	decodeData(t, out, &list)
	assert.Equal(t, "ok", list.Outcome)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s-ida", list.Sessions[0].SessionID)
	assert.Equal(t, "questionnaire", list.Sessions[0].Stage)
	assert.Equal(t, "Ida Wells", list.Sessions[0].Name)
}

func TestSessionsList_Empty(t *testing.T) {
	out, _, err := execute(t, "--db", filepath.Join(t.TempDir(), "empty.db"), "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")
}

func TestSessionsList_RemoteDown(t *testing.T) {
	t.Setenv("CASEWISE_REMOTE_TIMEOUT", "2s")
	db := seedCache(t, anaSession())

	out, errOut, err := execute(t, "--db", db, "--remote", "http://127.0.0.1:1", "sessions", "list")
	require.NoError(t, err, "an unreachable remote degrades to the local cache")
	assert.Contains(t, errOut, "warning: remote unavailable")
	assert.Contains(t, out, "s-ana")
}

func TestSessionsList_PoolsRemoteAndLocal(t *testing.T) {
	remoteDB, err := store.Open(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { remoteDB.Close() })
	_, err = remoteDB.UpsertSession(context.Background(), idaSession())
	require.NoError(t, err)

	signer, err := auth.NewSigner("s3cret", nil)
	require.NoError(t, err)
	token, err := signer.Issue("desk", nil, time.Hour)
	require.NoError(t, err)
	srv := httptest.NewServer(server.New(remoteDB, signer).Handler())
	t.Cleanup(srv.Close)
	t.Setenv("CASEWISE_REMOTE_TOKEN", token)

	db := seedCache(t, anaSession())
	out, _, err := execute(t, "--db", db, "--remote", srv.URL, "--format", "json", "sessions", "list")
	require.NoError(t, err)

	var list SessionList
	decodeData(t, out, &list)
	assert.Equal(t, "ok", list.Outcome)
	ids := make([]string, 0, len(list.Sessions))
	for _, s := range list.Sessions {
		ids = append(ids, s.SessionID)
	}
	assert.ElementsMatch(t, []string{"s-ana", "s-ida"}, ids)
}

func TestSessionsList_RejectedToken(t *testing.T) {
	remoteDB, err := store.Open(filepath.Join(t.TempDir(), "remote.db"))
	require.NoError(t, err)
	t.Cleanup(func() { remoteDB.Close() })
	signer, err := auth.NewSigner("s3cret", nil)
	require.NoError(t, err)
	srv := httptest.NewServer(server.New(remoteDB, signer).Handler())
	t.Cleanup(srv.Close)
	t.Setenv("CASEWISE_REMOTE_TOKEN", "not-a-token")

	_, _, err = execute(t, "--db", seedCache(t), "--remote", srv.URL, "sessions", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "remote rejected credentials")
}
