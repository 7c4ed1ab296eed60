package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_StringAndParse(t *testing.T) {
	assert.Equal(t, "form-details", StageFormDetails.String())
	assert.Equal(t, "stage(9)", Stage(9).String())

	s, err := ParseStage("Answers")
	require.NoError(t, err)
	assert.Equal(t, StageAnswers, s)

	s, err = ParseStage("3")
	require.NoError(t, err)
	assert.Equal(t, StageForms, s)

	_, err = ParseStage("12")
	assert.Error(t, err)
}

func TestClientProfile_SyncIDs(t *testing.T) {
	c := ClientProfile{LegacyID: "abc"}
	c.SyncIDs()
	assert.Equal(t, "abc", c.ID)

	c = ClientProfile{ID: "xyz"}
	c.SyncIDs()
	assert.Equal(t, "xyz", c.LegacyID)
}

func TestClientProfile_FullName(t *testing.T) {
	assert.Equal(t, "Ana Maria Lopez", ClientProfile{FirstName: "Ana", MiddleName: "Maria", LastName: "Lopez"}.FullName())
	assert.Equal(t, "Ana Lopez", ClientProfile{FirstName: "Ana", LastName: "Lopez"}.FullName())
	assert.Equal(t, "Display", ClientProfile{Name: " Display ", FirstName: "x"}.FullName())
}

func TestSession_SecretNeverSerialized(t *testing.T) {
	s := Session{
		SessionID:   "s-1",
		Credentials: Credentials{Email: "a@b.co", AccountRequested: true, Secret: "hunter2"},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.Contains(t, string(data), `"accountRequested":true`)

	assert.Empty(t, s.Sanitized().Credentials.Secret)
	assert.Equal(t, "hunter2", s.Credentials.Secret, "Sanitized does not mutate the receiver")
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := Session{
		SelectedForms: []string{"I-130"},
		FormCaseIDs:   map[string]string{"I-130": "CR-2025-0001"},
		Assignment:    AssignmentSnapshot{Responses: map[string]any{"q1": "a"}},
	}
	c := s.Clone()
	c.SelectedForms[0] = "I-485"
	c.FormCaseIDs["I-130"] = "changed"
	c.Assignment.Responses["q1"] = "changed"

	assert.Equal(t, "I-130", s.SelectedForms[0])
	assert.Equal(t, "CR-2025-0001", s.FormCaseIDs["I-130"])
	assert.Equal(t, "a", s.Assignment.Responses["q1"])
}

func TestSession_AllFormCaseIDs(t *testing.T) {
	s := Session{
		FormCaseIDs: map[string]string{"I-485": "CR-2025-0002", "I-130": "CR-2025-0001"},
		Case:        CaseRecord{FormCaseIDs: map[string]string{"I-130": "CR-2025-0001", "N-400": "NZ-2025-0003"}},
		Assignment:  AssignmentSnapshot{FormCaseID: "AS-2025-0009"},
	}
	assert.Equal(t, []string{"CR-2025-0001", "CR-2025-0002", "NZ-2025-0003", "AS-2025-0009"}, s.AllFormCaseIDs())
}

func TestSession_KeyFallsBackToWorkflowID(t *testing.T) {
	assert.Equal(t, "wf-1", Session{WorkflowID: "wf-1"}.Key())
	assert.Equal(t, "s-1", Session{SessionID: "s-1", WorkflowID: "wf-1"}.Key())
}

func TestAllocateFormCaseIDs(t *testing.T) {
	n := 6
	next := func() (int, error) { n++; return n, nil }
	prefix := func(form string) string {
		if form == "N-400" {
			return "nz"
		}
		return ""
	}

	got, err := AllocateFormCaseIDs(
		map[string]string{"I-130": "CR-2024-0001"},
		[]string{"I-130", "I-485", "N-400", " "},
		prefix, 2025, next,
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"I-130": "CR-2024-0001",
		"I-485": "CR-2025-0007",
		"N-400": "NZ-2025-0008",
	}, got)
}

func TestAllocateFormCaseIDs_CounterFailure(t *testing.T) {
	boom := errors.New("counter unavailable")
	existing := map[string]string{"I-130": "CR-2024-0001"}
	got, err := AllocateFormCaseIDs(existing, []string{"I-485"}, nil, 2025, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, existing, got)
}

func TestValidFormCaseID(t *testing.T) {
	assert.True(t, ValidFormCaseID("CR-2025-0007"))
	assert.True(t, ValidFormCaseID("CR-2025-12345"))
	assert.False(t, ValidFormCaseID("cr-2025-0007"))
	assert.False(t, ValidFormCaseID("CR-25-0007"))
	assert.False(t, ValidFormCaseID("CR20250007"))
}
