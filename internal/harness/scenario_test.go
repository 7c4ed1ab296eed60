package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walk.yaml")
	content := `
name: walk
description: "Two steps"
catalog: catalog
steps:
  - do: bootstrap
  - do: next
    expect:
      stage: client
assertions:
  - type: stage
    stage: client
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "walk", s.Name)
	assert.Equal(t, filepath.Join(dir, "catalog"), s.Catalog, "catalog resolves against the file")
	require.Len(t, s.Steps, 2)
	assert.Equal(t, OpNext, s.Steps[1].Do)
	assert.Equal(t, "client", s.Steps[1].Expect.Stage)
	require.Len(t, s.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(f), s.Name+".yaml", "file name matches scenario name")
		})
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown key",
			yaml: "name: x\ndescription: y\nflow: []\nsteps:\n  - do: bootstrap\n",
			want: "field flow not found",
		},
		{
			name: "missing name",
			yaml: "description: y\nsteps:\n  - do: bootstrap\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsteps:\n  - do: bootstrap\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: y\n",
			want: "steps list is required",
		},
		{
			name: "first step not bootstrap",
			yaml: "name: x\ndescription: y\nsteps:\n  - do: next\n",
			want: `must be "bootstrap"`,
		},
		{
			name: "unknown operation",
			yaml: "name: x\ndescription: y\nsteps:\n  - do: bootstrap\n  - do: teleport\n",
			want: `step 2: unknown operation "teleport"`,
		},
		{
			name: "negative burst",
			yaml: "name: x\ndescription: y\naccount_burst: -1\nsteps:\n  - do: bootstrap\n",
			want: "account_burst must not be negative",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: y\nsteps:\n  - do: bootstrap\nassertions:\n  - type: vibes\n",
			want: `unknown type "vibes"`,
		},
		{
			name: "remote_calls without count",
			yaml: "name: x\ndescription: y\nsteps:\n  - do: bootstrap\nassertions:\n  - type: remote_calls\n    op: probe\n",
			want: "remote_calls requires op and count",
		},
		{
			name: "field without path",
			yaml: "name: x\ndescription: y\nsteps:\n  - do: bootstrap\nassertions:\n  - type: field\n",
			want: "field requires path",
		},
		{
			name: "field with unknown store",
			yaml: "name: x\ndescription: y\nsteps:\n  - do: bootstrap\nassertions:\n  - type: field\n    path: stage\n    store: cloud\n",
			want: `unknown store "cloud"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_FailRemoteMayLead(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: offline_start
description: "Remote is down before the session starts"
steps:
  - do: fail_remote
    args: {op: all}
  - do: bootstrap
`))
	require.NoError(t, err)
	assert.Equal(t, OpFailRemote, s.Steps[0].Do)
}
