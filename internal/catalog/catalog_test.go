package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDir(t *testing.T) {
	cat, errs := LoadDir(filepath.Join("testdata", "catalog"))
	require.Empty(t, errs)

	require.Len(t, cat.Questionnaires, 2)
	family, ok := cat.Questionnaire("family-intake")
	require.True(t, ok)
	assert.Equal(t, "Family intake", family.Title)
	assert.Equal(t, "family", family.Category)
	require.Len(t, family.Fields, 3)
	assert.Equal(t, "married", family.Fields[0].ID)
	assert.True(t, family.Fields[0].Required)
	assert.Equal(t, []string{"yes", "no"}, family.Fields[0].Options)
	assert.Equal(t, "text", family.Fields[1].Type)

	nat, ok := cat.Questionnaire("naturalization-screen")
	require.True(t, ok)
	assert.Equal(t, "Naturalization screening", nat.Title)
	require.Len(t, nat.Fields, 2)
	for _, f := range nat.Fields {
		assert.NotEmpty(t, f.ID)
		assert.NotEmpty(t, f.Label)
	}

	assert.Equal(t, map[string]string{"I-130": "CR", "I-485": "AOS", "N-400": "NAT"}, cat.Prefixes())
	f, ok := cat.Form("I-485")
	require.True(t, ok)
	assert.Equal(t, "Application to Register Permanent Residence", f.Title)
}

func TestCompileString_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "empty questionnaire",
			src:   `questionnaire: empty: {title: "Nothing", fields: []}`,
			field: "questionnaire.empty",
		},
		{
			name:  "form without title",
			src:   `form: "I-130": {prefix: "CR"}`,
			field: "form.I-130.title",
		},
		{
			name:  "bad prefix",
			src:   `form: "I-130": {title: "Petition", prefix: "C R"}`,
			field: "form.I-130",
		},
		{
			name:  "unknown form key",
			src:   `form: "I-130": {title: "Petition", colour: "blue"}`,
			field: "form.I-130",
		},
		{
			name:  "nothing declared",
			src:   `other: 1`,
			field: "catalog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := CompileString(tt.src, "test.cue")
			require.Len(t, errs, 1)
			var ce *CompileError
			require.ErrorAs(t, errs[0], &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileString_KeepsGoodEntries(t *testing.T) {
	cat, errs := CompileString(`
form: "I-130": {title: "Petition"}
form: "BAD": {}
questionnaire: q: {questions: ["Name?"]}
`, "mixed.cue")
	require.Len(t, errs, 1)
	require.Len(t, cat.Forms, 1)
	assert.Equal(t, "CR", cat.Forms[0].Prefix, "prefix defaults")
	require.Len(t, cat.Questionnaires, 1)
	assert.Equal(t, "q", cat.Questionnaires[0].ID)
	assert.Equal(t, "q", cat.Questionnaires[0].Title)
}

func TestCompileString_SyntaxErrorHasPosition(t *testing.T) {
	_, errs := CompileString("form: {", "broken.cue")
	require.Len(t, errs, 1)
	var ce *CompileError
	require.ErrorAs(t, errs[0], &ce)
	assert.Contains(t, ce.Error(), "broken.cue")
}

func TestLoadDir_Missing(t *testing.T) {
	_, errs := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.Len(t, errs, 1)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "README"), []byte("x"), 0o644))
	_, errs = LoadDir(empty)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no CUE files")
}
