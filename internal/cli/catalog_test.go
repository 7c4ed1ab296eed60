package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogDir = "../catalog/testdata/catalog"

func writeCatalog(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forms.cue"), []byte(src), 0o644))
	return dir
}

func TestCatalogValidate_Valid(t *testing.T) {
	out, _, err := execute(t, "catalog", "validate", catalogDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ catalog valid: 2 questionnaire(s), 3 form(s)")
}

func TestCatalogValidate_ValidJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "catalog", "validate", catalogDir)
	require.NoError(t, err)

	var summary CatalogSummary
	decodeData(t, out, &summary)
	assert.True(t, summary.Valid)
	assert.Contains(t, summary.Questionnaires, "family-intake")
	require.Len(t, summary.Forms, 3)
	assert.Equal(t, "I-130", summary.Forms[0].Code)
	assert.Equal(t, "CR", summary.Forms[0].Prefix)
	assert.Equal(t, "NAT", summary.Forms[2].Prefix)
}

func TestCatalogValidate_Verbose(t *testing.T) {
	_, errOut, err := execute(t, "-v", "catalog", "validate", catalogDir)
	require.NoError(t, err)
	assert.Contains(t, errOut, "questionnaire family-intake: 3 field(s)")
	assert.Contains(t, errOut, "form I-485: prefix AOS")
}

func TestCatalogValidate_BrokenEntry(t *testing.T) {
	dir := writeCatalog(t, `package catalog

form: "I-130": {title: "Petition"}
form: "BAD": {prefix: "CR"}
`)

	t.Run("text", func(t *testing.T) {
		out, _, err := execute(t, "catalog", "validate", dir)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, err.Error(), "1 catalog error(s)")
		assert.Contains(t, out, "✗")
		assert.Contains(t, out, "form.BAD.title")
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := execute(t, "--format", "json", "catalog", "validate", dir)
		require.Error(t, err)

		var resp struct {
			Status string `json:"status"`
			Error  struct {
				Code    string         `json:"code"`
				Details []CatalogIssue `json:"details"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, "CATALOG_INVALID", resp.Error.Code)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "form.BAD.title", resp.Error.Details[0].Field)
		assert.Equal(t, "title is required", resp.Error.Details[0].Message)
	})
}

func TestCatalogValidate_MissingDir(t *testing.T) {
	out, _, err := execute(t, "catalog", "validate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [CATALOG_LOAD]")
}
