package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/casewise/internal/catalog"
)

// CatalogIssue is one catalog error in command output.
type CatalogIssue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// CatalogSummary describes a catalog that compiled.
type CatalogSummary struct {
	Valid          bool           `json:"valid"`
	Questionnaires []string       `json:"questionnaires"`
	Forms          []catalog.Form `json:"forms"`
}

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with the CUE questionnaire and form catalog",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	return cmd
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Compile a catalog and report every broken entry",
		Long: `Compile every .cue file in catalog-dir as one package and check each
questionnaire and form. All errors are reported, with file positions
where CUE knows them.

Exit codes:
  0 - Catalog is valid
  1 - One or more entries failed to compile
  2 - The directory could not be read

Example:
  casewise catalog validate ./catalog
  casewise catalog validate ./catalog --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogValidate(rootOpts, args[0], cmd)
		},
	}
}

func runCatalogValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cat, errs := catalog.LoadDir(dir)
	if cat == nil {
		err := errors.Join(errs...)
		if ferr := f.Error("CATALOG_LOAD", err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	summary := CatalogSummary{
		Valid:          len(errs) == 0,
		Questionnaires: make([]string, 0, len(cat.Questionnaires)),
		Forms:          cat.Forms,
	}
	for _, q := range cat.Questionnaires {
		summary.Questionnaires = append(summary.Questionnaires, q.ID)
		f.VerboseLog("questionnaire %s: %d field(s)", q.ID, len(q.Fields))
	}
	for _, form := range cat.Forms {
		f.VerboseLog("form %s: prefix %s", form.Code, form.Prefix)
	}

	if len(errs) > 0 {
		issues := make([]CatalogIssue, 0, len(errs))
		for _, err := range errs {
			issues = append(issues, issueFor(err))
		}
		msg := fmt.Sprintf("%d catalog error(s)", len(errs))
		if f.JSON() {
			if err := f.Error("CATALOG_INVALID", msg, issues); err != nil {
				return err
			}
		} else {
			for _, err := range errs {
				f.Textf("✗ %v", err)
			}
		}
		return NewExitError(ExitFailure, msg)
	}

	if f.JSON() {
		return f.Success(summary)
	}
	f.Textf("✓ catalog valid: %d questionnaire(s), %d form(s)", len(cat.Questionnaires), len(cat.Forms))
	return nil
}

func issueFor(err error) CatalogIssue {
	var ce *catalog.CompileError
	if !errors.As(err, &ce) {
		return CatalogIssue{Message: err.Error()}
	}
	issue := CatalogIssue{Field: ce.Field, Message: ce.Message}
	if ce.Pos.IsValid() {
		issue.File = ce.Pos.Filename()
		issue.Line = ce.Pos.Line()
	}
	return issue
}
