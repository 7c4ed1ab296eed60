// Package catalog compiles the questionnaire and form-type catalog from
// CUE sources.
//
// A catalog file declares questionnaires and forms at the top level:
//
//	questionnaire: "family-intake": {
//		title:    "Family intake"
//		category: "family"
//		questions: [{id: "q1", question: "Married?", required: true}]
//	}
//
//	form: "I-130": {title: "Petition for Alien Relative", prefix: "CR"}
//
// Questionnaire bodies may use any of the shapes NormalizeQuestionnaire
// accepts. Forms are checked against the #Form schema below.
package catalog

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/ident"
)

const schemaSource = `
#Form: {
	title:        string & !=""
	prefix?:      =~"^[A-Za-z][A-Za-z0-9]*$"
	description?: string
}
`

// Form is one form type a case can select.
type Form struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	Prefix      string `json:"prefix"`
	Description string `json:"description,omitempty"`
}

// Catalog is a compiled catalog.
type Catalog struct {
	Questionnaires []domain.QuestionnaireDefinition
	Forms          []Form
}

// Questionnaire finds a questionnaire by any of its identifiers.
func (c *Catalog) Questionnaire(id string) (domain.QuestionnaireDefinition, bool) {
	ids := make([]ident.Identity, len(c.Questionnaires))
	for i, q := range c.Questionnaires {
		ids[i] = q.Identity()
	}
	i, ok := ident.Lookup(id, ids)
	if !ok {
		return domain.QuestionnaireDefinition{}, false
	}
	return c.Questionnaires[i], true
}

// Form returns the form with the given code.
func (c *Catalog) Form(code string) (Form, bool) {
	for _, f := range c.Forms {
		if f.Code == code {
			return f, true
		}
	}
	return Form{}, false
}

// Prefixes maps each form code to its generated case id prefix.
func (c *Catalog) Prefixes() map[string]string {
	out := make(map[string]string, len(c.Forms))
	for _, f := range c.Forms {
		out[f.Code] = f.Prefix
	}
	return out
}

// CompileError is a catalog entry that failed to compile.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles one CUE source. filename appears in positions.
func CompileString(src, filename string) (*Catalog, []error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, []error{cueError("cue", err)}
	}
	return Compile(v)
}

// Compile extracts the catalog from a built CUE value. Every broken entry
// is reported; the catalog holds the entries that compiled.
func Compile(v cue.Value) (*Catalog, []error) {
	schema := v.Context().CompileString(schemaSource, cue.Filename("catalog-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, []error{cueError("schema", err)}
	}
	formSchema := schema.LookupPath(cue.ParsePath("#Form"))

	cat := &Catalog{}
	var errs []error

	if qs := v.LookupPath(cue.ParsePath("questionnaire")); qs.Exists() {
		iter, err := qs.Fields()
		if err != nil {
			errs = append(errs, cueError("questionnaire", err))
		} else {
			for iter.Next() {
				q, err := compileQuestionnaire(iter.Label(), iter.Value())
				if err != nil {
					errs = append(errs, err)
					continue
				}
				cat.Questionnaires = append(cat.Questionnaires, q)
			}
		}
	}

	if fs := v.LookupPath(cue.ParsePath("form")); fs.Exists() {
		iter, err := fs.Fields()
		if err != nil {
			errs = append(errs, cueError("form", err))
		} else {
			for iter.Next() {
				f, err := compileForm(iter.Label(), iter.Value(), formSchema)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				cat.Forms = append(cat.Forms, f)
			}
		}
	}

	slices.SortFunc(cat.Questionnaires, func(a, b domain.QuestionnaireDefinition) int {
		return strings.Compare(a.ID, b.ID)
	})
	slices.SortFunc(cat.Forms, func(a, b Form) int { return strings.Compare(a.Code, b.Code) })

	if len(cat.Questionnaires) == 0 && len(cat.Forms) == 0 && len(errs) == 0 {
		errs = append(errs, &CompileError{Field: "catalog", Message: "no questionnaires or forms found", Pos: v.Pos()})
	}
	return cat, errs
}

func compileQuestionnaire(label string, v cue.Value) (domain.QuestionnaireDefinition, error) {
	field := "questionnaire." + label
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return domain.QuestionnaireDefinition{}, cueError(field, err)
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return domain.QuestionnaireDefinition{}, cueError(field, err)
	}
	def, err := domain.NormalizeQuestionnaire(raw)
	if err != nil {
		return domain.QuestionnaireDefinition{}, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	if def.ID == "" && def.LegacyID == "" {
		def.ID = label
	}
	if def.Title == "" {
		def.Title = label
	}
	return def, nil
}

func compileForm(code string, v, schema cue.Value) (Form, error) {
	field := "form." + code
	if !v.LookupPath(cue.ParsePath("title")).Exists() {
		return Form{}, &CompileError{Field: field + ".title", Message: "title is required", Pos: v.Pos()}
	}
	u := schema.Unify(v)
	if err := u.Validate(cue.Concrete(true)); err != nil {
		return Form{}, cueError(field, err)
	}
	var f Form
	if err := u.Decode(&f); err != nil {
		return Form{}, cueError(field, err)
	}
	f.Code = code
	f.Prefix = strings.ToUpper(f.Prefix)
	if f.Prefix == "" {
		f.Prefix = domain.DefaultFormCasePrefix
	}
	return f, nil
}

// cueError keeps the first CUE error with its position.
func cueError(field string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Field: field, Message: err.Error()}
	}
	first := errs[0]
	ce := &CompileError{Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
