package wizard

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/casewise/internal/domain"
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}

// exitCheck applies the rules a stage must satisfy before Next leaves it.
func (m *Machine) exitCheck(stage domain.Stage) *StageError {
	s := m.live
	switch stage {
	case domain.StageClient:
		if err := m.validate.Struct(s.Client); err != nil {
			return validationError(stage, "client details are incomplete", "client.", err)
		}
	case domain.StageCase:
		if err := m.validate.Struct(s.Case); err != nil {
			return validationError(stage, "case details are incomplete", "case.", err)
		}
	case domain.StageForms:
		if err := m.validate.Var(s.SelectedForms, "required,min=1,dive,required"); err != nil {
			return &StageError{Code: CodeValidation, Stage: stage, Message: "select at least one form", Fields: []string{"selectedForms"}, Err: err}
		}
		var missing []string
		for _, form := range s.SelectedForms {
			if !domain.ValidFormCaseID(s.FormCaseIDs[form]) {
				missing = append(missing, "formCaseIds."+form)
			}
		}
		if len(missing) > 0 {
			return &StageError{Code: CodeValidation, Stage: stage, Message: "every selected form needs a case id", Fields: missing}
		}
	case domain.StageQuestionnaire:
		if !s.Assignment.Resolved() {
			return &StageError{Code: CodeValidation, Stage: stage, Message: "assign a questionnaire", Fields: []string{"questionnaireAssignment.id"}}
		}
	case domain.StageAnswers:
		if m.definition == nil {
			return nil
		}
		var missing []string
		for _, f := range m.definition.Fields {
			if !f.Required {
				continue
			}
			if !answered(s.Assignment.Responses, f) {
				missing = append(missing, "responses."+f.ID)
			}
		}
		if len(missing) > 0 {
			return &StageError{Code: CodeValidation, Stage: stage, Message: fmt.Sprintf("%d required question(s) unanswered", len(missing)), Fields: missing}
		}
	}
	return nil
}

// entryCheck is the precondition for standing on stage with session s.
func entryCheck(stage domain.Stage, s domain.Session) *StageError {
	if !stage.Valid() {
		return stageErr(CodePrecondition, stage, "no such stage", nil)
	}
	var missing string
	switch {
	case stage >= domain.StageCase && !s.Client.HasIdentifier():
		missing = "a client with an id, name, or email"
	case stage >= domain.StageForms && !s.Case.Identity().Valid():
		missing = "a case"
	case stage >= domain.StageQuestionnaire && len(s.SelectedForms) == 0:
		missing = "at least one selected form"
	case stage >= domain.StageAnswers && !s.Assignment.Resolved():
		missing = "a resolved questionnaire assignment"
	}
	if missing != "" {
		return stageErr(CodePrecondition, stage, stage.String()+" requires "+missing, nil)
	}
	return nil
}

func validationError(stage domain.Stage, msg, prefix string, err error) *StageError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return stageErr(CodeValidation, stage, msg, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, prefix+fe.Field())
	}
	return &StageError{Code: CodeValidation, Stage: stage, Message: msg, Fields: fields, Err: err}
}

// answered reports whether responses holds a non-empty value for f, keyed
// by id or label.
func answered(responses map[string]any, f domain.Field) bool {
	for _, key := range []string{f.ID, f.Label} {
		if key == "" {
			continue
		}
		v, ok := responses[key]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case string:
			if strings.TrimSpace(x) != "" {
				return true
			}
		case []any:
			if len(x) > 0 {
				return true
			}
		case []string:
			if len(x) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
