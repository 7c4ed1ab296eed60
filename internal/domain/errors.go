package domain

import "errors"

var (
	// ErrEmptyQuestionnaire means normalization found zero fields.
	ErrEmptyQuestionnaire = errors.New("questionnaire has no fields")

	// ErrMalformedQuestionnaire means the payload is not a JSON object.
	ErrMalformedQuestionnaire = errors.New("malformed questionnaire")

	// ErrUnknownResponseKey means a response key names no field.
	ErrUnknownResponseKey = errors.New("response key matches no field")

	// ErrInvalidFormCaseID means an id does not match PREFIX-YYYY-NNNN.
	ErrInvalidFormCaseID = errors.New("invalid form case id")
)
