package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/ident"
)

// Stage is a wizard stage index. Stages are ordered; a higher index is
// further along.
type Stage int

const (
	StageStart Stage = iota
	StageClient
	StageCase
	StageForms
	StageQuestionnaire
	StageAnswers
	StageFormDetails
	StageAutoFill
)

// FirstStage and LastStage bound the valid stage range.
const (
	FirstStage = StageStart
	LastStage  = StageAutoFill
)

var stageNames = [...]string{
	StageStart:         "start",
	StageClient:        "client",
	StageCase:          "case",
	StageForms:         "forms",
	StageQuestionnaire: "questionnaire",
	StageAnswers:       "answers",
	StageFormDetails:   "form-details",
	StageAutoFill:      "auto-fill",
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the eight wizard stages.
func (s Stage) Valid() bool {
	return s >= FirstStage && s <= LastStage
}

// ParseStage accepts a stage name or its index.
func ParseStage(v string) (Stage, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	for i, name := range stageNames {
		if name == v {
			return Stage(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err == nil && Stage(n).Valid() {
		return Stage(n), nil
	}
	return 0, fmt.Errorf("unknown stage %q", v)
}

// SessionStatus is the lifecycle state of a saved session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in-progress"
	StatusCompleted  SessionStatus = "completed"
)

// AssignmentStatus tracks questionnaire completion.
type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in-progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// Address is merged key-by-key, never replaced wholesale.
type Address struct {
	Street  string `json:"street,omitempty"`
	Apt     string `json:"apt,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

// IsZero reports whether no address component is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ClientProfile is the intake record for one person.
//
// ID and LegacyID are two spellings of the same store id and are kept
// equal by SyncIDs.
type ClientProfile struct {
	ID          string  `json:"id,omitempty"`
	LegacyID    string  `json:"_id,omitempty"`
	OriginalID  string  `json:"originalId,omitempty"`
	FirstName   string  `json:"firstName,omitempty" validate:"required"`
	MiddleName  string  `json:"middleName,omitempty"`
	LastName    string  `json:"lastName,omitempty" validate:"required"`
	Name        string  `json:"name,omitempty"`
	Email       string  `json:"email,omitempty" validate:"required,email"`
	Phone       string  `json:"phone,omitempty"`
	DateOfBirth string  `json:"dateOfBirth,omitempty"`
	Nationality string  `json:"nationality,omitempty"`
	AlienNumber string  `json:"alienNumber,omitempty"`
	Address     Address `json:"address"`
}

// SyncIDs copies whichever of ID/LegacyID is set onto the other.
func (c *ClientProfile) SyncIDs() {
	switch {
	case c.ID == "" && c.LegacyID != "":
		c.ID = c.LegacyID
	case c.LegacyID == "" && c.ID != "":
		c.LegacyID = c.ID
	}
}

// FullName returns Name, or first/middle/last joined.
func (c ClientProfile) FullName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return strings.Join(strings.Fields(c.FirstName+" "+c.MiddleName+" "+c.LastName), " ")
}

// Identity normalizes the client's identifiers.
func (c ClientProfile) Identity() ident.Identity {
	return ident.Normalize(ident.Raw{
		ID:         c.ID,
		LegacyID:   c.LegacyID,
		OriginalID: c.OriginalID,
		Name:       c.FullName(),
	})
}

// HasIdentifier reports whether the client can be referenced by id or name.
func (c ClientProfile) HasIdentifier() bool {
	return c.Identity().Valid() || strings.TrimSpace(c.Email) != ""
}

// CaseRecord is case metadata plus the generated ids of its forms.
type CaseRecord struct {
	ID          string            `json:"id,omitempty"`
	LegacyID    string            `json:"_id,omitempty"`
	OriginalID  string            `json:"originalId,omitempty"`
	ClientID    string            `json:"clientId,omitempty"`
	Title       string            `json:"title,omitempty" validate:"required"`
	Category    string            `json:"category,omitempty" validate:"required"`
	Subcategory string            `json:"subcategory,omitempty"`
	Status      string            `json:"status,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Description string            `json:"description,omitempty"`
	OpenDate    string            `json:"openDate,omitempty"`
	DueDate     string            `json:"dueDate,omitempty"`
	FormCaseIDs map[string]string `json:"formCaseIds,omitempty"`
}

// SyncIDs mirrors ID and LegacyID.
func (c *CaseRecord) SyncIDs() {
	switch {
	case c.ID == "" && c.LegacyID != "":
		c.ID = c.LegacyID
	case c.LegacyID == "" && c.ID != "":
		c.LegacyID = c.ID
	}
}

// Identity normalizes the case's identifiers; the title is the name form.
func (c CaseRecord) Identity() ident.Identity {
	return ident.Normalize(ident.Raw{
		ID:         c.ID,
		LegacyID:   c.LegacyID,
		OriginalID: c.OriginalID,
		Name:       c.Title,
	})
}

// Field is one normalized questionnaire field.
type Field struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// QuestionnaireDefinition is a questionnaire with its fields in canonical
// shape. Build one from arbitrary JSON with NormalizeQuestionnaire.
type QuestionnaireDefinition struct {
	ID          string  `json:"id,omitempty"`
	LegacyID    string  `json:"_id,omitempty"`
	OriginalID  string  `json:"originalId,omitempty"`
	Title       string  `json:"title"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields"`
}

// Identity normalizes the questionnaire's identifiers.
func (q QuestionnaireDefinition) Identity() ident.Identity {
	return ident.Normalize(ident.Raw{
		ID:         q.ID,
		LegacyID:   q.LegacyID,
		OriginalID: q.OriginalID,
		Name:       q.Title,
	})
}

// Field returns the field whose id or label equals key.
func (q QuestionnaireDefinition) Field(key string) (Field, bool) {
	for _, f := range q.Fields {
		if f.ID == key {
			return f, true
		}
	}
	for _, f := range q.Fields {
		if f.Label == key {
			return f, true
		}
	}
	return Field{}, false
}

// QuestionnaireAssignment links a client, a case, and a questionnaire and
// carries the client's responses.
type QuestionnaireAssignment struct {
	ID                 string           `json:"id,omitempty"`
	LegacyID           string           `json:"_id,omitempty"`
	OriginalID         string           `json:"originalId,omitempty"`
	ClientID           string           `json:"clientId,omitempty"`
	ClientEmail        string           `json:"clientEmail,omitempty"`
	CaseID             string           `json:"caseId,omitempty"`
	QuestionnaireID    string           `json:"questionnaireId,omitempty"`
	QuestionnaireTitle string           `json:"questionnaireName,omitempty"`
	FormType           string           `json:"formType,omitempty"`
	FormCaseID         string           `json:"formCaseIdGenerated,omitempty"`
	Status             AssignmentStatus `json:"status,omitempty"`
	Responses          map[string]any   `json:"responses,omitempty"`
	DueDate            *time.Time       `json:"dueDate,omitempty"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// Identity normalizes the assignment's identifiers.
func (a QuestionnaireAssignment) Identity() ident.Identity {
	return ident.Normalize(ident.Raw{
		ID:         a.ID,
		LegacyID:   a.LegacyID,
		OriginalID: a.OriginalID,
	})
}

// Snapshot returns the part of the assignment embedded in a session.
func (a QuestionnaireAssignment) Snapshot() AssignmentSnapshot {
	id := a.ID
	if id == "" {
		id = a.LegacyID
	}
	return AssignmentSnapshot{
		ID:              id,
		QuestionnaireID: a.QuestionnaireID,
		Title:           a.QuestionnaireTitle,
		FormCaseID:      a.FormCaseID,
		Responses:       cloneResponses(a.Responses),
		Completed:       a.Status == AssignmentCompleted,
	}
}

// ValidateResponses checks that every response key names a field of def
// by id or, as the legacy fallback, by label.
func (a QuestionnaireAssignment) ValidateResponses(def QuestionnaireDefinition) error {
	var unknown []string
	for key := range a.Responses {
		if _, ok := def.Field(key); !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownResponseKey, strings.Join(sortedCopy(unknown), ", "))
	}
	return nil
}

// AssignmentSnapshot is the questionnaire assignment as embedded in a
// session.
type AssignmentSnapshot struct {
	ID              string         `json:"id,omitempty"`
	QuestionnaireID string         `json:"questionnaireId,omitempty"`
	Title           string         `json:"title,omitempty"`
	FormCaseID      string         `json:"formCaseIdGenerated,omitempty"`
	Responses       map[string]any `json:"responses,omitempty"`
	Completed       bool           `json:"completed,omitempty"`
}

// Resolved reports whether the snapshot refers to an actual assignment.
func (a AssignmentSnapshot) Resolved() bool {
	return strings.TrimSpace(a.ID) != ""
}

// Credentials records the client's portal login request. Secret is held
// in memory only and never serialized.
type Credentials struct {
	Email            string `json:"email,omitempty"`
	AccountRequested bool   `json:"accountRequested,omitempty"`
	Secret           string `json:"-"`
}

// CredentialSummary is the small record the login helper reads.
type CredentialSummary struct {
	Email            string    `json:"email"`
	AccountRequested bool      `json:"accountRequested"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// Session is one saved pass through the wizard.
type Session struct {
	SessionID     string             `json:"sessionId"`
	WorkflowID    string             `json:"workflowId,omitempty"`
	Stage         Stage              `json:"stage"`
	Status        SessionStatus      `json:"status"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	Seq           int64              `json:"seq,omitempty"`
	Client        ClientProfile      `json:"client"`
	Case          CaseRecord         `json:"case"`
	SelectedForms []string           `json:"selectedForms,omitempty"`
	FormCaseIDs   map[string]string  `json:"formCaseIds,omitempty"`
	Assignment    AssignmentSnapshot `json:"questionnaireAssignment"`
	Credentials   Credentials        `json:"clientCredentials"`
}

// Key returns SessionID, falling back to the legacy WorkflowID.
func (s Session) Key() string {
	if s.SessionID != "" {
		return s.SessionID
	}
	return s.WorkflowID
}

// ClientEmail returns the client's email, or the credentials email.
func (s Session) ClientEmail() string {
	if s.Client.Email != "" {
		return s.Client.Email
	}
	return s.Credentials.Email
}

// AllFormCaseIDs returns every generated case id the session carries:
// session map, case map, and the assignment's own id. Duplicates removed.
func (s Session) AllFormCaseIDs() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, k := range sortedKeys(s.FormCaseIDs) {
		add(s.FormCaseIDs[k])
	}
	for _, k := range sortedKeys(s.Case.FormCaseIDs) {
		add(s.Case.FormCaseIDs[k])
	}
	add(s.Assignment.FormCaseID)
	return out
}

// Clone returns a deep copy; maps and slices are not shared.
func (s Session) Clone() Session {
	out := s
	out.SelectedForms = append([]string(nil), s.SelectedForms...)
	out.FormCaseIDs = cloneStrings(s.FormCaseIDs)
	out.Case.FormCaseIDs = cloneStrings(s.Case.FormCaseIDs)
	out.Assignment.Responses = cloneResponses(s.Assignment.Responses)
	return out
}

// Sanitized returns a clone safe to persist: secret dropped, ids mirrored.
func (s Session) Sanitized() Session {
	out := s.Clone()
	out.Credentials.Secret = ""
	out.Client.SyncIDs()
	out.Case.SyncIDs()
	if out.SessionID == "" {
		out.SessionID = out.WorkflowID
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneResponses(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
