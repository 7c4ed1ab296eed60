// Package merge folds a matched session into the live one without
// overwriting anything the user already entered.
//
// Every field is fill-if-absent: the matched value is adopted only where
// the live value is empty. Address and form-case ids merge key by key.
// Responses are additive: only keys the live map lacks are added. The
// stage only moves forward. Applying the same merge twice is
// the same as applying it once.
package merge

import (
	"maps"
	"slices"
	"strings"

	"github.com/roach88/casewise/internal/domain"
)

// IntoLive returns live with matched folded in, plus the dotted names of
// the fields that were adopted from matched, in a stable order.
// Neither argument is modified.
func IntoLive(matched, live domain.Session) (domain.Session, []string) {
	out := live.Clone()
	m := &merger{}

	if strings.TrimSpace(out.SessionID) == "" {
		m.str(&out.SessionID, matched.SessionID, "sessionId")
	}
	m.str(&out.WorkflowID, matched.WorkflowID, "workflowId")
	if out.Status == "" && matched.Status != "" {
		out.Status = matched.Status
		m.adopt("status")
	}
	if matched.Stage > out.Stage {
		out.Stage = matched.Stage
		m.adopt("stage")
	}

	m.client(&out.Client, matched.Client)
	m.caseRecord(&out.Case, matched.Case)

	if len(out.SelectedForms) == 0 && len(matched.SelectedForms) > 0 {
		out.SelectedForms = slices.Clone(matched.SelectedForms)
		m.adopt("selectedForms")
	}
	out.FormCaseIDs = m.strMap(out.FormCaseIDs, matched.FormCaseIDs, "formCaseIds")

	m.assignment(&out.Assignment, matched.Assignment)
	m.credentials(&out.Credentials, matched.Credentials)

	return out, m.adopted
}

// Apply is IntoLive without the adopted-field report.
func Apply(matched, live domain.Session) domain.Session {
	out, _ := IntoLive(matched, live)
	return out
}

type merger struct {
	adopted []string
}

func (m *merger) adopt(field string) {
	m.adopted = append(m.adopted, field)
}

func (m *merger) str(dst *string, src, field string) {
	if strings.TrimSpace(*dst) != "" || strings.TrimSpace(src) == "" {
		return
	}
	*dst = src
	m.adopt(field)
}

// strMap adds keys of src missing from dst. Existing keys are never
// rewritten, so a key maps to one value for life.
func (m *merger) strMap(dst, src map[string]string, field string) map[string]string {
	for _, k := range slices.Sorted(maps.Keys(src)) {
		v := src[k]
		if strings.TrimSpace(v) == "" {
			continue
		}
		if cur, ok := dst[k]; ok && strings.TrimSpace(cur) != "" {
			continue
		}
		if dst == nil {
			dst = make(map[string]string, len(src))
		}
		dst[k] = v
		m.adopt(field + "." + k)
	}
	return dst
}

func (m *merger) client(dst *domain.ClientProfile, src domain.ClientProfile) {
	// Ids come as a set: adopt them only into a client that has none.
	if dst.ID == "" && dst.LegacyID == "" && dst.OriginalID == "" {
		m.str(&dst.ID, src.ID, "client.id")
		m.str(&dst.LegacyID, src.LegacyID, "client._id")
		m.str(&dst.OriginalID, src.OriginalID, "client.originalId")
		dst.SyncIDs()
	}
	m.str(&dst.FirstName, src.FirstName, "client.firstName")
	m.str(&dst.MiddleName, src.MiddleName, "client.middleName")
	m.str(&dst.LastName, src.LastName, "client.lastName")
	m.str(&dst.Name, src.Name, "client.name")
	m.str(&dst.Email, src.Email, "client.email")
	m.str(&dst.Phone, src.Phone, "client.phone")
	m.str(&dst.DateOfBirth, src.DateOfBirth, "client.dateOfBirth")
	m.str(&dst.Nationality, src.Nationality, "client.nationality")
	m.str(&dst.AlienNumber, src.AlienNumber, "client.alienNumber")

	a, s := &dst.Address, src.Address
	m.str(&a.Street, s.Street, "client.address.street")
	m.str(&a.Apt, s.Apt, "client.address.apt")
	m.str(&a.City, s.City, "client.address.city")
	m.str(&a.State, s.State, "client.address.state")
	m.str(&a.ZipCode, s.ZipCode, "client.address.zipCode")
	m.str(&a.Country, s.Country, "client.address.country")
}

func (m *merger) caseRecord(dst *domain.CaseRecord, src domain.CaseRecord) {
	if dst.ID == "" && dst.LegacyID == "" && dst.OriginalID == "" {
		m.str(&dst.ID, src.ID, "case.id")
		m.str(&dst.LegacyID, src.LegacyID, "case._id")
		m.str(&dst.OriginalID, src.OriginalID, "case.originalId")
		dst.SyncIDs()
	}
	m.str(&dst.ClientID, src.ClientID, "case.clientId")
	m.str(&dst.Title, src.Title, "case.title")
	m.str(&dst.Category, src.Category, "case.category")
	m.str(&dst.Subcategory, src.Subcategory, "case.subcategory")
	m.str(&dst.Status, src.Status, "case.status")
	m.str(&dst.Priority, src.Priority, "case.priority")
	m.str(&dst.Description, src.Description, "case.description")
	m.str(&dst.OpenDate, src.OpenDate, "case.openDate")
	m.str(&dst.DueDate, src.DueDate, "case.dueDate")
	dst.FormCaseIDs = m.strMap(dst.FormCaseIDs, src.FormCaseIDs, "case.formCaseIds")
}

func (m *merger) assignment(dst *domain.AssignmentSnapshot, src domain.AssignmentSnapshot) {
	// A live assignment is never swapped for a different one.
	if dst.Resolved() && src.Resolved() && dst.ID != src.ID {
		return
	}
	m.str(&dst.ID, src.ID, "assignment.id")
	m.str(&dst.QuestionnaireID, src.QuestionnaireID, "assignment.questionnaireId")
	m.str(&dst.Title, src.Title, "assignment.title")
	m.str(&dst.FormCaseID, src.FormCaseID, "assignment.formCaseIdGenerated")

	// A key the live session holds is the user's, even when blank.
	for _, k := range slices.Sorted(maps.Keys(src.Responses)) {
		if _, ok := dst.Responses[k]; ok {
			continue
		}
		v := src.Responses[k]
		if emptyResponse(v) {
			continue
		}
		if dst.Responses == nil {
			dst.Responses = make(map[string]any, len(src.Responses))
		}
		dst.Responses[k] = v
		m.adopt("assignment.responses." + k)
	}
	if src.Completed && !dst.Completed {
		dst.Completed = true
		m.adopt("assignment.completed")
	}
}

func (m *merger) credentials(dst *domain.Credentials, src domain.Credentials) {
	m.str(&dst.Email, src.Email, "clientCredentials.email")
	if src.AccountRequested && !dst.AccountRequested {
		dst.AccountRequested = true
		m.adopt("clientCredentials.accountRequested")
	}
}

func emptyResponse(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}
