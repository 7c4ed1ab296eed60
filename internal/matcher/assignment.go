package matcher

import (
	"context"
	"strings"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/ident"
)

// FindAssignment locates the assignment a target id refers to. Exact
// candidate equality across every record is tried before the bounded
// prefix fallback; a composite target is retried without its suffix.
func FindAssignment(target string, assignments []domain.QuestionnaireAssignment) (domain.QuestionnaireAssignment, bool) {
	target = strings.TrimSpace(target)
	if target == "" || len(assignments) == 0 {
		return domain.QuestionnaireAssignment{}, false
	}
	ids := make([]ident.Identity, len(assignments))
	for i, a := range assignments {
		ids[i] = a.Identity()
	}
	if i, ok := ident.Lookup(target, ids); ok {
		return assignments[i], true
	}
	if base := ident.Base(target); base != target {
		if i, ok := ident.Lookup(base, ids); ok {
			return assignments[i], true
		}
	}
	return domain.QuestionnaireAssignment{}, false
}

// FindAssignment resolves target against the source's assignments.
// Returns false when nothing matches or no assignment list is available.
func (m *Matcher) FindAssignment(ctx context.Context, target string) (domain.QuestionnaireAssignment, bool) {
	res := m.source.Assignments(ctx)
	if !res.Usable() {
		m.logger.Warn("assignment list unavailable", "reason", res.Reason, "error", res.Err)
		return domain.QuestionnaireAssignment{}, false
	}
	return FindAssignment(target, res.Value)
}

// ResponsesFor returns a's responses keyed by def's field ids. A response
// stored under a field's label is accepted when none is stored under its
// id. Responses naming no field are dropped.
func ResponsesFor(a domain.QuestionnaireAssignment, def domain.QuestionnaireDefinition) map[string]any {
	out := make(map[string]any, len(def.Fields))
	for _, f := range def.Fields {
		if v, ok := a.Responses[f.ID]; ok {
			out[f.ID] = v
			continue
		}
		if f.Label == "" {
			continue
		}
		if v, ok := a.Responses[f.Label]; ok {
			out[f.ID] = v
		}
	}
	return out
}
