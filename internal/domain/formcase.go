package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultFormCasePrefix is used for forms the catalog gives no prefix.
const DefaultFormCasePrefix = "CR"

var formCaseIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*-\d{4}-\d{4,}$`)

// ValidFormCaseID reports whether v looks like PREFIX-YYYY-NNNN.
func ValidFormCaseID(v string) bool {
	return formCaseIDPattern.MatchString(v)
}

// FormatFormCaseID renders a generated case id.
func FormatFormCaseID(prefix string, year, n int) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultFormCasePrefix
	}
	return fmt.Sprintf("%s-%04d-%04d", prefix, year, n)
}

// AllocateFormCaseIDs returns existing extended with an id for every form
// in forms that does not have one yet. Assigned ids are never replaced,
// so a form maps to at most one case id.
//
// next supplies the running number; prefixFor may be nil.
func AllocateFormCaseIDs(
	existing map[string]string,
	forms []string,
	prefixFor func(form string) string,
	year int,
	next func() (int, error),
) (map[string]string, error) {
	out := cloneStrings(existing)
	if out == nil {
		out = make(map[string]string, len(forms))
	}
	for _, form := range forms {
		form = strings.TrimSpace(form)
		if form == "" {
			continue
		}
		if id, ok := out[form]; ok && id != "" {
			continue
		}
		n, err := next()
		if err != nil {
			return existing, fmt.Errorf("allocate case id for %s: %w", form, err)
		}
		prefix := DefaultFormCasePrefix
		if prefixFor != nil {
			if p := prefixFor(form); p != "" {
				prefix = p
			}
		}
		id := FormatFormCaseID(prefix, year, n)
		if !ValidFormCaseID(id) {
			return existing, fmt.Errorf("%w: %s", ErrInvalidFormCaseID, id)
		}
		out[form] = id
	}
	return out, nil
}
