// Package handoff passes one assignment's data from the response-review
// screen into the wizard. A transfer is single-read: Take returns it once
// and removes it. Transfers expire after a short TTL if never taken.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/domain"
)

// DefaultTTL bounds how long an untaken transfer survives.
const DefaultTTL = 5 * time.Minute

// ErrEmptyKey is returned for a blank transfer key.
var ErrEmptyKey = errors.New("handoff: empty key")

// Transfer is the sanitized object handed between screens.
type Transfer struct {
	Client     domain.ClientProfile           `json:"client"`
	Case       domain.CaseRecord              `json:"case"`
	Assignment domain.QuestionnaireAssignment `json:"assignment"`
	Extra      map[string]any                 `json:"extra,omitempty"`
}

// Session returns the transfer shaped as a session, ready to merge into
// the live one.
func (t Transfer) Session() domain.Session {
	s := domain.Session{
		Client:     t.Client,
		Case:       t.Case,
		Assignment: t.Assignment.Snapshot(),
	}
	if s.Client.Email == "" {
		s.Client.Email = t.Assignment.ClientEmail
	}
	if t.Assignment.FormType != "" && t.Assignment.FormCaseID != "" {
		s.SelectedForms = []string{t.Assignment.FormType}
		s.FormCaseIDs = map[string]string{t.Assignment.FormType: t.Assignment.FormCaseID}
	}
	return s
}

// Store holds transfers until taken.
type Store interface {
	// Put stores t under key, replacing any earlier transfer.
	Put(ctx context.Context, key string, t Transfer) error
	// Take returns the transfer under key and removes it. ok is false when
	// there is none or it expired.
	Take(ctx context.Context, key string) (t Transfer, ok bool, err error)
}

// Sanitize drops internal keys (leading "_" or "$") and values that have
// no JSON form from the free-form maps of t.
func Sanitize(t Transfer) Transfer {
	t.Extra = sanitizeMap(t.Extra)
	t.Assignment.Responses = sanitizeMap(t.Assignment.Responses)
	return t
}

func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if internalKey(k) {
			continue
		}
		if clean, ok := sanitizeValue(v); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil, string, bool, int, int64, int32:
		return x, true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, false
		}
		return x, true
	case map[string]any:
		return sanitizeMap(x), true
	case []any:
		out := make([]any, 0, len(x))
		for _, e := range x {
			if clean, ok := sanitizeValue(e); ok {
				out = append(out, clean)
			}
		}
		return out, true
	case []string:
		return append([]string(nil), x...), true
	}
	if _, err := json.Marshal(v); err != nil {
		return nil, false
	}
	return v, true
}

func internalKey(k string) bool {
	return k == "" || strings.HasPrefix(k, "_") || strings.HasPrefix(k, "$")
}
