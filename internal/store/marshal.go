package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/ident"
)

// timeLayout is fixed-width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

// marshalPayload encodes v as compact JSON TEXT with HTML escaping off,
// so stored payloads are byte-stable for golden comparisons.
func marshalPayload(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func marshalSession(s domain.Session) (string, error) {
	data, err := marshalPayload(s.Sanitized())
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

func unmarshalSession(data string) (domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.SessionID == "" {
		s.SessionID = s.WorkflowID
	}
	return s, nil
}

func marshalAssignment(a domain.QuestionnaireAssignment) (string, error) {
	data, err := marshalPayload(a)
	if err != nil {
		return "", fmt.Errorf("marshal assignment: %w", err)
	}
	return data, nil
}

func unmarshalAssignment(data string) (domain.QuestionnaireAssignment, error) {
	var a domain.QuestionnaireAssignment
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return domain.QuestionnaireAssignment{}, fmt.Errorf("unmarshal assignment: %w", err)
	}
	return a, nil
}

// emailKey is the dedupe key stored in client_email columns.
func emailKey(email string) string {
	return ident.NormalizeEmail(email)
}

// assignmentKey picks the first id an assignment carries.
func assignmentKey(a domain.QuestionnaireAssignment) string {
	for _, v := range []string{a.ID, a.LegacyID, a.OriginalID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
