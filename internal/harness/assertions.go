package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/wizard"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("expected %s, got %s", e.Expected, e.Actual)
}

// check evaluates one assertion against the finished run.
func (h *Harness) check(ctx context.Context, a Assertion, result *Result) error {
	switch a.Type {
	case AssertStage:
		return assertStage(result.Session, a)
	case AssertNoticeCount:
		return assertNoticeCount(result.Notices, a)
	case AssertRemoteCalls:
		return assertRemoteCalls(result.RemoteCalls, a)
	case AssertField:
		sess, err := h.sessionFor(ctx, a, result)
		if err != nil {
			return err
		}
		return assertField(sess, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertStage(s domain.Session, a Assertion) error {
	want, err := domain.ParseStage(a.Stage)
	if err != nil {
		return err
	}
	if s.Stage != want {
		return &AssertionError{Type: a.Type, Expected: want.String(), Actual: s.Stage.String()}
	}
	return nil
}

// assertNoticeCount counts notices, narrowed by level and op when set.
func assertNoticeCount(notices []wizard.Notice, a Assertion) error {
	n := 0
	for _, notice := range notices {
		if a.Level != "" && string(notice.Level) != a.Level {
			continue
		}
		if a.Op != "" && notice.Op != a.Op {
			continue
		}
		n++
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d notice(s)%s", *a.Count, noticeFilter(a)),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func noticeFilter(a Assertion) string {
	var parts []string
	if a.Level != "" {
		parts = append(parts, "level="+a.Level)
	}
	if a.Op != "" {
		parts = append(parts, "op="+a.Op)
	}
	if len(parts) == 0 {
		return ""
	}
	return " with " + strings.Join(parts, " ")
}

func assertRemoteCalls(calls []string, a Assertion) error {
	n := 0
	for _, c := range calls {
		if c == a.Op {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s call(s)", *a.Count, a.Op),
			Actual:   fmt.Sprintf("%d in [%s]", n, strings.Join(calls, ", ")),
		}
	}
	return nil
}

// sessionFor returns the session a field assertion reads.
func (h *Harness) sessionFor(ctx context.Context, a Assertion, result *Result) (domain.Session, error) {
	id := a.Session
	if id == "" {
		id = result.Session.Key()
	}
	switch a.Store {
	case "", "live":
		return result.Session, nil
	case "local":
		s, err := h.local.GetSession(ctx, id)
		if err != nil {
			return domain.Session{}, fmt.Errorf("local session %s: %w", id, err)
		}
		return s, nil
	case "remote":
		if h.remote == nil {
			return domain.Session{}, fmt.Errorf("remote is disabled")
		}
		for _, s := range h.remote.Sessions() {
			if s.Key() == id {
				return s, nil
			}
		}
		return domain.Session{}, fmt.Errorf("remote session %s not found", id)
	}
	return domain.Session{}, fmt.Errorf("unknown store %q", a.Store)
}

// assertField compares the value at a dotted JSON path. Values compare by
// their printed form, so 3 in YAML equals 3 decoded from JSON. A null
// Equals expects the path to be absent.
func assertField(s domain.Session, a Assertion) error {
	got, found, err := lookupPath(s, a.Path)
	if err != nil {
		return err
	}
	if a.Equals == nil {
		if found {
			return &AssertionError{Type: a.Type, Expected: a.Path + " absent", Actual: fmt.Sprint(got)}
		}
		return nil
	}
	if !found {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %v", a.Path, a.Equals), Actual: "absent"}
	}
	if fmt.Sprint(got) != fmt.Sprint(a.Equals) {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s = %v", a.Path, a.Equals), Actual: fmt.Sprint(got)}
	}
	return nil
}

func lookupPath(s domain.Session, path string) (any, bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, false, err
	}
	var cur any
	if err := json.Unmarshal(data, &cur); err != nil {
		return nil, false, err
	}
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		cur, ok = m[part]
		if !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}
