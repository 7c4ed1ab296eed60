package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/catalog"
	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/gateway"
	"github.com/roach88/casewise/internal/handoff"
	"github.com/roach88/casewise/internal/matcher"
	"github.com/roach88/casewise/internal/ratelimit"
	"github.com/roach88/casewise/internal/remote"
	"github.com/roach88/casewise/internal/store"
	"github.com/roach88/casewise/internal/testutil"
	"github.com/roach88/casewise/internal/wizard"
)

// Harness runs one scenario against a deterministic clock, sequential
// session ids, an in-memory cache, and a scripted remote.
type Harness struct {
	scenario *Scenario
	local    *store.Store
	remote   *testutil.ScriptedRemote
	clock    *testutil.Clock
	catalog  *catalog.Catalog
	handoff  *handoff.MemoryStore
	machine  *wizard.Machine
	logger   *slog.Logger
}

// Run executes a scenario and returns the result. Each run uses a fresh
// in-memory cache, so runs are isolated and repeatable.
//
// Step expectations and assertions that do not hold are reported in the
// result; the returned error is for scenarios that cannot be run at all.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario, nil)
}

// RunContext is Run with a context and a logger (nil discards).
func RunContext(ctx context.Context, scenario *Scenario, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h, err := newHarness(scenario, logger)
	if err != nil {
		return nil, err
	}
	defer h.close()

	if err := h.seed(ctx); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		n := i + 1
		callsBefore := len(h.remoteCalls())
		noticesBefore := len(h.machine.Notices())

		stepErr := h.execute(ctx, step)
		h.machine.Wait()
		if stepErr != nil && wizard.CodeOf(stepErr) == "" {
			return nil, fmt.Errorf("step %d (%s): %w", n, step.Do, stepErr)
		}

		ev := TraceEvent{
			Step:    n,
			Do:      step.Do,
			Outcome: outcomeOf(stepErr),
			Stage:   h.machine.Stage().String(),
			Remote:  h.remoteCalls()[callsBefore:],
			Notices: h.machine.Notices()[noticesBefore:],
		}
		result.Trace = append(result.Trace, ev)
		h.logger.Debug("step executed", "step", n, "do", step.Do, "outcome", ev.Outcome, "stage", ev.Stage)

		for _, msg := range checkStep(step, stepErr, h.machine.Stage()) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", n, step.Do, msg))
		}
	}

	result.Session = h.machine.Session()
	result.Notices = h.machine.Notices()
	result.RemoteCalls = h.remoteCalls()

	for i, a := range scenario.Assertions {
		if err := h.check(ctx, a, result); err != nil {
			result.AddError(fmt.Sprintf("assertion %d (%s): %v", i+1, a.Type, err))
		}
	}
	return result, nil
}

func newHarness(scenario *Scenario, logger *slog.Logger) (*Harness, error) {
	h := &Harness{
		scenario: scenario,
		clock:    testutil.NewClock(testutil.DefaultStart, time.Second),
		logger:   logger,
	}

	if scenario.Catalog != "" {
		cat, errs := catalog.LoadDir(scenario.Catalog)
		if len(errs) > 0 {
			return nil, fmt.Errorf("load catalog %s: %w", scenario.Catalog, errors.Join(errs...))
		}
		h.catalog = cat
	}

	local, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	h.local = local

	// A nil *ScriptedRemote inside the interface would not read as absent.
	var rem gateway.Remote
	if !scenario.Remote.Disabled {
		h.remote = testutil.NewScriptedRemote()
		rem = h.remote
	}

	gw := gateway.New(local, rem, gateway.WithLogger(logger), gateway.WithClock(h.clock.Now))
	h.handoff = handoff.NewMemoryStore(handoff.DefaultTTL, h.clock.Now)

	opts := []wizard.Option{
		wizard.WithMatcher(matcher.New(gw, matcher.WithLogger(logger))),
		wizard.WithHandoff(h.handoff),
		wizard.WithIDGenerator(testutil.NewSequentialIDs("session")),
		wizard.WithClock(h.clock.Now),
		wizard.WithLogger(logger),
	}
	if scenario.AutoFill != nil {
		opts = append(opts, wizard.WithAutoFill(*scenario.AutoFill))
	}
	if scenario.AccountBurst > 0 {
		opts = append(opts, wizard.WithLimiter(ratelimit.New(time.Hour, scenario.AccountBurst, ratelimit.WithClock(h.clock.Now))))
	}
	if h.catalog != nil {
		opts = append(opts, wizard.WithFormPrefixes(h.catalog.Prefixes()))
	}
	h.machine = wizard.New(gw, opts...)
	return h, nil
}

func (h *Harness) close() {
	if h.local != nil {
		_ = h.local.Close()
	}
}

// seed loads the scenario's saved sessions and assignments into both
// stores, then arms the scripted remote failures.
func (h *Harness) seed(ctx context.Context) error {
	for i, rec := range h.scenario.Local.Sessions {
		var s domain.Session
		if err := convert(rec, &s); err != nil {
			return fmt.Errorf("local session %d: %w", i+1, err)
		}
		if _, err := h.local.UpsertSession(ctx, s); err != nil {
			return fmt.Errorf("local session %d: %w", i+1, err)
		}
	}
	for i, rec := range h.scenario.Local.Assignments {
		var a domain.QuestionnaireAssignment
		if err := convert(rec, &a); err != nil {
			return fmt.Errorf("local assignment %d: %w", i+1, err)
		}
		if _, err := h.local.UpsertAssignment(ctx, a); err != nil {
			return fmt.Errorf("local assignment %d: %w", i+1, err)
		}
	}

	if h.remote == nil {
		if len(h.scenario.Remote.Sessions)+len(h.scenario.Remote.Assignments)+len(h.scenario.Remote.Fail) > 0 {
			return errors.New("remote is disabled but remote data or failures are set")
		}
		return nil
	}
	for i, rec := range h.scenario.Remote.Sessions {
		var s domain.Session
		if err := convert(rec, &s); err != nil {
			return fmt.Errorf("remote session %d: %w", i+1, err)
		}
		if _, err := h.remote.PutSession(ctx, s); err != nil {
			return fmt.Errorf("remote session %d: %w", i+1, err)
		}
	}
	for i, rec := range h.scenario.Remote.Assignments {
		var a domain.QuestionnaireAssignment
		if err := convert(rec, &a); err != nil {
			return fmt.Errorf("remote assignment %d: %w", i+1, err)
		}
		h.remote.AddAssignment(a)
	}
	// Seeding goes through the recorder; start the call log clean.
	h.remote.ResetCalls()

	ops := make([]string, 0, len(h.scenario.Remote.Fail))
	for op := range h.scenario.Remote.Fail {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		if err := h.failRemote(op, h.scenario.Remote.Fail[op]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) remoteCalls() []string {
	if h.remote == nil {
		return nil
	}
	return h.remote.Calls()
}

// execute runs one step. Wizard failures come back as *wizard.StageError;
// any other error means the step itself is malformed.
func (h *Harness) execute(ctx context.Context, step Step) error {
	args := step.Args
	switch step.Do {
	case OpBootstrap:
		opts := wizard.BootstrapOptions{
			SessionID: str(args, "session_id"),
			Key: matcher.Key{
				FormCaseID:   str(args, "form_case_id"),
				AssignmentID: str(args, "assignment_id"),
				ClientEmail:  str(args, "client_email"),
				ClientName:   str(args, "client_name"),
			},
			Hint: matcher.Hint{AssignmentID: str(args, "hint")},
		}
		if v := str(args, "jump_to"); v != "" {
			stage, err := domain.ParseStage(v)
			if err != nil {
				return err
			}
			opts.JumpTo = &stage
		}
		return h.machine.Bootstrap(ctx, opts)

	case OpNext:
		return h.machine.Next(ctx)

	case OpPrevious:
		return h.machine.Previous()

	case OpSetClient:
		var c domain.ClientProfile
		if err := convert(args, &c); err != nil {
			return err
		}
		return h.machine.SetClient(c)

	case OpSetCase:
		var c domain.CaseRecord
		if err := convert(args, &c); err != nil {
			return err
		}
		return h.machine.SetCase(c)

	case OpSelectForms:
		forms, err := strs(args, "forms")
		if err != nil {
			return err
		}
		return h.machine.SelectForms(ctx, forms)

	case OpAssign:
		return h.assign(args)

	case OpRespond:
		key := str(args, "key")
		if key == "" {
			return errors.New("respond requires key")
		}
		return h.machine.SetResponse(key, args["value"])

	case OpRequestAccount:
		return h.machine.RequestAccount(ctx, str(args, "secret"))

	case OpComplete:
		return h.machine.Complete(ctx)

	case OpHandoff:
		return h.handoffStep(ctx, args)

	case OpFailRemote:
		op := str(args, "op")
		if op == "" {
			return errors.New("fail_remote requires op")
		}
		return h.failRemote(op, str(args, "error"))
	}
	return fmt.Errorf("unknown operation %q", step.Do)
}

// assign resolves the assignment and its definition: a catalog
// questionnaire id, an inline definition, or neither.
func (h *Harness) assign(args map[string]any) error {
	var a domain.QuestionnaireAssignment
	if raw, ok := args["assignment"]; ok {
		if err := convert(raw, &a); err != nil {
			return fmt.Errorf("assignment: %w", err)
		}
	}

	var def *domain.QuestionnaireDefinition
	switch {
	case str(args, "questionnaire") != "":
		id := str(args, "questionnaire")
		if h.catalog == nil {
			return fmt.Errorf("questionnaire %q named but the scenario has no catalog", id)
		}
		q, ok := h.catalog.Questionnaire(id)
		if !ok {
			return fmt.Errorf("questionnaire %q not in catalog", id)
		}
		def = &q
	case args["definition"] != nil:
		doc, ok := args["definition"].(map[string]any)
		if !ok {
			return errors.New("definition must be a mapping")
		}
		q, err := domain.NormalizeQuestionnaireMap(doc)
		if err != nil {
			return fmt.Errorf("definition: %w", err)
		}
		def = &q
	}
	return h.machine.AssignQuestionnaire(a, def)
}

// handoffStep stores a transfer under key and lets the machine consume it.
// Without a transfer it only consumes, which exercises the miss path.
func (h *Harness) handoffStep(ctx context.Context, args map[string]any) error {
	key := str(args, "key")
	if key == "" {
		key = "handoff"
	}
	if raw, ok := args["transfer"]; ok {
		var t handoff.Transfer
		if err := convert(raw, &t); err != nil {
			return fmt.Errorf("transfer: %w", err)
		}
		if err := h.handoff.Put(ctx, key, t); err != nil {
			return err
		}
	}
	_, err := h.machine.ConsumeHandoff(ctx, key)
	return err
}

// failRemote scripts op (or "all") to fail with kind from now on. The
// kind "none" clears the failure.
func (h *Harness) failRemote(op, kind string) error {
	if h.remote == nil {
		return errors.New("remote is disabled")
	}
	var err error
	switch kind {
	case "", "unavailable":
		err = &remote.StatusError{Method: "ANY", Path: "/" + op, Status: 503}
	case "unauthorized":
		err = &remote.StatusError{Method: "ANY", Path: "/" + op, Status: 401}
	case "not_found":
		err = &remote.StatusError{Method: "ANY", Path: "/" + op, Status: 404}
	case "conflict":
		err = &remote.StatusError{Method: "ANY", Path: "/" + op, Status: 409}
	case "none":
	default:
		return fmt.Errorf("unknown remote failure %q", kind)
	}
	if op == "all" {
		h.remote.FailAll(err)
		return nil
	}
	if !slices.Contains(testutil.RemoteOps, op) {
		return fmt.Errorf("unknown remote operation %q", op)
	}
	h.remote.Fail(op, err)
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(wizard.CodeOf(err))
}

// checkStep compares a step's outcome with its expectation. A step with
// no expectation must succeed.
func checkStep(step Step, err error, stage domain.Stage) []string {
	var msgs []string
	want := Expect{}
	if step.Expect != nil {
		want = *step.Expect
	}

	got := string(wizard.CodeOf(err))
	if got != want.Error {
		if want.Error == "" {
			msgs = append(msgs, fmt.Sprintf("unexpected error: %v", err))
		} else {
			msgs = append(msgs, fmt.Sprintf("expected error %s, got %q", want.Error, got))
		}
	}

	if len(want.Fields) > 0 {
		var fields []string
		var se *wizard.StageError
		if errors.As(err, &se) {
			fields = slices.Clone(se.Fields)
		}
		expected := slices.Clone(want.Fields)
		slices.Sort(fields)
		slices.Sort(expected)
		if !slices.Equal(fields, expected) {
			msgs = append(msgs, fmt.Sprintf("expected fields [%s], got [%s]",
				strings.Join(expected, ", "), strings.Join(fields, ", ")))
		}
	}

	if want.Stage != "" {
		s, perr := domain.ParseStage(want.Stage)
		switch {
		case perr != nil:
			msgs = append(msgs, perr.Error())
		case s != stage:
			msgs = append(msgs, fmt.Sprintf("expected stage %s, got %s", s, stage))
		}
	}
	return msgs
}

// convert maps a YAML-decoded value onto a domain type through its JSON
// field names.
func convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func strs(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out, nil
}
