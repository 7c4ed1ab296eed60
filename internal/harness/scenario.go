package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario drives one wizard session through a list of steps against a
// scripted remote and a fresh local cache, then checks the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario checks.
	Description string `yaml:"description"`

	// Catalog is a CUE catalog directory, relative to the scenario file.
	// Steps that name a questionnaire look it up here.
	Catalog string `yaml:"catalog,omitempty"`

	// AutoFill toggles the background match on entering answers
	// (default true).
	AutoFill *bool `yaml:"auto_fill,omitempty"`

	// AccountBurst limits account requests per email; zero is unlimited.
	// Tokens refill one per hour, so the limit holds for the whole run.
	AccountBurst int `yaml:"account_burst,omitempty"`

	// Remote seeds and scripts the remote session service.
	Remote RemoteSetup `yaml:"remote,omitempty"`

	// Local seeds the local cache before the first step.
	Local LocalSetup `yaml:"local,omitempty"`

	// Steps are the wizard operations, run in order.
	Steps []Step `yaml:"steps"`

	// Assertions check the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Record is a session or assignment written with its JSON field names.
type Record map[string]any

// RemoteSetup describes the remote at the start of the scenario.
type RemoteSetup struct {
	// Disabled runs the gateway local-only.
	Disabled bool `yaml:"disabled,omitempty"`

	Sessions    []Record `yaml:"sessions,omitempty"`
	Assignments []Record `yaml:"assignments,omitempty"`

	// Fail maps a remote operation (or "all") to a failure kind:
	// unavailable, unauthorized, not_found, conflict.
	Fail map[string]string `yaml:"fail,omitempty"`
}

// LocalSetup describes the local cache at the start of the scenario.
type LocalSetup struct {
	Sessions    []Record `yaml:"sessions,omitempty"`
	Assignments []Record `yaml:"assignments,omitempty"`
}

// Step is one wizard operation.
type Step struct {
	// Do names the operation; see the Op* constants.
	Do string `yaml:"do"`

	// Args are the operation's arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect checks the step's immediate outcome. Without it the step
	// must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the outcome a step must produce.
type Expect struct {
	// Error is the expected error code; empty means success.
	Error string `yaml:"error,omitempty"`

	// Fields are the expected offending fields of a validation error.
	Fields []string `yaml:"fields,omitempty"`

	// Stage is the stage the machine must stand on afterwards.
	Stage string `yaml:"stage,omitempty"`
}

// Assertion checks the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Stage is the expected final stage (stage).
	Stage string `yaml:"stage,omitempty"`

	// Level filters notices (notice_count).
	Level string `yaml:"level,omitempty"`

	// Op is a remote operation name (remote_calls).
	Op string `yaml:"op,omitempty"`

	// Count is the expected number of notices or calls.
	Count *int `yaml:"count,omitempty"`

	// Store picks the session to read (field): live, local, or remote.
	Store string `yaml:"store,omitempty"`

	// Session is the saved session id to read; defaults to the live id.
	Session string `yaml:"session,omitempty"`

	// Path is a dotted path into the session's JSON form (field).
	Path string `yaml:"path,omitempty"`

	// Equals is the expected value at Path; null means absent.
	Equals any `yaml:"equals,omitempty"`
}

// Assertion types.
const (
	AssertStage       = "stage"
	AssertNoticeCount = "notice_count"
	AssertRemoteCalls = "remote_calls"
	AssertField       = "field"
)

// Step operations.
const (
	OpBootstrap      = "bootstrap"
	OpNext           = "next"
	OpPrevious       = "previous"
	OpSetClient      = "set_client"
	OpSetCase        = "set_case"
	OpSelectForms    = "select_forms"
	OpAssign         = "assign"
	OpRespond        = "respond"
	OpRequestAccount = "request_account"
	OpComplete       = "complete"
	OpHandoff        = "handoff"
	OpFailRemote     = "fail_remote"
)

var knownOps = map[string]bool{
	OpBootstrap: true, OpNext: true, OpPrevious: true, OpSetClient: true,
	OpSetCase: true, OpSelectForms: true, OpAssign: true, OpRespond: true,
	OpRequestAccount: true, OpComplete: true, OpHandoff: true, OpFailRemote: true,
}

var knownAssertions = map[string]bool{
	AssertStage: true, AssertNoticeCount: true, AssertRemoteCalls: true, AssertField: true,
}

// LoadScenario reads and parses a scenario YAML file. The catalog path is
// resolved relative to the file. Unknown YAML keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.AccountBurst < 0 {
		return fmt.Errorf("account_burst must not be negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Steps) > 0 && s.Steps[0].Do != OpBootstrap && s.Steps[0].Do != OpFailRemote {
		return fmt.Errorf("step 1: the first wizard step must be %q", OpBootstrap)
	}

	for i, step := range s.Steps {
		if step.Do == "" {
			return fmt.Errorf("step %d: do is required", i+1)
		}
		if !knownOps[step.Do] {
			return fmt.Errorf("step %d: unknown operation %q", i+1, step.Do)
		}
	}

	for i, a := range s.Assertions {
		if !knownAssertions[a.Type] {
			return fmt.Errorf("assertion %d: unknown type %q", i+1, a.Type)
		}
		switch a.Type {
		case AssertStage:
			if a.Stage == "" {
				return fmt.Errorf("assertion %d: stage requires stage", i+1)
			}
		case AssertNoticeCount:
			if a.Count == nil {
				return fmt.Errorf("assertion %d: notice_count requires count", i+1)
			}
		case AssertRemoteCalls:
			if a.Op == "" || a.Count == nil {
				return fmt.Errorf("assertion %d: remote_calls requires op and count", i+1)
			}
		case AssertField:
			if a.Path == "" {
				return fmt.Errorf("assertion %d: field requires path", i+1)
			}
			switch a.Store {
			case "", "live", "local", "remote":
			default:
				return fmt.Errorf("assertion %d: unknown store %q", i+1, a.Store)
			}
		}
	}
	return nil
}
