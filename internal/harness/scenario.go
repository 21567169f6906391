package harness

import (
	"fmt"
	"os"
	"slices"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/roach88/atsguard/internal/audit"
	"github.com/roach88/atsguard/internal/tenant"
)

// Scenario is one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `mapstructure:"name"`

	// Description explains what this scenario validates.
	Description string `mapstructure:"description"`

	// Tenants lists tenant aliases, created in order before any step.
	Tenants []string `mapstructure:"tenants"`

	// Actors are created and issued tokens before any step.
	Actors []ActorDef `mapstructure:"actors"`

	Steps      []Step      `mapstructure:"steps"`
	Assertions []Assertion `mapstructure:"assertions"`
}

// ActorDef declares an actor.
type ActorDef struct {
	Name   string   `mapstructure:"name"`
	Tenant string   `mapstructure:"tenant"`
	Kind   string   `mapstructure:"kind"`
	Roles  []string `mapstructure:"roles"`
}

// Step is one operation performed by an actor.
type Step struct {
	Op    string `mapstructure:"op"`
	Actor string `mapstructure:"actor"`

	// As names the subjects an intake creates.
	As string `mapstructure:"as"`

	// Subject is the subject type acted on; defaults to application.
	Subject string `mapstructure:"subject"`
	Target  string `mapstructure:"target"`

	From       string   `mapstructure:"from"`
	To         string   `mapstructure:"to"`
	Contenders []string `mapstructure:"contenders"`
	Reason     string   `mapstructure:"reason"`

	// Value is the flag for blacklist.
	Value *bool `mapstructure:"value"`

	// Tenant is the alias for deactivate_tenant.
	Tenant string `mapstructure:"tenant"`

	// Args is the intake payload.
	Args map[string]any `mapstructure:"args"`

	// Expect defaults to outcome ok.
	Expect *Expect `mapstructure:"expect"`
}

// Expect is the expected result of a step. Zero fields are not checked.
type Expect struct {
	Outcome   string `mapstructure:"outcome"`
	Rule      string `mapstructure:"rule"`
	Decision  string `mapstructure:"decision"`
	Matched   string `mapstructure:"matched"`
	Reused    *bool  `mapstructure:"reused"`
	Seq       int64  `mapstructure:"seq"`
	Committed int    `mapstructure:"committed"`
}

// Assertion validates final state or the trace.
type Assertion struct {
	Type    string   `mapstructure:"type"`
	Subject string   `mapstructure:"subject"`
	Target  string   `mapstructure:"target"`
	Status  string   `mapstructure:"status"`
	OneOf   []string `mapstructure:"one_of"`
	Value   *bool    `mapstructure:"value"`
	Count   *int     `mapstructure:"count"`
	Op      string   `mapstructure:"op"`
	Outcome string   `mapstructure:"outcome"`
}

// Step operations.
const (
	OpIntake            = "intake"
	OpTransition        = "transition"
	OpRace              = "race"
	OpClearFlag         = "clear_flag"
	OpBlacklist         = "blacklist"
	OpDeleteApplication = "delete_application"
	OpDeactivateTenant  = "deactivate_tenant"
)

// Assertion type constants.
const (
	AssertFinalStatus  = "final_status"
	AssertBlacklisted  = "blacklisted"
	AssertFlagged      = "flagged"
	AssertHistoryCount = "history_count"
	AssertChainIntact  = "chain_intact"
	AssertTraceCount   = "trace_count"
)

// LoadScenario reads and validates a scenario file. Unknown keys are
// rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var scenario Scenario
	if err := decodeStrict(raw, &scenario); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// decodeStrict decodes a generic YAML value into out, rejecting keys out
// does not declare.
func decodeStrict(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Tenants) == 0 {
		return fmt.Errorf("tenants list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	actors := make(map[string]bool, len(s.Actors))
	for i, a := range s.Actors {
		switch {
		case a.Name == "":
			return fmt.Errorf("actors[%d]: name is required", i)
		case actors[a.Name]:
			return fmt.Errorf("actors[%d]: duplicate actor %q", i, a.Name)
		case !slices.Contains(s.Tenants, a.Tenant):
			return fmt.Errorf("actors[%d]: unknown tenant %q", i, a.Tenant)
		case !tenant.ActorKind(a.Kind).Valid():
			return fmt.Errorf("actors[%d]: kind must be human or system, got %q", i, a.Kind)
		}
		actors[a.Name] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, s.Tenants, actors); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, tenants []string, actors map[string]bool) error {
	if step.Op == OpDeactivateTenant {
		if !slices.Contains(tenants, step.Tenant) {
			return fmt.Errorf("steps[%d]: unknown tenant %q", i, step.Tenant)
		}
		return nil
	}
	if !actors[step.Actor] {
		return fmt.Errorf("steps[%d]: unknown actor %q", i, step.Actor)
	}
	if err := validateSubjectType(step.Subject); err != nil {
		return fmt.Errorf("steps[%d]: %w", i, err)
	}

	switch step.Op {
	case OpIntake:
		if step.As == "" {
			return fmt.Errorf("steps[%d]: as is required for intake", i)
		}
		if step.Args == nil {
			return fmt.Errorf("steps[%d]: args is required for intake", i)
		}
	case OpTransition:
		if step.Target == "" || step.From == "" || step.To == "" {
			return fmt.Errorf("steps[%d]: target, from and to are required for transition", i)
		}
	case OpRace:
		if step.Target == "" || step.From == "" || len(step.Contenders) < 2 {
			return fmt.Errorf("steps[%d]: target, from and at least two contenders are required for race", i)
		}
	case OpBlacklist:
		if step.Target == "" || step.Value == nil {
			return fmt.Errorf("steps[%d]: target and value are required for blacklist", i)
		}
	case OpClearFlag, OpDeleteApplication:
		if step.Target == "" {
			return fmt.Errorf("steps[%d]: target is required for %s", i, step.Op)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

func validateSubjectType(subjectType string) error {
	switch subjectType {
	case "", audit.SubjectApplication, audit.SubjectCandidate:
		return nil
	default:
		return fmt.Errorf("unknown subject type %q", subjectType)
	}
}

func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if err := validateSubjectType(a.Subject); err != nil {
		return fmt.Errorf("assertions[%d]: %w", index, err)
	}

	switch a.Type {
	case AssertFinalStatus:
		if a.Target == "" || (a.Status == "" && len(a.OneOf) == 0) {
			return fmt.Errorf("assertions[%d]: target and status or one_of are required for final_status", index)
		}
	case AssertBlacklisted, AssertFlagged:
		if a.Target == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: target and value are required for %s", index, a.Type)
		}
	case AssertHistoryCount:
		if a.Target == "" || a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: target and a non-negative count are required for history_count", index)
		}
	case AssertChainIntact:
		if a.Target == "" {
			return fmt.Errorf("assertions[%d]: target is required for chain_intact", index)
		}
	case AssertTraceCount:
		if a.Op == "" || a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: op and a non-negative count are required for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// subjectType returns the subject type with the application default.
func subjectType(t string) string {
	if t == "" {
		return audit.SubjectApplication
	}
	return t
}
