package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/testutil"
)

// Scenario defines a reconciler test scenario: the backend's initial
// contents, the steps fed to the reconciler, and the assertions that must
// hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Trainers and Pending are what the backend serves at start.
	Trainers []TrainerSpec `yaml:"trainers"`
	Pending  []PendingSpec `yaml:"pending,omitempty"`

	// Recomputed maps a trainer ID to the list the recompute call returns.
	Recomputed map[string][]string `yaml:"recomputed,omitempty"`

	// Fail scripts backend failures before the first load, by call name.
	// A negative count fails the call forever.
	Fail map[string]int `yaml:"fail,omitempty"`

	// UnresolvedReload enables the reload after an unresolved identifier.
	UnresolvedReload bool `yaml:"unresolved_reload,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// TrainerSpec is a trainer served by the scenario backend.
type TrainerSpec struct {
	ID              string   `yaml:"id"`
	UserID          string   `yaml:"user_id,omitempty"`
	Name            string   `yaml:"name,omitempty"`
	Specializations []string `yaml:"specializations,omitempty"`
}

// PendingSpec is a pending certification served by the scenario backend.
type PendingSpec struct {
	ID      string `yaml:"id"`
	Trainer string `yaml:"trainer"`
	Name    string `yaml:"name,omitempty"`
}

// Step is one action fed to the reconciler. Exactly one of Event, Refresh,
// Trainers, Pending and Fail is set.
type Step struct {
	// Event is the event kind: created, updated or deleted.
	Event   string `yaml:"event,omitempty"`
	ID      string `yaml:"id,omitempty"`
	Cert    string `yaml:"cert,omitempty"`
	Trainer string `yaml:"trainer,omitempty"`
	Status  string `yaml:"status,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Channel string `yaml:"channel,omitempty"`

	Refresh  bool           `yaml:"refresh,omitempty"`
	Trainers []TrainerSpec  `yaml:"trainers,omitempty"`
	Pending  []PendingSpec  `yaml:"pending,omitempty"`
	Fail     map[string]int `yaml:"fail,omitempty"`
}

// Assertion validates the final state or trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Trainer is the trainer ID (pending_count, specializations, sync_tier).
	Trainer string `yaml:"trainer,omitempty"`

	// Count is the expected number (pending_count and the *_count types).
	Count int `yaml:"count,omitempty"`

	// Values is the expected specialization list.
	Values []string `yaml:"values,omitempty"`

	// Tier is the expected final sync tier: recompute, fetch or reload.
	Tier string `yaml:"tier,omitempty"`

	// Outcomes is the expected ordered list of event outcomes.
	Outcomes []string `yaml:"outcomes,omitempty"`
}

// Assertion type constants.
const (
	AssertPendingCount    = "pending_count"
	AssertSpecializations = "specializations"
	AssertSyncCount       = "sync_count"
	AssertSyncTier        = "sync_tier"
	AssertReloadCount     = "reload_count"
	AssertDroppedCount    = "dropped_count"
	AssertOutcomes        = "outcomes"
)

var (
	backendCalls = []string{
		testutil.CallFetchTrainers,
		testutil.CallFetchPending,
		testutil.CallFetchTrainerByID,
		testutil.CallRecompute,
	}
	syncTiers = []string{"recompute", "fetch", "reload"}
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateBackend("", s.Trainers, s.Pending, s.Fail); err != nil {
		return err
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateBackend(prefix string, trainers []TrainerSpec, pending []PendingSpec, fail map[string]int) error {
	for i, t := range trainers {
		if t.ID == "" {
			return fmt.Errorf("%strainers[%d]: id is required", prefix, i)
		}
	}
	for i, p := range pending {
		if p.ID == "" || p.Trainer == "" {
			return fmt.Errorf("%spending[%d]: id and trainer are required", prefix, i)
		}
	}
	for call := range fail {
		if !slices.Contains(backendCalls, call) {
			return fmt.Errorf("%sfail: unknown call %q (want one of %s)", prefix, call, strings.Join(backendCalls, ", "))
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	actions := 0
	if s.Event != "" {
		actions++
	}
	if s.Refresh {
		actions++
	}
	if s.Trainers != nil {
		actions++
	}
	if s.Pending != nil {
		actions++
	}
	if s.Fail != nil {
		actions++
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one of event, refresh, trainers, pending, fail is required", index)
	}

	if s.Event != "" {
		if _, ok := model.ParseKind(s.Event); !ok {
			return fmt.Errorf("steps[%d]: unknown event kind %q", index, s.Event)
		}
		if s.Cert == "" {
			return fmt.Errorf("steps[%d]: cert is required", index)
		}
		if _, ok := model.ParseStatus(s.Status); !ok {
			return fmt.Errorf("steps[%d]: unknown status %q", index, s.Status)
		}
	}
	return validateBackend(fmt.Sprintf("steps[%d].", index), s.Trainers, s.Pending, s.Fail)
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertPendingCount, AssertSpecializations:
		if a.Trainer == "" {
			return fmt.Errorf("assertions[%d]: trainer is required for %s", index, a.Type)
		}
	case AssertSyncTier:
		if a.Trainer == "" {
			return fmt.Errorf("assertions[%d]: trainer is required for sync_tier", index)
		}
		if !slices.Contains(syncTiers, a.Tier) {
			return fmt.Errorf("assertions[%d]: tier must be one of %s", index, strings.Join(syncTiers, ", "))
		}
	case AssertSyncCount, AssertReloadCount, AssertDroppedCount:
	case AssertOutcomes:
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: outcomes list is required for outcomes", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
