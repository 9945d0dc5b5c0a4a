package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/canvassync/internal/canvas"
)

// Scenario is one scripted sync session.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// UserID is the local user. Remote events from this id are echoes.
	UserID string `yaml:"user_id,omitempty"`

	// Debounce is the save window. Defaults to 2s.
	Debounce string `yaml:"debounce,omitempty"`

	// Online sets whether the realtime channel starts connected.
	Online *bool `yaml:"online,omitempty"`

	// FailInitialLoad makes the first load fail.
	FailInitialLoad bool `yaml:"fail_initial_load,omitempty"`

	// Initial is the stored canvas the session loads.
	Initial []ElementSpec `yaml:"initial,omitempty"`

	Steps []Step `yaml:"steps"`

	// Until extends the run past the last step's debounce window.
	Until string `yaml:"until,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// ElementSpec is an element literal in a scenario.
type ElementSpec struct {
	ID      string  `yaml:"id"`
	Kind    string  `yaml:"kind"`
	Content string  `yaml:"content,omitempty"`
	X       float64 `yaml:"x,omitempty"`
	Y       float64 `yaml:"y,omitempty"`
}

// Step is one scheduled action.
type Step struct {
	At string `yaml:"at"`
	Op string `yaml:"op"`

	// add / update / remove
	ID      string   `yaml:"id,omitempty"`
	Kind    string   `yaml:"kind,omitempty"`
	Content *string  `yaml:"content,omitempty"`
	X       *float64 `yaml:"x,omitempty"`
	Y       *float64 `yaml:"y,omitempty"`
	Scale   *float64 `yaml:"scale,omitempty"`

	// remote / partner_*
	Author   string        `yaml:"author,omitempty"`
	Elements []ElementSpec `yaml:"elements,omitempty"`

	// save_fails / load_fails
	Count int `yaml:"count,omitempty"`

	// ExpectError names the error class the op must return.
	ExpectError string `yaml:"expect_error,omitempty"`

	at time.Duration
}

// Step ops.
const (
	OpAdd                 = "add"
	OpUpdate              = "update"
	OpRemove              = "remove"
	OpClear               = "clear"
	OpSaveNow             = "save_now"
	OpReload              = "reload"
	OpRemote              = "remote"
	OpPartnerConnected    = "partner_connected"
	OpPartnerDisconnected = "partner_disconnected"
	OpSaveFails           = "save_fails"
	OpLoadFails           = "load_fails"
	OpOffline             = "offline"
	OpOnline              = "online"
)

// Expected error classes.
const (
	ErrClassNotFound   = "not_found"
	ErrClassInvalid    = "invalid"
	ErrClassSaveFailed = "save_failed"
	ErrClassLoadFailed = "load_failed"
)

// Assertion checks the outcome of a run.
type Assertion struct {
	Type  string   `yaml:"type"`
	Count int      `yaml:"count,omitempty"`
	IDs   []string `yaml:"ids,omitempty"`
	Via   string   `yaml:"via,omitempty"`
	Kind  string   `yaml:"kind,omitempty"`
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion types.
const (
	AssertSaveCount      = "save_count"
	AssertSaveAttempts   = "save_attempts"
	AssertLoadCount      = "load_count"
	AssertBroadcastCount = "broadcast_count"
	AssertFinalIDs       = "final_ids"
	AssertSavedIDs       = "saved_ids"
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
)

const (
	defaultUserID   = "me"
	defaultAuthor   = "partner"
	defaultDebounce = 2 * time.Second
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

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns every .yaml file under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if !info.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (s *Scenario) userID() string {
	if s.UserID == "" {
		return defaultUserID
	}
	return s.UserID
}

func (s *Scenario) debounce() time.Duration {
	if s.Debounce == "" {
		return defaultDebounce
	}
	d, _ := time.ParseDuration(s.Debounce) // checked by validateScenario
	return d
}

func (s *Scenario) online() bool {
	return s.Online == nil || *s.Online
}

// runUntil is when the clock stops: one debounce window past the last
// step, or Until if that is later.
func (s *Scenario) runUntil() time.Duration {
	var last time.Duration
	for _, step := range s.Steps {
		if step.at > last {
			last = step.at
		}
	}
	end := last + s.debounce()
	if s.Until != "" {
		if until, _ := time.ParseDuration(s.Until); until > end {
			end = until
		}
	}
	return end
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Debounce != "" {
		d, err := time.ParseDuration(s.Debounce)
		if err != nil {
			return fmt.Errorf("debounce: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("debounce must be positive")
		}
	}
	if s.Until != "" {
		if _, err := time.ParseDuration(s.Until); err != nil {
			return fmt.Errorf("until: %w", err)
		}
	}

	for i, e := range s.Initial {
		if err := validateElement(e); err != nil {
			return fmt.Errorf("initial[%d]: %w", i, err)
		}
	}

	var prev time.Duration
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.at < prev {
			return fmt.Errorf("steps[%d]: at %s is before the previous step", i, step.At)
		}
		prev = step.at
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateElement(e ElementSpec) error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !canvas.Kind(e.Kind).Valid() {
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

func validateStep(step *Step) error {
	if step.At == "" {
		step.at = 0
	} else {
		d, err := time.ParseDuration(step.At)
		if err != nil {
			return fmt.Errorf("at: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("at must not be negative")
		}
		step.at = d
	}

	switch step.Op {
	case OpAdd:
		if step.Kind == "" {
			return fmt.Errorf("kind is required for add")
		}
	case OpUpdate, OpRemove:
		if step.ID == "" {
			return fmt.Errorf("id is required for %s", step.Op)
		}
	case OpRemote:
		for i, e := range step.Elements {
			if err := validateElement(e); err != nil {
				return fmt.Errorf("elements[%d]: %w", i, err)
			}
		}
	case OpSaveFails, OpLoadFails:
		if step.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case OpClear, OpSaveNow, OpReload, OpPartnerConnected, OpPartnerDisconnected, OpOffline, OpOnline:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	switch step.ExpectError {
	case "", ErrClassNotFound, ErrClassInvalid, ErrClassSaveFailed, ErrClassLoadFailed:
	default:
		return fmt.Errorf("unknown expect_error %q", step.ExpectError)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertSaveCount, AssertSaveAttempts, AssertLoadCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertBroadcastCount:
		if a.Via != "" && a.Via != "realtime" && a.Via != "http" {
			return fmt.Errorf("assertions[%d]: via must be realtime or http", index)
		}
	case AssertFinalIDs, AssertSavedIDs:
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (e ElementSpec) element() canvas.Element {
	return canvas.Element{ID: e.ID, Kind: canvas.Kind(e.Kind), Content: e.Content, X: e.X, Y: e.Y}
}

func elementsOf(specs []ElementSpec) []canvas.Element {
	out := make([]canvas.Element, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.element())
	}
	return out
}
