package harness

import (
	"strings"
	"time"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

// Action is the kind of browser operation a Step performs.
type Action string

const (
	ActionNavigate     Action = "navigate"
	ActionUpload       Action = "upload"
	ActionClick        Action = "click"
	ActionWaitForState Action = "wait_for_state"
	ActionScreenshot   Action = "screenshot"
)

// SelectorSpec is an ordered list of candidate locators. Role and text
// candidates come first, structural CSS last.
type SelectorSpec struct {
	Candidates []browser.Locator `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	// AllowHidden accepts elements that exist but are not rendered, such as
	// visually hidden file inputs.
	AllowHidden bool `json:"allow_hidden,omitempty" yaml:"allow_hidden,omitempty"`
}

// ExpectedState describes what must be observable for a step to count as Reached.
type ExpectedState struct {
	// URLPattern is a regular expression matched against the page URL.
	// "{locale}" is replaced with the quoted locale code.
	URLPattern string `json:"url_pattern,omitempty" yaml:"url_pattern,omitempty"`
	// Marker is the signature text of the target state.
	Marker string `json:"marker,omitempty" yaml:"marker,omitempty"`
	// MarkerKey looks the marker text up in the Locale first.
	MarkerKey string `json:"marker_key,omitempty" yaml:"marker_key,omitempty"`
}

// IsZero reports whether no expectation is declared.
func (e ExpectedState) IsZero() bool {
	return e.URLPattern == "" && e.Marker == "" && e.MarkerKey == ""
}

// Fallback is the recovery action performed when a wait times out.
type Fallback struct {
	// URL is navigated to directly; "{base}" and "{locale}" are expanded.
	URL string `json:"url" yaml:"url"`
}

// Step is one browser action plus its success criterion.
type Step struct {
	Action Action `json:"action" yaml:"action"`
	// Stage names the artifact captured when the step reaches its state.
	Stage    string        `json:"stage,omitempty" yaml:"stage,omitempty"`
	Target   SelectorSpec  `json:"target,omitempty" yaml:"target,omitempty"`
	URL      string        `json:"url,omitempty" yaml:"url,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Expect   ExpectedState `json:"expect,omitempty" yaml:"expect,omitempty"`
	Fallback *Fallback     `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	// Critical steps end the locale's run when they fail.
	Critical bool `json:"critical,omitempty" yaml:"critical,omitempty"`
}

// Scenario is the ordered list of steps run for every locale.
type Scenario struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Locale fixes the URL prefix and the expected marker texts of a run.
type Locale struct {
	Code    string
	Markers map[string]string
}

// Marker returns the locale's text for key. Without a locale entry it falls
// back to def, then to the built-in marker for key.
func (l Locale) Marker(key, def string) string {
	key = strings.ToLower(key)
	if text := l.Markers[key]; text != "" {
		return text
	}
	if def != "" {
		return def
	}
	return defaultMarkers[key]
}

// OutcomeKind classifies how a step ended.
type OutcomeKind string

const (
	Reached          OutcomeKind = "Reached"
	TimedOut         OutcomeKind = "TimedOut"
	ResolutionFailed OutcomeKind = "ResolutionFailed"
	Error            OutcomeKind = "Error"
	// Skipped marks steps not executed after a locale-critical fault.
	Skipped OutcomeKind = "Skipped"
)

// Attempt records one tried selector candidate.
type Attempt struct {
	Locator browser.Locator `json:"locator"`
	Error   string          `json:"error"`
}

// StepOutcome is the result of one step.
type StepOutcome struct {
	Index  int         `json:"index"`
	Action Action      `json:"action"`
	Stage  string      `json:"stage,omitempty"`
	Kind   OutcomeKind `json:"kind"`
	// Candidate is the index of the selector candidate that resolved, or -1.
	Candidate int       `json:"candidate"`
	Attempted []Attempt `json:"attempted,omitempty"`
	// Artifact is the screenshot taken for this step, stage or diagnostic.
	Artifact string        `json:"artifact,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Status is the overall verdict of a locale run.
type Status string

const (
	Passed   Status = "Passed"
	Degraded Status = "Degraded"
	Failed   Status = "Failed"
)

// RunResult aggregates one locale's outcomes. It exists only in memory.
type RunResult struct {
	Locale   string        `json:"locale"`
	Status   Status        `json:"status"`
	Outcomes []StepOutcome `json:"outcomes"`
	Faults   []Fault       `json:"faults,omitempty"`
	Duration time.Duration `json:"duration"`
}

// summarize derives the status from the outcomes. failed is set when a
// locale-critical fault ended the run.
func summarize(outcomes []StepOutcome, failed bool) Status {
	if failed {
		return Failed
	}
	for _, o := range outcomes {
		if o.Kind != Reached || len(o.Warnings) > 0 {
			return Degraded
		}
	}
	return Passed
}
