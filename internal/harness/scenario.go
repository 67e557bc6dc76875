package harness

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/uiverify/internal/browser"
	"github.com/xkilldash9x/uiverify/internal/config"
)

// DefaultScenarioName names the built-in icon generator walkthrough.
const DefaultScenarioName = "pwa-editor-walkthrough"

// defaultMarkers holds the signature texts of the preview tabs. Locales may
// override any of them through the configured marker table.
var defaultMarkers = map[string]string{
	"web":      "Web",
	"mobile":   "9:41",
	"social":   "LinkedIn",
	"manifest": "Splash Screen",
	"exports":  "Export Selection",
	"og":       "opengraph.png",
}

// tabButton targets a header tab by accessible name, then by visible text.
func tabButton(name string) SelectorSpec {
	return SelectorSpec{Candidates: []browser.Locator{
		{Kind: browser.ByRole, Value: "button", Name: name},
		{Kind: browser.ByText, Value: name},
	}}
}

func screenshotStep(stage string) Step {
	return Step{Action: ActionScreenshot, Stage: stage}
}

func markerStep(key string) Step {
	return Step{Action: ActionWaitForState, Expect: ExpectedState{MarkerKey: key}}
}

// DefaultScenario walks the generator from the home page through every
// preview tab: upload a logo, land in the editor, then visit each tab.
func DefaultScenario() Scenario {
	preview := tabButton("Preview")
	// The Preview tab is the second button of the header toolbar.
	preview.Candidates = append(preview.Candidates, browser.Locator{Kind: browser.ByCSS, Value: "header div.flex button:nth-of-type(2)"})

	steps := []Step{
		{Action: ActionNavigate, URL: "{base}/{locale}", Critical: true},
		screenshotStep("home"),
		{
			Action: ActionUpload,
			Target: SelectorSpec{
				Candidates:  []browser.Locator{{Kind: browser.ByCSS, Value: `input[type="file"]`}},
				AllowHidden: true,
			},
			Critical: true,
		},
		{
			Action:   ActionWaitForState,
			Timeout:  5 * time.Second,
			Expect:   ExpectedState{URLPattern: `/{locale}/editor\?id=`},
			Fallback: &Fallback{URL: "{base}/{locale}/editor?id=1"},
		},
		screenshotStep("editor"),
		{Action: ActionClick, Target: preview},
		markerStep("web"),
		screenshotStep("preview_web"),
	}
	for _, tab := range []struct{ label, key, stage string }{
		{"Mobile", "mobile", "preview_mobile"},
		{"Social", "social", "preview_social"},
		{"Manifest", "manifest", "preview_manifest"},
		{"Exports", "exports", "preview_exports"},
	} {
		steps = append(steps,
			Step{Action: ActionClick, Target: tabButton(tab.label)},
			markerStep(tab.key),
			screenshotStep(tab.stage),
		)
	}
	steps = append(steps, markerStep("og"), screenshotStep("og_export"))

	return Scenario{Name: DefaultScenarioName, Steps: steps}
}

// ScenarioFromConfig converts a declarative scenario. An empty step list
// selects DefaultScenario.
func ScenarioFromConfig(cfg config.ScenarioConfig) (Scenario, error) {
	if len(cfg.Steps) == 0 {
		return DefaultScenario(), nil
	}
	name := cfg.Name
	if name == "" {
		name = "custom"
	}
	sc := Scenario{Name: name, Steps: make([]Step, 0, len(cfg.Steps))}
	for i, sCfg := range cfg.Steps {
		step := Step{
			Action:   Action(sCfg.Action),
			Stage:    sCfg.Stage,
			URL:      sCfg.URL,
			Timeout:  sCfg.Timeout,
			Critical: sCfg.Critical,
			Expect: ExpectedState{
				URLPattern: sCfg.URLPattern,
				Marker:     sCfg.Marker,
				MarkerKey:  sCfg.MarkerKey,
			},
			Target: SelectorSpec{AllowHidden: sCfg.AllowHidden},
		}
		if sCfg.FallbackURL != "" {
			step.Fallback = &Fallback{URL: sCfg.FallbackURL}
		}
		for _, t := range sCfg.Targets {
			step.Target.Candidates = append(step.Target.Candidates, browser.Locator{
				Kind:  browser.LocatorKind(t.Kind),
				Value: t.Value,
				Name:  t.Name,
				Exact: t.Exact,
			})
		}
		if sCfg.URLPattern != "" {
			if _, err := regexp.Compile(ExpandPattern(sCfg.URLPattern, "en")); err != nil {
				return Scenario{}, fmt.Errorf("step %d: invalid url_pattern: %w", i, err)
			}
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

// ToConfig returns the declarative form of sc, suitable for the scenario
// section of a config file.
func (sc Scenario) ToConfig() config.ScenarioConfig {
	out := config.ScenarioConfig{Name: sc.Name, Steps: make([]config.StepConfig, 0, len(sc.Steps))}
	for _, step := range sc.Steps {
		sCfg := config.StepConfig{
			Action:      string(step.Action),
			Stage:       step.Stage,
			URL:         step.URL,
			AllowHidden: step.Target.AllowHidden,
			Timeout:     step.Timeout,
			URLPattern:  step.Expect.URLPattern,
			Marker:      step.Expect.Marker,
			MarkerKey:   step.Expect.MarkerKey,
			Critical:    step.Critical,
		}
		if step.Fallback != nil {
			sCfg.FallbackURL = step.Fallback.URL
		}
		for _, loc := range step.Target.Candidates {
			sCfg.Targets = append(sCfg.Targets, config.LocatorConfig{
				Kind:  string(loc.Kind),
				Value: loc.Value,
				Name:  loc.Name,
				Exact: loc.Exact,
			})
		}
		out.Steps = append(out.Steps, sCfg)
	}
	return out
}

// Validate checks sc against the locales it will run for. A marker_key must
// resolve to a text for every locale unless the step carries a literal
// marker, and a stage must already be a valid artifact name so two stages
// never share a file.
func (sc Scenario) Validate(locales []Locale) error {
	for i, step := range sc.Steps {
		if step.Stage != "" {
			if sanitizeName(step.Stage) != step.Stage {
				return fmt.Errorf("step %d: stage %q may only contain letters, digits, '.', '_' and '-'", i, step.Stage)
			}
			if strings.HasPrefix(step.Stage, diagnosticPrefix) {
				return fmt.Errorf("step %d: stage %q uses the reserved %q prefix", i, step.Stage, diagnosticPrefix)
			}
		}
		key := step.Expect.MarkerKey
		if key == "" || step.Expect.Marker != "" {
			continue
		}
		for _, loc := range locales {
			if loc.Marker(key, "") == "" {
				return fmt.Errorf("step %d: marker_key %q has no text for locale %q", i, key, loc.Code)
			}
		}
	}
	return nil
}

// LocalesFromConfig builds the configured locales with their marker tables.
func LocalesFromConfig(target config.TargetConfig) []Locale {
	locales := make([]Locale, 0, len(target.Locales))
	for _, code := range target.Locales {
		code = strings.TrimSpace(code)
		locales = append(locales, Locale{Code: code, Markers: target.Markers[strings.ToLower(code)]})
	}
	return locales
}

// ExpandURL substitutes {base} and {locale} in a URL template.
func ExpandURL(tmpl, base, locale string) string {
	return strings.NewReplacer("{base}", strings.TrimRight(base, "/"), "{locale}", locale).Replace(tmpl)
}

// ExpandPattern substitutes {locale} in a URL pattern with the quoted code.
func ExpandPattern(pattern, locale string) string {
	return strings.ReplaceAll(pattern, "{locale}", regexp.QuoteMeta(locale))
}
