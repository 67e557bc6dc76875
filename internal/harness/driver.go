package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/uiverify/internal/browser"
	"github.com/xkilldash9x/uiverify/internal/config"
)

// ErrUploadFailed marks an upload step whose file could not be set.
var ErrUploadFailed = errors.New("upload failed")

// DriverOptions are the execution parameters shared by every locale.
type DriverOptions struct {
	BaseURL     string
	FixturePath string

	StepTimeout   time.Duration
	WaitTimeout   time.Duration
	ProbeTimeout  time.Duration
	PollInterval  time.Duration
	LocaleTimeout time.Duration
	SettleDelay   time.Duration

	ActionsPerSecond float64
	ActionBurst      int
}

// DriverOptionsFromConfig derives the options from the loaded configuration.
// A relative fixture path is placed inside the output directory.
func DriverOptionsFromConfig(cfg *config.Config) DriverOptions {
	fixture := cfg.Target.FixturePath
	if fixture != "" && !filepath.IsAbs(fixture) {
		fixture = filepath.Join(cfg.Target.OutputDir, fixture)
	}
	return DriverOptions{
		BaseURL:          cfg.Target.BaseURL,
		FixturePath:      fixture,
		StepTimeout:      cfg.Engine.StepTimeout,
		WaitTimeout:      cfg.Engine.WaitTimeout,
		ProbeTimeout:     cfg.Engine.ProbeTimeout,
		PollInterval:     cfg.Engine.PollInterval,
		LocaleTimeout:    cfg.Engine.LocaleTimeout,
		SettleDelay:      cfg.Engine.SettleDelay,
		ActionsPerSecond: cfg.Engine.ActionsPerSecond,
		ActionBurst:      cfg.Engine.ActionBurst,
	}
}

// Driver executes a scenario against one page, step by step.
type Driver struct {
	opts      DriverOptions
	logger    *zap.Logger
	resolver  *Resolver
	verifier  *Verifier
	artifacts *ArtifactStore
	faults    *FaultReporter
}

// NewDriver creates a driver. Zero step and wait timeouts fall back to 15s
// and 5s.
func NewDriver(opts DriverOptions, artifacts *ArtifactStore, faults *FaultReporter, logger *zap.Logger) *Driver {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 15 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Second
	}
	return &Driver{
		opts:      opts,
		logger:    logger.Named("driver"),
		resolver:  NewResolver(logger, opts.ProbeTimeout, opts.PollInterval),
		verifier:  NewVerifier(logger, opts.PollInterval),
		artifacts: artifacts,
		faults:    faults,
	}
}

// Run executes every step of sc in order for loc. It never returns early:
// once a critical step fails, the remaining steps are recorded as Skipped.
func (d *Driver) Run(ctx context.Context, page browser.Page, sc Scenario, loc Locale) RunResult {
	start := time.Now()
	if d.opts.LocaleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.LocaleTimeout)
		defer cancel()
	}

	ex := &execution{
		d:       d,
		page:    page,
		loc:     loc,
		limiter: d.newLimiter(),
		logger:  d.logger.With(zap.String("locale", loc.Code), zap.String("scenario", sc.Name)),
	}
	ex.logger.Info("Starting scenario.", zap.Int("steps", len(sc.Steps)))
	if err := d.artifacts.ClearDiagnostics(loc.Code); err != nil {
		ex.logger.Warn("Could not remove diagnostics of an earlier run.", zap.Error(err))
	}

	outcomes := make([]StepOutcome, 0, len(sc.Steps))
	abortedAt := -1
	for i, step := range sc.Steps {
		if abortedAt >= 0 {
			outcomes = append(outcomes, skipped(i, step, fmt.Sprintf("skipped after critical failure at step %d", abortedAt)))
			continue
		}
		if err := ctx.Err(); err != nil {
			ex.report(ctx, Fault{
				StepIndex: i,
				Action:    step.Action,
				Kind:      FailureTransitionTimeout,
				Critical:  true,
				Detail:    fmt.Sprintf("locale run interrupted before step: %v", err),
			})
			abortedAt = i
			outcomes = append(outcomes, skipped(i, step, err.Error()))
			continue
		}

		out, critical := ex.guardedStep(ctx, i, step)
		outcomes = append(outcomes, out)
		if critical {
			abortedAt = i
		}
	}

	result := RunResult{
		Locale:   loc.Code,
		Status:   summarize(outcomes, abortedAt >= 0),
		Outcomes: outcomes,
		Faults:   ex.faults,
		Duration: time.Since(start),
	}
	ex.logger.Info("Scenario finished.", zap.String("status", string(result.Status)), zap.Duration("duration", result.Duration))
	return result
}

func (d *Driver) newLimiter() *rate.Limiter {
	burst := d.opts.ActionBurst
	if burst < 1 {
		burst = 1
	}
	if d.opts.ActionsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(d.opts.ActionsPerSecond), burst)
}

func (d *Driver) stepTimeout(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return d.opts.StepTimeout
}

func (d *Driver) waitTimeout(step Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	return d.opts.WaitTimeout
}

func skipped(i int, step Step, detail string) StepOutcome {
	return StepOutcome{Index: i, Action: step.Action, Stage: step.Stage, Kind: Skipped, Candidate: -1, Detail: detail}
}

// execution is the state of one locale's pass through a scenario.
type execution struct {
	d       *Driver
	page    browser.Page
	loc     Locale
	limiter *rate.Limiter
	logger  *zap.Logger
	faults  []Fault
}

// guardedStep runs step and turns a panic into a critical Error outcome, so
// the outcomes of earlier steps survive a crash in a later one.
func (ex *execution) guardedStep(ctx context.Context, i int, step Step) (out StepOutcome, critical bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ex.logger.Error("Recovered from panic during step.",
				zap.Int("step_index", i),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())),
			)
			out = StepOutcome{Index: i, Action: step.Action, Stage: step.Stage, Candidate: -1}
			// The page is suspect after a panic; report without a diagnostic shot.
			out.Kind = Error
			out.Detail = fmt.Sprintf("panic: %v", rec)
			ex.faults = append(ex.faults, ex.d.faults.Report(ctx, nil, Fault{
				Locale:    ex.loc.Code,
				StepIndex: i,
				Action:    step.Action,
				Kind:      FailurePage,
				Critical:  true,
				Detail:    out.Detail,
			}))
			critical = true
		}
	}()
	return ex.step(ctx, i, step)
}

// step runs one step and reports whether it failed critically.
func (ex *execution) step(ctx context.Context, i int, step Step) (StepOutcome, bool) {
	start := time.Now()
	out := StepOutcome{Index: i, Action: step.Action, Stage: step.Stage, Candidate: -1}

	var critical bool
	switch step.Action {
	case ActionNavigate:
		critical = ex.navigate(ctx, i, step, &out)
	case ActionUpload:
		critical = ex.upload(ctx, i, step, &out)
	case ActionClick:
		critical = ex.click(ctx, i, step, &out)
	case ActionWaitForState:
		critical = ex.await(ctx, i, step, &out)
	case ActionScreenshot:
		critical = ex.screenshot(ctx, i, step, &out)
	default:
		critical = ex.fail(ctx, i, step, &out, Error, FailurePage, fmt.Sprintf("unknown action %q", step.Action), step.Critical)
	}

	// Interactions may declare the state they lead to.
	if !critical && out.Kind == Reached && step.Action != ActionWaitForState && !step.Expect.IsZero() {
		critical = ex.await(ctx, i, step, &out)
	}
	if out.Kind == Reached && step.Stage != "" && step.Action != ActionScreenshot {
		if closed := ex.capture(ctx, i, step, &out); closed {
			critical = true
		}
	}

	out.Duration = time.Since(start)
	fields := []zap.Field{
		zap.Int("step_index", i),
		zap.String("action", string(step.Action)),
		zap.String("outcome", string(out.Kind)),
		zap.Duration("duration", out.Duration),
	}
	if step.Stage != "" {
		fields = append(fields, zap.String("stage", step.Stage))
	}
	if out.Candidate >= 0 {
		fields = append(fields, zap.Int("candidate", out.Candidate))
	}
	if out.Detail != "" {
		fields = append(fields, zap.String("detail", out.Detail))
	}
	ex.logger.Info("Step finished.", fields...)
	return out, critical
}

func (ex *execution) navigate(ctx context.Context, i int, step Step, out *StepOutcome) bool {
	target := ExpandURL(step.URL, ex.d.opts.BaseURL, ex.loc.Code)
	if err := ex.goTo(ctx, ex.d.stepTimeout(step), target); err != nil {
		return ex.failAction(ctx, i, step, out, err)
	}
	out.Kind = Reached
	out.Detail = target
	return false
}

// goTo paces, loads target within the step timeout and lets the page settle.
func (ex *execution) goTo(ctx context.Context, timeout time.Duration, target string) error {
	if err := ex.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing before navigation: %v: %w", err, context.DeadlineExceeded)
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ex.page.Navigate(stepCtx, target); err != nil {
		return err
	}
	ex.settle(ctx)
	return nil
}

func (ex *execution) upload(ctx context.Context, i int, step Step, out *StepOutcome) bool {
	fixture, err := EnsureFixture(ex.d.opts.FixturePath)
	if err != nil {
		return ex.fail(ctx, i, step, out, Error, FailureUpload, fmt.Sprintf("%v: %v", ErrUploadFailed, err), true)
	}

	spec := step.Target
	spec.AllowHidden = true
	res := ex.d.resolver.Resolve(ctx, ex.page, spec)
	out.Attempted = res.Attempted
	if !res.Resolved() {
		return ex.fail(ctx, i, step, out, res.Kind, FailureUpload, fmt.Sprintf("%v: %s", ErrUploadFailed, describeResolution(res)), true)
	}
	out.Candidate = res.Index

	if err := ex.limiter.Wait(ctx); err != nil {
		return ex.fail(ctx, i, step, out, TimedOut, FailureUpload, fmt.Sprintf("%v: %v", ErrUploadFailed, err), true)
	}
	stepCtx, cancel := context.WithTimeout(ctx, ex.d.stepTimeout(step))
	err = ex.page.SetFiles(stepCtx, res.Locator, []string{fixture})
	cancel()
	if err != nil {
		return ex.fail(ctx, i, step, out, Error, FailureUpload, fmt.Sprintf("%v: %v", ErrUploadFailed, err), true)
	}
	ex.settle(ctx)
	out.Kind = Reached
	out.Detail = fixture
	return false
}

func (ex *execution) click(ctx context.Context, i int, step Step, out *StepOutcome) bool {
	res := ex.d.resolver.Resolve(ctx, ex.page, step.Target)
	out.Attempted = res.Attempted
	if !res.Resolved() {
		if res.Kind == Error {
			return ex.fail(ctx, i, step, out, Error, FailurePage, describeResolution(res), true)
		}
		return ex.fail(ctx, i, step, out, ResolutionFailed, FailureResolution, describeResolution(res), step.Critical)
	}
	out.Candidate = res.Index

	if err := ex.limiter.Wait(ctx); err != nil {
		return ex.failAction(ctx, i, step, out, context.DeadlineExceeded)
	}
	stepCtx, cancel := context.WithTimeout(ctx, ex.d.stepTimeout(step))
	err := ex.page.Click(stepCtx, res.Locator)
	cancel()
	if err != nil {
		return ex.failAction(ctx, i, step, out, err)
	}
	ex.settle(ctx)
	out.Kind = Reached
	out.Detail = res.Locator.String()
	return false
}

// await waits for the step's expected state. A timeout with a fallback runs
// the fallback; the step still reports TimedOut.
func (ex *execution) await(ctx context.Context, i int, step Step, out *StepOutcome) bool {
	cond := Condition{
		URLPattern: ExpandPattern(step.Expect.URLPattern, ex.loc.Code),
		Text:       ex.loc.Marker(step.Expect.MarkerKey, step.Expect.Marker),
	}
	v := ex.d.verifier.Await(ctx, ex.page, cond, ex.d.waitTimeout(step))

	switch v.Kind {
	case Reached:
		out.Kind = Reached
		return false
	case Error:
		detail := v.Detail
		if v.Err != nil {
			detail += ": " + v.Err.Error()
		}
		return ex.fail(ctx, i, step, out, Error, FailurePage, detail, true)
	}

	if step.Fallback == nil || ctx.Err() != nil {
		return ex.fail(ctx, i, step, out, TimedOut, FailureTransitionTimeout, v.Detail, step.Critical)
	}

	target := ExpandURL(step.Fallback.URL, ex.d.opts.BaseURL, ex.loc.Code)
	ex.fail(ctx, i, step, out, TimedOut, FailureTransitionTimeout, v.Detail+"; falling back to "+target, false)
	if err := ex.goTo(ctx, ex.d.opts.StepTimeout, target); err != nil {
		out.Detail += fmt.Sprintf("; fallback failed: %v", err)
		critical := step.Critical || errors.Is(err, browser.ErrPageClosed)
		if critical {
			ex.report(ctx, Fault{StepIndex: i, Action: step.Action, Kind: FailurePage, Critical: true, Detail: out.Detail})
		}
		return critical
	}
	out.Detail = v.Detail + "; fell back to " + target
	return false
}

func (ex *execution) screenshot(ctx context.Context, i int, step Step, out *StepOutcome) bool {
	out.Kind = Reached
	return ex.capture(ctx, i, step, out)
}

// capture stores the stage screenshot. A failed write becomes a warning on
// the outcome; only a closed page is critical.
func (ex *execution) capture(ctx context.Context, i int, step Step, out *StepOutcome) bool {
	stepCtx, cancel := context.WithTimeout(ctx, ex.d.stepTimeout(step))
	defer cancel()
	path, err := ex.d.artifacts.Capture(stepCtx, ex.page, ex.loc.Code, step.Stage)
	if err == nil {
		out.Artifact = path
		return false
	}
	if errors.Is(ex.page.Err(), browser.ErrPageClosed) {
		return ex.fail(ctx, i, step, out, Error, FailurePage, err.Error(), true)
	}
	out.Warnings = append(out.Warnings, err.Error())
	ex.faults = append(ex.faults, ex.d.faults.Report(ctx, nil, Fault{
		Locale:    ex.loc.Code,
		StepIndex: i,
		Action:    step.Action,
		Kind:      FailureArtifactWrite,
		Detail:    err.Error(),
	}))
	return false
}

// failAction classifies an error returned by a page action.
func (ex *execution) failAction(ctx context.Context, i int, step Step, out *StepOutcome, err error) bool {
	critical := step.Critical || errors.Is(err, browser.ErrPageClosed)
	if errors.Is(err, context.DeadlineExceeded) {
		return ex.fail(ctx, i, step, out, TimedOut, FailureTransitionTimeout, err.Error(), critical)
	}
	return ex.fail(ctx, i, step, out, Error, FailurePage, err.Error(), critical)
}

// fail records the outcome kind and a fault with a diagnostic screenshot.
func (ex *execution) fail(ctx context.Context, i int, step Step, out *StepOutcome, kind OutcomeKind, fk FailureKind, detail string, critical bool) bool {
	out.Kind = kind
	out.Detail = detail
	f := ex.report(ctx, Fault{StepIndex: i, Action: step.Action, Kind: fk, Critical: critical, Detail: detail})
	if out.Artifact == "" {
		out.Artifact = f.Artifact
	}
	return critical
}

func (ex *execution) report(ctx context.Context, f Fault) Fault {
	f.Locale = ex.loc.Code
	f = ex.d.faults.Report(ctx, ex.page, f)
	ex.faults = append(ex.faults, f)
	return f
}

func (ex *execution) settle(ctx context.Context) {
	if ex.d.opts.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(ex.d.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func describeResolution(res Resolution) string {
	parts := make([]string, 0, len(res.Attempted))
	for _, a := range res.Attempted {
		parts = append(parts, fmt.Sprintf("%s (%s)", a.Locator, a.Error))
	}
	detail := "selector not resolved"
	if res.Err != nil {
		detail = res.Err.Error()
	}
	if len(parts) > 0 {
		detail += ": " + strings.Join(parts, ", ")
	}
	return detail
}
