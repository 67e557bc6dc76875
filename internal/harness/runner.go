package harness

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

// SessionProvider hands out one isolated page per locale.
// browser.Manager is the production implementation.
type SessionProvider interface {
	Acquire(ctx context.Context, locale string) (browser.Page, error)
	Release(locale string)
}

var _ SessionProvider = (*browser.Manager)(nil)

// Runner drives a scenario through every locale, each in its own browsing
// context, within a concurrency budget.
type Runner struct {
	runID       string
	sessions    SessionProvider
	driver      *Driver
	scenario    Scenario
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner verifying up to concurrency locales at once.
func NewRunner(sessions SessionProvider, driver *Driver, scenario Scenario, concurrency int, logger *zap.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	runID := uuid.NewString()
	return &Runner{
		runID:       runID,
		sessions:    sessions,
		driver:      driver,
		scenario:    scenario,
		concurrency: concurrency,
		logger:      logger.Named("runner").With(zap.String("run_id", runID)),
	}
}

// RunID identifies this run in logs and summaries.
func (r *Runner) RunID() string { return r.runID }

// Run verifies every locale and returns one result per locale in input order.
// A failing locale never stops the others. The error is non-nil only when
// ctx was canceled; the results are complete either way.
func (r *Runner) Run(ctx context.Context, locales []Locale) ([]RunResult, error) {
	r.logger.Info("Starting verification run.",
		zap.String("scenario", r.scenario.Name),
		zap.Int("locales", len(locales)),
		zap.Int("concurrency", r.concurrency),
	)
	start := time.Now()

	results := make([]RunResult, len(locales))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, loc := range locales {
		g.Go(func() error {
			results[i] = r.runLocale(ctx, loc)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("Verification run finished.", zap.Duration("duration", time.Since(start)))
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("verification run interrupted: %w", err)
	}
	return results, nil
}

func (r *Runner) runLocale(ctx context.Context, loc Locale) (result RunResult) {
	logger := r.logger.With(zap.String("locale", loc.Code))
	start := time.Now()

	page, err := r.sessions.Acquire(ctx, loc.Code)
	if err != nil {
		logger.Error("Failed to acquire browsing context.", zap.Error(err))
		f := r.driver.faults.Report(ctx, nil, Fault{
			Locale:    loc.Code,
			StepIndex: -1,
			Kind:      FailurePage,
			Critical:  true,
			Detail:    fmt.Sprintf("failed to acquire browsing context: %v", err),
		})
		return r.failedResult(loc, f, start, "browsing context unavailable")
	}
	defer r.sessions.Release(loc.Code)

	// A panic in one locale must not take down the others.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Recovered from panic during locale run.",
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())),
			)
			f := r.driver.faults.Report(ctx, nil, Fault{
				Locale:    loc.Code,
				StepIndex: -1,
				Kind:      FailurePage,
				Critical:  true,
				Detail:    fmt.Sprintf("panic: %v", rec),
			})
			result = r.failedResult(loc, f, start, "locale run panicked")
		}
	}()

	return r.driver.Run(ctx, page, r.scenario, loc)
}

func (r *Runner) failedResult(loc Locale, f Fault, start time.Time, detail string) RunResult {
	outcomes := make([]StepOutcome, len(r.scenario.Steps))
	for i, step := range r.scenario.Steps {
		outcomes[i] = skipped(i, step, detail)
	}
	return RunResult{
		Locale:   loc.Code,
		Status:   Failed,
		Outcomes: outcomes,
		Faults:   []Fault{f},
		Duration: time.Since(start),
	}
}
