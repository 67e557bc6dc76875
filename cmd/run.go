package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiverify/internal/browser"
	"github.com/xkilldash9x/uiverify/internal/config"
	"github.com/xkilldash9x/uiverify/internal/harness"
	"github.com/xkilldash9x/uiverify/internal/observability"
	"github.com/xkilldash9x/uiverify/internal/reporting"
)

const shutdownTimeout = 30 * time.Second

// sessionManager is the slice of browser.Manager the run command depends on.
type sessionManager interface {
	harness.SessionProvider
	Shutdown(ctx context.Context) error
}

// newSessionManager launches the browser. Tests replace it with a fake.
var newSessionManager = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (sessionManager, error) {
	m, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(a *app) *cobra.Command {
	var format, summaryFile string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the verification scenario for every configured locale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, format, summaryFile)
		},
	}

	flags := runCmd.Flags()
	flags.String("base-url", "", "Base URL of the generator app (overrides target.base_url)")
	flags.StringSlice("locale", nil, "Locale to verify; repeat or comma-separate (overrides target.locales)")
	flags.String("output-dir", "", "Directory receiving screenshots (overrides target.output_dir)")
	flags.Int("concurrency", 0, "Number of locales verified at once (overrides engine.concurrency)")
	flags.Bool("headless", true, "Run the browser without a window (overrides browser.headless)")
	flags.StringVarP(&format, "format", "f", "text", "Summary format (text, json)")
	flags.StringVarP(&summaryFile, "summary-file", "o", "", "Write the summary to a file instead of stdout")

	// Flags only override the config when set on the command line.
	for key, name := range map[string]string{
		"target.base_url":    "base-url",
		"target.locales":     "locale",
		"target.output_dir":  "output-dir",
		"engine.concurrency": "concurrency",
		"browser.headless":   "headless",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
	return runCmd
}

func (a *app) run(cmd *cobra.Command, format, summaryFile string) error {
	ctx := cmd.Context()
	cfg := a.cfg
	logger := observability.GetLogger()

	scenario, err := harness.ScenarioFromConfig(cfg.Scenario)
	if err != nil {
		return fmt.Errorf("failed to build scenario: %w", err)
	}
	locales := harness.LocalesFromConfig(cfg.Target)
	if err := scenario.Validate(locales); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	// Open the reporter before launching the browser so a bad format fails fast.
	reporter, err := reporting.New(format, summaryFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer reporter.Close()

	sessions, err := newSessionManager(ctx, cfg.Browser, logger)
	if err != nil {
		logger.Error("Failed to start browser session.", zap.Error(err))
		return err
	}
	defer func() {
		// Use a fresh context so shutdown completes even after an interrupt.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown did not complete cleanly.", zap.Error(err))
		}
	}()

	artifacts := harness.NewArtifactStore(cfg.Target.OutputDir, logger)
	faults := harness.NewFaultReporter(artifacts, logger)
	driver := harness.NewDriver(harness.DriverOptionsFromConfig(cfg), artifacts, faults, logger)
	runner := harness.NewRunner(sessions, driver, scenario, cfg.Engine.Concurrency, logger)

	started := time.Now()
	results, runErr := runner.Run(ctx, locales)

	summary := &reporting.Summary{
		RunID:     runner.RunID(),
		Scenario:  scenario.Name,
		BaseURL:   cfg.Target.BaseURL,
		OutputDir: artifacts.Root(),
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
		Results:   results,
	}
	if err := reporter.Write(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return runErr
}
