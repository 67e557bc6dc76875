package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/uiverify/internal/config"
	"github.com/xkilldash9x/uiverify/internal/harness"
)

// newScenarioCmd prints the effective scenario as a config snippet, which is
// the easiest starting point for a custom walkthrough.
func newScenarioCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario",
		Short: "Prints the effective scenario as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := harness.ScenarioFromConfig(a.cfg.Scenario)
			if err != nil {
				return fmt.Errorf("failed to build scenario: %w", err)
			}
			if err := sc.Validate(harness.LocalesFromConfig(a.cfg.Target)); err != nil {
				return fmt.Errorf("invalid scenario: %w", err)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			doc := struct {
				Scenario config.ScenarioConfig `yaml:"scenario"`
			}{Scenario: sc.ToConfig()}
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode scenario: %w", err)
			}
			return enc.Close()
		},
	}
}
