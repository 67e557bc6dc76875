// internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/xkilldash9x/uiverify/internal/harness"
)

// TextReporter renders a human readable table followed by the steps that
// did not reach their expected state.
type TextReporter struct {
	writer io.WriteCloser
}

// NewTextReporter creates a reporter writing a table to writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(s *Summary) error {
	fmt.Fprintf(r.writer, "Run %s: scenario %q against %s\n\n", s.RunID, s.Scenario, s.BaseURL)

	tw := tabwriter.NewWriter(r.writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCALE\tSTATUS\tREACHED\tTIMED OUT\tUNRESOLVED\tERRORS\tSKIPPED\tARTIFACTS\tDURATION")
	for _, res := range s.Results {
		c := Counts(res)
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			res.Locale,
			res.Status,
			c[harness.Reached], len(res.Outcomes),
			c[harness.TimedOut],
			c[harness.ResolutionFailed],
			c[harness.Error],
			c[harness.Skipped],
			len(Artifacts(res)),
			res.Duration.Round(time.Millisecond),
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary table: %w", err)
	}

	for _, res := range s.Results {
		for _, o := range res.Outcomes {
			if o.Kind == harness.Reached && len(o.Warnings) == 0 {
				continue
			}
			if o.Kind == harness.Skipped {
				continue
			}
			line := fmt.Sprintf("  [%s] step %d %s: %s", res.Locale, o.Index, o.Action, o.Kind)
			if o.Detail != "" {
				line += " - " + o.Detail
			}
			for _, w := range o.Warnings {
				line += " (warning: " + w + ")"
			}
			if o.Artifact != "" && o.Kind != harness.Reached {
				line += " [" + o.Artifact + "]"
			}
			fmt.Fprintln(r.writer, line)
		}
	}

	_, err := fmt.Fprintf(r.writer, "\nArtifacts written to %s in %s\n", s.OutputDir, s.Duration.Round(time.Millisecond))
	return err
}

func (r *TextReporter) Close() error {
	return r.writer.Close()
}
