// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xkilldash9x/uiverify/internal/harness"
)

// Summary is everything a reporter renders about one verification run.
type Summary struct {
	RunID     string              `json:"run_id"`
	Scenario  string              `json:"scenario"`
	BaseURL   string              `json:"base_url"`
	OutputDir string              `json:"output_dir"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
	Results   []harness.RunResult `json:"results"`
}

// Reporter defines the interface for writing a run summary to an output.
type Reporter interface {
	// Write renders the summary.
	Write(summary *Summary) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format. An empty outputPath or "stdout" writes
// to stdout, which is never closed.
func New(format, outputPath string, stdout io.Writer) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "text", "":
		return NewTextReporter(writer), nil
	case "json":
		return NewJSONReporter(writer), nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// Counts tallies a locale's outcomes by kind.
func Counts(r harness.RunResult) map[harness.OutcomeKind]int {
	counts := make(map[harness.OutcomeKind]int, 5)
	for _, o := range r.Outcomes {
		counts[o.Kind]++
	}
	return counts
}

// Artifacts lists the stage screenshots a locale produced, in step order.
func Artifacts(r harness.RunResult) []string {
	var paths []string
	for _, o := range r.Outcomes {
		if o.Artifact != "" && o.Kind == harness.Reached {
			paths = append(paths, o.Artifact)
		}
	}
	return paths
}
