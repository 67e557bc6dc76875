// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/uiverify/internal/harness"
	"github.com/xkilldash9x/uiverify/internal/reporting"
)

func sampleSummary() *reporting.Summary {
	return &reporting.Summary{
		RunID:     "run-1",
		Scenario:  "pwa-editor-walkthrough",
		BaseURL:   "http://localhost:4321",
		OutputDir: "verification",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Results: []harness.RunResult{
			{
				Locale: "en",
				Status: harness.Degraded,
				Outcomes: []harness.StepOutcome{
					{Index: 0, Action: harness.ActionNavigate, Kind: harness.Reached, Candidate: -1},
					{Index: 1, Action: harness.ActionScreenshot, Stage: "home", Kind: harness.Reached, Candidate: -1, Artifact: "verification/en/home.png"},
					{Index: 2, Action: harness.ActionWaitForState, Kind: harness.TimedOut, Candidate: -1, Detail: "fell back to http://localhost:4321/en/editor?id=1", Artifact: "verification/en/error-02-wait_for_state.png"},
				},
			},
			{
				Locale: "es",
				Status: harness.Failed,
				Outcomes: []harness.StepOutcome{
					{Index: 0, Action: harness.ActionNavigate, Kind: harness.Reached, Candidate: -1},
					{Index: 1, Action: harness.ActionScreenshot, Stage: "home", Kind: harness.Reached, Candidate: -1, Warnings: []string{"disk full"}},
					{Index: 2, Action: harness.ActionUpload, Kind: harness.ResolutionFailed, Candidate: -1, Detail: "upload failed"},
					{Index: 3, Action: harness.ActionWaitForState, Kind: harness.Skipped, Candidate: -1},
				},
				Faults: []harness.Fault{{Locale: "es", StepIndex: 2, Action: harness.ActionUpload, Kind: harness.FailureUpload, Critical: true}},
			},
		},
	}
}

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{"text", "json", ""} {
		var buf bytes.Buffer
		r, err := reporting.New(format, "", &buf)
		require.NoError(t, err, format)
		require.NoError(t, r.Write(sampleSummary()))
		assert.NoError(t, r.Close(), "Close is a no-op for stdout")
		assert.NotEmpty(t, buf.String())
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")

	r, err := reporting.New("json", path, nil)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleSummary()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestNew_Failure_UnsupportedFormat(t *testing.T) {
	r, err := reporting.New("sarif", "stdout", &bytes.Buffer{})
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "unsupported output format: sarif")

	path := filepath.Join(t.TempDir(), "summary.xml")
	r, err = reporting.New("xml", path, nil)
	assert.Nil(t, r)
	assert.Error(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestNew_Failure_FileCreation(t *testing.T) {
	r, err := reporting.New("text", t.TempDir(), nil)
	assert.Nil(t, r)
	assert.ErrorContains(t, err, "failed to create output file")
}

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.New("text", "stdout", &buf)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleSummary()))
	out := buf.String()

	assert.Contains(t, out, `Run run-1: scenario "pwa-editor-walkthrough" against http://localhost:4321`)
	assert.Contains(t, out, "LOCALE")
	assert.Regexp(t, `en\s+Degraded\s+2/3\s+1\s+0\s+0\s+0\s+1\s+`, out)
	assert.Regexp(t, `es\s+Failed\s+2/4\s+0\s+1\s+0\s+1\s+0\s+`, out)
	assert.Contains(t, out, "[en] step 2 wait_for_state: TimedOut - fell back to http://localhost:4321/en/editor?id=1 [verification/en/error-02-wait_for_state.png]")
	assert.Contains(t, out, "[es] step 1 screenshot: Reached (warning: disk full)")
	assert.Contains(t, out, "[es] step 2 upload: ResolutionFailed - upload failed")
	assert.NotContains(t, out, "step 3 wait_for_state", "skipped steps are not listed")
	assert.Contains(t, out, "Artifacts written to verification in 1.5s")
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r, err := reporting.New("json", "", &buf)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleSummary()))

	var decoded struct {
		RunID   string `json:"run_id"`
		Results []struct {
			Locale   string `json:"locale"`
			Status   string `json:"status"`
			Outcomes []struct {
				Kind     string `json:"kind"`
				Artifact string `json:"artifact"`
			} `json:"outcomes"`
			Faults []struct {
				Kind     string `json:"kind"`
				Critical bool   `json:"critical"`
			} `json:"faults"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, "Degraded", decoded.Results[0].Status)
	assert.Equal(t, "verification/en/home.png", decoded.Results[0].Outcomes[1].Artifact)
	assert.Equal(t, "Skipped", decoded.Results[1].Outcomes[3].Kind)
	require.Len(t, decoded.Results[1].Faults, 1)
	assert.Equal(t, "UploadFailed", decoded.Results[1].Faults[0].Kind)
	assert.True(t, decoded.Results[1].Faults[0].Critical)
}

func TestCountsAndArtifacts(t *testing.T) {
	s := sampleSummary()

	counts := reporting.Counts(s.Results[1])
	assert.Equal(t, 2, counts[harness.Reached])
	assert.Equal(t, 1, counts[harness.ResolutionFailed])
	assert.Equal(t, 1, counts[harness.Skipped])

	assert.Equal(t, []string{"verification/en/home.png"}, reporting.Artifacts(s.Results[0]))
	assert.Empty(t, reporting.Artifacts(s.Results[1]))
}
