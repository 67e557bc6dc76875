package harness

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// panicPage blows up on the first screenshot.
type panicPage struct {
	*fakePage
}

func (p panicPage) Screenshot(context.Context) ([]byte, error) {
	panic("renderer crashed")
}

func newTestRunner(t *testing.T, dir string, sessions SessionProvider, sc Scenario, concurrency int) *Runner {
	t.Helper()
	d := newTestDriver(t, dir)
	return NewRunner(sessions, d, sc, concurrency, zaptest.NewLogger(t))
}

func homeAndEditorScenario() Scenario {
	steps := editorScenario().Steps
	return Scenario{Name: "home-editor", Steps: []Step{
		steps[0],
		{Action: ActionScreenshot, Stage: "home"},
		steps[1],
		steps[2],
	}}
}

func TestRunner_UploadFailureIsolatedToLocale(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	sessions := new(mockSessions)
	sessions.On("Acquire", mock.Anything, "en").Return(editorApp("en"), nil)
	sessions.On("Acquire", mock.Anything, "es").Return(newFakePage(), nil) // no file input
	sessions.On("Release", "en").Return()
	sessions.On("Release", "es").Return()

	sc := homeAndEditorScenario()
	r := newTestRunner(t, dir, sessions, sc, 2)
	results, err := r.Run(context.Background(), []Locale{{Code: "en"}, {Code: "es"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	en, es := results[0], results[1]
	assert.Equal(t, "en", en.Locale)
	assert.Equal(t, Passed, en.Status)
	assert.FileExists(t, filepath.Join(dir, "en", "home.png"))
	assert.FileExists(t, filepath.Join(dir, "en", "editor.png"))

	assert.Equal(t, "es", es.Locale)
	assert.Equal(t, Failed, es.Status)
	assert.Equal(t, []OutcomeKind{Reached, Reached, ResolutionFailed, Skipped}, kinds(es.Outcomes))
	assert.NoFileExists(t, filepath.Join(dir, "es", "editor.png"))

	sessions.AssertExpectations(t)
}

func TestRunner_AcquireFailureDoesNotStopOtherLocales(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := new(mockSessions)
	sessions.On("Acquire", mock.Anything, "de").Return(nil, errors.New("target closed"))
	sessions.On("Acquire", mock.Anything, "en").Return(editorApp("en"), nil)
	sessions.On("Release", "en").Return()

	sc := editorScenario()
	r := newTestRunner(t, t.TempDir(), sessions, sc, 1)
	results, err := r.Run(context.Background(), []Locale{{Code: "de"}, {Code: "en"}})
	require.NoError(t, err)

	de := results[0]
	assert.Equal(t, Failed, de.Status)
	assert.Equal(t, []OutcomeKind{Skipped, Skipped, Skipped}, kinds(de.Outcomes))
	require.Len(t, de.Faults, 1)
	assert.Contains(t, de.Faults[0].Detail, "target closed")

	assert.Equal(t, Passed, results[1].Status)
	sessions.AssertNotCalled(t, "Release", "de")
	sessions.AssertExpectations(t)
}

func TestRunner_TimeoutInOneLocaleLetsOthersRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := new(mockSessions)
	for _, code := range []string{"en", "es", "de"} {
		sessions.On("Acquire", mock.Anything, code).Return(newFakePage(), nil)
		sessions.On("Release", code).Return()
	}
	sc := Scenario{Steps: []Step{
		{Action: ActionNavigate, URL: "{base}/{locale}"},
		{Action: ActionWaitForState, Timeout: time.Millisecond, Expect: ExpectedState{Marker: "never"}},
		{Action: ActionScreenshot, Stage: "after"},
	}}

	r := newTestRunner(t, t.TempDir(), sessions, sc, 1)
	results, err := r.Run(context.Background(), []Locale{{Code: "en"}, {Code: "es"}, {Code: "de"}})
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, code := range []string{"en", "es", "de"} {
		assert.Equal(t, code, results[i].Locale, "results keep locale order")
		assert.Equal(t, Degraded, results[i].Status)
		assert.Equal(t, []OutcomeKind{Reached, TimedOut, Reached}, kinds(results[i].Outcomes))
	}
}

func TestRunner_RecoversFromPanickingLocale(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := new(mockSessions)
	sessions.On("Acquire", mock.Anything, "ja").Return(panicPage{newFakePage()}, nil)
	sessions.On("Acquire", mock.Anything, "ko").Return(newFakePage(), nil)
	sessions.On("Release", "ja").Return()
	sessions.On("Release", "ko").Return()

	sc := Scenario{Steps: []Step{
		{Action: ActionNavigate, URL: "{base}/{locale}"},
		{Action: ActionNavigate, URL: "{base}/{locale}/editor?id=1"},
		{Action: ActionScreenshot, Stage: "home"},
		{Action: ActionNavigate, URL: "{base}/{locale}/gallery"},
	}}
	r := newTestRunner(t, t.TempDir(), sessions, sc, 2)
	results, err := r.Run(context.Background(), []Locale{{Code: "ja"}, {Code: "ko"}})
	require.NoError(t, err)

	ja := results[0]
	assert.Equal(t, Failed, ja.Status)
	assert.Equal(t, []OutcomeKind{Reached, Reached, Error, Skipped}, kinds(ja.Outcomes),
		"steps before the crash keep their outcomes")
	assert.Contains(t, ja.Outcomes[2].Detail, "renderer crashed")
	require.Len(t, ja.Faults, 1)
	assert.Equal(t, 2, ja.Faults[0].StepIndex)
	assert.Equal(t, FailurePage, ja.Faults[0].Kind)
	assert.True(t, ja.Faults[0].Critical)
	assert.Contains(t, ja.Faults[0].Detail, "renderer crashed")
	assert.Equal(t, Passed, results[1].Status)
	sessions.AssertCalled(t, "Release", "ja")
}

func TestRunner_CanceledRunReportsInterruption(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := new(mockSessions)
	sessions.On("Acquire", mock.Anything, "en").Return(newFakePage(), nil)
	sessions.On("Release", "en").Return()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sc := Scenario{Steps: []Step{{Action: ActionNavigate, URL: "{base}/{locale}"}}}
	r := newTestRunner(t, t.TempDir(), sessions, sc, 1)
	results, err := r.Run(ctx, []Locale{{Code: "en"}})

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, Failed, results[0].Status)
	assert.Equal(t, []OutcomeKind{Skipped}, kinds(results[0].Outcomes))
}

func TestNewRunner(t *testing.T) {
	d := newTestDriver(t, t.TempDir())
	r1 := NewRunner(new(mockSessions), d, DefaultScenario(), 0, zaptest.NewLogger(t))
	r2 := NewRunner(new(mockSessions), d, DefaultScenario(), 3, zaptest.NewLogger(t))

	assert.Equal(t, 1, r1.concurrency, "concurrency is clamped to one")
	assert.NotEmpty(t, r1.RunID())
	assert.NotEqual(t, r1.RunID(), r2.RunID())
}
