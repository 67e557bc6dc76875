package harness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

// FailureKind is the taxonomy of recorded faults.
type FailureKind string

const (
	FailureResolution        FailureKind = "ResolutionFailed"
	FailureTransitionTimeout FailureKind = "TransitionTimeout"
	FailureUpload            FailureKind = "UploadFailed"
	FailureArtifactWrite     FailureKind = "ArtifactWriteFailed"
	FailureSessionBootstrap  FailureKind = "SessionBootstrapFailed"
	FailurePage              FailureKind = "PageError"
)

// Fault is a structured failure record. Critical faults end the locale's run.
type Fault struct {
	Locale    string      `json:"locale"`
	StepIndex int         `json:"step_index"`
	Action    Action      `json:"action,omitempty"`
	Kind      FailureKind `json:"kind"`
	Critical  bool        `json:"critical"`
	Detail    string      `json:"detail"`
	// Artifact is the diagnostic screenshot, empty when it could not be taken.
	Artifact string `json:"artifact,omitempty"`
}

const diagnosticTimeout = 10 * time.Second

// FaultReporter logs faults and captures diagnostic screenshots. The records
// themselves travel with each locale's RunResult. It holds no per-run state
// and is safe for concurrent use across locales.
type FaultReporter struct {
	logger    *zap.Logger
	artifacts *ArtifactStore
}

// NewFaultReporter creates a reporter storing diagnostics through artifacts.
func NewFaultReporter(artifacts *ArtifactStore, logger *zap.Logger) *FaultReporter {
	return &FaultReporter{logger: logger.Named("faults"), artifacts: artifacts}
}

// Report logs f and returns it with its artifact set. When page is non-nil a
// best-effort screenshot of the failure state is stored; this works even after
// ctx has expired.
func (r *FaultReporter) Report(ctx context.Context, page browser.Page, f Fault) Fault {
	if page != nil && page.Err() == nil {
		diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticTimeout)
		path, err := r.artifacts.captureTo(diagCtx, page, r.artifacts.ErrorPath(f.Locale, f.StepIndex, f.Action))
		cancel()
		if err != nil {
			r.logger.Debug("Diagnostic screenshot failed.", zap.String("locale", f.Locale), zap.Error(err))
		} else {
			f.Artifact = path
		}
	}

	fields := []zap.Field{
		zap.String("locale", f.Locale),
		zap.Int("step_index", f.StepIndex),
		zap.String("action", string(f.Action)),
		zap.String("failure_kind", string(f.Kind)),
		zap.String("detail", f.Detail),
		zap.String("artifact", f.Artifact),
	}
	if f.Critical {
		r.logger.Error("Critical step failure.", fields...)
	} else {
		r.logger.Warn("Step failure, continuing in degraded mode.", fields...)
	}
	return f
}
