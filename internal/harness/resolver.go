package harness

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

const (
	defaultProbeTimeout = time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// Resolution is the outcome of matching a SelectorSpec against a page.
type Resolution struct {
	// Kind is Reached, ResolutionFailed, or Error when the page died.
	Kind OutcomeKind
	// Index of the candidate that matched, -1 otherwise.
	Index     int
	Locator   browser.Locator
	Attempted []Attempt
	Err       error
}

// Resolved reports whether a candidate matched.
func (r Resolution) Resolved() bool { return r.Kind == Reached }

// Resolver tries the candidates of a SelectorSpec in order and settles on the
// first that matches.
type Resolver struct {
	logger       *zap.Logger
	probeTimeout time.Duration
	pollInterval time.Duration
}

// NewResolver returns a Resolver that spends at most probeTimeout on each
// candidate, re-probing every pollInterval.
func NewResolver(logger *zap.Logger, probeTimeout, pollInterval time.Duration) *Resolver {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Resolver{
		logger:       logger.Named("resolver"),
		probeTimeout: probeTimeout,
		pollInterval: pollInterval,
	}
}

// Resolve returns the first candidate in spec that matches. Candidates are
// probed strictly in order; a later candidate is never preferred to an
// earlier one that matches.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, spec SelectorSpec) Resolution {
	res := Resolution{Kind: ResolutionFailed, Index: -1}
	if len(spec.Candidates) == 0 {
		res.Err = errors.New("no selector candidates")
		return res
	}

	for i, loc := range spec.Candidates {
		if err := page.Err(); err != nil {
			res.Kind = Error
			res.Err = err
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		found, err := r.probe(ctx, page, loc, !spec.AllowHidden)
		if found {
			res.Kind = Reached
			res.Index = i
			res.Locator = loc
			r.logger.Debug("Selector resolved.", zap.Stringer("locator", loc), zap.Int("candidate", i))
			return res
		}

		attempt := Attempt{Locator: loc, Error: "no match"}
		if err != nil {
			attempt.Error = err.Error()
		}
		res.Attempted = append(res.Attempted, attempt)
		r.logger.Debug("Selector candidate did not match.", zap.Stringer("locator", loc), zap.String("reason", attempt.Error))

		if errors.Is(err, browser.ErrPageClosed) {
			res.Kind = Error
			res.Err = err
			return res
		}
	}

	res.Err = errors.New("all selector candidates exhausted")
	return res
}

// probe polls a single candidate until it appears or the probe window closes.
// The returned error is the last probe error, if any.
func (r *Resolver) probe(ctx context.Context, page browser.Page, loc browser.Locator, visibleOnly bool) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		found, err := page.Probe(probeCtx, loc, visibleOnly)
		if found {
			return true, nil
		}
		if err != nil && probeCtx.Err() == nil {
			lastErr = err
			if errors.Is(err, browser.ErrPageClosed) {
				return false, err
			}
		}

		select {
		case <-probeCtx.Done():
			return false, lastErr
		case <-ticker.C:
		}
	}
}
