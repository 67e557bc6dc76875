package harness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

// Condition is an ExpectedState with locale placeholders already resolved.
type Condition struct {
	URLPattern string
	Text       string
}

func (c Condition) String() string {
	switch {
	case c.URLPattern != "" && c.Text != "":
		return fmt.Sprintf("url~%q and text %q", c.URLPattern, c.Text)
	case c.URLPattern != "":
		return fmt.Sprintf("url~%q", c.URLPattern)
	default:
		return fmt.Sprintf("text %q", c.Text)
	}
}

// Verdict is the result of waiting for a Condition.
type Verdict struct {
	// Kind is Reached, TimedOut or Error.
	Kind    OutcomeKind
	LastURL string
	Detail  string
	Err     error
}

// Verifier polls a page until an expected state is observable.
type Verifier struct {
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewVerifier creates a verifier. A non-positive interval falls back to the
// default poll interval.
func NewVerifier(logger *zap.Logger, pollInterval time.Duration) *Verifier {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Verifier{logger: logger.Named("verifier"), pollInterval: pollInterval}
}

// Await blocks until cond holds, timeout elapses, or the page becomes
// unusable. Both the URL pattern and the text must hold when both are set.
// Transient evaluation errors are retried until the deadline.
func (v *Verifier) Await(ctx context.Context, page browser.Page, cond Condition, timeout time.Duration) Verdict {
	var pattern *regexp.Regexp
	if cond.URLPattern != "" {
		re, err := regexp.Compile(cond.URLPattern)
		if err != nil {
			return Verdict{Kind: Error, Err: fmt.Errorf("invalid url pattern %q: %w", cond.URLPattern, err), Detail: "invalid url pattern"}
		}
		pattern = re
	}
	if pattern == nil && cond.Text == "" {
		return Verdict{Kind: Error, Err: errors.New("empty condition"), Detail: "nothing to wait for"}
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	var (
		lastURL string
		lastErr error
	)
	for {
		if err := page.Err(); err != nil {
			return Verdict{Kind: Error, LastURL: lastURL, Err: err, Detail: "page became unusable"}
		}

		ok, u, err := v.check(waitCtx, page, pattern, cond.Text)
		if u != "" {
			lastURL = u
		}
		if ok {
			v.logger.Debug("State reached.", zap.Stringer("condition", cond), zap.String("url", lastURL))
			return Verdict{Kind: Reached, LastURL: lastURL}
		}
		if err != nil && waitCtx.Err() == nil {
			lastErr = err
			if errors.Is(err, browser.ErrPageClosed) {
				return Verdict{Kind: Error, LastURL: lastURL, Err: err, Detail: "page became unusable"}
			}
			v.logger.Debug("State check failed, retrying.", zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			detail := fmt.Sprintf("%s not observed within %s (last url %q)", cond, timeout, lastURL)
			if lastErr != nil {
				detail += ": " + lastErr.Error()
			}
			if ctx.Err() != nil {
				// The enclosing run ended, not just this wait.
				return Verdict{Kind: TimedOut, LastURL: lastURL, Err: ctx.Err(), Detail: detail}
			}
			return Verdict{Kind: TimedOut, LastURL: lastURL, Err: lastErr, Detail: detail}
		case <-ticker.C:
		}
	}
}

func (v *Verifier) check(ctx context.Context, page browser.Page, pattern *regexp.Regexp, text string) (bool, string, error) {
	var current string
	if pattern != nil {
		u, err := page.URL(ctx)
		if err != nil {
			return false, "", err
		}
		current = u
		if !pattern.MatchString(u) {
			return false, current, nil
		}
	}
	if text != "" {
		found, err := page.ContainsText(ctx, text)
		if err != nil {
			return false, current, err
		}
		if !found {
			return false, current, nil
		}
	}
	return true, current, nil
}
