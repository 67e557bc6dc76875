// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/uiverify/internal/config"
)

// ErrSessionBootstrap marks a failure to launch or reach the browser process.
// It is the only error that aborts a whole run.
var ErrSessionBootstrap = errors.New("browser session bootstrap failed")

const defaultLaunchTimeout = 30 * time.Second

// Manager owns the single browser process of a run and hands out one
// isolated browsing context per locale.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx owns the Chrome process; browserCtx owns the first tab,
	// which keeps the browser connection alive for every derived context.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	mu    sync.Mutex
	pages map[string]*cdpPage
	// wg tracks acquired pages so Shutdown can wait for them.
	wg sync.WaitGroup
}

// NewManager launches the browser and verifies it responds. Any failure is
// wrapped in ErrSessionBootstrap.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("session_manager"),
		cfg:    cfg,
		pages:  make(map[string]*cdpPage),
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionBootstrap, err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Launching browser process.", zap.Bool("headless", m.cfg.Headless))

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	// The first Run starts the process. It must not carry a timeout, or the
	// browser dies with it; the bounded check runs afterwards.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.cancelAll()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	checkCtx, cancel := context.WithTimeout(m.browserCtx, timeout)
	defer cancel()
	if err := chromedp.Run(checkCtx, chromedp.Navigate("about:blank")); err != nil {
		m.cancelAll()
		return fmt.Errorf("browser failed to respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the launch flags from the browser config.
func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}

	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Containers rarely allow the sandbox or a large /dev/shm.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	return opts
}

// Acquire creates a fresh browsing context with independent storage and
// cookies for locale, and a tab inside it. Each locale may hold at most one
// page at a time.
func (m *Manager) Acquire(ctx context.Context, locale string) (Page, error) {
	m.mu.Lock()
	if _, exists := m.pages[locale]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("locale %q already holds a browsing context", locale)
	}
	if m.browserCtx.Err() != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser is no longer running: %w", m.browserCtx.Err())
	}

	tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())
	page := &cdpPage{
		locale: locale,
		tabCtx: tabCtx,
		cancel: cancel,
		logger: m.logger.Named("page").With(zap.String("locale", locale)),
	}
	page.onClose = func() {
		m.mu.Lock()
		delete(m.pages, locale)
		m.mu.Unlock()
		m.wg.Done()
	}
	m.pages[locale] = page
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.allocateTarget(ctx, tabCtx); err != nil {
		page.close()
		return nil, fmt.Errorf("failed to create browsing context for %q: %w", locale, err)
	}

	err := page.run(ctx,
		chromedp.EmulateViewport(int64(m.cfg.WindowWidth), int64(m.cfg.WindowHeight)),
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": locale}),
	)
	if err != nil {
		page.close()
		return nil, fmt.Errorf("failed to prepare browsing context for %q: %w", locale, err)
	}

	m.logger.Debug("Browsing context acquired.", zap.String("locale", locale))
	return page, nil
}

// allocateTarget creates the tab's target. The first Run binds the target to
// the context it is given, so it runs on tabCtx; ctx and the launch timeout
// only bound how long Acquire waits for it.
func (m *Manager) allocateTarget(ctx, tabCtx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so the goroutine can finish after Acquire gave up on it.
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx) }()

	select {
	case err := <-done:
		return err
	case <-waitCtx.Done():
		return fmt.Errorf("browsing context not ready: %w", waitCtx.Err())
	}
}

// Release disposes of the locale's browsing context. It is safe to call more
// than once and for locales that were never acquired.
func (m *Manager) Release(locale string) {
	m.mu.Lock()
	page, ok := m.pages[locale]
	m.mu.Unlock()
	if !ok {
		return
	}
	page.close()
	m.logger.Debug("Browsing context released.", zap.String("locale", locale))
}

// Shutdown releases any remaining contexts, waits for them within ctx and
// terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser.")

	m.mu.Lock()
	remaining := make([]string, 0, len(m.pages))
	for locale := range m.pages {
		remaining = append(remaining, locale)
	}
	m.mu.Unlock()
	for _, locale := range remaining {
		m.logger.Warn("Releasing browsing context left open at shutdown.", zap.String("locale", locale))
		m.Release(locale)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	var shutdownErr error
	if err := chromedp.Cancel(m.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
		shutdownErr = fmt.Errorf("failed to close browser: %w", err)
	}
	m.cancelAll()
	return shutdownErr
}

func (m *Manager) cancelAll() {
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
}
