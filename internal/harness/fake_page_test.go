package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

// fakePage is a scripted in-memory page. Elements are keyed by the locator's
// String form.
type fakePage struct {
	mu sync.Mutex

	url      string
	body     string
	elements map[string]bool // locator -> visible
	navErr   map[string]error
	shot     []byte
	shotErr  error
	closed   bool

	// onSetFiles and onClick let a test script the app's reaction.
	onSetFiles func(p *fakePage, files []string) error
	onClick    map[string]func(p *fakePage)

	navigations []string
	uploads     []string
}

var _ browser.Page = (*fakePage)(nil)

func newFakePage() *fakePage {
	return &fakePage{
		elements: make(map[string]bool),
		navErr:   make(map[string]error),
		onClick:  make(map[string]func(p *fakePage)),
		shot:     []byte("\x89PNG\r\n\x1a\nfake"),
	}
}

func (p *fakePage) addElement(loc browser.Locator, visible bool) *fakePage {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[loc.String()] = visible
	return p
}

func (p *fakePage) setBody(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.body = body
}

func (p *fakePage) currentURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrPageClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.navigations = append(p.navigations, url)
	if err, ok := p.navErr[url]; ok {
		return err
	}
	p.url = url
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrPageClosed
	}
	return p.url, nil
}

func (p *fakePage) Probe(ctx context.Context, loc browser.Locator, visibleOnly bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, browser.ErrPageClosed
	}
	visible, ok := p.elements[loc.String()]
	return ok && (visible || !visibleOnly), nil
}

func (p *fakePage) Click(ctx context.Context, loc browser.Locator) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	if _, ok := p.elements[loc.String()]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrNoMatch, loc)
	}
	react := p.onClick[loc.String()]
	p.mu.Unlock()
	if react != nil {
		react(p)
	}
	return nil
}

func (p *fakePage) SetFiles(ctx context.Context, loc browser.Locator, files []string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	p.uploads = append(p.uploads, files...)
	react := p.onSetFiles
	p.mu.Unlock()
	if react != nil {
		return react(p, files)
	}
	return nil
}

func (p *fakePage) ContainsText(ctx context.Context, text string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, browser.ErrPageClosed
	}
	return strings.Contains(p.body, text), nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, browser.ErrPageClosed
	}
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return append([]byte(nil), p.shot...), nil
}

func (p *fakePage) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrPageClosed
	}
	return nil
}

// mockSessions is a testify mock of SessionProvider.
type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Acquire(ctx context.Context, locale string) (browser.Page, error) {
	args := m.Called(ctx, locale)
	page, _ := args.Get(0).(browser.Page)
	return page, args.Error(1)
}

func (m *mockSessions) Release(locale string) {
	m.Called(locale)
}
