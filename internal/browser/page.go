// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrNoMatch is returned by element actions when no candidate node matched.
var ErrNoMatch = errors.New("no matching element")

// ErrPageClosed is returned once the page's browsing context is gone.
var ErrPageClosed = errors.New("page is closed")

// Page is the surface of one tab the harness drives. Implementations are not
// safe for concurrent use; one scenario owns one page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// Probe reports whether loc matches at least one element, and when
	// visibleOnly is set, one that is rendered with a non-empty box.
	Probe(ctx context.Context, loc Locator, visibleOnly bool) (bool, error)
	Click(ctx context.Context, loc Locator) error
	SetFiles(ctx context.Context, loc Locator, files []string) error
	ContainsText(ctx context.Context, text string) (bool, error)
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Err is non-nil once the page can no longer be driven.
	Err() error
}

// cdpPage drives one tab inside an isolated browser context over CDP.
type cdpPage struct {
	locale string
	tabCtx context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	closeOnce sync.Once
	onClose   func()
}

var _ Page = (*cdpPage)(nil)

func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := p.Err(); err != nil {
		return err
	}
	opCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.tabCtx.Err() != nil {
			return ErrPageClosed
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the body to be ready.
func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating", zap.String("url", url))
	if err := p.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *cdpPage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// nodes returns the nodes matching loc without waiting for them to appear.
func (p *cdpPage) nodes(ctx context.Context, loc Locator, visibleOnly bool) ([]*cdp.Node, error) {
	sel, by, err := loc.Query()
	if err != nil {
		return nil, err
	}
	var (
		found   []*cdp.Node
		matched []*cdp.Node
	)
	err = p.run(ctx,
		chromedp.Nodes(sel, &found, by, chromedp.AtLeast(0)),
		chromedp.ActionFunc(func(c context.Context) error {
			for _, n := range found {
				if !visibleOnly || isRendered(c, n) {
					matched = append(matched, n)
				}
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// isRendered treats a node as visible when it has a box model with area.
func isRendered(ctx context.Context, n *cdp.Node) bool {
	box, err := dom.GetBoxModel().WithNodeID(n.NodeID).Do(ctx)
	if err != nil || box == nil {
		return false
	}
	return box.Width > 0 && box.Height > 0
}

func (p *cdpPage) Probe(ctx context.Context, loc Locator, visibleOnly bool) (bool, error) {
	nodes, err := p.nodes(ctx, loc, visibleOnly)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

// Click clicks the first visible element matching loc.
func (p *cdpPage) Click(ctx context.Context, loc Locator) error {
	nodes, err := p.nodes(ctx, loc, true)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMatch, loc)
	}
	return p.run(ctx, chromedp.MouseClickNode(nodes[0]))
}

// SetFiles assigns files to the first file input matching loc. Hidden inputs
// are accepted since upload controls are commonly styled away.
func (p *cdpPage) SetFiles(ctx context.Context, loc Locator, files []string) error {
	nodes, err := p.nodes(ctx, loc, false)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("%w: %s", ErrNoMatch, loc)
	}
	target := nodes[0]
	return p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return dom.SetFileInputFiles(files).WithNodeID(target.NodeID).Do(c)
	}))
}

// ContainsText reports whether the rendered text of the document contains text.
func (p *cdpPage) ContainsText(ctx context.Context, text string) (bool, error) {
	literal, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(text)
	if err != nil {
		return false, err
	}
	script := fmt.Sprintf(`(() => { const b = document.body; return !!b && b.innerText.includes(%s); })()`, literal)
	var ok bool
	if err := p.run(ctx, chromedp.Evaluate(script, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *cdpPage) Err() error {
	if p.tabCtx.Err() != nil {
		return ErrPageClosed
	}
	return nil
}

func (p *cdpPage) close() {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
}
