package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

// Page is a pooled browser tab lent by Manager.Acquire.
type Page struct {
	p      *rod.Page
	router *rod.HijackRouter
	gen    int
	broken bool

	// parkFn and closeFn replace the rod calls of reset and close when set.
	parkFn  func() error
	closeFn func()
}

// Visit is what a navigation observed.
type Visit struct {
	HTML     string
	Title    string
	FinalURL string
	// Status is the main document HTTP status, 0 when not observed.
	Status int
}

func newPage(b *rod.Browser, gen int, cfg Config) (*Page, error) {
	rp, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	pg := &Page{p: rp, gen: gen}

	if cfg.UserAgent != "" || cfg.AcceptLanguage != "" {
		ua := cfg.UserAgent
		if ua == "" {
			if v, err := b.Version(); err == nil {
				ua = v.UserAgent
			}
		}
		if err := rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: cfg.AcceptLanguage,
		}); err != nil {
			cfg.Logger.Warn("browser: set user agent failed", "error", err)
		}
	}
	if len(cfg.BlockResources) > 0 {
		pg.router = applyResourceBlocking(rp, cfg.BlockResources)
	}
	return pg, nil
}

// Load navigates to url and waits as nav describes. The whole load is
// bounded by nav's timeout. A failed load marks the page for disposal.
func (pg *Page) Load(ctx context.Context, url string, nav task.Navigation) (Visit, error) {
	v, err := pg.load(ctx, url, nav)
	if err != nil {
		pg.broken = true
	}
	return v, err
}

func (pg *Page) load(ctx context.Context, url string, nav task.Navigation) (Visit, error) {
	timeout := nav.Timeout
	if timeout <= 0 {
		timeout = task.DefaultTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := pg.p.Context(lctx)

	var status atomic.Int32
	evCtx, stopEvents := context.WithCancel(lctx)
	defer stopEvents()
	frame := pg.p.FrameID
	go pg.p.Context(evCtx).EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type == proto.NetworkResourceTypeDocument && (frame == "" || e.FrameID == frame) {
			status.Store(int32(e.Response.Status))
		}
	})()

	var waitNav func()
	switch nav.Wait {
	case task.WaitDOMContentLoaded:
		waitNav = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	case task.WaitNetworkIdle:
		waitNav = p.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	}

	if err := p.Navigate(url); err != nil {
		return Visit{}, fmt.Errorf("browser: navigate %s: %w", url, err)
	}

	switch nav.Wait {
	case task.WaitNone:
	case task.WaitDOMContentLoaded, task.WaitNetworkIdle:
		waitNav()
	default:
		if err := p.WaitLoad(); err != nil {
			return Visit{}, fmt.Errorf("browser: wait load: %w", err)
		}
	}
	if err := lctx.Err(); err != nil {
		return Visit{}, fmt.Errorf("browser: wait %s: %w", nav.Wait, err)
	}

	if nav.WaitSelector != "" {
		if _, err := p.Element(nav.WaitSelector); err != nil {
			return Visit{}, fmt.Errorf("browser: wait selector %q: %w", nav.WaitSelector, err)
		}
	}
	if nav.ExtraWait > 0 {
		select {
		case <-time.After(nav.ExtraWait):
		case <-lctx.Done():
			return Visit{}, fmt.Errorf("browser: extra wait: %w", lctx.Err())
		}
	}

	html, err := p.HTML()
	if err != nil {
		return Visit{}, fmt.Errorf("browser: read html: %w", err)
	}
	v := Visit{HTML: html, Status: int(status.Load())}
	if info, err := p.Info(); err == nil {
		v.Title = info.Title
		v.FinalURL = info.URL
	}
	return v, nil
}

// EvalString evaluates a JavaScript function expression and returns its
// string result.
func (pg *Page) EvalString(ctx context.Context, js string) (string, error) {
	res, err := pg.p.Context(ctx).Eval(js)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// EvalStrings evaluates a JavaScript function expression returning an
// array and stringifies its elements.
func (pg *Page) EvalStrings(ctx context.Context, js string) ([]string, error) {
	res, err := pg.p.Context(ctx).Eval(js)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	arr := res.Value.Arr()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.Str())
	}
	return out, nil
}

// Screenshot captures the full page as PNG.
func (pg *Page) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := pg.p.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// reset parks the page on a blank document between checks. A page that
// cannot be parked is marked broken.
func (pg *Page) reset() {
	park := pg.parkFn
	if park == nil {
		park = pg.navigateBlank
	}
	if err := park(); err != nil {
		pg.broken = true
	}
}

func (pg *Page) navigateBlank() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return pg.p.Context(ctx).Navigate("about:blank")
}

func (pg *Page) close() {
	if pg.closeFn != nil {
		pg.closeFn()
		return
	}
	if pg.router != nil {
		pg.router.Stop()
	}
	pg.p.Close()
}
