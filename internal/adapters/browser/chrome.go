package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/ohmynofan/luckywheel-bot/internal/config"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

type Chrome struct {
	cfg      config.Browser
	navigate time.Duration
}

func NewChrome(cfg config.Browser, navigateTimeout time.Duration) *Chrome {
	return &Chrome{cfg: cfg, navigate: navigateTimeout}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	return append(opts,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(c.cfg.UserAgent),
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
}

// Launch starts a fresh browser process. Its lifetime is bound to the
// returned Session, not to ctx.
func (c *Chrome) Launch(ctx context.Context) (Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), c.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// The first Run binds the browser to tabCtx, so startup is bounded by
	// cancelling the tab itself rather than a derived context.
	timer := time.AfterFunc(c.navigate, cancelTab)
	stop := context.AfterFunc(ctx, cancelTab)
	err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(c.cfg.WindowWidth), int64(c.cfg.WindowHeight)))
	timer.Stop()
	stop()
	if err != nil {
		cancelTab()
		cancelAlloc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.Infra("launch browser", err)
	}

	s := &chromeSession{cancelAlloc: cancelAlloc}
	s.page = &chromePage{ctx: tabCtx, cancel: cancelTab, pacing: c.cfg.Pacing, navigate: c.navigate, session: s}
	return s, nil
}

type chromeSession struct {
	page        *chromePage
	cancelAlloc context.CancelFunc

	mu   sync.Mutex
	tabs []*chromePage
	once sync.Once
}

func (s *chromeSession) Page() Page { return s.page }

func (s *chromeSession) track(p *chromePage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs = append(s.tabs, p)
}

func (s *chromeSession) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		tabs := s.tabs
		s.mu.Unlock()
		for _, t := range tabs {
			t.Close()
		}
		if cerr := chromedp.Cancel(s.page.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = cerr
		}
		s.page.cancel()
		s.cancelAlloc()
	})
	return err
}

type chromePage struct {
	ctx      context.Context
	cancel   context.CancelFunc
	pacing   config.Pacing
	navigate time.Duration
	session  *chromeSession
	once     sync.Once
}

// run executes actions on the tab, bounded by timeout and by the caller's
// ctx. Deriving from the tab context keeps the tab alive on expiry.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrElementTimeout, err)
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.navigate, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) eval(ctx context.Context, js string, out interface{}) error {
	return p.run(ctx, p.navigate, chromedp.Evaluate(js, out))
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (p *chromePage) Visible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  const r = el.getBoundingClientRect();
  const s = window.getComputedStyle(el);
  return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
})()`, quote(selector))
	err := p.eval(ctx, js, &visible)
	return visible, err
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.eval(ctx, fmt.Sprintf(`document.querySelectorAll(%s).length`, quote(selector)), &n)
	return n, err
}

type point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Found bool    `json:"found"`
}

// locate scrolls the target into view and returns its centre. expr selects
// the element given the NodeList in "all".
func (p *chromePage) locate(ctx context.Context, selector, expr string) (point, error) {
	var pt point
	js := fmt.Sprintf(`(() => {
  const all = document.querySelectorAll(%s);
  const el = %s;
  if (!el) return {found: false, x: 0, y: 0};
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`, quote(selector), expr)
	if err := p.eval(ctx, js, &pt); err != nil {
		return pt, err
	}
	if !pt.Found {
		return pt, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return pt, nil
}

func (p *chromePage) clickAt(ctx context.Context, selector, expr string) error {
	if err := p.nudgeScroll(ctx); err != nil {
		return err
	}
	pt, err := p.locate(ctx, selector, expr)
	if err != nil {
		return err
	}
	if err := p.humanMove(ctx, pt.X, pt.Y); err != nil {
		return err
	}
	return p.run(ctx, p.navigate, chromedp.MouseClickXY(pt.X, pt.Y))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.clickAt(ctx, selector, "all[0]")
}

func (p *chromePage) ClickNth(ctx context.Context, selector string, index int) error {
	return p.clickAt(ctx, selector, fmt.Sprintf("all[%d]", index))
}

func (p *chromePage) ClickParent(ctx context.Context, selector string) error {
	return p.clickAt(ctx, selector, "all[0] && all[0].parentElement")
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	if err := p.Click(ctx, selector); err != nil {
		return err
	}
	if err := p.run(ctx, p.navigate, chromedp.Clear(selector, chromedp.ByQuery)); err != nil {
		return err
	}
	return p.typeHuman(ctx, selector, text)
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, error) {
	var res struct {
		Text  string `json:"text"`
		Found bool   `json:"found"`
	}
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  return el ? {found: true, text: (el.innerText || el.textContent || '').trim()} : {found: false, text: ''};
})()`, quote(selector))
	if err := p.eval(ctx, js, &res); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return res.Text, nil
}

func (p *chromePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res struct {
		Value string `json:"value"`
		Found bool   `json:"found"`
	}
	js := fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el || !el.hasAttribute(%s)) return {found: false, value: ''};
  return {found: true, value: el.getAttribute(%s)};
})()`, quote(selector), quote(name), quote(name))
	if err := p.eval(ctx, js, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Found, nil
}

func (p *chromePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.navigate, chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) ClickAndWaitTarget(ctx context.Context, selector string, timeout time.Duration) (Page, error) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return nil, errors.New("page has no target")
	}
	opener := c.Target.TargetID
	ch := chromedp.WaitNewTarget(p.ctx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == opener
	})

	if err := p.Click(ctx, selector); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var id target.ID
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no tab opened by %s", model.ErrElementTimeout, selector)
	case id = <-ch:
	}

	tabCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
	child := &chromePage{ctx: tabCtx, cancel: cancel, pacing: p.pacing, navigate: p.navigate, session: p.session}
	if p.session != nil {
		p.session.track(child)
	}
	attach := time.AfterFunc(p.navigate, cancel)
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx, page.BringToFront())
	attach.Stop()
	stop()
	if err != nil {
		child.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("attach bonus tab: %w", err)
	}
	return child, nil
}

// Close closes this tab. Closing the primary tab is done by the session.
func (p *chromePage) Close() error {
	if p.session != nil && p.session.page == p {
		return nil
	}
	p.once.Do(func() {
		_ = chromedp.Cancel(p.ctx)
		p.cancel()
	})
	return nil
}

// DecodeDataURI returns the payload of a base64 data: URI.
func DecodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, errors.New("not a data uri")
	}
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errors.New("malformed data uri")
	}
	meta, payload := uri[5:comma], uri[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), nil
	}
	return base64.StdEncoding.DecodeString(payload)
}
