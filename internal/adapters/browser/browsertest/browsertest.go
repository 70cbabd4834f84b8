// Package browsertest provides a scriptable in-memory browser for adapter
// and engine tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

const pollEvery = 2 * time.Millisecond

// Element is a scripted DOM node. It becomes visible AppearAfter the last
// navigation (or its insertion, whichever is later).
type Element struct {
	Text        string
	Attrs       map[string]string
	Count       int
	AppearAfter time.Duration
	Screenshot  []byte
	// ClickErr fails every click on the element.
	ClickErr error
	// OnClick runs after the element is clicked.
	OnClick func(p *Page)
	// Opens is the tab returned by ClickAndWaitTarget.
	Opens *Page

	shownAt time.Time
}

type Page struct {
	mu        sync.Mutex
	elements  map[string]*Element
	clicks    []string
	typed     map[string]string
	navigated []string
	closed    int

	NavigateErr error
}

func NewPage() *Page {
	return &Page{elements: make(map[string]*Element), typed: make(map[string]string)}
}

// Set inserts or replaces the element matched by selector.
func (p *Page) Set(selector string, el Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := el
	e.shownAt = time.Now().Add(el.AppearAfter)
	p.elements[selector] = &e
	return p
}

func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) visible(selector string) (*Element, bool) {
	el, ok := p.elements[selector]
	if !ok || time.Now().Before(el.shownAt) {
		return nil, false
	}
	return el, true
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	now := time.Now()
	for _, el := range p.elements {
		el.shownAt = now.Add(el.AppearAfter)
	}
	return nil
}

func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		_, ok := p.visible(selector)
		p.mu.Unlock()
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s", model.ErrElementTimeout, selector)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.visible(selector)
	return ok, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.visible(selector)
	if !ok {
		return 0, nil
	}
	if el.Count == 0 {
		return 1, nil
	}
	return el.Count, nil
}

func (p *Page) click(ctx context.Context, selector, record string, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	el, ok := p.visible(selector)
	if ok && index > 0 && index >= max(el.Count, 1) {
		ok = false
	}
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	if el.ClickErr != nil {
		p.mu.Unlock()
		return el.ClickErr
	}
	p.clicks = append(p.clicks, record)
	hook := el.OnClick
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.click(ctx, selector, selector, 0)
}

func (p *Page) ClickNth(ctx context.Context, selector string, index int) error {
	return p.click(ctx, selector, fmt.Sprintf("%s#%d", selector, index), index)
}

func (p *Page) ClickParent(ctx context.Context, selector string) error {
	return p.click(ctx, selector, "parent:"+selector, 0)
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.visible(selector); !ok {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	p.typed[selector] = text
	return nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.visible(selector)
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	return el.Text, nil
}

func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.visible(selector)
	if !ok {
		return "", false, nil
	}
	v, ok := el.Attrs[name]
	return v, ok, nil
}

func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.visible(selector)
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, selector)
	}
	if el.Screenshot == nil {
		return nil, errors.New("no screenshot scripted")
	}
	return el.Screenshot, nil
}

func (p *Page) ClickAndWaitTarget(ctx context.Context, selector string, timeout time.Duration) (browser.Page, error) {
	if err := p.Click(ctx, selector); err != nil {
		return nil, err
	}
	p.mu.Lock()
	var opens *Page
	if el, ok := p.elements[selector]; ok {
		opens = el.Opens
	}
	p.mu.Unlock()
	if opens == nil {
		return nil, fmt.Errorf("%w: no tab opened by %s", model.ErrElementTimeout, selector)
	}
	return opens, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

type Session struct {
	page   *Page
	mu     sync.Mutex
	closed int
}

func (s *Session) Page() browser.Page { return s.page }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launcher hands out a fresh page from Script for every launch.
type Launcher struct {
	Script    func(launch int) *Page
	LaunchErr error

	mu       sync.Mutex
	sessions []*Session
}

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	page := NewPage()
	if l.Script != nil {
		page = l.Script(len(l.sessions) + 1)
	}
	s := &Session{page: page}
	l.sessions = append(l.sessions, s)
	return s, nil
}

func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// AllClosed reports whether every launched session was closed exactly once.
func (l *Launcher) AllClosed() bool {
	for _, s := range l.Sessions() {
		if s.Closed() != 1 {
			return false
		}
	}
	return true
}
