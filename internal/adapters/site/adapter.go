// Package site holds the per-site knowledge: which elements to drive and
// how each site reports the bonus outcome.
package site

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/captcha"
	"github.com/ohmynofan/luckywheel-bot/internal/config"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
)

// Adapter is everything the engine needs to know about one site. Optional
// elements time out silently; required ones return an error wrapping
// model.ErrElementTimeout.
type Adapter interface {
	EntryURL() (string, error)
	DismissIntro(ctx context.Context, page browser.Page) error
	OpenRegisterForm(ctx context.Context, page browser.Page) error
	OpenLoginForm(ctx context.Context, page browser.Page) error
	FillCredentials(ctx context.Context, page browser.Page, mode model.Mode, creds model.Credentials) error
	DetectDuplicateAccount(ctx context.Context, page browser.Page) (bool, error)
	DetectLoginError(ctx context.Context, page browser.Page) (string, bool, error)
	LocateChallenge(ctx context.Context, page browser.Page, mode model.Mode) (captcha.Target, error)
	Submit(ctx context.Context, page browser.Page, mode model.Mode) error
	SelectBonusOption(ctx context.Context, page browser.Page) error
	OpenBonusSurface(ctx context.Context, page browser.Page) (browser.Page, error)
	TriggerSpin(ctx context.Context, surface browser.Page) error
	PollBonusOutcome(ctx context.Context, surface browser.Page) (model.Outcome, error)
}

type Registry map[model.SiteID]Adapter

func NewRegistry(cfg config.Config) (Registry, error) {
	reg := make(Registry, len(cfg.Sites))
	for id, s := range cfg.Sites {
		s.ID = id
		a, err := New(s, cfg.Timeouts, cfg.Challenge)
		if err != nil {
			return nil, err
		}
		reg[id] = a
	}
	return reg, nil
}

func (r Registry) Get(id model.SiteID) (Adapter, error) {
	a, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("no adapter for site %q", id)
	}
	return a, nil
}

func New(s config.Site, t config.Timeouts, c config.Challenge) (Adapter, error) {
	f := flow{site: s, sel: s.Selectors, t: t, challenge: c, log: logger.NewNamed("Site "+string(s.ID), nil)}
	switch s.Strategy {
	case config.StrategyMarkerPoll:
		return &markerPoll{flow: f}, nil
	case config.StrategyDialogRace:
		return &dialogRace{flow: f}, nil
	}
	return nil, fmt.Errorf("site %s: unknown outcome strategy %q", s.ID, s.Strategy)
}

// flow implements the steps both sites share; the embedding type supplies
// PollBonusOutcome.
type flow struct {
	site      config.Site
	sel       config.Selectors
	t         config.Timeouts
	challenge config.Challenge
	log       *logger.ClassLogger
}

func (f *flow) EntryURL() (string, error) { return f.site.EntryURL() }

func (f *flow) DismissIntro(ctx context.Context, page browser.Page) error {
	if f.sel.IntroClose == "" {
		return nil
	}
	if err := page.WaitVisible(ctx, f.sel.IntroClose, f.t.Popup); err != nil {
		return optional(err)
	}
	if err := page.Click(ctx, f.sel.IntroClose); err != nil {
		return optional(err)
	}
	return pause(ctx, f.t.Settle)
}

func (f *flow) openForm(ctx context.Context, page browser.Page, opener string) error {
	if err := page.WaitVisible(ctx, opener, f.t.Form); err != nil {
		return err
	}
	if err := page.Click(ctx, opener); err != nil {
		return err
	}
	if err := pause(ctx, f.t.Settle); err != nil {
		return err
	}
	return page.WaitVisible(ctx, f.sel.Username, f.t.Form)
}

func (f *flow) OpenRegisterForm(ctx context.Context, page browser.Page) error {
	return f.openForm(ctx, page, f.sel.RegisterOpen)
}

func (f *flow) OpenLoginForm(ctx context.Context, page browser.Page) error {
	return f.openForm(ctx, page, f.sel.LoginOpen)
}

type formField struct {
	selector string
	value    string
}

func (f *flow) FillCredentials(ctx context.Context, page browser.Page, mode model.Mode, creds model.Credentials) error {
	fields := []formField{
		{f.sel.Username, creds.Username},
		{f.sel.Password, creds.Password},
	}
	if mode == model.ModeRegister {
		fields = append(fields,
			formField{f.sel.ConfirmPassword, creds.Password},
			formField{f.sel.Fullname, creds.Fullname},
		)
	}

	for _, field := range fields {
		if field.selector == "" || field.value == "" {
			continue
		}
		if err := page.WaitVisible(ctx, field.selector, f.t.Form); err != nil {
			return err
		}
		if err := page.Type(ctx, field.selector, field.value); err != nil {
			return err
		}
	}
	return pause(ctx, f.t.Settle)
}

func (f *flow) DetectDuplicateAccount(ctx context.Context, page browser.Page) (bool, error) {
	if f.sel.DuplicateMarker == "" {
		return false, nil
	}
	if err := page.WaitVisible(ctx, f.sel.DuplicateMarker, f.t.DuplicateCheck); err != nil {
		return false, optional(err)
	}
	text, err := page.Text(ctx, f.sel.DuplicateMarker)
	if err != nil {
		return false, optional(err)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(f.sel.DuplicateText)), nil
}

func (f *flow) DetectLoginError(ctx context.Context, page browser.Page) (string, bool, error) {
	if err := page.WaitVisible(ctx, f.sel.LoginError, f.t.LoginError); err != nil {
		return "", false, optional(err)
	}
	text, err := page.Text(ctx, f.sel.LoginError)
	if err != nil {
		return "", false, optional(err)
	}
	text = strings.TrimSpace(text)
	return text, text != "", nil
}

func (f *flow) LocateChallenge(ctx context.Context, page browser.Page, mode model.Mode) (captcha.Target, error) {
	if err := page.WaitVisible(ctx, f.sel.ChallengeInput, f.t.Form); err != nil {
		return nil, err
	}
	if err := page.Click(ctx, f.sel.ChallengeInput); err != nil {
		return nil, err
	}

	image := f.sel.LoginChallenge
	if mode == model.ModeRegister {
		image = f.sel.RegisterChallenge
	}
	return &challengeTarget{
		page:   page,
		image:  image,
		input:  f.sel.ChallengeInput,
		wait:   f.challenge.ImageTimeout,
		settle: f.challenge.ImageSettle,
	}, nil
}

func (f *flow) Submit(ctx context.Context, page browser.Page, mode model.Mode) error {
	if err := page.WaitVisible(ctx, f.sel.Submit, f.t.Form); err != nil {
		return err
	}
	if err := page.Click(ctx, f.sel.Submit); err != nil {
		return err
	}
	if mode == model.ModeRegister {
		return pause(ctx, f.t.RegisterConfirm)
	}
	return pause(ctx, f.t.PostSubmit)
}

func (f *flow) SelectBonusOption(ctx context.Context, page browser.Page) error {
	if err := page.WaitVisible(ctx, f.sel.BonusOptions, f.t.BonusOptions); err != nil {
		return err
	}
	n, err := page.Count(ctx, f.sel.BonusOptions)
	if err != nil {
		return err
	}
	// A page with fewer options keeps its default selection.
	if n <= f.sel.BonusOptionIndex {
		return nil
	}
	if err := page.ClickNth(ctx, f.sel.BonusOptions, f.sel.BonusOptionIndex); err != nil {
		return err
	}
	return pause(ctx, f.t.Settle)
}

func (f *flow) OpenBonusSurface(ctx context.Context, page browser.Page) (browser.Page, error) {
	if err := page.WaitVisible(ctx, f.sel.BonusSurfaceOpen, f.t.BonusSurface); err != nil {
		return nil, err
	}
	return page.ClickAndWaitTarget(ctx, f.sel.BonusSurfaceOpen, f.t.BonusSurface)
}

func (f *flow) TriggerSpin(ctx context.Context, surface browser.Page) error {
	if err := surface.WaitVisible(ctx, f.sel.SpinStart, f.t.BonusSurface); err != nil {
		return err
	}
	return surface.ClickParent(ctx, f.sel.SpinStart)
}

func (f *flow) textOr(ctx context.Context, page browser.Page, selector, fallback string) string {
	if selector == "" {
		return fallback
	}
	text, err := page.Text(ctx, selector)
	if err != nil || strings.TrimSpace(text) == "" {
		return fallback
	}
	return strings.TrimSpace(text)
}

// optional swallows element timeouts and missing elements.
func optional(err error) error {
	if errors.Is(err, model.ErrElementTimeout) || errors.Is(err, browser.ErrElementNotFound) {
		return nil
	}
	return err
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
