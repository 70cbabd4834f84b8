package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser/browsertest"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/captcha"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/site"
	"github.com/ohmynofan/luckywheel-bot/internal/config"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
)

type fakeSolver struct {
	mu    sync.Mutex
	calls int
	err   error
	panic bool
}

func (s *fakeSolver) Solve(ctx context.Context, log *logger.ClassLogger, target captcha.Target) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return "", s.err
	}
	return "4821", nil
}

func (s *fakeSolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testTimeouts() config.Timeouts {
	return config.Timeouts{
		Navigate:       time.Second,
		Popup:          10 * time.Millisecond,
		Form:           40 * time.Millisecond,
		DuplicateCheck: 15 * time.Millisecond,
		LoginError:     15 * time.Millisecond,
		BonusOptions:   40 * time.Millisecond,
		BonusSurface:   40 * time.Millisecond,
		BonusOutcome:   40 * time.Millisecond,
		BonusRace:      30 * time.Millisecond,
		ErrorDialog:    30 * time.Millisecond,
		DialogPoll:     5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}
}

var bmw = config.DefaultSites()[model.SiteBMW].Selectors

func newEngine(t *testing.T, launcher *browsertest.Launcher, solver ChallengeSolver) *Engine {
	t.Helper()
	reg, err := site.NewRegistry(config.Config{Sites: config.DefaultSites(), Timeouts: testTimeouts()})
	require.NoError(t, err)
	return NewEngine(launcher, reg, solver)
}

func registerPage() *browsertest.Page {
	return browsertest.NewPage().
		Set(bmw.RegisterOpen, browsertest.Element{}).
		Set(bmw.Username, browsertest.Element{}).
		Set(bmw.Password, browsertest.Element{}).
		Set(bmw.ConfirmPassword, browsertest.Element{}).
		Set(bmw.Fullname, browsertest.Element{}).
		Set(bmw.ChallengeInput, browsertest.Element{}).
		Set(bmw.Submit, browsertest.Element{})
}

func loginPage(surface *browsertest.Page) *browsertest.Page {
	return browsertest.NewPage().
		Set(bmw.LoginOpen, browsertest.Element{}).
		Set(bmw.Username, browsertest.Element{}).
		Set(bmw.Password, browsertest.Element{}).
		Set(bmw.ChallengeInput, browsertest.Element{}).
		Set(bmw.Submit, browsertest.Element{}).
		Set(bmw.BonusOptions, browsertest.Element{Count: 3}).
		Set(bmw.BonusSurfaceOpen, browsertest.Element{Opens: surface})
}

func job(mode model.Mode, siteID model.SiteID) model.Job {
	return model.Job{
		Requester: 7,
		Site:      siteID,
		Mode:      mode,
		Credentials: model.Credentials{
			Username: "alice01",
			Password: "secret99",
			Fullname: "Alice Smith",
		},
	}
}

func run(e *Engine, j model.Job) (model.Outcome, *model.Session) {
	session := model.NewSession("job-1", 0, j)
	return e.Run(context.Background(), session, j), session
}

func TestRegisterCreated(t *testing.T) {
	page := registerPage()
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return page }}
	solver := &fakeSolver{}

	out, session := run(newEngine(t, launcher, solver), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Created(), out)
	assert.Equal(t, "created", session.Result)
	assert.Equal(t, 1, solver.Calls())
	assert.Equal(t, "alice01", page.Typed(bmw.Username))
	assert.Equal(t, "secret99", page.Typed(bmw.ConfirmPassword))
	assert.Equal(t, "Alice Smith", page.Typed(bmw.Fullname))
	assert.Contains(t, page.Clicks(), bmw.Submit)
	assert.Equal(t, []string{"https://05bmw.com?r=NW44EK"}, page.Navigated())
	assert.Len(t, launcher.Sessions(), 1)
	assert.True(t, launcher.AllClosed())
}

func TestRegisterDuplicateSkipsChallenge(t *testing.T) {
	page := registerPage().Set(bmw.DuplicateMarker, browsertest.Element{Text: "Account Exist already"})
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return page }}
	solver := &fakeSolver{}

	out, _ := run(newEngine(t, launcher, solver), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.AlreadyExists(), out)
	assert.Zero(t, solver.Calls())
	assert.NotContains(t, page.Clicks(), bmw.Submit)
	assert.True(t, launcher.AllClosed())
}

func TestRegisterRetriesOnceWithFreshSession(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page {
		p := registerPage()
		p.Remove(bmw.Submit)
		return p
	}}

	out, session := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Failed("timed out at SUBMIT"), out)
	assert.Equal(t, 2, session.Attempt)
	assert.Len(t, launcher.Sessions(), 2)
	assert.True(t, launcher.AllClosed())
}

func TestRegisterSecondAttemptSucceeds(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(launch int) *browsertest.Page {
		p := registerPage()
		if launch == 1 {
			p.Remove(bmw.RegisterOpen)
		}
		return p
	}}

	out, _ := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Created(), out)
	assert.Len(t, launcher.Sessions(), 2)
	assert.True(t, launcher.AllClosed())
}

func TestRegisterChallengeUnsolved(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return registerPage() }}
	solver := &fakeSolver{err: fmt.Errorf("%w after 3 attempts", model.ErrChallengeUnsolved)}

	out, _ := run(newEngine(t, launcher, solver), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Failed("challenge unsolved"), out)
	assert.Equal(t, 2, solver.Calls())
}

func TestZeroBalanceIsNotRetried(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return registerPage() }}
	solver := &fakeSolver{err: fmt.Errorf("%w: %w", model.ErrChallengeUnsolved, captcha.ErrZeroBalance)}

	out, _ := run(newEngine(t, launcher, solver), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Failed("challenge unsolved"), out)
	assert.Len(t, launcher.Sessions(), 1)
	assert.True(t, launcher.AllClosed())
}

func TestLaunchFailureIsProcessingError(t *testing.T) {
	launcher := &browsertest.Launcher{LaunchErr: model.Infra("launch browser", errors.New("no chrome"))}

	out, _ := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Failed("processing error"), out)
}

func TestLoginRejected(t *testing.T) {
	surface := browsertest.NewPage()
	page := loginPage(surface).Set(bmw.LoginError, browsertest.Element{Text: " Wrong password "})
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return page }}
	solver := &fakeSolver{}

	out, _ := run(newEngine(t, launcher, solver), job(model.ModeLogin, model.SiteBMW))

	assert.Equal(t, model.LoginRejected("Wrong password"), out)
	assert.Equal(t, 1, solver.Calls())
	assert.NotContains(t, page.Clicks(), bmw.BonusSurfaceOpen)
	assert.True(t, launcher.AllClosed())
}

func TestLoginBonusAwarded(t *testing.T) {
	surface := browsertest.NewPage().
		Set(bmw.SpinStart, browsertest.Element{}).
		Set(bmw.BonusSuccess, browsertest.Element{Text: "100 credits", AppearAfter: 5 * time.Millisecond})
	page := loginPage(surface)
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return page }}

	out, session := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeLogin, model.SiteBMW))

	assert.Equal(t, model.BonusAwarded("100 credits"), out)
	assert.Equal(t, "bonus_awarded", session.Result)
	assert.Contains(t, page.Clicks(), bmw.BonusOptions+"#1")
	assert.Equal(t, []string{"parent:" + bmw.SpinStart}, surface.Clicks())
	assert.Equal(t, 1, surface.Closed())
	assert.True(t, launcher.AllClosed())
}

func TestLoginWithoutResultIsNoBonus(t *testing.T) {
	surface := browsertest.NewPage().Set(bmw.SpinStart, browsertest.Element{})
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return loginPage(surface) }}

	out, _ := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeLogin, model.SiteBMW))

	assert.Equal(t, model.OutcomeNoBonus, out.Kind)
	assert.NotEmpty(t, out.Message)
	assert.Equal(t, 1, surface.Closed())
}

func TestLoginIsNotRetried(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page {
		p := loginPage(browsertest.NewPage())
		p.Remove(bmw.BonusSurfaceOpen)
		return p
	}}

	out, _ := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeLogin, model.SiteBMW))

	assert.Equal(t, model.Failed("timed out at OPEN_BONUS_SURFACE"), out)
	assert.Len(t, launcher.Sessions(), 1)
	assert.True(t, launcher.AllClosed())
}

func TestPanicBecomesFailedAndClosesSession(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return registerPage() }}

	out, _ := run(newEngine(t, launcher, &fakeSolver{panic: true}), job(model.ModeRegister, model.SiteBMW))

	assert.Equal(t, model.Failed("processing error"), out)
	assert.True(t, launcher.AllClosed())
}

func TestUnknownSiteFails(t *testing.T) {
	launcher := &browsertest.Launcher{}

	out, _ := run(newEngine(t, launcher, &fakeSolver{}), job(model.ModeLogin, "OTHER"))

	assert.Equal(t, model.Failed("processing error"), out)
	assert.Empty(t, launcher.Sessions())
}

func TestCancelledContextStopsRegistration(t *testing.T) {
	launcher := &browsertest.Launcher{Script: func(int) *browsertest.Page { return registerPage() }}
	e := newEngine(t, launcher, &fakeSolver{})
	j := job(model.ModeRegister, model.SiteBMW)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := e.Run(ctx, model.NewSession("job-1", 0, j), j)

	assert.Equal(t, model.Failed("cancelled"), out)
	assert.Empty(t, launcher.Sessions())
}
