package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/captcha"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/site"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/ui"
)

const (
	stateStart            = "START"
	stateNavigate         = "NAVIGATE"
	stateDismissIntro     = "DISMISS_INTRO_POPUP"
	stateOpenForm         = "OPEN_FORM"
	stateFillCredentials  = "FILL_CREDENTIALS"
	stateDuplicateCheck   = "DUPLICATE_CHECK"
	stateSolveChallenge   = "SOLVE_CHALLENGE"
	stateSubmit           = "SUBMIT"
	stateLoginErrorCheck  = "LOGIN_ERROR_CHECK"
	stateSelectBonus      = "SELECT_BONUS_OPTION"
	stateOpenBonusSurface = "OPEN_BONUS_SURFACE"
	stateTriggerSpin      = "TRIGGER_SPIN"
	statePollOutcome      = "POLL_OUTCOME"
	stateClassify         = "CLASSIFY_RESULT"
	stateEnd              = "END"

	registerAttempts = 2
)

type ChallengeSolver interface {
	Solve(ctx context.Context, log *logger.ClassLogger, target captcha.Target) (string, error)
}

// Engine drives one job at a time through the automation state machine.
// It is safe for concurrent use; all per-job state lives in the call.
type Engine struct {
	launcher browser.Launcher
	sites    site.Registry
	solver   ChallengeSolver
}

func NewEngine(launcher browser.Launcher, sites site.Registry, solver ChallengeSolver) *Engine {
	return &Engine{launcher: launcher, sites: sites, solver: solver}
}

// Run returns exactly one outcome for the job. Failures, including panics,
// become model.Failed and never propagate.
func (e *Engine) Run(ctx context.Context, session *model.Session, job model.Job) (out model.Outcome) {
	log := logger.NewNamed(fmt.Sprintf("Operation - Account %d", session.Index+1), session)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", fmt.Errorf("%v", r))
			out = model.Failed("processing error")
		}
		log.Step(stateEnd)
		finish(session, out)
	}()

	log.Step(stateStart)
	log.LogObject("Job credentials", job.Credentials)
	adapter, err := e.sites.Get(job.Site)
	if err != nil {
		log.Error("no adapter", err)
		return model.Failed(model.Classify(err))
	}

	switch job.Mode {
	case model.ModeRegister:
		return e.register(ctx, log, adapter, job)
	case model.ModeLogin:
		out, err := e.login(ctx, log, adapter, job)
		if err != nil {
			log.Error("login failed", err)
			return model.Failed(model.Classify(err))
		}
		return out
	}
	return model.Failed("processing error")
}

func (e *Engine) register(ctx context.Context, log *logger.ClassLogger, adapter site.Adapter, job model.Job) model.Outcome {
	var lastErr error
	for attempt := 1; attempt <= registerAttempts; attempt++ {
		log.Session().Attempt = attempt

		out, err := e.registerOnce(ctx, log, adapter, job)
		if err == nil {
			return out
		}
		lastErr = err
		log.Error(fmt.Sprintf("Registration attempt %d/%d failed", attempt, registerAttempts), err)
		if isFatal(ctx, err) {
			break
		}
	}
	return model.Failed(model.Classify(lastErr))
}

func (e *Engine) registerOnce(ctx context.Context, log *logger.ClassLogger, adapter site.Adapter, job model.Job) (model.Outcome, error) {
	sess, page, err := e.open(ctx, log, adapter)
	if err != nil {
		return model.Outcome{}, err
	}
	defer sess.Close()

	if err := step(log, stateOpenForm, func() error { return adapter.OpenRegisterForm(ctx, page) }); err != nil {
		return model.Outcome{}, err
	}
	if err := step(log, stateFillCredentials, func() error {
		return adapter.FillCredentials(ctx, page, job.Mode, job.Credentials)
	}); err != nil {
		return model.Outcome{}, err
	}

	var duplicate bool
	if err := step(log, stateDuplicateCheck, func() (err error) {
		duplicate, err = adapter.DetectDuplicateAccount(ctx, page)
		return err
	}); err != nil {
		return model.Outcome{}, err
	}
	if duplicate {
		log.Log("Account already exists")
		return model.AlreadyExists(), nil
	}

	if err := e.solveChallenge(ctx, log, adapter, page, job.Mode); err != nil {
		return model.Outcome{}, err
	}
	if err := step(log, stateSubmit, func() error { return adapter.Submit(ctx, page, job.Mode) }); err != nil {
		return model.Outcome{}, err
	}

	log.Step(stateClassify)
	log.Log("Account created")
	return model.Created(), nil
}

func (e *Engine) login(ctx context.Context, log *logger.ClassLogger, adapter site.Adapter, job model.Job) (model.Outcome, error) {
	sess, page, err := e.open(ctx, log, adapter)
	if err != nil {
		return model.Outcome{}, err
	}
	defer sess.Close()

	if err := step(log, stateOpenForm, func() error { return adapter.OpenLoginForm(ctx, page) }); err != nil {
		return model.Outcome{}, err
	}
	if err := step(log, stateFillCredentials, func() error {
		return adapter.FillCredentials(ctx, page, job.Mode, job.Credentials)
	}); err != nil {
		return model.Outcome{}, err
	}
	if err := e.solveChallenge(ctx, log, adapter, page, job.Mode); err != nil {
		return model.Outcome{}, err
	}
	if err := step(log, stateSubmit, func() error { return adapter.Submit(ctx, page, job.Mode) }); err != nil {
		return model.Outcome{}, err
	}

	var (
		loginErr string
		rejected bool
	)
	if err := step(log, stateLoginErrorCheck, func() (err error) {
		loginErr, rejected, err = adapter.DetectLoginError(ctx, page)
		return err
	}); err != nil {
		return model.Outcome{}, err
	}
	if rejected {
		log.Log(fmt.Sprintf("Login rejected: %s", loginErr))
		return model.LoginRejected(loginErr), nil
	}

	if err := step(log, stateSelectBonus, func() error { return adapter.SelectBonusOption(ctx, page) }); err != nil {
		return model.Outcome{}, err
	}

	var surface browser.Page
	if err := step(log, stateOpenBonusSurface, func() (err error) {
		surface, err = adapter.OpenBonusSurface(ctx, page)
		return err
	}); err != nil {
		return model.Outcome{}, err
	}
	defer surface.Close()

	if err := step(log, stateTriggerSpin, func() error { return adapter.TriggerSpin(ctx, surface) }); err != nil {
		return model.Outcome{}, err
	}

	var out model.Outcome
	if err := step(log, statePollOutcome, func() (err error) {
		out, err = adapter.PollBonusOutcome(ctx, surface)
		return err
	}); err != nil {
		return model.Outcome{}, err
	}

	log.Step(stateClassify)
	log.Log(fmt.Sprintf("Wheel result: %s %s", out.Kind, out.Message))
	return out, nil
}

// open launches an isolated session and lands on the site. The caller owns
// the returned session.
func (e *Engine) open(ctx context.Context, log *logger.ClassLogger, adapter site.Adapter) (browser.Session, browser.Page, error) {
	url, err := adapter.EntryURL()
	if err != nil {
		return nil, nil, err
	}
	sess, err := e.launcher.Launch(ctx)
	if err != nil {
		return nil, nil, err
	}
	page := sess.Page()

	if err := step(log, stateNavigate, func() error { return page.Navigate(ctx, url) }); err != nil {
		sess.Close()
		return nil, nil, err
	}
	if err := step(log, stateDismissIntro, func() error { return adapter.DismissIntro(ctx, page) }); err != nil {
		sess.Close()
		return nil, nil, err
	}
	return sess, page, nil
}

func (e *Engine) solveChallenge(ctx context.Context, log *logger.ClassLogger, adapter site.Adapter, page browser.Page, mode model.Mode) error {
	return step(log, stateSolveChallenge, func() error {
		target, err := adapter.LocateChallenge(ctx, page, mode)
		if err != nil {
			return err
		}
		_, err = e.solver.Solve(ctx, log, target)
		return err
	})
}

func step(log *logger.ClassLogger, state string, fn func() error) error {
	log.Step(state)
	return model.StepError(state, fn())
}

// isFatal reports failures a fresh attempt cannot fix.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, captcha.ErrZeroBalance)
}

func finish(session *model.Session, out model.Outcome) {
	session.Result = out.Kind.String()
	final := out.Kind.String()
	if out.Message != "" {
		final += ": " + out.Message
	}
	if out.Reason != "" {
		final += ": " + out.Reason
	}
	if out.Succeeded() {
		ui.SetSpinnerSuccess(*session, final)
		return
	}
	ui.SetSpinnerError(*session, final)
}
