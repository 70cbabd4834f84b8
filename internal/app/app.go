package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/captcha"
	adhttp "github.com/ohmynofan/luckywheel-bot/internal/adapters/http"
	"github.com/ohmynofan/luckywheel-bot/internal/adapters/site"
	"github.com/ohmynofan/luckywheel-bot/internal/app/report"
	"github.com/ohmynofan/luckywheel-bot/internal/app/scheduler"
	"github.com/ohmynofan/luckywheel-bot/internal/app/worker"
	"github.com/ohmynofan/luckywheel-bot/internal/config"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/metrics"
	"github.com/ohmynofan/luckywheel-bot/internal/storage/entitlement"
)

const recognizerTimeout = 30 * time.Second

// App is what the front end talks to. Every operation is safe to call
// concurrently from different requesters.
type App struct {
	cfg       config.Config
	store     *entitlement.Store
	scheduler *scheduler.Scheduler
	log       *logger.ClassLogger
	now       func() time.Time
}

// New opens the store, seeds the code pool and wires the automation stack.
func New(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*App, error) {
	sites, err := config.LoadSites(cfg.SitesFile, cfg.Sites)
	if err != nil {
		return nil, err
	}
	cfg.Sites = sites

	registry, err := site.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	recognizer, err := newRecognizer(cfg)
	if err != nil {
		return nil, err
	}

	store, err := entitlement.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureCodes(ctx, cfg.TrialCodes); err != nil {
		store.Close()
		return nil, err
	}

	solver := captcha.NewSolver(recognizer, captcha.Options{
		Attempts:       cfg.Challenge.Attempts,
		OCRAttempts:    cfg.Challenge.OCRAttempts,
		OCRBackoff:     cfg.Challenge.OCRBackoff,
		AttemptBackoff: cfg.Challenge.AttemptBackoff,
		TempDir:        cfg.Challenge.TempDir,
	}, m)
	engine := worker.NewEngine(browser.NewChrome(cfg.Browser, cfg.Timeouts.Navigate), registry, solver)
	sched := scheduler.New(engine, store, scheduler.NewPool(cfg.Limits.WorkerPoolSize, m), cfg.Limits, m)

	return newApp(cfg, store, sched), nil
}

func newApp(cfg config.Config, store *entitlement.Store, sched *scheduler.Scheduler) *App {
	a := &App{cfg: cfg, store: store, scheduler: sched, now: time.Now}
	a.log = logger.NewLogger(a, nil)
	return a
}

func newRecognizer(cfg config.Config) (captcha.Recognizer, error) {
	switch cfg.CaptchaProvider {
	case config.ProviderTwoCaptcha, config.ProviderCapSolver:
		client, err := adhttp.NewAPIClient(cfg.SolverProxy, recognizerTimeout)
		if err != nil {
			return nil, err
		}
		if cfg.CaptchaProvider == config.ProviderTwoCaptcha {
			return captcha.NewTwoCaptcha(client, cfg.TwoCaptchaAPIKey), nil
		}
		return captcha.NewCapSolver(client, cfg.CapSolverAPIKey), nil
	case config.ProviderTesseract, "":
		return captcha.NewTesseract(), nil
	}
	return nil, fmt.Errorf("unknown captcha provider %q", cfg.CaptchaProvider)
}

func (a *App) Close() error { return a.store.Close() }

func (a *App) Config() config.Config { return a.cfg }

func (a *App) CheckEntitlement(ctx context.Context, userID model.UserID) (bool, error) {
	if a.cfg.IsAdmin(userID) {
		return true, nil
	}
	return a.store.IsClaimedBy(ctx, userID)
}

// ClaimEntitlement claims one named code. Privileged users need none and
// get an empty code back.
func (a *App) ClaimEntitlement(ctx context.Context, userID model.UserID, code string) (string, error) {
	if a.cfg.IsAdmin(userID) {
		return "", nil
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || !a.cfg.IsTrialCode(code) {
		return "", model.ErrUnknownCode
	}
	if err := a.store.ClaimFor(ctx, userID, code, a.now()); err != nil {
		a.log.JustLog(fmt.Sprintf("[User:%d] claim %s failed: %v", userID, code, err))
		return "", err
	}
	a.log.JustLog(fmt.Sprintf("[User:%d] claimed %s", userID, code))
	return code, nil
}

// ClaimAnyEntitlement walks the pool in configured order and keeps the
// first code it wins.
func (a *App) ClaimAnyEntitlement(ctx context.Context, userID model.UserID) (string, error) {
	if a.cfg.IsAdmin(userID) {
		return "", nil
	}
	held, err := a.store.IsClaimedBy(ctx, userID)
	if err != nil {
		return "", err
	}
	if held {
		return "", model.ErrAlreadyEntitled
	}

	for _, code := range a.cfg.TrialCodes {
		err := a.store.ClaimFor(ctx, userID, code, a.now())
		switch {
		case err == nil:
			a.log.JustLog(fmt.Sprintf("[User:%d] auto-claimed %s", userID, code))
			return code, nil
		case errors.Is(err, model.ErrClaimConflict), errors.Is(err, model.ErrUnknownCode):
			continue
		default:
			return "", err
		}
	}
	return "", model.ErrNoCodesLeft
}

// CheckQuota reports whether count more accounts would be admitted right
// now, ignoring the rate limit. It changes nothing.
func (a *App) CheckQuota(ctx context.Context, userID model.UserID, count int) error {
	if a.cfg.IsAdmin(userID) {
		return nil
	}
	limits := a.cfg.Limits
	if count > limits.MaxAccountsPerMessage {
		return &model.QuotaError{Reason: model.QuotaBatchTooLarge, Limit: limits.MaxAccountsPerMessage}
	}

	q, err := a.store.Quota(ctx, userID)
	if errors.Is(err, model.ErrUnknownUser) {
		return &model.QuotaError{Reason: model.QuotaNotEntitled}
	}
	if err != nil {
		return err
	}
	if !q.Entitled() {
		return &model.QuotaError{Reason: model.QuotaNotEntitled}
	}
	if used := q.AccountsUsed + q.AccountsReserved; used+count > limits.MaxAccountsTotal {
		return &model.QuotaError{Reason: model.QuotaTotalLimit, Limit: limits.MaxAccountsTotal, Used: used}
	}
	return nil
}

// SubmitBatch runs jobs for userID and blocks until every admitted job has
// an outcome.
func (a *App) SubmitBatch(ctx context.Context, userID model.UserID, jobs []model.Job) (scheduler.Batch, error) {
	return a.scheduler.Submit(ctx, scheduler.Request{
		Requester:  userID,
		Privileged: a.cfg.IsAdmin(userID),
		Jobs:       jobs,
	})
}

func (a *App) Usage(ctx context.Context, userID model.UserID) (model.UserQuota, error) {
	return a.store.Quota(ctx, userID)
}

func (a *App) ResetQuota(ctx context.Context, userID model.UserID) error {
	if err := a.store.ResetQuota(ctx, userID); err != nil {
		return err
	}
	a.log.JustLog(fmt.Sprintf("[User:%d] quota reset", userID))
	return nil
}

func (a *App) ListQuotas(ctx context.Context) ([]model.UserQuota, error) {
	return a.store.ListQuotas(ctx)
}

func (a *App) ListCodes(ctx context.Context) ([]model.EntitlementCode, error) {
	return a.store.Codes(ctx)
}

// Code reports the claim state of a single pool code.
func (a *App) Code(ctx context.Context, code string) (model.EntitlementCode, error) {
	return a.store.Code(ctx, code)
}

func (a *App) Status() report.Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	pool := a.scheduler.Pool()
	return report.Status{
		PoolWidth: pool.Width(),
		Active:    pool.Active(),
		Queued:    pool.Queued(),
		HeapAlloc: mem.HeapAlloc,
		Sys:       mem.Sys,
	}
}
