package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ohmynofan/luckywheel-bot/internal/config"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/metrics"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/ui"
	"github.com/ohmynofan/luckywheel-bot/internal/storage/entitlement"
)

type Runner interface {
	Run(ctx context.Context, session *model.Session, job model.Job) model.Outcome
}

type QuotaStore interface {
	Admit(ctx context.Context, req entitlement.AdmitRequest) (model.UserQuota, error)
	Settle(ctx context.Context, userID model.UserID, count int) error
}

type Request struct {
	Requester  model.UserID
	Privileged bool
	Jobs       []model.Job
}

// Batch is the result of one submission. Results line up with the
// submitted jobs; Dropped counts jobs cut by the per-message cap.
type Batch struct {
	ID      string
	Results []model.JobResult
	Dropped int
	Quota   model.UserQuota
}

type Scheduler struct {
	runner  Runner
	store   QuotaStore
	pool    *Pool
	limits  config.Limits
	metrics *metrics.Metrics
	now     func() time.Time
	log     *logger.ClassLogger
}

func New(runner Runner, store QuotaStore, pool *Pool, limits config.Limits, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{
		runner:  runner,
		store:   store,
		pool:    pool,
		limits:  limits,
		metrics: m,
		now:     time.Now,
	}
	s.log = logger.NewLogger(s, nil)
	return s
}

func (s *Scheduler) Pool() *Pool { return s.pool }

// Submit admits a batch and runs it to completion. A returned error means
// nothing ran, except for a settle failure after the batch drained, which
// comes back together with the results.
func (s *Scheduler) Submit(ctx context.Context, req Request) (Batch, error) {
	batch := Batch{ID: uuid.NewString()}
	jobs := req.Jobs
	if limit := s.limits.MaxAccountsPerMessage; limit > 0 && len(jobs) > limit {
		batch.Dropped = len(jobs) - limit
		jobs = jobs[:limit]
	}
	if len(jobs) == 0 {
		return batch, nil
	}

	if req.Privileged {
		s.metrics.BatchAdmitted(true)
		s.log.JustLog(fmt.Sprintf("Privileged batch %s from %d: %d jobs", batch.ID, req.Requester, len(jobs)))
		batch.Results = s.runSequential(ctx, batch.ID, jobs)
		return batch, nil
	}

	quota, err := s.store.Admit(ctx, entitlement.AdmitRequest{
		UserID:   req.Requester,
		Count:    len(jobs),
		MaxTotal: s.limits.MaxAccountsTotal,
		Interval: s.limits.RateLimit,
		Now:      s.now(),
	})
	if err != nil {
		var qe *model.QuotaError
		if errors.As(err, &qe) {
			s.metrics.BatchRejected(string(qe.Reason))
		} else {
			s.metrics.BatchRejected("infrastructure")
		}
		s.log.JustLog(fmt.Sprintf("Batch from %d rejected: %v", req.Requester, err))
		return batch, err
	}
	s.metrics.BatchAdmitted(false)
	s.log.JustLog(fmt.Sprintf("Batch %s from %d admitted: %d jobs", batch.ID, req.Requester, len(jobs)))

	batch.Results = s.runPooled(ctx, batch.ID, jobs)

	// Usage is charged for the whole batch whatever the outcomes were.
	if err := s.store.Settle(context.WithoutCancel(ctx), req.Requester, len(jobs)); err != nil {
		s.log.Error("settle batch "+batch.ID, err)
		return batch, err
	}
	quota.AccountsReserved -= len(jobs)
	quota.AccountsUsed += len(jobs)
	batch.Quota = quota
	return batch, nil
}

func (s *Scheduler) runSequential(ctx context.Context, batchID string, jobs []model.Job) []model.JobResult {
	results := make([]model.JobResult, len(jobs))
	for i, job := range jobs {
		results[i] = s.runJob(ctx, batchID, i, job)
	}
	return results
}

func (s *Scheduler) runPooled(ctx context.Context, batchID string, jobs []model.Job) []model.JobResult {
	results := make([]model.JobResult, len(jobs))

	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			err := s.pool.Do(ctx, func() {
				results[i] = s.runJob(ctx, batchID, i, job)
			})
			if err != nil {
				results[i] = model.JobResult{Username: job.Credentials.Username, Outcome: model.Failed(model.Classify(err))}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) runJob(ctx context.Context, batchID string, index int, job model.Job) model.JobResult {
	session := model.NewSession(fmt.Sprintf("%s/%d", batchID, index), index, job)
	ui.UpdateStatus(*session, "Starting", 0)

	started := time.Now()
	out := s.runner.Run(ctx, session, job)
	s.metrics.JobFinished(string(job.Site), string(job.Mode), out.Kind.String(), time.Since(started))

	return model.JobResult{Username: job.Credentials.Username, Outcome: out}
}
