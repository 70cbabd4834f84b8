package entitlement

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func newTestStore(t *testing.T, codes ...string) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureCodes(context.Background(), codes))
	return s
}

func TestClaimIsSingleWinner(t *testing.T) {
	s := newTestStore(t, "GALIT2")
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(user model.UserID) {
			defer wg.Done()
			ok, err := s.Claim(ctx, "galit2", user, t0)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(model.UserID(i))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	code, err := s.Code(ctx, "GALIT2")
	require.NoError(t, err)
	require.True(t, code.Claimed())
}

func TestClaimCreatesQuotaRow(t *testing.T) {
	s := newTestStore(t, "GALIT2", "AKOSA0")
	ctx := context.Background()

	ok, err := s.Claim(ctx, "galit2", 7, t0)
	require.NoError(t, err)
	require.True(t, ok)

	q, err := s.Quota(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "GALIT2", q.ClaimedCode)
	assert.True(t, q.Entitled())

	q, err = s.Admit(ctx, AdmitRequest{UserID: 7, Count: 2, MaxTotal: 12, Interval: time.Second, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, 2, q.AccountsReserved)

	// a second win keeps the code already on the quota row
	ok, err = s.Claim(ctx, "AKOSA0", 7, t0)
	require.NoError(t, err)
	require.True(t, ok)
	q, err = s.Quota(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "GALIT2", q.ClaimedCode)

	ok, err = s.Claim(ctx, "GALIT2", 8, t0)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Quota(ctx, 8)
	require.ErrorIs(t, err, model.ErrUnknownUser)
}

func TestClaimForErrors(t *testing.T) {
	s := newTestStore(t, "AKOSA0", "SAKABAN5")
	ctx := context.Background()

	require.NoError(t, s.ClaimFor(ctx, 1, "akosa0", t0))

	err := s.ClaimFor(ctx, 2, "AKOSA0", t0)
	assert.ErrorIs(t, err, model.ErrClaimConflict)

	err = s.ClaimFor(ctx, 1, "SAKABAN5", t0)
	assert.ErrorIs(t, err, model.ErrAlreadyEntitled)

	err = s.ClaimFor(ctx, 3, "NOPE", t0)
	assert.ErrorIs(t, err, model.ErrUnknownCode)

	// losing racers leave nothing behind
	_, err = s.Quota(ctx, 2)
	assert.ErrorIs(t, err, model.ErrUnknownUser)

	ok, err := s.IsClaimedBy(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsClaimedBy(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	q, err := s.Quota(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "AKOSA0", q.ClaimedCode)
	assert.Zero(t, q.AccountsUsed)
}

func TestEnsureCodesKeepsClaims(t *testing.T) {
	s := newTestStore(t, "NGBAYAN5")
	ctx := context.Background()
	require.NoError(t, s.ClaimFor(ctx, 5, "NGBAYAN5", t0))

	require.NoError(t, s.EnsureCodes(ctx, []string{"NGBAYAN5", "MAGNANAKAW2"}))
	codes, err := s.Codes(ctx)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "MAGNANAKAW2", codes[0].Code)
	assert.False(t, codes[0].Claimed())
	require.True(t, codes[1].Claimed())
	assert.Equal(t, model.UserID(5), *codes[1].ClaimedBy)
}

func TestCheckRateLimitBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	interval := 10 * time.Second

	d, err := s.CheckRateLimit(ctx, 9, interval, t0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = s.CheckRateLimit(ctx, 9, interval, t0.Add(interval-time.Millisecond))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Millisecond, d.Wait)

	d, err = s.CheckRateLimit(ctx, 9, interval, t0.Add(interval))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRecordUsageAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordUsage(ctx, 4, 2))
		}()
	}
	wg.Wait()

	q, err := s.Quota(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 20, q.AccountsUsed)
}

func TestAdmitRejectsWithoutMutation(t *testing.T) {
	s := newTestStore(t, "GALIT2")
	ctx := context.Background()
	req := AdmitRequest{UserID: 1, Count: 3, MaxTotal: 12, Interval: 10 * time.Second, Now: t0}

	_, err := s.Admit(ctx, req)
	var qe *model.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.QuotaNotEntitled, qe.Reason)

	require.NoError(t, s.ClaimFor(ctx, 1, "GALIT2", t0))
	require.NoError(t, s.RecordUsage(ctx, 1, 10))

	_, err = s.Admit(ctx, req)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.QuotaTotalLimit, qe.Reason)
	assert.Equal(t, 10, qe.Used)
	assert.Equal(t, 12, qe.Limit)

	q, err := s.Quota(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, q.AccountsReserved)
	assert.True(t, q.LastRequestAt.IsZero(), "rejected admission must not stamp the rate limit")
}

func TestAdmitReserveAndSettle(t *testing.T) {
	s := newTestStore(t, "GALIT2")
	ctx := context.Background()
	require.NoError(t, s.ClaimFor(ctx, 1, "GALIT2", t0))

	q, err := s.Admit(ctx, AdmitRequest{UserID: 1, Count: 6, MaxTotal: 12, Interval: 10 * time.Second, Now: t0})
	require.NoError(t, err)
	assert.Equal(t, 6, q.AccountsReserved)

	_, err = s.Admit(ctx, AdmitRequest{UserID: 1, Count: 1, MaxTotal: 12, Interval: 10 * time.Second, Now: t0.Add(time.Second)})
	var qe *model.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, model.QuotaRateLimited, qe.Reason)
	assert.Equal(t, 9*time.Second, qe.Wait)

	require.NoError(t, s.Settle(ctx, 1, 6))
	q, err = s.Quota(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, q.AccountsUsed)
	assert.Zero(t, q.AccountsReserved)
	assert.Equal(t, t0.UnixMilli(), q.LastRequestAt.UnixMilli())
}

func TestAdmitCeilingUnderConcurrency(t *testing.T) {
	s := newTestStore(t, "GALIT2")
	ctx := context.Background()
	require.NoError(t, s.ClaimFor(ctx, 1, "GALIT2", t0))

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Admit(ctx, AdmitRequest{UserID: 1, Count: 5, MaxTotal: 12, Now: t0})
			if err == nil {
				admitted.Add(1)
				return
			}
			var qe *model.QuotaError
			assert.True(t, errors.As(err, &qe))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), admitted.Load())
	q, err := s.Quota(ctx, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, q.AccountsUsed+q.AccountsReserved, 12)
}

func TestResetQuota(t *testing.T) {
	s := newTestStore(t, "GALIT2")
	ctx := context.Background()
	require.NoError(t, s.ClaimFor(ctx, 1, "GALIT2", t0))
	require.NoError(t, s.RecordUsage(ctx, 1, 12))
	_, err := s.CheckRateLimit(ctx, 1, time.Second, t0)
	require.NoError(t, err)

	require.NoError(t, s.ResetQuota(ctx, 1))
	q, err := s.Quota(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, q.AccountsUsed)
	assert.True(t, q.LastRequestAt.IsZero())
	assert.Equal(t, "GALIT2", q.ClaimedCode)

	assert.ErrorIs(t, s.ResetQuota(ctx, 77), model.ErrUnknownUser)

	list, err := s.ListQuotas(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestClosedStoreIsInfrastructureError(t *testing.T) {
	s := newTestStore(t, "GALIT2")
	require.NoError(t, s.Close())

	_, err := s.Admit(context.Background(), AdmitRequest{UserID: 1, Count: 1, MaxTotal: 12, Now: t0})
	var ie *model.InfrastructureError
	assert.ErrorAs(t, err, &ie)
}
