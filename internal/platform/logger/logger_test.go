package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

type sampleEngine struct{}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	UseCore(core)
	t.Cleanup(func() { Close() })
	return logs
}

func TestLogCarriesSessionFields(t *testing.T) {
	logs := observe(t)

	session := model.NewSession("job-1", 2, model.Job{
		Requester:   42,
		Site:        model.SiteBMW,
		Mode:        model.ModeLogin,
		Credentials: model.Credentials{Username: "alice_01", Password: "secret1"},
	})
	l := NewLogger(&sampleEngine{}, session)
	l.Log("navigating")

	entries := logs.FilterMessage("navigating").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "sampleEngine", ctx["class"])
	assert.Equal(t, "TestLogCarriesSessionFields", ctx["func"])
	assert.Equal(t, "job-1", ctx["job"])
	assert.Equal(t, int64(3), ctx["account"])
	assert.Equal(t, "BMW", ctx["site"])
	assert.NotContains(t, ctx, "password")
}

func TestStepUpdatesSessionState(t *testing.T) {
	logs := observe(t)

	session := &model.Session{JobID: "j"}
	l := NewNamed("Engine", session)
	l.Step("NAVIGATE")

	assert.Equal(t, "NAVIGATE", session.State)
	assert.Equal(t, 1, logs.FilterMessage("state NAVIGATE").Len())
}

func TestWaitHonoursContext(t *testing.T) {
	observe(t)
	l := NewNamed("Engine", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := l.Wait(ctx, "settling", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, l.Wait(context.Background(), "short", 20*time.Millisecond))
}

func TestErrorAttachesCause(t *testing.T) {
	logs := observe(t)
	NewNamed("Store", nil).Error("admit failed", errors.New("disk full"))

	entries := logs.FilterMessage("admit failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}
