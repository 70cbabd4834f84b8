package captcha

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

type scriptedRecognizer struct {
	replies []string
	errs    []error
	calls   int
	paths   []string
}

func (r *scriptedRecognizer) Recognize(_ context.Context, imagePath string) (string, error) {
	i := r.calls
	r.calls++
	r.paths = append(r.paths, imagePath)
	if i < len(r.errs) && r.errs[i] != nil {
		return "", r.errs[i]
	}
	if i < len(r.replies) {
		return r.replies[i], nil
	}
	return "", nil
}

type fakeTarget struct {
	captures int
	entered  []string
	image    []byte
	err      error
}

func (f *fakeTarget) CaptureImage(context.Context) ([]byte, error) {
	f.captures++
	if f.err != nil {
		return nil, f.err
	}
	return f.image, nil
}

func (f *fakeTarget) Enter(_ context.Context, code string) error {
	f.entered = append(f.entered, code)
	return nil
}

func newTestSolver(t *testing.T, r Recognizer) *Solver {
	return NewSolver(r, Options{Attempts: 3, OCRAttempts: 3, TempDir: t.TempDir()}, nil)
}

func TestSolveAcceptsOnlyFourDigits(t *testing.T) {
	rec := &scriptedRecognizer{replies: []string{"12", "abcd", "4821"}}
	target := &fakeTarget{image: []byte("png")}

	code, err := newTestSolver(t, rec).Solve(context.Background(), nil, target)
	require.NoError(t, err)
	assert.Equal(t, "4821", code)
	assert.Equal(t, 3, rec.calls)
	assert.Equal(t, 1, target.captures)
	assert.Equal(t, []string{"4821"}, target.entered)

	for _, p := range rec.paths {
		_, statErr := os.Stat(p)
		assert.True(t, os.IsNotExist(statErr), "temp image must be removed")
	}
}

func TestSolveStripsWhitespace(t *testing.T) {
	rec := &scriptedRecognizer{replies: []string{" 48 2\n1 "}}
	target := &fakeTarget{image: []byte("png")}

	code, err := newTestSolver(t, rec).Solve(context.Background(), nil, target)
	require.NoError(t, err)
	assert.Equal(t, "4821", code)
}

func TestSolveRecapturesPerOuterAttempt(t *testing.T) {
	rec := &scriptedRecognizer{replies: []string{"1", "2", "3", "12345", "x", "y", "0007"}}
	target := &fakeTarget{image: []byte("png")}

	code, err := newTestSolver(t, rec).Solve(context.Background(), nil, target)
	require.NoError(t, err)
	assert.Equal(t, "0007", code)
	assert.Equal(t, 3, target.captures)
	assert.Equal(t, 7, rec.calls)
}

func TestSolveExhaustion(t *testing.T) {
	rec := &scriptedRecognizer{}
	target := &fakeTarget{image: []byte("png")}

	_, err := newTestSolver(t, rec).Solve(context.Background(), nil, target)
	require.ErrorIs(t, err, model.ErrChallengeUnsolved)
	assert.Equal(t, "challenge unsolved", model.Classify(err))
	assert.Equal(t, 9, rec.calls)
	assert.Empty(t, target.entered)
}

func TestSolveCaptureFailuresCountAsAttempts(t *testing.T) {
	rec := &scriptedRecognizer{}
	target := &fakeTarget{err: errors.New("image missing")}

	_, err := newTestSolver(t, rec).Solve(context.Background(), nil, target)
	require.ErrorIs(t, err, model.ErrChallengeUnsolved)
	assert.Equal(t, 3, target.captures)
	assert.Zero(t, rec.calls)
}

func TestSolveStopsOnZeroBalance(t *testing.T) {
	rec := &scriptedRecognizer{errs: []error{ErrZeroBalance, ErrZeroBalance, ErrZeroBalance}}
	target := &fakeTarget{image: []byte("png")}

	_, err := newTestSolver(t, rec).Solve(context.Background(), nil, target)
	require.ErrorIs(t, err, model.ErrChallengeUnsolved)
	require.ErrorIs(t, err, ErrZeroBalance)
	assert.Equal(t, 1, rec.calls)
}

func TestSolveHonoursCancellation(t *testing.T) {
	rec := &scriptedRecognizer{}
	target := &fakeTarget{image: []byte("png")}
	s := NewSolver(rec, Options{Attempts: 3, OCRAttempts: 3, OCRBackoff: time.Hour, TempDir: t.TempDir()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Solve(ctx, nil, target)
	require.ErrorIs(t, err, context.Canceled)
}
