package captcha

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/logger"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/metrics"
)

// Target is a located challenge: the image to read and the input to type
// the answer into.
type Target interface {
	CaptureImage(ctx context.Context) ([]byte, error)
	Enter(ctx context.Context, code string) error
}

// Recognizer extracts raw text from an image file.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

type Options struct {
	Attempts       int
	OCRAttempts    int
	OCRBackoff     time.Duration
	AttemptBackoff time.Duration
	TempDir        string
}

type Solver struct {
	recognizer Recognizer
	opts       Options
	metrics    *metrics.Metrics
	log        *logger.ClassLogger
}

var codePattern = regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, challengeLength))

func NewSolver(recognizer Recognizer, opts Options, m *metrics.Metrics) *Solver {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.OCRAttempts <= 0 {
		opts.OCRAttempts = 3
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	s := &Solver{recognizer: recognizer, opts: opts, metrics: m}
	s.log = logger.NewLogger(s, nil)
	return s
}

// Solve reads the challenge, types the accepted code into the target and
// returns it. Exhausting every attempt yields model.ErrChallengeUnsolved.
func (s *Solver) Solve(ctx context.Context, log *logger.ClassLogger, target Target) (string, error) {
	if log == nil {
		log = s.log
	}

	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if attempt > 1 {
			if err := log.Wait(ctx, fmt.Sprintf("Retrying challenge (%d/%d)", attempt, s.opts.Attempts), s.opts.AttemptBackoff); err != nil {
				return "", err
			}
		}

		log.Log(fmt.Sprintf("Reading challenge (%d/%d)", attempt, s.opts.Attempts))
		code, err := s.attempt(ctx, log, target)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, ErrZeroBalance) {
				return "", fmt.Errorf("%w: %w", model.ErrChallengeUnsolved, err)
			}
			log.JustLog(fmt.Sprintf("Challenge attempt %d failed: %v", attempt, err))
			continue
		}

		if err := target.Enter(ctx, code); err != nil {
			return "", model.StepError("SOLVE_CHALLENGE", err)
		}
		log.Log(fmt.Sprintf("Challenge solved: %s", code))
		return code, nil
	}

	return "", fmt.Errorf("%w after %d attempts", model.ErrChallengeUnsolved, s.opts.Attempts)
}

func (s *Solver) attempt(ctx context.Context, log *logger.ClassLogger, target Target) (string, error) {
	image, err := target.CaptureImage(ctx)
	if err != nil {
		return "", fmt.Errorf("capture image: %w", err)
	}
	if len(image) == 0 {
		return "", errors.New("empty challenge image")
	}

	path := filepath.Join(s.opts.TempDir, "challenge-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return "", model.Infra("write challenge image", err)
	}
	defer os.Remove(path)

	for call := 1; call <= s.opts.OCRAttempts; call++ {
		if call > 1 {
			if err := log.Wait(ctx, "Re-reading challenge", s.opts.OCRBackoff); err != nil {
				return "", err
			}
		}

		text, err := s.recognizer.Recognize(ctx, path)
		if err != nil {
			s.metrics.ChallengeExtraction("error")
			if errors.Is(err, ErrZeroBalance) {
				return "", err
			}
			log.JustLog(fmt.Sprintf("Extraction %d failed: %v", call, err))
			continue
		}

		code := normalize(text)
		if codePattern.MatchString(code) {
			s.metrics.ChallengeExtraction("accepted")
			return code, nil
		}
		s.metrics.ChallengeExtraction("rejected")
		log.JustLog(fmt.Sprintf("Extraction %d rejected: %q", call, text))
	}
	return "", fmt.Errorf("no %d-digit code after %d reads", challengeLength, s.opts.OCRAttempts)
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), "")
}
