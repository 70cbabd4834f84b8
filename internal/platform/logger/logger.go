package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
	"github.com/ohmynofan/luckywheel-bot/internal/platform/ui"
	"github.com/ohmynofan/luckywheel-bot/pkg/utils"
)

var (
	base    = zap.NewNop()
	rotator *lumberjack.Logger
	mu      sync.RWMutex
)

// Init routes every ClassLogger to a rotating JSON log file.
func Init(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(lj), zap.DebugLevel)

	mu.Lock()
	defer mu.Unlock()
	base = zap.New(core)
	rotator = lj
	return nil
}

// UseCore swaps the backend; tests use it with zaptest/observer.
func UseCore(core zapcore.Core) {
	mu.Lock()
	defer mu.Unlock()
	base = zap.New(core)
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = zap.NewNop()
	if rotator != nil {
		err := rotator.Close()
		rotator = nil
		return err
	}
	return nil
}

func backend() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

type ClassLogger struct {
	class   string
	session *model.Session
}

func NewLogger(v interface{}, session *model.Session) *ClassLogger {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &ClassLogger{class: t.Name(), session: session}
}

func NewNamed(name string, session *model.Session) *ClassLogger {
	return &ClassLogger{class: name, session: session}
}

func (l *ClassLogger) Session() *model.Session { return l.session }

func (l *ClassLogger) fields(funcName string) []zap.Field {
	fields := []zap.Field{zap.String("class", l.class), zap.String("func", funcName)}
	if s := l.session; s != nil {
		fields = append(fields,
			zap.String("job", s.JobID),
			zap.Int("account", s.Index+1),
			zap.Int64("requester", int64(s.Requester)),
			zap.String("site", string(s.Site)),
			zap.String("mode", string(s.Mode)),
			zap.String("username", s.Username),
			zap.String("state", s.State),
		)
	}
	return fields
}

// Log writes msg to the file and shows it on the job's board line.
func (l *ClassLogger) Log(msg string) {
	backend().Info(msg, l.fields(callerFunc(2))...)
	if l.session != nil {
		ui.UpdateStatus(*l.session, utils.Truncate(msg, 140), 0)
	}
}

// Step records the engine state the job entered.
func (l *ClassLogger) Step(state string) {
	if l.session != nil {
		l.session.State = state
	}
	backend().Info("state "+state, l.fields(callerFunc(2))...)
	if l.session != nil {
		ui.UpdateStatus(*l.session, state, 0)
	}
}

// Wait sleeps for d with a countdown on the board, returning early with the
// context's error.
func (l *ClassLogger) Wait(ctx context.Context, msg string, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	backend().Debug(fmt.Sprintf("%s (%s)", msg, d), l.fields(callerFunc(2))...)

	deadline := time.Now().Add(d)
	interval := time.Second
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if l.session != nil {
			ui.UpdateStatus(*l.session, utils.Truncate(msg, 140), remaining)
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if l.session != nil {
		ui.UpdateStatus(*l.session, utils.Truncate(msg, 140), 0)
	}
	return nil
}

func (l *ClassLogger) JustLog(msg string) {
	backend().Info(msg, l.fields(callerFunc(2))...)
}

func (l *ClassLogger) Error(msg string, err error) {
	backend().Error(msg, append(l.fields(callerFunc(2)), zap.Error(err))...)
}

func (l *ClassLogger) LogObject(msg string, obj interface{}) {
	formattedString, err := utils.FormatObject(obj)
	if err != nil {
		l.JustLog(fmt.Sprintf("Error formatting object: %v", err))
		return
	}
	backend().Debug(fmt.Sprintf("%s : \n%v", msg, formattedString), l.fields(callerFunc(2))...)
}

func callerFunc(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), ".")
	return parts[len(parts)-1]
}
