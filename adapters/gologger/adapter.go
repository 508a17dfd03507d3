package gologger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

const LevelTrace = slog.LevelDebug - 4

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// SlogLogger backs glog.Logger with a log/slog logger.
type SlogLogger struct {
	base *slog.Logger
	ctx  context.Context
	exit func(int)
}

func NewSlogLogger(base *slog.Logger) *SlogLogger {
	if base == nil {
		base = slog.Default()
	}
	return &SlogLogger{base: base, ctx: context.Background(), exit: os.Exit}
}

func (l *SlogLogger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
	if l.exit != nil {
		l.exit(1)
	}
}

func (l *SlogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SlogLogger{base: l.base, ctx: ctx, exit: l.exit}
}

func (l *SlogLogger) WithFields(fields map[string]any) glog.Logger {
	if len(fields) == 0 {
		return l
	}
	args := make([]any, 0, len(fields)*2)
	for key, value := range fields {
		args = append(args, key, value)
	}
	return &SlogLogger{base: l.base.With(args...), ctx: l.ctx, exit: l.exit}
}

func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Log(l.ctx, level, msg, args...)
}

// SlogProvider hands out named SlogLoggers.
type SlogProvider struct {
	base *slog.Logger
}

func NewSlogProvider(base *slog.Logger) *SlogProvider {
	if base == nil {
		base = slog.Default()
	}
	return &SlogProvider{base: base}
}

func (p *SlogProvider) GetLogger(name string) glog.Logger {
	logger := p.base
	if name = strings.TrimSpace(name); name != "" {
		logger = logger.With("logger", name)
	}
	return NewSlogLogger(logger)
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// resolve to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	_ glog.Logger         = (*SlogLogger)(nil)
	_ glog.FieldsLogger   = (*SlogLogger)(nil)
	_ glog.LoggerProvider = (*SlogProvider)(nil)
)
