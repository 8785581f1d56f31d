// Package logging is the structured logger shared by the sharpening core, the
// batch runner and the CLI. Records carry the batch and scene-run IDs that the
// sidecar files and trace spans use, so one scene can be followed across all
// three.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d} }

// Stage names the pipeline stage a record belongs to.
func Stage(name string) Field { return Field{Key: "stage", Value: name} }

// Err records an error under the "error" key.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger is the logging interface the packages depend on.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config controls the slog handler.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // text or json
	AddSource bool
	Output    io.Writer // stderr when nil
}

// ConfigFromEnv reads TIRSHARPEN_LOG_LEVEL, TIRSHARPEN_LOG_FORMAT and
// TIRSHARPEN_LOG_SOURCE.
func ConfigFromEnv() Config {
	source, _ := strconv.ParseBool(os.Getenv("TIRSHARPEN_LOG_SOURCE"))
	return Config{
		Level:     os.Getenv("TIRSHARPEN_LOG_LEVEL"),
		Format:    os.Getenv("TIRSHARPEN_LOG_FORMAT"),
		AddSource: source,
	}
}

// NewFromEnv is New(ConfigFromEnv()).
func NewFromEnv() Logger { return New(ConfigFromEnv()) }

// New builds a slog-backed Logger. Durations are written in seconds so stage
// timings read the same in text and JSON output.
func New(cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: secondsAttr,
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &slogger{l: slog.New(handler)}
}

func secondsAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.Float64(a.Key, a.Value.Duration().Seconds())
	}
	return a
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
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

type slogger struct {
	l *slog.Logger
}

func (s *slogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = slog.Any(f.Key, f.Value)
	}
	return &slogger{l: s.l.With(args...)}
}

func (s *slogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelDebug, msg, fields)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelInfo, msg, fields)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelWarn, msg, fields)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelError, msg, fields)
}

// Noop returns a logger that drops everything.
func Noop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) With(...Field) Logger                    { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

type ctxKey int

const (
	batchIDKey ctxKey = iota
	runIDKey
)

// ForBatch tags ctx with a batch ID, keeping one that is already there, and
// returns a logger carrying it.
func ForBatch(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	id := BatchID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = context.WithValue(ctx, batchIDKey, id)
	}
	return ctx, base.With(String("batch_id", id))
}

// ForScene starts a scene run: ctx gets a fresh run ID and the returned
// logger carries it with the input path and any batch ID.
func ForScene(ctx context.Context, base Logger, input string) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	id := uuid.NewString()
	ctx = context.WithValue(ctx, runIDKey, id)
	fields := []Field{String("run_id", id), String("input", input)}
	if batch := BatchID(ctx); batch != "" {
		fields = append(fields, String("batch_id", batch))
	}
	return ctx, base.With(fields...)
}

// BatchID returns the batch ID set by ForBatch, or "".
func BatchID(ctx context.Context) string {
	v, _ := ctx.Value(batchIDKey).(string)
	return v
}

// RunID returns the scene run ID set by ForScene, or "".
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}
