package rules

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goliatone/go-logger/glog"
)

type glogLogger struct {
	logger glog.Logger
}

// NewGLogger adapts a go-logger logger to Logger. A nil logger falls back to
// FmtLogger.
func NewGLogger(l glog.Logger) Logger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	return glogLogger{logger: l}
}

// NewJSONLogger builds a JSON go-logger writing to out (stdout when nil) at
// level ("info" when empty).
func NewJSONLogger(out io.Writer, level string) Logger {
	if out == nil {
		out = os.Stdout
	}
	if level == "" {
		level = "info"
	}
	return NewGLogger(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel(level),
	))
}

// Logger callers pass printf style arguments, glog treats trailing args as
// slog key/value pairs, so the message is formatted here.
func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(format(msg, args)) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(format(msg, args)) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(format(msg, args)) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(format(msg, args)) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(format(msg, args)) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(format(msg, args)) }

func format(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l glogLogger) WithContext(ctx context.Context) Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}
