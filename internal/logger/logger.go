// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured loggers used across fusebox: a
// default logger for general operation, and two named loggers for the
// finer-grained output spec'd informally in the operation table (internal
// bookkeeping detail, and the access-class audit trail). The dispatcher
// writes audit lines for OPEN/CREATE/MKDIR/SYMLINK/LINK/RENAME/UNLINK/RMDIR;
// reads, writes and directory opens are not logged.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fuseboxfs/fusebox/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels outside slog's own range: LevelTrace sits below Debug for
// the most verbose tracing, LevelOff above Error so nothing is emitted.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelOff   slog.Level = slog.LevelError + 4
)

var severityToLevel = map[cfg.LogSeverity]slog.Level{
	cfg.TraceLogSeverity:   LevelTrace,
	cfg.DebugLogSeverity:   slog.LevelDebug,
	cfg.InfoLogSeverity:    slog.LevelInfo,
	cfg.WarningLogSeverity: slog.LevelWarn,
	cfg.ErrorLogSeverity:   slog.LevelError,
	cfg.OffLogSeverity:     LevelOff,
}

type loggerFactory struct {
	level  *slog.LevelVar
	format string
	writer io.Writer
}

func (f *loggerFactory) handler(w io.Writer, prefix string) slog.Handler {
	if f.format == "json" {
		return newJSONHandler(w, f.level)
	}
	return newTextHandler(w, f.level, prefix)
}

var (
	defaultFactory  = &loggerFactory{level: new(slog.LevelVar), format: "text", writer: os.Stderr}
	defaultLogger   = slog.New(defaultFactory.handler(os.Stderr, ""))
	operationLogger = slog.New(defaultFactory.handler(os.Stderr, "op: "))
	accessLogger    = slog.New(defaultFactory.handler(os.Stderr, "acs: "))
)

// Init (re)configures the package-level loggers from a resolved config. It
// mirrors the teacher's InitLogFile/SetLogFormat split into one call because
// fusebox has no legacy config tree to migrate incrementally.
func Init(c cfg.LoggingConfig) error {
	level, ok := severityToLevel[c.Severity]
	if !ok {
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if c.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    c.LogRotate.MaxFileSizeMb,
			MaxBackups: c.LogRotate.BackupFileCount,
			Compress:   c.LogRotate.Compress,
		}
	}

	defaultFactory = &loggerFactory{level: new(slog.LevelVar), format: c.Format, writer: w}
	defaultFactory.level.Set(level)

	defaultLogger = slog.New(defaultFactory.handler(w, ""))
	operationLogger = slog.New(defaultFactory.handler(w, "op: "))
	accessLogger = slog.New(defaultFactory.handler(w, "acs: "))

	return nil
}

// Operation returns the logger used for dispatcher-internal detail.
func Operation() *slog.Logger { return operationLogger }

// Access returns the logger used for the access-class audit trail.
func Access() *slog.Logger { return accessLogger }

func Tracef(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...interface{}) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}

// textHandler renders "time=\"...\" severity=LEVEL message=\"...\" k=v ..." lines.
type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
	attrs  []slog.Attr
}

func newTextHandler(w io.Writer, level *slog.LevelVar, prefix string) *textHandler {
	return &textHandler{w: w, level: level, prefix: prefix}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	var b strings.Builder
	fmt.Fprintf(&b, "time=%q severity=%s message=%q",
		r.Time.Format("02/01/2006 15:04:05.000000"), sev, h.prefix+r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%q", a.Key, a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%q", a.Key, a.Value.String())
		return true
	})
	b.WriteByte('\n')
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &textHandler{w: h.w, level: h.level, prefix: h.prefix, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}
func (h *textHandler) WithGroup(_ string) slog.Handler { return h }

// jsonHandler renders {"timestamp":{"seconds":N,"nanos":N},"severity":"...","message":"...","key":"value",...},
// with every attr as a top-level string field.
type jsonHandler struct {
	w     io.Writer
	level *slog.LevelVar
	attrs []slog.Attr
}

func newJSONHandler(w io.Writer, level *slog.LevelVar) *jsonHandler {
	return &jsonHandler{w: w, level: level}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q",
		r.Time.Unix(), r.Time.Nanosecond(), severityName(r.Level), r.Message)
	all := append(append([]slog.Attr(nil), h.attrs...), recordAttrs(r)...)
	for _, a := range all {
		fmt.Fprintf(&b, ",%q:%q", a.Key, a.Value.String())
	}
	b.WriteString("}\n")
	_, err := io.WriteString(h.w, b.String())
	return err
}

func recordAttrs(r slog.Record) []slog.Attr {
	out := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		out = append(out, a)
		return true
	})
	return out
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jsonHandler{w: h.w, level: h.level, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}
func (h *jsonHandler) WithGroup(_ string) slog.Handler { return h }

func severityName(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}
