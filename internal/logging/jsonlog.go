package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "message"}})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init configures the process logger. format is "json" (default) or "text";
// when file is set output goes to stdout and the file.
func Init(level, file, format string) error {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.SetLevel(lvl)
	if strings.EqualFold(format, "text") {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		std.SetFormatter(&logrus.JSONFormatter{FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "message"}})
	}
	writers := []io.Writer{os.Stdout}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}
	std.SetOutput(io.MultiWriter(writers...))
	return nil
}

// SetOutput redirects log output; used by tests.
func SetOutput(w io.Writer) { std.SetOutput(w) }

func Log(level, msg string, fields map[string]any) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.WithFields(logrus.Fields(fields)).Log(lvl, msg)
}

func Debug(msg string, fields map[string]any) { Log("debug", msg, fields) }
func Info(msg string, fields map[string]any)  { Log("info", msg, fields) }
func Warn(msg string, fields map[string]any)  { Log("warning", msg, fields) }
func Error(msg string, fields map[string]any) { Log("error", msg, fields) }

// Leveled adapts the process logger to key/value leveled interfaces
// such as retryablehttp.LeveledLogger.
type Leveled struct {
	Subsystem string
}

func (l Leveled) entry(kv []any) *logrus.Entry {
	f := logrus.Fields{}
	if l.Subsystem != "" {
		f["subsystem"] = l.Subsystem
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			f[k] = kv[i+1]
		}
	}
	return std.WithFields(f)
}

// Error is logged at warning level; retrying clients report every failed attempt.
func (l Leveled) Error(msg string, kv ...any) { l.entry(kv).Warn(msg) }
func (l Leveled) Warn(msg string, kv ...any)  { l.entry(kv).Warn(msg) }
func (l Leveled) Info(msg string, kv ...any)  { l.entry(kv).Info(msg) }
func (l Leveled) Debug(msg string, kv ...any) { l.entry(kv).Debug(msg) }
