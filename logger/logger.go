// Package logger wraps logrus with the field conventions used across
// marketdash: every line carries a component, and stream handlers add the
// symbol and stream they belong to.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is the structured payload of a log line.
type Fields map[string]interface{}

// Log is the process logger.
type Log struct {
	*logrus.Logger
}

// Entry is a log line under construction.
type Entry struct {
	*logrus.Entry
}

// Options selects the level, encoding and destination of the logger.
type Options struct {
	Level  string
	Format string
	// Output is stdout, stderr or a file path.
	Output string
	// MaxAge in days enables rotation of file output.
	MaxAge    int
	MaxSizeMB int
	Compress  bool
}

const levelEnvVar = "LOG_LEVEL"

var globalLogger = Logger()

// Logger builds a JSON logger at the level named by LOG_LEVEL, info by default.
func Logger() *Log {
	l := logrus.New()
	l.SetReportCaller(true)
	l.SetFormatter(jsonFormatter())
	l.AddHook(callerHook{})

	lvl, err := parseLevel(levelFromEnv("info"))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &Log{Logger: l}
}

// GetLogger returns the process wide logger.
func GetLogger() *Log {
	return globalLogger
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

// WithSymbol tags the line with the trading pair it concerns.
func (l *Log) WithSymbol(symbol string) *Entry {
	return &Entry{Entry: l.Logger.WithField("symbol", symbol)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

func (e *Entry) WithSymbol(symbol string) *Entry {
	return &Entry{Entry: e.Entry.WithField("symbol", symbol)}
}

// WithStream tags the line with a push stream name such as btcusdt@ticker.
func (e *Entry) WithStream(stream string) *Entry {
	return &Entry{Entry: e.Entry.WithField("stream", stream)}
}

func (e *Entry) Warn(args ...interface{}) {
	recordWarn(e.component())
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	recordError(e.component())
	e.Entry.Error(args...)
}

func (e *Entry) component() string {
	if c, ok := e.Entry.Data["component"].(string); ok {
		return c
	}
	return "unknown"
}

// LogMetric writes a structured metric line for the component. fields is not modified.
func (e *Entry) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	if metricType == "" {
		metricType = "counter"
	}
	out := merge(fields, Fields{
		"metric":      metric,
		"value":       value,
		"metric_type": metricType,
	})
	e.WithComponent(component).WithFields(out).Info("metric")
}

func (l *Log) LogMetric(component string, metric string, value interface{}, metricType string, fields Fields) {
	l.WithComponent(component).LogMetric(component, metric, value, metricType, fields)
}

// Timing logs how long operation took at debug level.
func (e *Entry) Timing(operation string, d time.Duration, fields Fields) {
	out := merge(fields, Fields{
		"operation":   operation,
		"duration_ms": float64(d.Nanoseconds()) / 1e6,
	})
	e.WithFields(out).Debug("timing")
}

// Configure applies opts. LOG_LEVEL, when set, wins over opts.Level.
func (l *Log) Configure(opts Options) error {
	level := levelFromEnv(opts.Level)
	lvl, err := parseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}

	var formatter logrus.Formatter
	switch opts.Format {
	case "json", "":
		formatter = jsonFormatter()
	case "text":
		formatter = &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		}
	default:
		return fmt.Errorf("invalid log format '%s'", opts.Format)
	}

	out, err := openOutput(opts)
	if err != nil {
		return err
	}

	l.SetLevel(lvl)
	l.SetReportCaller(true)
	l.SetFormatter(formatter)
	l.SetOutput(out)
	return nil
}

// IsReportLevel reports whether the level enables the periodic runtime report.
func IsReportLevel(level string) bool {
	return strings.EqualFold(strings.TrimSpace(levelFromEnv(level)), "report")
}

func openOutput(opts Options) (io.Writer, error) {
	switch opts.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if opts.MaxAge > 0 {
		size := opts.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		return &lumberjack.Logger{
			Filename: opts.Output,
			MaxAge:   opts.MaxAge,
			MaxSize:  size,
			Compress: opts.Compress,
		}, nil
	}
	file, err := os.OpenFile(opts.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file '%s': %w", opts.Output, err)
	}
	return file, nil
}

func levelFromEnv(fallback string) string {
	if env := os.Getenv(levelEnvVar); env != "" {
		return env
	}
	return fallback
}

// parseLevel accepts every logrus level plus "report", which logs at info
// and additionally enables the periodic runtime report.
func parseLevel(level string) (logrus.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "report" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func merge(base, extra Fields) Fields {
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
