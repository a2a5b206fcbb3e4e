// Package logger wraps logrus with the daemon's three possible
// destinations: console, a log file, and syslog. The reference
// implementation's Info/Log routines pick stderr/stdout-or-syslog depending
// on whether a logging facility was configured (readflows.c); this keeps
// that same facility-driven choice but lets all three destinations run
// concurrently instead of being mutually exclusive.
package logger

import (
	"fmt"
	"log/syslog"
	"os"

	"github.com/sirupsen/logrus"
	lsyslog "github.com/sirupsen/logrus/hooks/syslog"
)

// Logger handles application logging across its configured destinations.
type Logger struct {
	consoleLogger *logrus.Logger
	fileLogger    *logrus.Logger
	syslogLogger  *logrus.Logger

	consoleEnabled bool
	fileEnabled    bool
	syslogEnabled  bool

	done bool // spec.md §7: suppresses reader-path error logs during shutdown
}

// Config contains logger configuration.
type Config struct {
	Level         string
	Format        string
	ConsoleOutput bool
	ConsoleLevel  string
	ConsoleFormat string

	FileOutput string // path to a log file; empty disables file logging
	FileLevel  string

	// SyslogFacility names a syslog facility (e.g. "local6"); empty
	// disables syslog, matching the reference's c.logfac[0] == '\0' check.
	SyslogFacility string
}

// NewLogger creates a new application logger with the requested
// destinations. At least one destination is always active: if nothing is
// requested, console output at info level is enabled, matching the
// reference's fallback to stderr.
func NewLogger(cfg *Config) (*Logger, error) {
	l := &Logger{}

	if cfg.ConsoleOutput {
		consoleLog := logrus.New()

		lvl := cfg.ConsoleLevel
		if lvl == "" {
			lvl = cfg.Level
		}
		consoleLog.SetLevel(parseLevel(lvl))
		consoleLog.SetFormatter(textOrJSON(cfg.ConsoleFormat))
		consoleLog.SetOutput(os.Stdout)

		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	if cfg.FileOutput != "" {
		f, err := os.OpenFile(cfg.FileOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("logger: failed to open log file %q: %w", cfg.FileOutput, err)
		}

		fileLog := logrus.New()
		lvl := cfg.FileLevel
		if lvl == "" {
			lvl = cfg.Level
		}
		fileLog.SetLevel(parseLevel(lvl))
		fileLog.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
		fileLog.SetOutput(f)

		l.fileLogger = fileLog
		l.fileEnabled = true
	}

	if cfg.SyslogFacility != "" {
		facility, err := parseSyslogFacility(cfg.SyslogFacility)
		if err != nil {
			return nil, err
		}

		syslogLog := logrus.New()
		syslogLog.SetLevel(parseLevel(cfg.Level))
		syslogLog.SetOutput(nopWriter{})

		hook, err := lsyslog.NewSyslogHook("", "", facility, "netflowd")
		if err != nil {
			return nil, fmt.Errorf("logger: failed to dial syslog: %w", err)
		}
		syslogLog.AddHook(hook)

		l.syslogLogger = syslogLog
		l.syslogEnabled = true
	}

	if !l.consoleEnabled && !l.fileEnabled && !l.syslogEnabled {
		consoleLog := logrus.New()
		consoleLog.SetLevel(logrus.InfoLevel)
		consoleLog.SetFormatter(textOrJSON(""))
		consoleLog.SetOutput(os.Stdout)
		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	return l, nil
}

// SetDone marks the process as shutting down, per spec.md §7's "Done"
// flag: callers on reader paths should check Done() before emitting
// error-level noise while the writer is finishing its shutdown flush.
func (l *Logger) SetDone(done bool) { l.done = done }

// Done reports whether shutdown suppression is active.
func (l *Logger) Done() bool { return l.done }

// Info logs an info message to every enabled destination.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(logrus.InfoLevel, msg, fields...) }

// Warn logs a warning message to every enabled destination.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(logrus.WarnLevel, msg, fields...) }

// Error logs an error message to every enabled destination.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(logrus.ErrorLevel, msg, fields...) }

// Debug logs a debug message to every enabled destination.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(logrus.DebugLevel, msg, fields...) }

func (l *Logger) log(level logrus.Level, msg string, fields ...interface{}) {
	logFields := l.parseFields(fields...)

	for _, lg := range []*logrus.Logger{l.consoleLogger, l.fileLogger, l.syslogLogger} {
		if lg == nil {
			continue
		}
		if len(fields) > 0 {
			lg.WithFields(logFields).Log(level, msg)
		} else {
			lg.Log(level, msg)
		}
	}
}

// parseFields converts variadic arguments to logrus.Fields.
func (l *Logger) parseFields(fields ...interface{}) logrus.Fields {
	result := make(logrus.Fields)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func textOrJSON(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
	}
}

// facilityNames mirrors the reference's Cvtlogfac lookup table.
var facilityNames = map[string]syslog.Priority{
	"auth": syslog.LOG_AUTH, "cron": syslog.LOG_CRON, "daemon": syslog.LOG_DAEMON,
	"kern": syslog.LOG_KERN,
	"local0": syslog.LOG_LOCAL0, "local1": syslog.LOG_LOCAL1, "local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3, "local4": syslog.LOG_LOCAL4, "local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6, "local7": syslog.LOG_LOCAL7,
	"lpr": syslog.LOG_LPR, "mail": syslog.LOG_MAIL, "news": syslog.LOG_NEWS,
	"syslog": syslog.LOG_SYSLOG, "user": syslog.LOG_USER, "uucp": syslog.LOG_UUCP,
}

func parseSyslogFacility(name string) (syslog.Priority, error) {
	facility, ok := facilityNames[name]
	if !ok {
		return 0, fmt.Errorf("logger: unknown syslog facility %q", name)
	}
	return facility, nil
}

// nopWriter discards logrus's own formatted output; the syslog hook ships
// the record, so the base logger output would otherwise write a second,
// useless copy.
type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
