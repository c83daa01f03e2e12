package coremqtt

import (
	"github.com/sirupsen/logrus"
)

func logrusFields(fields LogFields) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for k, v := range fields {
		out[k] = fieldValue(v)
	}
	return out
}

// LogrusLogger adapts a logrus entry to Logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps l. A nil l uses the logrus standard logger.
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Debug(msg string, fields LogFields) {
	l.entry.WithFields(logrusFields(fields)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields LogFields) {
	l.entry.WithFields(logrusFields(fields)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, fields LogFields) {
	l.entry.WithFields(logrusFields(fields)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, fields LogFields) {
	l.entry.WithFields(logrusFields(fields)).Error(msg)
}

// WithFields returns a new logger carrying fields on every entry.
func (l *LogrusLogger) WithFields(fields LogFields) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(logrusFields(fields))}
}

// Level maps the logrus level of the underlying logger.
func (l *LogrusLogger) Level() LogLevel {
	switch l.entry.Logger.GetLevel() {
	case logrus.DebugLevel, logrus.TraceLevel:
		return LogLevelDebug
	case logrus.InfoLevel:
		return LogLevelInfo
	case logrus.WarnLevel:
		return LogLevelWarn
	case logrus.ErrorLevel:
		return LogLevelError
	default:
		return LogLevelNone
	}
}

// SetLevel changes the level of the underlying logrus logger, which is
// shared by every logger derived with WithFields.
func (l *LogrusLogger) SetLevel(level LogLevel) {
	switch level {
	case LogLevelDebug:
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	case LogLevelInfo:
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	case LogLevelWarn:
		l.entry.Logger.SetLevel(logrus.WarnLevel)
	case LogLevelError:
		l.entry.Logger.SetLevel(logrus.ErrorLevel)
	default:
		l.entry.Logger.SetLevel(logrus.PanicLevel)
	}
}
