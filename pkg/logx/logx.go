// Package logx provides the structured key/value logger used by every
// component of the daemon.
package logx

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with the key/value call convention used throughout the
// codebase: logger.Info("message", "key", value, ...).
type Logger struct {
	entry *logrus.Entry
}

// NewLogger creates a logger with the given level (trace|debug|info|warn|error)
// and component name. Unknown levels fall back to info.
func NewLogger(level, component string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	entry := logrus.NewEntry(l)
	if component != "" {
		entry = entry.WithField("component", component)
	}
	return &Logger{entry: entry}
}

// WithComponent returns a child logger tagged with a component name, sharing
// the parent's level and output.
func (lg *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: lg.entry.WithField("component", component)}
}

// fields converts an alternating key/value list into logrus fields. A trailing
// key without a value is logged under "extra".
func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = "field"
		}
		f[key] = kv[i+1]
	}
	if len(kv)%2 != 0 {
		f["extra"] = kv[len(kv)-1]
	}
	return f
}

func (lg *Logger) Trace(msg string, kv ...interface{}) { lg.entry.WithFields(fields(kv)).Trace(msg) }
func (lg *Logger) Debug(msg string, kv ...interface{}) { lg.entry.WithFields(fields(kv)).Debug(msg) }
func (lg *Logger) Info(msg string, kv ...interface{})  { lg.entry.WithFields(fields(kv)).Info(msg) }
func (lg *Logger) Warn(msg string, kv ...interface{})  { lg.entry.WithFields(fields(kv)).Warn(msg) }
func (lg *Logger) Error(msg string, kv ...interface{}) { lg.entry.WithFields(fields(kv)).Error(msg) }

// LogStateChange records a component state transition with a structured
// payload, used for audit-relevant transitions.
func (lg *Logger) LogStateChange(component, from, to, reason string, data map[string]interface{}) {
	entry := lg.entry.WithFields(logrus.Fields{
		"component": component,
		"from":      from,
		"to":        to,
		"reason":    reason,
	})
	if len(data) > 0 {
		entry = entry.WithField("data", data)
	}
	entry.Info("State change")
}
