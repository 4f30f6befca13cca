package bonddb

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface used across the bond store, its storage ports and
// the security orchestrator. Any logrus.Entry satisfies it apart from ChildLogger.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
}

var logger Logger
var loggerMu sync.Mutex

// SetLogLevel changes the level of the default logger. It is a no-op (with a
// complaint) when a custom logger was installed with SetLogger.
func SetLogLevel(lvl logrus.Level) {
	l := GetLogger()

	if lg, ok := l.(*defaultLogger); ok {
		lg.Entry.Logger.SetLevel(lvl)
	} else {
		l.Error("non-default logger, don't know how to set level")
	}
}

// SetLogLevelMax turns on trace output on the default logger.
func SetLogLevelMax() {
	SetLogLevel(logrus.TraceLevel)
}

func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger = buildDefaultLogger()
	}

	return logger
}

// ModuleLogger returns a child of the current logger tagged with module.
func ModuleLogger(module string) Logger {
	return GetLogger().ChildLogger(map[string]interface{}{"module": module})
}

// NewLogrusLogger wraps an existing logrus logger.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &defaultLogger{Entry: logrus.NewEntry(l)}
}

type defaultLogger struct {
	*logrus.Entry
}

func buildDefaultLogger() Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     logrus.InfoLevel,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
	}

	return &defaultLogger{Entry: l.WithFields(logrus.Fields{})}
}

func (d *defaultLogger) ChildLogger(ff map[string]interface{}) Logger {
	return &defaultLogger{d.Entry.WithFields(ff)}
}
