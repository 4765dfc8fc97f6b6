package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// FieldStatus marks an INFO entry as a success event.
const (
	FieldStatus   = "status"
	StatusSuccess = "success"
)

// Labels written for each event
const (
	LabelDebug   = "DEBUG"
	LabelInfo    = "INFO"
	LabelSuccess = "SUCCESS"
	LabelWarning = "WARNING"
	LabelError   = "ERROR"
)

// New creates the run logger. Events go to two independent sinks: the
// console (colored) and the run log file (plain lines). The logger's own
// output is discarded.
func New(logFile string, console io.Writer, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if console != nil {
		log.AddHook(NewConsoleHook(console))
	}
	if logFile != "" {
		log.AddHook(NewFileHook(logFile))
	}

	return log
}

// Close releases the sinks that hold open files
func Close(log *logrus.Logger) {
	seen := make(map[logrus.Hook]bool)
	for _, hooks := range log.Hooks {
		for _, hook := range hooks {
			if seen[hook] {
				continue
			}
			seen[hook] = true
			if closer, ok := hook.(io.Closer); ok {
				closer.Close()
			}
		}
	}
}

// Success logs a success event
func Success(log logrus.FieldLogger, format string, args ...interface{}) {
	log.WithField(FieldStatus, StatusSuccess).Infof(format, args...)
}

// Label returns the level label of an entry as written to both sinks
func Label(entry *logrus.Entry) string {
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return LabelError
	case logrus.WarnLevel:
		return LabelWarning
	case logrus.InfoLevel:
		if status, ok := entry.Data[FieldStatus]; ok && status == StatusSuccess {
			return LabelSuccess
		}
		return LabelInfo
	default:
		return LabelDebug
	}
}
