package log

import (
	"os"

	charm "github.com/charmbracelet/log"
)

var logger = charm.NewWithOptions(os.Stderr, charm.Options{
	ReportTimestamp: true,
})

// SetDebug lowers the log level so Debugf output becomes visible.
func SetDebug(enabled bool) {
	if enabled {
		logger.SetLevel(charm.DebugLevel)
	} else {
		logger.SetLevel(charm.InfoLevel)
	}
}

func Info(msg string, keyvals ...any) {
	logger.Info(msg, keyvals...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	logger.Fatalf(format, args...)
}
