// Package wlog builds the structured logger used across the reactor, CGI
// manager, and bootstrap (SPEC_FULL.md §4.7): access events at INFO,
// protocol-abuse drops and CGI launch failures at ERROR, connection detail
// at DEBUG. The logger itself is grounded on leo-pony-model-runner's use of
// github.com/sirupsen/logrus as the project logger; the rotating-file sink
// is grounded on zengxiaobai-tavern/server/mod/accesslog.go's pairing of a
// structured logger with gopkg.in/natefinch/lumberjack.v2, substituting
// logrus for that file's zap core since this module already standardizes
// on logrus.
package wlog

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a logrus.Entry with no base fields (callers such as the
// reactor add their own "component" field). An empty
// logFile sends output to stderr; otherwise output is a rotating file
// sink (100 MB per file, 3 backups, 28 days), matching
// accesslog.go's lumberjack.Logger defaults.
func New(logFile string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if logFile == "" {
		l.SetOutput(os.Stderr)
	} else {
		l.SetOutput(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			LocalTime:  true,
			Compress:   false,
		})
	}

	return logrus.NewEntry(l)
}
