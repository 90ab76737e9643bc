// Package logger holds the process-wide structured logger.
package logger

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

func init() {
	Logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	SetLevel(os.Getenv("LOG_LEVEL"))
}

// SetLevel sets the logger's level by name. Unknown or empty names
// select the info level.
func SetLevel(name string) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		Logger.SetLevel(log.DebugLevel)
	case "WARN", "WARNING":
		Logger.SetLevel(log.WarnLevel)
	case "ERROR":
		Logger.SetLevel(log.ErrorLevel)
	case "FATAL":
		Logger.SetLevel(log.FatalLevel)
	default:
		Logger.SetLevel(log.InfoLevel)
	}
}

// With returns a sub-logger that annotates every entry with keyvals.
func With(keyvals ...interface{}) *log.Logger {
	return Logger.With(keyvals...)
}

func Info(msg interface{}, keyvals ...interface{}) {
	Logger.Info(msg, keyvals...)
}

func Debug(msg interface{}, keyvals ...interface{}) {
	Logger.Debug(msg, keyvals...)
}

func Warn(msg interface{}, keyvals ...interface{}) {
	Logger.Warn(msg, keyvals...)
}

func Error(msg interface{}, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
}

func Fatal(msg interface{}, keyvals ...interface{}) {
	Logger.Fatal(msg, keyvals...)
}
