package debug

import (
	"os"
	"strconv"

	"github.com/charmbracelet/log"
)

var debug = func(string, ...any) {}

func init() {
	debugLevel, err := strconv.ParseInt(os.Getenv("WAYLAND_DEBUG"), 10, 0)
	if err != nil {
		return
	}
	if debugLevel > 0 {
		trace := log.NewWithOptions(os.Stderr, log.Options{
			Prefix:          "wayland",
			Level:           log.DebugLevel,
			ReportTimestamp: true,
		})
		debug = trace.Debugf
	}
}

// Printf logs a protocol trace line if WAYLAND_DEBUG is set.
func Printf(str string, args ...any) {
	debug(str, args...)
}
