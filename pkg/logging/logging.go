package logging

import (
	"log"
	"os"
	"sync/atomic"
)

func init() {
	// Set the global logger to use standard output. The engine runs as a
	// long-lived background daemon, so stdout is normally redirected to a
	// log file by the process supervisor.
	log.SetOutput(os.Stdout)
}

// currentLevel is the process-wide log level, consulted by every Logger.
// Stored as a uint32 so SetLevel can write it without a lock while loggers
// are reading it.
var currentLevel atomic.Uint32

func init() {
	currentLevel.Store(uint32(LevelInfo))
}

// SetLevel sets the process-wide log level. It may be called at any time,
// including while loggers are actively in use.
func SetLevel(level Level) {
	currentLevel.Store(uint32(level))
}

// CurrentLevel returns the process-wide log level.
func CurrentLevel() Level {
	return Level(currentLevel.Load())
}
