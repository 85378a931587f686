package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dataDirectoryName is the name of this tool's data directory within the
	// user's home directory.
	dataDirectoryName = ".hybridfs"
	// daemonDirectoryName is the name of the daemon subdirectory within the
	// data directory.
	daemonDirectoryName = "daemon"
	// lockName is the name of the daemon lock file.
	lockName = "daemon.lock"
	// socketName is the name of the daemon IPC socket.
	socketName = "daemon.sock"
	// logName is the name of the daemon log file.
	logName = "daemon.log"
)

// subpath computes a path within the daemon subdirectory, creating the
// subdirectory (and its parent data directory) if necessary.
func subpath(name string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine home directory: %w", err)
	}

	daemonRoot := filepath.Join(home, dataDirectoryName, daemonDirectoryName)
	if err := os.MkdirAll(daemonRoot, 0o700); err != nil {
		return "", fmt.Errorf("unable to create daemon directory: %w", err)
	}

	return filepath.Join(daemonRoot, name), nil
}

// lockPath computes the path to the daemon lock.
func lockPath() (string, error) {
	return subpath(lockName)
}

// EndpointPath computes the path to the daemon IPC socket.
func EndpointPath() (string, error) {
	return subpath(socketName)
}

// logPath computes the path to the daemon log file.
func logPath() (string, error) {
	return subpath(logName)
}
