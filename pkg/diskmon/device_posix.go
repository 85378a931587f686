//go:build !windows

package diskmon

import (
	"fmt"
	"os"
	"syscall"
)

// deviceID reports the device ID backing path, used to detect a root being
// silently replaced by a different filesystem at the same mount point.
func deviceID(path string) (uint64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("unable to stat path: %w", err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("unable to extract device information")
	}
	return uint64(stat.Dev), nil
}
