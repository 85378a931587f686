package diskmon

import "os"

// deviceID on Windows reports whether path is currently statable; device
// identity comparison isn't meaningful across drive letters the way it is
// for POSIX st_dev, so reconnect/disconnect detection here relies solely
// on stat success, matching the teacher's own Windows DeviceID no-op.
func deviceID(path string) (uint64, error) {
	if _, err := os.Lstat(path); err != nil {
		return 0, err
	}
	return 0, nil
}
