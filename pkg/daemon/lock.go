package daemon

import (
	"fmt"

	"github.com/duallayer/hybridfs/pkg/filesystem/locking"
	"github.com/duallayer/hybridfs/pkg/logging"
)

// Lock represents the global daemon lock (the single-instance guarantee; an
// OS file lock with no TTL of its own): only one hybridfsd process may hold
// it at a time, and a crashed daemon's lock is released by the OS even if it
// never gets to call Release.
type Lock struct {
	locker *locking.Locker
	logger *logging.Logger
}

// AcquireLock attempts to acquire the global daemon lock.
func AcquireLock(logger *logging.Logger) (*Lock, error) {
	path, err := subpath(lockName)
	if err != nil {
		return nil, fmt.Errorf("unable to compute daemon lock path: %w", err)
	}

	locker, err := locking.NewLocker(path, 0o600)
	if err != nil {
		return nil, fmt.Errorf("unable to create daemon file locker: %w", err)
	}
	if err := locker.Lock(false); err != nil {
		if closeErr := locker.Close(); closeErr != nil {
			logger.Warn(fmt.Errorf("closing lock file after failed acquisition: %w", closeErr))
		}
		return nil, fmt.Errorf("daemon lock held by another process: %w", err)
	}

	return &Lock{locker: locker, logger: logger}, nil
}

// Release releases the daemon lock.
func (l *Lock) Release() error {
	if err := l.locker.Unlock(); err != nil {
		if closeErr := l.locker.Close(); closeErr != nil {
			l.logger.Warn(fmt.Errorf("closing lock file after failed unlock: %w", closeErr))
		}
		return err
	}
	if err := l.locker.Close(); err != nil {
		return fmt.Errorf("unable to close locker: %w", err)
	}
	return nil
}
