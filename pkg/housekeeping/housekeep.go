// Package housekeeping performs the periodic maintenance the daemon can't
// piggyback on an explicit §6.2 command: purging expired SyncState
// checkpoints, checkpointing the catalog, and sweeping eviction for every
// mounted pair. The one-shot/ticker-loop split and "log and continue past
// individual failures" discipline are grounded in the teacher's own
// housekeep.go/background.go pair (which swept agent binaries, caches, and
// staging roots on the same rhythm); this generalizes that sweep to this
// domain's three durable stores instead of the teacher's filesystem caches.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/syncstate"
)

// DefaultCheckInterval is used when Options.CheckInterval is unset.
const DefaultCheckInterval = 10 * time.Minute

// Options configures one housekeeping pass.
type Options struct {
	Catalog       catalog.Catalog
	SyncStates    *syncstate.Store
	Logger        *logging.Logger
	CheckInterval time.Duration
	// RunEviction triggers one eviction pass for syncPairID; failures are
	// the caller's responsibility to log.
	RunEviction func(ctx context.Context, syncPairID string)
	// SyncPairIDs returns the currently mounted pairs, queried fresh on
	// every pass since pairs can be mounted/unmounted between ticks.
	SyncPairIDs func() []string
}

// Housekeep runs a single maintenance pass. Individual failures are logged
// and do not abort the remaining steps.
func Housekeep(ctx context.Context, opts Options) {
	if purged, err := opts.SyncStates.PurgeExpired(); err != nil {
		opts.Logger.Warn(fmt.Errorf("purging expired sync states: %w", err))
	} else if purged > 0 {
		opts.Logger.Printf("purged %d expired sync state(s)", purged)
	}

	if err := opts.Catalog.ForceSave(ctx); err != nil {
		opts.Logger.Warn(fmt.Errorf("checkpointing catalog: %w", err))
	}

	for _, syncPairID := range opts.SyncPairIDs() {
		opts.RunEviction(ctx, syncPairID)
	}
}

// Run performs an initial housekeeping pass and then repeats it on
// opts.CheckInterval until ctx is cancelled. It's designed to run as a
// background goroutine for the lifetime of the daemon.
func Run(ctx context.Context, opts Options) {
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	opts.Logger.Println("performing initial housekeeping")
	Housekeep(ctx, opts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opts.Logger.Println("performing regular housekeeping")
			Housekeep(ctx, opts)
		}
	}
}
