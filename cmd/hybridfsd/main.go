// Command hybridfsd is the background service (§3): it owns the single
// daemon lock, mounts every configured syncPair's VFS, drives the Scheduler
// and Sync Engine for each pair, runs periodic eviction, and serves the
// control-plane protocol that hybridfsctl speaks to it over. Its shape
// mirrors the teacher's own "mutagen daemon run" entry point
// (cmd/mutagen/daemon_run.go): acquire the lock, perform housekeeping,
// build the service, listen, and block until a termination signal or a
// fatal serving error arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/duallayer/hybridfs/cmd"
	"github.com/duallayer/hybridfs/pkg/activity"
	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/conflict"
	"github.com/duallayer/hybridfs/pkg/config"
	"github.com/duallayer/hybridfs/pkg/control"
	"github.com/duallayer/hybridfs/pkg/copier"
	"github.com/duallayer/hybridfs/pkg/daemon"
	"github.com/duallayer/hybridfs/pkg/diff"
	"github.com/duallayer/hybridfs/pkg/diskmon"
	"github.com/duallayer/hybridfs/pkg/eviction"
	"github.com/duallayer/hybridfs/pkg/hashfile"
	"github.com/duallayer/hybridfs/pkg/housekeeping"
	"github.com/duallayer/hybridfs/pkg/locktable"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/notify"
	"github.com/duallayer/hybridfs/pkg/pathfilter"
	"github.com/duallayer/hybridfs/pkg/scan"
	"github.com/duallayer/hybridfs/pkg/scheduler"
	"github.com/duallayer/hybridfs/pkg/state"
	"github.com/duallayer/hybridfs/pkg/syncengine"
	"github.com/duallayer/hybridfs/pkg/syncstate"
	"github.com/duallayer/hybridfs/pkg/vfs"
)

// service bundles every long-lived component the daemon wires together, so
// the control-plane handler and the scheduler's RunFunc can both reach them.
type service struct {
	cfg *config.Config

	cat        catalog.Catalog
	states     *state.Manager
	bus        *notify.Bus
	activities *activity.Log
	syncstates *syncstate.Store
	locks      *locktable.Table
	vfsmgr     *vfs.Manager
	sched      *scheduler.Scheduler
	logger     *logging.Logger

	engines map[string]*syncengine.Engine
}

func (s *service) algorithm() hashfile.Algorithm {
	switch s.cfg.Sync.ChecksumAlgorithm {
	case string(hashfile.SHA256):
		return hashfile.SHA256
	case string(hashfile.XXHash64):
		return hashfile.XXHash64
	default:
		return hashfile.MD5
	}
}

func (s *service) copyOptions() copier.Options {
	return copier.Options{
		OverwriteExisting: true,
		VerifyAfterCopy:   s.cfg.Sync.VerifyAfterCopy,
		BufferSize:        s.cfg.Sync.BufferSize,
		ChecksumAlgorithm: s.algorithm(),
	}
}

func (s *service) newEngine(pair config.Pair) (*syncengine.Engine, error) {
	filter, err := pathfilter.Compile(s.cfg.Sync.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("unable to compile exclude patterns for %s: %w", pair.ID, err)
	}

	var maxFileSize int64
	if s.cfg.Sync.MaxFileSize != nil {
		maxFileSize = *s.cfg.Sync.MaxFileSize
	}

	options := syncengine.Options{
		Bidirectional:    true,
		EnableDelete:     s.cfg.Sync.EnableDelete,
		ConflictStrategy: conflict.Strategy(s.cfg.Sync.ConflictStrategy),
		ScanOptions: scan.Options{
			MaxFileSize:      maxFileSize,
			Filter:           filter,
			ModTimeTolerance: time.Second,
		},
		DiffOptions: diff.Options{
			Bidirectional:    true,
			EnableDelete:     s.cfg.Sync.EnableDelete,
			ModTimeTolerance: time.Second,
			CompareChecksums: s.cfg.Sync.EnableChecksum,
			DetectMoves:      s.cfg.Sync.EnableChecksum,
		},
		CopyOptions:       s.copyOptions(),
		CheckpointEvery:   s.cfg.Sync.CheckpointInterval,
		StateExpiry:       24 * time.Hour,
		ChecksumAlgorithm: s.algorithm(),
		HashParallelism:   s.cfg.Sync.ParallelOps,
		HashBufferSize:    s.cfg.Sync.BufferSize,
	}

	enginePair := syncengine.Pair{ID: pair.ID, LocalRoot: pair.LocalDir, ExternalRoot: pair.ExternalDir}
	return syncengine.New(enginePair, options, s.logger.Sublogger(pair.ID), s.locks, s.syncstates), nil
}

// runPair is the scheduler.RunFunc: it runs one full sync cycle for a pair
// and reports outcome via the activity log and notification bus, per §6.2's
// "commands are accepted immediately, effects reported via events".
func (s *service) runPair(ctx context.Context, syncPairID string) {
	engine, ok := s.engines[syncPairID]
	if !ok {
		s.logger.Warn(fmt.Errorf("no engine registered for sync pair %q", syncPairID))
		return
	}

	var lastProgress syncengine.Progress
	err := engine.Run(ctx, func(p syncengine.Progress) {
		lastProgress = p
		s.bus.SyncProgress(syncPairID, p.ProcessedFiles, p.TotalFiles, p.ProcessedBytes, p.TotalBytes, p.CurrentFile, 0)
	})

	if err == syncengine.ErrPaused {
		return
	}
	if err != nil {
		s.bus.ComponentError("syncengine", "sync-failed", err.Error(), true)
		if recErr := s.activities.Append(activity.Record{SyncPairID: syncPairID, Kind: activity.KindError, Message: err.Error(), OccurredAt: time.Now()}); recErr != nil {
			s.logger.Warn(fmt.Errorf("recording sync-failed activity: %w", recErr))
		}
		return
	}

	s.bus.SyncCompleted(syncPairID, lastProgress.ProcessedFiles, lastProgress.ProcessedBytes)
	if recErr := s.activities.Append(activity.Record{SyncPairID: syncPairID, Kind: activity.KindSyncCompleted, OccurredAt: time.Now()}); recErr != nil {
		s.logger.Warn(fmt.Errorf("recording sync-completed activity: %w", recErr))
	}
}

// runEviction runs one eviction pass for a pair, triggered either by the
// housekeeping timer or by an explicit triggerEviction command.
func (s *service) runEviction(ctx context.Context, syncPairID string) (eviction.Result, error) {
	stats, err := s.cat.Stats(ctx, syncPairID)
	if err != nil {
		return eviction.Result{}, fmt.Errorf("unable to read catalog stats: %w", err)
	}
	if stats.BothBytes+stats.LocalOnlyBytes <= s.cfg.Eviction.Threshold {
		return eviction.Result{}, nil
	}
	toFree := stats.BothBytes + stats.LocalOnlyBytes - s.cfg.Eviction.TargetFree

	options := eviction.Options{
		VerifyBeforeDelete: s.cfg.Eviction.VerifyBeforeDelete,
		ChecksumAlgorithm:  s.algorithm(),
		BufferSize:         s.cfg.Sync.BufferSize,
		IsOpenForWriting:   func(string) bool { return false },
	}

	return eviction.Run(ctx, s.cat, syncPairID, toFree, options, s.logger, func(p eviction.Progress) {
		s.bus.EvictionProgress(syncPairID, p.FreedBytes, p.TargetBytes)
	})
}

// handle dispatches one control.Request to the matching component call. It
// is intentionally thin: every effect it triggers is owned by a component
// built for §4's operations, not reimplemented here.
func (s *service) handle(req control.Request) (any, error) {
	ctx := context.Background()

	switch req.Command {
	case control.CommandSyncNow:
		s.sched.OnFileWritten(req.SyncPairID)
		return map[string]string{"status": "accepted"}, nil

	case control.CommandSyncAll:
		for id := range s.engines {
			s.sched.OnFileWritten(id)
		}
		return map[string]string{"status": "accepted"}, nil

	case control.CommandPauseSync:
		if engine, ok := s.engines[req.SyncPairID]; ok {
			engine.Pause()
		}
		return map[string]string{"status": "paused"}, nil

	case control.CommandResumeSync:
		if engine, ok := s.engines[req.SyncPairID]; ok {
			engine.Resume()
		}
		return map[string]string{"status": "resumed"}, nil

	case control.CommandCancelSync:
		if engine, ok := s.engines[req.SyncPairID]; ok {
			engine.Cancel()
		}
		return map[string]string{"status": "cancelled"}, nil

	case control.CommandRebuildIndex:
		if err := s.vfsmgr.Unmount(ctx, req.SyncPairID); err != nil {
			return nil, fmt.Errorf("unable to unmount for rebuild: %w", err)
		}
		pair, ok := s.findPair(req.SyncPairID)
		if !ok {
			return nil, fmt.Errorf("unknown sync pair %q", req.SyncPairID)
		}
		if err := s.mountPair(ctx, pair); err != nil {
			return nil, fmt.Errorf("unable to remount after rebuild: %w", err)
		}
		return map[string]string{"status": "rebuilding"}, nil

	case control.CommandTriggerEvict:
		result, err := s.runEviction(ctx, req.SyncPairID)
		if err != nil {
			return nil, err
		}
		return result, nil

	case control.CommandResolve:
		return map[string]string{"status": "unsupported"}, fmt.Errorf("interactive conflict resolution is not exposed over the control protocol")

	case control.CommandGetFullState:
		return s.fullState(ctx), nil

	case control.CommandListActivities:
		records, err := s.activities.Records()
		if err != nil {
			return nil, fmt.Errorf("unable to read activity log: %w", err)
		}
		return records, nil

	case control.CommandUnmount:
		return map[string]string{"status": "unmounted"}, s.vfsmgr.Unmount(ctx, req.SyncPairID)

	case control.CommandMount:
		pair := config.Pair{ID: req.SyncPairID, LocalDir: req.LocalDir, ExternalDir: req.ExternalDir, TargetDir: req.TargetDir}
		if err := s.mountPair(ctx, pair); err != nil {
			return nil, err
		}
		return map[string]string{"status": "mounted"}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", req.Command)
	}
}

// ServiceFullState is the §6.2 getFullState response: the daemon's global
// state plus a per-pair snapshot of catalog stats and component health.
type ServiceFullState struct {
	Global     string                   `json:"global"`
	Components map[string]string        `json:"components"`
	Pairs      map[string]catalog.Stats `json:"pairs"`
}

func (s *service) fullState(ctx context.Context) ServiceFullState {
	full := ServiceFullState{
		Global:     string(s.states.Global()),
		Components: map[string]string{},
		Pairs:      map[string]catalog.Stats{},
	}
	for component, cs := range s.states.ComponentStates() {
		full.Components[component] = string(cs)
	}
	for id := range s.engines {
		if stats, err := s.cat.Stats(ctx, id); err == nil {
			full.Pairs[id] = stats
		}
	}
	return full
}

func (s *service) findPair(syncPairID string) (config.Pair, bool) {
	for _, pair := range s.cfg.Pairs {
		if pair.ID == syncPairID {
			return pair, true
		}
	}
	return config.Pair{}, false
}

func (s *service) mountPair(ctx context.Context, pair config.Pair) error {
	hooks := vfs.Hooks{
		OnFileWritten: func(string) { s.sched.OnFileWritten(pair.ID) },
	}
	if err := s.vfsmgr.Mount(ctx, vfs.MountRequest{
		SyncPairID:  pair.ID,
		LocalDir:    pair.LocalDir,
		ExternalDir: pair.ExternalDir,
		TargetDir:   pair.TargetDir,
		Hooks:       hooks,
	}); err != nil {
		return fmt.Errorf("unable to mount sync pair %s: %w", pair.ID, err)
	}

	engine, err := s.newEngine(pair)
	if err != nil {
		return err
	}
	s.engines[pair.ID] = engine

	s.sched.AddPair(scheduler.PairConfig{
		SyncPairID:       pair.ID,
		DebounceInterval: time.Duration(s.cfg.Sync.DebounceInterval) * time.Second,
		AutoInterval:     time.Duration(s.cfg.Sync.AutoInterval) * time.Second,
	})
	return nil
}

func run() error {
	var configPath string
	flags := flag.NewFlagSet("hybridfsd", flag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the configuration file (default ~/.hybridfs/config.yml)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("unable to determine home directory: %w", err)
		}
		configPath = filepath.Join(home, ".hybridfs", "config.yml")
	}

	logger := logging.RootLogger.Sublogger("hybridfsd")

	lock, err := daemon.AcquireLock(logger)
	if err != nil {
		return fmt.Errorf("unable to acquire daemon lock: %w", err)
	}
	defer lock.Release()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("unable to determine home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".hybridfs")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("unable to create data directory: %w", err)
	}

	ctx := context.Background()

	bus := notify.New(256)
	states := state.New(bus)

	cat, err := catalog.Open(ctx, filepath.Join(dataDir, "catalog.db"), logger.Sublogger("catalog"))
	if err != nil {
		return fmt.Errorf("unable to open catalog: %w", err)
	}
	defer cat.Close()

	activities := activity.Open(filepath.Join(dataDir, "activity.json"), 1000, bus)
	syncstates := syncstate.NewStore(filepath.Join(dataDir, "syncstate"), cfg.Sync.CheckpointInterval, 24*time.Hour)
	locks := locktable.New(time.Duration(cfg.Lock.WatchdogTTL) * time.Second)
	vfsmgr := vfs.NewManager(cat, states, bus, logger.Sublogger("vfs"))

	svc := &service{
		cfg:        cfg,
		cat:        cat,
		states:     states,
		bus:        bus,
		activities: activities,
		syncstates: syncstates,
		locks:      locks,
		vfsmgr:     vfsmgr,
		logger:     logger,
		engines:    map[string]*syncengine.Engine{},
	}
	svc.sched = scheduler.New(svc.runPair, 10*time.Second)

	states.Transition(state.StateVFSMounting)
	for _, pair := range cfg.Pairs {
		if err := svc.mountPair(ctx, pair); err != nil {
			return err
		}
	}
	states.Transition(state.StateReady)
	states.Transition(state.StateRunning)

	var diskTargets []diskmon.Target
	for _, pair := range cfg.Pairs {
		if pair.ExternalDir != "" {
			diskTargets = append(diskTargets, diskmon.Target{SyncPairID: pair.ID, ExternalDir: pair.ExternalDir})
		}
	}
	monitor := diskmon.New(diskTargets, diskmon.Hooks{
		OnConnected: func(syncPairID string) {
			svc.sched.OnDiskConnected(syncPairID)
			if pair, ok := svc.findPair(syncPairID); ok {
				if err := svc.vfsmgr.UpdateExternalPath(syncPairID, pair.ExternalDir, true); err != nil {
					logger.Warn(fmt.Errorf("marking %s external online: %w", syncPairID, err))
				}
			}
		},
		OnDisconnected: func(syncPairID string) {
			svc.sched.OnDiskDisconnected(syncPairID)
			if err := svc.vfsmgr.SetExternalOffline(syncPairID); err != nil {
				logger.Warn(fmt.Errorf("marking %s external offline: %w", syncPairID, err))
			}
		},
	}, 15*time.Second)
	go monitor.Run(ctx)

	go svc.sched.Run(ctx)
	go housekeeping.Run(ctx, housekeeping.Options{
		Catalog:       cat,
		SyncStates:    syncstates,
		Logger:        logger.Sublogger("housekeeping"),
		CheckInterval: time.Duration(cfg.Eviction.CheckInterval) * time.Second,
		RunEviction: func(ctx context.Context, syncPairID string) {
			if _, err := svc.runEviction(ctx, syncPairID); err != nil {
				logger.Warn(fmt.Errorf("eviction pass for %s: %w", syncPairID, err))
			}
		},
		SyncPairIDs: func() []string {
			ids := make([]string, 0, len(svc.engines))
			for id := range svc.engines {
				ids = append(ids, id)
			}
			return ids
		},
	})

	listener, err := daemon.NewListener()
	if err != nil {
		return fmt.Errorf("unable to create daemon listener: %w", err)
	}
	defer listener.Close()

	go control.Serve(listener, svc.handle)

	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, cmd.TerminationSignals...)
	sig := <-signalTermination

	states.Transition(state.StateStopping)
	logger.Printf("terminating on signal: %s", sig)
	for id := range svc.engines {
		if err := svc.vfsmgr.Unmount(ctx, id); err != nil {
			logger.Warn(fmt.Errorf("unmounting %s during shutdown: %w", id, err))
		}
	}
	if err := cat.ForceSave(ctx); err != nil {
		logger.Warn(fmt.Errorf("final catalog checkpoint: %w", err))
	}
	states.Transition(state.StateStopped)
	return nil
}

func main() {
	if err := run(); err != nil {
		cmd.Fatal(err)
	}
}
