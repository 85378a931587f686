package vfs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/duallayer/hybridfs/pkg/catalog"
	"github.com/duallayer/hybridfs/pkg/enginerr"
	"github.com/duallayer/hybridfs/pkg/index"
	"github.com/duallayer/hybridfs/pkg/logging"
	"github.com/duallayer/hybridfs/pkg/notify"
	"github.com/duallayer/hybridfs/pkg/state"
)

// DefaultCrashRetries and DefaultCrashCooldown implement §4.12's "up to 3
// automatic remounts with a cooldown (default 3s) between attempts".
const (
	DefaultCrashRetries  = 3
	DefaultCrashCooldown = 3 * time.Second
)

// MountRequest names one mount(syncPairId, localDir, externalDir?, targetDir)
// call (§4.12).
type MountRequest struct {
	SyncPairID  string
	LocalDir    string
	ExternalDir string
	TargetDir   string
	Hooks       Hooks
}

type mountedPair struct {
	request MountRequest
	server  *gofuse.Server
	del     *delegate

	crashRetries int
	lastCrash    time.Time
	crashed      atomic.Bool
	unmounting   atomic.Bool
}

// Manager implements the VFS Manager (§4.12, C12): mount lifecycle,
// per-mount bookkeeping, crash recovery, and the catalog/index handoff.
type Manager struct {
	mu      sync.Mutex
	mounted map[string]*mountedPair

	catalog catalog.Catalog
	states  *state.Manager
	bus     *notify.Bus
	logger  *logging.Logger
}

// NewManager creates a Manager backed by a shared catalog. states and bus
// may be nil (useful in tests that don't need lifecycle gating or events).
func NewManager(cat catalog.Catalog, states *state.Manager, bus *notify.Bus, logger *logging.Logger) *Manager {
	return &Manager{
		mounted: make(map[string]*mountedPair),
		catalog: cat,
		states:  states,
		bus:     bus,
		logger:  logger.Sublogger("vfs"),
	}
}

// Mount runs the §4.12 mount(syncPairId, localDir, externalDir?, targetDir)
// procedure.
func (m *Manager) Mount(ctx context.Context, req MountRequest) error {
	m.mu.Lock()
	if _, exists := m.mounted[req.SyncPairID]; exists {
		m.mu.Unlock()
		return enginerr.New(enginerr.KindAlreadyExists, "syncPair already mounted")
	}
	m.mu.Unlock()

	unmountStaleMount(req.TargetDir)

	if err := m.resolveTargetDir(req); err != nil {
		return err
	}
	if err := os.MkdirAll(req.LocalDir, 0o755); err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to ensure localDir", err)
	}
	if err := os.MkdirAll(req.TargetDir, 0o755); err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to ensure targetDir", err)
	}

	externalOnline := &atomic.Bool{}
	if req.ExternalDir != "" {
		if _, err := os.Stat(req.ExternalDir); err == nil {
			externalOnline.Store(true)
		}
	}

	del := &delegate{
		catalog:        m.catalog,
		syncPairID:     req.SyncPairID,
		localRoot:      req.LocalDir,
		externalRoot:   req.ExternalDir,
		externalOnline: externalOnline,
		indexReady:     &atomic.Bool{},
		readOnly:       &atomic.Bool{},
		hooks:          req.Hooks,
	}

	server, serveDone, err := m.mountFUSE(req.TargetDir, del)
	if err != nil {
		return err
	}

	mp := &mountedPair{request: req, server: server, del: del}
	m.mu.Lock()
	m.mounted[req.SyncPairID] = mp
	m.mu.Unlock()

	// serveDone closes when the kernel session ends, whether via our own
	// Unmount() or an out-of-band crash; distinguishing the two is how
	// fuseDidExitUnexpectedly (§4.12) gets triggered automatically rather
	// than needing an external watchdog.
	go func() {
		<-serveDone
		if !mp.unmounting.Load() {
			mp.crashed.Store(true)
			m.FUSEDidExitUnexpectedly(context.Background(), req.SyncPairID)
		}
	}()

	m.transition(state.StateIndexing)
	go m.buildIndexAndSignalReady(context.Background(), mp)

	return nil
}

func (m *Manager) mountFUSE(targetDir string, del *delegate) (*gofuse.Server, chan struct{}, error) {
	root := &hybridNode{delegate: del, virtualPath: "/"}
	rawFS := fs.NewNodeFS(root, &fs.Options{})
	server, err := gofuse.NewServer(rawFS, targetDir, &gofuse.MountOptions{})
	if err != nil {
		return nil, nil, enginerr.Wrap(enginerr.KindUnavailable, "unable to mount FUSE", err)
	}

	done := make(chan struct{})
	go func() {
		server.Serve()
		close(done)
	}()

	if err := server.WaitMount(); err != nil {
		return nil, nil, enginerr.Wrap(enginerr.KindUnavailable, "FUSE mount did not become ready", err)
	}
	return server, done, nil
}

// resolveTargetDir implements §4.12 step 3: symlink → remove; populated dir
// with localDir already existing → ConflictingPaths; populated dir with no
// localDir → rename targetDir to localDir (seed it); empty → remove.
func (m *Manager) resolveTargetDir(req MountRequest) error {
	info, err := os.Lstat(req.TargetDir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to stat targetDir", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return os.Remove(req.TargetDir)
	}

	if !info.IsDir() {
		return enginerr.New(enginerr.KindConflictingPaths, "targetDir is not a directory")
	}

	entries, err := os.ReadDir(req.TargetDir)
	if err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to read targetDir", err)
	}
	if len(entries) == 0 {
		return os.Remove(req.TargetDir)
	}

	if _, err := os.Stat(req.LocalDir); err == nil {
		return enginerr.New(enginerr.KindConflictingPaths, "targetDir is populated and localDir already exists")
	}
	return os.Rename(req.TargetDir, req.LocalDir)
}

func (m *Manager) buildIndexAndSignalReady(ctx context.Context, mp *mountedPair) {
	result, err := index.Build(ctx, m.catalog, mp.request.SyncPairID, mp.request.LocalDir, mp.request.ExternalDir, index.Options{}, m.logger, func(p index.Progress) {
		if m.bus != nil {
			m.bus.Publish(notify.Event{Kind: notify.EventIndexProgress, Payload: map[string]any{
				"syncPairId":       mp.request.SyncPairID,
				"processedEntries": p.ProcessedEntries,
				"totalEntries":     p.TotalEntries,
			}})
		}
	})
	if err != nil {
		m.logger.Error(fmt.Errorf("indexing syncPair %s: %w", mp.request.SyncPairID, err))
		m.transition(state.StateError)
		return
	}

	mp.del.indexReady.Store(true)
	m.transition(state.StateReady)
	if m.bus != nil {
		m.bus.Publish(notify.Event{Kind: notify.EventIndexReady, Payload: map[string]any{
			"syncPairId": mp.request.SyncPairID,
			"added":      result.Added,
			"updated":    result.Updated,
			"removed":    result.Removed,
		}})
	}
}

func (m *Manager) transition(next state.GlobalState) {
	if m.states != nil {
		_ = m.states.Transition(next)
	}
}

// Unmount force-saves the catalog, unmounts FUSE, and drops bookkeeping.
func (m *Manager) Unmount(ctx context.Context, syncPairID string) error {
	m.mu.Lock()
	mp, ok := m.mounted[syncPairID]
	if ok {
		delete(m.mounted, syncPairID)
	}
	m.mu.Unlock()

	if !ok {
		return enginerr.New(enginerr.KindNotFound, "syncPair not mounted")
	}

	mp.unmounting.Store(true)
	if err := m.catalog.ForceSave(ctx); err != nil {
		m.logger.Error(err)
	}
	return mp.server.Unmount()
}

// UpdateExternalPath mutates bookkeeping for syncPairID's EXTERNAL root; if
// online is true and the path changed, the caller should follow up with a
// catalog rebuild (§4.12: "followed by online=true triggers a catalog
// rebuild").
func (m *Manager) UpdateExternalPath(syncPairID, externalDir string, online bool) error {
	mp, err := m.get(syncPairID)
	if err != nil {
		return err
	}
	mp.del.externalRoot = externalDir
	mp.del.externalOnline.Store(online)
	return nil
}

// SetExternalOffline marks the EXTERNAL root unreachable for syncPairID.
func (m *Manager) SetExternalOffline(syncPairID string) error {
	mp, err := m.get(syncPairID)
	if err != nil {
		return err
	}
	mp.del.externalOnline.Store(false)
	return nil
}

// SetReadOnly toggles the read-only flag for syncPairID's mount.
func (m *Manager) SetReadOnly(syncPairID string, readOnly bool) error {
	mp, err := m.get(syncPairID)
	if err != nil {
		return err
	}
	mp.del.readOnly.Store(readOnly)
	return nil
}

func (m *Manager) get(syncPairID string) (*mountedPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mounted[syncPairID]
	if !ok {
		return nil, enginerr.New(enginerr.KindNotFound, "syncPair not mounted")
	}
	return mp, nil
}

// FUSEDidExitUnexpectedly implements §4.12's crash recovery: up to
// DefaultCrashRetries automatic remounts with DefaultCrashCooldown between
// attempts; after the final failure, bookkeeping drops syncPairID and the
// global state transitions to error.
func (m *Manager) FUSEDidExitUnexpectedly(ctx context.Context, syncPairID string) {
	m.mu.Lock()
	mp, ok := m.mounted[syncPairID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if time.Since(mp.lastCrash) < DefaultCrashCooldown {
		return
	}
	mp.lastCrash = time.Now()
	mp.crashRetries++

	if mp.crashRetries > DefaultCrashRetries {
		m.mu.Lock()
		delete(m.mounted, syncPairID)
		m.mu.Unlock()
		m.transition(state.StateError)
		if m.bus != nil {
			m.bus.ComponentError("vfs", "mountLost", fmt.Sprintf("syncPair %s exceeded crash-recovery budget", syncPairID), false)
		}
		return
	}

	req := mp.request
	m.mu.Lock()
	delete(m.mounted, syncPairID)
	m.mu.Unlock()

	if err := m.Mount(ctx, req); err != nil {
		m.logger.Error(fmt.Errorf("remount after crash for %s: %w", syncPairID, err))
	}
}

// ReconcileAfterWake is the wake-from-sleep hook: it re-checks every mount
// and runs the crash-recovery path for any that are no longer live, without
// consuming retry budget (§4.12).
func (m *Manager) ReconcileAfterWake(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.mounted))
	for id, mp := range m.mounted {
		if mp.crashed.Load() {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		if mp, ok := m.mounted[id]; ok {
			mp.crashRetries = 0
		}
		m.mu.Unlock()
		m.FUSEDidExitUnexpectedly(ctx, id)
	}
}
