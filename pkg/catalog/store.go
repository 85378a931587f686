package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/duallayer/hybridfs/pkg/catalog/migrations"
	"github.com/duallayer/hybridfs/pkg/enginerr"
	"github.com/duallayer/hybridfs/pkg/logging"
)

// Catalog is the durable mapping described in §4.1. Implementations must
// provide atomic per-key writes and all-or-nothing batches. The sqlite
// implementation uses a single database connection, so an open Iterator
// from Query holds that connection and every other call, writes included,
// waits until the Iterator is closed.
type Catalog interface {
	Get(ctx context.Context, key Key) (*FileEntry, error)
	Put(ctx context.Context, entry *FileEntry) error
	PutBatch(ctx context.Context, entries []*FileEntry) error
	Delete(ctx context.Context, key Key) error
	DeleteBatch(ctx context.Context, keys []Key) error
	Query(ctx context.Context, predicate Predicate) (*Iterator, error)
	Stats(ctx context.Context, syncPairID string) (Stats, error)
	// ForceSave durably checkpoints the store. It is called periodically and
	// immediately before unmount, per §3 "Lifecycle summary".
	ForceSave(ctx context.Context) error
	Close() error
}

// Stats aggregates entry counts and bytes by location, used by the CLI
// status command and by the Eviction Engine's toFree computation.
type Stats struct {
	TotalEntries   int64
	LocalOnlyBytes int64
	ExternalOnlyBytes int64
	BothBytes      int64
}

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = enginerr.New(enginerr.KindNotFound, "catalog: entry not found")

// sqliteStore is the SQLite-backed Catalog implementation.
type sqliteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens (creating if necessary) a SQLite-backed catalog at path and
// applies pending schema migrations via goose, mirroring the migration
// discipline tonimelisma/onedrive-go uses for its sync database.
func Open(ctx context.Context, path string, logger *logging.Logger) (Catalog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, enginerr.Wrap(enginerr.KindUnavailable, "unable to open catalog database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn

	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, enginerr.Wrap(enginerr.KindCorrupt, "unable to apply catalog migrations", err)
	}

	return &sqliteStore{db: db, logger: logger.Sublogger("catalog")}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key Key) (*FileEntry, error) {
	row := s.db.QueryRowContext(ctx, selectByKeySQL, key.SyncPairID, key.VirtualPath)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, enginerr.Wrap(enginerr.KindCorrupt, "unable to scan catalog row", err)
	}
	return entry, nil
}

func (s *sqliteStore) Put(ctx context.Context, entry *FileEntry) error {
	return s.PutBatch(ctx, []*FileEntry{entry})
}

// PutBatch writes all entries inside a single transaction: all-or-nothing,
// per §4.1's batch guarantee.
func (s *sqliteStore) PutBatch(ctx context.Context, entries []*FileEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if err := e.EnsureValid(); err != nil {
			return fmt.Errorf("invalid file entry for %s: %w", e.VirtualPath, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to begin catalog transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to prepare upsert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		e.EntryVersion++
		if _, err := stmt.ExecContext(ctx, entryArgs(e)...); err != nil {
			return enginerr.Wrap(enginerr.KindUnavailable, "unable to upsert catalog entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to commit catalog transaction", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, key Key) error {
	return s.DeleteBatch(ctx, []Key{key})
}

func (s *sqliteStore) DeleteBatch(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to begin catalog transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, deleteByKeySQL)
	if err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to prepare delete", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.SyncPairID, k.VirtualPath); err != nil {
			return enginerr.Wrap(enginerr.KindUnavailable, "unable to delete catalog entry", err)
		}
	}

	return tx.Commit()
}

// Query returns a lazy Iterator over all entries matching predicate. The
// underlying *sql.Rows holds the store's only connection until the Iterator
// is closed, so concurrent PutBatch/DeleteBatch calls wait for it, and a
// write issued from the iterating goroutine itself never completes.
func (s *sqliteStore) Query(ctx context.Context, predicate Predicate) (*Iterator, error) {
	rows, err := s.db.QueryContext(ctx, selectAllSQL)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.KindUnavailable, "unable to query catalog", err)
	}
	return &Iterator{rows: rows, predicate: predicate}, nil
}

func (s *sqliteStore) Stats(ctx context.Context, syncPairID string) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, statsSQL, syncPairID)
	var localBytes, externalBytes, bothBytes sql.NullInt64
	var count sql.NullInt64
	if err := row.Scan(&count, &localBytes, &externalBytes, &bothBytes); err != nil {
		return stats, enginerr.Wrap(enginerr.KindUnavailable, "unable to compute catalog stats", err)
	}
	stats.TotalEntries = count.Int64
	stats.LocalOnlyBytes = localBytes.Int64
	stats.ExternalOnlyBytes = externalBytes.Int64
	stats.BothBytes = bothBytes.Int64
	return stats, nil
}

// ForceSave checkpoints the WAL so that a crash immediately afterward cannot
// lose committed writes, satisfying the periodic/pre-unmount durability
// guarantee in §3.
func (s *sqliteStore) ForceSave(ctx context.Context) error {
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		return enginerr.Wrap(enginerr.KindUnavailable, "unable to checkpoint catalog", err)
	}
	s.logger.Debugf("catalog checkpoint completed in %s", time.Since(start))
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
