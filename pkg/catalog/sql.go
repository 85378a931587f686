package catalog

import (
	"database/sql"
	"time"
)

const selectByKeySQL = `
SELECT entry_id, sync_pair_id, virtual_path, local_path, external_path, size,
       modified_at, created_at, accessed_at, is_directory, checksum,
       location, is_dirty, lock_state, pending_deletion, entry_version
FROM file_entries WHERE sync_pair_id = ? AND virtual_path = ?`

const selectAllSQL = `
SELECT entry_id, sync_pair_id, virtual_path, local_path, external_path, size,
       modified_at, created_at, accessed_at, is_directory, checksum,
       location, is_dirty, lock_state, pending_deletion, entry_version
FROM file_entries`

const deleteByKeySQL = `DELETE FROM file_entries WHERE sync_pair_id = ? AND virtual_path = ?`

const upsertSQL = `
INSERT INTO file_entries (
	entry_id, sync_pair_id, virtual_path, local_path, external_path, size,
	modified_at, created_at, accessed_at, is_directory, checksum,
	location, is_dirty, lock_state, pending_deletion, entry_version
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(sync_pair_id, virtual_path) DO UPDATE SET
	entry_id = excluded.entry_id,
	local_path = excluded.local_path,
	external_path = excluded.external_path,
	size = excluded.size,
	modified_at = excluded.modified_at,
	created_at = excluded.created_at,
	accessed_at = excluded.accessed_at,
	is_directory = excluded.is_directory,
	checksum = excluded.checksum,
	location = excluded.location,
	is_dirty = excluded.is_dirty,
	lock_state = excluded.lock_state,
	pending_deletion = excluded.pending_deletion,
	entry_version = excluded.entry_version`

const statsSQL = `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN location = 0 THEN size ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN location = 1 THEN size ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN location = 2 THEN size ELSE 0 END), 0)
FROM file_entries WHERE sync_pair_id = ? AND is_directory = 0`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*FileEntry, error) {
	var e FileEntry
	var localPath, externalPath, checksum sql.NullString
	var modifiedAt, createdAt, accessedAt int64
	var isDirectory, isDirty, pendingDeletion int
	var location, lockState int

	err := row.Scan(
		&e.EntryID, &e.SyncPairID, &e.VirtualPath, &localPath, &externalPath, &e.Size,
		&modifiedAt, &createdAt, &accessedAt, &isDirectory, &checksum,
		&location, &isDirty, &lockState, &pendingDeletion, &e.EntryVersion,
	)
	if err != nil {
		return nil, err
	}

	e.LocalPath = localPath.String
	e.ExternalPath = externalPath.String
	e.Checksum = checksum.String
	e.ModifiedAt = time.Unix(0, modifiedAt).UTC()
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.AccessedAt = time.Unix(0, accessedAt).UTC()
	e.IsDirectory = isDirectory != 0
	e.IsDirty = isDirty != 0
	e.PendingDeletion = pendingDeletion != 0
	e.Location = Location(location)
	e.LockState = LockState(lockState)
	return &e, nil
}

func entryArgs(e *FileEntry) []interface{} {
	toInt := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	return []interface{}{
		e.EntryID, e.SyncPairID, e.VirtualPath,
		nullableString(e.LocalPath), nullableString(e.ExternalPath), e.Size,
		e.ModifiedAt.UnixNano(), e.CreatedAt.UnixNano(), e.AccessedAt.UnixNano(),
		toInt(e.IsDirectory), nullableString(e.Checksum),
		int(e.Location), toInt(e.IsDirty), int(e.LockState), toInt(e.PendingDeletion),
		e.EntryVersion,
	}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Iterator is the lazy sequence returned by Catalog.Query. It wraps a raw
// *sql.Rows cursor and re-applies the caller's predicate row by row so that
// SQLite only needs a single unfiltered scan query plan.
type Iterator struct {
	rows      *sql.Rows
	predicate Predicate
	current   *FileEntry
	err       error
}

// Next advances the iterator, returning false when exhausted or on error.
func (it *Iterator) Next() bool {
	for it.rows.Next() {
		entry, err := scanEntry(it.rows)
		if err != nil {
			it.err = err
			return false
		}
		if it.predicate == nil || it.predicate(entry) {
			it.current = entry
			return true
		}
	}
	if err := it.rows.Err(); err != nil {
		it.err = err
	}
	return false
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() *FileEntry {
	return it.current
}

// Err returns any error encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the underlying cursor. Safe to call multiple times.
func (it *Iterator) Close() error {
	return it.rows.Close()
}

// Collect drains the iterator into a slice. Intended for call sites that
// need the whole predicate result set at once (e.g. diff/eviction candidate
// sorting), as opposed to streaming consumers.
func (it *Iterator) Collect() ([]*FileEntry, error) {
	defer it.Close()
	var out []*FileEntry
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}
