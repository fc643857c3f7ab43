package store

import (
	"database/sql"
	"time"
)

// SetMetadata upserts a metadata value.
func (db *DB) SetMetadata(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetMetadata returns the value for key, or "" with ok=false if unset.
func (db *DB) GetMetadata(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// MetadataByPrefix returns all entries whose key starts with prefix, newest
// first. Used to enumerate parked conflicts.
func (db *DB) MetadataByPrefix(prefix string) ([]*MetadataEntry, error) {
	rows, err := db.Query(`
		SELECT key, value, updated_at FROM metadata
		WHERE key LIKE ? || '%' ORDER BY updated_at DESC`, prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*MetadataEntry
	for rows.Next() {
		var e MetadataEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// DeleteMetadata removes a metadata entry.
func (db *DB) DeleteMetadata(key string) error {
	_, err := db.Exec(`DELETE FROM metadata WHERE key = ?`, key)
	return err
}
