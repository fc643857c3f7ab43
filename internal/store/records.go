package store

import (
	"database/sql"
	"fmt"
)

// ErrBadIndex is returned when an index lookup does not apply to the
// collection (e.g. ByPatient on patients).
var ErrBadIndex = fmt.Errorf("store: index not defined for collection")

// Get returns the stored record with the given id, or nil if absent.
func (db *DB) Get(col Collection, id string) (*Record, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("store: unknown collection %q", col)
	}
	row := db.QueryRow(fmt.Sprintf(
		`SELECT id, doc, patient_id, is_draft, synced, updated_at FROM %s WHERE id = ?`, col), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetAll returns every record in the collection.
func (db *DB) GetAll(col Collection) ([]*Record, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("store: unknown collection %q", col)
	}
	return db.queryRecords(fmt.Sprintf(
		`SELECT id, doc, patient_id, is_draft, synced, updated_at FROM %s ORDER BY updated_at DESC`, col))
}

// GetAllByIndex returns records matching one of the closed secondary lookups.
// value is a bool for BySynced/ByDraft and a patient id string for ByPatient.
func (db *DB) GetAllByIndex(col Collection, idx Index, value any) ([]*Record, error) {
	if !col.Valid() {
		return nil, fmt.Errorf("store: unknown collection %q", col)
	}
	base := fmt.Sprintf(`SELECT id, doc, patient_id, is_draft, synced, updated_at FROM %s`, col)
	switch idx {
	case BySynced:
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("store: BySynced wants bool, got %T", value)
		}
		return db.queryRecords(base+` WHERE synced = ? ORDER BY updated_at DESC`, v)
	case ByDraft:
		if !col.DraftCapable() {
			return nil, ErrBadIndex
		}
		v, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("store: ByDraft wants bool, got %T", value)
		}
		return db.queryRecords(base+` WHERE is_draft = ? ORDER BY updated_at DESC`, v)
	case ByPatient:
		if !col.DraftCapable() {
			return nil, ErrBadIndex
		}
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("store: ByPatient wants string, got %T", value)
		}
		return db.queryRecords(base+` WHERE patient_id = ? ORDER BY updated_at DESC`, v)
	}
	return nil, fmt.Errorf("store: unknown index %d", idx)
}

// Put upserts a record.
func (db *DB) Put(col Collection, rec *Record) error {
	if !col.Valid() {
		return fmt.Errorf("store: unknown collection %q", col)
	}
	_, err := db.Exec(fmt.Sprintf(`
		INSERT INTO %s (id, doc, patient_id, is_draft, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc = excluded.doc,
			patient_id = excluded.patient_id,
			is_draft = excluded.is_draft,
			synced = excluded.synced,
			updated_at = excluded.updated_at`, col),
		rec.ID, string(rec.Doc), rec.PatientID, rec.IsDraft, rec.Synced, rec.UpdatedAt)
	return err
}

// Delete removes a record by id. Deleting a missing id is a no-op.
func (db *DB) Delete(col Collection, id string) error {
	if !col.Valid() {
		return fmt.Errorf("store: unknown collection %q", col)
	}
	_, err := db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, col), id)
	return err
}

// Count returns the number of records in a collection.
func (db *DB) Count(col Collection) (int, error) {
	if !col.Valid() {
		return 0, fmt.Errorf("store: unknown collection %q", col)
	}
	var n int
	err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, col)).Scan(&n)
	return n, err
}

// MarkSynced flips the synced flag on a record in place, preserving all other
// fields. Marking an already-synced or missing record is a no-op.
func (db *DB) MarkSynced(col Collection, id string) error {
	if !col.Valid() {
		return fmt.Errorf("store: unknown collection %q", col)
	}
	_, err := db.Exec(fmt.Sprintf(`UPDATE %s SET synced = 1 WHERE id = ?`, col), id)
	return err
}

// DeleteExpired removes synced, non-draft records last touched strictly before
// cutoff, in one scan-and-delete pass. Unsynced and draft records are never
// touched regardless of age. Returns the number of evicted records.
func (db *DB) DeleteExpired(col Collection, cutoff int64) (int64, error) {
	if !col.Valid() {
		return 0, fmt.Errorf("store: unknown collection %q", col)
	}
	res, err := db.Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE synced = 1 AND is_draft = 0 AND updated_at < ?`, col), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var doc string
	if err := row.Scan(&rec.ID, &doc, &rec.PatientID, &rec.IsDraft, &rec.Synced, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Doc = []byte(doc)
	return &rec, nil
}

func (db *DB) queryRecords(query string, args ...any) ([]*Record, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
