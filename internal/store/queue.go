package store

// Enqueue appends a pending mutation to the sync queue.
func (db *DB) Enqueue(item *QueueItem) error {
	_, err := db.Exec(`
		INSERT INTO sync_queue (id, table_name, operation, doc, timestamp, retry_count, priority, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Table), string(item.Operation), string(item.Doc),
		item.Timestamp, item.RetryCount, item.Priority, item.Error)
	return err
}

// PendingQueue returns every queued mutation, highest priority first and
// oldest-first within a priority band.
func (db *DB) PendingQueue() ([]*QueueItem, error) {
	return db.queryQueue(`
		SELECT id, table_name, operation, doc, timestamp, retry_count, priority, error_message
		FROM sync_queue ORDER BY priority DESC, timestamp ASC`)
}

// QueueByTable returns queued mutations for one collection in drain order.
func (db *DB) QueueByTable(col Collection) ([]*QueueItem, error) {
	return db.queryQueue(`
		SELECT id, table_name, operation, doc, timestamp, retry_count, priority, error_message
		FROM sync_queue WHERE table_name = ? ORDER BY priority DESC, timestamp ASC`, string(col))
}

// UpdateQueueItem writes back an item's retry/priority bookkeeping after a
// failed apply attempt.
func (db *DB) UpdateQueueItem(item *QueueItem) error {
	_, err := db.Exec(`
		UPDATE sync_queue SET timestamp = ?, retry_count = ?, priority = ?, error_message = ?
		WHERE id = ?`,
		item.Timestamp, item.RetryCount, item.Priority, item.Error, item.ID)
	return err
}

// DeleteQueueItem removes a drained mutation. Only called once the mutation is
// confirmed applied (or terminally parked as a conflict).
func (db *DB) DeleteQueueItem(id string) error {
	_, err := db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// CountQueue returns the number of pending mutations.
func (db *DB) CountQueue() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}

func (db *DB) queryQueue(query string, args ...any) ([]*QueueItem, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []*QueueItem
	for rows.Next() {
		var item QueueItem
		var table, op, doc string
		if err := rows.Scan(&item.ID, &table, &op, &doc, &item.Timestamp,
			&item.RetryCount, &item.Priority, &item.Error); err != nil {
			return nil, err
		}
		item.Table = Collection(table)
		item.Operation = Operation(op)
		item.Doc = []byte(doc)
		items = append(items, &item)
	}
	return items, rows.Err()
}
