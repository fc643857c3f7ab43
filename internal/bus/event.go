package bus

import "time"

// Event represents a domain event published on the bus. UI layers subscribe
// to reflect connectivity and sync progress without polling the core.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the offline core. Subscribers filter by namespace
// prefix ("network.", "sync.", ...).
const (
	KindNetworkOnline  = "network.online"
	KindNetworkOffline = "network.offline"

	KindSyncStarted   = "sync.started"
	KindSyncProgress  = "sync.progress"
	KindSyncCompleted = "sync.completed"
	KindSyncFailed    = "sync.failed"
	KindSyncConflict  = "sync.conflict"

	KindRecordSaved   = "record.saved"
	KindRecordDeleted = "record.deleted"

	KindCacheRefreshed = "cache.refreshed"
	KindCacheEvicted   = "cache.evicted"

	KindStatusChanged = "agent.status_changed"
)

// RecordRef identifies a stored record in record.* event payloads.
type RecordRef struct {
	Collection string
	ID         string
}

// Progress is the payload for sync.progress events.
type Progress struct {
	Processed int
	Total     int
}
