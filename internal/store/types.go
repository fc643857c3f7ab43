package store

import "encoding/json"

// Collection identifies one of the local record collections.
type Collection string

const (
	Patients      Collection = "patients"
	Consultations Collection = "consultations"
	Prescriptions Collection = "prescriptions"
)

// RecordCollections lists the domain record collections in sync-priority-neutral order.
var RecordCollections = []Collection{Patients, Consultations, Prescriptions}

// Valid reports whether c names a known record collection.
func (c Collection) Valid() bool {
	switch c {
	case Patients, Consultations, Prescriptions:
		return true
	}
	return false
}

// DraftCapable reports whether records in c carry a draft flag.
func (c Collection) DraftCapable() bool {
	return c == Consultations || c == Prescriptions
}

// Index is a closed set of secondary lookups. Using a typed constant instead
// of an index name string means a bad lookup fails at compile time instead of
// silently returning nothing.
type Index int

const (
	// BySynced matches records on their synced flag.
	BySynced Index = iota
	// ByDraft matches consultation/prescription records on their draft flag.
	ByDraft
	// ByPatient matches consultation/prescription records on their owning patient id.
	ByPatient
)

// Record is the stored wrapper around one domain payload.
type Record struct {
	ID        string
	Doc       json.RawMessage
	PatientID string // owning patient, empty for top-level records
	IsDraft   bool
	Synced    bool
	UpdatedAt int64 // ms since epoch, last local write
}

// Operation tags a queued mutation.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// QueueItem is one pending mutation awaiting propagation to the remote backend.
type QueueItem struct {
	ID         string
	Table      Collection
	Operation  Operation
	Doc        json.RawMessage
	Timestamp  int64
	RetryCount int
	Priority   int // higher drains first
	Error      string
}

// MetadataEntry is a small key/value record (sync checkpoints, parked conflicts).
type MetadataEntry struct {
	Key       string
	Value     string
	UpdatedAt int64
}
