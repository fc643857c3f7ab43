package entity

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/medisync/medisync/internal/bus"
	"github.com/medisync/medisync/internal/store"
	"go.uber.org/zap"
)

// ptr constrains PT to a pointer to T that satisfies Entity, so the repo can
// allocate and decode payloads without reflection.
type ptr[T any] interface {
	Entity
	*T
}

// Repo is a typed CRUD facade over one store collection. Every local mutation
// is journaled into the sync queue with the collection's priority; the write
// and the journal entry are the only side effects of a call, no batching.
type Repo[T any, PT ptr[T]] struct {
	db       *store.DB
	col      store.Collection
	priority int
	b        *bus.Bus
	logger   *zap.Logger
}

// NewRepo creates a repository over col with the given default sync priority.
func NewRepo[T any, PT ptr[T]](db *store.DB, col store.Collection, priority int, b *bus.Bus, logger *zap.Logger) *Repo[T, PT] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo[T, PT]{db: db, col: col, priority: priority, b: b, logger: logger}
}

// Collection returns the backing collection name.
func (r *Repo[T, PT]) Collection() store.Collection { return r.col }

// All returns every stored payload, most recently updated first.
func (r *Repo[T, PT]) All() ([]PT, error) {
	recs, err := r.db.GetAll(r.col)
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](recs)
}

// Get returns the payload for id, or nil if absent. A missing id is not an
// error.
func (r *Repo[T, PT]) Get(id string) (PT, error) {
	rec, err := r.db.Get(r.col, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return decode[T, PT](rec.Doc)
}

// Save writes e locally and journals the mutation. An entity without an id
// gets a fresh one and is journaled as INSERT; an entity that already carries
// an id is journaled as UPDATE. Returns the final id. The record stays
// synced=false until the sync engine confirms the remote apply.
func (r *Repo[T, PT]) Save(e PT) (string, error) {
	op := store.OpUpdate
	if e.EntityID() == "" {
		e.SetEntityID(uuid.NewString())
		op = store.OpInsert
	}
	id := e.EntityID()

	doc, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", r.col, err)
	}

	now := nowMillis()
	rec := &store.Record{ID: id, Doc: doc, Synced: false, UpdatedAt: now}
	if owned, ok := Entity(e).(Owned); ok {
		rec.PatientID = owned.OwnerID()
		rec.IsDraft = owned.Draft()
	}
	if err := r.db.Put(r.col, rec); err != nil {
		return "", fmt.Errorf("put %s: %w", r.col, err)
	}
	if err := r.journal(op, id, doc, now); err != nil {
		return "", err
	}

	r.publish(bus.KindRecordSaved, id)
	return id, nil
}

// Delete removes the record and journals a DELETE carrying the last-known
// payload (the remote delete call and audit trail both want it). Deleting a
// missing id is a no-op.
func (r *Repo[T, PT]) Delete(id string) error {
	rec, err := r.db.Get(r.col, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := r.db.Delete(r.col, id); err != nil {
		return fmt.Errorf("delete %s: %w", r.col, err)
	}
	if err := r.journal(store.OpDelete, id, rec.Doc, nowMillis()); err != nil {
		return err
	}
	r.publish(bus.KindRecordDeleted, id)
	return nil
}

// Unsynced returns payloads of records whose latest local state has not been
// confirmed applied remotely.
func (r *Repo[T, PT]) Unsynced() ([]PT, error) {
	recs, err := r.db.GetAllByIndex(r.col, store.BySynced, false)
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](recs)
}

// MarkSynced flips the stored record's synced flag in place. Idempotent.
func (r *Repo[T, PT]) MarkSynced(id string) error {
	return r.db.MarkSynced(r.col, id)
}

// Import writes a remote-sourced record as already synced, without journaling.
// Used by the essential-data cache to pre-stage data for offline use. A stored
// record that is unsynced or a draft is left untouched: it carries local work
// the sync engine has not confirmed yet, and the remote version reaches it
// through the drain's conflict resolution, never through a cache refresh.
func (r *Repo[T, PT]) Import(e PT) error {
	if e.EntityID() == "" {
		return fmt.Errorf("import %s: missing id", r.col)
	}
	existing, err := r.db.Get(r.col, e.EntityID())
	if err != nil {
		return err
	}
	if existing != nil && (!existing.Synced || existing.IsDraft) {
		r.logger.Debug("import skipped, local record has pending work",
			zap.String("collection", string(r.col)), zap.String("id", e.EntityID()))
		return nil
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.col, err)
	}
	rec := &store.Record{ID: e.EntityID(), Doc: doc, Synced: true, UpdatedAt: nowMillis()}
	if owned, ok := Entity(e).(Owned); ok {
		rec.PatientID = owned.OwnerID()
		rec.IsDraft = owned.Draft()
	}
	return r.db.Put(r.col, rec)
}

func (r *Repo[T, PT]) byIndex(idx store.Index, value any) ([]PT, error) {
	recs, err := r.db.GetAllByIndex(r.col, idx, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](recs)
}

func (r *Repo[T, PT]) journal(op store.Operation, id string, doc json.RawMessage, ts int64) error {
	item := &store.QueueItem{
		ID:        fmt.Sprintf("%s_%s_%d", r.col, id, ts),
		Table:     r.col,
		Operation: op,
		Doc:       doc,
		Timestamp: ts,
		Priority:  r.priority,
	}
	if err := r.db.Enqueue(item); err != nil {
		return fmt.Errorf("journal %s %s: %w", op, r.col, err)
	}
	return nil
}

func (r *Repo[T, PT]) publish(kind, id string) {
	if r.b == nil {
		return
	}
	r.b.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   bus.RecordRef{Collection: string(r.col), ID: id},
	})
}

func decode[T any, PT ptr[T]](doc json.RawMessage) (PT, error) {
	v := new(T)
	if err := json.Unmarshal(doc, v); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return PT(v), nil
}

func decodeAll[T any, PT ptr[T]](recs []*store.Record) ([]PT, error) {
	out := make([]PT, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T, PT](rec.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// lastTS makes journal timestamps strictly increasing per process, so two
// saves within the same millisecond keep their call order in the FIFO band.
var lastTS atomic.Int64

func nowMillis() int64 {
	for {
		now := time.Now().UnixMilli()
		last := lastTS.Load()
		if now <= last {
			now = last + 1
		}
		if lastTS.CompareAndSwap(last, now) {
			return now
		}
	}
}
