package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medisync/medisync/internal/bus"
	"github.com/medisync/medisync/internal/remote"
	"github.com/medisync/medisync/internal/store"
	"go.uber.org/zap"
)

// Strategy selects how a write-write conflict is resolved during drain.
type Strategy string

const (
	// StrategyClientWins overwrites the remote record with the local payload.
	StrategyClientWins Strategy = "CLIENT_WINS"
	// StrategyServerWins discards the local mutation; no remote write occurs.
	StrategyServerWins Strategy = "SERVER_WINS"
	// StrategyMerge overlays local fields onto the remote record, shallow-
	// merging nested objects. The default.
	StrategyMerge Strategy = "MERGE"
	// StrategyManual parks both versions for human resolution. Recording the
	// conflict is the terminal outcome for the queue item: the mutation is
	// reapplied only through ResolveConflict, never automatically.
	StrategyManual Strategy = "MANUAL"
)

// conflictKeyPrefix namespaces parked conflicts inside the metadata
// collection.
const conflictKeyPrefix = "conflict_"

// ErrConflictNotFound is returned by ResolveConflict for an unknown key.
var ErrConflictNotFound = errors.New("sync: conflict not found")

// ConflictRecord is a parked write-write conflict awaiting manual resolution.
type ConflictRecord struct {
	Key        string        `json:"-"`
	Table      string        `json:"table"`
	RecordID   string        `json:"record_id"`
	Local      remote.Record `json:"local"`
	Remote     remote.Record `json:"remote"`
	DetectedAt int64         `json:"detected_at"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt int64         `json:"resolved_at,omitempty"`
}

// resolve applies the configured strategy to a detected conflict. The parked
// return is true only under MANUAL strategy.
func (e *Engine) resolve(ctx context.Context, item *store.QueueItem, strategy Strategy,
	local, current remote.Record) (bool, error) {
	table := string(item.Table)
	recordID := docID(item.Doc)

	switch strategy {
	case StrategyClientWins:
		return false, e.call(ctx, func(ctx context.Context) error {
			return e.backend.Update(ctx, table, recordID, local)
		})

	case StrategyServerWins:
		// Local mutation discarded; the queue item still counts as resolved.
		return false, nil

	case StrategyMerge:
		merged := mergeRecords(current, local)
		return false, e.call(ctx, func(ctx context.Context) error {
			return e.backend.Update(ctx, table, recordID, merged)
		})

	case StrategyManual:
		if err := e.parkConflict(table, recordID, local, current); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fmt.Errorf("unknown conflict strategy %q", strategy)
}

// parkConflict persists both versions under a conflict_ metadata key.
func (e *Engine) parkConflict(table, recordID string, local, current remote.Record) error {
	now := time.Now().UnixMilli()
	rec := ConflictRecord{
		Table:      table,
		RecordID:   recordID,
		Local:      local,
		Remote:     current,
		DetectedAt: now,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode conflict: %w", err)
	}
	key := fmt.Sprintf("%s%s_%s_%d", conflictKeyPrefix, table, recordID, now)
	if err := e.db.SetMetadata(key, string(raw)); err != nil {
		return fmt.Errorf("park conflict: %w", err)
	}
	e.logger.Warn("write-write conflict parked for manual resolution",
		zap.String("table", table), zap.String("id", recordID))
	e.publish(bus.KindSyncConflict, bus.RecordRef{Collection: table, ID: recordID})
	return nil
}

// Conflicts lists every parked conflict, newest first, resolved ones included
// (they are kept as history).
func (e *Engine) Conflicts() ([]*ConflictRecord, error) {
	entries, err := e.db.MetadataByPrefix(conflictKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*ConflictRecord, 0, len(entries))
	for _, entry := range entries {
		var rec ConflictRecord
		if err := json.Unmarshal([]byte(entry.Value), &rec); err != nil {
			e.logger.Warn("bad conflict record", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		rec.Key = entry.Key
		out = append(out, &rec)
	}
	return out, nil
}

// ResolveConflict writes resolution to the remote record for the parked
// conflict, then marks the conflict resolved. The historical record is kept,
// not deleted.
func (e *Engine) ResolveConflict(ctx context.Context, key string, resolution remote.Record) error {
	raw, ok, err := e.db.GetMetadata(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflictNotFound
	}
	var rec ConflictRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("decode conflict %s: %w", key, err)
	}

	err = e.call(ctx, func(ctx context.Context) error {
		return e.backend.Update(ctx, rec.Table, rec.RecordID, resolution)
	})
	if errors.Is(err, remote.ErrNotFound) {
		err = e.call(ctx, func(ctx context.Context) error {
			return e.backend.Insert(ctx, rec.Table, resolution)
		})
	}
	if err != nil {
		return fmt.Errorf("apply resolution: %w", err)
	}

	// Bring the local copy in line with the chosen resolution.
	if doc, jerr := json.Marshal(resolution); jerr == nil {
		col := store.Collection(rec.Table)
		if col.Valid() {
			stored := &store.Record{
				ID: rec.RecordID, Doc: doc, Synced: true, UpdatedAt: time.Now().UnixMilli(),
			}
			if pid, ok := resolution["patient_id"].(string); ok {
				stored.PatientID = pid
			}
			if draft, ok := resolution["is_draft"].(bool); ok {
				stored.IsDraft = draft
			}
			if err := e.db.Put(col, stored); err != nil {
				e.logger.Warn("update local copy after resolution", zap.String("key", key), zap.Error(err))
			}
		}
	}

	rec.Resolved = true
	rec.ResolvedAt = time.Now().UnixMilli()
	updated, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.db.SetMetadata(key, string(updated))
}

// mergeRecords merges a local payload onto the remote record. Local scalar
// fields win; nested objects union key-by-key with local overriding on
// collision; the id and creation timestamp always keep the remote values.
func mergeRecords(current, local remote.Record) remote.Record {
	merged := make(remote.Record, len(current)+len(local))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range local {
		if k == "id" || k == "created_at" {
			continue
		}
		localNested, localIsMap := v.(map[string]any)
		currentNested, currentIsMap := merged[k].(map[string]any)
		if localIsMap && currentIsMap {
			sub := make(map[string]any, len(currentNested)+len(localNested))
			for nk, nv := range currentNested {
				sub[nk] = nv
			}
			for nk, nv := range localNested {
				sub[nk] = nv
			}
			merged[k] = sub
			continue
		}
		merged[k] = v
	}
	return merged
}

// docID extracts the record id from a queued payload.
func docID(doc json.RawMessage) string {
	rec, err := decodeDoc(doc)
	if err != nil {
		return ""
	}
	return remote.ID(rec)
}

func decodeDoc(doc json.RawMessage) (remote.Record, error) {
	var rec remote.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode queued payload: %w", err)
	}
	return rec, nil
}
