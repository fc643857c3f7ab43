// Package cache pre-stages remote data into the local store so the
// application stays usable offline, and evicts stale synced data to bound
// storage growth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/medisync/medisync/internal/bus"
	"github.com/medisync/medisync/internal/entity"
	"github.com/medisync/medisync/internal/metrics"
	"github.com/medisync/medisync/internal/network"
	"github.com/medisync/medisync/internal/remote"
	"github.com/medisync/medisync/internal/store"
	"go.uber.org/zap"
)

// Config bounds what the cache keeps locally.
type Config struct {
	MaxPatients          int           // most-recently-active patients staged per facility
	MaxRecordsPerPatient int           // consultations/prescriptions per patient on deep-cache
	Expiry               time.Duration // synced, non-draft records older than this are evicted
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxPatients:          100,
		MaxRecordsPerPatient: 50,
		Expiry:               7 * 24 * time.Hour,
	}
}

// Cache populates the local store from the remote backend and expires stale
// data. Population never runs concurrently with itself and never runs while
// offline.
type Cache struct {
	backend       remote.Backend
	monitor       *network.Monitor
	db            *store.DB
	patients      *entity.Patients
	consultations *entity.Consultations
	prescriptions *entity.Prescriptions
	cfg           Config
	b             *bus.Bus
	met           *metrics.Metrics
	logger        *zap.Logger
	running       atomic.Bool
}

// New creates a cache with the given limits. Zero-value limits fall back to
// the defaults.
func New(backend remote.Backend, monitor *network.Monitor, db *store.DB,
	patients *entity.Patients, consultations *entity.Consultations, prescriptions *entity.Prescriptions,
	cfg Config, b *bus.Bus, met *metrics.Metrics, logger *zap.Logger) *Cache {
	def := DefaultConfig()
	if cfg.MaxPatients <= 0 {
		cfg.MaxPatients = def.MaxPatients
	}
	if cfg.MaxRecordsPerPatient <= 0 {
		cfg.MaxRecordsPerPatient = def.MaxRecordsPerPatient
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backend: backend, monitor: monitor, db: db,
		patients: patients, consultations: consultations, prescriptions: prescriptions,
		cfg: cfg, b: b, met: met, logger: logger,
	}
}

// CacheEssentialData stages the facility's most recently active records for
// offline use: recent patients, today's appointments (joined patient plus a
// draft consultation shell each), and recent prescriptions. A failing
// sub-fetch is logged and skipped; it never aborts the rest and never
// invalidates already-cached data. Returns immediately while offline or while
// another population run is in flight.
func (c *Cache) CacheEssentialData(ctx context.Context, facilityID string) error {
	if !c.monitor.IsOnline() {
		c.logger.Info("skipping essential-data cache, offline")
		return nil
	}
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("essential-data cache already running")
		return nil
	}
	defer c.running.Store(false)

	if err := c.stageRecentPatients(ctx, facilityID); err != nil {
		c.logger.Warn("stage recent patients failed", zap.Error(err))
	}
	if err := c.stageTodaysAppointments(ctx, facilityID); err != nil {
		c.logger.Warn("stage appointments failed", zap.Error(err))
	}
	if err := c.stageRecentPrescriptions(ctx, facilityID); err != nil {
		c.logger.Warn("stage recent prescriptions failed", zap.Error(err))
	}

	if c.b != nil {
		c.b.Publish(bus.Event{Kind: bus.KindCacheRefreshed, Timestamp: time.Now(), Payload: facilityID})
	}
	return nil
}

func (c *Cache) stageRecentPatients(ctx context.Context, facilityID string) error {
	recs, err := c.backend.Select(ctx, string(store.Patients), remote.Query{
		Filter:  map[string]any{"facility_id": facilityID},
		OrderBy: "updated_at", Desc: true,
		Limit: c.cfg.MaxPatients,
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		p, err := decode[entity.Patient](rec)
		if err != nil {
			c.logger.Warn("bad patient record", zap.String("id", remote.ID(rec)), zap.Error(err))
			continue
		}
		if err := c.patients.Import(p); err != nil {
			return err
		}
	}
	c.logger.Info("staged recent patients", zap.Int("count", len(recs)))
	return nil
}

// stageTodaysAppointments caches each scheduled patient and opens a
// draft-flagged consultation shell per appointment, so clinicians can start
// charting today's visits with no connectivity.
func (c *Cache) stageTodaysAppointments(ctx context.Context, facilityID string) error {
	today := time.Now().Format("2006-01-02")
	appts, err := c.backend.Select(ctx, "appointments", remote.Query{
		Filter: map[string]any{"facility_id": facilityID, "date": today},
	})
	if err != nil {
		return err
	}

	staged := 0
	for _, appt := range appts {
		if status, _ := appt["status"].(string); status == "cancelled" {
			continue
		}
		patientID, _ := appt["patient_id"].(string)
		if patientID == "" {
			continue
		}

		rec, err := c.backend.Get(ctx, string(store.Patients), patientID)
		if err != nil {
			c.logger.Warn("appointment patient fetch failed",
				zap.String("patient_id", patientID), zap.Error(err))
			continue
		}
		p, err := decode[entity.Patient](rec)
		if err != nil {
			continue
		}
		if err := c.patients.Import(p); err != nil {
			return err
		}

		shell := &entity.Consultation{
			ID:        remote.ID(appt),
			PatientID: patientID,
			IsDraft:   true,
		}
		if at, ok := appt["scheduled_at"].(float64); ok {
			shell.ScheduledAt = int64(at)
		}
		if err := c.consultations.Import(shell); err != nil {
			return err
		}
		staged++
	}
	c.logger.Info("staged today's appointments", zap.Int("count", staged))
	return nil
}

func (c *Cache) stageRecentPrescriptions(ctx context.Context, facilityID string) error {
	recs, err := c.backend.Select(ctx, string(store.Prescriptions), remote.Query{
		Filter:  map[string]any{"facility_id": facilityID},
		OrderBy: "updated_at", Desc: true,
		Limit: c.cfg.MaxPatients,
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		rx, err := decode[entity.Prescription](rec)
		if err != nil {
			c.logger.Warn("bad prescription record", zap.String("id", remote.ID(rec)), zap.Error(err))
			continue
		}
		if err := c.prescriptions.Import(rx); err != nil {
			return err
		}
	}
	c.logger.Info("staged recent prescriptions", zap.Int("count", len(recs)))
	return nil
}

// CachePatient deep-caches one patient plus their most recent consultations
// and prescriptions. Called when the UI navigates to a patient while online.
func (c *Cache) CachePatient(ctx context.Context, id string) error {
	if !c.monitor.IsOnline() {
		return nil
	}

	rec, err := c.backend.Get(ctx, string(store.Patients), id)
	if err != nil {
		return fmt.Errorf("fetch patient %s: %w", id, err)
	}
	p, err := decode[entity.Patient](rec)
	if err != nil {
		return err
	}
	if err := c.patients.Import(p); err != nil {
		return err
	}

	consults, err := c.backend.Select(ctx, string(store.Consultations), remote.Query{
		Filter:  map[string]any{"patient_id": id},
		OrderBy: "updated_at", Desc: true,
		Limit: c.cfg.MaxRecordsPerPatient,
	})
	if err != nil {
		c.logger.Warn("fetch consultations failed", zap.String("patient_id", id), zap.Error(err))
	}
	for _, r := range consults {
		cons, err := decode[entity.Consultation](r)
		if err != nil {
			continue
		}
		if err := c.consultations.Import(cons); err != nil {
			return err
		}
	}

	rxs, err := c.backend.Select(ctx, string(store.Prescriptions), remote.Query{
		Filter:  map[string]any{"patient_id": id},
		OrderBy: "updated_at", Desc: true,
		Limit: c.cfg.MaxRecordsPerPatient,
	})
	if err != nil {
		c.logger.Warn("fetch prescriptions failed", zap.String("patient_id", id), zap.Error(err))
	}
	for _, r := range rxs {
		rx, err := decode[entity.Prescription](r)
		if err != nil {
			continue
		}
		if err := c.prescriptions.Import(rx); err != nil {
			return err
		}
	}
	return nil
}

// CleanExpiredCache evicts synced, non-draft records whose last local write is
// older than the expiry window. Unsynced and draft records survive any age:
// not-yet-uploaded local work is never discarded. Returns the eviction count.
func (c *Cache) CleanExpiredCache() (int64, error) {
	cutoff := time.Now().Add(-c.cfg.Expiry).UnixMilli()
	var total int64
	for _, col := range store.RecordCollections {
		n, err := c.db.DeleteExpired(col, cutoff)
		if err != nil {
			return total, fmt.Errorf("expire %s: %w", col, err)
		}
		total += n
	}
	if total > 0 {
		c.logger.Info("expired cache records", zap.Int64("evicted", total))
		c.met.Evicted(total)
		if c.b != nil {
			c.b.Publish(bus.Event{Kind: bus.KindCacheEvicted, Timestamp: time.Now(), Payload: total})
		}
	}
	return total, nil
}

func decode[T any](rec remote.Record) (*T, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode remote record: %w", err)
	}
	return v, nil
}
