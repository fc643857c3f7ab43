// Package sync drains the durable mutation queue against the remote backend,
// resolving write-write conflicts and retrying failures with priority
// demotion.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/medisync/medisync/internal/bus"
	"github.com/medisync/medisync/internal/metrics"
	"github.com/medisync/medisync/internal/network"
	"github.com/medisync/medisync/internal/remote"
	"github.com/medisync/medisync/internal/store"
	"go.uber.org/zap"
)

const (
	// maxRetries is the consecutive-failure ceiling after which an item's
	// priority is demoted and its timestamp refreshed, sending it to the back
	// of its new band instead of starving everything behind it.
	maxRetries = 5

	defaultBatchSize   = 10
	defaultInterval    = 5 * time.Minute
	defaultCallTimeout = 15 * time.Second

	lastSyncKey = "last_sync_time"
)

// Options tunes one sync request.
type Options struct {
	// Force starts a cycle even while another is in flight.
	Force bool
	// Strategy overrides the engine's configured conflict strategy.
	Strategy Strategy
	// Tables restricts the drain to the listed collections.
	Tables []store.Collection
	// BatchSize overrides how many items are applied between progress reports.
	BatchSize int

	OnProgress func(fraction float64)
	OnComplete func(Report)
	OnError    func(error)
}

// Report summarizes a completed cycle.
type Report struct {
	Processed int
	Applied   int
	Failed    int
	Conflicts int
}

// Status is the introspection snapshot for diagnostics surfaces.
type Status struct {
	LastSync            time.Time // zero if never synced
	Pending             int
	Syncing             bool
	UnresolvedConflicts int
}

// Engine owns the sync cycle. At most one cycle runs at a time unless forced;
// triggers are the online transition, a periodic timer, and explicit calls.
type Engine struct {
	db       *store.DB
	backend  remote.Backend
	monitor  *network.Monitor
	b        *bus.Bus
	met      *metrics.Metrics
	logger   *zap.Logger
	strategy Strategy
	interval time.Duration
	// callTimeout bounds each remote call so one hung request cannot wedge
	// the in-flight guard forever.
	callTimeout time.Duration

	// active counts in-flight cycles. Non-forced cycles start only from
	// zero; forced ones always increment, so releasing a forced cycle never
	// clears the guard out from under an overlapping one.
	active   atomic.Int64
	cancel   context.CancelFunc
	unOnline func()
}

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	Strategy    Strategy
	Interval    time.Duration
	CallTimeout time.Duration
}

// NewEngine creates a sync engine. The default conflict strategy is MERGE.
func NewEngine(db *store.DB, backend remote.Backend, monitor *network.Monitor,
	cfg Config, b *bus.Bus, met *metrics.Metrics, logger *zap.Logger) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyMerge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db: db, backend: backend, monitor: monitor,
		b: b, met: met, logger: logger,
		strategy: cfg.Strategy, interval: cfg.Interval, callTimeout: cfg.CallTimeout,
	}
}

// Start wires the engine's triggers: the offline-to-online transition and a
// periodic timer while online. Explicit Sync calls work with or without Start.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.unOnline = e.monitor.OnOnline(func() {
		go e.trigger(ctx, "online transition")
	})

	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.trigger(ctx, "periodic timer")
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unregisters the triggers. A cycle already in flight finishes on its own.
func (e *Engine) Stop() {
	if e.unOnline != nil {
		e.unOnline()
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// trigger runs a background-initiated sync; errors have no caller to return
// to, so they are logged.
func (e *Engine) trigger(ctx context.Context, cause string) {
	started, err := e.Sync(ctx, Options{})
	if err != nil {
		e.logger.Error("background sync failed", zap.String("trigger", cause), zap.Error(err))
		return
	}
	if started {
		e.logger.Debug("background sync ran", zap.String("trigger", cause))
	}
}

// Sync drains the queue. Returns false with no error when the request was a
// no-op: offline, or a cycle already in flight and Force unset. Cycle-level
// errors are both returned and routed to opts.OnError.
func (e *Engine) Sync(ctx context.Context, opts Options) (bool, error) {
	if !e.monitor.IsOnline() {
		e.logger.Info("sync skipped, offline")
		return false, nil
	}
	if opts.Force {
		e.active.Add(1)
	} else if !e.active.CompareAndSwap(0, 1) {
		e.logger.Info("sync skipped, cycle already in flight")
		return false, nil
	}
	// The guard always clears, even on a cycle-level failure, so the next
	// trigger can retry from scratch.
	defer e.active.Add(-1)

	if err := e.runCycle(ctx, opts); err != nil {
		e.publish(bus.KindSyncFailed, err.Error())
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return true, err
	}
	return true, nil
}

func (e *Engine) runCycle(ctx context.Context, opts Options) error {
	e.publish(bus.KindSyncStarted, nil)

	items, err := e.db.PendingQueue()
	if err != nil {
		return fmt.Errorf("read sync queue: %w", err)
	}
	if len(opts.Tables) > 0 {
		items = filterTables(items, opts.Tables)
	}

	strategy := e.strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var report Report
	total := len(items)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch e.applyItem(ctx, item, strategy) {
		case outcomeApplied:
			report.Applied++
			e.met.ItemApplied()
		case outcomeConflictParked:
			report.Applied++
			report.Conflicts++
			e.met.ConflictDetected()
		case outcomeFailed:
			report.Failed++
			e.met.ItemFailed()
		}
		report.Processed++

		if (i+1)%batchSize == 0 || i == total-1 {
			if opts.OnProgress != nil {
				opts.OnProgress(float64(i+1) / float64(total))
			}
			e.publish(bus.KindSyncProgress, bus.Progress{Processed: i + 1, Total: total})
		}
	}

	if err := e.db.SetMetadata(lastSyncKey, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		return fmt.Errorf("record last sync time: %w", err)
	}
	if depth, err := e.db.CountQueue(); err == nil {
		e.met.SetQueueDepth(depth)
	}
	e.met.CycleCompleted()
	e.publish(bus.KindSyncCompleted, report)
	if opts.OnComplete != nil {
		opts.OnComplete(report)
	}
	e.logger.Info("sync cycle completed",
		zap.Int("processed", report.Processed),
		zap.Int("applied", report.Applied),
		zap.Int("failed", report.Failed),
		zap.Int("conflicts", report.Conflicts))
	return nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeConflictParked
	outcomeFailed
)

// applyItem pushes one mutation to the remote backend. Item-level failures
// never abort the cycle: the item is retained with retry bookkeeping.
func (e *Engine) applyItem(ctx context.Context, item *store.QueueItem, strategy Strategy) outcome {
	parked, err := e.applyRemote(ctx, item, strategy)
	if err != nil {
		e.deferItem(item, err)
		return outcomeFailed
	}

	if err := e.db.DeleteQueueItem(item.ID); err != nil {
		e.logger.Error("dequeue applied item", zap.String("item", item.ID), zap.Error(err))
		return outcomeFailed
	}
	if item.Operation != store.OpDelete {
		recordID := docID(item.Doc)
		if err := e.db.MarkSynced(item.Table, recordID); err != nil {
			e.logger.Error("mark record synced",
				zap.String("table", string(item.Table)), zap.String("id", recordID), zap.Error(err))
		}
	}
	if parked {
		return outcomeConflictParked
	}
	return outcomeApplied
}

// applyRemote performs the remote mutation for one item. The parked return is
// true when a MANUAL-strategy conflict was recorded instead of written.
func (e *Engine) applyRemote(ctx context.Context, item *store.QueueItem, strategy Strategy) (bool, error) {
	table := string(item.Table)
	recordID := docID(item.Doc)

	switch item.Operation {
	case store.OpDelete:
		err := e.call(ctx, func(ctx context.Context) error {
			return e.backend.Delete(ctx, table, recordID)
		})
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err

	case store.OpInsert, store.OpUpdate:
		local, err := decodeDoc(item.Doc)
		if err != nil {
			return false, err
		}

		var current remote.Record
		err = e.call(ctx, func(ctx context.Context) error {
			var getErr error
			current, getErr = e.backend.Get(ctx, table, recordID)
			return getErr
		})
		if errors.Is(err, remote.ErrNotFound) {
			// No remote counterpart: INSERT and UPDATE both become a plain
			// insert of the local payload.
			return false, e.call(ctx, func(ctx context.Context) error {
				return e.backend.Insert(ctx, table, local)
			})
		}
		if err != nil {
			return false, err
		}
		return e.resolve(ctx, item, strategy, local, current)
	}
	return false, fmt.Errorf("unknown operation %q", item.Operation)
}

// deferItem retains a failed item with its error, demoting priority and
// refreshing the timestamp once the retry ceiling is hit. The item is never
// dropped; it cycles to the back of its new band and eventually retries.
func (e *Engine) deferItem(item *store.QueueItem, cause error) {
	item.RetryCount++
	item.Error = cause.Error()
	if item.RetryCount >= maxRetries {
		if item.Priority > 0 {
			item.Priority--
		}
		item.Timestamp = time.Now().UnixMilli()
		item.RetryCount = 0
		e.logger.Warn("queue item demoted after repeated failures",
			zap.String("item", item.ID), zap.Int("priority", item.Priority), zap.Error(cause))
	}
	if err := e.db.UpdateQueueItem(item); err != nil {
		e.logger.Error("write back failed item", zap.String("item", item.ID), zap.Error(err))
	}
}

// call runs one remote operation under the per-call deadline.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return fn(ctx)
}

// Status reports the last sync time, pending queue depth, whether a cycle is
// running, and the number of unresolved conflicts.
func (e *Engine) Status() (*Status, error) {
	st := &Status{Syncing: e.active.Load() > 0}

	if v, ok, err := e.db.GetMetadata(lastSyncKey); err != nil {
		return nil, err
	} else if ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			st.LastSync = time.UnixMilli(ms)
		}
	}

	pending, err := e.db.CountQueue()
	if err != nil {
		return nil, err
	}
	st.Pending = pending

	conflicts, err := e.Conflicts()
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if !c.Resolved {
			st.UnresolvedConflicts++
		}
	}
	return st, nil
}

func (e *Engine) publish(kind string, payload any) {
	if e.b == nil {
		return
	}
	e.b.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func filterTables(items []*store.QueueItem, tables []store.Collection) []*store.QueueItem {
	allowed := make(map[store.Collection]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	var out []*store.QueueItem
	for _, item := range items {
		if allowed[item.Table] {
			out = append(out, item)
		}
	}
	return out
}
