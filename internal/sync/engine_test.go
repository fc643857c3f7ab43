package sync

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/medisync/medisync/internal/entity"
	"github.com/medisync/medisync/internal/network"
	"github.com/medisync/medisync/internal/remote"
	"github.com/medisync/medisync/internal/store"
)

type env struct {
	db       *store.DB
	backend  remote.Backend
	source   *network.ManualSource
	monitor  *network.Monitor
	patients *entity.Patients
}

func testEnv(t *testing.T, online bool, backend remote.Backend) *env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if backend == nil {
		backend = remote.NewMemory()
	}
	source := network.NewManualSource(online)
	monitor := network.NewMonitor(source, nil, nil)
	monitor.Start(context.Background())
	t.Cleanup(monitor.Stop)
	return &env{
		db: db, backend: backend, source: source, monitor: monitor,
		patients: entity.NewPatients(db, nil, nil),
	}
}

func newEngine(e *env, cfg Config) *Engine {
	return NewEngine(e.db, e.backend, e.monitor, cfg, nil, nil, nil)
}

// recordingBackend captures the order of remote writes.
type recordingBackend struct {
	*remote.Memory
	mu  sync.Mutex
	ops []string
}

func (r *recordingBackend) Insert(ctx context.Context, table string, rec remote.Record) error {
	r.mu.Lock()
	r.ops = append(r.ops, "insert "+table+"/"+remote.ID(rec))
	r.mu.Unlock()
	return r.Memory.Insert(ctx, table, rec)
}

func (r *recordingBackend) Delete(ctx context.Context, table, id string) error {
	r.mu.Lock()
	r.ops = append(r.ops, "delete "+table+"/"+id)
	r.mu.Unlock()
	return r.Memory.Delete(ctx, table, id)
}

// failingBackend errors every call.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string, string) (remote.Record, error) {
	return nil, errors.New("remote unreachable")
}
func (failingBackend) Select(context.Context, string, remote.Query) ([]remote.Record, error) {
	return nil, errors.New("remote unreachable")
}
func (failingBackend) Insert(context.Context, string, remote.Record) error {
	return errors.New("remote unreachable")
}
func (failingBackend) Update(context.Context, string, string, remote.Record) error {
	return errors.New("remote unreachable")
}
func (failingBackend) Delete(context.Context, string, string) error {
	return errors.New("remote unreachable")
}

func TestDrainAppliesInsertAndMarksSynced(t *testing.T) {
	mem := remote.NewMemory()
	e := testEnv(t, true, mem)
	engine := newEngine(e, Config{})

	id, err := e.patients.Save(&entity.Patient{Name: "Alice"})
	if err != nil {
		t.Fatal(err)
	}

	started, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Fatal("Sync did not start while online and idle")
	}

	if n, _ := e.db.CountQueue(); n != 0 {
		t.Errorf("queue has %d items after drain, want 0", n)
	}
	rec, _ := e.db.Get(store.Patients, id)
	if rec == nil || !rec.Synced {
		t.Errorf("record = %+v, want synced after drain", rec)
	}
	got, err := mem.Get(context.Background(), "patients", id)
	if err != nil {
		t.Fatalf("remote record missing: %v", err)
	}
	if got["name"] != "Alice" {
		t.Errorf("remote payload = %v", got)
	}
}

func TestOfflineSyncIsNoop(t *testing.T) {
	e := testEnv(t, false, failingBackend{})
	engine := newEngine(e, Config{})

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	started, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Error("Sync started while offline")
	}
	// No remote call was attempted: a failingBackend call would have left
	// retry bookkeeping behind.
	pending, _ := e.db.PendingQueue()
	if len(pending) != 1 || pending[0].RetryCount != 0 {
		t.Errorf("queue = %+v, want one untouched item", pending)
	}
}

func TestPriorityBandsDrainFirst(t *testing.T) {
	rb := &recordingBackend{Memory: remote.NewMemory()}
	e := testEnv(t, true, rb)
	engine := newEngine(e, Config{})

	enqueue := func(id string, table store.Collection, ts int64, priority int) {
		t.Helper()
		err := e.db.Enqueue(&store.QueueItem{
			ID: id, Table: table, Operation: store.OpInsert,
			Doc: []byte(`{"id":"` + id + `"}`), Timestamp: ts, Priority: priority,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// Priorities 3,1,2 with timestamps t1<t2<t3: priority wins over age.
	enqueue("c1", store.Consultations, 1, 3)
	enqueue("p1", store.Patients, 2, 1)
	enqueue("rx1", store.Prescriptions, 3, 2)

	if _, err := engine.Sync(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}

	want := []string{"insert consultations/c1", "insert prescriptions/rx1", "insert patients/p1"}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !reflect.DeepEqual(rb.ops, want) {
		t.Errorf("apply order = %v, want %v", rb.ops, want)
	}
}

func TestRetryDemotionAtCeiling(t *testing.T) {
	e := testEnv(t, true, failingBackend{})
	engine := newEngine(e, Config{})

	if err := e.db.Enqueue(&store.QueueItem{
		ID: "q1", Table: store.Patients, Operation: store.OpInsert,
		Doc: []byte(`{"id":"p1"}`), Timestamp: 100, Priority: 2,
	}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := engine.Sync(ctx, Options{}); err != nil {
			t.Fatal(err)
		}
	}
	pending, _ := e.db.PendingQueue()
	if len(pending) != 1 {
		t.Fatalf("item dropped after %d failures", 4)
	}
	if pending[0].RetryCount != 4 || pending[0].Priority != 2 {
		t.Errorf("after 4 failures: retries=%d priority=%d, want 4/2",
			pending[0].RetryCount, pending[0].Priority)
	}
	if pending[0].Error == "" {
		t.Error("failure did not record the error message")
	}

	// Fifth consecutive failure hits the ceiling: demote by exactly one,
	// refresh the timestamp, keep the item.
	if _, err := engine.Sync(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	pending, _ = e.db.PendingQueue()
	if len(pending) != 1 {
		t.Fatal("item dropped at retry ceiling")
	}
	got := pending[0]
	if got.Priority != 1 {
		t.Errorf("priority = %d after ceiling, want 1", got.Priority)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d after ceiling, want reset to 0", got.RetryCount)
	}
	if got.Timestamp < 100 {
		t.Errorf("timestamp = %d, want refreshed >= previous", got.Timestamp)
	}
}

func TestDemotionFloorsAtZero(t *testing.T) {
	e := testEnv(t, true, failingBackend{})
	engine := newEngine(e, Config{})

	if err := e.db.Enqueue(&store.QueueItem{
		ID: "q1", Table: store.Patients, Operation: store.OpInsert,
		Doc: []byte(`{"id":"p1"}`), Timestamp: 1, Priority: 0,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < maxRetries; i++ {
		if _, err := engine.Sync(context.Background(), Options{}); err != nil {
			t.Fatal(err)
		}
	}
	pending, _ := e.db.PendingQueue()
	if len(pending) != 1 || pending[0].Priority != 0 {
		t.Errorf("priority = %d, want floor 0", pending[0].Priority)
	}
}

func TestMergeRecords(t *testing.T) {
	current := remote.Record{"a": float64(1), "b": map[string]any{"x": float64(1)},
		"id": "r1", "created_at": float64(111)}
	local := remote.Record{"a": float64(2), "b": map[string]any{"y": float64(2)},
		"id": "local-id", "created_at": float64(999)}

	merged := mergeRecords(current, local)

	if merged["a"] != float64(2) {
		t.Errorf("local scalar did not win: a = %v", merged["a"])
	}
	b, ok := merged["b"].(map[string]any)
	if !ok || b["x"] != float64(1) || b["y"] != float64(2) {
		t.Errorf("nested merge = %v, want union {x:1,y:2}", merged["b"])
	}
	if merged["id"] != "r1" || merged["created_at"] != float64(111) {
		t.Errorf("id/created_at overridden: id=%v created_at=%v", merged["id"], merged["created_at"])
	}
	// Inputs untouched.
	if current["a"] != float64(1) {
		t.Error("merge mutated the remote input")
	}
}

func TestMergeStrategyEndToEnd(t *testing.T) {
	mem := remote.NewMemory()
	ctx := context.Background()
	mem.Insert(ctx, "patients", remote.Record{
		"id": "p1", "name": "Server Name", "phone": "123", "created_at": float64(5),
	})

	e := testEnv(t, true, mem)
	engine := newEngine(e, Config{}) // MERGE default

	if _, err := e.patients.Save(&entity.Patient{ID: "p1", Name: "Local Name", CreatedAt: 99}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	got, err := mem.Get(ctx, "patients", "p1")
	if err != nil {
		t.Fatal(err)
	}
	if got["name"] != "Local Name" {
		t.Errorf("local field did not win: %v", got["name"])
	}
	if got["phone"] != "123" {
		t.Errorf("remote-only field lost: %v", got["phone"])
	}
	if got["created_at"] != float64(5) {
		t.Errorf("created_at overridden: %v", got["created_at"])
	}
}

func TestClientWinsOverwritesRemote(t *testing.T) {
	mem := remote.NewMemory()
	ctx := context.Background()
	mem.Insert(ctx, "patients", remote.Record{"id": "p1", "name": "Server", "phone": "123"})

	e := testEnv(t, true, mem)
	engine := newEngine(e, Config{Strategy: StrategyClientWins})

	if _, err := e.patients.Save(&entity.Patient{ID: "p1", Name: "Client"}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	got, _ := mem.Get(ctx, "patients", "p1")
	if got["name"] != "Client" {
		t.Errorf("name = %v, want Client", got["name"])
	}
	if _, ok := got["phone"]; ok {
		t.Error("CLIENT_WINS kept a remote-only field, want wholesale overwrite")
	}
}

func TestServerWinsDiscardsLocal(t *testing.T) {
	mem := remote.NewMemory()
	ctx := context.Background()
	mem.Insert(ctx, "patients", remote.Record{"id": "p1", "name": "Server"})

	e := testEnv(t, true, mem)
	engine := newEngine(e, Config{Strategy: StrategyServerWins})

	id, err := e.patients.Save(&entity.Patient{ID: "p1", Name: "Client"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	got, _ := mem.Get(ctx, "patients", "p1")
	if got["name"] != "Server" {
		t.Errorf("remote overwritten under SERVER_WINS: %v", got["name"])
	}
	// Queue item is still resolved and the local record marked synced.
	if n, _ := e.db.CountQueue(); n != 0 {
		t.Errorf("queue not drained: %d items", n)
	}
	rec, _ := e.db.Get(store.Patients, id)
	if !rec.Synced {
		t.Error("record not marked synced")
	}
}

func TestManualParksConflictAndResolves(t *testing.T) {
	mem := remote.NewMemory()
	ctx := context.Background()
	mem.Insert(ctx, "patients", remote.Record{"id": "p1", "name": "Server"})

	e := testEnv(t, true, mem)
	engine := newEngine(e, Config{Strategy: StrategyManual})

	if _, err := e.patients.Save(&entity.Patient{ID: "p1", Name: "Client"}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Sync(ctx, Options{}); err != nil {
		t.Fatal(err)
	}

	// Neither side written; queue item terminally parked.
	got, _ := mem.Get(ctx, "patients", "p1")
	if got["name"] != "Server" {
		t.Errorf("remote written under MANUAL: %v", got["name"])
	}
	if n, _ := e.db.CountQueue(); n != 0 {
		t.Errorf("queue = %d items, want 0 (parking is terminal)", n)
	}

	conflicts, err := engine.Conflicts()
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("parked %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Resolved || c.Table != "patients" || c.RecordID != "p1" {
		t.Errorf("conflict = %+v", c)
	}
	if c.Local["name"] != "Client" || c.Remote["name"] != "Server" {
		t.Errorf("conflict versions = local %v / remote %v", c.Local, c.Remote)
	}

	st, _ := engine.Status()
	if st.UnresolvedConflicts != 1 {
		t.Errorf("unresolved = %d, want 1", st.UnresolvedConflicts)
	}

	// Human picks a resolution: written remotely, history kept.
	resolution := remote.Record{"id": "p1", "name": "Resolved"}
	if err := engine.ResolveConflict(ctx, c.Key, resolution); err != nil {
		t.Fatal(err)
	}
	got, _ = mem.Get(ctx, "patients", "p1")
	if got["name"] != "Resolved" {
		t.Errorf("resolution not applied remotely: %v", got["name"])
	}
	conflicts, _ = engine.Conflicts()
	if len(conflicts) != 1 || !conflicts[0].Resolved {
		t.Errorf("conflict history = %+v, want kept and resolved", conflicts)
	}
	st, _ = engine.Status()
	if st.UnresolvedConflicts != 0 {
		t.Errorf("unresolved = %d after resolution, want 0", st.UnresolvedConflicts)
	}
}

func TestResolveConflictUnknownKey(t *testing.T) {
	e := testEnv(t, true, nil)
	engine := newEngine(e, Config{})
	err := engine.ResolveConflict(context.Background(), "conflict_nope", remote.Record{"id": "x"})
	if !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("err = %v, want ErrConflictNotFound", err)
	}
}

// gatedBackend blocks Get until released, to hold a cycle in flight.
type gatedBackend struct {
	*remote.Memory
	gate chan struct{}
}

func (g *gatedBackend) Get(ctx context.Context, table, id string) (remote.Record, error) {
	<-g.gate
	return g.Memory.Get(ctx, table, id)
}

func TestNoDoubleSync(t *testing.T) {
	gb := &gatedBackend{Memory: remote.NewMemory(), gate: make(chan struct{})}
	e := testEnv(t, true, gb)
	engine := newEngine(e, Config{})

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := engine.Sync(context.Background(), Options{})
		first <- err
	}()

	// Wait until the first cycle is holding the guard.
	deadline := time.Now().Add(2 * time.Second)
	for engine.active.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(time.Millisecond)
	}

	started, err := engine.Sync(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Error("second Sync ran while the first was in flight")
	}

	close(gb.gate)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
}

func TestForcedCycleLeavesGuardHeld(t *testing.T) {
	gb := &gatedBackend{Memory: remote.NewMemory(), gate: make(chan struct{})}
	e := testEnv(t, true, gb)
	engine := newEngine(e, Config{})
	ctx := context.Background()

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := engine.Sync(ctx, Options{})
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for engine.active.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(time.Millisecond)
	}

	// A forced cycle overlapping the gated one; restricting it to a
	// collection with no pending items lets it finish without touching the
	// backend.
	started, err := engine.Sync(ctx, Options{Force: true, Tables: []store.Collection{store.Prescriptions}})
	if err != nil {
		t.Fatal(err)
	}
	if !started {
		t.Fatal("forced cycle did not start")
	}

	// The finished forced cycle must not have released the first cycle's
	// guard: a plain Sync still gets skipped.
	started, err = engine.Sync(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if started {
		t.Error("guard cleared by an overlapping forced cycle")
	}
	st, _ := engine.Status()
	if !st.Syncing {
		t.Error("status lost the in-flight cycle after the forced one finished")
	}

	close(gb.gate)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if engine.active.Load() != 0 {
		t.Errorf("active = %d after all cycles, want 0", engine.active.Load())
	}
}

func TestDeleteMissingRemoteIsApplied(t *testing.T) {
	e := testEnv(t, true, nil)
	engine := newEngine(e, Config{})

	if err := e.db.Enqueue(&store.QueueItem{
		ID: "q1", Table: store.Patients, Operation: store.OpDelete,
		Doc: []byte(`{"id":"ghost"}`), Timestamp: 1, Priority: 2,
	}); err != nil {
		t.Fatal(err)
	}

	var report Report
	if _, err := engine.Sync(context.Background(), Options{
		OnComplete: func(r Report) { report = r },
	}); err != nil {
		t.Fatal(err)
	}
	if report.Applied != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want the absent-remote delete counted applied", report)
	}
	if n, _ := e.db.CountQueue(); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}
}

func TestBatchProgressReporting(t *testing.T) {
	e := testEnv(t, true, nil)
	engine := newEngine(e, Config{})

	for i := 0; i < 25; i++ {
		if _, err := e.patients.Save(&entity.Patient{Name: "p"}); err != nil {
			t.Fatal(err)
		}
	}

	var fractions []float64
	_, err := engine.Sync(context.Background(), Options{
		BatchSize:  10,
		OnProgress: func(f float64) { fractions = append(fractions, f) },
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{0.4, 0.8, 1.0}
	if !reflect.DeepEqual(fractions, want) {
		t.Errorf("progress = %v, want %v", fractions, want)
	}
}

func TestTableAllowList(t *testing.T) {
	e := testEnv(t, true, nil)
	engine := newEngine(e, Config{})
	consultations := entity.NewConsultations(e.db, nil, nil)

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := consultations.Save(&entity.Consultation{PatientID: "p"}); err != nil {
		t.Fatal(err)
	}

	_, err := engine.Sync(context.Background(), Options{
		Tables: []store.Collection{store.Consultations},
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, _ := e.db.PendingQueue()
	if len(pending) != 1 || pending[0].Table != store.Patients {
		t.Errorf("pending = %+v, want only the patient item", pending)
	}
}

func TestCompletionCallbackAndLastSync(t *testing.T) {
	e := testEnv(t, true, nil)
	engine := newEngine(e, Config{})

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	var report Report
	before := time.Now().Add(-time.Second)
	_, err := engine.Sync(context.Background(), Options{
		OnComplete: func(r Report) { report = r },
	})
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 || report.Applied != 1 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	st, err := engine.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.LastSync.Before(before) {
		t.Errorf("last sync = %v, want recent", st.LastSync)
	}
	if st.Pending != 0 || st.Syncing {
		t.Errorf("status = %+v", st)
	}
}

func TestErrorCallbackOnCycleFailure(t *testing.T) {
	e := testEnv(t, true, nil)
	engine := newEngine(e, Config{})

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	// Cancelled context aborts the cycle at the first item boundary.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	_, err := engine.Sync(ctx, Options{OnError: func(e error) { got = e }})
	if err == nil || got == nil {
		t.Errorf("cycle error not surfaced: return=%v callback=%v", err, got)
	}
	// The guard must be clear for the next trigger.
	if engine.active.Load() != 0 {
		t.Error("in-flight guard wedged after cycle failure")
	}
}

func TestEndToEndOfflineThenOnline(t *testing.T) {
	mem := remote.NewMemory()
	e := testEnv(t, false, mem)
	engine := newEngine(e, Config{})
	ctx := context.Background()

	// Offline: save succeeds locally, journaled as INSERT.
	id, err := e.patients.Save(&entity.Patient{Name: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := e.patients.Get(id)
	if got == nil || got.Name != "Alice" {
		t.Fatalf("local read after offline save = %+v", got)
	}
	pending, _ := e.db.PendingQueue()
	if len(pending) != 1 || pending[0].Operation != store.OpInsert {
		t.Fatalf("queue = %+v, want one INSERT", pending)
	}
	if started, _ := engine.Sync(ctx, Options{}); started {
		t.Fatal("sync ran while offline")
	}

	// Online: drain applies the insert.
	e.source.Set(true)
	waitOnline(t, e.monitor)
	if started, err := engine.Sync(ctx, Options{}); err != nil || !started {
		t.Fatalf("online sync: started=%v err=%v", started, err)
	}
	if n, _ := e.db.CountQueue(); n != 0 {
		t.Fatalf("queue = %d after drain", n)
	}
	rec, _ := e.db.Get(store.Patients, id)
	if !rec.Synced {
		t.Fatal("record not synced after drain")
	}
	if _, err := mem.Get(ctx, "patients", id); err != nil {
		t.Fatalf("remote insert missing: %v", err)
	}

	// Delete: journaled with the last payload, then drained.
	if err := e.patients.Delete(id); err != nil {
		t.Fatal(err)
	}
	pending, _ = e.db.PendingQueue()
	if len(pending) != 1 || pending[0].Operation != store.OpDelete {
		t.Fatalf("queue = %+v, want one DELETE", pending)
	}
	if name := docID(pending[0].Doc); name != id {
		t.Errorf("delete payload id = %q, want %q", name, id)
	}

	if _, err := engine.Sync(ctx, Options{}); err != nil {
		t.Fatal(err)
	}
	if n, _ := e.db.CountQueue(); n != 0 {
		t.Fatalf("queue = %d after delete drain", n)
	}
	if _, err := mem.Get(ctx, "patients", id); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("remote record after delete: err = %v, want ErrNotFound", err)
	}
	if rec, _ := e.db.Get(store.Patients, id); rec != nil {
		t.Error("local record still present after delete")
	}
}

func waitOnline(t *testing.T, m *network.Monitor) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !m.IsOnline() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never went online")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOnlineTransitionTriggersSync(t *testing.T) {
	mem := remote.NewMemory()
	e := testEnv(t, false, mem)
	engine := newEngine(e, Config{})

	if _, err := e.patients.Save(&entity.Patient{Name: "A"}); err != nil {
		t.Fatal(err)
	}

	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	e.source.Set(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := e.db.CountQueue(); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("online transition did not trigger a drain")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mem.Count("patients") != 1 {
		t.Error("remote record missing after triggered sync")
	}
}
