// Package hooks binds the audit engine to the domain layer's object
// lifecycle. The persistence layer calls the Dispatcher's methods at
// its extension points: after loading an object, after saving, after
// deleting, and around many-to-many membership edits.
//
// Every hook is synchronous within the triggering request and every
// hook failure is caught, logged, and swallowed: a failure to audit
// never fails the mutation that triggered it.
package hooks

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/metrics"
	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/registry"
	"github.com/reqtrail/reqtrail/internal/scope"
	"github.com/reqtrail/reqtrail/internal/service"
	"github.com/reqtrail/reqtrail/internal/snapshot"
)

// Config gates object logging independently of request logging.
type Config struct {
	// LogObjectsInRequest gates hooks firing while a request is in
	// scope; the request's own ShouldLog flag must also be set.
	LogObjectsInRequest bool
	// LogObjectsOutRequest gates hooks firing with no request in scope
	// (background jobs). Changes recorded this way keep a null
	// request id forever.
	LogObjectsOutRequest bool
}

// Dispatcher caches per-instance baselines and routes lifecycle events
// into the change recorder.
//
// Baselines are keyed by the live object instance, so Object
// implementations must be comparable (pointer receivers are the normal
// case). The baseline cached at load time is the comparison base for
// every later save of that in-memory instance; saves do not refresh it.
// Cache entries never outlive their unit of work: inside a request they
// are evicted when the scope clears, outside one they are evicted by
// the event that consumed them.
type Dispatcher struct {
	rec *service.Recorder
	reg *registry.Registry
	cfg Config
	log *logrus.Logger

	mu           sync.Mutex
	baselines    map[registry.Object]models.Snapshot
	m2mBaselines map[registry.Object]models.RelationSnapshot
}

// NewDispatcher creates a Dispatcher over an already-filtered registry
// (DISABLED_MODELS exclusions applied at startup).
func NewDispatcher(rec *service.Recorder, reg *registry.Registry, cfg Config, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		rec:          rec,
		reg:          reg,
		cfg:          cfg,
		log:          log,
		baselines:    make(map[registry.Object]models.Snapshot),
		m2mBaselines: make(map[registry.Object]models.RelationSnapshot),
	}
}

// shouldLog decides whether a mutation hook records anything: in a
// request scope, both the scope's ShouldLog and the in-request setting
// must hold; outside any scope, the out-of-request setting alone rules.
func (d *Dispatcher) shouldLog(ctx context.Context) bool {
	sc, ok := scope.From(ctx)
	if !ok {
		return d.cfg.LogObjectsOutRequest
	}

	return d.cfg.LogObjectsInRequest && sc.ShouldLog
}

// descriptor resolves the object's type against the filtered registry.
// Excluded or unknown types simply don't log.
func (d *Dispatcher) descriptor(obj registry.Object) (*registry.Descriptor, bool) {
	return d.reg.Lookup(obj.ModelKey())
}

// PostLoad captures the object's current state as the baseline for
// later update/delete events on this in-memory instance. A brand-new
// instance with no identity gets an empty baseline.
func (d *Dispatcher) PostLoad(ctx context.Context, obj registry.Object) {
	if !d.shouldLog(ctx) {
		return
	}

	desc, ok := d.descriptor(obj)
	if !ok {
		return
	}

	base := models.Snapshot{}
	if _, saved := obj.PrimaryKey(); saved {
		base = snapshot.Take(desc, obj)
	}

	d.setBaseline(ctx, obj, base)
}

// PostSave records a create or update event. On create the baseline is
// forced empty even when a load baseline existed (a failed earlier save
// may have left one), so the whole state reads as new.
func (d *Dispatcher) PostSave(ctx context.Context, obj registry.Object, created bool) {
	if !d.shouldLog(ctx) {
		return
	}

	desc, ok := d.descriptor(obj)
	if !ok {
		return
	}

	if _, saved := obj.PrimaryKey(); !saved {
		return
	}

	changeType := models.ChangeUpdate
	if created {
		changeType = models.ChangeCreate
		d.setBaseline(ctx, obj, models.Snapshot{})
	}

	current := snapshot.Take(desc, obj)
	base, tracked := d.baseline(obj)
	if !tracked {
		// Never loaded through the hooks, so there is nothing to
		// compare against; record the event with no field deltas
		// rather than misreport the whole state as changed.
		base = current
	}

	d.record(ctx, obj, changeType, snapshot.Compare(current, base), "save")

	// Outside a request scope the save is the terminal event for this
	// baseline; no scope clear will evict it later.
	if _, ok := scope.From(ctx); !ok {
		d.evictBaseline(obj)
	}
}

// PostDelete records a delete event: every non-null baseline field
// reported with a nil current value. The instance's cached baselines
// are dropped afterwards.
func (d *Dispatcher) PostDelete(ctx context.Context, obj registry.Object) {
	if !d.shouldLog(ctx) {
		return
	}

	if _, ok := d.descriptor(obj); !ok {
		return
	}

	base, _ := d.baseline(obj)
	d.record(ctx, obj, models.ChangeDelete, snapshot.Compare(models.Snapshot{}, base), "delete")

	d.evictBaseline(obj)
	d.evictRelationBaseline(obj)
}

// RelationsChanging captures the pre-change membership of the object's
// many-to-many relations. Call it before applying a relation edit.
func (d *Dispatcher) RelationsChanging(ctx context.Context, obj registry.Object) {
	if !d.shouldLog(ctx) {
		return
	}

	desc, ok := d.descriptor(obj)
	if !ok {
		return
	}

	d.setRelationBaseline(ctx, obj, snapshot.TakeRelations(desc, obj))
}

// RelationsChanged compares current membership against the pre-change
// baseline and records the difference as an update keyed by relation
// name.
func (d *Dispatcher) RelationsChanged(ctx context.Context, obj registry.Object) {
	if !d.shouldLog(ctx) {
		return
	}

	desc, ok := d.descriptor(obj)
	if !ok {
		return
	}

	d.mu.Lock()
	base := d.m2mBaselines[obj]
	d.mu.Unlock()
	if base == nil {
		base = models.RelationSnapshot{}
	}

	deltas := snapshot.CompareRelations(snapshot.TakeRelations(desc, obj), base)
	d.record(ctx, obj, models.ChangeUpdate, deltas, "m2m")

	if _, ok := scope.From(ctx); !ok {
		d.evictRelationBaseline(obj)
	}
}

// setBaseline caches base for obj and, the first time an instance is
// seen inside a request, ties the entry to the scope so Clear evicts
// it.
func (d *Dispatcher) setBaseline(ctx context.Context, obj registry.Object, base models.Snapshot) {
	d.mu.Lock()
	_, tracked := d.baselines[obj]
	d.baselines[obj] = base
	d.mu.Unlock()

	if tracked {
		return
	}
	if sc, ok := scope.From(ctx); ok {
		sc.OnClear(func() { d.evictBaseline(obj) })
	}
}

func (d *Dispatcher) setRelationBaseline(ctx context.Context, obj registry.Object, base models.RelationSnapshot) {
	d.mu.Lock()
	_, tracked := d.m2mBaselines[obj]
	d.m2mBaselines[obj] = base
	d.mu.Unlock()

	if tracked {
		return
	}
	if sc, ok := scope.From(ctx); ok {
		sc.OnClear(func() { d.evictRelationBaseline(obj) })
	}
}

func (d *Dispatcher) baseline(obj registry.Object) (models.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base, ok := d.baselines[obj]
	return base, ok
}

func (d *Dispatcher) evictBaseline(obj registry.Object) {
	d.mu.Lock()
	delete(d.baselines, obj)
	d.mu.Unlock()
}

func (d *Dispatcher) evictRelationBaseline(obj registry.Object) {
	d.mu.Lock()
	delete(d.m2mBaselines, obj)
	d.mu.Unlock()
}

// record hands the delta set to the recorder, logging and discarding
// any error so the mutation path is never failed by auditing.
func (d *Dispatcher) record(
	ctx context.Context, obj registry.Object, changeType models.ChangeType,
	deltas map[string]models.Delta, stage string,
) {
	if err := d.rec.Record(ctx, obj, changeType, deltas); err != nil {
		metrics.RecordFailures.WithLabelValues(stage).Inc()
		d.log.WithError(err).WithFields(logrus.Fields{
			"model": obj.ModelKey(),
			"stage": stage,
		}).Error("change record failed")
	}
}
