package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/metrics"
	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/registry"
	"github.com/reqtrail/reqtrail/internal/scope"
)

// Recorder turns field deltas into persisted change records, merging
// repeated mutations of the same object within one request scope into
// a single record.
type Recorder struct {
	store ChangeWriter
	reg   *registry.Registry
	log   *logrus.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store ChangeWriter, reg *registry.Registry, log *logrus.Logger) *Recorder {
	return &Recorder{store: store, reg: reg, log: log}
}

// Record creates or merges the change record for one mutation.
//
// An empty delta set still produces a record with an empty field map: a
// create or delete with no non-null fields is still an event worth
// keeping. Field labels are resolved from registry metadata at write
// time, so relabeling a field later never rewrites old records. When
// the request scope already holds an open record for this object, the
// deltas merge into it: the latest value wins per field and the
// original event's change type is preserved.
//
// Callers on the mutation path must log and discard the returned error:
// a failure to audit never fails the mutation that triggered it.
func (r *Recorder) Record(
	ctx context.Context, obj registry.Object, changeType models.ChangeType, deltas map[string]models.Delta,
) error {
	desc, ok := r.reg.Lookup(obj.ModelKey())
	if !ok {
		return fmt.Errorf("model %q not registered for logging", obj.ModelKey())
	}

	pk, _ := obj.PrimaryKey()
	instance := registry.InstanceRef(desc.Key(), pk)

	fields := make(map[string]models.FieldChange, len(deltas))
	for name, d := range deltas {
		fields[name] = models.FieldChange{
			Label: desc.Label(name),
			Old:   d.Saved,
			New:   d.Current,
		}
	}

	sc, inScope := scope.From(ctx)

	if inScope {
		if openID, exists := sc.OpenRecord(instance); exists {
			storedType, err := r.merge(ctx, openID, fields)
			if err != nil {
				return err
			}

			// Count the merge under the type the record actually
			// keeps, not the type of the folded-in mutation.
			metrics.ChangesRecorded.WithLabelValues(string(storedType)).Inc()

			return nil
		}
	}

	id, err := r.store.CreateChange(ctx, changeType, instance, fields)
	if err != nil {
		return fmt.Errorf("creating change record for %s: %w", instance, err)
	}

	if inScope {
		sc.TrackRecord(instance, id)
	}

	metrics.ChangesRecorded.WithLabelValues(string(changeType)).Inc()
	r.log.WithFields(logrus.Fields{
		"change_id":   id,
		"change_type": changeType,
		"instance":    instance,
		"fields":      len(fields),
	}).Debug("change.recorded")

	return nil
}

// merge folds new field deltas into an already-open record and returns
// the record's change type. Only the field map is written back; the
// original change type stands.
func (r *Recorder) merge(ctx context.Context, id int64, fields map[string]models.FieldChange) (models.ChangeType, error) {
	existing, err := r.store.GetChange(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetching open change record %d: %w", id, err)
	}

	merged := existing.Fields
	if merged == nil {
		merged = make(map[string]models.FieldChange, len(fields))
	}
	for name, fc := range fields {
		merged[name] = fc
	}

	if err := r.store.UpdateChangeFields(ctx, id, merged); err != nil {
		return "", fmt.Errorf("merging change record %d: %w", id, err)
	}

	return existing.ChangeType, nil
}
