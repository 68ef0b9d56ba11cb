// Package snapshot produces point-in-time flat copies of domain object
// state and computes field-level deltas between two snapshots. These
// feed the change recorder as the before/after halves of an audit entry.
package snapshot

import (
	"sort"

	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/registry"
)

// Take captures the object's concrete field values as a snapshot.
//
// Deferred fields the object reports as not loaded are skipped rather
// than forced. File-reference values are recorded by name, never by
// content. Values failing the field's normalizer keep their raw form.
// Nested mutable values are copied so later mutation of the live
// object cannot retroactively alter the snapshot.
func Take(desc *registry.Descriptor, obj registry.Object) models.Snapshot {
	snap := make(models.Snapshot, len(desc.Fields))

	for _, field := range desc.Fields {
		v, loaded := obj.FieldValue(field.Name)
		if !loaded {
			continue
		}

		if ref, ok := v.(registry.FileRef); ok {
			v = ref.Name
		}

		if field.Coerce != nil {
			if coerced, err := field.Coerce(v); err == nil {
				v = coerced
			}
		}

		snap[field.Name] = deepCopy(v)
	}

	return snap
}

// TakeRelations captures the membership of the object's declared
// many-to-many relations, keyed by relation name. Auto-created through
// relations are excluded. Objects with no identity yet produce an
// empty snapshot: relation rows cannot exist before the first save.
func TakeRelations(desc *registry.Descriptor, obj registry.Object) models.RelationSnapshot {
	snap := models.RelationSnapshot{}

	if _, ok := obj.PrimaryKey(); !ok {
		return snap
	}

	for _, rel := range desc.Relations {
		if rel.AutoCreated {
			continue
		}

		keys := append([]string(nil), obj.RelatedKeys(rel.Name)...)
		sort.Strings(keys)
		snap[rel.Name] = keys
	}

	return snap
}

// deepCopy copies nested mutable values (maps, slices, byte slices) so
// a snapshot stays stable after the live object changes. Scalars and
// immutable values pass through.
func deepCopy(v any) any {
	switch t := v.(type) {
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
