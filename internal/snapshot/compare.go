package snapshot

import (
	"reflect"

	"github.com/reqtrail/reqtrail/internal/models"
)

// Compare diffs two snapshots of the same object and returns the set
// of changed fields. Three cases, checked in order:
//
//   - newState empty: the object was deleted. Every non-nil field of
//     oldState is reported with Current=nil. Fields already nil before
//     deletion are not a change.
//   - oldState empty: the object was created. Every non-nil field of
//     newState is reported with Saved=nil.
//   - both present: the object was updated. Fields absent from
//     oldState have no baseline and are never reported; otherwise a
//     field is reported when the two values are unequal.
//
// Equality is value equality on the normalized representation, so the
// same function serves scalar snapshots and relation snapshots.
func Compare(newState, oldState models.Snapshot) map[string]models.Delta {
	modified := make(map[string]models.Delta)

	if len(newState) == 0 {
		for key, value := range oldState {
			if value == nil {
				continue
			}
			modified[key] = models.Delta{Saved: value, Current: nil}
		}
		return modified
	}

	if len(oldState) == 0 {
		for key, value := range newState {
			if value == nil {
				continue
			}
			modified[key] = models.Delta{Saved: nil, Current: value}
		}
		return modified
	}

	for key, value := range newState {
		original, ok := oldState[key]
		if !ok {
			continue
		}
		if equalValues(original, value) {
			continue
		}
		modified[key] = models.Delta{Saved: original, Current: value}
	}

	return modified
}

// CompareRelations diffs two relation snapshots. Membership sets are
// stored sorted, so set equality reduces to value equality.
func CompareRelations(newState, oldState models.RelationSnapshot) map[string]models.Delta {
	return Compare(toSnapshot(newState), toSnapshot(oldState))
}

func toSnapshot(rs models.RelationSnapshot) models.Snapshot {
	snap := make(models.Snapshot, len(rs))
	for name, keys := range rs {
		snap[name] = keys
	}

	return snap
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
