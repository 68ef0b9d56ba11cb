package models

import "time"

// ChangeType classifies what happened to the logged object.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// FieldChange is one field's before/after pair inside a change record.
// Old and New hold JSON-safe values; nil means absent/null.
type FieldChange struct {
	Label string `json:"label"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// ChangeRecord is one audit entry describing a create/update/delete of
// one domain object. Several mutations of the same object within one
// request merge into a single record.
type ChangeRecord struct {
	ID         int64                  `json:"id"`
	CreatedAt  time.Time              `json:"created_at"`
	RequestID  *int64                 `json:"request_id,omitempty"`
	ChangeType ChangeType             `json:"change_type"`
	Instance   string                 `json:"instance"`
	Fields     map[string]FieldChange `json:"fields"`
}

// ChangeQueryOpts holds filters for listing change records.
type ChangeQueryOpts struct {
	Instance   string
	ChangeType string
	RequestID  *int64
	Since      *time.Time
	Limit      int
	Offset     int
}

// Delta is the comparator's output for a single field: the value that
// was saved before the mutation and the current value after it.
type Delta struct {
	Saved   any `json:"saved"`
	Current any `json:"current"`
}

// Snapshot is a point-in-time flat copy of an object's concrete field
// values, used as a diff baseline. Not persisted.
type Snapshot map[string]any

// RelationSnapshot maps a many-to-many relation name to the sorted set
// of related primary keys at a point in time. Not persisted.
type RelationSnapshot map[string][]string
