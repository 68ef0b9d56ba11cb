// Package registry holds the static model registry: which domain types
// participate in logging, their concrete fields (name, label, value
// normalization), declared many-to-many relations, and the permanent
// field sets the retention sweeper must never expire.
//
// The registry is built once at process startup from application code
// plus the DISABLED_MODELS exclusion list; there is no runtime
// reflection over a framework registry.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// CoerceFunc normalizes a raw field value to its canonical JSON-safe
// representation. Returning an error makes the snapshotter fall back
// to the raw value; it never aborts a snapshot.
type CoerceFunc func(v any) (any, error)

// Field describes one concrete persisted field of a logged type.
type Field struct {
	Name   string
	Label  string
	Coerce CoerceFunc // optional
}

// Relation describes a declared many-to-many relation.
type Relation struct {
	Name string
	// AutoCreated marks implicit through-table relations, which are
	// excluded from relation snapshots.
	AutoCreated bool
}

// Descriptor is the logging metadata for one domain type.
type Descriptor struct {
	App    string // application/module label, e.g. "shop"
	Name   string // type name, e.g. "Order"
	Fields []Field
	// Relations lists the type's many-to-many relations.
	Relations []Relation
	// PermanentFields names fields whose change rows are retained
	// forever by the exclusion-aware sweep strategy.
	PermanentFields []string
}

// Key returns the registry key "app.Type".
func (d *Descriptor) Key() string {
	return d.App + "." + d.Name
}

// Label returns the display label for a field, falling back to the
// field name when no label or no such field is declared.
func (d *Descriptor) Label(fieldName string) string {
	for _, f := range d.Fields {
		if f.Name == fieldName {
			if f.Label != "" {
				return f.Label
			}
			break
		}
	}
	return fieldName
}

// Object is the boundary contract the domain layer implements for every
// logged instance.
type Object interface {
	// ModelKey returns the "app.Type" registry key for the instance.
	ModelKey() string
	// PrimaryKey returns the instance's primary key. ok is false for
	// instances that have not been persisted yet.
	PrimaryKey() (pk string, ok bool)
	// FieldValue returns the raw in-memory value for a concrete field.
	// loaded is false for deferred fields that were never materialized;
	// the snapshotter skips those rather than forcing a load.
	FieldValue(name string) (v any, loaded bool)
	// RelatedKeys returns the current primary keys in a many-to-many
	// relation's membership.
	RelatedKeys(relation string) []string
}

// FileRef is a file-reference field value. Snapshots record the stored
// name, never the content.
type FileRef struct {
	Name string
}

// Registry maps "app.Type" keys to descriptors for all types that
// participate in logging.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{types: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Registering the same key twice is a
// programming error.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := d.Key()
	if _, exists := r.types[key]; exists {
		return fmt.Errorf("model %q already registered", key)
	}
	r.types[key] = d

	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for an "app.Type" key.
func (r *Registry) Lookup(key string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.types[key]

	return d, ok
}

// Descriptors returns all registered descriptors sorted by key.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.types))
	for _, d := range r.types {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })

	return out
}

// WithoutDisabled returns a copy of the registry with the given
// exclusions removed. An exclusion is either "app.Type" (whole type)
// or "app" (every type in the app). Matching is case-insensitive,
// mirroring how the exclusion list is written in configuration.
func (r *Registry) WithoutDisabled(disabled []string) *Registry {
	wholeApps := make(map[string]bool)
	wholeTypes := make(map[string]bool)
	for _, entry := range disabled {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, ".") {
			wholeTypes[entry] = true
		} else {
			wholeApps[entry] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := New()
	for key, d := range r.types {
		lower := strings.ToLower(key)
		if wholeTypes[lower] || wholeApps[strings.ToLower(d.App)] {
			continue
		}
		out.types[key] = d
	}

	return out
}

// PermanentlyRetained returns the descriptors declaring at least one
// permanent field, sorted by key. The exclusion-aware sweep strategy
// uses these to decide which rows outlive the retention window.
func (r *Registry) PermanentlyRetained() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.Descriptors() {
		if len(d.PermanentFields) > 0 {
			out = append(out, d)
		}
	}

	return out
}

// InstanceRef builds the object reference string "app.Type.pk" that
// uniquely identifies a mutated object in change records.
func InstanceRef(key, pk string) string {
	return key + "." + pk
}
