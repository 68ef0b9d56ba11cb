// Package scope carries the per-request audit state: whether the
// current request should be logged and which objects already have an
// open change record in it.
//
// A Scope is owned by exactly one request's context and is never shared
// across concurrent requests; lifecycle hooks run synchronously inside
// the owning request, so no locking is needed. Code running outside a
// request (background jobs) simply finds no scope.
package scope

import "context"

// Scope is the execution-local audit state for one request.
type Scope struct {
	// ShouldLog is decided once at request start: the method is not
	// safe/read-only, the intercept predicate approved the request,
	// and request logging is globally enabled.
	ShouldLog bool

	open     map[string]int64
	cleanups []func()
}

// New returns a fresh scope with logging off and no open records.
func New() *Scope {
	return &Scope{open: make(map[string]int64)}
}

// OpenRecord returns the id of the change record already opened for an
// object reference in this scope, if any.
func (s *Scope) OpenRecord(instance string) (int64, bool) {
	id, ok := s.open[instance]

	return id, ok
}

// TrackRecord registers a change record as the open one for an object
// reference. The first registration wins; later calls for the same
// reference are no-ops, matching the one-open-record-per-object
// invariant.
func (s *Scope) TrackRecord(instance string, id int64) {
	if _, exists := s.open[instance]; exists {
		return
	}
	s.open[instance] = id
}

// OpenIDs returns the ids of every change record opened in this scope.
func (s *Scope) OpenIDs() []int64 {
	ids := make([]int64, 0, len(s.open))
	for _, id := range s.open {
		ids = append(ids, id)
	}

	return ids
}

// Len reports how many distinct objects have an open record.
func (s *Scope) Len() int {
	return len(s.open)
}

// OnClear registers a function to run when the scope is cleared. Hook
// layers use this to tie per-object state they cache during the
// request to the request's lifetime.
func (s *Scope) OnClear(fn func()) {
	s.cleanups = append(s.cleanups, fn)
}

// Clear empties the scope and runs the registered cleanups. The
// middleware calls this unconditionally at request end; a leaked scope
// would corrupt the next request handled by a reused worker.
func (s *Scope) Clear() {
	for _, fn := range s.cleanups {
		fn()
	}

	s.cleanups = nil
	s.ShouldLog = false
	s.open = make(map[string]int64)
}

type ctxKey struct{}

// Attach binds a scope to a context. The returned context is installed
// on the request so every hook fired during handling can find it.
func Attach(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From looks up the scope on a context. It never panics; the false
// return is the explicit "no request in scope" signal for non-request
// code paths.
func From(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Scope)

	return s, ok
}
