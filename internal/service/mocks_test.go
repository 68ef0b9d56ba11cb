package service

import (
	"context"
	"sync"
	"time"

	"github.com/reqtrail/reqtrail/internal/models"
)

// mockChangeWriter records calls and returns configured responses.
type mockChangeWriter struct {
	mu    sync.Mutex
	calls []string

	createChange       func(ctx context.Context, changeType models.ChangeType, instance string, fields map[string]models.FieldChange) (int64, error)
	getChange          func(ctx context.Context, id int64) (*models.ChangeRecord, error)
	updateChangeFields func(ctx context.Context, id int64, fields map[string]models.FieldChange) error
}

func (m *mockChangeWriter) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

func (m *mockChangeWriter) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockChangeWriter) CreateChange(ctx context.Context, changeType models.ChangeType, instance string, fields map[string]models.FieldChange) (int64, error) {
	m.record("CreateChange")
	return m.createChange(ctx, changeType, instance, fields)
}

func (m *mockChangeWriter) GetChange(ctx context.Context, id int64) (*models.ChangeRecord, error) {
	m.record("GetChange")
	return m.getChange(ctx, id)
}

func (m *mockChangeWriter) UpdateChangeFields(ctx context.Context, id int64, fields map[string]models.FieldChange) error {
	m.record("UpdateChangeFields")
	return m.updateChangeFields(ctx, id, fields)
}

// mockChangeSweepStore returns configured responses for the sweeper.
type mockChangeSweepStore struct {
	oldestChangeAt        func(ctx context.Context) (time.Time, bool, error)
	deleteChangesInWindow func(ctx context.Context, from, to time.Time, batchSize int) (int, error)
	deleteExcluding       func(ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string) (int, error)
	reindex               func(ctx context.Context) error

	reindexCalls int
}

func (m *mockChangeSweepStore) OldestChangeAt(ctx context.Context) (time.Time, bool, error) {
	return m.oldestChangeAt(ctx)
}

func (m *mockChangeSweepStore) DeleteChangesInWindow(ctx context.Context, from, to time.Time, batchSize int) (int, error) {
	return m.deleteChangesInWindow(ctx, from, to, batchSize)
}

func (m *mockChangeSweepStore) DeleteExpiredChangesExcluding(ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string) (int, error) {
	return m.deleteExcluding(ctx, cutoff, batchSize, keep)
}

func (m *mockChangeSweepStore) Reindex(ctx context.Context) error {
	m.reindexCalls++
	if m.reindex != nil {
		return m.reindex(ctx)
	}
	return nil
}

// mockRequestSweepStore returns configured responses for the sweeper.
type mockRequestSweepStore struct {
	oldestRequestAt        func(ctx context.Context) (time.Time, bool, error)
	deleteRequestsInWindow func(ctx context.Context, from, to time.Time, batchSize int) (int, error)
	deleteExcluding        func(ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string) (int, error)
	reindex                func(ctx context.Context) error

	reindexCalls int
}

func (m *mockRequestSweepStore) OldestRequestAt(ctx context.Context) (time.Time, bool, error) {
	return m.oldestRequestAt(ctx)
}

func (m *mockRequestSweepStore) DeleteRequestsInWindow(ctx context.Context, from, to time.Time, batchSize int) (int, error) {
	return m.deleteRequestsInWindow(ctx, from, to, batchSize)
}

func (m *mockRequestSweepStore) DeleteExpiredRequestsExcluding(ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string) (int, error) {
	return m.deleteExcluding(ctx, cutoff, batchSize, keep)
}

func (m *mockRequestSweepStore) Reindex(ctx context.Context) error {
	m.reindexCalls++
	if m.reindex != nil {
		return m.reindex(ctx)
	}
	return nil
}
