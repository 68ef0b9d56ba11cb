package api_test

import (
	"context"

	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/service"
)

// mockRequestRepo implements api.RequestRepository for testing.
type mockRequestRepo struct {
	queryFn func(ctx context.Context, opts models.RequestQueryOpts) ([]models.RequestRecord, bool, error)
	getFn   func(ctx context.Context, id int64) (*models.RequestRecord, error)
}

func (m *mockRequestRepo) QueryRequests(ctx context.Context, opts models.RequestQueryOpts) ([]models.RequestRecord, bool, error) {
	return m.queryFn(ctx, opts)
}

func (m *mockRequestRepo) GetRequest(ctx context.Context, id int64) (*models.RequestRecord, error) {
	return m.getFn(ctx, id)
}

// mockChangeRepo implements api.ChangeRepository for testing.
type mockChangeRepo struct {
	queryFn func(ctx context.Context, opts models.ChangeQueryOpts) ([]models.ChangeRecord, bool, error)
	getFn   func(ctx context.Context, id int64) (*models.ChangeRecord, error)
}

func (m *mockChangeRepo) QueryChanges(ctx context.Context, opts models.ChangeQueryOpts) ([]models.ChangeRecord, bool, error) {
	return m.queryFn(ctx, opts)
}

func (m *mockChangeRepo) GetChange(ctx context.Context, id int64) (*models.ChangeRecord, error) {
	return m.getFn(ctx, id)
}

// mockFlushRunner implements api.FlushRunner for testing.
type mockFlushRunner struct {
	runFn func(ctx context.Context) (service.SweepResult, error)
}

func (m *mockFlushRunner) Run(ctx context.Context) (service.SweepResult, error) {
	return m.runFn(ctx)
}
