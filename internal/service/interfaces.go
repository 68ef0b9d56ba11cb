package service

import (
	"context"
	"time"

	"github.com/reqtrail/reqtrail/internal/models"
)

// ChangeWriter is the data-access interface the Recorder depends on.
type ChangeWriter interface {
	CreateChange(ctx context.Context, changeType models.ChangeType, instance string, fields map[string]models.FieldChange) (int64, error)
	GetChange(ctx context.Context, id int64) (*models.ChangeRecord, error)
	UpdateChangeFields(ctx context.Context, id int64, fields map[string]models.FieldChange) error
}

// ChangeSweepStore is the change-table interface the Sweeper depends on.
type ChangeSweepStore interface {
	OldestChangeAt(ctx context.Context) (time.Time, bool, error)
	DeleteChangesInWindow(ctx context.Context, from, to time.Time, batchSize int) (int, error)
	DeleteExpiredChangesExcluding(ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string) (int, error)
	Reindex(ctx context.Context) error
}

// RequestSweepStore is the request-table interface the Sweeper depends on.
type RequestSweepStore interface {
	OldestRequestAt(ctx context.Context) (time.Time, bool, error)
	DeleteRequestsInWindow(ctx context.Context, from, to time.Time, batchSize int) (int, error)
	DeleteExpiredRequestsExcluding(ctx context.Context, cutoff time.Time, batchSize int, keep map[string][]string) (int, error)
	Reindex(ctx context.Context) error
}
