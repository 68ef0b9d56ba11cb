package api

import (
	"context"

	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/service"
)

// RequestRepository defines request-record operations used by RequestHandler.
type RequestRepository interface {
	QueryRequests(ctx context.Context, opts models.RequestQueryOpts) ([]models.RequestRecord, bool, error)
	GetRequest(ctx context.Context, id int64) (*models.RequestRecord, error)
}

// ChangeRepository defines change-record operations used by ChangeHandler.
type ChangeRepository interface {
	QueryChanges(ctx context.Context, opts models.ChangeQueryOpts) ([]models.ChangeRecord, bool, error)
	GetChange(ctx context.Context, id int64) (*models.ChangeRecord, error)
}

// FlushRunner runs an on-demand retention sweep for FlushHandler.
type FlushRunner interface {
	Run(ctx context.Context) (service.SweepResult, error)
}
