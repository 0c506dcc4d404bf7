package store

import (
	"context"

	"github.com/kilianp07/repairdispatch/core/dispatch"
	"github.com/kilianp07/repairdispatch/core/model"
)

// Store is the full persistence surface used by the service and the CLI.
type Store interface {
	dispatch.OrderRepository
	dispatch.WorkerRepository
	dispatch.AssignmentRepository

	PutOrder(ctx context.Context, o model.Order) error
	PutWorker(ctx context.Context, w model.Worker) error
	ListOrders(ctx context.Context) ([]model.Order, error)
	GetWorker(ctx context.Context, id string) (model.Worker, error)
	ListPendingAssignments(ctx context.Context) ([]model.Assignment, error)
	Close() error
}

// Repositories exposes s through the manager's repository bundle.
func Repositories(s Store) dispatch.Repositories {
	return dispatch.Repositories{Orders: s, Workers: s, Assignments: s}
}
