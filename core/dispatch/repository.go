package dispatch

import (
	"context"

	"github.com/kilianp07/repairdispatch/core/model"
)

// OrderRepository gives access to persisted orders.
type OrderRepository interface {
	// GetOrderByID returns model.ErrNotFound when the order does not exist.
	GetOrderByID(ctx context.Context, id string) (model.Order, error)
	UpdateOrder(ctx context.Context, order model.Order) error
}

// WorkerRepository gives access to persisted masters.
type WorkerRepository interface {
	// GetAvailableWorkers returns the masters with status AVAILABLE that
	// handle the given category.
	GetAvailableWorkers(ctx context.Context, category string) ([]model.Worker, error)
	UpdateWorkerStatus(ctx context.Context, id string, status model.WorkerStatus) error
}

// AssignmentRepository persists offers.
type AssignmentRepository interface {
	// CreateAssignment stores a PENDING assignment. It returns
	// model.ErrPendingAssignmentExists if the order already has one.
	CreateAssignment(ctx context.Context, a model.NewAssignment) (model.Assignment, error)
	// UpdateAssignmentStatus moves a PENDING assignment to a terminal status.
	// It returns model.ErrAssignmentNotPending if the assignment was already
	// resolved.
	UpdateAssignmentStatus(ctx context.Context, id string, u model.StatusUpdate) error
	// GetActiveAssignmentForOrder returns the PENDING assignment of the
	// order, or nil when there is none.
	GetActiveAssignmentForOrder(ctx context.Context, orderID string) (*model.Assignment, error)
	GetAssignment(ctx context.Context, id string) (model.Assignment, error)
	ListAssignmentsForOrder(ctx context.Context, orderID string) ([]model.Assignment, error)
}

// Repositories bundles the collaborators the manager depends on.
type Repositories struct {
	Orders      OrderRepository
	Workers     WorkerRepository
	Assignments AssignmentRepository
}

func (r Repositories) valid() bool {
	return r.Orders != nil && r.Workers != nil && r.Assignments != nil
}
