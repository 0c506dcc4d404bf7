package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kilianp07/repairdispatch/core/model"
)

// Store keeps orders, masters and assignments in memory. It is safe for
// concurrent use.
type Store struct {
	mu          sync.RWMutex
	orders      map[string]model.Order
	workers     map[string]model.Worker
	assignments map[string]model.Assignment
	// pending indexes the PENDING assignment of each order.
	pending map[string]string
	newID   func() string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		orders:      map[string]model.Order{},
		workers:     map[string]model.Worker{},
		assignments: map[string]model.Assignment{},
		pending:     map[string]string{},
		newID:       uuid.NewString,
	}
}

// PutOrder inserts or replaces an order.
func (s *Store) PutOrder(_ context.Context, o model.Order) error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	s.mu.Lock()
	s.orders[o.ID] = cloneOrder(o)
	s.mu.Unlock()
	return nil
}

// PutWorker inserts or replaces a master.
func (s *Store) PutWorker(_ context.Context, w model.Worker) error {
	if w.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	s.mu.Lock()
	s.workers[w.ID] = cloneWorker(w)
	s.mu.Unlock()
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *Store) UpdateOrder(_ context.Context, o model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, model.ErrNotFound)
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

// ListOrders returns every order sorted by ID.
func (s *Store) ListOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		res = append(res, cloneOrder(o))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *Store) GetAvailableWorkers(_ context.Context, category string) ([]model.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if w.Status != model.WorkerAvailable || !w.Specializes(category) {
			continue
		}
		res = append(res, cloneWorker(w))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// GetWorker returns a master by ID.
func (s *Store) GetWorker(_ context.Context, id string) (model.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return model.Worker{}, fmt.Errorf("worker %s: %w", id, model.ErrNotFound)
	}
	return cloneWorker(w), nil
}

func (s *Store) UpdateWorkerStatus(_ context.Context, id string, status model.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("worker %s: %w", id, model.ErrNotFound)
	}
	w.Status = status
	s.workers[id] = w
	return nil
}

func (s *Store) CreateAssignment(_ context.Context, n model.NewAssignment) (model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pending[n.OrderID]; ok {
		return model.Assignment{}, fmt.Errorf("order %s (assignment %s): %w", n.OrderID, id, model.ErrPendingAssignmentExists)
	}
	a := model.Assignment{
		ID:        s.newID(),
		OrderID:   n.OrderID,
		MasterID:  n.MasterID,
		Status:    model.AssignmentPending,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}
	s.assignments[a.ID] = a
	s.pending[a.OrderID] = a.ID
	return a, nil
}

func (s *Store) UpdateAssignmentStatus(_ context.Context, id string, u model.StatusUpdate) error {
	if !u.Status.Terminal() {
		return fmt.Errorf("invalid target status %s", u.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	if a.Status != model.AssignmentPending {
		return fmt.Errorf("assignment %s is %s: %w", id, a.Status, model.ErrAssignmentNotPending)
	}
	a.Status = u.Status
	a.RespondedAt = u.At
	a.Reason = u.Reason
	s.assignments[id] = a
	delete(s.pending, a.OrderID)
	return nil
}

func (s *Store) GetActiveAssignmentForOrder(_ context.Context, orderID string) (*model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pending[orderID]
	if !ok {
		return nil, nil
	}
	a := s.assignments[id]
	return &a, nil
}

func (s *Store) GetAssignment(_ context.Context, id string) (model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, nil
}

// ListAssignmentsForOrder returns the order's assignments, oldest first.
func (s *Store) ListAssignmentsForOrder(_ context.Context, orderID string) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []model.Assignment
	for _, a := range s.assignments {
		if a.OrderID == orderID {
			res = append(res, a)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// ListPendingAssignments returns every PENDING assignment.
func (s *Store) ListPendingAssignments(_ context.Context) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]model.Assignment, 0, len(s.pending))
	for _, id := range s.pending {
		res = append(res, s.assignments[id])
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OrderID < res[j].OrderID })
	return res, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// cloneWorker deep-copies w so callers never share memory with the store.
func cloneWorker(w model.Worker) model.Worker {
	if w.Specializations != nil {
		w.Specializations = append([]string(nil), w.Specializations...)
	}
	w.Location = clonePoint(w.Location)
	if w.Rating != nil {
		r := *w.Rating
		w.Rating = &r
	}
	if w.CompletedJobs != nil {
		n := *w.CompletedJobs
		w.CompletedJobs = &n
	}
	return w
}

func cloneOrder(o model.Order) model.Order {
	o.Location = clonePoint(o.Location)
	return o
}

func clonePoint(p *model.GeoPoint) *model.GeoPoint {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
