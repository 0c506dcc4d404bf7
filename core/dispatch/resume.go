package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/repairdispatch/core/model"
)

// ResumeAssignments re-arms the response timers of offers left PENDING by a
// previous process. The remaining window is taken from each assignment's
// ExpiresAt, so an offer that expired while the process was down expires
// right away. Assignments of orders that are no longer NEW are cancelled.
// It returns the number of escalations resumed.
func (m *DispatchManager) ResumeAssignments(ctx context.Context, pending []model.Assignment) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	var errs []error
	resumed := 0
	for _, a := range pending {
		if a.Status != model.AssignmentPending {
			continue
		}
		ok, err := m.resume(ctx, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			resumed++
		}
	}
	return resumed, errors.Join(errs...)
}

func (m *DispatchManager) resume(ctx context.Context, a model.Assignment) (bool, error) {
	slot := m.locks.acquire(a.OrderID)
	defer m.locks.release(a.OrderID, slot)

	if slot.esc.holds(a.ID) {
		return false, nil
	}
	order, err := m.orders.GetOrderByID(ctx, a.OrderID)
	if err != nil {
		return false, fmt.Errorf("load order %s: %w", a.OrderID, err)
	}
	if order.Status != model.OrderNew {
		m.logger.Warnf("cancelling assignment %s: order %s is %s", a.ID, a.OrderID, order.Status)
		err := m.assignments.UpdateAssignmentStatus(ctx, a.ID, model.StatusUpdate{
			Status: model.AssignmentCancelled,
			At:     m.clock.Now(),
			Reason: "order closed",
		})
		return false, ignoreStale(err)
	}
	if err := m.recoverEscalation(ctx, slot, a.OrderID); err != nil {
		return false, err
	}
	remaining := a.ExpiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	token := m.tokens.Add(1)
	orderID, assignmentID := a.OrderID, a.ID
	timer, err := m.schedule(remaining, func() { m.expire(orderID, assignmentID, token) })
	if err != nil {
		m.finish(slot, resultFailed)
		return false, fmt.Errorf("%w: order %s: %w", ErrTimerUnavailable, orderID, err)
	}
	esc := slot.esc
	esc.timer = timer
	esc.token = token
	esc.index = -1
	esc.assignmentID = a.ID
	esc.startedAt = a.CreatedAt
	esc.offers = 1
	m.logger.Infow("offer resumed", map[string]any{
		"order_id":      orderID,
		"master_id":     a.MasterID,
		"assignment_id": a.ID,
		"remaining":     remaining.String(),
	})
	return true, nil
}
