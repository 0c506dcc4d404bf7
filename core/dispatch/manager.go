package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/core/logger"
	"github.com/kilianp07/repairdispatch/core/model"
	"github.com/kilianp07/repairdispatch/core/monitoring"
	"github.com/kilianp07/repairdispatch/internal/clock"
)

// EventPublisher receives lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(events.Event)
}

// DispatchManager runs one escalation per order. Orders are independent:
// operations on different orders never wait for each other.
type DispatchManager struct {
	orders      OrderRepository
	workers     WorkerRepository
	assignments AssignmentRepository
	scorer      Scorer
	publisher   EventPublisher
	clock       clock.Clock
	window      time.Duration
	repoTimeout time.Duration
	logger      logger.Logger
	locks       *orderLocks
	tokens      atomic.Uint64

	lifecycle sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
}

// NewDispatchManager creates a new manager. cfg must have defaults applied;
// a zero response window falls back to one minute.
func NewDispatchManager(repos Repositories, publisher EventPublisher, cfg Config, log logger.Logger) (*DispatchManager, error) {
	if !repos.valid() || publisher == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewDispatchManager")
	}
	window := cfg.ResponseWindow()
	if window <= 0 {
		window = time.Minute
	}
	repoTimeout := cfg.RepositoryTimeout()
	if repoTimeout <= 0 {
		repoTimeout = 5 * time.Second
	}
	scorer := NewScorerFromConfig(cfg.Scoring)
	if scorer.DecayKm <= 0 {
		scorer = NewScorer()
	}
	return &DispatchManager{
		orders:      repos.Orders,
		workers:     repos.Workers,
		assignments: repos.Assignments,
		scorer:      scorer,
		publisher:   publisher,
		clock:       clock.System(),
		window:      window,
		repoTimeout: repoTimeout,
		logger:      log,
		locks:       newOrderLocks(),
	}, nil
}

// SetClock replaces the clock used for timestamps and response timers.
// It must be called before the first operation.
func (m *DispatchManager) SetClock(c clock.Clock) {
	if c != nil {
		m.clock = c
	}
}

// SetScorer replaces the candidate scorer. It must be called before the
// first operation.
func (m *DispatchManager) SetScorer(s Scorer) {
	m.scorer = s
}

// ResponseWindow returns the time a master has to answer an offer.
func (m *DispatchManager) ResponseWindow() time.Duration { return m.window }

// StartOrderAssignment ranks the available masters for the order and offers
// it to the best one. When nobody is eligible a NoMastersAvailable event is
// published and nil is returned.
func (m *DispatchManager) StartOrderAssignment(ctx context.Context, orderID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	slot := m.locks.acquire(orderID)
	defer m.locks.release(orderID, slot)

	order, err := m.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Status != model.OrderNew {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotAssignable, orderID, order.Status)
	}
	active, err := m.assignments.GetActiveAssignmentForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("active assignment for %s: %w", orderID, err)
	}
	if active != nil {
		if slot.esc.holds(active.ID) {
			return fmt.Errorf("%w: order %s", ErrEscalationActive, orderID)
		}
		// left behind by a crash or an aborted transition
		m.logger.Warnf("expiring orphan assignment %s of order %s", active.ID, orderID)
		err := m.assignments.UpdateAssignmentStatus(ctx, active.ID, model.StatusUpdate{
			Status: model.AssignmentExpired,
			At:     m.clock.Now(),
			Reason: "orphaned",
		})
		if err != nil && !errors.Is(err, model.ErrAssignmentNotPending) {
			return fmt.Errorf("expire orphan assignment %s: %w", active.ID, err)
		}
	}
	m.finish(slot, resultFailed)

	ranking, err := m.rank(ctx, order, nil)
	if err != nil {
		return err
	}
	if len(ranking) == 0 {
		escalationResults.WithLabelValues(resultNoCandidates).Inc()
		m.logger.Infof("no masters available for order %s (%s)", orderID, order.Category)
		m.publish(events.NoMastersAvailable{OrderID: orderID, At: m.clock.Now()})
		return nil
	}
	m.begin(slot, &escalation{
		orderID:   orderID,
		category:  order.Category,
		ranking:   ranking,
		startedAt: m.clock.Now(),
	})
	return m.notifyCandidate(ctx, slot, 0)
}

// AcceptOrder resolves the offer in favour of the master. Signals for an
// offer that is no longer the order's active one are ignored.
func (m *DispatchManager) AcceptOrder(ctx context.Context, assignmentID, masterID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	a, ok, err := m.lookup(ctx, "accept", assignmentID, masterID)
	if err != nil || !ok {
		return err
	}
	slot := m.locks.acquire(a.OrderID)
	defer m.locks.release(a.OrderID, slot)

	active, ok, err := m.current(ctx, slot, "accept", a)
	if err != nil || !ok {
		return err
	}
	m.stopTimer(slot)
	now := m.clock.Now()
	if err := m.resolve(ctx, slot, "accept", active.ID, model.StatusUpdate{Status: model.AssignmentAccepted, At: now}); err != nil {
		return ignoreStale(err)
	}
	order, err := m.orders.GetOrderByID(ctx, a.OrderID)
	if err != nil {
		m.finish(slot, resultFailed)
		return fmt.Errorf("load order %s: %w", a.OrderID, err)
	}
	order.Status = model.OrderInProgress
	order.MasterID = masterID
	order.UpdatedAt = now
	if err := m.orders.UpdateOrder(ctx, order); err != nil {
		m.finish(slot, resultFailed)
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if err := m.workers.UpdateWorkerStatus(ctx, masterID, model.WorkerBusy); err != nil {
		m.finish(slot, resultFailed)
		return fmt.Errorf("mark master %s busy: %w", masterID, err)
	}
	m.finish(slot, resultAccepted)
	m.observeOutcome(model.AssignmentAccepted, active.CreatedAt, now)
	m.logger.Infow("order accepted", map[string]any{"order_id": a.OrderID, "master_id": masterID, "assignment_id": a.ID})
	m.publish(events.OrderAccepted{OrderID: a.OrderID, MasterID: masterID, AssignmentID: a.ID, At: now})
	return nil
}

// RejectOrder records the master's refusal and offers the order to the
// next candidate of the ranking.
func (m *DispatchManager) RejectOrder(ctx context.Context, assignmentID, masterID, reason string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	a, ok, err := m.lookup(ctx, "reject", assignmentID, masterID)
	if err != nil || !ok {
		return err
	}
	slot := m.locks.acquire(a.OrderID)
	defer m.locks.release(a.OrderID, slot)

	active, ok, err := m.current(ctx, slot, "reject", a)
	if err != nil || !ok {
		return err
	}
	held := slot.esc.holds(active.ID)
	m.stopTimer(slot)
	now := m.clock.Now()
	if err := m.resolve(ctx, slot, "reject", active.ID, model.StatusUpdate{Status: model.AssignmentRejected, At: now, Reason: reason}); err != nil {
		return ignoreStale(err)
	}
	m.observeOutcome(model.AssignmentRejected, active.CreatedAt, now)
	m.logger.Infow("order rejected", map[string]any{"order_id": a.OrderID, "master_id": masterID, "reason": reason})
	m.publish(events.OrderRejected{OrderID: a.OrderID, MasterID: masterID, AssignmentID: a.ID, Reason: reason, At: now})

	if !held {
		if err := m.recoverEscalation(ctx, slot, a.OrderID); err != nil {
			return err
		}
		return m.notifyCandidate(ctx, slot, 0)
	}
	return m.notifyCandidate(ctx, slot, slot.esc.indexOf(masterID)+1)
}

// CancelOrderAssignments stops the escalation of an order cancelled by an
// external actor. No event is published. Calling it again is a no-op.
func (m *DispatchManager) CancelOrderAssignments(ctx context.Context, orderID string) error {
	slot := m.locks.acquire(orderID)
	defer m.locks.release(orderID, slot)
	return m.cancelOffers(ctx, slot, orderID)
}

// CancelOrder marks an open order CANCELLED and stops its escalation while
// holding the order's lock, so no new escalation can start in between. The
// master of an order already in progress is made AVAILABLE again.
func (m *DispatchManager) CancelOrder(ctx context.Context, orderID string) error {
	slot := m.locks.acquire(orderID)
	defer m.locks.release(orderID, slot)

	order, err := m.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.Status == model.OrderCompleted || order.Status == model.OrderCancelled {
		return m.cancelOffers(ctx, slot, orderID)
	}
	prev := order.Status
	order.Status = model.OrderCancelled
	order.UpdatedAt = m.clock.Now()
	if err := m.orders.UpdateOrder(ctx, order); err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if prev == model.OrderInProgress && order.MasterID != "" {
		if err := m.workers.UpdateWorkerStatus(ctx, order.MasterID, model.WorkerAvailable); err != nil {
			return fmt.Errorf("release master %s: %w", order.MasterID, err)
		}
		m.logger.Infow("master released", map[string]any{"order_id": orderID, "master_id": order.MasterID})
	}
	return m.cancelOffers(ctx, slot, orderID)
}

func (m *DispatchManager) cancelOffers(ctx context.Context, slot *orderSlot, orderID string) error {
	if slot.esc != nil {
		m.finish(slot, resultCancelled)
		m.logger.Infof("escalation of order %s cancelled", orderID)
	}
	active, err := m.assignments.GetActiveAssignmentForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("active assignment for %s: %w", orderID, err)
	}
	if active == nil {
		return nil
	}
	err = m.assignments.UpdateAssignmentStatus(ctx, active.ID, model.StatusUpdate{
		Status: model.AssignmentCancelled,
		At:     m.clock.Now(),
		Reason: "order cancelled",
	})
	if err != nil && !errors.Is(err, model.ErrAssignmentNotPending) {
		return fmt.Errorf("cancel assignment %s: %w", active.ID, err)
	}
	return nil
}

// Close stops every outstanding timer and waits for running timer callbacks.
// Further operations return ErrClosed.
func (m *DispatchManager) Close() error {
	m.lifecycle.Lock()
	if m.closed {
		m.lifecycle.Unlock()
		return nil
	}
	m.closed = true
	m.lifecycle.Unlock()

	for _, id := range m.locks.keys() {
		slot := m.locks.acquire(id)
		m.finish(slot, resultShutdown)
		m.locks.release(id, slot)
	}
	m.inflight.Wait()
	return nil
}

// notifyCandidate offers the order to ranking[index], skipping masters that
// left the available pool since the ranking was computed.
func (m *DispatchManager) notifyCandidate(ctx context.Context, slot *orderSlot, index int) error {
	esc := slot.esc
	esc.stopTimer()
	if index > 0 && index < len(esc.ranking) {
		live, err := m.availableSet(ctx, esc.category)
		if err != nil {
			m.finish(slot, resultFailed)
			return err
		}
		for index < len(esc.ranking) && !live[esc.ranking[index].Worker.ID] {
			m.logger.Debugf("skipping master %s for order %s: no longer available", esc.ranking[index].Worker.ID, esc.orderID)
			index++
		}
	}
	if index >= len(esc.ranking) {
		n := len(esc.ranking)
		m.finish(slot, resultAllRejected)
		m.logger.Infof("all %d masters declined order %s", n, esc.orderID)
		m.publish(events.AllMastersRejected{OrderID: esc.orderID, Candidates: n, At: m.clock.Now()})
		return nil
	}

	cand := esc.ranking[index]
	now := m.clock.Now()
	a, err := m.assignments.CreateAssignment(ctx, model.NewAssignment{
		OrderID:   esc.orderID,
		MasterID:  cand.Worker.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.window),
	})
	if err != nil {
		m.finish(slot, resultFailed)
		return fmt.Errorf("create assignment for order %s and master %s: %w", esc.orderID, cand.Worker.ID, err)
	}
	token := m.tokens.Add(1)
	orderID, assignmentID := esc.orderID, a.ID
	timer, err := m.schedule(m.window, func() { m.expire(orderID, assignmentID, token) })
	closing := errors.Is(err, ErrClosed)
	if err != nil && !closing {
		uerr := m.assignments.UpdateAssignmentStatus(ctx, a.ID, model.StatusUpdate{
			Status: model.AssignmentCancelled,
			At:     now,
			Reason: events.ReasonTimerUnavailable,
		})
		if uerr != nil {
			m.logger.Errorf("cancel assignment %s: %v", a.ID, uerr)
		}
		m.finish(slot, resultFailed)
		m.publish(events.NoMastersAvailable{OrderID: orderID, Reason: events.ReasonTimerUnavailable, At: now})
		return fmt.Errorf("%w: order %s: %w", ErrTimerUnavailable, orderID, err)
	}
	esc.index = index
	esc.assignmentID = a.ID
	esc.offers++
	if closing {
		// the offer stays PENDING and is resumed from ExpiresAt on the next start
		m.finish(slot, resultShutdown)
		m.logger.Infof("manager closing: offer %s of order %s left pending", a.ID, orderID)
	} else {
		esc.timer = timer
		esc.token = token
	}
	offersSent.Inc()
	m.logger.Infow("offer sent", map[string]any{
		"order_id":      orderID,
		"master_id":     cand.Worker.ID,
		"assignment_id": a.ID,
		"rank":          index,
		"score":         cand.Score,
	})
	m.publish(events.MasterNotified{
		OrderID:      orderID,
		MasterID:     cand.Worker.ID,
		AssignmentID: a.ID,
		Rank:         index,
		Score:        cand.Score,
		ExpiresAt:    a.ExpiresAt,
		At:           now,
	})
	return nil
}

// expire runs when the response window of an offer elapses.
func (m *DispatchManager) expire(orderID, assignmentID string, token uint64) {
	if !m.enter() {
		return
	}
	defer m.inflight.Done()
	defer monitoring.Recover()

	slot := m.locks.acquire(orderID)
	defer m.locks.release(orderID, slot)

	esc := slot.esc
	if esc == nil || esc.token != token {
		m.stale("expire", orderID, assignmentID)
		return
	}
	esc.timer = nil
	if m.isClosed() {
		m.finish(slot, resultShutdown)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.repoTimeout)
	defer cancel()

	active, err := m.assignments.GetActiveAssignmentForOrder(ctx, orderID)
	if err != nil {
		m.fail(slot, "expire", fmt.Errorf("active assignment for %s: %w", orderID, err))
		return
	}
	if active == nil || active.ID != assignmentID || active.Status != model.AssignmentPending {
		m.stale("expire", orderID, assignmentID)
		if active == nil {
			m.finish(slot, resultFailed)
		}
		return
	}
	now := m.clock.Now()
	err = m.assignments.UpdateAssignmentStatus(ctx, active.ID, model.StatusUpdate{Status: model.AssignmentExpired, At: now})
	if errors.Is(err, model.ErrAssignmentNotPending) {
		m.stale("expire", orderID, assignmentID)
		m.finish(slot, resultFailed)
		return
	}
	if err != nil {
		m.fail(slot, "expire", fmt.Errorf("expire assignment %s: %w", active.ID, err))
		return
	}
	m.observeOutcome(model.AssignmentExpired, active.CreatedAt, now)
	m.logger.Infow("offer expired", map[string]any{"order_id": orderID, "master_id": active.MasterID, "assignment_id": active.ID})
	m.publish(events.AssignmentExpired{OrderID: orderID, MasterID: active.MasterID, AssignmentID: active.ID, At: now})

	if err := m.notifyCandidate(ctx, slot, esc.indexOf(active.MasterID)+1); err != nil {
		m.fail(slot, "expire", err)
	}
}

// lookup loads the assignment targeted by an accept or reject. ok is false
// when the signal refers to an unknown or already resolved assignment.
func (m *DispatchManager) lookup(ctx context.Context, op, assignmentID, masterID string) (model.Assignment, bool, error) {
	a, err := m.assignments.GetAssignment(ctx, assignmentID)
	if errors.Is(err, model.ErrNotFound) {
		m.stale(op, "", assignmentID)
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("load assignment %s: %w", assignmentID, err)
	}
	if a.Status != model.AssignmentPending {
		m.stale(op, a.OrderID, assignmentID)
		return a, false, nil
	}
	if a.MasterID != masterID {
		return a, false, fmt.Errorf("%w: assignment %s, master %s", ErrMasterMismatch, assignmentID, masterID)
	}
	return a, true, nil
}

// current re-reads the order's active assignment and reports whether a is
// still it. Must be called with the order's slot held.
func (m *DispatchManager) current(ctx context.Context, slot *orderSlot, op string, a model.Assignment) (*model.Assignment, bool, error) {
	active, err := m.assignments.GetActiveAssignmentForOrder(ctx, a.OrderID)
	if err != nil {
		m.finish(slot, resultFailed)
		return nil, false, fmt.Errorf("active assignment for %s: %w", a.OrderID, err)
	}
	if active == nil || active.ID != a.ID {
		m.stale(op, a.OrderID, a.ID)
		return nil, false, nil
	}
	return active, true, nil
}

// resolve moves the active assignment out of PENDING.
func (m *DispatchManager) resolve(ctx context.Context, slot *orderSlot, op, assignmentID string, u model.StatusUpdate) error {
	err := m.assignments.UpdateAssignmentStatus(ctx, assignmentID, u)
	if err == nil {
		return nil
	}
	m.finish(slot, resultFailed)
	if errors.Is(err, model.ErrAssignmentNotPending) {
		m.stale(op, slot.orderIDOr(""), assignmentID)
		return err
	}
	return fmt.Errorf("%s assignment %s: %w", op, assignmentID, err)
}

// recoverEscalation rebuilds the ranking for an order whose escalation is
// not held in memory, leaving out every master already offered the order.
func (m *DispatchManager) recoverEscalation(ctx context.Context, slot *orderSlot, orderID string) error {
	order, err := m.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	prior, err := m.assignments.ListAssignmentsForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list assignments for %s: %w", orderID, err)
	}
	offered := make(map[string]bool, len(prior))
	for _, a := range prior {
		offered[a.MasterID] = true
	}
	ranking, err := m.rank(ctx, order, offered)
	if err != nil {
		return err
	}
	m.logger.Infof("recovered escalation of order %s with %d remaining masters", orderID, len(ranking))
	m.begin(slot, &escalation{
		orderID:   orderID,
		category:  order.Category,
		ranking:   ranking,
		startedAt: m.clock.Now(),
	})
	return nil
}

func (m *DispatchManager) rank(ctx context.Context, order model.Order, exclude map[string]bool) ([]ScoredWorker, error) {
	workers, err := m.workers.GetAvailableWorkers(ctx, order.Category)
	if err != nil {
		return nil, fmt.Errorf("available workers for %s: %w", order.Category, err)
	}
	if len(exclude) > 0 {
		kept := workers[:0:0]
		for _, w := range workers {
			if !exclude[w.ID] {
				kept = append(kept, w)
			}
		}
		workers = kept
	}
	return m.scorer.Score(order.Requirements(), workers), nil
}

func (m *DispatchManager) availableSet(ctx context.Context, category string) (map[string]bool, error) {
	workers, err := m.workers.GetAvailableWorkers(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("available workers for %s: %w", category, err)
	}
	set := make(map[string]bool, len(workers))
	for _, w := range workers {
		if w.OnShift {
			set[w.ID] = true
		}
	}
	return set, nil
}

func (m *DispatchManager) begin(slot *orderSlot, esc *escalation) {
	m.finish(slot, resultFailed)
	slot.esc = esc
	activeEscalations.Inc()
}

// finish detaches the escalation from the slot and stops its timer.
func (m *DispatchManager) finish(slot *orderSlot, result string) {
	if slot.esc == nil {
		return
	}
	slot.esc.stopTimer()
	slot.esc = nil
	activeEscalations.Dec()
	escalationResults.WithLabelValues(result).Inc()
}

func (m *DispatchManager) stopTimer(slot *orderSlot) {
	if slot.esc != nil {
		slot.esc.stopTimer()
	}
}

func (m *DispatchManager) schedule(d time.Duration, f func()) (clock.Timer, error) {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	t := m.clock.AfterFunc(d, f)
	if t == nil {
		return nil, errNoTimer
	}
	return t, nil
}

func (m *DispatchManager) isClosed() bool {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	return m.closed
}

// enter registers a running timer callback unless the manager is closed.
func (m *DispatchManager) enter() bool {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return false
	}
	m.inflight.Add(1)
	return true
}

func (m *DispatchManager) checkOpen() error {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *DispatchManager) fail(slot *orderSlot, op string, err error) {
	orderID := slot.orderIDOr("")
	m.finish(slot, resultFailed)
	m.logger.Errorf("%s: %v", op, err)
	monitoring.CaptureException(err, map[string]string{"module": "dispatch", "operation": op, "order_id": orderID})
}

func (m *DispatchManager) stale(op, orderID, assignmentID string) {
	staleOperations.WithLabelValues(op).Inc()
	m.logger.Debugw("ignoring stale signal", map[string]any{"operation": op, "order_id": orderID, "assignment_id": assignmentID})
}

func (m *DispatchManager) observeOutcome(status model.AssignmentStatus, offeredAt, now time.Time) {
	outcome := string(status)
	offerOutcomes.WithLabelValues(outcome).Inc()
	if !offeredAt.IsZero() {
		responseLatency.WithLabelValues(outcome).Observe(now.Sub(offeredAt).Seconds())
	}
}

func (m *DispatchManager) publish(ev events.Event) {
	m.publisher.Publish(ev)
}

func (s *orderSlot) orderIDOr(def string) string {
	if s.esc != nil {
		return s.esc.orderID
	}
	return def
}

// ignoreStale turns a lost compare-and-set race into a no-op.
func ignoreStale(err error) error {
	if errors.Is(err, model.ErrAssignmentNotPending) {
		return nil
	}
	return err
}
