package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/core/model"
	coremon "github.com/kilianp07/repairdispatch/core/monitoring"
	"github.com/kilianp07/repairdispatch/infra/logger"
	"github.com/kilianp07/repairdispatch/infra/store/memory"
	"github.com/kilianp07/repairdispatch/internal/clock"
)

const window = 30 * time.Second

type recorder struct {
	mu        sync.Mutex
	events    []events.Event
	onPublish func(events.Event)
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.onPublish
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) last() events.Event {
	evs := r.all()
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

// trace renders events as "Kind(master)" for compact comparisons.
func (r *recorder) trace() []string {
	var out []string
	for _, e := range r.all() {
		s := e.Kind().String()
		if m := events.MasterOf(e); m != "" {
			s += "(" + m + ")"
		}
		out = append(out, s)
	}
	return out
}

func (r *recorder) count(k events.Kind) int {
	n := 0
	for _, e := range r.all() {
		if e.Kind() == k {
			n++
		}
	}
	return n
}

type harness struct {
	t     *testing.T
	mgr   *DispatchManager
	store *memory.Store
	clock *clock.Fake
	rec   *recorder
}

func newHarness(t *testing.T, workers ...model.Worker) *harness {
	t.Helper()
	return newHarnessWithRepos(t, nil, workers...)
}

// newHarnessWithRepos lets a test wrap the memory store before it reaches
// the manager.
func newHarnessWithRepos(t *testing.T, wrap func(*memory.Store) Repositories, workers ...model.Worker) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.PutOrder(ctx, model.Order{ID: "o1", Category: "fridge", Location: paris, Status: model.OrderNew}))
	for _, w := range workers {
		require.NoError(t, store.PutWorker(ctx, w))
	}
	repos := Repositories{Orders: store, Workers: store, Assignments: store}
	if wrap != nil {
		repos = wrap(store)
	}
	rec := &recorder{}
	mgr, err := NewDispatchManager(repos, rec, Config{ResponseWindowSeconds: int(window / time.Second)}, logger.NopLogger{})
	require.NoError(t, err)
	fc := clock.NewFake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	mgr.SetClock(fc)
	t.Cleanup(func() { _ = mgr.Close() })
	return &harness{t: t, mgr: mgr, store: store, clock: fc, rec: rec}
}

// ranked returns three eligible masters ranked A > B > C.
func ranked() []model.Worker {
	return []model.Worker{
		master("A", 48.8566, 2.3522, 5.0, 200),
		master("B", 48.8566, 2.3522, 4.0, 50),
		master("C", 48.8566, 2.3522, 2.0, 5),
	}
}

// offer returns the assignment of the latest MasterNotified event.
func (h *harness) offer() events.MasterNotified {
	h.t.Helper()
	evs := h.rec.all()
	for i := len(evs) - 1; i >= 0; i-- {
		if n, ok := evs[i].(events.MasterNotified); ok {
			return n
		}
	}
	h.t.Fatalf("no MasterNotified event")
	return events.MasterNotified{}
}

func (h *harness) assertSinglePending() {
	h.t.Helper()
	list, err := h.store.ListAssignmentsForOrder(context.Background(), "o1")
	require.NoError(h.t, err)
	pending := 0
	for _, a := range list {
		if a.Status == model.AssignmentPending {
			pending++
		}
	}
	assert.LessOrEqual(h.t, pending, 1, "more than one PENDING assignment")
}

func TestManager_RejectRejectAccept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	h.assertSinglePending()
	require.NoError(t, h.mgr.RejectOrder(ctx, h.offer().AssignmentID, "A", "too far"))
	h.assertSinglePending()
	require.NoError(t, h.mgr.RejectOrder(ctx, h.offer().AssignmentID, "B", ""))
	h.assertSinglePending()
	accepted := h.offer()
	require.NoError(t, h.mgr.AcceptOrder(ctx, accepted.AssignmentID, "C"))
	h.assertSinglePending()

	assert.Equal(t, []string{
		"MasterNotified(A)", "OrderRejected(A)",
		"MasterNotified(B)", "OrderRejected(B)",
		"MasterNotified(C)", "OrderAccepted(C)",
	}, h.rec.trace())

	order, err := h.store.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderInProgress, order.Status)
	assert.Equal(t, "C", order.MasterID)

	c, err := h.store.GetWorker(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerBusy, c.Status)

	a, err := h.store.GetAssignment(ctx, accepted.AssignmentID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentAccepted, a.Status)
	assert.Equal(t, 0, h.clock.Pending())

	rej := h.rec.all()[1].(events.OrderRejected)
	assert.Equal(t, "too far", rej.Reason)
}

func TestManager_NoCandidates(t *testing.T) {
	ctx := context.Background()
	offShift := master("A", 48.8566, 2.3522, 5, 10)
	offShift.OnShift = false
	h := newHarness(t, offShift)

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	assert.Equal(t, []string{"NoMastersAvailable"}, h.rec.trace())

	list, err := h.store.ListAssignmentsForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.mgr.locks.size())
}

func TestManager_ExpireThenAccept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()[:2]...)

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	first := h.offer()
	assert.Equal(t, h.clock.Now().Add(window), first.ExpiresAt)

	h.clock.Advance(window - time.Second)
	assert.Equal(t, []string{"MasterNotified(A)"}, h.rec.trace())

	h.clock.Advance(time.Second)
	h.assertSinglePending()
	require.NoError(t, h.mgr.AcceptOrder(ctx, h.offer().AssignmentID, "B"))

	assert.Equal(t, []string{
		"MasterNotified(A)", "AssignmentExpired(A)",
		"MasterNotified(B)", "OrderAccepted(B)",
	}, h.rec.trace())
	a, err := h.store.GetAssignment(ctx, first.AssignmentID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentExpired, a.Status)
}

func TestManager_DuplicateAccept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()[:1]...)

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	id := h.offer().AssignmentID
	require.NoError(t, h.mgr.AcceptOrder(ctx, id, "A"))
	require.NoError(t, h.mgr.AcceptOrder(ctx, id, "A"))

	assert.Equal(t, 1, h.rec.count(events.KindOrderAccepted))
	assert.Len(t, h.rec.all(), 2)
}

func TestManager_AllReject(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		ctx := context.Background()
		h := newHarness(t, ranked()[:n]...)
		require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
		for i := 0; i < n; i++ {
			o := h.offer()
			require.NoError(t, h.mgr.RejectOrder(ctx, o.AssignmentID, o.MasterID, ""))
			h.assertSinglePending()
		}
		evs := h.rec.all()
		require.Len(t, evs, 2*n+1)
		for i := 0; i < n; i++ {
			assert.Equal(t, events.KindMasterNotified, evs[2*i].Kind())
			assert.Equal(t, events.KindOrderRejected, evs[2*i+1].Kind())
		}
		last, ok := evs[2*n].(events.AllMastersRejected)
		require.True(t, ok)
		assert.Equal(t, n, last.Candidates)
		assert.Equal(t, 0, h.clock.Pending())
	}
}

func TestManager_AllExpire(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	h.clock.Advance(3 * window)
	assert.Equal(t, []string{
		"MasterNotified(A)", "AssignmentExpired(A)",
		"MasterNotified(B)", "AssignmentExpired(B)",
		"MasterNotified(C)", "AssignmentExpired(C)",
		"AllMastersRejected",
	}, h.rec.trace())
	assert.Equal(t, 0, h.mgr.locks.size())
}

func TestManager_StaleAcceptHasNoEffect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()[:2]...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	stale := h.offer().AssignmentID
	h.clock.Advance(window)
	before := len(h.rec.all())

	require.NoError(t, h.mgr.AcceptOrder(ctx, stale, "A"))
	require.NoError(t, h.mgr.RejectOrder(ctx, stale, "A", ""))
	require.NoError(t, h.mgr.AcceptOrder(ctx, "unknown", "A"))

	assert.Len(t, h.rec.all(), before)
	a, err := h.store.GetAssignment(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentExpired, a.Status)
	order, err := h.store.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderNew, order.Status)
	w, err := h.store.GetWorker(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, model.WorkerAvailable, w.Status)
}

func TestManager_TimerAfterAcceptEmitsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	o := h.offer()

	// keep the callback so it can be fired after the accept
	stale := &capturingClock{Fake: h.clock}
	h.mgr.SetClock(stale)
	require.NoError(t, h.mgr.RejectOrder(ctx, o.AssignmentID, "A", ""))
	fire := stale.last
	require.NotNil(t, fire)

	require.NoError(t, h.mgr.AcceptOrder(ctx, h.offer().AssignmentID, "B"))
	fire()
	h.clock.Advance(5 * window)

	assert.Equal(t, 0, h.rec.count(events.KindAssignmentExpired))
	assert.Equal(t, events.KindOrderAccepted, h.rec.last().Kind())
}

// capturingClock remembers the last scheduled callback so a test can run it
// after its timer was stopped.
type capturingClock struct {
	*clock.Fake
	last func()
}

func (c *capturingClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.last = f
	return c.Fake.AfterFunc(d, f)
}

func TestManager_CancelStopsEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	id := h.offer().AssignmentID

	require.NoError(t, h.mgr.CancelOrderAssignments(ctx, "o1"))
	require.NoError(t, h.mgr.CancelOrderAssignments(ctx, "o1"))
	h.clock.Advance(10 * window)
	require.NoError(t, h.mgr.AcceptOrder(ctx, id, "A"))

	assert.Equal(t, []string{"MasterNotified(A)"}, h.rec.trace())
	a, err := h.store.GetAssignment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentCancelled, a.Status)
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.mgr.locks.size())
}

func TestManager_CancelBeatsInflightTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	c := &capturingClock{Fake: h.clock}
	h.mgr.SetClock(c)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	require.NoError(t, h.mgr.CancelOrderAssignments(ctx, "o1"))

	// a fire that was already dequeued when the cancel happened
	c.last()
	assert.Equal(t, []string{"MasterNotified(A)"}, h.rec.trace())
}

func TestManager_StartTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	err := h.mgr.StartOrderAssignment(ctx, "o1")
	assert.ErrorIs(t, err, ErrEscalationActive)
	assert.Equal(t, 1, h.rec.count(events.KindMasterNotified))
	h.assertSinglePending()
}

func TestManager_OrderNotAssignable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.store.PutOrder(ctx, model.Order{ID: "o1", Category: "fridge", Status: model.OrderCompleted}))
	assert.ErrorIs(t, h.mgr.StartOrderAssignment(ctx, "o1"), ErrOrderNotAssignable)
	assert.ErrorIs(t, h.mgr.StartOrderAssignment(ctx, "missing"), model.ErrNotFound)
	assert.Empty(t, h.rec.all())
}

func TestManager_MasterMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	err := h.mgr.AcceptOrder(ctx, h.offer().AssignmentID, "B")
	assert.ErrorIs(t, err, ErrMasterMismatch)
	assert.Len(t, h.rec.all(), 1)
}

func TestManager_ResolvedOfferIgnoresWrongMaster(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	id := h.offer().AssignmentID
	require.NoError(t, h.mgr.RejectOrder(ctx, id, "A", ""))

	require.NoError(t, h.mgr.AcceptOrder(ctx, id, "C"))
	require.NoError(t, h.mgr.RejectOrder(ctx, id, "C", ""))
	assert.Equal(t, []string{"MasterNotified(A)", "OrderRejected(A)", "MasterNotified(B)"}, h.rec.trace())
	h.assertSinglePending()
}

func TestManager_OrphanPendingIsExpired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	orphan, err := h.store.CreateAssignment(ctx, model.NewAssignment{OrderID: "o1", MasterID: "C"})
	require.NoError(t, err)

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	a, err := h.store.GetAssignment(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentExpired, a.Status)
	assert.Equal(t, "A", h.offer().MasterID)
	h.assertSinglePending()
}

func TestManager_RecoversAfterRestart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	id := h.offer().AssignmentID
	require.NoError(t, h.mgr.Close())

	rec := &recorder{}
	repos := Repositories{Orders: h.store, Workers: h.store, Assignments: h.store}
	restarted, err := NewDispatchManager(repos, rec, Config{ResponseWindowSeconds: 30}, logger.NopLogger{})
	require.NoError(t, err)
	restarted.SetClock(h.clock)
	defer func() { _ = restarted.Close() }()

	require.NoError(t, restarted.RejectOrder(ctx, id, "A", ""))
	assert.Equal(t, []string{"OrderRejected(A)", "MasterNotified(B)"}, rec.trace())
	h.clock.Advance(window)
	assert.Equal(t, "MasterNotified(C)", rec.trace()[3])
}

func TestManager_SkipsMastersThatLeftThePool(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	require.NoError(t, h.store.UpdateWorkerStatus(ctx, "B", model.WorkerOffline))

	require.NoError(t, h.mgr.RejectOrder(ctx, h.offer().AssignmentID, "A", ""))
	assert.Equal(t, []string{"MasterNotified(A)", "OrderRejected(A)", "MasterNotified(C)"}, h.rec.trace())
	assert.Equal(t, 2, h.offer().Rank)
}

// brokenClock stops arming timers once broken is set.
type brokenClock struct {
	*clock.Fake
	broken atomic.Bool
}

func (c *brokenClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	if c.broken.Load() {
		return nil
	}
	return c.Fake.AfterFunc(d, f)
}

func TestManager_TimerUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	bc := &brokenClock{Fake: h.clock}
	h.mgr.SetClock(bc)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	h.clock.Advance(time.Second)

	bc.broken.Store(true)
	err := h.mgr.RejectOrder(ctx, h.offer().AssignmentID, "A", "")
	assert.ErrorIs(t, err, ErrTimerUnavailable)

	assert.Equal(t, []string{"MasterNotified(A)", "OrderRejected(A)", "NoMastersAvailable"}, h.rec.trace())
	last := h.rec.last().(events.NoMastersAvailable)
	assert.Equal(t, events.ReasonTimerUnavailable, last.Reason)

	active, err := h.store.GetActiveAssignmentForOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, active)
	list, err := h.store.ListAssignmentsForOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, model.AssignmentCancelled, list[1].Status)
	assert.Equal(t, "B", list[1].MasterID)
}

func TestManager_CloseDuringExpiryKeepsNextOfferPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))

	closed := make(chan error, 1)
	h.rec.onPublish = func(e events.Event) {
		if e.Kind() != events.KindAssignmentExpired {
			return
		}
		go func() { closed <- h.mgr.Close() }()
		require.Eventually(t, h.mgr.isClosed, time.Second, time.Millisecond)
	}
	h.clock.Advance(window)
	require.NoError(t, <-closed)

	assert.Equal(t, []string{"MasterNotified(A)", "AssignmentExpired(A)", "MasterNotified(B)"}, h.rec.trace())
	active, err := h.store.GetActiveAssignmentForOrder(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "B", active.MasterID)
	assert.Equal(t, model.AssignmentPending, active.Status)
	o, err := h.store.GetOrderByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderNew, o.Status)
	assert.Equal(t, 0, h.mgr.locks.size())

	// the next process picks the offer up where it was left
	rec := &recorder{}
	repos := Repositories{Orders: h.store, Workers: h.store, Assignments: h.store}
	restarted, err := NewDispatchManager(repos, rec, Config{ResponseWindowSeconds: 30}, logger.NopLogger{})
	require.NoError(t, err)
	restarted.SetClock(h.clock)
	defer func() { _ = restarted.Close() }()
	n, err := restarted.ResumeAssignments(ctx, []model.Assignment{*active})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.clock.Advance(window)
	assert.Equal(t, []string{"AssignmentExpired(B)", "MasterNotified(C)"}, rec.trace())
}

func TestManager_ExpiryAfterCloseLeavesOfferPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	c := &capturingClock{Fake: h.clock}
	h.mgr.SetClock(c)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	id := h.offer().AssignmentID

	// the fire is already running when the manager is marked closed
	slot := h.mgr.locks.acquire("o1")
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.last()
	}()
	require.Eventually(t, func() bool {
		h.mgr.locks.mu.Lock()
		defer h.mgr.locks.mu.Unlock()
		return slot.refs == 2
	}, time.Second, time.Millisecond)
	h.mgr.lifecycle.Lock()
	h.mgr.closed = true
	h.mgr.lifecycle.Unlock()
	h.mgr.locks.release("o1", slot)
	<-done

	a, err := h.store.GetAssignment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentPending, a.Status)
	assert.Equal(t, []string{"MasterNotified(A)"}, h.rec.trace())
}

func TestManager_ClosedRefusesWork(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	require.NoError(t, h.mgr.Close())
	require.NoError(t, h.mgr.Close())

	assert.Equal(t, 0, h.clock.Pending())
	assert.ErrorIs(t, h.mgr.StartOrderAssignment(ctx, "o1"), ErrClosed)
	assert.ErrorIs(t, h.mgr.AcceptOrder(ctx, h.offer().AssignmentID, "A"), ErrClosed)
	h.clock.Advance(window)
	assert.Len(t, h.rec.all(), 1)
}

type failingAssignments struct {
	*memory.Store
	mu         sync.Mutex
	failCreate int
	creates    int
	failActive bool
}

var errBoom = errors.New("boom")

func (f *failingAssignments) CreateAssignment(ctx context.Context, n model.NewAssignment) (model.Assignment, error) {
	f.mu.Lock()
	f.creates++
	fail := f.failCreate > 0 && f.creates >= f.failCreate
	f.mu.Unlock()
	if fail {
		return model.Assignment{}, errBoom
	}
	return f.Store.CreateAssignment(ctx, n)
}

func (f *failingAssignments) GetActiveAssignmentForOrder(ctx context.Context, orderID string) (*model.Assignment, error) {
	f.mu.Lock()
	fail := f.failActive
	f.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return f.Store.GetActiveAssignmentForOrder(ctx, orderID)
}

func TestManager_RepositoryFailureDropsTimer(t *testing.T) {
	ctx := context.Background()
	fa := &failingAssignments{failCreate: 2}
	h := newHarnessWithRepos(t, func(s *memory.Store) Repositories {
		fa.Store = s
		return Repositories{Orders: s, Workers: s, Assignments: fa}
	}, ranked()...)

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	err := h.mgr.RejectOrder(ctx, h.offer().AssignmentID, "A", "")
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.mgr.locks.size())
	assert.Equal(t, []string{"MasterNotified(A)", "OrderRejected(A)"}, h.rec.trace())
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	r.err = err
	r.tags = tags
	r.mu.Unlock()
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestManager_TimerFailureCaptured(t *testing.T) {
	ctx := context.Background()
	fa := &failingAssignments{}
	h := newHarnessWithRepos(t, func(s *memory.Store) Repositories {
		fa.Store = s
		return Repositories{Orders: s, Workers: s, Assignments: fa}
	}, ranked()...)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
	fa.mu.Lock()
	fa.failActive = true
	fa.mu.Unlock()
	h.clock.Advance(window)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	require.ErrorIs(t, mon.err, errBoom)
	assert.Equal(t, "dispatch", mon.tags["module"])
	assert.Equal(t, "expire", mon.tags["operation"])
	assert.Equal(t, "o1", mon.tags["order_id"])
	assert.Equal(t, 0, h.clock.Pending())
}

func TestManager_AcceptRacesTimer(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctx := context.Background()
		h := newHarness(t, ranked()[:2]...)
		require.NoError(t, h.mgr.StartOrderAssignment(ctx, "o1"))
		id := h.offer().AssignmentID

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.clock.Advance(window)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.mgr.AcceptOrder(ctx, id, "A"))
		}()
		wg.Wait()

		accepted := h.rec.count(events.KindOrderAccepted)
		expired := h.rec.count(events.KindAssignmentExpired)
		require.Equal(t, 1, accepted+expired, "trace %v", h.rec.trace())
		h.assertSinglePending()
		a, err := h.store.GetAssignment(ctx, id)
		require.NoError(t, err)
		if accepted == 1 {
			assert.Equal(t, model.AssignmentAccepted, a.Status)
		} else {
			assert.Equal(t, model.AssignmentExpired, a.Status)
		}
	}
}

func TestManager_OrdersAreIndependent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, ranked()...)
	for _, id := range []string{"o2", "o3", "o4"} {
		require.NoError(t, h.store.PutOrder(ctx, model.Order{ID: id, Category: "fridge", Status: model.OrderNew}))
	}
	var wg sync.WaitGroup
	for _, id := range []string{"o1", "o2", "o3", "o4"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, h.mgr.StartOrderAssignment(ctx, id))
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 4, h.rec.count(events.KindMasterNotified))
	assert.Equal(t, 4, h.clock.Pending())
	require.NoError(t, h.mgr.CancelOrderAssignments(ctx, "o2"))
	assert.Equal(t, 3, h.clock.Pending())
}
