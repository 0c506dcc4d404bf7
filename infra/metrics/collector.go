package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/core/logger"
	coremetrics "github.com/kilianp07/repairdispatch/core/metrics"
	"github.com/kilianp07/repairdispatch/internal/eventbus"
)

// Escalation results reported to sinks.
const (
	ResultAccepted         = "accepted"
	ResultAllRejected      = "all_rejected"
	ResultNoCandidates     = "no_candidates"
	ResultTimerUnavailable = "timer_unavailable"
)

type orderTrack struct {
	startedAt time.Time
	offeredAt time.Time
	offers    int
}

// EventCollector turns lifecycle events into sink records. It keeps the
// offer timestamps of running escalations to compute latencies.
type EventCollector struct {
	sink coremetrics.MetricsSink
	log  logger.Logger

	mu     sync.Mutex
	orders map[string]*orderTrack
}

// NewEventCollector returns a collector writing to sink.
func NewEventCollector(sink coremetrics.MetricsSink, log logger.Logger) *EventCollector {
	return &EventCollector{sink: sink, log: log, orders: make(map[string]*orderTrack)}
}

// Handle records metrics for one event.
func (c *EventCollector) Handle(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e := ev.(type) {
	case events.MasterNotified:
		tr, ok := c.orders[e.OrderID]
		if !ok {
			tr = &orderTrack{startedAt: e.At}
			c.orders[e.OrderID] = tr
		}
		tr.offeredAt = e.At
		tr.offers++
		c.check(c.sink.RecordOffer(coremetrics.OfferEvent{
			OrderID:      e.OrderID,
			MasterID:     e.MasterID,
			AssignmentID: e.AssignmentID,
			Rank:         e.Rank,
			Score:        e.Score,
			Time:         e.At,
		}))
	case events.OrderAccepted:
		c.outcome(e.OrderID, e.MasterID, e.AssignmentID, coremetrics.OutcomeAccepted, e.At)
		c.finish(e.OrderID, e.MasterID, ResultAccepted, e.At)
	case events.OrderRejected:
		c.outcome(e.OrderID, e.MasterID, e.AssignmentID, coremetrics.OutcomeRejected, e.At)
	case events.AssignmentExpired:
		c.outcome(e.OrderID, e.MasterID, e.AssignmentID, coremetrics.OutcomeExpired, e.At)
	case events.NoMastersAvailable:
		result := ResultNoCandidates
		if e.Reason == events.ReasonTimerUnavailable {
			result = ResultTimerUnavailable
		}
		c.finish(e.OrderID, "", result, e.At)
	case events.AllMastersRejected:
		c.finish(e.OrderID, "", ResultAllRejected, e.At)
	}
}

func (c *EventCollector) outcome(orderID, masterID, assignmentID, outcome string, at time.Time) {
	rec, ok := c.sink.(coremetrics.OutcomeRecorder)
	if !ok {
		return
	}
	var latency time.Duration
	if tr := c.orders[orderID]; tr != nil {
		latency = at.Sub(tr.offeredAt)
	}
	c.check(rec.RecordOutcome(coremetrics.OutcomeEvent{
		OrderID:      orderID,
		MasterID:     masterID,
		AssignmentID: assignmentID,
		Outcome:      outcome,
		Latency:      latency,
		Time:         at,
	}))
}

func (c *EventCollector) finish(orderID, masterID, result string, at time.Time) {
	tr := c.orders[orderID]
	delete(c.orders, orderID)
	rec, ok := c.sink.(coremetrics.EscalationRecorder)
	if !ok {
		return
	}
	ev := coremetrics.EscalationEvent{OrderID: orderID, Result: result, MasterID: masterID, Time: at}
	if tr != nil {
		ev.Offers = tr.offers
		ev.Duration = at.Sub(tr.startedAt)
	}
	c.check(rec.RecordEscalation(ev))
}

// Forget drops the tracking state of an order whose escalation was
// cancelled without a terminal event.
func (c *EventCollector) Forget(orderID string) {
	c.mu.Lock()
	delete(c.orders, orderID)
	c.mu.Unlock()
}

func (c *EventCollector) check(err error) {
	if err != nil && c.log != nil {
		c.log.Warnf("metrics sink: %v", err)
	}
}

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink, log logger.Logger) *EventCollector {
	if bus == nil || sink == nil {
		return nil
	}
	c := NewEventCollector(sink, log)
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				c.Handle(ev)
			}
		}
	}()
	return c
}
