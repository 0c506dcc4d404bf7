package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/repairdispatch/core/events"
	coremon "github.com/kilianp07/repairdispatch/core/monitoring"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/infra/logger"
	"github.com/kilianp07/repairdispatch/internal/eventbus"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{topic, qos, payload})
	return nil
}

func (f *fakePublisher) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

var at = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestNotifyOffer(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, map[string]byte{coremqtt.QoSOffer: 1, coremqtt.QoSEvent: 0}, logger.NopLogger{})
	require.NoError(t, n.Notify(events.MasterNotified{
		OrderID: "o1", MasterID: "m1", AssignmentID: "a1", Score: 0.9, ExpiresAt: at.Add(time.Minute), At: at,
	}))

	msgs := pub.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "repair/masters/m1/offers", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	var offer coremqtt.Offer
	require.NoError(t, json.Unmarshal(msgs[0].payload, &offer))
	assert.Equal(t, "a1", offer.AssignmentID)
	assert.Equal(t, at.Add(time.Minute), offer.ExpiresAt)

	assert.Equal(t, "repair/orders/o1/events", msgs[1].topic)
	var ev coremqtt.EventMessage
	require.NoError(t, json.Unmarshal(msgs[1].payload, &ev))
	assert.Equal(t, "MasterNotified", ev.Kind)
}

func TestNotifyOtherEventsOnlyOnOrderTopic(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, nil, logger.NopLogger{})
	for _, ev := range []events.Event{
		events.OrderAccepted{OrderID: "o1", MasterID: "m1", AssignmentID: "a1", At: at},
		events.OrderRejected{OrderID: "o1", MasterID: "m1", AssignmentID: "a1", Reason: "busy", At: at},
		events.AssignmentExpired{OrderID: "o1", MasterID: "m1", AssignmentID: "a1", At: at},
		events.NoMastersAvailable{OrderID: "o1", At: at},
		events.AllMastersRejected{OrderID: "o1", Candidates: 2, At: at},
	} {
		require.NoError(t, n.Notify(ev))
	}
	msgs := pub.all()
	require.Len(t, msgs, 5)
	for _, m := range msgs {
		assert.Equal(t, "repair/orders/o1/events", m.topic)
	}
}

func TestNotifierRunCapturesFailures(t *testing.T) {
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	bus := eventbus.NewTyped[events.Event]()
	defer bus.Close()
	pub := &fakePublisher{err: fmt.Errorf("broker down")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartNotifier(ctx, bus, pub, nil, logger.NopLogger{})

	// the subscription is registered synchronously by StartNotifier
	bus.Publish(events.NoMastersAvailable{OrderID: "o9", At: at})
	require.Eventually(t, func() bool {
		_, err := mon.captured()
		return err != nil
	}, time.Second, 5*time.Millisecond)
	tags, _ := mon.captured()
	assert.Equal(t, "o9", tags["order_id"])
	assert.Equal(t, "NoMastersAvailable", tags["kind"])
}
