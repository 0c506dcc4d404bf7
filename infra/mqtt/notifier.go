package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/core/logger"
	coremon "github.com/kilianp07/repairdispatch/core/monitoring"
	coremqtt "github.com/kilianp07/repairdispatch/core/mqtt"
	"github.com/kilianp07/repairdispatch/internal/eventbus"
)

// Notifier forwards lifecycle events to MQTT: offers go to the master's
// offer topic and every event goes to the order's event topic.
type Notifier struct {
	pub    coremqtt.Publisher
	qos    map[string]byte
	logger logger.Logger
}

// NewNotifier returns a Notifier publishing through pub.
func NewNotifier(pub coremqtt.Publisher, qos map[string]byte, log logger.Logger) *Notifier {
	return &Notifier{pub: pub, qos: qos, logger: log}
}

// Notify publishes one event.
func (n *Notifier) Notify(ev events.Event) error {
	if mn, ok := ev.(events.MasterNotified); ok {
		payload, err := json.Marshal(coremqtt.OfferFrom(mn))
		if err != nil {
			return fmt.Errorf("marshal offer: %w", err)
		}
		if err := n.pub.Publish(coremqtt.OffersTopic(mn.MasterID), n.qosFor(coremqtt.QoSOffer), payload); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(coremqtt.EventMessageFrom(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.pub.Publish(coremqtt.OrderEventsTopic(ev.Order()), n.qosFor(coremqtt.QoSEvent), payload)
}

func (n *Notifier) qosFor(key string) byte {
	if q, ok := n.qos[key]; ok {
		return q
	}
	return 0
}

// Run publishes events from sub until ctx is done or sub is closed.
func (n *Notifier) Run(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := n.Notify(ev); err != nil {
				n.logger.Errorf("notify %s for order %s: %v", ev.Kind(), ev.Order(), err)
				coremon.CaptureException(err, map[string]string{
					"module":   "mqtt",
					"order_id": ev.Order(),
					"kind":     ev.Kind().String(),
				})
			}
		}
	}
}

// StartNotifier subscribes a Notifier to bus and runs it in the background.
func StartNotifier(ctx context.Context, bus *eventbus.TypedBus[events.Event], pub coremqtt.Publisher, qos map[string]byte, log logger.Logger) *Notifier {
	n := NewNotifier(pub, qos, log)
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		n.Run(ctx, sub)
	}()
	return n
}
