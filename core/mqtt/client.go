// Package mqtt defines the topics and payloads exchanged with repair masters
// over MQTT. Transports live in infra/mqtt.
package mqtt

import (
	"context"
	"fmt"
)

const (
	offersTopic      = "repair/masters/%s/offers"
	responseTopic    = "repair/masters/%s/responses"
	orderEventsTopic = "repair/orders/%s/events"
	statusTopic      = "repair/masters/%s/status"

	// ResponsesTopic matches the response topic of every master.
	ResponsesTopic = "repair/masters/+/responses"
	// OffersWildcard matches the offer topic of every master.
	OffersWildcard = "repair/masters/+/offers"
	// StatusWildcard matches the presence topic of every master.
	StatusWildcard = "repair/masters/+/status"
)

// QoS keys understood by the transport configuration.
const (
	QoSOffer    = "offer"
	QoSEvent    = "event"
	QoSResponse = "response"
	QoSStatus   = "status"
)

// OffersTopic returns the topic a master listens on for new offers.
func OffersTopic(masterID string) string { return fmt.Sprintf(offersTopic, masterID) }

// ResponseTopic returns the topic a master answers on.
func ResponseTopic(masterID string) string { return fmt.Sprintf(responseTopic, masterID) }

// OrderEventsTopic returns the topic carrying every lifecycle event of an order.
func OrderEventsTopic(orderID string) string { return fmt.Sprintf(orderEventsTopic, orderID) }

// StatusTopic returns the topic a master reports its presence on.
func StatusTopic(masterID string) string { return fmt.Sprintf(statusTopic, masterID) }

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// ResponseHandler consumes decoded master responses. It is implemented by
// the dispatch manager.
type ResponseHandler interface {
	AcceptOrder(ctx context.Context, assignmentID, masterID string) error
	RejectOrder(ctx context.Context, assignmentID, masterID, reason string) error
}
