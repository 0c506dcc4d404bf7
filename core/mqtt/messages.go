package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/core/model"
)

// Response actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Offer is sent to a master when an order is offered to them.
type Offer struct {
	AssignmentID string    `json:"assignment_id"`
	OrderID      string    `json:"order_id"`
	MasterID     string    `json:"master_id"`
	Rank         int       `json:"rank"`
	Score        float64   `json:"score"`
	ExpiresAt    time.Time `json:"expires_at"`
	SentAt       time.Time `json:"sent_at"`
}

// OfferFrom builds the offer payload for a MasterNotified event.
func OfferFrom(e events.MasterNotified) Offer {
	return Offer{
		AssignmentID: e.AssignmentID,
		OrderID:      e.OrderID,
		MasterID:     e.MasterID,
		Rank:         e.Rank,
		Score:        e.Score,
		ExpiresAt:    e.ExpiresAt,
		SentAt:       e.At,
	}
}

// Response is a master's answer to an offer.
type Response struct {
	AssignmentID string `json:"assignment_id"`
	MasterID     string `json:"master_id"`
	Action       string `json:"action"`
	Reason       string `json:"reason,omitempty"`
}

// Validate checks the response carries everything needed to route it.
func (r Response) Validate() error {
	if r.AssignmentID == "" {
		return fmt.Errorf("%w: missing assignment_id", ErrInvalidResponse)
	}
	if r.MasterID == "" {
		return fmt.Errorf("%w: missing master_id", ErrInvalidResponse)
	}
	switch r.Action {
	case ActionAccept, ActionReject:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
	}
}

// DecodeResponse parses a payload received on a master response topic. The
// master in the topic wins when the payload omits it and must match when it
// does not.
func DecodeResponse(topic string, payload []byte) (Response, error) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	if id := masterFromTopic(topic, "responses"); id != "" {
		if r.MasterID == "" {
			r.MasterID = id
		} else if r.MasterID != id {
			return Response{}, fmt.Errorf("%w: master %s answered on topic of %s", ErrInvalidResponse, r.MasterID, id)
		}
	}
	if err := r.Validate(); err != nil {
		return Response{}, err
	}
	return r, nil
}

func masterFromTopic(topic, leaf string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "repair" && parts[1] == "masters" && parts[3] == leaf {
		return parts[2]
	}
	return ""
}

// MasterStatus is a presence report published by a master. Nil fields are
// left unchanged.
type MasterStatus struct {
	MasterID string          `json:"master_id"`
	Status   string          `json:"status"`
	OnShift  *bool           `json:"on_shift,omitempty"`
	Location *model.GeoPoint `json:"location,omitempty"`
}

// DecodeMasterStatus parses a payload received on a master status topic.
func DecodeMasterStatus(topic string, payload []byte) (MasterStatus, error) {
	var st MasterStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return MasterStatus{}, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	st.Status = strings.ToUpper(strings.TrimSpace(st.Status))
	if id := masterFromTopic(topic, "status"); id != "" {
		if st.MasterID == "" {
			st.MasterID = id
		} else if st.MasterID != id {
			return MasterStatus{}, fmt.Errorf("%w: master %s reported on topic of %s", ErrInvalidStatus, st.MasterID, id)
		}
	}
	if st.MasterID == "" {
		return MasterStatus{}, fmt.Errorf("%w: missing master_id", ErrInvalidStatus)
	}
	if !model.WorkerStatus(st.Status).Valid() {
		return MasterStatus{}, fmt.Errorf("%w: status %q", ErrInvalidStatus, st.Status)
	}
	return st, nil
}

// EventMessage is the JSON form of a lifecycle event published on the order
// events topic.
type EventMessage struct {
	Kind         string     `json:"kind"`
	OrderID      string     `json:"order_id"`
	MasterID     string     `json:"master_id,omitempty"`
	AssignmentID string     `json:"assignment_id,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Rank         *int       `json:"rank,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Candidates   int        `json:"candidates,omitempty"`
	At           time.Time  `json:"at"`
}

// EventMessageFrom converts a lifecycle event to its wire form.
func EventMessageFrom(e events.Event) EventMessage {
	m := EventMessage{
		Kind:         e.Kind().String(),
		OrderID:      e.Order(),
		MasterID:     events.MasterOf(e),
		AssignmentID: events.AssignmentOf(e),
		At:           e.Time(),
	}
	switch ev := e.(type) {
	case events.MasterNotified:
		rank, score, exp := ev.Rank, ev.Score, ev.ExpiresAt
		m.Rank, m.Score, m.ExpiresAt = &rank, &score, &exp
	case events.OrderRejected:
		m.Reason = ev.Reason
	case events.NoMastersAvailable:
		m.Reason = ev.Reason
	case events.AllMastersRejected:
		m.Candidates = ev.Candidates
	}
	return m
}
