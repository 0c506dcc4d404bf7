package events

import "time"

// Kind identifies an event variant.
type Kind int

const (
	KindMasterNotified Kind = iota + 1
	KindOrderAccepted
	KindOrderRejected
	KindAssignmentExpired
	KindNoMastersAvailable
	KindAllMastersRejected
)

var kindNames = map[Kind]string{
	KindMasterNotified:     "MasterNotified",
	KindOrderAccepted:      "OrderAccepted",
	KindOrderRejected:      "OrderRejected",
	KindAssignmentExpired:  "AssignmentExpired",
	KindNoMastersAvailable: "NoMastersAvailable",
	KindAllMastersRejected: "AllMastersRejected",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// ParseKind returns the kind matching the given name.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Terminal reports whether the kind ends an escalation.
func (k Kind) Terminal() bool {
	return k == KindOrderAccepted || k == KindNoMastersAvailable || k == KindAllMastersRejected
}

// Event is implemented by the six lifecycle variants only.
type Event interface {
	Kind() Kind
	Order() string
	Time() time.Time
	sealed()
}

// ReasonTimerUnavailable is set on NoMastersAvailable when the engine could
// not arm the response timer.
const ReasonTimerUnavailable = "timer_unavailable"

// MasterNotified is published when an order is offered to a master.
type MasterNotified struct {
	OrderID      string
	MasterID     string
	AssignmentID string
	// Rank is the zero-based position of the master in the ranking.
	Rank      int
	Score     float64
	ExpiresAt time.Time
	At        time.Time
}

// OrderAccepted is published when the offered master accepts.
type OrderAccepted struct {
	OrderID      string
	MasterID     string
	AssignmentID string
	At           time.Time
}

// OrderRejected is published when the offered master declines.
type OrderRejected struct {
	OrderID      string
	MasterID     string
	AssignmentID string
	Reason       string
	At           time.Time
}

// AssignmentExpired is published when the response window elapses.
type AssignmentExpired struct {
	OrderID      string
	MasterID     string
	AssignmentID string
	At           time.Time
}

// NoMastersAvailable is published when no eligible master can be offered
// the order.
type NoMastersAvailable struct {
	OrderID string
	Reason  string
	At      time.Time
}

// AllMastersRejected is published once every ranked master declined or
// let the offer expire.
type AllMastersRejected struct {
	OrderID    string
	Candidates int
	At         time.Time
}

func (MasterNotified) Kind() Kind     { return KindMasterNotified }
func (OrderAccepted) Kind() Kind      { return KindOrderAccepted }
func (OrderRejected) Kind() Kind      { return KindOrderRejected }
func (AssignmentExpired) Kind() Kind  { return KindAssignmentExpired }
func (NoMastersAvailable) Kind() Kind { return KindNoMastersAvailable }
func (AllMastersRejected) Kind() Kind { return KindAllMastersRejected }

func (e MasterNotified) Order() string     { return e.OrderID }
func (e OrderAccepted) Order() string      { return e.OrderID }
func (e OrderRejected) Order() string      { return e.OrderID }
func (e AssignmentExpired) Order() string  { return e.OrderID }
func (e NoMastersAvailable) Order() string { return e.OrderID }
func (e AllMastersRejected) Order() string { return e.OrderID }

func (e MasterNotified) Time() time.Time     { return e.At }
func (e OrderAccepted) Time() time.Time      { return e.At }
func (e OrderRejected) Time() time.Time      { return e.At }
func (e AssignmentExpired) Time() time.Time  { return e.At }
func (e NoMastersAvailable) Time() time.Time { return e.At }
func (e AllMastersRejected) Time() time.Time { return e.At }

func (MasterNotified) sealed()     {}
func (OrderAccepted) sealed()      {}
func (OrderRejected) sealed()      {}
func (AssignmentExpired) sealed()  {}
func (NoMastersAvailable) sealed() {}
func (AllMastersRejected) sealed() {}

// MasterOf returns the master an event refers to, if any.
func MasterOf(e Event) string {
	switch ev := e.(type) {
	case MasterNotified:
		return ev.MasterID
	case OrderAccepted:
		return ev.MasterID
	case OrderRejected:
		return ev.MasterID
	case AssignmentExpired:
		return ev.MasterID
	}
	return ""
}

// AssignmentOf returns the assignment an event refers to, if any.
func AssignmentOf(e Event) string {
	switch ev := e.(type) {
	case MasterNotified:
		return ev.AssignmentID
	case OrderAccepted:
		return ev.AssignmentID
	case OrderRejected:
		return ev.AssignmentID
	case AssignmentExpired:
		return ev.AssignmentID
	}
	return ""
}
