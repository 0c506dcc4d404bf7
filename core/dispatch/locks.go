package dispatch

import "sync"

// orderSlot serializes every operation touching one order. esc is only
// read or written while mu is held.
type orderSlot struct {
	mu   sync.Mutex
	refs int
	esc  *escalation
}

// orderLocks is a keyed mutex table. Slots are created on demand and
// removed once nobody holds them and no escalation is attached.
type orderLocks struct {
	mu    sync.Mutex
	slots map[string]*orderSlot
}

func newOrderLocks() *orderLocks {
	return &orderLocks{slots: make(map[string]*orderSlot)}
}

func (l *orderLocks) acquire(orderID string) *orderSlot {
	l.mu.Lock()
	s, ok := l.slots[orderID]
	if !ok {
		s = &orderSlot{}
		l.slots[orderID] = s
	}
	s.refs++
	l.mu.Unlock()
	s.mu.Lock()
	return s
}

func (l *orderLocks) release(orderID string, s *orderSlot) {
	s.mu.Unlock()
	l.mu.Lock()
	s.refs--
	// refs == 0 means no goroutine holds or waits for s.mu, so esc is stable
	if s.refs == 0 && s.esc == nil {
		delete(l.slots, orderID)
	}
	l.mu.Unlock()
}

// keys returns a snapshot of the orders that currently own a slot.
func (l *orderLocks) keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.slots))
	for id := range l.slots {
		ids = append(ids, id)
	}
	return ids
}

func (l *orderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
