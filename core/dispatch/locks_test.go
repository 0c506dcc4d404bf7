package dispatch

import (
	"sync"
	"testing"
)

func TestOrderLocks_ReleaseRemovesIdleSlot(t *testing.T) {
	l := newOrderLocks()
	s := l.acquire("o1")
	if l.size() != 1 {
		t.Fatalf("expected 1 slot, got %d", l.size())
	}
	l.release("o1", s)
	if l.size() != 0 {
		t.Fatalf("idle slot not removed")
	}
}

func TestOrderLocks_SlotWithEscalationSurvives(t *testing.T) {
	l := newOrderLocks()
	s := l.acquire("o1")
	s.esc = &escalation{orderID: "o1"}
	l.release("o1", s)
	if l.size() != 1 {
		t.Fatalf("slot with escalation was removed")
	}
	s = l.acquire("o1")
	if s.esc == nil || s.esc.orderID != "o1" {
		t.Fatalf("escalation lost")
	}
	s.esc = nil
	l.release("o1", s)
	if l.size() != 0 {
		t.Fatalf("slot not removed after escalation finished")
	}
}

func TestOrderLocks_SerializesSameOrder(t *testing.T) {
	l := newOrderLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := l.acquire("o1")
			counter++
			l.release("o1", s)
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Fatalf("lost updates: %d", counter)
	}
	if l.size() != 0 {
		t.Fatalf("slots leaked: %d", l.size())
	}
}

func TestOrderLocks_DifferentOrdersDoNotBlock(t *testing.T) {
	l := newOrderLocks()
	s1 := l.acquire("o1")
	done := make(chan struct{})
	go func() {
		s2 := l.acquire("o2")
		l.release("o2", s2)
		close(done)
	}()
	<-done
	l.release("o1", s1)
}
