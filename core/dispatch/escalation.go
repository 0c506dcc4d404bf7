package dispatch

import (
	"time"

	"github.com/kilianp07/repairdispatch/internal/clock"
)

// escalation is the in-memory state of one order being offered around.
type escalation struct {
	orderID  string
	category string
	ranking  []ScoredWorker
	// index is the ranking position of the master holding the current offer.
	index        int
	assignmentID string
	timer        clock.Timer
	// token identifies the armed timer; a fire carrying another token is stale.
	token     uint64
	startedAt time.Time
	offers    int
}

func (e *escalation) indexOf(masterID string) int {
	for i, c := range e.ranking {
		if c.Worker.ID == masterID {
			return i
		}
	}
	return -1
}

func (e *escalation) holds(assignmentID string) bool {
	return e != nil && e.assignmentID == assignmentID
}

func (e *escalation) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.token = 0
}
