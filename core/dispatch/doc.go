// Package dispatch offers repair orders to field masters one at a time.
//
// The Scorer ranks eligible masters for an order. The DispatchManager walks
// that ranking: it creates a PENDING assignment for the current candidate,
// arms a response timer and publishes lifecycle events. An accept ends the
// escalation; a reject or a timeout moves on to the next candidate until
// the ranking is exhausted.
//
// At most one assignment per order is PENDING at any time. Every accept,
// reject and timer fire re-reads the order's active assignment under the
// order's lock before mutating anything, so a late or duplicate signal is
// a silent no-op.
package dispatch
