// Package events defines the lifecycle events emitted by the dispatch engine.
//
// The set is closed: every event implements Event through an unexported
// method, so consumers can switch exhaustively over:
//   - MasterNotified: an order was offered to a master
//   - OrderAccepted: the offered master accepted (terminal)
//   - OrderRejected: the offered master declined
//   - AssignmentExpired: the response window elapsed without an answer
//   - NoMastersAvailable: no eligible master exists (terminal)
//   - AllMastersRejected: every ranked master declined or timed out (terminal)
package events
