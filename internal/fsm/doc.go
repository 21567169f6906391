// Package fsm enforces the lifecycle of candidates and applications.
//
// Each subject type has a Machine: a closed set of statuses, the terminal
// subset, and an explicit table of allowed edges. Engine.AttemptTransition
// validates a request against the table and the subject's recorded history,
// then performs the compare-and-swap status update, the audit append and the
// notification enqueue in one tenant-scoped transaction. Either all three
// happen or none do.
//
// Key types:
//   - Machine: transition table for one subject type
//   - Engine: executes transitions against a store.Store
//   - TransitionError: typed refusal (stale, invalid or terminal)
package fsm
