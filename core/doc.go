// Package core implements the actor runtime.
//
// An actor is a Behavior driven through a fixed lifecycle whose states are
// appended to a history path in a store.Store. Actors run either as a
// goroutine sharing the caller's store (NewShared) or as a separate OS
// process re-executing the current binary (NewIsolated). Cancellation is
// cooperative: ForceStop records FORCE_STOPPING and the interval loop
// observes it at its next boundary.
package core
