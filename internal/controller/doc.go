// Package controller is the operator-facing control surface of the ws
// nukleus.
//
// Ownership boundary:
// - ROUTE/UNROUTE/FREEZE entrypoints
// - one critical section per command: encode, register, submit
// - shutdown of pending completions and the transport
package controller
