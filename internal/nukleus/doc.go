// Package nukleus is an in-memory reference peer for the control protocol.
//
// Ownership boundary:
// - decoding command frames and keeping an in-memory route table
// - replying ROUTED, UNROUTED, FROZEN or ERROR keyed by correlation id
// - serving that exchange over TCP, NATS and websocket
//
// Non-goals:
// - data-plane traffic
// - persistence of routing tables
package nukleus
