// Package control owns the control command record format.
//
// Ownership boundary:
// - fixed-capacity scratch region and its single-writer lease
// - ROUTE / UNROUTE / FREEZE record encoding and decoding
// - WebSocket route extension encoding
package control
