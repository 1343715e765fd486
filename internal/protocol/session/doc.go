// Package session owns controller<->nukleus transport helpers.
//
// Ownership boundary:
// - command and reply frame encoding
// - transport timeouts, TLS and backoff settings
package session
