// Package correlation pairs asynchronous replies with the commands that
// caused them.
//
// Ownership boundary:
// - correlation id allocation
// - pending command table keyed by id
// - completion delivery, exactly once per registered id
package correlation
