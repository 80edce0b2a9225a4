// Package dispatch orchestrates one storage operation end-to-end:
// authorize, ensure a valid session, forward through the resilient client,
// and map the outcome to a result or a typed error.
//
// Dispatcher.Invoke is the only entry point tool handlers call; they must
// not reach the authorization gate, the session manager, or the client
// directly.
package dispatch
