// Package session manages the authenticated identity for the server process.
//
// A Manager owns the single active session: it performs the password and
// refresh grants against the identity provider, tracks token expiry, and
// guarantees at most one in-flight refresh regardless of how many callers
// ask for a valid session concurrently.
package session
