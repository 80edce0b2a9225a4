// Package client provides the resilient HTTP client for the storage API.
//
// Calls share a bounded connection pool, retry transient failures with
// full-jitter exponential backoff under a single per-call deadline, and
// carry one correlation id across every attempt of the same logical call.
package client
