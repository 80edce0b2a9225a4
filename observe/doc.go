// Package observe provides observability primitives for storage operations.
//
// It is a pure instrumentation library: structured logging with secret
// redaction, OpenTelemetry tracing and metrics, and exporter setup. The
// dispatch layer wires an Observer through every operation it forwards.
package observe
