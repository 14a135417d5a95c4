// Package observability provides structured logging, metrics, and tracing
// for the MedBot query service.
//
// This package implements:
//   - Structured logging (zap-based)
//   - Prometheus metrics for queries and pipeline steps
//   - OpenTelemetry spans around each pipeline step
package observability
