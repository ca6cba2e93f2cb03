// Package metrics defines the Prometheus instrumentation shared by all
// custos workers and exposes the /metrics handler.
package metrics
