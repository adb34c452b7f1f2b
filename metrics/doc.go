// Package metrics exports Prometheus metrics for resource tables and guest
// invocations.
//
// A Collector is attached to a runtime with runtime.WithMetrics. It then
// observes the runtime's resource table and every call made through its
// store.
package metrics
