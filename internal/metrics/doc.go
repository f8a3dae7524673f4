// Package metrics exposes poll engine and API metrics to Prometheus.
//
// Metrics implements pollengine.Metrics and is installed with
// Engine.SetMetrics when metrics.enabled is set. Collectors live on a
// private registry served at metrics.path (default /metrics).
package metrics
