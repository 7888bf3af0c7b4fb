// Package metrics exposes Prometheus counters and histograms for deployments and
// HTTP requests. Noop implementations keep components usable without a registry.
package metrics
