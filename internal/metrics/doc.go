// Package metrics exports gateway session activity as Prometheus metrics.
//
// A Collector implements gateway.Observer and resume.Observer; pass it to
// gateway.WithObserver and resume.Options.Observer. Router serves the
// collected metrics next to a health endpoint.
package metrics
