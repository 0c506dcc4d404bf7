// Package metrics defines the sinks that observe escalations. A sink
// records offers; optional recorder interfaces cover offer outcomes and
// finished escalations. Sinks are built from configuration through a factory
// registry, and NewMetricsSink returns a MultiSink automatically when
// several sinks are configured.
package metrics
