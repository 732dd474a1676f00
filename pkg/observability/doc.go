/*
Package observability turns runner events into something people can look at.

  - BuildTree reconstructs the causal tree of spans across nested workflow runs.
  - Recorder keeps events in memory and fans them out to other sinks.
  - MetricsSink counts executions and measures node durations with Prometheus.
  - TracingSink mirrors every span as an OpenTelemetry span.
  - LogSink writes one structured log line per event.

Every sink implements ports.EventSink and can be passed to runner.WithEventSink.
*/
package observability
