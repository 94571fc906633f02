// Package prometheus exposes goOTP engine metrics as a client_golang
// [prometheus.Collector].
//
// [NewPrometheusExporter] wraps an engine. Register the exporter with any
// registry, or mount [PrometheusExporter.Handler], which serves a private
// registry holding only goOTP series. Counter names are gootp_*_total and
// latency histograms are gootp_*_latency_seconds.
//
// The exporter never registers itself in the global default registry.
package prometheus
