// Package tracing sets up OpenTelemetry for fluxd: a tracer provider that
// exports over OTLP/gRPC, gin middleware that opens a server span per
// request, and helpers for spans inside handlers.
package tracing
