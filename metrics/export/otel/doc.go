// Package otel bridges engine metrics onto an OpenTelemetry meter via
// observable instruments.
package otel
