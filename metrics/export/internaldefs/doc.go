// Package internaldefs holds the metric series definitions shared by the
// Prometheus and OTel exporters, so both render the same names and bucket
// layout from one table.
package internaldefs
