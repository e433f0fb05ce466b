package internaldefs

import (
	tunelink "github.com/tunelink/tunelink"
)

// CounterDef maps a core MetricID to its exported series name.
type CounterDef struct {
	ID   tunelink.MetricID
	Name string
	Help string
}

// HistogramDef maps a core histogram MetricID to its exported series name.
type HistogramDef struct {
	ID   tunelink.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter the exporters render, in a stable order.
var CounterDefs = []CounterDef{
	{ID: tunelink.MetricFarcasterAuthSet, Name: "tunelink_farcaster_auth_set_total", Help: "Farcaster identity writes."},
	{ID: tunelink.MetricSpotifyAuthSet, Name: "tunelink_spotify_auth_set_total", Help: "Spotify identity writes."},
	{ID: tunelink.MetricSessionCleared, Name: "tunelink_session_cleared_total", Help: "Full session resets."},
	{ID: tunelink.MetricRefreshSuccess, Name: "tunelink_refresh_success_total", Help: "Successful token refreshes."},
	{ID: tunelink.MetricRefreshFailure, Name: "tunelink_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: tunelink.MetricRefreshDeduped, Name: "tunelink_refresh_deduped_total", Help: "Callers that joined an in-flight refresh."},
	{ID: tunelink.MetricLinkSuccess, Name: "tunelink_link_success_total", Help: "Confirmed account links."},
	{ID: tunelink.MetricLinkFailure, Name: "tunelink_link_failure_total", Help: "Declined or failed link attempts."},
	{ID: tunelink.MetricLinkDeduped, Name: "tunelink_link_deduped_total", Help: "Callers that joined an in-flight link request."},
	{ID: tunelink.MetricLinkStatusChecked, Name: "tunelink_link_status_checked_total", Help: "Completed linked-status probes."},
	{ID: tunelink.MetricProofGenerated, Name: "tunelink_proof_generated_total", Help: "Generated attestations."},
	{ID: tunelink.MetricProofValid, Name: "tunelink_proof_valid_total", Help: "Attestation validations that passed."},
	{ID: tunelink.MetricProofSignatureInvalid, Name: "tunelink_proof_signature_invalid_total", Help: "Attestation signature check failures."},
	{ID: tunelink.MetricProofHashMismatch, Name: "tunelink_proof_hash_mismatch_total", Help: "Attestation payload hash mismatches."},
	{ID: tunelink.MetricProofExpired, Name: "tunelink_proof_expired_total", Help: "Attestations rejected for age."},
	{ID: tunelink.MetricProofStored, Name: "tunelink_proof_stored_total", Help: "Persisted attestations."},
	{ID: tunelink.MetricStorageUnavailable, Name: "tunelink_storage_unavailable_total", Help: "Store operations that failed because the backend was unreachable."},
}

// HistogramDefs lists every histogram the exporters render.
var HistogramDefs = []HistogramDef{
	{ID: tunelink.MetricProofValidateLatency, Name: "tunelink_proof_validate_latency_microseconds", Help: "Attestation validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds in microseconds, matching
// the core's power-of-two bucketing.
var HistogramBounds = []string{
	"1",
	"2",
	"4",
	"8",
	"16",
	"32",
	"64",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in
// OTel instrument names.
var HistogramBoundSuffix = []string{
	"1",
	"2",
	"4",
	"8",
	"16",
	"32",
	"64",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
