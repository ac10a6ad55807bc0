package metrics

import "sync/atomic"

// Run accumulates counts for a single engine invocation.
// It is safe for concurrent use by batch workers.
type Run struct {
	oidsTotal     atomic.Int64
	batchesTotal  atomic.Int64
	batchesOK     atomic.Int64
	featuresTotal atomic.Int64
	requestCount  atomic.Int64
	probeRequests atomic.Int64
}

// NewRun creates an empty accumulator.
func NewRun() *Run {
	return &Run{}
}

// AddOIDs records discovered object identifiers.
func (r *Run) AddOIDs(n int) { r.oidsTotal.Add(int64(n)) }

// AddBatches records planned batches.
func (r *Run) AddBatches(n int) { r.batchesTotal.Add(int64(n)) }

// BatchSucceeded records one successful batch.
func (r *Run) BatchSucceeded() { r.batchesOK.Add(1) }

// AddFeatures records returned features.
func (r *Run) AddFeatures(n int) { r.featuresTotal.Add(int64(n)) }

// AddRequests records discovery, batch and page requests.
func (r *Run) AddRequests(n int) { r.requestCount.Add(int64(n)) }

// AddProbeRequests records capability probe and diagnostic requests.
// They are kept out of request_count.
func (r *Run) AddProbeRequests(n int) { r.probeRequests.Add(int64(n)) }

// Summary returns a snapshot of the accumulated counts.
func (r *Run) Summary() Summary {
	return Summary{
		OIDsTotal:     int(r.oidsTotal.Load()),
		BatchesTotal:  int(r.batchesTotal.Load()),
		BatchesOK:     int(r.batchesOK.Load()),
		FeaturesTotal: int(r.featuresTotal.Load()),
		RequestCount:  int(r.requestCount.Load()),
		ProbeRequests: int(r.probeRequests.Load()),
	}
}

// Summary is the finalized, immutable view of a Run.
type Summary struct {
	OIDsTotal     int `json:"oids_total"`
	BatchesTotal  int `json:"batches_total"`
	BatchesOK     int `json:"batches_ok"`
	FeaturesTotal int `json:"features_total"`
	RequestCount  int `json:"request_count"`
	ProbeRequests int `json:"probe_requests"`
}

// BatchesFailed returns the number of batches that did not succeed.
func (s Summary) BatchesFailed() int {
	return s.BatchesTotal - s.BatchesOK
}

// Complete reports whether every planned batch succeeded.
// Runs that used offset pagination have no batches and are always complete.
func (s Summary) Complete() bool {
	return s.BatchesOK == s.BatchesTotal
}
