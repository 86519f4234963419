// Package metrics provides constants used across metric definitions.
package metrics

// Operation label values.
const (
	// OpNextPOI is a POI assignment request.
	OpNextPOI = "next_poi"
	// OpNextCell is a fishnet cell assignment request.
	OpNextCell = "next_cell"
	// OpSubmitAnnotation is a POI annotation submission.
	OpSubmitAnnotation = "submit_annotation"
	// OpSubmitCellReview is a fishnet cell review submission.
	OpSubmitCellReview = "submit_cell_review"
	// OpAdjudicate is an explicit adjudication.
	OpAdjudicate = "adjudicate"
	// OpReleaseLocks is a stale-lock sweep.
	OpReleaseLocks = "release_locks"
	// OpTryLock is a compare-and-set lock attempt.
	OpTryLock = "try_lock"
	// OpCandidates is a candidate page query.
	OpCandidates = "candidates"
	// OpSaveRun is a fishnet run bulk insert.
	OpSaveRun = "save_run"
	// OpUpsertPOI is a POI import upsert.
	OpUpsertPOI = "upsert_poi"
	// OpList is an object store listing.
	OpList = "list"
	// OpPublish is an event publication.
	OpPublish = "publish"
)

// Label value constants used for metric labels.
const (
	LabelSuccess   = "success"
	LabelError     = "error"
	LabelConflict  = "conflict"
	LabelEmpty     = "empty"
	LabelHit       = "hit"
	LabelMiss      = "miss"
	LabelPOI       = "poi"
	LabelCell      = "cell"
	LabelCommitted = "committed"
	LabelRollback  = "rollback"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1 is the starting bucket for count histograms.
	BucketStart1 = 1.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
	// BucketCount16 defines 16 exponential buckets.
	BucketCount16 = 16
)
