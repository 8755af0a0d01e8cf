package metrics

import "sync/atomic"

// Metrics captures ingestion counters shared by the upload handler and the
// inbox watcher.
type Metrics struct {
	uploadsSucceeded int64
	uploadsFailed    int64
	rowsInserted     int64
	rowsSkipped      int64
	rowsTruncated    int64
}

// Snapshot provides a consistent view of the current metrics.
type Snapshot struct {
	UploadsSucceeded int64 `json:"uploads_succeeded"`
	UploadsFailed    int64 `json:"uploads_failed"`
	RowsInserted     int64 `json:"rows_inserted"`
	RowsSkipped      int64 `json:"rows_skipped"`
	RowsTruncated    int64 `json:"rows_truncated"`
}

func New() *Metrics {
	return &Metrics{}
}

// RecordIngest adds the outcome of one ingestion run.
func (m *Metrics) RecordIngest(inserted, skipped, truncated int, err error) {
	if err != nil {
		atomic.AddInt64(&m.uploadsFailed, 1)
		return
	}
	atomic.AddInt64(&m.uploadsSucceeded, 1)
	atomic.AddInt64(&m.rowsInserted, int64(inserted))
	atomic.AddInt64(&m.rowsSkipped, int64(skipped))
	atomic.AddInt64(&m.rowsTruncated, int64(truncated))
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		UploadsSucceeded: atomic.LoadInt64(&m.uploadsSucceeded),
		UploadsFailed:    atomic.LoadInt64(&m.uploadsFailed),
		RowsInserted:     atomic.LoadInt64(&m.rowsInserted),
		RowsSkipped:      atomic.LoadInt64(&m.rowsSkipped),
		RowsTruncated:    atomic.LoadInt64(&m.rowsTruncated),
	}
}
