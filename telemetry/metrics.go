package telemetry

var (
	// ChunkBuckets for incremental snapshot chunk round trips
	ChunkBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// PollBuckets for a single change stream iteration
	PollBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Snapshot metrics
var (
	// SnapshotStateTransitions counts coordinator transitions by target state
	SnapshotStateTransitions CounterVec = noopCounterVec{}

	// SnapshotRowsTotal counts rows emitted by baseline snapshots per table
	SnapshotRowsTotal CounterVec = noopCounterVec{}

	// SnapshotLockSeconds measures how long baseline table locks were held
	SnapshotLockSeconds Histogram = NoopStat{}
)

// Incremental snapshot metrics
var (
	// ChunksTotal counts chunks by result (done, reread, failed)
	ChunksTotal CounterVec = noopCounterVec{}

	// ChunkRowsTotal counts chunk rows by outcome (emitted, superseded)
	ChunkRowsTotal CounterVec = noopCounterVec{}

	// ChunkDurationSeconds measures the time from low watermark to flush
	ChunkDurationSeconds Histogram = NoopStat{}

	// IncrementalSnapshotRunning is 1 while an incremental snapshot is active
	IncrementalSnapshotRunning Gauge = NoopStat{}
)

// Streaming metrics
var (
	// ChangeEventsTotal counts streamed events by kind
	ChangeEventsTotal CounterVec = noopCounterVec{}

	// StreamIterationSeconds measures change stream iterations
	StreamIterationSeconds Histogram = NoopStat{}

	// SchemaSwitchesTotal counts schema history switches observed per table
	SchemaSwitchesTotal CounterVec = noopCounterVec{}

	// LastCommittedOffset is the time the offset was last committed
	LastCommittedOffset Gauge = NoopStat{}
)

func initializeMetrics() {
	SnapshotStateTransitions = NewCounterVec(
		"snapshot_state_transitions_total",
		"Snapshot coordinator transitions by target state",
		[]string{"state"},
	)
	SnapshotRowsTotal = NewCounterVec(
		"snapshot_rows_total",
		"Rows emitted by baseline snapshots",
		[]string{"table"},
	)
	SnapshotLockSeconds = NewHistogramWithBuckets(
		"snapshot_lock_seconds",
		"Time baseline snapshot table locks were held in seconds",
		ChunkBuckets,
	)

	ChunksTotal = NewCounterVec(
		"incremental_chunks_total",
		"Incremental snapshot chunks by result",
		[]string{"table", "result"},
	)
	ChunkRowsTotal = NewCounterVec(
		"incremental_chunk_rows_total",
		"Incremental snapshot chunk rows by outcome",
		[]string{"table", "outcome"},
	)
	ChunkDurationSeconds = NewHistogramWithBuckets(
		"incremental_chunk_duration_seconds",
		"Time from low watermark to chunk flush in seconds",
		ChunkBuckets,
	)
	IncrementalSnapshotRunning = NewGauge(
		"incremental_snapshot_running",
		"1 while an incremental snapshot is running",
	)

	ChangeEventsTotal = NewCounterVec(
		"change_events_total",
		"Streamed change events by kind",
		[]string{"kind"},
	)
	StreamIterationSeconds = NewHistogramWithBuckets(
		"stream_iteration_seconds",
		"Change stream iteration duration in seconds",
		PollBuckets,
	)
	SchemaSwitchesTotal = NewCounterVec(
		"schema_switches_total",
		"Schema history switches observed while streaming",
		[]string{"table"},
	)
	LastCommittedOffset = NewGauge(
		"last_committed_offset_timestamp_seconds",
		"Unix time of the last committed offset",
	)
}
