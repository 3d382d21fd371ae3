package types

import "time"

// Offset is the last committed connector progress.
type Offset struct {
	Position Position `json:"position"`
	// SnapshotCompleted is false while a baseline read is in flight, so a
	// restart knows the baseline has to be taken again.
	SnapshotCompleted bool      `json:"snapshot_completed"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IncrementalProgress is the restartable cursor of an incremental snapshot
// run: the table being scanned, the last completed key boundary in it and the
// tables still queued behind it.
type IncrementalProgress struct {
	RunID         string   `json:"run_id"`
	CurrentTable  string   `json:"current_table"`
	LastBoundary  []any    `json:"last_boundary,omitempty"`
	PendingTables []string `json:"pending_tables"`
	ChunkSize     int      `json:"chunk_size"`
	Paused        bool     `json:"paused"`
}

// Finished reports whether nothing is left to scan.
func (p *IncrementalProgress) Finished() bool {
	return p == nil || (p.CurrentTable == "" && len(p.PendingTables) == 0)
}
