package types

// HistoryRecord is a table schema together with the position at which it
// became effective. Records are append-only and owned by the history store.
type HistoryRecord struct {
	Table    string      `json:"table"`
	Position Position    `json:"position"`
	Schema   TableSchema `json:"schema"`
	// Source names where the record came from, e.g. a capture instance.
	Source string `json:"source,omitempty"`
}
