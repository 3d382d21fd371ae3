package types

import "time"

type ChangeKind string

const (
	ReadKind   ChangeKind = "read"
	InsertKind ChangeKind = "insert"
	UpdateKind ChangeKind = "update"
	DeleteKind ChangeKind = "delete"
)

// ChangeEvent is one emitted row event, either streamed from the change log or
// synthesized by a snapshot read.
type ChangeEvent struct {
	Table     string       `json:"table"`
	Kind      ChangeKind   `json:"kind"`
	Key       []any        `json:"key,omitempty"`
	Data      Record       `json:"data"`
	Position  Position     `json:"position"`
	Schema    *TableSchema `json:"-"`
	Timestamp time.Time    `json:"timestamp"`
	// TxEnd marks the last event of a source transaction.
	TxEnd bool `json:"-"`
}

// IsSnapshot reports whether the event came from a snapshot read.
func (e ChangeEvent) IsSnapshot() bool {
	return e.Kind == ReadKind
}
