package abstract

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/types"
)

// IsHistoryUsable reports whether a schema recorded at recorded may describe
// data at desired. A record from the future never applies.
func IsHistoryUsable(recorded, desired types.Position) bool {
	return recorded.Compare(desired) <= 0
}

// SelectSchema picks the newest usable record for pos. Records with equal
// positions resolve to the one appended last.
func SelectSchema(records []types.HistoryRecord, pos types.Position) (types.HistoryRecord, bool) {
	var (
		selected types.HistoryRecord
		found    bool
	)
	for _, record := range records {
		if !IsHistoryUsable(record.Position, pos) {
			continue
		}
		if !found || !record.Position.Before(selected.Position) {
			selected = record
			found = true
		}
	}
	return selected, found
}

// HistoryGate resolves the schema of every emitted event from the recorded
// history and notices when a table switches to a newer schema.
type HistoryGate struct {
	source HistorySource

	mu       sync.RWMutex
	records  map[string][]types.HistoryRecord
	accepted map[string]types.HistoryRecord
}

func NewHistoryGate(source HistorySource) *HistoryGate {
	return &HistoryGate{
		source:   source,
		records:  make(map[string][]types.HistoryRecord),
		accepted: make(map[string]types.HistoryRecord),
	}
}

// Refresh reloads the recorded history of tables.
func (g *HistoryGate) Refresh(ctx context.Context, tables ...string) error {
	loaded := make(map[string][]types.HistoryRecord, len(tables))
	for _, table := range tables {
		records, err := g.source.SchemaHistory(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to load schema history of table %s: %s", table, err)
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Position.Before(records[j].Position)
		})
		loaded[table] = records
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for table, records := range loaded {
		g.records[table] = records
	}
	return nil
}

// Lookup returns the schema effective for table at pos without accepting it.
func (g *HistoryGate) Lookup(table string, pos types.Position) (types.HistoryRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	record, found := SelectSchema(g.records[table], pos)
	if !found {
		return types.HistoryRecord{}, fmt.Errorf("%w: table %s at %s", constants.ErrNoSchemaHistory, table, pos)
	}
	return record, nil
}

// Accept resolves the schema for a streamed event at pos and makes it the
// current schema of the table. switched is set when a previously accepted
// schema was replaced by a newer record.
func (g *HistoryGate) Accept(table string, pos types.Position) (record types.HistoryRecord, switched bool, err error) {
	record, err = g.Lookup(table, pos)
	if err != nil {
		return types.HistoryRecord{}, false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	previous, seen := g.accepted[table]
	if seen && previous.Position == record.Position && previous.Source == record.Source {
		return record, false, nil
	}
	g.accepted[table] = record
	return record, seen && !previous.Schema.SameAs(record.Schema), nil
}

// Accepted returns the schema record most recently accepted for table.
func (g *HistoryGate) Accepted(table string) (types.HistoryRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	record, ok := g.accepted[table]
	return record, ok
}
