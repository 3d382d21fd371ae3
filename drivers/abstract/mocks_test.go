package abstract

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

// Mock implementations for testing

type MockConfig struct{}

func (c *MockConfig) Validate() error {
	return nil
}

type MockSource struct {
	readOnly bool

	currentPositionFunc     func(ctx context.Context) (types.Position, error)
	isPositionAvailableFunc func(ctx context.Context, pos types.Position) (bool, error)
	capturedTablesFunc      func(ctx context.Context) ([]string, error)
	lockTablesFunc          func(ctx context.Context, tables []string, mode types.SnapshotLockingMode) (func() error, error)
	captureSchemaFunc       func(ctx context.Context, table string) (types.TableSchema, error)
	readTableFunc           func(ctx context.Context, table string, isolation types.SnapshotIsolationMode, fn ReadMsgFn) error
	nextChunkBoundaryFunc   func(ctx context.Context, schema types.TableSchema, after []any, size int) ([]any, error)
	readChunkFunc           func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error
	streamChangesFunc       func(ctx context.Context, from types.Position, contract RetrievalContract, fn CDCMsgFn) (types.Position, error)
	schemaHistoryFunc       func(ctx context.Context, table string) ([]types.HistoryRecord, error)

	mu    sync.Mutex
	calls []string
}

func (m *MockSource) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *MockSource) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockSource) CallCount(call string) int {
	count := 0
	for _, c := range m.Calls() {
		if c == call {
			count++
		}
	}
	return count
}

func (m *MockSource) GetConfigRef() Config { return &MockConfig{} }
func (m *MockSource) Spec() any { return map[string]any{} }
func (m *MockSource) Type() string { return "mock" }
func (m *MockSource) Setup(ctx context.Context) error { return nil }
func (m *MockSource) Close() error { return nil }
func (m *MockSource) IsReadOnly() bool { return m.readOnly }

func (m *MockSource) CurrentPosition(ctx context.Context) (types.Position, error) {
	m.record("CurrentPosition")
	if m.currentPositionFunc != nil {
		return m.currentPositionFunc(ctx)
	}
	return pos(1), nil
}

func (m *MockSource) IsPositionAvailable(ctx context.Context, p types.Position) (bool, error) {
	m.record("IsPositionAvailable")
	if m.isPositionAvailableFunc != nil {
		return m.isPositionAvailableFunc(ctx, p)
	}
	return true, nil
}

func (m *MockSource) CapturedTables(ctx context.Context) ([]string, error) {
	m.record("CapturedTables")
	if m.capturedTablesFunc != nil {
		return m.capturedTablesFunc(ctx)
	}
	return []string{"dbo.orders"}, nil
}

func (m *MockSource) LockTables(ctx context.Context, tables []string, mode types.SnapshotLockingMode) (func() error, error) {
	m.record("LockTables")
	if m.lockTablesFunc != nil {
		return m.lockTablesFunc(ctx, tables, mode)
	}
	return func() error {
		m.record("ReleaseTables")
		return nil
	}, nil
}

func (m *MockSource) CaptureSchema(ctx context.Context, table string) (types.TableSchema, error) {
	m.record("CaptureSchema")
	if m.captureSchemaFunc != nil {
		return m.captureSchemaFunc(ctx, table)
	}
	return ordersSchema(table), nil
}

func (m *MockSource) ReadTable(ctx context.Context, table string, isolation types.SnapshotIsolationMode, fn ReadMsgFn) error {
	m.record("ReadTable")
	if m.readTableFunc != nil {
		return m.readTableFunc(ctx, table, isolation, fn)
	}
	return nil
}

func (m *MockSource) NextChunkBoundary(ctx context.Context, schema types.TableSchema, after []any, size int) ([]any, error) {
	m.record("NextChunkBoundary")
	if m.nextChunkBoundaryFunc != nil {
		return m.nextChunkBoundaryFunc(ctx, schema, after, size)
	}
	return nil, nil
}

func (m *MockSource) ReadChunk(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
	m.record("ReadChunk")
	if m.readChunkFunc != nil {
		return m.readChunkFunc(ctx, schema, chunk, recompile, fn)
	}
	return nil
}

func (m *MockSource) StreamChanges(ctx context.Context, from types.Position, contract RetrievalContract, fn CDCMsgFn) (types.Position, error) {
	m.record("StreamChanges")
	if m.streamChangesFunc != nil {
		return m.streamChangesFunc(ctx, from, contract, fn)
	}
	return from, nil
}

func (m *MockSource) SchemaHistory(ctx context.Context, table string) ([]types.HistoryRecord, error) {
	m.record("SchemaHistory")
	if m.schemaHistoryFunc != nil {
		return m.schemaHistoryFunc(ctx, table)
	}
	return []types.HistoryRecord{{Table: table, Position: types.NoPosition, Schema: ordersSchema(table), Source: "initial"}}, nil
}

// lsn builds an LSN whose last four bytes hold n.
func lsn(n uint32) types.Lsn {
	var l types.Lsn
	binary.BigEndian.PutUint32(l[6:], n)
	return l
}

func pos(n uint32) types.Position {
	return types.CommitPosition(lsn(n))
}

func ordersSchema(table string) types.TableSchema {
	return types.TableSchema{
		Table: table,
		Columns: []types.Column{
			{Name: "id", Type: types.Int64},
			{Name: "status", Type: types.String, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func orderRow(id int64) types.Record {
	return types.Record{"id": id, "status": "new"}
}

// eventSink collects emitted events.
type eventSink struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (s *eventSink) emit(_ context.Context, event types.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventSink) Events() []types.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ChangeEvent(nil), s.events...)
}

func (s *eventSink) Keys(kind types.ChangeKind) []int64 {
	var keys []int64
	for _, event := range s.Events() {
		if event.Kind == kind {
			keys = append(keys, event.Key[0].(int64))
		}
	}
	return keys
}
