package abstract

import (
	"context"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

type ReadMsgFn func(ctx context.Context, row types.Record) error
type CDCMsgFn func(ctx context.Context, change types.ChangeEvent) error

type Config interface {
	Validate() error
}

// PositionSource reports where the change log currently ends.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (types.Position, error)
	// IsPositionAvailable reports whether the log still holds changes from pos
	// onwards, i.e. pos has not been cleaned up yet.
	IsPositionAvailable(ctx context.Context, pos types.Position) (bool, error)
}

// SnapshotSource is what a baseline snapshot needs from the database.
type SnapshotSource interface {
	PositionSource
	IsReadOnly() bool
	CapturedTables(ctx context.Context) ([]string, error)
	// LockTables blocks schema changes on tables. The returned release must be
	// called exactly once on every path.
	LockTables(ctx context.Context, tables []string, mode types.SnapshotLockingMode) (release func() error, err error)
	CaptureSchema(ctx context.Context, table string) (types.TableSchema, error)
	ReadTable(ctx context.Context, table string, isolation types.SnapshotIsolationMode, fn ReadMsgFn) error
}

// ChunkSource is what an incremental snapshot needs from the database.
type ChunkSource interface {
	PositionSource
	CaptureSchema(ctx context.Context, table string) (types.TableSchema, error)
	// NextChunkBoundary returns the key that starts the chunk after the one
	// beginning at after (inclusive), or nil when that chunk runs to the end of
	// the table.
	NextChunkBoundary(ctx context.Context, schema types.TableSchema, after []any, size int) ([]any, error)
	ReadChunk(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error
}

// ChangeSource streams committed changes.
type ChangeSource interface {
	// StreamChanges hands every change after from to fn in position order,
	// bounded by contract, and returns the position reached. Calling it again
	// with the returned position continues without gaps or duplicates.
	StreamChanges(ctx context.Context, from types.Position, contract RetrievalContract, fn CDCMsgFn) (types.Position, error)
}

// HistorySource lists the recorded schema versions of a table.
type HistorySource interface {
	SchemaHistory(ctx context.Context, table string) ([]types.HistoryRecord, error)
}

type DataSource interface {
	GetConfigRef() Config
	Spec() any
	Type() string
	Setup(ctx context.Context) error
	Close() error
	SnapshotSource
	ChunkSource
	ChangeSource
	HistorySource
}

// OffsetStore persists committed progress.
type OffsetStore interface {
	// LoadOffset returns nil when nothing was committed yet.
	LoadOffset(ctx context.Context) (*types.Offset, error)
	SaveOffset(ctx context.Context, offset types.Offset) error
	// LoadProgress returns nil when no incremental snapshot is in flight.
	LoadProgress(ctx context.Context) (*types.IncrementalProgress, error)
	SaveProgress(ctx context.Context, progress types.IncrementalProgress) error
	ClearProgress(ctx context.Context) error
}
