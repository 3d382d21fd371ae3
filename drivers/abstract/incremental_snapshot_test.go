package abstract

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/offsets"
	"github.com/datazip-inc/olake-mssql-cdc/types"
)

// positions returns a CurrentPosition func walking through values, repeating
// the last one.
func positions(values ...uint32) func(ctx context.Context) (types.Position, error) {
	var calls atomic.Int32
	return func(ctx context.Context) (types.Position, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return pos(values[i]), nil
	}
}

func newTestEngine(t *testing.T, source *MockSource, store OffsetStore, opts Options) *IncrementalSnapshotEngine {
	t.Helper()
	gate := NewHistoryGate(source)
	require.NoError(t, gate.Refresh(context.Background(), "dbo.orders"))
	return NewIncrementalSnapshotEngine(source, store, gate, opts)
}

// drive plays the change stream: it keeps reporting reached until the run ends.
func drive(t *testing.T, engine *IncrementalSnapshotEngine, handle *IncrementalHandle, reached types.Position, sink *eventSink) {
	t.Helper()
	require.Eventually(t, func() bool {
		if err := engine.StreamingAdvanced(context.Background(), reached, sink.emit); err != nil {
			t.Error(err)
			return true
		}
		select {
		case <-handle.Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
}

func TestIncrementalSnapshotDropsRowsChangedInWindow(t *testing.T) {
	ctx := context.Background()
	store := offsets.NewMemoryStore()
	sink := &eventSink{}

	var engine *IncrementalSnapshotEngine
	source := &MockSource{
		currentPositionFunc: positions(100, 110, 120, 130),
		nextChunkBoundaryFunc: func(ctx context.Context, schema types.TableSchema, after []any, size int) ([]any, error) {
			if after == nil {
				return []any{int64(20)}, nil
			}
			return nil, nil
		},
		readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
			if chunk.High == nil {
				return fn(ctx, orderRow(20))
			}
			// update of key 15 committed while the chunk is read
			live := types.ChangeEvent{Table: "dbo.orders", Kind: types.UpdateKind, Key: []any{int64(15)}, Position: types.NewPosition(lsn(105), lsn(105), 2)}
			assert.NoError(t, engine.BeforeLive(ctx, live, sink.emit))
			// out of the chunk's key range
			other := types.ChangeEvent{Table: "dbo.orders", Kind: types.UpdateKind, Key: []any{int64(25)}, Position: types.NewPosition(lsn(106), lsn(106), 2)}
			assert.NoError(t, engine.BeforeLive(ctx, other, sink.emit))
			for id := int64(10); id < 20; id++ {
				if err := fn(ctx, orderRow(id)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	engine = newTestEngine(t, source, store, Options{})

	handle, err := engine.Start(ctx, []string{"dbo.orders"}, 10)
	require.NoError(t, err)
	drive(t, engine, handle, pos(200), sink)
	require.NoError(t, handle.Err())

	assert.Equal(t, []int64{10, 11, 12, 13, 14, 16, 17, 18, 19, 20}, sink.Keys(types.ReadKind))
	for _, event := range sink.Events() {
		require.NotNil(t, event.Schema)
		if event.Key[0].(int64) < 20 {
			assert.Equal(t, pos(110), event.Position, "first chunk emitted at its high watermark")
		} else {
			assert.Equal(t, pos(130), event.Position)
		}
	}

	progress, err := store.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Nil(t, progress, "finished runs clear their progress")
	assert.Nil(t, engine.Active())
}

func TestIncrementalSnapshotLiveEventFlushesChunkFirst(t *testing.T) {
	ctx := context.Background()
	sink := &eventSink{}
	readDone := make(chan struct{})

	source := &MockSource{
		currentPositionFunc: positions(100, 110),
		readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
			defer close(readDone)
			return fn(ctx, orderRow(1))
		},
	}
	engine := newTestEngine(t, source, offsets.NewMemoryStore(), Options{})
	handle, err := engine.Start(ctx, []string{"dbo.orders"}, 10)
	require.NoError(t, err)
	<-readDone

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.run != nil && engine.run.chunk != nil && engine.run.chunk.State == types.ChunkReconciling
	}, 5*time.Second, time.Millisecond)

	later := types.ChangeEvent{Table: "dbo.orders", Kind: types.UpdateKind, Key: []any{int64(1)}, Position: types.NewPosition(lsn(111), lsn(111), 2)}
	require.NoError(t, engine.BeforeLive(ctx, later, sink.emit))
	require.NoError(t, sink.emit(ctx, later))
	require.NoError(t, handle.Wait(ctx))

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, types.ReadKind, events[0].Kind, "chunk copy precedes the newer live event")
	assert.Equal(t, types.UpdateKind, events[1].Kind)
}

func TestIncrementalSnapshotLiveEventInHighWatermarkCommit(t *testing.T) {
	ctx := context.Background()
	sink := &eventSink{}

	source := &MockSource{
		currentPositionFunc: positions(100, 110),
		readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
			return fn(ctx, orderRow(1))
		},
	}
	engine := newTestEngine(t, source, offsets.NewMemoryStore(), Options{})
	handle, err := engine.Start(ctx, []string{"dbo.orders"}, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.run != nil && engine.run.chunk != nil && engine.run.chunk.State == types.ChunkReconciling
	}, 5*time.Second, time.Millisecond)

	// committed in the same transaction the high watermark was taken at
	update := types.ChangeEvent{Table: "dbo.orders", Kind: types.UpdateKind, Key: []any{int64(1)}, Position: types.NewPosition(lsn(110), lsn(110), 4)}
	require.NoError(t, engine.BeforeLive(ctx, update, sink.emit))
	require.NoError(t, sink.emit(ctx, update))
	drive(t, engine, handle, pos(110), sink)
	require.NoError(t, handle.Err())

	events := sink.Events()
	require.Len(t, events, 1, "the chunk copy of key 1 is superseded")
	assert.Equal(t, types.UpdateKind, events[0].Kind)
}

func TestIncrementalSnapshotSchemaChange(t *testing.T) {
	t.Run("not_allowed_fails_and_keeps_progress", func(t *testing.T) {
		ctx := context.Background()
		store := offsets.NewMemoryStore()
		var engine *IncrementalSnapshotEngine
		source := &MockSource{
			currentPositionFunc: positions(100, 110),
			readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
				engine.SchemaChanged("dbo.orders", types.HistoryRecord{Table: "dbo.orders", Position: pos(105)})
				return fn(ctx, orderRow(1))
			},
		}
		engine = newTestEngine(t, source, store, Options{})

		handle, err := engine.Start(ctx, []string{"dbo.orders"}, 10)
		require.NoError(t, err)
		err = handle.Wait(ctx)

		var changed *SchemaChangedDuringSnapshotError
		require.True(t, errors.As(err, &changed))
		assert.Equal(t, "dbo.orders", changed.Table)
		assert.Equal(t, pos(105), changed.Position)

		progress, err := store.LoadProgress(ctx)
		require.NoError(t, err)
		require.NotNil(t, progress)
		assert.Equal(t, "dbo.orders", progress.CurrentTable)
		assert.Nil(t, progress.LastBoundary)
	})

	t.Run("allowed_rereads_chunk", func(t *testing.T) {
		ctx := context.Background()
		sink := &eventSink{}
		var (
			engine *IncrementalSnapshotEngine
			reads  atomic.Int32
		)
		source := &MockSource{
			currentPositionFunc: positions(100, 110, 120, 130),
			readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
				if reads.Add(1) == 1 {
					engine.SchemaChanged("dbo.orders", types.HistoryRecord{Table: "dbo.orders", Position: pos(105)})
				}
				assert.Nil(t, chunk.Low, "same range is read again")
				return fn(ctx, orderRow(1))
			},
		}
		engine = newTestEngine(t, source, offsets.NewMemoryStore(), Options{IncrementalAllowSchemaChanges: true})

		handle, err := engine.Start(ctx, []string{"dbo.orders"}, 10)
		require.NoError(t, err)
		drive(t, engine, handle, pos(200), sink)
		require.NoError(t, handle.Err())

		assert.Equal(t, int32(2), reads.Load())
		assert.Equal(t, 2, source.CallCount("CaptureSchema"), "schema captured again before the reread")
		assert.Equal(t, []int64{1}, sink.Keys(types.ReadKind))
	})
}

func TestIncrementalSnapshotResumesPausedProgress(t *testing.T) {
	ctx := context.Background()
	store := offsets.NewMemoryStore()
	sink := &eventSink{}
	require.NoError(t, store.SaveProgress(ctx, types.IncrementalProgress{
		RunID:         "01HRESUME",
		CurrentTable:  "dbo.orders",
		LastBoundary:  []any{int64(20)},
		PendingTables: []string{},
		ChunkSize:     10,
		Paused:        true,
	}))

	var after atomic.Value
	source := &MockSource{
		currentPositionFunc: positions(100, 110),
		nextChunkBoundaryFunc: func(ctx context.Context, schema types.TableSchema, a []any, size int) ([]any, error) {
			after.Store(a)
			assert.Equal(t, 10, size)
			return nil, nil
		},
		readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
			return fn(ctx, orderRow(25))
		},
	}
	engine := newTestEngine(t, source, store, Options{})

	handle, err := engine.ResumePersisted(ctx)
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "01HRESUME", handle.ID())
	assert.True(t, handle.Progress().Paused)

	assert.Never(t, func() bool { return source.CallCount("NextChunkBoundary") > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, handle.Resume(ctx))
	drive(t, engine, handle, pos(200), sink)
	require.NoError(t, handle.Err())
	assert.Equal(t, []any{int64(20)}, after.Load())
	assert.Equal(t, []int64{25}, sink.Keys(types.ReadKind))
}

func TestIncrementalSnapshotNothingToResume(t *testing.T) {
	engine := newTestEngine(t, &MockSource{}, offsets.NewMemoryStore(), Options{})
	handle, err := engine.ResumePersisted(context.Background())
	require.NoError(t, err)
	assert.Nil(t, handle)
}

func TestIncrementalSnapshotStop(t *testing.T) {
	ctx := context.Background()
	store := offsets.NewMemoryStore()
	source := &MockSource{currentPositionFunc: positions(100, 110)}
	engine := newTestEngine(t, source, store, Options{})

	handle, err := engine.Start(ctx, []string{"dbo.orders", "dbo.customers"}, 10)
	require.NoError(t, err)

	_, err = engine.Start(ctx, []string{"dbo.orders"}, 10)
	assert.ErrorIs(t, err, constants.ErrSnapshotRunning)

	require.NoError(t, handle.Stop(ctx, "dbo.customers"))
	assert.NotContains(t, handle.Progress().PendingTables, "dbo.customers")

	require.NoError(t, handle.Stop(ctx))
	assert.ErrorIs(t, handle.Wait(ctx), constants.ErrSnapshotStopped)

	progress, err := store.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Nil(t, progress)

	next, err := engine.Start(ctx, []string{"dbo.orders"}, 10)
	require.NoError(t, err, "a new run may start once the previous one ended")
	require.NoError(t, next.Stop(ctx))
	<-next.Done()
}

func TestIncrementalSnapshotPersistsBoundaryAfterEachChunk(t *testing.T) {
	ctx := context.Background()
	store := offsets.NewMemoryStore()
	sink := &eventSink{}
	var engine *IncrementalSnapshotEngine

	source := &MockSource{
		currentPositionFunc: positions(100, 110, 120, 130),
		nextChunkBoundaryFunc: func(ctx context.Context, schema types.TableSchema, after []any, size int) ([]any, error) {
			if after == nil {
				return []any{int64(5)}, nil
			}
			return nil, nil
		},
		readChunkFunc: func(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn ReadMsgFn) error {
			if chunk.Low != nil {
				// second chunk starts where the first one ended
				progress, err := store.LoadProgress(ctx)
				require.NoError(t, err)
				assert.Equal(t, []any{int64(5)}, progress.LastBoundary)
			}
			return nil
		},
	}
	engine = newTestEngine(t, source, store, Options{})
	handle, err := engine.Start(ctx, []string{"dbo.orders"}, 5)
	require.NoError(t, err)
	drive(t, engine, handle, pos(200), sink)
	require.NoError(t, handle.Err())
	assert.Equal(t, 2, source.CallCount("ReadChunk"))
}

func TestIncrementalSnapshotNeedsPrimaryKey(t *testing.T) {
	source := &MockSource{
		captureSchemaFunc: func(ctx context.Context, table string) (types.TableSchema, error) {
			return types.TableSchema{Table: table, Columns: []types.Column{{Name: "id", Type: types.Int64}}}, nil
		},
	}
	engine := newTestEngine(t, source, offsets.NewMemoryStore(), Options{})
	handle, err := engine.Start(context.Background(), []string{"dbo.orders"}, 10)
	require.NoError(t, err)
	assert.ErrorContains(t, handle.Wait(context.Background()), "no primary key")
}
