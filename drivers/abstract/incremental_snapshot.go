package abstract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/telemetry"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
	"github.com/datazip-inc/olake-mssql-cdc/utils/typeutils"
)

var errChunkReread = errors.New("chunk has to be read again")

// SchemaChangedDuringSnapshotError is returned when a table changes schema
// while it is being scanned and schema changes are not allowed.
type SchemaChangedDuringSnapshotError struct {
	Table    string
	Position types.Position
}

func (e *SchemaChangedDuringSnapshotError) Error() string {
	return fmt.Sprintf("schema of table %s changed at position %s during incremental snapshot", e.Table, e.Position)
}

// SchemaLookup resolves the schema effective for a table at a position.
type SchemaLookup interface {
	Lookup(table string, pos types.Position) (types.HistoryRecord, error)
}

type chunkRow struct {
	key  []any
	data types.Record
}

type incrementalRun struct {
	progress types.IncrementalProgress
	cancel   context.CancelFunc
	done     chan struct{}
	err      error

	resume  chan struct{}
	stopped map[string]bool
	halted  bool
	failure error

	// chunk in flight and its watermark window
	chunk         *types.Chunk
	schema        types.TableSchema
	rows          []chunkRow
	live          map[string]types.Position
	flushed       chan error
	reread        bool
	schemaChanged bool
	openedAt      time.Time
}

func (r *incrementalRun) signal(err error) {
	select {
	case r.flushed <- err:
	default:
	}
}

// IncrementalSnapshotEngine re-reads tables in primary key chunks while the
// change stream keeps running. Every chunk is bracketed by a low and a high
// watermark; rows of the chunk that were changed by a live event inside that
// window are dropped, the rest are emitted as reads once the stream reaches
// the high watermark.
type IncrementalSnapshotEngine struct {
	source  ChunkSource
	store   OffsetStore
	schemas SchemaLookup
	opts    Options

	mu  sync.Mutex
	run *incrementalRun
}

func NewIncrementalSnapshotEngine(source ChunkSource, store OffsetStore, schemas SchemaLookup, opts Options) *IncrementalSnapshotEngine {
	return &IncrementalSnapshotEngine{
		source:  source,
		store:   store,
		schemas: schemas,
		opts:    opts,
	}
}

// IncrementalHandle controls one incremental snapshot run.
type IncrementalHandle struct {
	engine *IncrementalSnapshotEngine
	run    *incrementalRun
}

func (h *IncrementalHandle) ID() string {
	return h.run.progress.RunID
}

// Done is closed once the run finished, failed or was stopped.
func (h *IncrementalHandle) Done() <-chan struct{} {
	return h.run.done
}

// Err returns the reason the run ended, nil when all tables were scanned.
func (h *IncrementalHandle) Err() error {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return h.run.err
}

// Wait blocks until the run ends.
func (h *IncrementalHandle) Wait(ctx context.Context) error {
	select {
	case <-h.run.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *IncrementalHandle) Progress() types.IncrementalProgress {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	return copyProgress(h.run.progress)
}

// Pause stops the run at the next chunk boundary. The chunk in flight still
// completes.
func (h *IncrementalHandle) Pause(ctx context.Context) error {
	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.run.progress.Paused {
		return nil
	}
	h.run.progress.Paused = true
	h.run.resume = make(chan struct{})
	logger.Infof("pausing incremental snapshot %s", h.run.progress.RunID)
	return e.store.SaveProgress(ctx, copyProgress(h.run.progress))
}

func (h *IncrementalHandle) Resume(ctx context.Context) error {
	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if !h.run.progress.Paused {
		return nil
	}
	h.run.progress.Paused = false
	close(h.run.resume)
	logger.Infof("resuming incremental snapshot %s", h.run.progress.RunID)
	return e.store.SaveProgress(ctx, copyProgress(h.run.progress))
}

// Stop removes tables from the run, or ends the whole run when no table is
// given. A table being scanned stops at the next chunk boundary.
func (h *IncrementalHandle) Stop(ctx context.Context, tables ...string) error {
	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(tables) == 0 {
		logger.Infof("stopping incremental snapshot %s", h.run.progress.RunID)
		h.run.halted = true
		h.run.cancel()
		return nil
	}
	for _, table := range tables {
		h.run.stopped[table] = true
	}
	h.run.progress.PendingTables = slices.DeleteFunc(h.run.progress.PendingTables, func(table string) bool {
		return h.run.stopped[table]
	})
	logger.Infof("removed tables %v from incremental snapshot %s", tables, h.run.progress.RunID)
	return e.store.SaveProgress(ctx, copyProgress(h.run.progress))
}

// Start begins an incremental snapshot of tables. Only one run may be active.
func (e *IncrementalSnapshotEngine) Start(ctx context.Context, tables []string, chunkSize int) (*IncrementalHandle, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("incremental snapshot needs at least one table")
	}
	progress := types.IncrementalProgress{
		RunID:         utils.ULID(),
		PendingTables: slices.Clone(tables),
		ChunkSize:     utils.Ternary(chunkSize > 0, chunkSize, e.opts.chunkSize()).(int),
	}
	return e.launch(ctx, progress, true)
}

// ResumePersisted continues a run recorded in the offset store from its last
// completed chunk. It returns nil when nothing is left to resume.
func (e *IncrementalSnapshotEngine) ResumePersisted(ctx context.Context) (*IncrementalHandle, error) {
	progress, err := e.store.LoadProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load incremental snapshot progress: %s", err)
	}
	if progress.Finished() {
		return nil, nil
	}
	logger.Infof("resuming incremental snapshot %s at table %s after key %v", progress.RunID, progress.CurrentTable, progress.LastBoundary)
	return e.launch(ctx, *progress, false)
}

// Active returns the handle of the running snapshot, if any.
func (e *IncrementalSnapshotEngine) Active() *IncrementalHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return &IncrementalHandle{engine: e, run: e.run}
}

func (e *IncrementalSnapshotEngine) launch(ctx context.Context, progress types.IncrementalProgress, persist bool) (*IncrementalHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil {
		return nil, constants.ErrSnapshotRunning
	}
	if persist {
		if err := e.store.SaveProgress(ctx, progress); err != nil {
			return nil, fmt.Errorf("failed to save incremental snapshot progress: %s", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &incrementalRun{
		progress: progress,
		cancel:   cancel,
		done:     make(chan struct{}),
		resume:   make(chan struct{}),
		stopped:  make(map[string]bool),
	}
	if !progress.Paused {
		close(run.resume)
	}
	e.run = run
	telemetry.IncrementalSnapshotRunning.Set(1)
	logger.Infof("incremental snapshot %s started for tables %v", progress.RunID, progress.PendingTables)

	go e.execute(runCtx, run)
	return &IncrementalHandle{engine: e, run: run}, nil
}

func (e *IncrementalSnapshotEngine) execute(ctx context.Context, run *incrementalRun) {
	defer close(run.done)
	defer run.cancel()

	err := e.scan(ctx, run)

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case run.halted:
		err = constants.ErrSnapshotStopped
		fallthrough
	case err == nil:
		// context of the run may already be cancelled
		if clearErr := e.store.ClearProgress(context.Background()); clearErr != nil {
			logger.Errorf("failed to clear incremental snapshot progress: %s", clearErr)
		}
	}
	if err != nil {
		logger.Warnf("incremental snapshot %s ended: %s", run.progress.RunID, err)
	} else {
		logger.Infof("incremental snapshot %s completed", run.progress.RunID)
	}
	run.err = err
	run.chunk = nil
	if e.run == run {
		e.run = nil
	}
	telemetry.IncrementalSnapshotRunning.Set(0)
}

func (e *IncrementalSnapshotEngine) scan(ctx context.Context, run *incrementalRun) error {
	for {
		table, ok, err := e.nextTable(ctx, run)
		if err != nil || !ok {
			return err
		}
		if err := e.scanTable(ctx, run, table); err != nil {
			return err
		}
	}
}

// nextTable returns the table being scanned, starting the next queued one
// when the previous table is done.
func (e *IncrementalSnapshotEngine) nextTable(ctx context.Context, run *incrementalRun) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run.progress.CurrentTable != "" {
		return run.progress.CurrentTable, true, nil
	}
	if len(run.progress.PendingTables) == 0 {
		return "", false, nil
	}
	run.progress.CurrentTable = run.progress.PendingTables[0]
	run.progress.PendingTables = run.progress.PendingTables[1:]
	run.progress.LastBoundary = nil
	return run.progress.CurrentTable, true, e.store.SaveProgress(ctx, copyProgress(run.progress))
}

func (e *IncrementalSnapshotEngine) scanTable(ctx context.Context, run *incrementalRun, table string) error {
	schema, err := e.captureSchema(ctx, table)
	if err != nil {
		return err
	}
	logger.Infof("incremental snapshot %s scanning table %s", run.progress.RunID, table)

	for {
		if err := e.waitIfPaused(ctx, run); err != nil {
			return err
		}

		e.mu.Lock()
		stopped, failure, changed := run.stopped[table], run.failure, run.schemaChanged
		run.schemaChanged = false
		low, size := slices.Clone(run.progress.LastBoundary), run.progress.ChunkSize
		e.mu.Unlock()

		if failure != nil {
			return failure
		}
		if stopped {
			logger.Infof("incremental snapshot of table %s stopped", table)
			return e.finishTable(ctx, run)
		}
		if changed {
			if schema, err = e.captureSchema(ctx, table); err != nil {
				return err
			}
		}

		high, err := e.source.NextChunkBoundary(ctx, schema, low, size)
		if err != nil {
			return fmt.Errorf("failed to find chunk boundary of table %s after %v: %s", table, low, err)
		}
		chunk := types.NewChunk(table, low, high)

		err = e.readChunk(ctx, run, chunk, schema)
		if errors.Is(err, errChunkReread) {
			logger.Infof("schema of table %s changed, reading chunk [%v, %v) again", table, low, high)
			telemetry.ChunksTotal.With(table, "reread").Inc()
			e.mu.Lock()
			run.schemaChanged = true
			e.mu.Unlock()
			continue
		}
		if err != nil {
			telemetry.ChunksTotal.With(table, "failed").Inc()
			return err
		}
		telemetry.ChunksTotal.With(table, "done").Inc()

		if chunk.IsLast() {
			return e.finishTable(ctx, run)
		}
		e.mu.Lock()
		run.progress.LastBoundary = high
		err = e.store.SaveProgress(ctx, copyProgress(run.progress))
		e.mu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to save incremental snapshot progress: %s", err)
		}
	}
}

func (e *IncrementalSnapshotEngine) captureSchema(ctx context.Context, table string) (types.TableSchema, error) {
	schema, err := e.source.CaptureSchema(ctx, table)
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("failed to capture schema of table %s: %s", table, err)
	}
	if len(schema.PrimaryKey) == 0 {
		return types.TableSchema{}, fmt.Errorf("table %s has no primary key, incremental snapshots need one", table)
	}
	return schema, nil
}

func (e *IncrementalSnapshotEngine) finishTable(ctx context.Context, run *incrementalRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	logger.Infof("incremental snapshot %s finished table %s", run.progress.RunID, run.progress.CurrentTable)
	run.progress.CurrentTable = ""
	run.progress.LastBoundary = nil
	return e.store.SaveProgress(ctx, copyProgress(run.progress))
}

func (e *IncrementalSnapshotEngine) waitIfPaused(ctx context.Context, run *incrementalRun) error {
	e.mu.Lock()
	resume := run.resume
	e.mu.Unlock()
	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readChunk opens the watermark window for chunk, reads it and waits for the
// change stream to reconcile and emit it.
func (e *IncrementalSnapshotEngine) readChunk(ctx context.Context, run *incrementalRun, chunk *types.Chunk, schema types.TableSchema) error {
	e.mu.Lock()
	run.chunk = chunk
	run.schema = schema
	run.rows = nil
	run.live = make(map[string]types.Position)
	run.flushed = make(chan error, 1)
	run.reread = false
	run.openedAt = time.Now()
	flushed := run.flushed
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if run.chunk == chunk {
			run.chunk = nil
		}
		run.rows = nil
		run.live = nil
		e.mu.Unlock()
	}()

	low, err := e.source.CurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read low watermark: %s", err)
	}
	e.mu.Lock()
	err = chunk.StartScan(low)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	var rows []chunkRow
	err = e.source.ReadChunk(ctx, schema, chunk, e.opts.IncrementalRecompile, func(_ context.Context, row types.Record) error {
		key, err := schema.KeyOf(row)
		if err != nil {
			return err
		}
		rows = append(rows, chunkRow{key: key, data: row})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read chunk [%v, %v) of table %s: %s", chunk.Low, chunk.High, chunk.Table, err)
	}

	high, err := e.source.CurrentPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to read high watermark: %s", err)
	}

	e.mu.Lock()
	if run.reread {
		e.mu.Unlock()
		return errChunkReread
	}
	run.rows = rows
	err = chunk.FinishScan(high)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case err := <-flushed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BeforeLive is called by the change stream before it emits a live event.
// A reconciled chunk whose high watermark the event passes is emitted first;
// otherwise an event touching the open chunk is remembered so the stale chunk
// copy of that row is dropped.
func (e *IncrementalSnapshotEngine) BeforeLive(ctx context.Context, event types.ChangeEvent, emit CDCMsgFn) error {
	e.mu.Lock()
	run := e.run
	if run == nil || run.chunk == nil {
		e.mu.Unlock()
		return nil
	}
	chunk := run.chunk
	if chunk.State == types.ChunkReconciling && event.Position.After(chunk.HighWatermark) {
		e.mu.Unlock()
		return e.flush(ctx, run, emit)
	}
	if event.Table == chunk.Table && event.Key != nil && typeutils.KeyInRange(event.Key, chunk.Low, chunk.High) {
		run.live[keyString(event.Key)] = types.MaxPosition(run.live[keyString(event.Key)], event.Position)
	}
	e.mu.Unlock()
	return nil
}

// StreamingAdvanced is called by the change stream after every iteration with
// the position it reached.
func (e *IncrementalSnapshotEngine) StreamingAdvanced(ctx context.Context, reached types.Position, emit CDCMsgFn) error {
	e.mu.Lock()
	run := e.run
	ready := run != nil && run.chunk != nil && run.chunk.State == types.ChunkReconciling && !reached.Before(run.chunk.HighWatermark)
	e.mu.Unlock()
	if !ready {
		return nil
	}
	return e.flush(ctx, run, emit)
}

// SchemaChanged is called by the change stream when a table switches to a
// newer schema history record.
func (e *IncrementalSnapshotEngine) SchemaChanged(table string, record types.HistoryRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.run
	if run == nil || run.progress.CurrentTable != table {
		return
	}

	if !e.opts.IncrementalAllowSchemaChanges {
		run.failure = &SchemaChangedDuringSnapshotError{Table: table, Position: record.Position}
		if run.chunk != nil {
			run.chunk = nil
			run.signal(run.failure)
		}
		return
	}

	run.schemaChanged = true
	if run.chunk == nil {
		return
	}
	switch run.chunk.State {
	case types.ChunkReconciling:
		run.chunk = nil
		run.signal(errChunkReread)
	default:
		run.reread = true
	}
}

func (e *IncrementalSnapshotEngine) flush(ctx context.Context, run *incrementalRun, emit CDCMsgFn) error {
	e.mu.Lock()
	chunk := run.chunk
	if chunk == nil || chunk.State != types.ChunkReconciling {
		e.mu.Unlock()
		return nil
	}
	rows, live, schema, openedAt := run.rows, run.live, run.schema, run.openedAt
	// no more live events may be recorded against this window
	run.chunk = nil
	e.mu.Unlock()

	if e.schemas != nil {
		record, err := e.schemas.Lookup(chunk.Table, chunk.HighWatermark)
		if err != nil {
			run.signal(err)
			return err
		}
		schema = record.Schema
	}

	emitted, superseded := 0, 0
	var err error
	for _, row := range rows {
		if pos, seen := live[keyString(row.key)]; seen && pos.After(chunk.LowWatermark) {
			superseded++
			continue
		}
		err = emit(ctx, types.ChangeEvent{
			Table:     chunk.Table,
			Kind:      types.ReadKind,
			Key:       row.key,
			Data:      row.data,
			Position:  chunk.HighWatermark,
			Schema:    &schema,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			break
		}
		emitted++
	}

	e.mu.Lock()
	if err == nil {
		err = chunk.Complete()
	}
	run.signal(err)
	e.mu.Unlock()

	telemetry.ChunkRowsTotal.With(chunk.Table, "emitted").Add(float64(emitted))
	telemetry.ChunkRowsTotal.With(chunk.Table, "superseded").Add(float64(superseded))
	telemetry.ChunkDurationSeconds.Observe(time.Since(openedAt).Seconds())
	logger.Debugf("chunk [%v, %v) of table %s reconciled: %d emitted, %d superseded", chunk.Low, chunk.High, chunk.Table, emitted, superseded)
	return err
}

func keyString(key []any) string {
	return fmt.Sprintf("%v", key)
}

func copyProgress(progress types.IncrementalProgress) types.IncrementalProgress {
	progress.LastBoundary = slices.Clone(progress.LastBoundary)
	progress.PendingTables = slices.Clone(progress.PendingTables)
	return progress
}
