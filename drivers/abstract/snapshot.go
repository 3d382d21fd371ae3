package abstract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/telemetry"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

type SnapshotState string

const (
	SnapshotNotStarted     SnapshotState = "NOT_STARTED"
	SnapshotMetadataLocked SnapshotState = "METADATA_LOCKED"
	SnapshotDataCopying    SnapshotState = "DATA_COPYING"
	SnapshotComplete       SnapshotState = "COMPLETE"
	SnapshotSkipped        SnapshotState = "SKIPPED"
	SnapshotFailed         SnapshotState = "FAILED"
)

// Snapshotter decides the snapshot behaviour of the custom snapshot mode.
type Snapshotter interface {
	Name() string
	// ShouldSnapshotData reports whether a baseline copy is taken given the
	// committed offset, if any.
	ShouldSnapshotData(offsetExists, snapshotCompleted bool) bool
	ShouldStream() bool
}

var (
	snapshottersMu sync.RWMutex
	snapshotters   = map[string]Snapshotter{}
)

// RegisterSnapshotter makes a snapshotter selectable by name in custom mode.
func RegisterSnapshotter(snapshotter Snapshotter) {
	snapshottersMu.Lock()
	defer snapshottersMu.Unlock()
	snapshotters[snapshotter.Name()] = snapshotter
}

func lookupSnapshotter(name string) (Snapshotter, error) {
	snapshottersMu.RLock()
	defer snapshottersMu.RUnlock()
	snapshotter, ok := snapshotters[name]
	if !ok {
		return nil, fmt.Errorf("no snapshotter registered with name %q", name)
	}
	return snapshotter, nil
}

// SnapshotResult is the outcome of a baseline snapshot run.
type SnapshotResult struct {
	State SnapshotState
	// Position is where streaming resumes, NoPosition when nothing was
	// requested from the log.
	Position       types.Position
	StartStreaming bool
}

type snapshotPlan struct {
	copyData bool
	stream   bool
	// checkpoint is false when the run ends without streaming and so never
	// needs a resume position
	checkpoint bool
}

// SnapshotCoordinator takes a one-shot baseline snapshot of the captured tables.
type SnapshotCoordinator struct {
	source SnapshotSource
	store  OffsetStore
	opts   Options
	tables []string
	emit   CDCMsgFn

	mu          sync.Mutex
	state       SnapshotState
	transitions []SnapshotState
}

// NewSnapshotCoordinator creates a coordinator for tables, or for every
// captured table when tables is empty.
func NewSnapshotCoordinator(source SnapshotSource, store OffsetStore, opts Options, tables []string, emit CDCMsgFn) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		source:      source,
		store:       store,
		opts:        opts,
		tables:      tables,
		emit:        emit,
		state:       SnapshotNotStarted,
		transitions: []SnapshotState{SnapshotNotStarted},
	}
}

func (c *SnapshotCoordinator) State() SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StateTransitions returns every state the coordinator went through.
func (c *SnapshotCoordinator) StateTransitions() []SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SnapshotState(nil), c.transitions...)
}

func (c *SnapshotCoordinator) transition(to SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger.Debugf("snapshot state %s -> %s", c.state, to)
	c.state = to
	c.transitions = append(c.transitions, to)
	telemetry.SnapshotStateTransitions.With(string(to)).Inc()
}

// Run takes the baseline snapshot the decision asks for. Errors from the
// database or the offset store are returned as they are, without retrying.
func (c *SnapshotCoordinator) Run(ctx context.Context, decision ModeDecision) (result SnapshotResult, err error) {
	if state := c.State(); state != SnapshotNotStarted {
		return SnapshotResult{}, fmt.Errorf("snapshot coordinator already ran, state %s", state)
	}
	defer func() {
		if err != nil {
			logger.Errorf("snapshot failed: %s", err)
			c.transition(SnapshotFailed)
			result = SnapshotResult{State: SnapshotFailed}
		}
	}()

	offset, err := c.store.LoadOffset(ctx)
	if err != nil {
		return SnapshotResult{}, err
	}
	plan, err := c.plan(ctx, decision, offset)
	if err != nil {
		return SnapshotResult{}, err
	}

	if !plan.copyData {
		return c.skip(ctx, offset, plan)
	}

	tables, err := c.snapshotTables(ctx)
	if err != nil {
		return SnapshotResult{}, err
	}

	schemas := make(map[string]types.TableSchema, len(tables))
	checkpoint := types.NoPosition
	captureMetadata := func(ctx context.Context) error {
		for _, table := range tables {
			schema, err := c.source.CaptureSchema(ctx, table)
			if err != nil {
				return err
			}
			schemas[table] = schema
		}
		if !plan.checkpoint {
			return nil
		}
		position, err := c.source.CurrentPosition(ctx)
		if err != nil {
			return err
		}
		checkpoint = position
		return nil
	}

	if decision.TableLockRequired() {
		c.transition(SnapshotMetadataLocked)
		err = c.withTableLock(ctx, tables, decision.LockingMode(), captureMetadata)
	} else {
		err = captureMetadata(ctx)
	}
	if err != nil {
		return SnapshotResult{}, err
	}

	// an unfinished baseline makes the next start take it again
	if err := c.store.SaveOffset(ctx, types.Offset{Position: checkpoint, SnapshotCompleted: false, UpdatedAt: time.Now().UTC()}); err != nil {
		return SnapshotResult{}, err
	}

	c.transition(SnapshotDataCopying)
	for _, table := range tables {
		if err := c.copyTable(ctx, table, schemas[table], decision.IsolationMode(), checkpoint); err != nil {
			return SnapshotResult{}, err
		}
	}

	if err := c.store.SaveOffset(ctx, types.Offset{Position: checkpoint, SnapshotCompleted: true, UpdatedAt: time.Now().UTC()}); err != nil {
		return SnapshotResult{}, err
	}
	c.transition(SnapshotComplete)
	logger.Infof("snapshot of %d tables completed at position %s", len(tables), checkpoint)
	return SnapshotResult{State: SnapshotComplete, Position: checkpoint, StartStreaming: plan.stream}, nil
}

func (c *SnapshotCoordinator) plan(ctx context.Context, decision ModeDecision, offset *types.Offset) (snapshotPlan, error) {
	offsetExists := offset != nil
	completed := offsetExists && offset.SnapshotCompleted

	switch mode := decision.SnapshotMode(); mode {
	case types.SnapshotAlways:
		return snapshotPlan{copyData: true, stream: true, checkpoint: true}, nil
	case types.SnapshotInitial:
		return snapshotPlan{copyData: !completed, stream: true, checkpoint: true}, nil
	case types.SnapshotInitialOnly:
		return snapshotPlan{copyData: !completed}, nil
	case types.SnapshotNoData:
		return snapshotPlan{stream: true, checkpoint: true}, nil
	case types.SnapshotRecovery:
		if !offsetExists {
			return snapshotPlan{}, fmt.Errorf("snapshot mode %s needs a committed offset to recover from", mode)
		}
		return snapshotPlan{stream: true, checkpoint: true}, nil
	case types.SnapshotWhenNeeded:
		if !completed {
			return snapshotPlan{copyData: true, stream: true, checkpoint: true}, nil
		}
		available, err := c.source.IsPositionAvailable(ctx, offset.Position)
		if err != nil {
			return snapshotPlan{}, err
		}
		if !available {
			logger.Warnf("committed position %s is no longer available in the change log, taking a new snapshot", offset.Position)
		}
		return snapshotPlan{copyData: !available, stream: true, checkpoint: true}, nil
	case types.SnapshotConfigurationBased:
		return snapshotPlan{
			copyData:   c.opts.ConfigBasedSnapshotData && !completed,
			stream:     c.opts.ConfigBasedStartStream,
			checkpoint: c.opts.ConfigBasedStartStream,
		}, nil
	case types.SnapshotCustom:
		snapshotter, err := lookupSnapshotter(c.opts.CustomSnapshotter)
		if err != nil {
			return snapshotPlan{}, err
		}
		stream := snapshotter.ShouldStream()
		return snapshotPlan{
			copyData:   snapshotter.ShouldSnapshotData(offsetExists, completed),
			stream:     stream,
			checkpoint: stream,
		}, nil
	default:
		return snapshotPlan{}, fmt.Errorf("unsupported snapshot mode %s", mode)
	}
}

func (c *SnapshotCoordinator) skip(ctx context.Context, offset *types.Offset, plan snapshotPlan) (SnapshotResult, error) {
	position := types.NoPosition
	switch {
	case offset != nil:
		position = offset.Position
	case plan.checkpoint:
		current, err := c.source.CurrentPosition(ctx)
		if err != nil {
			return SnapshotResult{}, err
		}
		position = current
		if err := c.store.SaveOffset(ctx, types.Offset{Position: position, SnapshotCompleted: true, UpdatedAt: time.Now().UTC()}); err != nil {
			return SnapshotResult{}, err
		}
	}
	c.transition(SnapshotSkipped)
	logger.Infof("snapshot skipped, streaming resumes from position %s", position)
	return SnapshotResult{State: SnapshotSkipped, Position: position, StartStreaming: plan.stream}, nil
}

func (c *SnapshotCoordinator) snapshotTables(ctx context.Context) ([]string, error) {
	if len(c.tables) > 0 {
		return c.tables, nil
	}
	return c.source.CapturedTables(ctx)
}

// withTableLock holds the table lock only for the duration of fn and releases
// it on every path, cancellation included.
func (c *SnapshotCoordinator) withTableLock(ctx context.Context, tables []string, mode types.SnapshotLockingMode, fn func(ctx context.Context) error) (err error) {
	release, err := c.source.LockTables(ctx, tables, mode)
	if err != nil {
		return err
	}
	lockedAt := time.Now()
	defer func() {
		releaseErr := release()
		telemetry.SnapshotLockSeconds.Observe(time.Since(lockedAt).Seconds())
		if releaseErr == nil {
			return
		}
		if err != nil {
			logger.Warnf("failed to release table lock after error: %s", releaseErr)
			return
		}
		err = releaseErr
	}()
	return fn(ctx)
}

func (c *SnapshotCoordinator) copyTable(ctx context.Context, table string, schema types.TableSchema, isolation types.SnapshotIsolationMode, checkpoint types.Position) error {
	logger.Infof("starting snapshot of table %s", table)
	rows := telemetry.SnapshotRowsTotal.With(table)
	count := 0
	err := c.source.ReadTable(ctx, table, isolation, func(ctx context.Context, row types.Record) error {
		var key []any
		if len(schema.PrimaryKey) > 0 {
			extracted, err := schema.KeyOf(row)
			if err != nil {
				return err
			}
			key = extracted
		}
		count++
		rows.Inc()
		return c.emit(ctx, types.ChangeEvent{
			Table:     table,
			Kind:      types.ReadKind,
			Key:       key,
			Data:      row,
			Position:  checkpoint,
			Schema:    &schema,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	logger.Infof("finished snapshot of table %s with %d rows", table, count)
	return nil
}
