package abstract

import (
	"context"
	"errors"
	"fmt"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// AbstractDriver runs the capture pipeline of a change source: mode
// resolution, the baseline snapshot, streaming and incremental snapshots.
type AbstractDriver struct { //nolint:revive
	driver DataSource
	store  OffsetStore
	opts   Options
	gate   *HistoryGate
	engine *IncrementalSnapshotEngine
}

func NewAbstractDriver(driver DataSource, store OffsetStore, opts Options) *AbstractDriver {
	gate := NewHistoryGate(driver)
	return &AbstractDriver{
		driver: driver,
		store:  store,
		opts:   opts,
		gate:   gate,
		engine: NewIncrementalSnapshotEngine(driver, store, gate, opts),
	}
}

func (a *AbstractDriver) GetConfigRef() Config {
	return a.driver.GetConfigRef()
}

func (a *AbstractDriver) Spec() any {
	return a.driver.Spec()
}

func (a *AbstractDriver) Type() string {
	return a.driver.Type()
}

func (a *AbstractDriver) Setup(ctx context.Context) error {
	return a.driver.Setup(ctx)
}

func (a *AbstractDriver) Close() error {
	return a.driver.Close()
}

// ResolveMode resolves the configured modes against the connection.
func (a *AbstractDriver) ResolveMode() (ModeDecision, error) {
	return ResolveMode(a.opts, a.driver.IsReadOnly())
}

// RunSnapshot takes the baseline snapshot the decision asks for.
func (a *AbstractDriver) RunSnapshot(ctx context.Context, decision ModeDecision, emit CDCMsgFn) (*SnapshotCoordinator, SnapshotResult, error) {
	coordinator := NewSnapshotCoordinator(a.driver, a.store, a.opts, nil, emit)
	result, err := coordinator.Run(ctx, decision)
	return coordinator, result, err
}

// StartIncrementalSnapshot queues tables for an incremental snapshot. Chunks
// are only emitted while Sync is streaming.
func (a *AbstractDriver) StartIncrementalSnapshot(ctx context.Context, tables []string, chunkSize int) (*IncrementalHandle, error) {
	if err := a.gate.Refresh(ctx, tables...); err != nil {
		return nil, err
	}
	return a.engine.Start(ctx, tables, chunkSize)
}

// IncrementalSnapshot returns the handle of the running incremental snapshot.
func (a *AbstractDriver) IncrementalSnapshot() *IncrementalHandle {
	return a.engine.Active()
}

// Sync resolves the modes, takes the baseline snapshot if needed and then
// streams changes until ctx is cancelled. Tables listed in incremental are
// snapshotted incrementally once streaming runs.
func (a *AbstractDriver) Sync(ctx context.Context, emit CDCMsgFn, incremental ...string) error {
	decision, err := a.ResolveMode()
	if err != nil {
		return err
	}

	_, result, err := a.RunSnapshot(ctx, decision, emit)
	if err != nil {
		return fmt.Errorf("failed to run snapshot: %w", err)
	}
	if !result.StartStreaming {
		logger.Infof("snapshot finished in state %s, streaming is not enabled for snapshot mode %s", result.State, decision.SnapshotMode())
		return nil
	}

	tables, err := a.driver.CapturedTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list captured tables: %s", err)
	}
	contract := SelectQueryStrategy(decision.QueryMode(), a.opts.maxTransactions(), a.opts.StreamingFetchSize)
	streaming := NewStreamingTask(a.driver, a.gate, a.store, contract, tables, a.opts.pollInterval(), emit).WithObserver(a.engine)

	handle, err := a.engine.ResumePersisted(ctx)
	if err != nil {
		return err
	}
	if handle == nil && len(incremental) > 0 {
		if handle, err = a.StartIncrementalSnapshot(ctx, incremental, a.opts.chunkSize()); err != nil {
			return err
		}
	} else if len(incremental) > 0 {
		logger.Warnf("incremental snapshot %s is being resumed, tables %v are not queued", handle.ID(), incremental)
	}

	return utils.ErrExec(ctx,
		func(ctx context.Context) error {
			return streaming.Run(ctx, result.Position)
		},
		func(ctx context.Context) error {
			if handle == nil {
				return nil
			}
			// a failed incremental snapshot leaves streaming running, its
			// progress stays committed so it can be resumed
			if err := handle.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, constants.ErrSnapshotStopped) {
				logger.Errorf("incremental snapshot %s failed: %s", handle.ID(), err)
			}
			return nil
		},
	)
}
