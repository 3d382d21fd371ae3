package abstract

import (
	"context"
	"fmt"
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/telemetry"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// StreamObserver is told about the progress of the change stream. The
// incremental snapshot engine uses it to reconcile its chunks.
type StreamObserver interface {
	BeforeLive(ctx context.Context, event types.ChangeEvent, emit CDCMsgFn) error
	StreamingAdvanced(ctx context.Context, reached types.Position, emit CDCMsgFn) error
	SchemaChanged(table string, record types.HistoryRecord)
}

// StreamingTask polls the change source and emits live events in position
// order, committing the reached position after every iteration.
type StreamingTask struct {
	source   ChangeSource
	gate     *HistoryGate
	store    OffsetStore
	observer StreamObserver
	contract RetrievalContract
	tables   []string
	interval time.Duration
	emit     CDCMsgFn

	position types.Position
	last     types.Position
}

func NewStreamingTask(source ChangeSource, gate *HistoryGate, store OffsetStore, contract RetrievalContract, tables []string, interval time.Duration, emit CDCMsgFn) *StreamingTask {
	return &StreamingTask{
		source:   source,
		gate:     gate,
		store:    store,
		contract: contract,
		tables:   tables,
		interval: interval,
		emit:     emit,
	}
}

// WithObserver attaches an observer, typically the incremental snapshot engine.
func (s *StreamingTask) WithObserver(observer StreamObserver) *StreamingTask {
	s.observer = observer
	return s
}

// Position returns the last committed position.
func (s *StreamingTask) Position() types.Position {
	return s.position
}

// Run streams from position from until ctx is cancelled or an error occurs.
// Cancellation is a normal stop and returns nil.
func (s *StreamingTask) Run(ctx context.Context, from types.Position) error {
	s.position = from
	s.last = from
	logger.Infof("starting change stream at position %s with %s", from, s.contract)

	for {
		progressed, err := s.iterate(ctx)
		if ctx.Err() != nil {
			logger.Infof("change stream stopped at position %s", s.position)
			return nil
		}
		if err != nil {
			return err
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			logger.Infof("change stream stopped at position %s", s.position)
			return nil
		case <-time.After(s.interval):
		}
	}
}

func (s *StreamingTask) iterate(ctx context.Context) (bool, error) {
	startedAt := time.Now()
	if err := s.gate.Refresh(ctx, s.tables...); err != nil {
		return false, err
	}

	reached, err := s.source.StreamChanges(ctx, s.position, s.contract, s.handle)
	if err != nil {
		return false, fmt.Errorf("failed to stream changes after %s: %w", s.position, err)
	}
	if reached.Before(s.last) {
		return false, fmt.Errorf("%w: reached %s after emitting %s", constants.ErrPositionRegression, reached, s.last)
	}
	if s.observer != nil {
		if err := s.observer.StreamingAdvanced(ctx, reached, s.emit); err != nil {
			return false, err
		}
	}
	telemetry.StreamIterationSeconds.Observe(time.Since(startedAt).Seconds())

	if reached == s.position {
		return false, nil
	}
	if err := s.store.SaveOffset(ctx, types.Offset{Position: reached, SnapshotCompleted: true, UpdatedAt: time.Now().UTC()}); err != nil {
		return false, fmt.Errorf("failed to commit offset %s: %s", reached, err)
	}
	telemetry.LastCommittedOffset.SetToCurrentTime()
	logger.Debugf("committed offset %s", reached)
	s.position = reached
	s.last = reached
	return true, nil
}

func (s *StreamingTask) handle(ctx context.Context, event types.ChangeEvent) error {
	if event.Position.Before(s.last) {
		return fmt.Errorf("%w: event of table %s at %s after %s", constants.ErrPositionRegression, event.Table, event.Position, s.last)
	}

	record, switched, err := s.gate.Accept(event.Table, event.Position)
	if err != nil {
		return err
	}
	if switched {
		logger.Infof("table %s switched to schema from %s recorded at %s", event.Table, record.Source, record.Position)
		telemetry.SchemaSwitchesTotal.With(event.Table).Inc()
		if s.observer != nil {
			s.observer.SchemaChanged(event.Table, record)
		}
	}
	event.Schema = &record.Schema

	if s.observer != nil {
		if err := s.observer.BeforeLive(ctx, event, s.emit); err != nil {
			return err
		}
	}
	if err := s.emit(ctx, event); err != nil {
		return err
	}
	telemetry.ChangeEventsTotal.With(string(event.Kind)).Inc()
	s.last = event.Position
	return nil
}
