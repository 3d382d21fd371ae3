package driver

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/pkg/jdbc"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
	"github.com/datazip-inc/olake-mssql-cdc/utils/typeutils"
)

// CDC __$operation codes
const (
	opDelete       = 1
	opInsert       = 2
	opUpdateBefore = 3
	opUpdateAfter  = 4
)

// changeBatch holds the change rows of one table read in one iteration.
type changeBatch struct {
	table  string
	events []types.ChangeEvent
	// truncated is set when the fetch size cut the read short, last is then
	// the position of the last row read
	truncated bool
	last      types.Position
}

// tableRead is the capture instance and LSN range a table is read from.
type tableRead struct {
	table    string
	instance captureInstance
	from     types.Lsn
}

// CurrentPosition returns the position of the last commit in the change log.
func (m *MSSQL) CurrentPosition(ctx context.Context) (types.Position, error) {
	lsn, err := m.maxLsn(ctx)
	if err != nil {
		return types.NoPosition, err
	}
	if !lsn.IsAvailable() {
		logger.Warn("no LSN available yet, CDC capture has not recorded any transaction")
		return types.NoPosition, nil
	}
	return types.CommitPosition(lsn), nil
}

// IsPositionAvailable reports whether the change tables still hold changes
// from pos onwards.
func (m *MSSQL) IsPositionAvailable(ctx context.Context, pos types.Position) (bool, error) {
	if pos.IsNone() {
		return false, nil
	}
	var raw []byte
	if err := m.client.QueryRowContext(ctx, jdbc.MSSQLCDCDatabaseMinLSNQuery()).Scan(&raw); err != nil {
		return false, fmt.Errorf("failed to get MSSQL min LSN: %s", err)
	}
	minLsn, err := types.LsnFromBytes(raw)
	if err != nil {
		return false, err
	}
	if !minLsn.IsAvailable() {
		return true, nil
	}
	return pos.Commit.Compare(minLsn) >= 0, nil
}

// StreamChanges reads the changes after from of every captured table, merges
// them in position order and hands them to fn. The read range ends at the
// current max LSN, bounded by the contract's transaction window and by the
// start of a newer capture instance.
func (m *MSSQL) StreamChanges(ctx context.Context, from types.Position, contract abstract.RetrievalContract, fn abstract.CDCMsgFn) (types.Position, error) {
	to, err := m.maxLsn(ctx)
	if err != nil {
		return from, fmt.Errorf("failed to get MSSQL max LSN: %s", err)
	}
	if !types.CommitPosition(to).After(from) {
		return from, nil
	}

	if contract.MaxTransactions > 0 {
		start, err := windowStart(ctx, from, m.incrementLsn)
		if err != nil {
			return from, err
		}
		windowEnd, err := m.transactionWindowEnd(ctx, start, to, contract.MaxTransactions)
		if err != nil {
			return from, err
		}
		if windowEnd.IsAvailable() && windowEnd.Compare(to) < 0 {
			to = windowEnd
		}
	}

	reads, to, err := m.planReads(ctx, from, to)
	if err != nil {
		return from, err
	}

	batches := make([]changeBatch, 0, len(reads))
	for _, read := range reads {
		batch, err := m.readChanges(ctx, read, from, to, contract)
		if err != nil {
			return from, err
		}
		batches = append(batches, batch)
	}

	events, reached := mergeChanges(batches, from, to)
	for _, event := range events {
		if err := fn(ctx, event); err != nil {
			return from, fmt.Errorf("failed to process MSSQL CDC change: %s", err)
		}
	}
	return reached, nil
}

// planReads picks the capture instance every captured table is read from. A
// table is read from the newest instance that started at or before from, and
// to is clamped to the start of the instance after it so the next iteration
// switches over.
func (m *MSSQL) planReads(ctx context.Context, from types.Position, to types.Lsn) ([]tableRead, types.Lsn, error) {
	tables, err := m.CapturedTables(ctx)
	if err != nil {
		return nil, to, err
	}
	instances, err := m.captureInstances(ctx)
	if err != nil {
		return nil, to, err
	}
	grouped := instancesByTable(instances)

	var reads []tableRead
	for _, table := range tables {
		selected, next, ok := selectInstance(grouped[table], from.Commit)
		if !ok {
			continue
		}
		if next != nil && next.startLsn.Compare(to) < 0 {
			logger.Infof("newer capture instance %s of table %s starts at %s, reading %s up to it", next.name, table, next.startLsn, selected.name)
			to = next.startLsn
		}
		reads = append(reads, tableRead{table: table, instance: selected})
	}

	// a capture instance only answers from its min LSN on
	var planned []tableRead
	for _, read := range reads {
		minLsn, err := m.instanceMinLsn(ctx, read.instance.name)
		if err != nil {
			return nil, to, err
		}
		read.from = from.Commit
		if read.from.Compare(minLsn) < 0 {
			if from.Commit.IsAvailable() {
				logger.Warnf("position %s of table %s precedes the min LSN %s of capture instance %s, changes in between are gone", from, read.table, minLsn, read.instance.name)
			}
			read.from = minLsn
		}
		if read.from.Compare(to) > 0 {
			continue
		}
		planned = append(planned, read)
	}
	return planned, to, nil
}

// selectInstance returns the newest instance started at or before lsn and the
// one following it. When every instance started later the oldest is used.
func selectInstance(instances []captureInstance, lsn types.Lsn) (captureInstance, *captureInstance, bool) {
	if len(instances) == 0 {
		return captureInstance{}, nil, false
	}
	selected := 0
	for i := len(instances) - 1; i >= 0; i-- {
		if instances[i].startLsn.Compare(lsn) <= 0 {
			selected = i
			break
		}
	}
	var next *captureInstance
	if selected+1 < len(instances) {
		next = &instances[selected+1]
	}
	return instances[selected], next, true
}

func (m *MSSQL) readChanges(ctx context.Context, read tableRead, from types.Position, to types.Lsn, contract abstract.RetrievalContract) (changeBatch, error) {
	query := jdbc.MSSQLCDCGetChangesQuery(read.instance.name, contract.FetchSize)
	if contract.Kind == abstract.TableScan {
		query = jdbc.MSSQLCDCChangeTableQuery(read.instance.name, contract.FetchSize)
	}
	keys, err := m.instanceKeyColumns(ctx, read.instance)
	if err != nil {
		return changeBatch{}, err
	}

	batch := changeBatch{table: read.table}
	reader := jdbc.NewReader(ctx, m.client, query,
		read.from.Bytes(), to.Bytes(), from.Commit.Bytes(), from.Change.Bytes(), from.EventSerial)
	rows := 0
	err = reader.Capture(func(sqlRows *sql.Rows) error {
		record := make(types.Record)
		if err := jdbc.MapScan(sqlRows, record, dataTypeConverter); err != nil {
			return fmt.Errorf("failed to scan MSSQL CDC row: %s", err)
		}
		rows++
		event, skip, err := changeEvent(read.table, keys, record)
		if err != nil {
			return err
		}
		batch.last = event.Position
		if !skip {
			batch.events = append(batch.events, event)
		}
		return nil
	})
	if err != nil {
		return changeBatch{}, fmt.Errorf("failed to query MSSQL CDC changes of %s: %s", read.instance.name, err)
	}
	batch.truncated = contract.FetchSize > 0 && rows >= contract.FetchSize
	return batch, nil
}

// changeEvent turns a change row into an event. Update before images are
// reported as skipped.
func changeEvent(table string, keyColumns []string, record types.Record) (types.ChangeEvent, bool, error) {
	commit, err := lsnColumn(record, jdbc.StartLsnColumn)
	if err != nil {
		return types.ChangeEvent{}, false, err
	}
	change, err := lsnColumn(record, jdbc.SeqvalColumn)
	if err != nil {
		return types.ChangeEvent{}, false, err
	}
	operation, err := typeutils.ReformatValue(types.Int64, record[jdbc.OperationColumn])
	if err != nil {
		return types.ChangeEvent{}, false, fmt.Errorf("invalid %s of table %s: %s", jdbc.OperationColumn, table, err)
	}
	op := operation.(int64)

	for _, column := range []string{jdbc.StartLsnColumn, jdbc.EndLsnColumn, jdbc.SeqvalColumn, jdbc.OperationColumn, jdbc.UpdateMaskColumn, jdbc.CommandIDColumn} {
		delete(record, column)
	}

	event := types.ChangeEvent{
		Table:     table,
		Kind:      operationKind(op),
		Data:      record,
		Position:  types.NewPosition(commit, change, op),
		Timestamp: time.Now().UTC(),
	}
	if len(keyColumns) > 0 {
		key := make([]any, len(keyColumns))
		for i, column := range keyColumns {
			key[i] = record[column]
		}
		event.Key = key
	}
	return event, op == opUpdateBefore, nil
}

func lsnColumn(record types.Record, column string) (types.Lsn, error) {
	switch v := record[column].(type) {
	case string:
		return types.ParseLsn(v)
	case []byte:
		return types.LsnFromBytes(v)
	default:
		return types.NoLsn, fmt.Errorf("unexpected %s value %v (%T)", column, v, v)
	}
}

// operationKind maps __$operation codes to event kinds.
func operationKind(code int64) types.ChangeKind {
	switch code {
	case opDelete:
		return types.DeleteKind
	case opInsert:
		return types.InsertKind
	default:
		return types.UpdateKind
	}
}

// mergeChanges orders the batches of all tables into one stream and returns
// the position reached. When a fetch size truncated a table, nothing after
// the earliest truncated row is emitted, so the next iteration resumes there
// for every table.
func mergeChanges(batches []changeBatch, from types.Position, to types.Lsn) ([]types.ChangeEvent, types.Position) {
	var (
		events    []types.ChangeEvent
		cutoff    types.Position
		truncated bool
	)
	for _, batch := range batches {
		events = append(events, batch.events...)
		if batch.truncated && (!truncated || batch.last.Before(cutoff)) {
			cutoff = batch.last
			truncated = true
		}
	}
	slices.SortStableFunc(events, func(a, b types.ChangeEvent) int {
		return types.ComparePositions(a.Position, b.Position)
	})

	emitted := events[:0]
	for _, event := range events {
		if !event.Position.After(from) || (truncated && event.Position.After(cutoff)) {
			continue
		}
		emitted = append(emitted, event)
	}

	reached := types.CommitPosition(to)
	if truncated {
		reached = cutoff
	}
	for i := range emitted {
		last := i == len(emitted)-1
		emitted[i].TxEnd = (last && !truncated) || (!last && emitted[i+1].Position.Commit != emitted[i].Position.Commit)
	}
	if len(emitted) > 0 {
		reached = types.MaxPosition(reached, emitted[len(emitted)-1].Position)
	}
	return emitted, types.MaxPosition(reached, from)
}

func (m *MSSQL) maxLsn(ctx context.Context) (types.Lsn, error) {
	var raw []byte
	if err := m.client.QueryRowContext(ctx, jdbc.MSSQLCDCMaxLSNQuery()).Scan(&raw); err != nil {
		return types.NoLsn, err
	}
	return types.LsnFromBytes(raw)
}

func (m *MSSQL) instanceMinLsn(ctx context.Context, instance string) (types.Lsn, error) {
	var raw []byte
	if err := m.client.QueryRowContext(ctx, jdbc.MSSQLCDCMinLSNQuery(), instance).Scan(&raw); err != nil {
		return types.NoLsn, fmt.Errorf("failed to get min LSN of capture instance %s: %s", instance, err)
	}
	return types.LsnFromBytes(raw)
}

// windowStart returns the first LSN whose transaction is not fully consumed at
// from. A commit end position has consumed its whole commit, so the window
// starts at the LSN after it.
func windowStart(ctx context.Context, from types.Position, increment func(context.Context, types.Lsn) (types.Lsn, error)) (types.Lsn, error) {
	if !from.IsCommitEnd() {
		return from.Commit, nil
	}
	return increment(ctx, from.Commit)
}

func (m *MSSQL) incrementLsn(ctx context.Context, lsn types.Lsn) (types.Lsn, error) {
	var raw []byte
	if err := m.client.QueryRowContext(ctx, jdbc.MSSQLCDCIncrementLSNQuery(), lsn.Bytes()).Scan(&raw); err != nil {
		return types.NoLsn, fmt.Errorf("failed to increment LSN %s: %s", lsn, err)
	}
	return types.LsnFromBytes(raw)
}

// transactionWindowEnd returns the commit LSN closing the next
// maxTransactions transactions starting at from, NoLsn when there are none.
func (m *MSSQL) transactionWindowEnd(ctx context.Context, from, to types.Lsn, maxTransactions int) (types.Lsn, error) {
	var raw []byte
	err := m.client.QueryRowContext(ctx, jdbc.MSSQLCDCTransactionWindowQuery(maxTransactions), from.Bytes(), to.Bytes()).Scan(&raw)
	if err != nil {
		return types.NoLsn, fmt.Errorf("failed to bound transactions after %s: %s", from, err)
	}
	return types.LsnFromBytes(raw)
}
