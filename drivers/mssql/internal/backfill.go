package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/pkg/jdbc"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// isolationLevels maps snapshot isolation modes to transaction levels.
// EXCLUSIVE reads under REPEATABLE READ after the table locks were taken.
var isolationLevels = map[types.SnapshotIsolationMode]sql.IsolationLevel{
	types.IsolationExclusive:       sql.LevelRepeatableRead,
	types.IsolationSnapshot:        sql.LevelSnapshot,
	types.IsolationRepeatableRead:  sql.LevelRepeatableRead,
	types.IsolationReadCommitted:   sql.LevelReadCommitted,
	types.IsolationReadUncommitted: sql.LevelReadUncommitted,
}

// LockTables takes a table lock on every table inside one transaction. The
// locks are held until release rolls the transaction back.
func (m *MSSQL) LockTables(ctx context.Context, tables []string, mode types.SnapshotLockingMode) (func() error, error) {
	if mode == types.LockingNone {
		return func() error { return nil }, nil
	}

	ids := make([]types.TableID, 0, len(tables))
	for _, table := range tables {
		id, err := types.ParseTableID(table)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	// SQL Server doesn't support read-only transactions
	tx, err := m.client.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin lock transaction: %s", err)
	}
	release := func() error {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return fmt.Errorf("failed to release table locks: %s", err)
		}
		return nil
	}

	hint := m.config.lockHint(mode)
	for _, id := range ids {
		logger.Debugf("locking table %s with (%s)", id, hint)
		if _, err := tx.ExecContext(ctx, jdbc.MSSQLLockTableQuery(id, hint)); err != nil {
			if rerr := release(); rerr != nil {
				logger.Errorf("%s", rerr)
			}
			return nil, fmt.Errorf("failed to lock table %s: %s", id, err)
		}
	}
	return release, nil
}

// ReadTable reads every row of a table inside a transaction of the requested
// isolation level.
func (m *MSSQL) ReadTable(ctx context.Context, table string, isolation types.SnapshotIsolationMode, fn abstract.ReadMsgFn) error {
	id, err := types.ParseTableID(table)
	if err != nil {
		return err
	}
	level, ok := isolationLevels[isolation]
	if !ok {
		return fmt.Errorf("unsupported snapshot isolation mode %s", isolation)
	}

	if rows, err := m.estimatedRows(ctx, id); err != nil {
		logger.Warnf("failed to estimate row count of table %s: %s", table, err)
	} else {
		logger.Infof("reading table %s under %s isolation, about %d rows", table, isolation, rows)
	}

	return jdbc.WithIsolation(ctx, m.client, level, func(tx *sql.Tx) error {
		stmt := jdbc.MSSQLTableScanQuery(id, nil)
		logger.Debugf("table scan statement: %s", stmt)
		return jdbc.MapScanConcurrent(jdbc.NewReader(ctx, tx, stmt), dataTypeConverter, fn)
	})
}

// estimatedRows reads the row count of a table from partition statistics.
func (m *MSSQL) estimatedRows(ctx context.Context, id types.TableID) (int64, error) {
	var rows sql.NullInt64
	if err := m.client.QueryRowContext(ctx, jdbc.MSSQLTableRowStatsQuery(), id.Schema, id.Table).Scan(&rows); err != nil {
		return 0, err
	}
	return rows.Int64, nil
}
