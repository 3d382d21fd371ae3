package driver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/datazip-inc/olake-mssql-cdc/pkg/jdbc"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// captureInstance is SQL Server's CDC stream of one table. A table has two
// instances while a schema change is being rolled out.
type captureInstance struct {
	table    types.TableID
	name     string
	startLsn types.Lsn
}

// captureInstances lists every capture instance of a user table, oldest first
// per table.
func (m *MSSQL) captureInstances(ctx context.Context) ([]captureInstance, error) {
	var instances []captureInstance
	err := jdbc.NewReader(ctx, m.client, jdbc.MSSQLCDCCaptureInstancesQuery()).Capture(func(rows *sql.Rows) error {
		var (
			instance captureInstance
			startLsn []byte
		)
		if err := rows.Scan(&instance.table.Schema, &instance.table.Table, &instance.name, &startLsn); err != nil {
			return fmt.Errorf("failed to scan MSSQL CDC table: %s", err)
		}
		lsn, err := types.LsnFromBytes(startLsn)
		if err != nil {
			return fmt.Errorf("invalid start LSN of capture instance %s: %s", instance.name, err)
		}
		instance.startLsn = lsn
		instances = append(instances, instance)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query MSSQL CDC capture instances: %s", err)
	}
	return instances, nil
}

// instancesByTable groups capture instances by table, keeping their order.
func instancesByTable(instances []captureInstance) map[string][]captureInstance {
	grouped := make(map[string][]captureInstance)
	for _, instance := range instances {
		table := instance.table.String()
		grouped[table] = append(grouped[table], instance)
	}
	return grouped
}

// SchemaHistory turns the capture instances of a table into schema history:
// each instance is the table layout from its start LSN on. The oldest one
// covers everything before it, its start LSN moves forward on cleanup.
func (m *MSSQL) SchemaHistory(ctx context.Context, table string) ([]types.HistoryRecord, error) {
	instances, err := m.captureInstances(ctx)
	if err != nil {
		return nil, err
	}

	var records []types.HistoryRecord
	for i, instance := range instancesByTable(instances)[table] {
		schema, err := m.instanceSchema(ctx, instance)
		if err != nil {
			return nil, err
		}
		position := types.CommitPosition(instance.startLsn)
		if i == 0 {
			position = types.NoPosition
		}
		records = append(records, types.HistoryRecord{
			Table:    table,
			Position: position,
			Schema:   schema,
			Source:   instance.name,
		})
	}
	if len(records) == 0 {
		logger.Warnf("no capture instance found for table %s", table)
	}
	return records, nil
}

// instanceSchema reads the captured columns and key of a capture instance.
func (m *MSSQL) instanceSchema(ctx context.Context, instance captureInstance) (types.TableSchema, error) {
	table := instance.table.String()
	schema := types.TableSchema{Table: table}
	err := jdbc.NewReader(ctx, m.client, jdbc.MSSQLCDCCapturedColumnsQuery(), instance.name).Capture(func(rows *sql.Rows) error {
		var (
			column   types.Column
			dataType string
		)
		if err := rows.Scan(&column.Name, &dataType, &column.Nullable); err != nil {
			return fmt.Errorf("failed to scan captured column: %s", err)
		}
		column.Type = mapColumnType(table, column.Name, dataType)
		schema.Columns = append(schema.Columns, column)
		return nil
	})
	if err != nil {
		return types.TableSchema{}, fmt.Errorf("failed to read captured columns of %s: %s", instance.name, err)
	}

	keys, err := m.instanceKeyColumns(ctx, instance)
	if err != nil {
		return types.TableSchema{}, err
	}
	schema.PrimaryKey = keys
	return schema, nil
}

// instanceKeyColumns returns the index columns a capture instance identifies
// rows by. They never change for an instance, so they are cached.
func (m *MSSQL) instanceKeyColumns(ctx context.Context, instance captureInstance) ([]string, error) {
	if keys, ok := m.keyColumns.Load(instance.name); ok {
		return keys, nil
	}

	var keys []string
	err := jdbc.NewReader(ctx, m.client, jdbc.MSSQLCDCIndexColumnsQuery(), instance.name).Capture(func(rows *sql.Rows) error {
		var column string
		if err := rows.Scan(&column); err != nil {
			return fmt.Errorf("failed to scan index column: %s", err)
		}
		keys = append(keys, column)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read index columns of %s: %s", instance.name, err)
	}
	m.keyColumns.Store(instance.name, keys)
	return keys, nil
}
