package driver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/pkg/jdbc"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// NextChunkBoundary returns the key of row size+1 counted from after, which
// starts the following chunk. nil means the chunk runs to the end of the table.
func (m *MSSQL) NextChunkBoundary(ctx context.Context, schema types.TableSchema, after []any, size int) ([]any, error) {
	id, err := types.ParseTableID(schema.Table)
	if err != nil {
		return nil, err
	}
	query := jdbc.MSSQLNextChunkBoundaryQuery(id, schema.PrimaryKey, size, after != nil)

	var boundary []any
	err = jdbc.NewReader(ctx, m.client, query, after...).Capture(func(rows *sql.Rows) error {
		record := make(types.Record)
		if err := jdbc.MapScan(rows, record, dataTypeConverter); err != nil {
			return err
		}
		key, err := schema.KeyOf(record)
		if err != nil {
			return err
		}
		boundary = key
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find next chunk boundary of table %s: %s", schema.Table, err)
	}
	return boundary, nil
}

// ReadChunk reads the rows of the chunk's key range [Low, High) in key order.
func (m *MSSQL) ReadChunk(ctx context.Context, schema types.TableSchema, chunk *types.Chunk, recompile bool, fn abstract.ReadMsgFn) error {
	id, err := types.ParseTableID(schema.Table)
	if err != nil {
		return err
	}

	stmt := jdbc.MSSQLChunkScanQuery(id, schema.ColumnNames(), schema.PrimaryKey, chunk.Low != nil, chunk.High != nil, recompile)
	args := append(append([]any{}, chunk.Low...), chunk.High...)
	logger.Debugf("reading chunk [%v, %v) of table %s: %s", chunk.Low, chunk.High, schema.Table, stmt)

	return jdbc.NewReader(ctx, m.client, stmt, args...).Capture(func(rows *sql.Rows) error {
		record := make(types.Record)
		if err := jdbc.MapScan(rows, record, dataTypeConverter); err != nil {
			return fmt.Errorf("failed to scan record data as map: %s", err)
		}
		return fn(ctx, record)
	})
}
