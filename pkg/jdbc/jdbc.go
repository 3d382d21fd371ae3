package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// CDC metadata columns present on every change row
const (
	StartLsnColumn   = "__$start_lsn"
	EndLsnColumn     = "__$end_lsn"
	SeqvalColumn     = "__$seqval"
	OperationColumn  = "__$operation"
	UpdateMaskColumn = "__$update_mask"
	CommandIDColumn  = "__$command_id"
)

// QuoteIdentifier returns a bracket quoted SQL Server identifier
func QuoteIdentifier(identifier string) string {
	return "[" + strings.ReplaceAll(identifier, "]", "]]") + "]"
}

// QuoteTable returns the quoted schema.table combination
func QuoteTable(table types.TableID) string {
	return fmt.Sprintf("%s.%s", QuoteIdentifier(table.Schema), QuoteIdentifier(table.Table))
}

// QuoteColumns returns a slice of quoted column names
func QuoteColumns(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = QuoteIdentifier(col)
	}
	return quoted
}

// Placeholder returns the go-mssqldb positional parameter for index i (1 based)
func Placeholder(i int) string {
	return fmt.Sprintf("@p%d", i)
}

// keyCondition builds a lexicographic comparison of columns against
// consecutive placeholders starting at first. SQL Server has no row value
// comparison, so (c1, c2) >= (@p1, @p2) becomes
//
//	(c1 > @p1) OR (c1 = @p1 AND c2 >= @p2)
//
// op applies to the last column, every earlier column compares strictly.
func keyCondition(quotedColumns []string, op string, first int) string {
	strict := op[:1]
	var parts []string
	for i := range quotedColumns {
		var clause strings.Builder
		clause.WriteString("(")
		for prefix := 0; prefix < i; prefix++ {
			fmt.Fprintf(&clause, "%s = %s AND ", quotedColumns[prefix], Placeholder(first+prefix))
		}
		columnOp := strict
		if i == len(quotedColumns)-1 {
			columnOp = op
		}
		fmt.Fprintf(&clause, "%s %s %s)", quotedColumns[i], columnOp, Placeholder(first+i))
		parts = append(parts, clause.String())
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// MSSQLDiscoverTablesQuery returns the query to discover tables in a MSSQL database
func MSSQLDiscoverTablesQuery() string {
	return `
		SELECT
			t.TABLE_SCHEMA,
			t.TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES t
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		AND t.TABLE_SCHEMA NOT IN ('INFORMATION_SCHEMA', 'sys', 'cdc')
		AND t.TABLE_NAME <> 'systranschemas'
	`
}

// MSSQLTableSchemaQuery returns the query to fetch the column_name, data_type and nullability of a table
func MSSQLTableSchemaQuery() string {
	return `
		SELECT  c.COLUMN_NAME,
		        c.DATA_TYPE,
		        c.IS_NULLABLE
		FROM    INFORMATION_SCHEMA.COLUMNS AS c
		WHERE   c.TABLE_SCHEMA = @p1
		  AND   c.TABLE_NAME   = @p2
		ORDER BY c.ORDINAL_POSITION
	`
}

// MSSQLPrimaryKeyQuery returns the primary key columns of a table in key order
func MSSQLPrimaryKeyQuery() string {
	return `
		SELECT kcu.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS AS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE AS kcu
		     ON  tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
		     AND tc.TABLE_SCHEMA    = kcu.TABLE_SCHEMA
		     AND tc.TABLE_NAME      = kcu.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		  AND tc.TABLE_SCHEMA = @p1
		  AND tc.TABLE_NAME   = @p2
		ORDER BY kcu.ORDINAL_POSITION
	`
}

// MSSQLCDCSupportQuery returns the query to check if CDC is enabled for the current database
func MSSQLCDCSupportQuery() string {
	return `
		SELECT is_cdc_enabled
		FROM sys.databases
		WHERE name = DB_NAME()
	`
}

// MSSQLCDCMaxLSNQuery returns the query to fetch the current maximum LSN for CDC
func MSSQLCDCMaxLSNQuery() string {
	return "SELECT sys.fn_cdc_get_max_lsn()"
}

// MSSQLCDCMinLSNQuery returns the lowest LSN still held by a capture instance
func MSSQLCDCMinLSNQuery() string {
	return "SELECT sys.fn_cdc_get_min_lsn(@p1)"
}

// MSSQLCDCDatabaseMinLSNQuery returns the lowest LSN held by any capture instance of the database
func MSSQLCDCDatabaseMinLSNQuery() string {
	return "SELECT MIN(start_lsn) FROM cdc.change_tables"
}

// MSSQLCDCIncrementLSNQuery returns the LSN following @p1
func MSSQLCDCIncrementLSNQuery() string {
	return "SELECT sys.fn_cdc_increment_lsn(@p1)"
}

// MSSQLCDCTransactionWindowQuery returns the commit LSN of the last of the
// next maxTransactions transactions starting at @p1 and no later than @p2.
// Rows with an empty tran_id are not transactions and do not count.
func MSSQLCDCTransactionWindowQuery(maxTransactions int) string {
	return fmt.Sprintf(`
		SELECT MAX(start_lsn)
		FROM (
			SELECT TOP (%d) start_lsn
			FROM cdc.lsn_time_mapping
			WHERE start_lsn >= @p1
			  AND start_lsn <= @p2
			  AND tran_id <> 0x00
			ORDER BY start_lsn
		) AS window_lsns
	`, maxTransactions)
}

// MSSQLCDCCaptureInstancesQuery lists the capture instances of user tables,
// oldest first per table
func MSSQLCDCCaptureInstancesQuery() string {
	return `
		SELECT s.name AS schema_name,
			t.name AS table_name,
			ct.capture_instance,
			ct.start_lsn
		FROM cdc.change_tables ct
		JOIN sys.tables t ON t.object_id = ct.source_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name NOT IN ('cdc', 'sys')
		  AND t.name <> 'systranschemas'
		ORDER BY s.name, t.name, ct.start_lsn, ct.create_date
	`
}

// MSSQLCDCCapturedColumnsQuery returns the columns recorded by a capture
// instance together with their nullability on the source table
func MSSQLCDCCapturedColumnsQuery() string {
	return `
		SELECT cc.column_name,
			cc.column_type,
			CAST(COALESCE(c.is_nullable, 1) AS BIT) AS is_nullable
		FROM cdc.captured_columns cc
		JOIN cdc.change_tables ct ON ct.object_id = cc.object_id
		LEFT JOIN sys.columns c ON c.object_id = ct.source_object_id AND c.name = cc.column_name
		WHERE ct.capture_instance = @p1
		ORDER BY cc.column_ordinal
	`
}

// MSSQLCDCIndexColumnsQuery returns the unique index columns a capture instance was created with
func MSSQLCDCIndexColumnsQuery() string {
	return `
		SELECT ic.column_name
		FROM cdc.index_columns ic
		JOIN cdc.change_tables ct ON ct.object_id = ic.object_id
		WHERE ct.capture_instance = @p1
		ORDER BY ic.index_ordinal
	`
}

// changesAfter filters change rows strictly after the position bound to
// @p3 (commit), @p4 (change) and @p5 (operation), so a truncated batch can be
// continued from inside a transaction.
const changesAfter = `(__$start_lsn > @p3
			OR (__$start_lsn = @p3 AND (__$seqval > @p4
				OR (__$seqval = @p4 AND __$operation > @p5))))`

func topClause(fetchSize int) string {
	if fetchSize <= 0 {
		return ""
	}
	return fmt.Sprintf("TOP (%d) ", fetchSize)
}

// MSSQLCDCGetChangesQuery returns the query to fetch CDC changes of a capture
// instance through cdc.fn_cdc_get_all_changes. @p1 and @p2 are the inclusive
// LSN range handed to the function.
func MSSQLCDCGetChangesQuery(captureInstance string, fetchSize int) string {
	return fmt.Sprintf(`
		SELECT %s*
		FROM cdc.%s(@p1, @p2, N'all')
		WHERE %s
		ORDER BY __$start_lsn, __$seqval, __$operation
	`, topClause(fetchSize), QuoteIdentifier("fn_cdc_get_all_changes_"+captureInstance), changesAfter)
}

// MSSQLCDCChangeTableQuery returns the query to fetch CDC changes of a capture
// instance straight from its change table. Update before images are skipped.
func MSSQLCDCChangeTableQuery(captureInstance string, fetchSize int) string {
	return fmt.Sprintf(`
		SELECT %s*
		FROM cdc.%s
		WHERE __$start_lsn >= @p1
		  AND __$start_lsn <= @p2
		  AND __$operation <> 3
		  AND %s
		ORDER BY __$start_lsn, __$seqval, __$operation
	`, topClause(fetchSize), QuoteIdentifier(captureInstance+"_CT"), changesAfter)
}

// MSSQLNextChunkBoundaryQuery returns the query for the key that starts the
// chunk after the one beginning at the @p1.. key values: the key of row
// chunkSize+1 in key order. Without a lower bound the scan starts at the
// beginning of the table.
//
// Conceptual output for keys (order_id, item_id):
//
//	WITH ordered AS (
//	  SELECT [order_id], [item_id], ROW_NUMBER() OVER (ORDER BY [order_id], [item_id]) AS __rn
//	  FROM [dbo].[orders]
//	  WHERE (([order_id] > @p1) OR ([order_id] = @p1 AND [item_id] >= @p2))
//	)
//	SELECT [order_id], [item_id] FROM ordered WHERE __rn = 1025
func MSSQLNextChunkBoundaryQuery(table types.TableID, keyColumns []string, chunkSize int, hasLow bool) string {
	quoted := QuoteColumns(keyColumns)
	var query strings.Builder
	fmt.Fprintf(&query, "WITH ordered AS (SELECT %s, ROW_NUMBER() OVER (ORDER BY %s) AS __rn FROM %s",
		strings.Join(quoted, ", "), strings.Join(quoted, ", "), QuoteTable(table))
	if hasLow {
		fmt.Fprintf(&query, " WHERE %s", keyCondition(quoted, ">=", 1))
	}
	fmt.Fprintf(&query, ") SELECT %s FROM ordered WHERE __rn = %d", strings.Join(quoted, ", "), chunkSize+1)
	return query.String()
}

// MSSQLChunkScanQuery returns the query reading the rows of the key range
// [low, high). Low key values bind first, then the high ones.
func MSSQLChunkScanQuery(table types.TableID, columns, keyColumns []string, hasLow, hasHigh, recompile bool) string {
	quotedKeys := QuoteColumns(keyColumns)
	var conditions []string
	next := 1
	if hasLow {
		conditions = append(conditions, keyCondition(quotedKeys, ">=", next))
		next += len(keyColumns)
	}
	if hasHigh {
		conditions = append(conditions, keyCondition(quotedKeys, "<", next))
	}
	where := "1 = 1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		strings.Join(QuoteColumns(columns), ", "), QuoteTable(table), where, strings.Join(quotedKeys, ", "))
	if recompile {
		query += " OPTION(RECOMPILE)"
	}
	return query
}

// MSSQLTableScanQuery returns the query reading a whole table, every column
// when columns is empty
func MSSQLTableScanQuery(table types.TableID, columns []string) string {
	projection := "*"
	if len(columns) > 0 {
		projection = strings.Join(QuoteColumns(columns), ", ")
	}
	return fmt.Sprintf("SELECT %s FROM %s", projection, QuoteTable(table))
}

// MSSQLLockTableQuery returns the statement that takes a table lock with the
// given table hint, TABLOCKX for an exclusive lock
func MSSQLLockTableQuery(table types.TableID, hint string) string {
	return fmt.Sprintf("SELECT TOP(0) * FROM %s WITH (%s)", QuoteTable(table), hint)
}

// MSSQLTableRowStatsQuery returns the query to fetch the estimated row count of a table in MSSQL
func MSSQLTableRowStatsQuery() string {
	return `
		SELECT SUM(p.rows) AS row_count
		FROM sys.tables t
		JOIN sys.partitions p ON t.object_id = p.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE t.type = 'U'
		AND p.index_id IN (0, 1)
		AND s.name = @p1
		AND t.name = @p2
	`
}

// WithIsolation runs fn inside a transaction of the given isolation level
func WithIsolation(ctx context.Context, client *sqlx.DB, isolation sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	tx, err := client.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %s", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			logger.Errorf("transaction rollback failed: %s", rerr)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
