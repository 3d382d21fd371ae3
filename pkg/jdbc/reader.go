package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/typeutils"
)

// Converter turns a raw driver value of a column into its emitted form
type Converter func(value any, columnType string) (any, error)

// Querier is the query surface shared by *sqlx.DB and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Reader struct {
	query string
	args  []any
	ctx   context.Context

	client Querier
}

func NewReader(ctx context.Context, client Querier, baseQuery string, args ...any) *Reader {
	return &Reader{
		query:  baseQuery,
		ctx:    ctx,
		client: client,
		args:   args,
	}
}

func (o *Reader) Capture(onCapture func(*sql.Rows) error) error {
	if strings.HasSuffix(strings.TrimSpace(o.query), ";") {
		return fmt.Errorf("base query ends with ';': %s", o.query)
	}

	rows, err := o.client.QueryContext(o.ctx, o.query, o.args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := onCapture(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// getColumnMetadata extracts column names and types from sql.Rows
func getColumnMetadata(rows *sql.Rows) ([]string, []*sql.ColumnType, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	return columns, colTypes, nil
}

func convertValue(rawData any, colType *sql.ColumnType, converter Converter) (any, error) {
	conv, err := converter(rawData, colType.DatabaseTypeName())
	if err != nil && err != typeutils.ErrNullValue {
		return nil, err
	}
	return conv, nil
}

// MapScan scans the current row into dest keyed by column name
func MapScan(rows *sql.Rows, dest map[string]any, converter Converter) error {
	columns, colTypes, err := getColumnMetadata(rows)
	if err != nil {
		return err
	}

	scanValues := make([]any, len(columns))
	for i := range scanValues {
		scanValues[i] = new(any)
	}

	if err := rows.Scan(scanValues...); err != nil {
		return err
	}

	for i, col := range columns {
		rawData := *(scanValues[i].(*any))
		if converter == nil {
			dest[col] = rawData
			continue
		}
		conv, err := convertValue(rawData, colTypes[i], converter)
		if err != nil {
			return fmt.Errorf("failed to convert value for column %s: %s", col, err)
		}
		dest[col] = conv
	}

	return nil
}

// MapScanConcurrent scans rows on the reading goroutine and converts and hands
// them to onMessage on a second one, so slow consumers do not stall the scan
func MapScanConcurrent(setter *Reader, converter Converter, onMessage abstract.ReadMsgFn) error {
	ctx := setter.ctx
	valuesCh := make(chan []any)
	doneCh := make(chan error, 1)

	var (
		columns  []string
		colTypes []*sql.ColumnType
	)

	go func() {
		var procErr error
		defer func() {
			doneCh <- procErr
			close(doneCh)
		}()
		for vals := range valuesCh {
			record := make(types.Record, len(columns))
			for i, col := range columns {
				conv, err := convertValue(vals[i], colTypes[i], converter)
				if err != nil {
					procErr = fmt.Errorf("failed to convert value for column %s: %s", col, err)
					return
				}
				record[col] = conv
			}
			if err := onMessage(ctx, record); err != nil {
				procErr = err
				return
			}
		}
	}()

	err := setter.Capture(func(rows *sql.Rows) error {
		if columns == nil {
			var metaErr error
			columns, colTypes, metaErr = getColumnMetadata(rows)
			if metaErr != nil {
				return metaErr
			}
		}

		scanDests := make([]any, len(columns))
		for i := range scanDests {
			scanDests[i] = new(any)
		}
		if err := rows.Scan(scanDests...); err != nil {
			return err
		}

		vals := make([]any, len(columns))
		for i := range scanDests {
			vals[i] = *(scanDests[i].(*any))
		}

		// the processor may have stopped early, surface its error
		select {
		case valuesCh <- vals:
			return nil
		case procErr := <-doneCh:
			if procErr != nil {
				return procErr
			}
			return fmt.Errorf("row processor exited early")
		}
	})

	close(valuesCh)
	procErr := <-doneCh
	if err != nil {
		return err
	}
	return procErr
}
