package protocol

import (
	"context"

	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
)

// Driver is a change source the commands can run.
type Driver interface {
	abstract.DataSource
	Options() abstract.Options
	Database() string
	// Tables lists every user table, captured or not.
	Tables(ctx context.Context) ([]string, error)
}
