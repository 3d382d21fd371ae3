package olake

import (
	"os"

	"github.com/datazip-inc/olake-mssql-cdc/protocol"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
	"github.com/datazip-inc/olake-mssql-cdc/utils/safego"
)

// RegisterDriver runs the command line of driver and exits.
func RegisterDriver(driver protocol.Driver) {
	defer safego.Recovery(true)

	err := protocol.CreateRootCommand(driver).Execute()
	if err != nil {
		logger.Fatal(err)
	}

	os.Exit(0)
}
