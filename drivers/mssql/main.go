package main

import (
	olake "github.com/datazip-inc/olake-mssql-cdc"
	driver "github.com/datazip-inc/olake-mssql-cdc/drivers/mssql/internal"
)

func main() {
	driver := &driver.MSSQL{}
	defer driver.Close()
	olake.RegisterDriver(driver)
}
