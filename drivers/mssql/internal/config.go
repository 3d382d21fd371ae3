package driver

import (
	"fmt"
	"strings"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
)

const (
	ApplicationIntentReadOnly  = "ReadOnly"
	ApplicationIntentReadWrite = "ReadWrite"

	// table hint of snapshot.locking.mode=exclusive
	exclusiveLockHint = "TABLOCKX"
)

// Config represents the configuration for connecting to a MSSQL database.
type Config struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port"`
	Database string `json:"database" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	// ReadOnly routes the connection to a readable secondary, snapshots then
	// run under SNAPSHOT isolation without table locks
	ApplicationIntent string `json:"database.applicationIntent,omitempty" validate:"omitempty,oneof=ReadOnly ReadWrite"`
	// captured tables as schema.table, empty captures every CDC enabled table
	Tables []string `json:"tables,omitempty" validate:"dive,table_id"`
	// table hint used when snapshot.locking.mode is custom, e.g. "TABLOCK, HOLDLOCK"
	CustomLockHint   string           `json:"snapshot.locking.custom.hint,omitempty"`
	MaxThreads       int              `json:"max_threads"`
	RetryCount       int              `json:"retry_count"`
	SSLConfiguration *utils.SSLConfig `json:"ssl"`

	Options abstract.Options `json:"options"`
}

// Validate checks and normalises MSSQL configuration.
func (c *Config) Validate() error {
	if strings.Contains(c.Host, "https") || strings.Contains(c.Host, "http") {
		return fmt.Errorf("host should not contain http or https")
	}

	if c.Port == 0 {
		c.Port = 1433
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: must be between 1 and 65535")
	}

	if c.MaxThreads <= 0 {
		c.MaxThreads = constants.DefaultThreadCount
	}

	if c.RetryCount <= 0 {
		c.RetryCount = constants.DefaultRetryCount
	}

	if c.SSLConfiguration == nil {
		c.SSLConfiguration = &utils.SSLConfig{
			Mode: utils.SSLModeDisable,
		}
	}

	if err := c.SSLConfiguration.Validate(); err != nil {
		return fmt.Errorf("failed to validate ssl config: %s", err)
	}

	if strings.EqualFold(c.Options.SnapshotLockingMode, string(types.LockingCustom)) && c.CustomLockHint == "" {
		return fmt.Errorf("snapshot.locking.custom.hint is required when %s is %s", constants.SnapshotLockingModeOption, types.LockingCustom)
	}

	if err := c.Options.Validate(); err != nil {
		return fmt.Errorf("invalid connector options: %s", err)
	}

	return utils.Validate(c)
}

// lockHint returns the table hint for the locking mode.
func (c *Config) lockHint(mode types.SnapshotLockingMode) string {
	if mode == types.LockingCustom {
		return c.CustomLockHint
	}
	return exclusiveLockHint
}

// readOnly reports whether the connection targets a read-only replica.
func (c *Config) readOnly() bool {
	return strings.EqualFold(c.ApplicationIntent, ApplicationIntentReadOnly)
}
