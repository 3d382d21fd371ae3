package constants

import "time"

type DriverType string

const (
	MSSQL DriverType = "mssql"
)

// viper keys
const (
	ConfigFolder = "CONFIG_FOLDER"
	StatePath    = "STATE_PATH"
	OffsetsPath  = "OFFSETS_PATH"
	LogLevel     = "LOG_LEVEL"
	MetricsAddr  = "METRICS_ADDR"
)

// connector options
const (
	SnapshotModeOption          = "snapshot.mode"
	SnapshotIsolationModeOption = "snapshot.isolation.mode"
	SnapshotLockingModeOption   = "snapshot.locking.mode"
	DataQueryModeOption         = "data.query.mode"
	LsnOptimizationOption       = "streaming.lsn.optimization"
	CustomSnapshotterOption     = "snapshot.mode.custom.name"
)

const (
	DefaultMaxIterationTransactions = 500
	DefaultIncrementalChunkSize     = 1024
	DefaultPollInterval             = 500 * time.Millisecond
	DefaultThreadCount              = 3
	DefaultRetryCount               = 3
	DefaultConnectTimeout           = 10 * time.Second
)
