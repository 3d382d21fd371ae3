package abstract

import (
	"time"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
)

// Options are the connector settings shared by every change source. Mode
// strings are parsed by ResolveMode so a typo is reported with the option name.
type Options struct {
	SnapshotMode          string `json:"snapshot.mode,omitempty"`
	SnapshotIsolationMode string `json:"snapshot.isolation.mode,omitempty"`
	SnapshotLockingMode   string `json:"snapshot.locking.mode,omitempty"`
	DataQueryMode         string `json:"data.query.mode,omitempty"`
	// nil means the default of 500, 0 disables the transaction window
	MaxIterationTransactions *int `json:"max.iteration.transactions,omitempty" validate:"omitempty,gte=0"`
	StreamingFetchSize       int  `json:"streaming.fetch.size,omitempty" validate:"gte=0"`
	// Deprecated: has no effect besides a warning when set to false.
	LsnOptimization *bool `json:"streaming.lsn.optimization,omitempty"`

	IncrementalChunkSize          int  `json:"incremental.snapshot.chunk.size,omitempty" validate:"gte=0"`
	IncrementalRecompile          bool `json:"incremental.snapshot.option.recompile,omitempty"`
	IncrementalAllowSchemaChanges bool `json:"incremental.snapshot.allow.schema.changes,omitempty"`

	ConfigBasedSnapshotData bool   `json:"snapshot.mode.configuration.based.snapshot.data,omitempty"`
	ConfigBasedStartStream  bool   `json:"snapshot.mode.configuration.based.start.stream,omitempty"`
	CustomSnapshotter       string `json:"snapshot.mode.custom.name,omitempty"`

	PollIntervalMs int `json:"poll.interval.ms,omitempty" validate:"gte=0"`
}

func (o *Options) Validate() error {
	return utils.Validate(o)
}

func (o *Options) maxTransactions() int {
	if o.MaxIterationTransactions == nil {
		return constants.DefaultMaxIterationTransactions
	}
	return *o.MaxIterationTransactions
}

func (o *Options) chunkSize() int {
	return utils.Ternary(o.IncrementalChunkSize > 0, o.IncrementalChunkSize, constants.DefaultIncrementalChunkSize).(int)
}

func (o *Options) pollInterval() time.Duration {
	if o.PollIntervalMs <= 0 {
		return constants.DefaultPollInterval
	}
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}
