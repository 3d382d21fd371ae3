package abstract

import (
	"fmt"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// ModeDecision is the effective combination of modes a connector runs with.
// It is fixed once resolved.
type ModeDecision struct {
	snapshot  types.SnapshotMode
	isolation types.SnapshotIsolationMode
	locking   types.SnapshotLockingMode
	query     types.DataQueryMode
	warnings  []string
}

func (d ModeDecision) SnapshotMode() types.SnapshotMode { return d.snapshot }
func (d ModeDecision) IsolationMode() types.SnapshotIsolationMode { return d.isolation }
func (d ModeDecision) LockingMode() types.SnapshotLockingMode { return d.locking }
func (d ModeDecision) QueryMode() types.DataQueryMode { return d.query }
func (d ModeDecision) String() string {
	return fmt.Sprintf("snapshot=%s isolation=%s locking=%s query=%s", d.snapshot, d.isolation, d.locking, d.query)
}

// Warnings returns the non fatal notices produced while resolving.
func (d ModeDecision) Warnings() []string {
	return append([]string(nil), d.warnings...)
}

// TableLockRequired reports whether the baseline snapshot has to hold a table
// lock while it captures schemas and the checkpoint position.
func (d ModeDecision) TableLockRequired() bool {
	switch d.isolation {
	case types.IsolationExclusive:
		return true
	case types.IsolationRepeatableRead:
		return d.locking != types.LockingNone
	}
	return false
}

// ResolveMode parses the configured modes and applies the environment
// overrides. Every invalid option is reported, not just the first one.
func ResolveMode(opts Options, readOnly bool) (ModeDecision, error) {
	var decision ModeDecision
	err := utils.ErrExecSequential(
		func() (err error) {
			decision.snapshot, err = types.ParseSnapshotMode(constants.SnapshotModeOption, opts.SnapshotMode)
			return err
		},
		func() (err error) {
			decision.isolation, err = types.ParseSnapshotIsolationMode(constants.SnapshotIsolationModeOption, opts.SnapshotIsolationMode)
			return err
		},
		func() (err error) {
			decision.locking, err = types.ParseSnapshotLockingMode(constants.SnapshotLockingModeOption, opts.SnapshotLockingMode)
			return err
		},
		func() (err error) {
			decision.query, err = types.ParseDataQueryMode(constants.DataQueryModeOption, opts.DataQueryMode)
			return err
		},
	)
	if err != nil {
		return ModeDecision{}, err
	}

	if decision.snapshot == types.SnapshotCustom && opts.CustomSnapshotter == "" {
		return ModeDecision{}, fmt.Errorf("option '%s' is required when snapshot mode is %s", constants.CustomSnapshotterOption, types.SnapshotCustom)
	}

	if readOnly && decision.isolation != types.IsolationSnapshot {
		decision.warn("connection is read-only, snapshot isolation mode %s replaced with %s", decision.isolation, types.IsolationSnapshot)
		decision.isolation = types.IsolationSnapshot
	}

	switch decision.isolation {
	case types.IsolationExclusive:
		if decision.locking == types.LockingNone {
			decision.warn("snapshot locking mode %s has no effect with isolation mode %s", types.LockingNone, types.IsolationExclusive)
			decision.locking = types.LockingExclusive
		}
	case types.IsolationRepeatableRead:
	default:
		decision.locking = types.LockingNone
	}

	if opts.LsnOptimization != nil && !*opts.LsnOptimization {
		decision.warn("option '%s' is deprecated and ignored", constants.LsnOptimizationOption)
	}

	for _, warning := range decision.warnings {
		logger.Warn(warning)
	}
	logger.Infof("resolved connector modes: %s", decision)
	return decision, nil
}

func (d *ModeDecision) warn(format string, args ...any) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}
